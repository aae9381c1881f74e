// Package filestore unifies a fast, ephemeral local tier and a durable remote
// object store behind one read/write contract. The local tier is a disposable
// cache and staging area; the remote tier is the source of truth, maintained
// by explicit backup runs rather than per-write replication.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"oppcore/internal/storage"
)

var (
	// ErrNotFound means the path exists in neither tier. It is a normal,
	// expected condition, not a failure.
	ErrNotFound = errors.New("file not found")
	// ErrInvalidPath rejects absolute paths and traversal outside the root.
	ErrInvalidPath = errors.New("invalid file path")
	// ErrRemoteUnavailable is returned for remote-tier operations when the
	// remote tier is not configured.
	ErrRemoteUnavailable = errors.New("remote tier not available")
)

const tmpPrefix = ".tmp-"

// TieredStore serves reads local-first with remote fallback and cache-fill,
// and writes to the local tier only. remote may be nil, in which case the
// store degrades to local-only and never attempts a network call.
type TieredStore struct {
	fs     afero.Fs
	root   string
	remote storage.Storage
}

// New constructs a TieredStore rooted at root on fs, creating the root
// directory if needed.
func New(fs afero.Fs, root string, remote storage.Storage) (*TieredStore, error) {
	if root == "" {
		return nil, errors.New("upload root is required")
	}
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload root: %w", err)
	}
	return &TieredStore{fs: fs, root: root, remote: remote}, nil
}

// RemoteConfigured reports whether a remote tier is attached.
func (t *TieredStore) RemoteConfigured() bool {
	return t.remote != nil
}

// Get returns the bytes stored at p. The local tier is consulted first; on a
// local miss with a configured remote tier the object is fetched from remote
// and written back into the local tier (cache-fill) before returning.
func (t *TieredStore) Get(ctx context.Context, p string) ([]byte, error) {
	rel, err := cleanPath(p)
	if err != nil {
		return nil, err
	}

	b, err := afero.ReadFile(t.fs, t.localPath(rel))
	if err == nil {
		return b, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read local tier: %w", err)
	}

	if t.remote == nil {
		return nil, ErrNotFound
	}

	rc, _, err := t.remote.Get(ctx, rel)
	if err != nil {
		if storage.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read remote tier: %w", err)
	}
	defer rc.Close()

	b, err = io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read remote tier: %w", err)
	}

	// Cache-fill so the next read hits locally. A failed fill does not fail
	// the read; the bytes are already in hand.
	_ = t.writeLocal(rel, b)
	return b, nil
}

// Put writes data to the local tier, atomically at path granularity. Remote
// durability is an explicit, batched action via the backup coordinator, never
// an implicit side effect of a write.
func (t *TieredStore) Put(ctx context.Context, p string, data []byte) error {
	rel, err := cleanPath(p)
	if err != nil {
		return err
	}
	return t.writeLocal(rel, data)
}

// Delete removes p from the local tier only. The remote copy is the durable
// snapshot maintained exclusively by backup runs; deleting it outside a run
// would silently destroy the only durable copy.
func (t *TieredStore) Delete(ctx context.Context, p string) error {
	rel, err := cleanPath(p)
	if err != nil {
		return err
	}
	full := t.localPath(rel)
	if _, err := t.fs.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("stat local tier: %w", err)
	}
	if err := t.fs.Remove(full); err != nil {
		return fmt.Errorf("delete local tier: %w", err)
	}
	return nil
}

// List enumerates every relative path currently present in the local tier,
// sorted, in slash form.
func (t *TieredStore) List() ([]string, error) {
	var out []string
	err := afero.Walk(t.fs, t.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), tmpPrefix) {
			return nil
		}
		rel, err := filepath.Rel(t.root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk local tier: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// ProbeRemote checks remote-tier reachability. False when unconfigured.
func (t *TieredStore) ProbeRemote(ctx context.Context) bool {
	if t.remote == nil {
		return false
	}
	return t.remote.Probe(ctx) == nil
}

func (t *TieredStore) localPath(rel string) string {
	return filepath.Join(t.root, filepath.FromSlash(rel))
}

// writeLocal writes data under rel via a temp file in the target directory
// followed by a rename, so readers never observe partially-written bytes.
func (t *TieredStore) writeLocal(rel string, data []byte) error {
	full := t.localPath(rel)
	dir := filepath.Dir(full)
	if err := t.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	tmp, err := afero.TempFile(t.fs, dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = t.fs.Remove(name)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = t.fs.Remove(name)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := t.fs.Rename(name, full); err != nil {
		_ = t.fs.Remove(name)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// cleanPath normalizes p to a slash-form relative path and rejects anything
// that would escape the store root.
func cleanPath(p string) (string, error) {
	if p == "" {
		return "", ErrInvalidPath
	}
	rel := filepath.ToSlash(p)
	if strings.HasPrefix(rel, "/") {
		return "", ErrInvalidPath
	}
	rel = path.Clean(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", ErrInvalidPath
	}
	return rel, nil
}
