package filestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"oppcore/internal/storage"
)

// ManifestEntry records the outcome for one path in a backup or restore run.
type ManifestEntry struct {
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	Error string `json:"error,omitempty"`
}

// Manifest is the record of which paths one backup or restore run touched and
// whether each succeeded. A single path's failure never aborts the run; it is
// collected here instead.
type Manifest struct {
	ID          string          `json:"id"`
	Op          string          `json:"op"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Entries     []ManifestEntry `json:"entries"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
}

func newManifest(op string) *Manifest {
	return &Manifest{
		ID:        uuid.NewString(),
		Op:        op,
		StartedAt: time.Now().UTC(),
	}
}

func (m *Manifest) record(p string, size int64, err error) {
	e := ManifestEntry{Path: p, Size: size}
	if err != nil {
		e.Error = err.Error()
		m.Failed++
	} else {
		m.Succeeded++
	}
	m.Entries = append(m.Entries, e)
}

// Paths returns the path set the run touched, in manifest order.
func (m *Manifest) Paths() []string {
	out := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		out[i] = e.Path
	}
	return out
}

// Coordinator bulk-copies the tiered store's contents between tiers,
// preserving relative paths. Runs are idempotent: re-running with no
// intervening writes is a no-op overwrite, not an error.
type Coordinator struct {
	store *TieredStore
}

// NewCoordinator creates a Coordinator over the given store.
func NewCoordinator(store *TieredStore) *Coordinator {
	return &Coordinator{store: store}
}

// Backup uploads every path present in the local tier to the remote tier.
// Per-path failures are reported in the manifest; the run continues past them.
func (c *Coordinator) Backup(ctx context.Context) (*Manifest, error) {
	if !c.store.RemoteConfigured() {
		return nil, ErrRemoteUnavailable
	}
	paths, err := c.store.List()
	if err != nil {
		return nil, err
	}

	m := newManifest("backup")
	for _, p := range paths {
		size, err := c.uploadOne(ctx, p)
		m.record(p, size, err)
	}
	m.CompletedAt = time.Now().UTC()
	return m, nil
}

// Restore downloads every object present in the remote tier into the local
// tier, creating intermediate directories as needed. Same partial-failure
// policy as Backup.
func (c *Coordinator) Restore(ctx context.Context) (*Manifest, error) {
	if !c.store.RemoteConfigured() {
		return nil, ErrRemoteUnavailable
	}
	objs, err := c.store.remote.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list remote tier: %w", err)
	}

	m := newManifest("restore")
	for _, obj := range objs {
		size, err := c.downloadOne(ctx, obj.Key)
		m.record(obj.Key, size, err)
	}
	m.CompletedAt = time.Now().UTC()
	return m, nil
}

func (c *Coordinator) uploadOne(ctx context.Context, p string) (int64, error) {
	b, err := afero.ReadFile(c.store.fs, c.store.localPath(p))
	if err != nil {
		return 0, fmt.Errorf("read local file: %w", err)
	}
	_, err = c.store.remote.Put(ctx, p, bytes.NewReader(b), storage.PutObjectOptions{
		Size:        int64(len(b)),
		ContentType: mime.TypeByExtension(path.Ext(p)),
	})
	if err != nil {
		return 0, fmt.Errorf("upload: %w", err)
	}
	return int64(len(b)), nil
}

func (c *Coordinator) downloadOne(ctx context.Context, key string) (int64, error) {
	rel, err := cleanPath(key)
	if err != nil {
		return 0, err
	}
	rc, _, err := c.store.remote.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("download: %w", err)
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return 0, fmt.Errorf("download: %w", err)
	}
	if err := c.store.writeLocal(rel, b); err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}
