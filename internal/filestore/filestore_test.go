package filestore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"oppcore/internal/storage"
	storeMocks "oppcore/internal/storage/mocks"
)

func newLocalOnlyStore(t *testing.T) *TieredStore {
	t.Helper()
	ts, err := New(afero.NewMemMapFs(), "static/uploads", nil)
	require.NoError(t, err)
	return ts
}

func TestPutGetRoundTrip(t *testing.T) {
	ts := newLocalOnlyStore(t)
	ctx := context.Background()

	data := []byte("jpeg bytes")
	require.NoError(t, ts.Put(ctx, "photos/alice.jpg", data))

	got, err := ts.Get(ctx, "photos/alice.jpg")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestGetMissWithoutRemote(t *testing.T) {
	ts := newLocalOnlyStore(t)

	_, err := ts.Get(context.Background(), "missing.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetRemoteFallbackCacheFill(t *testing.T) {
	fs := afero.NewMemMapFs()
	remote := new(storeMocks.MockStorage)
	ts, err := New(fs, "static/uploads", remote)
	require.NoError(t, err)
	ctx := context.Background()

	data := []byte("durable bytes")
	remote.On("Get", mock.Anything, "photos/bob.jpg").
		Return(io.NopCloser(bytes.NewReader(data)), storage.ObjectInfo{Key: "photos/bob.jpg", Size: int64(len(data))}, nil).
		Once()

	// Local miss, remote hit.
	got, err := ts.Get(ctx, "photos/bob.jpg")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Cache-fill invariant: the second read hits locally, no remote call.
	got, err = ts.Get(ctx, "photos/bob.jpg")
	require.NoError(t, err)
	assert.Equal(t, data, got)
	remote.AssertNumberOfCalls(t, "Get", 1)
}

func TestGetRemoteMiss(t *testing.T) {
	remote := new(storeMocks.MockStorage)
	ts, err := New(afero.NewMemMapFs(), "static/uploads", remote)
	require.NoError(t, err)

	remote.On("Get", mock.Anything, "gone.jpg").
		Return(nil, storage.ObjectInfo{}, notFoundErr()).
		Once()

	_, err = ts.Get(context.Background(), "gone.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutOverwriteLastWriterWins(t *testing.T) {
	ts := newLocalOnlyStore(t)
	ctx := context.Background()

	require.NoError(t, ts.Put(ctx, "notes.txt", []byte("v1")))
	require.NoError(t, ts.Put(ctx, "notes.txt", []byte("v2")))

	got, err := ts.Get(ctx, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestDelete(t *testing.T) {
	ts := newLocalOnlyStore(t)
	ctx := context.Background()

	require.NoError(t, ts.Put(ctx, "tmp.bin", []byte("x")))
	require.NoError(t, ts.Delete(ctx, "tmp.bin"))

	_, err := ts.Get(ctx, "tmp.bin")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, ts.Delete(ctx, "tmp.bin"), ErrNotFound)
}

func TestInvalidPaths(t *testing.T) {
	ts := newLocalOnlyStore(t)
	ctx := context.Background()

	for _, p := range []string{"", "/etc/passwd", "../secrets.env", "a/../../b", ".", ".."} {
		_, err := ts.Get(ctx, p)
		assert.ErrorIs(t, err, ErrInvalidPath, "get %q", p)
		assert.ErrorIs(t, ts.Put(ctx, p, []byte("x")), ErrInvalidPath, "put %q", p)
	}

	// Interior dot segments that stay inside the root are fine.
	assert.NoError(t, ts.Put(ctx, "a/./b.txt", []byte("x")))
	got, err := ts.Get(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
}

func TestList(t *testing.T) {
	ts := newLocalOnlyStore(t)
	ctx := context.Background()

	require.NoError(t, ts.Put(ctx, "photos/a.jpg", []byte("a")))
	require.NoError(t, ts.Put(ctx, "photos/nested/b.jpg", []byte("b")))
	require.NoError(t, ts.Put(ctx, "c.txt", []byte("c")))

	paths, err := ts.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"c.txt", "photos/a.jpg", "photos/nested/b.jpg"}, paths)
}

func TestListEmpty(t *testing.T) {
	ts := newLocalOnlyStore(t)
	paths, err := ts.List()
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestProbeRemoteUnconfigured(t *testing.T) {
	ts := newLocalOnlyStore(t)
	assert.False(t, ts.ProbeRemote(context.Background()))
}

func TestProbeRemoteConfigured(t *testing.T) {
	remote := new(storeMocks.MockStorage)
	ts, err := New(afero.NewMemMapFs(), "static/uploads", remote)
	require.NoError(t, err)

	remote.On("Probe", mock.Anything).Return(nil).Once()
	assert.True(t, ts.ProbeRemote(context.Background()))
}
