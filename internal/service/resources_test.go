package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oppcore/internal/config"
	"oppcore/internal/database"
	"oppcore/internal/filestore"
	"oppcore/internal/llm"
)

type stubConn struct{ pingErr error }

func (c *stubConn) PingContext(ctx context.Context) error { return c.pingErr }
func (c *stubConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, nil
}
func (c *stubConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, nil
}
func (c *stubConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}
func (c *stubConn) Close() error { return nil }

type stubCompletion struct {
	resp *llm.CompletionResponse
	err  error
}

func (s *stubCompletion) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return s.resp, s.err
}

func newTestResources(t *testing.T, dialErr error) Resources {
	t.Helper()
	cfg := config.PoolConfig{Size: 2, MaxOverflow: 1, AcquireTimeout: 100 * time.Millisecond, ConnTTL: time.Hour}
	pool, err := database.NewPool(cfg, func(ctx context.Context) (database.Conn, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return &stubConn{}, nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	exec := database.NewExecutor(pool, 0)
	t.Cleanup(exec.Close)

	files, err := filestore.New(afero.NewMemMapFs(), "static/uploads", nil)
	require.NoError(t, err)

	return NewResources(exec, pool, &stubCompletion{resp: &llm.CompletionResponse{ID: "cmpl-1"}}, files, filestore.NewCoordinator(files))
}

func TestHealthDBReachableRemoteUnconfigured(t *testing.T) {
	svc := newTestResources(t, nil)

	got := svc.Health(context.Background())
	assert.Equal(t, HealthStatus{DBReachable: true, RemoteTierReachable: false}, got)
}

func TestHealthDBUnreachable(t *testing.T) {
	svc := newTestResources(t, errors.New("connection refused"))

	got := svc.Health(context.Background())
	assert.Equal(t, HealthStatus{DBReachable: false, RemoteTierReachable: false}, got)
}

func TestRunQuery(t *testing.T) {
	svc := newTestResources(t, nil)

	val, err := svc.RunQuery(context.Background(), func(ctx context.Context, s *database.Session) (any, error) {
		return "rows", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "rows", val)
}

func TestFilePassthrough(t *testing.T) {
	svc := newTestResources(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.WriteFile(ctx, "photos/x.jpg", []byte("x")))
	got, err := svc.ReadFile(ctx, "photos/x.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)

	require.NoError(t, svc.DeleteFile(ctx, "photos/x.jpg"))
	_, err = svc.ReadFile(ctx, "photos/x.jpg")
	assert.ErrorIs(t, err, filestore.ErrNotFound)
}

func TestBackupAllRemoteUnconfigured(t *testing.T) {
	svc := newTestResources(t, nil)

	_, err := svc.BackupAll(context.Background())
	assert.ErrorIs(t, err, filestore.ErrRemoteUnavailable)
}

func TestCompletePassthrough(t *testing.T) {
	svc := newTestResources(t, nil)

	resp, err := svc.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "cmpl-1", resp.ID)
}
