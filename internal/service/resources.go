package service

import (
	"context"
	"time"

	"oppcore/internal/database"
	"oppcore/internal/filestore"
	"oppcore/internal/llm"
)

// CompletionClient is the slice of the llm client this facade needs.
type CompletionClient interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// HealthStatus reports reachability of the layer's two external dependencies.
type HealthStatus struct {
	DBReachable         bool `json:"db_reachable"`
	RemoteTierReachable bool `json:"remote_tier_reachable"`
}

// Resources is the single surface external collaborators (the HTTP layer)
// consume: pooled query execution, external completion calls, tiered file
// access, and bulk backup/restore.
type Resources interface {
	// RunQuery executes a blocking database operation on the bounded worker set.
	RunQuery(ctx context.Context, op database.Op) (any, error)

	// Complete dispatches one call to the external completion API. It never
	// consumes database pool or executor capacity.
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// ReadFile returns the bytes at path, consulting the local tier first and
	// falling back to the remote tier on miss.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile writes bytes to the local tier. Durability is explicit via BackupAll.
	WriteFile(ctx context.Context, path string, data []byte) error

	// DeleteFile removes path from the local tier.
	DeleteFile(ctx context.Context, path string) error

	// BackupAll uploads every local-tier path to the remote tier.
	BackupAll(ctx context.Context) (*filestore.Manifest, error)

	// RestoreAll downloads every remote-tier object into the local tier.
	RestoreAll(ctx context.Context) (*filestore.Manifest, error)

	// Health probes the database pool and, when configured, the remote tier.
	// It never mutates state.
	Health(ctx context.Context) HealthStatus
}

// resources is the concrete implementation of Resources.
type resources struct {
	exec       *database.Executor
	pool       *database.Pool
	completion CompletionClient
	files      *filestore.TieredStore
	coord      *filestore.Coordinator
}

// NewResources constructs the resource facade.
func NewResources(exec *database.Executor, pool *database.Pool, completion CompletionClient, files *filestore.TieredStore, coord *filestore.Coordinator) Resources {
	return &resources{
		exec:       exec,
		pool:       pool,
		completion: completion,
		files:      files,
		coord:      coord,
	}
}

func (r *resources) RunQuery(ctx context.Context, op database.Op) (any, error) {
	return r.exec.Execute(ctx, op)
}

func (r *resources) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return r.completion.Complete(ctx, req)
}

func (r *resources) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return r.files.Get(ctx, path)
}

func (r *resources) WriteFile(ctx context.Context, path string, data []byte) error {
	return r.files.Put(ctx, path, data)
}

func (r *resources) DeleteFile(ctx context.Context, path string) error {
	return r.files.Delete(ctx, path)
}

func (r *resources) BackupAll(ctx context.Context) (*filestore.Manifest, error) {
	return r.coord.Backup(ctx)
}

func (r *resources) RestoreAll(ctx context.Context) (*filestore.Manifest, error) {
	return r.coord.Restore(ctx)
}

func (r *resources) Health(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	dbOK := r.pool.WithSession(ctx, func(s *database.Session) error {
		return s.PingContext(ctx)
	}) == nil

	return HealthStatus{
		DBReachable:         dbOK,
		RemoteTierReachable: r.files.ProbeRemote(ctx),
	}
}
