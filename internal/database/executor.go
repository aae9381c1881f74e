package database

import (
	"context"
	"errors"
	"sync"
)

// ErrExecutorClosed is returned for work submitted after Close.
var ErrExecutorClosed = errors.New("executor closed")

// QueryError wraps a failure from a database operation. The error is surfaced
// verbatim to the caller; this layer never retries queries.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string {
	return "query failed: " + e.Err.Error()
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Op is one blocking unit of work against a pooled connection.
type Op func(ctx context.Context, s *Session) (any, error)

type jobResult struct {
	val any
	err error
}

type job struct {
	ctx context.Context
	op  Op
	res chan jobResult
}

// Executor bridges non-blocking callers to blocking database operations. Work
// is admitted FIFO into a fixed set of workers, each of which holds at most
// one pooled connection while running an op. There is no fairness beyond FIFO:
// a burst of expensive operations delays cheap ones behind them, which is a
// known and accepted limitation of this layer.
type Executor struct {
	pool *Pool
	jobs chan *job

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewExecutor starts workers goroutines draining the job queue. When workers
// is not positive it defaults to the pool capacity, since each worker holds
// exactly one connection while running.
func NewExecutor(pool *Pool, workers int) *Executor {
	if workers <= 0 {
		workers = pool.Capacity()
	}
	e := &Executor{
		pool: pool,
		jobs: make(chan *job, 64),
	}
	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go e.worker()
	}
	return e
}

// Execute submits op and waits for its result. If ctx is cancelled before the
// op completes, Execute returns ctx.Err() immediately but the op itself is NOT
// stopped: it runs to completion on its worker and its connection is released
// normally afterwards.
func (e *Executor) Execute(ctx context.Context, op Op) (any, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrExecutorClosed
	}
	j := &job{ctx: ctx, op: op, res: make(chan jobResult, 1)}
	select {
	case e.jobs <- j:
		e.mu.RUnlock()
	case <-ctx.Done():
		e.mu.RUnlock()
		return nil, ctx.Err()
	}

	select {
	case r := <-j.res:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting work and waits for in-flight ops to finish.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.jobs)
	e.mu.Unlock()

	e.wg.Wait()
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for j := range e.jobs {
		j.res <- e.run(j)
	}
}

func (e *Executor) run(j *job) jobResult {
	// Skip ops whose caller already gave up before a worker picked them up.
	if err := j.ctx.Err(); err != nil {
		return jobResult{err: err}
	}
	// Caller cancellation stops the wait, not the operation: run with a
	// detached context so trace metadata propagates but cancellation does not.
	ctx := context.WithoutCancel(j.ctx)

	s, err := e.pool.Acquire(ctx)
	if err != nil {
		return jobResult{err: err}
	}
	defer s.Close()

	val, err := j.op(ctx, s)
	if err != nil {
		return jobResult{err: &QueryError{Err: err}}
	}
	return jobResult{val: val}
}
