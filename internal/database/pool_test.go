package database

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oppcore/internal/config"
)

// fakeConn is an in-memory Conn for pool tests. Ping failures are settable to
// simulate broken connections.
type fakeConn struct {
	mu      sync.Mutex
	pingErr error
	closed  bool
}

func (c *fakeConn) setPingErr(err error) {
	c.mu.Lock()
	c.pingErr = err
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) PingContext(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *fakeConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, nil
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, nil
}

func (c *fakeConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// fakeDialer counts dials and remembers every connection it produced.
type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	dialErr error
	dials   atomic.Int32
}

func (d *fakeDialer) dial(ctx context.Context) (Conn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	c := &fakeConn{}
	d.conns = append(d.conns, c)
	return c, nil
}

func newTestPool(t *testing.T, cfg config.PoolConfig) (*Pool, *fakeDialer) {
	t.Helper()
	d := &fakeDialer{}
	p, err := NewPool(cfg, d.dial)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, d
}

func TestPoolAcquireUpToCapacity(t *testing.T) {
	cfg := config.PoolConfig{Size: 2, MaxOverflow: 1, AcquireTimeout: time.Second, ConnTTL: time.Hour}
	p, d := newTestPool(t, cfg)
	ctx := context.Background()

	var sessions []*Session
	for i := 0; i < 3; i++ {
		s, err := p.Acquire(ctx)
		require.NoError(t, err)
		sessions = append(sessions, s)
	}
	assert.Equal(t, int32(3), d.dials.Load())
	assert.Equal(t, Stats{InUse: 3, Idle: 0, Waiting: 0}, p.Stats())

	for _, s := range sessions {
		require.NoError(t, s.Close())
	}
	assert.Equal(t, Stats{InUse: 0, Idle: 3, Waiting: 0}, p.Stats())

	// Reuse: no new dials after release.
	s, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, int32(3), d.dials.Load())
}

func TestPoolExhaustedAfterTimeout(t *testing.T) {
	// Baseline 2 + overflow 1, 50ms acquire timeout: with all three connections
	// held, a fourth acquire must fail with ErrPoolExhausted at roughly 50ms.
	cfg := config.PoolConfig{Size: 2, MaxOverflow: 1, AcquireTimeout: 50 * time.Millisecond, ConnTTL: time.Hour}
	p, _ := newTestPool(t, cfg)
	ctx := context.Background()

	var held []*Session
	for i := 0; i < 3; i++ {
		s, err := p.Acquire(ctx)
		require.NoError(t, err)
		held = append(held, s)
	}

	start := time.Now()
	_, err := p.Acquire(ctx)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)

	// No leak: the failed acquire left pool accounting unchanged.
	assert.Equal(t, Stats{InUse: 3, Idle: 0, Waiting: 0}, p.Stats())

	for _, s := range held {
		require.NoError(t, s.Close())
	}
	assert.Equal(t, Stats{InUse: 0, Idle: 3, Waiting: 0}, p.Stats())
}

func TestPoolWaiterGetsReleasedConn(t *testing.T) {
	cfg := config.PoolConfig{Size: 1, MaxOverflow: 0, AcquireTimeout: time.Second, ConnTTL: time.Hour}
	p, d := newTestPool(t, cfg)
	ctx := context.Background()

	s1, err := p.Acquire(ctx)
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		s2, err := p.Acquire(ctx)
		if err == nil {
			s2.Close()
		}
		got <- err
	}()

	// Let the second acquire queue up, then release.
	assert.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, time.Millisecond)
	require.NoError(t, s1.Close())

	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never unblocked")
	}

	// Same underlying connection was handed over: only one dial total.
	assert.Equal(t, int32(1), d.dials.Load())
}

func TestPoolTTLRecycleOnRelease(t *testing.T) {
	cfg := config.PoolConfig{Size: 2, MaxOverflow: 0, AcquireTimeout: time.Second, ConnTTL: 10 * time.Millisecond}
	p, d := newTestPool(t, cfg)
	ctx := context.Background()

	s, err := p.Acquire(ctx)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())

	// The expired connection is discarded, not parked idle.
	assert.Equal(t, Stats{InUse: 0, Idle: 0, Waiting: 0}, p.Stats())
	assert.True(t, d.conns[0].isClosed())

	// The pool regrows on next demand.
	s2, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, int32(2), d.dials.Load())
}

func TestPoolBrokenConnReplacedOnce(t *testing.T) {
	cfg := config.PoolConfig{Size: 2, MaxOverflow: 0, AcquireTimeout: time.Second, ConnTTL: time.Hour}
	p, d := newTestPool(t, cfg)
	ctx := context.Background()

	// Park one connection idle, then break it.
	s, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	d.conns[0].setPingErr(errors.New("server closed the connection"))

	// Checkout health check fails; the pool silently dials a replacement.
	s2, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer s2.Close()
	assert.True(t, d.conns[0].isClosed())
	assert.Equal(t, int32(2), d.dials.Load())
}

func TestPoolBrokenConnSurfacedWhenReplacementFails(t *testing.T) {
	cfg := config.PoolConfig{Size: 1, MaxOverflow: 0, AcquireTimeout: time.Second, ConnTTL: time.Hour}
	p, d := newTestPool(t, cfg)
	ctx := context.Background()

	s, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	d.conns[0].setPingErr(errors.New("server closed the connection"))
	d.mu.Lock()
	d.dialErr = errors.New("connection refused")
	d.mu.Unlock()

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrConnBroken)

	// The failed replacement did not leak capacity.
	assert.Equal(t, Stats{InUse: 0, Idle: 0, Waiting: 0}, p.Stats())
}

func TestPoolAcquireCallerCancelled(t *testing.T) {
	cfg := config.PoolConfig{Size: 1, MaxOverflow: 0, AcquireTimeout: time.Second, ConnTTL: time.Hour}
	p, _ := newTestPool(t, cfg)

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// The cancelled waiter removed itself from the queue.
	assert.Equal(t, Stats{InUse: 1, Idle: 0, Waiting: 0}, p.Stats())
}

func TestPoolReaperRecyclesIdleConns(t *testing.T) {
	cfg := config.PoolConfig{Size: 1, MaxOverflow: 0, AcquireTimeout: time.Second, ConnTTL: 20 * time.Millisecond}
	p, d := newTestPool(t, cfg)

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.Equal(t, 1, p.Stats().Idle)

	assert.Eventually(t, func() bool {
		return p.Stats().Idle == 0 && d.conns[0].isClosed()
	}, time.Second, 5*time.Millisecond)
}

func TestPoolCloseFailsWaiters(t *testing.T) {
	cfg := config.PoolConfig{Size: 1, MaxOverflow: 0, AcquireTimeout: time.Minute, ConnTTL: time.Hour}
	p, _ := newTestPool(t, cfg)

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		got <- err
	}()
	assert.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, time.Millisecond)

	require.NoError(t, p.Close())

	select {
	case err := <-got:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter never unblocked after close")
	}

	// Release after close destroys the connection instead of pooling it.
	require.NoError(t, s.Close())
	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestWithSessionReleasesOnError(t *testing.T) {
	cfg := config.PoolConfig{Size: 1, MaxOverflow: 0, AcquireTimeout: time.Second, ConnTTL: time.Hour}
	p, _ := newTestPool(t, cfg)

	wantErr := errors.New("op failed")
	err := p.WithSession(context.Background(), func(s *Session) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, Stats{InUse: 0, Idle: 1, Waiting: 0}, p.Stats())
}

func TestWithSessionReleasesOnPanic(t *testing.T) {
	cfg := config.PoolConfig{Size: 1, MaxOverflow: 0, AcquireTimeout: time.Second, ConnTTL: time.Hour}
	p, _ := newTestPool(t, cfg)

	func() {
		defer func() { _ = recover() }()
		_ = p.WithSession(context.Background(), func(s *Session) error {
			panic("boom")
		})
	}()
	assert.Equal(t, Stats{InUse: 0, Idle: 1, Waiting: 0}, p.Stats())
}

func TestSessionCloseIdempotent(t *testing.T) {
	cfg := config.PoolConfig{Size: 1, MaxOverflow: 0, AcquireTimeout: time.Second, ConnTTL: time.Hour}
	p, _ := newTestPool(t, cfg)

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, Stats{InUse: 0, Idle: 1, Waiting: 0}, p.Stats())
}

func TestSessionMarkBrokenDiscards(t *testing.T) {
	cfg := config.PoolConfig{Size: 1, MaxOverflow: 0, AcquireTimeout: time.Second, ConnTTL: time.Hour}
	p, d := newTestPool(t, cfg)

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	s.MarkBroken()
	require.NoError(t, s.Close())

	assert.True(t, d.conns[0].isClosed())
	assert.Equal(t, Stats{InUse: 0, Idle: 0, Waiting: 0}, p.Stats())
}
