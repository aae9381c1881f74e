package database

import (
	"container/list"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"oppcore/internal/config"
)

var (
	// ErrPoolExhausted is returned when no connection becomes available within
	// the configured acquire timeout. Callers may retry or degrade.
	ErrPoolExhausted = errors.New("connection pool exhausted")
	// ErrConnBroken is returned when a checked-out connection failed its health
	// check and the pool could not obtain a replacement either.
	ErrConnBroken = errors.New("connection broken")
	// ErrPoolClosed is returned for any acquire attempted after Close.
	ErrPoolClosed = errors.New("connection pool closed")
)

// Conn is the subset of a pinned database connection the pool manages.
// *sql.Conn satisfies it.
type Conn interface {
	PingContext(ctx context.Context) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Close() error
}

// Dialer produces a new live connection.
type Dialer func(ctx context.Context) (Conn, error)

type pooledConn struct {
	conn      Conn
	createdAt time.Time
}

func (pc *pooledConn) expired(ttl time.Duration) bool {
	return ttl > 0 && time.Since(pc.createdAt) >= ttl
}

// waiter is one queued acquirer. pc is written and ready closed while holding
// the pool mutex; a nil pc means capacity was freed and the waiter must retry.
type waiter struct {
	ready chan struct{}
	pc    *pooledConn
}

// Pool is a bounded connection pool: up to Size baseline connections plus
// MaxOverflow burst connections, created lazily on demand. Once both are
// exhausted, acquirers queue in FIFO order until a connection is released or
// the acquire timeout elapses. Idle connections older than ConnTTL are
// recycled rather than reused.
type Pool struct {
	cfg  config.PoolConfig
	dial Dialer

	mu      sync.Mutex
	idle    []*pooledConn
	total   int
	waiters *list.List
	closed  bool

	reaperStop chan struct{}
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	InUse   int
	Idle    int
	Waiting int
}

// NewPool constructs a pool over the given dialer. A background reaper closes
// idle connections past their TTL so stale connections are not kept around
// waiting for the next checkout to notice them.
func NewPool(cfg config.PoolConfig, dial Dialer) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dial == nil {
		return nil, errors.New("dialer is required")
	}
	p := &Pool{
		cfg:        cfg,
		dial:       dial,
		waiters:    list.New(),
		reaperStop: make(chan struct{}),
	}
	go p.reap()
	return p, nil
}

// Capacity is the hard cap on live connections.
func (p *Pool) Capacity() int {
	return p.cfg.Capacity()
}

// Acquire checks out one connection wrapped in a Session. It serves idle
// connections first (health-checking them, silently replacing one broken
// connection before surfacing ErrConnBroken), dials new connections while
// under capacity, and otherwise queues FIFO until a release or the acquire
// timeout, whichever comes first.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	replacedBroken := false
	for {
		if err := ctx.Err(); err != nil {
			return nil, p.acquireErr(parent)
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if n := len(p.idle); n > 0 {
			pc := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.mu.Unlock()

			if pc.expired(p.cfg.ConnTTL) {
				p.discard(pc)
				continue
			}
			if err := pc.conn.PingContext(ctx); err != nil {
				p.discard(pc)
				if replacedBroken {
					return nil, fmt.Errorf("%w: %v", ErrConnBroken, err)
				}
				// Replace silently once: the freed capacity lets the next
				// iteration dial a fresh connection.
				replacedBroken = true
				continue
			}
			return &Session{pool: p, pc: pc}, nil
		}

		if p.total < p.cfg.Capacity() {
			p.total++
			p.mu.Unlock()

			conn, err := p.dial(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.deliverLocked(nil)
				p.mu.Unlock()
				if replacedBroken {
					return nil, fmt.Errorf("%w: %v", ErrConnBroken, err)
				}
				return nil, fmt.Errorf("dial connection: %w", err)
			}
			return &Session{pool: p, pc: &pooledConn{conn: conn, createdAt: time.Now()}}, nil
		}

		w := &waiter{ready: make(chan struct{})}
		elem := p.waiters.PushBack(w)
		p.mu.Unlock()

		select {
		case <-w.ready:
			if w.pc == nil {
				continue
			}
			return &Session{pool: p, pc: w.pc}, nil
		case <-ctx.Done():
			p.mu.Lock()
			select {
			case <-w.ready:
				// Lost the race: a connection was handed over while we were
				// cancelling. Put it back so it is not leaked.
				if w.pc != nil {
					p.releaseLocked(w.pc, false)
				}
			default:
				p.waiters.Remove(elem)
			}
			p.mu.Unlock()
			return nil, p.acquireErr(parent)
		}
	}
}

// acquireErr distinguishes caller cancellation from pool exhaustion.
func (p *Pool) acquireErr(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return ErrPoolExhausted
}

// WithSession runs fn with an acquired session, releasing it on every exit
// path including panics.
func (p *Pool) WithSession(ctx context.Context, fn func(s *Session) error) error {
	s, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// Stats returns current pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		InUse:   p.total - len(p.idle),
		Idle:    len(p.idle),
		Waiting: p.waiters.Len(),
	}
}

// Close shuts the pool down: idle connections are closed and queued acquirers
// fail with ErrPoolClosed. Connections still checked out are closed on release.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, pc := range p.idle {
		_ = pc.conn.Close()
		p.total--
	}
	p.idle = nil
	for e := p.waiters.Front(); e != nil; e = e.Next() {
		close(e.Value.(*waiter).ready)
	}
	p.waiters.Init()
	p.mu.Unlock()

	close(p.reaperStop)
	return nil
}

// deliverLocked hands pc to the oldest waiter. A nil pc signals freed capacity
// so the waiter retries. Caller must hold p.mu.
func (p *Pool) deliverLocked(pc *pooledConn) bool {
	front := p.waiters.Front()
	if front == nil {
		return false
	}
	p.waiters.Remove(front)
	w := front.Value.(*waiter)
	w.pc = pc
	close(w.ready)
	return true
}

// releaseLocked returns pc to the pool: discarded when broken or past TTL
// (waking one waiter to dial afresh), otherwise handed to the oldest waiter
// or parked idle. Caller must hold p.mu.
func (p *Pool) releaseLocked(pc *pooledConn, broken bool) {
	if p.closed {
		p.total--
		_ = pc.conn.Close()
		return
	}
	if broken || pc.expired(p.cfg.ConnTTL) {
		p.total--
		_ = pc.conn.Close()
		p.deliverLocked(nil)
		return
	}
	if p.deliverLocked(pc) {
		return
	}
	p.idle = append(p.idle, pc)
}

func (p *Pool) release(pc *pooledConn, broken bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked(pc, broken)
}

func (p *Pool) discard(pc *pooledConn) {
	p.release(pc, true)
}

// reap periodically closes idle connections that outlived ConnTTL.
func (p *Pool) reap() {
	interval := p.cfg.ConnTTL / 2
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.reaperStop:
			return
		case <-ticker.C:
			p.mu.Lock()
			kept := p.idle[:0]
			for _, pc := range p.idle {
				if pc.expired(p.cfg.ConnTTL) {
					_ = pc.conn.Close()
					p.total--
				} else {
					kept = append(kept, pc)
				}
			}
			p.idle = kept
			p.mu.Unlock()
		}
	}
}

// Session binds one pooled connection to one unit of work. It is not safe for
// concurrent use and must be closed exactly when the unit of work completes.
type Session struct {
	pool *Pool
	pc   *pooledConn

	mu     sync.Mutex
	closed bool
	broken bool
}

// MarkBroken flags the underlying connection so Close discards it instead of
// returning it for reuse.
func (s *Session) MarkBroken() {
	s.mu.Lock()
	s.broken = true
	s.mu.Unlock()
}

// Close releases the underlying connection back to the pool. Safe to call more
// than once; only the first call releases.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	broken := s.broken
	s.mu.Unlock()

	s.pool.release(s.pc, broken)
	return nil
}

// Age reports how long the underlying connection has been alive.
func (s *Session) Age() time.Duration {
	return time.Since(s.pc.createdAt)
}

func (s *Session) PingContext(ctx context.Context) error {
	return s.pc.conn.PingContext(ctx)
}

func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.pc.conn.ExecContext(ctx, query, args...)
}

func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.pc.conn.QueryContext(ctx, query, args...)
}

func (s *Session) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.pc.conn.QueryRowContext(ctx, query, args...)
}
