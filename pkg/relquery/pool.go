package relquery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

// Querier is the read surface a fetch needs from a connection.
type Querier interface {
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
}

// Conn is a live link to the data store, borrowed by exactly one fetch at a
// time.
type Conn interface {
	Querier
	Close() error
}

// Factory creates a new connection when the pool has no idle one to hand out.
type Factory func(ctx context.Context) (Conn, error)

// ConnOpener is satisfied by *sqlx.DB and the database wrapper around it.
type ConnOpener interface {
	Connx(ctx context.Context) (*sqlx.Conn, error)
}

// SQLXFactory adapts a sqlx database into a connection factory for the pool.
func SQLXFactory(db ConnOpener) Factory {
	return func(ctx context.Context) (Conn, error) {
		return db.Connx(ctx)
	}
}

// PoolConfig holds the pool's capacity and eviction settings. Supplied at
// process start, not mutable thereafter.
type PoolConfig struct {
	Capacity       int
	AcquireTimeout time.Duration
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	SweepInterval  time.Duration
}

// PooledConn wraps a Conn with the bookkeeping the pool needs for lifetime
// and idle eviction.
type PooledConn struct {
	Conn
	createdAt time.Time
	idleSince time.Time
}

func (c *PooledConn) expired(maxLifetime time.Duration) bool {
	return maxLifetime > 0 && time.Since(c.createdAt) > maxLifetime
}

// Pool maintains a bounded set of reusable connections. Borrowed plus idle
// connections never exceed the configured capacity; a closed or unhealthy
// connection is replaced lazily on the next acquire.
type Pool struct {
	factory Factory
	cfg     PoolConfig
	logger  ectologger.Logger

	slots chan struct{} // one token per allowed connection

	mu       sync.Mutex
	idle     []*PooledConn // LIFO so hot connections stay warm
	borrowed int
	closed   bool

	stopSweep chan struct{}
	sweepWG   sync.WaitGroup
}

// NewPool creates a pool and starts the background idle sweep.
func NewPool(factory Factory, cfg PoolConfig, logger ectologger.Logger) *Pool {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 5 * time.Second
	}

	p := &Pool{
		factory:   factory,
		cfg:       cfg,
		logger:    logger,
		slots:     make(chan struct{}, cfg.Capacity),
		stopSweep: make(chan struct{}),
	}

	for i := 0; i < cfg.Capacity; i++ {
		p.slots <- struct{}{}
	}

	if cfg.SweepInterval > 0 {
		p.sweepWG.Add(1)
		go p.sweep()
	}

	return p
}

// Acquire borrows a connection, waiting up to the configured acquire timeout
// for a slot. It returns ErrPoolExhausted when nothing frees up in time and
// ErrDeadlineExceeded when the caller's deadline expires first.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case <-p.slots:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrDeadlineExceeded
		}
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrPoolExhausted
	}

	// Got a slot. Reuse an idle connection if a live one is available,
	// discarding any that aged out while idle.
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.slots <- struct{}{}
			return nil, ErrPoolClosed
		}
		var conn *PooledConn
		if n := len(p.idle); n > 0 {
			conn = p.idle[n-1]
			p.idle = p.idle[:n-1]
		}
		if conn == nil {
			p.borrowed++
			p.mu.Unlock()
			break
		}
		if conn.expired(p.cfg.MaxLifetime) {
			p.mu.Unlock()
			p.closeConn(conn)
			continue
		}
		p.borrowed++
		p.mu.Unlock()
		return conn, nil
	}

	conn, err := p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.borrowed--
		p.mu.Unlock()
		p.slots <- struct{}{}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrDeadlineExceeded
		}
		return nil, err
	}

	return &PooledConn{Conn: conn, createdAt: time.Now()}, nil
}

// Release returns a borrowed connection. Unhealthy connections and those past
// their max lifetime are closed instead of going back to the idle set.
func (p *Pool) Release(conn *PooledConn, healthy bool) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	p.borrowed--
	closed := p.closed
	keep := healthy && !closed && !conn.expired(p.cfg.MaxLifetime)
	if keep {
		conn.idleSince = time.Now()
		p.idle = append(p.idle, conn)
	}
	p.mu.Unlock()

	if !keep {
		p.closeConn(conn)
	}

	p.slots <- struct{}{}
}

// Capacity reports the maximum number of connections the pool allows.
func (p *Pool) Capacity() int {
	return p.cfg.Capacity
}

// Borrowed reports the number of connections currently checked out.
func (p *Pool) Borrowed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.borrowed
}

// Idle reports the number of idle connections.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Close stops the sweep and closes every idle connection. Borrowed
// connections are closed as they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.stopSweep)
	p.sweepWG.Wait()

	for _, conn := range idle {
		p.closeConn(conn)
	}
	return nil
}

func (p *Pool) sweep() {
	defer p.sweepWG.Done()

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopSweep:
			return
		case <-ticker.C:
			p.sweepOnce()
		}
	}
}

// sweepOnce closes idle connections that have been unused longer than the
// idle timeout or outlived their max lifetime.
func (p *Pool) sweepOnce() {
	now := time.Now()

	p.mu.Lock()
	var keep, evict []*PooledConn
	for _, conn := range p.idle {
		tooIdle := p.cfg.IdleTimeout > 0 && now.Sub(conn.idleSince) > p.cfg.IdleTimeout
		if tooIdle || conn.expired(p.cfg.MaxLifetime) {
			evict = append(evict, conn)
		} else {
			keep = append(keep, conn)
		}
	}
	p.idle = keep
	p.mu.Unlock()

	for _, conn := range evict {
		p.closeConn(conn)
	}
}

func (p *Pool) closeConn(conn *PooledConn) {
	if err := conn.Conn.Close(); err != nil && p.logger != nil {
		p.logger.WithError(err).Warn("Failed to close pooled connection")
	}
}
