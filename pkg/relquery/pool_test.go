package relquery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	closed bool
}

func (c *fakeConn) QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	return nil, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func fakeFactory(dialed *[]*fakeConn, mu *sync.Mutex) Factory {
	return func(ctx context.Context) (Conn, error) {
		conn := &fakeConn{}
		if dialed != nil {
			mu.Lock()
			*dialed = append(*dialed, conn)
			mu.Unlock()
		}
		return conn, nil
	}
}

func TestPoolAcquireRelease(t *testing.T) {
	pool := NewPool(fakeFactory(nil, nil), PoolConfig{Capacity: 2, AcquireTimeout: time.Second}, testLogger())
	defer pool.Close()

	first, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	second, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, pool.Borrowed())
	assert.Equal(t, 0, pool.Idle())

	pool.Release(first, true)
	assert.Equal(t, 1, pool.Borrowed())
	assert.Equal(t, 1, pool.Idle())

	pool.Release(second, true)
	assert.Equal(t, 0, pool.Borrowed())
	assert.Equal(t, 2, pool.Idle())
}

func TestPoolReusesIdleConnection(t *testing.T) {
	var mu sync.Mutex
	var dialed []*fakeConn
	pool := NewPool(fakeFactory(&dialed, &mu), PoolConfig{Capacity: 1, AcquireTimeout: time.Second}, testLogger())
	defer pool.Close()

	conn, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(conn, true)

	again, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(again, true)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, dialed, 1, "second acquire should reuse the idle connection")
}

func TestPoolBorrowedNeverExceedsCapacity(t *testing.T) {
	const capacity = 4
	const workers = capacity * 4

	pool := NewPool(fakeFactory(nil, nil), PoolConfig{Capacity: capacity, AcquireTimeout: 5 * time.Second}, testLogger())
	defer pool.Close()

	var mu sync.Mutex
	maxBorrowed := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				conn, err := pool.Acquire(context.Background())
				if err != nil {
					t.Error(err)
					return
				}

				borrowed := pool.Borrowed()
				mu.Lock()
				if borrowed > maxBorrowed {
					maxBorrowed = borrowed
				}
				mu.Unlock()

				pool.Release(conn, true)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxBorrowed, capacity)
	assert.Equal(t, 0, pool.Borrowed())
}

func TestPoolAcquireTimeoutReturnsExhausted(t *testing.T) {
	pool := NewPool(fakeFactory(nil, nil), PoolConfig{Capacity: 1, AcquireTimeout: 25 * time.Millisecond}, testLogger())
	defer pool.Close()

	conn, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(conn, true)

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestPoolAcquireDeadlineWinsOverTimeout(t *testing.T) {
	pool := NewPool(fakeFactory(nil, nil), PoolConfig{Capacity: 1, AcquireTimeout: time.Second}, testLogger())
	defer pool.Close()

	conn, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(conn, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, ErrDeadlineExceeded)
}

func TestPoolAcquireCanceledContext(t *testing.T) {
	pool := NewPool(fakeFactory(nil, nil), PoolConfig{Capacity: 1, AcquireTimeout: time.Second}, testLogger())
	defer pool.Close()

	conn, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(conn, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoolUnhealthyReleaseDiscardsConnection(t *testing.T) {
	var mu sync.Mutex
	var dialed []*fakeConn
	pool := NewPool(fakeFactory(&dialed, &mu), PoolConfig{Capacity: 1, AcquireTimeout: time.Second}, testLogger())
	defer pool.Close()

	conn, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(conn, false)

	assert.Equal(t, 0, pool.Idle())
	mu.Lock()
	closed := dialed[0].isClosed()
	mu.Unlock()
	assert.True(t, closed)

	// the slot is free again, a new connection gets dialed
	again, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(again, true)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, dialed, 2)
}

func TestPoolMaxLifetimeEviction(t *testing.T) {
	var mu sync.Mutex
	var dialed []*fakeConn
	pool := NewPool(fakeFactory(&dialed, &mu), PoolConfig{
		Capacity:       1,
		AcquireTimeout: time.Second,
		MaxLifetime:    10 * time.Millisecond,
	}, testLogger())
	defer pool.Close()

	conn, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	pool.Release(conn, true)

	// the released connection outlived its max lifetime and was closed
	assert.Equal(t, 0, pool.Idle())
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, dialed[0].isClosed())
}

func TestPoolSweepEvictsIdleConnections(t *testing.T) {
	var mu sync.Mutex
	var dialed []*fakeConn
	pool := NewPool(fakeFactory(&dialed, &mu), PoolConfig{
		Capacity:       2,
		AcquireTimeout: time.Second,
		IdleTimeout:    5 * time.Millisecond,
	}, testLogger())
	defer pool.Close()

	conn, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(conn, true)
	require.Equal(t, 1, pool.Idle())

	time.Sleep(10 * time.Millisecond)
	pool.sweepOnce()

	assert.Equal(t, 0, pool.Idle())
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, dialed[0].isClosed())
}

func TestPoolAcquireAfterClose(t *testing.T) {
	pool := NewPool(fakeFactory(nil, nil), PoolConfig{Capacity: 1, AcquireTimeout: time.Second}, testLogger())
	require.NoError(t, pool.Close())

	_, err := pool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolCloseClosesIdleConnections(t *testing.T) {
	var mu sync.Mutex
	var dialed []*fakeConn
	pool := NewPool(fakeFactory(&dialed, &mu), PoolConfig{Capacity: 2, AcquireTimeout: time.Second}, testLogger())

	conn, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(conn, true)

	require.NoError(t, pool.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, dialed[0].isClosed())
}
