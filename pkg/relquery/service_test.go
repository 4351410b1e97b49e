package relquery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dbConn adapts a sqlmock-backed sqlx database into a poolable connection.
type dbConn struct {
	db *sqlx.DB
}

func (c *dbConn) QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	return c.db.QueryxContext(ctx, query, args...)
}

func (c *dbConn) Close() error { return nil }

// blockingConn waits out the caller's deadline on every query.
type blockingConn struct{}

func (c *blockingConn) QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *blockingConn) Close() error { return nil }

func newService(t *testing.T, factory Factory, cfg PoolConfig) (*Service, *Pool) {
	t.Helper()

	pool := NewPool(factory, cfg, testLogger())
	t.Cleanup(func() { pool.Close() })

	service := NewService(testSchema(t), pool, time.Second, testLogger())
	return service, pool
}

func TestFetchSuccessReleasesConnection(t *testing.T) {
	db, mock := newMockDB(t)
	factory := func(ctx context.Context) (Conn, error) { return &dbConn{db: db}, nil }

	service, pool := newService(t, factory, PoolConfig{Capacity: 2, AcquireTimeout: time.Second})

	mock.ExpectQuery("").WillReturnRows(
		sqlmock.NewRows([]string{"id", "branch_id", "status"}).
			AddRow("AAAAAAAAAA", int64(1), "Pending"),
	)
	mock.ExpectQuery("").WillReturnRows(
		sqlmock.NewRows([]string{"id", "test_id", "status", "__parent_key"}).
			AddRow(int64(10), int64(100), "Pending", "AAAAAAAAAA"),
	)

	result, err := service.Fetch(context.Background(), Request{
		Entity:    "referral",
		Relations: []string{"referral_tests"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.RoundTrips)
	assert.Equal(t, "referral", result.Entity)
	require.Len(t, result.Records, 1)

	assert.Equal(t, 0, pool.Borrowed())
	assert.Equal(t, 1, pool.Idle(), "healthy connection goes back to the idle set")
}

func TestFetchInvalidRelationIssuesNoQueries(t *testing.T) {
	dialed := 0
	factory := func(ctx context.Context) (Conn, error) {
		dialed++
		return &blockingConn{}, nil
	}

	service, _ := newService(t, factory, PoolConfig{Capacity: 1, AcquireTimeout: time.Second})

	_, err := service.Fetch(context.Background(), Request{
		Entity:    "referral",
		Relations: []string{"nope"},
	})
	require.ErrorIs(t, err, ErrInvalidRelation)
	assert.Zero(t, dialed, "rejected requests must not touch the pool")
}

func TestFetchDeadlineExceededDiscardsConnection(t *testing.T) {
	factory := func(ctx context.Context) (Conn, error) { return &blockingConn{}, nil }
	service, pool := newService(t, factory, PoolConfig{Capacity: 1, AcquireTimeout: time.Second})

	_, err := service.Fetch(context.Background(), Request{
		Entity:   "referral",
		Deadline: 20 * time.Millisecond,
	})
	require.ErrorIs(t, err, ErrDeadlineExceeded)

	// the expired connection is neither borrowed nor reusable
	assert.Equal(t, 0, pool.Borrowed())
	assert.Equal(t, 0, pool.Idle())

	// and its slot is free for the next request
	conn, acquireErr := pool.Acquire(context.Background())
	require.NoError(t, acquireErr)
	pool.Release(conn, true)
}

func TestFetchPoolExhausted(t *testing.T) {
	factory := func(ctx context.Context) (Conn, error) { return &blockingConn{}, nil }
	service, pool := newService(t, factory, PoolConfig{Capacity: 1, AcquireTimeout: 25 * time.Millisecond})

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(held, true)

	_, err = service.Fetch(context.Background(), Request{Entity: "referral"})
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestFetchFailureDiscardsConnectionAndTagsStep(t *testing.T) {
	db, mock := newMockDB(t)
	factory := func(ctx context.Context) (Conn, error) { return &dbConn{db: db}, nil }
	service, pool := newService(t, factory, PoolConfig{Capacity: 1, AcquireTimeout: time.Second})

	mock.ExpectQuery("").WillReturnError(errors.New("server closed the connection unexpectedly"))

	_, err := service.Fetch(context.Background(), Request{Entity: "referral"})

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "primary", fetchErr.Step)

	assert.Equal(t, 0, pool.Borrowed())
	assert.Equal(t, 0, pool.Idle(), "failed connection must not be reused")
}

func TestFetchUsesDefaultDeadline(t *testing.T) {
	factory := func(ctx context.Context) (Conn, error) { return &blockingConn{}, nil }

	pool := NewPool(factory, PoolConfig{Capacity: 1, AcquireTimeout: time.Second}, testLogger())
	t.Cleanup(func() { pool.Close() })
	service := NewService(testSchema(t), pool, 20*time.Millisecond, testLogger())

	start := time.Now()
	_, err := service.Fetch(context.Background(), Request{Entity: "referral"})
	require.ErrorIs(t, err, ErrDeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
