package relquery

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// anyQuery matches every statement; tests rely on sqlmock's ordered
// expectations to tell the primary query from the relation queries.
var anyQuery = sqlmock.QueryMatcherFunc(func(expected, actual string) error { return nil })

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(anyQuery))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	return sqlx.NewDb(mockDB, "sqlmock"), mock
}

func planFor(t *testing.T, req Request) *Plan {
	t.Helper()

	plan, err := NewPlanner(testSchema(t)).Plan(req)
	require.NoError(t, err)
	return plan
}

func TestExecuteRoundTripsAreOnePlusRelations(t *testing.T) {
	db, mock := newMockDB(t)
	plan := planFor(t, Request{Entity: "referral", Relations: []string{"referral_tests", "tests"}})

	mock.ExpectQuery("").WillReturnRows(
		sqlmock.NewRows([]string{"id", "branch_id", "status"}).
			AddRow("AAAAAAAAAA", int64(1), "Pending").
			AddRow("BBBBBBBBBB", int64(2), "Completed"),
	)
	mock.ExpectQuery("").WillReturnRows(
		sqlmock.NewRows([]string{"id", "test_id", "status", "__parent_key"}).
			AddRow(int64(10), int64(100), "Pending", "AAAAAAAAAA").
			AddRow(int64(11), int64(101), "Pending", "AAAAAAAAAA"),
	)
	mock.ExpectQuery("").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "__parent_key"}).
			AddRow(int64(100), "CBC", "AAAAAAAAAA"),
	)

	result, err := NewExecutor(testLogger()).Execute(context.Background(), db, plan)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, 3, result.RoundTrips)
	require.Len(t, result.Records, 2)

	first := result.Records[0]
	assert.Equal(t, "AAAAAAAAAA", first.ID)
	assert.Len(t, first.Relations["referral_tests"], 2)
	assert.Len(t, first.Relations["tests"], 1)
	assert.Equal(t, "CBC", first.Relations["tests"][0]["name"])

	// the grouping alias never leaks into assembled rows
	_, leaked := first.Relations["tests"][0][parentKeyColumn]
	assert.False(t, leaked)

	// a parent with no children still carries the relation keys, empty
	second := result.Records[1]
	require.NotNil(t, second.Relations["referral_tests"])
	assert.Empty(t, second.Relations["referral_tests"])
	require.NotNil(t, second.Relations["tests"])
	assert.Empty(t, second.Relations["tests"])
}

func TestExecuteZeroPrimaryRowsSkipsRelationSteps(t *testing.T) {
	db, mock := newMockDB(t)
	plan := planFor(t, Request{Entity: "referral", Relations: []string{"referral_tests"}})

	mock.ExpectQuery("").WillReturnRows(sqlmock.NewRows([]string{"id", "branch_id", "status"}))

	result, err := NewExecutor(testLogger()).Execute(context.Background(), db, plan)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, 1, result.RoundTrips)
	assert.Empty(t, result.Records)
}

func TestExecuteEmptyFilterIssuesNoQueries(t *testing.T) {
	db, mock := newMockDB(t)
	plan := planFor(t, Request{
		Entity:    "referral",
		Filters:   []Filter{{Column: "id", Values: nil}},
		Relations: []string{"referral_tests"},
	})

	result, err := NewExecutor(testLogger()).Execute(context.Background(), db, plan)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, 0, result.RoundTrips)
	assert.Empty(t, result.Records)
}

func TestExecutePrimaryFailureTagsStep(t *testing.T) {
	db, mock := newMockDB(t)
	plan := planFor(t, Request{Entity: "referral"})

	mock.ExpectQuery("").WillReturnError(errors.New("connection reset"))

	result, err := NewExecutor(testLogger()).Execute(context.Background(), db, plan)
	assert.Nil(t, result)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "primary", fetchErr.Step)
}

func TestExecuteRelationFailureTagsStepAndReturnsNothing(t *testing.T) {
	db, mock := newMockDB(t)
	plan := planFor(t, Request{Entity: "referral", Relations: []string{"referral_tests"}})

	mock.ExpectQuery("").WillReturnRows(
		sqlmock.NewRows([]string{"id", "branch_id", "status"}).
			AddRow("AAAAAAAAAA", int64(1), "Pending"),
	)
	mock.ExpectQuery("").WillReturnError(errors.New("relation blew up"))

	result, err := NewExecutor(testLogger()).Execute(context.Background(), db, plan)
	assert.Nil(t, result, "failed fetch must not return partial results")

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "referral_tests", fetchErr.Step)
}

func TestExecuteExpiredContextBeforeQuery(t *testing.T) {
	db, _ := newMockDB(t)
	plan := planFor(t, Request{Entity: "referral"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExecutor(testLogger()).Execute(ctx, db, plan)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecuteNormalizesByteKeys(t *testing.T) {
	db, mock := newMockDB(t)
	plan := planFor(t, Request{Entity: "referral", Relations: []string{"referral_tests"}})

	// lib/pq returns text columns as []byte; grouping must still line up
	mock.ExpectQuery("").WillReturnRows(
		sqlmock.NewRows([]string{"id", "branch_id", "status"}).
			AddRow([]byte("AAAAAAAAAA"), int64(1), []byte("Pending")),
	)
	mock.ExpectQuery("").WillReturnRows(
		sqlmock.NewRows([]string{"id", "test_id", "status", "__parent_key"}).
			AddRow(int64(10), int64(100), []byte("Pending"), []byte("AAAAAAAAAA")),
	)

	result, err := NewExecutor(testLogger()).Execute(context.Background(), db, plan)
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	record := result.Records[0]
	assert.Equal(t, "AAAAAAAAAA", record.Columns["id"])
	assert.Equal(t, "Pending", record.Columns["status"])
	assert.Len(t, record.Relations["referral_tests"], 1)
}

func TestGroupKeyNormalization(t *testing.T) {
	assert.Equal(t, groupKey(int64(7)), groupKey(7))
	assert.Equal(t, groupKey([]byte("AAAAAAAAAA")), groupKey("AAAAAAAAAA"))
	assert.NotEqual(t, groupKey("AAAAAAAAAA"), groupKey("BBBBBBBBBB"))
}
