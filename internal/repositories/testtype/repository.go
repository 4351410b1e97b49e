package testtype

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/tetradx/tetradx/pkg/database"
	"github.com/tetradx/tetradx/pkg/models"
	"github.com/tetradx/tetradx/pkg/tracing"
)

// Repository handles test type and test persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func New(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// List returns all test types ordered by id.
func (r *Repository) List(ctx context.Context) ([]models.TestType, error) {
	ctx, span := tracing.StartSpan(ctx, "testtype.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "facility_id", "name", "description", "created_at")
	sb.From("test_types")
	sb.OrderBy("id")

	query, args := sb.Build()
	var testTypes []models.TestType
	if err := r.db.SelectContext(ctx, &testTypes, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list test types")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list test types")
	}
	return testTypes, nil
}

// ListByFacility returns the test types offered by a facility.
func (r *Repository) ListByFacility(ctx context.Context, facilityID int64) ([]models.TestType, error) {
	ctx, span := tracing.StartSpan(ctx, "testtype.Repository.ListByFacility")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "facility_id", "name", "description", "created_at")
	sb.From("test_types")
	sb.Where(sb.Equal("facility_id", facilityID))
	sb.OrderBy("name")

	query, args := sb.Build()
	var testTypes []models.TestType
	if err := r.db.SelectContext(ctx, &testTypes, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("facility_id", facilityID).Error("Failed to list test types by facility")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list test types")
	}
	return testTypes, nil
}

// ListTests returns the tests belonging to a test type.
func (r *Repository) ListTests(ctx context.Context, testTypeID int64) ([]models.Test, error) {
	ctx, span := tracing.StartSpan(ctx, "testtype.Repository.ListTests")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "test_type_id", "name", "description", "price", "created_at")
	sb.From("tests")
	sb.Where(sb.Equal("test_type_id", testTypeID))
	sb.OrderBy("name")

	query, args := sb.Build()
	var tests []models.Test
	if err := r.db.SelectContext(ctx, &tests, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("test_type_id", testTypeID).Error("Failed to list tests by test type")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list tests")
	}
	return tests, nil
}

// TestWithFacility carries a test together with the facility that offers it,
// used to validate referral test selections in one batched query.
type TestWithFacility struct {
	models.Test
	FacilityID int64 `db:"facility_id"`
}

// GetTestsByIDs returns the given tests joined with their owning facility.
// One IN (...) query regardless of how many ids are requested.
func (r *Repository) GetTestsByIDs(ctx context.Context, ids []int64) ([]TestWithFacility, error) {
	ctx, span := tracing.StartSpan(ctx, "testtype.Repository.GetTestsByIDs")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(
		"tests.id", "tests.test_type_id", "tests.name", "tests.description", "tests.price", "tests.created_at",
		"test_types.facility_id",
	)
	sb.From("tests")
	sb.Join("test_types", "test_types.id = tests.test_type_id")
	sb.Where(sb.In("tests.id", values...))

	query, args := sb.Build()
	var tests []TestWithFacility
	if err := r.db.SelectContext(ctx, &tests, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("test_ids", ids).Error("Failed to get tests by ids")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get tests")
	}
	return tests, nil
}
