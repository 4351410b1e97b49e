package facility

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/tetradx/tetradx/pkg/database"
	"github.com/tetradx/tetradx/pkg/models"
	"github.com/tetradx/tetradx/pkg/relquery"
	"github.com/tetradx/tetradx/pkg/tracing"
)

// Repository handles facility, branch and technician persistence
type Repository struct {
	db      database.DB
	fetcher *relquery.Service
	logger  ectologger.Logger
}

func New(db database.DB, fetcher *relquery.Service, logger ectologger.Logger) *Repository {
	return &Repository{db: db, fetcher: fetcher, logger: logger}
}

// Entity declares the facility schema for batched relation fetches.
func Entity() relquery.Entity {
	return relquery.Entity{
		Name:     "facility",
		Table:    "facilities",
		IDColumn: "id",
		Columns:  []string{"id", "name", "contact_number", "created_at"},
		OrderBy:  []string{"name"},
		Relations: []relquery.Relation{
			{
				Name:       "branches",
				Table:      "facility_branches",
				ForeignKey: "facility_id",
				Columns:    []string{"id", "facility_id", "name", "is_active", "created_at"},
				Kind:       relquery.OneToMany,
				OrderBy:    []string{"name"},
			},
			{
				Name:       "test_types",
				Table:      "test_types",
				ForeignKey: "facility_id",
				Columns:    []string{"id", "facility_id", "name", "description", "created_at"},
				Kind:       relquery.OneToMany,
				OrderBy:    []string{"name"},
			},
		},
	}
}

// List returns all facilities ordered by name.
func (r *Repository) List(ctx context.Context) ([]models.Facility, error) {
	ctx, span := tracing.StartSpan(ctx, "facility.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "name", "contact_number", "admin_user_id", "created_at")
	sb.From("facilities")
	sb.OrderBy("name")

	query, args := sb.Build()
	var facilities []models.Facility
	if err := r.db.SelectContext(ctx, &facilities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list facilities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list facilities")
	}
	return facilities, nil
}

// ListWithRelations returns all facilities with the requested relations
// populated in a constant number of queries.
func (r *Repository) ListWithRelations(ctx context.Context, relations []string) (*relquery.Result, error) {
	ctx, span := tracing.StartSpan(ctx, "facility.Repository.ListWithRelations")
	defer span.End()

	return r.fetcher.Fetch(ctx, relquery.Request{
		Entity:    "facility",
		Relations: relations,
	})
}

// Get returns a facility by id.
func (r *Repository) Get(ctx context.Context, id int64) (*models.Facility, error) {
	ctx, span := tracing.StartSpan(ctx, "facility.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "name", "contact_number", "admin_user_id", "created_at")
	sb.From("facilities")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var facility models.Facility
	if err := r.db.GetContext(ctx, &facility, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("facility_id", id).Error("Failed to get facility")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get facility")
	}
	return &facility, nil
}

// ListBranches returns the branches of a facility, optionally only active ones.
func (r *Repository) ListBranches(ctx context.Context, facilityID int64, activeOnly bool) ([]models.FacilityBranch, error) {
	ctx, span := tracing.StartSpan(ctx, "facility.Repository.ListBranches")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "facility_id", "name", "is_active", "created_at")
	sb.From("facility_branches")
	where := []string{sb.Equal("facility_id", facilityID)}
	if activeOnly {
		where = append(where, sb.Equal("is_active", true))
	}
	sb.Where(where...)
	sb.OrderBy("name")

	query, args := sb.Build()
	var branches []models.FacilityBranch
	if err := r.db.SelectContext(ctx, &branches, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("facility_id", facilityID).Error("Failed to list facility branches")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list facility branches")
	}
	return branches, nil
}

// GetBranch returns a branch by id.
func (r *Repository) GetBranch(ctx context.Context, branchID int64) (*models.FacilityBranch, error) {
	ctx, span := tracing.StartSpan(ctx, "facility.Repository.GetBranch")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "facility_id", "name", "is_active", "created_at")
	sb.From("facility_branches")
	sb.Where(sb.Equal("id", branchID))

	query, args := sb.Build()
	var branch models.FacilityBranch
	if err := r.db.GetContext(ctx, &branch, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("branch_id", branchID).Error("Failed to get facility branch")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get facility branch")
	}
	return &branch, nil
}

// CreateBranch creates a branch under a facility.
func (r *Repository) CreateBranch(ctx context.Context, facilityID int64, name string) (*models.FacilityBranch, error) {
	ctx, span := tracing.StartSpan(ctx, "facility.Repository.CreateBranch")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto("facility_branches")
	ib.Cols("facility_id", "name")
	ib.Values(facilityID, name)
	ib.Returning("id", "facility_id", "name", "is_active", "created_at")

	query, args := ib.Build()
	var branch models.FacilityBranch
	if err := r.db.GetContext(ctx, &branch, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"facility_id": facilityID, "name": name}).Error("Failed to create facility branch")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create facility branch")
	}
	return &branch, nil
}

// AssignTechnician assigns a user as a technician of a branch. The pair
// (user, branch) is unique.
func (r *Repository) AssignTechnician(ctx context.Context, branchID int64, userID string, isAdmin bool) (*models.BranchTechnician, error) {
	ctx, span := tracing.StartSpan(ctx, "facility.Repository.AssignTechnician")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id")
	sb.From("branch_technicians")
	sb.Where(sb.Equal("branch_id", branchID), sb.Equal("user_id", userID))

	query, args := sb.Build()
	var existingID int64
	err := r.db.GetContext(ctx, &existingID, query, args...)
	if err == nil {
		return nil, httperror.NewHTTPError(http.StatusConflict, "technician is already assigned to this branch")
	}
	if !errors.Is(err, sql.ErrNoRows) {
		r.logger.WithContext(ctx).WithError(err).WithField("branch_id", branchID).Error("Failed to check existing technician assignment")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to assign technician")
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto("branch_technicians")
	ib.Cols("branch_id", "user_id", "is_admin")
	ib.Values(branchID, userID, isAdmin)
	ib.Returning("id", "user_id", "branch_id", "is_admin", "assigned_at")

	query, args = ib.Build()
	var technician models.BranchTechnician
	if err := r.db.GetContext(ctx, &technician, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"branch_id": branchID, "user_id": userID}).Error("Failed to assign technician")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to assign technician")
	}
	return &technician, nil
}

// ListTechnicians returns the technicians assigned to a branch.
func (r *Repository) ListTechnicians(ctx context.Context, branchID int64) ([]models.BranchTechnician, error) {
	ctx, span := tracing.StartSpan(ctx, "facility.Repository.ListTechnicians")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "user_id", "branch_id", "is_admin", "assigned_at")
	sb.From("branch_technicians")
	sb.Where(sb.Equal("branch_id", branchID))
	sb.OrderBy("assigned_at")

	query, args := sb.Build()
	var technicians []models.BranchTechnician
	if err := r.db.SelectContext(ctx, &technicians, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("branch_id", branchID).Error("Failed to list branch technicians")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list branch technicians")
	}
	return technicians, nil
}

// IsTechnician reports whether the user is assigned to the branch.
func (r *Repository) IsTechnician(ctx context.Context, branchID int64, userID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "facility.Repository.IsTechnician")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id")
	sb.From("branch_technicians")
	sb.Where(sb.Equal("branch_id", branchID), sb.Equal("user_id", userID))

	query, args := sb.Build()
	var id int64
	err := r.db.GetContext(ctx, &id, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("branch_id", branchID).Error("Failed to check technician assignment")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to check technician assignment")
	}
	return true, nil
}
