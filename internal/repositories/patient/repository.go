package patient

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
	"github.com/tetradx/tetradx/pkg/tracing"
)

// Repository handles patient persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func New(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// GetOrCreate finds a patient by name and contact number, creating one when
// no match exists. Referrals identify patients loosely, so an exact pair
// match is treated as the same person.
func (r *Repository) GetOrCreate(ctx context.Context, fullNameOrID, contactNumber string) (*models.Patient, error) {
	ctx, span := tracing.StartSpan(ctx, "patient.Repository.GetOrCreate")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "full_name_or_id", "contact_number", "created_at")
	sb.From("patients")
	sb.Where(sb.Equal("full_name_or_id", fullNameOrID), sb.Equal("contact_number", contactNumber))
	sb.OrderBy("created_at DESC")
	sb.Limit(1)

	query, args := sb.Build()
	var patient models.Patient
	err := r.db.GetContext(ctx, &patient, query, args...)
	if err == nil {
		return &patient, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		r.logger.WithContext(ctx).WithError(err).WithField("patient", fullNameOrID).Error("Failed to look up patient")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to look up patient")
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto("patients")
	ib.Cols("full_name_or_id", "contact_number")
	ib.Values(fullNameOrID, contactNumber)
	ib.Returning("id", "full_name_or_id", "contact_number", "created_at")

	query, args = ib.Build()
	if err := r.db.GetContext(ctx, &patient, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("patient", fullNameOrID).Error("Failed to create patient")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create patient")
	}
	return &patient, nil
}
