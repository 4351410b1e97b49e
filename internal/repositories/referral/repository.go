package referral

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/tetradx/tetradx/pkg/database"
	"github.com/tetradx/tetradx/pkg/models"
	"github.com/tetradx/tetradx/pkg/relquery"
	"github.com/tetradx/tetradx/pkg/tracing"
)

const (
	idCharset     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	idLength      = 10
	idMaxAttempts = 100
)

// Repository handles referral persistence and relation-loaded reads
type Repository struct {
	db      database.DB
	fetcher *relquery.Service
	logger  ectologger.Logger
}

func New(db database.DB, fetcher *relquery.Service, logger ectologger.Logger) *Repository {
	return &Repository{db: db, fetcher: fetcher, logger: logger}
}

// Entity declares the referral schema for batched relation fetches:
// the per-referral test status rows and the ordered catalog tests reached
// through the referral_tests join table.
func Entity() relquery.Entity {
	return relquery.Entity{
		Name:     "referral",
		Table:    "referrals",
		IDColumn: "id",
		Columns: []string{
			"id", "branch_id", "patient_id", "clinical_notes", "referred_by_id",
			"status", "referred_at", "updated_at", "completed_at",
		},
		OrderBy: []string{"referred_at DESC"},
		Relations: []relquery.Relation{
			{
				Name:       "referral_tests",
				Table:      "referral_tests",
				ForeignKey: "referral_id",
				Columns: []string{
					"id", "referral_id", "test_id", "status",
					"created_at", "updated_at", "completed_at",
				},
				Kind:    relquery.OneToMany,
				OrderBy: []string{"id"},
			},
			{
				Name:          "tests",
				Table:         "tests",
				Kind:          relquery.ManyToMany,
				JoinTable:     "referral_tests",
				JoinLocalKey:  "referral_id",
				JoinRemoteKey: "test_id",
				ChildIDColumn: "id",
				Columns:       []string{"id", "test_type_id", "name", "description", "price", "created_at"},
				OrderBy:       []string{"tests.name"},
			},
		},
	}
}

// GenerateID returns a random 10-character uppercase referral code.
func GenerateID() (string, error) {
	id := make([]byte, idLength)
	max := big.NewInt(int64(len(idCharset)))
	for i := range id {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate referral id: %w", err)
		}
		id[i] = idCharset[n.Int64()]
	}
	return string(id), nil
}

// Create inserts a referral and its referral tests in one transaction. The
// referral id is regenerated on collision, matching the legacy behavior of
// bounding the attempts rather than looping forever.
func (r *Repository) Create(ctx context.Context, branchID, patientID int64, clinicalNotes, referredByID string, testIDs []int64) (*models.Referral, []models.ReferralTest, error) {
	ctx, span := tracing.StartSpan(ctx, "referral.Repository.Create")
	defer span.End()

	txCtx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create referral")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id, err := r.uniqueID(txCtx, tx)
	if err != nil {
		return nil, nil, err
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto("referrals")
	ib.Cols("id", "branch_id", "patient_id", "clinical_notes", "referred_by_id", "status")
	ib.Values(id, branchID, patientID, clinicalNotes, referredByID, models.StatusPending)
	ib.Returning("id", "branch_id", "patient_id", "clinical_notes", "referred_by_id", "status", "referred_at", "updated_at", "completed_at")

	query, args := ib.Build()
	var referral models.Referral
	if err := tx.GetContext(txCtx, &referral, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("branch_id", branchID).Error("Failed to insert referral")
		return nil, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create referral")
	}

	// one multi-row insert for all ordered tests
	tib := database.NewInsertBuilder()
	tib.InsertInto("referral_tests")
	tib.Cols("referral_id", "test_id", "status")
	for _, testID := range testIDs {
		tib.Values(id, testID, models.StatusPending)
	}
	tib.Returning("id", "referral_id", "test_id", "status", "created_at", "updated_at", "completed_at")

	query, args = tib.Build()
	var tests []models.ReferralTest
	if err := tx.SelectContext(txCtx, &tests, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("referral_id", id).Error("Failed to insert referral tests")
		return nil, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create referral")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create referral")
	}

	return &referral, tests, nil
}

func (r *Repository) uniqueID(ctx context.Context, tx database.Tx) (string, error) {
	for attempt := 0; attempt < idMaxAttempts; attempt++ {
		id, err := GenerateID()
		if err != nil {
			return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to create referral")
		}

		var exists bool
		if err := tx.GetContext(ctx, &exists, "SELECT EXISTS (SELECT 1 FROM referrals WHERE id = $1)", id); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to check referral id uniqueness")
			return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to create referral")
		}
		if !exists {
			return id, nil
		}
	}
	return "", httperror.NewHTTPError(http.StatusInternalServerError, "could not generate unique referral id")
}

// GetWithRelations returns a referral with its tests, patient and branch
// populated. The relation rows arrive in one batched query each; the patient
// and branch lookups are single-row selects keyed by the referral's foreign
// keys.
func (r *Repository) GetWithRelations(ctx context.Context, id string) (*models.ReferralResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "referral.Repository.GetWithRelations")
	defer span.End()

	result, err := r.fetcher.Fetch(ctx, relquery.Request{
		Entity:    "referral",
		Filters:   []relquery.Filter{{Column: "id", Values: []any{id}}},
		Relations: []string{"referral_tests"},
	})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "referral %s not found", id)
	}

	responses, err := r.assemble(ctx, result)
	if err != nil {
		return nil, err
	}
	return &responses[0], nil
}

// ListFilter narrows referral listings to one practitioner or one branch.
type ListFilter struct {
	PractitionerID string
	BranchID       int64
	Status         models.TestStatus
}

// List returns referrals matching the filter, newest first, with their tests
// populated. Round trips stay constant no matter how many referrals the page
// holds.
func (r *Repository) List(ctx context.Context, filter ListFilter, page, pageSize int) ([]models.ReferralResponse, int, error) {
	ctx, span := tracing.StartSpan(ctx, "referral.Repository.List")
	defer span.End()

	var filters []relquery.Filter
	if filter.PractitionerID != "" {
		filters = append(filters, relquery.Filter{Column: "referred_by_id", Values: []any{filter.PractitionerID}})
	}
	if filter.BranchID != 0 {
		filters = append(filters, relquery.Filter{Column: "branch_id", Values: []any{filter.BranchID}})
	}
	if filter.Status != "" {
		filters = append(filters, relquery.Filter{Column: "status", Values: []any{string(filter.Status)}})
	}

	total, err := r.count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	result, err := r.fetcher.Fetch(ctx, relquery.Request{
		Entity:    "referral",
		Filters:   filters,
		Relations: []string{"referral_tests"},
		Limit:     pageSize,
		Offset:    (page - 1) * pageSize,
	})
	if err != nil {
		return nil, 0, err
	}

	responses, err := r.assemble(ctx, result)
	if err != nil {
		return nil, 0, err
	}
	return responses, total, nil
}

func (r *Repository) count(ctx context.Context, filter ListFilter) (int, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("referrals")
	var where []string
	if filter.PractitionerID != "" {
		where = append(where, sb.Equal("referred_by_id", filter.PractitionerID))
	}
	if filter.BranchID != 0 {
		where = append(where, sb.Equal("branch_id", filter.BranchID))
	}
	if filter.Status != "" {
		where = append(where, sb.Equal("status", string(filter.Status)))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}

	query, args := sb.Build()
	var total int
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count referrals")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list referrals")
	}
	return total, nil
}

// UpdateStatus sets a referral's status, stamping completed_at when it
// transitions to Completed and clearing it otherwise.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status models.TestStatus) (*models.Referral, error) {
	ctx, span := tracing.StartSpan(ctx, "referral.Repository.UpdateStatus")
	defer span.End()

	query := `
		UPDATE referrals
		SET status = $1,
		    updated_at = NOW(),
		    completed_at = CASE WHEN $1 = $2 THEN NOW() ELSE NULL END
		WHERE id = $3
		RETURNING id, branch_id, patient_id, clinical_notes, referred_by_id, status, referred_at, updated_at, completed_at
	`

	var referral models.Referral
	err := r.db.GetContext(ctx, &referral, query, string(status), string(models.StatusCompleted), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "referral %s not found", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"referral_id": id, "status": status}).Error("Failed to update referral status")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update referral status")
	}
	return &referral, nil
}

// UpdateTestStatus sets one referral test's status. When every test on the
// referral is completed, the referral itself is completed in the same
// transaction.
func (r *Repository) UpdateTestStatus(ctx context.Context, referralID string, testID int64, status models.TestStatus) (*models.ReferralTest, *models.Referral, error) {
	ctx, span := tracing.StartSpan(ctx, "referral.Repository.UpdateTestStatus")
	defer span.End()

	txCtx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update test status")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		UPDATE referral_tests
		SET status = $1,
		    updated_at = NOW(),
		    completed_at = CASE WHEN $1 = $2 THEN NOW() ELSE NULL END
		WHERE referral_id = $3 AND test_id = $4
		RETURNING id, referral_id, test_id, status, created_at, updated_at, completed_at
	`

	var test models.ReferralTest
	err = tx.GetContext(txCtx, &test, query, string(status), string(models.StatusCompleted), referralID, testID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, httperror.NewHTTPErrorf(http.StatusNotFound, "test %d is not on referral %s", testID, referralID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"referral_id": referralID, "test_id": testID}).Error("Failed to update referral test status")
		return nil, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update test status")
	}

	var remaining int
	err = tx.GetContext(txCtx, &remaining, "SELECT COUNT(*) FROM referral_tests WHERE referral_id = $1 AND status <> $2", referralID, string(models.StatusCompleted))
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("referral_id", referralID).Error("Failed to count incomplete referral tests")
		return nil, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update test status")
	}

	var referral *models.Referral
	if remaining == 0 {
		var updated models.Referral
		err = tx.GetContext(txCtx, &updated, `
			UPDATE referrals
			SET status = $1, updated_at = NOW(), completed_at = NOW()
			WHERE id = $2
			RETURNING id, branch_id, patient_id, clinical_notes, referred_by_id, status, referred_at, updated_at, completed_at
		`, string(models.StatusCompleted), referralID)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithField("referral_id", referralID).Error("Failed to complete referral")
			return nil, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update test status")
		}
		referral = &updated
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update test status")
	}

	return &test, referral, nil
}

// assemble converts fetched records into API responses, pulling the patients
// and branches for the whole page in one IN (...) query each.
func (r *Repository) assemble(ctx context.Context, result *relquery.Result) ([]models.ReferralResponse, error) {
	responses := make([]models.ReferralResponse, 0, len(result.Records))

	patientIDs := make([]any, 0, len(result.Records))
	branchIDs := make([]any, 0, len(result.Records))
	seenPatients := map[int64]struct{}{}
	seenBranches := map[int64]struct{}{}

	for _, record := range result.Records {
		referral, err := toReferral(record.Columns)
		if err != nil {
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read referral row")
		}

		tests := make([]models.ReferralTest, 0, len(record.Relations["referral_tests"]))
		for _, row := range record.Relations["referral_tests"] {
			test, err := toReferralTest(row)
			if err != nil {
				return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read referral test row")
			}
			tests = append(tests, test)
		}

		if _, ok := seenPatients[referral.PatientID]; !ok {
			seenPatients[referral.PatientID] = struct{}{}
			patientIDs = append(patientIDs, referral.PatientID)
		}
		if _, ok := seenBranches[referral.BranchID]; !ok {
			seenBranches[referral.BranchID] = struct{}{}
			branchIDs = append(branchIDs, referral.BranchID)
		}

		responses = append(responses, models.ReferralResponse{
			Referral:        referral,
			Tests:           tests,
			TurnaroundHours: referral.TurnaroundHours(),
		})
	}

	if len(responses) == 0 {
		return responses, nil
	}

	patients, err := r.loadPatients(ctx, patientIDs)
	if err != nil {
		return nil, err
	}
	branches, err := r.loadBranches(ctx, branchIDs)
	if err != nil {
		return nil, err
	}

	for i := range responses {
		if patient, ok := patients[responses[i].PatientID]; ok {
			p := patient
			responses[i].Patient = &p
		}
		if branch, ok := branches[responses[i].BranchID]; ok {
			b := branch
			responses[i].Branch = &b
		}
	}

	return responses, nil
}

func (r *Repository) loadPatients(ctx context.Context, ids []any) (map[int64]models.Patient, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "full_name_or_id", "contact_number", "created_at")
	sb.From("patients")
	sb.Where(sb.In("id", ids...))

	query, args := sb.Build()
	var patients []models.Patient
	if err := r.db.SelectContext(ctx, &patients, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load patients for referrals")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load referral patients")
	}

	byID := make(map[int64]models.Patient, len(patients))
	for _, patient := range patients {
		byID[patient.ID] = patient
	}
	return byID, nil
}

func (r *Repository) loadBranches(ctx context.Context, ids []any) (map[int64]models.FacilityBranch, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "facility_id", "name", "is_active", "created_at")
	sb.From("facility_branches")
	sb.Where(sb.In("id", ids...))

	query, args := sb.Build()
	var branches []models.FacilityBranch
	if err := r.db.SelectContext(ctx, &branches, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load branches for referrals")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load referral branches")
	}

	byID := make(map[int64]models.FacilityBranch, len(branches))
	for _, branch := range branches {
		byID[branch.ID] = branch
	}
	return byID, nil
}

func toReferral(row relquery.Row) (models.Referral, error) {
	referral := models.Referral{
		ID:            asString(row["id"]),
		ClinicalNotes: asString(row["clinical_notes"]),
		ReferredByID:  asString(row["referred_by_id"]),
		Status:        models.TestStatus(asString(row["status"])),
	}

	var err error
	if referral.BranchID, err = asInt64(row["branch_id"]); err != nil {
		return referral, err
	}
	if referral.PatientID, err = asInt64(row["patient_id"]); err != nil {
		return referral, err
	}
	if referral.ReferredAt, err = asTime(row["referred_at"]); err != nil {
		return referral, err
	}
	if referral.UpdatedAt, err = asTime(row["updated_at"]); err != nil {
		return referral, err
	}
	referral.CompletedAt = asTimePtr(row["completed_at"])

	return referral, nil
}

func toReferralTest(row relquery.Row) (models.ReferralTest, error) {
	test := models.ReferralTest{
		ReferralID: asString(row["referral_id"]),
		Status:     models.TestStatus(asString(row["status"])),
	}

	var err error
	if test.ID, err = asInt64(row["id"]); err != nil {
		return test, err
	}
	if test.TestID, err = asInt64(row["test_id"]); err != nil {
		return test, err
	}
	if test.CreatedAt, err = asTime(row["created_at"]); err != nil {
		return test, err
	}
	if test.UpdatedAt, err = asTime(row["updated_at"]); err != nil {
		return test, err
	}
	test.CompletedAt = asTimePtr(row["completed_at"])

	return test, nil
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

func asTime(v any) (time.Time, error) {
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("expected timestamp, got %T", v)
}

func asTimePtr(v any) *time.Time {
	if t, ok := v.(time.Time); ok {
		return &t
	}
	return nil
}
