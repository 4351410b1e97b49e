package handlers

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/tetradx/tetradx/internal/repositories/facility"
	"github.com/tetradx/tetradx/internal/repositories/patient"
	"github.com/tetradx/tetradx/internal/repositories/referral"
	"github.com/tetradx/tetradx/internal/repositories/testtype"
	"github.com/tetradx/tetradx/pkg/kafka"
	"github.com/tetradx/tetradx/pkg/metrics"
	"github.com/tetradx/tetradx/pkg/models"
)

// ReferralHandler handles referral lifecycle operations
type ReferralHandler struct {
	referralRepo *referral.Repository
	facilityRepo *facility.Repository
	testTypeRepo *testtype.Repository
	patientRepo  *patient.Repository
	producer     *kafka.Producer
	validate     *validator.Validate
	logger       ectologger.Logger

	defaultPageSize int
	maxPageSize     int
}

// NewReferralHandler creates a new referral handler. The producer may be nil
// when event emission is disabled.
func NewReferralHandler(
	referralRepo *referral.Repository,
	facilityRepo *facility.Repository,
	testTypeRepo *testtype.Repository,
	patientRepo *patient.Repository,
	producer *kafka.Producer,
	validate *validator.Validate,
	logger ectologger.Logger,
	defaultPageSize int,
	maxPageSize int,
) *ReferralHandler {
	return &ReferralHandler{
		referralRepo:    referralRepo,
		facilityRepo:    facilityRepo,
		testTypeRepo:    testTypeRepo,
		patientRepo:     patientRepo,
		producer:        producer,
		validate:        validate,
		logger:          logger,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
	}
}

// RegisterRoutes registers referral routes
func (h *ReferralHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/referrals", h.Create)
	g.GET("/referrals/practitioner", h.ListByPractitioner)
	g.GET("/referrals/branch/:id", h.ListByBranch)
	g.GET("/referrals/:id", h.Get)
	g.PUT("/referrals/:id", h.UpdateStatus)
	g.PUT("/referrals/:id/tests/:test_id", h.UpdateTestStatus)
}

// Create creates a referral with its ordered tests. Every requested test must
// belong to the target branch's facility.
func (h *ReferralHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	userID, err := RequireUserID(c)
	if err != nil {
		return err
	}
	if err := RequireUserType(c, UserTypeDoctor); err != nil {
		return err
	}

	var req models.CreateReferralRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return BadRequest(err.Error())
	}

	branch, err := h.facilityRepo.GetBranch(ctx, req.BranchID)
	if err != nil {
		return err
	}
	if branch == nil {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "branch %d not found", req.BranchID)
	}
	if !branch.IsActive {
		return BadRequest("branch is not accepting referrals")
	}

	tests, err := h.testTypeRepo.GetTestsByIDs(ctx, req.TestIDs)
	if err != nil {
		return err
	}
	if len(tests) != len(req.TestIDs) {
		return BadRequest("one or more tests do not exist")
	}
	for _, test := range tests {
		if test.FacilityID != branch.FacilityID {
			return httperror.NewHTTPErrorf(http.StatusBadRequest, "test %d is not offered by this facility", test.ID)
		}
	}

	pat, err := h.patientRepo.GetOrCreate(ctx, req.PatientName, req.PatientNumber)
	if err != nil {
		return err
	}

	ref, referralTests, err := h.referralRepo.Create(ctx, req.BranchID, pat.ID, req.ClinicalNotes, userID, req.TestIDs)
	if err != nil {
		return err
	}

	metrics.ReferralsCreated.Inc()
	h.publishCreated(ctx, ref, userID)

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"referral_id": ref.ID,
		"branch_id":   ref.BranchID,
		"test_count":  len(referralTests),
	}).Info("Created referral")

	return CreatedResponse(c, models.ReferralResponse{
		Referral: *ref,
		Patient:  pat,
		Branch:   branch,
		Tests:    referralTests,
	})
}

// Get returns a referral with tests, patient and branch populated. Only the
// referring practitioner and the receiving branch's technicians may view it.
func (h *ReferralHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	userID, err := RequireUserID(c)
	if err != nil {
		return err
	}

	id := c.Param("id")
	if id == "" {
		return BadRequest("missing id")
	}

	response, err := h.referralRepo.GetWithRelations(ctx, id)
	if err != nil {
		return err
	}

	if err := h.authorize(ctx, userID, &response.Referral); err != nil {
		return err
	}

	return SuccessResponse(c, response)
}

// UpdateStatus updates a referral's status. Technicians of the receiving
// branch only.
func (h *ReferralHandler) UpdateStatus(c echo.Context) error {
	ctx := c.Request().Context()

	userID, err := RequireUserID(c)
	if err != nil {
		return err
	}
	if err := RequireUserType(c, UserTypeTechnician); err != nil {
		return err
	}

	id := c.Param("id")
	if id == "" {
		return BadRequest("missing id")
	}

	var req models.UpdateReferralStatusRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if !req.Status.Valid() {
		return BadRequest("invalid status")
	}

	current, err := h.referralRepo.GetWithRelations(ctx, id)
	if err != nil {
		return err
	}
	if err := h.requireTechnician(ctx, userID, current.BranchID); err != nil {
		return err
	}

	updated, err := h.referralRepo.UpdateStatus(ctx, id, req.Status)
	if err != nil {
		return err
	}

	metrics.ReferralStatusUpdates.WithLabelValues(string(updated.Status)).Inc()
	h.publishStatusChanged(ctx, updated, userID)

	return SuccessResponse(c, updated)
}

// UpdateTestStatus updates one test's status on a referral. When the last
// test completes, the referral completes with it.
func (h *ReferralHandler) UpdateTestStatus(c echo.Context) error {
	ctx := c.Request().Context()

	userID, err := RequireUserID(c)
	if err != nil {
		return err
	}
	if err := RequireUserType(c, UserTypeTechnician); err != nil {
		return err
	}

	id := c.Param("id")
	if id == "" {
		return BadRequest("missing id")
	}
	testID, err := ParseID(c, "test_id")
	if err != nil {
		return err
	}

	var req models.UpdateReferralTestStatusRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if !req.Status.Valid() {
		return BadRequest("invalid status")
	}

	current, err := h.referralRepo.GetWithRelations(ctx, id)
	if err != nil {
		return err
	}
	if err := h.requireTechnician(ctx, userID, current.BranchID); err != nil {
		return err
	}

	test, completed, err := h.referralRepo.UpdateTestStatus(ctx, id, testID, req.Status)
	if err != nil {
		return err
	}

	metrics.ReferralStatusUpdates.WithLabelValues(string(test.Status)).Inc()
	if completed != nil {
		h.publishStatusChanged(ctx, completed, userID)
	}

	return SuccessResponse(c, map[string]any{
		"test":     test,
		"referral": completed,
	})
}

// ListByPractitioner returns the authenticated practitioner's referrals,
// newest first.
func (h *ReferralHandler) ListByPractitioner(c echo.Context) error {
	ctx := c.Request().Context()

	userID, err := RequireUserID(c)
	if err != nil {
		return err
	}

	page, pageSize := Pagination(c, h.defaultPageSize, h.maxPageSize)
	filter := referral.ListFilter{PractitionerID: userID}
	if status := c.QueryParam("status"); status != "" {
		s := models.TestStatus(status)
		if !s.Valid() {
			return BadRequest("invalid status filter")
		}
		filter.Status = s
	}

	items, total, err := h.referralRepo.List(ctx, filter, page, pageSize)
	if err != nil {
		return err
	}

	return SuccessResponse(c, models.ReferralListResponse{
		Items:      items,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	})
}

// ListByBranch returns a branch's referrals for its technicians, newest
// first.
func (h *ReferralHandler) ListByBranch(c echo.Context) error {
	ctx := c.Request().Context()

	userID, err := RequireUserID(c)
	if err != nil {
		return err
	}
	if err := RequireUserType(c, UserTypeTechnician); err != nil {
		return err
	}

	branchID, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	if err := h.requireTechnician(ctx, userID, branchID); err != nil {
		return err
	}

	page, pageSize := Pagination(c, h.defaultPageSize, h.maxPageSize)
	filter := referral.ListFilter{BranchID: branchID}
	if status := c.QueryParam("status"); status != "" {
		s := models.TestStatus(status)
		if !s.Valid() {
			return BadRequest("invalid status filter")
		}
		filter.Status = s
	}

	items, total, err := h.referralRepo.List(ctx, filter, page, pageSize)
	if err != nil {
		return err
	}

	return SuccessResponse(c, models.ReferralListResponse{
		Items:      items,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	})
}

// authorize allows the referring practitioner and the receiving branch's
// technicians.
func (h *ReferralHandler) authorize(ctx context.Context, userID string, ref *models.Referral) error {
	if ref.ReferredByID == userID {
		return nil
	}

	isTech, err := h.facilityRepo.IsTechnician(ctx, ref.BranchID, userID)
	if err != nil {
		return err
	}
	if !isTech {
		return Forbidden("not authorized to view this referral")
	}
	return nil
}

func (h *ReferralHandler) requireTechnician(ctx context.Context, userID string, branchID int64) error {
	isTech, err := h.facilityRepo.IsTechnician(ctx, branchID, userID)
	if err != nil {
		return err
	}
	if !isTech {
		return Forbidden("technician access required")
	}
	return nil
}

// Event emission never fails the request; the producer logs its own errors.

func (h *ReferralHandler) publishCreated(ctx context.Context, ref *models.Referral, actorID string) {
	if h.producer == nil {
		return
	}
	_ = h.producer.PublishReferralCreated(ctx, ref, actorID)
}

func (h *ReferralHandler) publishStatusChanged(ctx context.Context, ref *models.Referral, actorID string) {
	if h.producer == nil {
		return
	}
	_ = h.producer.PublishReferralStatusChanged(ctx, ref, actorID)
}
