package handlers

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/tetradx/tetradx/internal/repositories/testtype"
	"github.com/tetradx/tetradx/pkg/models"
)

// TestTypeHandler handles test type catalog reads
type TestTypeHandler struct {
	repo   *testtype.Repository
	logger ectologger.Logger
}

// NewTestTypeHandler creates a new test type handler
func NewTestTypeHandler(repo *testtype.Repository, logger ectologger.Logger) *TestTypeHandler {
	return &TestTypeHandler{
		repo:   repo,
		logger: logger,
	}
}

// RegisterRoutes registers test type routes
func (h *TestTypeHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/test-types", h.List)
	g.GET("/test-types/facility/:id", h.ListByFacility)
	g.GET("/test-types/:id/tests", h.ListTests)
}

// List returns all test types
func (h *TestTypeHandler) List(c echo.Context) error {
	testTypes, err := h.repo.List(c.Request().Context())
	if err != nil {
		return err
	}

	return SuccessResponse(c, models.TestTypeListResponse{Items: testTypes})
}

// ListByFacility returns the test types a facility offers
func (h *TestTypeHandler) ListByFacility(c echo.Context) error {
	facilityID, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	testTypes, err := h.repo.ListByFacility(c.Request().Context(), facilityID)
	if err != nil {
		return err
	}

	return SuccessResponse(c, models.TestTypeListResponse{Items: testTypes})
}

// ListTests returns the tests under a test type
func (h *TestTypeHandler) ListTests(c echo.Context) error {
	testTypeID, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	tests, err := h.repo.ListTests(c.Request().Context(), testTypeID)
	if err != nil {
		return err
	}

	return SuccessResponse(c, models.TestListResponse{Items: tests})
}
