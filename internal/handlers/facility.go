package handlers

import (
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/tetradx/tetradx/internal/repositories/facility"
	"github.com/tetradx/tetradx/pkg/models"
)

// FacilityHandler handles facility and branch operations
type FacilityHandler struct {
	repo     *facility.Repository
	validate *validator.Validate
	logger   ectologger.Logger
}

// NewFacilityHandler creates a new facility handler
func NewFacilityHandler(repo *facility.Repository, validate *validator.Validate, logger ectologger.Logger) *FacilityHandler {
	return &FacilityHandler{
		repo:     repo,
		validate: validate,
		logger:   logger,
	}
}

// RegisterRoutes registers facility routes
func (h *FacilityHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/facilities", h.List)
	g.GET("/facilities/:id", h.Get)
	g.GET("/facilities/:id/branches", h.ListBranches)
	g.POST("/facilities/:id/branches", h.CreateBranch)
	g.POST("/branches/:id/technicians", h.AssignTechnician)
	g.GET("/branches/:id/technicians", h.ListTechnicians)
}

// List returns all facilities. With ?include=branches,test_types the named
// relation collections are loaded alongside in a constant number of queries.
func (h *FacilityHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	if include := c.QueryParam("include"); include != "" {
		relations := strings.Split(include, ",")
		for i := range relations {
			relations[i] = strings.TrimSpace(relations[i])
		}

		result, err := h.repo.ListWithRelations(ctx, relations)
		if err != nil {
			return err
		}
		return SuccessResponse(c, result)
	}

	facilities, err := h.repo.List(ctx)
	if err != nil {
		return err
	}

	return SuccessResponse(c, models.FacilityListResponse{Items: facilities})
}

// Get returns a single facility by ID
func (h *FacilityHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	fac, err := h.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if fac == nil {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "facility %d not found", id)
	}

	return SuccessResponse(c, fac)
}

// ListBranches returns a facility's branches, active only unless ?all=true
func (h *FacilityHandler) ListBranches(c echo.Context) error {
	ctx := c.Request().Context()

	facilityID, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	activeOnly := c.QueryParam("all") != "true"
	branches, err := h.repo.ListBranches(ctx, facilityID, activeOnly)
	if err != nil {
		return err
	}

	return SuccessResponse(c, models.BranchListResponse{Items: branches})
}

// CreateBranch creates a new branch under a facility
func (h *FacilityHandler) CreateBranch(c echo.Context) error {
	ctx := c.Request().Context()

	facilityID, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	var req models.CreateBranchRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return BadRequest(err.Error())
	}

	branch, err := h.repo.CreateBranch(ctx, facilityID, req.Name)
	if err != nil {
		return err
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"facility_id": facilityID,
		"branch_id":   branch.ID,
	}).Info("Created facility branch")

	return CreatedResponse(c, branch)
}

// AssignTechnician assigns a technician to a branch
func (h *FacilityHandler) AssignTechnician(c echo.Context) error {
	ctx := c.Request().Context()

	branchID, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	var req models.AssignTechnicianRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return BadRequest(err.Error())
	}

	technician, err := h.repo.AssignTechnician(ctx, branchID, req.UserID, req.IsAdmin)
	if err != nil {
		return err
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"branch_id": branchID,
		"user_id":   req.UserID,
	}).Info("Assigned branch technician")

	return CreatedResponse(c, technician)
}

// ListTechnicians returns the technicians assigned to a branch
func (h *FacilityHandler) ListTechnicians(c echo.Context) error {
	ctx := c.Request().Context()

	branchID, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	technicians, err := h.repo.ListTechnicians(ctx, branchID)
	if err != nil {
		return err
	}

	return SuccessResponse(c, technicians)
}
