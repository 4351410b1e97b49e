package handlers

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	appctx "github.com/tetradx/tetradx/pkg/context"
)

// User types carried in the identity headers.
const (
	UserTypeDoctor     = "doctor"
	UserTypeTechnician = "technician"
)

// ParseID parses a numeric identifier from a path parameter
func ParseID(c echo.Context, param string) (int64, error) {
	idStr := c.Param(param)
	if idStr == "" {
		return 0, httperror.NewHTTPError(http.StatusBadRequest, "missing "+param)
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id < 1 {
		return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s: must be a positive integer", param)
	}

	return id, nil
}

// RequireUserID extracts the authenticated user ID from context
func RequireUserID(c echo.Context) (string, error) {
	userID := appctx.GetUserID(c.Request().Context())
	if userID == "" {
		return "", httperror.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return userID, nil
}

// RequireUserType rejects requests whose identity header declares a
// different role. Requests without a declared type pass through; ownership
// and branch membership checks still apply downstream.
func RequireUserType(c echo.Context, userType string) error {
	declared := appctx.GetUserType(c.Request().Context())
	if declared != "" && declared != userType {
		return httperror.NewHTTPErrorf(http.StatusForbidden, "%s access required", userType)
	}
	return nil
}

// Pagination reads page and page_size query parameters, clamped to the
// configured maximum.
func Pagination(c echo.Context, defaultSize, maxSize int) (page, pageSize int) {
	page = 1
	if raw := c.QueryParam("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			page = n
		}
	}

	pageSize = defaultSize
	if raw := c.QueryParam("page_size"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			pageSize = n
		}
	}
	if pageSize > maxSize {
		pageSize = maxSize
	}

	return page, pageSize
}

// SuccessResponse returns a 200 OK with data
func SuccessResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, data)
}

// CreatedResponse returns a 201 Created with data
func CreatedResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusCreated, data)
}

// BadRequest returns a 400 Bad Request error
func BadRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}

// Forbidden returns a 403 Forbidden error
func Forbidden(message string) error {
	return httperror.NewHTTPError(http.StatusForbidden, message)
}
