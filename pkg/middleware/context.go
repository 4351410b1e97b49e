package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tetradx/tetradx/pkg/context"
)

const (
	// HeaderUserID is the header key for the authenticated user ID
	HeaderUserID = "X-User-ID"
	// HeaderUserType is the header key for the authenticated user's role
	HeaderUserType = "X-User-Type"
	// HeaderBranchID is the header key for the acting facility branch
	HeaderBranchID = "X-Branch-ID"
)

func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()

			// get request id from header
			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			userID := req.Header.Get(HeaderUserID)
			userType := req.Header.Get(HeaderUserType)
			branchID := req.Header.Get(HeaderBranchID)

			ctx := req.Context()
			ctx = context.SetRequestID(ctx, requestID)
			ctx = context.SetMethod(ctx, req.Method)
			ctx = context.SetRoute(ctx, req.URL.Path)
			ctx = context.SetRemoteIP(ctx, c.RealIP())
			ctx = context.SetReferer(ctx, req.Referer())
			ctx = context.SetUserID(ctx, userID)
			ctx = context.SetUserType(ctx, userType)
			ctx = context.SetBranchID(ctx, branchID)

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
