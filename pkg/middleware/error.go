package middleware

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/tetradx/tetradx/pkg/context"
	"github.com/tetradx/tetradx/pkg/relquery"
	"github.com/tetradx/tetradx/pkg/tracing"
)

type ErrorResponse struct {
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id"`
	Meta      map[string]any `json:"meta"`
}

func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		ctx := c.Request().Context()
		logger.WithContext(ctx).WithError(err).Error("api is returning an error")
		// Check if the response is already committed
		if c.Response().Committed {
			return
		}

		// Default response
		code := http.StatusInternalServerError
		message := "Internal Server Error"
		meta := map[string]any{}

		// Handle specific Echo errors
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if msg, ok := he.Message.(string); ok {
				message = msg
			}
		}

		// Map fetch-layer errors so callers can tell timeout, exhaustion and
		// bad input apart without inspecting internals.
		var fetchErr *relquery.FetchError
		switch {
		case errors.Is(err, relquery.ErrDeadlineExceeded):
			code = http.StatusGatewayTimeout
			message = "request deadline exceeded"
		case errors.Is(err, relquery.ErrPoolExhausted):
			code = http.StatusServiceUnavailable
			message = "no database connection available, retry with backoff"
		case errors.Is(err, relquery.ErrInvalidRelation):
			code = http.StatusBadRequest
			message = err.Error()
		case errors.As(err, &fetchErr):
			code = http.StatusInternalServerError
			message = "fetch failed"
			meta["step"] = fetchErr.Step
		}

		if ok := httperror.IsHTTPError(err); ok {
			httperr := httperror.ToHTTPError(err)
			code = httperror.GetStatusCode(err)
			message = httperr.Error()
			meta = httperr.Meta
		}
		requestID := context.GetRequestID(ctx)
		traceID := tracing.GetTraceID(ctx)

		// Return a JSON response
		_ = c.JSON(code, ErrorResponse{
			Message:   message,
			RequestID: requestID,
			TraceID:   traceID,
			Meta:      meta,
		})
	}
}
