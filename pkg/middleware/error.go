package middleware

import (
	stdcontext "context"
	stderrors "errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/thistle/pkg/context"
	"github.com/Ramsey-B/thistle/pkg/errors"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id"`
	Meta      map[string]any `json:"meta"`
}

// describe maps err onto a status, a client-safe message and error metadata
func describe(err error) (int, string, map[string]any) {
	if stderrors.Is(err, stdcontext.DeadlineExceeded) && !errors.IsUpstreamTimeoutError(err) {
		err = errors.NewUpstreamTimeoutError("request", err)
	}
	err = errors.ToHTTPError(err)

	var echoErr *echo.HTTPError
	if stderrors.As(err, &echoErr) {
		msg, ok := echoErr.Message.(string)
		if !ok {
			msg = http.StatusText(echoErr.Code)
		}
		return echoErr.Code, msg, map[string]any{}
	}

	if httperror.IsHTTPError(err) {
		he := httperror.ToHTTPError(err)
		meta := he.Meta
		if meta == nil {
			meta = map[string]any{}
		}
		return httperror.GetStatusCode(err), he.Error(), meta
	}

	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), map[string]any{}
}

// Error renders handler errors as ErrorResponse. Domain errors keep their status and
// metadata; anything unrecognised is a 500 with the cause kept out of the body.
func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		ctx := c.Request().Context()
		code, message, meta := describe(err)

		log := logger.WithContext(ctx).WithError(err).WithFields(context.Fields(ctx)).WithField("status", code)
		if code >= http.StatusInternalServerError {
			log.Error("Request returned a server error")
		} else {
			log.Debug("Request returned a client error")
		}

		if err := c.JSON(code, ErrorResponse{
			Message:   message,
			RequestID: context.GetRequestID(ctx),
			TraceID:   tracing.GetTraceID(ctx),
			Meta:      meta,
		}); err != nil {
			log.WithError(err).Warn("Failed to write error response")
		}
	}
}
