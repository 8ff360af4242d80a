package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/thistle/pkg/errors"
)

// TimeoutParam is the query parameter carrying a caller-supplied bound in milliseconds
const TimeoutParam = "timeout_ms"

// Timeout bounds the request context by ?timeout_ms= when present, capped at max.
// Store and compute calls made under that context expire as UpstreamTimeoutError.
func Timeout(max time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := c.QueryParam(TimeoutParam)
			if raw == "" {
				return next(c)
			}

			ms, err := strconv.Atoi(raw)
			if err != nil || ms <= 0 {
				return errors.NewValidationError(TimeoutParam, "timeout_ms must be a positive integer")
			}
			d := time.Duration(ms) * time.Millisecond
			if max > 0 && d > max {
				d = max
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), d)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
