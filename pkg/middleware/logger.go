package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/thistle/pkg/context"
)

// quietPrefixes are polled by probes and scrapers and only logged on failure
var quietPrefixes = []string{"/metrics", "/api/v1/health"}

// Logger writes one access log line per request
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			started := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			req := c.Request()
			status := c.Response().Status
			if status < http.StatusBadRequest && quiet(req.URL.Path) {
				return nil
			}

			ctx := req.Context()
			fields := context.Fields(ctx)
			fields["method"] = req.Method
			fields["route"] = c.Path()
			fields["status"] = status
			fields["duration_ms"] = time.Since(started).Milliseconds()
			fields["bytes_out"] = c.Response().Size
			fields["remote_ip"] = c.RealIP()

			log := logger.WithContext(ctx).WithFields(fields)
			if status >= http.StatusInternalServerError {
				log.Warn("Request failed")
			} else {
				log.Info("Request")
			}
			return nil
		}
	}
}

func quiet(path string) bool {
	for _, prefix := range quietPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
