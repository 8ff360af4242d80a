package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/thistle/pkg/context"
)

const (
	// HeaderAnalyst names the analyst acting on suggestions
	HeaderAnalyst = "X-Analyst-ID"
	// ProjectParam is the route parameter naming the project
	ProjectParam = "project"
	// EntityParam is the route parameter naming the entity
	EntityParam = "entity"
)

// Context stamps every request with an id and copies the project, entity and
// analyst into the request context.
func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := context.SetRequestID(req.Context(), requestID)
			if project := c.Param(ProjectParam); project != "" {
				ctx = context.SetProjectID(ctx, project)
			}
			if entity := c.Param(EntityParam); entity != "" {
				ctx = context.SetEntityID(ctx, entity)
			}
			if analyst := req.Header.Get(HeaderAnalyst); analyst != "" {
				ctx = context.SetAnalyst(ctx, analyst)
			}

			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
