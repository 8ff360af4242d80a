// Package realtime upgrades project suggestion streams to WebSocket connections
package realtime

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/thistle/pkg/errors"
	"github.com/Ramsey-B/thistle/pkg/realtime"
)

// Handler hands upgraded connections to the hub
type Handler struct {
	hub    *realtime.Hub
	logger ectologger.Logger
}

// NewHandler creates a realtime handler
func NewHandler(hub *realtime.Hub, logger ectologger.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: logger,
	}
}

// Register registers the suggestion stream at /ws/suggestions/:project
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws/suggestions/:project", h.Suggestions)
}

// Suggestions serves one connection until it closes
func (h *Handler) Suggestions(c echo.Context) error {
	projectID := c.Param("project")
	if projectID == "" {
		return errors.NewValidationError("project", "project is required")
	}

	// a failed upgrade has already written its response
	if err := h.hub.Serve(c.Response(), c.Request(), projectID); err != nil {
		h.logger.WithContext(c.Request().Context()).WithError(err).Debug("Suggestion stream not opened")
	}
	return nil
}
