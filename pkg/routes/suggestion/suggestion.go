// Package suggestion serves an entity's suggestion set and the project summary listing
package suggestion

import (
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/thistle/pkg/context"
	"github.com/Ramsey-B/thistle/pkg/links"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/suggestion"
)

// SuggestionResponse is a suggestion with its hypermedia controls
type SuggestionResponse struct {
	models.Suggestion
	Links links.Links `json:"_links"`
}

// SetResponse is an entity's active suggestion set
type SetResponse struct {
	EntityID    string                   `json:"entityId"`
	Suggestions []SuggestionResponse     `json:"suggestions"`
	Summary     models.SuggestionSummary `json:"summary"`
	MergedInto  string                   `json:"mergedInto,omitempty"`
	Links       links.Links              `json:"_links"`
}

// SummaryResponse lists the project's per-entity summaries
type SummaryResponse struct {
	Summaries []models.SuggestionSummary `json:"summaries"`
	Links     links.Links                `json:"_links"`
}

// NewSuggestionResponse attaches the controls matching the suggestion's status
func NewSuggestionResponse(projectID string, s models.Suggestion) SuggestionResponse {
	return SuggestionResponse{Suggestion: s, Links: links.ForSuggestion(projectID, &s)}
}

// NewSetResponse renders a service result
func NewSetResponse(projectID string, result *suggestion.Result) SetResponse {
	resp := SetResponse{
		EntityID:    result.EntityID,
		Suggestions: make([]SuggestionResponse, 0, len(result.Suggestions)),
		Summary:     result.Summary,
	}
	for _, s := range result.Suggestions {
		resp.Suggestions = append(resp.Suggestions, NewSuggestionResponse(projectID, s))
	}

	if result.Tombstoned {
		resp.MergedInto = result.MergedInto
		resp.Links = links.ForMergedEntity(projectID, result.EntityID, result.MergedInto)
		return resp
	}
	resp.Links = links.ForEntity(projectID, result.EntityID)
	return resp
}

// Handler serves suggestion reads, recomputes and view marks
type Handler struct {
	service *suggestion.Service
	logger  ectologger.Logger
	compute []echo.MiddlewareFunc
}

// NewHandler creates a suggestion handler. computeMiddleware wraps only the compute
// route, e.g. a rate limiter.
func NewHandler(service *suggestion.Service, logger ectologger.Logger, computeMiddleware ...echo.MiddlewareFunc) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
		compute: computeMiddleware,
	}
}

// Register registers suggestion routes on a /projects/:project group
func (h *Handler) Register(g *echo.Group) {
	g.GET("/entities/:entity/suggestions", h.List)
	g.POST("/entities/:entity/suggestions/compute", h.Compute, h.compute...)
	g.GET("/entities/:entity/suggestions/:id", h.Get)
	g.POST("/entities/:entity/suggestions/:id/view", h.View)
	g.GET("/suggestions/summary", h.Summary)
}

// List returns the entity's active suggestions, computing them on first access
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	projectID := context.GetProjectID(ctx)

	result, err := h.service.Get(ctx, projectID, c.Param("entity"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, NewSetResponse(projectID, result))
}

// Compute forces a rescan of the entity
func (h *Handler) Compute(c echo.Context) error {
	ctx := c.Request().Context()
	projectID := context.GetProjectID(ctx)
	entityID := c.Param("entity")

	result, err := h.service.Compute(ctx, projectID, entityID)
	if err != nil {
		return err
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": projectID,
		"entity_id":  entityID,
		"count":      len(result.Suggestions),
	}).Debug("Recomputed suggestions on request")

	return c.JSON(http.StatusOK, NewSetResponse(projectID, result))
}

// Get returns one suggestion in any status
func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	projectID := context.GetProjectID(ctx)

	s, err := h.service.GetSuggestion(ctx, projectID, c.Param("entity"), c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, NewSuggestionResponse(projectID, *s))
}

// View marks a pending suggestion viewed
func (h *Handler) View(c echo.Context) error {
	ctx := c.Request().Context()
	projectID := context.GetProjectID(ctx)

	s, err := h.service.MarkViewed(ctx, projectID, c.Param("entity"), c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, NewSuggestionResponse(projectID, *s))
}

// Summary lists the summary of every computed entity in the project
func (h *Handler) Summary(c echo.Context) error {
	ctx := c.Request().Context()
	projectID := context.GetProjectID(ctx)

	summaries, err := h.service.Summaries(ctx, projectID)
	if err != nil {
		return err
	}
	if summaries == nil {
		summaries = []models.SuggestionSummary{}
	}

	return c.JSON(http.StatusOK, SummaryResponse{Summaries: summaries, Links: links.ForSummary(projectID)})
}
