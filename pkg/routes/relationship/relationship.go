// Package relationship serves the relationship graph of an entity and its tag edits
package relationship

import (
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/thistle/pkg/context"
	"github.com/Ramsey-B/thistle/pkg/graph"
	"github.com/Ramsey-B/thistle/pkg/links"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/routes/validation"
)

// TagsRequest replaces an entity's outbound tagged edges
type TagsRequest struct {
	Tags []string `json:"tags" validate:"required"`
}

// RelationsResponse is an entity's direct and transitive relations
type RelationsResponse struct {
	*graph.Relations
	Links links.Links `json:"_links"`
}

// TagsResponse is the entity's tagged edges after a save
type TagsResponse struct {
	EntityID string                    `json:"entityId"`
	Edges    []models.RelationshipEdge `json:"edges"`
	Links    links.Links               `json:"_links"`
}

// Handler serves relationship reads and tag saves
type Handler struct {
	resolver *graph.Resolver
	logger   ectologger.Logger
}

// NewHandler creates a relationship handler
func NewHandler(resolver *graph.Resolver, logger ectologger.Logger) *Handler {
	return &Handler{
		resolver: resolver,
		logger:   logger,
	}
}

// Register registers relationship routes on a /projects/:project group
func (h *Handler) Register(g *echo.Group) {
	g.GET("/entities/:entity/relationships", h.Relations)
	g.GET("/entities/:entity/closure", h.Closure)
	g.PUT("/entities/:entity/tags", h.SaveTags)
}

// Relations returns the entity's direct relations and the rest of its closure
func (h *Handler) Relations(c echo.Context) error {
	ctx := c.Request().Context()
	projectID := context.GetProjectID(ctx)
	entityID := c.Param("entity")

	relations, err := h.resolver.Relations(ctx, projectID, entityID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, RelationsResponse{
		Relations: relations,
		Links:     links.ForRelationships(projectID, entityID),
	})
}

// Closure returns every entity reachable from the entity with its hop count
func (h *Handler) Closure(c echo.Context) error {
	ctx := c.Request().Context()
	projectID := context.GetProjectID(ctx)

	closure, err := h.resolver.Closure(ctx, projectID, c.Param("entity"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, closure)
}

// SaveTags replaces the entity's tags
func (h *Handler) SaveTags(c echo.Context) error {
	ctx := c.Request().Context()
	projectID := context.GetProjectID(ctx)
	entityID := c.Param("entity")

	req, err := validation.BindRequest[TagsRequest](c)
	if err != nil {
		return err
	}

	edges, err := h.resolver.SaveTags(ctx, projectID, entityID, req.Tags)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, TagsResponse{
		EntityID: entityID,
		Edges:    edges,
		Links:    links.ForRelationships(projectID, entityID),
	})
}
