// Package linking serves the lifecycle actions an analyst takes on suggestions
package linking

import (
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/thistle/pkg/context"
	"github.com/Ramsey-B/thistle/pkg/links"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/routes/validation"
	"github.com/Ramsey-B/thistle/pkg/suggestion"
)

// DismissRequest dismisses a suggestion by its id or its matched record id
type DismissRequest struct {
	EntityID string `json:"entity_id" validate:"required"`
	DataID   string `json:"data_id" validate:"required"`
	Reason   string `json:"reason" validate:"required"`
}

// RelationshipRequest links two records. entity_id_2 may name an orphan.
type RelationshipRequest struct {
	EntityID1        string   `json:"entity_id_1" validate:"required"`
	EntityID2        string   `json:"entity_id_2" validate:"required"`
	RelationshipType string   `json:"relationship_type"`
	Reason           string   `json:"reason"`
	Confidence       *float64 `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// MergeRequest merges two entities into keep_entity_id
type MergeRequest struct {
	EntityID1    string `json:"entity_id_1" validate:"required"`
	EntityID2    string `json:"entity_id_2" validate:"required"`
	KeepEntityID string `json:"keep_entity_id" validate:"required"`
	Reason       string `json:"reason"`
}

// OrphanRequest attaches an orphan record to an entity
type OrphanRequest struct {
	EntityID string `json:"entity_id" validate:"required"`
	OrphanID string `json:"orphan_id" validate:"required"`
	Reason   string `json:"reason"`
}

// SuggestionResponse is a suggestion with its hypermedia controls
type SuggestionResponse struct {
	models.Suggestion
	Links links.Links `json:"_links"`
}

// DismissResponse is the dismissed suggestion and the entity's new summary
type DismissResponse struct {
	Suggestion SuggestionResponse       `json:"suggestion"`
	Summary    models.SuggestionSummary `json:"summary"`
	Links      links.Links              `json:"_links"`
}

// LinkResponse reports what a relationship or orphan link changed
type LinkResponse struct {
	Edge             *models.RelationshipEdge `json:"edge,omitempty"`
	OrphanID         string                   `json:"orphanId,omitempty"`
	Linked           []SuggestionResponse     `json:"linked"`
	AffectedEntities []string                 `json:"affectedEntities"`
	Links            links.Links              `json:"_links"`
}

// MergeResponse reports what a merge changed
type MergeResponse struct {
	KeptEntityID     string      `json:"keptEntityId"`
	MergedEntityID   string      `json:"mergedEntityId"`
	AffectedEntities []string    `json:"affectedEntities"`
	Links            links.Links `json:"_links"`
}

func withLinks(projectID string, suggestions []models.Suggestion) []SuggestionResponse {
	out := make([]SuggestionResponse, 0, len(suggestions))
	for _, s := range suggestions {
		out = append(out, SuggestionResponse{Suggestion: s, Links: links.ForSuggestion(projectID, &s)})
	}
	return out
}

func newLinkResponse(projectID, entityID string, result *suggestion.LinkResult) LinkResponse {
	resp := LinkResponse{
		Edge:             result.Edge,
		OrphanID:         result.OrphanID,
		Linked:           withLinks(projectID, result.Linked),
		AffectedEntities: result.AffectedEntities,
		Links:            links.ForEntity(projectID, entityID),
	}
	if resp.AffectedEntities == nil {
		resp.AffectedEntities = []string{}
	}
	return resp
}

// Handler serves dismiss, link, merge and orphan actions
type Handler struct {
	service *suggestion.Service
	logger  ectologger.Logger
}

// NewHandler creates a linking handler
func NewHandler(service *suggestion.Service, logger ectologger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register registers linking routes on a /projects/:project group
func (h *Handler) Register(g *echo.Group) {
	g.POST("/linking/dismiss", h.Dismiss)
	g.POST("/linking/relationship", h.Relationship)
	g.POST("/linking/merge", h.Merge)
	g.POST("/linking/orphan", h.Orphan)
}

// Dismiss dismisses a suggestion
func (h *Handler) Dismiss(c echo.Context) error {
	ctx := c.Request().Context()
	projectID := context.GetProjectID(ctx)

	req, err := validation.BindRequest[DismissRequest](c)
	if err != nil {
		return err
	}

	result, err := h.service.Dismiss(ctx, projectID, req.EntityID, req.DataID, req.Reason)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, DismissResponse{
		Suggestion: SuggestionResponse{Suggestion: result.Suggestion, Links: links.ForSuggestion(projectID, &result.Suggestion)},
		Summary:    result.Summary,
		Links:      links.ForEntity(projectID, req.EntityID),
	})
}

// Relationship links two entities, or an entity and an orphan
func (h *Handler) Relationship(c echo.Context) error {
	ctx := c.Request().Context()
	projectID := context.GetProjectID(ctx)

	req, err := validation.BindRequest[RelationshipRequest](c)
	if err != nil {
		return err
	}

	result, err := h.service.Link(ctx, projectID, suggestion.LinkRequest{
		EntityID1:        req.EntityID1,
		EntityID2:        req.EntityID2,
		RelationshipType: req.RelationshipType,
		Reason:           req.Reason,
		Confidence:       req.Confidence,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, newLinkResponse(projectID, req.EntityID1, result))
}

// Merge folds one entity into the other
func (h *Handler) Merge(c echo.Context) error {
	ctx := c.Request().Context()
	projectID := context.GetProjectID(ctx)

	req, err := validation.BindRequest[MergeRequest](c)
	if err != nil {
		return err
	}

	result, err := h.service.Merge(ctx, projectID, suggestion.MergeRequest{
		EntityID1:    req.EntityID1,
		EntityID2:    req.EntityID2,
		KeepEntityID: req.KeepEntityID,
		Reason:       req.Reason,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, MergeResponse{
		KeptEntityID:     result.KeptEntityID,
		MergedEntityID:   result.MergedEntityID,
		AffectedEntities: result.AffectedEntities,
		Links:            links.ForEntity(projectID, result.KeptEntityID),
	})
}

// Orphan attaches an orphan record to an entity
func (h *Handler) Orphan(c echo.Context) error {
	ctx := c.Request().Context()
	projectID := context.GetProjectID(ctx)

	req, err := validation.BindRequest[OrphanRequest](c)
	if err != nil {
		return err
	}

	result, err := h.service.LinkOrphan(ctx, projectID, req.EntityID, req.OrphanID, req.Reason)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, newLinkResponse(projectID, req.EntityID, result))
}
