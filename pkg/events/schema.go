package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ramsey-B/thistle/pkg/links"
	"github.com/Ramsey-B/thistle/pkg/models"
)

// SuggestionEventType is the closed set of events pushed to realtime subscribers
type SuggestionEventType string

const (
	EventTypeSuggestionGenerated SuggestionEventType = "suggestion_generated"
	EventTypeSuggestionDismissed SuggestionEventType = "suggestion_dismissed"
	EventTypeEntityMerged        SuggestionEventType = "entity_merged"
	EventTypeDataLinked          SuggestionEventType = "data_linked"
	EventTypeOrphanLinked        SuggestionEventType = "orphan_linked"
)

// EventTypes lists every SuggestionEventType
var EventTypes = []SuggestionEventType{
	EventTypeSuggestionGenerated,
	EventTypeSuggestionDismissed,
	EventTypeEntityMerged,
	EventTypeDataLinked,
	EventTypeOrphanLinked,
}

// Valid reports whether t is a known event type
func (t SuggestionEventType) Valid() bool {
	switch t {
	case EventTypeSuggestionGenerated,
		EventTypeSuggestionDismissed,
		EventTypeEntityMerged,
		EventTypeDataLinked,
		EventTypeOrphanLinked:
		return true
	}
	return false
}

// ParseEventType returns the event type named s. ok is false for unknown types,
// which receivers should ignore.
func ParseEventType(s string) (t SuggestionEventType, ok bool) {
	t = SuggestionEventType(s)
	return t, t.Valid()
}

// SuggestionEvent is the wire form of a realtime event. It is never persisted.
type SuggestionEvent struct {
	Type      SuggestionEventType `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	Data      json.RawMessage     `json:"data"`
	Links     links.Links         `json:"_links,omitempty"`

	ProjectID        string   `json:"-"`
	AffectedEntities []string `json:"-"`
}

// Affected returns the entities the event touches. Events decoded off the wire carry
// them only inside data.
func (e *SuggestionEvent) Affected() []string {
	if len(e.AffectedEntities) > 0 || len(e.Data) == 0 {
		return e.AffectedEntities
	}
	var probe struct {
		AffectedEntities []string `json:"affectedEntities"`
	}
	if err := json.Unmarshal(e.Data, &probe); err != nil {
		return nil
	}
	return probe.AffectedEntities
}

// NewEvent builds an event for projectID. payload is marshaled into data.
func NewEvent(projectID string, eventType SuggestionEventType, affected []string, payload any, l links.Links) (*SuggestionEvent, error) {
	if !eventType.Valid() {
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &SuggestionEvent{
		Type:             eventType,
		Timestamp:        time.Now().UTC(),
		Data:             data,
		Links:            l,
		ProjectID:        projectID,
		AffectedEntities: affected,
	}, nil
}

// SuggestionGeneratedData is the payload of suggestion_generated
type SuggestionGeneratedData struct {
	EntityID         string                   `json:"entityId"`
	Count            int                      `json:"count"`
	Summary          models.SuggestionSummary `json:"summary"`
	AffectedEntities []string                 `json:"affectedEntities"`
}

// SuggestionDismissedData is the payload of suggestion_dismissed
type SuggestionDismissedData struct {
	EntityID         string                   `json:"entityId"`
	SuggestionID     string                   `json:"suggestionId"`
	Reason           string                   `json:"reason"`
	Summary          models.SuggestionSummary `json:"summary"`
	AffectedEntities []string                 `json:"affectedEntities"`
}

// EntityMergedData is the payload of entity_merged
type EntityMergedData struct {
	KeptEntityID     string   `json:"keptEntityId"`
	MergedEntityID   string   `json:"mergedEntityId"`
	Reason           string   `json:"reason"`
	AffectedEntities []string `json:"affectedEntities"`
}

// DataLinkedData is the payload of data_linked
type DataLinkedData struct {
	EntityID1        string   `json:"entityId1"`
	EntityID2        string   `json:"entityId2"`
	RelationshipType string   `json:"relationshipType"`
	Reason           string   `json:"reason"`
	Confidence       *float64 `json:"confidence,omitempty"`
	AffectedEntities []string `json:"affectedEntities"`
}

// OrphanLinkedData is the payload of orphan_linked
type OrphanLinkedData struct {
	EntityID         string   `json:"entityId"`
	OrphanID         string   `json:"orphanId"`
	Reason           string   `json:"reason"`
	AffectedEntities []string `json:"affectedEntities"`
}
