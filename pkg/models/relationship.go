package models

import (
	"time"

	"github.com/google/uuid"
)

// RelationshipTypeTagged is the edge type written by tag-save actions.
const RelationshipTypeTagged = "tagged"

var edgeNamespace = uuid.MustParse("0b6f7c3a-3d1e-4f43-9c55-7a2de0c9b812")

// EdgeID is the stable id of a relationship edge
func EdgeID(projectID, fromID, toID, relationshipType string) string {
	return uuid.NewSHA1(edgeNamespace, []byte(projectID+"|"+fromID+"|"+toID+"|"+relationshipType)).String()
}

// RelationshipEdge is a directed tag/link between two entities. Closure treats it as
// undirected.
type RelationshipEdge struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"project_id"`
	FromEntityID     string    `json:"from_entity_id"`
	ToEntityID       string    `json:"to_entity_id"`
	RelationshipType string    `json:"relationship_type"`
	Reason           string    `json:"reason,omitempty"`
	Confidence       *float64  `json:"confidence,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
