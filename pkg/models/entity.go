package models

import "time"

// IdentifierKind declares what a profile field value means, which decides how it is
// normalized and compared.
type IdentifierKind string

const (
	IdentifierKindEmail    IdentifierKind = "email"
	IdentifierKindPhone    IdentifierKind = "phone"
	IdentifierKindHash     IdentifierKind = "hash"
	IdentifierKindCrypto   IdentifierKind = "crypto"
	IdentifierKindUsername IdentifierKind = "username"
	IdentifierKindURL      IdentifierKind = "url"
	IdentifierKindName     IdentifierKind = "name"
	IdentifierKindAddress  IdentifierKind = "address"
	IdentifierKindText     IdentifierKind = "text"
)

// Valid reports whether k is one of the known kinds.
func (k IdentifierKind) Valid() bool {
	switch k {
	case IdentifierKindEmail, IdentifierKindPhone, IdentifierKindHash, IdentifierKindCrypto,
		IdentifierKindUsername, IdentifierKindURL, IdentifierKindName, IdentifierKindAddress,
		IdentifierKindText:
		return true
	}
	return false
}

// ProfileField is one field on an entity profile. Multiple fields hold several values.
type ProfileField struct {
	FieldID  string         `json:"field_id"`
	Kind     IdentifierKind `json:"kind"`
	Multiple bool           `json:"multiple"`
	Values   []string       `json:"values"`
}

// Entity is a person record owned by the external entity store. Thistle only reads
// its fields and writes derived edges.
type Entity struct {
	ID        string         `json:"id" db:"id"`
	ProjectID string         `json:"project_id" db:"project_id"`
	Name      string         `json:"name" db:"name"`
	Fields    []ProfileField `json:"fields" db:"-"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// OrphanRecord is an identifier value that is not yet attached to any entity.
type OrphanRecord struct {
	ID              string         `json:"id" db:"id"`
	ProjectID       string         `json:"project_id" db:"project_id"`
	IdentifierType  IdentifierKind `json:"identifier_type" db:"identifier_type"`
	IdentifierValue string         `json:"identifier_value" db:"identifier_value"`
	ConfidenceScore *float64       `json:"confidence_score,omitempty" db:"confidence_score"`
	LinkedEntityID  *string        `json:"linked_entity_id,omitempty" db:"linked_entity_id"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// IsLinked returns true once the orphan has been attached to an entity.
func (o *OrphanRecord) IsLinked() bool {
	return o.LinkedEntityID != nil && *o.LinkedEntityID != ""
}

// NormalizedConfidence returns the orphan's source confidence on a [0,1] scale.
// Scores above 1 come from the 10-point internal scale and are divided by 10.
func (o *OrphanRecord) NormalizedConfidence() (float64, bool) {
	if o.ConfidenceScore == nil {
		return 0, false
	}
	score := *o.ConfidenceScore
	if score > 1 {
		score = score / 10
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, true
}
