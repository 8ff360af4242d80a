package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnrecognizedMessage is returned for messages that are neither entity changes
// nor Debezium rows of a watched table
var ErrUnrecognizedMessage = errors.New("unrecognized message")

// Entity change event types
const (
	EntityChangeCreated = "entity.created"
	EntityChangeUpdated = "entity.updated"
	EntityChangeDeleted = "entity.deleted"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Trace context (extracted from Kafka headers)
	TraceParent string
	TraceState  string

	// Parsed content
	EntityChange *EntityChange
}

// EntityChange tells thistle that an entity's data changed in the entity store
type EntityChange struct {
	EventType string    `json:"event_type"`
	ProjectID string    `json:"project_id"`
	EntityID  string    `json:"entity_id"`
	Timestamp time.Time `json:"timestamp"`
}

// IsDelete returns true for entity.deleted
func (c *EntityChange) IsDelete() bool {
	return c.EventType == EntityChangeDeleted
}

func (c *EntityChange) validate() error {
	switch c.EventType {
	case EntityChangeCreated, EntityChangeUpdated, EntityChangeDeleted:
	default:
		return fmt.Errorf("unknown entity change type %q", c.EventType)
	}
	if c.ProjectID == "" || c.EntityID == "" {
		return fmt.Errorf("entity change is missing project_id or entity_id")
	}
	return nil
}

// ParseEntityChange parses the value as a native entity change, falling back to a
// Debezium envelope from the entity tables
func (m *IncomingMessage) ParseEntityChange() error {
	var change EntityChange
	if err := json.Unmarshal(m.Value, &change); err == nil && change.EventType != "" {
		if change.ProjectID == "" {
			change.ProjectID = m.Headers["project_id"]
		}
		if err := change.validate(); err != nil {
			return err
		}
		m.EntityChange = &change
		return nil
	}

	cdc, ok, err := decodeCDC(m.Value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnrecognizedMessage, err)
	}
	if !ok {
		return ErrUnrecognizedMessage
	}
	m.EntityChange = cdc
	return nil
}

// GetProjectID returns the project ID from the parsed change, falling back to the header
func (m *IncomingMessage) GetProjectID() string {
	if m.EntityChange != nil && m.EntityChange.ProjectID != "" {
		return m.EntityChange.ProjectID
	}
	return m.Headers["project_id"]
}
