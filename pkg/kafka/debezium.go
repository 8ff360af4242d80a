package kafka

import (
	"encoding/json"
	"time"
)

// cdcEnvelope is a Debezium change event from the entity store's Postgres connector
type cdcEnvelope struct {
	Payload struct {
		Before json.RawMessage `json:"before"`
		After  json.RawMessage `json:"after"`
		Op     string          `json:"op"`
		TsMs   int64           `json:"ts_ms"`
		Source struct {
			Table string `json:"table"`
		} `json:"source"`
	} `json:"payload"`
}

// cdcRow holds the columns read from entities and entity_fields rows
type cdcRow struct {
	ID        string `json:"id"`
	EntityID  string `json:"entity_id"`
	ProjectID string `json:"project_id"`
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// decodeCDC turns a Debezium row change into an EntityChange. ok is false for
// tables other than entities and entity_fields and for rows it cannot read.
func decodeCDC(data []byte) (change *EntityChange, ok bool, err error) {
	var env cdcEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, err
	}
	p := env.Payload

	image := p.After
	if p.Op == "d" || isNull(image) {
		image = p.Before
	}
	if isNull(image) {
		return nil, false, nil
	}

	var row cdcRow
	if err := json.Unmarshal(image, &row); err != nil {
		return nil, false, nil
	}

	change = &EntityChange{
		ProjectID: row.ProjectID,
		EventType: EntityChangeUpdated,
		Timestamp: time.UnixMilli(p.TsMs).UTC(),
	}
	switch p.Source.Table {
	case "entities":
		change.EntityID = row.ID
		switch p.Op {
		case "c", "r":
			change.EventType = EntityChangeCreated
		case "d":
			change.EventType = EntityChangeDeleted
		}
	case "entity_fields":
		// any field write, including a delete, changes the owning entity
		change.EntityID = row.EntityID
	default:
		return nil, false, nil
	}

	if change.EntityID == "" || change.ProjectID == "" {
		return nil, false, nil
	}
	return change, true, nil
}
