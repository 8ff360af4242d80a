package realtime

import (
	"time"
)

// MessageType names control frames. Data frames use events.SuggestionEventType instead.
type MessageType string

const (
	// client -> server
	MessageTypePing              MessageType = "ping"
	MessageTypeSubscribeEntity   MessageType = "subscribe_entity"
	MessageTypeUnsubscribeEntity MessageType = "unsubscribe_entity"

	// server -> client
	MessageTypePong         MessageType = "pong"
	MessageTypeConnected    MessageType = "connected"
	MessageTypeSubscribed   MessageType = "subscribed"
	MessageTypeUnsubscribed MessageType = "unsubscribed"
	MessageTypeError        MessageType = "error"
)

// ControlMessage is a client -> server frame
type ControlMessage struct {
	Type     MessageType `json:"type"`
	EntityID string      `json:"entity_id,omitempty"`
}

// AckMessage is a server -> client control frame
type AckMessage struct {
	Type         MessageType `json:"type"`
	ProjectID    string      `json:"project_id,omitempty"`
	EntityID     string      `json:"entity_id,omitempty"`
	ConnectionID string      `json:"connection_id,omitempty"`
	Message      string      `json:"message,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// isControl reports whether t is a server -> client control type
func isControl(t string) bool {
	switch MessageType(t) {
	case MessageTypePong, MessageTypeConnected, MessageTypeSubscribed, MessageTypeUnsubscribed, MessageTypeError:
		return true
	}
	return false
}
