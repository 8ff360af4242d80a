package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/gorilla/websocket"
)

type conn struct {
	id        string
	projectID string
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    ectologger.Logger

	mu       sync.RWMutex
	entities map[string]bool
}

// wants reports whether an event touching affected should reach this connection.
// A connection without entity subscriptions receives the whole project; events that
// name no entities reach everyone.
func (c *conn) wants(affected []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.entities) == 0 || len(affected) == 0 {
		return true
	}
	for _, id := range affected {
		if c.entities[id] {
			return true
		}
	}
	return false
}

// enqueue hands data to the writer without blocking. It returns false when the frame was dropped.
func (c *conn) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *conn) ack(msg AckMessage) {
	msg.Timestamp = time.Now().UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if !c.enqueue(data) {
		c.logger.WithField("type", string(msg.Type)).Warn("Dropped control frame for slow WebSocket client")
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *conn) readLoop(cfg Config) {
	defer c.close()

	extend := func() { _ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout)) }
	extend()
	c.ws.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.WithError(err).Warn("WebSocket connection closed unexpectedly")
			}
			return
		}
		extend()
		c.handle(frame)
	}
}

// handle processes one client frame. A bad frame is reported to the client and never
// closes the connection.
func (c *conn) handle(frame []byte) {
	var msg ControlMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		c.logger.WithError(err).WithField("frame_size", len(frame)).Warn("Ignoring malformed WebSocket frame")
		c.ack(AckMessage{Type: MessageTypeError, Message: "malformed message"})
		return
	}

	switch msg.Type {
	case MessageTypePing:
		c.ack(AckMessage{Type: MessageTypePong})

	case MessageTypeSubscribeEntity:
		if msg.EntityID == "" {
			c.ack(AckMessage{Type: MessageTypeError, Message: "entity_id is required"})
			return
		}
		c.mu.Lock()
		c.entities[msg.EntityID] = true
		c.mu.Unlock()
		c.ack(AckMessage{Type: MessageTypeSubscribed, ProjectID: c.projectID, EntityID: msg.EntityID})

	case MessageTypeUnsubscribeEntity:
		if msg.EntityID == "" {
			c.ack(AckMessage{Type: MessageTypeError, Message: "entity_id is required"})
			return
		}
		c.mu.Lock()
		delete(c.entities, msg.EntityID)
		c.mu.Unlock()
		c.ack(AckMessage{Type: MessageTypeUnsubscribed, ProjectID: c.projectID, EntityID: msg.EntityID})

	default:
		c.logger.WithField("type", string(msg.Type)).Warn("Ignoring unknown WebSocket message type")
		c.ack(AckMessage{Type: MessageTypeError, Message: "unknown message type"})
	}
}

func (c *conn) writeLoop(cfg Config) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.done:
			return

		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.WithError(err).Debug("Failed to write WebSocket frame")
				return
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}
