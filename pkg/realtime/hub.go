// Package realtime pushes suggestion events to WebSocket subscribers.
//
// Clients join a project room, then optionally narrow delivery to a set of entities with
// subscribe_entity. Delivery is at-most-once: a client whose send buffer is full misses
// the event and is expected to refetch over REST.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Ramsey-B/thistle/pkg/events"
	"github.com/Ramsey-B/thistle/pkg/metrics"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// Config tunes connection heartbeats and buffering
type Config struct {
	// PingInterval is how often the server sends protocol pings
	PingInterval time.Duration
	// PongTimeout closes a connection that has been silent this long
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	// AllowedOrigins empty allows every origin
	AllowedOrigins []string
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		PingInterval: 25 * time.Second,
		PongTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		SendBuffer:   64,
	}
}

// Hub tracks connections per project and implements events.Sink
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*conn]struct{}
	upgrader websocket.Upgrader
	cfg      Config
	logger   ectologger.Logger
}

var _ events.Sink = (*Hub)(nil)

// NewHub creates a new hub
func NewHub(cfg Config, logger ectologger.Logger) *Hub {
	def := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}

	h := &Hub{
		rooms:  make(map[string]map[*conn]struct{}),
		cfg:    cfg,
		logger: logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

// Serve upgrades the request and blocks until the connection closes. Closing one
// connection never affects another connection or any in-flight compute.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, projectID string) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithContext(r.Context()).WithError(err).WithField("project_id", projectID).Warn("Failed to upgrade WebSocket connection")
		return err
	}

	id := uuid.NewString()
	c := &conn{
		id:        id,
		projectID: projectID,
		ws:        ws,
		send:      make(chan []byte, h.cfg.SendBuffer),
		done:      make(chan struct{}),
		entities:  make(map[string]bool),
		logger: h.logger.WithFields(map[string]any{
			"project_id":    projectID,
			"connection_id": id,
		}),
	}

	h.register(c)
	defer h.unregister(c)

	c.ack(AckMessage{Type: MessageTypeConnected, ProjectID: projectID, ConnectionID: c.id})

	go c.writeLoop(h.cfg)
	c.readLoop(h.cfg)
	return nil
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	room, ok := h.rooms[c.projectID]
	if !ok {
		room = make(map[*conn]struct{})
		h.rooms[c.projectID] = room
	}
	room[c] = struct{}{}
	h.mu.Unlock()

	metrics.WebSocketConnections.Inc()
	c.logger.Info("WebSocket client connected")
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	if room, ok := h.rooms[c.projectID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, c.projectID)
		}
	}
	h.mu.Unlock()

	c.close()
	metrics.WebSocketConnections.Dec()
	c.logger.Info("WebSocket client disconnected")
}

// Publish delivers event to every connection in the event's project room that wants it.
// It never blocks on a slow connection.
func (h *Hub) Publish(ctx context.Context, event *events.SuggestionEvent) error {
	_, span := tracing.StartSpan(ctx, "realtime.Hub.Publish")
	defer span.End()

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	affected := event.Affected()

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.rooms[event.ProjectID]))
	for c := range h.rooms[event.ProjectID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.wants(affected) {
			continue
		}
		if !c.enqueue(data) {
			metrics.EventsDropped.WithLabelValues(string(event.Type)).Inc()
			c.logger.WithField("event_type", string(event.Type)).Warn("Dropped event for slow WebSocket client")
		}
	}
	return nil
}

// Connections returns the number of open connections in a project room
func (h *Hub) Connections(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[projectID])
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*conn
	for _, room := range h.rooms {
		for c := range room {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.close()
	}
}
