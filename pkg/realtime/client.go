package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/gorilla/websocket"

	"github.com/Ramsey-B/thistle/pkg/events"
)

// ErrMaxAttempts is returned by Client.Run once reconnecting has failed MaxAttempts times in a row
var ErrMaxAttempts = errors.New("realtime: reconnect attempts exhausted")

// ClientConfig configures a subscriber
type ClientConfig struct {
	// URL is the full ws:// or wss:// address, e.g. ws://host/ws/suggestions/{project}
	URL string
	// PingInterval between client pings
	PingInterval time.Duration
	// SilenceTimeout declares the connection dead when nothing arrives for this long
	SilenceTimeout time.Duration
	// BaseDelay is the first reconnect delay; attempt n waits BaseDelay * 2^n
	BaseDelay   time.Duration
	MaxAttempts int
	Dialer      *websocket.Dialer
}

// DefaultClientConfig returns the client defaults for url
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:            url,
		PingInterval:   30 * time.Second,
		SilenceTimeout: 75 * time.Second,
		BaseDelay:      time.Second,
		MaxAttempts:    5,
	}
}

// Client subscribes to a project's events and keeps the subscription alive across reconnects
type Client struct {
	cfg      ClientConfig
	handlers Handlers
	logger   ectologger.Logger

	mu       sync.Mutex
	entities map[string]bool
	ws       *websocket.Conn
	writeMu  sync.Mutex
	acks     chan AckMessage
}

// NewClient creates a subscriber. Call Run to connect.
func NewClient(cfg ClientConfig, handlers Handlers, logger ectologger.Logger) *Client {
	def := DefaultClientConfig(cfg.URL)
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = def.SilenceTimeout
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Client{
		cfg:      cfg,
		handlers: handlers,
		logger:   logger.WithField("url", cfg.URL),
		entities: make(map[string]bool),
		acks:     make(chan AckMessage, 16),
	}
}

// Acks carries control frames (connected, subscribed, pong...) for callers that wait on them
func (c *Client) Acks() <-chan AckMessage {
	return c.acks
}

// Subscriptions returns the entity ids this client wants, sorted
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.entities))
	for id := range c.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SubscribeEntity narrows delivery to entityID (plus any other subscribed entities).
// The subscription is replayed after every reconnect.
func (c *Client) SubscribeEntity(entityID string) error {
	c.mu.Lock()
	if c.entities[entityID] {
		c.mu.Unlock()
		return nil
	}
	c.entities[entityID] = true
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		return nil
	}
	return c.write(ws, ControlMessage{Type: MessageTypeSubscribeEntity, EntityID: entityID})
}

// UnsubscribeEntity drops entityID from the filter
func (c *Client) UnsubscribeEntity(entityID string) error {
	c.mu.Lock()
	if !c.entities[entityID] {
		c.mu.Unlock()
		return nil
	}
	delete(c.entities, entityID)
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		return nil
	}
	return c.write(ws, ControlMessage{Type: MessageTypeUnsubscribeEntity, EntityID: entityID})
}

func (c *Client) write(ws *websocket.Conn, msg ControlMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = ws.SetWriteDeadline(time.Now().Add(c.cfg.PingInterval))
	return ws.WriteJSON(msg)
}

// backoff returns the delay before reconnect attempt n (0-based)
func (c *Client) backoff(attempt int) time.Duration {
	return c.cfg.BaseDelay * time.Duration(1<<attempt)
}

// Run connects and processes events until ctx is cancelled or reconnecting fails
// MaxAttempts times in a row. A session that connected resets the attempt count.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			attempt = 0
		}

		if attempt >= c.cfg.MaxAttempts {
			return fmt.Errorf("%w: %v", ErrMaxAttempts, err)
		}

		delay := c.backoff(attempt)
		attempt++
		c.logger.WithError(err).WithFields(map[string]any{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("Realtime connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// session runs one connection. connected reports whether the dial succeeded.
func (c *Client) session(ctx context.Context) (connected bool, err error) {
	ws, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer ws.Close()

	c.mu.Lock()
	c.ws = ws
	subs := make([]string, 0, len(c.entities))
	for id := range c.entities {
		subs = append(subs, id)
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
	}()

	sort.Strings(subs)
	for _, id := range subs {
		if err := c.write(ws, ControlMessage{Type: MessageTypeSubscribeEntity, EntityID: id}); err != nil {
			return true, err
		}
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.pingLoop(sessionCtx, ws)
	go func() {
		<-sessionCtx.Done()
		_ = ws.Close()
	}()

	return true, c.readLoop(sessionCtx, ws)
}

func (c *Client) pingLoop(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(ws, ControlMessage{Type: MessageTypePing}); err != nil {
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		_ = ws.SetReadDeadline(time.Now().Add(c.cfg.SilenceTimeout))
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(frame, &probe); err != nil {
			c.logger.WithError(err).Warn("Ignoring malformed realtime frame")
			continue
		}

		if isControl(probe.Type) {
			var ack AckMessage
			if err := json.Unmarshal(frame, &ack); err == nil {
				select {
				case c.acks <- ack:
				default:
				}
			}
			continue
		}

		if _, ok := events.ParseEventType(probe.Type); !ok {
			c.logger.WithField("type", probe.Type).Debug("Ignoring unknown realtime event type")
			continue
		}

		var event events.SuggestionEvent
		if err := json.Unmarshal(frame, &event); err != nil {
			c.logger.WithError(err).Warn("Ignoring malformed realtime event")
			continue
		}
		if err := c.handlers.Dispatch(ctx, &event); err != nil {
			c.logger.WithError(err).WithField("type", probe.Type).Warn("Failed to handle realtime event")
		}
	}
}
