package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/thistle/pkg/events"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// DefaultEventChannelPrefix is followed by the project id
const DefaultEventChannelPrefix = "thistle:events:"

// envelope carries the routing fields that the event's wire form omits
type envelope struct {
	ProjectID        string                  `json:"project_id"`
	AffectedEntities []string                `json:"affected_entities,omitempty"`
	Event            *events.SuggestionEvent `json:"event"`
}

// EventBus fans events out to every instance through Redis pub/sub. Each instance
// runs Listen and hands what it receives to its local sink.
type EventBus struct {
	client *Client
	local  events.Sink
	prefix string
	logger ectologger.Logger
}

var _ events.Sink = (*EventBus)(nil)

// NewEventBus creates a bus delivering into local
func NewEventBus(client *Client, local events.Sink, logger ectologger.Logger) *EventBus {
	return &EventBus{
		client: client,
		local:  local,
		prefix: DefaultEventChannelPrefix,
		logger: logger,
	}
}

// Channel returns the pub/sub channel for a project
func (b *EventBus) Channel(projectID string) string {
	return b.prefix + projectID
}

// Publish sends event to every instance, including this one
func (b *EventBus) Publish(ctx context.Context, event *events.SuggestionEvent) error {
	ctx, span := tracing.StartSpan(ctx, "redis.EventBus.Publish")
	defer span.End()

	data, err := json.Marshal(envelope{
		ProjectID:        event.ProjectID,
		AffectedEntities: event.Affected(),
		Event:            event,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	if err := b.client.rdb.Publish(ctx, b.Channel(event.ProjectID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event to redis: %w", err)
	}
	return nil
}

// Listen delivers bus messages to the local sink until ctx is done. ready, when not nil,
// is closed once the subscription is active.
func (b *EventBus) Listen(ctx context.Context, ready chan<- struct{}) error {
	sub := b.client.rdb.PSubscribe(ctx, b.prefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}
	if ready != nil {
		close(ready)
	}
	b.logger.WithContext(ctx).WithField("pattern", b.prefix+"*").Info("Listening on event bus")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.deliver(ctx, msg.Channel, msg.Payload)
		}
	}
}

func (b *EventBus) deliver(ctx context.Context, channel, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil || env.Event == nil {
		b.logger.WithContext(ctx).WithError(err).WithField("channel", channel).Warn("Ignoring malformed event bus message")
		return
	}

	event := env.Event
	event.ProjectID = env.ProjectID
	if event.ProjectID == "" {
		event.ProjectID = strings.TrimPrefix(channel, b.prefix)
	}
	event.AffectedEntities = env.AffectedEntities

	if _, ok := events.ParseEventType(string(event.Type)); !ok {
		b.logger.WithContext(ctx).WithField("type", string(event.Type)).Debug("Ignoring unknown event type from bus")
		return
	}

	if err := b.local.Publish(ctx, event); err != nil {
		b.logger.WithContext(ctx).WithError(err).WithField("project_id", event.ProjectID).Error("Failed to deliver event from bus")
	}
}
