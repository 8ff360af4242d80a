// Package events handles emission of suggestion lifecycle events
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/thistle/pkg/kafka"
	"github.com/Ramsey-B/thistle/pkg/metrics"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// Sink receives every emitted event
type Sink interface {
	Publish(ctx context.Context, event *SuggestionEvent) error
}

// Publisher writes events to the event stream
type Publisher interface {
	PublishEvent(ctx context.Context, event *kafka.EventMessage) error
}

// Emitter fans events out to the realtime sink and, when configured, Kafka.
// Delivery is best effort: a failing sink is logged and never fails the caller.
type Emitter struct {
	realtime Sink
	producer Publisher
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter. producer may be nil.
func NewEmitter(realtime Sink, producer Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		realtime: realtime,
		producer: producer,
		logger:   logger,
	}
}

// Emit publishes event to every sink
func (e *Emitter) Emit(ctx context.Context, event *SuggestionEvent) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.Emit")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": string(event.Type),
		"project_id": event.ProjectID,
	})

	if e.realtime != nil {
		if err := e.realtime.Publish(ctx, event); err != nil {
			log.WithError(err).Error("Failed to publish realtime event")
			metrics.EventsPublished.WithLabelValues(string(event.Type), "realtime", "error").Inc()
		} else {
			metrics.EventsPublished.WithLabelValues(string(event.Type), "realtime", "ok").Inc()
		}
	}

	if e.producer != nil {
		value, err := json.Marshal(event)
		if err == nil {
			err = e.producer.PublishEvent(ctx, &kafka.EventMessage{
				EventType: string(event.Type),
				ProjectID: event.ProjectID,
				Value:     value,
			})
		}
		if err != nil {
			log.WithError(err).Error("Failed to publish event to kafka")
			metrics.EventsPublished.WithLabelValues(string(event.Type), "kafka", "error").Inc()
		} else {
			metrics.EventsPublished.WithLabelValues(string(event.Type), "kafka", "ok").Inc()
		}
	}

	log.Debug("Emitted suggestion event")
}
