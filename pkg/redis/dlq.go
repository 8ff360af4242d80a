package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/thistle/pkg/kafka"
	"github.com/Ramsey-B/thistle/pkg/metrics"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const (
	// DefaultDLQStream is the stream entity change messages are parked on
	DefaultDLQStream = "thistle:dlq"
	// dlqMaxLen caps the stream; the oldest entries are trimmed first
	dlqMaxLen = 10000
)

// ParkedMessage is an entity change message that failed processing
type ParkedMessage struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id,omitempty"`
	EntityID     string    `json:"entity_id,omitempty"`
	Topic        string    `json:"topic"`
	Partition    int       `json:"partition"`
	Offset       int64     `json:"offset"`
	Key          string    `json:"key,omitempty"`
	Value        string    `json:"value"`
	Reason       string    `json:"reason"`
	ErrorMessage string    `json:"error_message"`
	TraceID      string    `json:"trace_id,omitempty"`
	ParkedAt     time.Time `json:"parked_at"`
}

func (m *ParkedMessage) values() map[string]any {
	return map[string]any{
		"project_id": m.ProjectID,
		"entity_id":  m.EntityID,
		"topic":      m.Topic,
		"partition":  m.Partition,
		"offset":     m.Offset,
		"key":        m.Key,
		"value":      m.Value,
		"reason":     m.Reason,
		"error":      m.ErrorMessage,
		"trace_id":   m.TraceID,
		"parked_at":  m.ParkedAt.Format(time.RFC3339Nano),
	}
}

func parkedFromStream(msg redis.XMessage) ParkedMessage {
	str := func(k string) string {
		v, _ := msg.Values[k].(string)
		return v
	}
	partition, _ := strconv.Atoi(str("partition"))
	offset, _ := strconv.ParseInt(str("offset"), 10, 64)
	parkedAt, _ := time.Parse(time.RFC3339Nano, str("parked_at"))

	return ParkedMessage{
		ID:           msg.ID,
		ProjectID:    str("project_id"),
		EntityID:     str("entity_id"),
		Topic:        str("topic"),
		Partition:    partition,
		Offset:       offset,
		Key:          str("key"),
		Value:        str("value"),
		Reason:       str("reason"),
		ErrorMessage: str("error"),
		TraceID:      str("trace_id"),
		ParkedAt:     parkedAt,
	}
}

// DeadLetterQueue parks entity change messages on a capped Redis stream
type DeadLetterQueue struct {
	client *Client
	stream string
	logger ectologger.Logger
}

var _ kafka.DeadLetter = (*DeadLetterQueue)(nil)

// NewDeadLetterQueue creates a queue on stream, or DefaultDLQStream when empty
func NewDeadLetterQueue(client *Client, stream string, logger ectologger.Logger) *DeadLetterQueue {
	if stream == "" {
		stream = DefaultDLQStream
	}
	return &DeadLetterQueue{client: client, stream: stream, logger: logger}
}

// Add parks msg with the reason it failed
func (d *DeadLetterQueue) Add(ctx context.Context, msg *kafka.IncomingMessage, reason string, cause error) error {
	ctx, span := tracing.StartSpan(ctx, "redis.DeadLetterQueue.Add")
	defer span.End()

	parked := ParkedMessage{
		ProjectID: msg.Headers["project_id"],
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     string(msg.Value),
		Reason:    reason,
		TraceID:   tracing.GetTraceID(ctx),
		ParkedAt:  time.Now().UTC(),
	}
	if cause != nil {
		parked.ErrorMessage = cause.Error()
	}
	if change := msg.EntityChange; change != nil {
		parked.ProjectID = change.ProjectID
		parked.EntityID = change.EntityID
	}

	id, err := d.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: d.stream,
		MaxLen: dlqMaxLen,
		Approx: true,
		Values: parked.values(),
	}).Result()
	if err != nil {
		d.logger.WithContext(ctx).WithError(err).WithField("stream", d.stream).Error("Failed to park message")
		return fmt.Errorf("park message: %w", err)
	}

	metrics.DLQMessagesTotal.WithLabelValues(reason).Inc()
	d.logger.WithContext(ctx).WithFields(map[string]any{
		"dlq_id":     id,
		"project_id": parked.ProjectID,
		"entity_id":  parked.EntityID,
		"offset":     parked.Offset,
		"reason":     reason,
	}).Warn("Parked entity change message")
	return nil
}

// List returns up to count parked messages, newest first
func (d *DeadLetterQueue) List(ctx context.Context, count int64) ([]ParkedMessage, error) {
	if count <= 0 {
		count = 100
	}

	messages, err := d.client.rdb.XRevRangeN(ctx, d.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}

	parked := make([]ParkedMessage, len(messages))
	for i, msg := range messages {
		parked[i] = parkedFromStream(msg)
	}
	return parked, nil
}

// Count returns how many messages are parked
func (d *DeadLetterQueue) Count(ctx context.Context) (int64, error) {
	return d.client.rdb.XLen(ctx, d.stream).Result()
}
