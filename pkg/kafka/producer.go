package kafka

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/thistle/pkg/tracing"
)

var codecs = map[string]kafka.Compression{
	"none":   0,
	"gzip":   kafka.Gzip,
	"snappy": kafka.Snappy,
	"lz4":    kafka.Lz4,
	"zstd":   kafka.Zstd,
}

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	// Compression is one of none, gzip, snappy, lz4 or zstd. Unknown values use snappy.
	Compression string
}

// Producer writes suggestion events to the events topic
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
}

func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	codec, ok := codecs[cfg.Compression]
	if !ok {
		codec = kafka.Snappy
	}

	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			BatchSize:              cfg.BatchSize,
			BatchTimeout:           cfg.BatchTimeout,
			RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
			Compression:            codec,
			AllowAutoTopicCreation: true,
		},
		logger: logger,
	}
}

// Close flushes pending writes and closes the writer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// EventMessage is an already-encoded suggestion event
type EventMessage struct {
	EventType string
	ProjectID string
	Value     []byte
}

func (e *EventMessage) headers(ctx context.Context) []kafka.Header {
	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(e.EventType)},
		{Key: "project_id", Value: []byte(e.ProjectID)},
	}
	for key, value := range map[string]string{
		"traceparent": tracing.GetTraceParent(ctx),
		"tracestate":  tracing.GetTraceState(ctx),
	} {
		if value != "" {
			headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
		}
	}
	return headers
}

// PublishEvent writes event keyed by project, so a project's events keep their
// order within one partition
func (p *Producer) PublishEvent(ctx context.Context, event *EventMessage) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishEvent")
	defer span.End()

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(event.ProjectID),
		Value:   event.Value,
		Headers: event.headers(ctx),
	})
	if err != nil {
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": event.EventType,
		"project_id": event.ProjectID,
		"topic":      p.writer.Topic,
	}).Debug("Published suggestion event")
	return nil
}
