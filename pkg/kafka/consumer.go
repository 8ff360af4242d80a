package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const fetchRetryDelay = time.Second

// MessageHandler processes one parsed entity change message
type MessageHandler func(ctx context.Context, msg *IncomingMessage) error

// DeadLetter parks messages that could not be processed
type DeadLetter interface {
	Add(ctx context.Context, msg *IncomingMessage, reason string, cause error) error
}

type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

// Consumer reads entity change messages in a consumer group and hands each to a
// MessageHandler, committing after the handler or the dead letter queue took it
type Consumer struct {
	reader     *kafka.Reader
	logger     ectologger.Logger
	handler    MessageHandler
	deadLetter DeadLetter
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewConsumer creates a consumer. deadLetter may be nil, in which case a message
// whose handler fails is left uncommitted.
func NewConsumer(cfg ConsumerConfig, logger ectologger.Logger, handler MessageHandler, deadLetter DeadLetter) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.Topic,
			GroupID:        cfg.ConsumerGroup,
			MaxWait:        500 * time.Millisecond,
			StartOffset:    kafka.FirstOffset,
			CommitInterval: time.Second,
		}),
		logger:     logger,
		handler:    handler,
		deadLetter: deadLetter,
	}
}

// Start runs the fetch loop in the background until Stop
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx)

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic": c.reader.Config().Topic,
		"group": c.reader.Config().GroupID,
	}).Info("Consuming entity changes")
	return nil
}

// Stop ends the fetch loop, waits for the message in flight and closes the reader
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	return c.reader.Close()
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		switch {
		case ctx.Err() != nil, errors.Is(err, io.EOF):
			return
		case err != nil:
			c.logger.WithContext(ctx).WithError(err).Error("Failed to fetch entity change")
			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchRetryDelay):
			}
			continue
		}

		c.handle(ctx, msg)
	}
}

func incomingFrom(msg kafka.Message) *IncomingMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &IncomingMessage{
		Key:         string(msg.Key),
		Value:       msg.Value,
		Headers:     headers,
		Partition:   msg.Partition,
		Offset:      msg.Offset,
		Timestamp:   msg.Time,
		Topic:       msg.Topic,
		TraceParent: headers["traceparent"],
		TraceState:  headers["tracestate"],
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	incoming := incomingFrom(msg)

	ctx = tracing.WithRemoteParent(ctx, incoming.TraceParent, incoming.TraceState)
	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.handle")
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	if err := incoming.ParseEntityChange(); err != nil {
		if errors.Is(err, ErrUnrecognizedMessage) {
			log.Debug("Skipping message that is not an entity change")
		} else {
			log.WithError(err).Warn("Malformed entity change")
			c.park(ctx, incoming, "parse_error", err)
		}
		c.commit(ctx, msg)
		return
	}

	if err := c.handler(ctx, incoming); err != nil {
		if c.deadLetter == nil {
			// uncommitted, so the group redelivers it after a rebalance or restart
			log.WithError(err).Error("Failed to process entity change, leaving it uncommitted")
			return
		}
		c.park(ctx, incoming, "handler_error", err)
	}
	c.commit(ctx, msg)
}

func (c *Consumer) park(ctx context.Context, msg *IncomingMessage, reason string, cause error) {
	if c.deadLetter == nil {
		return
	}
	if err := c.deadLetter.Add(ctx, msg, reason, cause); err != nil {
		c.logger.WithContext(ctx).WithError(err).Error("Failed to park entity change")
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.WithContext(ctx).WithError(err).Error("Failed to commit entity change")
	}
}
