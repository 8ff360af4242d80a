// Package processor handles entity change messages from the entity store. Changes do
// not recompute anything themselves: they mark suggestion sets stale so the next read
// recomputes them.
package processor

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/thistle/pkg/errors"
	"github.com/Ramsey-B/thistle/pkg/kafka"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// Invalidator marks an entity's suggestions, and those pointing at it, for recompute
type Invalidator interface {
	InvalidateEntity(ctx context.Context, projectID, entityID string, deleted bool) ([]string, error)
}

// EntityChangeProcessor applies entity.created, entity.updated and entity.deleted
// messages to the suggestion store
type EntityChangeProcessor struct {
	logger      ectologger.Logger
	invalidator Invalidator
}

// NewEntityChangeProcessor creates a new entity change processor
func NewEntityChangeProcessor(logger ectologger.Logger, invalidator Invalidator) *EntityChangeProcessor {
	return &EntityChangeProcessor{
		logger:      logger,
		invalidator: invalidator,
	}
}

// ProcessMessage handles one parsed change. It matches kafka.MessageHandler.
func (p *EntityChangeProcessor) ProcessMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "processor.EntityChangeProcessor.ProcessMessage")
	defer span.End()

	change := msg.EntityChange
	if change == nil {
		return fmt.Errorf("message at %s/%d/%d has no entity change", msg.Topic, msg.Partition, msg.Offset)
	}

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": change.EventType,
		"project_id": change.ProjectID,
		"entity_id":  change.EntityID,
	})

	affected, err := p.invalidator.InvalidateEntity(ctx, change.ProjectID, change.EntityID, change.IsDelete())
	if err != nil {
		if errors.IsValidationError(err) {
			log.WithError(err).Warn("Rejected entity change")
		} else {
			log.WithError(err).Error("Failed to apply entity change")
		}
		return fmt.Errorf("apply %s for %s: %w", change.EventType, change.EntityID, err)
	}

	log.WithField("affected", len(affected)).Info("Applied entity change")
	return nil
}
