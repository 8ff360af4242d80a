package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Ramsey-B/thistle/pkg/events"
)

// Handlers receives decoded events. Nil handlers are skipped.
type Handlers struct {
	SuggestionGenerated func(ctx context.Context, data events.SuggestionGeneratedData)
	SuggestionDismissed func(ctx context.Context, data events.SuggestionDismissedData)
	EntityMerged        func(ctx context.Context, data events.EntityMergedData)
	DataLinked          func(ctx context.Context, data events.DataLinkedData)
	OrphanLinked        func(ctx context.Context, data events.OrphanLinkedData)
}

func decode[T any](event *events.SuggestionEvent) (T, error) {
	var data T
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return data, fmt.Errorf("failed to decode %s data: %w", event.Type, err)
	}
	return data, nil
}

func call[T any](ctx context.Context, event *events.SuggestionEvent, fn func(context.Context, T)) error {
	if fn == nil {
		return nil
	}
	data, err := decode[T](event)
	if err != nil {
		return err
	}
	fn(ctx, data)
	return nil
}

// Dispatch routes event to its handler. Unknown event types are ignored.
func (h Handlers) Dispatch(ctx context.Context, event *events.SuggestionEvent) error {
	switch event.Type {
	case events.EventTypeSuggestionGenerated:
		return call(ctx, event, h.SuggestionGenerated)
	case events.EventTypeSuggestionDismissed:
		return call(ctx, event, h.SuggestionDismissed)
	case events.EventTypeEntityMerged:
		return call(ctx, event, h.EntityMerged)
	case events.EventTypeDataLinked:
		return call(ctx, event, h.DataLinked)
	case events.EventTypeOrphanLinked:
		return call(ctx, event, h.OrphanLinked)
	default:
		return nil
	}
}
