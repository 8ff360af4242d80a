package processor

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/thistle/pkg/kafka"
)

type call struct {
	projectID, entityID string
	deleted             bool
}

type fakeInvalidator struct {
	calls []call
	err   error
}

func (f *fakeInvalidator) InvalidateEntity(_ context.Context, projectID, entityID string, deleted bool) ([]string, error) {
	f.calls = append(f.calls, call{projectID, entityID, deleted})
	if f.err != nil {
		return nil, f.err
	}
	return []string{entityID}, nil
}

func newMessage(t *testing.T, value string) *kafka.IncomingMessage {
	t.Helper()
	msg := &kafka.IncomingMessage{Topic: "entity-changes", Value: []byte(value), Headers: map[string]string{}}
	require.NoError(t, msg.ParseEntityChange())
	return msg
}

func TestEntityChangeProcessor_ProcessMessage(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		deleted bool
	}{
		{"created", `{"event_type":"entity.created","project_id":"p1","entity_id":"a"}`, false},
		{"updated", `{"event_type":"entity.updated","project_id":"p1","entity_id":"a"}`, false},
		{"deleted", `{"event_type":"entity.deleted","project_id":"p1","entity_id":"a"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &fakeInvalidator{}
			p := NewEntityChangeProcessor(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}), inv)

			require.NoError(t, p.ProcessMessage(context.Background(), newMessage(t, tt.value)))
			assert.Equal(t, []call{{"p1", "a", tt.deleted}}, inv.calls)
		})
	}
}

func TestEntityChangeProcessor_Errors(t *testing.T) {
	boom := stderrors.New("store unavailable")
	inv := &fakeInvalidator{err: boom}
	p := NewEntityChangeProcessor(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}), inv)

	err := p.ProcessMessage(context.Background(), newMessage(t, `{"event_type":"entity.updated","project_id":"p1","entity_id":"a"}`))
	assert.ErrorIs(t, err, boom)

	err = p.ProcessMessage(context.Background(), &kafka.IncomingMessage{Topic: "entity-changes"})
	assert.ErrorContains(t, err, "no entity change")
}
