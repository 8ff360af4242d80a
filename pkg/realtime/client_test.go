package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/thistle/pkg/events"
)

func nextAck(t *testing.T, c *Client, want MessageType) AckMessage {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ack := <-c.Acks():
			if ack.Type == want {
				return ack
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestClient_ReceivesAndResubscribes(t *testing.T) {
	hub, srv := newServer(t, Config{})

	linked := make(chan events.DataLinkedData, 4)
	cfg := DefaultClientConfig(wsURL(srv, "p1"))
	cfg.BaseDelay = 5 * time.Millisecond
	client := NewClient(cfg, Handlers{
		DataLinked: func(_ context.Context, data events.DataLinkedData) { linked <- data },
	}, testLogger())
	require.NoError(t, client.SubscribeEntity("a"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	nextAck(t, client, MessageTypeConnected)
	assert.Equal(t, "a", nextAck(t, client, MessageTypeSubscribed).EntityID)

	require.NoError(t, hub.Publish(ctx, linkedEvent(t, "p1", "b")))
	require.NoError(t, hub.Publish(ctx, linkedEvent(t, "p1", "a", "b")))
	select {
	case data := <-linked:
		assert.Equal(t, "a", data.EntityID1)
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}

	// drop every server-side connection; the client reconnects and replays its subscription
	hub.Close()
	nextAck(t, client, MessageTypeConnected)
	assert.Equal(t, "a", nextAck(t, client, MessageTypeSubscribed).EntityID)
	assert.Equal(t, []string{"a"}, client.Subscriptions())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	cfg := DefaultClientConfig("ws://127.0.0.1:1/ws/suggestions/p1")
	cfg.BaseDelay = time.Millisecond
	cfg.MaxAttempts = 2
	client := NewClient(cfg, Handlers{}, testLogger())

	err := client.Run(context.Background())
	assert.ErrorIs(t, err, ErrMaxAttempts)
}

func TestClient_Backoff(t *testing.T) {
	client := NewClient(ClientConfig{BaseDelay: 100 * time.Millisecond}, Handlers{}, testLogger())
	assert.Equal(t, 100*time.Millisecond, client.backoff(0))
	assert.Equal(t, 200*time.Millisecond, client.backoff(1))
	assert.Equal(t, 800*time.Millisecond, client.backoff(3))
}

func TestHandlers_Dispatch(t *testing.T) {
	var merged events.EntityMergedData
	h := Handlers{
		EntityMerged: func(_ context.Context, data events.EntityMergedData) { merged = data },
	}
	ctx := context.Background()

	event, err := events.NewEvent("p1", events.EventTypeEntityMerged, []string{"a", "b"},
		events.EntityMergedData{KeptEntityID: "a", MergedEntityID: "b", AffectedEntities: []string{"a", "b"}}, nil)
	require.NoError(t, err)
	require.NoError(t, h.Dispatch(ctx, event))
	assert.Equal(t, "a", merged.KeptEntityID)

	// no handler registered
	event, err = events.NewEvent("p1", events.EventTypeOrphanLinked, nil, events.OrphanLinkedData{}, nil)
	require.NoError(t, err)
	assert.NoError(t, h.Dispatch(ctx, event))

	// unknown types are ignored
	assert.NoError(t, h.Dispatch(ctx, &events.SuggestionEvent{Type: "entity_teleported", Data: json.RawMessage(`{}`)}))

	assert.Error(t, h.Dispatch(ctx, &events.SuggestionEvent{Type: events.EventTypeEntityMerged, Data: json.RawMessage(`[`)}))
}
