package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/thistle/pkg/events"
	"github.com/Ramsey-B/thistle/pkg/kafka"
	"github.com/Ramsey-B/thistle/pkg/lock"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewClientFromRedis(rdb, testLogger()), mr
}

func TestSetLocker(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()
	locker := NewSetLocker(client, "", time.Minute, 50*time.Millisecond)

	unlock, err := locker.TryLock(ctx, "entity:p1/a")
	require.NoError(t, err)
	assert.True(t, mr.Exists("thistle:lock:entity:p1/a"))

	_, err = locker.TryLock(ctx, "entity:p1/a")
	assert.ErrorIs(t, err, lock.ErrNotAcquired)

	_, err = locker.Lock(ctx, "entity:p1/a")
	assert.ErrorIs(t, err, lock.ErrNotAcquired, "blocking lock gives up after the wait")

	unlock()
	assert.False(t, mr.Exists("thistle:lock:entity:p1/a"))

	unlock, err = locker.Lock(ctx, "entity:p1/a")
	require.NoError(t, err)
	unlock()
}

func TestLock_ReleaseOnlyByOwner(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()
	locker := NewLocker(client, "")

	lease, err := locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	// simulate expiry and another holder taking the key
	mr.Set("thistle:lock:k", "someone-else")
	assert.ErrorIs(t, lease.Release(ctx), ErrLockNotHeld)
	v, _ := mr.Get("thistle:lock:k")
	assert.Equal(t, "someone-else", v)
}

func TestLockAll_WithRedis(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	locker := NewSetLocker(client, "", time.Minute, 50*time.Millisecond)

	unlock, err := lock.LockAll(ctx, locker, "b", "a", "b")
	require.NoError(t, err)

	_, err = locker.TryLock(ctx, "a")
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
	unlock()

	unlock, err = locker.TryLock(ctx, "a")
	require.NoError(t, err)
	unlock()
}

func TestRateLimiter(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	limiter := NewRateLimiter(client, "")

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "compute:p1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(1-i), res.Remaining)
	}

	res, err := limiter.Allow(ctx, "compute:p1", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryIn, time.Duration(0))

	other, err := limiter.Allow(ctx, "compute:p2", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are limited independently")

	require.NoError(t, limiter.Reset(ctx, "compute:p1", time.Minute))
	res, err = limiter.Allow(ctx, "compute:p1", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

type captureSink struct {
	mu     sync.Mutex
	events []*events.SuggestionEvent
}

func (s *captureSink) Publish(_ context.Context, event *events.SuggestionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) received() []*events.SuggestionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*events.SuggestionEvent(nil), s.events...)
}

func TestEventBus_DeliversToLocalSink(t *testing.T) {
	client, _ := newTestClient(t)
	sink := &captureSink{}
	bus := NewEventBus(client, sink, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	go func() { _ = bus.Listen(ctx, ready) }()
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("bus never subscribed")
	}

	event, err := events.NewEvent("p1", events.EventTypeEntityMerged, []string{"a", "b"},
		events.EntityMergedData{KeptEntityID: "a", MergedEntityID: "b", AffectedEntities: []string{"a", "b"}}, nil)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, event))
	assert.Equal(t, "thistle:events:p1", bus.Channel("p1"))

	require.Eventually(t, func() bool { return len(sink.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := sink.received()[0]
	assert.Equal(t, events.EventTypeEntityMerged, got.Type)
	assert.Equal(t, "p1", got.ProjectID)
	assert.Equal(t, []string{"a", "b"}, got.AffectedEntities)
	assert.JSONEq(t, string(event.Data), string(got.Data))
}

func TestEventBus_IgnoresMalformedMessages(t *testing.T) {
	client, _ := newTestClient(t)
	sink := &captureSink{}
	bus := NewEventBus(client, sink, testLogger())

	bus.deliver(context.Background(), "thistle:events:p1", "{")
	bus.deliver(context.Background(), "thistle:events:p1", `{"event":{"type":"entity_teleported","data":{}}}`)
	bus.deliver(context.Background(), "thistle:events:p1", `{"event":{"type":"data_linked","data":{}}}`)

	got := sink.received()
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ProjectID, "project falls back to the channel name")
}

func TestDeadLetterQueue(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	dlq := NewDeadLetterQueue(client, "", testLogger())

	msg := &kafka.IncomingMessage{
		Topic:     "entity-changes",
		Partition: 2,
		Offset:    41,
		Value:     []byte(`{"event_type":"entity.updated","project_id":"p1","entity_id":"a"}`),
		EntityChange: &kafka.EntityChange{
			EventType: kafka.EntityChangeUpdated,
			ProjectID: "p1",
			EntityID:  "a",
		},
	}
	require.NoError(t, dlq.Add(ctx, msg, "handler_error", errors.New("store unavailable")))

	count, err := dlq.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	entries, err := dlq.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "p1", entries[0].ProjectID)
	assert.Equal(t, "a", entries[0].EntityID)
	assert.Equal(t, int64(41), entries[0].Offset)
	assert.Equal(t, "handler_error", entries[0].Reason)
	assert.Equal(t, "store unavailable", entries[0].ErrorMessage)
}
