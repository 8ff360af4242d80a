package suggestion

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	entityrepo "github.com/Ramsey-B/thistle/internal/repositories/entity"
	suggestionrepo "github.com/Ramsey-B/thistle/internal/repositories/suggestion"
	"github.com/Ramsey-B/thistle/pkg/errors"
	"github.com/Ramsey-B/thistle/pkg/events"
	"github.com/Ramsey-B/thistle/pkg/lock"
	"github.com/Ramsey-B/thistle/pkg/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.SuggestionEvent
}

func (p *recordingPublisher) Emit(_ context.Context, event *events.SuggestionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) ofType(t events.SuggestionEventType) []*events.SuggestionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*events.SuggestionEvent
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type recordingGraph struct {
	mu      sync.Mutex
	edges   []*models.RelationshipEdge
	rewired [][2]string
}

func (g *recordingGraph) UpsertEdge(_ context.Context, edge *models.RelationshipEdge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges = append(g.edges, edge)
	return nil
}

func (g *recordingGraph) RewireEntity(_ context.Context, _, fromID, toID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rewired = append(g.rewired, [2]string{fromID, toID})
	return nil
}

// slowEntities counts full scans and holds them until released
type slowEntities struct {
	*entityrepo.MemoryStore
	scans   atomic.Int32
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowEntities) ListEntities(ctx context.Context, projectID string) ([]models.Entity, error) {
	s.scans.Add(1)
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.MemoryStore.ListEntities(ctx, projectID)
}

type fixture struct {
	svc       *Service
	store     *suggestionrepo.MemoryStore
	entities  *entityrepo.MemoryStore
	graph     *recordingGraph
	publisher *recordingPublisher
}

func newFixture(t *testing.T, entities EntityStore, mem *entityrepo.MemoryStore, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store:     suggestionrepo.NewMemoryStore(),
		entities:  mem,
		graph:     &recordingGraph{},
		publisher: &recordingPublisher{},
	}
	f.svc = NewService(testLogger(), f.store, entities, f.graph, f.publisher, lock.NewLocal(), cfg)
	return f
}

// seed creates a, b and c sharing an email, and d with nothing in common
func seed() *entityrepo.MemoryStore {
	mem := entityrepo.NewMemoryStore()
	mem.PutEntity(person("a", field(models.IdentifierKindEmail, "shared@example.com"), field(models.IdentifierKindName, "Jon Smith")))
	mem.PutEntity(person("b", field(models.IdentifierKindEmail, "shared@example.com"), field(models.IdentifierKindName, "John Smith")))
	mem.PutEntity(person("c", field(models.IdentifierKindEmail, "SHARED@example.com")))
	mem.PutEntity(person("d", field(models.IdentifierKindEmail, "other@example.com")))
	return mem
}

func newSeededFixture(t *testing.T) *fixture {
	mem := seed()
	return newFixture(t, mem, mem, DefaultConfig())
}

func findMatched(result *Result, matchedID string) *models.Suggestion {
	for i := range result.Suggestions {
		if result.Suggestions[i].MatchedID() == matchedID {
			return &result.Suggestions[i]
		}
	}
	return nil
}

func assertSummaryConsistent(t *testing.T, f *fixture, entityID string) {
	t.Helper()
	set, err := f.store.Load(context.Background(), "p1", entityID)
	require.NoError(t, err)
	want := models.Summarize(entityID, set.Suggestions, set.Summary.LastUpdated)
	assert.Equal(t, want, set.Summary)
}

func TestService_GetComputesLazily(t *testing.T) {
	f := newSeededFixture(t)
	ctx := context.Background()

	result, err := f.svc.Get(ctx, "p1", "a")
	require.NoError(t, err)
	require.Len(t, result.Suggestions, 2)
	assert.NotNil(t, findMatched(result, "b"))
	assert.NotNil(t, findMatched(result, "c"))
	assert.Nil(t, findMatched(result, "d"))
	assert.Equal(t, 2, result.Summary.TotalCount)
	assert.Equal(t, 2, result.Summary.PendingCount)
	assert.Len(t, f.publisher.ofType(events.EventTypeSuggestionGenerated), 1)

	// a computed set is served from the store
	_, err = f.svc.Get(ctx, "p1", "a")
	require.NoError(t, err)
	assert.Len(t, f.publisher.ofType(events.EventTypeSuggestionGenerated), 1)
	assertSummaryConsistent(t, f, "a")
}

func TestService_GetValidation(t *testing.T) {
	f := newSeededFixture(t)

	_, err := f.svc.Get(context.Background(), "p1", "")
	assert.True(t, errors.IsValidationError(err))

	_, err = f.svc.Get(context.Background(), "p1", "missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestService_ComputeIsIdempotent(t *testing.T) {
	f := newSeededFixture(t)
	ctx := context.Background()

	first, err := f.svc.Compute(ctx, "p1", "a")
	require.NoError(t, err)

	later := time.Now().Add(time.Hour).UTC()
	f.svc.now = func() time.Time { return later }

	second, err := f.svc.Compute(ctx, "p1", "a")
	require.NoError(t, err)

	require.Equal(t, len(first.Suggestions), len(second.Suggestions))
	for i := range first.Suggestions {
		assert.Equal(t, first.Suggestions[i].ID, second.Suggestions[i].ID)
		assert.Equal(t, first.Suggestions[i].CreatedAt, second.Suggestions[i].CreatedAt)
		assert.Equal(t, first.Suggestions[i].UpdatedAt, second.Suggestions[i].UpdatedAt)
		assert.Equal(t, first.Suggestions[i].Confidence, second.Suggestions[i].Confidence)
	}
	assert.Equal(t, first.Summary.TotalCount, second.Summary.TotalCount)
}

func TestService_ComputeKeepsLifecycleState(t *testing.T) {
	f := newSeededFixture(t)
	ctx := context.Background()

	result, err := f.svc.Compute(ctx, "p1", "a")
	require.NoError(t, err)
	toB := findMatched(result, "b")
	require.NotNil(t, toB)

	_, err = f.svc.Dismiss(ctx, "p1", "a", toB.ID, "different people")
	require.NoError(t, err)

	again, err := f.svc.Compute(ctx, "p1", "a")
	require.NoError(t, err)
	assert.Nil(t, findMatched(again, "b"), "dismissed suggestions stay hidden")
	assert.Equal(t, 1, again.Summary.TotalCount)

	set, err := f.store.Load(ctx, "p1", "a")
	require.NoError(t, err)
	i, ok := set.Find(toB.ID)
	require.True(t, ok)
	assert.Equal(t, models.SuggestionStatusDismissed, set.Suggestions[i].Status)
	assert.Equal(t, "different people", set.Suggestions[i].StatusReason)
}

func TestService_ConcurrentComputeSharesOneScan(t *testing.T) {
	mem := seed()
	slow := &slowEntities{MemoryStore: mem, started: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, slow, mem, DefaultConfig())

	const callers = 8
	results := make([]*Result, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Compute(context.Background(), "p1", "a")
		}(i)
	}

	<-slow.started
	time.Sleep(50 * time.Millisecond)
	close(slow.release)
	wg.Wait()

	assert.Equal(t, int32(1), slow.scans.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Suggestions, results[i].Suggestions)
	}
	assert.Len(t, f.publisher.ofType(events.EventTypeSuggestionGenerated), 1)
}

func TestService_ComputeTimeout(t *testing.T) {
	mem := seed()
	slow := &slowEntities{MemoryStore: mem, started: make(chan struct{}), release: make(chan struct{})}
	cfg := DefaultConfig()
	cfg.ComputeTimeout = 20 * time.Millisecond
	f := newFixture(t, slow, mem, cfg)

	_, err := f.svc.Compute(context.Background(), "p1", "a")
	require.Error(t, err)
	assert.True(t, errors.IsUpstreamTimeoutError(err))
}

func TestService_CallerCancelDoesNotStopSharedCompute(t *testing.T) {
	mem := seed()
	slow := &slowEntities{MemoryStore: mem, started: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, slow, mem, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := f.svc.Compute(ctx, "p1", "a")
		errCh <- err
	}()
	<-slow.started

	resultCh := make(chan *Result, 1)
	go func() {
		result, err := f.svc.Compute(context.Background(), "p1", "a")
		assert.NoError(t, err)
		resultCh <- result
	}()

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(slow.release)
	result := <-resultCh
	require.NotNil(t, result)
	assert.Len(t, result.Suggestions, 2)
}

func TestService_MarkViewed(t *testing.T) {
	f := newSeededFixture(t)
	ctx := context.Background()

	result, err := f.svc.Compute(ctx, "p1", "a")
	require.NoError(t, err)
	toC := findMatched(result, "c")
	require.NotNil(t, toC)

	viewed, err := f.svc.MarkViewed(ctx, "p1", "a", toC.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionStatusViewed, viewed.Status)

	again, err := f.svc.MarkViewed(ctx, "p1", "a", toC.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionStatusViewed, again.Status)

	got, err := f.svc.Get(ctx, "p1", "a")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Summary.TotalCount)
	assert.Equal(t, 1, got.Summary.PendingCount)
	assertSummaryConsistent(t, f, "a")

	_, err = f.svc.MarkViewed(ctx, "p1", "a", "nope")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestService_GetSuggestion(t *testing.T) {
	f := newSeededFixture(t)
	ctx := context.Background()

	result, err := f.svc.Get(ctx, "p1", "a")
	require.NoError(t, err)
	toC := findMatched(result, "c")
	require.NotNil(t, toC)

	got, err := f.svc.GetSuggestion(ctx, "p1", "a", toC.ID)
	require.NoError(t, err)
	assert.Equal(t, toC.ID, got.ID)

	_, err = f.svc.Dismiss(ctx, "p1", "a", toC.ID, "different person")
	require.NoError(t, err)

	got, err = f.svc.GetSuggestion(ctx, "p1", "a", toC.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionStatusDismissed, got.Status, "terminal suggestions stay addressable")

	_, err = f.svc.GetSuggestion(ctx, "p1", "a", "nope")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestService_Dismiss(t *testing.T) {
	f := newSeededFixture(t)
	ctx := context.Background()

	result, err := f.svc.Compute(ctx, "p1", "a")
	require.NoError(t, err)
	before := result.Summary

	dismissed, err := f.svc.Dismiss(ctx, "p1", "a", "b", "  not the same person ")
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionStatusDismissed, dismissed.Suggestion.Status)
	assert.Equal(t, "not the same person", dismissed.Suggestion.StatusReason)
	assert.Equal(t, before.TotalCount-1, dismissed.Summary.TotalCount)
	assert.Equal(t, before.PendingCount-1, dismissed.Summary.PendingCount)

	evts := f.publisher.ofType(events.EventTypeSuggestionDismissed)
	require.Len(t, evts, 1)
	assert.Equal(t, []string{"a", "b"}, evts[0].Affected())
	assert.Equal(t, "p1", evts[0].ProjectID)

	_, err = f.svc.Dismiss(ctx, "p1", "a", dismissed.Suggestion.ID, "again")
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))

	got, err := f.svc.Get(ctx, "p1", "a")
	require.NoError(t, err)
	assert.Equal(t, dismissed.Summary, got.Summary)
	assert.Len(t, f.publisher.ofType(events.EventTypeSuggestionDismissed), 1)
	assertSummaryConsistent(t, f, "a")
}

func TestService_DismissValidation(t *testing.T) {
	f := newSeededFixture(t)
	ctx := context.Background()

	_, err := f.svc.Compute(ctx, "p1", "a")
	require.NoError(t, err)

	_, err = f.svc.Dismiss(ctx, "p1", "a", "b", "   ")
	assert.True(t, errors.IsValidationError(err))

	_, err = f.svc.Dismiss(ctx, "p1", "a", "", "reason")
	assert.True(t, errors.IsValidationError(err))

	_, err = f.svc.Dismiss(ctx, "p1", "a", "zzz", "reason")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestService_ConcurrentDismissOnlyOneWins(t *testing.T) {
	f := newSeededFixture(t)
	ctx := context.Background()

	_, err := f.svc.Compute(ctx, "p1", "a")
	require.NoError(t, err)

	const callers = 10
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Dismiss(ctx, "p1", "a", "b", "duplicate")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.IsConflictError(err):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(callers-1), conflicts.Load())
	assertSummaryConsistent(t, f, "a")
}

func TestService_LinkEntities(t *testing.T) {
	f := newSeededFixture(t)
	ctx := context.Background()

	_, err := f.svc.Compute(ctx, "p1", "a")
	require.NoError(t, err)
	_, err = f.svc.Compute(ctx, "p1", "b")
	require.NoError(t, err)

	confidence := 0.8
	result, err := f.svc.Link(ctx, "p1", LinkRequest{EntityID1: "a", EntityID2: "b", Reason: "same handle", Confidence: &confidence})
	require.NoError(t, err)
	require.NotNil(t, result.Edge)
	assert.Equal(t, models.RelationshipTypeTagged, result.Edge.RelationshipType)
	assert.Equal(t, models.EdgeID("p1", "a", "b", models.RelationshipTypeTagged), result.Edge.ID)
	assert.Len(t, result.Linked, 2)
	require.Len(t, f.graph.edges, 1)

	a, err := f.svc.Get(ctx, "p1", "a")
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionStatusLinked, findMatched(a, "b").Status)
	b, err := f.svc.Get(ctx, "p1", "b")
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionStatusLinked, findMatched(b, "a").Status)

	evts := f.publisher.ofType(events.EventTypeDataLinked)
	require.Len(t, evts, 1)
	assert.Equal(t, []string{"a", "b"}, evts[0].Affected())
	assertSummaryConsistent(t, f, "a")
	assertSummaryConsistent(t, f, "b")
}

func TestService_LinkValidation(t *testing.T) {
	f := newSeededFixture(t)
	ctx := context.Background()

	_, err := f.svc.Link(ctx, "p1", LinkRequest{EntityID1: "a", EntityID2: "a"})
	assert.True(t, errors.IsValidationError(err))

	bad := 1.5
	_, err = f.svc.Link(ctx, "p1", LinkRequest{EntityID1: "a", EntityID2: "b", Confidence: &bad})
	assert.True(t, errors.IsValidationError(err))

	_, err = f.svc.Link(ctx, "p1", LinkRequest{EntityID1: "a", EntityID2: "ghost"})
	assert.True(t, errors.IsNotFoundError(err))
	assert.Empty(t, f.graph.edges)
}

func TestService_LinkOrphan(t *testing.T) {
	f := newSeededFixture(t)
	ctx := context.Background()
	f.entities.PutOrphan(models.OrphanRecord{ID: "o1", ProjectID: "p1", IdentifierType: models.IdentifierKindEmail, IdentifierValue: "shared@example.com"})

	a, err := f.svc.Compute(ctx, "p1", "a")
	require.NoError(t, err)
	require.NotNil(t, findMatched(a, "o1"))
	_, err = f.svc.Compute(ctx, "p1", "c")
	require.NoError(t, err)

	// an orphan id in entity_id_2 is routed to the orphan link
	result, err := f.svc.Link(ctx, "p1", LinkRequest{EntityID1: "a", EntityID2: "o1", Reason: "confirmed"})
	require.NoError(t, err)
	assert.Equal(t, "o1", result.OrphanID)
	assert.Nil(t, result.Edge)
	assert.Equal(t, []string{"a", "c"}, result.AffectedEntities)

	orphan, err := f.entities.GetOrphan(ctx, "p1", "o1")
	require.NoError(t, err)
	assert.Equal(t, "a", *orphan.LinkedEntityID)

	set, err := f.store.Load(ctx, "p1", "a")
	require.NoError(t, err)
	i, ok := set.Find("o1")
	require.True(t, ok)
	assert.Equal(t, models.SuggestionStatusLinked, set.Suggestions[i].Status)

	c, err := f.store.Load(ctx, "p1", "c")
	require.NoError(t, err)
	assert.False(t, c.Computed, "entities still suggesting the orphan recompute")

	require.Len(t, f.publisher.ofType(events.EventTypeOrphanLinked), 1)
	assert.Empty(t, f.publisher.ofType(events.EventTypeDataLinked))
}

func TestService_Merge(t *testing.T) {
	f := newSeededFixture(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := f.svc.Compute(ctx, "p1", id)
		require.NoError(t, err)
	}

	result, err := f.svc.Merge(ctx, "p1", MergeRequest{EntityID1: "a", EntityID2: "b", KeepEntityID: "a", Reason: "same person"})
	require.NoError(t, err)
	assert.Equal(t, "a", result.KeptEntityID)
	assert.Equal(t, "b", result.MergedEntityID)
	assert.Equal(t, []string{"a", "b", "c"}, result.AffectedEntities)
	assert.Equal(t, [][2]string{{"b", "a"}}, f.graph.rewired)

	merged, err := f.svc.Get(ctx, "p1", "b")
	require.NoError(t, err)
	assert.Empty(t, merged.Suggestions)
	assert.True(t, merged.Tombstoned)
	assert.Equal(t, "a", merged.MergedInto)

	kept, err := f.svc.Get(ctx, "p1", "a")
	require.NoError(t, err)
	for _, s := range kept.Suggestions {
		if s.MatchedID() == "b" {
			assert.Equal(t, models.SuggestionStatusMerged, s.Status)
		}
	}
	assert.NotNil(t, findMatched(kept, "c"))

	c, err := f.svc.Get(ctx, "p1", "c")
	require.NoError(t, err)
	assert.Nil(t, findMatched(c, "b"))
	assert.NotNil(t, findMatched(c, "a"))

	evts := f.publisher.ofType(events.EventTypeEntityMerged)
	require.Len(t, evts, 1)
	assert.Equal(t, []string{"a", "b", "c"}, evts[0].Affected())

	_, err = f.svc.Merge(ctx, "p1", MergeRequest{EntityID1: "a", EntityID2: "b", KeepEntityID: "a"})
	assert.True(t, errors.IsConflictError(err))

	assertSummaryConsistent(t, f, "a")
	assertSummaryConsistent(t, f, "c")
}

func TestService_MergeValidation(t *testing.T) {
	f := newSeededFixture(t)
	ctx := context.Background()

	_, err := f.svc.Merge(ctx, "p1", MergeRequest{EntityID1: "a", EntityID2: "b", KeepEntityID: "c"})
	assert.True(t, errors.IsConflictError(err))

	_, err = f.svc.Merge(ctx, "p1", MergeRequest{EntityID1: "a", EntityID2: "a", KeepEntityID: "a"})
	assert.True(t, errors.IsValidationError(err))

	_, err = f.svc.Merge(ctx, "p1", MergeRequest{EntityID1: "a", EntityID2: "ghost", KeepEntityID: "a"})
	assert.True(t, errors.IsConflictError(err))
}

func TestService_InvalidateEntity(t *testing.T) {
	f := newSeededFixture(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, err := f.svc.Compute(ctx, "p1", id)
		require.NoError(t, err)
	}

	affected, err := f.svc.InvalidateEntity(ctx, "p1", "c", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, affected)

	a, err := f.store.Load(ctx, "p1", "a")
	require.NoError(t, err)
	assert.False(t, a.Computed)

	f.entities.DeleteEntity("p1", "b")
	affected, err = f.svc.InvalidateEntity(ctx, "p1", "b", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, affected)

	b, err := f.svc.Get(ctx, "p1", "b")
	require.NoError(t, err)
	assert.True(t, b.Tombstoned)
	assert.Empty(t, b.MergedInto)

	recomputed, err := f.svc.Get(ctx, "p1", "a")
	require.NoError(t, err)
	assert.Nil(t, findMatched(recomputed, "b"))
}

func TestService_Summaries(t *testing.T) {
	f := newSeededFixture(t)
	ctx := context.Background()

	for _, id := range []string{"c", "a", "d"} {
		_, err := f.svc.Compute(ctx, "p1", id)
		require.NoError(t, err)
	}

	summaries, err := f.svc.Summaries(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	assert.Equal(t, "a", summaries[0].EntityID)
	assert.Equal(t, "d", summaries[2].EntityID)
	assert.Equal(t, 0, summaries[2].TotalCount)
}

func TestReconcile(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	later := created.Add(time.Hour)
	b, c, d := "b", "c", "d"

	previous := []models.Suggestion{
		{ID: "1", MatchedEntityID: &b, Confidence: 0.9, Status: models.SuggestionStatusViewed, CreatedAt: created, UpdatedAt: created},
		{ID: "2", MatchedEntityID: &c, Confidence: 0.8, Status: models.SuggestionStatusDismissed, StatusReason: "no", CreatedAt: created, UpdatedAt: created},
		{ID: "3", MatchedEntityID: &d, Confidence: 0.7, Status: models.SuggestionStatusPending, CreatedAt: created, UpdatedAt: created},
	}
	fresh := []models.Suggestion{
		{ID: "1", MatchedEntityID: &b, Confidence: 0.9, Status: models.SuggestionStatusPending, CreatedAt: later, UpdatedAt: later},
		{ID: "4", MatchedEntityID: &d, Confidence: 0.95, Status: models.SuggestionStatusPending, CreatedAt: later, UpdatedAt: later},
	}

	out := reconcile(previous, fresh)
	require.Len(t, out, 3)

	assert.Equal(t, "1", out[0].ID)
	assert.Equal(t, models.SuggestionStatusViewed, out[0].Status)
	assert.Equal(t, created, out[0].CreatedAt)
	assert.Equal(t, created, out[0].UpdatedAt)

	assert.Equal(t, "4", out[1].ID)
	assert.Equal(t, "2", out[2].ID)
	assert.Equal(t, models.SuggestionStatusDismissed, out[2].Status)
}
