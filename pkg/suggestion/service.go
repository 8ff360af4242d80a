// Package suggestion computes entity match suggestions and manages their lifecycle
package suggestion

import (
	"context"
	stderrors "errors"
	"slices"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Ramsey-B/thistle/pkg/errors"
	"github.com/Ramsey-B/thistle/pkg/events"
	"github.com/Ramsey-B/thistle/pkg/links"
	"github.com/Ramsey-B/thistle/pkg/lock"
	"github.com/Ramsey-B/thistle/pkg/metrics"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// Store owns suggestion sets and their summaries. Every write recomputes the summary
// from the stored suggestions.
type Store interface {
	// Load returns the entity's set. A set that was never computed is returned empty.
	Load(ctx context.Context, projectID, entityID string) (*models.SuggestionSet, error)
	// Save replaces the entity's suggestions, dropping non-terminal suggestions that
	// point at tombstoned entities, and marks the set computed.
	Save(ctx context.Context, projectID, entityID string, suggestions []models.Suggestion, at time.Time) (*models.SuggestionSummary, error)
	// Invalidate drops the non-terminal suggestions of each entity and marks the sets
	// for lazy recompute.
	Invalidate(ctx context.Context, projectID string, entityIDs []string, at time.Time) error
	// Tombstone deletes the entity's set and records where it was merged to, if anywhere.
	Tombstone(ctx context.Context, projectID, entityID, mergedInto string, at time.Time) error
	// Summaries lists the summary of every computed set in the project.
	Summaries(ctx context.Context, projectID string) ([]models.SuggestionSummary, error)
	// EntitiesReferencing lists entities holding a pending or viewed suggestion whose
	// matched id is one of matchedIDs.
	EntitiesReferencing(ctx context.Context, projectID string, matchedIDs []string) ([]string, error)
}

// EntityStore is the external store that owns entities and orphan records. Missing
// records are reported as errors.NotFoundError.
type EntityStore interface {
	GetEntity(ctx context.Context, projectID, entityID string) (*models.Entity, error)
	ListEntities(ctx context.Context, projectID string) ([]models.Entity, error)
	ListOrphans(ctx context.Context, projectID string) ([]models.OrphanRecord, error)
	GetOrphan(ctx context.Context, projectID, orphanID string) (*models.OrphanRecord, error)
	MergeEntities(ctx context.Context, projectID, keepID, dropID string) error
	LinkOrphan(ctx context.Context, projectID, orphanID, entityID string) error
}

// RelationshipWriter persists the relationship graph edges created by link and merge
type RelationshipWriter interface {
	UpsertEdge(ctx context.Context, edge *models.RelationshipEdge) error
	RewireEntity(ctx context.Context, projectID, fromID, toID string) error
}

// EventPublisher delivers lifecycle events
type EventPublisher interface {
	Emit(ctx context.Context, event *events.SuggestionEvent)
}

// Config contains configuration for the suggestion service.
type Config struct {
	ComputeTimeout time.Duration // Bound on one shared compute (default: 30s)
	StoreTimeout   time.Duration // Bound on each store call (default: 5s)
	MaxCandidates  int           // Maximum suggestions kept per entity, 0 for no cap
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ComputeTimeout: 30 * time.Second,
		StoreTimeout:   5 * time.Second,
		MaxCandidates:  200,
	}
}

// Result is an entity's active suggestions with their summary
type Result struct {
	EntityID    string
	Suggestions []models.Suggestion
	Summary     models.SuggestionSummary
	Tombstoned  bool
	MergedInto  string
}

func (r *Result) clone() *Result {
	c := *r
	c.Suggestions = slices.Clone(r.Suggestions)
	return &c
}

// Service computes suggestions and applies lifecycle actions to them
type Service struct {
	store     Store
	entities  EntityStore
	graph     RelationshipWriter
	publisher EventPublisher
	locker    lock.Locker
	generator *Generator
	flights   singleflight.Group
	cfg       Config
	log       ectologger.Logger
	now       func() time.Time
}

// NewService creates a new suggestion service.
func NewService(
	log ectologger.Logger,
	store Store,
	entities EntityStore,
	graph RelationshipWriter,
	publisher EventPublisher,
	locker lock.Locker,
	cfg Config,
) *Service {
	if cfg.ComputeTimeout <= 0 {
		cfg.ComputeTimeout = DefaultConfig().ComputeTimeout
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultConfig().StoreTimeout
	}
	return &Service{
		store:     store,
		entities:  entities,
		graph:     graph,
		publisher: publisher,
		locker:    locker,
		generator: NewGenerator(log, cfg.MaxCandidates),
		cfg:       cfg,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func entityKey(projectID, entityID string) string {
	return "entity:" + projectID + "/" + entityID
}

func computeKey(projectID, entityID string) string {
	return "compute:" + projectID + "/" + entityID
}

// storeCall bounds a call to a store collaborator. Expiry surfaces as a retryable
// UpstreamTimeoutError.
func (s *Service) storeCall(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	err := fn(ctx)
	if err != nil && (stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return errors.NewUpstreamTimeoutError(op, err)
	}
	return err
}

func (s *Service) load(ctx context.Context, projectID, entityID string) (*models.SuggestionSet, error) {
	var set *models.SuggestionSet
	err := s.storeCall(ctx, "load_suggestions", func(ctx context.Context) error {
		var err error
		set, err = s.store.Load(ctx, projectID, entityID)
		return err
	})
	return set, err
}

func (s *Service) save(ctx context.Context, projectID, entityID string, suggestions []models.Suggestion) (*models.SuggestionSummary, error) {
	var summary *models.SuggestionSummary
	err := s.storeCall(ctx, "save_suggestions", func(ctx context.Context) error {
		var err error
		summary, err = s.store.Save(ctx, projectID, entityID, suggestions, s.now())
		return err
	})
	return summary, err
}

func (s *Service) invalidate(ctx context.Context, projectID string, entityIDs []string, cause string) error {
	if len(entityIDs) == 0 {
		return nil
	}
	err := s.storeCall(ctx, "invalidate_suggestions", func(ctx context.Context) error {
		return s.store.Invalidate(ctx, projectID, entityIDs, s.now())
	})
	if err == nil {
		metrics.Invalidations.WithLabelValues(cause).Add(float64(len(entityIDs)))
	}
	return err
}

func (s *Service) referencing(ctx context.Context, projectID string, matchedIDs []string, exclude ...string) ([]string, error) {
	var ids []string
	err := s.storeCall(ctx, "entities_referencing", func(ctx context.Context) error {
		var err error
		ids, err = s.store.EntitiesReferencing(ctx, projectID, matchedIDs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(ids, func(id string) bool { return slices.Contains(exclude, id) }), nil
}

func resultFromSet(set *models.SuggestionSet) *Result {
	return &Result{
		EntityID:    set.EntityID,
		Suggestions: models.ActiveSuggestions(set.Suggestions),
		Summary:     set.Summary,
		Tombstoned:  set.Tombstoned,
		MergedInto:  set.MergedInto,
	}
}

func requireID(field, value string) error {
	if value == "" {
		return errors.NewValidationErrorf(field, "%s is required", field)
	}
	return nil
}

// Get returns the entity's active suggestions, computing them first if the set was
// never computed or has been invalidated. A merged-away entity returns an empty set.
func (s *Service) Get(ctx context.Context, projectID, entityID string) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Service.Get")
	defer span.End()

	if err := requireID("entity_id", entityID); err != nil {
		return nil, err
	}

	set, err := s.load(ctx, projectID, entityID)
	if err != nil {
		return nil, err
	}
	if set.Tombstoned || set.Computed {
		return resultFromSet(set), nil
	}

	return s.Compute(ctx, projectID, entityID)
}

// GetSuggestion returns one suggestion of the entity in any status
func (s *Service) GetSuggestion(ctx context.Context, projectID, entityID, suggestionID string) (*models.Suggestion, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Service.GetSuggestion")
	defer span.End()

	if err := requireID("suggestion_id", suggestionID); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, projectID, entityID); err != nil {
		return nil, err
	}

	set, err := s.load(ctx, projectID, entityID)
	if err != nil {
		return nil, err
	}
	i, ok := set.Find(suggestionID)
	if !ok {
		return nil, errors.NewNotFoundError("suggestion", suggestionID)
	}
	sug := set.Suggestions[i]
	return &sug, nil
}

// Compute rescans the entity. Concurrent calls for the same entity share one scan; the
// scan is bounded by ComputeTimeout and is not cancelled when one caller goes away.
func (s *Service) Compute(ctx context.Context, projectID, entityID string) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Service.Compute")
	defer span.End()

	if err := requireID("entity_id", entityID); err != nil {
		return nil, err
	}

	ch := s.flights.DoChan(projectID+"/"+entityID, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ComputeTimeout)
		defer cancel()
		return s.compute(flightCtx, projectID, entityID)
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.ComputeJoins.Inc()
		}
		if res.Err != nil {
			if stderrors.Is(res.Err, context.DeadlineExceeded) && !errors.IsUpstreamTimeoutError(res.Err) {
				return nil, errors.NewUpstreamTimeoutError("compute", res.Err)
			}
			return nil, res.Err
		}
		return res.Val.(*Result).clone(), nil
	case <-ctx.Done():
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.NewUpstreamTimeoutError("compute", ctx.Err())
		}
		return nil, ctx.Err()
	}
}

func (s *Service) compute(ctx context.Context, projectID, entityID string) (result *Result, err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.ComputeDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	log := s.log.WithContext(ctx).WithFields(map[string]any{
		"project_id": projectID,
		"entity_id":  entityID,
	})

	releaseCompute, err := s.locker.TryLock(ctx, computeKey(projectID, entityID))
	if err != nil {
		if stderrors.Is(err, lock.ErrNotAcquired) {
			return nil, errors.NewConflictErrorf("compute_in_progress", "suggestions for entity %s are already being computed", entityID)
		}
		return nil, err
	}
	defer releaseCompute()

	existing, err := s.load(ctx, projectID, entityID)
	if err != nil {
		return nil, err
	}
	if existing.Tombstoned {
		return resultFromSet(existing), nil
	}

	var (
		target     *models.Entity
		candidates []models.Entity
		orphans    []models.OrphanRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.storeCall(gctx, "get_entity", func(ctx context.Context) error {
			var err error
			target, err = s.entities.GetEntity(ctx, projectID, entityID)
			return err
		})
	})
	g.Go(func() error {
		return s.storeCall(gctx, "list_entities", func(ctx context.Context) error {
			var err error
			candidates, err = s.entities.ListEntities(ctx, projectID)
			return err
		})
	})
	g.Go(func() error {
		return s.storeCall(gctx, "list_orphans", func(ctx context.Context) error {
			var err error
			orphans, err = s.entities.ListOrphans(ctx, projectID)
			return err
		})
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if target == nil {
		return nil, errors.NewNotFoundError("entity", entityID)
	}

	generated, err := s.generator.Generate(ctx, target, candidates, orphans, s.now())
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, entityKey(projectID, entityID))
	if err != nil {
		return nil, err
	}
	set, err := s.load(ctx, projectID, entityID)
	if err != nil {
		unlock()
		return nil, err
	}
	if set.Tombstoned {
		unlock()
		return resultFromSet(set), nil
	}
	merged := reconcile(set.Suggestions, generated)
	if _, err := s.save(ctx, projectID, entityID, merged); err != nil {
		unlock()
		return nil, err
	}
	saved, err := s.load(ctx, projectID, entityID)
	unlock()
	if err != nil {
		return nil, err
	}

	result = resultFromSet(saved)
	for _, sug := range result.Suggestions {
		metrics.SuggestionsComputed.WithLabelValues(string(sug.ConfidenceLevel)).Inc()
	}

	s.emit(ctx, projectID, events.EventTypeSuggestionGenerated, []string{entityID}, events.SuggestionGeneratedData{
		EntityID:         entityID,
		Count:            len(result.Suggestions),
		Summary:          result.Summary,
		AffectedEntities: []string{entityID},
	}, links.ForEntity(projectID, entityID))

	log.WithFields(map[string]any{
		"candidates":  len(candidates),
		"orphans":     len(orphans),
		"suggestions": len(result.Suggestions),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Computed suggestions")

	return result, nil
}

// reconcile merges a fresh scan into the stored set. Matching suggestions keep their
// lifecycle state and creation time, and keep updatedAt when nothing about them
// changed. Terminal suggestions the scan no longer produces stay as history; stale
// pending and viewed ones are dropped.
func reconcile(previous, fresh []models.Suggestion) []models.Suggestion {
	byID := make(map[string]models.Suggestion, len(previous))
	for _, p := range previous {
		byID[p.ID] = p
	}

	out := make([]models.Suggestion, 0, len(fresh)+len(previous))
	seen := make(map[string]bool, len(fresh))
	for _, f := range fresh {
		if p, ok := byID[f.ID]; ok {
			f.Status = p.Status
			f.StatusReason = p.StatusReason
			f.CreatedAt = p.CreatedAt
			if sameScoring(&p, &f) {
				f.UpdatedAt = p.UpdatedAt
			}
		}
		seen[f.ID] = true
		out = append(out, f)
	}

	for _, p := range previous {
		if !seen[p.ID] && p.Status.IsTerminal() {
			out = append(out, p)
		}
	}
	return out
}

func sameScoring(a, b *models.Suggestion) bool {
	return a.Confidence == b.Confidence &&
		a.ConfidenceLevel == b.ConfidenceLevel &&
		a.MatchType == b.MatchType &&
		a.MatchValue == b.MatchValue &&
		slices.Equal(a.Factors, b.Factors)
}

// Summaries returns the summary of every computed suggestion set in the project
func (s *Service) Summaries(ctx context.Context, projectID string) ([]models.SuggestionSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Service.Summaries")
	defer span.End()

	var summaries []models.SuggestionSummary
	err := s.storeCall(ctx, "list_summaries", func(ctx context.Context) error {
		var err error
		summaries, err = s.store.Summaries(ctx, projectID)
		return err
	})
	return summaries, err
}

func (s *Service) emit(ctx context.Context, projectID string, eventType events.SuggestionEventType, affected []string, payload any, l links.Links) {
	if s.publisher == nil {
		return
	}
	event, err := events.NewEvent(projectID, eventType, affected, payload, l)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Error("Failed to build suggestion event")
		return
	}
	s.publisher.Emit(ctx, event)
}
