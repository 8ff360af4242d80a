package suggestion

import (
	"context"
	"slices"
	"sort"
	"strings"

	"github.com/Ramsey-B/thistle/pkg/errors"
	"github.com/Ramsey-B/thistle/pkg/events"
	"github.com/Ramsey-B/thistle/pkg/links"
	"github.com/Ramsey-B/thistle/pkg/lock"
	"github.com/Ramsey-B/thistle/pkg/metrics"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// DismissResult is the dismissed suggestion and the entity's summary after the change
type DismissResult struct {
	Suggestion models.Suggestion
	Summary    models.SuggestionSummary
}

// LinkRequest links two records. EntityID2 may name an orphan.
type LinkRequest struct {
	EntityID1        string
	EntityID2        string
	RelationshipType string
	Reason           string
	Confidence       *float64
}

// LinkResult reports what a link changed
type LinkResult struct {
	Edge             *models.RelationshipEdge
	OrphanID         string
	Linked           []models.Suggestion
	AffectedEntities []string
}

// MergeRequest merges two entities into KeepEntityID
type MergeRequest struct {
	EntityID1    string
	EntityID2    string
	KeepEntityID string
	Reason       string
}

// MergeResult reports what a merge changed
type MergeResult struct {
	KeptEntityID     string
	MergedEntityID   string
	AffectedEntities []string
}

func (s *Service) transition(ctx context.Context, sug *models.Suggestion, next models.SuggestionStatus, reason string) error {
	if !sug.Status.CanTransitionTo(next) {
		return errors.NewConflictErrorf("illegal_transition", "suggestion %s is %s and cannot become %s", sug.ID, sug.Status, next)
	}
	metrics.LifecycleTransitions.WithLabelValues(string(sug.Status), string(next)).Inc()
	sug.Status = next
	sug.StatusReason = reason
	sug.UpdatedAt = s.now()
	return nil
}

// MarkViewed moves a pending suggestion to viewed. Any other status is left as is.
func (s *Service) MarkViewed(ctx context.Context, projectID, entityID, suggestionID string) (*models.Suggestion, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Service.MarkViewed")
	defer span.End()

	if err := requireID("entity_id", entityID); err != nil {
		return nil, err
	}
	if err := requireID("suggestion_id", suggestionID); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, entityKey(projectID, entityID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	set, err := s.load(ctx, projectID, entityID)
	if err != nil {
		return nil, err
	}
	i, ok := set.Find(suggestionID)
	if !ok {
		return nil, errors.NewNotFoundError("suggestion", suggestionID)
	}

	sug := set.Suggestions[i]
	if sug.Status != models.SuggestionStatusPending {
		return &sug, nil
	}
	if err := s.transition(ctx, &set.Suggestions[i], models.SuggestionStatusViewed, ""); err != nil {
		return nil, err
	}
	if _, err := s.save(ctx, projectID, entityID, set.Suggestions); err != nil {
		return nil, err
	}

	sug = set.Suggestions[i]
	return &sug, nil
}

// Dismiss moves a suggestion, found by its id or its matched record id, to dismissed.
// A suggestion that is already terminal is a ConflictError and nothing changes.
func (s *Service) Dismiss(ctx context.Context, projectID, entityID, dataID, reason string) (*DismissResult, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Service.Dismiss")
	defer span.End()

	reason = strings.TrimSpace(reason)
	if err := requireID("entity_id", entityID); err != nil {
		return nil, err
	}
	if err := requireID("data_id", dataID); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, errors.NewValidationError("reason", "reason is required to dismiss a suggestion")
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
	i, ok := set.Find(dataID)
	if !ok {
		unlock()
		return nil, errors.NewNotFoundError("suggestion", dataID)
	}
	if err := s.transition(ctx, &set.Suggestions[i], models.SuggestionStatusDismissed, reason); err != nil {
		unlock()
		return nil, err
	}
	summary, err := s.save(ctx, projectID, entityID, set.Suggestions)
	unlock()
	if err != nil {
		return nil, err
	}

	sug := set.Suggestions[i]
	affected := []string{entityID}
	if sug.MatchedEntityID != nil {
		affected = append(affected, *sug.MatchedEntityID)
	}

	s.emit(ctx, projectID, events.EventTypeSuggestionDismissed, affected, events.SuggestionDismissedData{
		EntityID:         entityID,
		SuggestionID:     sug.ID,
		Reason:           reason,
		Summary:          *summary,
		AffectedEntities: affected,
	}, links.ForEntity(projectID, entityID))

	s.log.WithContext(ctx).WithFields(map[string]any{
		"project_id":    projectID,
		"entity_id":     entityID,
		"suggestion_id": sug.ID,
	}).Info("Dismissed suggestion")

	return &DismissResult{Suggestion: sug, Summary: *summary}, nil
}

// linkPairing moves every non-terminal suggestion in entityID's set that points at
// matchedID to status. It returns the suggestions it moved.
func (s *Service) linkPairing(ctx context.Context, projectID, entityID, matchedID string, status models.SuggestionStatus, reason string) ([]models.Suggestion, error) {
	set, err := s.load(ctx, projectID, entityID)
	if err != nil {
		return nil, err
	}

	var moved []models.Suggestion
	for i := range set.Suggestions {
		sug := &set.Suggestions[i]
		if sug.MatchedID() != matchedID || sug.Status.IsTerminal() {
			continue
		}
		if err := s.transition(ctx, sug, status, reason); err != nil {
			return nil, err
		}
		moved = append(moved, *sug)
	}
	if len(moved) == 0 {
		return nil, nil
	}

	if _, err := s.save(ctx, projectID, entityID, set.Suggestions); err != nil {
		return nil, err
	}
	return moved, nil
}

func (s *Service) getEntity(ctx context.Context, projectID, entityID string) (*models.Entity, error) {
	var entity *models.Entity
	err := s.storeCall(ctx, "get_entity", func(ctx context.Context) error {
		var err error
		entity, err = s.entities.GetEntity(ctx, projectID, entityID)
		return err
	})
	if err == nil && entity == nil {
		return nil, errors.NewNotFoundError("entity", entityID)
	}
	return entity, err
}

func (s *Service) getOrphan(ctx context.Context, projectID, orphanID string) (*models.OrphanRecord, error) {
	var orphan *models.OrphanRecord
	err := s.storeCall(ctx, "get_orphan", func(ctx context.Context) error {
		var err error
		orphan, err = s.entities.GetOrphan(ctx, projectID, orphanID)
		return err
	})
	if err == nil && orphan == nil {
		return nil, errors.NewNotFoundError("orphan", orphanID)
	}
	return orphan, err
}

// Link records a relationship between two entities and moves the suggestions pairing
// them to linked. When EntityID2 is an orphan record the call becomes LinkOrphan.
func (s *Service) Link(ctx context.Context, projectID string, req LinkRequest) (*LinkResult, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Service.Link")
	defer span.End()

	if err := requireID("entity_id_1", req.EntityID1); err != nil {
		return nil, err
	}
	if err := requireID("entity_id_2", req.EntityID2); err != nil {
		return nil, err
	}
	if req.EntityID1 == req.EntityID2 {
		return nil, errors.NewValidationError("entity_id_2", "an entity cannot be linked to itself")
	}
	if req.Confidence != nil && (*req.Confidence < 0 || *req.Confidence > 1) {
		return nil, errors.NewValidationError("confidence", "confidence must be between 0 and 1")
	}
	if req.RelationshipType == "" {
		req.RelationshipType = models.RelationshipTypeTagged
	}

	if _, err := s.getEntity(ctx, projectID, req.EntityID1); err != nil {
		return nil, err
	}
	if _, err := s.getEntity(ctx, projectID, req.EntityID2); err != nil {
		if !errors.IsNotFoundError(err) {
			return nil, err
		}
		if _, orphanErr := s.getOrphan(ctx, projectID, req.EntityID2); orphanErr != nil {
			if errors.IsNotFoundError(orphanErr) {
				return nil, err
			}
			return nil, orphanErr
		}
		return s.LinkOrphan(ctx, projectID, req.EntityID1, req.EntityID2, req.Reason)
	}

	edge := &models.RelationshipEdge{
		ID:               models.EdgeID(projectID, req.EntityID1, req.EntityID2, req.RelationshipType),
		ProjectID:        projectID,
		FromEntityID:     req.EntityID1,
		ToEntityID:       req.EntityID2,
		RelationshipType: req.RelationshipType,
		Reason:           req.Reason,
		Confidence:       req.Confidence,
		CreatedAt:        s.now(),
	}
	if s.graph != nil {
		err := s.storeCall(ctx, "upsert_edge", func(ctx context.Context) error {
			return s.graph.UpsertEdge(ctx, edge)
		})
		if err != nil {
			metrics.GraphFailures.WithLabelValues("upsert_edge").Inc()
			return nil, err
		}
	}

	unlock, err := lock.LockAll(ctx, s.locker, entityKey(projectID, req.EntityID1), entityKey(projectID, req.EntityID2))
	if err != nil {
		return nil, err
	}
	var linked []models.Suggestion
	for _, pair := range [][2]string{{req.EntityID1, req.EntityID2}, {req.EntityID2, req.EntityID1}} {
		moved, err := s.linkPairing(ctx, projectID, pair[0], pair[1], models.SuggestionStatusLinked, req.Reason)
		if err != nil {
			unlock()
			return nil, err
		}
		linked = append(linked, moved...)
	}
	unlock()

	affected := []string{req.EntityID1, req.EntityID2}
	s.emit(ctx, projectID, events.EventTypeDataLinked, affected, events.DataLinkedData{
		EntityID1:        req.EntityID1,
		EntityID2:        req.EntityID2,
		RelationshipType: req.RelationshipType,
		Reason:           req.Reason,
		Confidence:       req.Confidence,
		AffectedEntities: affected,
	}, links.ForRelationships(projectID, req.EntityID1))

	s.log.WithContext(ctx).WithFields(map[string]any{
		"project_id":        projectID,
		"entity_id_1":       req.EntityID1,
		"entity_id_2":       req.EntityID2,
		"relationship_type": req.RelationshipType,
		"linked":            len(linked),
	}).Info("Linked entities")

	return &LinkResult{Edge: edge, Linked: linked, AffectedEntities: affected}, nil
}

// LinkOrphan attaches an orphan record to an entity. Re-linking an orphan that already
// belongs to another entity is allowed. Other entities suggesting the orphan are
// invalidated.
func (s *Service) LinkOrphan(ctx context.Context, projectID, entityID, orphanID, reason string) (*LinkResult, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Service.LinkOrphan")
	defer span.End()

	if err := requireID("entity_id", entityID); err != nil {
		return nil, err
	}
	if err := requireID("orphan_id", orphanID); err != nil {
		return nil, err
	}
	if _, err := s.getEntity(ctx, projectID, entityID); err != nil {
		return nil, err
	}
	orphan, err := s.getOrphan(ctx, projectID, orphanID)
	if err != nil {
		return nil, err
	}

	log := s.log.WithContext(ctx).WithFields(map[string]any{
		"project_id": projectID,
		"entity_id":  entityID,
		"orphan_id":  orphanID,
	})
	if orphan.IsLinked() && *orphan.LinkedEntityID != entityID {
		log.WithField("previous_entity_id", *orphan.LinkedEntityID).Info("Re-linking orphan")
	}

	err = s.storeCall(ctx, "link_orphan", func(ctx context.Context) error {
		return s.entities.LinkOrphan(ctx, projectID, orphanID, entityID)
	})
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, entityKey(projectID, entityID))
	if err != nil {
		return nil, err
	}
	linked, err := s.linkPairing(ctx, projectID, entityID, orphanID, models.SuggestionStatusLinked, reason)
	unlock()
	if err != nil {
		return nil, err
	}

	others, err := s.referencing(ctx, projectID, []string{orphanID}, entityID)
	if err != nil {
		return nil, err
	}
	if err := s.invalidateLocked(ctx, projectID, others, "orphan_linked"); err != nil {
		return nil, err
	}

	affected := uniqueSorted(append([]string{entityID}, others...))
	s.emit(ctx, projectID, events.EventTypeOrphanLinked, affected, events.OrphanLinkedData{
		EntityID:         entityID,
		OrphanID:         orphanID,
		Reason:           reason,
		AffectedEntities: affected,
	}, links.ForEntity(projectID, entityID))

	log.WithField("affected", len(affected)).Info("Linked orphan")

	return &LinkResult{OrphanID: orphanID, Linked: linked, AffectedEntities: affected}, nil
}

// invalidateLocked takes every entity lock before invalidating the sets
func (s *Service) invalidateLocked(ctx context.Context, projectID string, entityIDs []string, cause string) error {
	if len(entityIDs) == 0 {
		return nil
	}
	keys := make([]string, len(entityIDs))
	for i, id := range entityIDs {
		keys[i] = entityKey(projectID, id)
	}
	unlock, err := lock.LockAll(ctx, s.locker, keys...)
	if err != nil {
		return err
	}
	defer unlock()
	return s.invalidate(ctx, projectID, entityIDs, cause)
}

// Merge folds one entity into the other through the entity store. The kept entity and
// every entity with an open suggestion for either side are invalidated, and the
// merged-away entity is tombstoned. Merge is not idempotent: a retry after success
// fails with a ConflictError.
func (s *Service) Merge(ctx context.Context, projectID string, req MergeRequest) (*MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Service.Merge")
	defer span.End()

	if err := requireID("entity_id_1", req.EntityID1); err != nil {
		return nil, err
	}
	if err := requireID("entity_id_2", req.EntityID2); err != nil {
		return nil, err
	}
	if err := requireID("keep_entity_id", req.KeepEntityID); err != nil {
		return nil, err
	}
	if req.EntityID1 == req.EntityID2 {
		return nil, errors.NewValidationError("entity_id_2", "an entity cannot be merged into itself")
	}

	var dropID string
	switch req.KeepEntityID {
	case req.EntityID1:
		dropID = req.EntityID2
	case req.EntityID2:
		dropID = req.EntityID1
	default:
		return nil, errors.NewConflictErrorf("merge_target_mismatch", "keep_entity_id %s is neither %s nor %s", req.KeepEntityID, req.EntityID1, req.EntityID2)
	}
	keepID := req.KeepEntityID

	log := s.log.WithContext(ctx).WithFields(map[string]any{
		"project_id":     projectID,
		"keep_entity_id": keepID,
		"drop_entity_id": dropID,
	})

	unlock, err := lock.LockAll(ctx, s.locker, entityKey(projectID, keepID), entityKey(projectID, dropID))
	if err != nil {
		return nil, err
	}
	locked := true
	release := func() {
		if locked {
			locked = false
			unlock()
		}
	}
	defer release()

	for _, id := range []string{keepID, dropID} {
		set, err := s.load(ctx, projectID, id)
		if err != nil {
			return nil, err
		}
		if set.Tombstoned {
			return nil, errors.NewConflictErrorf("already_merged", "entity %s no longer exists", id)
		}
		if _, err := s.getEntity(ctx, projectID, id); err != nil {
			if errors.IsNotFoundError(err) {
				return nil, errors.NewConflictErrorf("merge_entity_missing", "entity %s no longer exists", id)
			}
			return nil, err
		}
	}

	err = s.storeCall(ctx, "merge_entities", func(ctx context.Context) error {
		return s.entities.MergeEntities(ctx, projectID, keepID, dropID)
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.linkPairing(ctx, projectID, keepID, dropID, models.SuggestionStatusMerged, req.Reason); err != nil {
		return nil, err
	}

	if s.graph != nil {
		err := s.storeCall(ctx, "rewire_edges", func(ctx context.Context) error {
			return s.graph.RewireEntity(ctx, projectID, dropID, keepID)
		})
		if err != nil {
			metrics.GraphFailures.WithLabelValues("rewire_edges").Inc()
			log.WithError(err).Error("Failed to move relationship edges to kept entity")
		}
	}

	err = s.storeCall(ctx, "tombstone", func(ctx context.Context) error {
		return s.store.Tombstone(ctx, projectID, dropID, keepID, s.now())
	})
	if err != nil {
		return nil, err
	}
	if err := s.invalidate(ctx, projectID, []string{keepID}, "merge"); err != nil {
		return nil, err
	}
	release()

	others, err := s.referencing(ctx, projectID, []string{keepID, dropID}, keepID, dropID)
	if err != nil {
		return nil, err
	}
	if err := s.invalidateLocked(ctx, projectID, others, "merge"); err != nil {
		return nil, err
	}

	affected := uniqueSorted(append([]string{keepID, dropID}, others...))
	s.emit(ctx, projectID, events.EventTypeEntityMerged, affected, events.EntityMergedData{
		KeptEntityID:     keepID,
		MergedEntityID:   dropID,
		Reason:           req.Reason,
		AffectedEntities: affected,
	}, links.ForEntity(projectID, keepID))

	log.WithField("affected", len(affected)).Info("Merged entities")

	return &MergeResult{KeptEntityID: keepID, MergedEntityID: dropID, AffectedEntities: affected}, nil
}

// InvalidateEntity reacts to an entity changing in the entity store. The entity and
// every entity with an open suggestion for it are marked for recompute; a deleted
// entity is also tombstoned.
func (s *Service) InvalidateEntity(ctx context.Context, projectID, entityID string, deleted bool) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Service.InvalidateEntity")
	defer span.End()

	if err := requireID("entity_id", entityID); err != nil {
		return nil, err
	}

	others, err := s.referencing(ctx, projectID, []string{entityID}, entityID)
	if err != nil {
		return nil, err
	}

	if deleted {
		unlock, err := s.locker.Lock(ctx, entityKey(projectID, entityID))
		if err != nil {
			return nil, err
		}
		err = s.storeCall(ctx, "tombstone", func(ctx context.Context) error {
			return s.store.Tombstone(ctx, projectID, entityID, "", s.now())
		})
		unlock()
		if err != nil {
			return nil, err
		}
		if err := s.invalidateLocked(ctx, projectID, others, "entity_deleted"); err != nil {
			return nil, err
		}
	} else if err := s.invalidateLocked(ctx, projectID, append([]string{entityID}, others...), "entity_changed"); err != nil {
		return nil, err
	}

	affected := uniqueSorted(append([]string{entityID}, others...))
	s.log.WithContext(ctx).WithFields(map[string]any{
		"project_id": projectID,
		"entity_id":  entityID,
		"deleted":    deleted,
		"affected":   len(affected),
	}).Info("Invalidated suggestions for changed entity")

	return affected, nil
}

func uniqueSorted(ids []string) []string {
	out := slices.Clone(ids)
	sort.Strings(out)
	return slices.Compact(out)
}
