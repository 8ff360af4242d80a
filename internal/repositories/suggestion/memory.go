package suggestion

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Ramsey-B/thistle/pkg/models"
)

type setKey struct {
	projectID string
	entityID  string
}

// MemoryStore keeps suggestion sets in process. It is used when Postgres is disabled
// and in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	sets map[setKey]*models.SuggestionSet
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sets: make(map[setKey]*models.SuggestionSet)}
}

func copySuggestions(in []models.Suggestion) []models.Suggestion {
	out := make([]models.Suggestion, len(in))
	for i, s := range in {
		s.Factors = slices.Clone(s.Factors)
		out[i] = s
	}
	return out
}

func copySet(set *models.SuggestionSet) *models.SuggestionSet {
	c := *set
	c.Suggestions = copySuggestions(set.Suggestions)
	return &c
}

// Load returns a copy of the entity's set
func (m *MemoryStore) Load(_ context.Context, projectID, entityID string) (*models.SuggestionSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set, ok := m.sets[setKey{projectID, entityID}]
	if !ok {
		return &models.SuggestionSet{
			EntityID:    entityID,
			Suggestions: []models.Suggestion{},
			Summary:     models.SuggestionSummary{EntityID: entityID},
		}, nil
	}
	return copySet(set), nil
}

func (m *MemoryStore) tombstoned(projectID, entityID string) bool {
	set, ok := m.sets[setKey{projectID, entityID}]
	return ok && set.Tombstoned
}

// Save replaces the entity's suggestions and recomputes its summary
func (m *MemoryStore) Save(_ context.Context, projectID, entityID string, suggestions []models.Suggestion, at time.Time) (*models.SuggestionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := make([]models.Suggestion, 0, len(suggestions))
	for _, s := range suggestions {
		if !s.Status.IsTerminal() && s.MatchedEntityID != nil && m.tombstoned(projectID, *s.MatchedEntityID) {
			continue
		}
		s.ProjectID = projectID
		kept = append(kept, s)
	}
	kept = copySuggestions(kept)

	set, ok := m.sets[setKey{projectID, entityID}]
	if !ok {
		set = &models.SuggestionSet{EntityID: entityID}
		m.sets[setKey{projectID, entityID}] = set
	}
	set.Suggestions = kept
	set.Computed = true
	set.Summary = models.Summarize(entityID, kept, at)

	summary := set.Summary
	return &summary, nil
}

// Invalidate drops open suggestions and marks the sets for recompute. Terminal
// suggestions stay.
func (m *MemoryStore) Invalidate(_ context.Context, projectID string, entityIDs []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entityID := range entityIDs {
		set, ok := m.sets[setKey{projectID, entityID}]
		if !ok || set.Tombstoned {
			continue
		}
		set.Suggestions = slices.DeleteFunc(set.Suggestions, func(s models.Suggestion) bool {
			return !s.Status.IsTerminal()
		})
		set.Computed = false
		set.Summary = models.Summarize(entityID, set.Suggestions, at)
	}
	return nil
}

// Tombstone removes the entity's set and remembers the entity is gone
func (m *MemoryStore) Tombstone(_ context.Context, projectID, entityID, mergedInto string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sets[setKey{projectID, entityID}] = &models.SuggestionSet{
		EntityID:    entityID,
		Suggestions: []models.Suggestion{},
		Summary:     models.Summarize(entityID, nil, at),
		Tombstoned:  true,
		MergedInto:  mergedInto,
	}
	return nil
}

// Summaries lists the summaries of every live set in the project, ordered by entity id
func (m *MemoryStore) Summaries(_ context.Context, projectID string) ([]models.SuggestionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]models.SuggestionSummary, 0)
	for key, set := range m.sets {
		if key.projectID != projectID || set.Tombstoned {
			continue
		}
		summaries = append(summaries, set.Summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].EntityID < summaries[j].EntityID
	})
	return summaries, nil
}

// EntitiesReferencing lists entities with a pending or viewed suggestion for any of
// matchedIDs, ordered by entity id
func (m *MemoryStore) EntitiesReferencing(_ context.Context, projectID string, matchedIDs []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0)
	for key, set := range m.sets {
		if key.projectID != projectID {
			continue
		}
		for _, s := range set.Suggestions {
			if !s.Status.IsTerminal() && slices.Contains(matchedIDs, s.MatchedID()) {
				ids = append(ids, key.entityID)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}
