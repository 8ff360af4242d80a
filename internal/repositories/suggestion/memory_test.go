package suggestion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/thistle/pkg/models"
)

func ptr(s string) *string { return &s }

func newSuggestion(id, entityID, matchedID string, level models.ConfidenceLevel, status models.SuggestionStatus) models.Suggestion {
	return models.Suggestion{
		ID:              id,
		EntityID:        entityID,
		MatchedEntityID: ptr(matchedID),
		MatchType:       models.MatchTypeExactString,
		Confidence:      0.95,
		ConfidenceLevel: level,
		Factors:         []models.MatchFactor{{Name: "email", Weight: 0.95, Score: 1}},
		Status:          status,
	}
}

func TestMemoryStore_LoadUnknown(t *testing.T) {
	store := NewMemoryStore()

	set, err := store.Load(context.Background(), "p1", "a")
	require.NoError(t, err)
	assert.Equal(t, "a", set.EntityID)
	assert.Empty(t, set.Suggestions)
	assert.False(t, set.Computed)
	assert.False(t, set.Tombstoned)
}

func TestMemoryStore_SaveRecomputesSummary(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	summary, err := store.Save(ctx, "p1", "a", []models.Suggestion{
		newSuggestion("s1", "a", "b", models.ConfidenceLevelHigh, models.SuggestionStatusPending),
		newSuggestion("s2", "a", "c", models.ConfidenceLevelLow, models.SuggestionStatusViewed),
		newSuggestion("s3", "a", "d", models.ConfidenceLevelMedium, models.SuggestionStatusDismissed),
	}, at)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TotalCount)
	assert.Equal(t, 1, summary.HighConfidenceCount)
	assert.Equal(t, 0, summary.MediumConfidenceCount)
	assert.Equal(t, 1, summary.LowConfidenceCount)
	assert.Equal(t, 1, summary.PendingCount)
	assert.Equal(t, at, summary.LastUpdated)

	set, err := store.Load(ctx, "p1", "a")
	require.NoError(t, err)
	assert.True(t, set.Computed)
	assert.Len(t, set.Suggestions, 3)
	assert.Equal(t, *summary, set.Summary)
	assert.Equal(t, "p1", set.Suggestions[0].ProjectID)
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Save(ctx, "p1", "a", []models.Suggestion{
		newSuggestion("s1", "a", "b", models.ConfidenceLevelHigh, models.SuggestionStatusPending),
	}, time.Now())
	require.NoError(t, err)

	set, err := store.Load(ctx, "p1", "a")
	require.NoError(t, err)
	set.Suggestions[0].Status = models.SuggestionStatusDismissed
	set.Suggestions[0].Factors[0].Score = 0

	again, err := store.Load(ctx, "p1", "a")
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionStatusPending, again.Suggestions[0].Status)
	assert.Equal(t, 1.0, again.Suggestions[0].Factors[0].Score)
}

func TestMemoryStore_SaveSkipsTombstonedMatches(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Tombstone(ctx, "p1", "b", "c", time.Now()))

	summary, err := store.Save(ctx, "p1", "a", []models.Suggestion{
		newSuggestion("s1", "a", "b", models.ConfidenceLevelHigh, models.SuggestionStatusPending),
		newSuggestion("s2", "a", "b", models.ConfidenceLevelHigh, models.SuggestionStatusDismissed),
		newSuggestion("s3", "a", "c", models.ConfidenceLevelHigh, models.SuggestionStatusPending),
	}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalCount)

	set, err := store.Load(ctx, "p1", "a")
	require.NoError(t, err)
	require.Len(t, set.Suggestions, 2)
	assert.Equal(t, "s2", set.Suggestions[0].ID)
	assert.Equal(t, "s3", set.Suggestions[1].ID)
}

func TestMemoryStore_Invalidate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Save(ctx, "p1", "a", []models.Suggestion{
		newSuggestion("s1", "a", "b", models.ConfidenceLevelHigh, models.SuggestionStatusPending),
		newSuggestion("s2", "a", "c", models.ConfidenceLevelHigh, models.SuggestionStatusLinked),
		newSuggestion("s3", "a", "d", models.ConfidenceLevelHigh, models.SuggestionStatusDismissed),
	}, time.Now())
	require.NoError(t, err)

	require.NoError(t, store.Invalidate(ctx, "p1", []string{"a", "unknown"}, time.Now()))

	set, err := store.Load(ctx, "p1", "a")
	require.NoError(t, err)
	assert.False(t, set.Computed)
	require.Len(t, set.Suggestions, 2)
	assert.Equal(t, 1, set.Summary.TotalCount)
	assert.Equal(t, 0, set.Summary.PendingCount)

	unknown, err := store.Load(ctx, "p1", "unknown")
	require.NoError(t, err)
	assert.False(t, unknown.Computed)
}

func TestMemoryStore_Tombstone(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Save(ctx, "p1", "b", []models.Suggestion{
		newSuggestion("s1", "b", "a", models.ConfidenceLevelHigh, models.SuggestionStatusPending),
	}, time.Now())
	require.NoError(t, err)

	require.NoError(t, store.Tombstone(ctx, "p1", "b", "a", time.Now()))

	set, err := store.Load(ctx, "p1", "b")
	require.NoError(t, err)
	assert.True(t, set.Tombstoned)
	assert.Equal(t, "a", set.MergedInto)
	assert.Empty(t, set.Suggestions)
	assert.Equal(t, 0, set.Summary.TotalCount)

	summaries, err := store.Summaries(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestMemoryStore_SummariesAndReferencing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Save(ctx, "p1", "b", []models.Suggestion{
		newSuggestion("s1", "b", "x", models.ConfidenceLevelHigh, models.SuggestionStatusPending),
	}, time.Now())
	require.NoError(t, err)
	_, err = store.Save(ctx, "p1", "a", []models.Suggestion{
		newSuggestion("s2", "a", "x", models.ConfidenceLevelHigh, models.SuggestionStatusViewed),
		{ID: "s3", EntityID: "a", MatchedOrphanID: ptr("o1"), ConfidenceLevel: models.ConfidenceLevelLow, Status: models.SuggestionStatusPending},
	}, time.Now())
	require.NoError(t, err)
	_, err = store.Save(ctx, "p1", "c", []models.Suggestion{
		newSuggestion("s4", "c", "x", models.ConfidenceLevelHigh, models.SuggestionStatusDismissed),
	}, time.Now())
	require.NoError(t, err)
	_, err = store.Save(ctx, "p2", "z", []models.Suggestion{
		newSuggestion("s5", "z", "x", models.ConfidenceLevelHigh, models.SuggestionStatusPending),
	}, time.Now())
	require.NoError(t, err)

	summaries, err := store.Summaries(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	assert.Equal(t, "a", summaries[0].EntityID)
	assert.Equal(t, "b", summaries[1].EntityID)
	assert.Equal(t, "c", summaries[2].EntityID)

	ids, err := store.EntitiesReferencing(ctx, "p1", []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	ids, err = store.EntitiesReferencing(ctx, "p1", []string{"o1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}
