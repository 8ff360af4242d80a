package models

import "time"

// MatchType is the strategy that produced a suggestion's strongest factor.
type MatchType string

const (
	MatchTypeHash        MatchType = "hash_match"
	MatchTypeExactString MatchType = "exact_string"
	MatchTypeFuzzy       MatchType = "fuzzy_match"
	MatchTypePartial     MatchType = "partial_match"
	MatchTypeCrossEntity MatchType = "cross_entity"
)

// ConfidenceLevel is the discrete bucket derived from a suggestion's confidence.
type ConfidenceLevel string

const (
	ConfidenceLevelHigh   ConfidenceLevel = "high"
	ConfidenceLevelMedium ConfidenceLevel = "medium"
	ConfidenceLevelLow    ConfidenceLevel = "low"
)

// SuggestionStatus is a suggestion's lifecycle state.
type SuggestionStatus string

const (
	SuggestionStatusPending   SuggestionStatus = "pending"
	SuggestionStatusViewed    SuggestionStatus = "viewed"
	SuggestionStatusLinked    SuggestionStatus = "linked"
	SuggestionStatusMerged    SuggestionStatus = "merged"
	SuggestionStatusDismissed SuggestionStatus = "dismissed"
)

// IsTerminal returns true for linked, merged and dismissed.
func (s SuggestionStatus) IsTerminal() bool {
	return s == SuggestionStatusLinked || s == SuggestionStatusMerged || s == SuggestionStatusDismissed
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s SuggestionStatus) CanTransitionTo(next SuggestionStatus) bool {
	switch s {
	case SuggestionStatusPending:
		return next == SuggestionStatusViewed || next.IsTerminal()
	case SuggestionStatusViewed:
		return next.IsTerminal()
	default:
		return false
	}
}

// MatchFactor is one scoring contribution to a suggestion.
type MatchFactor struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	MatchType   MatchType `json:"-"`
	Weight      float64   `json:"weight"`
	Score       float64   `json:"score"`
}

// Suggestion is a scored candidate match between an entity and another entity or orphan.
type Suggestion struct {
	ID              string           `json:"id" db:"id"`
	ProjectID       string           `json:"-" db:"project_id"`
	EntityID        string           `json:"entityId" db:"entity_id"`
	MatchedEntityID *string          `json:"matchedEntityId,omitempty" db:"matched_entity_id"`
	MatchedOrphanID *string          `json:"matchedOrphanId,omitempty" db:"matched_orphan_id"`
	MatchType       MatchType        `json:"matchType" db:"match_type"`
	MatchValue      string           `json:"matchValue" db:"match_value"`
	Confidence      float64          `json:"confidence" db:"confidence"`
	ConfidenceLevel ConfidenceLevel  `json:"confidenceLevel" db:"confidence_level"`
	Factors         []MatchFactor    `json:"factors" db:"-"`
	Status          SuggestionStatus `json:"status" db:"status"`
	StatusReason    string           `json:"statusReason,omitempty" db:"status_reason"`
	CreatedAt       time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time        `json:"updatedAt" db:"updated_at"`
}

// MatchedID returns whichever of the matched entity or orphan id is set.
func (s *Suggestion) MatchedID() string {
	if s.MatchedEntityID != nil {
		return *s.MatchedEntityID
	}
	if s.MatchedOrphanID != nil {
		return *s.MatchedOrphanID
	}
	return ""
}

// IsOrphanMatch returns true when the suggestion points at an orphan record.
func (s *Suggestion) IsOrphanMatch() bool {
	return s.MatchedOrphanID != nil
}

// SuggestionSummary aggregates an entity's suggestion set.
type SuggestionSummary struct {
	EntityID              string    `json:"entityId" db:"entity_id"`
	TotalCount            int       `json:"totalCount" db:"total_count"`
	HighConfidenceCount   int       `json:"highConfidenceCount" db:"high_confidence_count"`
	MediumConfidenceCount int       `json:"mediumConfidenceCount" db:"medium_confidence_count"`
	LowConfidenceCount    int       `json:"lowConfidenceCount" db:"low_confidence_count"`
	PendingCount          int       `json:"pendingCount" db:"pending_count"`
	LastUpdated           time.Time `json:"lastUpdated" db:"last_updated"`
}

// Summarize derives the summary for an entity from its suggestion set. Summaries are
// never updated any other way.
func Summarize(entityID string, suggestions []Suggestion, at time.Time) SuggestionSummary {
	summary := SuggestionSummary{
		EntityID:    entityID,
		LastUpdated: at,
	}
	for _, s := range suggestions {
		if s.Status == SuggestionStatusDismissed {
			continue
		}
		summary.TotalCount++
		if s.Status == SuggestionStatusPending {
			summary.PendingCount++
		}
		switch s.ConfidenceLevel {
		case ConfidenceLevelHigh:
			summary.HighConfidenceCount++
		case ConfidenceLevelMedium:
			summary.MediumConfidenceCount++
		case ConfidenceLevelLow:
			summary.LowConfidenceCount++
		}
	}
	return summary
}

// ActiveSuggestions filters out dismissed suggestions.
func ActiveSuggestions(suggestions []Suggestion) []Suggestion {
	active := make([]Suggestion, 0, len(suggestions))
	for _, s := range suggestions {
		if s.Status != SuggestionStatusDismissed {
			active = append(active, s)
		}
	}
	return active
}

// SuggestionSet is everything stored for one entity: its suggestions (including
// dismissed and other terminal history), the derived summary and tombstone state.
// Computed is false until the first compute and again after an invalidation.
type SuggestionSet struct {
	EntityID    string
	Suggestions []Suggestion
	Summary     SuggestionSummary
	Computed    bool
	Tombstoned  bool
	MergedInto  string
}

// Find returns the suggestion whose id or matched id equals id.
func (s *SuggestionSet) Find(id string) (int, bool) {
	for i := range s.Suggestions {
		if s.Suggestions[i].ID == id {
			return i, true
		}
	}
	for i := range s.Suggestions {
		if s.Suggestions[i].MatchedID() == id {
			return i, true
		}
	}
	return -1, false
}
