package suggestion

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/thistle/pkg/matching"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const (
	// HighConfidence is the lowest confidence bucketed as high
	HighConfidence = 0.9
	// MediumConfidence is the lowest confidence bucketed as medium
	MediumConfidence = 0.7
	// LowConfidence is the lowest confidence that is kept at all
	LowConfidence = 0.5

	crossEntityWeight      = 0.4
	sourceConfidenceWeight = 0.25
)

// kindWeights is how much a factor of each identifier kind counts toward confidence.
var kindWeights = map[models.IdentifierKind]float64{
	models.IdentifierKindHash:     1.0,
	models.IdentifierKindEmail:    0.95,
	models.IdentifierKindCrypto:   0.95,
	models.IdentifierKindPhone:    0.9,
	models.IdentifierKindUsername: 0.7,
	models.IdentifierKindURL:      0.6,
	models.IdentifierKindName:     0.6,
	models.IdentifierKindAddress:  0.5,
	models.IdentifierKindText:     0.3,
}

var suggestionNamespace = uuid.MustParse("6f1c2f4e-9a0b-4d2c-8e57-2b8f7c0d4a11")

// ConfidenceLevelFor buckets a confidence. ok is false below LowConfidence.
func ConfidenceLevelFor(confidence float64) (level models.ConfidenceLevel, ok bool) {
	switch {
	case confidence >= HighConfidence:
		return models.ConfidenceLevelHigh, true
	case confidence >= MediumConfidence:
		return models.ConfidenceLevelMedium, true
	case confidence >= LowConfidence:
		return models.ConfidenceLevelLow, true
	default:
		return "", false
	}
}

// SuggestionID is the stable id of the suggestion pairing entityID with matchedID
func SuggestionID(projectID, entityID, matchedID string) string {
	return uuid.NewSHA1(suggestionNamespace, []byte(projectID+"|"+entityID+"|"+matchedID)).String()
}

// matchTypeFor is the strategy a kind is compared with when its values are not equal.
func matchTypeFor(kind models.IdentifierKind) models.MatchType {
	switch kind {
	case models.IdentifierKindHash:
		return models.MatchTypeHash
	case models.IdentifierKindName:
		return models.MatchTypeFuzzy
	case models.IdentifierKindAddress, models.IdentifierKindText:
		return models.MatchTypePartial
	default:
		return models.MatchTypeExactString
	}
}

type factor struct {
	models.MatchFactor
	value string
}

func (f factor) contribution() float64 {
	return f.Weight * f.Score
}

// Generator scores candidate entities and orphans against a target entity
type Generator struct {
	engine        *matching.Engine
	scorer        *matching.Scorer
	log           ectologger.Logger
	maxCandidates int
}

// NewGenerator creates a Generator. maxCandidates caps the suggestions returned per
// entity; zero means no cap.
func NewGenerator(log ectologger.Logger, maxCandidates int) *Generator {
	return &Generator{
		engine:        matching.NewEngine(),
		scorer:        matching.NewScorer(),
		log:           log,
		maxCandidates: maxCandidates,
	}
}

// Generate returns the suggestions for target, ordered by confidence. A candidate that
// fails to score is logged and skipped.
func (g *Generator) Generate(
	ctx context.Context,
	target *models.Entity,
	candidates []models.Entity,
	orphans []models.OrphanRecord,
	at time.Time,
) ([]models.Suggestion, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Generator.Generate")
	defer span.End()

	suggestions := make([]models.Suggestion, 0)

	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		candidate := &candidates[i]
		if candidate.ID == target.ID {
			continue
		}
		s, ok := g.safely(ctx, candidate.ID, func() (*models.Suggestion, error) {
			return g.scoreEntity(target, candidate, at)
		})
		if ok {
			suggestions = append(suggestions, *s)
		}
	}

	for i := range orphans {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		orphan := &orphans[i]
		if orphan.IsLinked() {
			continue
		}
		s, ok := g.safely(ctx, orphan.ID, func() (*models.Suggestion, error) {
			return g.scoreOrphan(target, orphan, at)
		})
		if ok {
			suggestions = append(suggestions, *s)
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		return suggestions[i].MatchedID() < suggestions[j].MatchedID()
	})

	if g.maxCandidates > 0 && len(suggestions) > g.maxCandidates {
		suggestions = suggestions[:g.maxCandidates]
	}

	return suggestions, nil
}

func (g *Generator) safely(ctx context.Context, candidateID string, fn func() (*models.Suggestion, error)) (s *models.Suggestion, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			g.log.WithContext(ctx).WithFields(map[string]any{
				"candidate_id": candidateID,
				"panic":        fmt.Sprint(r),
			}).Warn("Candidate scoring panicked, skipping")
			s, ok = nil, false
		}
	}()

	s, err := fn()
	if err != nil {
		g.log.WithContext(ctx).WithError(err).WithField("candidate_id", candidateID).Warn("Failed to score candidate, skipping")
		return nil, false
	}
	return s, s != nil
}

func (g *Generator) scoreEntity(target, candidate *models.Entity, at time.Time) (*models.Suggestion, error) {
	if candidate.ID == "" {
		return nil, fmt.Errorf("candidate entity has no id")
	}

	best := make(map[models.IdentifierKind]factor)
	var cross *factor

	for _, tf := range target.Fields {
		for _, cf := range candidate.Fields {
			for _, tv := range tf.Values {
				for _, cv := range cf.Values {
					if tf.Kind == cf.Kind {
						f, ok := g.compare(tf.Kind, tv, cv)
						if ok && f.Score > best[tf.Kind].Score {
							best[tf.Kind] = f
						}
						continue
					}
					if cross == nil {
						if f, ok := g.crossEntity(tf.Kind, cf.Kind, tv, cv); ok {
							cross = &f
						}
					}
				}
			}
		}
	}

	factors := make([]factor, 0, len(best)+1)
	for _, f := range best {
		factors = append(factors, f)
	}
	if cross != nil {
		factors = append(factors, *cross)
	}

	matchedID := candidate.ID
	s := g.build(target, factors, at)
	if s == nil {
		return nil, nil
	}
	s.MatchedEntityID = &matchedID
	s.ID = SuggestionID(target.ProjectID, target.ID, "entity:"+matchedID)
	return s, nil
}

func (g *Generator) scoreOrphan(target *models.Entity, orphan *models.OrphanRecord, at time.Time) (*models.Suggestion, error) {
	if orphan.ID == "" {
		return nil, fmt.Errorf("orphan has no id")
	}

	kind := orphan.IdentifierType
	if !kind.Valid() {
		kind = models.IdentifierKindText
	}

	var best factor
	var cross *factor
	for _, tf := range target.Fields {
		for _, tv := range tf.Values {
			if tf.Kind == kind {
				f, ok := g.compare(kind, tv, orphan.IdentifierValue)
				if ok && f.Score > best.Score {
					best = f
				}
				continue
			}
			if cross == nil {
				if f, ok := g.crossEntity(tf.Kind, kind, tv, orphan.IdentifierValue); ok {
					cross = &f
				}
			}
		}
	}

	factors := make([]factor, 0, 3)
	if best.Score > 0 {
		factors = append(factors, best)
	}
	if cross != nil {
		factors = append(factors, *cross)
	}
	if len(factors) > 0 {
		if source, ok := orphan.NormalizedConfidence(); ok {
			factors = append(factors, factor{
				MatchFactor: models.MatchFactor{
					Name:        "source confidence",
					Description: fmt.Sprintf("Orphan %s was recorded with confidence %.2f", kind, source),
					MatchType:   models.MatchTypeExactString,
					Weight:      sourceConfidenceWeight,
					Score:       source,
				},
				value: orphan.IdentifierValue,
			})
		}
	}

	matchedID := orphan.ID
	s := g.build(target, factors, at)
	if s == nil {
		return nil, nil
	}
	s.MatchedOrphanID = &matchedID
	s.ID = SuggestionID(target.ProjectID, target.ID, "orphan:"+matchedID)
	return s, nil
}

// compare tries an exact comparison first and falls back to the kind's approximate strategy.
func (g *Generator) compare(kind models.IdentifierKind, a, b string) (factor, bool) {
	matchType := matchTypeFor(kind)
	if matchType == models.MatchTypeFuzzy || matchType == models.MatchTypePartial {
		if g.engine.ScoreKind(kind, models.MatchTypeExactString, a, b) == 1 {
			matchType = models.MatchTypeExactString
		}
	}

	score := g.engine.ScoreKind(kind, matchType, a, b)
	if score < matching.MinFactorScore {
		return factor{}, false
	}

	weight, ok := kindWeights[kind]
	if !ok {
		weight = kindWeights[models.IdentifierKindText]
	}

	return factor{
		MatchFactor: models.MatchFactor{
			Name:        fmt.Sprintf("%s %s", kind, describeMatchType(matchType)),
			Description: fmt.Sprintf("%q compared with %q", a, b),
			MatchType:   matchType,
			Weight:      weight,
			Score:       round(score),
		},
		value: strings.TrimSpace(b),
	}, true
}

func (g *Generator) crossEntity(kindA, kindB models.IdentifierKind, a, b string) (factor, bool) {
	if g.engine.Score(models.MatchTypeCrossEntity, a, b) != 1 {
		return factor{}, false
	}
	return factor{
		MatchFactor: models.MatchFactor{
			Name:        "shared value",
			Description: fmt.Sprintf("%q appears as %s and as %s", strings.TrimSpace(a), kindA, kindB),
			MatchType:   models.MatchTypeCrossEntity,
			Weight:      crossEntityWeight,
			Score:       1,
		},
		value: strings.TrimSpace(b),
	}, true
}

// build aggregates factors into a pending suggestion, or returns nil when the candidate
// falls below LowConfidence.
func (g *Generator) build(target *models.Entity, factors []factor, at time.Time) *models.Suggestion {
	if len(factors) == 0 {
		return nil
	}

	sort.SliceStable(factors, func(i, j int) bool {
		if factors[i].contribution() != factors[j].contribution() {
			return factors[i].contribution() > factors[j].contribution()
		}
		return factors[i].Name < factors[j].Name
	})

	scores := make([]float64, len(factors))
	weights := make([]float64, len(factors))
	matchFactors := make([]models.MatchFactor, len(factors))
	for i, f := range factors {
		scores[i] = f.Score
		weights[i] = f.Weight
		matchFactors[i] = f.MatchFactor
	}

	confidence := round(math.Max(0, math.Min(1, g.scorer.WeightedMean(scores, weights))))
	level, ok := ConfidenceLevelFor(confidence)
	if !ok {
		return nil
	}

	primary := factors[0]
	return &models.Suggestion{
		ProjectID:       target.ProjectID,
		EntityID:        target.ID,
		MatchType:       primary.MatchType,
		MatchValue:      primary.value,
		Confidence:      confidence,
		ConfidenceLevel: level,
		Factors:         matchFactors,
		Status:          models.SuggestionStatusPending,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
}

func describeMatchType(mt models.MatchType) string {
	switch mt {
	case models.MatchTypeHash:
		return "hash match"
	case models.MatchTypeExactString:
		return "exact match"
	case models.MatchTypeFuzzy:
		return "fuzzy match"
	case models.MatchTypePartial:
		return "partial match"
	case models.MatchTypeCrossEntity:
		return "cross-entity match"
	default:
		return string(mt)
	}
}

func round(v float64) float64 {
	return math.Round(v*10000) / 10000
}
