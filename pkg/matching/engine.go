// Package matching scores identifier values against each other
package matching

import (
	"sort"
	"strings"
	"unicode"

	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/normalizers"
)

const (
	// MinFactorScore is the floor below which a comparison is not reported as a factor.
	MinFactorScore = 0.3

	// maxApproximateScore caps fuzzy and partial scores for non-identical values.
	maxApproximateScore = 0.9

	// phoneticFloor is the fuzzy score given to names whose tokens sound alike.
	phoneticFloor = 0.8

	// tokenSimilarity is the Jaro-Winkler score at which two tokens count as the same token.
	tokenSimilarity = 0.92
)

// Engine computes a normalized confidence score between two identifier values for a
// declared match type. Score is pure and safe for concurrent use.
type Engine struct {
	scorer *Scorer
}

// NewEngine creates a new similarity engine
func NewEngine() *Engine {
	return &Engine{scorer: NewScorer()}
}

// Score compares a and b under matchType. Empty input or an unknown match type scores 0.
func (e *Engine) Score(matchType models.MatchType, a, b string) float64 {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return 0
	}

	var score float64
	switch matchType {
	case models.MatchTypeHash:
		score = e.hashScore(a, b)
	case models.MatchTypeExactString:
		score = e.scorer.ExactMatch(canonical(a), canonical(b), true)
	case models.MatchTypeFuzzy:
		score = e.fuzzyScore(a, b)
	case models.MatchTypePartial:
		score = e.partialScore(a, b)
	case models.MatchTypeCrossEntity:
		score = e.scorer.ExactMatch(a, b, true)
	default:
		return 0
	}

	return clamp(score)
}

// ScoreKind normalizes both values for their identifier kind before scoring.
func (e *Engine) ScoreKind(kind models.IdentifierKind, matchType models.MatchType, a, b string) float64 {
	if matchType == models.MatchTypeCrossEntity {
		return e.Score(matchType, a, b)
	}
	return e.Score(matchType, normalizers.ForKind(kind, a), normalizers.ForKind(kind, b))
}

func (e *Engine) hashScore(a, b string) float64 {
	if normalizers.NormalizeHash(a) == normalizers.NormalizeHash(b) {
		return 1.0
	}
	return 0.0
}

// fuzzyScore is the best of the plain and token-sorted Levenshtein similarity, lifted to
// phoneticFloor when every token sounds alike.
func (e *Engine) fuzzyScore(a, b string) float64 {
	na, nb := words(a), words(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1.0
	}

	score := max(e.scorer.Levenshtein(na, nb), e.scorer.Levenshtein(sortTokens(na), sortTokens(nb)))
	if score < phoneticFloor && e.scorer.PhoneticMatch(na, nb) {
		score = phoneticFloor
	}
	return min(score, maxApproximateScore)
}

// partialScore rewards one value containing the other, then falls back to token overlap.
func (e *Engine) partialScore(a, b string) float64 {
	na, nb := words(a), words(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1.0
	}

	short, long := na, nb
	if len([]rune(short)) > len([]rune(long)) {
		short, long = long, short
	}
	if strings.Contains(long, short) {
		ratio := float64(len([]rune(short))) / float64(len([]rune(long)))
		return min(0.5+0.4*ratio, maxApproximateScore)
	}

	ta, tb := strings.Fields(na), strings.Fields(nb)
	if len(ta) > len(tb) {
		ta, tb = tb, ta
	}
	matched := 0
	for _, token := range ta {
		for _, other := range tb {
			if token == other || e.scorer.JaroWinkler(token, other) >= tokenSimilarity {
				matched++
				break
			}
		}
	}
	return maxApproximateScore * float64(matched) / float64(len(tb))
}

// canonical lowercases and collapses whitespace
func canonical(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// words lowercases, drops punctuation and collapses whitespace
func words(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '-', r == '_', r == ',', r == '.':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
