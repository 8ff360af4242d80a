package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScorer_Levenshtein(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 3, s.LevenshteinDistance("kitten", "sitting"))
	assert.Equal(t, 0, s.LevenshteinDistance("same", "same"))
	assert.Equal(t, 4, s.LevenshteinDistance("", "four"))
	assert.InDelta(t, 0.9, s.Levenshtein("jon smith", "john smith"), 1e-9)
	assert.Equal(t, 1.0, s.Levenshtein("", ""))
}

func TestScorer_JaroWinkler(t *testing.T) {
	s := NewScorer()

	assert.InDelta(t, 0.9611, s.JaroWinkler("martha", "marhta"), 0.0001)
	assert.Equal(t, 1.0, s.JaroWinkler("same", "same"))
	assert.Equal(t, 0.0, s.JaroWinkler("abc", ""))
}

func TestScorer_Phonetic(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, "R163", s.Soundex("Robert"))
	assert.Equal(t, s.Soundex("Robert"), s.Soundex("Rupert"))
	assert.Equal(t, "JN", s.Metaphone("John"))
	assert.Equal(t, s.Metaphone("Jon"), s.Metaphone("John"))
	assert.True(t, s.PhoneticMatch("jon smith", "john smith"))
	assert.False(t, s.PhoneticMatch("jon smith", "john"))
}

func TestScorer_WeightedMean(t *testing.T) {
	s := NewScorer()

	assert.InDelta(t, (1.0*1.0+0.5*0.5)/1.5, s.WeightedMean([]float64{1.0, 0.5}, []float64{1.0, 0.5}), 1e-9)
	assert.Equal(t, 0.0, s.WeightedMean(nil, nil))
	assert.Equal(t, 0.0, s.WeightedMean([]float64{1.0}, []float64{0}))
}
