package filesearch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFuzzyScore_NonSubsequenceDoesNotMatch(t *testing.T) {
	_, ok, _ := fuzzyScore("zzz", "hello", false)
	assert.False(t, ok)
}

func TestFuzzyScore_EmptyPatternMatchesEverything(t *testing.T) {
	sc, ok, _ := fuzzyScore("", "anything", false)
	assert.True(t, ok)
	assert.Zero(t, sc)
}

func TestFuzzyScore_PatternLongerThanHaystackDoesNotMatch(t *testing.T) {
	_, ok, _ := fuzzyScore("abcdef", "ab", false)
	assert.False(t, ok)
}

func TestFuzzyScore_WordBoundaryMatchScoresHigherThanMidWord(t *testing.T) {
	boundaryScore, ok, _ := fuzzyScore("ft", "file_types.go", false)
	assert.True(t, ok)
	midWordScore, ok, _ := fuzzyScore("ft", "craft_tool.go", false)
	assert.True(t, ok)
	assert.Greater(t, boundaryScore, midWordScore)
}

func TestFuzzyScore_ConsecutiveMatchScoresHigherThanScattered(t *testing.T) {
	consecutive, ok, _ := fuzzyScore("ab", "ab_scattered.go", false)
	assert.True(t, ok)
	scattered, ok, _ := fuzzyScore("ab", "a_b_scattered.go", false)
	assert.True(t, ok)
	assert.Greater(t, consecutive, scattered)
}

func TestFuzzyScore_IndicesAreSortedAndWithinBounds(t *testing.T) {
	_, ok, indices := fuzzyScore("fts", "file_types.go", true)
	assert.True(t, ok)
	assert.Len(t, indices, 3)
	for i := 1; i < len(indices); i++ {
		assert.Less(t, indices[i-1], indices[i])
	}
	for _, idx := range indices {
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, len("file_types.go"))
	}
}
