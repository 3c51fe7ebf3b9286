package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func suggestionFor(t *testing.T, suggestions []MergeSuggestion, property string) MergeSuggestion {
	t.Helper()
	for _, s := range suggestions {
		if s.Property == property {
			return s
		}
	}
	t.Fatalf("no suggestion for property %q", property)
	return MergeSuggestion{}
}

func TestFallbackMergeSuggestions_OneSidedValues(t *testing.T) {
	suggestions := FallbackMergeSuggestions(
		map[string]any{"ceo": "J. Doe"},
		map[string]any{"founded": 2010},
	)
	require.Len(t, suggestions, 2)

	ceo := suggestionFor(t, suggestions, "ceo")
	assert.Equal(t, MergeKeepSource, ceo.Action)
	assert.InDelta(t, 0.9, ceo.Confidence, 1e-9)

	founded := suggestionFor(t, suggestions, "founded")
	assert.Equal(t, MergeKeepTarget, founded.Action)
}

func TestFallbackMergeSuggestions_IdenticalValuesKeepTarget(t *testing.T) {
	suggestions := FallbackMergeSuggestions(
		map[string]any{"name": "ACME  Corp"},
		map[string]any{"name": "acme corp"},
	)
	require.Len(t, suggestions, 1)
	assert.Equal(t, MergeKeepTarget, suggestions[0].Action)
	assert.Equal(t, 1.0, suggestions[0].Confidence)
	assert.False(t, suggestions[0].NeedsReview)
}

func TestFallbackMergeSuggestions_LongerStringWins(t *testing.T) {
	suggestions := FallbackMergeSuggestions(
		map[string]any{"description": "Acme Corp builds industrial anvils and rocket skates for a global market."},
		map[string]any{"description": "Makes anvils."},
	)
	require.Len(t, suggestions, 1)
	assert.Equal(t, MergeKeepSource, suggestions[0].Action)
	assert.InDelta(t, 0.7, suggestions[0].Confidence, 1e-9)
}

func TestFallbackMergeSuggestions_SimilarLengthConflictNeedsReview(t *testing.T) {
	suggestions := FallbackMergeSuggestions(
		map[string]any{"city": "Hamburg"},
		map[string]any{"city": "Munich"},
	)
	require.Len(t, suggestions, 1)
	assert.Equal(t, MergeKeepTarget, suggestions[0].Action)
	assert.True(t, suggestions[0].NeedsReview)
	assert.InDelta(t, 0.5, suggestions[0].Confidence, 1e-9)
}

func TestFallbackMergeSuggestions_NonStringConflictKeepsTarget(t *testing.T) {
	suggestions := FallbackMergeSuggestions(
		map[string]any{"founded": 2009},
		map[string]any{"founded": 2010},
	)
	require.Len(t, suggestions, 1)
	assert.Equal(t, MergeKeepTarget, suggestions[0].Action)
	assert.Equal(t, 2010, suggestions[0].Value)
}

func TestSortSuggestions_Order(t *testing.T) {
	sorted := sortSuggestions([]MergeSuggestion{
		{Property: "a", Action: MergeCombine, Confidence: 0.9},
		{Property: "b", Action: MergeKeepSource, Confidence: 0.7},
		{Property: "c", Action: MergeKeepTarget, Confidence: 0.5},
		{Property: "d", Action: MergeKeepTarget, Confidence: 0.8},
		{Property: "e", Action: MergeNewValue, Confidence: 1.0},
	})

	got := make([]string, len(sorted))
	for i, s := range sorted {
		got[i] = s.Property
	}
	// keep_target first (by confidence), then keep_source, combine, the rest.
	assert.Equal(t, []string{"d", "c", "b", "a", "e"}, got)
}

func TestApplySuggestions(t *testing.T) {
	source := map[string]any{"ceo": "J. Doe", "city": "Hamburg"}
	target := map[string]any{"city": "Munich", "founded": 2010}

	merged := applySuggestions(source, target, []MergeSuggestion{
		{Property: "ceo", Action: MergeKeepSource},
		{Property: "city", Action: MergeKeepTarget},
		{Property: "founded", Action: MergeNewValue, Value: 2009},
		{Property: "motto", Action: MergeCombine, Value: "anvils and skates"},
	})

	assert.Equal(t, "J. Doe", merged["ceo"])
	assert.Equal(t, "Munich", merged["city"])
	assert.Equal(t, 2009, merged["founded"])
	assert.Equal(t, "anvils and skates", merged["motto"])
}
