package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmill/graphmill/domain/schemas"
)

func TestScoreEntities_PerfectMatch(t *testing.T) {
	expected := []EntityRef{
		{Name: "Naomi", Type: "person"},
		{Name: "Ruth", Type: "person"},
	}
	extracted := []EntityRef{
		{Name: "Ruth", Type: "person"},
		{Name: "Naomi", Type: "person"},
	}

	score := ScoreEntities(expected, extracted)
	assert.Equal(t, 1.0, score.Precision)
	assert.Equal(t, 1.0, score.Recall)
	assert.Equal(t, 1.0, score.F1)
}

func TestScoreEntities_ExtraExtractions(t *testing.T) {
	expected := []EntityRef{{Name: "Naomi", Type: "person"}}
	extracted := []EntityRef{
		{Name: "Naomi", Type: "person"},
		{Name: "Ruth", Type: "person"},
		{Name: "Boaz", Type: "person"},
	}

	score := ScoreEntities(expected, extracted)
	assert.InDelta(t, 1.0/3, score.Precision, 1e-9)
	assert.Equal(t, 1.0, score.Recall)
}

func TestScoreEntities_TypeMismatchIsNoMatch(t *testing.T) {
	score := ScoreEntities(
		[]EntityRef{{Name: "Acme", Type: "company"}},
		[]EntityRef{{Name: "Acme", Type: "person"}},
	)
	assert.Equal(t, 0, score.Matched)
}

func TestScoreEntities_FuzzyNames(t *testing.T) {
	score := ScoreEntities(
		[]EntityRef{{Name: "Jonathan Smith", Type: "person"}},
		[]EntityRef{{Name: "Jonathon Smith", Type: "person"}},
	)
	assert.Equal(t, 1, score.Matched)
}

func TestScoreEntities_SubstringNames(t *testing.T) {
	// A shortened mention still matches the full expected name.
	score := ScoreEntities(
		[]EntityRef{{Name: "Naomi Levi", Type: "person"}},
		[]EntityRef{{Name: "Naomi", Type: "person"}},
	)
	assert.Equal(t, 1, score.Matched)
}

func TestScoreEntities_ExactConsumedBeforeFuzzy(t *testing.T) {
	// Both extracted names could fuzzy-match the single expected entity;
	// the exact one must win the pairing.
	expected := []EntityRef{
		{Name: "Jon Smith", Type: "person"},
		{Name: "Jonn Smith", Type: "person"},
	}
	extracted := []EntityRef{
		{Name: "Jonn Smith", Type: "person"},
		{Name: "Jon Smith", Type: "person"},
	}

	score := ScoreEntities(expected, extracted)
	assert.Equal(t, 2, score.Matched)
}

func TestScoreEntities_Empty(t *testing.T) {
	score := ScoreEntities(nil, nil)
	assert.Equal(t, 0.0, score.Precision)
	assert.Equal(t, 0.0, score.Recall)
	assert.Equal(t, 0.0, score.F1)
}

func familyMatcher() *RelationshipMatcher {
	return NewRelationshipMatcher(map[string]schemas.RelationshipSchema{
		"married_to": {Symmetric: true},
		"parent_of":  {Inverse: "child_of"},
	})
}

func TestRelationshipMatch_Exact(t *testing.T) {
	m := familyMatcher()

	matches, score := m.Match(
		[]RelationshipRef{{Type: "parent_of", Source: "Naomi", Target: "Ruth"}},
		[]RelationshipRef{{Type: "parent_of", Source: "Naomi", Target: "Ruth"}},
	)
	require.Len(t, matches, 1)
	assert.Equal(t, MatchExact, matches[0].MatchType)
	assert.Equal(t, 1.0, score.F1)
}

func TestRelationshipMatch_SymmetricIgnoresDirection(t *testing.T) {
	m := familyMatcher()

	matches, _ := m.Match(
		[]RelationshipRef{{Type: "married_to", Source: "Ruth", Target: "Boaz"}},
		[]RelationshipRef{{Type: "married_to", Source: "Boaz", Target: "Ruth"}},
	)
	require.Len(t, matches, 1)
	assert.Equal(t, MatchExact, matches[0].MatchType)
}

func TestRelationshipMatch_InverseSwapsEndpoints(t *testing.T) {
	m := familyMatcher()

	matches, _ := m.Match(
		[]RelationshipRef{{Type: "parent_of", Source: "Naomi", Target: "Ruth"}},
		[]RelationshipRef{{Type: "child_of", Source: "Ruth", Target: "Naomi"}},
	)
	require.Len(t, matches, 1)
	assert.Equal(t, MatchInverse, matches[0].MatchType)
}

func TestRelationshipMatch_InverseDeclarationWorksBothWays(t *testing.T) {
	m := familyMatcher()

	// The schema declares parent_of -> child_of; the reverse reading must
	// also match.
	matches, _ := m.Match(
		[]RelationshipRef{{Type: "child_of", Source: "Ruth", Target: "Naomi"}},
		[]RelationshipRef{{Type: "parent_of", Source: "Naomi", Target: "Ruth"}},
	)
	require.Len(t, matches, 1)
	assert.Equal(t, MatchInverse, matches[0].MatchType)
}

func TestRelationshipMatch_FuzzyEndpointNames(t *testing.T) {
	m := familyMatcher()

	matches, _ := m.Match(
		[]RelationshipRef{{Type: "parent_of", Source: "Naomi Levi", Target: "Ruth Levi"}},
		[]RelationshipRef{{Type: "parent_of", Source: "Naomi Levy", Target: "Ruth Levy"}},
	)
	require.Len(t, matches, 1)
	assert.Equal(t, MatchFuzzy, matches[0].MatchType)
}

func TestRelationshipMatch_PreferenceOrder(t *testing.T) {
	m := familyMatcher()

	// Two extracted candidates satisfy the expected relationship: an exact
	// one and an inverse one. The exact match must be consumed first.
	expected := []RelationshipRef{
		{Type: "parent_of", Source: "Naomi", Target: "Ruth"},
	}
	extracted := []RelationshipRef{
		{Type: "child_of", Source: "Ruth", Target: "Naomi"},
		{Type: "parent_of", Source: "Naomi", Target: "Ruth"},
	}

	matches, score := m.Match(expected, extracted)
	require.Len(t, matches, 1)
	assert.Equal(t, MatchExact, matches[0].MatchType)
	assert.Equal(t, "parent_of", matches[0].Extracted.Type)
	assert.Equal(t, 0.5, score.Precision)
	assert.Equal(t, 1.0, score.Recall)
}

func TestRelationshipMatch_UndeclaredTypesMatchOnlyDirectly(t *testing.T) {
	m := NewRelationshipMatcher(nil)

	_, score := m.Match(
		[]RelationshipRef{{Type: "works_at", Source: "Ruth", Target: "Acme"}},
		[]RelationshipRef{{Type: "works_at", Source: "Acme", Target: "Ruth"}},
	)
	assert.Equal(t, 0, score.Matched, "without a symmetric declaration direction matters")
}
