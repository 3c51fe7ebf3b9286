package extraction

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmill/graphmill/domain/graph"
	"github.com/graphmill/graphmill/internal/config"
)

func testLinker() *EntityLinker {
	return NewEntityLinker(&config.Config{
		Linker: config.LinkerConfig{
			Strategy:            StrategyKeyMatch,
			SimilarityThreshold: 0.85,
			MaxCandidates:       5,
		},
	}, nil, nil, discardLogger())
}

func headWithProperties(props map[string]any) *graph.GraphObject {
	return &graph.GraphObject{
		CanonicalID: uuid.New(),
		Type:        "company",
		Properties:  props,
	}
}

func TestPropertyOverlap(t *testing.T) {
	tests := []struct {
		name      string
		existing  map[string]any
		candidate map[string]any
		want      float64
	}{
		{
			name:      "identical",
			existing:  map[string]any{"name": "Acme", "industry": "software"},
			candidate: map[string]any{"name": "Acme", "industry": "software"},
			want:      1,
		},
		{
			name:      "disjoint keys",
			existing:  map[string]any{"name": "Acme"},
			candidate: map[string]any{"founded": 2010},
			want:      0,
		},
		{
			name:      "same key different value",
			existing:  map[string]any{"name": "Acme"},
			candidate: map[string]any{"name": "Zenith"},
			want:      0,
		},
		{
			name:      "string comparison is normalized",
			existing:  map[string]any{"name": "ACME  Corp"},
			candidate: map[string]any{"name": "acme corp"},
			want:      1,
		},
		{
			name:      "both empty",
			existing:  map[string]any{},
			candidate: map[string]any{},
			want:      0,
		},
		{
			name: "four matching of six union keys",
			existing: map[string]any{
				"name":     "Acme Corp",
				"industry": "software",
				"founded":  2010,
				"city":     "Berlin",
				"version":  "2.0",
			},
			candidate: map[string]any{
				"name":      "Acme Corp",
				"industry":  "software",
				"founded":   2010,
				"city":      "Berlin",
				"employees": 250,
				"version":   "1.0",
			},
			want: 4.0 / 6,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, PropertyOverlap(tt.existing, tt.candidate), 1e-9)
		})
	}
}

func TestDecide_OverlapBands(t *testing.T) {
	l := testLinker()

	existing := map[string]any{
		"name":     "Acme Corp",
		"industry": "software",
		"founded":  2010,
		"city":     "Berlin",
		"version":  "2.0",
	}

	// Near-identical candidate: duplicate, skip.
	dup := l.decide(headWithProperties(existing), &CandidateObject{
		Type: "company",
		Properties: map[string]any{
			"name":     "Acme Corp",
			"industry": "software",
			"founded":  2010,
			"city":     "Berlin",
			"version":  "2.0",
		},
	})
	assert.Equal(t, LinkActionSkip, dup.Action)
	assert.NotEmpty(t, dup.ExistingID)

	// Partial overlap: merge into the existing head.
	partial := l.decide(headWithProperties(existing), &CandidateObject{
		Type: "company",
		Properties: map[string]any{
			"name":      "Acme Corp",
			"industry":  "software",
			"founded":   2010,
			"city":      "Berlin",
			"employees": 250,
			"version":   "1.0",
		},
	})
	assert.Equal(t, LinkActionMerge, partial.Action)
	assert.InDelta(t, 4.0/6, partial.Overlap, 1e-9)

	// Mostly different: a distinct entity, create.
	distinct := l.decide(headWithProperties(existing), &CandidateObject{
		Type: "company",
		Properties: map[string]any{
			"name":    "Acme Corp",
			"revenue": "12M",
			"ceo":     "J. Doe",
		},
	})
	assert.Equal(t, LinkActionCreate, distinct.Action)
	assert.Empty(t, distinct.ExistingID, "create decisions never carry an existing id")
}

func TestDecide_ExactBoundaryIsNotMerge(t *testing.T) {
	l := testLinker()

	// Exactly half the union matches: still a create, merge needs a majority.
	decision := l.decide(headWithProperties(map[string]any{
		"name":     "Acme",
		"industry": "software",
	}), &CandidateObject{
		Type: "company",
		Properties: map[string]any{
			"name":     "Acme",
			"industry": "software",
			"founded":  2010,
			"city":     "Berlin",
		},
	})
	assert.InDelta(t, 0.5, decision.Overlap, 1e-9)
	assert.Equal(t, LinkActionCreate, decision.Action)
}

func TestMergeCandidateProperties_ExistingWins(t *testing.T) {
	existing := map[string]any{"name": "Acme Corp", "version": "2.0"}
	candidate := map[string]any{"version": "1.0", "employees": 250}

	merged := MergeCandidateProperties(existing, candidate)

	assert.Equal(t, "2.0", merged["version"], "conflicting values keep the existing head's value")
	assert.Equal(t, "Acme Corp", merged["name"])
	assert.Equal(t, 250, merged["employees"], "new candidate properties are added")
}

func TestBusinessKey(t *testing.T) {
	assert.Equal(t, "acme-123", BusinessKey(&CandidateObject{Key: " ACME-123 "}))
	assert.Equal(t, "acme corp", BusinessKey(&CandidateObject{
		Properties: map[string]any{"name": "Acme  Corp"},
	}))
	assert.Equal(t, "", BusinessKey(&CandidateObject{
		Properties: map[string]any{"founded": 2010},
	}))
}

func TestLink_AlwaysNew(t *testing.T) {
	l := testLinker()

	decision, err := l.Link(t.Context(), uuid.New(), &CandidateObject{Type: "company"}, StrategyAlwaysNew)
	require.NoError(t, err)
	assert.Equal(t, LinkActionCreate, decision.Action)
	assert.Empty(t, decision.ExistingID)
}

func TestLink_UnknownStrategy(t *testing.T) {
	l := testLinker()

	_, err := l.Link(t.Context(), uuid.New(), &CandidateObject{Type: "company"}, "nearest_neighbor")
	assert.Error(t, err)
}

func TestValuesMatch(t *testing.T) {
	assert.True(t, valuesMatch("Acme  Corp", "acme corp"))
	assert.True(t, valuesMatch(2010, float64(2010)))
	assert.True(t, valuesMatch([]any{"a", "b"}, []any{"a", "b"}))
	assert.False(t, valuesMatch("2010", 2010))
	assert.False(t, valuesMatch("Acme", "Zenith"))
}

func TestCandidateText(t *testing.T) {
	text := CandidateText(&CandidateObject{
		Type: "company",
		Key:  "acme-123",
		Properties: map[string]any{
			"name":    "Acme Corp",
			"founded": 2010,
			"nested":  map[string]any{"ignored": true},
		},
	})

	assert.Contains(t, text, "company")
	assert.Contains(t, text, "acme-123")
	assert.Contains(t, text, "founded: 2010")
	assert.Contains(t, text, "name: Acme Corp")
	assert.NotContains(t, text, "nested", "non-primitive values stay out of the embedding text")
}
