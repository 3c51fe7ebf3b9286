package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/graphmill/graphmill/domain/schemas"
	"github.com/graphmill/graphmill/internal/config"
)

func testQualityGate() *QualityGate {
	return NewQualityGate(&config.Config{
		Quality: config.QualityConfig{
			MinConfidence:       0.0,
			ReviewThreshold:     0.7,
			AutoCreateThreshold: 0.85,
		},
	})
}

func TestQualityScore_BlendWeights(t *testing.T) {
	g := testQualityGate()

	// All component scores at 1.0 must blend to exactly 1.0.
	cand := &CandidateObject{
		Type:       "company",
		Confidence: 1.0,
		Properties: map[string]any{"name": "Acme Corporation Holdings"},
		Evidence:   "Acme Corporation Holdings was mentioned in the quarterly filing.",
	}

	score := g.Score(cand, nil, nil, nil)
	assert.InDelta(t, 1.0, score.Overall, 1e-9)
	assert.Equal(t, GateAutoCreate, score.Decision)
}

func TestQualityScore_VerificationCapsConfidence(t *testing.T) {
	g := testQualityGate()

	cand := &CandidateObject{
		Type:       "company",
		Confidence: 0.95,
		Properties: map[string]any{"name": "Acme Corporation Holdings"},
		Evidence:   "Acme Corporation Holdings was mentioned in the filing.",
	}

	unchecked := g.Score(cand, nil, nil, nil)
	capped := g.Score(cand, nil, &VerificationOutcome{Overall: 0.3}, nil)

	assert.Less(t, capped.Overall, unchecked.Overall)
	assert.InDelta(t, 0.3, capped.Confidence, 1e-9)
}

func TestQualityScore_DecisionBands(t *testing.T) {
	g := NewQualityGate(&config.Config{
		Quality: config.QualityConfig{
			MinConfidence:       0.4,
			ReviewThreshold:     0.7,
			AutoCreateThreshold: 0.85,
		},
	})

	// No properties, no evidence, zero confidence: every component is 0.
	low := g.Score(&CandidateObject{Type: "company"}, nil, nil, nil)
	assert.Equal(t, GateDiscard, low.Decision)

	// Strong candidate lands above the auto-create threshold.
	high := g.Score(&CandidateObject{
		Type:       "company",
		Confidence: 0.95,
		Properties: map[string]any{"name": "Acme Corporation Holdings"},
		Evidence:   "Acme Corporation Holdings filed its annual report.",
	}, nil, nil, nil)
	assert.Equal(t, GateAutoCreate, high.Decision)

	// Middling confidence with thin values falls into the review band.
	mid := g.Score(&CandidateObject{
		Type:       "company",
		Confidence: 0.5,
		Properties: map[string]any{"name": "Acme"},
		Evidence:   "Acme was mentioned once.",
	}, nil, nil, nil)
	assert.Equal(t, GateReview, mid.Decision)
}

func TestQualityScore_ReviewPriorityBands(t *testing.T) {
	g := testQualityGate()

	// Blends to 0.66: confidence 0.4 (0.16) + completeness (0.3) +
	// evidence (0.2) + blank-only value quality (0). Below the 0.7 review
	// threshold the review is urgent.
	urgent := g.Score(&CandidateObject{
		Type:       "company",
		Confidence: 0.4,
		Properties: map[string]any{"name": "   "},
		Evidence:   "Acme was mentioned once.",
	}, nil, nil, nil)
	assert.Equal(t, GateReview, urgent.Decision)
	assert.Equal(t, ReviewPriorityHigh, urgent.ReviewPriority)

	// Blends to 0.77, between the review and auto-create thresholds.
	relaxed := g.Score(&CandidateObject{
		Type:       "company",
		Confidence: 0.5,
		Properties: map[string]any{"name": "Acme"},
		Evidence:   "Acme was mentioned once.",
	}, nil, nil, nil)
	assert.Equal(t, GateReview, relaxed.Decision)
	assert.Equal(t, ReviewPriorityLow, relaxed.ReviewPriority)

	// Outside the review band no priority is assigned.
	auto := g.Score(&CandidateObject{
		Type:       "company",
		Confidence: 1.0,
		Properties: map[string]any{"name": "Acme Corporation Holdings"},
		Evidence:   "Acme Corporation Holdings filed its annual report.",
	}, nil, nil, nil)
	assert.Equal(t, GateAutoCreate, auto.Decision)
	assert.Empty(t, auto.ReviewPriority)
}

func TestQualityScore_ReviewThresholdOverride(t *testing.T) {
	g := testQualityGate()

	// Blends to 0.77, inside the review band either way.
	cand := &CandidateObject{
		Type:       "company",
		Confidence: 0.5,
		Properties: map[string]any{"name": "Acme"},
		Evidence:   "Acme was mentioned once.",
	}

	lenient := 0.10
	strict := 0.99
	relaxed := g.Score(cand, nil, nil, &JobConfig{ReviewThreshold: &lenient})
	urgent := g.Score(cand, nil, nil, &JobConfig{ReviewThreshold: &strict})

	assert.Equal(t, GateReview, relaxed.Decision)
	assert.Equal(t, ReviewPriorityLow, relaxed.ReviewPriority)
	assert.Equal(t, GateReview, urgent.Decision)
	assert.Equal(t, ReviewPriorityHigh, urgent.ReviewPriority)
	assert.NotEqual(t, relaxed, urgent)
}

func TestQualityScore_JobOverridesChangeBands(t *testing.T) {
	g := testQualityGate()

	cand := &CandidateObject{
		Type:       "company",
		Confidence: 0.95,
		Properties: map[string]any{"name": "Acme Corporation Holdings"},
		Evidence:   "Acme Corporation Holdings filed its annual report.",
	}

	base := g.Score(cand, nil, nil, nil)
	assert.Equal(t, GateAutoCreate, base.Decision)

	// Raising the auto-create bar above the blended score forces review.
	strict := 0.99
	overridden := g.Score(cand, nil, nil, &JobConfig{AutoCreateThreshold: &strict})
	assert.Equal(t, GateReview, overridden.Decision)

	// Raising the floor above the score forces a discard.
	floor := 0.99
	discarded := g.Score(cand, nil, nil, &JobConfig{MinConfidence: &floor, AutoCreateThreshold: &strict})
	assert.Equal(t, GateDiscard, discarded.Decision)
}

func TestSchemaCompleteness(t *testing.T) {
	schema := &schemas.ObjectSchema{
		Required: []string{"name", "industry", "founded"},
	}

	tests := []struct {
		name  string
		props map[string]any
		want  float64
	}{
		{"all required present", map[string]any{"name": "Acme", "industry": "software", "founded": 2010}, 1},
		{"one of three", map[string]any{"name": "Acme", "extra": "x"}, 1.0 / 3},
		{"empty string does not count", map[string]any{"name": "  ", "industry": "software"}, 1.0 / 3},
		{"none", map[string]any{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, SchemaCompleteness(tt.props, schema), 1e-9)
		})
	}

	// Without a schema any non-empty bag counts as complete.
	assert.Equal(t, 1.0, SchemaCompleteness(map[string]any{"x": 1}, nil))
	assert.Equal(t, 0.0, SchemaCompleteness(map[string]any{}, nil))
}

func TestEvidenceScore(t *testing.T) {
	assert.Equal(t, 0.0, EvidenceScore("  "))
	assert.Equal(t, 0.5, EvidenceScore("Acme"))
	assert.Equal(t, 1.0, EvidenceScore("Acme Corp was founded in 2010."))
}

func TestValueQuality(t *testing.T) {
	assert.Equal(t, 0.0, ValueQuality(nil))
	assert.Equal(t, 1.0, ValueQuality(map[string]any{"desc": "a substantive value"}))
	assert.Equal(t, 0.8, ValueQuality(map[string]any{"count": 42}))
	assert.InDelta(t, 0.3, ValueQuality(map[string]any{"abbr": "ab"}), 1e-9)
	assert.Equal(t, 0.0, ValueQuality(map[string]any{"empty": "   "}))
}
