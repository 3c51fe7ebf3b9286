package extraction

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/graphmill/graphmill/internal/config"
)

func testVerificationConfig() config.VerificationConfig {
	return config.VerificationConfig{
		ExactThreshold:        0.95,
		EntailmentThreshold:   0.9,
		UncertaintyLow:        0.4,
		UncertaintyHigh:       0.6,
		MaxPropertiesVerified: 20,
	}
}

func testCascade(nli EntailmentChecker, gen *stubGenerator) *Cascade {
	cfg := &config.Config{Verification: testVerificationConfig()}
	cfg.LLM.JudgeModel = "judge-model"
	c := NewCascade(cfg, nli, nil, discardLogger())
	if gen != nil {
		c.gen = gen
	}
	return c
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubNLI struct {
	scores EntailmentScores
	err    error
	calls  int
}

func (s *stubNLI) Predict(ctx context.Context, premise, hypothesis string) (*EntailmentScores, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	sc := s.scores
	return &sc, nil
}

func (s *stubNLI) IsAvailable() bool { return true }

type stubGenerator struct {
	response string
	err      error
	calls    int
}

func (s *stubGenerator) GenerateJSON(ctx context.Context, model, prompt string, schema *genai.Schema) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *stubGenerator) GenerateText(ctx context.Context, model, prompt string) (string, error) {
	return s.GenerateJSON(ctx, model, prompt, nil)
}

func (s *stubGenerator) IsEnabled() bool      { return true }
func (s *stubGenerator) DefaultModel() string { return "stub-model" }

func TestVerifyClaim_ExactMatchStaysInTierOne(t *testing.T) {
	nli := &stubNLI{}
	c := testCascade(nli, &stubGenerator{})

	res := c.VerifyClaim(context.Background(), "Acme Corp was founded in 2010.", "Acme Corp was founded in 2010.")

	assert.Equal(t, 1, res.Tier)
	assert.True(t, res.Verified)
	assert.GreaterOrEqual(t, res.Score, 0.95)
	assert.Equal(t, 0, nli.calls, "cheaper tier passed, NLI must not run")
}

func TestVerifyClaim_ContainmentStaysInTierOne(t *testing.T) {
	c := testCascade(&stubNLI{}, &stubGenerator{})

	source := "The company Acme Corp was founded in 2010 by two engineers in Berlin."
	res := c.VerifyClaim(context.Background(), source, "Acme Corp was founded in 2010")

	assert.Equal(t, 1, res.Tier)
	assert.True(t, res.Verified)
}

func TestVerifyClaim_HighEntailmentVerifiesAtTierTwo(t *testing.T) {
	nli := &stubNLI{scores: EntailmentScores{Entailment: 0.93}}
	gen := &stubGenerator{}
	c := testCascade(nli, gen)

	res := c.VerifyClaim(context.Background(), "Acme is a software company.", "Acme builds software.")

	assert.Equal(t, 2, res.Tier)
	assert.True(t, res.Verified)
	assert.InDelta(t, 0.93, res.Score, 1e-9)
	assert.Equal(t, 0, gen.calls, "judge must not run on a clear entailment")
}

func TestVerifyClaim_LowEntailmentRejectsAtTierTwo(t *testing.T) {
	nli := &stubNLI{scores: EntailmentScores{Entailment: 0.15}}
	gen := &stubGenerator{}
	c := testCascade(nli, gen)

	res := c.VerifyClaim(context.Background(), "Acme makes rockets.", "Acme farms salmon in Norway.")

	assert.Equal(t, 2, res.Tier)
	assert.False(t, res.Verified)
	assert.Equal(t, 0, gen.calls)
}

func TestVerifyClaim_UncertainEntailmentEscalatesToJudge(t *testing.T) {
	// 0.5 is below the entailment threshold, but the uncertainty band
	// forbids a tier 2 rejection.
	nli := &stubNLI{scores: EntailmentScores{Entailment: 0.5}}
	gen := &stubGenerator{response: `{"supported": true, "confidence": 0.8}`}
	c := testCascade(nli, gen)

	res := c.VerifyClaim(context.Background(), "Acme might expand next year.", "Acme plans to expand.")

	assert.Equal(t, 3, res.Tier)
	assert.True(t, res.Verified)
	assert.InDelta(t, 0.8, res.Score, 1e-9)
	assert.Equal(t, 1, gen.calls)
}

func TestVerifyClaim_NLIUnavailableSkipsToJudge(t *testing.T) {
	gen := &stubGenerator{response: `{"supported": false, "confidence": 0.9}`}
	c := testCascade(NoopEntailmentChecker{}, gen)

	res := c.VerifyClaim(context.Background(), "Acme makes rockets.", "Acme farms salmon.")

	assert.Equal(t, 3, res.Tier)
	assert.False(t, res.Verified)
	assert.InDelta(t, 0.1, res.Score, 1e-9, "unsupported verdict inverts the confidence")
}

func TestVerifyClaim_JudgeUnavailableKeepsTierOneScoreUnverified(t *testing.T) {
	c := testCascade(NoopEntailmentChecker{}, nil)

	res := c.VerifyClaim(context.Background(), "Acme makes rockets in Texas.", "Acme farms salmon.")

	assert.Equal(t, 1, res.Tier)
	assert.False(t, res.Verified)
	assert.Less(t, res.Score, 0.95)
}

func TestVerifyClaim_JudgeErrorFallsBackUnverified(t *testing.T) {
	gen := &stubGenerator{err: fmt.Errorf("model overloaded")}
	c := testCascade(NoopEntailmentChecker{}, gen)

	res := c.VerifyClaim(context.Background(), "Acme makes rockets.", "Acme farms salmon.")

	assert.Equal(t, 1, res.Tier)
	assert.False(t, res.Verified)
}

func TestVerifyEntity_CapsVerifiedProperties(t *testing.T) {
	cfg := &config.Config{Verification: testVerificationConfig()}
	cfg.Verification.MaxPropertiesVerified = 2
	c := NewCascade(cfg, NoopEntailmentChecker{}, nil, discardLogger())

	cand := &CandidateObject{
		Type: "company",
		Properties: map[string]any{
			"name":     "Acme Corp",
			"industry": "software",
			"founded":  2010,
			"city":     "Berlin",
		},
		Evidence: "Acme Corp is a software company founded in 2010 in Berlin.",
	}

	out := c.VerifyEntity(context.Background(), "", cand)

	require.NotNil(t, out)
	assert.Len(t, out.Properties, 2)
	// Names are processed in sorted order; the two past the cap stay unverified.
	assert.ElementsMatch(t, []string{"industry", "name"}, out.Unverified)
	assert.LessOrEqual(t, out.Overall, 1.0)
}

func TestVerifyEntity_OverallIsMinimumScore(t *testing.T) {
	nli := &stubNLI{scores: EntailmentScores{Entailment: 0.92}}
	c := testCascade(nli, &stubGenerator{response: `{"supported": true, "confidence": 0.7}`})

	cand := &CandidateObject{
		Type:       "company",
		Properties: map[string]any{"name": "Acme Corp"},
		Evidence:   "Acme Corp announced a new office.",
	}

	out := c.VerifyEntity(context.Background(), "ignored when evidence present", cand)

	var minScore = 1.0
	for _, s := range out.Properties {
		if s < minScore {
			minScore = s
		}
	}
	assert.LessOrEqual(t, out.Overall, minScore)
}

func TestVerifyEntity_FallsBackToSourceWhenNoEvidence(t *testing.T) {
	c := testCascade(NoopEntailmentChecker{}, nil)

	cand := &CandidateObject{
		Type:       "company",
		Properties: map[string]any{"name": "Acme Corp"},
	}

	out := c.VerifyEntity(context.Background(), "The text mentions a company named Acme Corp.", cand)

	// Identity claim matches the source exactly, so tier 1 decides it.
	assert.Equal(t, 1, len(out.TiersUsed))
	assert.Greater(t, out.TiersUsed[1], 0)
}

func TestTierOneSimilarity(t *testing.T) {
	tests := []struct {
		name   string
		source string
		claim  string
		want   float64
	}{
		{"identical", "Acme Corp", "Acme Corp", 1},
		{"case and spacing", "  ACME   corp ", "acme corp", 1},
		{"contained", "the firm acme corp was founded in berlin", "acme corp", 0.98},
		{"empty claim", "anything", "   ", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, TierOneSimilarity(tt.source, tt.claim), 1e-9)
		})
	}
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "acme corp", NormalizeText("  ACME\t\tCorp \n"))
	assert.Equal(t, "", NormalizeText("   "))
}

func TestEditSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, EditSimilarity("acme", "acme"))
	assert.Equal(t, 0.0, EditSimilarity("", "acme"))
	// One substitution in a four-rune string.
	assert.InDelta(t, 0.75, EditSimilarity("acme", "acne"), 1e-9)
	assert.Less(t, EditSimilarity("acme corp", "zenith ltd"), 0.5)
}
