package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"google.golang.org/genai"

	"github.com/graphmill/graphmill/internal/config"
	"github.com/graphmill/graphmill/pkg/llm"
	"github.com/graphmill/graphmill/pkg/logger"
	"github.com/graphmill/graphmill/pkg/mathutil"
)

// EntailmentScores is the output of a natural-language-inference checker.
type EntailmentScores struct {
	Entailment    float64 `json:"entailment"`
	Contradiction float64 `json:"contradiction"`
	Neutral       float64 `json:"neutral"`
}

// EntailmentChecker is the optional NLI collaborator for the middle
// verification tier. An unavailable checker routes claims straight from
// tier 1 to the tier 3 judge.
type EntailmentChecker interface {
	Predict(ctx context.Context, premise, hypothesis string) (*EntailmentScores, error)
	IsAvailable() bool
}

// NoopEntailmentChecker is the null implementation used when no NLI
// endpoint is configured.
type NoopEntailmentChecker struct{}

func (NoopEntailmentChecker) Predict(ctx context.Context, premise, hypothesis string) (*EntailmentScores, error) {
	return nil, fmt.Errorf("entailment checker not configured")
}

func (NoopEntailmentChecker) IsAvailable() bool { return false }

// ClaimResult is the cascade's verdict on one claim.
type ClaimResult struct {
	Score    float64 `json:"score"`
	Tier     int     `json:"tier"`
	Verified bool    `json:"verified"`
}

// Cascade checks extracted claims against source text, escalating from
// string comparison through entailment to an LLM judge only when the
// cheaper tier is inconclusive.
type Cascade struct {
	cfg        config.VerificationConfig
	nli        EntailmentChecker
	gen        llm.Generator
	judgeModel string
	log        *slog.Logger
}

// NewCascade builds the verification cascade.
func NewCascade(cfg *config.Config, nli EntailmentChecker, gen llm.Generator, log *slog.Logger) *Cascade {
	return &Cascade{
		cfg:        cfg.Verification,
		nli:        nli,
		gen:        gen,
		judgeModel: cfg.LLM.JudgeModel,
		log:        log.With(logger.Scope("verification")),
	}
}

// VerifyClaim runs the cascade for a single claim against the source text.
func (c *Cascade) VerifyClaim(ctx context.Context, source, claim string) ClaimResult {
	sim := TierOneSimilarity(source, claim)
	if sim >= c.cfg.ExactThreshold {
		return ClaimResult{Score: sim, Tier: 1, Verified: true}
	}

	if c.nli != nil && c.nli.IsAvailable() {
		scores, err := c.nli.Predict(ctx, source, claim)
		if err != nil {
			c.log.Debug("entailment check failed, escalating", logger.Error(err))
		} else {
			e := scores.Entailment
			inBand := e >= c.cfg.UncertaintyLow && e <= c.cfg.UncertaintyHigh
			if !inBand {
				if e >= c.cfg.EntailmentThreshold {
					return ClaimResult{Score: e, Tier: 2, Verified: true}
				}
				return ClaimResult{Score: e, Tier: 2, Verified: false}
			}
			// Ambiguous entailment must not be rejected here.
		}
	}

	return c.judge(ctx, source, claim, sim)
}

// VerifyEntity verifies a candidate's identity claim and each property
// independently, up to the configured cap. Properties past the cap count
// as unverified, never as failures.
func (c *Cascade) VerifyEntity(ctx context.Context, source string, cand *CandidateObject) *VerificationOutcome {
	out := &VerificationOutcome{
		Overall:    1.0,
		Properties: map[string]float64{},
		TiersUsed:  map[int]int{},
	}

	evidence := cand.Evidence
	if strings.TrimSpace(evidence) == "" {
		evidence = source
	}

	identity := entityClaim(cand)
	if identity != "" {
		res := c.VerifyClaim(ctx, evidence, identity)
		out.TiersUsed[res.Tier]++
		if res.Score < out.Overall {
			out.Overall = res.Score
		}
	}

	names := make([]string, 0, len(cand.Properties))
	for name := range cand.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	verified := 0
	for _, name := range names {
		if verified >= c.cfg.MaxPropertiesVerified {
			out.Unverified = append(out.Unverified, name)
			continue
		}
		claim := propertyClaim(cand, name, cand.Properties[name])
		if claim == "" {
			out.Unverified = append(out.Unverified, name)
			continue
		}

		res := c.VerifyClaim(ctx, evidence, claim)
		out.Properties[name] = res.Score
		out.TiersUsed[res.Tier]++
		if res.Score < out.Overall {
			out.Overall = res.Score
		}
		verified++
	}

	return out
}

var judgeSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"supported":  {Type: genai.TypeBoolean},
		"confidence": {Type: genai.TypeNumber},
		"reason":     {Type: genai.TypeString},
	},
	Required: []string{"supported", "confidence"},
}

type judgeVerdict struct {
	Supported  bool    `json:"supported"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// judge is the final tier. When the judge itself is unavailable the tier 1
// similarity stands as a low-confidence, unverified score.
func (c *Cascade) judge(ctx context.Context, source, claim string, fallbackScore float64) ClaimResult {
	if c.gen == nil || !c.gen.IsEnabled() {
		return ClaimResult{Score: fallbackScore, Tier: 1, Verified: false}
	}

	prompt := fmt.Sprintf(`You are verifying whether a source text supports a factual claim.

Source text:
"""
%s
"""

Claim: %s

Answer whether the source supports the claim and your confidence in [0,1].`,
		source, claim)

	raw, err := c.gen.GenerateJSON(ctx, c.judgeModel, prompt, judgeSchema)
	if err != nil {
		c.log.Warn("judge call failed", logger.Error(err))
		return ClaimResult{Score: fallbackScore, Tier: 1, Verified: false}
	}

	var verdict judgeVerdict
	if err := json.Unmarshal([]byte(extractJSON(raw)), &verdict); err != nil {
		c.log.Warn("judge returned unparsable verdict", logger.Error(err))
		return ClaimResult{Score: fallbackScore, Tier: 1, Verified: false}
	}

	score := mathutil.Clamp01(verdict.Confidence)
	if !verdict.Supported {
		score = 1 - score
	}
	return ClaimResult{Score: score, Tier: 3, Verified: verdict.Supported}
}

// entityClaim phrases the candidate's identity for verification.
func entityClaim(cand *CandidateObject) string {
	name := candidateName(cand)
	if name == "" {
		return ""
	}
	return fmt.Sprintf("The text mentions a %s named %s.", humanizeType(cand.Type), name)
}

// propertyClaim phrases one property as a checkable statement. Non-primitive
// values are not phrased and stay unverified.
func propertyClaim(cand *CandidateObject, name string, value any) string {
	text := primitiveString(value)
	if text == "" {
		return ""
	}
	subject := candidateName(cand)
	if subject == "" {
		subject = humanizeType(cand.Type)
	}
	return fmt.Sprintf("The %s of %s is %s.", strings.ReplaceAll(name, "_", " "), subject, text)
}

// candidateName picks a display name from the usual property spots.
func candidateName(cand *CandidateObject) string {
	for _, k := range []string{"name", "title", "label"} {
		if v, ok := cand.Properties[k]; ok {
			if s := primitiveString(v); s != "" {
				return s
			}
		}
	}
	return cand.Key
}

func humanizeType(t string) string {
	return strings.ReplaceAll(strings.ToLower(t), "_", " ")
}

// primitiveString renders scalar values; maps and slices return "".
func primitiveString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case bool:
		return fmt.Sprintf("%t", x)
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	case int:
		return fmt.Sprintf("%d", x)
	case int64:
		return fmt.Sprintf("%d", x)
	case nil:
		return ""
	default:
		return ""
	}
}

// TierOneSimilarity scores a claim against source text with pure string
// comparison. Equality after normalization scores 1; a normalized claim
// contained in the source scores just under 1; otherwise edit-distance
// similarity over the normalized strings.
func TierOneSimilarity(source, claim string) float64 {
	ns, nc := NormalizeText(source), NormalizeText(claim)
	if nc == "" {
		return 0
	}
	if ns == nc {
		return 1
	}
	if strings.Contains(ns, nc) {
		return 0.98
	}
	return EditSimilarity(ns, nc)
}

// NormalizeText case-folds, trims, and collapses internal whitespace.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

// EditSimilarity is 1 - levenshtein(a, b) / max(len(a), len(b)).
func EditSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 || lb == 0 {
		return 0
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	dist := prev[lb]
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	return 1 - float64(dist)/float64(maxLen)
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
