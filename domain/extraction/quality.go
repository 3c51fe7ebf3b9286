package extraction

import (
	"strings"

	"github.com/graphmill/graphmill/domain/schemas"
	"github.com/graphmill/graphmill/internal/config"
	"github.com/graphmill/graphmill/pkg/mathutil"
)

// Quality blend weights.
const (
	weightConfidence   = 0.40
	weightCompleteness = 0.30
	weightEvidence     = 0.20
	weightValueQuality = 0.10
)

// QualityGate converts raw extraction signals into an accept, review, or
// discard decision. All scoring is pure so the policy can be tested without
// any infrastructure.
type QualityGate struct {
	cfg config.QualityConfig
}

// NewQualityGate builds the gate with the configured decision bands.
func NewQualityGate(cfg *config.Config) *QualityGate {
	return &QualityGate{cfg: cfg.Quality}
}

// Thresholds returns the effective bands after applying per-job overrides.
func (g *QualityGate) Thresholds(override *JobConfig) config.QualityConfig {
	eff := g.cfg
	if override == nil {
		return eff
	}
	if override.MinConfidence != nil {
		eff.MinConfidence = *override.MinConfidence
	}
	if override.ReviewThreshold != nil {
		eff.ReviewThreshold = *override.ReviewThreshold
	}
	if override.AutoCreateThreshold != nil {
		eff.AutoCreateThreshold = *override.AutoCreateThreshold
	}
	return eff
}

// Score blends the candidate's signals and applies the decision bands.
// verification caps the blended confidence when the cascade scored lower
// than the model's self-report.
func (g *QualityGate) Score(cand *CandidateObject, schema *schemas.ObjectSchema, verification *VerificationOutcome, override *JobConfig) QualityScore {
	bands := g.Thresholds(override)

	confidence := mathutil.Clamp01(cand.Confidence)
	if verification != nil && verification.Overall < confidence {
		confidence = mathutil.Clamp01(verification.Overall)
	}

	completeness := SchemaCompleteness(cand.Properties, schema)
	evidence := EvidenceScore(cand.Evidence)
	valueQuality := ValueQuality(cand.Properties)

	overall := weightConfidence*confidence +
		weightCompleteness*completeness +
		weightEvidence*evidence +
		weightValueQuality*valueQuality

	score := QualityScore{
		Overall:      overall,
		Confidence:   confidence,
		Completeness: completeness,
		Evidence:     evidence,
		ValueQuality: valueQuality,
	}

	switch {
	case overall < bands.MinConfidence:
		score.Decision = GateDiscard
	case overall >= bands.AutoCreateThreshold:
		score.Decision = GateAutoCreate
	case overall >= bands.ReviewThreshold:
		score.Decision = GateReview
		score.ReviewPriority = ReviewPriorityLow
	default:
		score.Decision = GateReview
		score.ReviewPriority = ReviewPriorityHigh
	}
	return score
}

// SchemaCompleteness is the fraction of the schema's required properties the
// candidate populated. Without a schema (or with no required properties) a
// non-empty property bag counts as complete.
func SchemaCompleteness(props map[string]any, schema *schemas.ObjectSchema) float64 {
	if schema == nil || len(schema.Required) == 0 {
		if len(props) > 0 {
			return 1
		}
		return 0
	}

	populated := 0
	for _, name := range schema.Required {
		if v, ok := props[name]; ok && !isEmptyValue(v) {
			populated++
		}
	}
	return mathutil.SafeRatio(float64(populated), float64(len(schema.Required)))
}

// EvidenceScore rewards the presence of a source excerpt. A substantive
// excerpt scores full marks; a token-length fragment scores half.
func EvidenceScore(evidence string) float64 {
	trimmed := strings.TrimSpace(evidence)
	switch {
	case trimmed == "":
		return 0
	case len(trimmed) < 10:
		return 0.5
	default:
		return 1
	}
}

// ValueQuality penalizes empty and very short string values and rewards
// substantive text. Non-string values score neutral.
func ValueQuality(props map[string]any) float64 {
	if len(props) == 0 {
		return 0
	}

	total := 0.0
	for _, v := range props {
		switch x := v.(type) {
		case string:
			s := strings.TrimSpace(x)
			switch {
			case s == "":
				total += 0
			case len(s) < 3:
				total += 0.3
			case len(s) < 10:
				total += 0.7
			default:
				total += 1
			}
		case nil:
			total += 0
		default:
			total += 0.8
		}
	}
	return total / float64(len(props))
}

func isEmptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	default:
		return false
	}
}
