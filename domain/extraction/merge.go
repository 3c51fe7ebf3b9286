package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/graphmill/graphmill/domain/graph"
	"github.com/graphmill/graphmill/internal/config"
	"github.com/graphmill/graphmill/pkg/llm"
	"github.com/graphmill/graphmill/pkg/logger"
	"github.com/graphmill/graphmill/pkg/mathutil"
)

// Merge suggestion action tags.
const (
	MergeKeepSource = "keep_source"
	MergeKeepTarget = "keep_target"
	MergeCombine    = "combine"
	MergeNewValue   = "new_value"
)

// fallbackWarning marks proposals produced by the deterministic rules.
const fallbackWarning = "suggestions were produced by deterministic rules without AI review"

// MergeSuggestion is one per-property recommendation.
type MergeSuggestion struct {
	Property    string  `json:"property"`
	Action      string  `json:"action"`
	Value       any     `json:"value"`
	Explanation string  `json:"explanation,omitempty"`
	Confidence  float64 `json:"confidence"`
	NeedsReview bool    `json:"needsReview,omitempty"`
}

// MergeProposal is the full recommendation for merging source into target.
type MergeProposal struct {
	SourceID         string            `json:"sourceId"`
	TargetID         string            `json:"targetId"`
	Suggestions      []MergeSuggestion `json:"suggestions"`
	MergedProperties map[string]any    `json:"mergedProperties"`
	AIReviewed       bool              `json:"aiReviewed"`
	Warning          string            `json:"warning,omitempty"`
}

// MergeAssist proposes how to merge two existing objects' properties. It is
// an interactive helper, not part of the worker's commit path.
type MergeAssist struct {
	graphSvc *graph.Service
	gen      llm.Generator
	model    string
	log      *slog.Logger
}

// NewMergeAssist builds the assist.
func NewMergeAssist(cfg *config.Config, graphSvc *graph.Service, gen llm.Generator, log *slog.Logger) *MergeAssist {
	return &MergeAssist{
		graphSvc: graphSvc,
		gen:      gen,
		model:    cfg.LLM.Model,
		log:      log.With(logger.Scope("merge-assist")),
	}
}

// SuggestMerge fetches both objects and proposes a merged property set.
// LLM failure or unparsable output falls back to deterministic rules, with
// the proposal flagged as not AI-reviewed.
func (m *MergeAssist) SuggestMerge(ctx context.Context, projectID, sourceID, targetID uuid.UUID) (*MergeProposal, error) {
	source, err := m.graphSvc.GetByID(ctx, projectID, sourceID)
	if err != nil {
		return nil, err
	}
	target, err := m.graphSvc.GetByID(ctx, projectID, targetID)
	if err != nil {
		return nil, err
	}

	proposal := &MergeProposal{
		SourceID: source.CanonicalID.String(),
		TargetID: target.CanonicalID.String(),
	}

	if m.gen != nil && m.gen.IsEnabled() {
		suggestions, err := m.suggestWithLLM(ctx, source, target)
		if err == nil {
			proposal.Suggestions = sortSuggestions(suggestions)
			proposal.MergedProperties = applySuggestions(source.Properties, target.Properties, proposal.Suggestions)
			proposal.AIReviewed = true
			return proposal, nil
		}
		m.log.Warn("merge suggestion LLM call failed, using fallback", logger.Error(err))
	}

	proposal.Suggestions = sortSuggestions(FallbackMergeSuggestions(source.Properties, target.Properties))
	proposal.MergedProperties = applySuggestions(source.Properties, target.Properties, proposal.Suggestions)
	proposal.Warning = fallbackWarning
	return proposal, nil
}

var mergeSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"suggestions": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"property":    {Type: genai.TypeString},
					"action":      {Type: genai.TypeString, Enum: []string{MergeKeepSource, MergeKeepTarget, MergeCombine, MergeNewValue}},
					"value":       {Type: genai.TypeString},
					"explanation": {Type: genai.TypeString},
					"confidence":  {Type: genai.TypeNumber},
				},
				Required: []string{"property", "action", "confidence"},
			},
		},
	},
	Required: []string{"suggestions"},
}

func (m *MergeAssist) suggestWithLLM(ctx context.Context, source, target *graph.GraphObject) ([]MergeSuggestion, error) {
	srcJSON, _ := json.MarshalIndent(source.Properties, "", "  ")
	dstJSON, _ := json.MarshalIndent(target.Properties, "", "  ")

	prompt := fmt.Sprintf(`Two records of type %q describe the same entity and must be merged.
The target record survives; the source record will be absorbed into it.

Source properties:
%s

Target properties:
%s

For every property present on either side, recommend one action:
- keep_source: take the source's value
- keep_target: take the target's value
- combine: combine both values (provide the combined value)
- new_value: neither value is right (provide the corrected value)

Provide a short explanation and a confidence in [0,1] per property.`,
		target.Type, srcJSON, dstJSON)

	raw, err := m.gen.GenerateJSON(ctx, m.model, prompt, mergeSchema)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Suggestions []MergeSuggestion `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("unparsable merge suggestions: %w", err)
	}
	if len(parsed.Suggestions) == 0 {
		return nil, fmt.Errorf("empty merge suggestions")
	}

	for i := range parsed.Suggestions {
		parsed.Suggestions[i].Confidence = mathutil.Clamp01(parsed.Suggestions[i].Confidence)
	}
	return parsed.Suggestions, nil
}

// FallbackMergeSuggestions applies the deterministic merge rules:
// identical values keep the target; one-sided values keep that side;
// differing strings prefer the substantially longer one, otherwise the
// target's value is kept and flagged for manual review; differing
// non-strings keep the target.
func FallbackMergeSuggestions(source, target map[string]any) []MergeSuggestion {
	names := map[string]struct{}{}
	for k := range source {
		names[k] = struct{}{}
	}
	for k := range target {
		names[k] = struct{}{}
	}

	out := make([]MergeSuggestion, 0, len(names))
	for name := range names {
		sv, inSource := source[name]
		tv, inTarget := target[name]

		switch {
		case inSource && !inTarget:
			out = append(out, MergeSuggestion{
				Property: name, Action: MergeKeepSource, Value: sv,
				Explanation: "only the source has a value", Confidence: 0.9,
			})
		case inTarget && !inSource:
			out = append(out, MergeSuggestion{
				Property: name, Action: MergeKeepTarget, Value: tv,
				Explanation: "only the target has a value", Confidence: 0.9,
			})
		case valuesMatch(sv, tv):
			out = append(out, MergeSuggestion{
				Property: name, Action: MergeKeepTarget, Value: tv,
				Explanation: "values are identical", Confidence: 1.0,
			})
		default:
			out = append(out, resolveConflict(name, sv, tv))
		}
	}
	return out
}

func resolveConflict(name string, sv, tv any) MergeSuggestion {
	ss, sok := sv.(string)
	ts, tok := tv.(string)
	if sok && tok {
		ls, lt := len(strings.TrimSpace(ss)), len(strings.TrimSpace(ts))
		shorter, longer := ls, lt
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		if shorter > 0 && float64(longer-shorter) > 0.5*float64(shorter) {
			if ls > lt {
				return MergeSuggestion{
					Property: name, Action: MergeKeepSource, Value: sv,
					Explanation: "source value is substantially more complete", Confidence: 0.7,
				}
			}
			return MergeSuggestion{
				Property: name, Action: MergeKeepTarget, Value: tv,
				Explanation: "target value is substantially more complete", Confidence: 0.7,
			}
		}
		return MergeSuggestion{
			Property: name, Action: MergeKeepTarget, Value: tv,
			Explanation: "values conflict with similar length", Confidence: 0.5,
			NeedsReview: true,
		}
	}

	return MergeSuggestion{
		Property: name, Action: MergeKeepTarget, Value: tv,
		Explanation: "non-string values conflict", Confidence: 0.6,
	}
}

// sortSuggestions orders keep decisions before combine/new_value, then by
// confidence descending, then property name for stability.
func sortSuggestions(suggestions []MergeSuggestion) []MergeSuggestion {
	rank := func(action string) int {
		switch action {
		case MergeKeepTarget:
			return 0
		case MergeKeepSource:
			return 1
		case MergeCombine:
			return 2
		default:
			return 3
		}
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		ri, rj := rank(suggestions[i].Action), rank(suggestions[j].Action)
		if ri != rj {
			return ri < rj
		}
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		return suggestions[i].Property < suggestions[j].Property
	})
	return suggestions
}

// applySuggestions materializes the merged property set.
func applySuggestions(source, target map[string]any, suggestions []MergeSuggestion) map[string]any {
	merged := make(map[string]any, len(target)+len(source))
	for k, v := range target {
		merged[k] = v
	}
	for _, s := range suggestions {
		switch s.Action {
		case MergeKeepSource:
			if v, ok := source[s.Property]; ok {
				merged[s.Property] = v
			}
		case MergeKeepTarget:
			if v, ok := target[s.Property]; ok {
				merged[s.Property] = v
			}
		case MergeCombine, MergeNewValue:
			if s.Value != nil {
				merged[s.Property] = s.Value
			}
		}
	}
	return merged
}
