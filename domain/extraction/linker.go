package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/graphmill/graphmill/domain/graph"
	"github.com/graphmill/graphmill/internal/config"
	"github.com/graphmill/graphmill/pkg/embeddings"
	"github.com/graphmill/graphmill/pkg/logger"
	"github.com/graphmill/graphmill/pkg/mathutil"
)

// Linking strategies.
const (
	StrategyAlwaysNew        = "always_new"
	StrategyKeyMatch         = "key_match"
	StrategyVectorSimilarity = "vector_similarity"
)

// Property-overlap decision boundaries. A candidate overlapping an existing
// head above the skip boundary is a duplicate; between the boundaries it is
// a partial update; at or below the merge boundary it is a different entity.
const (
	overlapSkipAbove  = 0.9
	overlapMergeAbove = 0.5
)

// EntityLinker decides whether an extracted candidate is new, a duplicate,
// or a partial update of an existing graph object.
type EntityLinker struct {
	cfg      config.LinkerConfig
	graphSvc *graph.Service
	embedder *embeddings.Service
	log      *slog.Logger
}

// NewEntityLinker builds the linker.
func NewEntityLinker(cfg *config.Config, graphSvc *graph.Service, embedder *embeddings.Service, log *slog.Logger) *EntityLinker {
	return &EntityLinker{
		cfg:      cfg.Linker,
		graphSvc: graphSvc,
		embedder: embedder,
		log:      log.With(logger.Scope("linker")),
	}
}

// Link runs the configured strategy for one candidate. strategy overrides
// the configured default when non-empty.
func (l *EntityLinker) Link(ctx context.Context, projectID uuid.UUID, cand *CandidateObject, strategy string) (*LinkDecision, error) {
	if strategy == "" {
		strategy = l.cfg.Strategy
	}

	switch strategy {
	case StrategyAlwaysNew:
		return &LinkDecision{Action: LinkActionCreate, Reason: "always_new strategy"}, nil
	case StrategyKeyMatch:
		return l.linkByKey(ctx, projectID, cand)
	case StrategyVectorSimilarity:
		return l.linkByVector(ctx, projectID, cand)
	default:
		return nil, fmt.Errorf("unknown linking strategy %q", strategy)
	}
}

func (l *EntityLinker) linkByKey(ctx context.Context, projectID uuid.UUID, cand *CandidateObject) (*LinkDecision, error) {
	key := BusinessKey(cand)
	if key == "" {
		return &LinkDecision{Action: LinkActionCreate, Reason: "no business key"}, nil
	}

	head, err := l.graphSvc.FindByTypeAndKey(ctx, projectID, cand.Type, key)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return &LinkDecision{Action: LinkActionCreate, Reason: "no live head with key " + key}, nil
	}
	return l.decide(head, cand), nil
}

func (l *EntityLinker) linkByVector(ctx context.Context, projectID uuid.UUID, cand *CandidateObject) (*LinkDecision, error) {
	text := CandidateText(cand)
	vector, err := l.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		// Embeddings disabled.
		return l.linkByKey(ctx, projectID, cand)
	}

	maxDistance := float32(1 - l.cfg.SimilarityThreshold)
	results, err := l.graphSvc.SearchByVector(ctx, graph.VectorSearchParams{
		ProjectID:   projectID,
		Vector:      vector,
		Types:       []string{cand.Type},
		MaxDistance: &maxDistance,
		Limit:       mathutil.ClampInt(l.cfg.MaxCandidates, 1, 50),
	})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &LinkDecision{Action: LinkActionCreate, Reason: "no similar head within threshold"}, nil
	}

	best := results[0]
	decision := l.decide(best.Object, cand)
	decision.Reason = fmt.Sprintf("%s (distance %.3f)", decision.Reason, best.Distance)
	return decision, nil
}

// decide applies the property-overlap policy against a matched head.
func (l *EntityLinker) decide(head *graph.GraphObject, cand *CandidateObject) *LinkDecision {
	overlap := PropertyOverlap(head.Properties, cand.Properties)

	decision := &LinkDecision{
		ExistingID: head.CanonicalID.String(),
		Overlap:    overlap,
	}
	switch {
	case overlap > overlapSkipAbove:
		decision.Action = LinkActionSkip
		decision.Reason = fmt.Sprintf("duplicate of existing head (overlap %.2f)", overlap)
	case overlap > overlapMergeAbove:
		decision.Action = LinkActionMerge
		decision.Reason = fmt.Sprintf("partial update of existing head (overlap %.2f)", overlap)
	default:
		decision.Action = LinkActionCreate
		decision.ExistingID = ""
		decision.Reason = fmt.Sprintf("distinct from nearest head (overlap %.2f)", overlap)
	}

	l.log.Debug("link decision",
		slog.String("type", cand.Type),
		slog.String("action", string(decision.Action)),
		slog.Float64("overlap", overlap))
	return decision
}

// PropertyOverlap is |matching properties| / |union of property keys|. A
// property matches when both sides carry it with an equivalent value (string
// comparison is normalized).
func PropertyOverlap(existing, candidate map[string]any) float64 {
	union := map[string]struct{}{}
	for k := range existing {
		union[k] = struct{}{}
	}
	for k := range candidate {
		union[k] = struct{}{}
	}
	if len(union) == 0 {
		return 0
	}

	matching := 0
	for k, ev := range existing {
		cv, ok := candidate[k]
		if ok && valuesMatch(ev, cv) {
			matching++
		}
	}
	return float64(matching) / float64(len(union))
}

// MergeCandidateProperties unions the property sets for a merge decision.
// Candidate properties missing from the existing head are added; conflicting
// values keep the existing head's value.
func MergeCandidateProperties(existing, candidate map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(candidate))
	for k, v := range candidate {
		merged[k] = v
	}
	for k, v := range existing {
		merged[k] = v
	}
	return merged
}

// BusinessKey derives the deterministic key used by the key_match strategy:
// the candidate's explicit key, else a normalized name property.
func BusinessKey(cand *CandidateObject) string {
	if k := strings.TrimSpace(cand.Key); k != "" {
		return NormalizeText(k)
	}
	if name := candidateName(cand); name != "" {
		return NormalizeText(name)
	}
	return ""
}

// CandidateText renders the candidate for embedding: type, key, then
// primitive property values in stable order.
func CandidateText(cand *CandidateObject) string {
	parts := []string{humanizeType(cand.Type)}
	if cand.Key != "" {
		parts = append(parts, cand.Key)
	}

	names := make([]string, 0, len(cand.Properties))
	for name := range cand.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if s := primitiveString(cand.Properties[name]); s != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", name, s))
		}
	}
	return strings.Join(parts, "\n")
}

// valuesMatch compares property values loosely: strings compare normalized,
// numbers compare by value, everything else by deep equality of the JSON
// representation.
func valuesMatch(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return NormalizeText(as) == NormalizeText(bs)
	}

	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}

	if reflect.DeepEqual(a, b) {
		return true
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
