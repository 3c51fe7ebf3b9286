package extraction

// CandidateObject is one object proposed by the extraction model, identified
// within the batch by a temporary id until linking assigns a real one.
type CandidateObject struct {
	TempID     string         `json:"temp_id"`
	Type       string         `json:"type"`
	Key        string         `json:"key,omitempty"`
	Labels     []string       `json:"labels,omitempty"`
	Properties map[string]any `json:"properties"`
	Confidence float64        `json:"confidence"`
	Evidence   string         `json:"evidence,omitempty"`
}

// CandidateRelationship links two candidates (or existing objects) by temp id.
type CandidateRelationship struct {
	Type         string         `json:"type"`
	SourceTempID string         `json:"source_temp_id"`
	TargetTempID string         `json:"target_temp_id"`
	Properties   map[string]any `json:"properties,omitempty"`
	Confidence   float64        `json:"confidence"`
	Evidence     string         `json:"evidence,omitempty"`
}

// ExtractionResult is the parsed model output for one source text.
type ExtractionResult struct {
	Objects       []CandidateObject       `json:"objects"`
	Relationships []CandidateRelationship `json:"relationships"`
}

// LinkAction says what the linker decided for a candidate.
type LinkAction string

const (
	LinkActionCreate LinkAction = "create"
	LinkActionMerge  LinkAction = "merge"
	LinkActionSkip   LinkAction = "skip"
)

// LinkDecision is the outcome of linking one candidate against the graph.
type LinkDecision struct {
	Action LinkAction
	// ExistingID is the canonical id of the matched head for merge and skip.
	ExistingID string
	// Overlap is the property overlap score against the matched head, when a
	// match was considered.
	Overlap float64
	// Reason is a short human-readable explanation for review surfaces.
	Reason string
}

// VerificationOutcome aggregates per-property verification for a candidate.
type VerificationOutcome struct {
	// Overall is the minimum of all verified property scores, 1.0 when
	// nothing was verifiable.
	Overall float64 `json:"overall"`
	// Properties maps property name to its verification score.
	Properties map[string]float64 `json:"properties"`
	// Unverified lists properties skipped because no evidence was available
	// or the per-candidate cap was reached.
	Unverified []string `json:"unverified,omitempty"`
	// TiersUsed counts how many properties each tier decided.
	TiersUsed map[int]int `json:"tiers_used,omitempty"`
}

// GateDecision routes a candidate after quality scoring.
type GateDecision string

const (
	GateAutoCreate GateDecision = "auto_create"
	GateReview     GateDecision = "review"
	GateDiscard    GateDecision = "discard"
)

// ReviewPriority ranks a review-band candidate for human triage. Scores
// below the review threshold are urgent; scores between the review and
// auto-create thresholds can wait.
type ReviewPriority string

const (
	ReviewPriorityHigh ReviewPriority = "high"
	ReviewPriorityLow  ReviewPriority = "low"
)

// QualityScore is the blended quality assessment for one candidate.
type QualityScore struct {
	Overall        float64        `json:"overall"`
	Confidence     float64        `json:"confidence"`
	Completeness   float64        `json:"completeness"`
	Evidence       float64        `json:"evidence"`
	ValueQuality   float64        `json:"value_quality"`
	Decision       GateDecision   `json:"decision"`
	ReviewPriority ReviewPriority `json:"review_priority,omitempty"`
}

// JobStats summarizes queue state for monitoring.
type JobStats struct {
	Queued         int `json:"queued"`
	Running        int `json:"running"`
	Completed      int `json:"completed"`
	RequiresReview int `json:"requiresReview"`
	Failed         int `json:"failed"`
	Cancelled      int `json:"cancelled"`
}
