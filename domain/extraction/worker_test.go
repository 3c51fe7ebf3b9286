package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmill/graphmill/domain/graph"
)

type stubGraphWriter struct {
	failRelTypes map[string]bool
	created      []graph.CreateObjectParams
	rels         []graph.CreateRelationshipParams
}

func (s *stubGraphWriter) GetByID(ctx context.Context, projectID, id uuid.UUID) (*graph.GraphObject, error) {
	return nil, errors.New("not backed by a store")
}

func (s *stubGraphWriter) Patch(ctx context.Context, projectID, id uuid.UUID, delta map[string]any) (*graph.GraphObject, error) {
	return nil, errors.New("not backed by a store")
}

func (s *stubGraphWriter) Create(ctx context.Context, params graph.CreateObjectParams) (*graph.GraphObject, error) {
	s.created = append(s.created, params)
	return &graph.GraphObject{CanonicalID: uuid.New()}, nil
}

func (s *stubGraphWriter) CreateRelationship(ctx context.Context, params graph.CreateRelationshipParams) (*graph.GraphRelationship, error) {
	if s.failRelTypes[params.Type] {
		return nil, errors.New("insert failed")
	}
	s.rels = append(s.rels, params)
	return &graph.GraphRelationship{}, nil
}

func TestCommitRelationships_CountersBalance(t *testing.T) {
	stub := &stubGraphWriter{failRelTypes: map[string]bool{"acquired": true}}
	w := &Worker{graphSvc: stub, log: discardLogger()}
	job := &ExtractionJob{ID: uuid.New(), ProjectID: uuid.New()}

	naomi := uuid.New()
	ruth := uuid.New()
	resolved := map[string]uuid.UUID{"e1": naomi, "e2": ruth}

	rels := []CandidateRelationship{
		{Type: "employs", SourceTempID: "e1", TargetTempID: "e2"},
		{Type: "acquired", SourceTempID: "e1", TargetTempID: "e2"},
		{Type: "employs", SourceTempID: "e1", TargetTempID: "missing"},
	}

	results := &JobResults{}
	w.commitRelationships(t.Context(), job, rels, resolved, results, discardLogger())

	// The orphan is skipped outright; the other two count as attempted.
	assert.Equal(t, 2, results.TotalItems)
	assert.Equal(t, 2, results.ProcessedItems)
	assert.Equal(t, 1, results.SuccessfulItems)
	assert.Equal(t, 1, results.FailedItems)
	assert.Equal(t, results.TotalItems, results.SuccessfulItems+results.FailedItems)
	require.Len(t, stub.rels, 1)
	assert.Equal(t, "employs", stub.rels[0].Type)
}

func TestCommitDecision_ReviewPriorityLabel(t *testing.T) {
	stub := &stubGraphWriter{}
	w := &Worker{graphSvc: stub, log: discardLogger()}
	job := &ExtractionJob{ID: uuid.New(), ProjectID: uuid.New()}

	cand := &CandidateObject{
		Type:       "company",
		Properties: map[string]any{"name": "Acme"},
		Labels:     []string{"extracted"},
	}
	score := QualityScore{
		Overall:        0.72,
		Decision:       GateReview,
		ReviewPriority: ReviewPriorityLow,
	}

	_, err := w.commitDecision(t.Context(), job, cand, &LinkDecision{Action: LinkActionCreate}, score, true)
	require.NoError(t, err)
	require.Len(t, stub.created, 1)

	params := stub.created[0]
	assert.True(t, params.NeedsReview)
	assert.Equal(t, []string{"extracted", "review:low"}, params.Labels)
	// The candidate's own labels stay untouched.
	assert.Equal(t, []string{"extracted"}, cand.Labels)
}
