package graph

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/graphmill/graphmill/pkg/apperror"
)

// CreateRelationshipParams are the inputs for CreateRelationship.
type CreateRelationshipParams struct {
	ProjectID       uuid.UUID
	Type            string
	SrcID           uuid.UUID
	DstID           uuid.UUID
	Properties      map[string]any
	Weight          *float32
	ExtractionJobID *uuid.UUID
}

// CreateRelationship creates or updates the relationship for a
// (project, type, src, dst) tuple. Endpoints may be given by physical or
// canonical id; the stored edge always references canonical ids. A create
// whose properties match the current head exactly is a no-op returning the
// existing head; differing properties append a new version.
func (s *Service) CreateRelationship(ctx context.Context, params CreateRelationshipParams) (*GraphRelationship, error) {
	if params.Type == "" {
		return nil, apperror.NewBadRequest("relationship type is required")
	}
	if params.Properties == nil {
		params.Properties = map[string]any{}
	}

	src, err := s.resolve(ctx, params.ProjectID, params.SrcID)
	if err != nil {
		return nil, apperror.NewBadRequest("source object not found")
	}
	dst, err := s.resolve(ctx, params.ProjectID, params.DstID)
	if err != nil {
		return nil, apperror.NewBadRequest("target object not found")
	}
	if src.IsDeleted() || dst.IsDeleted() {
		return nil, apperror.NewBadRequest("cannot link deleted objects")
	}
	if src.CanonicalID == dst.CanonicalID {
		return nil, apperror.NewBadRequest("self-referencing relationships are not allowed")
	}

	rel, err := s.createRelationshipOnce(ctx, params, src.CanonicalID, dst.CanonicalID)
	if errors.Is(err, apperror.ErrConflict) {
		rel, err = s.createRelationshipOnce(ctx, params, src.CanonicalID, dst.CanonicalID)
	}
	return rel, err
}

func (s *Service) createRelationshipOnce(ctx context.Context, params CreateRelationshipParams, srcCanonical, dstCanonical uuid.UUID) (*GraphRelationship, error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.repo.AcquireRelationshipLock(ctx, tx, params.ProjectID, params.Type, srcCanonical, dstCanonical); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindHeadRelationship(ctx, tx, params.ProjectID, params.Type, srcCanonical, dstCanonical)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if jsonEqual(existing.Properties, params.Properties) {
			// Identical edge already present: no new version, no history entry.
			if err := tx.Commit(); err != nil {
				return nil, apperror.ErrDatabase.WithInternal(err)
			}
			return existing, nil
		}

		next := &GraphRelationship{
			Properties:      params.Properties,
			Weight:          params.Weight,
			ChangeSummary:   computeChangeSummary(existing.Properties, params.Properties),
			ExtractionJobID: params.ExtractionJobID,
		}
		if err := s.repo.InsertRelationshipVersion(ctx, tx, existing, next); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
		return next, nil
	}

	rel := &GraphRelationship{
		ProjectID:       params.ProjectID,
		Type:            params.Type,
		SrcID:           srcCanonical,
		DstID:           dstCanonical,
		Properties:      params.Properties,
		Weight:          params.Weight,
		ExtractionJobID: params.ExtractionJobID,
	}
	if err := s.repo.InsertRelationship(ctx, tx, rel); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return rel, nil
}

// PatchRelationship applies a property delta to a relationship head. An empty
// effective delta returns the current head without a new version.
func (s *Service) PatchRelationship(ctx context.Context, projectID, id uuid.UUID, delta map[string]any) (*GraphRelationship, error) {
	rel, err := s.repo.GetRelationshipByID(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, apperror.NewNotFound("relationship", id.String())
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.repo.AcquireRelationshipLock(ctx, tx, projectID, rel.Type, rel.SrcID, rel.DstID); err != nil {
		return nil, err
	}

	head, err := s.repo.FindHeadRelationship(ctx, tx, projectID, rel.Type, rel.SrcID, rel.DstID)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, apperror.NewNotFound("relationship", id.String())
	}

	merged := mergeProperties(head.Properties, delta)
	summary := computeChangeSummary(head.Properties, merged)
	if summary == nil {
		if err := tx.Commit(); err != nil {
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
		return head, nil
	}

	next := &GraphRelationship{
		Properties:    merged,
		Weight:        head.Weight,
		ChangeSummary: summary,
	}
	if err := s.repo.InsertRelationshipVersion(ctx, tx, head, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return next, nil
}

// SoftDeleteRelationship appends a tombstone version for a relationship.
func (s *Service) SoftDeleteRelationship(ctx context.Context, projectID, id uuid.UUID) (*GraphRelationship, error) {
	rel, err := s.repo.GetRelationshipByID(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, apperror.NewNotFound("relationship", id.String())
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.repo.AcquireRelationshipLock(ctx, tx, projectID, rel.Type, rel.SrcID, rel.DstID); err != nil {
		return nil, err
	}
	head, err := s.repo.FindHeadRelationship(ctx, tx, projectID, rel.Type, rel.SrcID, rel.DstID)
	if err != nil {
		return nil, err
	}
	if head == nil {
		// Already deleted or superseded; return the latest known version.
		if err := tx.Commit(); err != nil {
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
		return rel, nil
	}

	now := time.Now()
	next := &GraphRelationship{
		Properties: head.Properties,
		Weight:     head.Weight,
		DeletedAt:  &now,
	}
	if err := s.repo.InsertRelationshipVersion(ctx, tx, head, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return next, nil
}

// RelationshipHistory returns all versions of a relationship chain.
func (s *Service) RelationshipHistory(ctx context.Context, projectID, id uuid.UUID) ([]*GraphRelationship, error) {
	rel, err := s.repo.GetRelationshipByID(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, apperror.NewNotFound("relationship", id.String())
	}
	return s.repo.GetRelationshipHistory(ctx, projectID, rel.CanonicalID)
}

// SearchByVector ranks live heads by distance to the given vector.
func (s *Service) SearchByVector(ctx context.Context, params VectorSearchParams) ([]*VectorSearchResult, error) {
	if len(params.Vector) == 0 {
		return []*VectorSearchResult{}, nil
	}
	return s.repo.VectorSearch(ctx, params)
}

// SearchByText embeds the query text and ranks live heads by distance.
// Returns empty results when no embedding provider is configured.
func (s *Service) SearchByText(ctx context.Context, text string, params VectorSearchParams) ([]*VectorSearchResult, error) {
	if s.embedder == nil || text == "" {
		return []*VectorSearchResult{}, nil
	}
	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, apperror.ErrUnavailable.WithMessage("query embedding failed").WithInternal(err)
	}
	if len(vector) == 0 {
		return []*VectorSearchResult{}, nil
	}
	params.Vector = vector
	return s.repo.VectorSearch(ctx, params)
}
