package graph

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/graphmill/graphmill/domain/schemas"
	"github.com/graphmill/graphmill/pkg/apperror"
	"github.com/graphmill/graphmill/pkg/logger"
)

// EmbeddingEnqueuer schedules embedding regeneration for changed objects.
/// Enqueueing is best effort: failures are logged, never propagated.
type EmbeddingEnqueuer interface {
	EnqueueEmbedding(ctx context.Context, objectID uuid.UUID, priority int) error
}

// QueryEmbedder turns search text into a query vector. A disabled provider
// returns a nil vector, which degrades text search to empty results.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Service implements the versioned graph store operations.
type Service struct {
	repo     *Repository
	schemas  schemas.Provider
	embedder QueryEmbedder
	enqueuer EmbeddingEnqueuer
	log      *slog.Logger
}

// NewService creates the graph service. The enqueuer is attached later by the
// pipeline module to avoid a construction cycle.
func NewService(repo *Repository, provider schemas.Provider, embedder QueryEmbedder, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		schemas:  provider,
		embedder: embedder,
		log:      log.With(logger.Scope("graph.service")),
	}
}

// SetEmbeddingEnqueuer attaches the embedding queue once it exists.
func (s *Service) SetEmbeddingEnqueuer(e EmbeddingEnqueuer) {
	s.enqueuer = e
}

// CreateObjectParams are the inputs for Create.
type CreateObjectParams struct {
	ProjectID            uuid.UUID
	Type                 string
	Key                  *string
	Properties           map[string]any
	Labels               []string
	Status               string
	ExtractionJobID      *uuid.UUID
	ExtractionConfidence *float32
	NeedsReview          bool
}

// Create inserts a new object, or when a business key is supplied and a live
// head already carries it:
//   - identical properties: returns the existing head unchanged (idempotent)
//   - differing properties: appends a new version carrying the new properties
//
// A concurrent duplicate-key insert is resolved by re-reading the head and
// retrying the decision once.
func (s *Service) Create(ctx context.Context, params CreateObjectParams) (*GraphObject, error) {
	if params.Type == "" {
		return nil, apperror.NewBadRequest("object type is required")
	}
	if params.Properties == nil {
		params.Properties = map[string]any{}
	}
	if params.Status == "" {
		params.Status = StatusAccepted
	}

	if err := s.validateProperties(ctx, params.ProjectID, params.Type, params.Properties); err != nil {
		return nil, err
	}

	obj, err := s.createOnce(ctx, params)
	if errors.Is(err, apperror.ErrConflict) {
		// Lost a race on the live-key index. Re-read and retry the decision
		// once; a second conflict surfaces to the caller.
		obj, err = s.createOnce(ctx, params)
	}
	if err != nil {
		return nil, err
	}

	s.enqueueEmbedding(ctx, obj)
	return obj, nil
}

func (s *Service) createOnce(ctx context.Context, params CreateObjectParams) (*GraphObject, error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if params.Key != nil && *params.Key != "" {
		if err := s.repo.AcquireUpsertLock(ctx, tx, params.ProjectID, params.Type, *params.Key); err != nil {
			return nil, err
		}

		existing, err := s.repo.FindHeadByTypeAndKey(ctx, tx, params.ProjectID, params.Type, *params.Key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if jsonEqual(existing.Properties, params.Properties) {
				// Idempotent create: same key, same content.
				if err := tx.Commit(); err != nil {
					return nil, apperror.ErrDatabase.WithInternal(err)
				}
				return existing, nil
			}

			next := &GraphObject{
				Type:                 existing.Type,
				Key:                  existing.Key,
				Status:               params.Status,
				Properties:           params.Properties,
				Labels:               params.Labels,
				ChangeSummary:        computeChangeSummary(existing.Properties, params.Properties),
				ExtractionJobID:      params.ExtractionJobID,
				ExtractionConfidence: params.ExtractionConfidence,
				NeedsReview:          params.NeedsReview,
			}
			if err := s.repo.InsertVersion(ctx, tx, existing, next); err != nil {
				return nil, err
			}
			if err := tx.Commit(); err != nil {
				return nil, apperror.ErrDatabase.WithInternal(err)
			}
			return next, nil
		}
	}

	obj := &GraphObject{
		ProjectID:            params.ProjectID,
		Type:                 params.Type,
		Key:                  params.Key,
		Status:               params.Status,
		Properties:           params.Properties,
		Labels:               params.Labels,
		ExtractionJobID:      params.ExtractionJobID,
		ExtractionConfidence: params.ExtractionConfidence,
		NeedsReview:          params.NeedsReview,
	}
	if err := s.repo.Insert(ctx, tx, obj); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return obj, nil
}

// Patch applies a property delta to an object's head, appending a new version.
// A delta that results in no effective change returns the current head without
// creating a version. A nil delta value deletes the key.
func (s *Service) Patch(ctx context.Context, projectID, id uuid.UUID, delta map[string]any) (*GraphObject, error) {
	obj, err := s.resolve(ctx, projectID, id)
	if err != nil {
		return nil, err
	}

	result, err := s.patchOnce(ctx, obj.CanonicalID, projectID, delta)
	if errors.Is(err, apperror.ErrConflict) {
		result, err = s.patchOnce(ctx, obj.CanonicalID, projectID, delta)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) patchOnce(ctx context.Context, canonicalID, projectID uuid.UUID, delta map[string]any) (*GraphObject, error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.repo.AcquireObjectLock(ctx, tx, canonicalID); err != nil {
		return nil, err
	}

	head, err := s.repo.GetHeadForUpdate(ctx, tx, projectID, canonicalID)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, apperror.NewNotFound("object", canonicalID.String())
	}
	if head.IsDeleted() {
		return nil, apperror.ErrConflict.WithMessage("cannot patch a deleted object")
	}

	merged := mergeProperties(head.Properties, delta)
	summary := computeChangeSummary(head.Properties, merged)
	if summary == nil {
		// Empty effective delta: no new version.
		if err := tx.Commit(); err != nil {
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
		return head, nil
	}

	if err := s.validateProperties(ctx, projectID, head.Type, merged); err != nil {
		return nil, err
	}

	next := &GraphObject{
		Type:                 head.Type,
		Key:                  head.Key,
		Status:               head.Status,
		Properties:           merged,
		Labels:               head.Labels,
		ChangeSummary:        summary,
		ExtractionJobID:      head.ExtractionJobID,
		ExtractionConfidence: head.ExtractionConfidence,
		NeedsReview:          head.NeedsReview,
	}
	if err := s.repo.InsertVersion(ctx, tx, head, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	s.enqueueEmbedding(ctx, next)
	return next, nil
}

// SoftDelete appends a tombstone version. Deleting an already-deleted object
// is a no-op returning the current head.
func (s *Service) SoftDelete(ctx context.Context, projectID, id uuid.UUID) (*GraphObject, error) {
	obj, err := s.resolve(ctx, projectID, id)
	if err != nil {
		return nil, err
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.repo.AcquireObjectLock(ctx, tx, obj.CanonicalID); err != nil {
		return nil, err
	}
	head, err := s.repo.GetHeadForUpdate(ctx, tx, projectID, obj.CanonicalID)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, apperror.NewNotFound("object", id.String())
	}
	if head.IsDeleted() {
		if err := tx.Commit(); err != nil {
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
		return head, nil
	}

	now := time.Now()
	next := &GraphObject{
		Type:        head.Type,
		Key:         head.Key,
		Status:      head.Status,
		Properties:  head.Properties,
		Labels:      head.Labels,
		NeedsReview: head.NeedsReview,
		DeletedAt:   &now,
	}
	if err := s.repo.InsertVersion(ctx, tx, head, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return next, nil
}

// Restore appends a live version cloning the most recent non-deleted state.
// Restoring a live object is a no-op returning the current head.
func (s *Service) Restore(ctx context.Context, projectID, id uuid.UUID) (*GraphObject, error) {
	obj, err := s.resolve(ctx, projectID, id)
	if err != nil {
		return nil, err
	}

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.repo.AcquireObjectLock(ctx, tx, obj.CanonicalID); err != nil {
		return nil, err
	}
	head, err := s.repo.GetHeadForUpdate(ctx, tx, projectID, obj.CanonicalID)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, apperror.NewNotFound("object", id.String())
	}
	if !head.IsDeleted() {
		if err := tx.Commit(); err != nil {
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
		return head, nil
	}

	next := &GraphObject{
		Type:        head.Type,
		Key:         head.Key,
		Status:      head.Status,
		Properties:  head.Properties,
		Labels:      head.Labels,
		NeedsReview: head.NeedsReview,
	}
	if err := s.repo.InsertVersion(ctx, tx, head, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	s.enqueueEmbedding(ctx, next)
	return next, nil
}

// GetByID resolves an object by physical or canonical id.
func (s *Service) GetByID(ctx context.Context, projectID, id uuid.UUID) (*GraphObject, error) {
	obj, err := s.repo.GetByID(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, apperror.NewNotFound("object", id.String())
	}
	return obj, nil
}

// FindByTypeAndKey returns the live head with the given business key, or nil
// when no live head carries it.
func (s *Service) FindByTypeAndKey(ctx context.Context, projectID uuid.UUID, typ, key string) (*GraphObject, error) {
	return s.repo.FindHeadByTypeAndKey(ctx, s.repo.db, projectID, typ, key)
}

// History returns all versions of the object's chain, newest first.
func (s *Service) History(ctx context.Context, projectID, id uuid.UUID) ([]*GraphObject, error) {
	obj, err := s.resolve(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	return s.repo.GetHistory(ctx, projectID, obj.CanonicalID)
}

// ListEdges returns live head relationships touching the object, deduplicated
// by canonical id keeping the highest version.
func (s *Service) ListEdges(ctx context.Context, projectID, id uuid.UUID, direction EdgeDirection) ([]*GraphRelationship, error) {
	obj, err := s.resolve(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	rels, err := s.repo.ListEdges(ctx, projectID, obj.CanonicalID, direction)
	if err != nil {
		return nil, err
	}

	byCanonical := make(map[uuid.UUID]*GraphRelationship, len(rels))
	var order []uuid.UUID
	for _, rel := range rels {
		if prev, ok := byCanonical[rel.CanonicalID]; ok {
			if rel.Version > prev.Version {
				byCanonical[rel.CanonicalID] = rel
			}
			continue
		}
		byCanonical[rel.CanonicalID] = rel
		order = append(order, rel.CanonicalID)
	}

	deduped := make([]*GraphRelationship, 0, len(order))
	for _, cid := range order {
		deduped = append(deduped, byCanonical[cid])
	}
	return deduped, nil
}

func (s *Service) resolve(ctx context.Context, projectID, id uuid.UUID) (*GraphObject, error) {
	obj, err := s.repo.GetByID(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, apperror.NewNotFound("object", id.String())
	}
	return obj, nil
}

func (s *Service) validateProperties(ctx context.Context, projectID uuid.UUID, typ string, props map[string]any) error {
	if s.schemas == nil {
		return nil
	}
	active, err := s.schemas.GetProjectSchemas(ctx, projectID.String())
	if err != nil || active == nil {
		// Schema lookup failures never block writes; the schema boundary is
		// advisory for manually created objects.
		return nil
	}
	schema, ok := active.ObjectSchemas[typ]
	if !ok {
		return nil
	}
	if err := schema.ValidateProperties(props); err != nil {
		return apperror.ErrValidation.WithMessage(err.Error())
	}
	return nil
}

func (s *Service) enqueueEmbedding(ctx context.Context, obj *GraphObject) {
	if s.enqueuer == nil || obj == nil {
		return
	}
	if err := s.enqueuer.EnqueueEmbedding(ctx, obj.ID, 0); err != nil {
		s.log.Warn("failed to enqueue embedding job",
			slog.String("object_id", obj.ID.String()),
			logger.Error(err),
		)
	}
}
