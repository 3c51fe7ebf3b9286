package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/graphmill/graphmill/internal/database"
	"github.com/graphmill/graphmill/pkg/apperror"
	"github.com/graphmill/graphmill/pkg/logger"
	"github.com/graphmill/graphmill/pkg/mathutil"
	"github.com/graphmill/graphmill/pkg/pgutils"
)

// Repository persists versioned graph objects and relationships.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a graph repository.
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("graph.repository")),
	}
}

// BeginTx starts a transaction with safe rollback semantics.
func (r *Repository) BeginTx(ctx context.Context) (*database.SafeTx, error) {
	tx, err := database.BeginSafeTx(ctx, r.db)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return tx, nil
}

// =============================================================================
// Advisory locks
// =============================================================================

// AcquireObjectLock serializes version appends for one object chain. Held
// until the transaction ends.
func (r *Repository) AcquireObjectLock(ctx context.Context, tx bun.IDB, canonicalID uuid.UUID) error {
	return r.acquireLock(ctx, tx, fmt.Sprintf("obj|%s", canonicalID))
}

// AcquireUpsertLock serializes create-by-key for one (project, type, key).
func (r *Repository) AcquireUpsertLock(ctx context.Context, tx bun.IDB, projectID uuid.UUID, typ, key string) error {
	return r.acquireLock(ctx, tx, fmt.Sprintf("obj-upsert|%s|%s|%s", projectID, typ, key))
}

// AcquireRelationshipLock serializes create/patch for one relationship tuple.
func (r *Repository) AcquireRelationshipLock(ctx context.Context, tx bun.IDB, projectID uuid.UUID, typ string, srcID, dstID uuid.UUID) error {
	return r.acquireLock(ctx, tx, fmt.Sprintf("rel|%s|%s|%s|%s", projectID, typ, srcID, dstID))
}

func (r *Repository) acquireLock(ctx context.Context, tx bun.IDB, key string) error {
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext(?)::bigint)", key); err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// =============================================================================
// Object reads
// =============================================================================

// GetByID resolves an object by physical id or canonical id, preferring the
// head version when the id matches a whole chain.
func (r *Repository) GetByID(ctx context.Context, projectID, id uuid.UUID) (*GraphObject, error) {
	obj := &GraphObject{}
	err := r.db.NewSelect().
		Model(obj).
		Where("obj.project_id = ?", projectID).
		Where("(obj.id = ? OR obj.canonical_id = ?)", id, id).
		OrderExpr("(obj.superseded_at IS NULL) DESC").
		OrderExpr("obj.version DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return obj, nil
}

// GetRow loads one specific object row by physical id, without project
// scoping. Used internally by the embedding pipeline.
func (r *Repository) GetRow(ctx context.Context, id uuid.UUID) (*GraphObject, error) {
	obj := &GraphObject{}
	err := r.db.NewSelect().
		Model(obj).
		Where("obj.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return obj, nil
}

// GetHeadByCanonicalID returns the current version of a chain.
func (r *Repository) GetHeadByCanonicalID(ctx context.Context, projectID, canonicalID uuid.UUID) (*GraphObject, error) {
	return r.getHead(ctx, r.db, projectID, canonicalID)
}

// GetHeadForUpdate loads the head inside a transaction with a row lock, for
// version-append serialization.
func (r *Repository) GetHeadForUpdate(ctx context.Context, tx bun.IDB, projectID, canonicalID uuid.UUID) (*GraphObject, error) {
	obj := &GraphObject{}
	err := tx.NewSelect().
		Model(obj).
		Where("obj.project_id = ?", projectID).
		Where("obj.canonical_id = ?", canonicalID).
		Where("obj.superseded_at IS NULL").
		For("UPDATE").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return obj, nil
}

func (r *Repository) getHead(ctx context.Context, db bun.IDB, projectID, canonicalID uuid.UUID) (*GraphObject, error) {
	obj := &GraphObject{}
	err := db.NewSelect().
		Model(obj).
		Where("obj.project_id = ?", projectID).
		Where("obj.canonical_id = ?", canonicalID).
		Where("obj.superseded_at IS NULL").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return obj, nil
}

// FindHeadByTypeAndKey returns the live head with the given business key, or
// (nil, nil) when absent.
func (r *Repository) FindHeadByTypeAndKey(ctx context.Context, db bun.IDB, projectID uuid.UUID, typ, key string) (*GraphObject, error) {
	if db == nil {
		db = r.db
	}
	obj := &GraphObject{}
	err := db.NewSelect().
		Model(obj).
		Where("obj.project_id = ?", projectID).
		Where("obj.type = ?", typ).
		Where("obj.key = ?", key).
		Where("obj.superseded_at IS NULL").
		Where("obj.deleted_at IS NULL").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return obj, nil
}

// GetHistory returns all versions of a chain, newest first.
func (r *Repository) GetHistory(ctx context.Context, projectID, canonicalID uuid.UUID) ([]*GraphObject, error) {
	var objs []*GraphObject
	err := r.db.NewSelect().
		Model(&objs).
		Where("obj.project_id = ?", projectID).
		Where("obj.canonical_id = ?", canonicalID).
		OrderExpr("obj.version DESC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return objs, nil
}

// =============================================================================
// Object writes
// =============================================================================

// Insert writes the first version of a new chain. The object's canonical id
// equals its row id and version is 1.
func (r *Repository) Insert(ctx context.Context, db bun.IDB, obj *GraphObject) error {
	if db == nil {
		db = r.db
	}
	if obj.ID == uuid.Nil {
		obj.ID = uuid.New()
	}
	obj.CanonicalID = obj.ID
	obj.Version = 1
	obj.SupersedesID = nil
	obj.SupersededAt = nil
	now := time.Now()
	obj.CreatedAt = now
	obj.UpdatedAt = now

	if _, err := db.NewInsert().Model(obj).Exec(ctx); err != nil {
		if pgutils.IsUniqueViolation(err) {
			return apperror.ErrConflict.WithInternal(err)
		}
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// InsertVersion appends next as the new head of prev's chain. The previous
// head is marked superseded in the same transaction; the partial unique index
// on live heads makes concurrent appends fail instead of forking the chain.
func (r *Repository) InsertVersion(ctx context.Context, tx bun.IDB, prev *GraphObject, next *GraphObject) error {
	now := time.Now()

	res, err := tx.NewUpdate().
		Model((*GraphObject)(nil)).
		Set("superseded_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", prev.ID).
		Where("superseded_at IS NULL").
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Row was superseded by a concurrent writer since we read it.
		return apperror.ErrConflict.WithMessage("object head changed concurrently")
	}

	next.ID = uuid.New()
	next.ProjectID = prev.ProjectID
	next.CanonicalID = prev.CanonicalID
	next.Version = prev.Version + 1
	next.SupersedesID = &prev.ID
	next.SupersededAt = nil
	next.CreatedAt = now
	next.UpdatedAt = now

	if _, err := tx.NewInsert().Model(next).Exec(ctx); err != nil {
		if pgutils.IsUniqueViolation(err) {
			return apperror.ErrConflict.WithInternal(err)
		}
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// SetEmbedding persists an embedding vector on a specific object row.
// Returns (false, nil) when the vector column is unavailable.
func (r *Repository) SetEmbedding(ctx context.Context, objectID uuid.UUID, vector []float32) (bool, error) {
	query := `
		UPDATE kg.graph_objects
		SET embedding = ?::vector, embedding_updated_at = now(), updated_at = now()
		WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, pgutils.FormatVector(vector), objectID); err != nil {
		if pgutils.IsUndefinedColumn(err) || pgutils.IsUndefinedObject(err) {
			return false, nil
		}
		return false, apperror.ErrDatabase.WithInternal(err)
	}
	return true, nil
}

// HasCurrentEmbedding reports whether an object already carries an embedding
// newer than its last property change.
func (r *Repository) HasCurrentEmbedding(ctx context.Context, objectID uuid.UUID) (bool, error) {
	var current bool
	err := r.db.NewRaw(`
		SELECT embedding_updated_at IS NOT NULL
		FROM kg.graph_objects WHERE id = ?`, objectID).Scan(ctx, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		if pgutils.IsUndefinedColumn(err) {
			return false, nil
		}
		return false, apperror.ErrDatabase.WithInternal(err)
	}
	return current, nil
}

// =============================================================================
// Relationships
// =============================================================================

// GetRelationshipByID resolves a relationship by physical or canonical id,
// preferring the head version.
func (r *Repository) GetRelationshipByID(ctx context.Context, projectID, id uuid.UUID) (*GraphRelationship, error) {
	rel := &GraphRelationship{}
	err := r.db.NewSelect().
		Model(rel).
		Where("rel.project_id = ?", projectID).
		Where("(rel.id = ? OR rel.canonical_id = ?)", id, id).
		OrderExpr("(rel.superseded_at IS NULL) DESC").
		OrderExpr("rel.version DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return rel, nil
}

// FindHeadRelationship returns the live head for a (project, type, src, dst)
// tuple, or (nil, nil) when absent.
func (r *Repository) FindHeadRelationship(ctx context.Context, db bun.IDB, projectID uuid.UUID, typ string, srcID, dstID uuid.UUID) (*GraphRelationship, error) {
	if db == nil {
		db = r.db
	}
	rel := &GraphRelationship{}
	err := db.NewSelect().
		Model(rel).
		Where("rel.project_id = ?", projectID).
		Where("rel.type = ?", typ).
		Where("rel.src_id = ?", srcID).
		Where("rel.dst_id = ?", dstID).
		Where("rel.superseded_at IS NULL").
		Where("rel.deleted_at IS NULL").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return rel, nil
}

// InsertRelationship writes the first version of a relationship chain.
func (r *Repository) InsertRelationship(ctx context.Context, db bun.IDB, rel *GraphRelationship) error {
	if db == nil {
		db = r.db
	}
	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	rel.CanonicalID = rel.ID
	rel.Version = 1
	rel.SupersedesID = nil
	rel.SupersededAt = nil
	now := time.Now()
	rel.CreatedAt = now
	rel.UpdatedAt = now

	if _, err := db.NewInsert().Model(rel).Exec(ctx); err != nil {
		if pgutils.IsUniqueViolation(err) {
			return apperror.ErrConflict.WithInternal(err)
		}
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// InsertRelationshipVersion appends next as the new head of prev's chain.
func (r *Repository) InsertRelationshipVersion(ctx context.Context, tx bun.IDB, prev, next *GraphRelationship) error {
	now := time.Now()

	res, err := tx.NewUpdate().
		Model((*GraphRelationship)(nil)).
		Set("superseded_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", prev.ID).
		Where("superseded_at IS NULL").
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.ErrConflict.WithMessage("relationship head changed concurrently")
	}

	next.ID = uuid.New()
	next.ProjectID = prev.ProjectID
	next.CanonicalID = prev.CanonicalID
	next.Version = prev.Version + 1
	next.SupersedesID = &prev.ID
	next.SupersededAt = nil
	next.Type = prev.Type
	next.SrcID = prev.SrcID
	next.DstID = prev.DstID
	next.CreatedAt = now
	next.UpdatedAt = now

	if _, err := tx.NewInsert().Model(next).Exec(ctx); err != nil {
		if pgutils.IsUniqueViolation(err) {
			return apperror.ErrConflict.WithInternal(err)
		}
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// GetRelationshipHistory returns all versions of a relationship chain, newest
// first.
func (r *Repository) GetRelationshipHistory(ctx context.Context, projectID, canonicalID uuid.UUID) ([]*GraphRelationship, error) {
	var rels []*GraphRelationship
	err := r.db.NewSelect().
		Model(&rels).
		Where("rel.project_id = ?", projectID).
		Where("rel.canonical_id = ?", canonicalID).
		OrderExpr("rel.version DESC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return rels, nil
}

// ListEdges returns live head relationships touching an object, filtered by
// direction. The object is addressed by canonical id.
func (r *Repository) ListEdges(ctx context.Context, projectID, canonicalID uuid.UUID, direction EdgeDirection) ([]*GraphRelationship, error) {
	q := r.db.NewSelect().
		Model((*GraphRelationship)(nil)).
		Where("rel.project_id = ?", projectID).
		Where("rel.superseded_at IS NULL").
		Where("rel.deleted_at IS NULL")

	switch direction {
	case DirectionOut:
		q = q.Where("rel.src_id = ?", canonicalID)
	case DirectionIn:
		q = q.Where("rel.dst_id = ?", canonicalID)
	default:
		q = q.Where("(rel.src_id = ? OR rel.dst_id = ?)", canonicalID, canonicalID)
	}

	var rels []*GraphRelationship
	if err := q.Order("rel.created_at ASC").Scan(ctx, &rels); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return rels, nil
}

// =============================================================================
// Vector search
// =============================================================================

const defaultSearchLimit = 20
const maxSearchLimit = 200

// VectorSearch ranks live heads by cosine distance to the query vector.
// Results are ordered by ascending distance. When the vector column or the
// pgvector extension is unavailable the result is empty, not an error.
func (r *Repository) VectorSearch(ctx context.Context, params VectorSearchParams) ([]*VectorSearchResult, error) {
	params.Limit = mathutil.ClampLimit(params.Limit, defaultSearchLimit, maxSearchLimit)

	vectorStr := pgutils.FormatVector(params.Vector)

	conditions := []string{
		"project_id = ?",
		"superseded_at IS NULL",
		"deleted_at IS NULL",
		"embedding IS NOT NULL",
	}
	args := []any{params.ProjectID}

	if len(params.Types) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(params.Types)), ",")
		conditions = append(conditions, "type IN ("+placeholders+")")
		for _, t := range params.Types {
			args = append(args, t)
		}
	}
	if params.KeyPrefix != nil && *params.KeyPrefix != "" {
		conditions = append(conditions, "key LIKE ?")
		args = append(args, *params.KeyPrefix+"%")
	}
	if len(params.LabelsAll) > 0 {
		conditions = append(conditions, "labels @> ?::text[]")
		args = append(args, pgTextArray(params.LabelsAll))
	}
	if len(params.LabelsAny) > 0 {
		conditions = append(conditions, "labels && ?::text[]")
		args = append(args, pgTextArray(params.LabelsAny))
	}
	if params.MaxDistance != nil {
		conditions = append(conditions, "(embedding <=> ?::vector) <= ?")
		args = append(args, vectorStr, *params.MaxDistance)
	}

	query := `
		SELECT id, project_id, canonical_id, version, supersedes_id, superseded_at,
			type, key, status, properties, labels, change_summary,
			extraction_job_id, extraction_confidence, needs_review,
			embedding_updated_at, created_at, updated_at, deleted_at,
			(embedding <=> ?::vector) AS distance
		FROM kg.graph_objects
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY distance ASC
		LIMIT ? OFFSET ?`

	finalArgs := append([]any{vectorStr}, args...)
	finalArgs = append(finalArgs, params.Limit, params.Offset)

	// Bump ivfflat probes for better recall; scoped to this transaction.
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SET LOCAL ivfflat.probes = 10"); err != nil {
		if pgutils.IsUndefinedObject(err) {
			return []*VectorSearchResult{}, nil
		}
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	rows, err := tx.QueryContext(ctx, query, finalArgs...)
	if err != nil {
		if pgutils.IsUndefinedColumn(err) || pgutils.IsUndefinedObject(err) {
			return []*VectorSearchResult{}, nil
		}
		r.log.Error("vector search failed", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	defer rows.Close()

	var results []*VectorSearchResult
	for rows.Next() {
		obj := &GraphObject{}
		var distance float32
		var props, changeSummary []byte
		err := rows.Scan(
			&obj.ID, &obj.ProjectID, &obj.CanonicalID, &obj.Version, &obj.SupersedesID, &obj.SupersededAt,
			&obj.Type, &obj.Key, &obj.Status, &props, pgdialect.Array(&obj.Labels), &changeSummary,
			&obj.ExtractionJobID, &obj.ExtractionConfidence, &obj.NeedsReview,
			&obj.EmbeddingUpdatedAt, &obj.CreatedAt, &obj.UpdatedAt, &obj.DeletedAt,
			&distance,
		)
		if err != nil {
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
		if err := unmarshalJSONColumn(props, &obj.Properties); err != nil {
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
		if err := unmarshalJSONColumn(changeSummary, &obj.ChangeSummary); err != nil {
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
		results = append(results, &VectorSearchResult{Object: obj, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return results, nil
}

func unmarshalJSONColumn(raw []byte, dest *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}

// pgTextArray converts a string slice to PostgreSQL text array literal format.
// Example: ["foo", "bar baz"] -> {foo,"bar baz"}
func pgTextArray(arr []string) string {
	if len(arr) == 0 {
		return "{}"
	}

	var buf strings.Builder
	buf.WriteByte('{')
	for i, s := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if strings.ContainsAny(s, `{},"\`) {
			buf.WriteByte('"')
			for _, c := range s {
				if c == '\\' || c == '"' {
					buf.WriteByte('\\')
				}
				buf.WriteRune(c)
			}
			buf.WriteByte('"')
		} else {
			buf.WriteString(s)
		}
	}
	buf.WriteByte('}')
	return buf.String()
}
