package graph

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Object statuses.
const (
	StatusSuggested      = "suggested"
	StatusAccepted       = "accepted"
	StatusRequiresReview = "requires_review"
)

// GraphObject is one version row of a versioned graph object.
//
// All versions of one logical object share canonical_id. The head is the row
// with superseded_at IS NULL; supersedes_id back-links to the row this version
// replaced (NULL for version 1). Rows are never mutated in place.
type GraphObject struct {
	bun.BaseModel `bun:"table:kg.graph_objects,alias:obj"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ProjectID    uuid.UUID  `bun:"project_id,notnull,type:uuid" json:"projectId"`
	CanonicalID  uuid.UUID  `bun:"canonical_id,notnull,type:uuid" json:"canonicalId"`
	Version      int        `bun:"version,notnull" json:"version"`
	SupersedesID *uuid.UUID `bun:"supersedes_id,type:uuid" json:"supersedesId,omitempty"`
	SupersededAt *time.Time `bun:"superseded_at" json:"supersededAt,omitempty"`

	Type   string  `bun:"type,notnull" json:"type"`
	Key    *string `bun:"key" json:"key,omitempty"`
	Status string  `bun:"status,notnull" json:"status"`

	Properties    map[string]any `bun:"properties,type:jsonb" json:"properties"`
	Labels        []string       `bun:"labels,array" json:"labels"`
	ChangeSummary map[string]any `bun:"change_summary,type:jsonb" json:"changeSummary,omitempty"`

	ExtractionJobID      *uuid.UUID `bun:"extraction_job_id,type:uuid" json:"extractionJobId,omitempty"`
	ExtractionConfidence *float32   `bun:"extraction_confidence" json:"extractionConfidence,omitempty"`
	NeedsReview          bool       `bun:"needs_review,notnull,default:false" json:"needsReview"`

	EmbeddingUpdatedAt *time.Time `bun:"embedding_updated_at" json:"embeddingUpdatedAt,omitempty"`

	CreatedAt time.Time  `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt time.Time  `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
	DeletedAt *time.Time `bun:"deleted_at" json:"deletedAt,omitempty"`
}

// IsHead reports whether this row is the current version of its chain.
func (o *GraphObject) IsHead() bool {
	return o.SupersededAt == nil
}

// IsDeleted reports whether this version is a tombstone.
func (o *GraphObject) IsDeleted() bool {
	return o.DeletedAt != nil
}

// GraphRelationship is one version row of a versioned relationship.
// src_id and dst_id reference object canonical ids so edges survive object
// version churn.
type GraphRelationship struct {
	bun.BaseModel `bun:"table:kg.graph_relationships,alias:rel"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ProjectID    uuid.UUID  `bun:"project_id,notnull,type:uuid" json:"projectId"`
	CanonicalID  uuid.UUID  `bun:"canonical_id,notnull,type:uuid" json:"canonicalId"`
	Version      int        `bun:"version,notnull" json:"version"`
	SupersedesID *uuid.UUID `bun:"supersedes_id,type:uuid" json:"supersedesId,omitempty"`
	SupersededAt *time.Time `bun:"superseded_at" json:"supersededAt,omitempty"`

	Type  string    `bun:"type,notnull" json:"type"`
	SrcID uuid.UUID `bun:"src_id,notnull,type:uuid" json:"srcId"`
	DstID uuid.UUID `bun:"dst_id,notnull,type:uuid" json:"dstId"`

	Properties    map[string]any `bun:"properties,type:jsonb" json:"properties"`
	Weight        *float32       `bun:"weight" json:"weight,omitempty"`
	ChangeSummary map[string]any `bun:"change_summary,type:jsonb" json:"changeSummary,omitempty"`

	ExtractionJobID *uuid.UUID `bun:"extraction_job_id,type:uuid" json:"extractionJobId,omitempty"`

	CreatedAt time.Time  `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt time.Time  `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
	DeletedAt *time.Time `bun:"deleted_at" json:"deletedAt,omitempty"`
}

// IsHead reports whether this row is the current version of its chain.
func (r *GraphRelationship) IsHead() bool {
	return r.SupersededAt == nil
}

// EdgeDirection selects which relationships ListEdges returns.
type EdgeDirection string

const (
	DirectionOut  EdgeDirection = "out"
	DirectionIn   EdgeDirection = "in"
	DirectionBoth EdgeDirection = "both"
)

// VectorSearchParams holds parameters for cosine-distance search.
type VectorSearchParams struct {
	ProjectID   uuid.UUID
	Vector      []float32
	Types       []string
	KeyPrefix   *string
	LabelsAll   []string
	LabelsAny   []string
	MaxDistance *float32
	Limit       int
	Offset      int
}

// VectorSearchResult is one ranked search hit.
type VectorSearchResult struct {
	Object   *GraphObject `json:"object"`
	Distance float32      `json:"distance"`
}
