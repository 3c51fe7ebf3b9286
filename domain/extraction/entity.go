package extraction

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/graphmill/graphmill/domain/schemas"
)

// Extraction job statuses.
const (
	JobStatusQueued         = "queued"
	JobStatusRunning        = "running"
	JobStatusCompleted      = "completed"
	JobStatusRequiresReview = "requires_review"
	JobStatusFailed         = "failed"
	JobStatusCancelled      = "cancelled"
)

// Embedding job statuses.
const (
	EmbeddingStatusPending    = "pending"
	EmbeddingStatusProcessing = "processing"
	EmbeddingStatusCompleted  = "completed"
	EmbeddingStatusFailed     = "failed"
	EmbeddingStatusDeadLetter = "dead_letter"
)

// Source types.
const (
	SourceTypeManual   = "manual"
	SourceTypeDocument = "document"
)

// JSON is a jsonb column holding an arbitrary object.
type JSON map[string]any

// Scan implements sql.Scanner.
func (j *JSON) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("unsupported type for JSON: %T", value)
	}
}

// Value implements driver.Valuer.
func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	b, err := json.Marshal(j)
	return string(b), err
}

// JSONArray is a jsonb column holding an arbitrary array.
type JSONArray []any

// Scan implements sql.Scanner.
func (j *JSONArray) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("unsupported type for JSONArray: %T", value)
	}
}

// Value implements driver.Valuer.
func (j JSONArray) Value() (driver.Value, error) {
	if j == nil {
		return "[]", nil
	}
	b, err := json.Marshal(j)
	return string(b), err
}

// JobConfig is the per-job extraction configuration carried in the config
// jsonb column.
type JobConfig struct {
	// EnabledTypes limits extraction to these target types; empty means all
	// types the schema provider knows.
	EnabledTypes []string `json:"enabled_types,omitempty"`

	// ObjectSchemas / RelationshipSchemas override the project's schema pack
	// for this job.
	ObjectSchemas       map[string]schemas.ObjectSchema       `json:"object_schemas,omitempty"`
	RelationshipSchemas map[string]schemas.RelationshipSchema `json:"relationship_schemas,omitempty"`

	// LinkingStrategy overrides the configured entity-linking strategy.
	LinkingStrategy string `json:"linking_strategy,omitempty"`

	// Threshold overrides; nil means use the configured default.
	MinConfidence       *float64 `json:"min_confidence,omitempty"`
	ReviewThreshold     *float64 `json:"review_threshold,omitempty"`
	AutoCreateThreshold *float64 `json:"auto_create_threshold,omitempty"`
}

// ExtractionJob is a durable unit of extraction work.
// Mutated only by the extraction worker after creation.
type ExtractionJob struct {
	bun.BaseModel `bun:"table:kg.extraction_jobs,alias:xj"`

	ID         uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ProjectID  uuid.UUID `bun:"project_id,notnull,type:uuid" json:"projectId"`
	SourceType string    `bun:"source_type,notnull" json:"sourceType"`
	SourceID   string    `bun:"source_id,notnull" json:"sourceId"`
	Config     JSON      `bun:"config,type:jsonb" json:"config"`
	Status     string    `bun:"status,notnull,default:'queued'" json:"status"`
	Priority   int       `bun:"priority,notnull,default:0" json:"priority"`

	TotalItems      int `bun:"total_items,notnull,default:0" json:"totalItems"`
	ProcessedItems  int `bun:"processed_items,notnull,default:0" json:"processedItems"`
	SuccessfulItems int `bun:"successful_items,notnull,default:0" json:"successfulItems"`
	FailedItems     int `bun:"failed_items,notnull,default:0" json:"failedItems"`

	DiscoveredTypes  JSONArray `bun:"discovered_types,type:jsonb" json:"discoveredTypes"`
	CreatedObjectIDs JSONArray `bun:"created_object_ids,type:jsonb" json:"createdObjectIds"`
	ErrorMessage     *string   `bun:"error_message" json:"errorMessage,omitempty"`
	DebugInfo        JSON      `bun:"debug_info,type:jsonb" json:"debugInfo,omitempty"`
	RetryCount       int       `bun:"retry_count,notnull,default:0" json:"retryCount"`

	ScheduledAt time.Time  `bun:"scheduled_at,notnull,default:now()" json:"scheduledAt"`
	StartedAt   *time.Time `bun:"started_at" json:"startedAt,omitempty"`
	CompletedAt *time.Time `bun:"completed_at" json:"completedAt,omitempty"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// structToJSON converts a typed struct into the generic jsonb representation.
func structToJSON(v any) (JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := JSON{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseConfig decodes the config column.
func (j *ExtractionJob) ParseConfig() (*JobConfig, error) {
	cfg := &JobConfig{}
	if len(j.Config) == 0 {
		return cfg, nil
	}
	raw, err := json.Marshal(j.Config)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsTerminal reports whether the job can no longer change state.
func (j *ExtractionJob) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusRequiresReview, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// EmbeddingJob schedules (re)embedding of one graph object.
// At most one job in {pending, processing} exists per object.
type EmbeddingJob struct {
	bun.BaseModel `bun:"table:kg.embedding_jobs,alias:ej"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ObjectID     uuid.UUID  `bun:"object_id,notnull,type:uuid" json:"objectId"`
	Status       string     `bun:"status,notnull,default:'pending'" json:"status"`
	Priority     int        `bun:"priority,notnull,default:0" json:"priority"`
	AttemptCount int        `bun:"attempt_count,notnull,default:0" json:"attemptCount"`
	LastError    *string    `bun:"last_error" json:"lastError,omitempty"`
	ScheduledAt  time.Time  `bun:"scheduled_at,notnull,default:now()" json:"scheduledAt"`
	StartedAt    *time.Time `bun:"started_at" json:"startedAt,omitempty"`
	CompletedAt  *time.Time `bun:"completed_at" json:"completedAt,omitempty"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}
