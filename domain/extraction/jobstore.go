// Package extraction implements the extraction pipeline: durable jobs,
// candidate linking, verification, quality gating, and the workers that
// drive them.
package extraction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/graphmill/graphmill/internal/config"
	"github.com/graphmill/graphmill/internal/jobs"
	"github.com/graphmill/graphmill/pkg/apperror"
	"github.com/graphmill/graphmill/pkg/logger"
	"github.com/graphmill/graphmill/pkg/pgutils"
)

// JobStore manages the durable extraction job queue.
type JobStore struct {
	db    *bun.DB
	queue *jobs.Queue
	cfg   config.ExtractionConfig
	log   *slog.Logger
}

// NewJobStore creates the extraction job store.
func NewJobStore(db *bun.DB, cfg *config.Config, log *slog.Logger) *JobStore {
	log = log.With(logger.Scope("extraction-jobs"))
	queue := jobs.NewQueue(db, jobs.QueueConfig{
		TableName:            "kg.extraction_jobs",
		PendingStatus:        JobStatusQueued,
		ProcessingStatus:     JobStatusRunning,
		TerminalFailedStatus: JobStatusFailed,
		AttemptColumn:        "retry_count",
		ErrorColumn:          "error_message",
		MaxAttempts:          cfg.Extraction.MaxRetries,
		BaseRetryDelaySec:    cfg.Extraction.BaseRetryDelaySec,
		MaxRetryDelaySec:     cfg.Extraction.MaxRetryDelaySec,
		BatchSize:            cfg.Extraction.BatchSize,
	}, log)
	return &JobStore{db: db, queue: queue, cfg: cfg.Extraction, log: log}
}

// CreateJobParams are the inputs for enqueueing an extraction job.
type CreateJobParams struct {
	ProjectID  uuid.UUID
	SourceType string
	SourceID   string
	Config     *JobConfig
	Priority   int
}

// CreateJob enqueues an extraction job. When an active (queued or running)
// job already exists for the same source in the project, that job is
// returned and no new row is created.
func (s *JobStore) CreateJob(ctx context.Context, params CreateJobParams) (*ExtractionJob, error) {
	if params.SourceType == "" || params.SourceID == "" {
		return nil, apperror.NewBadRequest("source_type and source_id are required")
	}

	existing, err := s.findActiveJob(ctx, params)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.log.Debug("reusing active extraction job",
			slog.String("job_id", existing.ID.String()),
			slog.String("source_id", params.SourceID))
		return existing, nil
	}

	job := &ExtractionJob{
		ProjectID:  params.ProjectID,
		SourceType: params.SourceType,
		SourceID:   params.SourceID,
		Status:     JobStatusQueued,
		Priority:   params.Priority,
		Config:     JSON{},
	}
	if params.Config != nil {
		raw, err := structToJSON(params.Config)
		if err != nil {
			return nil, apperror.NewBadRequest("invalid job config")
		}
		job.Config = raw
	}

	_, err = s.db.NewInsert().Model(job).Returning("*").Exec(ctx)
	if err != nil {
		if !pgutils.IsUniqueViolation(err) {
			return nil, apperror.NewDatabase("insert extraction job", err)
		}
		// Lost the race to a concurrent enqueue for the same source; the
		// partial unique index guarantees the winner's row exists.
		existing, lookupErr := s.findActiveJob(ctx, params)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing == nil {
			return nil, apperror.NewDatabase("insert extraction job", err)
		}
		s.log.Debug("reusing active extraction job",
			slog.String("job_id", existing.ID.String()),
			slog.String("source_id", params.SourceID))
		return existing, nil
	}

	s.log.Info("extraction job enqueued",
		slog.String("job_id", job.ID.String()),
		slog.String("source_type", job.SourceType),
		slog.String("source_id", job.SourceID),
		slog.Int("priority", job.Priority))
	return job, nil
}

// findActiveJob returns the queued or running job for the source, or nil
// when none exists.
func (s *JobStore) findActiveJob(ctx context.Context, params CreateJobParams) (*ExtractionJob, error) {
	job := &ExtractionJob{}
	err := s.db.NewSelect().Model(job).
		Where("project_id = ?", params.ProjectID).
		Where("source_type = ?", params.SourceType).
		Where("source_id = ?", params.SourceID).
		Where("status IN (?)", bun.In([]string{JobStatusQueued, JobStatusRunning})).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.NewDatabase("lookup active job", err)
	}
	return job, nil
}

// ClaimJobs atomically claims up to batchSize due jobs and returns them.
func (s *JobStore) ClaimJobs(ctx context.Context, batchSize int) ([]*ExtractionJob, error) {
	ids, err := s.queue.Claim(ctx, batchSize)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var claimed []*ExtractionJob
	if err := s.db.NewSelect().Model(&claimed).
		Where("id IN (?)", bun.In(ids)).
		Order("priority DESC", "scheduled_at ASC").
		Scan(ctx); err != nil {
		return nil, apperror.NewDatabase("load claimed jobs", err)
	}
	return claimed, nil
}

// JobResults carries the counters and outputs written on completion.
type JobResults struct {
	TotalItems       int
	ProcessedItems   int
	SuccessfulItems  int
	FailedItems      int
	DiscoveredTypes  []string
	CreatedObjectIDs []string
	DebugInfo        map[string]any
}

// CompleteJob finalizes a running job. requiresReview routes it to the
// review terminal state instead of completed.
func (s *JobStore) CompleteJob(ctx context.Context, id uuid.UUID, results JobResults, requiresReview bool) error {
	status := JobStatusCompleted
	if requiresReview {
		status = JobStatusRequiresReview
	}

	discovered := make(JSONArray, 0, len(results.DiscoveredTypes))
	for _, t := range results.DiscoveredTypes {
		discovered = append(discovered, t)
	}
	created := make(JSONArray, 0, len(results.CreatedObjectIDs))
	for _, oid := range results.CreatedObjectIDs {
		created = append(created, oid)
	}

	res, err := s.db.NewUpdate().Model((*ExtractionJob)(nil)).
		Set("status = ?", status).
		Set("total_items = ?", results.TotalItems).
		Set("processed_items = ?", results.ProcessedItems).
		Set("successful_items = ?", results.SuccessfulItems).
		Set("failed_items = ?", results.FailedItems).
		Set("discovered_types = ?", discovered).
		Set("created_object_ids = ?", created).
		Set("debug_info = ?", JSON(results.DebugInfo)).
		Set("completed_at = now()").
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status = ?", JobStatusRunning).
		Exec(ctx)
	if err != nil {
		return apperror.NewDatabase("complete extraction job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NewConflict(fmt.Sprintf("job %s is not running", id))
	}

	s.log.Info("extraction job finished",
		slog.String("job_id", id.String()),
		slog.String("status", status),
		slog.Int("successful", results.SuccessfulItems),
		slog.Int("failed", results.FailedItems))
	return nil
}

// FailJob records a failure. Retriable failures are rescheduled with
// backoff until the retry ceiling; everything else goes terminal at once.
func (s *JobStore) FailJob(ctx context.Context, job *ExtractionJob, cause error) error {
	attempt := job.RetryCount + 1
	msg := cause.Error()

	if !apperror.IsRetriable(cause) {
		res, err := s.db.NewUpdate().Model((*ExtractionJob)(nil)).
			Set("status = ?", JobStatusFailed).
			Set("retry_count = ?", attempt).
			Set("error_message = ?", jobs.TruncateError(msg)).
			Set("completed_at = now()").
			Set("updated_at = now()").
			Where("id = ?", job.ID).
			Exec(ctx)
		if err != nil {
			return apperror.NewDatabase("fail extraction job", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.log.Warn("extraction job failed permanently",
				slog.String("job_id", job.ID.String()),
				logger.Error(cause))
		}
		return nil
	}

	return s.queue.MarkFailed(ctx, job.ID.String(), attempt, msg)
}

// UpdateProgress bumps the progress counters while a job runs.
func (s *JobStore) UpdateProgress(ctx context.Context, id uuid.UUID, processed, successful, failed int) error {
	_, err := s.db.NewUpdate().Model((*ExtractionJob)(nil)).
		Set("processed_items = ?", processed).
		Set("successful_items = ?", successful).
		Set("failed_items = ?", failed).
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status = ?", JobStatusRunning).
		Exec(ctx)
	if err != nil {
		return apperror.NewDatabase("update job progress", err)
	}
	return nil
}

// CancelJob cancels a queued or running job. A running job stops at its
// next cancellation checkpoint; already-terminal jobs return a conflict.
func (s *JobStore) CancelJob(ctx context.Context, id uuid.UUID) (*ExtractionJob, error) {
	job := &ExtractionJob{ID: id}
	res, err := s.db.NewUpdate().Model(job).
		Set("status = ?", JobStatusCancelled).
		Set("completed_at = now()").
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status IN (?)", bun.In([]string{JobStatusQueued, JobStatusRunning})).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, apperror.NewDatabase("cancel extraction job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		current, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, apperror.NewNotFound("extraction job", id.String())
		}
		return nil, apperror.NewConflict(
			fmt.Sprintf("job %s is %s and cannot be cancelled", id, current.Status))
	}

	s.log.Info("extraction job cancelled", slog.String("job_id", id.String()))
	return job, nil
}

// IsCancelled re-reads just the status to honor cancellation checkpoints.
func (s *JobStore) IsCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	var status string
	err := s.db.NewSelect().Model((*ExtractionJob)(nil)).
		Column("status").
		Where("id = ?", id).
		Scan(ctx, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, apperror.NewNotFound("extraction job", id.String())
		}
		return false, apperror.NewDatabase("read job status", err)
	}
	return status == JobStatusCancelled, nil
}

// FindByID returns the job, or nil when it does not exist.
func (s *JobStore) FindByID(ctx context.Context, id uuid.UUID) (*ExtractionJob, error) {
	job := &ExtractionJob{}
	err := s.db.NewSelect().Model(job).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperror.NewDatabase("find extraction job", err)
	}
	return job, nil
}

// ListJobsParams filters the paginated job listing.
type ListJobsParams struct {
	ProjectID uuid.UUID
	Status    string
	Limit     int
	Offset    int
}

// ListJobs returns jobs for a project, newest first, with the total count.
func (s *JobStore) ListJobs(ctx context.Context, params ListJobsParams) ([]*ExtractionJob, int, error) {
	if params.Limit <= 0 || params.Limit > 100 {
		params.Limit = 50
	}

	q := s.db.NewSelect().Model((*[]*ExtractionJob)(nil)).
		Where("project_id = ?", params.ProjectID)
	if params.Status != "" {
		q = q.Where("status = ?", params.Status)
	}

	var out []*ExtractionJob
	count, err := q.Model(&out).
		Order("created_at DESC").
		Limit(params.Limit).
		Offset(params.Offset).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, apperror.NewDatabase("list extraction jobs", err)
	}
	return out, count, nil
}

// RetryFailedJobs requeues terminally failed jobs for a project so a fixed
// upstream issue can be replayed. Returns the number requeued.
func (s *JobStore) RetryFailedJobs(ctx context.Context, projectID uuid.UUID) (int, error) {
	res, err := s.db.NewUpdate().Model((*ExtractionJob)(nil)).
		Set("status = ?", JobStatusQueued).
		Set("retry_count = 0").
		Set("error_message = NULL").
		Set("started_at = NULL").
		Set("completed_at = NULL").
		Set("scheduled_at = now()").
		Set("updated_at = now()").
		Where("project_id = ?", projectID).
		Where("status = ?", JobStatusFailed).
		Exec(ctx)
	if err != nil {
		return 0, apperror.NewDatabase("retry failed jobs", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Info("requeued failed extraction jobs",
			slog.String("project_id", projectID.String()),
			slog.Int64("count", n))
	}
	return int(n), nil
}

// RecoverStaleJobs requeues jobs stuck in running past the stale threshold.
func (s *JobStore) RecoverStaleJobs(ctx context.Context) (int, error) {
	return s.queue.RecoverStaleJobs(ctx, s.cfg.StaleAfterMinutes)
}

// Stats returns per-status job counts for a project. A nil project id
// counts across all projects.
func (s *JobStore) Stats(ctx context.Context, projectID *uuid.UUID) (*JobStats, error) {
	q := s.db.NewSelect().Model((*ExtractionJob)(nil)).
		ColumnExpr("COUNT(*) FILTER (WHERE status = ?) AS queued", JobStatusQueued).
		ColumnExpr("COUNT(*) FILTER (WHERE status = ?) AS running", JobStatusRunning).
		ColumnExpr("COUNT(*) FILTER (WHERE status = ?) AS completed", JobStatusCompleted).
		ColumnExpr("COUNT(*) FILTER (WHERE status = ?) AS requires_review", JobStatusRequiresReview).
		ColumnExpr("COUNT(*) FILTER (WHERE status = ?) AS failed", JobStatusFailed).
		ColumnExpr("COUNT(*) FILTER (WHERE status = ?) AS cancelled", JobStatusCancelled)
	if projectID != nil {
		q = q.Where("project_id = ?", *projectID)
	}

	stats := &JobStats{}
	err := q.Scan(ctx,
		&stats.Queued, &stats.Running, &stats.Completed,
		&stats.RequiresReview, &stats.Failed, &stats.Cancelled)
	if err != nil {
		return nil, apperror.NewDatabase("extraction job stats", err)
	}
	return stats, nil
}

// RetryDelayFor exposes the backoff schedule for observability surfaces.
func (s *JobStore) RetryDelayFor(attempt int) time.Duration {
	return jobs.RetryDelay(attempt, s.cfg.BaseRetryDelaySec, s.cfg.MaxRetryDelaySec)
}
