package extraction

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/graphmill/graphmill/internal/config"
	"github.com/graphmill/graphmill/internal/jobs"
	"github.com/graphmill/graphmill/pkg/apperror"
	"github.com/graphmill/graphmill/pkg/logger"
	"github.com/graphmill/graphmill/pkg/pgutils"
)

// EmbeddingStore manages the embedding job queue. It satisfies the graph
// service's enqueuer so object writes schedule re-embedding.
type EmbeddingStore struct {
	db    *bun.DB
	queue *jobs.Queue
	cfg   config.EmbeddingQueueConfig
	log   *slog.Logger
}

// NewEmbeddingStore creates the embedding job store.
func NewEmbeddingStore(db *bun.DB, cfg *config.Config, log *slog.Logger) *EmbeddingStore {
	log = log.With(logger.Scope("embedding-jobs"))
	queue := jobs.NewQueue(db, jobs.QueueConfig{
		TableName:            "kg.embedding_jobs",
		PendingStatus:        EmbeddingStatusPending,
		ProcessingStatus:     EmbeddingStatusProcessing,
		TerminalFailedStatus: EmbeddingStatusDeadLetter,
		MaxAttempts:          cfg.Embedding.MaxRetries,
		BaseRetryDelaySec:    cfg.Embedding.BaseRetryDelaySec,
		MaxRetryDelaySec:     cfg.Embedding.MaxRetryDelaySec,
		BatchSize:            cfg.Embedding.BatchSize,
	}, log)
	return &EmbeddingStore{db: db, queue: queue, cfg: cfg.Embedding, log: log}
}

// EnqueueEmbedding schedules embedding generation for an object. At most one
// active job exists per object; enqueueing while one is pending or processing
// keeps the existing job (bumping its priority upward if needed).
func (s *EmbeddingStore) EnqueueEmbedding(ctx context.Context, objectID uuid.UUID, priority int) error {
	job := &EmbeddingJob{
		ObjectID: objectID,
		Status:   EmbeddingStatusPending,
		Priority: priority,
	}

	_, err := s.db.NewInsert().Model(job).Exec(ctx)
	if err == nil {
		s.log.Debug("embedding job enqueued",
			slog.String("object_id", objectID.String()),
			slog.Int("priority", priority))
		return nil
	}
	if !pgutils.IsUniqueViolation(err) {
		return apperror.NewDatabase("enqueue embedding job", err)
	}

	// An active job already covers this object.
	_, err = s.db.NewUpdate().Model((*EmbeddingJob)(nil)).
		Set("priority = GREATEST(priority, ?)", priority).
		Set("updated_at = now()").
		Where("object_id = ?", objectID).
		Where("status IN (?)", bun.In([]string{EmbeddingStatusPending, EmbeddingStatusProcessing})).
		Exec(ctx)
	if err != nil {
		return apperror.NewDatabase("bump embedding job priority", err)
	}
	return nil
}

// ClaimJobs atomically claims up to batchSize due embedding jobs.
func (s *EmbeddingStore) ClaimJobs(ctx context.Context, batchSize int) ([]*EmbeddingJob, error) {
	ids, err := s.queue.Claim(ctx, batchSize)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var claimed []*EmbeddingJob
	if err := s.db.NewSelect().Model(&claimed).
		Where("id IN (?)", bun.In(ids)).
		Order("priority DESC", "scheduled_at ASC").
		Scan(ctx); err != nil {
		return nil, apperror.NewDatabase("load claimed embedding jobs", err)
	}
	return claimed, nil
}

// CompleteJob marks an embedding job done.
func (s *EmbeddingStore) CompleteJob(ctx context.Context, id uuid.UUID) error {
	return s.queue.MarkCompleted(ctx, id.String())
}

// FailJob reschedules with backoff, or dead-letters past the retry ceiling.
// Non-retriable failures dead-letter immediately.
func (s *EmbeddingStore) FailJob(ctx context.Context, job *EmbeddingJob, cause error) error {
	attempt := job.AttemptCount + 1

	if !apperror.IsRetriable(cause) {
		_, err := s.db.NewUpdate().Model((*EmbeddingJob)(nil)).
			Set("status = ?", EmbeddingStatusDeadLetter).
			Set("attempt_count = ?", attempt).
			Set("last_error = ?", jobs.TruncateError(cause.Error())).
			Set("updated_at = now()").
			Where("id = ?", job.ID).
			Exec(ctx)
		if err != nil {
			return apperror.NewDatabase("dead-letter embedding job", err)
		}
		s.log.Warn("embedding job dead-lettered",
			slog.String("job_id", job.ID.String()),
			slog.String("object_id", job.ObjectID.String()),
			logger.Error(cause))
		return nil
	}

	return s.queue.MarkFailed(ctx, job.ID.String(), attempt, cause.Error())
}

// FindByID returns the job, or nil when it does not exist.
func (s *EmbeddingStore) FindByID(ctx context.Context, id uuid.UUID) (*EmbeddingJob, error) {
	job := &EmbeddingJob{}
	err := s.db.NewSelect().Model(job).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperror.NewDatabase("find embedding job", err)
	}
	return job, nil
}

// RecoverStaleJobs requeues jobs stuck in processing past the stale threshold.
func (s *EmbeddingStore) RecoverStaleJobs(ctx context.Context) (int, error) {
	return s.queue.RecoverStaleJobs(ctx, s.cfg.StaleAfterMinutes)
}

// Stats returns queue counters.
func (s *EmbeddingStore) Stats(ctx context.Context) (*jobs.Stats, error) {
	return s.queue.GetStats(ctx)
}
