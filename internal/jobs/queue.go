// Package jobs provides a PostgreSQL-backed job queue core.
//
// Both pipeline queues (extraction, embedding) are built on this claiming
// idiom:
//   - Idempotent enqueue (no duplicate active jobs per target)
//   - Atomic dequeue with FOR UPDATE SKIP LOCKED
//   - Exponential backoff for retries
//   - Stale job recovery
//   - Queue statistics
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/uptrace/bun"
)

// QueueConfig contains configuration for a job queue
type QueueConfig struct {
	// TableName is the fully qualified table name (e.g., "kg.embedding_jobs")
	TableName string
	// PendingStatus and ProcessingStatus name the queue's active states
	// ("queued"/"running" for extraction, "pending"/"processing" for embedding).
	PendingStatus    string
	ProcessingStatus string
	// TerminalFailedStatus is the state after the retry ceiling is hit.
	TerminalFailedStatus string
	// AttemptColumn is the retry counter column name.
	AttemptColumn string
	// ErrorColumn is the column the last failure message is written to.
	ErrorColumn string
	// MaxAttempts is the maximum number of attempts (0 = unlimited)
	MaxAttempts int
	// BaseRetryDelaySec is the base delay in seconds for retries (default: 60)
	BaseRetryDelaySec int
	// MaxRetryDelaySec is the maximum retry delay in seconds (default: 3600)
	MaxRetryDelaySec int
	// BatchSize is the default number of jobs to dequeue at once (default: 10)
	BatchSize int
}

func (c *QueueConfig) applyDefaults() {
	if c.PendingStatus == "" {
		c.PendingStatus = "pending"
	}
	if c.ProcessingStatus == "" {
		c.ProcessingStatus = "processing"
	}
	if c.TerminalFailedStatus == "" {
		c.TerminalFailedStatus = "failed"
	}
	if c.AttemptColumn == "" {
		c.AttemptColumn = "attempt_count"
	}
	if c.ErrorColumn == "" {
		c.ErrorColumn = "last_error"
	}
	if c.BaseRetryDelaySec == 0 {
		c.BaseRetryDelaySec = 60
	}
	if c.MaxRetryDelaySec == 0 {
		c.MaxRetryDelaySec = 3600
	}
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}
}

// Queue provides base job queue operations using PostgreSQL.
// It uses FOR UPDATE SKIP LOCKED for concurrent worker safety.
type Queue struct {
	db     bun.IDB
	config QueueConfig
	log    *slog.Logger
}

// NewQueue creates a new job queue with the given configuration
func NewQueue(db bun.IDB, config QueueConfig, log *slog.Logger) *Queue {
	config.applyDefaults()
	return &Queue{
		db:     db,
		config: config,
		log:    log,
	}
}

// Claim atomically claims up to batchSize due jobs for processing.
//
// Due rows (pending status, scheduled_at <= now) are claimed in priority
// descending then scheduled_at ascending order. FOR UPDATE SKIP LOCKED lets
// concurrent workers partition rows without blocking or double-claiming.
func (q *Queue) Claim(ctx context.Context, batchSize int) ([]string, error) {
	if batchSize <= 0 {
		batchSize = q.config.BatchSize
	}

	// Strategic SQL that cannot be expressed with Bun's query builder.
	query := fmt.Sprintf(`
		WITH cte AS (
			SELECT id FROM %s
			WHERE status = '%s' AND scheduled_at <= now()
			ORDER BY priority DESC, scheduled_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT ?
		)
		UPDATE %s j
		SET status = '%s', started_at = now(), updated_at = now()
		FROM cte WHERE j.id = cte.id
		RETURNING j.id`,
		q.config.TableName, q.config.PendingStatus,
		q.config.TableName, q.config.ProcessingStatus)

	var ids []string
	if err := q.db.NewRaw(query, batchSize).Scan(ctx, &ids); err != nil {
		return nil, fmt.Errorf("claim failed: %w", err)
	}
	return ids, nil
}

// MarkCompleted marks a job as completed
func (q *Queue) MarkCompleted(ctx context.Context, id string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'completed',
			completed_at = now(),
			updated_at = now()
		WHERE id = ?`,
		q.config.TableName)

	if _, err := q.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark completed failed: %w", err)
	}
	return nil
}

// MarkFailed records a failure and either reschedules the job with backoff or
// moves it to the terminal failed status once the attempt ceiling is hit.
// attemptCount is the number of attempts already made, including this one.
func (q *Queue) MarkFailed(ctx context.Context, id string, attemptCount int, errMsg string) error {
	if q.config.MaxAttempts > 0 && attemptCount >= q.config.MaxAttempts {
		query := fmt.Sprintf(`
			UPDATE %s
			SET status = '%s',
				%s = ?,
				%s = ?,
				updated_at = now()
			WHERE id = ?`,
			q.config.TableName, q.config.TerminalFailedStatus,
			q.config.AttemptColumn, q.config.ErrorColumn)

		if _, err := q.db.ExecContext(ctx, query, attemptCount, TruncateError(errMsg), id); err != nil {
			return fmt.Errorf("mark failed (terminal) failed: %w", err)
		}

		q.log.Warn("job permanently failed after max attempts",
			slog.String("job_id", id),
			slog.Int("attempts", attemptCount),
			slog.String("error", errMsg))
		return nil
	}

	delay := RetryDelay(attemptCount, q.config.BaseRetryDelaySec, q.config.MaxRetryDelaySec)

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = '%s',
			%s = ?,
			%s = ?,
			scheduled_at = now() + (? || ' seconds')::interval,
			updated_at = now()
		WHERE id = ?`,
		q.config.TableName, q.config.PendingStatus,
		q.config.AttemptColumn, q.config.ErrorColumn)

	delaySec := int(delay / time.Second)
	if _, err := q.db.ExecContext(ctx, query, attemptCount, TruncateError(errMsg), fmt.Sprintf("%d", delaySec), id); err != nil {
		return fmt.Errorf("mark failed (retry) failed: %w", err)
	}

	q.log.Debug("job scheduled for retry",
		slog.String("job_id", id),
		slog.Int("attempt", attemptCount),
		slog.Duration("delay", delay))
	return nil
}

// RecoverStaleJobs resets jobs stuck in the processing status back to pending.
// This can happen when the server restarts while jobs are being processed.
// Returns the number of jobs recovered.
func (q *Queue) RecoverStaleJobs(ctx context.Context, staleThresholdMinutes int) (int, error) {
	if staleThresholdMinutes <= 0 {
		staleThresholdMinutes = 10
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = '%s',
			started_at = NULL,
			scheduled_at = now(),
			updated_at = now()
		WHERE status = '%s'
			AND started_at < now() - (? || ' minutes')::interval`,
		q.config.TableName, q.config.PendingStatus, q.config.ProcessingStatus)

	result, err := q.db.ExecContext(ctx, query, fmt.Sprintf("%d", staleThresholdMinutes))
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs failed: %w", err)
	}

	count, _ := result.RowsAffected()
	if count > 0 {
		q.log.Warn("recovered stale jobs",
			slog.Int64("count", count),
			slog.Int("threshold_minutes", staleThresholdMinutes))
	}
	return int(count), nil
}

// Stats represents queue statistics
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats(ctx context.Context) (*Stats, error) {
	query := fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE status = '%s') as pending,
			COUNT(*) FILTER (WHERE status = '%s') as processing,
			COUNT(*) FILTER (WHERE status = 'completed') as completed,
			COUNT(*) FILTER (WHERE status = '%s') as failed
		FROM %s`,
		q.config.PendingStatus, q.config.ProcessingStatus,
		q.config.TerminalFailedStatus, q.config.TableName)

	stats := &Stats{}
	err := q.db.QueryRowContext(ctx, query).Scan(&stats.Pending, &stats.Processing, &stats.Completed, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("get stats failed: %w", err)
	}
	return stats, nil
}

// RetryDelay computes the rescheduling delay for a failed attempt:
// min(maxRetryDelaySec, baseRetryDelaySec * attempt^2) seconds.
func RetryDelay(attempt, baseRetryDelaySec, maxRetryDelaySec int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := math.Min(
		float64(maxRetryDelaySec),
		float64(baseRetryDelaySec)*float64(attempt)*float64(attempt),
	)
	return time.Duration(delay) * time.Second
}

// TruncateError trims an error message for storage.
func TruncateError(msg string) string {
	if len(msg) > 1000 {
		return msg[:1000]
	}
	return msg
}
