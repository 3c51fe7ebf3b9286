package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/graphmill/graphmill/domain/graph"
	"github.com/graphmill/graphmill/internal/config"
	"github.com/graphmill/graphmill/pkg/embeddings"
	"github.com/graphmill/graphmill/pkg/logger"
)

// EmbeddingWorker polls the embedding queue and populates object vectors.
type EmbeddingWorker struct {
	store    *EmbeddingStore
	repo     *graph.Repository
	embedder *embeddings.Service
	cfg      config.EmbeddingQueueConfig
	log      *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEmbeddingWorker creates the embedding worker.
func NewEmbeddingWorker(store *EmbeddingStore, repo *graph.Repository, embedder *embeddings.Service, cfg *config.Config, log *slog.Logger) *EmbeddingWorker {
	return &EmbeddingWorker{
		store:    store,
		repo:     repo,
		embedder: embedder,
		cfg:      cfg.Embedding,
		log:      log.With(logger.Scope("embedding-worker")),
		stopCh:   make(chan struct{}),
	}
}

// Start begins polling. With embeddings disabled the worker stays idle so
// jobs queue up until a configured instance drains them.
func (w *EmbeddingWorker) Start(ctx context.Context) {
	if !w.embedder.IsEnabled() {
		w.log.Warn("embeddings not configured, embedding worker idle")
		return
	}
	w.wg.Add(1)
	go w.run(ctx)
	w.log.Info("embedding worker started",
		slog.Int("poll_interval_ms", w.cfg.PollIntervalMs),
		slog.Int("batch_size", w.cfg.BatchSize))
}

// Stop stops the worker after the current batch.
func (w *EmbeddingWorker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("embedding worker stopped")
}

func (w *EmbeddingWorker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Duration(w.cfg.PollIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.log.Error("embedding batch error", logger.Error(err))
			}
		}
	}
}

func (w *EmbeddingWorker) processBatch(ctx context.Context) error {
	claimed, err := w.store.ClaimJobs(ctx, w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("claim embedding jobs: %w", err)
	}

	for _, job := range claimed {
		select {
		case <-w.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := w.processJob(ctx, job); err != nil {
			w.log.Warn("embedding job failed",
				slog.String("job_id", job.ID.String()),
				slog.String("object_id", job.ObjectID.String()),
				logger.Error(err))
			metricEmbeddingJobs.WithLabelValues("failed").Inc()
			if ferr := w.store.FailJob(ctx, job, err); ferr != nil {
				w.log.Error("failed to record embedding failure", logger.Error(ferr))
			}
			continue
		}
		metricEmbeddingJobs.WithLabelValues("completed").Inc()
		if err := w.store.CompleteJob(ctx, job.ID); err != nil {
			w.log.Error("failed to record embedding completion", logger.Error(err))
		}
	}
	return nil
}

func (w *EmbeddingWorker) processJob(ctx context.Context, job *EmbeddingJob) error {
	obj, err := w.repo.GetRow(ctx, job.ObjectID)
	if err != nil {
		return err
	}
	if obj == nil {
		// Object rows are never deleted; a missing row means a bad reference.
		return fmt.Errorf("object %s not found", job.ObjectID)
	}

	text := ObjectEmbeddingText(obj)
	if text == "" {
		w.log.Debug("object has no embeddable text",
			slog.String("object_id", obj.ID.String()))
		return nil
	}

	vector, err := w.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return fmt.Errorf("embed object text: %w", err)
	}
	if len(vector) == 0 {
		return nil
	}

	stored, err := w.repo.SetEmbedding(ctx, obj.ID, vector)
	if err != nil {
		return err
	}
	if !stored {
		w.log.Debug("vector column unavailable, embedding dropped",
			slog.String("object_id", obj.ID.String()))
	}
	return nil
}

// ObjectEmbeddingText renders an object for embedding: type, key, then all
// primitive property leaves in stable depth-first order.
func ObjectEmbeddingText(obj *graph.GraphObject) string {
	leaves := propertyLeaves("", obj.Properties)
	key := ""
	if obj.Key != nil {
		key = strings.TrimSpace(*obj.Key)
	}
	if key == "" && len(leaves) == 0 {
		return ""
	}

	parts := []string{humanizeType(obj.Type)}
	if key != "" {
		parts = append(parts, key)
	}
	parts = append(parts, leaves...)
	return strings.Join(parts, "\n")
}

// propertyLeaves flattens nested maps and arrays down to primitive values.
func propertyLeaves(prefix string, value any) []string {
	switch x := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var out []string
		for _, k := range keys {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			out = append(out, propertyLeaves(path, x[k])...)
		}
		return out
	case []any:
		var out []string
		for _, item := range x {
			out = append(out, propertyLeaves(prefix, item)...)
		}
		return out
	default:
		s := primitiveString(value)
		if s == "" {
			return nil
		}
		if prefix == "" {
			return []string{s}
		}
		return []string{fmt.Sprintf("%s: %s", prefix, s)}
	}
}
