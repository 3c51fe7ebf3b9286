package extraction

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"

	"github.com/graphmill/graphmill/domain/graph"
	"github.com/graphmill/graphmill/pkg/logger"
)

// Module provides the extraction pipeline: job stores, policy components,
// workers, and the HTTP surface.
var Module = fx.Module("extraction",
	fx.Provide(
		NewJobStore,
		NewEmbeddingStore,
		NewCascade,
		NewQualityGate,
		NewEntityLinker,
		NewMergeAssist,
		NewEntailmentChecker,
		provideLoader,
		NewWorker,
		NewEmbeddingWorker,
		NewHandler,
	),
	fx.Invoke(
		RegisterRoutes,
		attachEmbeddingEnqueuer,
		runWorkers,
		runStaleRecovery,
	),
)

func provideLoader() DocumentLoader {
	return NewLoaderMux()
}

// attachEmbeddingEnqueuer closes the loop between graph writes and the
// embedding queue after both sides exist.
func attachEmbeddingEnqueuer(graphSvc *graph.Service, store *EmbeddingStore) {
	graphSvc.SetEmbeddingEnqueuer(store)
}

func runWorkers(lc fx.Lifecycle, worker *Worker, embeddingWorker *EmbeddingWorker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			worker.Start(context.Background())
			embeddingWorker.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			worker.Stop()
			embeddingWorker.Stop()
			return nil
		},
	})
}

// runStaleRecovery sweeps both queues for jobs stuck in their processing
// state, returning them to pending. Covers worker crashes and restarts.
func runStaleRecovery(lc fx.Lifecycle, store *JobStore, embeddingStore *EmbeddingStore, log *slog.Logger) {
	log = log.With(logger.Scope("stale-recovery"))

	c := cron.New()
	_, err := c.AddFunc("@every 5m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if n, err := store.RecoverStaleJobs(ctx); err != nil {
			log.Error("extraction stale recovery failed", logger.Error(err))
		} else if n > 0 {
			metricStaleRecovered.WithLabelValues("extraction").Add(float64(n))
		}

		if n, err := embeddingStore.RecoverStaleJobs(ctx); err != nil {
			log.Error("embedding stale recovery failed", logger.Error(err))
		} else if n > 0 {
			metricStaleRecovered.WithLabelValues("embedding").Add(float64(n))
		}
	})
	if err != nil {
		log.Error("failed to schedule stale recovery", logger.Error(err))
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			<-c.Stop().Done()
			return nil
		},
	})
}
