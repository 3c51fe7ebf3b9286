package extraction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricJobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphmill_extraction_jobs_processed_total",
		Help: "Extraction jobs finished, by terminal status.",
	}, []string{"status"})

	metricJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "graphmill_extraction_job_duration_seconds",
		Help:    "Wall time spent processing one extraction job.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	metricEntities = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphmill_extraction_entities_total",
		Help: "Extracted entities, by gate decision and link action.",
	}, []string{"decision", "action"})

	metricLLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphmill_extraction_llm_calls_total",
		Help: "LLM extraction calls, by outcome.",
	}, []string{"outcome"})

	metricEmbeddingJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphmill_embedding_jobs_processed_total",
		Help: "Embedding jobs finished, by outcome.",
	}, []string{"outcome"})

	metricStaleRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphmill_stale_jobs_recovered_total",
		Help: "Jobs returned to the queue by the stale-recovery sweep.",
	}, []string{"queue"})
)
