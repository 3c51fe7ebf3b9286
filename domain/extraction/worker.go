package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/graphmill/graphmill/domain/graph"
	"github.com/graphmill/graphmill/domain/schemas"
	"github.com/graphmill/graphmill/internal/config"
	"github.com/graphmill/graphmill/pkg/apperror"
	"github.com/graphmill/graphmill/pkg/llm"
	"github.com/graphmill/graphmill/pkg/logger"
)

// graphWriter is the slice of the graph service the worker commits through.
type graphWriter interface {
	GetByID(ctx context.Context, projectID, id uuid.UUID) (*graph.GraphObject, error)
	Patch(ctx context.Context, projectID, id uuid.UUID, delta map[string]any) (*graph.GraphObject, error)
	Create(ctx context.Context, params graph.CreateObjectParams) (*graph.GraphObject, error)
	CreateRelationship(ctx context.Context, params graph.CreateRelationshipParams) (*graph.GraphRelationship, error)
}

// Worker polls the extraction job queue and drives claimed jobs through
// extraction, verification, quality gating, linking, and graph commit.
type Worker struct {
	store    *JobStore
	graphSvc graphWriter
	linker   *EntityLinker
	cascade  *Cascade
	gate     *QualityGate
	gen      llm.Generator
	provider schemas.Provider
	loader   DocumentLoader
	cfg      config.ExtractionConfig
	log      *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	paused atomic.Bool
}

// NewWorker creates the extraction worker.
func NewWorker(
	store *JobStore,
	graphSvc *graph.Service,
	linker *EntityLinker,
	cascade *Cascade,
	gate *QualityGate,
	gen llm.Generator,
	provider schemas.Provider,
	loader DocumentLoader,
	cfg *config.Config,
	log *slog.Logger,
) *Worker {
	return &Worker{
		store:    store,
		graphSvc: graphSvc,
		linker:   linker,
		cascade:  cascade,
		gate:     gate,
		gen:      gen,
		provider: provider,
		loader:   loader,
		cfg:      cfg.Extraction,
		log:      log.With(logger.Scope("extraction-worker")),
		stopCh:   make(chan struct{}),
	}
}

// Start begins polling in the background.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
	w.log.Info("extraction worker started",
		slog.Int("poll_interval_ms", w.cfg.PollIntervalMs),
		slog.Int("batch_size", w.cfg.BatchSize))
}

// Stop stops the worker after the current job finishes.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("extraction worker stopped")
}

// Pause suspends claiming without stopping the loop.
func (w *Worker) Pause() {
	w.paused.Store(true)
	w.log.Info("extraction worker paused")
}

// Resume re-enables claiming.
func (w *Worker) Resume() {
	w.paused.Store(false)
	w.log.Info("extraction worker resumed")
}

func (w *Worker) run(ctx context.Context) {
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
			if w.paused.Load() {
				continue
			}
			if err := w.processBatch(ctx); err != nil {
				w.log.Error("batch processing error", logger.Error(err))
			}
		}
	}
}

// processBatch claims due jobs and processes them sequentially. Parallelism
// comes from running more worker instances, not from fan-out here.
func (w *Worker) processBatch(ctx context.Context) error {
	claimed, err := w.store.ClaimJobs(ctx, w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("claim jobs: %w", err)
	}

	for _, job := range claimed {
		select {
		case <-w.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		w.processJob(ctx, job)
	}
	return nil
}

// processJob runs one claimed job to a terminal or rescheduled state. All
// failures are caught and reflected in job state; nothing propagates.
func (w *Worker) processJob(ctx context.Context, job *ExtractionJob) {
	start := time.Now()
	log := w.log.With(slog.String("job_id", job.ID.String()))
	log.Info("processing extraction job",
		slog.String("source_type", job.SourceType),
		slog.String("project_id", job.ProjectID.String()))

	cancelled, err := w.store.IsCancelled(ctx, job.ID)
	if err == nil && cancelled {
		log.Info("job cancelled before start")
		metricJobsProcessed.WithLabelValues(JobStatusCancelled).Inc()
		return
	}

	results, requiresReview, err := w.runJob(ctx, job, log)
	if err != nil {
		if errors.Is(err, apperror.ErrCancelled) {
			log.Info("job cancelled mid-flight, results discarded")
			metricJobsProcessed.WithLabelValues(JobStatusCancelled).Inc()
			return
		}
		log.Error("extraction job failed", logger.Error(err))
		if ferr := w.store.FailJob(ctx, job, err); ferr != nil {
			log.Error("failed to record job failure", logger.Error(ferr))
		}
		metricJobsProcessed.WithLabelValues(JobStatusFailed).Inc()
		return
	}

	if err := w.store.CompleteJob(ctx, job.ID, *results, requiresReview); err != nil {
		log.Error("failed to record job completion", logger.Error(err))
		return
	}

	status := JobStatusCompleted
	if requiresReview {
		status = JobStatusRequiresReview
	}
	metricJobsProcessed.WithLabelValues(status).Inc()
	metricJobDuration.Observe(time.Since(start).Seconds())
}

// checkCancelled re-reads job status at the cooperative checkpoints.
func (w *Worker) checkCancelled(ctx context.Context, jobID uuid.UUID) error {
	cancelled, err := w.store.IsCancelled(ctx, jobID)
	if err != nil {
		return nil
	}
	if cancelled {
		return apperror.ErrCancelled
	}
	return nil
}

func (w *Worker) runJob(ctx context.Context, job *ExtractionJob, log *slog.Logger) (*JobResults, bool, error) {
	jobCfg, err := job.ParseConfig()
	if err != nil {
		return nil, false, apperror.NewBadRequest("malformed job config").WithInternal(err)
	}

	doc, err := w.loader.LoadDocument(ctx, job.SourceType, job.SourceID)
	if err != nil {
		return nil, false, fmt.Errorf("load document: %w", err)
	}
	if err := w.checkCancelled(ctx, job.ID); err != nil {
		return nil, false, err
	}

	pack, err := w.loadSchemas(ctx, job, jobCfg)
	if err != nil {
		return nil, false, err
	}

	targetTypes := jobCfg.EnabledTypes
	if len(targetTypes) == 0 {
		for name := range pack.ObjectSchemas {
			targetTypes = append(targetTypes, name)
		}
	}
	if len(targetTypes) == 0 {
		return nil, false, apperror.NewBadRequest("no target types configured for extraction")
	}

	results := &JobResults{DebugInfo: map[string]any{}}
	requiresReview := false
	discovered := map[string]bool{}
	var orphanRates []float64

	for _, typeName := range targetTypes {
		schema := schemaFor(pack, typeName)

		extracted, err := w.extractType(ctx, typeName, schema, pack.RelationshipSchemas, doc.Text)
		if err != nil {
			return nil, false, err
		}
		if err := w.checkCancelled(ctx, job.ID); err != nil {
			return nil, false, err
		}

		orphanRates = append(orphanRates, OrphanRelationshipRate(extracted))

		committed, review, err := w.commitCandidates(ctx, job, jobCfg, schema, doc.Text, extracted, results, log)
		if err != nil {
			return nil, false, err
		}
		requiresReview = requiresReview || review
		if committed > 0 {
			discovered[typeName] = true
		}

		if err := w.store.UpdateProgress(ctx, job.ID,
			results.ProcessedItems, results.SuccessfulItems, results.FailedItems); err != nil {
			log.Warn("progress update failed", logger.Error(err))
		}
	}

	for t := range discovered {
		results.DiscoveredTypes = append(results.DiscoveredTypes, t)
	}
	if len(orphanRates) > 0 {
		total := 0.0
		for _, r := range orphanRates {
			total += r
		}
		results.DebugInfo["orphan_relationship_rate"] = total / float64(len(orphanRates))
	}

	return results, requiresReview, nil
}

// extractType runs one structured LLM call for a target type.
func (w *Worker) extractType(ctx context.Context, typeName string, schema *schemas.ObjectSchema, relSchemas map[string]schemas.RelationshipSchema, text string) (*ExtractionResult, error) {
	prompt := BuildExtractionPrompt(typeName, schema, relSchemas, text)

	raw, err := w.gen.GenerateJSON(ctx, "", prompt, ExtractionResponseSchema(schema))
	if err != nil {
		metricLLMCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("extraction call for type %s: %w", typeName, err)
	}
	metricLLMCalls.WithLabelValues("ok").Inc()

	result, err := ParseExtractionResponse(raw, typeName)
	if err != nil {
		// Unparsable output after the fallback parse is not retriable.
		return nil, apperror.NewBadRequest(err.Error())
	}
	return result, nil
}

// commitCandidates pushes each candidate through verification, the quality
// gate, and the linker, then commits the resulting graph mutations.
func (w *Worker) commitCandidates(
	ctx context.Context,
	job *ExtractionJob,
	jobCfg *JobConfig,
	schema *schemas.ObjectSchema,
	sourceText string,
	extracted *ExtractionResult,
	results *JobResults,
	log *slog.Logger,
) (int, bool, error) {
	committed := 0
	requiresReview := false

	// temp id -> committed canonical id, for relationship endpoints.
	resolved := map[string]uuid.UUID{}

	for i := range extracted.Objects {
		cand := &extracted.Objects[i]
		results.TotalItems++
		results.ProcessedItems++

		verification := w.cascade.VerifyEntity(ctx, sourceText, cand)
		if err := w.checkCancelled(ctx, job.ID); err != nil {
			return committed, requiresReview, err
		}

		score := w.gate.Score(cand, schema, verification, jobCfg)
		if score.Decision == GateDiscard {
			log.Debug("candidate discarded by quality gate",
				slog.String("type", cand.Type),
				slog.Float64("score", score.Overall))
			metricEntities.WithLabelValues(string(GateDiscard), "none").Inc()
			results.FailedItems++
			continue
		}
		needsReview := score.Decision == GateReview
		requiresReview = requiresReview || needsReview

		decision, err := w.linker.Link(ctx, job.ProjectID, cand, jobCfg.LinkingStrategy)
		if err != nil {
			return committed, requiresReview, fmt.Errorf("link candidate: %w", err)
		}
		if err := w.checkCancelled(ctx, job.ID); err != nil {
			return committed, requiresReview, err
		}

		canonicalID, err := w.commitDecision(ctx, job, cand, decision, score, needsReview)
		if err != nil {
			log.Warn("candidate commit failed",
				slog.String("type", cand.Type),
				logger.Error(err))
			results.FailedItems++
			continue
		}

		metricEntities.WithLabelValues(string(score.Decision), string(decision.Action)).Inc()
		resolved[cand.TempID] = canonicalID
		results.SuccessfulItems++
		committed++
		if decision.Action != LinkActionSkip {
			results.CreatedObjectIDs = append(results.CreatedObjectIDs, canonicalID.String())
		}
	}

	w.commitRelationships(ctx, job, extracted.Relationships, resolved, results, log)
	return committed, requiresReview, nil
}

// commitDecision turns a link decision into a graph mutation and returns the
// canonical id the candidate now refers to.
func (w *Worker) commitDecision(
	ctx context.Context,
	job *ExtractionJob,
	cand *CandidateObject,
	decision *LinkDecision,
	score QualityScore,
	needsReview bool,
) (uuid.UUID, error) {
	switch decision.Action {
	case LinkActionSkip:
		return uuid.Parse(decision.ExistingID)

	case LinkActionMerge:
		existingID, err := uuid.Parse(decision.ExistingID)
		if err != nil {
			return uuid.Nil, err
		}
		head, err := w.graphSvc.GetByID(ctx, job.ProjectID, existingID)
		if err != nil {
			return uuid.Nil, err
		}
		// Candidate adds its new properties; conflicts keep the head's value.
		delta := map[string]any{}
		for k, v := range cand.Properties {
			if _, exists := head.Properties[k]; !exists {
				delta[k] = v
			}
		}
		merged, err := w.graphSvc.Patch(ctx, job.ProjectID, existingID, delta)
		if err != nil {
			return uuid.Nil, err
		}
		return merged.CanonicalID, nil

	default:
		confidence := float32(score.Overall)
		labels := cand.Labels
		if needsReview && score.ReviewPriority != "" {
			labels = append(append([]string(nil), cand.Labels...), "review:"+string(score.ReviewPriority))
		}
		params := graph.CreateObjectParams{
			ProjectID:            job.ProjectID,
			Type:                 cand.Type,
			Properties:           cand.Properties,
			Labels:               labels,
			ExtractionJobID:      &job.ID,
			ExtractionConfidence: &confidence,
			NeedsReview:          needsReview,
		}
		if key := BusinessKey(cand); key != "" {
			params.Key = &key
		}
		obj, err := w.graphSvc.Create(ctx, params)
		if err != nil {
			return uuid.Nil, err
		}
		return obj.CanonicalID, nil
	}
}

// commitRelationships persists candidate relationships whose endpoints were
// committed. Orphans and per-edge failures are logged, never fatal.
func (w *Worker) commitRelationships(
	ctx context.Context,
	job *ExtractionJob,
	rels []CandidateRelationship,
	resolved map[string]uuid.UUID,
	results *JobResults,
	log *slog.Logger,
) {
	for _, rel := range rels {
		srcID, okSrc := resolved[rel.SourceTempID]
		dstID, okDst := resolved[rel.TargetTempID]
		if !okSrc || !okDst {
			continue
		}
		results.TotalItems++
		results.ProcessedItems++

		_, err := w.graphSvc.CreateRelationship(ctx, graph.CreateRelationshipParams{
			ProjectID:       job.ProjectID,
			Type:            rel.Type,
			SrcID:           srcID,
			DstID:           dstID,
			Properties:      rel.Properties,
			ExtractionJobID: &job.ID,
		})
		if err != nil {
			log.Warn("relationship commit failed",
				slog.String("type", rel.Type),
				logger.Error(err))
			results.FailedItems++
			continue
		}
		results.SuccessfulItems++
	}
}

// loadSchemas resolves the project's schema pack and applies per-job
// overrides.
func (w *Worker) loadSchemas(ctx context.Context, job *ExtractionJob, jobCfg *JobConfig) (*schemas.ExtractionSchemas, error) {
	pack, err := w.provider.GetProjectSchemas(ctx, job.ProjectID.String())
	if err != nil {
		return nil, fmt.Errorf("load project schemas: %w", err)
	}

	if len(jobCfg.ObjectSchemas) > 0 {
		merged := make(map[string]schemas.ObjectSchema, len(pack.ObjectSchemas)+len(jobCfg.ObjectSchemas))
		for k, v := range pack.ObjectSchemas {
			merged[k] = v
		}
		for k, v := range jobCfg.ObjectSchemas {
			merged[k] = v
		}
		pack.ObjectSchemas = merged
	}
	if len(jobCfg.RelationshipSchemas) > 0 {
		merged := make(map[string]schemas.RelationshipSchema, len(pack.RelationshipSchemas)+len(jobCfg.RelationshipSchemas))
		for k, v := range pack.RelationshipSchemas {
			merged[k] = v
		}
		for k, v := range jobCfg.RelationshipSchemas {
			merged[k] = v
		}
		pack.RelationshipSchemas = merged
	}
	return pack, nil
}

func schemaFor(pack *schemas.ExtractionSchemas, typeName string) *schemas.ObjectSchema {
	if s, ok := pack.ObjectSchemas[typeName]; ok {
		return &s
	}
	return nil
}
