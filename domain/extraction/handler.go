package extraction

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/graphmill/graphmill/pkg/apperror"
)

// Handler exposes the extraction pipeline over HTTP.
type Handler struct {
	store          *JobStore
	embeddingStore *EmbeddingStore
	assist         *MergeAssist
	worker         *Worker
}

// NewHandler creates the extraction handler.
func NewHandler(store *JobStore, embeddingStore *EmbeddingStore, assist *MergeAssist, worker *Worker) *Handler {
	return &Handler{
		store:          store,
		embeddingStore: embeddingStore,
		assist:         assist,
		worker:         worker,
	}
}

// RegisterRoutes mounts the extraction API.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/projects/:projectId/extraction/jobs", h.CreateJob)
	g.GET("/projects/:projectId/extraction/jobs", h.ListJobs)
	g.GET("/projects/:projectId/extraction/stats", h.GetStats)
	g.POST("/projects/:projectId/extraction/jobs/retry-failed", h.RetryFailed)
	g.GET("/extraction/jobs/:id", h.GetJob)
	g.POST("/extraction/jobs/:id/cancel", h.CancelJob)
	g.POST("/extraction/worker/pause", h.PauseWorker)
	g.POST("/extraction/worker/resume", h.ResumeWorker)
	g.GET("/embedding/stats", h.GetEmbeddingStats)
	g.POST("/projects/:projectId/objects/merge-suggest", h.SuggestMerge)
}

type createJobRequest struct {
	SourceType string     `json:"sourceType"`
	SourceID   string     `json:"sourceId"`
	Priority   int        `json:"priority"`
	Config     *JobConfig `json:"config"`
}

// CreateJob handles POST /api/projects/:projectId/extraction/jobs
func (h *Handler) CreateJob(c echo.Context) error {
	projectID, err := uuid.Parse(c.Param("projectId"))
	if err != nil {
		return apperror.NewBadRequest("invalid project id")
	}

	req := &createJobRequest{}
	if err := c.Bind(req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	job, err := h.store.CreateJob(c.Request().Context(), CreateJobParams{
		ProjectID:  projectID,
		SourceType: req.SourceType,
		SourceID:   req.SourceID,
		Priority:   req.Priority,
		Config:     req.Config,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, job)
}

// GetJob handles GET /api/extraction/jobs/:id
func (h *Handler) GetJob(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.NewBadRequest("invalid job id")
	}

	job, err := h.store.FindByID(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if job == nil {
		return apperror.NewNotFound("extraction job", id.String())
	}
	return c.JSON(http.StatusOK, job)
}

// ListJobs handles GET /api/projects/:projectId/extraction/jobs
func (h *Handler) ListJobs(c echo.Context) error {
	projectID, err := uuid.Parse(c.Param("projectId"))
	if err != nil {
		return apperror.NewBadRequest("invalid project id")
	}

	params := ListJobsParams{ProjectID: projectID, Status: c.QueryParam("status")}
	echo.QueryParamsBinder(c).Int("limit", &params.Limit).Int("offset", &params.Offset)

	list, total, err := h.store.ListJobs(c.Request().Context(), params)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"jobs":  list,
		"total": total,
	})
}

// CancelJob handles POST /api/extraction/jobs/:id/cancel
func (h *Handler) CancelJob(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.NewBadRequest("invalid job id")
	}

	job, err := h.store.CancelJob(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

// RetryFailed handles POST /api/projects/:projectId/extraction/jobs/retry-failed
func (h *Handler) RetryFailed(c echo.Context) error {
	projectID, err := uuid.Parse(c.Param("projectId"))
	if err != nil {
		return apperror.NewBadRequest("invalid project id")
	}

	count, err := h.store.RetryFailedJobs(c.Request().Context(), projectID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"requeued": count})
}

// GetStats handles GET /api/projects/:projectId/extraction/stats
func (h *Handler) GetStats(c echo.Context) error {
	projectID, err := uuid.Parse(c.Param("projectId"))
	if err != nil {
		return apperror.NewBadRequest("invalid project id")
	}

	stats, err := h.store.Stats(c.Request().Context(), &projectID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// GetEmbeddingStats handles GET /api/embedding/stats
func (h *Handler) GetEmbeddingStats(c echo.Context) error {
	stats, err := h.embeddingStore.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// PauseWorker handles POST /api/extraction/worker/pause
func (h *Handler) PauseWorker(c echo.Context) error {
	h.worker.Pause()
	return c.JSON(http.StatusOK, map[string]any{"paused": true})
}

// ResumeWorker handles POST /api/extraction/worker/resume
func (h *Handler) ResumeWorker(c echo.Context) error {
	h.worker.Resume()
	return c.JSON(http.StatusOK, map[string]any{"paused": false})
}

type suggestMergeRequest struct {
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
}

// SuggestMerge handles POST /api/projects/:projectId/objects/merge-suggest
func (h *Handler) SuggestMerge(c echo.Context) error {
	projectID, err := uuid.Parse(c.Param("projectId"))
	if err != nil {
		return apperror.NewBadRequest("invalid project id")
	}

	req := &suggestMergeRequest{}
	if err := c.Bind(req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	sourceID, err := uuid.Parse(req.SourceID)
	if err != nil {
		return apperror.NewBadRequest("invalid source id")
	}
	targetID, err := uuid.Parse(req.TargetID)
	if err != nil {
		return apperror.NewBadRequest("invalid target id")
	}

	proposal, err := h.assist.SuggestMerge(c.Request().Context(), projectID, sourceID, targetID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, proposal)
}
