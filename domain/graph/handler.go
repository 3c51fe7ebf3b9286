package graph

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/graphmill/graphmill/pkg/apperror"
	"github.com/graphmill/graphmill/pkg/mathutil"
)

// Handler exposes the versioned graph store over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates the graph handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the graph API.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/projects/:projectId/objects", h.CreateObject)
	g.GET("/projects/:projectId/objects/:id", h.GetObject)
	g.PATCH("/projects/:projectId/objects/:id", h.PatchObject)
	g.DELETE("/projects/:projectId/objects/:id", h.DeleteObject)
	g.POST("/projects/:projectId/objects/:id/restore", h.RestoreObject)
	g.GET("/projects/:projectId/objects/:id/history", h.GetHistory)
	g.GET("/projects/:projectId/objects/:id/edges", h.ListEdges)
	g.POST("/projects/:projectId/relationships", h.CreateRelationship)
	g.PATCH("/projects/:projectId/relationships/:id", h.PatchRelationship)
	g.DELETE("/projects/:projectId/relationships/:id", h.DeleteRelationship)
	g.GET("/projects/:projectId/relationships/:id/history", h.GetRelationshipHistory)
	g.POST("/projects/:projectId/search", h.Search)
}

func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperror.NewBadRequest("invalid " + name)
	}
	return id, nil
}

type createObjectRequest struct {
	Type       string         `json:"type"`
	Key        *string        `json:"key"`
	Properties map[string]any `json:"properties"`
	Labels     []string       `json:"labels"`
}

// CreateObject handles POST /api/projects/:projectId/objects
func (h *Handler) CreateObject(c echo.Context) error {
	projectID, err := pathUUID(c, "projectId")
	if err != nil {
		return err
	}

	req := &createObjectRequest{}
	if err := c.Bind(req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	obj, err := h.svc.Create(c.Request().Context(), CreateObjectParams{
		ProjectID:  projectID,
		Type:       req.Type,
		Key:        req.Key,
		Properties: req.Properties,
		Labels:     req.Labels,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, obj)
}

// GetObject handles GET /api/projects/:projectId/objects/:id
func (h *Handler) GetObject(c echo.Context) error {
	projectID, err := pathUUID(c, "projectId")
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	obj, err := h.svc.GetByID(c.Request().Context(), projectID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, obj)
}

// PatchObject handles PATCH /api/projects/:projectId/objects/:id
func (h *Handler) PatchObject(c echo.Context) error {
	projectID, err := pathUUID(c, "projectId")
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	delta := map[string]any{}
	if err := c.Bind(&delta); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	obj, err := h.svc.Patch(c.Request().Context(), projectID, id, delta)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, obj)
}

// DeleteObject handles DELETE /api/projects/:projectId/objects/:id
func (h *Handler) DeleteObject(c echo.Context) error {
	projectID, err := pathUUID(c, "projectId")
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	obj, err := h.svc.SoftDelete(c.Request().Context(), projectID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, obj)
}

// RestoreObject handles POST /api/projects/:projectId/objects/:id/restore
func (h *Handler) RestoreObject(c echo.Context) error {
	projectID, err := pathUUID(c, "projectId")
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	obj, err := h.svc.Restore(c.Request().Context(), projectID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, obj)
}

// GetHistory handles GET /api/projects/:projectId/objects/:id/history
func (h *Handler) GetHistory(c echo.Context) error {
	projectID, err := pathUUID(c, "projectId")
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	history, err := h.svc.History(c.Request().Context(), projectID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, history)
}

// ListEdges handles GET /api/projects/:projectId/objects/:id/edges
func (h *Handler) ListEdges(c echo.Context) error {
	projectID, err := pathUUID(c, "projectId")
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	direction := EdgeDirection(c.QueryParam("direction"))
	if direction == "" {
		direction = DirectionBoth
	}

	edges, err := h.svc.ListEdges(c.Request().Context(), projectID, id, direction)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, edges)
}

type createRelationshipRequest struct {
	Type       string         `json:"type"`
	SrcID      string         `json:"srcId"`
	DstID      string         `json:"dstId"`
	Properties map[string]any `json:"properties"`
	Weight     *float32       `json:"weight"`
}

// CreateRelationship handles POST /api/projects/:projectId/relationships
func (h *Handler) CreateRelationship(c echo.Context) error {
	projectID, err := pathUUID(c, "projectId")
	if err != nil {
		return err
	}

	req := &createRelationshipRequest{}
	if err := c.Bind(req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	srcID, err := uuid.Parse(req.SrcID)
	if err != nil {
		return apperror.NewBadRequest("invalid srcId")
	}
	dstID, err := uuid.Parse(req.DstID)
	if err != nil {
		return apperror.NewBadRequest("invalid dstId")
	}

	rel, err := h.svc.CreateRelationship(c.Request().Context(), CreateRelationshipParams{
		ProjectID:  projectID,
		Type:       req.Type,
		SrcID:      srcID,
		DstID:      dstID,
		Properties: req.Properties,
		Weight:     req.Weight,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rel)
}

// PatchRelationship handles PATCH /api/projects/:projectId/relationships/:id
func (h *Handler) PatchRelationship(c echo.Context) error {
	projectID, err := pathUUID(c, "projectId")
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	delta := map[string]any{}
	if err := c.Bind(&delta); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	rel, err := h.svc.PatchRelationship(c.Request().Context(), projectID, id, delta)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rel)
}

// DeleteRelationship handles DELETE /api/projects/:projectId/relationships/:id
func (h *Handler) DeleteRelationship(c echo.Context) error {
	projectID, err := pathUUID(c, "projectId")
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	rel, err := h.svc.SoftDeleteRelationship(c.Request().Context(), projectID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rel)
}

// GetRelationshipHistory handles GET /api/projects/:projectId/relationships/:id/history
func (h *Handler) GetRelationshipHistory(c echo.Context) error {
	projectID, err := pathUUID(c, "projectId")
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	history, err := h.svc.RelationshipHistory(c.Request().Context(), projectID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, history)
}

type searchRequest struct {
	Text        string    `json:"text"`
	Vector      []float32 `json:"vector"`
	Types       []string  `json:"types"`
	KeyPrefix   *string   `json:"keyPrefix"`
	LabelsAll   []string  `json:"labelsAll"`
	LabelsAny   []string  `json:"labelsAny"`
	MaxDistance *float32  `json:"maxDistance"`
	Limit       int       `json:"limit"`
	Offset      int       `json:"offset"`
}

// Search handles POST /api/projects/:projectId/search. Either a query text
// (embedded server side) or a raw vector may be supplied.
func (h *Handler) Search(c echo.Context) error {
	projectID, err := pathUUID(c, "projectId")
	if err != nil {
		return err
	}

	req := &searchRequest{}
	if err := c.Bind(req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	params := VectorSearchParams{
		ProjectID:   projectID,
		Vector:      req.Vector,
		Types:       req.Types,
		KeyPrefix:   req.KeyPrefix,
		LabelsAll:   req.LabelsAll,
		LabelsAny:   req.LabelsAny,
		MaxDistance: req.MaxDistance,
		Limit:       mathutil.ClampLimit(req.Limit, 20, 100),
		Offset:      req.Offset,
	}

	var results []*VectorSearchResult
	if req.Text != "" && len(req.Vector) == 0 {
		results, err = h.svc.SearchByText(c.Request().Context(), req.Text, params)
	} else {
		results, err = h.svc.SearchByVector(c.Request().Context(), params)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, results)
}
