package extraction

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers all extraction and embedding queue routes.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	h.RegisterRoutes(e.Group("/api"))
}
