package toolproxy

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"orion/internal/apperr"
)

// Handler serves the MCP execute endpoint.
type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) Register(g *echo.Group) {
	g.POST("/execute", h.Execute)
}

func (h *Handler) Execute(c echo.Context) error {
	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return apperr.BadRequest("invalid_request", "malformed execute envelope")
	}
	if req.ToolName == "" || req.User.TenantID == "" || req.User.UserID == "" {
		return apperr.BadRequest("invalid_request", "tool_name and user are required")
	}
	resp := h.registry.Execute(c.Request().Context(), req)
	return c.JSON(http.StatusOK, resp)
}
