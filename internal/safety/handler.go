package safety

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"orion/internal/config"
	"orion/internal/observability"
)

// Handler serves the internal safety endpoints.
type Handler struct {
	store *config.Store
}

func NewHandler(store *config.Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Register(g *echo.Group) {
	g.POST("/input-check", h.InputCheck)
	g.POST("/output-check", h.OutputCheck)
}

func (h *Handler) filter() *Filter {
	cfg := h.store.Snapshot().Safety
	return NewFilter(cfg, NewLLMGuard(cfg))
}

func (h *Handler) InputCheck(c echo.Context) error {
	var req InputCheckRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	ctx := c.Request().Context()
	decision := h.filter().CheckInput(ctx, req)
	observability.LoggerWithTrace(ctx).Info().
		Str("status", decision.Status).
		Str("reason", decision.Reason).
		Msg("safety_input_check")
	return c.JSON(http.StatusOK, decision)
}

func (h *Handler) OutputCheck(c echo.Context) error {
	var req OutputCheckRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	ctx := c.Request().Context()
	decision := h.filter().CheckOutput(ctx, req)
	observability.LoggerWithTrace(ctx).Info().
		Str("status", decision.Status).
		Str("reason", decision.Reason).
		Msg("safety_output_check")
	return c.JSON(http.StatusOK, decision)
}
