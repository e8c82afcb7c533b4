package orchestrator

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"orion/internal/apperr"
	"orion/internal/config"
	"orion/internal/observability"
)

// Handler serves the internal orchestrator endpoints.
type Handler struct {
	engine *Engine
	store  *config.Store
}

func NewHandler(engine *Engine, store *config.Store) *Handler {
	return &Handler{engine: engine, store: store}
}

func (h *Handler) Register(g *echo.Group) {
	g.POST("/respond", h.Respond)
	g.GET("/config", h.GetConfig)
	g.POST("/config", h.UpdateConfig)
}

func (h *Handler) Respond(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return apperr.BadRequest("invalid_request", "malformed orchestrator request")
	}
	if req.Query == "" {
		return apperr.BadRequest("invalid_request", "query is required")
	}
	ctx := c.Request().Context()
	if req.TraceID != "" {
		ctx = observability.WithTraceID(ctx, req.TraceID)
	}
	resp, err := h.engine.Respond(ctx, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// adminKnobs is the subset of orchestrator settings admins may change live.
type adminKnobs struct {
	DefaultModel       *string `json:"default_model"`
	PromptTokenBudget  *int    `json:"prompt_token_budget"`
	ContextTokenBudget *int    `json:"context_token_budget"`
	MaxToolSteps       *int    `json:"max_tool_steps"`
	WindowRadius       *int    `json:"window_radius"`
	WindowMax          *int    `json:"window_max"`
	MaxChunkWindow     *int    `json:"max_chunk_window"`
}

func (h *Handler) GetConfig(c echo.Context) error {
	cfg := h.store.Snapshot().Orchestrator
	return c.JSON(http.StatusOK, map[string]any{
		"default_model":        cfg.DefaultModel,
		"prompt_token_budget":  cfg.PromptTokenBudget,
		"context_token_budget": cfg.ContextTokenBudget,
		"max_tool_steps":       cfg.MaxToolSteps,
		"window_radius":        cfg.WindowRadius,
	})
}

func (h *Handler) UpdateConfig(c echo.Context) error {
	var payload adminKnobs
	if err := c.Bind(&payload); err != nil {
		return apperr.BadRequest("invalid_request", "malformed config payload")
	}
	h.store.Update(func(cfg *config.Config) {
		o := &cfg.Orchestrator
		if payload.DefaultModel != nil {
			o.DefaultModel = *payload.DefaultModel
		}
		if payload.PromptTokenBudget != nil {
			o.PromptTokenBudget = *payload.PromptTokenBudget
		}
		if payload.ContextTokenBudget != nil {
			o.ContextTokenBudget = *payload.ContextTokenBudget
		}
		if payload.MaxToolSteps != nil {
			o.MaxToolSteps = *payload.MaxToolSteps
		}
		if payload.WindowRadius != nil {
			o.WindowRadius = *payload.WindowRadius
		}
		// Legacy aliases keep working on the admin surface.
		if payload.WindowMax != nil {
			o.WindowRadius = *payload.WindowMax
		}
		if payload.MaxChunkWindow != nil {
			o.WindowRadius = (*payload.MaxChunkWindow - 1) / 2
		}
		if o.WindowRadius < 1 {
			o.WindowRadius = 1
		}
	})
	return h.GetConfig(c)
}
