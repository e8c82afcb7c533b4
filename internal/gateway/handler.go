// Package gateway is the thin public shell: it runs the safety filter on the
// way in and out and delegates everything else to the orchestrator.
package gateway

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"orion/internal/apperr"
	"orion/internal/config"
	"orion/internal/events"
	"orion/internal/observability"
	"orion/internal/orchestrator"
	"orion/internal/safety"
	"orion/internal/toolproxy"
)

// QueryRequest is the public assistant payload.
type QueryRequest struct {
	Query    string        `json:"query"`
	Language string        `json:"language,omitempty"`
	Context  *QueryContext `json:"context,omitempty"`
}

// QueryContext carries optional channel hints from the caller.
type QueryContext struct {
	Channel string `json:"channel,omitempty"`
}

// ResponseMeta mirrors the orchestrator telemetry for public callers.
type ResponseMeta struct {
	TraceID string                   `json:"trace_id"`
	Safety  orchestrator.SafetyBlock `json:"safety"`
}

// Handler serves the public assistant endpoint.
type Handler struct {
	engine    *orchestrator.Engine
	store     *config.Store
	publisher *events.Publisher
}

func NewHandler(engine *orchestrator.Engine, store *config.Store, publisher *events.Publisher) *Handler {
	return &Handler{engine: engine, store: store, publisher: publisher}
}

func (h *Handler) Register(g *echo.Group) {
	g.POST("/query", h.Query)
}

func (h *Handler) Query(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return apperr.BadRequest("invalid_request", "malformed assistant query")
	}
	if req.Query == "" {
		return apperr.BadRequest("invalid_request", "query is required")
	}

	ctx := c.Request().Context()
	traceID := observability.TraceID(ctx)
	cfg := h.store.Snapshot()
	user := h.resolveUser(c, cfg)

	filter := safety.NewFilter(cfg.Safety, safety.NewLLMGuard(cfg.Safety))
	inDecision := filter.CheckInput(ctx, safety.InputCheckRequest{
		Query: req.Query,
		User:  &safety.UserRef{UserID: user.UserID, TenantID: user.TenantID, Roles: user.Roles},
		Meta:  &safety.Meta{TraceID: traceID, Channel: channelOf(req)},
	})
	if inDecision.Status == safety.StatusBlocked {
		return apperr.BadRequest("safety_blocked", inDecision.Message)
	}
	query := req.Query
	if inDecision.Status == safety.StatusTransformed && inDecision.TransformedText != "" {
		query = inDecision.TransformedText
	}

	resp, err := h.engine.Respond(ctx, orchestrator.Request{
		Query:   query,
		User:    &user,
		TraceID: traceID,
		Channel: channelOf(req),
	})
	if err != nil {
		return err
	}

	outDecision := filter.CheckOutput(ctx, safety.OutputCheckRequest{
		Query:  query,
		Answer: resp.Answer,
		User:   &safety.UserRef{UserID: user.UserID, TenantID: user.TenantID, Roles: user.Roles},
		Meta:   &safety.Meta{TraceID: traceID},
	})
	if outDecision.Status == safety.StatusBlocked {
		return apperr.BadRequest("safety_blocked", outDecision.Message)
	}
	if outDecision.Status == safety.StatusTransformed && outDecision.TransformedText != "" {
		resp.Answer = outDecision.TransformedText
	}

	resp.Safety = orchestrator.SafetyBlock{Input: inDecision.Status, Output: outDecision.Status}
	h.publisher.Publish(ctx, events.QueryEvent{
		TraceID:            traceID,
		TenantID:           user.TenantID,
		ToolSteps:          resp.Telemetry.ToolSteps,
		RetrievalLatencyMS: resp.Telemetry.RetrievalLatencyMS,
		LLMLatencyMS:       resp.Telemetry.LLMLatencyMS,
		AnswerLength:       len(resp.Answer),
		SafetyInput:        inDecision.Status,
		SafetyOutput:       outDecision.Status,
	})
	return c.JSON(http.StatusOK, map[string]any{
		"answer":  resp.Answer,
		"sources": resp.Sources,
		"tools":   resp.Tools,
		"meta": ResponseMeta{
			TraceID: traceID,
			Safety:  resp.Safety,
		},
		"telemetry": resp.Telemetry,
	})
}

// resolveUser reads the caller identity from the internal routing headers.
// Token verification happens upstream; absent headers fall back to the
// configured defaults.
func (h *Handler) resolveUser(c echo.Context, cfg config.Config) toolproxy.User {
	user := toolproxy.User{
		UserID:   c.Request().Header.Get("X-User-ID"),
		TenantID: c.Request().Header.Get("X-Tenant-ID"),
	}
	if user.UserID == "" {
		user.UserID = cfg.Orchestrator.DefaultUserID
	}
	if user.TenantID == "" {
		user.TenantID = cfg.Orchestrator.DefaultTenantID
	}
	return user
}

func channelOf(req QueryRequest) string {
	if req.Context != nil {
		return req.Context.Channel
	}
	return ""
}
