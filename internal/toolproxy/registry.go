package toolproxy

import (
	"context"
	"sort"

	"orion/internal/apperr"
	"orion/internal/catalog"
	"orion/internal/config"
	"orion/internal/llm"
	"orion/internal/observability"
)

// Registry holds the named tools and executes invocation envelopes.
type Registry struct {
	tools   map[string]Tool
	limiter Limiter
}

// NewRegistry wires the built-in tools against the catalog, the window
// fetcher and the rate limiter.
func NewRegistry(store *config.Store, repo catalog.Repository, windower ChunkWindower, limiter Limiter) *Registry {
	r := &Registry{tools: make(map[string]Tool), limiter: limiter}
	r.register(&readDocSectionTool{repo: repo, store: store})
	r.register(&readDocPagesTool{repo: repo, store: store})
	r.register(&readDocMetadataTool{repo: repo})
	r.register(&docLocalSearchTool{repo: repo, store: store})
	r.register(&readChunkWindowTool{repo: repo, store: store, windower: windower})
	r.register(&listToolsTool{names: r.names})
	return r
}

func (r *Registry) register(t Tool) { r.tools[t.Name()] = t }

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		if name == "list_available_tools" {
			continue
		}
		names = append(names, name)
	}
	return names
}

// Schemas exposes the tool contracts in the shape the runtime payload wants.
func (r *Registry) Schemas() []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(r.tools))
	for name, t := range r.tools {
		out = append(out, llm.ToolSchema{
			Name:       name,
			Parameters: t.Schema(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs one envelope. The response status is always ok or error; HTTP
// transport errors never leak through this boundary.
func (r *Registry) Execute(ctx context.Context, req ExecuteRequest) ExecuteResponse {
	traceID := req.TraceID
	if traceID == "" {
		traceID = "trace-unknown"
	}
	log := observability.LoggerWithTrace(ctx)

	tool, ok := r.tools[req.ToolName]
	if !ok {
		return errorResponse(traceID, apperr.NotFound("tool_not_found", "unknown tool "+req.ToolName))
	}

	argKeys := make([]string, 0, len(req.Arguments))
	for k := range req.Arguments {
		argKeys = append(argKeys, k)
	}
	sort.Strings(argKeys)
	log.Info().
		Str("tool", req.ToolName).
		Str("tenant_id", req.User.TenantID).
		Str("user_id", req.User.UserID).
		Strs("args", argKeys).
		Msg("mcp_tool_invocation")

	docID, _ := req.Arguments["doc_id"].(string)
	if docID == "" {
		docID = "global"
	}
	limiterKey := req.User.TenantID + ":" + docID
	if err := r.limiter.Check(ctx, limiterKey); err != nil {
		log.Warn().Str("tool", req.ToolName).Str("bucket", limiterKey).Msg("mcp_rate_limited")
		return errorResponse(traceID, err)
	}

	result, err := tool.ValidateAndRun(ctx, req.Arguments, req.User)
	if err != nil {
		e := apperr.From(err)
		log.Warn().
			Str("tool", req.ToolName).
			Str("code", e.Code).
			Str("message", e.Message).
			Int("status_code", e.Status).
			Msg("mcp_tool_error")
		return errorResponse(traceID, e)
	}

	if tokens, ok := result["tokens"].(int); ok && tokens > 0 {
		if err := r.limiter.AddTokens(ctx, limiterKey, tokens); err != nil {
			log.Warn().Err(err).Str("bucket", limiterKey).Msg("mcp_token_accounting_failed")
		}
	}

	log.Info().Str("tool", req.ToolName).Str("status", "ok").Msg("mcp_tool_completed")
	return ExecuteResponse{Status: "ok", Result: result, TraceID: traceID}
}

func errorResponse(traceID string, err error) ExecuteResponse {
	e := apperr.From(err)
	return ExecuteResponse{
		Status:  "error",
		Error:   &ErrorBody{Code: e.Code, Message: e.Message},
		TraceID: traceID,
	}
}
