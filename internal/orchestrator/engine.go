package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"orion/internal/apperr"
	"orion/internal/config"
	"orion/internal/llm"
	"orion/internal/observability"
	"orion/internal/retriever"
	"orion/internal/toolproxy"
)

// Searcher is the retrieval dependency.
type Searcher interface {
	Search(ctx context.Context, q retriever.Query) (retriever.Response, error)
}

// ToolExecutor is the tool proxy dependency.
type ToolExecutor interface {
	Execute(ctx context.Context, req toolproxy.ExecuteRequest) toolproxy.ExecuteResponse
	Schemas() []llm.ToolSchema
}

// Engine drives one request through retrieve, prompt and the bounded
// tool-calling loop. An Engine is safe for concurrent use; all per-request
// state lives in the loop's locals.
type Engine struct {
	retriever Searcher
	runtime   llm.Runtime
	proxy     ToolExecutor
	store     *config.Store
}

func NewEngine(r Searcher, runtime llm.Runtime, proxy ToolExecutor, store *config.Store) *Engine {
	return &Engine{retriever: r, runtime: runtime, proxy: proxy, store: store}
}

// loopState is the per-request mutable state threaded through the tool loop.
type loopState struct {
	messages   []llm.ChatMessage
	window     *windowState
	seen       map[string]int
	tokensUsed int
	traces     []ToolCallTrace
	llmLatency time.Duration
}

// Respond runs the full state machine: RETRIEVE, BUILD_CONTEXT, then up to
// max_tool_steps+1 strictly ordered runtime calls with interleaved tool
// execution.
func (e *Engine) Respond(ctx context.Context, req Request) (*Response, error) {
	cfg := e.store.Snapshot()
	log := observability.LoggerWithTrace(ctx)

	user, err := e.resolveUser(req, cfg.Orchestrator)
	if err != nil {
		return nil, err
	}
	traceID := req.TraceID
	if traceID == "" {
		traceID = "trace-unknown"
	}

	retrievalStart := time.Now()
	result, err := e.retriever.Search(ctx, e.retrievalQuery(req, user.TenantID))
	if err != nil {
		return nil, apperr.BadGateway(fmt.Sprintf("retrieval failed: %v", err))
	}
	retrievalLatency := time.Since(retrievalStart)
	steps := result.Steps
	log.Info().
		Int("hits", len(result.Hits)).
		Int("docs", lenOf(steps, func(s *retriever.StepTrace) int { return len(s.Docs) })).
		Int("sections", lenOf(steps, func(s *retriever.StepTrace) int { return len(s.Sections) })).
		Int("chunks", lenOf(steps, func(s *retriever.StepTrace) int { return len(s.Chunks) })).
		Dur("retrieval_latency", retrievalLatency).
		Msg("orchestrator_retrieved")

	pctx := buildContext(req.Query, result.Hits, cfg.Orchestrator.PromptTokenBudget)

	state := &loopState{
		messages: pctx.messages,
		window:   newWindowState(e.maxRadius(cfg)),
		seen:     make(map[string]int),
	}

	answer, err := e.runLoop(ctx, cfg, state, pctx, user, traceID)
	if err != nil {
		return nil, err
	}

	return &Response{
		Answer:  answer,
		Sources: pctx.sources(),
		Tools:   traces(state),
		Safety:  SafetyBlock{Input: "allowed"},
		Telemetry: Telemetry{
			TraceID:            traceID,
			RetrievalLatencyMS: retrievalLatency.Milliseconds(),
			LLMLatencyMS:       state.llmLatency.Milliseconds(),
			ToolSteps:          len(state.traces),
		},
	}, nil
}

// runLoop is the LOOP_STEP state: call the runtime, then either finish,
// execute a tool, or abort on a budget violation.
func (e *Engine) runLoop(ctx context.Context, cfg config.Config, state *loopState, pctx *promptContext, user toolproxy.User, traceID string) (string, error) {
	log := observability.LoggerWithTrace(ctx)
	maxSteps := cfg.Orchestrator.MaxToolSteps
	schemas := e.proxy.Schemas()

	for step := 0; step <= maxSteps; step++ {
		log.Debug().Int("step", step).Int("history", len(state.messages)).Msg("engine_step_start")

		payload := llm.ChatRequest{
			Model:    cfg.Orchestrator.DefaultModel,
			Messages: state.messages,
			Tools:    schemas,
			Context:  pctx.contextPayloads(),
		}
		llmStart := time.Now()
		result, err := e.runtime.Chat(ctx, payload)
		state.llmLatency += time.Since(llmStart)
		if err != nil {
			log.Error().Err(err).Int("step", step).Msg("engine_step_error")
			return "", err
		}

		usage := result.ResultUsage()
		state.tokensUsed += usage.Prompt + usage.Completion
		if err := e.checkBudget(state, cfg); err != nil {
			return "", err
		}

		switch r := result.(type) {
		case *llm.Message:
			log.Info().Int("step", step).Int("answer_len", len(r.Content)).Msg("engine_final")
			return r.Content, nil
		case *llm.ToolCall:
			if step == maxSteps {
				return "", apperr.BadRequest("LLM_LIMIT_EXCEEDED", "tool-call limit reached")
			}
			if err := e.executeToolStep(ctx, cfg, state, pctx, user, traceID, r); err != nil {
				return "", err
			}
		default:
			return "", apperr.BadGateway("llm runtime returned unknown result type")
		}
	}
	return "", apperr.BadRequest("LLM_LOOP", "no final answer within the step budget")
}

// executeToolStep resolves the anchor, clamps the window through the
// progressive state, runs the tool and feeds the observation back into the
// message log.
func (e *Engine) executeToolStep(ctx context.Context, cfg config.Config, state *loopState, pctx *promptContext, user toolproxy.User, traceID string, call *llm.ToolCall) error {
	log := observability.LoggerWithTrace(ctx)

	name, args := e.resolveToolCall(state, pctx, call)

	key := repeatKey(name, args)
	if prev, repeated := state.seen[key]; repeated {
		state.seen[key] = prev + 1
		log.Info().Str("tool", name).Int("repeats", prev+1).Msg("engine_repeat_suppressed")
		state.messages = append(state.messages, llm.ChatMessage{
			Role:    "assistant",
			Content: "TOOL_RESULT:{\"note\":\"observation unchanged; this exact request was already answered above\"}",
		})
		state.traces = append(state.traces, ToolCallTrace{
			Name:          name,
			Arguments:     args,
			ResultSummary: "repeat suppressed: observation unchanged",
		})
		return nil
	}
	state.seen[key] = 1

	resp := e.proxy.Execute(ctx, toolproxy.ExecuteRequest{
		ToolName:  name,
		Arguments: args,
		User:      user,
		TraceID:   traceID,
	})

	if resp.Status != "ok" {
		code, message := "TOOL_ERROR", "tool execution failed"
		if resp.Error != nil {
			code, message = resp.Error.Code, resp.Error.Message
		}
		switch code {
		case "ACCESS_DENIED":
			return apperr.Forbidden(code, message)
		case "RATE_LIMIT_EXCEEDED":
			return apperr.TooManyRequests(code, message)
		}
		log.Warn().Str("tool", name).Str("code", code).Msg("engine_tool_error")
		state.messages = append(state.messages, llm.ChatMessage{
			Role:    "assistant",
			Content: "TOOL_ERROR:" + message,
		})
		state.traces = append(state.traces, ToolCallTrace{
			Name:          name,
			Arguments:     args,
			ResultSummary: "error " + code + ": " + message,
		})
		return nil
	}

	text := extractText(resp.Result)
	state.tokensUsed += len(text) / 4
	if err := e.checkBudget(state, cfg); err != nil {
		return err
	}

	encoded, err := json.Marshal(resp.Result)
	if err != nil {
		encoded = []byte(`{}`)
	}
	state.messages = append(state.messages, llm.ChatMessage{
		Role:    "assistant",
		Content: "TOOL_RESULT:" + string(encoded),
	})
	state.traces = append(state.traces, ToolCallTrace{
		Name:          name,
		Arguments:     args,
		ResultSummary: summarize(encoded),
	})
	log.Info().Str("tool", name).Int("result_bytes", len(encoded)).Msg("engine_tool_done")
	return nil
}

// resolveToolCall applies the text-expansion mapping: when the model asks for
// raw text, a known anchor routes to the progressive chunk window, otherwise
// the whole section is read. Other tools pass through unchanged.
func (e *Engine) resolveToolCall(state *loopState, pctx *promptContext, call *llm.ToolCall) (string, map[string]any) {
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if call.Name != "read_chunk_window" && call.Name != "read_doc_section" {
		return call.Name, args
	}

	sectionID, _ := args["section_id"].(string)
	anchor, _ := args["anchor_chunk_id"].(string)
	if anchor == "" && sectionID != "" {
		anchor = pctx.sectionAnchors[sectionID]
	}
	if anchor == "" {
		docID, _ := args["doc_id"].(string)
		return "read_doc_section", map[string]any{"doc_id": docID, "section_id": sectionID}
	}

	allowed := state.window.next(sectionID)
	before := clampRadius(intArg(args, "window_before", -1), allowed)
	after := clampRadius(intArg(args, "window_after", -1), allowed)
	if radius := intArg(args, "radius", -1); radius >= 0 {
		clamped := clampRadius(radius, allowed)
		before, after = clamped, clamped
	}
	docID, _ := args["doc_id"].(string)
	return "read_chunk_window", map[string]any{
		"doc_id":          docID,
		"anchor_chunk_id": anchor,
		"window_before":   before,
		"window_after":    after,
	}
}

func (e *Engine) checkBudget(state *loopState, cfg config.Config) error {
	if state.tokensUsed > cfg.Orchestrator.ContextTokenBudget {
		return apperr.BadRequest("CONTEXT_BUDGET_EXCEEDED",
			fmt.Sprintf("context budget exhausted: %d tokens used", state.tokensUsed))
	}
	return nil
}

func (e *Engine) resolveUser(req Request, cfg config.OrchestratorConfig) (toolproxy.User, error) {
	if req.User != nil && req.User.TenantID != "" {
		return *req.User, nil
	}
	if req.UserID != "" && req.TenantID != "" {
		return toolproxy.User{UserID: req.UserID, TenantID: req.TenantID}, nil
	}
	if cfg.DefaultUserID != "" && cfg.DefaultTenantID != "" {
		return toolproxy.User{UserID: cfg.DefaultUserID, TenantID: cfg.DefaultTenantID}, nil
	}
	return toolproxy.User{}, apperr.BadRequest("invalid_request", "user context missing")
}

func (e *Engine) retrievalQuery(req Request, tenantID string) retriever.Query {
	return retriever.Query{
		Query:                req.Query,
		TenantID:             tenantID,
		MaxResults:           req.MaxResults,
		Filters:              req.Filters,
		DocIDs:               req.DocIDs,
		SectionIDs:           req.SectionIDs,
		DocsTopK:             req.DocsTopK,
		SectionsTopKPerDoc:   req.SectionsTopKPerDoc,
		MaxTotalSections:     req.MaxTotalSections,
		EnableSectionCosine:  req.EnableSectionCosine,
		EnableRerank:         req.EnableRerank,
		RerankScoreThreshold: req.RerankScoreThreshold,
		ChunksEnabled:        req.ChunksEnabled,
		EnableFilters:        req.EnableFilters,
	}
}

// maxRadius is the orchestrator's window cap, never above the proxy's own.
func (e *Engine) maxRadius(cfg config.Config) int {
	r := cfg.Orchestrator.WindowRadius
	if cfg.Proxy.MaxWindowRadius < r {
		r = cfg.Proxy.MaxWindowRadius
	}
	return r
}

func repeatKey(name string, args map[string]any) string {
	docID, _ := args["doc_id"].(string)
	sectionID, _ := args["section_id"].(string)
	anchor, _ := args["anchor_chunk_id"].(string)
	return fmt.Sprintf("%s|%s|%s|%s|%d|%d",
		name, docID, sectionID, anchor,
		intArg(args, "window_before", -1), intArg(args, "window_after", -1))
}

// extractText pulls the textual payload out of a tool result: the text field
// or the concatenated window chunks.
func extractText(result map[string]any) string {
	if result == nil {
		return ""
	}
	if text, ok := result["text"].(string); ok {
		return text
	}
	var combined string
	if chunks, ok := result["chunks"].([]map[string]any); ok {
		for _, c := range chunks {
			if t, ok := c["text"].(string); ok {
				combined += t
			}
		}
		return combined
	}
	if chunks, ok := result["chunks"].([]any); ok {
		for _, item := range chunks {
			if c, ok := item.(map[string]any); ok {
				if t, ok := c["text"].(string); ok {
					combined += t
				}
			}
		}
	}
	return combined
}

func summarize(encoded []byte) string {
	const limit = 200
	if len(encoded) <= limit {
		return string(encoded)
	}
	return string(encoded[:limit]) + "..."
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func traces(state *loopState) []ToolCallTrace {
	if state.traces == nil {
		return []ToolCallTrace{}
	}
	return state.traces
}

func lenOf(s *retriever.StepTrace, f func(*retriever.StepTrace) int) int {
	if s == nil {
		return 0
	}
	return f(s)
}
