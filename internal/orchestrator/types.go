package orchestrator

import (
	"orion/internal/retriever"
	"orion/internal/toolproxy"
)

// Request is one assistant query. User context resolves in order: explicit
// user, the (user_id, tenant_id) pair, then configured defaults.
type Request struct {
	ConversationID string          `json:"conversation_id,omitempty"`
	Query          string          `json:"query"`
	User           *toolproxy.User `json:"user,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	TenantID       string          `json:"tenant_id,omitempty"`
	TraceID        string          `json:"trace_id,omitempty"`
	Channel        string          `json:"channel,omitempty"`

	Filters    *retriever.Filters `json:"filters,omitempty"`
	DocIDs     []string           `json:"doc_ids,omitempty"`
	SectionIDs []string           `json:"section_ids,omitempty"`
	MaxResults *int               `json:"max_results,omitempty"`

	DocsTopK             *int     `json:"docs_top_k,omitempty"`
	SectionsTopKPerDoc   *int     `json:"sections_top_k_per_doc,omitempty"`
	MaxTotalSections     *int     `json:"max_total_sections,omitempty"`
	EnableSectionCosine  *bool    `json:"enable_section_cosine,omitempty"`
	EnableRerank         *bool    `json:"enable_rerank,omitempty"`
	RerankScoreThreshold *float64 `json:"rerank_score_threshold,omitempty"`
	ChunksEnabled        *bool    `json:"chunks_enabled,omitempty"`
	EnableFilters        *bool    `json:"enable_filters,omitempty"`
}

// ToolCallTrace records one tool invocation for the response.
type ToolCallTrace struct {
	Name          string         `json:"name"`
	Arguments     map[string]any `json:"arguments"`
	ResultSummary string         `json:"result_summary"`
}

// Telemetry carries per-request measurements.
type Telemetry struct {
	TraceID            string `json:"trace_id"`
	RetrievalLatencyMS int64  `json:"retrieval_latency_ms"`
	LLMLatencyMS       int64  `json:"llm_latency_ms"`
	ToolSteps          int    `json:"tool_steps"`
}

// SafetyBlock reports the input/output filter statuses.
type SafetyBlock struct {
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
}

// Response is the orchestrator answer envelope. Sources carry summaries and
// page metadata only, never raw chunk text.
type Response struct {
	Answer    string          `json:"answer"`
	Sources   []retriever.Hit `json:"sources"`
	Tools     []ToolCallTrace `json:"tools"`
	Safety    SafetyBlock     `json:"safety"`
	Telemetry Telemetry       `json:"telemetry"`
}
