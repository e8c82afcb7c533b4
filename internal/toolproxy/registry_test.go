package toolproxy

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"orion/internal/catalog"
	"orion/internal/config"
)

// repoWindower serves windows from the in-memory catalog, like the retrieval
// service does from the index.
type repoWindower struct {
	repo catalog.Repository
}

func (w repoWindower) FetchWindow(ctx context.Context, _, docID, anchorChunkID string, before, after int) ([]WindowChunk, error) {
	chunks, err := w.repo.ChunkWindow(ctx, docID, anchorChunkID, before, after)
	if err != nil {
		return nil, err
	}
	out := make([]WindowChunk, len(chunks))
	for i, c := range chunks {
		out[i] = WindowChunk{ChunkID: c.ChunkID, Page: c.Page, ChunkIndex: c.ChunkIndex, Text: c.Text}
	}
	return out, nil
}

func newTestRegistry(t *testing.T, mutate ...func(*config.Config)) *Registry {
	t.Helper()
	cfg := config.Defaults()
	for _, m := range mutate {
		m(&cfg)
	}
	store := config.NewStore(cfg)
	repo := catalog.NewSeededRepository()
	limiter := NewMemoryLimiter(cfg.Proxy.RateLimitCalls, cfg.Proxy.RateLimitTokens,
		time.Duration(cfg.Proxy.RateLimitPeriodS)*time.Second)
	return NewRegistry(store, repo, repoWindower{repo: repo}, limiter)
}

func owner() User { return User{UserID: "u1", TenantID: "tenant_1"} }

func execute(r *Registry, tool string, args map[string]any, user User) ExecuteResponse {
	return r.Execute(context.Background(), ExecuteRequest{
		ToolName: tool, Arguments: args, User: user, TraceID: "trace-t",
	})
}

func TestReadDocSectionOK(t *testing.T) {
	r := newTestRegistry(t)
	resp := execute(r, "read_doc_section", map[string]any{"doc_id": "doc_1", "section_id": "sec_intro"}, owner())
	require.Equal(t, "ok", resp.Status)
	require.NotEmpty(t, resp.Result["text"])
	require.Equal(t, "trace-t", resp.TraceID)
	tokens, ok := resp.Result["tokens"].(int)
	require.True(t, ok)
	require.Greater(t, tokens, 0)
}

func TestTenantIsolationAccessDenied(t *testing.T) {
	r := newTestRegistry(t)
	resp := execute(r, "read_doc_section",
		map[string]any{"doc_id": "doc_1", "section_id": "sec_intro"},
		User{UserID: "intruder", TenantID: "other"})
	require.Equal(t, "error", resp.Status)
	require.Equal(t, "ACCESS_DENIED", resp.Error.Code)
	require.Nil(t, resp.Result)
}

func TestUnknownDocumentNotFound(t *testing.T) {
	r := newTestRegistry(t)
	resp := execute(r, "read_doc_metadata", map[string]any{"doc_id": "doc_missing"}, owner())
	require.Equal(t, "error", resp.Status)
	require.Equal(t, "not_found", resp.Error.Code)
}

func TestUnknownToolIsEnvelopeError(t *testing.T) {
	r := newTestRegistry(t)
	resp := execute(r, "drop_tables", nil, owner())
	require.Equal(t, "error", resp.Status)
	require.Equal(t, "tool_not_found", resp.Error.Code)
}

func TestReadDocPagesSpanLimit(t *testing.T) {
	r := newTestRegistry(t)
	resp := execute(r, "read_doc_pages",
		map[string]any{"doc_id": "doc_1", "page_start": float64(1), "page_end": float64(12)}, owner())
	require.Equal(t, "error", resp.Status)
	require.Equal(t, "invalid_arguments", resp.Error.Code)

	resp = execute(r, "read_doc_pages",
		map[string]any{"doc_id": "doc_1", "page_start": float64(1), "page_end": float64(3)}, owner())
	require.Equal(t, "ok", resp.Status)
	require.NotEmpty(t, resp.Result["text"])
}

func TestWindowRadiusCap(t *testing.T) {
	r := newTestRegistry(t, func(cfg *config.Config) { cfg.Proxy.MaxWindowRadius = 1 })
	resp := execute(r, "read_chunk_window", map[string]any{
		"doc_id": "doc_1", "anchor_chunk_id": "chunk_3",
		"window_before": float64(5), "window_after": float64(3),
	}, owner())
	require.Equal(t, "error", resp.Status)
	require.Equal(t, "WINDOW_TOO_LARGE", resp.Error.Code)
	require.Contains(t, resp.Error.Message, "5")
}

func TestChunkWindowOrderedContiguous(t *testing.T) {
	r := newTestRegistry(t)
	resp := execute(r, "read_chunk_window", map[string]any{
		"doc_id": "doc_1", "anchor_chunk_id": "chunk_3",
		"window_before": float64(1), "window_after": float64(1),
	}, owner())
	require.Equal(t, "ok", resp.Status)
	chunks, ok := resp.Result["chunks"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, chunks, 3)
	require.Equal(t, "chunk_2", chunks[0]["chunk_id"])
	require.Equal(t, "chunk_3", chunks[1]["chunk_id"])
	require.Equal(t, "chunk_4", chunks[2]["chunk_id"])
	require.Equal(t, 3, resp.Result["count"])
}

func TestChunkWindowRadiusAlias(t *testing.T) {
	r := newTestRegistry(t)
	resp := execute(r, "read_chunk_window", map[string]any{
		"doc_id": "doc_1", "anchor_chunk_id": "chunk_3", "radius": float64(1),
	}, owner())
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, 1, resp.Result["window_before"])
	require.Equal(t, 1, resp.Result["window_after"])
}

func TestLocalSearchSnippets(t *testing.T) {
	r := newTestRegistry(t)
	resp := execute(r, "doc_local_search", map[string]any{
		"doc_id": "doc_1", "query": "troubleshooting", "max_results": float64(9),
	}, owner())
	require.Equal(t, "ok", resp.Status)
	snippets, ok := resp.Result["snippets"].([]map[string]any)
	require.True(t, ok)
	require.NotEmpty(t, snippets)
	require.LessOrEqual(t, len(snippets), 5)
}

func TestListAvailableTools(t *testing.T) {
	r := newTestRegistry(t)
	resp := execute(r, "list_available_tools", nil, owner())
	require.Equal(t, "ok", resp.Status)
	names, ok := resp.Result["tools"].([]string)
	require.True(t, ok)
	require.Contains(t, names, "read_doc_section")
	require.Contains(t, names, "read_chunk_window")
	require.NotContains(t, names, "list_available_tools")
}

func TestRateLimitCalls(t *testing.T) {
	cfg := config.Defaults()
	cfg.Proxy.RateLimitCalls = 2
	store := config.NewStore(cfg)
	repo := catalog.NewSeededRepository()
	limiter := NewMemoryLimiter(2, cfg.Proxy.RateLimitTokens, time.Minute)
	r := NewRegistry(store, repo, repoWindower{repo: repo}, limiter)

	args := map[string]any{"doc_id": "doc_1", "section_id": "sec_intro"}
	require.Equal(t, "ok", execute(r, "read_doc_section", args, owner()).Status)
	require.Equal(t, "ok", execute(r, "read_doc_section", args, owner()).Status)
	resp := execute(r, "read_doc_section", args, owner())
	require.Equal(t, "error", resp.Status)
	require.Equal(t, "RATE_LIMIT_EXCEEDED", resp.Error.Code)

	// Another tenant's bucket is unaffected.
	other := execute(r, "read_doc_section", args, User{UserID: "u2", TenantID: "tenant_1x"})
	require.NotEqual(t, "RATE_LIMIT_EXCEEDED", errCode(other))
}

func TestRateLimitTokens(t *testing.T) {
	cfg := config.Defaults()
	store := config.NewStore(cfg)
	repo := catalog.NewSeededRepository()
	limiter := NewMemoryLimiter(100, 10, time.Minute)
	r := NewRegistry(store, repo, repoWindower{repo: repo}, limiter)

	args := map[string]any{"doc_id": "doc_1", "section_id": "sec_intro"}
	first := execute(r, "read_doc_section", args, owner())
	require.Equal(t, "ok", first.Status)
	// The section text is well past 40 bytes, so the bucket is now over.
	second := execute(r, "read_doc_section", args, owner())
	require.Equal(t, "error", second.Status)
	require.Equal(t, "RATE_LIMIT_EXCEEDED", second.Error.Code)
}

func TestTextTruncatedToMaxBytes(t *testing.T) {
	r := newTestRegistry(t, func(cfg *config.Config) { cfg.Proxy.MaxTextBytes = 64 })
	resp := execute(r, "read_doc_section", map[string]any{"doc_id": "doc_1", "section_id": "sec_intro"}, owner())
	require.Equal(t, "ok", resp.Status)
	text, _ := resp.Result["text"].(string)
	require.LessOrEqual(t, len(text), 64)
}

func TestMemoryLimiterWindowReset(t *testing.T) {
	limiter := NewMemoryLimiter(1, 1000, 10*time.Millisecond)
	require.NoError(t, limiter.Check(context.Background(), "k"))
	require.Error(t, limiter.Check(context.Background(), "k"))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, limiter.Check(context.Background(), "k"))
}

func errCode(resp ExecuteResponse) string {
	if resp.Error == nil {
		return ""
	}
	return resp.Error.Code
}

func TestSchemasCarryWindowMaximum(t *testing.T) {
	r := newTestRegistry(t, func(cfg *config.Config) { cfg.Proxy.MaxWindowRadius = 3 })
	for _, schema := range r.Schemas() {
		if schema.Name != "read_chunk_window" {
			continue
		}
		props, ok := schema.Parameters["properties"].(map[string]any)
		require.True(t, ok)
		before, ok := props["window_before"].(map[string]any)
		require.True(t, ok)
		require.Equal(t, 3, before["maximum"])
		return
	}
	t.Fatalf("read_chunk_window schema not found")
}

func TestErrorEnvelopeNeverPanicsOnMissingArgs(t *testing.T) {
	r := newTestRegistry(t)
	for _, tool := range []string{"read_doc_section", "read_doc_pages", "read_doc_metadata", "doc_local_search", "read_chunk_window"} {
		resp := execute(r, tool, map[string]any{}, owner())
		require.Equal(t, "error", resp.Status, tool)
		require.False(t, strings.Contains(resp.Error.Code, " "), tool)
	}
}
