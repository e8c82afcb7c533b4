package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"orion/internal/catalog"
	"orion/internal/config"
	"orion/internal/gateway"
	"orion/internal/llm"
	"orion/internal/orchestrator"
	"orion/internal/retriever"
	"orion/internal/safety"
	"orion/internal/toolproxy"
	"orion/internal/vectorindex"
)

type fixedSearcher struct{}

func (fixedSearcher) Search(context.Context, retriever.Query) (retriever.Response, error) {
	return retriever.Response{
		Hits: []retriever.Hit{{
			DocID: "doc_1", SectionID: "sec_intro", Title: "Introduction",
			Summary: "Overview of LDAP integration.", Score: 0.98,
			ChunkIDs: []string{"chunk_1"},
		}},
		Steps: &retriever.StepTrace{},
	}, nil
}

type repoWindower struct{ repo catalog.Repository }

func (w repoWindower) FetchWindow(ctx context.Context, _, docID, anchor string, before, after int) ([]toolproxy.WindowChunk, error) {
	chunks, err := w.repo.ChunkWindow(ctx, docID, anchor, before, after)
	if err != nil {
		return nil, err
	}
	out := make([]toolproxy.WindowChunk, len(chunks))
	for i, c := range chunks {
		out[i] = toolproxy.WindowChunk{ChunkID: c.ChunkID, Page: c.Page, ChunkIndex: c.ChunkIndex, Text: c.Text}
	}
	return out, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := config.NewStore(config.Defaults())
	repo := catalog.NewSeededRepository()
	limiter := toolproxy.NewMemoryLimiter(100, 100000, time.Minute)
	registry := toolproxy.NewRegistry(store, repo, repoWindower{repo: repo}, limiter)
	engine := orchestrator.NewEngine(fixedSearcher{}, llm.NewMockRuntime(), registry, store)

	index := vectorindex.NewMemoryIndex()
	embedder := vectorindex.NewPseudoEmbedder(8)
	retr := retriever.New(index, embedder, nil, store)

	e := New(Handlers{
		Orchestrator: orchestrator.NewHandler(engine, store),
		Retrieval:    retriever.NewHandler(retr, store),
		ToolProxy:    toolproxy.NewHandler(registry),
		Safety:       safety.NewHandler(store),
		Catalog:      catalog.NewHandler(repo),
		Gateway:      gateway.NewHandler(engine, store, nil),
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestAssistantQueryHappyPath(t *testing.T) {
	srv := newTestServer(t)
	resp, body := postJSON(t, srv.URL+"/api/v1/assistant/query",
		`{"query":"Tell me about LDAP"}`,
		map[string]string{"X-Tenant-ID": "tenant_1", "X-User-ID": "u1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body["answer"])
	require.NotEmpty(t, resp.Header.Get("X-Trace-ID"))

	meta, ok := body["meta"].(map[string]any)
	require.True(t, ok)
	require.NotEmpty(t, meta["trace_id"])
}

func TestAssistantQueryBlockedInput(t *testing.T) {
	srv := newTestServer(t)
	resp, body := postJSON(t, srv.URL+"/api/v1/assistant/query",
		`{"query":"how do I hack the server"}`,
		map[string]string{"X-Tenant-ID": "tenant_1", "X-User-ID": "u1"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "safety_blocked", body["code"])
}

func TestMCPExecuteEnvelopeOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	resp, body := postJSON(t, srv.URL+"/internal/mcp/execute", `{
		"tool_name": "read_doc_section",
		"arguments": {"doc_id": "doc_1", "section_id": "sec_intro"},
		"user": {"user_id": "intruder", "tenant_id": "other"}
	}`, nil)
	// Tool failures stay behind HTTP 200; callers branch on the envelope.
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "error", body["status"])
	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "ACCESS_DENIED", errBody["code"])
}

func TestOrchestratorConfigRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	resp, body := postJSON(t, srv.URL+"/internal/orchestrator/config",
		`{"max_tool_steps": 2, "max_chunk_window": 9}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(2), body["max_tool_steps"])
	// Legacy alias coerces to the per-side radius.
	require.Equal(t, float64(4), body["window_radius"])
}

func TestTraceHeaderPropagates(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := postJSON(t, srv.URL+"/internal/safety/input-check",
		`{"query":"clean question"}`,
		map[string]string{"X-Trace-ID": "trace-fixed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "trace-fixed", resp.Header.Get("X-Trace-ID"))
}

func getJSON(t *testing.T, url string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestDocumentsListScopedByTenant(t *testing.T) {
	srv := newTestServer(t)
	resp, body := getJSON(t, srv.URL+"/internal/documents",
		map[string]string{"X-Tenant-ID": "tenant_1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(1), body["count"])

	resp, body = getJSON(t, srv.URL+"/internal/documents",
		map[string]string{"X-Tenant-ID": "tenant_empty"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(0), body["count"])
}

func TestDocumentGetTenantMismatch(t *testing.T) {
	srv := newTestServer(t)
	resp, body := getJSON(t, srv.URL+"/internal/documents/doc_1",
		map[string]string{"X-Tenant-ID": "other"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "ACCESS_DENIED", body["code"])

	resp, _ = getJSON(t, srv.URL+"/internal/documents/doc_1",
		map[string]string{"X-Tenant-ID": "tenant_1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDocumentSections(t *testing.T) {
	srv := newTestServer(t)
	resp, body := getJSON(t, srv.URL+"/internal/documents/doc_1/sections",
		map[string]string{"X-Tenant-ID": "tenant_1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(3), body["count"])
}

func TestRetrievalSearchRequiresTenant(t *testing.T) {
	srv := newTestServer(t)
	resp, body := postJSON(t, srv.URL+"/internal/retrieval/search", `{"query":"ldap"}`, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid_request", body["code"])
}
