package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"orion/internal/apperr"
)

func TestDecodeArguments(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want map[string]any
	}{
		{"object", `{"doc_id":"doc_1"}`, map[string]any{"doc_id": "doc_1"}},
		{"string-encoded object", `"{\"doc_id\":\"doc_1\"}"`, map[string]any{"doc_id": "doc_1"}},
		{"malformed", `{not json`, map[string]any{}},
		{"empty", ``, map[string]any{}},
		{"string of garbage", `"not json either"`, map[string]any{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DecodeArguments(json.RawMessage(tc.raw))
			require.Equal(t, tc.want, got)
		})
	}
}

func TestChatDecodesToolCallFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"content": "ignored when tool_calls present",
					"tool_calls": []map[string]any{{
						"function": map[string]any{
							"name":      "read_chunk_window",
							"arguments": `{"doc_id":"doc_1","radius":1}`,
						},
					}},
				},
			}},
			"usage": map[string]any{"prompt_tokens": 11, "completion_tokens": 7},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key-1", srv.Client())
	result, err := client.Chat(context.Background(), ChatRequest{Model: "m", Messages: []ChatMessage{{Role: "user", Content: "q"}}})
	require.NoError(t, err)
	call, ok := result.(*ToolCall)
	require.True(t, ok)
	require.Equal(t, "read_chunk_window", call.Name)
	require.Equal(t, "doc_1", call.Arguments["doc_id"])
	require.Equal(t, Usage{Prompt: 11, Completion: 7}, call.Usage)
}

func TestChatDecodesFinalMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"content": "final answer"},
			}},
			"usage": map[string]any{"prompt_tokens": 3, "completion_tokens": 2},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key-1", srv.Client())
	result, err := client.Chat(context.Background(), ChatRequest{Model: "m"})
	require.NoError(t, err)
	msg, ok := result.(*Message)
	require.True(t, ok)
	require.Equal(t, "final answer", msg.Content)
}

func TestChatUpstreamFailureIs502(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream exploded with a very long body that should be truncated for diagnostics purposes and never echoed in full because two hundred bytes is the agreed ceiling for upstream error snippets in this service, period."))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key-1", srv.Client())
	_, err := client.Chat(context.Background(), ChatRequest{Model: "m"})
	require.Error(t, err)
	e := apperr.From(err)
	require.Equal(t, http.StatusBadGateway, e.Status)
	require.LessOrEqual(t, len(e.Message), 260)
}

func TestChatMissingKeyIs503(t *testing.T) {
	client := NewClient("http://localhost:9", "", nil)
	_, err := client.Chat(context.Background(), ChatRequest{Model: "m"})
	require.Error(t, err)
	require.Equal(t, http.StatusServiceUnavailable, apperr.From(err).Status)
}

func TestResolveURLAppendsChatCompletions(t *testing.T) {
	c := NewClient("https://llm.example.com/api/v1", "k", nil)
	require.Equal(t, "https://llm.example.com/api/v1/chat/completions", c.resolveURL())

	c = NewClient("https://llm.example.com/api/v1/chat/completions", "k", nil)
	require.Equal(t, "https://llm.example.com/api/v1/chat/completions", c.resolveURL())
}

func TestMockRuntimeScriptAndHeuristic(t *testing.T) {
	mock := NewMockRuntime(&Message{Content: "scripted"})
	res, err := mock.Chat(context.Background(), ChatRequest{})
	require.NoError(t, err)
	require.Equal(t, "scripted", res.(*Message).Content)

	res, err = mock.Chat(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "please TOOL_CALL something"}},
	})
	require.NoError(t, err)
	call, ok := res.(*ToolCall)
	require.True(t, ok)
	require.Equal(t, "read_doc_section", call.Name)
}
