// Package llm adapts the remote chat-completions protocol for the
// orchestrator. The client is a stateless translator: one request in, either
// a final message or a structured tool call out.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"orion/internal/apperr"
	"orion/internal/observability"
)

// ChatMessage is one turn in the conversation sent upstream.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolSchema describes one callable tool in the upstream tools array.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatRequest is the runtime payload the orchestrator assembles.
type ChatRequest struct {
	Model       string           `json:"model"`
	Messages    []ChatMessage    `json:"messages"`
	Tools       []ToolSchema     `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	Context     []map[string]any `json:"context,omitempty"`
}

// Usage counts tokens reported by the runtime.
type Usage struct {
	Prompt     int `json:"prompt_tokens"`
	Completion int `json:"completion_tokens"`
}

// Result is either a final *Message or a *ToolCall.
type Result interface {
	ResultUsage() Usage
}

// Message is a final assistant message.
type Message struct {
	Content string
	Usage   Usage
}

func (m *Message) ResultUsage() Usage { return m.Usage }

// ToolCall is a structured request to invoke one of the proxy tools.
type ToolCall struct {
	Name      string
	Arguments map[string]any
	Usage     Usage
}

func (t *ToolCall) ResultUsage() Usage { return t.Usage }

// Runtime is the orchestrator-facing contract.
type Runtime interface {
	Chat(ctx context.Context, req ChatRequest) (Result, error)
}

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	url    string
	apiKey string
	http   *http.Client
}

// NewClient builds the runtime client. A base URL ending in /api/v1 gets
// /chat/completions appended automatically.
func NewClient(url, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{url: url, apiKey: apiKey, http: httpClient}
}

// wirePayload shapes the request for the chat-completions protocol: tools are
// wrapped as function declarations.
func wirePayload(req ChatRequest) map[string]any {
	payload := map[string]any{
		"model":    req.Model,
		"messages": req.Messages,
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			}
		}
		payload["tools"] = tools
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	if len(req.Context) > 0 {
		payload["context"] = req.Context
	}
	return payload
}

type wireToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *Client) Chat(ctx context.Context, req ChatRequest) (Result, error) {
	if c.url == "" {
		return nil, apperr.Unavailable("LLM runtime URL not configured")
	}
	if c.apiKey == "" {
		return nil, apperr.Unavailable("LLM runtime API key missing")
	}

	body, err := json.Marshal(wirePayload(req))
	if err != nil {
		return nil, fmt.Errorf("marshal runtime payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolveURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create runtime request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		observability.LoggerWithTrace(ctx).Error().Err(err).Msg("llm_runtime_error")
		return nil, apperr.BadGateway(fmt.Sprintf("llm runtime error: %v", err))
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.BadGateway(fmt.Sprintf("read runtime response: %v", err))
	}
	if resp.StatusCode != http.StatusOK {
		snippet := raw
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		observability.LoggerWithTrace(ctx).Error().
			Int("status_code", resp.StatusCode).
			Str("body", string(snippet)).
			Msg("llm_runtime_http_error")
		return nil, apperr.BadGateway(fmt.Sprintf("llm runtime returned %d: %s", resp.StatusCode, snippet))
	}

	var decoded wireResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		snippet := raw
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, apperr.BadGateway(fmt.Sprintf("llm runtime returned non-JSON response: %s", snippet))
	}
	if len(decoded.Choices) == 0 {
		return nil, apperr.BadGateway("llm runtime returned no choices")
	}
	usage := Usage{Prompt: decoded.Usage.PromptTokens, Completion: decoded.Usage.CompletionTokens}
	msg := decoded.Choices[0].Message
	if len(msg.ToolCalls) > 0 {
		tc := msg.ToolCalls[0]
		return &ToolCall{
			Name:      tc.Function.Name,
			Arguments: DecodeArguments(tc.Function.Arguments),
			Usage:     usage,
		}, nil
	}
	return &Message{Content: msg.Content, Usage: usage}, nil
}

func (c *Client) resolveURL() string {
	stripped := strings.TrimRight(c.url, "/")
	if strings.HasSuffix(stripped, "/api/v1") || strings.HasSuffix(stripped, "/v1") {
		return stripped + "/chat/completions"
	}
	return c.url
}

// DecodeArguments accepts tool-call arguments as either a JSON object or a
// JSON-encoded string of an object. Malformed input yields an empty map,
// never an error; the tool's own validation reports the real problem.
func DecodeArguments(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err == nil {
		return asMap
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if err := json.Unmarshal([]byte(asString), &asMap); err == nil && asMap != nil {
			return asMap
		}
	}
	return map[string]any{}
}
