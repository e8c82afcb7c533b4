package llm

import (
	"context"
	"strings"
	"sync"
)

// MockRuntime serves deterministic results without a remote endpoint. With a
// script it replays the queued results in order; without one it falls back to
// a heuristic: a last message containing "TOOL_CALL" yields a canned section
// read, anything else a short grounded answer.
type MockRuntime struct {
	mu     sync.Mutex
	script []Result
}

func NewMockRuntime(script ...Result) *MockRuntime {
	return &MockRuntime{script: script}
}

// Push appends results to the replay script.
func (m *MockRuntime) Push(results ...Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, results...)
}

func (m *MockRuntime) Chat(_ context.Context, req ChatRequest) (Result, error) {
	m.mu.Lock()
	if len(m.script) > 0 {
		next := m.script[0]
		m.script = m.script[1:]
		m.mu.Unlock()
		return next, nil
	}
	m.mu.Unlock()

	last := ""
	if len(req.Messages) > 0 {
		last = req.Messages[len(req.Messages)-1].Content
	}
	if strings.Contains(strings.ToUpper(last), "TOOL_CALL") {
		return &ToolCall{
			Name:      "read_doc_section",
			Arguments: map[string]any{"doc_id": "doc_1", "section_id": "sec_intro"},
			Usage:     Usage{Prompt: 200, Completion: 50},
		}, nil
	}

	var contextText string
	for _, item := range req.Context {
		if s, ok := item["summary"].(string); ok && s != "" {
			contextText += s + " "
		}
	}
	answer := "Mock answer"
	if contextText != "" {
		if len(contextText) > 120 {
			contextText = contextText[:120]
		}
		answer = "Mock answer referencing context: " + contextText
	}
	return &Message{Content: answer, Usage: Usage{Prompt: 150, Completion: 60}}, nil
}
