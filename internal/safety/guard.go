package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"orion/internal/config"
	"orion/internal/observability"
)

// llmGuard asks a safeguard model for an allow/block verdict on the query.
type llmGuard struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// NewLLMGuard builds the safeguard client, or returns nil when it is not
// configured (disabled, or missing endpoint/key).
func NewLLMGuard(cfg config.SafetyConfig) Guard {
	if !cfg.LLMEnabled || cfg.LLMBaseURL == "" || cfg.LLMAPIKey == "" {
		return nil
	}
	client := openai.NewClient(
		option.WithAPIKey(cfg.LLMAPIKey),
		option.WithBaseURL(cfg.LLMBaseURL),
	)
	timeout := time.Duration(cfg.LLMTimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &llmGuard{client: client, model: cfg.LLMModel, timeout: timeout}
}

type guardVerdict struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

func (g *llmGuard) Evaluate(ctx context.Context, text, traceID string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	comp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(`You are a safety policy model. Decide whether the user text violates policy. Respond with JSON only: {"decision":"allow"|"block","reason":"..."}`),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("safeguard request: %w", err)
	}
	if len(comp.Choices) == 0 {
		return "", "", fmt.Errorf("safeguard returned no choices")
	}
	raw := strings.TrimSpace(comp.Choices[0].Message.Content)
	var verdict guardVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		// A non-JSON reply is treated as allow; the static layers already ran.
		observability.LoggerWithTrace(ctx).Warn().Str("raw", truncate(raw, 200)).Msg("safety_guard_unparseable")
		return "allow", "", nil
	}
	if verdict.Decision != "block" {
		verdict.Decision = "allow"
	}
	return verdict.Decision, verdict.Reason, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
