package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"orion/internal/config"
	"orion/internal/observability"
)

// Reranker reorders section hits with scores in [0,1]. Implementations must
// be passthrough-safe: on failure the caller keeps the cosine ordering.
type Reranker interface {
	Available() bool
	Rerank(ctx context.Context, query string, sections []Hit, topN int) ([]Hit, error)
}

// llmReranker scores sections with an OpenAI-compatible chat model prompted
// to return JSON only.
type llmReranker struct {
	client openai.Client
	model  string
}

// NewLLMReranker builds the reranker, or an unavailable one when no endpoint
// or key is configured.
func NewLLMReranker(cfg config.RetrievalConfig, embedCfg config.EmbeddingConfig) Reranker {
	apiKey := cfg.RerankAPIKey
	if apiKey == "" {
		apiKey = embedCfg.APIKey
	}
	apiBase := cfg.RerankAPIBase
	if apiBase == "" {
		apiBase = embedCfg.APIBase
	}
	if apiKey == "" || apiBase == "" {
		return unavailableReranker{}
	}
	client := openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(apiBase))
	return &llmReranker{client: client, model: cfg.RerankModel}
}

type unavailableReranker struct{}

func (unavailableReranker) Available() bool { return false }
func (unavailableReranker) Rerank(_ context.Context, _ string, sections []Hit, _ int) ([]Hit, error) {
	return sections, nil
}

func (r *llmReranker) Available() bool { return true }

type rerankItem struct {
	DocID       string   `json:"doc_id"`
	SectionID   string   `json:"section_id"`
	Score       *float64 `json:"score"`
	RerankScore *float64 `json:"rerank_score"`
}

func (r *llmReranker) Rerank(ctx context.Context, query string, sections []Hit, topN int) ([]Hit, error) {
	if len(sections) == 0 {
		return sections, nil
	}
	var sb strings.Builder
	sb.WriteString("Given a user query and a list of sections, return a JSON array of objects ")
	sb.WriteString(`with fields "doc_id", "section_id" and "rerank_score" in [0,1], higher is more relevant. `)
	sb.WriteString("Return ONLY JSON, no commentary.\n\nQuery: ")
	sb.WriteString(query)
	sb.WriteString("\n\nSections:\n")
	for _, hit := range sections {
		text := hit.Summary
		if len(text) > 500 {
			text = text[:500]
		}
		fmt.Fprintf(&sb, "- doc: %s, id: %s, text: %s\n", hit.DocID, hit.SectionID, text)
	}

	comp, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(r.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are a reranker. Return JSON only. No explanations."),
			openai.UserMessage(sb.String()),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	if len(comp.Choices) == 0 {
		return nil, fmt.Errorf("rerank returned no choices")
	}
	raw := strings.TrimSpace(comp.Choices[0].Message.Content)
	observability.LoggerWithTrace(ctx).Debug().Int("sections", len(sections)).Msg("rerank_response")

	var items []rerankItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("parse rerank response: %w", err)
	}
	scores := make(map[string]float64, len(items))
	for _, item := range items {
		val := item.Score
		if val == nil {
			val = item.RerankScore
		}
		if item.SectionID == "" || val == nil {
			continue
		}
		scores[item.DocID+"::"+item.SectionID] = clamp01(*val)
	}

	out := make([]Hit, len(sections))
	copy(out, sections)
	for i := range out {
		score, ok := scores[out[i].DocID+"::"+out[i].SectionID]
		if !ok {
			score = 0
		}
		s := score
		out[i].RerankScore = &s
		out[i].Score = s
	}
	sortHits(out)
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
