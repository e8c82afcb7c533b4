package orchestrator

import (
	"encoding/json"

	"orion/internal/llm"
	"orion/internal/retriever"
)

// perItemCharCap bounds each context summary regardless of the total budget.
const perItemCharCap = 800

const rolePrompt = "You are Orion, an assistant answering questions about product documentation. " +
	"Reason step by step, keep your chain-of-thought hidden, and only share the final answer. " +
	"Ground replies in the provided context and cite sources as [doc_id/section_id]."

const toolPolicyPrompt = "Tool policy: the context below contains summaries only. " +
	"Start with the smallest possible window when you need raw text, and expand only if the result is insufficient. " +
	"Never repeat a request with the same doc_id, section_id, anchor_chunk_id, window_before and window_after; " +
	"the observation will not change."

// contextItem is one summary-only entry serialized into the prompt.
type contextItem struct {
	hit     retriever.Hit
	payload map[string]any
}

// promptContext is the built prompt state: the initial messages, the items
// serialized into them, and the section-to-anchor map for window expansion.
type promptContext struct {
	messages       []llm.ChatMessage
	items          []contextItem
	sectionAnchors map[string]string
}

// buildContext prefers section-bearing hits, trims summaries to the prompt
// budget, and composes the four opening messages. Raw text never enters the
// prompt here; the model has to go through the tools for it.
func buildContext(query string, hits []retriever.Hit, promptTokenBudget int) *promptContext {
	selected := make([]retriever.Hit, 0, len(hits))
	for _, h := range hits {
		if h.SectionID != "" {
			selected = append(selected, h)
		}
	}
	if len(selected) == 0 {
		selected = hits
	}

	charBudget := promptTokenBudget * 4
	anchors := make(map[string]string)
	items := make([]contextItem, 0, len(selected))
	used := 0
	for _, h := range selected {
		if used >= charBudget {
			break
		}
		summary := h.Summary
		if len(summary) > perItemCharCap {
			summary = summary[:perItemCharCap]
		}
		if remaining := charBudget - used; len(summary) > remaining {
			summary = summary[:remaining]
		}
		used += len(summary)

		payload := map[string]any{
			"doc_id":  h.DocID,
			"summary": summary,
		}
		if h.SectionID != "" {
			payload["section_id"] = h.SectionID
		}
		if h.Title != "" {
			payload["title"] = h.Title
		}
		if h.PageStart > 0 {
			payload["page_start"] = h.PageStart
			payload["page_end"] = h.PageEnd
		}
		if anchor := anchorOf(h); anchor != "" {
			payload["anchor_chunk_id"] = anchor
			if h.SectionID != "" {
				anchors[h.SectionID] = anchor
			}
		}
		items = append(items, contextItem{hit: h, payload: payload})
	}

	serialized := "No indexed context matched the query."
	if len(items) > 0 {
		payloads := make([]map[string]any, len(items))
		for i, item := range items {
			payloads[i] = item.payload
		}
		if raw, err := json.Marshal(payloads); err == nil {
			serialized = "Relevant documentation sections (summaries only):\n" + string(raw)
		}
	}

	messages := []llm.ChatMessage{
		{Role: "system", Content: rolePrompt},
		{Role: "system", Content: toolPolicyPrompt},
		{Role: "system", Content: serialized},
		{Role: "user", Content: query},
	}
	return &promptContext{messages: messages, items: items, sectionAnchors: anchors}
}

// anchorOf picks the hit's anchor chunk: the ordered chunk list's head, the
// explicit anchor, or the hit's own chunk id.
func anchorOf(h retriever.Hit) string {
	if len(h.ChunkIDs) > 0 {
		return h.ChunkIDs[0]
	}
	if h.AnchorChunkID != "" {
		return h.AnchorChunkID
	}
	return h.ChunkID
}

// contextPayloads exposes the serialized items for the runtime payload.
func (p *promptContext) contextPayloads() []map[string]any {
	out := make([]map[string]any, len(p.items))
	for i, item := range p.items {
		out[i] = item.payload
	}
	return out
}

// sources returns the hits behind the context items for the response.
func (p *promptContext) sources() []retriever.Hit {
	out := make([]retriever.Hit, len(p.items))
	for i, item := range p.items {
		out[i] = item.hit
	}
	return out
}
