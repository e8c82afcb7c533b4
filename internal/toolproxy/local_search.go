package toolproxy

import (
	"context"
	"errors"

	"orion/internal/apperr"
	"orion/internal/catalog"
	"orion/internal/config"
)

const maxLocalSearchResults = 5

type docLocalSearchTool struct {
	repo  catalog.Repository
	store *config.Store
}

func (t *docLocalSearchTool) Name() string { return "doc_local_search" }

func (t *docLocalSearchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"doc_id":      map[string]any{"type": "string"},
			"query":       map[string]any{"type": "string"},
			"max_results": map[string]any{"type": "integer", "minimum": 1, "maximum": maxLocalSearchResults},
		},
		"required": []string{"doc_id", "query"},
	}
}

func (t *docLocalSearchTool) ValidateAndRun(ctx context.Context, args map[string]any, user User) (map[string]any, error) {
	docID, err := argString(args, "doc_id")
	if err != nil {
		return nil, err
	}
	query, err := argString(args, "query")
	if err != nil {
		return nil, err
	}
	maxResults, err := argInt(args, "max_results", 3)
	if err != nil {
		return nil, err
	}
	if maxResults > maxLocalSearchResults {
		maxResults = maxLocalSearchResults
	}
	if maxResults < 1 {
		maxResults = 1
	}
	if _, err := checkDocAccess(ctx, t.repo, docID, user.TenantID); err != nil {
		return nil, err
	}
	snippets, err := t.repo.LocalSearch(ctx, docID, query, maxResults)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, apperr.NotFound("not_found", "document_not_found")
	}
	if err != nil {
		return nil, err
	}
	if len(snippets) == 0 {
		return nil, apperr.NotFound("not_found", "no_snippets_found")
	}
	cfg := t.store.Snapshot().Proxy
	perSnippet := cfg.MaxTextBytes / maxResults
	out := make([]map[string]any, 0, len(snippets))
	for _, s := range snippets {
		text := s.Snippet
		if len(text) > perSnippet {
			text = text[:perSnippet]
		}
		out = append(out, map[string]any{"snippet": text})
	}
	return map[string]any{"snippets": out, "count": len(out), "doc_id": docID}, nil
}
