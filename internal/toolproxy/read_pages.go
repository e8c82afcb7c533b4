package toolproxy

import (
	"context"
	"errors"
	"fmt"

	"orion/internal/apperr"
	"orion/internal/catalog"
	"orion/internal/config"
)

type readDocPagesTool struct {
	repo  catalog.Repository
	store *config.Store
}

func (t *readDocPagesTool) Name() string { return "read_doc_pages" }

func (t *readDocPagesTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"doc_id":     map[string]any{"type": "string"},
			"page_start": map[string]any{"type": "integer", "minimum": 1},
			"page_end":   map[string]any{"type": "integer", "minimum": 1},
		},
		"required": []string{"doc_id", "page_start", "page_end"},
	}
}

func (t *readDocPagesTool) ValidateAndRun(ctx context.Context, args map[string]any, user User) (map[string]any, error) {
	docID, err := argString(args, "doc_id")
	if err != nil {
		return nil, err
	}
	pageStart, err := argInt(args, "page_start", 0)
	if err != nil {
		return nil, err
	}
	pageEnd, err := argInt(args, "page_end", 0)
	if err != nil {
		return nil, err
	}
	if pageStart < 1 || pageEnd < pageStart {
		return nil, apperr.BadRequest("invalid_arguments", "page_start/page_end out of order")
	}
	cfg := t.store.Snapshot().Proxy
	if span := pageEnd - pageStart + 1; span > cfg.MaxPagesPerCall {
		return nil, apperr.BadRequest("invalid_arguments",
			fmt.Sprintf("page span %d exceeds limit %d", span, cfg.MaxPagesPerCall))
	}
	if _, err := checkDocAccess(ctx, t.repo, docID, user.TenantID); err != nil {
		return nil, err
	}
	text, err := t.repo.ReadPages(ctx, docID, pageStart, pageEnd)
	if errors.Is(err, catalog.ErrNotFound) || text == "" {
		return nil, apperr.NotFound("not_found", "pages_not_found")
	}
	if err != nil {
		return nil, err
	}
	if len(text) > cfg.MaxTextBytes {
		text = text[:cfg.MaxTextBytes]
	}
	return map[string]any{
		"text":       text,
		"tokens":     estimateTokens(len(text), cfg.RateLimitTokens),
		"doc_id":     docID,
		"page_start": pageStart,
		"page_end":   pageEnd,
	}, nil
}
