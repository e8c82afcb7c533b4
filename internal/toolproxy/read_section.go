package toolproxy

import (
	"context"
	"errors"

	"orion/internal/apperr"
	"orion/internal/catalog"
	"orion/internal/config"
)

type readDocSectionTool struct {
	repo  catalog.Repository
	store *config.Store
}

func (t *readDocSectionTool) Name() string { return "read_doc_section" }

func (t *readDocSectionTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"doc_id":     map[string]any{"type": "string"},
			"section_id": map[string]any{"type": "string"},
		},
		"required": []string{"doc_id", "section_id"},
	}
}

func (t *readDocSectionTool) ValidateAndRun(ctx context.Context, args map[string]any, user User) (map[string]any, error) {
	docID, err := argString(args, "doc_id")
	if err != nil {
		return nil, err
	}
	sectionID, err := argString(args, "section_id")
	if err != nil {
		return nil, err
	}
	if _, err := checkDocAccess(ctx, t.repo, docID, user.TenantID); err != nil {
		return nil, err
	}
	text, err := t.repo.ReadSectionText(ctx, docID, sectionID)
	if errors.Is(err, catalog.ErrNotFound) || text == "" {
		return nil, apperr.NotFound("not_found", "section_not_found")
	}
	if err != nil {
		return nil, err
	}
	cfg := t.store.Snapshot().Proxy
	if len(text) > cfg.MaxTextBytes {
		text = text[:cfg.MaxTextBytes]
	}
	return map[string]any{
		"text":       text,
		"tokens":     estimateTokens(len(text), cfg.RateLimitTokens),
		"doc_id":     docID,
		"section_id": sectionID,
	}, nil
}
