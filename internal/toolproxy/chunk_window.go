package toolproxy

import (
	"context"
	"errors"
	"fmt"

	"orion/internal/apperr"
	"orion/internal/catalog"
	"orion/internal/config"
	"orion/internal/observability"
	"orion/internal/retriever"
)

type readChunkWindowTool struct {
	repo     catalog.Repository
	store    *config.Store
	windower ChunkWindower
}

func (t *readChunkWindowTool) Name() string { return "read_chunk_window" }

func (t *readChunkWindowTool) Schema() map[string]any {
	maxRadius := t.store.Snapshot().Proxy.MaxWindowRadius
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"doc_id":          map[string]any{"type": "string"},
			"anchor_chunk_id": map[string]any{"type": "string"},
			"window_before":   map[string]any{"type": "integer", "minimum": 0, "maximum": maxRadius},
			"window_after":    map[string]any{"type": "integer", "minimum": 0, "maximum": maxRadius},
			"radius":          map[string]any{"type": "integer", "minimum": 0, "maximum": maxRadius},
		},
		"required": []string{"doc_id", "anchor_chunk_id"},
	}
}

func (t *readChunkWindowTool) ValidateAndRun(ctx context.Context, args map[string]any, user User) (map[string]any, error) {
	docID, err := argString(args, "doc_id")
	if err != nil {
		return nil, err
	}
	anchorID, err := argString(args, "anchor_chunk_id")
	if err != nil {
		return nil, err
	}
	before, err := argInt(args, "window_before", 0)
	if err != nil {
		return nil, err
	}
	after, err := argInt(args, "window_after", 0)
	if err != nil {
		return nil, err
	}
	// radius is an alias setting both sides at once.
	if radius, err := argInt(args, "radius", -1); err != nil {
		return nil, err
	} else if radius >= 0 {
		before, after = radius, radius
	}
	if before < 0 || after < 0 {
		return nil, apperr.BadRequest("invalid_arguments", "window_before/window_after must be >= 0")
	}
	cfg := t.store.Snapshot().Proxy
	requested := before
	if after > requested {
		requested = after
	}
	if requested > cfg.MaxWindowRadius {
		return nil, apperr.BadRequest("WINDOW_TOO_LARGE",
			fmt.Sprintf("requested radius %d exceeds limit %d", requested, cfg.MaxWindowRadius))
	}

	// Local metadata may lag behind the index; a missing catalog row falls
	// through to the retrieval window, which is tenant-filtered on its own.
	if _, err := checkDocAccess(ctx, t.repo, docID, user.TenantID); err != nil {
		if !apperr.Is(err, "not_found") {
			return nil, err
		}
	}

	observability.LoggerWithTrace(ctx).Info().
		Str("doc_id", docID).
		Str("anchor_chunk_id", anchorID).
		Int("before", before).
		Int("after", after).
		Str("tenant_id", user.TenantID).
		Msg("chunk_window_call")

	chunks, err := t.windower.FetchWindow(ctx, user.TenantID, docID, anchorID, before, after)
	if errors.Is(err, retriever.ErrChunksNotFound) || errors.Is(err, retriever.ErrAnchorNotFound) ||
		errors.Is(err, catalog.ErrNotFound) {
		return nil, apperr.NotFound("not_found", "chunks_not_found")
	}
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, apperr.NotFound("not_found", "chunks_not_found")
	}

	remaining := cfg.MaxTextBytes
	trimmed := make([]map[string]any, 0, len(chunks))
	totalText := 0
	for _, chunk := range chunks {
		if remaining <= 0 {
			break
		}
		text := chunk.Text
		if len(text) > remaining {
			text = text[:remaining]
		}
		remaining -= len(text)
		totalText += len(text)
		trimmed = append(trimmed, map[string]any{
			"chunk_id":    chunk.ChunkID,
			"page":        chunk.Page,
			"chunk_index": chunk.ChunkIndex,
			"text":        text,
		})
	}
	return map[string]any{
		"doc_id":          docID,
		"anchor_chunk_id": anchorID,
		"window_before":   before,
		"window_after":    after,
		"chunks":          trimmed,
		"count":           len(trimmed),
		"tokens":          estimateTokens(totalText, cfg.RateLimitTokens),
	}, nil
}
