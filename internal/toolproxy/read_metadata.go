package toolproxy

import (
	"context"
	"encoding/json"

	"orion/internal/catalog"
)

type readDocMetadataTool struct {
	repo catalog.Repository
}

func (t *readDocMetadataTool) Name() string { return "read_doc_metadata" }

func (t *readDocMetadataTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"doc_id": map[string]any{"type": "string"},
		},
		"required": []string{"doc_id"},
	}
}

func (t *readDocMetadataTool) ValidateAndRun(ctx context.Context, args map[string]any, user User) (map[string]any, error) {
	docID, err := argString(args, "doc_id")
	if err != nil {
		return nil, err
	}
	doc, err := checkDocAccess(ctx, t.repo, docID, user.TenantID)
	if err != nil {
		return nil, err
	}
	// Round-trip through JSON to flatten the document into the envelope map.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
