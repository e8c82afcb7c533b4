package toolproxy

import (
	"context"
	"sort"
)

type listToolsTool struct {
	names func() []string
}

func (t *listToolsTool) Name() string { return "list_available_tools" }

func (t *listToolsTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *listToolsTool) ValidateAndRun(_ context.Context, _ map[string]any, _ User) (map[string]any, error) {
	names := t.names()
	sort.Strings(names)
	return map[string]any{"tools": names}, nil
}
