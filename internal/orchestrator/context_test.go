package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"orion/internal/retriever"
)

func TestBuildContextPrefersSectionHits(t *testing.T) {
	hits := []retriever.Hit{
		{DocID: "doc_1", ChunkID: "chunk_9", Summary: "chunk-only hit"},
		{DocID: "doc_1", SectionID: "sec_a", Summary: "section hit", ChunkIDs: []string{"c1", "c2"}},
	}
	pctx := buildContext("q", hits, 4096)
	require.Len(t, pctx.items, 1)
	require.Equal(t, "sec_a", pctx.items[0].hit.SectionID)
	require.Equal(t, "c1", pctx.sectionAnchors["sec_a"])
}

func TestBuildContextFallsBackToRawHits(t *testing.T) {
	hits := []retriever.Hit{{DocID: "doc_1", ChunkID: "chunk_9", Summary: "chunk-only"}}
	pctx := buildContext("q", hits, 4096)
	require.Len(t, pctx.items, 1)
}

func TestBuildContextTrimsToBudget(t *testing.T) {
	long := strings.Repeat("x", 2000)
	hits := []retriever.Hit{
		{DocID: "d1", SectionID: "s1", Summary: long},
		{DocID: "d2", SectionID: "s2", Summary: long},
	}
	// 300 tokens -> 1200 chars total, 800 per item.
	pctx := buildContext("q", hits, 300)
	first, _ := pctx.items[0].payload["summary"].(string)
	require.Len(t, first, 800)
	second, _ := pctx.items[1].payload["summary"].(string)
	require.Len(t, second, 400)
}

func TestBuildContextMessageShape(t *testing.T) {
	pctx := buildContext("what is ldap", []retriever.Hit{
		{DocID: "doc_1", SectionID: "sec_a", Summary: "s"},
	}, 4096)
	require.Len(t, pctx.messages, 4)
	require.Equal(t, "system", pctx.messages[0].Role)
	require.Equal(t, "system", pctx.messages[1].Role)
	require.Equal(t, "system", pctx.messages[2].Role)
	require.Equal(t, "user", pctx.messages[3].Role)
	require.Equal(t, "what is ldap", pctx.messages[3].Content)
	require.Contains(t, pctx.messages[0].Content, "chain-of-thought")
	require.Contains(t, pctx.messages[1].Content, "smallest possible window")
	require.Contains(t, pctx.messages[2].Content, "sec_a")
}
