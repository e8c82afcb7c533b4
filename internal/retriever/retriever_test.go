package retriever

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"orion/internal/config"
	"orion/internal/vectorindex"
)

// fixedEmbedder returns the same vector for any text, making ANN ordering a
// pure function of the stored vectors.
type fixedEmbedder struct {
	vec []float32
}

func (f fixedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}
func (f fixedEmbedder) Name() string   { return "fixed" }
func (f fixedEmbedder) Dimension() int { return len(f.vec) }

// scriptedReranker assigns scores per section id.
type scriptedReranker struct {
	scores map[string]float64
}

func (s scriptedReranker) Available() bool { return true }
func (s scriptedReranker) Rerank(_ context.Context, _ string, sections []Hit, topN int) ([]Hit, error) {
	out := make([]Hit, len(sections))
	copy(out, sections)
	for i := range out {
		score := s.scores[out[i].SectionID]
		v := score
		out[i].RerankScore = &v
		out[i].Score = v
	}
	sortHits(out)
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

func docPoint(id, tenant, title string, tags []string, score float32) vectorindex.Point {
	return vectorindex.Point{
		ID:     id,
		Vector: []float32{score, 1 - score},
		Payload: map[string]any{
			"doc_id": id, "tenant_id": tenant, "title": title,
			"summary": title + " summary", "tags": toAny(tags),
		},
	}
}

func sectionPoint(docID, sectionID, tenant string, score float32, anchor string) vectorindex.Point {
	return vectorindex.Point{
		ID:     docID + "/" + sectionID,
		Vector: []float32{score, 1 - score},
		Payload: map[string]any{
			"doc_id": docID, "tenant_id": tenant, "section_id": sectionID,
			"title": sectionID, "summary": "summary of " + sectionID,
			"page_start": int64(1), "page_end": int64(2),
			"chunk_ids": []any{anchor}, "anchor_chunk_id": anchor,
		},
	}
}

func chunkPoint(docID, sectionID, chunkID, tenant, text string, page, idx int, score float32) vectorindex.Point {
	return vectorindex.Point{
		ID:     chunkID,
		Vector: []float32{score, 1 - score},
		Payload: map[string]any{
			"doc_id": docID, "tenant_id": tenant, "section_id": sectionID,
			"chunk_id": chunkID, "page": int64(page), "chunk_index": int64(idx),
			"text": text,
		},
	}
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

type testIndexOption func(*config.Config)

func newTestRetriever(t *testing.T, reranker Reranker, opts ...testIndexOption) (*Retriever, *config.Store, *config.Config) {
	t.Helper()
	cfg := config.Defaults()
	for _, opt := range opts {
		opt(&cfg)
	}
	store := config.NewStore(cfg)

	index := vectorindex.NewMemoryIndex()
	index.Add(cfg.Qdrant.DocsCollection,
		docPoint("doc_1", "tenant_1", "Orion LDAP Guide", []string{"orion", "ldap"}, 0.95),
		docPoint("doc_2", "tenant_1", "Orion Install Guide", []string{"orion"}, 0.60),
		docPoint("doc_x", "tenant_2", "Foreign Doc", []string{"ldap"}, 0.99),
	)
	index.Add(cfg.Qdrant.SectionsCollection,
		sectionPoint("doc_1", "sec_intro", "tenant_1", 0.90, "chunk_1"),
		sectionPoint("doc_1", "sec_setup", "tenant_1", 0.80, "chunk_3"),
		sectionPoint("doc_2", "sec_install", "tenant_1", 0.85, "chunk_9"),
		sectionPoint("doc_x", "sec_foreign", "tenant_2", 0.99, "chunk_f"),
	)
	index.Add(cfg.Qdrant.ChunksCollection,
		chunkPoint("doc_1", "sec_intro", "chunk_1", "tenant_1", "LDAP integration introduction", 1, 0, 0.9),
		chunkPoint("doc_1", "sec_intro", "chunk_2", "tenant_1", "Supported directory servers", 2, 1, 0.7),
		chunkPoint("doc_1", "sec_setup", "chunk_3", "tenant_1", "Step-by-step setup", 3, 2, 0.8),
		chunkPoint("doc_2", "sec_install", "chunk_9", "tenant_1", "Installer walkthrough", 1, 0, 0.6),
		chunkPoint("doc_x", "sec_foreign", "chunk_f", "tenant_2", "foreign text", 1, 0, 0.99),
	)

	r := New(index, fixedEmbedder{vec: []float32{1, 0}}, reranker, store)
	return r, store, &cfg
}

func TestSearchTenantIsolation(t *testing.T) {
	r, _, _ := newTestRetriever(t, nil)
	resp, err := r.Search(context.Background(), Query{Query: "ldap", TenantID: "tenant_1"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Hits)
	for _, h := range resp.Hits {
		require.NotEqual(t, "doc_x", h.DocID)
	}
	for _, h := range resp.Steps.Docs {
		require.NotEqual(t, "doc_x", h.DocID)
	}
}

func TestSearchDeterministicOrdering(t *testing.T) {
	r, _, _ := newTestRetriever(t, nil)
	q := Query{Query: "ldap", TenantID: "tenant_1"}
	first, err := r.Search(context.Background(), q)
	require.NoError(t, err)
	second, err := r.Search(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, first.Hits, second.Hits)
	require.Equal(t, first.Steps, second.Steps)
}

func TestSearchNoRawTextSerialized(t *testing.T) {
	enabled := true
	r, _, _ := newTestRetriever(t, nil)
	resp, err := r.Search(context.Background(), Query{
		Query: "ldap", TenantID: "tenant_1", ChunksEnabled: &enabled,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Hits)
	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	require.False(t, strings.Contains(string(raw), `"text"`))
}

func TestSearchSectionOrderingFollowsDocThenSection(t *testing.T) {
	r, _, _ := newTestRetriever(t, nil)
	resp, err := r.Search(context.Background(), Query{Query: "ldap", TenantID: "tenant_1"})
	require.NoError(t, err)
	// doc_1 outranks doc_2, so its sections come first despite sec_install's
	// higher section cosine than sec_setup.
	ids := sectionIDs(resp.Hits)
	require.Equal(t, []string{"sec_intro", "sec_setup", "sec_install"}, ids)
}

func TestSearchMinDocsPadding(t *testing.T) {
	one := 1
	r, _, _ := newTestRetriever(t, nil)
	resp, err := r.Search(context.Background(), Query{
		Query: "ldap", TenantID: "tenant_1", DocsTopK: &one,
	})
	require.NoError(t, err)
	// ANN returned one doc; the metadata scan pads to min_docs with score 0.
	require.GreaterOrEqual(t, len(resp.Steps.Docs), 2)
	var padded bool
	for _, h := range resp.Steps.Docs {
		if h.Score == 0 {
			padded = true
		}
	}
	require.True(t, padded)
}

func TestSearchRerankThreshold(t *testing.T) {
	scores := map[string]float64{
		"sec_a": 0.9, "sec_b": 0.7, "sec_c": 0.5, "sec_d": 0.3, "sec_e": 0.1,
	}
	cfg := config.Defaults()
	store := config.NewStore(cfg)
	index := vectorindex.NewMemoryIndex()
	index.Add(cfg.Qdrant.DocsCollection, docPoint("doc_1", "tenant_1", "Doc", nil, 0.9))
	for i, sec := range []string{"sec_a", "sec_b", "sec_c", "sec_d", "sec_e"} {
		index.Add(cfg.Qdrant.SectionsCollection,
			sectionPoint("doc_1", sec, "tenant_1", 0.5+float32(i)*0.01, "c"+sec))
	}
	r := New(index, fixedEmbedder{vec: []float32{1, 0}}, scriptedReranker{scores: scores}, store)

	enabled := true
	threshold := 0.4
	resp, err := r.Search(context.Background(), Query{
		Query: "q", TenantID: "tenant_1",
		EnableRerank: &enabled, RerankScoreThreshold: &threshold,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"sec_a", "sec_b", "sec_c"}, sectionIDs(resp.Hits))
	for _, h := range resp.Hits {
		require.NotNil(t, h.RerankScore)
		require.GreaterOrEqual(t, *h.RerankScore, 0.4)
	}
}

func TestSearchChunksStagePerDocCap(t *testing.T) {
	enabled := true
	r, store, _ := newTestRetriever(t, nil)
	store.Update(func(cfg *config.Config) { cfg.Retrieval.TopKPerDoc = 1 })
	resp, err := r.Search(context.Background(), Query{
		Query: "ldap", TenantID: "tenant_1", ChunksEnabled: &enabled,
	})
	require.NoError(t, err)
	perDoc := map[string]int{}
	for _, h := range resp.Hits {
		require.NotEmpty(t, h.ChunkID)
		perDoc[h.DocID]++
		require.LessOrEqual(t, perDoc[h.DocID], 1)
	}
}

func TestSearchTagsFilterCaseInsensitive(t *testing.T) {
	enabled := true
	r, _, _ := newTestRetriever(t, nil)
	resp, err := r.Search(context.Background(), Query{
		Query: "ldap", TenantID: "tenant_1",
		EnableFilters: &enabled,
		Filters:       &Filters{Tags: []string{"LDAP"}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Steps.Docs)
	for _, h := range resp.Steps.Docs {
		require.Equal(t, "doc_1", h.DocID)
	}
}

func TestSearchDisabledFiltersKeepDocNarrowing(t *testing.T) {
	disabled := false
	r, _, _ := newTestRetriever(t, nil)
	resp, err := r.Search(context.Background(), Query{
		Query: "ldap", TenantID: "tenant_1",
		EnableFilters: &disabled,
		Filters:       &Filters{Product: "nonexistent"},
		DocIDs:        []string{"doc_2"},
	})
	require.NoError(t, err)
	// Product filter is dropped, doc_ids narrowing survives.
	require.NotEmpty(t, resp.Steps.Docs)
	for _, h := range resp.Steps.Docs {
		require.Equal(t, "doc_2", h.DocID)
	}
}

func TestChunkWindowOrderedAndBounded(t *testing.T) {
	r, _, _ := newTestRetriever(t, nil)
	chunks, err := r.ChunkWindow(context.Background(), WindowRequest{
		TenantID: "tenant_1", DocID: "doc_1", AnchorChunkID: "chunk_2",
		WindowBefore: 1, WindowAfter: 1,
	})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	require.Equal(t, "chunk_1", chunks[0].ChunkID)
	require.Equal(t, "chunk_2", chunks[1].ChunkID)
	require.Equal(t, "chunk_3", chunks[2].ChunkID)
}

func TestChunkWindowAnchorMissing(t *testing.T) {
	r, _, _ := newTestRetriever(t, nil)
	_, err := r.ChunkWindow(context.Background(), WindowRequest{
		TenantID: "tenant_1", DocID: "doc_1", AnchorChunkID: "chunk_zzz",
		WindowBefore: 1, WindowAfter: 1,
	})
	require.ErrorIs(t, err, ErrAnchorNotFound)
}

func TestChunkWindowTenantScoped(t *testing.T) {
	r, _, _ := newTestRetriever(t, nil)
	_, err := r.ChunkWindow(context.Background(), WindowRequest{
		TenantID: "tenant_1", DocID: "doc_x", AnchorChunkID: "chunk_f",
		WindowBefore: 0, WindowAfter: 0,
	})
	require.ErrorIs(t, err, ErrChunksNotFound)
}

func sectionIDs(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.SectionID
	}
	return out
}
