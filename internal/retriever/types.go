package retriever

// Filters narrows retrieval by catalog metadata. Tags match when any stored
// tag equals any requested tag, case-insensitively.
type Filters struct {
	Product    string   `json:"product,omitempty"`
	Version    string   `json:"version,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	DocIDs     []string `json:"doc_ids,omitempty"`
	SectionIDs []string `json:"section_ids,omitempty"`
}

// Query is one retrieval request. Nil knobs fall back to the configuration
// defaults at execution time.
type Query struct {
	Query    string `json:"query"`
	TenantID string `json:"tenant_id"`

	MaxResults *int     `json:"max_results,omitempty"`
	Filters    *Filters `json:"filters,omitempty"`
	DocIDs     []string `json:"doc_ids,omitempty"`
	SectionIDs []string `json:"section_ids,omitempty"`

	DocsTopK             *int     `json:"docs_top_k,omitempty"`
	SectionsTopKPerDoc   *int     `json:"sections_top_k_per_doc,omitempty"`
	MaxTotalSections     *int     `json:"max_total_sections,omitempty"`
	EnableSectionCosine  *bool    `json:"enable_section_cosine,omitempty"`
	EnableRerank         *bool    `json:"enable_rerank,omitempty"`
	RerankScoreThreshold *float64 `json:"rerank_score_threshold,omitempty"`
	ChunksEnabled        *bool    `json:"chunks_enabled,omitempty"`
	EnableFilters        *bool    `json:"enable_filters,omitempty"`
}

// Hit is one retrieval result. Raw chunk text is never serialized; only
// summaries, titles and page metadata travel back to callers.
type Hit struct {
	DocID         string   `json:"doc_id"`
	SectionID     string   `json:"section_id,omitempty"`
	ChunkID       string   `json:"chunk_id,omitempty"`
	Score         float64  `json:"score"`
	RerankScore   *float64 `json:"rerank_score,omitempty"`
	BM25Score     *float64 `json:"bm25_score,omitempty"`
	Title         string   `json:"title,omitempty"`
	Summary       string   `json:"summary,omitempty"`
	PageStart     int      `json:"page_start,omitempty"`
	PageEnd       int      `json:"page_end,omitempty"`
	Page          int      `json:"page,omitempty"`
	ChunkIndex    int      `json:"chunk_index,omitempty"`
	ChunkIDs      []string `json:"chunk_ids,omitempty"`
	AnchorChunkID string   `json:"anchor_chunk_id,omitempty"`

	// Stage scores kept for deterministic ordering; not serialized.
	docScore     float64
	sectionScore float64
}

// StepTrace snapshots each stage's output for observability.
type StepTrace struct {
	Docs     []Hit `json:"docs"`
	Sections []Hit `json:"sections"`
	Chunks   []Hit `json:"chunks"`
	BM25     []Hit `json:"bm25,omitempty"`
}

// Response is the search result envelope.
type Response struct {
	Hits  []Hit      `json:"hits"`
	Steps *StepTrace `json:"steps,omitempty"`
}

// WindowRequest fetches a contiguous ordered chunk window around an anchor.
type WindowRequest struct {
	TenantID      string `json:"tenant_id"`
	DocID         string `json:"doc_id"`
	AnchorChunkID string `json:"anchor_chunk_id"`
	WindowBefore  int    `json:"window_before"`
	WindowAfter   int    `json:"window_after"`
}

// WindowChunk is one chunk inside a window response. This is the only
// retrieval surface that returns raw text; it is served by the internal
// /internal/retrieval/chunks/window endpoint and the tool proxy's window tool,
// both scoped to the caller's tenant.
type WindowChunk struct {
	ChunkID    string `json:"chunk_id"`
	Page       int    `json:"page"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}
