package retriever

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"orion/internal/config"
	"orion/internal/observability"
	"orion/internal/vectorindex"
)

// metadataScanLimit bounds the substring fallback in the chunk stage.
const metadataScanLimit = 500

// Retriever runs the hierarchical doc -> section -> chunk search.
type Retriever struct {
	index    vectorindex.Index
	embedder vectorindex.Embedder
	reranker Reranker
	bm25     *BM25Index
	store    *config.Store
}

func New(index vectorindex.Index, embedder vectorindex.Embedder, reranker Reranker, store *config.Store) *Retriever {
	return &Retriever{index: index, embedder: embedder, reranker: reranker, store: store}
}

// AttachBM25 wires the optional lexical index into the chunk stage.
func (r *Retriever) AttachBM25(b *BM25Index) {
	r.bm25 = b
}

// effective is the query with every knob resolved against config defaults.
type effective struct {
	query                string
	tenantID             string
	maxResults           int
	filters              Filters
	docsTopK             int
	sectionsTopKPerDoc   int
	maxTotalSections     int
	chunkTopK            int
	topKPerDoc           int
	minDocs              int
	enableSectionCosine  bool
	enableRerank         bool
	rerankScoreThreshold float64
	rerankTopN           int
	chunksEnabled        bool
	enableFilters        bool
	enableBM25           bool
	bm25TopK             int
	bm25Alpha            float64
	rrfK                 int
}

func (r *Retriever) resolve(q Query) effective {
	cfg := r.store.Snapshot().Retrieval
	e := effective{
		query:                strings.TrimSpace(q.Query),
		tenantID:             q.TenantID,
		maxResults:           cfg.MaxResults,
		docsTopK:             cfg.DocsTopK,
		sectionsTopKPerDoc:   cfg.SectionsTopKPerDoc,
		maxTotalSections:     cfg.MaxTotalSections,
		chunkTopK:            cfg.ChunkTopK,
		topKPerDoc:           cfg.TopKPerDoc,
		minDocs:              cfg.MinDocs,
		enableSectionCosine:  cfg.EnableSectionCosine,
		enableRerank:         cfg.EnableRerank,
		rerankScoreThreshold: cfg.RerankScoreThreshold,
		rerankTopN:           cfg.RerankTopN,
		chunksEnabled:        cfg.ChunksEnabled,
		enableFilters:        cfg.EnableFilters,
		enableBM25:           cfg.EnableBM25,
		bm25TopK:             cfg.BM25TopK,
		bm25Alpha:            cfg.BM25Alpha,
		rrfK:                 cfg.RRFK,
	}
	if q.MaxResults != nil && *q.MaxResults > 0 {
		e.maxResults = *q.MaxResults
	}
	if e.maxResults > 50 {
		e.maxResults = 50
	}
	if q.DocsTopK != nil && *q.DocsTopK > 0 {
		e.docsTopK = *q.DocsTopK
	}
	if q.SectionsTopKPerDoc != nil && *q.SectionsTopKPerDoc > 0 {
		e.sectionsTopKPerDoc = *q.SectionsTopKPerDoc
	}
	if q.MaxTotalSections != nil && *q.MaxTotalSections > 0 {
		e.maxTotalSections = *q.MaxTotalSections
	}
	if q.EnableSectionCosine != nil {
		e.enableSectionCosine = *q.EnableSectionCosine
	}
	if q.EnableRerank != nil {
		e.enableRerank = *q.EnableRerank
	}
	if q.RerankScoreThreshold != nil {
		e.rerankScoreThreshold = *q.RerankScoreThreshold
	}
	if q.ChunksEnabled != nil {
		e.chunksEnabled = *q.ChunksEnabled
	}
	if q.EnableFilters != nil {
		e.enableFilters = *q.EnableFilters
	}
	if q.Filters != nil {
		e.filters = *q.Filters
	}
	// Request-level narrowing merges with filter-level narrowing. Disabling
	// filters drops metadata predicates but never the id narrowing.
	if len(q.DocIDs) > 0 {
		e.filters.DocIDs = append(e.filters.DocIDs, q.DocIDs...)
	}
	if len(q.SectionIDs) > 0 {
		e.filters.SectionIDs = append(e.filters.SectionIDs, q.SectionIDs...)
	}
	if !e.enableFilters {
		e.filters.Product = ""
		e.filters.Version = ""
		e.filters.Tags = nil
	}
	return e
}

// Search runs the staged pipeline and returns the surviving hits of the last
// enabled stage plus the per-stage trace.
func (r *Retriever) Search(ctx context.Context, q Query) (Response, error) {
	log := observability.LoggerWithTrace(ctx)
	if q.TenantID == "" {
		return Response{}, fmt.Errorf("tenant_id is required")
	}
	e := r.resolve(q)
	started := time.Now()

	embedding, err := r.embedQuery(ctx, e.query)
	if err != nil {
		return Response{}, fmt.Errorf("embed query: %w", err)
	}

	steps := &StepTrace{Docs: []Hit{}, Sections: []Hit{}, Chunks: []Hit{}}

	docs, err := r.docStage(ctx, e, embedding)
	if err != nil {
		return Response{}, err
	}
	steps.Docs = snapshot(docs)

	final := docs

	var sections []Hit
	if e.enableSectionCosine {
		sections, err = r.sectionStage(ctx, e, embedding, docs)
		if err != nil {
			return Response{}, err
		}
		steps.Sections = snapshot(sections)
		final = sections
	}

	if e.enableRerank && r.reranker != nil && r.reranker.Available() && len(sections) > 0 {
		sections = r.rerankStage(ctx, e, sections)
		steps.Sections = snapshot(sections)
		final = sections
	}

	if e.chunksEnabled {
		chunks, lexical, err := r.chunkStage(ctx, e, embedding, docs, sections)
		if err != nil {
			return Response{}, err
		}
		steps.Chunks = snapshot(chunks)
		if len(lexical) > 0 {
			steps.BM25 = snapshot(lexical)
		}
		final = chunks
	}

	log.Info().
		Str("tenant_id", e.tenantID).
		Int("docs", len(steps.Docs)).
		Int("sections", len(steps.Sections)).
		Int("chunks", len(steps.Chunks)).
		Int("hits", len(final)).
		Dur("elapsed", time.Since(started)).
		Msg("retrieval_search")

	return Response{Hits: final, Steps: steps}, nil
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := r.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vector")
	}
	return vectors[0], nil
}

// docStage runs ANN over the docs collection and pads with an unranked
// metadata scan up to min_docs.
func (r *Retriever) docStage(ctx context.Context, e effective, embedding []float32) ([]Hit, error) {
	cfg := r.store.Snapshot().Qdrant
	pred := docPredicate(e)
	records, err := r.index.Query(ctx, cfg.DocsCollection, embedding, e.tenantID, pred, e.docsTopK)
	if err != nil {
		return nil, fmt.Errorf("doc stage: %w", err)
	}
	hits := make([]Hit, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		h := docHit(rec)
		if h.DocID == "" || seen[h.DocID] {
			continue
		}
		seen[h.DocID] = true
		hits = append(hits, h)
	}
	if len(hits) < e.minDocs {
		padded, err := r.index.Scroll(ctx, cfg.DocsCollection, e.tenantID, pred, e.minDocs)
		if err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("doc_stage_pad_failed")
		} else {
			for _, rec := range padded {
				h := docHit(rec)
				h.Score = 0
				h.docScore = 0
				if h.DocID == "" || seen[h.DocID] {
					continue
				}
				seen[h.DocID] = true
				hits = append(hits, h)
				if len(hits) >= e.minDocs {
					break
				}
			}
		}
	}
	sortHits(hits)
	return hits, nil
}

// sectionStage fans sections out per candidate doc in doc order, then
// stable-sorts by (doc score, section score) and caps the total.
func (r *Retriever) sectionStage(ctx context.Context, e effective, embedding []float32, docs []Hit) ([]Hit, error) {
	cfg := r.store.Snapshot().Qdrant
	var sections []Hit
	for _, doc := range docs {
		pred := vectorindex.Eq("doc_id", doc.DocID)
		if len(e.filters.SectionIDs) > 0 {
			pred = vectorindex.And(pred, vectorindex.In("section_id", e.filters.SectionIDs))
		}
		records, err := r.index.Query(ctx, cfg.SectionsCollection, embedding, e.tenantID, pred, e.sectionsTopKPerDoc)
		if err != nil {
			return nil, fmt.Errorf("section stage for %s: %w", doc.DocID, err)
		}
		for _, rec := range records {
			h := sectionHit(rec)
			h.docScore = doc.docScore
			if h.Title == "" {
				h.Title = doc.Title
			}
			sections = append(sections, h)
		}
	}
	sort.SliceStable(sections, func(i, j int) bool {
		if sections[i].docScore != sections[j].docScore {
			return sections[i].docScore > sections[j].docScore
		}
		return sections[i].sectionScore > sections[j].sectionScore
	})
	if len(sections) > e.maxTotalSections {
		sections = sections[:e.maxTotalSections]
	}
	return sections, nil
}

// rerankStage reorders sections by the reranker's scores, prunes below the
// threshold and re-applies the total cap. Rerank top-n applies before the
// max_total_sections cap.
func (r *Retriever) rerankStage(ctx context.Context, e effective, sections []Hit) []Hit {
	scored, err := r.reranker.Rerank(ctx, e.query, sections, e.rerankTopN)
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("rerank_failed_passthrough")
		return sections
	}
	kept := scored[:0]
	for _, h := range scored {
		if h.RerankScore != nil && *h.RerankScore < e.rerankScoreThreshold {
			continue
		}
		kept = append(kept, h)
	}
	sortHits(kept)
	if len(kept) > e.maxTotalSections {
		kept = kept[:e.maxTotalSections]
	}
	return kept
}

// chunkStage restricts ANN over the chunks collection to the surviving docs
// and sections, optionally fuses in the lexical BM25 list, caps per doc, cuts
// to max_results, and falls back to a substring metadata scan when ANN yields
// nothing. The second return value is the raw BM25 list for the step trace.
func (r *Retriever) chunkStage(ctx context.Context, e effective, embedding []float32, docs, sections []Hit) ([]Hit, []Hit, error) {
	cfg := r.store.Snapshot().Qdrant
	docIDs := make([]string, 0, len(docs))
	for _, d := range docs {
		docIDs = append(docIDs, d.DocID)
	}
	sectionIDs := make([]string, 0, len(sections))
	for _, s := range sections {
		if s.SectionID != "" {
			sectionIDs = append(sectionIDs, s.SectionID)
		}
	}
	pred := vectorindex.Predicate{}
	if len(docIDs) > 0 {
		pred = vectorindex.In("doc_id", docIDs)
	}
	if len(sectionIDs) > 0 {
		pred = vectorindex.And(pred, vectorindex.In("section_id", sectionIDs))
	}

	records, err := r.index.Query(ctx, cfg.ChunksCollection, embedding, e.tenantID, pred, e.chunkTopK)
	if err != nil {
		return nil, nil, fmt.Errorf("chunk stage: %w", err)
	}
	hits := make([]Hit, 0, len(records))
	for _, rec := range records {
		hits = append(hits, chunkHit(rec))
	}

	if len(hits) == 0 {
		scanned, err := r.index.Scroll(ctx, cfg.ChunksCollection, e.tenantID, pred, metadataScanLimit)
		if err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("chunk_stage_scan_failed")
		} else {
			needle := strings.ToLower(e.query)
			for _, rec := range scanned {
				text, _ := rec.Payload["text"].(string)
				if needle != "" && strings.Contains(strings.ToLower(text), needle) {
					h := chunkHit(rec)
					h.Score = 0
					hits = append(hits, h)
				}
			}
		}
	}

	sortHits(hits)

	var lexical []Hit
	if e.enableBM25 && r.bm25 != nil {
		lexical = restrictHits(r.bm25.Search(e.tenantID, e.query, e.bm25TopK), docIDs, sectionIDs)
		if len(lexical) > 0 {
			hits = fuseRRF(hits, lexical, e.bm25Alpha, e.rrfK)
		}
	}

	if e.topKPerDoc > 0 {
		perDoc := make(map[string]int, len(hits))
		capped := hits[:0]
		for _, h := range hits {
			if perDoc[h.DocID] >= e.topKPerDoc {
				continue
			}
			perDoc[h.DocID]++
			capped = append(capped, h)
		}
		hits = capped
	}
	if len(hits) > e.maxResults {
		hits = hits[:e.maxResults]
	}
	return hits, lexical, nil
}

// restrictHits keeps only hits inside the surviving doc/section id sets.
func restrictHits(hits []Hit, docIDs, sectionIDs []string) []Hit {
	if len(docIDs) == 0 && len(sectionIDs) == 0 {
		return hits
	}
	docSet := make(map[string]bool, len(docIDs))
	for _, id := range docIDs {
		docSet[id] = true
	}
	sectionSet := make(map[string]bool, len(sectionIDs))
	for _, id := range sectionIDs {
		sectionSet[id] = true
	}
	out := hits[:0]
	for _, h := range hits {
		if len(docSet) > 0 && !docSet[h.DocID] {
			continue
		}
		if len(sectionSet) > 0 && h.SectionID != "" && !sectionSet[h.SectionID] {
			continue
		}
		out = append(out, h)
	}
	return out
}

// ChunkWindow reads the ordered window [anchor-before .. anchor+after] from
// the chunks collection of one tenant-owned document.
func (r *Retriever) ChunkWindow(ctx context.Context, req WindowRequest) ([]WindowChunk, error) {
	cfg := r.store.Snapshot().Qdrant
	records, err := r.index.Scroll(ctx, cfg.ChunksCollection, req.TenantID,
		vectorindex.Eq("doc_id", req.DocID), 1000)
	if err != nil {
		return nil, fmt.Errorf("chunk window scan: %w", err)
	}
	chunks := make([]WindowChunk, 0, len(records))
	for _, rec := range records {
		c := WindowChunk{
			ChunkID:    payloadString(rec.Payload, "chunk_id"),
			Page:       payloadInt(rec.Payload, "page"),
			ChunkIndex: payloadInt(rec.Payload, "chunk_index"),
		}
		if c.ChunkID == "" {
			c.ChunkID = rec.ID
		}
		c.Text, _ = rec.Payload["text"].(string)
		chunks = append(chunks, c)
	}
	if len(chunks) == 0 {
		return nil, ErrChunksNotFound
	}
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Page != chunks[j].Page {
			return chunks[i].Page < chunks[j].Page
		}
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})
	anchor := -1
	for i, c := range chunks {
		if c.ChunkID == req.AnchorChunkID {
			anchor = i
			break
		}
	}
	if anchor == -1 {
		return nil, ErrAnchorNotFound
	}
	start := anchor - req.WindowBefore
	if start < 0 {
		start = 0
	}
	end := anchor + req.WindowAfter + 1
	if end > len(chunks) {
		end = len(chunks)
	}
	return chunks[start:end], nil
}

// sortHits applies the deterministic ordering contract: rerank score desc,
// section cosine desc, doc cosine desc, then lexicographic ids.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		ri, rj := rerankOf(hits[i]), rerankOf(hits[j])
		if ri != rj {
			return ri > rj
		}
		if hits[i].sectionScore != hits[j].sectionScore {
			return hits[i].sectionScore > hits[j].sectionScore
		}
		if hits[i].docScore != hits[j].docScore {
			return hits[i].docScore > hits[j].docScore
		}
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].DocID != hits[j].DocID {
			return hits[i].DocID < hits[j].DocID
		}
		if hits[i].SectionID != hits[j].SectionID {
			return hits[i].SectionID < hits[j].SectionID
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
}

func rerankOf(h Hit) float64 {
	if h.RerankScore != nil {
		return *h.RerankScore
	}
	return -1
}

func docPredicate(e effective) vectorindex.Predicate {
	var preds []vectorindex.Predicate
	if len(e.filters.DocIDs) > 0 {
		preds = append(preds, vectorindex.In("doc_id", e.filters.DocIDs))
	}
	if e.filters.Product != "" {
		preds = append(preds, vectorindex.Eq("product", e.filters.Product))
	}
	if e.filters.Version != "" {
		preds = append(preds, vectorindex.Eq("version", e.filters.Version))
	}
	if len(e.filters.Tags) > 0 {
		lowered := make([]string, len(e.filters.Tags))
		for i, t := range e.filters.Tags {
			lowered[i] = strings.ToLower(t)
		}
		preds = append(preds, vectorindex.In("tags", lowered))
	}
	switch len(preds) {
	case 0:
		return vectorindex.Predicate{}
	case 1:
		return preds[0]
	default:
		return vectorindex.And(preds...)
	}
}

func snapshot(hits []Hit) []Hit {
	out := make([]Hit, len(hits))
	copy(out, hits)
	return out
}

func docHit(rec vectorindex.Record) Hit {
	h := Hit{
		DocID:   payloadString(rec.Payload, "doc_id"),
		Title:   payloadString(rec.Payload, "title"),
		Summary: payloadString(rec.Payload, "summary"),
		Score:   float64(rec.Score),
	}
	h.docScore = h.Score
	if h.DocID == "" {
		h.DocID = rec.ID
	}
	return h
}

func sectionHit(rec vectorindex.Record) Hit {
	h := Hit{
		DocID:         payloadString(rec.Payload, "doc_id"),
		SectionID:     payloadString(rec.Payload, "section_id"),
		Title:         payloadString(rec.Payload, "title"),
		Summary:       payloadString(rec.Payload, "summary"),
		PageStart:     payloadInt(rec.Payload, "page_start"),
		PageEnd:       payloadInt(rec.Payload, "page_end"),
		AnchorChunkID: payloadString(rec.Payload, "anchor_chunk_id"),
		ChunkIDs:      payloadStrings(rec.Payload, "chunk_ids"),
		Score:         float64(rec.Score),
	}
	h.sectionScore = h.Score
	return h
}

func chunkHit(rec vectorindex.Record) Hit {
	h := Hit{
		DocID:      payloadString(rec.Payload, "doc_id"),
		SectionID:  payloadString(rec.Payload, "section_id"),
		ChunkID:    payloadString(rec.Payload, "chunk_id"),
		Page:       payloadInt(rec.Payload, "page"),
		ChunkIndex: payloadInt(rec.Payload, "chunk_index"),
		Score:      float64(rec.Score),
	}
	if h.ChunkID == "" {
		h.ChunkID = rec.ID
	}
	return h
}

func payloadString(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func payloadInt(p map[string]any, key string) int {
	switch v := p[key].(type) {
	case int64:
		return int(v)
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func payloadStrings(p map[string]any, key string) []string {
	list, ok := p[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
