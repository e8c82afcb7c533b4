package retriever

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"orion/internal/observability"
	"orion/internal/vectorindex"
)

// Okapi BM25 parameters, matching the index the ingestion side builds.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

type bm25Doc struct {
	docID     string
	sectionID string
	chunkID   string
	terms     map[string]int
	length    int
}

// BM25Index is an in-memory lexical index over chunk text, partitioned by
// tenant. It complements the ANN chunk stage; the two result lists are
// combined with reciprocal rank fusion.
type BM25Index struct {
	mu      sync.RWMutex
	tenants map[string]*bm25Partition
}

type bm25Partition struct {
	docs     []bm25Doc
	df       map[string]int
	totalLen int
}

func NewBM25Index() *BM25Index {
	return &BM25Index{tenants: make(map[string]*bm25Partition)}
}

// Add indexes one chunk's text under a tenant partition.
func (b *BM25Index) Add(tenantID, docID, sectionID, chunkID, text string) {
	terms := termFrequencies(text)
	if len(terms) == 0 {
		return
	}
	length := 0
	for _, n := range terms {
		length += n
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	part := b.tenants[tenantID]
	if part == nil {
		part = &bm25Partition{df: make(map[string]int)}
		b.tenants[tenantID] = part
	}
	part.docs = append(part.docs, bm25Doc{
		docID: docID, sectionID: sectionID, chunkID: chunkID,
		terms: terms, length: length,
	})
	part.totalLen += length
	for term := range terms {
		part.df[term]++
	}
}

// LoadFromIndex scans a tenant's chunks collection and indexes every chunk.
func (b *BM25Index) LoadFromIndex(ctx context.Context, index vectorindex.Index, collection, tenantID string) error {
	records, err := index.Scroll(ctx, collection, tenantID, vectorindex.Predicate{}, 10000)
	if err != nil {
		return err
	}
	for _, rec := range records {
		text, _ := rec.Payload["text"].(string)
		if text == "" {
			continue
		}
		chunkID := payloadString(rec.Payload, "chunk_id")
		if chunkID == "" {
			chunkID = rec.ID
		}
		b.Add(tenantID,
			payloadString(rec.Payload, "doc_id"),
			payloadString(rec.Payload, "section_id"),
			chunkID, text)
	}
	observability.LoggerWithTrace(ctx).Info().
		Str("tenant_id", tenantID).
		Int("chunks", len(records)).
		Msg("bm25_index_loaded")
	return nil
}

// Search scores the tenant's chunks against the query and returns the top-k
// as hits with bm25 scores. Scores also populate Score so a BM25-only list
// is ordered on its own.
func (b *BM25Index) Search(tenantID, query string, topK int) []Hit {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 || topK <= 0 {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	part := b.tenants[tenantID]
	if part == nil || len(part.docs) == 0 {
		return nil
	}
	avgLen := float64(part.totalLen) / float64(len(part.docs))
	n := float64(len(part.docs))

	hits := make([]Hit, 0, topK)
	for _, doc := range part.docs {
		score := 0.0
		for _, term := range queryTerms {
			tf := doc.terms[term]
			if tf == 0 {
				continue
			}
			df := float64(part.df[term])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := float64(tf) * (bm25K1 + 1) /
				(float64(tf) + bm25K1*(1-bm25B+bm25B*float64(doc.length)/avgLen))
			score += idf * norm
		}
		if score <= 0 {
			continue
		}
		s := score
		hits = append(hits, Hit{
			DocID:     doc.docID,
			SectionID: doc.sectionID,
			ChunkID:   doc.chunkID,
			Score:     s,
			BM25Score: &s,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].DocID != hits[j].DocID {
			return hits[i].DocID < hits[j].DocID
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// fuseRRF combines the vector and lexical chunk lists with reciprocal rank
// fusion. alpha weights the lexical side; rrfK is the standard denominator
// constant. Ties break on lower rank sum, then chunk id.
func fuseRRF(vec, lexical []Hit, alpha float64, rrfK int) []Hit {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	if rrfK <= 0 {
		rrfK = 60
	}

	vecRank := make(map[string]int, len(vec))
	vecByID := make(map[string]Hit, len(vec))
	for i, h := range vec {
		vecRank[h.ChunkID] = i + 1
		vecByID[h.ChunkID] = h
	}
	lexRank := make(map[string]int, len(lexical))
	lexByID := make(map[string]Hit, len(lexical))
	for i, h := range lexical {
		lexRank[h.ChunkID] = i + 1
		lexByID[h.ChunkID] = h
	}

	seen := make(map[string]struct{}, len(vec)+len(lexical))
	ids := make([]string, 0, len(vec)+len(lexical))
	for _, h := range vec {
		if _, ok := seen[h.ChunkID]; !ok {
			seen[h.ChunkID] = struct{}{}
			ids = append(ids, h.ChunkID)
		}
	}
	for _, h := range lexical {
		if _, ok := seen[h.ChunkID]; !ok {
			seen[h.ChunkID] = struct{}{}
			ids = append(ids, h.ChunkID)
		}
	}

	type ranked struct {
		hit     Hit
		fused   float64
		rankSum int
	}
	out := make([]ranked, 0, len(ids))
	for _, id := range ids {
		vr := vecRank[id]
		lr := lexRank[id]
		fused := 0.0
		if vr > 0 {
			fused += (1 - alpha) / float64(rrfK+vr)
		}
		if lr > 0 {
			fused += alpha / float64(rrfK+lr)
		}
		hit, ok := vecByID[id]
		if !ok {
			hit = lexByID[id]
		} else if lex, found := lexByID[id]; found {
			hit.BM25Score = lex.BM25Score
		}
		hit.Score = fused
		out = append(out, ranked{hit: hit, fused: fused, rankSum: rankSum(vr, lr)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].fused != out[j].fused {
			return out[i].fused > out[j].fused
		}
		if out[i].rankSum != out[j].rankSum {
			return out[i].rankSum < out[j].rankSum
		}
		return out[i].hit.ChunkID < out[j].hit.ChunkID
	})
	hits := make([]Hit, len(out))
	for i, r := range out {
		hits[i] = r.hit
	}
	return hits
}

func rankSum(a, b int) int {
	const absent = 1 << 20
	if a == 0 {
		a = absent
	}
	if b == 0 {
		b = absent
	}
	return a + b
}

func termFrequencies(text string) map[string]int {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	freq := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freq[tok]++
	}
	return freq
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}
