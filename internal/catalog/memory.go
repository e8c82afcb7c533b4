package catalog

import (
	"context"
	"sort"
	"strings"
	"time"
)

// pageChars is the mock content heuristic: a fixed number of characters per
// page when slicing the flat document body.
const pageChars = 500

// memoryRepository is the seeded in-memory catalog used in mock mode and in
// tests. Content is a flat string per document sliced by page.
type memoryRepository struct {
	docs    map[string]*Document
	content map[string]string
	chunks  map[string][]Chunk // doc_id -> chunks ordered by (page, chunk_index)
}

// NewMemoryRepository returns an empty in-memory catalog.
func NewMemoryRepository() *memoryRepository {
	return &memoryRepository{
		docs:    make(map[string]*Document),
		content: make(map[string]string),
		chunks:  make(map[string][]Chunk),
	}
}

// NewSeededRepository returns an in-memory catalog preloaded with the Orion
// LDAP guide fixture owned by tenant_1.
func NewSeededRepository() *memoryRepository {
	r := NewMemoryRepository()
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	doc := &Document{
		DocID:     "doc_1",
		TenantID:  "tenant_1",
		Title:     "Orion LDAP Guide",
		Product:   "orion",
		Tags:      []string{"orion", "ldap"},
		Pages:     12,
		Status:    "indexed",
		CreatedAt: now,
		UpdatedAt: now,
		Sections: []Section{
			{
				DocID: "doc_1", SectionID: "sec_intro", Title: "Introduction",
				PageStart: 1, PageEnd: 2,
				Summary:  "Overview of LDAP integration in Orion.",
				ChunkIDs: []string{"chunk_1", "chunk_2"},
			},
			{
				DocID: "doc_1", SectionID: "sec_setup", Title: "Setup",
				PageStart: 3, PageEnd: 5,
				Summary:  "Step-by-step LDAP setup instructions.",
				ChunkIDs: []string{"chunk_3", "chunk_4", "chunk_5"},
			},
			{
				DocID: "doc_1", SectionID: "sec_troubleshooting", Title: "Troubleshooting",
				PageStart: 6, PageEnd: 8,
				Summary:  "Common LDAP failures and fixes.",
				ChunkIDs: []string{"chunk_6", "chunk_7"},
			},
		},
	}
	body := strings.Repeat("Intro...", 100) +
		strings.Repeat("Setup instructions...", 100) +
		strings.Repeat("Troubleshooting section...", 100) +
		strings.Repeat("Final notes", 50)
	r.AddDocument(doc, body)
	r.AddChunks("doc_1", []Chunk{
		{ChunkID: "chunk_1", DocID: "doc_1", SectionID: "sec_intro", Page: 1, ChunkIndex: 0, Text: "LDAP integration introduction"},
		{ChunkID: "chunk_2", DocID: "doc_1", SectionID: "sec_intro", Page: 2, ChunkIndex: 1, Text: "Supported directory servers"},
		{ChunkID: "chunk_3", DocID: "doc_1", SectionID: "sec_setup", Page: 3, ChunkIndex: 2, Text: "Step-by-step setup"},
		{ChunkID: "chunk_4", DocID: "doc_1", SectionID: "sec_setup", Page: 4, ChunkIndex: 3, Text: "Bind DN configuration"},
		{ChunkID: "chunk_5", DocID: "doc_1", SectionID: "sec_setup", Page: 5, ChunkIndex: 4, Text: "Group mapping rules"},
		{ChunkID: "chunk_6", DocID: "doc_1", SectionID: "sec_troubleshooting", Page: 6, ChunkIndex: 5, Text: "Connection refused errors"},
		{ChunkID: "chunk_7", DocID: "doc_1", SectionID: "sec_troubleshooting", Page: 7, ChunkIndex: 6, Text: "TLS certificate problems"},
	})
	return r
}

// ListDocuments returns the tenant's documents ordered by doc id.
func (r *memoryRepository) ListDocuments(_ context.Context, tenantID string) ([]*Document, error) {
	var out []*Document
	for _, doc := range r.docs {
		if doc.TenantID == tenantID {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, nil
}

// Documents lists every stored document, for index seeding.
func (r *memoryRepository) Documents() []*Document {
	out := make([]*Document, 0, len(r.docs))
	for _, doc := range r.docs {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out
}

// Chunks lists a document's ordered chunks, for index seeding.
func (r *memoryRepository) Chunks(docID string) []Chunk {
	return r.chunks[docID]
}

// AddDocument registers a document and its flat page content.
func (r *memoryRepository) AddDocument(doc *Document, content string) {
	r.docs[doc.DocID] = doc
	r.content[doc.DocID] = content
}

// AddChunks registers the ordered chunk list for a document.
func (r *memoryRepository) AddChunks(docID string, chunks []Chunk) {
	sorted := append([]Chunk(nil), chunks...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Page != sorted[j].Page {
			return sorted[i].Page < sorted[j].Page
		}
		return sorted[i].ChunkIndex < sorted[j].ChunkIndex
	})
	r.chunks[docID] = sorted
}

func (r *memoryRepository) GetMetadata(_ context.Context, docID string) (*Document, error) {
	doc, ok := r.docs[docID]
	if !ok {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (r *memoryRepository) ReadSectionText(_ context.Context, docID, sectionID string) (string, error) {
	doc, ok := r.docs[docID]
	if !ok {
		return "", ErrNotFound
	}
	for _, sec := range doc.Sections {
		if sec.SectionID == sectionID {
			return r.slice(docID, sec.PageStart, sec.PageEnd), nil
		}
	}
	return "", ErrNotFound
}

func (r *memoryRepository) ReadPages(_ context.Context, docID string, pageStart, pageEnd int) (string, error) {
	doc, ok := r.docs[docID]
	if !ok || pageStart > doc.Pages {
		return "", ErrNotFound
	}
	if pageEnd > doc.Pages {
		pageEnd = doc.Pages
	}
	text := r.slice(docID, pageStart, pageEnd)
	if text == "" {
		return "", ErrNotFound
	}
	return text, nil
}

func (r *memoryRepository) LocalSearch(_ context.Context, docID, query string, maxResults int) ([]Snippet, error) {
	content, ok := r.content[docID]
	if !ok {
		return nil, ErrNotFound
	}
	if query == "" || maxResults <= 0 {
		return nil, nil
	}
	lowered := strings.ToLower(content)
	q := strings.ToLower(query)
	var snippets []Snippet
	start := 0
	for len(snippets) < maxResults {
		idx := strings.Index(lowered[start:], q)
		if idx == -1 {
			break
		}
		idx += start
		winStart := idx - 80
		if winStart < 0 {
			winStart = 0
		}
		winEnd := idx + len(q) + 80
		if winEnd > len(content) {
			winEnd = len(content)
		}
		snippets = append(snippets, Snippet{Snippet: strings.TrimSpace(content[winStart:winEnd])})
		start = idx + len(q)
	}
	return snippets, nil
}

func (r *memoryRepository) ChunkWindow(_ context.Context, docID, anchorChunkID string, before, after int) ([]Chunk, error) {
	chunks, ok := r.chunks[docID]
	if !ok || len(chunks) == 0 {
		return nil, ErrNotFound
	}
	anchor := -1
	for i, c := range chunks {
		if c.ChunkID == anchorChunkID {
			anchor = i
			break
		}
	}
	if anchor == -1 {
		return nil, ErrNotFound
	}
	start := anchor - before
	if start < 0 {
		start = 0
	}
	end := anchor + after + 1
	if end > len(chunks) {
		end = len(chunks)
	}
	return append([]Chunk(nil), chunks[start:end]...), nil
}

func (r *memoryRepository) slice(docID string, pageStart, pageEnd int) string {
	content := r.content[docID]
	if content == "" {
		return ""
	}
	startIdx := (pageStart - 1) * pageChars
	endIdx := pageEnd * pageChars
	if startIdx < 0 {
		startIdx = 0
	}
	if startIdx >= len(content) {
		return ""
	}
	if endIdx > len(content) {
		endIdx = len(content)
	}
	return content[startIdx:endIdx]
}
