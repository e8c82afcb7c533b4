package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresRepository reads the catalog tables written by the ingestion
// pipeline: documents, sections, chunks. All queries are read-only.
type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) GetMetadata(ctx context.Context, docID string) (*Document, error) {
	var doc Document
	var tags []string
	err := r.pool.QueryRow(ctx, `
		SELECT doc_id, tenant_id, title, COALESCE(product, ''), COALESCE(version, ''),
		       COALESCE(tags, '{}'), COALESCE(pages, 0), COALESCE(storage_uri, ''),
		       status, created_at, updated_at
		FROM documents WHERE doc_id = $1`, docID).Scan(
		&doc.DocID, &doc.TenantID, &doc.Title, &doc.Product, &doc.Version,
		&tags, &doc.Pages, &doc.StorageURI, &doc.Status, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query document %s: %w", docID, err)
	}
	doc.Tags = tags

	rows, err := r.pool.Query(ctx, `
		SELECT doc_id, section_id, title, page_start, page_end, COALESCE(summary, ''),
		       COALESCE(chunk_ids, '{}'), COALESCE(anchor_chunk_id, '')
		FROM sections WHERE doc_id = $1 ORDER BY page_start, section_id`, docID)
	if err != nil {
		return nil, fmt.Errorf("query sections for %s: %w", docID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var sec Section
		var chunkIDs []string
		if err := rows.Scan(&sec.DocID, &sec.SectionID, &sec.Title, &sec.PageStart,
			&sec.PageEnd, &sec.Summary, &chunkIDs, &sec.AnchorChunkID); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		sec.ChunkIDs = chunkIDs
		doc.Sections = append(doc.Sections, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}
	return &doc, nil
}

func (r *postgresRepository) ListDocuments(ctx context.Context, tenantID string) ([]*Document, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT doc_id, tenant_id, title, COALESCE(product, ''), COALESCE(version, ''),
		       COALESCE(tags, '{}'), COALESCE(pages, 0), COALESCE(storage_uri, ''),
		       status, created_at, updated_at
		FROM documents WHERE tenant_id = $1 ORDER BY doc_id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list documents for %s: %w", tenantID, err)
	}
	defer rows.Close()
	var docs []*Document
	for rows.Next() {
		var doc Document
		var tags []string
		if err := rows.Scan(&doc.DocID, &doc.TenantID, &doc.Title, &doc.Product, &doc.Version,
			&tags, &doc.Pages, &doc.StorageURI, &doc.Status, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.Tags = tags
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func (r *postgresRepository) ReadSectionText(ctx context.Context, docID, sectionID string) (string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT text FROM chunks
		WHERE doc_id = $1 AND section_id = $2
		ORDER BY page, chunk_index`, docID, sectionID)
	if err != nil {
		return "", fmt.Errorf("query section text %s/%s: %w", docID, sectionID, err)
	}
	defer rows.Close()
	var parts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return "", fmt.Errorf("scan chunk text: %w", err)
		}
		parts = append(parts, text)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate chunk text: %w", err)
	}
	if len(parts) == 0 {
		return "", ErrNotFound
	}
	return strings.Join(parts, "\n"), nil
}

func (r *postgresRepository) ReadPages(ctx context.Context, docID string, pageStart, pageEnd int) (string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT text FROM chunks
		WHERE doc_id = $1 AND page BETWEEN $2 AND $3
		ORDER BY page, chunk_index`, docID, pageStart, pageEnd)
	if err != nil {
		return "", fmt.Errorf("query pages %s %d-%d: %w", docID, pageStart, pageEnd, err)
	}
	defer rows.Close()
	var parts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return "", fmt.Errorf("scan page text: %w", err)
		}
		parts = append(parts, text)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate page text: %w", err)
	}
	if len(parts) == 0 {
		return "", ErrNotFound
	}
	return strings.Join(parts, "\n"), nil
}

func (r *postgresRepository) LocalSearch(ctx context.Context, docID, query string, maxResults int) ([]Snippet, error) {
	if query == "" || maxResults <= 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT text FROM chunks
		WHERE doc_id = $1 AND text ILIKE '%' || $2 || '%'
		ORDER BY page, chunk_index
		LIMIT $3`, docID, query, maxResults)
	if err != nil {
		return nil, fmt.Errorf("local search %s: %w", docID, err)
	}
	defer rows.Close()
	var snippets []Snippet
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("scan snippet: %w", err)
		}
		snippets = append(snippets, Snippet{Snippet: snippetAround(text, query)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snippets: %w", err)
	}
	return snippets, nil
}

func (r *postgresRepository) ChunkWindow(ctx context.Context, docID, anchorChunkID string, before, after int) ([]Chunk, error) {
	rows, err := r.pool.Query(ctx, `
		WITH ordered AS (
			SELECT chunk_id, doc_id, section_id, page, chunk_index, text,
			       ROW_NUMBER() OVER (ORDER BY page, chunk_index) AS pos
			FROM chunks WHERE doc_id = $1
		), anchor AS (
			SELECT pos FROM ordered WHERE chunk_id = $2
		)
		SELECT o.chunk_id, o.doc_id, o.section_id, o.page, o.chunk_index, o.text
		FROM ordered o, anchor a
		WHERE o.pos BETWEEN a.pos - $3 AND a.pos + $4
		ORDER BY o.pos`, docID, anchorChunkID, before, after)
	if err != nil {
		return nil, fmt.Errorf("chunk window %s/%s: %w", docID, anchorChunkID, err)
	}
	defer rows.Close()
	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ChunkID, &c.DocID, &c.SectionID, &c.Page, &c.ChunkIndex, &c.Text); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, ErrNotFound
	}
	return chunks, nil
}

func snippetAround(text, query string) string {
	idx := strings.Index(strings.ToLower(text), strings.ToLower(query))
	if idx == -1 {
		if len(text) > 160 {
			return strings.TrimSpace(text[:160])
		}
		return strings.TrimSpace(text)
	}
	start := idx - 80
	if start < 0 {
		start = 0
	}
	end := idx + len(query) + 80
	if end > len(text) {
		end = len(text)
	}
	return strings.TrimSpace(text[start:end])
}
