package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeededMetadata(t *testing.T) {
	repo := NewSeededRepository()
	doc, err := repo.GetMetadata(context.Background(), "doc_1")
	require.NoError(t, err)
	require.Equal(t, "tenant_1", doc.TenantID)
	require.Len(t, doc.Sections, 3)
	require.Equal(t, "chunk_1", doc.Sections[0].Anchor())

	_, err = repo.GetMetadata(context.Background(), "doc_404")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReadSectionTextSlicesByPages(t *testing.T) {
	repo := NewSeededRepository()
	text, err := repo.ReadSectionText(context.Background(), "doc_1", "sec_intro")
	require.NoError(t, err)
	require.Len(t, text, 2*pageChars)

	_, err = repo.ReadSectionText(context.Background(), "doc_1", "sec_nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReadPagesBeyondDocument(t *testing.T) {
	repo := NewSeededRepository()
	_, err := repo.ReadPages(context.Background(), "doc_1", 99, 100)
	require.ErrorIs(t, err, ErrNotFound)

	text, err := repo.ReadPages(context.Background(), "doc_1", 1, 1)
	require.NoError(t, err)
	require.Len(t, text, pageChars)
}

func TestLocalSearchFindsWindows(t *testing.T) {
	repo := NewSeededRepository()
	snippets, err := repo.LocalSearch(context.Background(), "doc_1", "Setup instructions", 3)
	require.NoError(t, err)
	require.Len(t, snippets, 3)
	for _, s := range snippets {
		require.Contains(t, s.Snippet, "Setup instructions")
	}
}

func TestChunkWindowBounds(t *testing.T) {
	repo := NewSeededRepository()

	chunks, err := repo.ChunkWindow(context.Background(), "doc_1", "chunk_1", 2, 1)
	require.NoError(t, err)
	// Anchor is the first chunk; nothing before it exists.
	require.Equal(t, "chunk_1", chunks[0].ChunkID)
	require.Len(t, chunks, 2)

	chunks, err = repo.ChunkWindow(context.Background(), "doc_1", "chunk_4", 1, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"chunk_3", "chunk_4", "chunk_5"},
		[]string{chunks[0].ChunkID, chunks[1].ChunkID, chunks[2].ChunkID})

	_, err = repo.ChunkWindow(context.Background(), "doc_1", "chunk_999", 1, 1)
	require.ErrorIs(t, err, ErrNotFound)
}
