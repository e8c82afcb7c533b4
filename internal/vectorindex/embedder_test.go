package vectorindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"orion/internal/config"
)

func TestPseudoEmbeddingDeterministic(t *testing.T) {
	a := PseudoEmbedding("hello world", 8)
	b := PseudoEmbedding("hello world", 8)
	require.Equal(t, a, b)
	require.Len(t, a, 8)
	for _, v := range a {
		require.GreaterOrEqual(t, v, float32(0))
		require.Less(t, v, float32(1))
	}
	require.NotEqual(t, a, PseudoEmbedding("different text", 8))
}

func TestNewEmbedderMockModeIsPseudo(t *testing.T) {
	e := NewEmbedder(config.EmbeddingConfig{MockMode: true, Dimensions: 8, APIBase: "http://unused"}, nil)
	require.Equal(t, "pseudo", e.Name())
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
}

func TestClientEmbedderRetriesThenFallsBack(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e := NewEmbedder(config.EmbeddingConfig{
		APIBase:     srv.URL,
		Model:       "m",
		Dimensions:  8,
		MaxAttempts: 3,
	}, srv.Client())

	vecs, err := e.EmbedBatch(context.Background(), []string{"some text"})
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, PseudoEmbedding("some text", 8), vecs[0])
}

func TestClientEmbedderSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2}}},
		})
	}))
	defer srv.Close()

	e := NewEmbedder(config.EmbeddingConfig{APIBase: srv.URL, Model: "m", Dimensions: 2, MaxAttempts: 1}, srv.Client())
	vecs, err := e.EmbedBatch(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Equal(t, []float32{0.1, 0.2}, vecs[0])
}
