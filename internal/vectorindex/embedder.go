package vectorindex

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"orion/internal/config"
	"orion/internal/observability"
)

// Embedder converts text into embedding vectors.
type Embedder interface {
	// EmbedBatch returns one vector per input text.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Name returns a model identifier string.
	Name() string
	// Dimension returns the embedding dimensionality.
	Dimension() int
}

// NewEmbedder selects the client or pseudo implementation from configuration.
// Mock mode, or a missing API base, yields the deterministic pseudo embedder.
func NewEmbedder(cfg config.EmbeddingConfig, httpClient *http.Client) Embedder {
	if cfg.MockMode || cfg.APIBase == "" {
		return NewPseudoEmbedder(cfg.Dimensions)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &clientEmbedder{cfg: cfg, http: httpClient}
}

// clientEmbedder calls an OpenAI-compatible embeddings endpoint. Transient
// failures are retried with a fixed delay; after max_attempts the embedding
// degrades to the pseudo vector so retrieval never fails the request.
type clientEmbedder struct {
	cfg  config.EmbeddingConfig
	http *http.Client
}

func (c *clientEmbedder) Name() string   { return c.cfg.Model }
func (c *clientEmbedder) Dimension() int { return c.cfg.Dimensions }

type embeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *clientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	log := observability.LoggerWithTrace(ctx)
	attempts := c.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := time.Duration(c.cfg.RetryDelaySeconds * float64(time.Second))

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		vectors, err := c.call(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Msg("embedding_attempt_failed")
		if attempt < attempts && delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	log.Error().Err(lastErr).Msg("embedding_fallback_pseudo")
	fallback := NewPseudoEmbedder(c.cfg.Dimensions)
	return fallback.EmbedBatch(ctx, texts)
}

func (c *clientEmbedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	base := strings.TrimRight(c.cfg.APIBase, "/")
	path := "/v1/embeddings"
	if strings.HasSuffix(base, "/v1") {
		path = "/embeddings"
	}
	body, err := json.Marshal(embeddingRequest{Model: c.cfg.Model, Input: texts, EncodingFormat: "float"})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, fmt.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, snippet)
	}
	var decoded embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(decoded.Data) != len(texts) {
		return nil, fmt.Errorf("embedding endpoint returned %d vectors for %d inputs", len(decoded.Data), len(texts))
	}
	vectors := make([][]float32, len(decoded.Data))
	for i, item := range decoded.Data {
		vectors[i] = item.Embedding
	}
	return vectors, nil
}

// pseudoEmbedder hashes text into a small fixed-size vector. It is fully
// deterministic, which keeps mock-mode retrieval reproducible in tests.
type pseudoEmbedder struct {
	dim int
}

func NewPseudoEmbedder(dim int) Embedder {
	if dim <= 0 {
		dim = 8
	}
	return &pseudoEmbedder{dim: dim}
}

func (p *pseudoEmbedder) Name() string   { return "pseudo" }
func (p *pseudoEmbedder) Dimension() int { return p.dim }

func (p *pseudoEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = PseudoEmbedding(t, p.dim)
	}
	return out, nil
}

// PseudoEmbedding maps text to a deterministic vector with components in
// [0, 1), derived from a sha-256 digest of the input.
func PseudoEmbedding(text string, dim int) []float32 {
	if dim <= 0 {
		dim = 8
	}
	digest := sha256.Sum256([]byte(text))
	vec := make([]float32, dim)
	for i := 0; i < dim; i++ {
		off := (i * 4) % (len(digest) - 3)
		n := binary.BigEndian.Uint32(digest[off : off+4])
		vec[i] = float32(n%1000) / 1000.0
	}
	return vec
}
