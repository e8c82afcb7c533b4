package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"orion/internal/catalog"
	"orion/internal/config"
	"orion/internal/events"
	"orion/internal/gateway"
	"orion/internal/llm"
	"orion/internal/observability"
	"orion/internal/orchestrator"
	"orion/internal/retriever"
	"orion/internal/safety"
	"orion/internal/server"
	"orion/internal/toolproxy"
	"orion/internal/vectorindex"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	observability.InitLogger(cfg.Server.LogPath, cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.InitOTel(ctx, observability.TelemetrySettings{
		Enabled:     cfg.OTel.Enabled,
		Endpoint:    cfg.OTel.Endpoint,
		Insecure:    cfg.OTel.Insecure,
		ServiceName: cfg.OTel.ServiceName,
	})
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without tracing")
	} else {
		defer func() { _ = shutdown(context.Background()) }()
	}

	store := config.NewStore(cfg)

	repo, pool, err := buildCatalog(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init catalog")
	}
	if pool != nil {
		defer pool.Close()
	}

	index, err := buildIndex(cfg, repo)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init vector index")
	}

	embedder := vectorindex.NewEmbedder(cfg.Embedding, observability.NewHTTPClient(20*time.Second))
	reranker := retriever.NewLLMReranker(cfg.Retrieval, cfg.Embedding)
	retr := retriever.New(index, embedder, reranker, store)
	if cfg.Retrieval.EnableBM25 {
		retr.AttachBM25(buildBM25(ctx, cfg, index, repo))
	}

	limiter, err := buildLimiter(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init rate limiter")
	}
	registry := toolproxy.NewRegistry(store, repo, windower{retr: retr}, limiter)

	var runtime llm.Runtime
	if cfg.Orchestrator.MockMode {
		runtime = llm.NewMockRuntime()
		log.Info().Msg("llm runtime in mock mode")
	} else {
		runtime = llm.NewClient(cfg.Orchestrator.RuntimeURL, cfg.Orchestrator.RuntimeAPIKey,
			observability.NewHTTPClient(0))
	}

	engine := orchestrator.NewEngine(retr, runtime, registry, store)
	publisher := events.NewPublisher(cfg.Kafka)
	defer func() { _ = publisher.Close() }()

	e := server.New(server.Handlers{
		Orchestrator: orchestrator.NewHandler(engine, store),
		Retrieval:    retriever.NewHandler(retr, store),
		ToolProxy:    toolproxy.NewHandler(registry),
		Safety:       safety.NewHandler(store),
		Catalog:      catalog.NewHandler(repo),
		Gateway:      gateway.NewHandler(engine, store, publisher),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Bool("mock_mode", cfg.MockMode).Msg("orion listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

// buildCatalog selects the Postgres repository when a connection string is
// configured and mock mode is off, otherwise the seeded in-memory fixture.
func buildCatalog(ctx context.Context, cfg config.Config) (catalog.Repository, *pgxpool.Pool, error) {
	if cfg.Database.ConnectionString == "" || cfg.MockMode {
		return catalog.NewSeededRepository(), nil, nil
	}
	pool, err := pgxpool.New(ctx, cfg.Database.ConnectionString)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to catalog database: %w", err)
	}
	return catalog.NewPostgresRepository(pool), pool, nil
}

// buildIndex connects to qdrant, or seeds the in-memory index from the mock
// catalog so the whole pipeline runs without external services.
func buildIndex(cfg config.Config, repo catalog.Repository) (vectorindex.Index, error) {
	if cfg.Qdrant.URL != "" && !cfg.MockMode {
		return vectorindex.NewQdrantIndex(cfg.Qdrant.URL)
	}
	seeder, ok := repo.(interface {
		Documents() []*catalog.Document
		Chunks(docID string) []catalog.Chunk
	})
	index := vectorindex.NewMemoryIndex()
	if !ok {
		return index, nil
	}
	dim := cfg.Embedding.Dimensions
	for _, doc := range seeder.Documents() {
		index.Add(cfg.Qdrant.DocsCollection, vectorindex.Point{
			ID:     doc.DocID,
			Vector: vectorindex.PseudoEmbedding(doc.Title, dim),
			Payload: map[string]any{
				"doc_id": doc.DocID, "tenant_id": doc.TenantID, "title": doc.Title,
				"product": doc.Product, "tags": toAnySlice(doc.Tags), "pages": int64(doc.Pages),
			},
		})
		for _, sec := range doc.Sections {
			index.Add(cfg.Qdrant.SectionsCollection, vectorindex.Point{
				ID:     doc.DocID + "/" + sec.SectionID,
				Vector: vectorindex.PseudoEmbedding(sec.Title+" "+sec.Summary, dim),
				Payload: map[string]any{
					"doc_id": doc.DocID, "tenant_id": doc.TenantID,
					"section_id": sec.SectionID, "title": sec.Title, "summary": sec.Summary,
					"page_start": int64(sec.PageStart), "page_end": int64(sec.PageEnd),
					"chunk_ids": toAnySlice(sec.ChunkIDs), "anchor_chunk_id": sec.Anchor(),
				},
			})
		}
		for _, chunk := range seeder.Chunks(doc.DocID) {
			index.Add(cfg.Qdrant.ChunksCollection, vectorindex.Point{
				ID:     chunk.ChunkID,
				Vector: vectorindex.PseudoEmbedding(chunk.Text, dim),
				Payload: map[string]any{
					"doc_id": chunk.DocID, "tenant_id": doc.TenantID,
					"section_id": chunk.SectionID, "chunk_id": chunk.ChunkID,
					"page": int64(chunk.Page), "chunk_index": int64(chunk.ChunkIndex),
					"text": chunk.Text,
				},
			})
		}
	}
	return index, nil
}

// buildBM25 indexes each known tenant's chunks for the lexical stage. Tenants
// come only from a catalog that lists all its documents (the in-memory
// fixture); the Postgres repository lists none, so with it no tenant is loaded
// and the lexical index stays empty.
func buildBM25(ctx context.Context, cfg config.Config, index vectorindex.Index, repo catalog.Repository) *retriever.BM25Index {
	bm25 := retriever.NewBM25Index()
	tenants := make(map[string]bool)
	if seeder, ok := repo.(interface{ Documents() []*catalog.Document }); ok {
		for _, doc := range seeder.Documents() {
			tenants[doc.TenantID] = true
		}
	}
	for tenant := range tenants {
		if err := bm25.LoadFromIndex(ctx, index, cfg.Qdrant.ChunksCollection, tenant); err != nil {
			log.Warn().Err(err).Str("tenant_id", tenant).Msg("bm25_load_failed")
		}
	}
	return bm25
}

func buildLimiter(cfg config.Config) (toolproxy.Limiter, error) {
	period := time.Duration(cfg.Proxy.RateLimitPeriodS) * time.Second
	if cfg.Proxy.RateLimitBackend == "redis" {
		if cfg.Proxy.RedisAddr == "" {
			return nil, fmt.Errorf("rate_limit_backend redis requires redis_addr")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.Proxy.RedisAddr})
		return toolproxy.NewRedisLimiter(client, cfg.Proxy.RateLimitCalls, cfg.Proxy.RateLimitTokens, period), nil
	}
	return toolproxy.NewMemoryLimiter(cfg.Proxy.RateLimitCalls, cfg.Proxy.RateLimitTokens, period), nil
}

// windower adapts the retriever's chunk window to the tool proxy contract.
type windower struct {
	retr *retriever.Retriever
}

func (w windower) FetchWindow(ctx context.Context, tenantID, docID, anchorChunkID string, before, after int) ([]toolproxy.WindowChunk, error) {
	chunks, err := w.retr.ChunkWindow(ctx, retriever.WindowRequest{
		TenantID:      tenantID,
		DocID:         docID,
		AnchorChunkID: anchorChunkID,
		WindowBefore:  before,
		WindowAfter:   after,
	})
	if err != nil {
		return nil, err
	}
	out := make([]toolproxy.WindowChunk, len(chunks))
	for i, c := range chunks {
		out[i] = toolproxy.WindowChunk{ChunkID: c.ChunkID, Page: c.Page, ChunkIndex: c.ChunkIndex, Text: c.Text}
	}
	return out, nil
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
