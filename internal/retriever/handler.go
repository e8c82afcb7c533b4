package retriever

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"orion/internal/apperr"
	"orion/internal/config"
	"orion/internal/observability"
)

// Handler serves the internal retrieval endpoints.
type Handler struct {
	retriever *Retriever
	store     *config.Store
}

func NewHandler(r *Retriever, store *config.Store) *Handler {
	return &Handler{retriever: r, store: store}
}

func (h *Handler) Register(g *echo.Group) {
	g.POST("/search", h.Search)
	g.POST("/chunks/window", h.ChunkWindow)
	g.GET("/config", h.GetConfig)
	g.POST("/config", h.UpdateConfig)
}

func (h *Handler) Search(c echo.Context) error {
	var q Query
	if err := c.Bind(&q); err != nil {
		return apperr.BadRequest("invalid_request", "malformed retrieval query")
	}
	if q.TenantID == "" {
		return apperr.BadRequest("invalid_request", "tenant_id is required")
	}
	ctx := c.Request().Context()
	resp, err := h.retriever.Search(ctx, q)
	if err != nil {
		observability.LoggerWithTrace(ctx).Error().Err(err).Msg("retrieval_http_failed")
		return apperr.BadGateway(err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) ChunkWindow(c echo.Context) error {
	var req WindowRequest
	if err := c.Bind(&req); err != nil {
		return apperr.BadRequest("invalid_request", "malformed window request")
	}
	if req.TenantID == "" || req.DocID == "" || req.AnchorChunkID == "" {
		return apperr.BadRequest("invalid_request", "tenant_id, doc_id, anchor_chunk_id required")
	}
	if req.WindowBefore < 0 || req.WindowAfter < 0 {
		return apperr.BadRequest("invalid_request", "window_before/window_after must be >= 0")
	}
	ctx := c.Request().Context()
	chunks, err := h.retriever.ChunkWindow(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrChunksNotFound):
			return apperr.NotFound("not_found", "chunks_not_found")
		case errors.Is(err, ErrAnchorNotFound):
			return apperr.NotFound("not_found", "anchor_chunk_not_found")
		default:
			observability.LoggerWithTrace(ctx).Error().Err(err).Msg("chunk_window_failed")
			return apperr.BadGateway(err.Error())
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"chunks": chunks})
}

func (h *Handler) GetConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.Snapshot().Retrieval)
}

// UpdateConfig mutates the admin-settable retrieval knobs and publishes a new
// snapshot. Requests already in flight keep the snapshot they started with.
func (h *Handler) UpdateConfig(c echo.Context) error {
	var payload struct {
		DocsTopK             *int     `json:"docs_top_k"`
		SectionsTopKPerDoc   *int     `json:"sections_top_k_per_doc"`
		MaxTotalSections     *int     `json:"max_total_sections"`
		ChunkTopK            *int     `json:"chunk_top_k"`
		TopKPerDoc           *int     `json:"topk_per_doc"`
		MinDocs              *int     `json:"min_docs"`
		MaxResults           *int     `json:"max_results"`
		EnableSectionCosine  *bool    `json:"enable_section_cosine"`
		EnableRerank         *bool    `json:"enable_rerank"`
		RerankScoreThreshold *float64 `json:"rerank_score_threshold"`
		RerankModel          *string  `json:"rerank_model"`
		RerankTopN           *int     `json:"rerank_top_n"`
		ChunksEnabled        *bool    `json:"chunks_enabled"`
		EnableFilters        *bool    `json:"enable_filters"`
		EnableBM25           *bool    `json:"enable_bm25"`
		BM25TopK             *int     `json:"bm25_top_k"`
		BM25Alpha            *float64 `json:"bm25_alpha"`
	}
	if err := c.Bind(&payload); err != nil {
		return apperr.BadRequest("invalid_request", "malformed config payload")
	}
	next := h.store.Update(func(cfg *config.Config) {
		r := &cfg.Retrieval
		if payload.DocsTopK != nil {
			r.DocsTopK = *payload.DocsTopK
		}
		if payload.SectionsTopKPerDoc != nil {
			r.SectionsTopKPerDoc = *payload.SectionsTopKPerDoc
		}
		if payload.MaxTotalSections != nil {
			r.MaxTotalSections = *payload.MaxTotalSections
		}
		if payload.ChunkTopK != nil {
			r.ChunkTopK = *payload.ChunkTopK
		}
		if payload.TopKPerDoc != nil {
			r.TopKPerDoc = *payload.TopKPerDoc
		}
		if payload.MinDocs != nil {
			r.MinDocs = *payload.MinDocs
		}
		if payload.MaxResults != nil {
			r.MaxResults = *payload.MaxResults
		}
		if payload.EnableSectionCosine != nil {
			r.EnableSectionCosine = *payload.EnableSectionCosine
		}
		if payload.EnableRerank != nil {
			r.EnableRerank = *payload.EnableRerank
		}
		if payload.RerankScoreThreshold != nil {
			r.RerankScoreThreshold = *payload.RerankScoreThreshold
		}
		if payload.RerankModel != nil {
			r.RerankModel = *payload.RerankModel
		}
		if payload.RerankTopN != nil {
			r.RerankTopN = *payload.RerankTopN
		}
		if payload.ChunksEnabled != nil {
			r.ChunksEnabled = *payload.ChunksEnabled
		}
		if payload.EnableFilters != nil {
			r.EnableFilters = *payload.EnableFilters
		}
		if payload.EnableBM25 != nil {
			r.EnableBM25 = *payload.EnableBM25
		}
		if payload.BM25TopK != nil {
			r.BM25TopK = *payload.BM25TopK
		}
		if payload.BM25Alpha != nil {
			r.BM25Alpha = *payload.BM25Alpha
		}
	})
	return c.JSON(http.StatusOK, next.Retrieval)
}
