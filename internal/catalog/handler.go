package catalog

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"orion/internal/apperr"
)

const tenantHeader = "X-Tenant-ID"

// Handler serves the internal document catalog read API. Routing is
// tenant-scoped through the X-Tenant-ID header.
type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/:doc_id", h.Get)
	g.GET("/:doc_id/sections", h.Sections)
}

func (h *Handler) List(c echo.Context) error {
	tenantID := c.Request().Header.Get(tenantHeader)
	if tenantID == "" {
		return apperr.BadRequest("invalid_request", "X-Tenant-ID header required")
	}
	docs, err := h.repo.ListDocuments(c.Request().Context(), tenantID)
	if err != nil {
		return apperr.BadGateway(err.Error())
	}
	if docs == nil {
		docs = []*Document{}
	}
	// The listing is metadata only; section summaries stay behind the
	// per-document endpoints.
	out := make([]*Document, len(docs))
	for i, doc := range docs {
		trimmed := *doc
		trimmed.Sections = nil
		out[i] = &trimmed
	}
	return c.JSON(http.StatusOK, map[string]any{"documents": out, "count": len(out)})
}

func (h *Handler) Get(c echo.Context) error {
	doc, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, doc)
}

func (h *Handler) Sections(c echo.Context) error {
	doc, err := h.load(c)
	if err != nil {
		return err
	}
	sections := doc.Sections
	if sections == nil {
		sections = []Section{}
	}
	return c.JSON(http.StatusOK, map[string]any{"sections": sections, "count": len(sections)})
}

func (h *Handler) load(c echo.Context) (*Document, error) {
	tenantID := c.Request().Header.Get(tenantHeader)
	if tenantID == "" {
		return nil, apperr.BadRequest("invalid_request", "X-Tenant-ID header required")
	}
	doc, err := h.repo.GetMetadata(c.Request().Context(), c.Param("doc_id"))
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("not_found", "document_not_found")
	}
	if err != nil {
		return nil, apperr.BadGateway(err.Error())
	}
	if doc.TenantID != tenantID {
		return nil, apperr.Forbidden("ACCESS_DENIED", "document belongs to another tenant")
	}
	return doc, nil
}
