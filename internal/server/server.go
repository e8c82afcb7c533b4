// Package server assembles the echo application: middleware, error mapping
// and route registration for the internal and public surfaces.
package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"orion/internal/apperr"
	"orion/internal/catalog"
	"orion/internal/gateway"
	"orion/internal/observability"
	"orion/internal/orchestrator"
	"orion/internal/retriever"
	"orion/internal/safety"
	"orion/internal/toolproxy"
)

const traceHeader = "X-Trace-ID"

// Handlers groups the per-component HTTP handlers the server mounts.
type Handlers struct {
	Orchestrator *orchestrator.Handler
	Retrieval    *retriever.Handler
	ToolProxy    *toolproxy.Handler
	Safety       *safety.Handler
	Catalog      *catalog.Handler
	Gateway      *gateway.Handler
}

// New builds the echo instance with all routes registered.
func New(h Handlers) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(traceMiddleware)
	e.HTTPErrorHandler = errorHandler

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	h.Orchestrator.Register(e.Group("/internal/orchestrator"))
	h.Retrieval.Register(e.Group("/internal/retrieval"))
	h.ToolProxy.Register(e.Group("/internal/mcp"))
	h.Safety.Register(e.Group("/internal/safety"))
	h.Catalog.Register(e.Group("/internal/documents"))
	h.Gateway.Register(e.Group("/api/v1/assistant"))

	return e
}

// traceMiddleware derives the request trace id from the incoming header or a
// fresh UUID, stores it in the context and echoes it back on the response.
func traceMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		traceID := c.Request().Header.Get(traceHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		ctx := observability.WithTraceID(c.Request().Context(), traceID)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(traceHeader, traceID)
		return next(c)
	}
}

// errorHandler maps application errors to {code, message} JSON with the
// matching HTTP status.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	code := "internal_error"
	message := "internal error"

	var appErr *apperr.E
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &appErr):
		status = appErr.Status
		code = appErr.Code
		message = appErr.Message
	case errors.As(err, &httpErr):
		status = httpErr.Code
		code = http.StatusText(status)
		if m, ok := httpErr.Message.(string); ok {
			message = m
		}
	default:
		message = err.Error()
	}

	observability.LoggerWithTrace(c.Request().Context()).Warn().
		Int("status", status).
		Str("code", code).
		Str("path", c.Path()).
		Msg("request_failed")

	_ = c.JSON(status, map[string]string{"code": code, "message": message})
}
