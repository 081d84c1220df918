// Package swagger serves the OpenAPI document and a ReDoc page for it.
package swagger

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler serves the API documentation routes:
//
//	GET /api-docs      -> ReDoc HTML
//	GET /openapi.yaml  -> embedded OpenAPI document
type Handler struct {
	redocURL string
}

// Option configures a Handler.
type Option func(*Handler)

// WithRedocURL points the docs page at a different ReDoc bundle.
func WithRedocURL(u string) Option {
	return func(h *Handler) {
		if u != "" {
			h.redocURL = u
		}
	}
}

const defaultRedocURL = "https://cdn.redoc.ly/redoc/v2.1.5/bundles/redoc.standalone.js"

// New creates a docs handler.
func New(opts ...Option) *Handler {
	h := &Handler{redocURL: defaultRedocURL}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register attaches the docs routes to r.
func (h *Handler) Register(r chi.Router) {
	if r == nil {
		panic("router is nil")
	}
	page := []byte(indexHTML(h.redocURL))

	r.Get("/api-docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(page)
	})
	r.Get("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		_, _ = w.Write(OpenAPI)
	})
}

func indexHTML(redoc string) string {
	return `<!doctype html>
<html>
  <head>
    <meta charset="utf-8">
    <title>medrank API - ReDoc</title>
    <style>body{margin:0;padding:0}</style>
  </head>
  <body>
    <redoc id="redoc-container"></redoc>
    <script src="` + redoc + `"></script>
    <script>Redoc.init('/openapi.yaml', { suppressWarnings: true }, document.getElementById('redoc-container'));</script>
  </body>
</html>`
}
