// Package site serves the embedded landing page.
package site

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler serves the landing page and its assets.
type Handler struct {
	files http.Handler
}

// New creates a landing page handler.
func New() *Handler {
	return &Handler{files: http.FileServer(FS())}
}

// Register attaches the landing page routes to r.
func (h *Handler) Register(r chi.Router) {
	if r == nil {
		panic("router is nil")
	}
	r.Get("/", h.files.ServeHTTP)
	r.Get("/style.css", h.files.ServeHTTP)
}
