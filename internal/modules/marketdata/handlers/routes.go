package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all dataset routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/datasets", func(r chi.Router) {
		r.Get("/sources", h.HandleGetSources)
		r.Get("/metrics", h.HandleGetMetrics)
		r.Post("/estimate", h.HandleEstimate)
		r.Post("/optimize", h.HandleOptimize)
		r.Post("/archive", h.HandleArchive)
		r.Delete("/cache", h.HandleInvalidate)
	})
}
