package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all optimizer routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/optimizer", func(r chi.Router) {
		r.Get("/", h.HandleGetStatus)
		r.Post("/run", h.HandleRun)
		r.Post("/min-variance", h.HandleMinVariance)
		r.Post("/frontier", h.HandleFrontier)
		r.Get("/live", h.HandleLive)
	})
}
