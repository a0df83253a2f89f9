package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the full route tree.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", h.HealthCheck)

	// Webhooks (authenticated by signature, not session)
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/replies", h.ReplyWebhook)
		r.Post("/engagement", h.EngagementWebhook)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", h.CreateJob)
			r.Get("/{id}", h.GetJob)
			r.Post("/{id}/cancel", h.CancelJob)
		})

		r.Route("/imports", func(r chi.Router) {
			r.Post("/", h.CreateImport)
			r.Get("/{id}", h.GetImport)
		})

		r.Get("/orphans", h.ListOrphans)
		r.Get("/stats", h.GetStats)
		r.Get("/events", h.EventStream)
	})

	return r
}
