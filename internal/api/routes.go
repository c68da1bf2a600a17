package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", CallerHeader},
		ExposedHeaders: []string{"Link"},
		MaxAge:         300,
	}))

	// Health checks
	r.Get("/health", h.health.HandleHealth)
	r.Get("/health/live", h.health.HandleLiveness)
	r.Get("/health/ready", h.health.HandleReadiness)

	r.Route("/api", func(r chi.Router) {
		// Ingestion
		r.Post("/leads", h.SubmitLead)

		// Catalog configuration
		r.Route("/catalog", func(r chi.Router) {
			r.Get("/verticals", h.ListVerticals)
			r.Put("/verticals", h.UpsertVertical)
			r.Get("/routes", h.ListRoutes)
			r.Get("/routes/{id}", h.GetRoute)
			r.Put("/routes/{id}", h.UpsertRoute)
			r.Delete("/routes/{id}", h.DeleteRoute)
		})

		// Route health
		r.Get("/routes/{id}/usage", h.GetRouteUsage)

		// Accounting
		r.Route("/ledger", func(r chi.Router) {
			r.Get("/entries", h.ListEntries)
			r.Post("/entries/{id}/reverse", h.ReverseEntry)
			r.Get("/revenue", h.GetRevenue)
			r.Get("/summary", h.GetSummary)
			r.Post("/export", h.ExportLedger)
		})
	})

	return r
}
