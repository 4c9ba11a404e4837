/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/units/*           Unit registry, ledger, breakdown
  /api/details/*         Individual ledger lines
  /api/concepts/*        Fee concept catalog
  /api/rates/*           Rate versioning and lookup
  /api/breakdown-runs    Breakdown audit trail

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Unit routes
		r.Route("/units", func(r chi.Router) {
			r.Get("/", h.ListUnits)
			r.Post("/", h.CreateUnit)
			r.Get("/{id}", h.GetUnit)
			r.Get("/{id}/details", h.GetUnitDetails)
			r.Get("/{id}/totals", h.GetUnitTotals)
			r.Get("/{id}/dues-total", h.GetUnitDuesTotal)
			r.Post("/{id}/breakdown", h.RunBreakdown)
			r.Post("/{id}/manual-fees", h.RecordManualFee)
			r.Post("/{id}/rate-fees", h.RecordRateFee)
			r.Delete("/{id}/details", h.DeleteUnitDetails)
		})

		// Detail routes
		r.Route("/details", func(r chi.Router) {
			r.Put("/{id}", h.ReplaceDetailAmount)
			r.Delete("/{id}", h.DeleteDetail)
		})

		// Concept routes
		r.Route("/concepts", func(r chi.Router) {
			r.Get("/", h.ListConcepts)
			r.Get("/manual", h.ListManualConcepts)
		})

		// Rate routes
		r.Route("/rates", func(r chi.Router) {
			r.Get("/{concept}", h.GetRateHistory)
			r.Get("/{concept}/effective", h.GetEffectiveRate)
			r.Post("/{concept}", h.OpenRate)
			r.Post("/{concept}/supersede", h.SupersedeRate)
		})

		// Audit routes
		r.Get("/breakdown-runs", h.ListBreakdownRuns)
	})

	return r
}
