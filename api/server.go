/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the UI collaborator

ROUTE GROUPS:
  /api/debts/*            Debt capture and breakdowns
  /api/payments/*         Payment capture with allocation
  /api/combinations       Amount suggestions
  /api/anomalies          Ledger validation
  /api/reconciliation/*   Plan, apply, discard, audit
  /metrics                Prometheus
  /healthz                Liveness

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

	"github.com/warp/settlement-engine/observability"
)

// DefaultAllowedOrigins is used when no origins are configured.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", observability.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/debts", func(r chi.Router) {
			r.Get("/", h.ListDebts)
			r.Post("/", h.CreateDebt)
			r.Get("/{serial}", h.GetDebt)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Post("/", h.CreatePayment)
			r.Post("/preview", h.PreviewPayment)
			r.Get("/{id}", h.GetPayment)
		})

		r.Post("/combinations", h.SuggestCombinations)
		r.Get("/anomalies", h.ListAnomalies)

		r.Route("/reconciliation", func(r chi.Router) {
			r.Post("/plans", h.CreatePlan)
			r.Get("/plans/{id}", h.GetPlan)
			r.Post("/plans/{id}/apply", h.ApplyPlan)
			r.Post("/plans/{id}/discard", h.DiscardPlan)
			r.Get("/runs", h.ListReconciliationRuns)
		})
	})

	return r
}
