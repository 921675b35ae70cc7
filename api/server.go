/*
server.go - HTTP router and middleware configuration

ROUTER: chi, with the standard middleware stack:
  1. Logger:     request logging
  2. Recoverer:  panic recovery (500 instead of crash)
  3. RequestID:  unique ID per request for tracing
  4. CORS:       cross-origin requests for the web frontend

The ledger trusts the caller's resolved identity: authentication lives
in front of this service, except the jobs endpoint which carries its
own bearer secret.
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Get("/transactions", h.GetTransactions)
			r.Get("/reconciliation", h.GetReconciliation)
			r.Post("/credit", h.Credit)
			r.Post("/debit", h.Debit)
			r.Post("/bonus", h.Bonus)
			r.Post("/refund", h.Refund)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/expire-bonuses", h.ExpireBonuses)
		})

		r.Route("/revenue", func(r chi.Router) {
			r.Post("/records", h.CreateRevenueRecord)
			r.Post("/records/{id}/complete", h.CompleteRevenueRecord)
			r.Post("/records/{id}/reverse", h.ReverseRevenueRecord)
			r.Get("/stats", h.GetRevenueStats)
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	return r
}
