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
  4. CORS:       Cross-origin requests for operational dashboards

ROUTE GROUPS:
  /api/lots/*          Lot registry, availability, physical movements
  /api/allocations/*   FEFO planning and reservation
  /api/reservations/*  Reservation lifecycle
  /api/movements/*     Movement lookup and reversal
  /api/orders/*        Order lifecycle and per-line allocation
  /api/admin/*         Sweeper trigger
  /api/scenarios/*     Demo scenarios

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
		// Lot routes
		r.Route("/lots", func(r chi.Router) {
			r.Get("/", h.ListLots)
			r.Post("/", h.CreateLot)
			r.Get("/{id}", h.GetLot)
			r.Get("/{id}/availability", h.GetAvailability)
			r.Get("/{id}/reservations", h.GetLotReservations)
			r.Get("/{id}/movements", h.GetLotMovements)
			r.Post("/{id}/lock", h.LockLot)
			r.Post("/{id}/withdrawals", h.Withdraw)
			r.Post("/{id}/returns", h.Return)
		})

		// Allocation routes
		r.Route("/allocations", func(r chi.Router) {
			r.Post("/", h.Allocate)
			r.Post("/preview", h.PreviewAllocation)
		})

		// Reservation routes
		r.Route("/reservations", func(r chi.Router) {
			r.Get("/{id}", h.GetReservation)
			r.Post("/{id}/confirm", h.ConfirmReservation)
			r.Post("/{id}/release", h.ReleaseReservation)
			r.Post("/{id}/transfer", h.TransferReservation)
			r.Post("/{id}/quantity", h.UpdateReservationQuantity)
		})

		// Movement routes
		r.Route("/movements", func(r chi.Router) {
			r.Get("/{id}", h.GetMovement)
			r.Post("/{id}/reverse", h.ReverseMovement)
		})

		// Order routes
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/{id}", h.GetOrder)
			r.Get("/{id}/coverage", h.GetOrderCoverage)
			r.Post("/{id}/status", h.TransitionOrder)
			r.Post("/{id}/cancel", h.CancelOrder)
			r.Post("/{id}/lines/{lineID}/allocate", h.AllocateLine)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep-expired", h.SweepExpired)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
