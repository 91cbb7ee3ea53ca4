/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/tenants/{tenant}/items/*   Items, occurrences and their actions
  /api/tenants/{tenant}/users     Assignable users
  /api/tenants/{tenant}/sweeps    Sweep log and manual sweep
  /api/tenants/{tenant}/calendar.ics
  /api/sweeps/run                 Sweep every tenant
  /api/scenarios/*                Demo scenarios
  /api/health                     Liveness

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins are the dev frontends allowed by CORS.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured. An empty
// allowedOrigins uses DefaultAllowedOrigins.
func NewRouter(h *Handler, allowedOrigins ...string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Route("/tenants/{tenant}", func(r chi.Router) {
			r.Route("/items", func(r chi.Router) {
				r.Get("/", h.ListOccurrences)
				r.Post("/", h.CreateItem)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetItem)
					r.Patch("/", h.UpdateItem)
					r.Delete("/", h.DeleteOccurrence)
					r.Post("/cancel", h.CancelItem)
					r.Post("/complete", h.CompleteItem)
					r.Post("/materialize", h.MaterializeOccurrence)
					r.Post("/sweep", h.SweepTemplate)
					r.Get("/overrides", h.ListOverrides)
					r.Get("/activity", h.ListActivity)

					// Domain actions
					r.Post("/progress", h.SetProgress)
					r.Post("/reschedule", h.RescheduleSession)
					r.Post("/held", h.MarkSessionHeld)
				})
			})

			r.Get("/users", h.ListUsers)
			r.Post("/users", h.CreateUser)

			r.Get("/sweeps", h.ListSweepRuns)
			r.Post("/sweeps", h.RunTenantSweep)

			r.Get("/calendar.ics", h.CalendarFeed)
		})

		r.Post("/sweeps/run", h.RunSweeps)

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
