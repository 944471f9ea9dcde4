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
  5. Metrics:    Prometheus request counters and latency

  Under /api only:
  6. Identity:   Resolves the caller (JWT or trusted headers)
  7. RateLimit:  Per-caller token bucket

PUBLIC ROUTES:
  /healthz   Store reachability
  /metrics   Prometheus scrape endpoint

SEE ALSO:
  - handlers.go: Handler implementations
  - identity.go: Caller resolution
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/class-booking/metrics"
)

// RouterOptions configures the optional parts of the router.
type RouterOptions struct {
	CORSOrigins []string
	Auth        *Authenticator
	Limiter     *RateLimiter
	// Health reports store reachability for /healthz. Nil means always healthy.
	Health func(ctx context.Context) error
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.Auth == nil {
		opts.Auth = NewAuthenticator("")
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderTenantID, HeaderUserID, HeaderUserRole},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
	}))
	r.Use(metrics.InstrumentHandler)

	r.Get("/healthz", healthz(opts.Health))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(opts.Auth.Middleware)
		r.Use(opts.Limiter.Middleware)

		r.Post("/class-types", h.CreateClassType)

		r.Route("/packages", func(r chi.Router) {
			r.Get("/", h.ListPackages)
			r.Post("/", h.CreatePackage)
		})

		// Member routes
		r.Route("/members/{id}", func(r chi.Router) {
			r.Get("/credits", h.MemberCredits)
			r.Post("/credits", h.SellPackage)
			r.Get("/reservations", h.MemberReservations)
		})

		r.Get("/credits/{id}/history", h.CreditHistory)

		// Session routes
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Post("/", h.CreateSession)
			r.Get("/{id}", h.GetSession)
			r.Post("/{id}/book", h.Book)
			r.Get("/{id}/waitlist", h.ListWaitlist)
			r.Post("/{id}/waitlist", h.JoinWaitlist)
			r.Delete("/{id}/waitlist", h.LeaveWaitlist)
			r.Get("/{id}/waitlist/position", h.WaitlistPosition)
		})

		// Reservation routes
		r.Route("/reservations", func(r chi.Router) {
			r.Get("/{id}", h.GetReservation)
			r.Post("/{id}/cancel", h.CancelReservation)
			r.Post("/{id}/check-in", h.CheckIn)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/credits/expire", h.ExpireCredits)
			r.Post("/waitlists/purge", h.PurgeWaitlists)
		})
	})

	return r
}

func healthz(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				writeError(w, http.StatusServiceUnavailable, "Store unavailable", "Unavailable", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
