/*
server.go - HTTP server setup and routing

PURPOSE:
  Configures the HTTP router, middleware, and route definitions.
  Uses chi router for its simplicity and middleware support.

ROUTER: chi (github.com/go-chi/chi/v5)
  Chosen for:
  - Standard library compatible (http.Handler)
  - Clean middleware chaining
  - URL parameter extraction

MIDDLEWARE STACK (in order):
  1. RequestID: Adds unique ID to each request
  2. RealIP: Client address from X-Forwarded-For / X-Real-IP
  3. RequestLogger: Request-scoped slog logger, one line per request
  4. Recoverer: Catches panics, returns 500
  5. CORS: Allows the configured origins
  6. RateLimiter: Token bucket per client IP, 429 when exhausted

ROUTE GROUPS:
  /api/employees/*  Employee profiles, balances, leave records, audit
  /api/leaves/*     Edit and delete leave records
  /api/items/*      Stock items, receipts and issues
  /api/movements/*  Cancel a stock movement
  /api/rooms/*      Room bookings
  /api/bookings/*   Cancel a booking

SEE ALSO:
  - handlers.go: Employee and leave handlers
  - inventory.go: Stock and booking handlers
  - middleware.go: Request logger and rate limiter
*/
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// RouterOptions configures the middleware stack. A zero RateLimit disables
// rate limiting.
type RouterOptions struct {
	Logger         *slog.Logger
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
}

// NewRouter creates the chi router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Content-Type", "X-Actor", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		r.Use(NewRateLimiter(rate.Limit(opts.RateLimit), burst).Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetEmployee)
				r.Patch("/", h.UpdateEmployee)
				r.Get("/balance", h.GetBalance)
				r.Get("/leaves", h.ListLeaves)
				r.Post("/leaves", h.CreateLeave)
				r.Post("/reconcile", h.Reconcile)
				r.Get("/audit", h.ListAudit)
			})
		})

		r.Get("/categories", h.ListCategories)
		r.Get("/leaves/active", h.ListActiveLeaves)
		r.Put("/leaves/{id}", h.UpdateLeave)
		r.Delete("/leaves/{id}", h.DeleteLeave)

		r.Route("/items", func(r chi.Router) {
			r.Post("/", h.CreateItem)
			r.Get("/{id}", h.GetItem)
			r.Get("/{id}/movements", h.ListMovements)
			r.Post("/{id}/receipts", h.ReceiveStock)
			r.Post("/{id}/issues", h.IssueStock)
		})
		r.Delete("/movements/{id}", h.CancelMovement)

		r.Get("/rooms/{id}/bookings", h.ListBookings)
		r.Post("/rooms/{id}/bookings", h.CreateBooking)
		r.Delete("/bookings/{id}", h.CancelBooking)
	})

	return r
}
