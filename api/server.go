/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request log (method, path, status, duration)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend
  5. Owner:      X-User-ID header, required under /api except /api/health

ROUTE GROUPS:
  /api/occurrences/*    Merged view and scoped mutations
  /api/series/*         Series definitions
  /api/reminders/*      Due reminders
  /api/scenarios/*      Demo scenarios
  /api/export.ics       iCalendar export
  /api/health           Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/reminder-engine/engine"
)

// OwnerHeader carries the calling user's id.
const OwnerHeader = "X-User-ID"

type ctxKey int

const ownerKey ctxKey = iota

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", OwnerHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(requireOwner)

			r.Route("/occurrences", func(r chi.Router) {
				r.Get("/", h.ListOccurrences)
				r.Post("/", h.CreateOccurrence)
				r.Patch("/{id}", h.EditOccurrence)
				r.Delete("/{id}", h.DeleteOccurrence)
				r.Post("/{id}/completion", h.ToggleCompletion)
			})

			r.Route("/series", func(r chi.Router) {
				r.Get("/", h.ListSeries)
				r.Post("/", h.CreateSeries)
				r.Get("/{id}", h.GetSeries)
				r.Get("/{id}/next", h.NextOccurrence)
			})

			r.Get("/reminders/due", h.DueReminders)
			r.Get("/export.ics", h.ExportICS)

			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		})
	})

	return r
}

// requireOwner rejects requests without an owner and stores it in the
// request context.
func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if owner == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+OwnerHeader+" header", nil)
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey, engine.OwnerID(owner))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ownerFrom(ctx context.Context) engine.OwnerID {
	owner, _ := ctx.Value(ownerKey).(engine.OwnerID)
	return owner
}

// requestLogger logs one line per request.
func requestLogger(l *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				l.Info("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
