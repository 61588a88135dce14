// Package router sets up all HTTP routes and middleware chains for the
// chanlytics API. Base entities, channeled entities and cache administration
// live under /api; /health stays outside the rate limiter.
package router

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"chanlytics/internal/handlers"
	"chanlytics/internal/middleware"
)

// healthTimeout bounds each dependency check of /health.
const healthTimeout = 2 * time.Second

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Handlers groups the handler sets mounted by New.
type Handlers struct {
	Crud      *handlers.Crud
	Channeled *handlers.ChanneledCrud
	Cache     *handlers.CacheAdmin
}

// New creates and returns the configured Chi router with all middleware
// and route groups wired up. limiter may be nil to disable rate limiting.
func New(h Handlers, limiter *middleware.RateLimiter, checks map[string]HealthCheck) chi.Router {
	r := chi.NewRouter()

	// Global middleware, applied to every request.
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.SecureHeaders)

	r.Get("/health", healthHandler(checks))

	r.Route("/api", func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware)
		}

		// Cache administration.
		r.Route("/cache", func(r chi.Router) {
			r.Post("/invalidate", h.Cache.Invalidate)
			r.Get("/stats", h.Cache.Stats)
			r.Get("/log", h.Cache.Log)
		})

		// Per-channel records.
		r.Route("/channels/{channel}/{entity}", func(r chi.Router) {
			r.Get("/", h.Channeled.List)
			r.Post("/", h.Channeled.Create)
			r.Get("/count", h.Channeled.Count)
			r.Get("/{id}", h.Channeled.Get)
			r.Put("/{id}", h.Channeled.Update)
			r.Delete("/{id}", h.Channeled.Delete)
		})

		// Base entities.
		r.Route("/{entity}", func(r chi.Router) {
			r.Get("/", h.Crud.List)
			r.Post("/", h.Crud.Create)
			r.Get("/count", h.Crud.Count)
			r.Get("/{id}", h.Crud.Get)
			r.Put("/{id}", h.Crud.Update)
			r.Delete("/{id}", h.Crud.Delete)
		})
	})

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthHandler reports "ok" when every check passes and answers 503 with
// the failing checks otherwise.
func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		status := http.StatusOK

		if len(names) > 0 {
			resp.Checks = make(map[string]string, len(names))
		}
		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			err := checks[name](ctx)
			cancel()
			if err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}
}
