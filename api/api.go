// Package api provides the read-only administrative HTTP API consumed by
// dashboards: queues, per-state counts, job lists and job detail including
// logs and progress. It reads through the store contract and never changes
// job state.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ozandndar/reddis-bullmq/engine"
)

// API wires the HTTP handlers for an engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// New creates an API serving eng's queues.
func New(eng *engine.Engine, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{eng: eng, logger: logger}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the API routes on r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", a.healthz)

	r.Route("/queues", func(r chi.Router) {
		r.Get("/", a.listQueues)
		r.Route("/{queue}", func(r chi.Router) {
			r.Get("/counts", a.queueCounts)
			r.Get("/jobs", a.listJobs)
			r.Get("/jobs/{jobID}", a.getJob)
		})
	})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("api: encode response failed", slog.String("error", err.Error()))
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, ErrorResponse{Error: msg})
}
