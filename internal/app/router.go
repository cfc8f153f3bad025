package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tto-ledger/ledger/internal/observability"
	"github.com/tto-ledger/ledger/internal/platform/httpx"
	"github.com/tto-ledger/ledger/jobs"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Routes mounts a group of API endpoints.
type Routes interface {
	MountRoutes(r chi.Router)
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger     *slog.Logger
	Config     *Config
	Ledger     Routes
	Audit      Routes
	JobHandler *jobs.Handler
	Metrics    *observability.Metrics
	Health     []HealthCheck
}

// NewRouter constructs the chi.Router with ledger defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		checks := make(map[string]string, len(params.Health))
		for _, hc := range params.Health {
			if err := hc.Check(ctx); err != nil {
				logger.Warn("readiness check failed", slog.String("check", hc.Name), slog.Any("error", err))
				checks[hc.Name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			checks[hc.Name] = "up"
		}
		httpx.JSON(w, status, map[string]any{"checks": checks})
	})

	r.Route("/api/v1", func(api chi.Router) {
		for _, routes := range []Routes{params.Ledger, params.Audit} {
			if routes != nil {
				routes.MountRoutes(api)
			}
		}
	})
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
