package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"safemodel/internal/platform/metrics"
	"safemodel/internal/platform/middleware"
	"safemodel/pkg/platform/httputil"
)

type routeRegistrar interface {
	Register(r chi.Router)
}

type routerDeps struct {
	training routeRegistrar
	release  routeRegistrar
	auth     func(http.Handler) http.Handler
	metrics  *metrics.Metrics
	health   map[string]func(context.Context) error
	logger   *slog.Logger
}

// newRouter mounts the researcher-facing training routes openly and the
// reviewer-facing release and audit routes behind token auth.
func newRouter(deps routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestMetadata)
	r.Use(chimw.Recoverer)
	r.Use(deps.metrics.Instrument)

	r.Get("/health", healthHandler(deps.health, deps.logger))
	r.Handle("/metrics", deps.metrics.Handler())

	deps.training.Register(r)
	r.Group(func(r chi.Router) {
		r.Use(deps.auth)
		deps.release.Register(r)
	})
	return r
}

func healthHandler(checks map[string]func(context.Context) error, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.WarnContext(ctx, "health check failed", "dependency", name, "error", err)
				results[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		httputil.WriteJSON(w, status, map[string]any{
			"status":       http.StatusText(status),
			"dependencies": results,
		})
	}
}
