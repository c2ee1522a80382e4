package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridian-mobility/safetyindex/internal/plugins"
)

func NewRouter(scorer Scorer, records RecordSource, live LiveSource, registry *plugins.Registry, calibrator CalibrationRunner, adminToken string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware(120))

	index := NewIndexHandler(scorer)
	history := NewHistoryHandler(records, live)
	plug := NewPluginsHandler(registry)
	admin := NewAdminHandler(calibrator)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/intersections/{id}/safety-index", index.Get)
		r.Get("/intersections/{id}/safety-index/latest", history.GetLatest)
		r.Get("/intersections/{id}/history", history.List)
		r.Get("/plugins", plug.List)

		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(adminToken))
			r.Post("/admin/calibrate", admin.Calibrate)
		})
	})

	return r
}

func NewMetricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
