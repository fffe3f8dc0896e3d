// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/healthbridge/internal/middleware"
)

// RouterConfig holds router settings.
type RouterConfig struct {
	// SyncRateLimit caps manual sync triggers per source per minute.
	SyncRateLimit int
	// RequestTimeout bounds non-upload requests. Zero disables it.
	RequestTimeout time.Duration
}

// DefaultRouterConfig returns the defaults used when a field is zero.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{SyncRateLimit: 6}
}

// NewRouter configures all HTTP routes.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	if cfg.SyncRateLimit <= 0 {
		cfg.SyncRateLimit = DefaultRouterConfig().SyncRateLimit
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.AccessLog)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
		}

		r.Get("/health/live", h.HealthLive)
		r.Get("/health/ready", h.HealthReady)

		r.Get("/sources", h.Sources)
		r.With(syncRateLimit(cfg.SyncRateLimit)).Post("/sources/{source}/sync", h.SyncSource)

		r.Get("/records", h.Records)
		r.Get("/records/{date}", h.Record)
	})

	r.Post("/scale/upload", h.ScaleUpload)
	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusNotFound, ErrCodeNotFound, "route not found")
	})
	return r
}

// syncRateLimit limits manual cycles per source, independent of caller.
func syncRateLimit(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return chi.URLParam(r, "source"), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, http.StatusTooManyRequests, ErrCodeTooManyRequests, "too many sync requests for this source")
		}),
	)
}
