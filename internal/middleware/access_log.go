// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package middleware

import (
	"net/http"
	"time"

	"github.com/tomtom215/healthbridge/internal/logging"
)

// AccessLog writes one structured log line per request. Server errors log at
// warn, health probes at debug.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger := logging.Ctx(r.Context())
		event := logger.Info()
		switch {
		case rec.statusCode >= http.StatusInternalServerError:
			event = logger.Warn()
		case isProbe(r.URL.Path):
			event = logger.Debug()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.statusCode).
			Int("bytes", rec.bytes).
			Str("remote_addr", r.RemoteAddr).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func isProbe(path string) bool {
	return path == "/api/v1/health/live" || path == "/api/v1/health/ready" || path == "/metrics"
}
