// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

/*
Package middleware provides HTTP middleware for the Healthbridge API.

  - RequestID: UUID request ids, propagated as the logging correlation id
  - AccessLog: one zerolog line per request
  - PrometheusMetrics: request count, latency and in-flight gauge, labeled
    by chi route pattern

All three are chi-compatible func(http.Handler) http.Handler values:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog)
	r.Use(middleware.PrometheusMetrics)
*/
package middleware
