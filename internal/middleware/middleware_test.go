// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/healthbridge/internal/logging"
	"github.com/tomtom215/healthbridge/internal/metrics"
)

func TestRequestID_GeneratesNewID(t *testing.T) {
	var capturedID, correlationID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = GetRequestID(r.Context())
		correlationID = logging.CorrelationIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sources", nil))

	responseID := rec.Header().Get(RequestIDHeader)
	if _, err := uuid.Parse(responseID); err != nil {
		t.Errorf("Expected a UUID request id, got %q", responseID)
	}
	if capturedID != responseID {
		t.Errorf("Expected context ID %q, got %q", responseID, capturedID)
	}
	if correlationID != responseID {
		t.Errorf("Expected correlation ID %q, got %q", responseID, correlationID)
	}
}

func TestRequestID_PreservesUpstreamID(t *testing.T) {
	var capturedID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/scale/upload", nil)
	req.Header.Set(RequestIDHeader, "proxy-id-12345")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "proxy-id-12345" {
		t.Errorf("Expected upstream request id to be preserved, got %q", got)
	}
	if capturedID != "proxy-id-12345" {
		t.Errorf("Expected context ID proxy-id-12345, got %q", capturedID)
	}
}

func TestGetRequestID_WithoutID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if id := GetRequestID(req.Context()); id != "" {
		t.Errorf("Expected empty string, got %q", id)
	}
}

func TestPrometheusMetrics_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics)
	r.Get("/api/v1/records/{date}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	counter := metrics.APIRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/records/{date}", "404")
	before := testutil.ToFloat64(counter)

	for _, date := range []string{"2026-10-13", "2026-10-14"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/records/"+date, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("Expected status 404, got %d", rec.Code)
		}
	}

	if after := testutil.ToFloat64(counter); after != before+2 {
		t.Errorf("Expected 2 requests under one series, got %v -> %v", before, after)
	}
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewTestLogger(&buf)

	handler := AccessLog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream failed"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/scale/upload", nil)
	req = req.WithContext(logging.ContextWithLogger(req.Context(), logger))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{`"status":502`, `"path":"/scale/upload"`, `"bytes":15`, `"level":"warn"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log to contain %s, got %s", want, out)
		}
	}
}
