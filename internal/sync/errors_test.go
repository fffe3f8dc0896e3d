// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/healthbridge/internal/credentials"
	"github.com/tomtom215/healthbridge/internal/models"
)

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusOK, KindNone},
		{http.StatusNoContent, KindNone},
		{http.StatusUnauthorized, KindAuthExpired},
		{http.StatusForbidden, KindAuthExpired},
		{http.StatusTooManyRequests, KindTransient},
		{http.StatusRequestTimeout, KindTransient},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusBadGateway, KindTransient},
		{http.StatusServiceUnavailable, KindTransient},
		{http.StatusNotFound, KindDataShape},
		{http.StatusBadRequest, KindDataShape},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			if got := KindForStatus(tt.status); got != tt.want {
				t.Errorf("KindForStatus(%d) = %s, want %s", tt.status, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"provider auth", newProviderError(models.SourceFitbit, KindAuthExpired, 401, errors.New("expired")), KindAuthExpired},
		{"wrapped provider shape", fmt.Errorf("fetch: %w", newProviderError(models.SourceGarmin, KindDataShape, 0, errors.New("bad json"))), KindDataShape},
		{"refresh rejected", fmt.Errorf("refresh: %w", credentials.ErrRefreshRejected), KindDisabled},
		{"refresh unsupported", credentials.ErrRefreshUnsupported, KindDisabled},
		{"no credential", credentials.ErrNoCredential, KindDisabled},
		{"auth sentinel", fmt.Errorf("x: %w", ErrAuthExpired), KindAuthExpired},
		{"shape sentinel", ErrDataShape, KindDataShape},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"breaker open", gobreaker.ErrOpenState, KindTransient},
		{"breaker half-open", gobreaker.ErrTooManyRequests, KindTransient},
		{"unknown", errors.New("boom"), KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestProviderError_Is(t *testing.T) {
	err := newProviderError(models.SourceIntervals, KindTransient, 503, errors.New("unavailable"))

	if !errors.Is(err, ErrTransient) {
		t.Error("expected errors.Is(err, ErrTransient)")
	}
	if errors.Is(err, ErrAuthExpired) {
		t.Error("transient error must not match ErrAuthExpired")
	}

	var pe *ProviderError
	if !errors.As(fmt.Errorf("wrapped: %w", err), &pe) {
		t.Fatal("expected errors.As to find ProviderError")
	}
	checkIntEqual(t, "StatusCode", pe.StatusCode, 503)
	checkStringEqual(t, "Source", string(pe.Source), string(models.SourceIntervals))
}

func TestErrorKind_String(t *testing.T) {
	checkStringEqual(t, "none", KindNone.String(), "none")
	checkStringEqual(t, "transient", KindTransient.String(), "transient")
	checkStringEqual(t, "auth", KindAuthExpired.String(), "auth_expired")
	checkStringEqual(t, "shape", KindDataShape.String(), "data_shape")
	checkStringEqual(t, "disabled", KindDisabled.String(), "disabled")
}
