// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package sync

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/healthbridge/internal/logging"
	"github.com/tomtom215/healthbridge/internal/metrics"
	"github.com/tomtom215/healthbridge/internal/models"
)

// Circuit breaker settings. Cycles are infrequent, so the breaker trips on
// consecutive failures rather than a failure ratio.
const (
	breakerTripAfter = 3
	breakerTimeout   = 2 * time.Minute
)

// sourceBreaker guards one source's fetches. Every source owns its own
// breaker so a failing provider never blocks the others.
//
// Only transient failures count against the breaker. An expired credential
// or an odd payload means the provider is reachable.
type sourceBreaker struct {
	cb     *gobreaker.CircuitBreaker[*models.Fragment]
	source string
}

func newSourceBreaker(source models.SourceID) *sourceBreaker {
	name := string(source)

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[*models.Fragment](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     breakerTimeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			trip := counts.ConsecutiveFailures >= breakerTripAfter
			if trip {
				logging.Warn().Str("source", name).Uint32("consecutive_failures", counts.ConsecutiveFailures).Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return trip
		},

		IsSuccessful: func(err error) bool {
			return err == nil || Classify(err) != KindTransient
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().Str("source", name).Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &sourceBreaker{cb: cb, source: name}
}

// fetch runs fn through the breaker.
func (b *sourceBreaker) fetch(fn func() (*models.Fragment, error)) (*models.Fragment, error) {
	frag, err := b.cb.Execute(fn)
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(b.source, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(b.source, "rejected").Inc()
		logging.Warn().Str("source", b.source).Err(err).Msg("[CIRCUIT BREAKER] Fetch rejected")
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(b.source, "failure").Inc()
	}
	return frag, err
}

// State returns the breaker state as a string.
func (b *sourceBreaker) State() string {
	return stateToString(b.cb.State())
}

// fetchWithTimeout bounds one fetch attempt.
func fetchWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) (*models.Fragment, error)) (*models.Fragment, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(fctx)
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to string for logging
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
