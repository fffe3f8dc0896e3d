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

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/healthbridge/internal/credentials"
	"github.com/tomtom215/healthbridge/internal/models"
)

// ErrorKind classifies a failed fetch.
type ErrorKind int

const (
	// KindNone means no error.
	KindNone ErrorKind = iota
	// KindTransient failures are retried on the next tick.
	KindTransient
	// KindAuthExpired failures trigger one credential refresh.
	KindAuthExpired
	// KindDataShape means the provider answered with something unexpected.
	KindDataShape
	// KindDisabled failures need a configuration change.
	KindDisabled
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransient:
		return "transient"
	case KindAuthExpired:
		return "auth_expired"
	case KindDataShape:
		return "data_shape"
	case KindDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

var (
	ErrTransient   = errors.New("transient provider failure")
	ErrAuthExpired = errors.New("provider credential expired")
	ErrDataShape   = errors.New("unexpected provider payload")

	// ErrUnknownSource is returned for sources the manager does not run.
	ErrUnknownSource = errors.New("unknown source")
	// ErrManagerClosed is returned once the manager has been stopped.
	ErrManagerClosed = errors.New("sync manager stopped")
	// ErrNotRunning is returned by background triggers while the loops are
	// stopped.
	ErrNotRunning = errors.New("sync manager is not running")
)

// ProviderError is a failed provider call.
type ProviderError struct {
	Source     models.SourceID
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Source, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind, so errors.Is(err,
// ErrAuthExpired) holds for any auth-expired ProviderError.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrAuthExpired:
		return e.Kind == KindAuthExpired
	case ErrDataShape:
		return e.Kind == KindDataShape
	}
	return false
}

func newProviderError(source models.SourceID, kind ErrorKind, status int, err error) *ProviderError {
	return &ProviderError{Source: source, Kind: kind, StatusCode: status, Err: err}
}

// KindForStatus maps an HTTP status to an error kind. 2xx maps to KindNone.
func KindForStatus(status int) ErrorKind {
	switch {
	case status >= 200 && status < 300:
		return KindNone
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuthExpired
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return KindTransient
	default:
		return KindDataShape
	}
}

// Classify returns the kind of err. Context deadlines, network failures and
// an open circuit breaker count as transient; anything unrecognized is
// treated as transient too so it is retried rather than disabling a source.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}

	switch {
	case credentials.IsAuthFailure(err):
		return KindDisabled
	case errors.Is(err, ErrAuthExpired):
		return KindAuthExpired
	case errors.Is(err, ErrDataShape):
		return KindDataShape
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return KindTransient
	}
	return KindTransient
}
