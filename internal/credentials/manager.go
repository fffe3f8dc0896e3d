// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

// Package credentials keeps every source's authentication material valid.
//
// The Manager hands adapters the current credential for a source and
// performs at most one refresh per request when the provider reports an
// expired credential. Refreshed credentials are persisted through a Store so
// rotated refresh tokens survive restarts. Refreshes for one source are
// serialized; different sources never wait on each other.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/healthbridge/internal/logging"
	"github.com/tomtom215/healthbridge/internal/metrics"
	"github.com/tomtom215/healthbridge/internal/models"
	"github.com/tomtom215/healthbridge/internal/state"
)

var (
	// ErrRefreshRejected means the provider refused the refresh itself. The
	// configured credential is no longer usable.
	ErrRefreshRejected = errors.New("credential refresh rejected")

	// ErrRefreshUnsupported is returned for credentials that cannot be
	// refreshed, such as static API keys.
	ErrRefreshUnsupported = errors.New("credential refresh unsupported")

	// ErrNoCredential means the source has no configured credential.
	ErrNoCredential = errors.New("no credential configured")

	// ErrUnknownSource is returned for sources that were never registered.
	ErrUnknownSource = errors.New("source not registered with credential manager")
)

// IsAuthFailure reports whether err means the credential cannot be made
// valid without a configuration change.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrRefreshRejected) ||
		errors.Is(err, ErrRefreshUnsupported) ||
		errors.Is(err, ErrNoCredential)
}

// Store persists credentials. state.Store implements it.
type Store interface {
	LoadCredential(ctx context.Context, source models.SourceID) (models.Credential, error)
	SaveCredential(ctx context.Context, source models.SourceID, cred models.Credential) error
	DeleteCredential(ctx context.Context, source models.SourceID) error
}

var _ Store = (*state.Store)(nil)

// Refresher produces a fresh credential from the current one.
type Refresher interface {
	Refresh(ctx context.Context, current models.Credential) (models.Credential, error)
}

type entry struct {
	mu        sync.Mutex
	bootstrap models.Credential
	origin    string
	refresher Refresher
	cached    *models.Credential
}

// Manager owns the credentials of every registered source.
type Manager struct {
	store Store
	audit *logging.CredentialAudit
	now   func() time.Time

	mu      sync.RWMutex
	entries map[models.SourceID]*entry
}

// NewManager creates a manager persisting through store.
func NewManager(store Store) *Manager {
	return &Manager{
		store:   store,
		audit:   logging.NewCredentialAudit(),
		now:     time.Now,
		entries: make(map[models.SourceID]*entry),
	}
}

// Register declares a source, the credential its configuration bootstraps
// and how that credential is refreshed. Registering a source again replaces
// its bootstrap and refresher and drops any cached credential.
//
// A persisted credential derived from different configured secrets is
// discarded so the new configuration takes effect, including across
// restarts.
func (m *Manager) Register(ctx context.Context, source models.SourceID, bootstrap models.Credential, refresher Refresher) error {
	if refresher == nil {
		refresher = staticRefresher{}
	}

	m.mu.Lock()
	e, exists := m.entries[source]
	if !exists {
		e = &entry{}
		m.entries[source] = e
	}
	m.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.bootstrap = bootstrap
	e.origin = bootstrap.Fingerprint()
	e.refresher = refresher
	e.cached = nil

	persisted, err := m.store.LoadCredential(ctx, source)
	switch {
	case errors.Is(err, state.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("load persisted credential for %s: %w", source, err)
	case persisted.Origin == e.origin:
		return nil
	}

	if err := m.store.DeleteCredential(ctx, source); err != nil && !errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("discard persisted credential for %s: %w", source, err)
	}
	logging.Ctx(ctx).Info().Str("source", string(source)).Msg("Configured credential changed, persisted credential discarded")
	return nil
}

// GetValidCredential returns the credential adapters should present for
// source. The persisted credential wins over the configured one. An expired
// credential is refreshed first when its kind supports it.
func (m *Manager) GetValidCredential(ctx context.Context, source models.SourceID) (models.Credential, error) {
	e, err := m.entry(source)
	if err != nil {
		return models.Credential{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cred, err := m.current(ctx, source, e)
	if err != nil {
		return models.Credential{}, err
	}
	if cred.Expired(m.now()) && cred.Kind != models.CredentialAPIKey {
		return m.refreshLocked(ctx, source, e, cred)
	}
	return cred, nil
}

// Refresh performs exactly one refresh attempt for source and persists the
// result.
func (m *Manager) Refresh(ctx context.Context, source models.SourceID) (models.Credential, error) {
	e, err := m.entry(source)
	if err != nil {
		return models.Credential{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cred, err := m.current(ctx, source, e)
	if err != nil {
		return models.Credential{}, err
	}
	return m.refreshLocked(ctx, source, e, cred)
}

// Forget drops the cached credential for source. The next request reloads it
// from the store.
func (m *Manager) Forget(source models.SourceID) {
	e, err := m.entry(source)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.cached = nil
	e.mu.Unlock()
}

func (m *Manager) entry(source models.SourceID) (*entry, error) {
	m.mu.RLock()
	e, ok := m.entries[source]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	return e, nil
}

// current returns the cached, persisted or bootstrapped credential. Callers
// hold e.mu.
func (m *Manager) current(ctx context.Context, source models.SourceID, e *entry) (models.Credential, error) {
	if e.cached != nil {
		return *e.cached, nil
	}

	cred, err := m.store.LoadCredential(ctx, source)
	switch {
	case err == nil:
	case errors.Is(err, state.ErrNotFound):
		cred = e.bootstrap
		if !usable(cred) {
			return models.Credential{}, fmt.Errorf("%w for %s", ErrNoCredential, source)
		}
	default:
		return models.Credential{}, fmt.Errorf("load credential for %s: %w", source, err)
	}

	e.cached = &cred
	return cred, nil
}

func (m *Manager) refreshLocked(ctx context.Context, source models.SourceID, e *entry, current models.Credential) (models.Credential, error) {
	fresh, err := e.refresher.Refresh(ctx, current)
	m.audit.LogRefresh(ctx, string(source), string(current.Kind), err)
	if err != nil {
		metrics.RecordCredentialRefresh(string(source), refreshResult(err))
		return models.Credential{}, fmt.Errorf("refresh %s credential: %w", source, err)
	}

	fresh.UpdatedAt = m.now().UTC()
	if fresh.Kind == "" {
		fresh.Kind = current.Kind
	}
	fresh.Origin = e.origin
	// Providers that do not rotate refresh tokens omit them from the response.
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = current.RefreshToken
	}

	e.cached = &fresh
	if err := m.store.SaveCredential(ctx, source, fresh); err != nil {
		// The refreshed credential stays usable for this process; a rotated
		// refresh token is lost on restart.
		logging.Ctx(ctx).Error().Err(err).Str("source", string(source)).Msg("Failed to persist refreshed credential")
	}
	metrics.RecordCredentialRefresh(string(source), "success")
	return fresh, nil
}

func refreshResult(err error) string {
	switch {
	case errors.Is(err, ErrRefreshRejected):
		return "rejected"
	case errors.Is(err, ErrRefreshUnsupported):
		return "unsupported"
	default:
		return "error"
	}
}

func usable(c models.Credential) bool {
	switch c.Kind {
	case models.CredentialNone:
		return true
	case models.CredentialOAuth2:
		return c.RefreshToken != "" || c.AccessToken != ""
	case models.CredentialSession:
		return c.Username != "" && c.Secret != ""
	case models.CredentialAPIKey:
		return c.Secret != ""
	}
	return false
}

// staticRefresher backs credentials that never change.
type staticRefresher struct{}

func (staticRefresher) Refresh(context.Context, models.Credential) (models.Credential, error) {
	return models.Credential{}, ErrRefreshUnsupported
}
