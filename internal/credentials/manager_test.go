// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/healthbridge/internal/config"
	"github.com/tomtom215/healthbridge/internal/models"
	"github.com/tomtom215/healthbridge/internal/state"
)

func newStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Open(&config.StateConfig{Path: ":memory:", EncryptionKey: "test-key"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type countingRefresher struct {
	calls atomic.Int32
	err   error
	next  models.Credential
}

func (r *countingRefresher) Refresh(_ context.Context, _ models.Credential) (models.Credential, error) {
	r.calls.Add(1)
	if r.err != nil {
		return models.Credential{}, r.err
	}
	return r.next, nil
}

func TestManager_BootstrapThenPersisted(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	m := NewManager(store)

	bootstrap := models.Credential{Kind: models.CredentialOAuth2, RefreshToken: "configured"}
	ref := &countingRefresher{next: models.Credential{AccessToken: "access-2", RefreshToken: "rotated"}}
	require.NoError(t, m.Register(ctx, models.SourceFitbit, bootstrap, ref))

	got, err := m.GetValidCredential(ctx, models.SourceFitbit)
	require.NoError(t, err)
	assert.Equal(t, "configured", got.RefreshToken)

	fresh, err := m.Refresh(ctx, models.SourceFitbit)
	require.NoError(t, err)
	assert.Equal(t, "rotated", fresh.RefreshToken)
	assert.Equal(t, models.CredentialOAuth2, fresh.Kind)
	assert.False(t, fresh.UpdatedAt.IsZero())

	persisted, err := store.LoadCredential(ctx, models.SourceFitbit)
	require.NoError(t, err)
	assert.Equal(t, "rotated", persisted.RefreshToken)

	// A fresh manager over the same store prefers the persisted credential.
	restarted := NewManager(store)
	require.NoError(t, restarted.Register(ctx, models.SourceFitbit, bootstrap, ref))
	got, err = restarted.GetValidCredential(ctx, models.SourceFitbit)
	require.NoError(t, err)
	assert.Equal(t, "access-2", got.AccessToken)
}

func TestManager_RefreshKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newStore(t))
	ref := &countingRefresher{next: models.Credential{AccessToken: "a"}}
	require.NoError(t, m.Register(ctx, models.SourceFitbit,
		models.Credential{Kind: models.CredentialOAuth2, RefreshToken: "keep-me"}, ref))

	fresh, err := m.Refresh(ctx, models.SourceFitbit)
	require.NoError(t, err)
	assert.Equal(t, "keep-me", fresh.RefreshToken)
}

func TestManager_Errors(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newStore(t))

	_, err := m.GetValidCredential(ctx, models.SourceGarmin)
	assert.ErrorIs(t, err, ErrUnknownSource)

	require.NoError(t, m.Register(ctx, models.SourceFitbit, models.Credential{Kind: models.CredentialOAuth2}, nil))
	_, err = m.GetValidCredential(ctx, models.SourceFitbit)
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.True(t, IsAuthFailure(err))

	require.NoError(t, m.Register(ctx, models.SourceIntervals,
		models.Credential{Kind: models.CredentialAPIKey, Username: "API_KEY", Secret: "k"}, APIKeyRefresher{}))
	_, err = m.Refresh(ctx, models.SourceIntervals)
	assert.ErrorIs(t, err, ErrRefreshUnsupported)
	assert.True(t, IsAuthFailure(err))

	ref := &countingRefresher{err: fmt.Errorf("%w: invalid_grant", ErrRefreshRejected)}
	require.NoError(t, m.Register(ctx, models.SourceGarmin,
		models.Credential{Kind: models.CredentialSession, Username: "u", Secret: "p"}, ref))
	_, err = m.Refresh(ctx, models.SourceGarmin)
	assert.ErrorIs(t, err, ErrRefreshRejected)

	transient := errors.New("connection reset")
	ref.err = transient
	_, err = m.Refresh(ctx, models.SourceGarmin)
	assert.ErrorIs(t, err, transient)
	assert.False(t, IsAuthFailure(err))
}

func TestManager_ExpiredCredentialRefreshedOnGet(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	m := NewManager(store)
	m.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	bootstrap := models.Credential{Kind: models.CredentialOAuth2, RefreshToken: "r"}
	require.NoError(t, store.SaveCredential(ctx, models.SourceFitbit, models.Credential{
		Kind: models.CredentialOAuth2, AccessToken: "old", RefreshToken: "r",
		Expiry: time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
		Origin: bootstrap.Fingerprint(),
	}))
	ref := &countingRefresher{next: models.Credential{AccessToken: "new", Expiry: time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)}}
	require.NoError(t, m.Register(ctx, models.SourceFitbit, bootstrap, ref))

	got, err := m.GetValidCredential(ctx, models.SourceFitbit)
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)
	assert.EqualValues(t, 1, ref.calls.Load())

	_, err = m.GetValidCredential(ctx, models.SourceFitbit)
	require.NoError(t, err)
	assert.EqualValues(t, 1, ref.calls.Load(), "a valid cached credential must not refresh again")
}

func TestManager_RegisterWithChangedSecretsDiscardsPersisted(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	old := models.Credential{Kind: models.CredentialOAuth2, RefreshToken: "old"}

	first := NewManager(store)
	require.NoError(t, first.Register(ctx, models.SourceFitbit, old,
		&countingRefresher{next: models.Credential{AccessToken: "a", RefreshToken: "rotated"}}))
	_, err := first.Refresh(ctx, models.SourceFitbit)
	require.NoError(t, err)

	persisted, err := store.LoadCredential(ctx, models.SourceFitbit)
	require.NoError(t, err)
	assert.Equal(t, old.Fingerprint(), persisted.Origin)

	t.Run("restart with the same secrets keeps the rotated credential", func(t *testing.T) {
		m := NewManager(store)
		require.NoError(t, m.Register(ctx, models.SourceFitbit, old, &countingRefresher{}))
		got, err := m.GetValidCredential(ctx, models.SourceFitbit)
		require.NoError(t, err)
		assert.Equal(t, "rotated", got.RefreshToken)
	})

	t.Run("restart with new secrets bootstraps them", func(t *testing.T) {
		m := NewManager(store)
		fixed := models.Credential{Kind: models.CredentialOAuth2, RefreshToken: "new-fixed"}
		require.NoError(t, m.Register(ctx, models.SourceFitbit, fixed, &countingRefresher{}))

		_, err := store.LoadCredential(ctx, models.SourceFitbit)
		assert.ErrorIs(t, err, state.ErrNotFound)

		got, err := m.GetValidCredential(ctx, models.SourceFitbit)
		require.NoError(t, err)
		assert.Equal(t, "new-fixed", got.RefreshToken)
	})
}

func TestManager_RefreshSerializedPerSource(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newStore(t))

	var inFlight, maxInFlight atomic.Int32
	slow := refresherFunc(func(context.Context, models.Credential) (models.Credential, error) {
		n := inFlight.Add(1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return models.Credential{AccessToken: "a"}, nil
	})
	require.NoError(t, m.Register(ctx, models.SourceFitbit, models.Credential{Kind: models.CredentialOAuth2, RefreshToken: "r"}, slow))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Refresh(ctx, models.SourceFitbit)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, maxInFlight.Load())
}

type refresherFunc func(context.Context, models.Credential) (models.Credential, error)

func (f refresherFunc) Refresh(ctx context.Context, c models.Credential) (models.Credential, error) {
	return f(ctx, c)
}

func TestOAuth2Refresher(t *testing.T) {
	var gotAuthUser, gotGrant, gotRefresh string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, _ := r.BasicAuth()
		gotAuthUser = user
		_ = r.ParseForm()
		gotGrant = r.PostForm.Get("grant_type")
		gotRefresh = r.PostForm.Get("refresh_token")

		w.Header().Set("Content-Type", "application/json")
		if gotRefresh == "revoked" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errors":[{"errorType":"invalid_grant"}],"error":"invalid_grant"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","token_type":"Bearer","expires_in":28800}`))
	}))
	defer srv.Close()

	r := NewOAuth2Refresher("client-id", "client-secret", srv.URL).WithHTTPClient(srv.Client())

	cred, err := r.Refresh(context.Background(), models.Credential{Kind: models.CredentialOAuth2, RefreshToken: "current"})
	require.NoError(t, err)
	assert.Equal(t, "client-id", gotAuthUser)
	assert.Equal(t, "refresh_token", gotGrant)
	assert.Equal(t, "current", gotRefresh)
	assert.Equal(t, "new-access", cred.AccessToken)
	assert.Equal(t, "new-refresh", cred.RefreshToken)
	assert.True(t, cred.Expiry.After(time.Now()))

	_, err = r.Refresh(context.Background(), models.Credential{Kind: models.CredentialOAuth2, RefreshToken: "revoked"})
	assert.ErrorIs(t, err, ErrRefreshRejected)

	_, err = r.Refresh(context.Background(), models.Credential{Kind: models.CredentialOAuth2})
	assert.ErrorIs(t, err, ErrRefreshRejected)
}

func TestSessionRefresher(t *testing.T) {
	r := NewSessionRefresher(func(_ context.Context, username, password string) (models.Credential, error) {
		if password != "right" {
			return models.Credential{}, fmt.Errorf("%w: bad password", ErrRefreshRejected)
		}
		return models.Credential{AccessToken: "session-" + username}, nil
	})

	cred, err := r.Refresh(context.Background(), models.Credential{Username: "ann", Secret: "right"})
	require.NoError(t, err)
	assert.Equal(t, "session-ann", cred.AccessToken)
	assert.Equal(t, models.CredentialSession, cred.Kind)
	assert.Equal(t, "right", cred.Secret)

	_, err = r.Refresh(context.Background(), models.Credential{Username: "ann", Secret: "wrong"})
	assert.ErrorIs(t, err, ErrRefreshRejected)
}
