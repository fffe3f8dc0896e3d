// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package state

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/healthbridge/internal/config"
	"github.com/tomtom215/healthbridge/internal/models"
)

func newTestStore(t *testing.T, key string) *Store {
	t.Helper()
	s, err := Open(&config.StateConfig{Path: ":memory:", EncryptionKey: key})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_CredentialRoundTrip(t *testing.T) {
	s := newTestStore(t, "test-encryption-key")
	ctx := context.Background()

	if _, err := s.LoadCredential(ctx, models.SourceFitbit); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadCredential() on empty store error = %v, want ErrNotFound", err)
	}

	want := models.Credential{
		Kind:         models.CredentialOAuth2,
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		Expiry:       time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	if err := s.SaveCredential(ctx, models.SourceFitbit, want); err != nil {
		t.Fatalf("SaveCredential() error = %v", err)
	}

	got, err := s.LoadCredential(ctx, models.SourceFitbit)
	if err != nil {
		t.Fatalf("LoadCredential() error = %v", err)
	}
	if got.RefreshToken != want.RefreshToken || got.AccessToken != want.AccessToken || !got.Expiry.Equal(want.Expiry) {
		t.Errorf("LoadCredential() = %+v, want %+v", got, want)
	}

	if err := s.DeleteCredential(ctx, models.SourceFitbit); err != nil {
		t.Fatalf("DeleteCredential() error = %v", err)
	}
	if _, err := s.LoadCredential(ctx, models.SourceFitbit); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadCredential() after delete error = %v, want ErrNotFound", err)
	}
}

func TestStore_CredentialEncryptedAtRest(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("badger.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	enc, err := config.NewCredentialEncryptor("test-encryption-key")
	if err != nil {
		t.Fatalf("NewCredentialEncryptor() error = %v", err)
	}
	s := NewFromDB(db, enc)
	ctx := context.Background()

	if err := s.SaveCredential(ctx, models.SourceGarmin, models.Credential{
		Kind: models.CredentialSession, Username: "runner@example.com", Secret: "hunter2",
	}); err != nil {
		t.Fatalf("SaveCredential() error = %v", err)
	}

	raw, err := s.get(credentialKeyPrefix + string(models.SourceGarmin))
	if err != nil {
		t.Fatalf("get() error = %v", err)
	}
	if strings.Contains(string(raw), "hunter2") || strings.Contains(string(raw), "runner@example.com") {
		t.Error("credential stored in plaintext")
	}

	other, err := config.NewCredentialEncryptor("a-different-key")
	if err != nil {
		t.Fatalf("NewCredentialEncryptor() error = %v", err)
	}
	if _, err := NewFromDB(db, other).LoadCredential(ctx, models.SourceGarmin); !errors.Is(err, config.ErrDecryptionFailed) {
		t.Errorf("LoadCredential() with wrong key error = %v, want ErrDecryptionFailed", err)
	}
}

func TestStore_StateRoundTrip(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	st := models.NewSourceState(models.SourceFitbit)
	st.Status = models.StatusDisabled
	st.DisabledReason = "refresh token rejected"
	st.LastSuccess = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	st.ConsecutiveFailures = 4
	st.LastCumulative["2025-06-01"] = map[models.Field]float64{models.FieldHydration: 1250}

	if err := s.SaveState(ctx, st); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	got, err := s.LoadState(ctx, models.SourceFitbit)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if got.Status != models.StatusDisabled || got.DisabledReason != st.DisabledReason {
		t.Errorf("status = %q (%q)", got.Status, got.DisabledReason)
	}
	if got.LastCumulative["2025-06-01"][models.FieldHydration] != 1250 {
		t.Errorf("LastCumulative = %v", got.LastCumulative)
	}
	if got.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, failure counters are not persisted", got.ConsecutiveFailures)
	}

	if err := s.SaveState(ctx, &models.SourceState{}); err == nil {
		t.Error("SaveState() without a source should fail")
	}
}

func TestStore_RunGCInMemory(t *testing.T) {
	s := newTestStore(t, "")
	if _, err := s.RunGC(0.5); err != nil {
		t.Errorf("RunGC() error = %v", err)
	}
}
