// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/healthbridge/internal/config"
	"github.com/tomtom215/healthbridge/internal/credentials"
	"github.com/tomtom215/healthbridge/internal/database"
	"github.com/tomtom215/healthbridge/internal/merge"
	"github.com/tomtom215/healthbridge/internal/models"
	"github.com/tomtom215/healthbridge/internal/state"
	"github.com/tomtom215/healthbridge/internal/sync"
)

var _ suture.Service = (*SyncService)(nil)

// stepSource reports a fixed step count for every date in the window.
type stepSource struct {
	fetches atomic.Int32
	lastDay atomic.Value // models.Date
}

func (s *stepSource) ID() models.SourceID     { return models.SourceGarmin }
func (s *stepSource) Kind() models.SourceKind { return models.KindWearable }

func (s *stepSource) Fetch(_ context.Context, _ models.Credential, window models.DateRange) (*models.Fragment, error) {
	s.fetches.Add(1)
	s.lastDay.Store(window.To)
	frag := models.NewFragment(models.SourceGarmin, time.Now().UTC())
	frag.Set(window.To, models.FieldSteps, models.Number(4200))
	return frag, nil
}

// newTestScheduler builds a real sync manager with one registered source
// over in-memory stores.
func newTestScheduler(t *testing.T) (*sync.Manager, *stepSource, *database.MemoryStore) {
	t.Helper()
	st, err := state.Open(&config.StateConfig{Path: ":memory:", EncryptionKey: "test-key"})
	if err != nil {
		t.Fatalf("state.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	records := database.NewMemoryStore()
	merger := merge.NewMerger(records, nil, merge.Options{})
	mgr := sync.NewManager(merger, credentials.NewManager(st), st, sync.Options{})
	t.Cleanup(func() { _ = mgr.Close() })

	src := &stepSource{}
	err = mgr.Register(context.Background(), sync.Registration{
		Source: src,
		Window: func(today models.Date) models.DateRange {
			return models.DateRange{From: today, To: today}
		},
		Bootstrap: models.Credential{Kind: models.CredentialNone},
		Schedule:  config.Schedule{Enabled: true, Interval: time.Hour, FetchTimeout: time.Second},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return mgr, src, records
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSyncService_RunsScheduledCycles(t *testing.T) {
	mgr, src, records := newTestScheduler(t)
	svc := NewSyncService(mgr)
	if svc.String() != "sync-manager" {
		t.Errorf("expected 'sync-manager', got %q", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	waitFor(t, "the initial cycle", func() bool {
		st, err := mgr.SourceStatus(models.SourceGarmin)
		return err == nil && !st.LastSuccess.IsZero()
	})
	if !mgr.IsRunning() {
		t.Error("manager should be running while the service serves")
	}

	day, _ := src.lastDay.Load().(models.Date)
	row, err := records.ReadRow(context.Background(), day)
	if err != nil {
		t.Fatalf("ReadRow() error = %v", err)
	}
	if row == nil {
		t.Fatalf("no record written for %s", day)
	}
	if steps, ok := row.Get(models.FieldSteps); !ok || steps.Num != 4200 {
		t.Errorf("expected 4200 steps for %s, got %v (present %v)", day, steps, ok)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop in time")
	}
	if mgr.IsRunning() {
		t.Error("manager should be stopped after the service returns")
	}
	if src.fetches.Load() != 1 {
		t.Errorf("expected 1 fetch, got %d", src.fetches.Load())
	}
}

func TestSyncService_ServesAgainAfterStop(t *testing.T) {
	mgr, src, _ := newTestScheduler(t)
	svc := NewSyncService(mgr)

	for round := int32(1); round <= 2; round++ {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()

		waitFor(t, "a cycle", func() bool { return src.fetches.Load() >= round })
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Fatalf("round %d: expected context.Canceled, got %v", round, err)
		}
	}
}

func TestSyncService_StartErrorIsReturned(t *testing.T) {
	mgr, src, _ := newTestScheduler(t)
	if err := mgr.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	err := NewSyncService(mgr).Serve(context.Background())
	if !errors.Is(err, sync.ErrManagerClosed) {
		t.Fatalf("expected ErrManagerClosed, got %v", err)
	}
	if src.fetches.Load() != 0 {
		t.Errorf("a closed manager must not fetch, got %d", src.fetches.Load())
	}
}

func TestSyncService_SupervisorRetriesStart(t *testing.T) {
	mgr, src, _ := newTestScheduler(t)

	// Someone else holds the scheduler, so the service's Start fails until
	// it is released.
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "the first cycle", func() bool { return src.fetches.Load() == 1 })

	sup := suture.New("sync-test", suture.Spec{
		FailureThreshold: 100,
		FailureBackoff:   10 * time.Millisecond,
		Timeout:          time.Second,
	})
	sup.Add(NewSyncService(mgr))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := sup.ServeBackground(ctx)

	time.Sleep(50 * time.Millisecond)
	if err := mgr.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	waitFor(t, "the supervised restart", func() bool { return src.fetches.Load() >= 2 })
	if !mgr.IsRunning() {
		t.Error("manager should be running under the supervisor")
	}

	cancel()
	<-errCh
	if mgr.IsRunning() {
		t.Error("manager should stop with the supervisor")
	}
}
