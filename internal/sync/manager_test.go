// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/healthbridge/internal/config"
	"github.com/tomtom215/healthbridge/internal/credentials"
	"github.com/tomtom215/healthbridge/internal/database"
	"github.com/tomtom215/healthbridge/internal/merge"
	"github.com/tomtom215/healthbridge/internal/models"
	"github.com/tomtom215/healthbridge/internal/state"
)

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

const testDay models.Date = "2026-10-14"

// memState is an in-memory StateStore and credentials.Store.
type memState struct {
	mu     sync.Mutex
	states map[models.SourceID]*models.SourceState
	creds  map[models.SourceID]models.Credential
	saves  int
}

func newMemState() *memState {
	return &memState{
		states: make(map[models.SourceID]*models.SourceState),
		creds:  make(map[models.SourceID]models.Credential),
	}
}

func (s *memState) LoadState(_ context.Context, source models.SourceID) (*models.SourceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[source]
	if !ok {
		return nil, state.ErrNotFound
	}
	return st.Clone(), nil
}

func (s *memState) SaveState(_ context.Context, st *models.SourceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.Source] = st.Clone()
	s.saves++
	return nil
}

func (s *memState) LoadCredential(_ context.Context, source models.SourceID) (models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[source]
	if !ok {
		return models.Credential{}, state.ErrNotFound
	}
	return c, nil
}

func (s *memState) SaveCredential(_ context.Context, source models.SourceID, cred models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[source] = cred
	return nil
}

func (s *memState) DeleteCredential(_ context.Context, source models.SourceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, source)
	return nil
}

func (s *memState) state(source models.SourceID) *models.SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[source].Clone()
}

// fakeSource serves scripted fragments.
type fakeSource struct {
	id   models.SourceID
	kind models.SourceKind

	mu    sync.Mutex
	fetch func(ctx context.Context, cred models.Credential) (*models.Fragment, error)
	calls int
}

func (f *fakeSource) ID() models.SourceID     { return f.id }
func (f *fakeSource) Kind() models.SourceKind { return f.kind }

func (f *fakeSource) Fetch(ctx context.Context, cred models.Credential, _ models.DateRange) (*models.Fragment, error) {
	f.mu.Lock()
	f.calls++
	fn := f.fetch
	f.mu.Unlock()
	return fn(ctx, cred)
}

func (f *fakeSource) setFetch(fn func(ctx context.Context, cred models.Credential) (*models.Fragment, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetch = fn
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// reports returns a fetch func yielding one fragment for testDay.
func reports(id models.SourceID, values map[models.Field]models.Value) func(context.Context, models.Credential) (*models.Fragment, error) {
	return func(context.Context, models.Credential) (*models.Fragment, error) {
		frag := models.NewFragment(id, testNow)
		for f, v := range values {
			frag.Set(testDay, f, v)
		}
		return frag, nil
	}
}

type refresherFunc func(ctx context.Context, current models.Credential) (models.Credential, error)

func (f refresherFunc) Refresh(ctx context.Context, current models.Credential) (models.Credential, error) {
	return f(ctx, current)
}

// failingSink fails writes while fail is set.
type failingSink struct {
	*database.MemoryStore
	mu   sync.Mutex
	fail bool
}

func (s *failingSink) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = v
}

func (s *failingSink) WriteRows(ctx context.Context, recs []*models.CanonicalDailyRecord) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return errors.New("sink unavailable")
	}
	return s.MemoryStore.WriteRows(ctx, recs)
}

type testEnv struct {
	manager *Manager
	sink    *failingSink
	store   *memState
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	sink := &failingSink{MemoryStore: database.NewMemoryStore()}
	store := newMemState()
	merger := merge.NewMerger(sink, nil, merge.Options{WriteAttempts: 1, Now: func() time.Time { return testNow }})
	m := NewManager(merger, credentials.NewManager(store), store, Options{Now: func() time.Time { return testNow }})
	return &testEnv{manager: m, sink: sink, store: store}
}

func (e *testEnv) register(t *testing.T, src Source, bootstrap models.Credential, refresher credentials.Refresher) {
	t.Helper()
	if bootstrap.Kind == "" {
		bootstrap.Kind = models.CredentialNone
	}
	err := e.manager.Register(context.Background(), Registration{
		Source:    src,
		Window:    lookback(1),
		Bootstrap: bootstrap,
		Refresher: refresher,
		Schedule:  config.Schedule{Enabled: true, Interval: time.Hour, FetchTimeout: 5 * time.Second},
	})
	if err != nil {
		t.Fatalf("Register(%s) error = %v", src.ID(), err)
	}
}

func (e *testEnv) run(t *testing.T, id models.SourceID) models.CycleResult {
	t.Helper()
	res, err := e.manager.RunCycle(context.Background(), id)
	if err != nil {
		t.Fatalf("RunCycle(%s) error = %v", id, err)
	}
	return res
}

func (e *testEnv) row(t *testing.T) *models.CanonicalDailyRecord {
	t.Helper()
	row, err := e.sink.ReadRow(context.Background(), testDay)
	if err != nil {
		t.Fatalf("ReadRow() error = %v", err)
	}
	if row == nil {
		t.Fatal("expected a row for the test day")
	}
	return row
}

func checkRowNumber(t *testing.T, row *models.CanonicalDailyRecord, field models.Field, want float64) {
	t.Helper()
	v, ok := row.Get(field)
	if !ok {
		t.Errorf("%s missing from row", field)
		return
	}
	checkFloatEqual(t, string(field), v.Num, want)
}

func checkCycleStatus(t *testing.T, res models.CycleResult, want models.CycleStatus) {
	t.Helper()
	if res.Status != want {
		t.Fatalf("cycle status = %s (%s %s), want %s", res.Status, res.ErrorKind, res.Error, want)
	}
}

func TestManager_FirstSync(t *testing.T) {
	env := newTestEnv(t)
	garmin := &fakeSource{id: models.SourceGarmin, kind: models.KindWearable}
	garmin.setFetch(reports(models.SourceGarmin, map[models.Field]models.Value{
		models.FieldSteps:     models.Number(8000),
		models.FieldRestingHR: models.Number(52),
	}))
	env.register(t, garmin, models.Credential{}, nil)

	res := env.run(t, models.SourceGarmin)
	checkCycleStatus(t, res, models.CycleSuccess)
	checkIntEqual(t, "Attempts", res.Attempts, 1)
	checkIntEqual(t, "Dates", res.Dates, 1)
	if res.CycleID == "" {
		t.Error("expected a cycle id")
	}

	row := env.row(t)
	checkRowNumber(t, row, models.FieldSteps, 8000)
	checkRowNumber(t, row, models.FieldRestingHR, 52)

	st := env.store.state(models.SourceGarmin)
	if st == nil {
		t.Fatal("state not persisted")
	}
	checkStringEqual(t, "Status", string(st.Status), string(models.StatusSleeping))
	checkFloatEqual(t, "baseline steps", st.LastCumulative[testDay][models.FieldSteps], 8000)
	if !st.LastSuccess.Equal(testNow) {
		t.Errorf("LastSuccess = %v, want %v", st.LastSuccess, testNow)
	}
}

func TestManager_CountersAcrossSources(t *testing.T) {
	env := newTestEnv(t)
	garmin := &fakeSource{id: models.SourceGarmin, kind: models.KindWearable}
	fitbit := &fakeSource{id: models.SourceFitbit, kind: models.KindWearable}
	env.register(t, garmin, models.Credential{}, nil)
	env.register(t, fitbit, models.Credential{}, nil)

	garmin.setFetch(reports(models.SourceGarmin, map[models.Field]models.Value{models.FieldSteps: models.Number(10000)}))
	checkCycleStatus(t, env.run(t, models.SourceGarmin), models.CycleSuccess)

	// Both devices counted the same walk; only the higher-ranked one counts.
	fitbit.setFetch(reports(models.SourceFitbit, map[models.Field]models.Value{
		models.FieldSteps:     models.Number(10000),
		models.FieldHydration: models.Number(250),
	}))
	checkCycleStatus(t, env.run(t, models.SourceFitbit), models.CycleSuccess)
	row := env.row(t)
	checkRowNumber(t, row, models.FieldSteps, 10000)
	checkRowNumber(t, row, models.FieldHydration, 250)

	// Garmin's running total grew by 2000 since its last report.
	garmin.setFetch(reports(models.SourceGarmin, map[models.Field]models.Value{models.FieldSteps: models.Number(12000)}))
	checkCycleStatus(t, env.run(t, models.SourceGarmin), models.CycleSuccess)
	checkRowNumber(t, env.row(t), models.FieldSteps, 12000)

	// Reporting the same totals again adds nothing.
	checkCycleStatus(t, env.run(t, models.SourceGarmin), models.CycleSuccess)
	checkCycleStatus(t, env.run(t, models.SourceFitbit), models.CycleSuccess)
	row = env.row(t)
	checkRowNumber(t, row, models.FieldSteps, 12000)
	checkRowNumber(t, row, models.FieldHydration, 250)
}

func TestManager_AuthRecovery(t *testing.T) {
	env := newTestEnv(t)
	fitbit := &fakeSource{id: models.SourceFitbit, kind: models.KindWearable}
	fitbit.setFetch(func(_ context.Context, cred models.Credential) (*models.Fragment, error) {
		if cred.AccessToken != "fresh" {
			return nil, newProviderError(models.SourceFitbit, KindAuthExpired, 401, errors.New("expired_token"))
		}
		return reports(models.SourceFitbit, map[models.Field]models.Value{models.FieldRestingHR: models.Number(55)})(context.Background(), cred)
	})

	refreshes := 0
	env.register(t, fitbit,
		models.Credential{Kind: models.CredentialOAuth2, AccessToken: "stale", RefreshToken: "r1"},
		refresherFunc(func(_ context.Context, current models.Credential) (models.Credential, error) {
			refreshes++
			if current.RefreshToken != "r1" {
				t.Errorf("refresh token = %q", current.RefreshToken)
			}
			return models.Credential{Kind: models.CredentialOAuth2, AccessToken: "fresh", RefreshToken: "r2"}, nil
		}))

	res := env.run(t, models.SourceFitbit)
	checkCycleStatus(t, res, models.CycleSuccess)
	checkIntEqual(t, "Attempts", res.Attempts, 2)
	checkIntEqual(t, "refreshes", refreshes, 1)
	if !res.Refreshed {
		t.Error("expected Refreshed")
	}
	checkRowNumber(t, env.row(t), models.FieldRestingHR, 55)

	saved, err := env.store.LoadCredential(context.Background(), models.SourceFitbit)
	if err != nil {
		t.Fatalf("refreshed credential not persisted: %v", err)
	}
	checkStringEqual(t, "rotated refresh token", saved.RefreshToken, "r2")

	// The next cycle reuses the refreshed credential.
	res = env.run(t, models.SourceFitbit)
	checkCycleStatus(t, res, models.CycleSuccess)
	checkIntEqual(t, "Attempts", res.Attempts, 1)
	checkIntEqual(t, "refreshes", refreshes, 1)
}

func TestManager_AuthExpiredAfterRefreshFails(t *testing.T) {
	env := newTestEnv(t)
	src := &fakeSource{id: models.SourceFitbit, kind: models.KindWearable}
	src.setFetch(func(context.Context, models.Credential) (*models.Fragment, error) {
		return nil, newProviderError(models.SourceFitbit, KindAuthExpired, 403, errors.New("forbidden"))
	})
	env.register(t, src,
		models.Credential{Kind: models.CredentialOAuth2, RefreshToken: "r1"},
		refresherFunc(func(context.Context, models.Credential) (models.Credential, error) {
			return models.Credential{AccessToken: "new"}, nil
		}))

	res := env.run(t, models.SourceFitbit)
	checkCycleStatus(t, res, models.CycleFailed)
	checkStringEqual(t, "ErrorKind", res.ErrorKind, "auth_expired")
	checkIntEqual(t, "fetch calls", src.callCount(), 2)

	st, _ := env.manager.SourceStatus(models.SourceFitbit)
	checkStringEqual(t, "Status", string(st.Status), string(models.StatusSleeping))
	checkIntEqual(t, "ConsecutiveFailures", st.ConsecutiveFailures, 1)
}

func TestManager_IsolatedFailure(t *testing.T) {
	env := newTestEnv(t)
	garmin := &fakeSource{id: models.SourceGarmin, kind: models.KindWearable}
	garmin.setFetch(func(context.Context, models.Credential) (*models.Fragment, error) {
		return nil, newProviderError(models.SourceGarmin, KindTransient, 503, errors.New("maintenance"))
	})
	intervals := &fakeSource{id: models.SourceIntervals, kind: models.KindTraining}
	intervals.setFetch(reports(models.SourceIntervals, map[models.Field]models.Value{models.FieldFitness: models.Number(50)}))
	env.register(t, garmin, models.Credential{}, nil)
	env.register(t, intervals, models.Credential{}, nil)

	res := env.run(t, models.SourceGarmin)
	checkCycleStatus(t, res, models.CycleFailed)
	checkStringEqual(t, "ErrorKind", res.ErrorKind, "transient")

	checkCycleStatus(t, env.run(t, models.SourceIntervals), models.CycleSuccess)

	row := env.row(t)
	checkRowNumber(t, row, models.FieldFitness, 50)
	if _, ok := row.Get(models.FieldSteps); ok {
		t.Error("failed source must not write")
	}

	states := env.manager.Status()
	checkIntEqual(t, "sources", len(states), 2)
	for _, st := range states {
		switch st.Source {
		case models.SourceGarmin:
			checkStringEqual(t, "garmin status", string(st.Status), string(models.StatusSleeping))
			checkIntEqual(t, "garmin failures", st.ConsecutiveFailures, 1)
			if st.LastResult == nil || st.LastResult.Status != models.CycleFailed {
				t.Error("garmin LastResult should be failed")
			}
		case models.SourceIntervals:
			checkIntEqual(t, "intervals failures", st.ConsecutiveFailures, 0)
		}
	}
}

func TestManager_DisableOnRejectedRefresh(t *testing.T) {
	env := newTestEnv(t)
	fitbit := &fakeSource{id: models.SourceFitbit, kind: models.KindWearable}
	fitbit.setFetch(func(_ context.Context, cred models.Credential) (*models.Fragment, error) {
		if cred.AccessToken == "" {
			return nil, newProviderError(models.SourceFitbit, KindAuthExpired, 0, errors.New("no access token"))
		}
		return models.NewFragment(models.SourceFitbit, testNow), nil
	})
	rejecting := refresherFunc(func(context.Context, models.Credential) (models.Credential, error) {
		return models.Credential{}, credentials.ErrRefreshRejected
	})

	bootstrap := models.Credential{Kind: models.CredentialOAuth2, RefreshToken: "revoked"}
	env.register(t, fitbit, bootstrap, rejecting)

	res := env.run(t, models.SourceFitbit)
	checkCycleStatus(t, res, models.CycleFailed)
	checkStringEqual(t, "ErrorKind", res.ErrorKind, "disabled")

	st := env.store.state(models.SourceFitbit)
	checkStringEqual(t, "persisted status", string(st.Status), string(models.StatusDisabled))
	if st.DisabledReason == "" {
		t.Error("expected a disabled reason")
	}

	res = env.run(t, models.SourceFitbit)
	checkCycleStatus(t, res, models.CycleSkipped)
	checkStringEqual(t, "Reason", res.Reason, "disabled")
	checkIntEqual(t, "fetch calls while disabled", fitbit.callCount(), 1)

	// A configuration change re-enables the source with the new token.
	err := env.manager.Reconfigure(context.Background(), Registration{
		Source:    fitbit,
		Window:    lookback(1),
		Bootstrap: models.Credential{Kind: models.CredentialOAuth2, RefreshToken: "new-token"},
		Refresher: refresherFunc(func(context.Context, models.Credential) (models.Credential, error) {
			return models.Credential{AccessToken: "ok"}, nil
		}),
		Schedule: config.Schedule{Enabled: true, Interval: time.Hour},
	})
	if err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}

	res = env.run(t, models.SourceFitbit)
	checkCycleStatus(t, res, models.CycleSuccess)
	checkStringEqual(t, "persisted status", string(env.store.state(models.SourceFitbit).Status), string(models.StatusSleeping))
}

func TestManager_RestartWithNewCredentialReenables(t *testing.T) {
	env := newTestEnv(t)
	fitbit := &fakeSource{id: models.SourceFitbit, kind: models.KindWearable}
	fitbit.setFetch(func(_ context.Context, cred models.Credential) (*models.Fragment, error) {
		if cred.AccessToken == "" {
			return nil, newProviderError(models.SourceFitbit, KindAuthExpired, 401, errors.New("no access token"))
		}
		return reports(models.SourceFitbit, map[models.Field]models.Value{models.FieldRestingHR: models.Number(54)})(context.Background(), cred)
	})
	rejecting := refresherFunc(func(context.Context, models.Credential) (models.Credential, error) {
		return models.Credential{}, credentials.ErrRefreshRejected
	})
	revoked := models.Credential{Kind: models.CredentialOAuth2, RefreshToken: "revoked"}
	env.register(t, fitbit, revoked, rejecting)
	checkStringEqual(t, "ErrorKind", env.run(t, models.SourceFitbit).ErrorKind, "disabled")

	// restart builds a new process over the same persisted state.
	restart := func(bootstrap models.Credential, refresher credentials.Refresher) *testEnv {
		merger := merge.NewMerger(env.sink, nil, merge.Options{WriteAttempts: 1, Now: func() time.Time { return testNow }})
		next := &testEnv{
			manager: NewManager(merger, credentials.NewManager(env.store), env.store, Options{Now: func() time.Time { return testNow }}),
			sink:    env.sink,
			store:   env.store,
		}
		next.register(t, fitbit, bootstrap, refresher)
		return next
	}

	t.Run("same settings stay disabled", func(t *testing.T) {
		res := restart(revoked, rejecting).run(t, models.SourceFitbit)
		checkCycleStatus(t, res, models.CycleSkipped)
		checkStringEqual(t, "Reason", res.Reason, "disabled")
		checkIntEqual(t, "fetch calls", fitbit.callCount(), 1)
	})

	t.Run("new refresh token re-enables", func(t *testing.T) {
		fixed := models.Credential{Kind: models.CredentialOAuth2, RefreshToken: "new-fixed"}
		next := restart(fixed, refresherFunc(func(_ context.Context, current models.Credential) (models.Credential, error) {
			if current.RefreshToken != "new-fixed" {
				t.Errorf("refreshed with %q, want the configured token", current.RefreshToken)
			}
			return models.Credential{AccessToken: "ok"}, nil
		}))

		res := next.run(t, models.SourceFitbit)
		checkCycleStatus(t, res, models.CycleSuccess)
		checkRowNumber(t, next.row(t), models.FieldRestingHR, 54)
		checkStringEqual(t, "persisted status", string(env.store.state(models.SourceFitbit).Status), string(models.StatusSleeping))
	})
}

func TestManager_MissingCredentialDisables(t *testing.T) {
	env := newTestEnv(t)
	fitbit := &fakeSource{id: models.SourceFitbit, kind: models.KindWearable}
	fitbit.setFetch(reports(models.SourceFitbit, nil))
	env.register(t, fitbit, models.Credential{Kind: models.CredentialOAuth2}, nil)

	res := env.run(t, models.SourceFitbit)
	checkCycleStatus(t, res, models.CycleFailed)
	checkStringEqual(t, "ErrorKind", res.ErrorKind, "disabled")
	checkIntEqual(t, "fetch calls", fitbit.callCount(), 0)
}

func TestManager_OverlapSkipped(t *testing.T) {
	env := newTestEnv(t)
	started := make(chan struct{})
	release := make(chan struct{})
	garmin := &fakeSource{id: models.SourceGarmin, kind: models.KindWearable}
	garmin.setFetch(func(context.Context, models.Credential) (*models.Fragment, error) {
		close(started)
		<-release
		return models.NewFragment(models.SourceGarmin, testNow), nil
	})
	env.register(t, garmin, models.Credential{}, nil)

	done := make(chan models.CycleResult, 1)
	go func() {
		res, _ := env.manager.RunCycle(context.Background(), models.SourceGarmin)
		done <- res
	}()
	<-started

	res := env.run(t, models.SourceGarmin)
	checkCycleStatus(t, res, models.CycleSkipped)
	checkStringEqual(t, "Reason", res.Reason, "cycle already running")

	close(release)
	checkCycleStatus(t, <-done, models.CycleSuccess)
	checkIntEqual(t, "fetch calls", garmin.callCount(), 1)
}

func TestManager_DataShapeIssuesDoNotFailCycle(t *testing.T) {
	env := newTestEnv(t)
	cron := &fakeSource{id: models.SourceCronometer, kind: models.KindNutrition}
	cron.setFetch(func(context.Context, models.Credential) (*models.Fragment, error) {
		frag := models.NewFragment(models.SourceCronometer, testNow)
		frag.Set(testDay, models.FieldCaloriesIn, models.Number(2100))
		frag.Skip("2026-10-13", "", "line 3: \"abc\" is not a number")
		return frag, nil
	})
	env.register(t, cron, models.Credential{}, nil)

	res := env.run(t, models.SourceCronometer)
	checkCycleStatus(t, res, models.CycleSuccess)
	checkIntEqual(t, "Skipped", res.Skipped, 1)
	checkRowNumber(t, env.row(t), models.FieldCaloriesIn, 2100)
}

func TestManager_UnreadableResponseIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	src := &fakeSource{id: models.SourceIntervals, kind: models.KindTraining}
	src.setFetch(func(context.Context, models.Credential) (*models.Fragment, error) {
		return nil, newProviderError(models.SourceIntervals, KindDataShape, 200, errors.New("decode: unexpected token"))
	})
	env.register(t, src, models.Credential{}, nil)

	res := env.run(t, models.SourceIntervals)
	checkCycleStatus(t, res, models.CycleSuccess)
	checkIntEqual(t, "Skipped", res.Skipped, 1)

	st, _ := env.manager.SourceStatus(models.SourceIntervals)
	checkIntEqual(t, "ConsecutiveFailures", st.ConsecutiveFailures, 0)
}

func TestManager_UnknownSource(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.manager.RunCycle(context.Background(), models.SourceGarmin)
	if !errors.Is(err, ErrUnknownSource) {
		t.Errorf("expected ErrUnknownSource, got %v", err)
	}
}

func TestManager_RestoresPersistedBaseline(t *testing.T) {
	env := newTestEnv(t)
	prior := models.NewSourceState(models.SourceGarmin)
	prior.Status = models.StatusRunning
	prior.LastCumulative[testDay] = map[models.Field]float64{models.FieldSteps: 100}
	_ = env.store.SaveState(context.Background(), prior)

	garmin := &fakeSource{id: models.SourceGarmin, kind: models.KindWearable}
	garmin.setFetch(reports(models.SourceGarmin, map[models.Field]models.Value{models.FieldSteps: models.Number(120)}))
	env.register(t, garmin, models.Credential{}, nil)

	st, err := env.manager.SourceStatus(models.SourceGarmin)
	if err != nil {
		t.Fatalf("SourceStatus() error = %v", err)
	}
	checkStringEqual(t, "restored status", string(st.Status), string(models.StatusIdle))

	checkCycleStatus(t, env.run(t, models.SourceGarmin), models.CycleSuccess)
	checkRowNumber(t, env.row(t), models.FieldSteps, 20)
}

func TestManager_ScaleReadingsAckedAfterMerge(t *testing.T) {
	env := newTestEnv(t)
	scale := NewScaleSource(&config.AriaConfig{QueueSize: 10})
	scale.now = func() time.Time { return testNow }
	env.register(t, scale, models.Credential{}, nil)

	if _, err := scale.Ingest(scalePacket(1, 80000), ""); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	env.sink.setFail(true)
	res := env.run(t, models.SourceAria)
	checkCycleStatus(t, res, models.CycleFailed)
	checkIntEqual(t, "Pending after failed merge", scale.Pending(), 1)

	env.sink.setFail(false)
	res = env.run(t, models.SourceAria)
	checkCycleStatus(t, res, models.CycleSuccess)
	checkIntEqual(t, "Pending after merge", scale.Pending(), 0)
	checkRowNumber(t, env.row(t), models.FieldWeight, 80)
}

func TestManager_StartRunsInitialCycle(t *testing.T) {
	env := newTestEnv(t)
	garmin := &fakeSource{id: models.SourceGarmin, kind: models.KindWearable}
	garmin.setFetch(reports(models.SourceGarmin, map[models.Field]models.Value{models.FieldRestingHR: models.Number(50)}))
	env.register(t, garmin, models.Credential{}, nil)

	completed := make(chan models.CycleResult, 4)
	env.manager.SetOnCycleCompleted(func(res models.CycleResult) { completed <- res })

	if err := env.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.manager.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}

	select {
	case res := <-completed:
		checkCycleStatus(t, res, models.CycleSuccess)
	case <-time.After(5 * time.Second):
		t.Fatal("initial cycle did not run")
	}

	if err := env.manager.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if env.manager.IsRunning() {
		t.Error("manager should not be running after Stop")
	}

	if err := env.manager.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := env.manager.RunCycle(context.Background(), models.SourceGarmin); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("expected ErrManagerClosed, got %v", err)
	}
}

func TestManager_TriggerAsync(t *testing.T) {
	env := newTestEnv(t)
	garmin := &fakeSource{id: models.SourceGarmin, kind: models.KindWearable}
	garmin.setFetch(reports(models.SourceGarmin, map[models.Field]models.Value{models.FieldRestingHR: models.Number(50)}))
	env.register(t, garmin, models.Credential{}, nil)

	completed := make(chan models.CycleResult, 1)
	env.manager.SetOnCycleCompleted(func(res models.CycleResult) {
		select {
		case completed <- res:
		default:
		}
	})

	if err := env.manager.TriggerAsync(models.SourceGarmin); !errors.Is(err, ErrNotRunning) {
		t.Errorf("trigger before Start: expected ErrNotRunning, got %v", err)
	}
	if err := env.manager.TriggerAsync(models.SourceFitbit); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("expected ErrUnknownSource, got %v", err)
	}

	if err := env.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case res := <-completed:
		checkCycleStatus(t, res, models.CycleSuccess)
	case <-time.After(5 * time.Second):
		t.Fatal("initial cycle did not run")
	}

	// A trigger racing the tail of the initial cycle is skipped, so retry
	// until one fetches.
	before := garmin.callCount()
	deadline := time.Now().Add(5 * time.Second)
	for garmin.callCount() == before {
		if time.Now().After(deadline) {
			t.Fatal("triggered cycle did not run")
		}
		if err := env.manager.TriggerAsync(models.SourceGarmin); err != nil {
			t.Fatalf("TriggerAsync() error = %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := env.manager.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	calls := garmin.callCount()
	if err := env.manager.TriggerAsync(models.SourceGarmin); !errors.Is(err, ErrNotRunning) {
		t.Errorf("trigger after Stop: expected ErrNotRunning, got %v", err)
	}
	checkIntEqual(t, "fetch calls after Stop", garmin.callCount(), calls)

	st, _ := env.manager.SourceStatus(models.SourceGarmin)
	checkIntEqual(t, "ConsecutiveFailures", st.ConsecutiveFailures, 0)
}

func TestBuilder(t *testing.T) {
	cfg := &config.Config{}
	cfg.Sources.Garmin = config.GarminConfig{Enabled: true, Interval: time.Hour, LookbackDays: 3, Username: "u", Password: "p"}
	cfg.Sources.Intervals = config.IntervalsConfig{Enabled: true, Interval: time.Hour, HistoryDays: 7, APIKey: "k", AthleteID: "i1"}
	cfg.Sources.Aria = config.AriaConfig{Enabled: true, Interval: time.Minute, QueueSize: 5}

	b := NewBuilder(cfg)
	regs, err := b.BuildEnabled(cfg)
	if err != nil {
		t.Fatalf("BuildEnabled() error = %v", err)
	}
	checkIntEqual(t, "registrations", len(regs), 3)

	for _, reg := range regs {
		switch reg.Source.ID() {
		case models.SourceGarmin:
			checkStringEqual(t, "garmin kind", string(reg.Bootstrap.Kind), string(models.CredentialSession))
			w := reg.Window(testDay)
			checkStringEqual(t, "garmin window from", string(w.From), "2026-10-12")
		case models.SourceIntervals:
			checkStringEqual(t, "intervals key", reg.Bootstrap.Secret, "k")
			checkStringEqual(t, "intervals window from", string(reg.Window(testDay).From), "2026-10-08")
		case models.SourceAria:
			if reg.Source != Source(b.Scale()) {
				t.Error("aria registration must reuse the shared scale adapter")
			}
		default:
			t.Errorf("unexpected source %s", reg.Source.ID())
		}
	}

	if _, err := b.Build(cfg, "strava"); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("expected ErrUnknownSource, got %v", err)
	}
}
