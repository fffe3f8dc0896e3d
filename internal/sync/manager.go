// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

/*
manager.go - Sync Orchestrator Lifecycle and Cycles

The Manager runs one loop per registered source. Each loop performs an
initial cycle and then one cycle per tick of the source's interval.

Cycle steps:
  - obtain a valid credential (cached, persisted or bootstrapped)
  - fetch through the source's circuit breaker, bounded by the fetch timeout
  - on an expired credential, refresh once and retry the fetch once
  - a malformed response becomes a skipped record; the cycle still succeeds
  - merge the fragment against the source's counter baseline
  - advance the baseline, reset failures and persist the source state

State machine:

	Idle -> Running -> Sleeping -> Running -> ...
	          \-> Disabled (credential rejected; cleared by Reconfigure)

Thread Safety:
  - mu: protects the runner table and lifecycle flags
  - runner.cycleMu: at most one cycle per source; overlapping triggers are Skipped
  - runner.mu: protects the source state
  - the merger is the only lock shared between sources
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/healthbridge/internal/credentials"
	"github.com/tomtom215/healthbridge/internal/logging"
	"github.com/tomtom215/healthbridge/internal/merge"
	"github.com/tomtom215/healthbridge/internal/metrics"
	"github.com/tomtom215/healthbridge/internal/models"
	"github.com/tomtom215/healthbridge/internal/reconcile"
	"github.com/tomtom215/healthbridge/internal/state"
)

// defaultInterval is used when a registration carries no interval.
const defaultInterval = time.Hour

// maxLoggedIssues bounds the per-cycle data shape log lines.
const maxLoggedIssues = 10

// Merger applies fragments to the record set.
type Merger interface {
	Apply(ctx context.Context, frag *models.Fragment, baseline reconcile.Baseline) (*merge.Result, error)
}

// CredentialProvider hands out and refreshes credentials.
type CredentialProvider interface {
	Register(ctx context.Context, source models.SourceID, bootstrap models.Credential, refresher credentials.Refresher) error
	GetValidCredential(ctx context.Context, source models.SourceID) (models.Credential, error)
	Refresh(ctx context.Context, source models.SourceID) (models.Credential, error)
	Forget(source models.SourceID)
}

// StateStore persists SourceState across restarts.
type StateStore interface {
	LoadState(ctx context.Context, source models.SourceID) (*models.SourceState, error)
	SaveState(ctx context.Context, st *models.SourceState) error
}

// Options tunes a Manager.
type Options struct {
	// CounterRetentionDays bounds how long per-date counter totals are kept.
	CounterRetentionDays int
	// Now overrides the clock.
	Now func() time.Time
}

// runner is the per-source half of the Manager.
type runner struct {
	id      models.SourceID
	reg     Registration
	breaker *sourceBreaker
	reset   chan time.Duration
	looping bool

	cycleMu sync.Mutex

	mu    sync.Mutex
	state *models.SourceState
}

func (r *runner) interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reg.Schedule.Interval > 0 {
		return r.reg.Schedule.Interval
	}
	return defaultInterval
}

// Manager orchestrates fetch, refresh and merge cycles for every source.
type Manager struct {
	merger    Merger
	creds     CredentialProvider
	store     StateStore
	audit     *logging.CredentialAudit
	retention int
	now       func() time.Time

	mu               sync.RWMutex
	runners          map[models.SourceID]*runner
	running          bool
	closed           bool
	loopCtx          context.Context
	cancel           context.CancelFunc
	wg               sync.WaitGroup
	onCycleCompleted func(models.CycleResult)
}

// NewManager creates a sync manager. Sources are added with Register.
func NewManager(merger Merger, creds CredentialProvider, store StateStore, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CounterRetentionDays <= 0 {
		opts.CounterRetentionDays = reconcile.DefaultRetentionDays
	}
	return &Manager{
		merger:    merger,
		creds:     creds,
		store:     store,
		audit:     logging.NewCredentialAudit(),
		retention: opts.CounterRetentionDays,
		now:       opts.Now,
		runners:   make(map[models.SourceID]*runner),
	}
}

// SetOnCycleCompleted sets the callback invoked after every executed cycle.
func (m *Manager) SetOnCycleCompleted(callback func(models.CycleResult)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCycleCompleted = callback
}

// Register adds a source. Persisted state is restored; a source that was
// Disabled before a restart stays Disabled unless its configured credential
// changed in the meantime.
func (m *Manager) Register(ctx context.Context, reg Registration) error {
	if reg.Source == nil {
		return errors.New("registration has no source")
	}
	id := reg.Source.ID()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if _, exists := m.runners[id]; exists {
		return fmt.Errorf("source %s already registered", id)
	}
	if err := m.creds.Register(ctx, id, reg.Bootstrap, reg.Refresher); err != nil {
		return fmt.Errorf("register credential for %s: %w", id, err)
	}

	r := &runner{
		id:      id,
		reg:     reg,
		breaker: newSourceBreaker(id),
		reset:   make(chan time.Duration, 1),
		state:   m.restoreState(ctx, id, reg.Bootstrap.Fingerprint()),
	}
	m.runners[id] = r
	m.publishState(r.state)

	logging.Info().
		Str("source", string(id)).
		Str("kind", string(reg.Source.Kind())).
		Dur("interval", r.interval()).
		Str("status", string(r.state.Status)).
		Msg("Source registered")

	if m.running {
		m.startLoop(r)
	}
	return nil
}

// restoreState loads the persisted state of id. A Disabled source whose
// configured credential changed since it was disabled is enabled again, so a
// restart with fixed settings recovers it.
func (m *Manager) restoreState(ctx context.Context, id models.SourceID, origin string) *models.SourceState {
	st, err := m.store.LoadState(ctx, id)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			logging.Warn().Err(err).Str("source", string(id)).Msg("Failed to load source state, starting fresh")
		}
		st = models.NewSourceState(id)
		st.CredentialOrigin = origin
		return st
	}
	if st.LastCumulative == nil {
		st.LastCumulative = make(map[models.Date]map[models.Field]float64)
	}
	st.Source = id

	switch {
	case st.Status != models.StatusDisabled:
		st.Status = models.StatusIdle
	case st.CredentialOrigin != origin:
		st.Status = models.StatusIdle
		st.DisabledReason = ""
		m.audit.LogSourceReenabled(ctx, string(id))
		logging.Info().Str("source", string(id)).Msg("Configured credential changed since the source was disabled, re-enabling")
	}
	st.CredentialOrigin = origin
	return st
}

// Start begins the per-source loops.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if m.running {
		return fmt.Errorf("sync manager is already running")
	}

	logging.Info().Int("sources", len(m.runners)).Msg("Starting sync manager...")

	m.loopCtx, m.cancel = context.WithCancel(ctx)
	m.running = true
	for _, id := range m.sortedIDs() {
		m.startLoop(m.runners[id])
	}
	return nil
}

// startLoop must be called with m.mu held.
func (m *Manager) startLoop(r *runner) {
	if r.looping {
		return
	}
	r.looping = true
	m.wg.Add(1)
	go m.loop(m.loopCtx, r)
}

// Stop cancels running fetches and waits for every loop to exit. A merge
// already writing completes before its loop returns.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("sync manager is not running")
	}
	m.running = false
	m.cancel()
	for _, r := range m.runners {
		r.looping = false
	}
	m.mu.Unlock()

	logging.Info().Msg("Stopping sync manager...")
	m.wg.Wait()
	logging.Info().Msg("Sync manager stopped")
	return nil
}

// Close stops the manager if it is running and rejects further cycles.
func (m *Manager) Close() error {
	m.mu.Lock()
	running := m.running
	m.closed = true
	m.mu.Unlock()

	if running {
		return m.Stop()
	}
	m.wg.Wait()
	return nil
}

func (m *Manager) loop(ctx context.Context, r *runner) {
	defer m.wg.Done()

	m.scheduledCycle(ctx, r)

	ticker := time.NewTicker(r.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-r.reset:
			ticker.Reset(d)
		case <-ticker.C:
			m.scheduledCycle(ctx, r)
		}
	}
}

func (m *Manager) scheduledCycle(ctx context.Context, r *runner) {
	if ctx.Err() != nil {
		return
	}
	res, err := m.runCycle(ctx, r)
	if err != nil {
		logging.Error().Err(err).Str("source", string(r.id)).Msg("Scheduled cycle failed to run")
		return
	}
	if res.Status == models.CycleSkipped {
		logging.Debug().Str("source", string(res.Source)).Str("reason", res.Reason).Msg("Scheduled cycle skipped")
	}
}

// RunCycle runs one cycle for source now. It returns an error only for an
// unknown source or a closed manager; every other outcome is in the result.
func (m *Manager) RunCycle(ctx context.Context, source models.SourceID) (models.CycleResult, error) {
	r, err := m.runner(source)
	if err != nil {
		return models.CycleResult{Source: source}, err
	}
	return m.runCycle(ctx, r)
}

// TriggerAsync starts a cycle for source in the background. A trigger that
// lands while a cycle is running is dropped. While the loops are stopped it
// returns ErrNotRunning; queued data is picked up by the first cycle after
// Start.
func (m *Manager) TriggerAsync(source models.SourceID) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrManagerClosed
	}
	r, ok := m.runners[source]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	if !m.running {
		return ErrNotRunning
	}

	// Stop takes m.mu before waiting, so this Add always precedes its Wait.
	m.wg.Add(1)
	go func(ctx context.Context) {
		defer m.wg.Done()
		if _, err := m.runCycle(ctx, r); err != nil {
			logging.Warn().Err(err).Str("source", string(source)).Msg("Triggered cycle failed to run")
		}
	}(m.loopCtx)
	return nil
}

func (m *Manager) runner(source models.SourceID) (*runner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	r, ok := m.runners[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	return r, nil
}

func (m *Manager) runCycle(ctx context.Context, r *runner) (models.CycleResult, error) {
	id := r.id
	if !r.cycleMu.TryLock() {
		return m.skipped(id, "cycle already running"), nil
	}
	defer r.cycleMu.Unlock()

	r.mu.Lock()
	if r.state.Status == models.StatusDisabled {
		r.mu.Unlock()
		return m.skipped(id, "disabled"), nil
	}
	r.mu.Unlock()

	res := m.cycle(ctx, r)

	m.mu.RLock()
	callback := m.onCycleCompleted
	m.mu.RUnlock()
	if callback != nil {
		callback(res)
	}
	return res, nil
}

func (m *Manager) skipped(id models.SourceID, reason string) models.CycleResult {
	metrics.RecordCycle(string(id), string(models.CycleSkipped), 0)
	return models.CycleResult{
		Source:    id,
		Status:    models.CycleSkipped,
		Reason:    reason,
		StartedAt: m.now(),
	}
}

// cycle runs one fetch and merge. The caller holds r.cycleMu.
func (m *Manager) cycle(ctx context.Context, r *runner) models.CycleResult {
	id := r.id
	start := m.now()
	today := models.DateOf(start)

	cycleID := logging.GenerateCycleID()
	ctx = logging.ContextWithNewCorrelationID(ctx)
	ctx = logging.ContextWithCycle(ctx, cycleID, string(id))

	res := models.CycleResult{CycleID: cycleID, Source: id, StartedAt: start}

	r.mu.Lock()
	r.state.Status = models.StatusRunning
	r.state.LastAttempt = start
	baseline := reconcile.Baseline(r.state.LastCumulative).Clone()
	m.publishState(r.state)
	r.mu.Unlock()

	window := models.LastDays(today, 1)
	if r.reg.Window != nil {
		window = r.reg.Window(today)
	}

	logging.Ctx(ctx).Debug().Str("from", string(window.From)).Str("to", string(window.To)).Msg("Cycle started")

	frag, err := m.fetch(ctx, r, window, &res)
	if err != nil && Classify(err) == KindDataShape {
		// A response that could not be read at all is one skipped record,
		// not a failed cycle.
		frag = models.NewFragment(id, m.now().UTC())
		frag.Skip("", "", logging.SanitizeError(err.Error()))
		err = nil
	}

	var merged *merge.Result
	if err == nil {
		merged, err = m.merger.Apply(ctx, frag, baseline)
		if err != nil {
			err = fmt.Errorf("merge %s fragment: %w", id, err)
		}
	}

	m.finish(ctx, r, &res, frag, merged, baseline, today, err)
	return res
}

// fetch obtains a credential and fetches once, with one refresh and retry
// when the provider reports the credential as expired.
func (m *Manager) fetch(ctx context.Context, r *runner, window models.DateRange, res *models.CycleResult) (*models.Fragment, error) {
	id := r.id

	cred, err := m.creds.GetValidCredential(ctx, id)
	if err != nil {
		return nil, err
	}

	res.Attempts = 1
	frag, err := m.fetchOnce(ctx, r, cred, window)
	if err == nil || Classify(err) != KindAuthExpired {
		return frag, err
	}

	logging.Ctx(ctx).Info().Err(err).Msg("Credential expired, refreshing")
	res.Refreshed = true
	cred, rerr := m.creds.Refresh(ctx, id)
	if rerr != nil {
		return nil, rerr
	}

	res.Attempts = 2
	return m.fetchOnce(ctx, r, cred, window)
}

func (m *Manager) fetchOnce(ctx context.Context, r *runner, cred models.Credential, window models.DateRange) (*models.Fragment, error) {
	timeout := r.reg.Schedule.EffectiveFetchTimeout()
	frag, err := r.breaker.fetch(func() (*models.Fragment, error) {
		return fetchWithTimeout(ctx, timeout, func(fctx context.Context) (*models.Fragment, error) {
			return r.reg.Source.Fetch(fctx, cred, window)
		})
	})
	if err != nil {
		return nil, err
	}
	if frag == nil {
		frag = models.NewFragment(r.id, m.now().UTC())
	}
	return frag, nil
}

// finish folds the cycle outcome into the source state and persists it.
func (m *Manager) finish(
	ctx context.Context,
	r *runner,
	res *models.CycleResult,
	frag *models.Fragment,
	merged *merge.Result,
	baseline reconcile.Baseline,
	today models.Date,
	err error,
) {
	id := r.id
	log := logging.Ctx(ctx)
	end := m.now()
	res.DurationMS = end.Sub(res.StartedAt).Milliseconds()

	kind := KindNone
	if err != nil {
		kind = Classify(err)
	}

	r.mu.Lock()
	switch kind {
	case KindNone:
		r.state.LastCumulative = baseline.Advance(frag.Counters(), today, m.retention)
		r.state.LastSuccess = end
		r.state.ConsecutiveFailures = 0
		r.state.Status = models.StatusSleeping

		res.Status = models.CycleSuccess
		res.Skipped = len(frag.Issues)
		if merged != nil {
			res.Dates = merged.Dates
			res.Fields = merged.FieldsWritten
		}

	case KindDisabled:
		reason := logging.SanitizeError(err.Error())
		r.state.Status = models.StatusDisabled
		r.state.DisabledReason = reason
		r.state.ConsecutiveFailures++

		res.Status = models.CycleFailed
		res.ErrorKind = kind.String()
		res.Error = reason

	default:
		r.state.ConsecutiveFailures++
		r.state.Status = models.StatusSleeping

		res.Status = models.CycleFailed
		res.ErrorKind = kind.String()
		res.Error = logging.SanitizeError(err.Error())
	}
	last := *res
	r.state.LastResult = &last
	snapshot := r.state.Clone()
	m.publishState(r.state)
	r.mu.Unlock()

	metrics.RecordCycle(string(id), string(res.Status), end.Sub(res.StartedAt))

	switch kind {
	case KindNone:
		if ack, ok := r.reg.Source.(Acknowledger); ok {
			ack.Ack(frag)
		}
		m.reportIssues(ctx, id, frag)
		log.Info().
			Int("dates", res.Dates).
			Int("fields_written", res.Fields).
			Int("records_skipped", res.Skipped).
			Int64("duration_ms", res.DurationMS).
			Msg("Cycle succeeded")
	case KindDisabled:
		m.audit.LogSourceDisabled(ctx, string(id), res.Error)
		log.Error().Err(err).Msg("Source disabled: credential rejected, fix the configuration to re-enable")
	default:
		log.Warn().
			Err(err).
			Str("error_kind", res.ErrorKind).
			Int("consecutive_failures", snapshot.ConsecutiveFailures).
			Str("breaker", r.breaker.State()).
			Msg("Cycle failed, will retry next interval")
	}

	// The merge may have landed; the baseline must follow it even when the
	// cycle context is already cancelled.
	if err := m.store.SaveState(context.WithoutCancel(ctx), snapshot); err != nil {
		log.Error().Err(err).Msg("Failed to persist source state")
	}
}

func (m *Manager) reportIssues(ctx context.Context, id models.SourceID, frag *models.Fragment) {
	if frag == nil || len(frag.Issues) == 0 {
		return
	}
	metrics.RecordDataShapeIssues(string(id), len(frag.Issues))
	log := logging.Ctx(ctx)
	for i, issue := range frag.Issues {
		if i == maxLoggedIssues {
			log.Warn().Int("remaining", len(frag.Issues)-i).Msg("Further data shape issues not logged")
			break
		}
		log.Warn().
			Str("date", string(issue.Date)).
			Str("field", string(issue.Field)).
			Str("reason", issue.Reason).
			Msg("Skipped provider record")
	}
}

func (m *Manager) publishState(st *models.SourceState) {
	var v float64
	switch st.Status {
	case models.StatusRunning:
		v = metrics.StatusRunning
	case models.StatusSleeping:
		v = metrics.StatusSleeping
	case models.StatusDisabled:
		v = metrics.StatusDisabled
	default:
		v = metrics.StatusIdle
	}
	metrics.SetSourceState(string(st.Source), v, st.ConsecutiveFailures)
}

// Reconfigure applies a changed registration. A Disabled source is
// re-enabled, cached credentials are dropped so the new configuration
// bootstraps them, and the ticker follows the new interval. An unknown
// source is registered.
func (m *Manager) Reconfigure(ctx context.Context, reg Registration) error {
	if reg.Source == nil {
		return errors.New("registration has no source")
	}
	id := reg.Source.ID()

	m.mu.RLock()
	r, exists := m.runners[id]
	m.mu.RUnlock()
	if !exists {
		return m.Register(ctx, reg)
	}

	// Wait out a running cycle so it never sees half of the new settings.
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	m.creds.Forget(id)
	if err := m.creds.Register(ctx, id, reg.Bootstrap, reg.Refresher); err != nil {
		return fmt.Errorf("register credential for %s: %w", id, err)
	}

	r.mu.Lock()
	wasDisabled := r.state.Status == models.StatusDisabled
	if wasDisabled {
		r.state.Status = models.StatusIdle
		r.state.DisabledReason = ""
		r.state.ConsecutiveFailures = 0
	}
	intervalChanged := reg.Schedule.Interval != r.reg.Schedule.Interval
	r.reg = reg
	r.state.CredentialOrigin = reg.Bootstrap.Fingerprint()
	snapshot := r.state.Clone()
	m.publishState(r.state)
	r.mu.Unlock()

	if intervalChanged {
		select {
		case r.reset <- r.interval():
		default:
		}
	}

	if wasDisabled {
		m.audit.LogSourceReenabled(ctx, string(id))
		if err := m.store.SaveState(ctx, snapshot); err != nil {
			logging.Warn().Err(err).Str("source", string(id)).Msg("Failed to persist re-enabled state")
		}
	}

	logging.Info().Str("source", string(id)).Bool("reenabled", wasDisabled).Dur("interval", r.interval()).Msg("Source reconfigured")
	return nil
}

// Status returns a snapshot of every source state, ordered by source id.
func (m *Manager) Status() []*models.SourceState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.SourceState, 0, len(m.runners))
	for _, id := range m.sortedIDs() {
		r := m.runners[id]
		r.mu.Lock()
		out = append(out, r.state.Clone())
		r.mu.Unlock()
	}
	return out
}

// SourceStatus returns the state of one source.
func (m *Manager) SourceStatus(source models.SourceID) (*models.SourceState, error) {
	r, err := m.runner(source)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone(), nil
}

// Source returns the registered adapter for id.
func (m *Manager) Source(id models.SourceID) (Source, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runners[id]
	if !ok {
		return nil, false
	}
	return r.reg.Source, true
}

// IsRunning reports whether the loops are running.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// sortedIDs must be called with m.mu held.
func (m *Manager) sortedIDs() []models.SourceID {
	ids := make([]models.SourceID, 0, len(m.runners))
	for id := range m.runners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
