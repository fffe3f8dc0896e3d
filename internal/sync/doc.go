// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

/*
Package sync fetches provider data and feeds it to the canonical merger.

The package holds the provider adapters and the orchestrator that runs them.
Each adapter turns one provider's documents into a models.Fragment of
canonical fields in canonical units; nothing provider-specific leaves it.

Key Components:

  - Manager: one loop per source, credential refresh, merge and state persistence
  - Source: the adapter interface (ID, Kind, Fetch)
  - Builder: turns configuration into Registrations
  - sourceBreaker: per-source gobreaker circuit breaker around Fetch
  - ProviderError / Classify: the error taxonomy that drives each cycle

Adapters:

  - garmin.go: Garmin Connect session login and daily summaries (wearable)
  - fitbit.go: Fitbit Web API with OAuth2 refresh (wearable)
  - intervals.go: intervals.icu wellness, activities and planned workouts (training)
  - cronometer.go: Cronometer anti-CSRF login and CSV export (nutrition)
  - scale.go: Aria scale uploads, queued until the next cycle (scale)

Error Kinds:

  - Transient: network failures, timeouts, 429 and 5xx; retried next interval
  - AuthExpired: 401 and 403; the credential is refreshed and the fetch retried once
  - DataShape: an unreadable document; the cycle fails, the next one retries
  - Disabled: the credential was rejected; the source waits for new configuration

A single unreadable record inside a document is not an error. It is recorded
on the fragment with Skip and counted by the data shape metrics; the rest of
the document is merged.

Thread Safety:

Sources run concurrently and never share state. Each has its own breaker,
rate limiter and cycle lock. The merger is the only shared writer.

Usage Example:

	builder := sync.NewBuilder(cfg)
	manager := sync.NewManager(merger, creds, stateStore, sync.Options{
	    CounterRetentionDays: cfg.State.CounterRetentionDays,
	})

	regs, err := builder.BuildEnabled(cfg)
	if err != nil {
	    return err
	}
	for _, reg := range regs {
	    if err := manager.Register(ctx, reg); err != nil {
	        return err
	    }
	}

	if err := manager.Start(ctx); err != nil {
	    return err
	}
	defer manager.Stop()

See Also:

  - internal/merge: field merge rules and priorities
  - internal/credentials: credential bootstrap, refresh and persistence
  - internal/state: BadgerDB persistence of SourceState
*/
package sync
