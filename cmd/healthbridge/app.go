// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/healthbridge/internal/config"
	"github.com/tomtom215/healthbridge/internal/credentials"
	"github.com/tomtom215/healthbridge/internal/database"
	"github.com/tomtom215/healthbridge/internal/logging"
	"github.com/tomtom215/healthbridge/internal/merge"
	"github.com/tomtom215/healthbridge/internal/models"
	"github.com/tomtom215/healthbridge/internal/state"
	"github.com/tomtom215/healthbridge/internal/sync"
)

// app holds the stores and the scheduler shared by serve and sync.
type app struct {
	db      *database.DB
	state   *state.Store
	merger  *merge.Merger
	creds   *credentials.Manager
	manager *sync.Manager
	builder *sync.Builder
	// pusher is nil unless scale readings are copied to Garmin.
	pusher  *sync.WeightPusher
}

func openApp(cfg *config.Config) (*app, error) {
	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	logging.Info().Str("path", cfg.Database.Path).Msg("Record store opened")

	st, err := state.Open(&cfg.State)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open state store: %w", err)
	}
	logging.Info().Str("path", cfg.State.Path).Bool("encrypted", cfg.State.EncryptionKey != "").Msg("State store opened")

	priorities := merge.NewPriorityTable(merge.DefaultPriorities(), merge.ParseOverrides(cfg.Priorities))
	merger := merge.NewMerger(db, priorities, merge.Options{})
	creds := credentials.NewManager(st)
	manager := sync.NewManager(merger, creds, st, sync.Options{
		CounterRetentionDays: cfg.State.CounterRetentionDays,
	})

	a := &app{
		db:      db,
		state:   st,
		merger:  merger,
		creds:   creds,
		manager: manager,
		builder: sync.NewBuilder(cfg),
	}
	if aria := cfg.Sources.Aria; aria.Enabled && aria.PushToGarmin && cfg.Sources.Garmin.Enabled {
		garmin := &cfg.Sources.Garmin
		a.pusher = sync.NewWeightPusher(sync.NewGarminClient(garmin), creds, garmin.FetchTimeout)
		logging.Info().Msg("Scale readings will be copied to Garmin Connect")
	}
	return a, nil
}

// register adds the given sources to the scheduler.
func (a *app) register(ctx context.Context, cfg *config.Config, ids []models.SourceID) error {
	for _, id := range ids {
		reg, err := a.builder.Build(cfg, id)
		if err != nil {
			return err
		}
		if err := a.manager.Register(ctx, reg); err != nil {
			return fmt.Errorf("register %s: %w", id, err)
		}
	}
	return nil
}

// Close waits for weight uploads, then releases the scheduler and both
// stores.
func (a *app) Close() error {
	var errs []error
	a.pusher.Close()
	if err := a.manager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sync manager: %w", err))
	}
	if err := a.state.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close state store: %w", err))
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close record store: %w", err))
	}
	return errors.Join(errs...)
}
