// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package services

import (
	"context"
	"time"

	"github.com/tomtom215/healthbridge/internal/logging"
	"github.com/tomtom215/healthbridge/internal/metrics"
)

const (
	defaultGCInterval         = 10 * time.Minute
	defaultGCDiscardRatio     = 0.5
	defaultCheckpointInterval = 15 * time.Minute
)

// MaintenanceTask is one round of background storage upkeep.
type MaintenanceTask func(ctx context.Context) error

// MaintenanceService runs a task on a fixed interval. Task errors are logged
// and the loop continues; they never restart the service.
type MaintenanceService struct {
	name     string
	interval time.Duration
	task     MaintenanceTask
}

// NewMaintenanceService creates a periodic service.
func NewMaintenanceService(name string, interval time.Duration, task MaintenanceTask) *MaintenanceService {
	return &MaintenanceService{name: name, interval: interval, task: task}
}

// GCRunner reclaims value log space in the state store.
// Satisfied by *state.Store.
type GCRunner interface {
	RunGC(discardRatio float64) (int, error)
}

// NewStateGCService runs Badger value log GC on the state store.
func NewStateGCService(store GCRunner, interval time.Duration, discardRatio float64) *MaintenanceService {
	if interval <= 0 {
		interval = defaultGCInterval
	}
	if discardRatio <= 0 || discardRatio >= 1 {
		discardRatio = defaultGCDiscardRatio
	}
	return NewMaintenanceService("state-gc", interval, func(ctx context.Context) error {
		rounds, err := store.RunGC(discardRatio)
		metrics.StateGCRounds.Add(float64(rounds))
		if rounds > 0 {
			logging.Ctx(ctx).Debug().Int("rounds", rounds).Msg("State store value log GC reclaimed space")
		}
		return err
	})
}

// Checkpointer flushes the record store write-ahead log.
// Satisfied by *database.DB.
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// NewCheckpointService periodically checkpoints the record store.
func NewCheckpointService(db Checkpointer, interval time.Duration) *MaintenanceService {
	if interval <= 0 {
		interval = defaultCheckpointInterval
	}
	return NewMaintenanceService("record-checkpoint", interval, func(ctx context.Context) error {
		start := time.Now()
		err := db.Checkpoint(ctx)
		metrics.RecordDBQuery("checkpoint", time.Since(start), err)
		return err
	})
}

// Serve implements suture.Service.
func (m *MaintenanceService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.task(ctx); err != nil && ctx.Err() == nil {
				logging.Error().Err(err).Str("service", m.name).Msg("Maintenance task failed")
			}
		}
	}
}

func (m *MaintenanceService) String() string {
	return m.name
}
