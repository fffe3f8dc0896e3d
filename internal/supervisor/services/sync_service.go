// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package services

import (
	"context"
	"fmt"
)

// StartStopManager is the lifecycle of the source scheduler. Satisfied by
// *sync.Manager, whose Stop leaves it restartable so suture can call Serve
// again after a failure.
type StartStopManager interface {
	Start(ctx context.Context) error
	Stop() error
}

// SyncService runs the per-source cycle scheduler under supervision.
type SyncService struct {
	manager StartStopManager
	name    string
}

// NewSyncService wraps manager.
func NewSyncService(manager StartStopManager) *SyncService {
	return &SyncService{
		manager: manager,
		name:    "sync-manager",
	}
}

// Serve starts the scheduler, blocks until ctx is canceled and stops it.
// Stop waits for in-flight cycles. A start error is returned so the
// supervisor retries with backoff.
func (s *SyncService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("sync manager start failed: %w", err)
	}

	<-ctx.Done()

	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("sync manager stop failed: %w", err)
	}
	return ctx.Err()
}

func (s *SyncService) String() string {
	return s.name
}
