// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

/*
Package services provides suture.Service wrappers for Healthbridge components.

Each wrapper translates a component lifecycle (Start/Stop, ListenAndServe, a
periodic task) into suture's context-aware Serve:

	type Service interface {
	    Serve(ctx context.Context) error
	}

# Available Services

HTTPServerService wraps *http.Server. Cancellation triggers Shutdown with a
bounded drain timeout.

SyncService wraps sync.Manager. Start launches one scheduling loop per
registered source; Stop waits for in-flight cycles.

MaintenanceService runs a periodic task. Two constructors cover the storage
layers:
  - NewStateGCService: Badger value log GC on the state store
  - NewCheckpointService: DuckDB CHECKPOINT on the record store

# Usage

	tree.AddDataService(services.NewStateGCService(stateStore, cfg.State.GCInterval, cfg.State.GCDiscardRatio))
	tree.AddDataService(services.NewCheckpointService(db, cfg.Database.CheckpointInterval))
	tree.AddSyncService(services.NewSyncService(syncManager))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
*/
package services
