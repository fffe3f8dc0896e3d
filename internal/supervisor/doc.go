// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

/*
Package supervisor provides process supervision for Healthbridge using suture v4.

Long-running services are organized into three layers so a failure in one
does not take the others down:

	RootSupervisor ("healthbridge")
	├── DataSupervisor ("data-layer")
	│   ├── MaintenanceService "state-gc"
	│   └── MaintenanceService "record-checkpoint"
	├── SyncSupervisor ("sync-layer")
	│   └── SyncService
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

Crashed services are restarted with backoff once FailureThreshold is
exceeded. Supervisor events are logged through sutureslog, bridged to the
application's zerolog logger via logging.NewSlogLogger.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	if err != nil {
	    return err
	}
	tree.AddSyncService(services.NewSyncService(syncManager))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	return tree.Serve(ctx)

# See Also

  - internal/supervisor/services: service wrappers
  - github.com/thejerf/suture/v4
*/
package supervisor
