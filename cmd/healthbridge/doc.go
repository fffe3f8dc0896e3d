// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

/*
Command healthbridge pulls daily health and training data from Garmin Connect,
Fitbit, Intervals.icu, Cronometer and an Aria scale, and reconciles it into
one canonical record per calendar day.

# Process Layout

The serve command runs everything under a Suture v4 supervisor tree:

	RootSupervisor ("healthbridge")
	├── DataSupervisor ("data-layer")
	│   ├── state-gc (Badger value log GC)
	│   └── record-checkpoint (DuckDB checkpoint)
	├── SyncSupervisor ("sync-layer")
	│   └── sync-manager (one scheduler loop per enabled source)
	└── APISupervisor ("api-layer")
	    └── http-server (REST API, scale upload, /metrics)

# Commands

	healthbridge [serve]                 run the scheduler and HTTP server
	healthbridge sync <source>           run one cycle and print its result
	healthbridge records --from --to     print canonical rows as JSON
	healthbridge version                 print build information

The sync and records commands open the same record and state stores as
serve. DuckDB and Badger both lock their files, so stop the server first.

# Configuration

Settings come from built-in defaults, then an optional YAML file, then
environment variables. The file is --config, CONFIG_PATH, or the first of
the default paths that exists. While serving, edits to the file re-apply
source settings without a restart; listener, database and upstream proxy
settings need one.
*/
package main
