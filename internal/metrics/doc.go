// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

/*
Package metrics provides Prometheus metrics for the reconciliation engine.

All collectors are registered on the default registry through promauto and
exposed at /metrics in Prometheus text format:

	curl http://localhost:8099/metrics

# Available Metrics

Cycle Metrics:
  - healthbridge_cycles_total: Cycles by outcome (counter)
    Labels: source, status (success, failed, skipped)
  - healthbridge_cycle_duration_seconds: Fetch plus merge time (histogram)
    Labels: source
  - healthbridge_source_status: Scheduling state (gauge)
    Values: 0=idle, 1=running, 2=sleeping, 3=disabled
  - healthbridge_source_consecutive_failures: Failed cycles in a row (gauge)
  - healthbridge_data_shape_issues_total: Skipped provider records (counter)

Credential Metrics:
  - healthbridge_credential_refresh_total: Refresh attempts (counter)
    Labels: source, result (success, rejected, unsupported, error)

Merge Metrics:
  - healthbridge_merge_decisions_total: Field decisions (counter)
    Labels: field, decision
  - healthbridge_merge_rows_written_total: Rows written (counter)
  - healthbridge_counter_increment_total: Counter increments applied (counter)
    Labels: field
  - healthbridge_merge_write_failures_total: Failed sink writes (counter)

Circuit Breaker Metrics:
  - healthbridge_circuit_breaker_state: Current state (gauge)
    Labels: source
    Values: 0=closed, 1=half-open, 2=open
  - healthbridge_circuit_breaker_state_transitions_total (counter)
    Labels: source, from_state, to_state

Scale Metrics:
  - healthbridge_scale_payloads_total: Upload packets (counter)
    Labels: result (accepted, filtered, invalid, queue_full)
  - healthbridge_weight_pushes_total: Readings copied to Garmin (counter)
    Labels: result (success, error)

# Thread Safety

All collectors are safe for concurrent use.
*/
package metrics
