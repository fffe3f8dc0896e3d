// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

// Package logging provides centralized zerolog-based structured logging.
//
// # Quick Start
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//
//	logging.Info().Str("source", "fitbit").Msg("Source enabled")
//	logging.Error().Err(err).Str("source", "garmin").Msg("Fetch failed")
//
// # Cycle context
//
// Every sync cycle runs under a context carrying a correlation id, a cycle
// id and the source name. Ctx adds them to each line:
//
//	ctx = logging.ContextWithNewCorrelationID(ctx)
//	ctx = logging.ContextWithCycle(ctx, logging.GenerateCycleID(), "fitbit")
//	logging.Ctx(ctx).Info().Int("dates", 3).Msg("Fragment merged")
//
// Every line carries "service":"healthbridge" and, once main has called
// Init, the build version.
//
// # Configuration
//
// Environment Variables:
//
//	LOG_LEVEL   - Minimum log level: trace, debug, info, warn, error (default: info)
//	LOG_FORMAT  - Output format: json, console (default: json)
//	LOG_CALLER  - Include caller file:line: true, false (default: false)
//
// # Credentials
//
// Provider credentials never appear in logs. CredentialAudit records refresh
// attempts and source disable/re-enable transitions with tokens and account
// names masked.
//
// # Supervisor events
//
// SlogHandler adapts zerolog to log/slog for sutureslog:
//
//	handler := &sutureslog.Handler{Logger: logging.NewSlogLogger()}
//
// # Best Practices
//
// Always terminate log chains with .Msg() or .Send(), and use structured
// fields rather than Msgf.
package logging
