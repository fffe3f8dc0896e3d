// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

/*
Package config loads and validates Healthbridge configuration.

Configuration is layered with Koanf v2: built-in defaults, then an optional
file, then environment variables. The file is located through CONFIG_PATH or
the first of DefaultConfigPaths that exists. When running as a Home Assistant
add-on the file is /data/options.json, a flat object whose keys are the
lowercase environment variable names:

	{"fitbit_enabled": true, "fitbit_client_id": "...", "log_level": "debug"}

Per-field source priorities are set with PRIORITY_<FIELD>, a comma separated
list from highest to lowest priority:

	PRIORITY_WEIGHT_KG=aria,fitbit,garmin

Provider credentials are persisted by the state store, encrypted with a key
derived from STATE_ENCRYPTION_KEY (see CredentialEncryptor). Configured
credentials only bootstrap the first run; rotated refresh tokens live in the
state store.

WatchConfigFile reports file changes so the sync manager can re-enable
sources that were disabled by a rejected credential.
*/
package config
