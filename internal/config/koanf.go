// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used. /data/options.json is written by the
// Home Assistant supervisor; YAML is a superset of JSON so one parser reads both.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/healthbridge/config.yaml",
	"/data/options.json",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// addonOptionsFile is the flat options file written by the add-on supervisor.
const addonOptionsFile = "options.json"

func defaultConfig() *Config {
	return &Config{
		Sources: SourcesConfig{
			Garmin: GarminConfig{
				Enabled:      false,
				Interval:     time.Hour,
				LookbackDays: 1,
				BaseURL:      "https://connectapi.garmin.com",
				SSOURL:       "https://sso.garmin.com",
			},
			Fitbit: FitbitConfig{
				Enabled:      false,
				Interval:     time.Hour,
				LookbackDays: 1,
				BaseURL:      "https://api.fitbit.com",
				TokenURL:     "https://api.fitbit.com/oauth2/token",
				WeightUnit:   "kg",
			},
			Intervals: IntervalsConfig{
				Enabled:     false,
				Interval:    time.Hour,
				BaseURL:     "https://intervals.icu",
				HistoryDays: 7,
				PlanDays:    7,
			},
			Cronometer: CronometerConfig{
				Enabled:      false,
				Interval:     6 * time.Hour,
				LookbackDays: 2,
				BaseURL:      "https://cronometer.com",
			},
			Aria: AriaConfig{
				Enabled:      false,
				Interval:     time.Minute, // Drains readings the upload handler did not already merge
				QueueSize:    100,
				PushToGarmin: true,
			},
		},
		Database: DatabaseConfig{
			Path:               "/data/healthbridge.duckdb",
			MaxMemory:          "512MB",
			Threads:            0,
			InitTimeoutSeconds: 30,
			CheckpointInterval: time.Hour,
		},
		State: StateConfig{
			Path:                 "/data/state",
			CounterRetentionDays: 14,
			GCInterval:           10 * time.Minute,
			GCDiscardRatio:       0.5,
		},
		Server: ServerConfig{
			Port:          8099,
			Host:          "0.0.0.0",
			Timeout:       30 * time.Second,
			SyncRateLimit: 6,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5.0,
			FailureDecay:     30.0,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
func LoadWithKoanf() (*Config, error) {
	return LoadFromPath(findConfigFile())
}

// LoadFromPath is LoadWithKoanf with an explicit config file. An empty path
// skips the file layer.
func LoadFromPath(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	if configPath != "" {
		if err := loadConfigFile(k, configPath); err != nil {
			return nil, err
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// FITBIT_CLIENT_ID -> sources.fitbit.client_id
	// PRIORITY_WEIGHT_KG -> priorities.weight_kg
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadConfigFile merges the file at path into k. The add-on options file is
// flat (garmin_username, fitbit_client_id, ...), so its keys go through the
// same mapping table as environment variables.
func loadConfigFile(k *koanf.Koanf, path string) error {
	if filepath.Base(path) != addonOptionsFile {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		return nil
	}

	flat := koanf.New(".")
	if err := flat.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load add-on options %s: %w", path, err)
	}
	for key, val := range flat.All() {
		mapped := envTransformFunc(key)
		if mapped == "" {
			continue
		}
		if err := k.Set(mapped, val); err != nil {
			return fmt.Errorf("failed to set %s from %s: %w", mapped, path, err)
		}
	}
	return nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// FindConfigFile exposes the resolved config path for the file watcher.
func FindConfigFile() string {
	return findConfigFile()
}

// processSliceFields converts comma-separated strings to slices for every
// priorities.<field> key. Env vars arrive as strings; YAML lists pass through.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range k.Keys() {
		if !strings.HasPrefix(path, "priorities.") {
			continue
		}
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unmapped variables are ignored so unrelated environment does not leak in.
var envMappings = map[string]string{
	// Garmin
	"garmin_enabled":       "sources.garmin.enabled",
	"garmin_interval":      "sources.garmin.interval",
	"garmin_fetch_timeout": "sources.garmin.fetch_timeout",
	"garmin_lookback_days": "sources.garmin.lookback_days",
	"garmin_base_url":      "sources.garmin.base_url",
	"garmin_sso_url":       "sources.garmin.sso_url",
	"garmin_username":      "sources.garmin.username",
	"garmin_email":         "sources.garmin.username",
	"garmin_password":      "sources.garmin.password",

	// Fitbit
	"fitbit_enabled":       "sources.fitbit.enabled",
	"fitbit_interval":      "sources.fitbit.interval",
	"fitbit_fetch_timeout": "sources.fitbit.fetch_timeout",
	"fitbit_lookback_days": "sources.fitbit.lookback_days",
	"fitbit_base_url":      "sources.fitbit.base_url",
	"fitbit_token_url":     "sources.fitbit.token_url",
	"fitbit_client_id":     "sources.fitbit.client_id",
	"fitbit_client_secret": "sources.fitbit.client_secret",
	"fitbit_refresh_token": "sources.fitbit.refresh_token",
	"fitbit_weight_unit":   "sources.fitbit.weight_unit",

	// Intervals.icu
	"intervals_enabled":       "sources.intervals.enabled",
	"intervals_interval":      "sources.intervals.interval",
	"intervals_fetch_timeout": "sources.intervals.fetch_timeout",
	"intervals_base_url":      "sources.intervals.base_url",
	"intervals_api_key":       "sources.intervals.api_key",
	"intervals_athlete_id":    "sources.intervals.athlete_id",
	"intervals_history_days":  "sources.intervals.history_days",
	"intervals_plan_days":     "sources.intervals.plan_days",

	// Cronometer
	"cronometer_enabled":       "sources.cronometer.enabled",
	"cronometer_interval":      "sources.cronometer.interval",
	"cronometer_fetch_timeout": "sources.cronometer.fetch_timeout",
	"cronometer_lookback_days": "sources.cronometer.lookback_days",
	"cronometer_base_url":      "sources.cronometer.base_url",
	"cronometer_username":      "sources.cronometer.username",
	"cronometer_password":      "sources.cronometer.password",

	// Aria scale
	"aria_enabled":        "sources.aria.enabled",
	"aria_interval":       "sources.aria.interval",
	"aria_user_filter":    "sources.aria.user_filter",
	"aria_upstream_url":   "sources.aria.upstream_url",
	"aria_queue_size":     "sources.aria.queue_size",
	"aria_push_to_garmin": "sources.aria.push_to_garmin",
	"scale_user_filter":   "sources.aria.user_filter",
	"scale_upstream_url":  "sources.aria.upstream_url",

	// Database mappings
	"duckdb_path":                "database.path",
	"duckdb_max_memory":          "database.max_memory",
	"duckdb_threads":             "database.threads",
	"duckdb_init_timeout":        "database.init_timeout_seconds",
	"duckdb_checkpoint_interval": "database.checkpoint_interval",

	// State store mappings
	"state_path":                   "state.path",
	"state_encryption_key":         "state.encryption_key",
	"state_counter_retention_days": "state.counter_retention_days",
	"state_gc_interval":            "state.gc_interval",
	"state_gc_discard_ratio":       "state.gc_discard_ratio",

	// Server mappings
	"http_port":       "server.port",
	"http_host":       "server.host",
	"http_timeout":    "server.timeout",
	"sync_rate_limit": "server.sync_rate_limit",

	// Logging mappings
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Supervisor mappings
	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - FITBIT_CLIENT_ID -> sources.fitbit.client_id
//   - DUCKDB_PATH -> database.path
//   - PRIORITY_WEIGHT_KG -> priorities.weight_kg
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	if field, ok := strings.CutPrefix(key, "priority_"); ok && field != "" {
		return "priorities." + field
	}
	return ""
}

// WatchConfigFile calls callback whenever the file at path changes.
// The caller is responsible for reloading and for synchronizing access to
// the reloaded configuration.
func WatchConfigFile(path string, callback func()) (*file.File, error) {
	provider := file.Provider(path)
	err := provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	return provider, nil
}
