// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package config

import (
	"time"
)

// Config holds all application configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all optional settings
//  2. Config File: Optional YAML file (config.yaml, or the add-on's /data/options.json)
//  3. Environment Variables: Override any setting via environment variables
//
// Configuration Categories:
//
//  1. Sources: Garmin, Fitbit, Intervals.icu, Cronometer, Aria scale
//  2. Reconciliation: per-field source priorities
//  3. Infrastructure: DuckDB record store, Badger state store, HTTP server, supervisor
//  4. Observability: Logging
type Config struct {
	Sources SourcesConfig `koanf:"sources"`

	// Priorities overrides the built-in per-field source order. Keys are
	// canonical field names, values list sources from highest to lowest.
	Priorities map[string][]string `koanf:"priorities"`

	Database   DatabaseConfig   `koanf:"database"`
	State      StateConfig      `koanf:"state"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// SourcesConfig groups per-source settings.
type SourcesConfig struct {
	Garmin     GarminConfig     `koanf:"garmin"`
	Fitbit     FitbitConfig     `koanf:"fitbit"`
	Intervals  IntervalsConfig  `koanf:"intervals"`
	Cronometer CronometerConfig `koanf:"cronometer"`
	Aria       AriaConfig       `koanf:"aria"`
}

// Schedule is the scheduling view shared by every source.
type Schedule struct {
	Enabled      bool
	Interval     time.Duration
	FetchTimeout time.Duration
}

// maxFetchTimeout caps the default fetch timeout for long intervals.
const maxFetchTimeout = 5 * time.Minute

// EffectiveFetchTimeout returns the configured fetch timeout, or the interval
// capped at five minutes when none is set.
func (s Schedule) EffectiveFetchTimeout() time.Duration {
	if s.FetchTimeout > 0 {
		return s.FetchTimeout
	}
	if s.Interval <= 0 || s.Interval > maxFetchTimeout {
		return maxFetchTimeout
	}
	return s.Interval
}

// GarminConfig holds Garmin Connect settings. Garmin uses a session login.
//
// Environment Variables:
//   - GARMIN_ENABLED, GARMIN_USERNAME, GARMIN_PASSWORD
//   - GARMIN_INTERVAL (default: 1h), GARMIN_LOOKBACK_DAYS (default: 1)
type GarminConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Interval     time.Duration `koanf:"interval"`
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
	LookbackDays int           `koanf:"lookback_days" validate:"min=1,max=31"`
	BaseURL      string        `koanf:"base_url" validate:"omitempty,http_url"`
	SSOURL       string        `koanf:"sso_url" validate:"omitempty,http_url"`
	Username     string        `koanf:"username"`
	Password     string        `koanf:"password"`
}

// Schedule returns the scheduling settings.
func (c GarminConfig) Schedule() Schedule {
	return Schedule{Enabled: c.Enabled, Interval: c.Interval, FetchTimeout: c.FetchTimeout}
}

// FitbitConfig holds Fitbit Web API settings. Fitbit uses OAuth2 with a
// rotating refresh token; RefreshToken only bootstraps the first run.
//
// Environment Variables:
//   - FITBIT_ENABLED, FITBIT_CLIENT_ID, FITBIT_CLIENT_SECRET, FITBIT_REFRESH_TOKEN
//   - FITBIT_WEIGHT_UNIT: kg or lb, the unit of the Fitbit profile (default: kg)
type FitbitConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Interval     time.Duration `koanf:"interval"`
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
	LookbackDays int           `koanf:"lookback_days" validate:"min=1,max=31"`
	BaseURL      string        `koanf:"base_url" validate:"omitempty,http_url"`
	TokenURL     string        `koanf:"token_url" validate:"omitempty,http_url"`
	ClientID     string        `koanf:"client_id"`
	ClientSecret string        `koanf:"client_secret"`
	RefreshToken string        `koanf:"refresh_token"`
	WeightUnit   string        `koanf:"weight_unit" validate:"oneof=kg lb"`
}

// Schedule returns the scheduling settings.
func (c FitbitConfig) Schedule() Schedule {
	return Schedule{Enabled: c.Enabled, Interval: c.Interval, FetchTimeout: c.FetchTimeout}
}

// IntervalsConfig holds Intervals.icu settings. The API key is static.
//
// Environment Variables:
//   - INTERVALS_ENABLED, INTERVALS_API_KEY, INTERVALS_ATHLETE_ID
//   - INTERVALS_HISTORY_DAYS (default: 7), INTERVALS_PLAN_DAYS (default: 7)
type IntervalsConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Interval     time.Duration `koanf:"interval"`
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
	BaseURL      string        `koanf:"base_url" validate:"omitempty,http_url"`
	APIKey       string        `koanf:"api_key"`
	AthleteID    string        `koanf:"athlete_id"`
	HistoryDays  int           `koanf:"history_days" validate:"min=1,max=90"`
	PlanDays     int           `koanf:"plan_days" validate:"min=0,max=30"`
}

// Schedule returns the scheduling settings.
func (c IntervalsConfig) Schedule() Schedule {
	return Schedule{Enabled: c.Enabled, Interval: c.Interval, FetchTimeout: c.FetchTimeout}
}

// CronometerConfig holds Cronometer settings. Cronometer uses a form login
// guarded by an anti-CSRF token.
//
// Environment Variables:
//   - CRONOMETER_ENABLED, CRONOMETER_USERNAME, CRONOMETER_PASSWORD
type CronometerConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Interval     time.Duration `koanf:"interval"`
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
	LookbackDays int           `koanf:"lookback_days" validate:"min=1,max=31"`
	BaseURL      string        `koanf:"base_url" validate:"omitempty,http_url"`
	Username     string        `koanf:"username"`
	Password     string        `koanf:"password"`
}

// Schedule returns the scheduling settings.
func (c CronometerConfig) Schedule() Schedule {
	return Schedule{Enabled: c.Enabled, Interval: c.Interval, FetchTimeout: c.FetchTimeout}
}

// AriaConfig holds settings for the Aria scale upload endpoint. The scale
// pushes readings; Interval only paces draining of queued readings.
//
// Environment Variables:
//   - ARIA_ENABLED
//   - ARIA_USER_FILTER: only ingest readings for this user id
//   - ARIA_UPSTREAM_URL: forward packets to the vendor service
type AriaConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Interval     time.Duration `koanf:"interval"`
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
	UserFilter   string        `koanf:"user_filter"`
	UpstreamURL  string        `koanf:"upstream_url" validate:"omitempty,http_url"`
	QueueSize    int           `koanf:"queue_size" validate:"min=1,max=10000"`

	// PushToGarmin copies each accepted reading to Garmin Connect when the
	// garmin source is enabled.
	PushToGarmin bool `koanf:"push_to_garmin"`
}

// Schedule returns the scheduling settings.
func (c AriaConfig) Schedule() Schedule {
	return Schedule{Enabled: c.Enabled, Interval: c.Interval, FetchTimeout: c.FetchTimeout}
}

// DatabaseConfig holds DuckDB settings for the canonical record table.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads" validate:"min=0"` // 0 = use NumCPU

	// InitTimeoutSeconds bounds schema creation at startup.
	InitTimeoutSeconds int `koanf:"init_timeout_seconds" validate:"min=0"`

	// CheckpointInterval is how often the WAL is folded into the database file.
	CheckpointInterval time.Duration `koanf:"checkpoint_interval"`
}

// InitTimeout returns the schema initialization timeout (default 30s).
func (c *DatabaseConfig) InitTimeout() time.Duration {
	if c.InitTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.InitTimeoutSeconds) * time.Second
}

// StateConfig holds BadgerDB settings for credentials and source state.
type StateConfig struct {
	Path string `koanf:"path" validate:"required"`

	// EncryptionKey derives the AES-256-GCM key for credentials at rest.
	EncryptionKey        string        `koanf:"encryption_key"`
	CounterRetentionDays int           `koanf:"counter_retention_days" validate:"min=1,max=365"`
	GCInterval           time.Duration `koanf:"gc_interval"`
	GCDiscardRatio       float64       `koanf:"gc_discard_ratio" validate:"gt=0,lt=1"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Host    string        `koanf:"host"`
	Timeout time.Duration `koanf:"timeout"`

	// SyncRateLimit caps manual sync triggers per source per minute.
	SyncRateLimit int `koanf:"sync_rate_limit" validate:"min=1"`
}

// LoggingConfig holds logging settings.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: true/false - include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// SupervisorConfig holds suture supervisor tree settings.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// Load reads configuration from defaults, the config file and environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
