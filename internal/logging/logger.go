// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// serviceName is added to every line.
const serviceName = "healthbridge"

// Config holds logging configuration. It mirrors config.LoggingConfig plus
// the process facts only main knows.
type Config struct {
	// Level is the minimum level: trace, debug, info, warn, error or disabled.
	Level string
	// Format is json or console.
	Format string
	// Caller adds file:line to each line.
	Caller bool
	// Timestamp adds the time to each line.
	Timestamp bool
	// Version, when set, is added to each line.
	Version string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns the configuration used before main calls Init.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Format:    "json",
		Timestamp: true,
		Output:    os.Stderr,
	}
}

// current holds the global logger.
var current atomic.Pointer[zerolog.Logger]

//nolint:gochecknoinits // logging must work before main calls Init
func init() {
	Init(DefaultConfig())
}

// Init builds the global logger from cfg. An unknown level falls back to
// info and is reported on the new logger.
func Init(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	level, levelErr := ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if strings.EqualFold(cfg.Format, "console") {
		output = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}

	c := zerolog.New(output).With().Str("service", serviceName)
	if cfg.Version != "" {
		c = c.Str("version", cfg.Version)
	}
	if cfg.Timestamp {
		c = c.Timestamp()
	}
	if cfg.Caller {
		c = c.Caller()
	}
	l := c.Logger()
	current.Store(&l)

	if levelErr != nil {
		l.Warn().Err(levelErr).Msg("Using info log level")
	}
}

// ParseLevel maps a configured level name to a zerolog level. An empty name
// means info; "warning" is accepted for warn.
func ParseLevel(level string) (zerolog.Level, error) {
	name := strings.ToLower(strings.TrimSpace(level))
	switch name {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	l, err := zerolog.ParseLevel(name)
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}

// SetLevelString changes the minimum level without rebuilding the logger.
// An unknown level leaves the current one in place.
func SetLevelString(level string) error {
	l, err := ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(l)
	return nil
}

// Logger returns the global logger.
func Logger() zerolog.Logger {
	return *current.Load()
}

// SetLogger replaces the global logger. Tests use it to capture output.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func SetLogger(l zerolog.Logger) {
	current.Store(&l)
}

// With starts a child logger from the global one.
//
//	mergeLogger := logging.With().Str("component", "merge").Logger()
func With() zerolog.Context {
	return current.Load().With()
}

func Debug() *zerolog.Event { return current.Load().Debug() }

// Info starts an info line.
//
//	logging.Info().Str("source", "fitbit").Msg("Source enabled")
func Info() *zerolog.Event { return current.Load().Info() }

func Warn() *zerolog.Event { return current.Load().Warn() }

func Error() *zerolog.Event { return current.Load().Error() }

// NewTestLogger creates a JSON logger writing to w.
func NewTestLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}
