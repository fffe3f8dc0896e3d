// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomtom215/healthbridge/internal/config"
	"github.com/tomtom215/healthbridge/internal/logging"
)

// errUsage marks argument errors.
var errUsage = errors.New("usage error")

// Global flag values.
var flagConfig string

var rootCmd = &cobra.Command{
	Use:           "healthbridge",
	Short:         "Reconcile fitness data into one canonical record per day",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: $CONFIG_PATH or the first default path found)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(versionCmd)
}

// configPath returns the file to load and watch, or "" for none.
func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return config.FindConfigFile()
}

// loadConfig loads configuration and initializes logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromPath(configPath())
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Version:   version,
	})
	return cfg, nil
}
