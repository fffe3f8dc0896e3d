// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package main

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/healthbridge/internal/logging"
	"github.com/tomtom215/healthbridge/internal/models"
)

// cycleFailedError reports a cycle that ran but did not succeed.
type cycleFailedError struct {
	result models.CycleResult
}

func (e *cycleFailedError) Error() string {
	return fmt.Sprintf("cycle for %s ended %s", e.result.Source, e.result.Status)
}

var syncCmd = &cobra.Command{
	Use:   "sync <source>",
	Short: "Run one cycle for a source and print its result",
	Long: `Run one fetch-and-merge cycle for a source, whether or not it is enabled
in the configuration, and print the cycle result as JSON. The exit code is 0
only when the cycle succeeded.`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	id := models.SourceID(args[0])
	if !id.Known() {
		return fmt.Errorf("%w: unknown source %q (known: %v)", errUsage, args[0], models.AllSources())
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logging.Error().Err(err).Msg("Error during shutdown")
		}
	}()

	ctx := cmd.Context()
	if err := a.register(ctx, cfg, []models.SourceID{id}); err != nil {
		return err
	}
	res, err := a.manager.RunCycle(ctx, id)
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if res.Status != models.CycleSuccess {
		return &cycleFailedError{result: res}
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
