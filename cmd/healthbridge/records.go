// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/healthbridge/internal/database"
	"github.com/tomtom215/healthbridge/internal/logging"
	"github.com/tomtom215/healthbridge/internal/models"
)

var (
	flagFrom string
	flagTo   string
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Print canonical rows as JSON",
	Long: `Print the canonical rows for an inclusive date range as a JSON array.
--to defaults to today and --from defaults to seven days before --to.`,
	Args: cobra.NoArgs,
	RunE: runRecords,
}

func init() {
	recordsCmd.Flags().StringVar(&flagFrom, "from", "", "first date, YYYY-MM-DD")
	recordsCmd.Flags().StringVar(&flagTo, "to", "", "last date, YYYY-MM-DD")
}

func runRecords(cmd *cobra.Command, _ []string) error {
	rng, err := recordsRange(flagFrom, flagTo, models.DateOf(time.Now()))
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing record store")
		}
	}()

	rows, err := db.ListRows(cmd.Context(), rng)
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}
	if rows == nil {
		rows = []*models.CanonicalDailyRecord{}
	}
	return printJSON(cmd.OutOrStdout(), rows)
}

// recordsRange resolves the flag values against today.
func recordsRange(from, to string, today models.Date) (models.DateRange, error) {
	rng := models.DateRange{To: today}
	if to != "" {
		d, err := parseFlagDate("--to", to)
		if err != nil {
			return rng, err
		}
		rng.To = d
	}
	rng.From = rng.To.AddDays(-7)
	if from != "" {
		d, err := parseFlagDate("--from", from)
		if err != nil {
			return rng, err
		}
		rng.From = d
	}
	if rng.To.Before(rng.From) {
		return rng, fmt.Errorf("%w: --to %s is before --from %s", errUsage, rng.To, rng.From)
	}
	return rng, nil
}

func parseFlagDate(flag, raw string) (models.Date, error) {
	d, err := models.ParseDate(raw)
	if err != nil || string(d) != raw {
		return "", fmt.Errorf("%w: %s must be YYYY-MM-DD, got %q", errUsage, flag, raw)
	}
	return d, nil
}
