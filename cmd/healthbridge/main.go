// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes.
const (
	exitSuccess    = 0
	exitFailure    = 1
	exitUsageError = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	err := rootCmd.Execute()
	if err == nil {
		return exitSuccess
	}

	var cycleErr *cycleFailedError
	if errors.As(err, &cycleErr) {
		// The result is already on stdout.
		return exitFailure
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	if errors.Is(err, errUsage) {
		return exitUsageError
	}
	return exitFailure
}
