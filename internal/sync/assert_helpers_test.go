// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package sync

import (
	"math"
	"testing"

	"github.com/tomtom215/healthbridge/internal/models"
)

// Test assertion helpers with "check" prefix.
// Using t.Helper() ensures error messages point to the calling line.

// checkStringEqual checks that got equals want, failing if not
func checkStringEqual(t *testing.T, fieldName, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: expected %q, got %q", fieldName, want, got)
	}
}

// checkIntEqual checks that got equals want
func checkIntEqual(t *testing.T, fieldName string, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("%s: expected %d, got %d", fieldName, want, got)
	}
}

// checkFloatEqual checks that got is within 1e-9 of want
func checkFloatEqual(t *testing.T, fieldName string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s: expected %v, got %v", fieldName, want, got)
	}
}

// checkFragNumber checks a numeric fragment value
func checkFragNumber(t *testing.T, frag *models.Fragment, date models.Date, field models.Field, want float64) {
	t.Helper()
	v, ok := frag.Records[date][field]
	if !ok {
		t.Errorf("%s %s: missing from fragment", date, field)
		return
	}
	if v.IsText {
		t.Errorf("%s %s: expected number, got text %q", date, field, v.Text)
		return
	}
	checkFloatEqual(t, string(date)+" "+string(field), v.Num, want)
}

// checkFragText checks a text fragment value
func checkFragText(t *testing.T, frag *models.Fragment, date models.Date, field models.Field, want string) {
	t.Helper()
	v, ok := frag.Records[date][field]
	if !ok {
		t.Errorf("%s %s: missing from fragment", date, field)
		return
	}
	checkStringEqual(t, string(date)+" "+string(field), v.Text, want)
}

// checkFragAbsent checks that a field was not set
func checkFragAbsent(t *testing.T, frag *models.Fragment, date models.Date, field models.Field) {
	t.Helper()
	if v, ok := frag.Records[date][field]; ok {
		t.Errorf("%s %s: expected absent, got %v", date, field, v)
	}
}
