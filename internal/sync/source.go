// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package sync

import (
	"context"
	"time"

	"github.com/tomtom215/healthbridge/internal/config"
	"github.com/tomtom215/healthbridge/internal/credentials"
	"github.com/tomtom215/healthbridge/internal/models"
	"github.com/tomtom215/healthbridge/internal/units"
)

// Source is one provider adapter. Fetch returns canonical fields only; the
// provider's own vocabulary never leaves the adapter.
//
// Fetch must not keep state about counters between calls. Reported totals
// are returned as-is and reconciled by the merger.
type Source interface {
	ID() models.SourceID
	Kind() models.SourceKind
	Fetch(ctx context.Context, cred models.Credential, window models.DateRange) (*models.Fragment, error)
}

// Acknowledger is implemented by push-style sources that hold data until
// it has been merged. Ack is called once the fragment is persisted.
type Acknowledger interface {
	Ack(frag *models.Fragment)
}

// Registration binds a Source to its schedule and credential handling.
type Registration struct {
	Source Source
	// Window returns the dates to fetch for a cycle starting on today.
	Window func(today models.Date) models.DateRange
	// Bootstrap is the credential derived from configuration.
	Bootstrap models.Credential
	// Refresher renews Bootstrap; nil for sources without credentials.
	Refresher credentials.Refresher
	Schedule  config.Schedule
}

// setNumber normalizes v into field's canonical unit and stores it. A value
// that cannot be normalized is recorded as a data shape issue.
func setNumber(frag *models.Fragment, date models.Date, field models.Field, v float64, unit units.Unit) {
	n, err := units.Normalize(v, unit, field)
	if err != nil {
		frag.Skip(date, field, err.Error())
		return
	}
	frag.Set(date, field, models.Number(n))
}

// skipDataShape records a malformed per-date document as an issue against
// date and swallows it. Any other error is returned unchanged.
func skipDataShape(frag *models.Fragment, date models.Date, err error) error {
	if err == nil || Classify(err) != KindDataShape {
		return err
	}
	frag.Skip(date, "", err.Error())
	return nil
}

// nowUTC stamps fragments with their fetch time.
var nowUTC = func() time.Time { return time.Now().UTC() }

func lookback(days int) func(models.Date) models.DateRange {
	return func(today models.Date) models.DateRange {
		return models.LastDays(today, days)
	}
}
