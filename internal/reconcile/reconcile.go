// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

// Package reconcile computes safe increments for cumulative counter fields.
//
// A source reports a running total for a counter (e.g. hydration) each cycle.
// The persisted value is additive across cycles, so only the part of the
// total not yet merged may be applied. A total lower than the last one seen
// means the source counter was reset and a new accumulation window started;
// the whole reported total is then the increment. Increments are never
// negative.
package reconcile

import (
	"math"

	"github.com/tomtom215/healthbridge/internal/models"
)

// Increment returns the amount to add to the persisted counter for date given
// the source's reported total and the last total merged from that source.
func Increment(_ models.Date, reportedTotal, lastKnownMergedTotal float64) float64 {
	reported := sanitize(reportedTotal)
	last := sanitize(lastKnownMergedTotal)
	if reported < last {
		return reported
	}
	return reported - last
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// DefaultRetentionDays bounds how long per-date totals are remembered.
const DefaultRetentionDays = 14

// Baseline holds the last reported counter totals of one source, keyed by
// date. It is the counter half of a SourceState and must be persisted with it.
type Baseline map[models.Date]map[models.Field]float64

// Lookup returns the last reported total for (date, field), or 0 if unseen.
func (b Baseline) Lookup(date models.Date, field models.Field) float64 {
	if b == nil {
		return 0
	}
	return b[date][field]
}

// Clone returns a deep copy of the baseline.
func (b Baseline) Clone() Baseline {
	out := make(Baseline, len(b))
	for d, fields := range b {
		inner := make(map[models.Field]float64, len(fields))
		for f, v := range fields {
			inner[f] = v
		}
		out[d] = inner
	}
	return out
}

// Advance records reported totals and forgets dates older than retentionDays
// before today. Dates inside the window not present in reported are kept.
func (b Baseline) Advance(reported map[models.Date]map[models.Field]float64, today models.Date, retentionDays int) Baseline {
	out := b.Clone()
	for d, fields := range reported {
		if out[d] == nil {
			out[d] = make(map[models.Field]float64, len(fields))
		}
		for f, v := range fields {
			out[d][f] = sanitize(v)
		}
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	cutoff := today.AddDays(-retentionDays)
	for d := range out {
		if d.Before(cutoff) {
			delete(out, d)
		}
	}
	return out
}
