// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

// Package merge applies source fragments to the persisted record set.
//
// The Merger is the only writer of the record set. Every Apply call runs
// under one mutex: rows touched by the fragment are read, merged in memory
// and written back with a single atomic WriteRows call. A fragment therefore
// lands completely or not at all, and two sources finishing at the same time
// never interleave on a row.
//
// Field rules:
//
//   - A field absent from the fragment is never touched.
//   - A field absent from the row is set from the fragment.
//   - A counter field is owned by one source per date. The owner adds the
//     reconcile.Increment of its reported total against its baseline. A
//     higher-ranked source takes ownership and replaces the value with its
//     own total; a lower-ranked one is ignored.
//   - Any other field is overwritten only when the incoming source ranks at
//     least as high as the source that last wrote it.
package merge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/healthbridge/internal/logging"
	"github.com/tomtom215/healthbridge/internal/metrics"
	"github.com/tomtom215/healthbridge/internal/models"
	"github.com/tomtom215/healthbridge/internal/reconcile"
)

// RecordSink is the persisted record set.
//
// ReadRow returns (nil, nil) when no row exists for date. WriteRows must be
// atomic: either every row is stored or none is.
type RecordSink interface {
	ReadRow(ctx context.Context, date models.Date) (*models.CanonicalDailyRecord, error)
	WriteRow(ctx context.Context, rec *models.CanonicalDailyRecord) error
	WriteRows(ctx context.Context, recs []*models.CanonicalDailyRecord) error
	ListRows(ctx context.Context, r models.DateRange) ([]*models.CanonicalDailyRecord, error)
}

// Defaults for sink write retries.
const (
	DefaultWriteAttempts  = 3
	DefaultWriteRetryWait = 5 * time.Second
)

// ErrNilFragment is returned when Apply is called without a fragment.
var ErrNilFragment = errors.New("nil fragment")

// Options tunes a Merger.
type Options struct {
	// WriteAttempts is how many times a failed sink write is tried.
	WriteAttempts int
	// WriteRetryWait is the fixed wait between write attempts.
	WriteRetryWait time.Duration
	// Now overrides the clock used for UpdatedAt when a fragment carries no
	// fetch time.
	Now func() time.Time
}

// Merger serializes all writes to a RecordSink.
type Merger struct {
	mu         sync.Mutex
	sink       RecordSink
	priorities *PriorityTable
	attempts   int
	retryWait  time.Duration
	now        func() time.Time
}

// NewMerger creates a merger writing to sink with the given priority table.
func NewMerger(sink RecordSink, priorities *PriorityTable, opts Options) *Merger {
	if priorities == nil {
		priorities = NewPriorityTable(DefaultPriorities(), nil)
	}
	if opts.WriteAttempts <= 0 {
		opts.WriteAttempts = DefaultWriteAttempts
	}
	if opts.WriteRetryWait < 0 {
		opts.WriteRetryWait = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Merger{
		sink:       sink,
		priorities: priorities,
		attempts:   opts.WriteAttempts,
		retryWait:  opts.WriteRetryWait,
		now:        opts.Now,
	}
}

// Priorities returns the table the merger resolves conflicts with.
func (m *Merger) Priorities() *PriorityTable {
	return m.priorities
}

// Apply merges frag into the record set. baseline holds the source's last
// reported counter totals and is only read; advancing it after a successful
// merge is the caller's job.
//
// An empty fragment is a no-op and performs no sink write.
func (m *Merger) Apply(ctx context.Context, frag *models.Fragment, baseline reconcile.Baseline) (*Result, error) {
	if frag == nil {
		return nil, ErrNilFragment
	}
	result := &Result{Source: frag.Source}
	if frag.Empty() {
		return result, nil
	}

	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	// Nothing has been read or written yet, so a cancelled caller can still
	// back out cleanly.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stamp := frag.FetchedAt
	if stamp.IsZero() {
		stamp = m.now()
	}

	var updated []*models.CanonicalDailyRecord
	for _, date := range frag.Dates() {
		incoming := frag.Records[date]
		if len(incoming) == 0 {
			continue
		}
		existing, err := m.sink.ReadRow(ctx, date)
		if err != nil {
			return nil, fmt.Errorf("read row %s: %w", date, err)
		}
		row, changed := m.mergeRow(existing, date, incoming, frag.Source, baseline, result)
		result.Dates++
		if !changed {
			continue
		}
		row.UpdatedAt = stamp.UTC()
		updated = append(updated, row)
	}

	if len(updated) > 0 {
		if err := m.write(ctx, updated); err != nil {
			return nil, err
		}
	}
	result.RowsWritten = len(updated)

	for _, d := range result.Decisions {
		metrics.MergeDecisions.WithLabelValues(string(d.Field), string(d.Decision)).Inc()
		if d.Increment > 0 {
			metrics.CounterIncrements.WithLabelValues(string(d.Field)).Add(d.Increment)
		}
	}
	metrics.MergeRowsWritten.Add(float64(result.RowsWritten))
	metrics.MergeDuration.Observe(time.Since(start).Seconds())

	logging.Debug().
		Str("source", string(frag.Source)).
		Int("dates", result.Dates).
		Int("rows_written", result.RowsWritten).
		Int("fields_written", result.FieldsWritten).
		Int("conflicts", len(result.Conflicts)).
		Msg("Fragment merged")

	return result, nil
}

// write stores rows, retrying with a fixed wait. Writes run detached from the
// caller's cancellation so an attempt in progress is never cut short; a
// cancellation between attempts abandons the merge with nothing applied.
func (m *Merger) write(ctx context.Context, rows []*models.CanonicalDailyRecord) error {
	writeCtx := context.WithoutCancel(ctx)
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		lastErr = m.sink.WriteRows(writeCtx, rows)
		if lastErr == nil {
			return nil
		}
		metrics.MergeWriteFailures.Inc()
		logging.Warn().Err(lastErr).Int("attempt", attempt).Int("rows", len(rows)).Msg("Record sink write failed")
		if attempt == m.attempts {
			break
		}
		if m.retryWait > 0 {
			timer := time.NewTimer(m.retryWait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("write abandoned after %d attempts: %w", attempt, ctx.Err())
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("write %d rows after %d attempts: %w", len(rows), m.attempts, lastErr)
}

// mergeRow merges incoming into a copy of existing. It reports whether the
// row differs from what is stored.
func (m *Merger) mergeRow(
	existing *models.CanonicalDailyRecord,
	date models.Date,
	incoming map[models.Field]models.Value,
	source models.SourceID,
	baseline reconcile.Baseline,
	result *Result,
) (*models.CanonicalDailyRecord, bool) {
	created := existing == nil
	var row *models.CanonicalDailyRecord
	if created {
		row = models.NewRecord(date)
	} else {
		row = existing.Clone()
	}

	changed := created
	for _, field := range sortedFields(incoming) {
		in := incoming[field]
		current, present := row.Fields[field]
		owner := row.Provenance[field]
		d := FieldDecision{Date: date, Field: field, Source: source, Previous: owner}

		switch {
		case field.IsCounter() && !in.IsText:
			inc := reconcile.Increment(date, in.Num, baseline.Lookup(date, field))
			switch {
			case !present:
				row.Fields[field] = models.Number(inc)
				row.Provenance[field] = source
				d.Increment = inc
				d.Decision = addedOrCreated(created)
			case owner == source || owner == "":
				if inc <= 0 {
					d.Decision = DecisionUnchanged
					break
				}
				row.Fields[field] = models.Number(current.Num + inc)
				row.Provenance[field] = source
				d.Increment = inc
				d.Decision = DecisionCounterIncrement
			case m.priorities.Rank(field, source) >= m.priorities.Rank(field, owner):
				// Two devices count the same activity. The winner's own running
				// total replaces the loser's instead of adding to it.
				row.Fields[field] = models.Number(reconcile.Increment(date, in.Num, 0))
				row.Provenance[field] = source
				d.Decision = DecisionOverwritten
				result.Conflicts = append(result.Conflicts, Conflict{
					Date: date, Field: field, Winner: source, Loser: owner, Decision: DecisionOverwritten,
				})
			default:
				d.Decision = DecisionKeptHigherPriority
				result.Conflicts = append(result.Conflicts, Conflict{
					Date: date, Field: field, Winner: owner, Loser: source, Decision: DecisionKeptHigherPriority,
				})
			}

		case !present:
			row.Fields[field] = in
			row.Provenance[field] = source
			d.Decision = addedOrCreated(created)

		case m.priorities.Rank(field, source) >= m.priorities.Rank(field, owner):
			if current.Equal(in) && owner == source {
				d.Decision = DecisionUnchanged
				break
			}
			row.Fields[field] = in
			row.Provenance[field] = source
			d.Decision = DecisionOverwritten
			if owner != "" && owner != source {
				result.Conflicts = append(result.Conflicts, Conflict{
					Date: date, Field: field, Winner: source, Loser: owner, Decision: DecisionOverwritten,
				})
			}

		default:
			d.Decision = DecisionKeptHigherPriority
			result.Conflicts = append(result.Conflicts, Conflict{
				Date: date, Field: field, Winner: owner, Loser: source, Decision: DecisionKeptHigherPriority,
			})
		}

		if d.Decision.writes() {
			changed = true
			result.FieldsWritten++
		}
		result.Decisions = append(result.Decisions, d)
	}
	return row, changed
}

func addedOrCreated(created bool) Decision {
	if created {
		return DecisionCreated
	}
	return DecisionAdded
}

func sortedFields(m map[models.Field]models.Value) []models.Field {
	out := make([]models.Field, 0, len(m))
	for f := range m {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
