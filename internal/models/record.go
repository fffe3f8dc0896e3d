// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

// Package models defines the canonical per-date record schema shared by every
// source adapter, the merger and the persistence layers.
//
// A CanonicalDailyRecord is keyed by calendar Date. Each Field is optional:
// absence is represented by the field not being in the map, never by a zero
// value. Provenance records which source last wrote each populated field.
package models

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// DateLayout is the canonical textual form of a Date.
const DateLayout = "2006-01-02"

// Date is a calendar date in YYYY-MM-DD form.
type Date string

// ParseDate validates and normalizes a date string.
// Timestamps such as "2025-06-01T07:12:00" are truncated to their date part.
func ParseDate(s string) (Date, error) {
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date(t.Format(DateLayout)), nil
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

// Time returns the date as midnight UTC.
func (d Date) Time() time.Time {
	t, err := time.Parse(DateLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

// AddDays returns the date n days after d.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// Before reports whether d is strictly before other.
func (d Date) Before(other Date) bool {
	return d < other
}

func (d Date) String() string {
	return string(d)
}

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	From Date `json:"from"`
	To   Date `json:"to"`
}

// LastDays returns the range covering the n days ending on today (inclusive).
func LastDays(today Date, n int) DateRange {
	if n < 1 {
		n = 1
	}
	return DateRange{From: today.AddDays(-(n - 1)), To: today}
}

// Contains reports whether d falls inside the range.
func (r DateRange) Contains(d Date) bool {
	return d >= r.From && d <= r.To
}

// Days enumerates every date in the range in ascending order.
func (r DateRange) Days() []Date {
	var out []Date
	for d := r.From; d <= r.To; d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

// Value is a single field value: either a number or a text description.
type Value struct {
	Num    float64 `json:"num,omitempty"`
	Text   string  `json:"text,omitempty"`
	IsText bool    `json:"is_text,omitempty"`
}

// Number constructs a numeric Value.
func Number(v float64) Value {
	return Value{Num: v}
}

// Text constructs a text Value.
func Text(s string) Value {
	return Value{Text: s, IsText: true}
}

// Equal reports whether two values are identical.
func (v Value) Equal(other Value) bool {
	if v.IsText != other.IsText {
		return false
	}
	if v.IsText {
		return v.Text == other.Text
	}
	return v.Num == other.Num
}

func (v Value) String() string {
	if v.IsText {
		return v.Text
	}
	return strconv.FormatFloat(v.Num, 'f', -1, 64)
}

// CanonicalDailyRecord is one row of the persisted record set.
type CanonicalDailyRecord struct {
	Date       Date               `json:"date"`
	Fields     map[Field]Value    `json:"fields"`
	Provenance map[Field]SourceID `json:"provenance,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// NewRecord returns an empty record for the given date.
func NewRecord(date Date) *CanonicalDailyRecord {
	return &CanonicalDailyRecord{
		Date:       date,
		Fields:     make(map[Field]Value),
		Provenance: make(map[Field]SourceID),
	}
}

// Clone returns a deep copy of the record.
func (r *CanonicalDailyRecord) Clone() *CanonicalDailyRecord {
	if r == nil {
		return nil
	}
	c := NewRecord(r.Date)
	c.UpdatedAt = r.UpdatedAt
	for k, v := range r.Fields {
		c.Fields[k] = v
	}
	for k, v := range r.Provenance {
		c.Provenance[k] = v
	}
	return c
}

// Get returns the value of a field and whether it is present.
func (r *CanonicalDailyRecord) Get(f Field) (Value, bool) {
	v, ok := r.Fields[f]
	return v, ok
}

// FieldNames returns the populated fields in sorted order.
func (r *CanonicalDailyRecord) FieldNames() []Field {
	names := make([]Field, 0, len(r.Fields))
	for f := range r.Fields {
		names = append(names, f)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// DataShapeIssue describes a provider record that was skipped because its
// shape did not match what the adapter expected.
type DataShapeIssue struct {
	Date   Date   `json:"date,omitempty"`
	Field  Field  `json:"field,omitempty"`
	Reason string `json:"reason"`
}

// Fragment is the output of one source adapter for one cycle.
type Fragment struct {
	Source    SourceID                 `json:"source"`
	FetchedAt time.Time                `json:"fetched_at"`
	Records   map[Date]map[Field]Value `json:"records"`
	Issues    []DataShapeIssue         `json:"issues,omitempty"`
}

// NewFragment returns an empty fragment for source.
func NewFragment(source SourceID, fetchedAt time.Time) *Fragment {
	return &Fragment{
		Source:    source,
		FetchedAt: fetchedAt,
		Records:   make(map[Date]map[Field]Value),
	}
}

// Set stores a value for (date, field), creating the date entry if needed.
func (f *Fragment) Set(date Date, field Field, v Value) {
	fields, ok := f.Records[date]
	if !ok {
		fields = make(map[Field]Value)
		f.Records[date] = fields
	}
	fields[field] = v
}

// Skip records a data shape issue.
func (f *Fragment) Skip(date Date, field Field, reason string) {
	f.Issues = append(f.Issues, DataShapeIssue{Date: date, Field: field, Reason: reason})
}

// Empty reports whether the fragment carries no field values.
func (f *Fragment) Empty() bool {
	if f == nil {
		return true
	}
	for _, fields := range f.Records {
		if len(fields) > 0 {
			return false
		}
	}
	return true
}

// Dates returns the fragment's dates in ascending order.
func (f *Fragment) Dates() []Date {
	dates := make([]Date, 0, len(f.Records))
	for d := range f.Records {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })
	return dates
}

// Counters returns the reported counter totals carried by the fragment.
func (f *Fragment) Counters() map[Date]map[Field]float64 {
	out := make(map[Date]map[Field]float64)
	for date, fields := range f.Records {
		for field, v := range fields {
			if !field.IsCounter() || v.IsText {
				continue
			}
			if out[date] == nil {
				out[date] = make(map[Field]float64)
			}
			out[date][field] = v.Num
		}
	}
	return out
}
