// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package database

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/tomtom215/healthbridge/internal/logging"
	"github.com/tomtom215/healthbridge/internal/models"
)

const (
	recordsTable     = "daily_records"
	colDate          = "date"
	colProvenance    = "_provenance"
	colUpdatedAt     = "_updated_at"
	sqlTypeNumeric   = "DOUBLE"
	sqlTypeText      = "VARCHAR"
	createRecordsSQL = `CREATE TABLE IF NOT EXISTS daily_records (
	date DATE NOT NULL,
	_provenance VARCHAR,
	_updated_at TIMESTAMP
)`
)

var columnNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// initialize creates the records table and loads the existing field columns.
func (db *DB) initialize(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, createRecordsSQL); err != nil {
		return fmt.Errorf("create %s: %w", recordsTable, err)
	}
	return db.loadColumns(ctx)
}

func (db *DB) loadColumns(ctx context.Context) error {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT column_name, data_type FROM information_schema.columns WHERE table_name = ?`, recordsTable)
	if err != nil {
		return fmt.Errorf("list columns: %w", err)
	}
	defer closeWithLog(rows, "rows")

	cols := make(map[string]string)
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return fmt.Errorf("scan column: %w", err)
		}
		if isReservedColumn(name) {
			continue
		}
		cols[name] = strings.ToUpper(typ)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate columns: %w", err)
	}

	db.columnsMu.Lock()
	db.columns = cols
	db.columnsMu.Unlock()
	return nil
}

func isReservedColumn(name string) bool {
	return name == colDate || strings.HasPrefix(name, "_")
}

// validateColumn rejects field names that are not safe identifiers.
func validateColumn(f models.Field) error {
	name := string(f)
	if !columnNamePattern.MatchString(name) || isReservedColumn(name) {
		return fmt.Errorf("%q: %w", name, ErrInvalidColumn)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlTypeFor(f models.Field, v models.Value) string {
	if f.IsText() || v.IsText {
		return sqlTypeText
	}
	return sqlTypeNumeric
}

// missingColumns returns the fields in recs that have no column yet, with the
// SQL type each should be created with.
func (db *DB) missingColumns(recs []*models.CanonicalDailyRecord) (map[string]string, error) {
	db.columnsMu.RLock()
	defer db.columnsMu.RUnlock()

	missing := make(map[string]string)
	for _, r := range recs {
		for f, v := range r.Fields {
			if err := validateColumn(f); err != nil {
				return nil, err
			}
			name := string(f)
			if _, ok := db.columns[name]; ok {
				continue
			}
			if _, ok := missing[name]; !ok {
				missing[name] = sqlTypeFor(f, v)
			}
		}
	}
	return missing, nil
}

// addColumns grows the table. Existing rows are untouched and read NULL for
// the new columns.
func (db *DB) addColumns(ctx context.Context, missing map[string]string) error {
	if len(missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(missing))
	for name := range missing {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
			recordsTable, quoteIdent(name), missing[name])
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s: %w", name, err)
		}
		db.columnsMu.Lock()
		db.columns[name] = missing[name]
		db.columnsMu.Unlock()
		logging.Info().Str("column", name).Str("type", missing[name]).Msg("Record set column added")
	}
	return nil
}

// Columns returns the field columns currently in the table, sorted.
func (db *DB) Columns() []string {
	db.columnsMu.RLock()
	defer db.columnsMu.RUnlock()
	out := make([]string, 0, len(db.columns))
	for name := range db.columns {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (db *DB) columnCount() int {
	db.columnsMu.RLock()
	defer db.columnsMu.RUnlock()
	return len(db.columns)
}

func (db *DB) columnType(name string) string {
	db.columnsMu.RLock()
	defer db.columnsMu.RUnlock()
	return db.columns[name]
}
