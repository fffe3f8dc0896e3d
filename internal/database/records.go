// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/healthbridge/internal/metrics"
	"github.com/tomtom215/healthbridge/internal/models"
)

// ReadRow returns the record for date, or nil if there is none.
func (db *DB) ReadRow(ctx context.Context, date models.Date) (_ *models.CanonicalDailyRecord, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("read_row", time.Since(start), err) }()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT * FROM daily_records WHERE date = CAST(? AS DATE) LIMIT 1`, string(date))
	if err != nil {
		return nil, fmt.Errorf("query row %s: %w", date, err)
	}
	defer closeWithLog(rows, "rows")

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// ListRows returns the records in r ordered by date.
func (db *DB) ListRows(ctx context.Context, r models.DateRange) (_ []*models.CanonicalDailyRecord, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_rows", time.Since(start), err) }()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT * FROM daily_records WHERE date BETWEEN CAST(? AS DATE) AND CAST(? AS DATE) ORDER BY date`,
		string(r.From), string(r.To))
	if err != nil {
		return nil, fmt.Errorf("query rows %s..%s: %w", r.From, r.To, err)
	}
	defer closeWithLog(rows, "rows")
	return scanRecords(rows)
}

// WriteRow stores one record, replacing the previous row for its date.
func (db *DB) WriteRow(ctx context.Context, rec *models.CanonicalDailyRecord) error {
	return db.WriteRows(ctx, []*models.CanonicalDailyRecord{rec})
}

// WriteRows stores records in a single transaction. New field columns are
// added first; a failed transaction leaves them in place, which is harmless
// since columns only ever grow.
func (db *DB) WriteRows(ctx context.Context, recs []*models.CanonicalDailyRecord) (err error) {
	if len(recs) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery("write_rows", time.Since(start), err) }()

	for _, r := range recs {
		if _, err := models.ParseDate(string(r.Date)); err != nil {
			return err
		}
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	missing, err := db.missingColumns(recs)
	if err != nil {
		return err
	}
	if err := db.addColumns(ctx, missing); err != nil {
		return err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollbackQuietly(tx)

	for _, r := range recs {
		if err := db.replaceRow(ctx, tx, r); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit records: %w", err)
	}
	return nil
}

func (db *DB) replaceRow(ctx context.Context, tx *sql.Tx, r *models.CanonicalDailyRecord) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM daily_records WHERE date = CAST(? AS DATE)`, string(r.Date)); err != nil {
		return fmt.Errorf("delete row %s: %w", r.Date, err)
	}

	provenance, err := json.Marshal(r.Provenance)
	if err != nil {
		return fmt.Errorf("encode provenance %s: %w", r.Date, err)
	}
	updatedAt := r.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	cols := []string{colDate, colProvenance, colUpdatedAt}
	placeholders := []string{"CAST(? AS DATE)", "?", "?"}
	args := []any{string(r.Date), string(provenance), updatedAt}

	for _, f := range r.FieldNames() {
		v := r.Fields[f]
		name := string(f)
		switch db.columnType(name) {
		case sqlTypeText:
			args = append(args, v.String())
		default:
			if v.IsText {
				return fmt.Errorf("row %s: text value for numeric column %s", r.Date, name)
			}
			args = append(args, v.Num)
		}
		cols = append(cols, quoteIdent(name))
		placeholders = append(placeholders, "?")
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		recordsTable, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert row %s: %w", r.Date, err)
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]*models.CanonicalDailyRecord, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var out []*models.CanonicalDailyRecord
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		rec := models.NewRecord("")
		for i, name := range cols {
			v := vals[i]
			if v == nil {
				continue
			}
			switch name {
			case colDate:
				if t, ok := v.(time.Time); ok {
					rec.Date = models.DateOf(t.UTC())
				}
			case colProvenance:
				if s, ok := v.(string); ok && s != "" {
					if err := json.Unmarshal([]byte(s), &rec.Provenance); err != nil {
						return nil, fmt.Errorf("decode provenance: %w", err)
					}
				}
			case colUpdatedAt:
				if t, ok := v.(time.Time); ok {
					rec.UpdatedAt = t.UTC()
				}
			default:
				if val, ok := toValue(v); ok {
					rec.Fields[models.Field(name)] = val
				}
			}
		}
		if rec.Provenance == nil {
			rec.Provenance = make(map[models.Field]models.SourceID)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func toValue(v any) (models.Value, bool) {
	switch t := v.(type) {
	case float64:
		return models.Number(t), true
	case float32:
		return models.Number(float64(t)), true
	case int64:
		return models.Number(float64(t)), true
	case int32:
		return models.Number(float64(t)), true
	case string:
		return models.Text(t), true
	}
	return models.Value{}, false
}
