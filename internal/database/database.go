// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

// Package database persists the canonical record set in DuckDB.
//
// The daily_records table has one row per date. Its column set is the union
// of every field ever written: a field seen for the first time is added with
// ALTER TABLE ... ADD COLUMN and existing rows simply read NULL for it.
// Columns are never dropped or retyped.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/healthbridge/internal/config"
	"github.com/tomtom215/healthbridge/internal/logging"
)

// DB wraps the DuckDB connection and implements the record sink.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig

	// columns caches the dynamic field columns of daily_records and their
	// SQL types.
	columns   map[string]string
	columnsMu sync.RWMutex

	// writeMu serializes writers; DuckDB allows one writing transaction per
	// table at a time.
	writeMu sync.Mutex
}

// New opens the database and ensures the schema exists.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Use 0750 permissions (owner: rwx, group: rx, other: none) per gosec G301
	if cfg.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
	}

	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "512MB"
	}
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, maxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ALTER TABLE and the column cache coherent.
	conn.SetMaxOpenConns(1)

	db := &DB{
		conn:    conn,
		cfg:     cfg,
		columns: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.InitTimeout())
	defer cancel()

	if err := db.initialize(ctx); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Int("threads", numThreads).
		Int("field_columns", db.columnCount()).
		Msg("Record database opened")

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Ping verifies the connection is usable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Checkpoint flushes the write-ahead log into the database file.
func (db *DB) Checkpoint(ctx context.Context) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if _, err := db.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}
