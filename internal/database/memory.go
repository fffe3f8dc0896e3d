// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package database

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/healthbridge/internal/models"
)

// MemoryStore is a process-local record sink used by tests and dry runs.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[models.Date]*models.CanonicalDailyRecord
}

// NewMemoryStore returns an empty in-memory record sink.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[models.Date]*models.CanonicalDailyRecord)}
}

func (s *MemoryStore) ReadRow(_ context.Context, date models.Date) (*models.CanonicalDailyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows[date].Clone(), nil
}

func (s *MemoryStore) WriteRow(ctx context.Context, rec *models.CanonicalDailyRecord) error {
	return s.WriteRows(ctx, []*models.CanonicalDailyRecord{rec})
}

func (s *MemoryStore) WriteRows(_ context.Context, recs []*models.CanonicalDailyRecord) error {
	for _, r := range recs {
		if _, err := models.ParseDate(string(r.Date)); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.rows[r.Date] = r.Clone()
	}
	return nil
}

func (s *MemoryStore) ListRows(_ context.Context, r models.DateRange) ([]*models.CanonicalDailyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.CanonicalDailyRecord
	for d, row := range s.rows {
		if r.Contains(d) {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// Len returns the number of stored rows.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
