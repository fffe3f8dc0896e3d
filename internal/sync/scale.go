// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package sync

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/healthbridge/internal/config"
	"github.com/tomtom215/healthbridge/internal/metrics"
	"github.com/tomtom215/healthbridge/internal/models"
	"github.com/tomtom215/healthbridge/internal/units"
)

// Aria upload packet layout.
const (
	ScaleMinPacketSize = 60
	scaleUserOffset    = 8
	scaleWeightOffset  = 54
	scaleBinaryPrefix  = "Binary:"
)

var (
	// ErrInvalidPacket is returned for uploads that carry no usable reading.
	ErrInvalidPacket = errors.New("invalid scale packet")
	// ErrFilteredUser is returned when the reading belongs to another user.
	ErrFilteredUser = errors.New("scale reading for a different user")
	// ErrQueueFull is returned when readings arrive faster than cycles drain them.
	ErrQueueFull = errors.New("scale reading queue full")
)

// ScaleReading is one weigh-in.
type ScaleReading struct {
	At       time.Time `json:"at"`
	WeightKg float64   `json:"weight_kg"`
	UserID   string    `json:"user_id"`
}

// ParseScalePacket decodes an upload. The weight is a little-endian uint32
// of grams at offset 54. queryUser, when set, names the user; otherwise the
// user id is the little-endian uint32 at offset 8.
func ParseScalePacket(raw []byte, queryUser string) (ScaleReading, error) {
	if len(raw) < ScaleMinPacketSize {
		return ScaleReading{}, fmt.Errorf("%w: %d bytes", ErrInvalidPacket, len(raw))
	}
	grams, err := units.Uint32At(raw, scaleWeightOffset, binary.LittleEndian)
	if err != nil {
		return ScaleReading{}, fmt.Errorf("%w: %v", ErrInvalidPacket, err)
	}
	if grams == 0 {
		return ScaleReading{}, fmt.Errorf("%w: zero weight", ErrInvalidPacket)
	}
	kg, err := units.Normalize(float64(grams), units.Gram, models.FieldWeight)
	if err != nil {
		return ScaleReading{}, fmt.Errorf("%w: %v", ErrInvalidPacket, err)
	}

	user := strings.TrimSpace(queryUser)
	if user == "" {
		id, err := units.Uint32At(raw, scaleUserOffset, binary.LittleEndian)
		if err != nil {
			return ScaleReading{}, fmt.Errorf("%w: %v", ErrInvalidPacket, err)
		}
		user = scaleBinaryPrefix + strconv.FormatUint(uint64(id), 10)
	}

	return ScaleReading{WeightKg: units.Round(kg, 2), UserID: user}, nil
}

// MatchesUserFilter reports whether userID passes filter. An empty filter
// matches everyone; the Binary: prefix is optional on either side.
func MatchesUserFilter(filter, userID string) bool {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return true
	}
	userID = strings.TrimSpace(userID)
	if filter == userID {
		return true
	}
	return strings.TrimPrefix(filter, scaleBinaryPrefix) == strings.TrimPrefix(userID, scaleBinaryPrefix)
}

// ScaleSource is the push-style adapter for the Aria scale. Uploads are
// queued by Ingest and turned into a fragment by the next cycle.
type ScaleSource struct {
	filter   string
	capacity int
	now      func() time.Time

	mu       sync.Mutex
	queue    []ScaleReading
	inflight int
}

// NewScaleSource creates the adapter.
func NewScaleSource(cfg *config.AriaConfig) *ScaleSource {
	capacity := cfg.QueueSize
	if capacity <= 0 {
		capacity = 100
	}
	return &ScaleSource{filter: cfg.UserFilter, capacity: capacity, now: time.Now}
}

// Configure applies reloaded settings. Queued readings are kept.
func (s *ScaleSource) Configure(cfg *config.AriaConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = cfg.UserFilter
	if cfg.QueueSize > 0 {
		s.capacity = cfg.QueueSize
	}
}

func (s *ScaleSource) ID() models.SourceID     { return models.SourceAria }
func (s *ScaleSource) Kind() models.SourceKind { return models.KindScale }

// Ingest parses, filters and queues one upload.
func (s *ScaleSource) Ingest(raw []byte, queryUser string) (ScaleReading, error) {
	reading, err := ParseScalePacket(raw, queryUser)
	if err != nil {
		metrics.RecordScalePayload("invalid")
		return ScaleReading{}, err
	}
	reading.At = s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !MatchesUserFilter(s.filter, reading.UserID) {
		metrics.RecordScalePayload("filtered")
		return reading, fmt.Errorf("%w: %s", ErrFilteredUser, reading.UserID)
	}
	if len(s.queue) >= s.capacity {
		metrics.RecordScalePayload("queue_full")
		return reading, ErrQueueFull
	}
	s.queue = append(s.queue, reading)
	metrics.RecordScalePayload("accepted")
	return reading, nil
}

// Pending returns the number of queued readings.
func (s *ScaleSource) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Fetch implements Source. Readings are keyed by their local date; the last
// reading of a date wins. The readings stay queued until Ack so a failed
// merge does not lose them.
func (s *ScaleSource) Fetch(_ context.Context, _ models.Credential, _ models.DateRange) (*models.Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frag := models.NewFragment(models.SourceAria, s.now().UTC())
	for _, r := range s.queue {
		frag.Set(models.DateOf(r.At), models.FieldWeight, models.Number(r.WeightKg))
	}
	s.inflight = len(s.queue)
	return frag, nil
}

// Ack drops the readings handed out by the last Fetch.
func (s *ScaleSource) Ack(*models.Fragment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.inflight
	if n > len(s.queue) {
		n = len(s.queue)
	}
	s.queue = append([]ScaleReading(nil), s.queue[n:]...)
	s.inflight = 0
}

var (
	_ Source       = (*ScaleSource)(nil)
	_ Acknowledger = (*ScaleSource)(nil)
)
