// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package sync

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/healthbridge/internal/config"
	"github.com/tomtom215/healthbridge/internal/models"
)

// scalePacket builds a minimal upload with the given user id and weight.
func scalePacket(userID, grams uint32) []byte {
	raw := make([]byte, ScaleMinPacketSize)
	binary.LittleEndian.PutUint32(raw[scaleUserOffset:], userID)
	binary.LittleEndian.PutUint32(raw[scaleWeightOffset:], grams)
	return raw
}

func TestParseScalePacket(t *testing.T) {
	t.Run("weight and user from packet", func(t *testing.T) {
		r, err := ParseScalePacket(scalePacket(7, 80537), "")
		if err != nil {
			t.Fatalf("ParseScalePacket() error = %v", err)
		}
		checkFloatEqual(t, "WeightKg", r.WeightKg, 80.54)
		checkStringEqual(t, "UserID", r.UserID, "Binary:7")
	})

	t.Run("query user wins", func(t *testing.T) {
		r, err := ParseScalePacket(scalePacket(7, 70000), " alice ")
		if err != nil {
			t.Fatalf("ParseScalePacket() error = %v", err)
		}
		checkStringEqual(t, "UserID", r.UserID, "alice")
	})

	t.Run("short packet", func(t *testing.T) {
		_, err := ParseScalePacket(make([]byte, ScaleMinPacketSize-1), "")
		if !errors.Is(err, ErrInvalidPacket) {
			t.Errorf("expected ErrInvalidPacket, got %v", err)
		}
	})

	t.Run("zero weight", func(t *testing.T) {
		_, err := ParseScalePacket(scalePacket(7, 0), "")
		if !errors.Is(err, ErrInvalidPacket) {
			t.Errorf("expected ErrInvalidPacket, got %v", err)
		}
	})
}

func TestMatchesUserFilter(t *testing.T) {
	tests := []struct {
		filter, user string
		want         bool
	}{
		{"", "Binary:7", true},
		{"Binary:7", "Binary:7", true},
		{"7", "Binary:7", true},
		{"Binary:7", "7", true},
		{" 7 ", "Binary:7", true},
		{"8", "Binary:7", false},
		{"alice", "bob", false},
	}
	for _, tt := range tests {
		t.Run(tt.filter+"/"+tt.user, func(t *testing.T) {
			if got := MatchesUserFilter(tt.filter, tt.user); got != tt.want {
				t.Errorf("MatchesUserFilter(%q, %q) = %v, want %v", tt.filter, tt.user, got, tt.want)
			}
		})
	}
}

func TestScaleSource_IngestFetchAck(t *testing.T) {
	s := NewScaleSource(&config.AriaConfig{UserFilter: "7", QueueSize: 2})
	clock := time.Date(2026, 10, 14, 7, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	if _, err := s.Ingest(scalePacket(8, 90000), ""); !errors.Is(err, ErrFilteredUser) {
		t.Fatalf("expected ErrFilteredUser, got %v", err)
	}
	if _, err := s.Ingest(scalePacket(7, 80000), ""); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	clock = clock.Add(time.Hour)
	if _, err := s.Ingest(scalePacket(7, 79500), ""); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if _, err := s.Ingest(scalePacket(7, 79000), ""); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	checkIntEqual(t, "Pending", s.Pending(), 2)

	frag, err := s.Fetch(context.Background(), models.Credential{}, models.DateRange{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	// The later reading of the day wins.
	checkFragNumber(t, frag, "2026-10-14", models.FieldWeight, 79.5)

	// Readings stay queued until acknowledged.
	checkIntEqual(t, "Pending after fetch", s.Pending(), 2)

	// A reading that arrives between Fetch and Ack is kept.
	if _, err := s.Ingest(scalePacket(7, 79000), ""); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("queue should still be full, got %v", err)
	}
	s.Ack(frag)
	checkIntEqual(t, "Pending after ack", s.Pending(), 0)
}

func TestScaleSource_AckKeepsLateReadings(t *testing.T) {
	s := NewScaleSource(&config.AriaConfig{QueueSize: 10})

	if _, err := s.Ingest(scalePacket(1, 80000), ""); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	frag, _ := s.Fetch(context.Background(), models.Credential{}, models.DateRange{})
	if _, err := s.Ingest(scalePacket(1, 81000), ""); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	s.Ack(frag)
	checkIntEqual(t, "Pending", s.Pending(), 1)
}

func TestScaleSource_Configure(t *testing.T) {
	s := NewScaleSource(&config.AriaConfig{UserFilter: "1", QueueSize: 10})
	if _, err := s.Ingest(scalePacket(2, 80000), ""); !errors.Is(err, ErrFilteredUser) {
		t.Fatalf("expected ErrFilteredUser, got %v", err)
	}
	s.Configure(&config.AriaConfig{UserFilter: "2", QueueSize: 10})
	if _, err := s.Ingest(scalePacket(2, 80000), ""); err != nil {
		t.Errorf("Ingest() after Configure error = %v", err)
	}
}
