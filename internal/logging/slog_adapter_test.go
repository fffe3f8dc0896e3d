// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSlogHandler_WritesThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewSlogHandlerWithLogger(zerolog.New(&buf)))

	logger.With("supervisor", "sync-layer").
		WithGroup("service").
		Warn("service failed", "name", "orchestrator", "restarts", 2, "err", errors.New("boom"))

	out := buf.String()
	for _, want := range []string{
		`"level":"warn"`,
		`"supervisor":"sync-layer"`,
		`"service.name":"orchestrator"`,
		`"service.restarts":2`,
		`"service.err":"boom"`,
		`"message":"service failed"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s: %s", want, out)
		}
	}
}

func TestSlogHandler_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewSlogHandlerWithLogger(zerolog.New(&buf)))

	ctx := ContextWithCycle(ContextWithCorrelationID(context.Background(), "corr0001"), "cyc", "aria")
	logger.InfoContext(ctx, "hello")

	if !strings.Contains(buf.String(), `"correlation_id":"corr0001"`) || !strings.Contains(buf.String(), `"cycle_id":"cyc"`) {
		t.Errorf("context ids not propagated: %s", buf.String())
	}
}

func TestSlogHandler_Enabled(t *testing.T) {
	h := NewSlogHandlerWithLogger(zerolog.New(&bytes.Buffer{}).Level(zerolog.InfoLevel))

	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be disabled on an info logger")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled on an info logger")
	}
}

func TestSlogToZerologLevel(t *testing.T) {
	tests := []struct {
		in   slog.Level
		want zerolog.Level
	}{
		{slog.LevelDebug - 4, zerolog.TraceLevel},
		{slog.LevelDebug, zerolog.DebugLevel},
		{slog.LevelInfo, zerolog.InfoLevel},
		{slog.LevelWarn, zerolog.WarnLevel},
		{slog.LevelError, zerolog.ErrorLevel},
	}
	for _, tt := range tests {
		if got := slogToZerologLevel(tt.in); got != tt.want {
			t.Errorf("slogToZerologLevel(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
