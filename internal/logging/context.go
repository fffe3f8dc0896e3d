// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	cycleIDKey       contextKey = "cycle_id"
	sourceKey        contextKey = "source"
	loggerKey        contextKey = "logger"
)

// GenerateCorrelationID creates a short id, the first 8 characters of a UUID.
func GenerateCorrelationID() string {
	return uuid.New().String()[:8]
}

// GenerateCycleID creates a full UUID identifying one sync cycle.
func GenerateCycleID() string {
	return uuid.New().String()
}

// ContextWithCorrelationID returns a new context with the given correlation ID.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// ContextWithNewCorrelationID returns a context with a newly generated correlation ID.
func ContextWithNewCorrelationID(ctx context.Context) context.Context {
	return ContextWithCorrelationID(ctx, GenerateCorrelationID())
}

// CorrelationIDFromContext returns the correlation ID, or "" if absent.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithCycle tags ctx with a cycle id and the source it runs for.
// Every log line written through Ctx during the cycle carries both.
func ContextWithCycle(ctx context.Context, cycleID, source string) context.Context {
	ctx = context.WithValue(ctx, cycleIDKey, cycleID)
	return context.WithValue(ctx, sourceKey, source)
}

// CycleIDFromContext returns the cycle ID, or "" if absent.
func CycleIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(cycleIDKey).(string); ok {
		return id
	}
	return ""
}

// SourceFromContext returns the source tag, or "" if absent.
func SourceFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey).(string); ok {
		return s
	}
	return ""
}

// ContextWithLogger stores a logger in the context.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func ContextWithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext returns the logger stored in ctx, or the global logger.
func LoggerFromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return logger
	}
	return Logger()
}

// Ctx returns a logger with correlation_id, cycle_id and source added from ctx.
//
//	logging.Ctx(ctx).Info().Int("dates", n).Msg("Fragment merged")
//	// {"level":"info","correlation_id":"abc12345","cycle_id":"...","source":"fitbit",...}
func Ctx(ctx context.Context) *zerolog.Logger {
	l := CtxWith(ctx).Logger()
	return &l
}

// CtxWith returns a logger context builder with context values pre-populated.
func CtxWith(ctx context.Context) zerolog.Context {
	logger := LoggerFromContext(ctx)
	logCtx := logger.With()

	if correlationID := CorrelationIDFromContext(ctx); correlationID != "" {
		logCtx = logCtx.Str("correlation_id", correlationID)
	}
	if cycleID := CycleIDFromContext(ctx); cycleID != "" {
		logCtx = logCtx.Str("cycle_id", cycleID)
	}
	if source := SourceFromContext(ctx); source != "" {
		logCtx = logCtx.Str("source", source)
	}
	return logCtx
}
