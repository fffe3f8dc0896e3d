// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package logging

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// CredentialEvent is a credential lifecycle event for a provider account.
type CredentialEvent struct {
	// Event is the event type: credential_refresh, session_login,
	// source_disabled, source_reenabled.
	Event string
	// Source is the provider the credential belongs to.
	Source string
	// Kind is the credential kind (oauth2, session, api_key).
	Kind string
	// Account is the provider username or client id.
	Account string
	Success bool
	Error   string
	// Details contains additional values, sanitized by key name.
	Details map[string]string
}

// CredentialAudit logs credential events with secrets masked.
type CredentialAudit struct {
	logger zerolog.Logger
}

// NewCredentialAudit returns an audit logger on the global logger.
func NewCredentialAudit() *CredentialAudit {
	return &CredentialAudit{logger: With().Str("component", "credentials").Logger()}
}

// NewCredentialAuditWithLogger returns an audit logger on logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewCredentialAuditWithLogger(logger zerolog.Logger) *CredentialAudit {
	return &CredentialAudit{logger: logger.With().Str("component", "credentials").Logger()}
}

// LogEvent logs a credential event. Failures log at warn level.
func (a *CredentialAudit) LogEvent(ctx context.Context, event *CredentialEvent) {
	var e *zerolog.Event
	if event.Success {
		e = a.logger.Info().Str("status", "success")
	} else {
		e = a.logger.Warn().Str("status", "failed")
	}
	e = e.Str("event", event.Event).Str("source", event.Source)

	if id := CorrelationIDFromContext(ctx); id != "" {
		e = e.Str("correlation_id", id)
	}
	if id := CycleIDFromContext(ctx); id != "" {
		e = e.Str("cycle_id", id)
	}
	if event.Kind != "" {
		e = e.Str("credential_kind", event.Kind)
	}
	if event.Account != "" {
		e = e.Str("account", SanitizeAccount(event.Account))
	}
	if event.Error != "" && !event.Success {
		e = e.Str("error", SanitizeError(event.Error))
	}
	for k, v := range event.Details {
		e = e.Str(k, SanitizeValue(k, v))
	}
	e.Msg(event.Event)
}

// LogRefresh logs one refresh attempt.
func (a *CredentialAudit) LogRefresh(ctx context.Context, source, kind string, err error) {
	ev := &CredentialEvent{Event: "credential_refresh", Source: source, Kind: kind, Success: err == nil}
	if err != nil {
		ev.Error = err.Error()
	}
	a.LogEvent(ctx, ev)
}

// LogSourceDisabled logs a source being disabled by a rejected credential.
func (a *CredentialAudit) LogSourceDisabled(ctx context.Context, source, reason string) {
	a.LogEvent(ctx, &CredentialEvent{
		Event:   "source_disabled",
		Source:  source,
		Success: false,
		Error:   reason,
	})
}

// LogSourceReenabled logs a disabled source being re-enabled by a configuration change.
func (a *CredentialAudit) LogSourceReenabled(ctx context.Context, source string) {
	a.LogEvent(ctx, &CredentialEvent{Event: "source_reenabled", Source: source, Success: true})
}

// SanitizeToken masks a token, showing only the first and last 4 characters.
// Example: "eyJhbGciOiJSUzI1NiIsInR5cCI6IkpXVCJ9" -> "eyJh...VCJ9"
func SanitizeToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// SanitizeAccount masks a username or email address.
// Example: "john.doe@example.com" -> "jo***@example.com"
func SanitizeAccount(account string) string {
	if account == "" {
		return ""
	}
	at := strings.Index(account, "@")
	if at < 0 {
		if len(account) <= 2 {
			return "***"
		}
		return account[:2] + "***"
	}
	local, domain := account[:at], account[at:]
	if len(local) <= 2 {
		return "***" + domain
	}
	return local[:2] + "***" + domain
}

// SanitizeError replaces error messages that may echo secrets.
func SanitizeError(err string) string {
	lowerErr := strings.ToLower(err)
	for _, pattern := range []string{"password", "secret", "bearer", "authorization", "cookie", "refresh_token", "access_token"} {
		if strings.Contains(lowerErr, pattern) {
			return "credential error (details withheld)"
		}
	}
	return truncateString(err, 200)
}

var sensitiveKeys = map[string]bool{
	"access_token":  true,
	"refresh_token": true,
	"token":         true,
	"password":      true,
	"secret":        true,
	"client_secret": true,
	"api_key":       true,
	"authorization": true,
	"cookie":        true,
	"session":       true,
	"anticsrf":      true,
}

// SanitizeValue masks value when key names a secret.
func SanitizeValue(key, value string) string {
	if sensitiveKeys[strings.ToLower(key)] {
		return SanitizeToken(value)
	}
	if strings.Contains(value, "@") && strings.Contains(value, ".") {
		return SanitizeAccount(value)
	}
	return value
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
