// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestCredentialAudit_MasksSecrets(t *testing.T) {
	var buf bytes.Buffer
	audit := NewCredentialAuditWithLogger(zerolog.New(&buf))

	audit.LogEvent(context.Background(), &CredentialEvent{
		Event:   "session_login",
		Source:  "cronometer",
		Kind:    "session",
		Account: "runner@example.com",
		Success: true,
		Details: map[string]string{"anticsrf": "0123456789abcdef", "attempt": "1"},
	})

	out := buf.String()
	if strings.Contains(out, "runner@example.com") || strings.Contains(out, "0123456789abcdef") {
		t.Errorf("secret leaked into log: %s", out)
	}
	if !strings.Contains(out, `"account":"ru***@example.com"`) || !strings.Contains(out, `"attempt":"1"`) {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestCredentialAudit_LogRefreshFailure(t *testing.T) {
	var buf bytes.Buffer
	audit := NewCredentialAuditWithLogger(zerolog.New(&buf))

	audit.LogRefresh(context.Background(), "fitbit", "oauth2", errors.New("invalid refresh_token abc"))

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"status":"failed"`) {
		t.Errorf("failure should log at warn: %s", out)
	}
	if strings.Contains(out, "abc") {
		t.Errorf("error text with a token should be withheld: %s", out)
	}
}

func TestSanitizers(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"short token", SanitizeToken("abc"), "***"},
		{"long token", SanitizeToken("eyJhbGciOiJSUzI1NiIsInR5cCI6IkpXVCJ9"), "eyJh...VCJ9"},
		{"username", SanitizeAccount("johndoe"), "jo***"},
		{"email", SanitizeAccount("john.doe@example.com"), "jo***@example.com"},
		{"plain error", SanitizeError("connection refused"), "connection refused"},
		{"secret key", SanitizeValue("client_secret", "supersecretvalue1"), "supe...lue1"},
		{"plain key", SanitizeValue("status", "ok"), "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
