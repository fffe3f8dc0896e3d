// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SourceID names a configured data source.
type SourceID string

// Known sources.
const (
	SourceGarmin     SourceID = "garmin"
	SourceFitbit     SourceID = "fitbit"
	SourceIntervals  SourceID = "intervals"
	SourceCronometer SourceID = "cronometer"
	SourceAria       SourceID = "aria"
)

// AllSources returns every known source in a stable order.
func AllSources() []SourceID {
	return []SourceID{SourceGarmin, SourceFitbit, SourceIntervals, SourceCronometer, SourceAria}
}

// Known reports whether s is one of the known sources.
func (s SourceID) Known() bool {
	switch s {
	case SourceGarmin, SourceFitbit, SourceIntervals, SourceCronometer, SourceAria:
		return true
	}
	return false
}

// SourceKind is the adapter variant a source belongs to.
type SourceKind string

const (
	KindWearable  SourceKind = "wearable"
	KindTraining  SourceKind = "training"
	KindNutrition SourceKind = "nutrition"
	KindScale     SourceKind = "scale"
)

// SourceStatus is the scheduling state of a source.
type SourceStatus string

const (
	StatusIdle     SourceStatus = "idle"
	StatusRunning  SourceStatus = "running"
	StatusSleeping SourceStatus = "sleeping"
	StatusDisabled SourceStatus = "disabled"
)

// CycleStatus is the outcome of one cycle.
type CycleStatus string

const (
	CycleSuccess CycleStatus = "success"
	CycleFailed  CycleStatus = "failed"
	CycleSkipped CycleStatus = "skipped"
)

// CycleResult summarizes one cycle for observability.
type CycleResult struct {
	CycleID    string      `json:"cycle_id"`
	Source     SourceID    `json:"source"`
	Status     CycleStatus `json:"status"`
	ErrorKind  string      `json:"error_kind,omitempty"`
	Error      string      `json:"error,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Attempts   int         `json:"attempts"`
	Refreshed  bool        `json:"credential_refreshed,omitempty"`
	Dates      int         `json:"dates"`
	Fields     int         `json:"fields_written"`
	Skipped    int         `json:"records_skipped"`
	StartedAt  time.Time   `json:"started_at"`
	DurationMS int64       `json:"duration_ms"`
}

// CredentialKind selects how a credential is refreshed.
type CredentialKind string

const (
	CredentialNone    CredentialKind = "none"
	CredentialOAuth2  CredentialKind = "oauth2"
	CredentialSession CredentialKind = "session"
	CredentialAPIKey  CredentialKind = "api_key"
)

// Credential is the authentication material a source adapter presents to its
// provider. Which fields are populated depends on Kind.
type Credential struct {
	Kind         CredentialKind `json:"kind"`
	AccessToken  string         `json:"access_token,omitempty"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	Expiry       time.Time      `json:"expiry,omitempty"`
	Username     string         `json:"username,omitempty"`
	Secret       string         `json:"secret,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
	// Origin is the Fingerprint of the configured credential this one was
	// derived from.
	Origin       string         `json:"origin,omitempty"`
}

// Fingerprint identifies the secrets of c without revealing them. Expiry,
// timestamps and Origin do not contribute.
func (c Credential) Fingerprint() string {
	h := sha256.New()
	for _, part := range []string{string(c.Kind), c.AccessToken, c.RefreshToken, c.Username, c.Secret} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Expired reports whether an expiring credential is past its expiry.
func (c Credential) Expired(now time.Time) bool {
	return !c.Expiry.IsZero() && now.After(c.Expiry)
}

// SourceState is the per-source state carried across cycles.
//
// LastCumulative holds the last reported total for each counter field per
// date and, together with the credential, must survive restarts.
// ConsecutiveFailures is in-memory only.
type SourceState struct {
	Source              SourceID                   `json:"source"`
	Status              SourceStatus               `json:"status"`
	LastSuccess         time.Time                  `json:"last_success,omitempty"`
	LastAttempt         time.Time                  `json:"last_attempt,omitempty"`
	LastCumulative      map[Date]map[Field]float64 `json:"last_cumulative,omitempty"`
	ConsecutiveFailures int                        `json:"-"`
	DisabledReason      string                     `json:"disabled_reason,omitempty"`
	CredentialOrigin    string                     `json:"credential_origin,omitempty"`
	LastResult          *CycleResult               `json:"last_result,omitempty"`
}

// NewSourceState returns the initial state for a source.
func NewSourceState(id SourceID) *SourceState {
	return &SourceState{
		Source:         id,
		Status:         StatusIdle,
		LastCumulative: make(map[Date]map[Field]float64),
	}
}

// Clone returns a deep copy of the state.
func (s *SourceState) Clone() *SourceState {
	if s == nil {
		return nil
	}
	c := *s
	c.LastCumulative = make(map[Date]map[Field]float64, len(s.LastCumulative))
	for d, fields := range s.LastCumulative {
		inner := make(map[Field]float64, len(fields))
		for f, v := range fields {
			inner[f] = v
		}
		c.LastCumulative[d] = inner
	}
	if s.LastResult != nil {
		r := *s.LastResult
		c.LastResult = &r
	}
	return &c
}
