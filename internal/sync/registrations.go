// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package sync

import (
	"fmt"

	"github.com/tomtom215/healthbridge/internal/config"
	"github.com/tomtom215/healthbridge/internal/credentials"
	"github.com/tomtom215/healthbridge/internal/models"
)

// Builder turns configuration into registrations. The scale adapter is
// shared across rebuilds so readings queued by the upload endpoint survive a
// configuration reload.
type Builder struct {
	scale *ScaleSource
}

// NewBuilder creates a builder for cfg.
func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{scale: NewScaleSource(&cfg.Sources.Aria)}
}

// Scale returns the shared scale adapter.
func (b *Builder) Scale() *ScaleSource {
	return b.scale
}

// BuildEnabled returns registrations for every enabled source.
func (b *Builder) BuildEnabled(cfg *config.Config) ([]Registration, error) {
	ids := cfg.EnabledSources()
	regs := make([]Registration, 0, len(ids))
	for _, id := range ids {
		reg, err := b.Build(cfg, id)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

// Build returns the registration for source id.
func (b *Builder) Build(cfg *config.Config, id models.SourceID) (Registration, error) {
	src := &cfg.Sources
	switch id {
	case models.SourceGarmin:
		s := NewGarminSource(NewGarminClient(&src.Garmin))
		return Registration{
			Source:    s,
			Window:    lookback(src.Garmin.LookbackDays),
			Bootstrap: sessionBootstrap(src.Garmin.Username, src.Garmin.Password),
			Refresher: credentials.NewSessionRefresher(s.Login),
			Schedule:  src.Garmin.Schedule(),
		}, nil

	case models.SourceFitbit:
		return Registration{
			Source: NewFitbitSource(NewFitbitClient(&src.Fitbit), src.Fitbit.WeightUnit),
			Window: lookback(src.Fitbit.LookbackDays),
			Bootstrap: models.Credential{
				Kind:         models.CredentialOAuth2,
				RefreshToken: src.Fitbit.RefreshToken,
			},
			Refresher: credentials.NewOAuth2Refresher(src.Fitbit.ClientID, src.Fitbit.ClientSecret, src.Fitbit.TokenURL),
			Schedule:  src.Fitbit.Schedule(),
		}, nil

	case models.SourceIntervals:
		return Registration{
			Source:    NewIntervalsSource(NewIntervalsClient(&src.Intervals), src.Intervals.PlanDays),
			Window:    lookback(src.Intervals.HistoryDays),
			Bootstrap: models.Credential{Kind: models.CredentialAPIKey, Secret: src.Intervals.APIKey},
			Refresher: credentials.APIKeyRefresher{},
			Schedule:  src.Intervals.Schedule(),
		}, nil

	case models.SourceCronometer:
		s := NewCronometerSource(NewCronometerClient(&src.Cronometer))
		return Registration{
			Source:    s,
			Window:    lookback(src.Cronometer.LookbackDays),
			Bootstrap: sessionBootstrap(src.Cronometer.Username, src.Cronometer.Password),
			Refresher: credentials.NewSessionRefresher(s.Login),
			Schedule:  src.Cronometer.Schedule(),
		}, nil

	case models.SourceAria:
		b.scale.Configure(&src.Aria)
		return Registration{
			Source:    b.scale,
			Window:    lookback(1),
			Bootstrap: models.Credential{Kind: models.CredentialNone},
			Schedule:  src.Aria.Schedule(),
		}, nil
	}
	return Registration{}, fmt.Errorf("%w: %s", ErrUnknownSource, id)
}

func sessionBootstrap(username, password string) models.Credential {
	return models.Credential{Kind: models.CredentialSession, Username: username, Secret: password}
}
