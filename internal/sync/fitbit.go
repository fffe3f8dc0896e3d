// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package sync

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tomtom215/healthbridge/internal/config"
	"github.com/tomtom215/healthbridge/internal/models"
	"github.com/tomtom215/healthbridge/internal/units"
)

// FitbitClientInterface defines the Fitbit Web API reads the adapter needs.
type FitbitClientInterface interface {
	WeightLog(ctx context.Context, cred models.Credential, date models.Date) (*FitbitWeightLog, error)
	WaterLog(ctx context.Context, cred models.Credential, date models.Date) (*FitbitWaterLog, error)
	ActivitySummary(ctx context.Context, cred models.Credential, date models.Date) (*FitbitActivitySummary, error)
}

var _ FitbitClientInterface = (*FitbitClient)(nil)

// FitbitWeightLog lists the weight entries of one day in log order.
type FitbitWeightLog struct {
	Weight []struct {
		LogID  int64         `json:"logId"`
		Weight optionalFloat `json:"weight"`
		Date   string        `json:"date"`
		Time   string        `json:"time"`
	} `json:"weight"`
}

// FitbitWaterLog is the water log of one day.
type FitbitWaterLog struct {
	Summary struct {
		Water optionalFloat `json:"water"`
	} `json:"summary"`
}

// FitbitActivitySummary is the activity summary of one day.
type FitbitActivitySummary struct {
	Summary struct {
		Steps            optionalFloat `json:"steps"`
		RestingHeartRate optionalFloat `json:"restingHeartRate"`
	} `json:"summary"`
}

// fitbitLocale pairs the Accept-Language a client sends with the units
// Fitbit answers in. Fitbit uses metric units for every locale except en_US
// and en_GB.
type fitbitLocale struct {
	acceptLanguage string
	weight         units.Unit
	water          units.Unit
}

var (
	fitbitMetric = fitbitLocale{acceptLanguage: "en_AU", weight: units.Kilogram, water: units.Milliliter}
	fitbitUS     = fitbitLocale{acceptLanguage: "en_US", weight: units.Pound, water: units.FluidOunce}
)

// fitbitLocaleFor maps the configured weight unit to a locale.
func fitbitLocaleFor(weightUnit string) fitbitLocale {
	if units.Parse(weightUnit) == units.Pound {
		return fitbitUS
	}
	return fitbitMetric
}

// FitbitClient reads the Fitbit Web API with a bearer token.
type FitbitClient struct {
	api    *providerHTTP
	locale fitbitLocale
}

// NewFitbitClient creates a client for cfg.BaseURL. Fitbit allows 150
// requests per user per hour.
func NewFitbitClient(cfg *config.FitbitConfig) *FitbitClient {
	return &FitbitClient{
		api:    newProviderHTTP(models.SourceFitbit, cfg.BaseURL, 150.0/3600.0, 150),
		locale: fitbitLocaleFor(cfg.WeightUnit),
	}
}

func (c *FitbitClient) authorize(cred models.Credential) func(*http.Request) {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
		req.Header.Set("Accept-Language", c.locale.acceptLanguage)
	}
}

// WeightLog returns the weight entries for date.
func (c *FitbitClient) WeightLog(ctx context.Context, cred models.Credential, date models.Date) (*FitbitWeightLog, error) {
	var out FitbitWeightLog
	if err := c.api.getJSON(ctx, fmt.Sprintf("/1/user/-/body/log/weight/date/%s.json", date), nil, c.authorize(cred), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaterLog returns the water summary for date.
func (c *FitbitClient) WaterLog(ctx context.Context, cred models.Credential, date models.Date) (*FitbitWaterLog, error) {
	var out FitbitWaterLog
	if err := c.api.getJSON(ctx, fmt.Sprintf("/1/user/-/foods/log/water/date/%s.json", date), nil, c.authorize(cred), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ActivitySummary returns the activity summary for date.
func (c *FitbitClient) ActivitySummary(ctx context.Context, cred models.Credential, date models.Date) (*FitbitActivitySummary, error) {
	var out FitbitActivitySummary
	if err := c.api.getJSON(ctx, fmt.Sprintf("/1/user/-/activities/date/%s.json", date), nil, c.authorize(cred), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FitbitSource is the wearable adapter for Fitbit. Hydration from Fitbit is
// the high-resolution source and merges as a counter.
type FitbitSource struct {
	client FitbitClientInterface
	locale fitbitLocale
}

// NewFitbitSource creates the adapter. weightUnit is the configured unit
// ("kg" or "lb") and must match the client's; it selects the locale the
// client requests and so the units of weight and water.
func NewFitbitSource(client FitbitClientInterface, weightUnit string) *FitbitSource {
	return &FitbitSource{client: client, locale: fitbitLocaleFor(weightUnit)}
}

func (s *FitbitSource) ID() models.SourceID     { return models.SourceFitbit }
func (s *FitbitSource) Kind() models.SourceKind { return models.KindWearable }

// Fetch implements Source. A malformed document only loses its own date.
func (s *FitbitSource) Fetch(ctx context.Context, cred models.Credential, window models.DateRange) (*models.Fragment, error) {
	if cred.AccessToken == "" {
		return nil, newProviderError(models.SourceFitbit, KindAuthExpired, 0, fmt.Errorf("no access token"))
	}

	frag := models.NewFragment(models.SourceFitbit, nowUTC())
	for _, date := range window.Days() {
		weight, err := s.client.WeightLog(ctx, cred, date)
		if err = skipDataShape(frag, date, err); err != nil {
			return nil, err
		}
		if weight != nil && len(weight.Weight) > 0 {
			// The last entry of the day wins.
			if last := weight.Weight[len(weight.Weight)-1]; last.Weight.Valid && last.Weight.Value > 0 {
				setNumber(frag, date, models.FieldWeight, last.Weight.Value, s.locale.weight)
			}
		}

		water, err := s.client.WaterLog(ctx, cred, date)
		if err = skipDataShape(frag, date, err); err != nil {
			return nil, err
		}
		if water != nil && water.Summary.Water.Valid {
			setNumber(frag, date, models.FieldHydration, water.Summary.Water.Value, s.locale.water)
		}

		activity, err := s.client.ActivitySummary(ctx, cred, date)
		if err = skipDataShape(frag, date, err); err != nil {
			return nil, err
		}
		if activity == nil {
			continue
		}
		if activity.Summary.RestingHeartRate.Valid && activity.Summary.RestingHeartRate.Value > 0 {
			frag.Set(date, models.FieldRestingHR, models.Number(activity.Summary.RestingHeartRate.Value))
		}
		if activity.Summary.Steps.Valid {
			frag.Set(date, models.FieldSteps, models.Number(activity.Summary.Steps.Value))
		}
	}
	return frag, nil
}
