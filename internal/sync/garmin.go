// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

/*
garmin.go - Garmin Connect daily summary adapter

The Garmin adapter signs in through the SSO endpoint, keeps the returned
session cookies as its credential and reads three documents per date:

  - user summary: weight, resting heart rate, body battery, stress, steps
  - sleep data: sleep duration and overall sleep score
  - HRV summary: last night and weekly averages

Steps are reported as a running daily total and merged as a counter.
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tomtom215/healthbridge/internal/config"
	"github.com/tomtom215/healthbridge/internal/credentials"
	"github.com/tomtom215/healthbridge/internal/models"
	"github.com/tomtom215/healthbridge/internal/units"
)

// GarminClientInterface defines the Garmin Connect operations the adapter
// needs.
type GarminClientInterface interface {
	Login(ctx context.Context, username, password string) (models.Credential, error)
	DisplayName(ctx context.Context, cred models.Credential) (string, error)
	UserSummary(ctx context.Context, cred models.Credential, displayName string, date models.Date) (*GarminUserSummary, error)
	SleepData(ctx context.Context, cred models.Credential, displayName string, date models.Date) (*GarminSleepData, error)
	HRVData(ctx context.Context, cred models.Credential, date models.Date) (*GarminHRVData, error)
}

var _ GarminClientInterface = (*GarminClient)(nil)

// GarminUserSummary is the subset of the daily user summary we map.
type GarminUserSummary struct {
	TotalWeight        optionalFloat `json:"totalWeight"` // grams
	RestingHeartRate   optionalFloat `json:"restingHeartRate"`
	MaxBodyBattery     optionalFloat `json:"maxBodyBattery"`
	MinBodyBattery     optionalFloat `json:"minBodyBattery"`
	AverageStressLevel optionalFloat `json:"averageStressLevel"`
	TotalSteps         optionalFloat `json:"totalSteps"`
}

// GarminSleepData is the daily sleep document.
type GarminSleepData struct {
	DailySleepDTO struct {
		SleepTimeSeconds optionalFloat `json:"sleepTimeSeconds"`
		SleepScores      struct {
			Overall struct {
				Value optionalFloat `json:"value"`
			} `json:"overall"`
		} `json:"sleepScores"`
	} `json:"dailySleepDTO"`
}

// GarminHRVData is the nightly HRV document.
type GarminHRVData struct {
	HRVSummary struct {
		WeeklyAvg    optionalFloat `json:"weeklyAvg"`
		LastNightAvg optionalFloat `json:"lastNightAvg"`
	} `json:"hrvSummary"`
}

// GarminClient talks to Garmin Connect.
type GarminClient struct {
	api *providerHTTP
	sso *providerHTTP
}

// NewGarminClient creates a client for the configured endpoints.
func NewGarminClient(cfg *config.GarminConfig) *GarminClient {
	return &GarminClient{
		api: newProviderHTTP(models.SourceGarmin, cfg.BaseURL, 2, 4),
		sso: newProviderHTTP(models.SourceGarmin, cfg.SSOURL, 0.2, 1),
	}
}

// Login signs in and returns the session cookies as the credential. A
// refused sign-in wraps credentials.ErrRefreshRejected.
func (c *GarminClient) Login(ctx context.Context, username, password string) (models.Credential, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	form.Set("embed", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sso.url("/sso/signin", nil), strings.NewReader(form.Encode()))
	if err != nil {
		return models.Credential{}, fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.sso.do(req)
	if err != nil {
		if Classify(err) == KindAuthExpired {
			return models.Credential{}, fmt.Errorf("%w: garmin sign-in refused: %v", credentials.ErrRefreshRejected, err)
		}
		return models.Credential{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return models.Credential{}, fmt.Errorf("%w: garmin sign-in returned no session", credentials.ErrRefreshRejected)
	}
	return models.Credential{Kind: models.CredentialSession, AccessToken: cookieHeader(cookies)}, nil
}

func (c *GarminClient) session(cred models.Credential) func(*http.Request) {
	return func(req *http.Request) {
		req.Header.Set("Cookie", cred.AccessToken)
		req.Header.Set("NK", "NT")
	}
}

// DisplayName returns the account's display name, which scopes the summary
// endpoints.
func (c *GarminClient) DisplayName(ctx context.Context, cred models.Credential) (string, error) {
	var profile struct {
		DisplayName string `json:"displayName"`
	}
	if err := c.api.getJSON(ctx, "/userprofile-service/socialProfile", nil, c.session(cred), &profile); err != nil {
		return "", err
	}
	if profile.DisplayName == "" {
		return "", newProviderError(models.SourceGarmin, KindDataShape, 0, fmt.Errorf("profile has no display name"))
	}
	return profile.DisplayName, nil
}

// UserSummary returns the daily summary for date.
func (c *GarminClient) UserSummary(ctx context.Context, cred models.Credential, displayName string, date models.Date) (*GarminUserSummary, error) {
	var out GarminUserSummary
	q := url.Values{"calendarDate": {string(date)}}
	path := "/usersummary-service/usersummary/daily/" + url.PathEscape(displayName)
	if err := c.api.getJSON(ctx, path, q, c.session(cred), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SleepData returns the sleep document for the night ending on date.
func (c *GarminClient) SleepData(ctx context.Context, cred models.Credential, displayName string, date models.Date) (*GarminSleepData, error) {
	var out GarminSleepData
	q := url.Values{"date": {string(date)}}
	path := "/wellness-service/wellness/dailySleepData/" + url.PathEscape(displayName)
	if err := c.api.getJSON(ctx, path, q, c.session(cred), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HRVData returns the HRV summary for date.
func (c *GarminClient) HRVData(ctx context.Context, cred models.Credential, date models.Date) (*GarminHRVData, error) {
	var out GarminHRVData
	if err := c.api.getJSON(ctx, "/hrv-service/hrv/"+string(date), nil, c.session(cred), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// garminWeightEntry is the body of a manual weigh-in upload.
type garminWeightEntry struct {
	DateTimestamp string  `json:"dateTimestamp"`
	GMTTimestamp  string  `json:"gmtTimestamp"`
	UnitKey       string  `json:"unitKey"`
	SourceType    string  `json:"sourceType"`
	Value         float64 `json:"value"`
}

const garminTimestampLayout = "2006-01-02T15:04:05.00"

// UploadWeight records a weigh-in of kg kilograms taken at at.
func (c *GarminClient) UploadWeight(ctx context.Context, cred models.Credential, kg float64, at time.Time) error {
	entry := garminWeightEntry{
		DateTimestamp: at.Format(garminTimestampLayout),
		GMTTimestamp:  at.UTC().Format(garminTimestampLayout),
		UnitKey:       "kg",
		SourceType:    "MANUAL",
		Value:         kg,
	}
	return c.api.postJSON(ctx, "/weight-service/user-weight", c.session(cred), entry)
}

// GarminSource is the wearable adapter for Garmin Connect.
type GarminSource struct {
	client GarminClientInterface
}

// NewGarminSource creates the adapter.
func NewGarminSource(client GarminClientInterface) *GarminSource {
	return &GarminSource{client: client}
}

func (s *GarminSource) ID() models.SourceID     { return models.SourceGarmin }
func (s *GarminSource) Kind() models.SourceKind { return models.KindWearable }

// Login is the credentials.LoginFunc for this source.
func (s *GarminSource) Login(ctx context.Context, username, password string) (models.Credential, error) {
	return s.client.Login(ctx, username, password)
}

// Fetch implements Source. A malformed document only loses its own date.
func (s *GarminSource) Fetch(ctx context.Context, cred models.Credential, window models.DateRange) (*models.Fragment, error) {
	if cred.AccessToken == "" {
		return nil, newProviderError(models.SourceGarmin, KindAuthExpired, 0, fmt.Errorf("no session"))
	}

	name, err := s.client.DisplayName(ctx, cred)
	if err != nil {
		return nil, err
	}

	frag := models.NewFragment(models.SourceGarmin, nowUTC())
	for _, date := range window.Days() {
		summary, err := s.client.UserSummary(ctx, cred, name, date)
		if err = skipDataShape(frag, date, err); err != nil {
			return nil, err
		}
		sleep, err := s.client.SleepData(ctx, cred, name, date)
		if err = skipDataShape(frag, date, err); err != nil {
			return nil, err
		}
		hrv, err := s.client.HRVData(ctx, cred, date)
		if err = skipDataShape(frag, date, err); err != nil {
			return nil, err
		}
		mapGarminDay(frag, date, summary, sleep, hrv)
	}
	return frag, nil
}

func mapGarminDay(frag *models.Fragment, date models.Date, summary *GarminUserSummary, sleep *GarminSleepData, hrv *GarminHRVData) {
	if summary != nil {
		if summary.TotalWeight.Valid && summary.TotalWeight.Value > 0 {
			setNumber(frag, date, models.FieldWeight, summary.TotalWeight.Value, units.Gram)
		}
		if summary.RestingHeartRate.Valid {
			frag.Set(date, models.FieldRestingHR, models.Number(summary.RestingHeartRate.Value))
		}
		if summary.MaxBodyBattery.Valid {
			setNumber(frag, date, models.FieldBodyBatteryHigh, summary.MaxBodyBattery.Value, units.Percent)
		}
		if summary.MinBodyBattery.Valid {
			setNumber(frag, date, models.FieldBodyBatteryLow, summary.MinBodyBattery.Value, units.Percent)
		}
		// Garmin reports -1/-2 when there is not enough stress data.
		if summary.AverageStressLevel.Valid && summary.AverageStressLevel.Value >= 0 {
			frag.Set(date, models.FieldStressAvg, models.Number(summary.AverageStressLevel.Value))
		}
		if summary.TotalSteps.Valid {
			frag.Set(date, models.FieldSteps, models.Number(summary.TotalSteps.Value))
		}
	}

	if sleep != nil {
		dto := sleep.DailySleepDTO
		if dto.SleepTimeSeconds.Valid {
			setNumber(frag, date, models.FieldSleepMinutes, dto.SleepTimeSeconds.Value, units.Second)
		}
		if dto.SleepScores.Overall.Value.Valid {
			frag.Set(date, models.FieldSleepScore, models.Number(dto.SleepScores.Overall.Value.Value))
		}
	}

	if hrv != nil {
		if hrv.HRVSummary.LastNightAvg.Valid {
			frag.Set(date, models.FieldHRVLastNight, models.Number(hrv.HRVSummary.LastNightAvg.Value))
		}
		if hrv.HRVSummary.WeeklyAvg.Valid {
			frag.Set(date, models.FieldHRVWeeklyAvg, models.Number(hrv.HRVSummary.WeeklyAvg.Value))
		}
	}
}
