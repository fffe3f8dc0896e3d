// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package sync

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/tomtom215/healthbridge/internal/config"
	"github.com/tomtom215/healthbridge/internal/models"
	"github.com/tomtom215/healthbridge/internal/units"
)

// intervalsAPIUser is the fixed basic auth user name for API key access.
const intervalsAPIUser = "API_KEY"

// IntervalsClientInterface defines the intervals.icu reads the adapter
// needs.
type IntervalsClientInterface interface {
	Wellness(ctx context.Context, cred models.Credential, window models.DateRange) ([]IntervalsWellness, error)
	Activities(ctx context.Context, cred models.Credential, window models.DateRange) ([]IntervalsActivity, error)
	Workouts(ctx context.Context, cred models.Credential, window models.DateRange) ([]IntervalsEvent, error)
}

var _ IntervalsClientInterface = (*IntervalsClient)(nil)

// IntervalsWellness is one day of wellness data. ID is the date.
type IntervalsWellness struct {
	ID         string        `json:"id"`
	CTL        optionalFloat `json:"ctl"`
	ATL        optionalFloat `json:"atl"`
	RestingHR  optionalFloat `json:"restingHR"`
	HRV        optionalFloat `json:"hrv"`
	SleepSecs  optionalFloat `json:"sleepSecs"`
	SleepScore optionalFloat `json:"sleepScore"`
	Weight     optionalFloat `json:"weight"`
}

// IntervalsActivity is one completed activity.
type IntervalsActivity struct {
	StartDateLocal  string        `json:"start_date_local"`
	Type            string        `json:"type"`
	MovingTime      optionalFloat `json:"moving_time"` // seconds
	Distance        optionalFloat `json:"distance"`    // meters
	ICUTrainingLoad optionalFloat `json:"icu_training_load"`
}

// IntervalsEvent is a calendar event; planned workouts have category
// WORKOUT.
type IntervalsEvent struct {
	StartDateLocal string `json:"start_date_local"`
	Category       string `json:"category"`
	Name           string `json:"name"`
}

// IntervalsClient reads the intervals.icu API for one athlete.
type IntervalsClient struct {
	api       *providerHTTP
	athleteID string
}

// NewIntervalsClient creates a client for cfg.
func NewIntervalsClient(cfg *config.IntervalsConfig) *IntervalsClient {
	return &IntervalsClient{
		api:       newProviderHTTP(models.SourceIntervals, cfg.BaseURL, 5, 10),
		athleteID: cfg.AthleteID,
	}
}

func apiKeyAuth(cred models.Credential) func(*http.Request) {
	return func(req *http.Request) {
		req.SetBasicAuth(intervalsAPIUser, cred.Secret)
	}
}

func (c *IntervalsClient) path(resource string) string {
	return fmt.Sprintf("/api/v1/athlete/%s/%s", url.PathEscape(c.athleteID), resource)
}

func rangeQuery(window models.DateRange) url.Values {
	return url.Values{"oldest": {string(window.From)}, "newest": {string(window.To)}}
}

// Wellness returns wellness records in window.
func (c *IntervalsClient) Wellness(ctx context.Context, cred models.Credential, window models.DateRange) ([]IntervalsWellness, error) {
	var out []IntervalsWellness
	if err := c.api.getJSON(ctx, c.path("wellness"), rangeQuery(window), apiKeyAuth(cred), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Activities returns activities started in window.
func (c *IntervalsClient) Activities(ctx context.Context, cred models.Credential, window models.DateRange) ([]IntervalsActivity, error) {
	var out []IntervalsActivity
	if err := c.api.getJSON(ctx, c.path("activities"), rangeQuery(window), apiKeyAuth(cred), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Workouts returns planned workouts in window.
func (c *IntervalsClient) Workouts(ctx context.Context, cred models.Credential, window models.DateRange) ([]IntervalsEvent, error) {
	q := rangeQuery(window)
	q.Set("category", "WORKOUT")
	var out []IntervalsEvent
	if err := c.api.getJSON(ctx, c.path("events"), q, apiKeyAuth(cred), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// IntervalsSource is the training platform adapter.
type IntervalsSource struct {
	client   IntervalsClientInterface
	planDays int
}

// NewIntervalsSource creates the adapter. planDays is how far past the end
// of the fetch window planned workouts are read.
func NewIntervalsSource(client IntervalsClientInterface, planDays int) *IntervalsSource {
	return &IntervalsSource{client: client, planDays: planDays}
}

func (s *IntervalsSource) ID() models.SourceID     { return models.SourceIntervals }
func (s *IntervalsSource) Kind() models.SourceKind { return models.KindTraining }

// Fetch implements Source. Wellness and activities cover window; planned
// workouts run from window.To through window.To plus the plan horizon.
func (s *IntervalsSource) Fetch(ctx context.Context, cred models.Credential, window models.DateRange) (*models.Fragment, error) {
	if cred.Secret == "" {
		return nil, newProviderError(models.SourceIntervals, KindAuthExpired, 0, fmt.Errorf("no api key"))
	}
	frag := models.NewFragment(models.SourceIntervals, nowUTC())

	wellness, err := s.client.Wellness(ctx, cred, window)
	if err != nil {
		return nil, err
	}
	for i := range wellness {
		mapIntervalsWellness(frag, &wellness[i])
	}

	activities, err := s.client.Activities(ctx, cred, window)
	if err != nil {
		return nil, err
	}
	mapIntervalsActivities(frag, activities)

	if s.planDays > 0 {
		plan := models.DateRange{From: window.To, To: window.To.AddDays(s.planDays)}
		events, err := s.client.Workouts(ctx, cred, plan)
		if err != nil {
			return nil, err
		}
		mapIntervalsWorkouts(frag, events)
	}
	return frag, nil
}

func mapIntervalsWellness(frag *models.Fragment, w *IntervalsWellness) {
	date, err := models.ParseDate(w.ID)
	if err != nil {
		frag.Skip("", "", fmt.Sprintf("wellness record with invalid date %q", w.ID))
		return
	}
	if w.CTL.Valid {
		frag.Set(date, models.FieldFitness, models.Number(units.Round(w.CTL.Value, 2)))
	}
	if w.ATL.Valid {
		frag.Set(date, models.FieldFatigue, models.Number(units.Round(w.ATL.Value, 2)))
	}
	if w.CTL.Valid && w.ATL.Valid {
		frag.Set(date, models.FieldForm, models.Number(units.Round(w.CTL.Value-w.ATL.Value, 2)))
	}
	if w.RestingHR.Valid {
		frag.Set(date, models.FieldRestingHR, models.Number(w.RestingHR.Value))
	}
	if w.HRV.Valid {
		frag.Set(date, models.FieldHRVLastNight, models.Number(w.HRV.Value))
	}
	if w.SleepSecs.Valid {
		setNumber(frag, date, models.FieldSleepMinutes, w.SleepSecs.Value, units.Second)
	}
	if w.SleepScore.Valid {
		frag.Set(date, models.FieldSleepScore, models.Number(w.SleepScore.Value))
	}
	if w.Weight.Valid && w.Weight.Value > 0 {
		setNumber(frag, date, models.FieldWeight, w.Weight.Value, units.Kilogram)
	}
}

type activityDay struct {
	load, seconds, meters float64
	types                 map[string]bool
}

func mapIntervalsActivities(frag *models.Fragment, activities []IntervalsActivity) {
	days := make(map[models.Date]*activityDay)
	for i := range activities {
		a := &activities[i]
		date, err := models.ParseDate(a.StartDateLocal)
		if err != nil {
			frag.Skip("", models.FieldActivityTypes, fmt.Sprintf("activity with invalid start %q", a.StartDateLocal))
			continue
		}
		d := days[date]
		if d == nil {
			d = &activityDay{types: make(map[string]bool)}
			days[date] = d
		}
		d.load += a.ICUTrainingLoad.Value
		d.seconds += a.MovingTime.Value
		d.meters += a.Distance.Value
		if a.Type != "" {
			d.types[a.Type] = true
		}
	}

	for date, d := range days {
		frag.Set(date, models.FieldTrainingLoad, models.Number(d.load))
		setNumber(frag, date, models.FieldActiveMinutes, d.seconds, units.Second)
		setNumber(frag, date, models.FieldDistance, d.meters, units.Meter)
		if len(d.types) > 0 {
			frag.Set(date, models.FieldActivityTypes, models.Text(joinSorted(d.types, ", ")))
		}
	}
}

func mapIntervalsWorkouts(frag *models.Fragment, events []IntervalsEvent) {
	byDate := make(map[models.Date][]string)
	for _, e := range events {
		if !strings.EqualFold(e.Category, "WORKOUT") || e.Name == "" {
			continue
		}
		date, err := models.ParseDate(e.StartDateLocal)
		if err != nil {
			frag.Skip("", models.FieldPlannedWorkout, fmt.Sprintf("workout with invalid start %q", e.StartDateLocal))
			continue
		}
		byDate[date] = append(byDate[date], e.Name)
	}
	for date, names := range byDate {
		frag.Set(date, models.FieldPlannedWorkout, models.Text(strings.Join(names, "; ")))
	}
}

func joinSorted(set map[string]bool, sep string) string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return strings.Join(out, sep)
}
