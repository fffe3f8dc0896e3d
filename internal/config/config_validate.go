// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/tomtom215/healthbridge/internal/models"
	"github.com/tomtom215/healthbridge/internal/validation"
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	validators := []func() error{
		c.validateGarmin,
		c.validateFitbit,
		c.validateIntervals,
		c.validateCronometer,
		c.validateAria,
		c.validatePriorities,
		c.validateSchedules,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateGarmin() error {
	g := c.Sources.Garmin
	if !g.Enabled {
		return nil
	}
	if g.Username == "" {
		return fmt.Errorf("GARMIN_USERNAME is required when GARMIN_ENABLED=true")
	}
	if g.Password == "" {
		return fmt.Errorf("GARMIN_PASSWORD is required when GARMIN_ENABLED=true")
	}
	if err := validateHTTPURL(g.BaseURL, "GARMIN_BASE_URL"); err != nil {
		return err
	}
	return validateHTTPURL(g.SSOURL, "GARMIN_SSO_URL")
}

func (c *Config) validateFitbit() error {
	f := c.Sources.Fitbit
	if !f.Enabled {
		return nil
	}
	if f.ClientID == "" {
		return fmt.Errorf("FITBIT_CLIENT_ID is required when FITBIT_ENABLED=true")
	}
	if f.ClientSecret == "" {
		return fmt.Errorf("FITBIT_CLIENT_SECRET is required when FITBIT_ENABLED=true")
	}
	// The refresh token is only needed until the first rotation is persisted,
	// so its absence is reported at the first cycle rather than here.
	return validateHTTPURL(f.BaseURL, "FITBIT_BASE_URL")
}

func (c *Config) validateIntervals() error {
	i := c.Sources.Intervals
	if !i.Enabled {
		return nil
	}
	if i.APIKey == "" {
		return fmt.Errorf("INTERVALS_API_KEY is required when INTERVALS_ENABLED=true")
	}
	if i.AthleteID == "" {
		return fmt.Errorf("INTERVALS_ATHLETE_ID is required when INTERVALS_ENABLED=true")
	}
	return validateHTTPURL(i.BaseURL, "INTERVALS_BASE_URL")
}

func (c *Config) validateCronometer() error {
	cr := c.Sources.Cronometer
	if !cr.Enabled {
		return nil
	}
	if cr.Username == "" {
		return fmt.Errorf("CRONOMETER_USERNAME is required when CRONOMETER_ENABLED=true")
	}
	if cr.Password == "" {
		return fmt.Errorf("CRONOMETER_PASSWORD is required when CRONOMETER_ENABLED=true")
	}
	return validateHTTPURL(cr.BaseURL, "CRONOMETER_BASE_URL")
}

func (c *Config) validateAria() error {
	a := c.Sources.Aria
	if !a.Enabled || a.UpstreamURL == "" {
		return nil
	}
	parsed, err := url.Parse(a.UpstreamURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("ARIA_UPSTREAM_URL must be an absolute http or https URL")
	}
	return nil
}

func (c *Config) validatePriorities() error {
	for field, sources := range c.Priorities {
		if !models.Field(field).Known() {
			return fmt.Errorf("PRIORITY_%s: unknown field %q", field, field)
		}
		if len(sources) == 0 {
			return fmt.Errorf("PRIORITY_%s: at least one source is required", field)
		}
		seen := make(map[string]bool, len(sources))
		for _, s := range sources {
			if !models.SourceID(s).Known() {
				return fmt.Errorf("PRIORITY_%s: unknown source %q", field, s)
			}
			if seen[s] {
				return fmt.Errorf("PRIORITY_%s: source %q listed twice", field, s)
			}
			seen[s] = true
		}
	}
	return nil
}

func (c *Config) validateSchedules() error {
	schedules := map[string]Schedule{
		"GARMIN":     c.Sources.Garmin.Schedule(),
		"FITBIT":     c.Sources.Fitbit.Schedule(),
		"INTERVALS":  c.Sources.Intervals.Schedule(),
		"CRONOMETER": c.Sources.Cronometer.Schedule(),
		"ARIA":       c.Sources.Aria.Schedule(),
	}
	for prefix, s := range schedules {
		if !s.Enabled {
			continue
		}
		if s.Interval < minInterval {
			return fmt.Errorf("%s_INTERVAL must be at least %s, got %s", prefix, minInterval, s.Interval)
		}
		if s.FetchTimeout < 0 {
			return fmt.Errorf("%s_FETCH_TIMEOUT must not be negative", prefix)
		}
	}
	return nil
}

// minInterval keeps polling within provider rate limits.
const minInterval = 30 * time.Second

// validateHTTPURL validates that a URL is properly formatted for HTTP/HTTPS services.
// Validates: scheme (http/https), host present, no query params.
func validateHTTPURL(rawURL, fieldName string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", fieldName, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %s", fieldName, parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s host is required", fieldName)
	}
	if parsedURL.RawQuery != "" {
		return fmt.Errorf("%s should not contain query parameters, remove: ?%s", fieldName, parsedURL.RawQuery)
	}
	return nil
}

// EnabledSources returns the ids of enabled sources in a stable order.
func (c *Config) EnabledSources() []models.SourceID {
	var out []models.SourceID
	for _, id := range models.AllSources() {
		if c.ScheduleFor(id).Enabled {
			out = append(out, id)
		}
	}
	return out
}

// SourceSettings returns a copy of the settings section of source id, or nil
// for an unknown source. Two copies compare equal with reflect.DeepEqual
// exactly when the source's configuration is unchanged.
func (c *Config) SourceSettings(id models.SourceID) any {
	switch id {
	case models.SourceGarmin:
		return c.Sources.Garmin
	case models.SourceFitbit:
		return c.Sources.Fitbit
	case models.SourceIntervals:
		return c.Sources.Intervals
	case models.SourceCronometer:
		return c.Sources.Cronometer
	case models.SourceAria:
		return c.Sources.Aria
	default:
		return nil
	}
}

// ScheduleFor returns the scheduling settings of source id.
func (c *Config) ScheduleFor(id models.SourceID) Schedule {
	switch id {
	case models.SourceGarmin:
		return c.Sources.Garmin.Schedule()
	case models.SourceFitbit:
		return c.Sources.Fitbit.Schedule()
	case models.SourceIntervals:
		return c.Sources.Intervals.Schedule()
	case models.SourceCronometer:
		return c.Sources.Cronometer.Schedule()
	case models.SourceAria:
		return c.Sources.Aria.Schedule()
	default:
		return Schedule{}
	}
}
