// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

/*
cronometer.go - Cronometer nutrition log adapter

Cronometer has no public API. The adapter signs in the way the web form
does: it loads the login page, lifts the anticsrf hidden input and posts it
back with the account credentials. The session cookies returned by a
successful login are the credential.

Each cycle downloads the daily nutrition summary export as CSV. A row with an
unreadable date or number is reported as a data shape issue and skipped; the
rest of the export is still used.
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/healthbridge/internal/config"
	"github.com/tomtom215/healthbridge/internal/credentials"
	"github.com/tomtom215/healthbridge/internal/models"
	"github.com/tomtom215/healthbridge/internal/units"
)

// CronometerClientInterface defines the Cronometer operations the adapter
// needs.
type CronometerClientInterface interface {
	Login(ctx context.Context, username, password string) (models.Credential, error)
	DailySummaryCSV(ctx context.Context, cred models.Credential, window models.DateRange) ([]byte, error)
}

var _ CronometerClientInterface = (*CronometerClient)(nil)

var anticsrfPattern = regexp.MustCompile(`name=["']anticsrf["'][^>]*value=["']([^"']+)["']|value=["']([^"']+)["'][^>]*name=["']anticsrf["']`)

// cronometerColumns maps export headers to canonical fields and units.
var cronometerColumns = map[string]struct {
	field models.Field
	unit  units.Unit
}{
	"Energy (kcal)": {models.FieldCaloriesIn, units.Kilocalorie},
	"Protein (g)":   {models.FieldProtein, units.Gram},
	"Carbs (g)":     {models.FieldCarbs, units.Gram},
	"Fat (g)":       {models.FieldFat, units.Gram},
	"Fiber (g)":     {models.FieldFiber, units.Gram},
	"Sodium (mg)":   {models.FieldSodium, units.Milligram},
	"Water (g)":     {models.FieldFoodWater, units.Gram},
}

// CronometerClient talks to the Cronometer web application.
type CronometerClient struct {
	web *providerHTTP
}

// NewCronometerClient creates a client for cfg.BaseURL.
func NewCronometerClient(cfg *config.CronometerConfig) *CronometerClient {
	return &CronometerClient{web: newProviderHTTP(models.SourceCronometer, cfg.BaseURL, 1, 2)}
}

// Login performs the anti-CSRF form login. A refused login wraps
// credentials.ErrRefreshRejected.
func (c *CronometerClient) Login(ctx context.Context, username, password string) (models.Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.web.url("/login/", nil), http.NoBody)
	if err != nil {
		return models.Credential{}, fmt.Errorf("create login page request: %w", err)
	}
	resp, err := c.web.do(req)
	if err != nil {
		return models.Credential{}, err
	}
	page, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return models.Credential{}, newProviderError(models.SourceCronometer, KindTransient, 0, fmt.Errorf("read login page: %w", err))
	}
	pageCookies := resp.Cookies()

	token := extractAntiCSRF(string(page))
	if token == "" {
		return models.Credential{}, newProviderError(models.SourceCronometer, KindDataShape, 0, errors.New("login page has no anticsrf token"))
	}

	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	form.Set("anticsrf", token)

	req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.web.url("/login", nil), strings.NewReader(form.Encode()))
	if err != nil {
		return models.Credential{}, fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if len(pageCookies) > 0 {
		req.Header.Set("Cookie", cookieHeader(pageCookies))
	}

	resp, err = c.web.do(req)
	if err != nil {
		if Classify(err) == KindAuthExpired {
			return models.Credential{}, fmt.Errorf("%w: cronometer login refused: %v", credentials.ErrRefreshRejected, err)
		}
		return models.Credential{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var result struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	// The body is informational; only an explicit error is a rejection.
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&result)
	if result.Error != "" {
		return models.Credential{}, fmt.Errorf("%w: cronometer: %s", credentials.ErrRefreshRejected, result.Error)
	}

	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return models.Credential{}, fmt.Errorf("%w: cronometer login returned no session", credentials.ErrRefreshRejected)
	}
	return models.Credential{Kind: models.CredentialSession, AccessToken: cookieHeader(cookies)}, nil
}

func extractAntiCSRF(page string) string {
	m := anticsrfPattern.FindStringSubmatch(page)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// DailySummaryCSV downloads the daily nutrition export for window. An HTML
// answer means the session was bounced to the login page.
func (c *CronometerClient) DailySummaryCSV(ctx context.Context, cred models.Credential, window models.DateRange) ([]byte, error) {
	q := url.Values{
		"type":  {"dailySummary"},
		"start": {string(window.From)},
		"end":   {string(window.To)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.web.url("/export", q), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create export request: %w", err)
	}
	req.Header.Set("Cookie", cred.AccessToken)
	req.Header.Set("Accept", "text/csv")

	resp, err := c.web.do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return nil, newProviderError(models.SourceCronometer, KindAuthExpired, resp.StatusCode, errors.New("export redirected to login"))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newProviderError(models.SourceCronometer, KindTransient, resp.StatusCode, fmt.Errorf("read export: %w", err))
	}
	return body, nil
}

// CronometerSource is the nutrition log adapter.
type CronometerSource struct {
	client CronometerClientInterface
}

// NewCronometerSource creates the adapter.
func NewCronometerSource(client CronometerClientInterface) *CronometerSource {
	return &CronometerSource{client: client}
}

func (s *CronometerSource) ID() models.SourceID     { return models.SourceCronometer }
func (s *CronometerSource) Kind() models.SourceKind { return models.KindNutrition }

// Login is the credentials.LoginFunc for this source.
func (s *CronometerSource) Login(ctx context.Context, username, password string) (models.Credential, error) {
	return s.client.Login(ctx, username, password)
}

// Fetch implements Source.
func (s *CronometerSource) Fetch(ctx context.Context, cred models.Credential, window models.DateRange) (*models.Fragment, error) {
	if cred.AccessToken == "" {
		return nil, newProviderError(models.SourceCronometer, KindAuthExpired, 0, errors.New("no session"))
	}
	data, err := s.client.DailySummaryCSV(ctx, cred, window)
	if err != nil {
		return nil, err
	}
	frag := models.NewFragment(models.SourceCronometer, nowUTC())
	if err := parseCronometerCSV(frag, bytes.NewReader(data), window); err != nil {
		return nil, err
	}
	return frag, nil
}

// parseCronometerCSV maps the export into frag. Only a missing header makes
// the whole export unusable.
func parseCronometerCSV(frag *models.Fragment, r io.Reader, window models.DateRange) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return newProviderError(models.SourceCronometer, KindDataShape, 0, fmt.Errorf("read export header: %w", err))
	}

	dateCol := -1
	cols := make(map[int]models.Field)
	colUnits := make(map[int]units.Unit)
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if name == "Date" || name == "Day" {
			dateCol = i
			continue
		}
		if m, ok := cronometerColumns[name]; ok {
			cols[i] = m.field
			colUnits[i] = m.unit
		}
	}
	if dateCol < 0 {
		return newProviderError(models.SourceCronometer, KindDataShape, 0, errors.New("export has no Date column"))
	}

	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			frag.Skip("", "", fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if dateCol >= len(row) {
			frag.Skip("", "", fmt.Sprintf("line %d: missing date", line))
			continue
		}
		date, err := models.ParseDate(strings.TrimSpace(row[dateCol]))
		if err != nil {
			frag.Skip("", "", fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if !window.Contains(date) {
			continue
		}

		values := make(map[models.Field]float64, len(cols))
		bad := ""
		for i, field := range cols {
			if i >= len(row) || strings.TrimSpace(row[i]) == "" {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
			if err != nil {
				bad = fmt.Sprintf("line %d: %s: %q is not a number", line, field, row[i])
				break
			}
			values[field] = v
		}
		if bad != "" {
			frag.Skip(date, "", bad)
			continue
		}
		for i, field := range cols {
			if v, ok := values[field]; ok {
				setNumber(frag, date, field, v, colUnits[i])
			}
		}
	}
}
