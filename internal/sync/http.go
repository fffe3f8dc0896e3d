// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/healthbridge/internal/models"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	// errorBodyLimit bounds how much of a failed response ends up in errors.
	errorBodyLimit = 512
)

// providerHTTP is the transport shared by the provider clients: a paced
// http.Client whose failures come back as *ProviderError.
type providerHTTP struct {
	source  models.SourceID
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// newProviderHTTP creates a transport allowing rps requests per second with
// the given burst.
func newProviderHTTP(source models.SourceID, baseURL string, rps float64, burst int) *providerHTTP {
	return &providerHTTP{
		source:  source,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: defaultHTTPTimeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (p *providerHTTP) url(path string, query url.Values) string {
	u := p.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do paces and executes req. A non-2xx response is closed and returned as a
// ProviderError; on success the caller owns the body.
func (p *providerHTTP) do(req *http.Request) (*http.Response, error) {
	if err := p.limiter.Wait(req.Context()); err != nil {
		return nil, newProviderError(p.source, KindTransient, 0, fmt.Errorf("rate limiter: %w", err))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, newProviderError(p.source, KindTransient, 0, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err))
	}

	if kind := KindForStatus(resp.StatusCode); kind != KindNone {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, newProviderError(p.source, kind, resp.StatusCode,
			fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, strings.TrimSpace(string(body))))
	}
	return resp, nil
}

// getJSON fetches path and decodes the JSON response into out. decorate may
// add authentication to the request.
func (p *providerHTTP) getJSON(ctx context.Context, path string, query url.Values, decorate func(*http.Request), out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url(path, query), http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if decorate != nil {
		decorate(req)
	}

	resp, err := p.do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// No content means no data for the request.
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return newProviderError(p.source, KindTransient, resp.StatusCode, err)
		}
		return newProviderError(p.source, KindDataShape, resp.StatusCode, fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

// postJSON sends body as JSON to path. The response body is discarded.
func (p *providerHTTP) postJSON(ctx context.Context, path string, decorate func(*http.Request), body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url(path, nil), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if decorate != nil {
		decorate(req)
	}

	resp, err := p.do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, errorBodyLimit))
	return resp.Body.Close()
}

// cookieHeader flattens cookies into a Cookie header value.
func cookieHeader(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// optionalFloat is a JSON number that may be null or missing.
type optionalFloat struct {
	Value float64
	Valid bool
}

func (f *optionalFloat) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = optionalFloat{}
		return nil
	}
	if err := json.Unmarshal(b, &f.Value); err != nil {
		return err
	}
	f.Valid = true
	return nil
}
