// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/tomtom215/healthbridge/internal/logging"
	"github.com/tomtom215/healthbridge/internal/models"
	syncpkg "github.com/tomtom215/healthbridge/internal/sync"
)

const (
	maxScaleBody         = 1 << 20
	scaleDumpField       = "dump"
	scaleUpstreamTimeout = 30 * time.Second
)

// ScaleUpload accepts an Aria upload. The raw body must be read before any
// form parsing: the scale labels its binary packet as form data, and a form
// parser would consume it. The upstream proxy always receives the raw body
// so that it matches the original headers.
func (h *Handler) ScaleUpload(w http.ResponseWriter, r *http.Request) {
	log := logging.Ctx(r.Context())

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxScaleBody))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "failed to read body")
		return
	}

	packet := selectPacket(r, raw)
	if len(packet) < syncpkg.ScaleMinPacketSize {
		log.Warn().Int("bytes", len(packet)).Msg("Scale upload without a usable packet")
		http.Error(w, "No Data", http.StatusBadRequest)
		return
	}

	// Local parsing never blocks the upstream exchange.
	h.ingest(r, packet)

	if h.upstream == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	h.upstream.forward(w, r, raw)
}

// selectPacket picks the reading packet from an upload. A multipart upload
// carrying a dump field uses that field; anything else uses the raw body.
func selectPacket(r *http.Request, raw []byte) []byte {
	if isMultipart(r) {
		r.Body = io.NopCloser(bytes.NewReader(raw))
		if dump := readDumpField(r); len(dump) >= syncpkg.ScaleMinPacketSize {
			return dump
		}
	}
	return raw
}

func (h *Handler) ingest(r *http.Request, packet []byte) {
	log := logging.Ctx(r.Context())
	if h.scale == nil {
		log.Warn().Msg("Scale upload received but the aria source is not enabled")
		return
	}

	queryUser := r.URL.Query().Get("userId")
	if queryUser == "" {
		queryUser = r.URL.Query().Get("user")
	}

	reading, err := h.scale.Ingest(packet, queryUser)
	switch {
	case errors.Is(err, syncpkg.ErrFilteredUser):
		log.Info().Str("user_id", reading.UserID).Msg("Scale reading for another user ignored")
		return
	case err != nil:
		log.Warn().Err(err).Msg("Scale reading not queued")
		return
	}

	log.Info().Str("user_id", reading.UserID).Float64("weight_kg", reading.WeightKg).Msg("Scale reading queued")
	if h.push != nil {
		h.push.PushAsync(reading)
	}
	if err := h.scheduler.TriggerAsync(models.SourceAria); err != nil {
		log.Warn().Err(err).Msg("Failed to trigger aria cycle")
	}
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// readDumpField returns the multipart file field "dump", or nil.
func readDumpField(r *http.Request) []byte {
	if err := r.ParseMultipartForm(maxScaleBody); err != nil {
		return nil
	}
	f, _, err := r.FormFile(scaleDumpField)
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(io.LimitReader(f, maxScaleBody))
	if err != nil {
		return nil
	}
	return data
}

// scaleUpstream forwards packets to the vendor service so the scale receives
// a protocol-valid reply.
type scaleUpstream struct {
	target *url.URL
	client *http.Client
}

func newScaleUpstream(rawURL string, client *http.Client) *scaleUpstream {
	if rawURL == "" {
		return nil
	}
	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" {
		logging.Error().Str("url", rawURL).Msg("Invalid scale upstream URL, proxy disabled")
		return nil
	}
	if client == nil {
		client = &http.Client{Timeout: scaleUpstreamTimeout}
	}
	return &scaleUpstream{target: target, client: client}
}

func (u *scaleUpstream) forward(w http.ResponseWriter, r *http.Request, body []byte) {
	log := logging.Ctx(r.Context())

	target := *u.target
	if target.RawQuery == "" {
		target.RawQuery = r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Msg("Failed to build scale upstream request")
		http.Error(w, "Proxy Error", http.StatusBadGateway)
		return
	}
	for key, values := range r.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Host = u.target.Host
	req.ContentLength = int64(len(body))

	resp, err := u.client.Do(req)
	if err != nil {
		log.Error().Str("error", logging.SanitizeError(err.Error())).Msg("Scale upstream request failed")
		http.Error(w, "Proxy Error", http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxScaleBody))
	if err != nil {
		log.Error().Err(err).Msg("Failed to read scale upstream response")
		http.Error(w, "Proxy Error", http.StatusBadGateway)
		return
	}

	log.Info().Int("status", resp.StatusCode).Int("bytes", len(body)).Msg("Scale upstream replied")
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Content-Length", fmt.Sprint(len(body)))
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}
