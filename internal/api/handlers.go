// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/healthbridge/internal/models"
	syncpkg "github.com/tomtom215/healthbridge/internal/sync"
	"github.com/tomtom215/healthbridge/internal/validation"
)

// maxRangeDays bounds a single records query.
const maxRangeDays = 366

// Scheduler is the slice of sync.Manager the API drives.
type Scheduler interface {
	Status() []*models.SourceState
	RunCycle(ctx context.Context, source models.SourceID) (models.CycleResult, error)
	TriggerAsync(source models.SourceID) error
	IsRunning() bool
}

// RecordReader reads canonical rows. Satisfied by *database.DB and
// *database.MemoryStore.
type RecordReader interface {
	ReadRow(ctx context.Context, date models.Date) (*models.CanonicalDailyRecord, error)
	ListRows(ctx context.Context, r models.DateRange) ([]*models.CanonicalDailyRecord, error)
}

// Pinger reports record store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ScaleIngester queues scale readings. Satisfied by *sync.ScaleSource.
type ScaleIngester interface {
	Ingest(raw []byte, queryUser string) (syncpkg.ScaleReading, error)
}

// WeightPusher copies accepted readings elsewhere without blocking the
// upload. Satisfied by *sync.WeightPusher.
type WeightPusher interface {
	PushAsync(reading syncpkg.ScaleReading)
}

// Handler contains dependencies for API handlers.
type Handler struct {
	scheduler Scheduler
	records   RecordReader
	pinger    Pinger
	scale     ScaleIngester
	push      WeightPusher
	upstream  *scaleUpstream
	startTime time.Time
}

// Deps are the collaborators a Handler needs. Pinger, Scale and WeightPush
// are optional; without Scale, uploads are still proxied but never queued.
type Deps struct {
	Scheduler Scheduler
	Records   RecordReader
	Pinger    Pinger
	Scale     ScaleIngester

	// WeightPush receives every queued reading.
	WeightPush WeightPusher

	// ScaleUpstreamURL, when set, receives a copy of every scale packet.
	ScaleUpstreamURL string
	// UpstreamClient overrides the HTTP client used for the scale proxy.
	UpstreamClient *http.Client
}

// NewHandler creates a handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		scheduler: deps.Scheduler,
		records:   deps.Records,
		pinger:    deps.Pinger,
		scale:     deps.Scale,
		push:      deps.WeightPush,
		upstream:  newScaleUpstream(deps.ScaleUpstreamURL, deps.UpstreamClient),
		startTime: time.Now(),
	}
}

// HealthLive returns 200 while the process is alive.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady returns 200 only when the record store answers and the
// scheduler is running.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	dbConnected := true
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		dbConnected = h.pinger.Ping(ctx) == nil
		cancel()
	}
	schedulerRunning := h.scheduler != nil && h.scheduler.IsRunning()

	status, code := "ready", http.StatusOK
	if !dbConnected || !schedulerRunning {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":            status,
		"database":          dbConnected,
		"scheduler_running": schedulerRunning,
	})
}

// Sources returns the state of every registered source.
func (h *Handler) Sources(w http.ResponseWriter, _ *http.Request) {
	states := h.scheduler.Status()
	if states == nil {
		states = []*models.SourceState{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sources": states})
}

// SyncSource runs one cycle for the source in the path and returns its
// CycleResult. Failed cycles answer 502 with the result as the body.
func (h *Handler) SyncSource(w http.ResponseWriter, r *http.Request) {
	source := models.SourceID(chi.URLParam(r, "source"))
	if !source.Known() {
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, "unknown source: "+string(source))
		return
	}

	res, err := h.scheduler.RunCycle(r.Context(), source)
	switch {
	case errors.Is(err, syncpkg.ErrUnknownSource):
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, "source is not enabled: "+string(source))
		return
	case errors.Is(err, syncpkg.ErrManagerClosed):
		writeError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "sync manager is shutting down")
		return
	case err != nil:
		writeInternalError(w, r, ErrCodeInternalError, err)
		return
	}

	status := http.StatusOK
	if res.Status == models.CycleFailed {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

// RecordsQuery holds the date range query parameters.
type RecordsQuery struct {
	From string `validate:"required,isodate"`
	To   string `validate:"required,isodate"`
}

// Records lists canonical rows in [from, to].
func (h *Handler) Records(w http.ResponseWriter, r *http.Request) {
	q := RecordsQuery{
		From: r.URL.Query().Get("from"),
		To:   r.URL.Query().Get("to"),
	}
	if verr := validation.ValidateStruct(&q); verr != nil {
		apiErr := verr.ToAPIError()
		writeErrorDetails(w, r, http.StatusBadRequest, ErrCodeValidationFailed, apiErr.Message, apiErr.Details)
		return
	}

	rng := models.DateRange{From: models.Date(q.From), To: models.Date(q.To)}
	if rng.To.Before(rng.From) {
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "to must not be before from")
		return
	}
	if int(rng.To.Time().Sub(rng.From.Time())/(24*time.Hour))+1 > maxRangeDays {
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "date range exceeds 366 days")
		return
	}

	rows, err := h.records.ListRows(r.Context(), rng)
	if err != nil {
		writeInternalError(w, r, ErrCodeDatabaseError, err)
		return
	}
	if rows == nil {
		rows = []*models.CanonicalDailyRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"from":    rng.From,
		"to":      rng.To,
		"records": rows,
	})
}

// Record returns the canonical row for one date.
func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "date")
	date, err := models.ParseDate(raw)
	if err != nil || string(date) != raw {
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "date must be YYYY-MM-DD")
		return
	}

	row, err := h.records.ReadRow(r.Context(), date)
	if err != nil {
		writeInternalError(w, r, ErrCodeDatabaseError, err)
		return
	}
	if row == nil {
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, "no record for "+raw)
		return
	}
	writeJSON(w, http.StatusOK, row)
}
