// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package sync

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/healthbridge/internal/logging"
	"github.com/tomtom215/healthbridge/internal/metrics"
	"github.com/tomtom215/healthbridge/internal/models"
)

const defaultWeightPushTimeout = 30 * time.Second

// WeightUploader records a weigh-in with Garmin Connect. Satisfied by
// *GarminClient.
type WeightUploader interface {
	UploadWeight(ctx context.Context, cred models.Credential, kg float64, at time.Time) error
}

// weightCredentials is the slice of the credential manager the pusher uses.
type weightCredentials interface {
	GetValidCredential(ctx context.Context, source models.SourceID) (models.Credential, error)
	Refresh(ctx context.Context, source models.SourceID) (models.Credential, error)
}

// WeightPusher copies accepted scale readings to Garmin Connect so the
// weigh-in also shows up there. It borrows the garmin source's credential,
// so the garmin source must be registered with the same credential manager.
type WeightPusher struct {
	uploader WeightUploader
	creds    weightCredentials
	timeout  time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewWeightPusher creates a pusher. A zero timeout uses 30 seconds.
func NewWeightPusher(uploader WeightUploader, creds weightCredentials, timeout time.Duration) *WeightPusher {
	if timeout <= 0 {
		timeout = defaultWeightPushTimeout
	}
	return &WeightPusher{uploader: uploader, creds: creds, timeout: timeout}
}

// Push uploads reading, logging in again once if the session has expired.
func (p *WeightPusher) Push(ctx context.Context, reading ScaleReading) error {
	cred, err := p.creds.GetValidCredential(ctx, models.SourceGarmin)
	if err != nil {
		return err
	}
	err = p.uploader.UploadWeight(ctx, cred, reading.WeightKg, reading.At)
	if err == nil || Classify(err) != KindAuthExpired {
		return err
	}

	cred, err = p.creds.Refresh(ctx, models.SourceGarmin)
	if err != nil {
		return err
	}
	return p.uploader.UploadWeight(ctx, cred, reading.WeightKg, reading.At)
}

// PushAsync uploads reading in the background. The upload outlives the
// request that produced the reading; Close waits for it.
func (p *WeightPusher) PushAsync(reading ScaleReading) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		err := p.Push(ctx, reading)
		metrics.RecordWeightPush(err)
		if err != nil {
			logging.Warn().
				Str("user_id", reading.UserID).
				Str("error", logging.SanitizeError(err.Error())).
				Msg("Failed to copy scale reading to Garmin")
			return
		}
		logging.Info().
			Str("user_id", reading.UserID).
			Float64("weight_kg", reading.WeightKg).
			Msg("Scale reading copied to Garmin")
	}()
}

// Close stops accepting readings and waits for uploads in flight.
func (p *WeightPusher) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}

var _ WeightUploader = (*GarminClient)(nil)
