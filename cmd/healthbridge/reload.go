// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package main

import (
	"context"
	"reflect"
	stdsync "sync"

	"github.com/tomtom215/healthbridge/internal/config"
	"github.com/tomtom215/healthbridge/internal/logging"
	"github.com/tomtom215/healthbridge/internal/models"
)

// reloader re-applies source settings when the config file changes.
//
// Enabled sources whose settings changed are reconfigured in place, which
// also re-enables a source that was disabled for rejected credentials.
// Unchanged sources are left alone. Sources removed from the file keep
// running until restart; the scheduler has no unregister.
type reloader struct {
	mu      stdsync.Mutex
	app     *app
	path    string
	current *config.Config
}

func (r *reloader) reload(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, err := config.LoadFromPath(r.path)
	if err != nil {
		logging.Error().Err(err).Str("path", r.path).Msg("Config reload failed, keeping previous settings")
		return
	}
	if err := logging.SetLevelString(cfg.Logging.Level); err != nil {
		logging.Warn().Err(err).Msg("Keeping previous log level")
	}

	wasEnabled := make(map[models.SourceID]bool)
	for _, id := range r.current.EnabledSources() {
		wasEnabled[id] = true
	}

	enabled := make(map[models.SourceID]bool)
	for _, id := range cfg.EnabledSources() {
		enabled[id] = true
		if wasEnabled[id] && !sourceChanged(r.current, cfg, id) {
			continue
		}
		reg, err := r.app.builder.Build(cfg, id)
		if err != nil {
			logging.Error().Err(err).Str("source", string(id)).Msg("Failed to build source from reloaded config")
			continue
		}
		if err := r.app.manager.Reconfigure(ctx, reg); err != nil {
			logging.Error().Err(err).Str("source", string(id)).Msg("Failed to reconfigure source")
		}
	}
	for _, id := range r.current.EnabledSources() {
		if !enabled[id] {
			logging.Warn().Str("source", string(id)).Msg("Source disabled in config; restart to stop it")
		}
	}
	if cfg.Server != r.current.Server || cfg.Database != r.current.Database {
		logging.Warn().Msg("Server or database settings changed; restart to apply")
	}
	if !reflect.DeepEqual(cfg.Priorities, r.current.Priorities) {
		logging.Warn().Msg("Field priorities changed; restart to apply")
	}

	r.current = cfg
	logging.Info().Str("path", r.path).Msg("Configuration reloaded")
}

func sourceChanged(prev, next *config.Config, id models.SourceID) bool {
	return !reflect.DeepEqual(prev.SourceSettings(id), next.SourceSettings(id))
}
