// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/healthbridge/internal/api"
	"github.com/tomtom215/healthbridge/internal/config"
	"github.com/tomtom215/healthbridge/internal/logging"
	"github.com/tomtom215/healthbridge/internal/models"
	"github.com/tomtom215/healthbridge/internal/supervisor"
	"github.com/tomtom215/healthbridge/internal/supervisor/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the source scheduler and the HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logging.Info().
		Str("version", version).
		Strs("sources", sourceNames(cfg.EnabledSources())).
		Msg("Starting Healthbridge")

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logging.Error().Err(err).Msg("Error during shutdown")
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.register(ctx, cfg, cfg.EnabledSources()); err != nil {
		return err
	}
	a.manager.SetOnCycleCompleted(func(res models.CycleResult) {
		logging.Debug().
			Str("source", string(res.Source)).
			Str("status", string(res.Status)).
			Int("dates", res.Dates).
			Msg("Cycle completed")
	})

	server := newHTTPServer(cfg, a)

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}
	tree.AddDataService(services.NewStateGCService(a.state, cfg.State.GCInterval, cfg.State.GCDiscardRatio))
	tree.AddDataService(services.NewCheckpointService(a.db, cfg.Database.CheckpointInterval))
	tree.AddSyncService(services.NewSyncService(a.manager))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Supervisor.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("Services added to supervisor tree")

	if path := configPath(); path != "" {
		r := &reloader{app: a, path: path, current: cfg}
		if _, err := config.WatchConfigFile(path, func() { r.reload(ctx) }); err != nil {
			logging.Warn().Err(err).Msg("Config file watch disabled")
		} else {
			logging.Info().Str("path", path).Msg("Watching config file")
		}
	}

	errCh := tree.ServeBackground(ctx)
	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Healthbridge stopped")
	return nil
}

func newHTTPServer(cfg *config.Config, a *app) *http.Server {
	deps := api.Deps{
		Scheduler: a.manager,
		Records:   a.db,
		Pinger:    a.db,
	}
	if cfg.Sources.Aria.Enabled {
		deps.Scale = a.builder.Scale()
		deps.ScaleUpstreamURL = cfg.Sources.Aria.UpstreamURL
		if a.pusher != nil {
			deps.WeightPush = a.pusher
		}
	}

	router := api.NewRouter(api.NewHandler(deps), api.RouterConfig{
		SyncRateLimit:  cfg.Server.SyncRateLimit,
		RequestTimeout: cfg.Server.Timeout,
	})
	return &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func sourceNames(ids []models.SourceID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
