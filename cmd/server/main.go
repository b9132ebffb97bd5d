// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

// Package main is the Tracearr server entry point.
//
// Tracearr follows a media request from the moment it is made in
// Jellyseerr to the moment it is playable in Jellyfin, correlating
// webhooks and push events from Jellyseerr, Radarr, Sonarr,
// qBittorrent, Shoko, and Jellyfin into one per-request timeline.
//
// Startup order:
//
//  1. Configuration (koanf: defaults, then YAML file, then env vars)
//  2. Logging (zerolog)
//  3. DuckDB store and schema migration
//  4. SSE hub, tracker, correlator
//  5. Service clients and the deletion orchestrator
//  6. Ingest processor, progress poller, verifier, library sync
//  7. HTTP router and the suture supervision tree
//
// Shutdown on SIGINT/SIGTERM cancels the tree's context; the HTTP
// server drains, background loops stop, and in-flight deletion syncs
// are awaited before exit.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/tracearr/internal/api"
	"github.com/tomtom215/tracearr/internal/clients"
	"github.com/tomtom215/tracearr/internal/config"
	"github.com/tomtom215/tracearr/internal/correlator"
	"github.com/tomtom215/tracearr/internal/database"
	"github.com/tomtom215/tracearr/internal/deletion"
	"github.com/tomtom215/tracearr/internal/ingest"
	"github.com/tomtom215/tracearr/internal/librarysync"
	"github.com/tomtom215/tracearr/internal/logging"
	"github.com/tomtom215/tracearr/internal/middleware"
	"github.com/tomtom215/tracearr/internal/progress"
	"github.com/tomtom215/tracearr/internal/sse"
	"github.com/tomtom215/tracearr/internal/supervisor"
	"github.com/tomtom215/tracearr/internal/tracker"
	"github.com/tomtom215/tracearr/internal/verifier"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("tracearr failed to start")
	}
}

func run() error {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})
	logging.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Bool("shoko", cfg.ShokoEnabled()).
		Bool("deletion_sync", cfg.Deletion.Enabled).
		Msg("starting tracearr")

	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Err(err).Msg("failed to close database")
		}
	}()

	// Core plumbing.
	hub := sse.NewHub(cfg.SSE.ClientBuffer)
	tr := tracker.New(db, hub)
	corr := correlator.New(db, cfg.Media.PathPrefix)

	// Service clients. Each degrades to disabled when its URL is empty.
	jellyseerr := clients.NewJellyseerrClient(cfg.Jellyseerr.URL, cfg.Jellyseerr.APIKey)
	radarr := clients.NewRadarrClient(cfg.Radarr.URL, cfg.Radarr.APIKey)
	sonarr := clients.NewSonarrClient(cfg.Sonarr.URL, cfg.Sonarr.APIKey)
	qbittorrent := clients.NewQBittorrentClient(cfg.QBittorrent.URL, cfg.QBittorrent.Username, cfg.QBittorrent.Password)
	jellyfin := clients.NewJellyfinClient(cfg.Jellyfin.URL, cfg.Jellyfin.APIKey)

	var shoko *clients.ShokoClient
	var folders *correlator.FolderResolver
	if cfg.ShokoEnabled() {
		shoko = clients.NewShokoClient(cfg.Shoko.URL, cfg.Shoko.Username, cfg.Shoko.Password)
		folders = correlator.NewFolderResolver(shoko)
	}

	// Deletion orchestrator. Shoko is optional; passing a typed nil
	// would defeat the nil checks inside, hence the indirection.
	var shokoDeleter deletion.AnimeService
	if shoko != nil {
		shokoDeleter = shoko
	}
	orchestrator := deletion.New(db, hub, qbittorrent, radarr, sonarr, shokoDeleter, jellyfin, jellyseerr, deletion.Config{
		Enabled:     cfg.Deletion.Enabled,
		VerifyDelay: cfg.Deletion.VerifyDelay,
	})

	processor := ingest.New(db, corr, tr, folders, orchestrator, cfg.Media.AnimeRoot)

	// Background workers.
	poller := progress.New(db, qbittorrent, tr, cfg.Poll.FastInterval, cfg.Poll.SlowInterval)

	var rescanner verifier.Rescanner
	if shoko != nil {
		rescanner = shoko
	}
	rescue := verifier.New(db, jellyfin, rescanner, tr, verifier.Config{
		Interval:             cfg.Verifier.Interval,
		StalenessWindow:      cfg.Verifier.StalenessWindow,
		VFSRegenerationDelay: cfg.Verifier.VFSRegenerationDelay,
		RescanRatePerMinute:  int(cfg.Verifier.RescanRatePerMinute),
	})

	syncJob := librarysync.New(db, tr, jellyfin, jellyseerr, hub)

	// HTTP surface.
	stream := sse.NewStreamHandler(hub, cfg.SSE.HeartbeatInterval)
	handler := api.NewHandler(db, processor, orchestrator, syncJob, hub, stream, cfg.Jellyseerr.WebhookSecret)

	var adminGate func(http.Handler) http.Handler
	if len(cfg.Security.AdminUserIDs) > 0 {
		adminGate = middleware.AdminGate(jellyfin, cfg.Security.IsAdmin)
	} else {
		logging.Warn().Msg("no admin users configured, destructive endpoints are disabled")
	}

	router := api.NewRouter(handler, &cfg.Server, adminGate)
	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.Timeout,
		// SSE connections outlive any sane write timeout.
		WriteTimeout: 0,
		IdleTimeout:  2 * cfg.Server.Timeout,
	}

	// Supervision tree.
	slogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	tree := supervisor.NewTree(slogger, supervisor.DefaultTreeConfig())

	tree.AddStreamService(supervisor.NewRunnerService("sse-hub", hub))
	tree.AddWorkerService(supervisor.NewRunnerService("progress-poller", poller))
	tree.AddWorkerService(supervisor.NewRunnerService("verifier", rescue))
	if shoko != nil {
		// One worker drains the event queue so file events apply in
		// arrival order.
		shokoEvents := ingest.NewShokoEvents(processor)
		signalr := clients.NewShokoSignalRClient(cfg.Shoko.URL, shoko, shokoEvents, cfg.Shoko.ReconnectMaxInterval)
		tree.AddIngestService(supervisor.NewRunnerService("shoko-events", shokoEvents))
		tree.AddIngestService(supervisor.NewRunnerService("shoko-signalr", signalr))
	}
	tree.AddAPIService(supervisor.NewHTTPServerService(server, 10*time.Second))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", server.Addr).Msg("tracearr ready")
	err = tree.Serve(ctx)

	// Let in-flight deletion fan-outs finish before the process exits;
	// they run detached from request contexts on purpose.
	orchestrator.Wait()

	if err != nil && ctx.Err() == nil {
		return err
	}
	logging.Info().Msg("tracearr stopped")
	return nil
}
