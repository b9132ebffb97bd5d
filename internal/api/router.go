// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/tracearr/internal/config"
	"github.com/tomtom215/tracearr/internal/middleware"
)

// NewRouter wires the full route tree. adminGate protects destructive
// endpoints; pass nil to close them entirely (e.g. no Jellyfin
// configured to authenticate against).
func NewRouter(h *Handler, cfg *config.ServerConfig, adminGate func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Prometheus)

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Emby-Token"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	rateLimit := httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow)
	if cfg.RateLimitReqs <= 0 {
		rateLimit = httprate.LimitByIP(300, time.Minute)
	}

	// Webhook ingestion. No rate limit: a season pack import can fire
	// dozens of events in one burst and dropping them loses state.
	r.Route("/hooks", func(r chi.Router) {
		r.Post("/jellyseerr", h.JellyseerrHook)
		r.Post("/radarr", h.RadarrHook)
		r.Post("/sonarr", h.SonarrHook)
		r.Post("/qbittorrent", h.QBittorrentHook)
		r.Post("/jellyfin", h.JellyfinHook)
	})

	// Dashboard API.
	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimit)

		r.Get("/requests", h.ListRequests)
		r.Get("/requests/{id}", h.GetRequest)
		r.Get("/sse", h.Events)
		// Older dashboard builds connect here.
		r.Get("/events", h.Events)

		// Destructive endpoints sit behind the admin gate. With no gate
		// configured they are not mounted at all.
		if adminGate != nil {
			r.Group(func(r chi.Router) {
				r.Use(adminGate)
				r.Post("/requests/{id}/delete", h.DeleteRequest)
				r.Post("/requests/bulk-delete", h.BulkDeleteRequests)
				r.Get("/deletion-logs", h.ListDeletionLogs)
				r.Get("/deletion-logs/{id}", h.GetDeletionLog)
				r.Post("/admin/sync/library", h.TriggerLibrarySync)
			})
		}
	})

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
