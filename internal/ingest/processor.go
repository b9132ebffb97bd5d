// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

// Package ingest turns decoded service events into lifecycle actions:
// extract correlation keys, resolve the tracked request, apply the
// transition through the tracker. One adapter per source service.
//
// Adapters never fail on unmatched events; media downloaded outside
// the tracker's view is routine and is dropped with a counter bump.
package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/tomtom215/tracearr/internal/correlator"
	"github.com/tomtom215/tracearr/internal/database"
	"github.com/tomtom215/tracearr/internal/lifecycle"
	"github.com/tomtom215/tracearr/internal/logging"
	"github.com/tomtom215/tracearr/internal/metrics"
	"github.com/tomtom215/tracearr/internal/models"
	"github.com/tomtom215/tracearr/internal/tracker"
)

// ExternalDeletionRecorder is notified when an outside service reports
// media removed so the deletion orchestrator can log and clean up.
// Implemented by deletion.Orchestrator.
type ExternalDeletionRecorder interface {
	RecordExternalDeletion(ctx context.Context, req *models.MediaRequest, source models.DeletionSource, deletedFiles bool) error
}

// Processor applies incoming events from every source service.
type Processor struct {
	db        *database.DB
	corr      *correlator.Correlator
	tracker   *tracker.Tracker
	folders   *correlator.FolderResolver
	deletions ExternalDeletionRecorder
	animeRoot string

	// createLocks serializes request creation per upstream request ID;
	// the store has no unique constraint to lean on.
	createMu    sync.Mutex
	createLocks map[int64]*sync.Mutex
}

// New creates a Processor. folders may be nil when Shoko is disabled;
// deletions may be nil when deletion logging is disabled.
func New(db *database.DB, corr *correlator.Correlator, tr *tracker.Tracker, folders *correlator.FolderResolver, deletions ExternalDeletionRecorder, animeRoot string) *Processor {
	return &Processor{
		db:          db,
		corr:        corr,
		tracker:     tr,
		folders:     folders,
		deletions:   deletions,
		animeRoot:   animeRoot,
		createLocks: make(map[int64]*sync.Mutex),
	}
}

// HandleJellyseerr processes a request-manager notification.
func (p *Processor) HandleJellyseerr(ctx context.Context, w *models.JellyseerrWebhook) error {
	kind := models.KindMovie
	if w.Media != nil && w.Media.MediaType == "tv" {
		kind = models.KindTV
	}

	keys := correlator.Keys{
		JellyseerrID: w.RequestID(),
		TmdbID:       w.TmdbID(),
		TvdbID:       w.TvdbID(),
		Kind:         kind,
		Title:        w.Subject,
	}

	switch w.NotificationType {
	case models.JellyseerrMediaPending:
		return p.createFromJellyseerr(ctx, w, kind, models.StateRequested, "request")

	case models.JellyseerrMediaAutoApproved:
		return p.createFromJellyseerr(ctx, w, kind, models.StateApproved, "auto_approved")

	case models.JellyseerrMediaApproved:
		req, err := p.corr.Resolve(ctx, keys)
		if errors.Is(err, correlator.ErrNoMatch) {
			// Approval can be the first event we see when the pending
			// notification was lost or predates the tracker.
			return p.createFromJellyseerr(ctx, w, kind, models.StateApproved, "approved")
		}
		if err != nil {
			return p.countOutcome(models.ServiceJellyseerr, err)
		}
		metrics.IngestEventsTotal.WithLabelValues(string(models.ServiceJellyseerr), "applied").Inc()
		return p.tracker.Transition(ctx, req.ID, tracker.Change{
			To: models.StateApproved, Service: models.ServiceJellyseerr, EventType: "approved",
		})

	case models.JellyseerrMediaAvailable:
		req, err := p.corr.Resolve(ctx, keys)
		if err != nil {
			return p.countOutcome(models.ServiceJellyseerr, err)
		}
		metrics.IngestEventsTotal.WithLabelValues(string(models.ServiceJellyseerr), "applied").Inc()
		if req.MediaKind == models.KindTV && len(req.Episodes) > 0 {
			return p.tracker.MarkAllEpisodesAvailable(ctx, req.ID, models.ServiceJellyseerr, "reported available")
		}
		return p.tracker.Transition(ctx, req.ID, tracker.Change{
			To: models.StateAvailable, Service: models.ServiceJellyseerr, EventType: "available",
		})

	case models.JellyseerrMediaFailed:
		req, err := p.corr.Resolve(ctx, keys)
		if err != nil {
			return p.countOutcome(models.ServiceJellyseerr, err)
		}
		metrics.IngestEventsTotal.WithLabelValues(string(models.ServiceJellyseerr), "applied").Inc()
		return p.tracker.Transition(ctx, req.ID, tracker.Change{
			To: models.StateFailed, Service: models.ServiceJellyseerr, EventType: "failed", Detail: w.Message,
		})

	default:
		logging.Debug().Str("notification_type", w.NotificationType).Msg("ignoring jellyseerr notification")
		return nil
	}
}

// createFromJellyseerr builds a new tracked request from a request
// notification, unless an active request already covers it (duplicate
// webhook delivery).
func (p *Processor) createFromJellyseerr(ctx context.Context, w *models.JellyseerrWebhook, kind models.MediaKind, state models.State, eventType string) error {
	if id := w.RequestID(); id != 0 {
		// Hold the per-ID lock across lookup and insert so two
		// concurrent deliveries of the same notification cannot both
		// miss the lookup and create twice.
		unlock := p.lockCreate(id)
		defer unlock()

		existing, err := p.db.ActiveByJellyseerrID(ctx, id)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			// Already tracked; treat the duplicate as a state nudge.
			metrics.IngestEventsTotal.WithLabelValues(string(models.ServiceJellyseerr), "applied").Inc()
			return p.tracker.Transition(ctx, existing[0].ID, tracker.Change{
				To: state, Service: models.ServiceJellyseerr, EventType: eventType,
			})
		}
	}

	req := &models.MediaRequest{
		MediaKind: kind,
		Title:     w.Subject,
		PosterURL: w.Image,
		State:     state,
		Seasons:   w.RequestedSeasons(),
	}
	if id := w.RequestID(); id != 0 {
		req.JellyseerrID = &id
	}
	if id := w.TmdbID(); id != 0 {
		req.TmdbID = &id
	}
	if id := w.TvdbID(); id != 0 {
		req.TvdbID = &id
	}
	if w.Request != nil {
		req.RequestedBy = w.Request.RequestedByUsername
	}

	metrics.IngestEventsTotal.WithLabelValues(string(models.ServiceJellyseerr), "applied").Inc()
	detail := ""
	if req.RequestedBy != "" {
		detail = "requested by " + req.RequestedBy
	}
	return p.tracker.CreateRequest(ctx, req, models.ServiceJellyseerr, eventType, detail)
}

// lockCreate acquires the per-upstream-ID creation mutex, creating it
// on first use. Entries are never reaped; the ID space in play at any
// moment is small.
func (p *Processor) lockCreate(id int64) func() {
	p.createMu.Lock()
	m, ok := p.createLocks[id]
	if !ok {
		m = &sync.Mutex{}
		p.createLocks[id] = m
	}
	p.createMu.Unlock()

	m.Lock()
	return m.Unlock
}

// countOutcome maps a correlation failure to its metrics outcome and
// swallows it; unmatched events are expected.
func (p *Processor) countOutcome(service models.ServiceName, err error) error {
	switch {
	case errors.Is(err, correlator.ErrNoMatch):
		metrics.IngestEventsTotal.WithLabelValues(string(service), "no_match").Inc()
		return nil
	case errors.Is(err, correlator.ErrAmbiguous):
		metrics.IngestEventsTotal.WithLabelValues(string(service), "ambiguous").Inc()
		return nil
	default:
		metrics.IngestEventsTotal.WithLabelValues(string(service), "error").Inc()
		return err
	}
}

// normalizeHash canonicalizes a torrent hash to lowercase; Radarr and
// Sonarr report downloadId uppercased, qBittorrent lowercased.
func normalizeHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}

// settleAnime applies the grab-time anime classification unless one is
// already settled.
func settleAnime(req *models.MediaRequest, tags []string, seriesType, path, animeRoot string) {
	if req.Anime != models.AnimeUnknown && req.Anime != "" {
		return
	}
	req.Anime = lifecycle.InferAnime(tags, seriesType, path, animeRoot)
}
