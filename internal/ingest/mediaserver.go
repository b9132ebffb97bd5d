// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package ingest

import (
	"context"

	"github.com/tomtom215/tracearr/internal/correlator"
	"github.com/tomtom215/tracearr/internal/logging"
	"github.com/tomtom215/tracearr/internal/metrics"
	"github.com/tomtom215/tracearr/internal/models"
	"github.com/tomtom215/tracearr/internal/tracker"
)

// HandleJellyfin processes a Jellyfin webhook plugin notification.
// ItemAdded is the terminal confirmation of the happy path; ItemRemoved
// reports media deleted directly in the media server.
func (p *Processor) HandleJellyfin(ctx context.Context, w *models.JellyfinWebhook) error {
	switch w.NotificationType {
	case models.JellyfinItemAdded:
		return p.handleJellyfinAdded(ctx, w)
	case models.JellyfinItemRemoved:
		return p.handleJellyfinRemoved(ctx, w)
	default:
		logging.Debug().Str("notification_type", w.NotificationType).Msg("ignoring jellyfin notification")
		return nil
	}
}

func (p *Processor) handleJellyfinAdded(ctx context.Context, w *models.JellyfinWebhook) error {
	switch w.ItemType {
	case "Movie":
		req, err := p.corr.Resolve(ctx, correlator.Keys{
			TmdbID: w.ProviderTmdb(),
			Kind:   models.KindMovie,
			Title:  w.Name,
			Year:   w.Year,
		})
		if err != nil {
			return p.countOutcome(models.ServiceJellyfin, err)
		}
		metrics.IngestEventsTotal.WithLabelValues(string(models.ServiceJellyfin), "applied").Inc()
		return p.tracker.Transition(ctx, req.ID, tracker.Change{
			To: models.StateAvailable, Service: models.ServiceJellyfin, EventType: "item_added",
			Mutate: func(r *models.MediaRequest) {
				if w.ItemID != "" {
					r.JellyfinID = &w.ItemID
				}
			},
		})

	case "Episode":
		req, err := p.resolveJellyfinSeries(ctx, w)
		if err != nil {
			return p.countOutcome(models.ServiceJellyfin, err)
		}
		metrics.IngestEventsTotal.WithLabelValues(string(models.ServiceJellyfin), "applied").Inc()

		ep := findEpisode(req.Episodes, w.SeasonNumber, w.EpisodeNumber)
		if ep == nil {
			logging.Debug().
				Str("request_id", req.ID.String()).
				Int("season", w.SeasonNumber).
				Int("episode", w.EpisodeNumber).
				Msg("jellyfin episode added for untracked episode")
			return nil
		}
		return p.tracker.TransitionEpisode(ctx, req.ID, ep.ID, tracker.Change{
			To: models.StateAvailable, Service: models.ServiceJellyfin, EventType: "item_added",
			Detail: w.Name,
		}, func(e *models.Episode) {
			if w.ItemID != "" {
				e.JellyfinItemID = &w.ItemID
			}
		})

	case "Series":
		req, err := p.resolveJellyfinSeries(ctx, w)
		if err != nil {
			return p.countOutcome(models.ServiceJellyfin, err)
		}
		metrics.IngestEventsTotal.WithLabelValues(string(models.ServiceJellyfin), "applied").Inc()
		if err := p.tracker.Transition(ctx, req.ID, tracker.Change{
			To: req.State, Service: models.ServiceJellyfin, EventType: "item_added",
			Mutate: func(r *models.MediaRequest) {
				if w.ItemID != "" && r.JellyfinID == nil {
					r.JellyfinID = &w.ItemID
				}
			},
		}); err != nil {
			return err
		}
		return p.tracker.MarkAllEpisodesAvailable(ctx, req.ID, models.ServiceJellyfin, "series added to library")

	default:
		// Seasons and collections carry no lifecycle signal of their own.
		return nil
	}
}

// resolveJellyfinSeries matches a series-scoped notification to a TV
// request, preferring the provider ID and falling back to the series
// name the plugin templates in.
func (p *Processor) resolveJellyfinSeries(ctx context.Context, w *models.JellyfinWebhook) (*models.MediaRequest, error) {
	title := w.SeriesName
	if title == "" {
		title = w.Name
	}
	return p.corr.Resolve(ctx, correlator.Keys{
		TvdbID: w.ProviderTvdb(),
		TmdbID: w.ProviderTmdb(),
		Kind:   models.KindTV,
		Title:  title,
		Year:   w.Year,
	})
}

// handleJellyfinRemoved reports media deleted in the media server to
// the deletion orchestrator. Removal payloads vary by deployment and
// often omit provider IDs, so the stored item ID is tried before the
// provider ladder, and the whole chain tolerates absent fields.
func (p *Processor) handleJellyfinRemoved(ctx context.Context, w *models.JellyfinWebhook) error {
	kind := models.KindMovie
	if w.ItemType == "Series" || w.ItemType == "Episode" {
		kind = models.KindTV
	}

	return p.handleExternalDeletion(ctx, models.DeletionSourceJellyfin, models.ServiceJellyfin, true,
		func() ([]models.MediaRequest, error) {
			if w.ItemID == "" {
				return nil, nil
			}
			return p.db.ByJellyfinItemID(ctx, w.ItemID)
		},
		func() ([]models.MediaRequest, error) {
			if id := w.ProviderTmdb(); id != 0 {
				return p.db.ByTmdbID(ctx, id, kind)
			}
			return nil, nil
		},
		func() ([]models.MediaRequest, error) {
			if id := w.ProviderTvdb(); id != 0 {
				return p.db.ByTvdbID(ctx, id, kind)
			}
			return nil, nil
		},
	)
}
