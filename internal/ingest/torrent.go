// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package ingest

import (
	"context"

	"github.com/tomtom215/tracearr/internal/correlator"
	"github.com/tomtom215/tracearr/internal/metrics"
	"github.com/tomtom215/tracearr/internal/models"
	"github.com/tomtom215/tracearr/internal/tracker"
)

// HandleQBittorrent processes a torrent-complete notification from
// qBittorrent's external-program hook. The hash is the only reliable
// correlation key the hook carries.
func (p *Processor) HandleQBittorrent(ctx context.Context, w *models.QBittorrentWebhook) error {
	hash := normalizeHash(w.Hash)

	req, err := p.corr.Resolve(ctx, correlator.Keys{TorrentHash: hash})
	if err != nil {
		return p.countOutcome(models.ServiceQBittorrent, err)
	}
	metrics.IngestEventsTotal.WithLabelValues(string(models.ServiceQBittorrent), "applied").Inc()

	if req.MediaKind == models.KindTV {
		// A season pack completes all episodes sharing its hash at once.
		for i := range req.Episodes {
			ep := &req.Episodes[i]
			if ep.TorrentHash == nil || *ep.TorrentHash != hash {
				continue
			}
			// The complete webhook can outrun the progress poller; step
			// through DOWNLOADING so the transition stays legal.
			if ep.State == models.StateGrabbing {
				if err := p.tracker.TransitionEpisode(ctx, req.ID, ep.ID, tracker.Change{
					To: models.StateDownloading, Service: models.ServiceQBittorrent, EventType: "download_started",
				}, nil); err != nil {
					return err
				}
			}
			if err := p.tracker.TransitionEpisode(ctx, req.ID, ep.ID, tracker.Change{
				To: models.StateDownloaded, Service: models.ServiceQBittorrent, EventType: "download_complete",
				Detail: w.Name,
			}, nil); err != nil {
				return err
			}
		}
		if len(req.Episodes) > 0 {
			return nil
		}
	}

	if req.State == models.StateGrabbing {
		if err := p.tracker.Transition(ctx, req.ID, tracker.Change{
			To: models.StateDownloading, Service: models.ServiceQBittorrent, EventType: "download_started",
		}); err != nil {
			return err
		}
	}
	return p.tracker.Transition(ctx, req.ID, tracker.Change{
		To: models.StateDownloaded, Service: models.ServiceQBittorrent, EventType: "download_complete",
		Detail: w.Name,
		Mutate: func(r *models.MediaRequest) {
			r.Progress = 100
			if w.Size > 0 && r.SizeBytes == 0 {
				r.SizeBytes = w.Size
			}
		},
	})
}
