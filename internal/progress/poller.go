// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

// Package progress polls the torrent client and pushes download
// percentages into the store. The poll cadence adapts: fast while
// anything is downloading, slow otherwise.
package progress

import (
	"context"
	"math"
	"time"

	"github.com/tomtom215/tracearr/internal/database"
	"github.com/tomtom215/tracearr/internal/logging"
	"github.com/tomtom215/tracearr/internal/metrics"
	"github.com/tomtom215/tracearr/internal/models"
	"github.com/tomtom215/tracearr/internal/tracker"
)

// TorrentLister supplies per-hash torrent progress.
// Implemented by clients.QBittorrentClient.
type TorrentLister interface {
	TorrentsInfo(ctx context.Context, hashes []string) ([]models.QBittorrentTorrent, error)
}

// Poller drives the adaptive progress loop.
type Poller struct {
	db      *database.DB
	torrent TorrentLister
	tracker *tracker.Tracker
	fast    time.Duration
	slow    time.Duration
}

// New creates a Poller.
func New(db *database.DB, torrent TorrentLister, tr *tracker.Tracker, fast, slow time.Duration) *Poller {
	if fast <= 0 {
		fast = 3 * time.Second
	}
	if slow <= 0 {
		slow = 15 * time.Second
	}
	return &Poller{db: db, torrent: torrent, tracker: tr, fast: fast, slow: slow}
}

// RunWithContext polls until the context is canceled. Designed to run
// under suture supervision; poll errors are logged, never fatal.
func (p *Poller) RunWithContext(ctx context.Context) error {
	timer := time.NewTimer(p.fast)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if err := p.poll(ctx); err != nil && ctx.Err() == nil {
			logging.Warn().Err(err).Msg("progress poll failed")
		}

		interval := p.slow
		cadence := "slow"
		if busy, err := p.db.AnyActiveDownloading(ctx); err == nil && busy {
			interval = p.fast
			cadence = "fast"
		}
		metrics.PollCyclesTotal.WithLabelValues(cadence).Inc()
		timer.Reset(interval)
	}
}

// poll fetches progress for every hash the active set is waiting on and
// applies it.
func (p *Poller) poll(ctx context.Context) error {
	active, err := p.db.ListActive(ctx)
	if err != nil {
		return err
	}

	watched := make(map[string]*models.MediaRequest)
	for i := range active {
		req := &active[i]
		if req.State != models.StateGrabbing && req.State != models.StateDownloading {
			continue
		}
		if req.TorrentHash != nil {
			watched[*req.TorrentHash] = req
		}
		for j := range req.Episodes {
			if h := req.Episodes[j].TorrentHash; h != nil {
				watched[*h] = req
			}
		}
	}
	if len(watched) == 0 {
		return nil
	}

	hashes := make([]string, 0, len(watched))
	for h := range watched {
		hashes = append(hashes, h)
	}

	torrents, err := p.torrent.TorrentsInfo(ctx, hashes)
	if err != nil {
		return err
	}

	for i := range torrents {
		t := &torrents[i]
		req, ok := watched[t.Hash]
		if !ok {
			// Old completed requests must never be updated.
			continue
		}
		if err := p.apply(ctx, req, t); err != nil {
			logging.Warn().Err(err).
				Str("request_id", req.ID.String()).
				Str("hash", t.Hash).
				Msg("failed to apply torrent progress")
		}
	}
	return nil
}

// apply moves one request forward based on a torrent snapshot.
func (p *Poller) apply(ctx context.Context, req *models.MediaRequest, t *models.QBittorrentTorrent) error {
	pct := t.ProgressPercent()

	if t.IsComplete() {
		return p.completed(ctx, req, t)
	}

	if req.State == models.StateGrabbing && pct > 0 {
		return p.tracker.Transition(ctx, req.ID, tracker.Change{
			To: models.StateDownloading, Service: models.ServiceQBittorrent, EventType: "download_started",
			Detail: t.Name,
			Mutate: func(r *models.MediaRequest) { r.Progress = pct },
		})
	}

	if req.State == models.StateDownloading {
		if math.Abs(pct-req.Progress) > 5 {
			logging.Debug().
				Str("request_id", req.ID.String()).
				Float64("progress", pct).
				Msg("download progress")
		}
		return p.tracker.UpdateProgress(ctx, req.ID, pct)
	}
	return nil
}

// completed marks the request, and any episodes sharing the hash,
// DOWNLOADED.
func (p *Poller) completed(ctx context.Context, req *models.MediaRequest, t *models.QBittorrentTorrent) error {
	if req.MediaKind == models.KindTV && len(req.Episodes) > 0 {
		for i := range req.Episodes {
			ep := &req.Episodes[i]
			if ep.TorrentHash == nil || *ep.TorrentHash != t.Hash {
				continue
			}
			// Fast downloads can complete between polls while the
			// episode is still GRABBING; step through DOWNLOADING.
			if ep.State == models.StateGrabbing {
				if err := p.tracker.TransitionEpisode(ctx, req.ID, ep.ID, tracker.Change{
					To: models.StateDownloading, Service: models.ServiceQBittorrent, EventType: "download_started",
				}, nil); err != nil {
					return err
				}
			}
			if err := p.tracker.TransitionEpisode(ctx, req.ID, ep.ID, tracker.Change{
				To: models.StateDownloaded, Service: models.ServiceQBittorrent, EventType: "download_complete",
				Detail: t.Name,
			}, nil); err != nil {
				return err
			}
		}
		return nil
	}

	if req.State == models.StateGrabbing {
		if err := p.tracker.Transition(ctx, req.ID, tracker.Change{
			To: models.StateDownloading, Service: models.ServiceQBittorrent, EventType: "download_started",
			Detail: t.Name,
		}); err != nil {
			return err
		}
	}
	return p.tracker.Transition(ctx, req.ID, tracker.Change{
		To: models.StateDownloaded, Service: models.ServiceQBittorrent, EventType: "download_complete",
		Detail: t.Name,
		Mutate: func(r *models.MediaRequest) { r.Progress = 100 },
	})
}
