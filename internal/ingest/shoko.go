// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package ingest

import (
	"context"
	"time"

	"github.com/tomtom215/tracearr/internal/correlator"
	"github.com/tomtom215/tracearr/internal/logging"
	"github.com/tomtom215/tracearr/internal/metrics"
	"github.com/tomtom215/tracearr/internal/models"
	"github.com/tomtom215/tracearr/internal/tracker"
)

// shokoEventTimeout bounds the work done for one pushed event.
const shokoEventTimeout = 30 * time.Second

// shokoQueueSize bounds events buffered between the connection's reader
// goroutine and the single worker draining them.
const shokoQueueSize = 256

type shokoQueuedEvent struct {
	eventType string
	ev        models.ShokoFileEvent
}

// ShokoEvents adapts the SignalR feed to the processor. Hub callbacks
// run on the connection's reader goroutine and must not block, so they
// enqueue; a single worker drains the queue so events for the same file
// (detected, hashed, matched arrive as one batch) apply in order, never
// concurrently. Run the worker under supervision via RunWithContext.
type ShokoEvents struct {
	processor *Processor
	queue     chan shokoQueuedEvent
}

// NewShokoEvents creates the SignalR event adapter.
func NewShokoEvents(p *Processor) *ShokoEvents {
	return &ShokoEvents{processor: p, queue: make(chan shokoQueuedEvent, shokoQueueSize)}
}

// OnFileEvent implements clients.ShokoEventHandler.
func (s *ShokoEvents) OnFileEvent(eventType string, ev models.ShokoFileEvent) {
	select {
	case s.queue <- shokoQueuedEvent{eventType: eventType, ev: ev}:
	default:
		logging.Warn().Str("event_type", eventType).Int64("file_id", ev.FileID).
			Msg("shoko event queue full, dropping event")
	}
}

// RunWithContext drains the event queue on one goroutine until the
// context is canceled. Designed to run under suture supervision next to
// the SignalR connection.
func (s *ShokoEvents) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case qe := <-s.queue:
			evCtx, cancel := context.WithTimeout(ctx, shokoEventTimeout)
			err := s.processor.HandleShokoFile(evCtx, qe.eventType, &qe.ev)
			cancel()
			if err != nil {
				logging.Err(err).Str("event_type", qe.eventType).Int64("file_id", qe.ev.FileID).
					Msg("failed to handle shoko file event")
			}
		}
	}
}

// OnSeriesEvent implements clients.ShokoEventHandler.
func (s *ShokoEvents) OnSeriesEvent(eventType string, ev models.ShokoSeriesEvent) {
	// Only Reason "Added" is material; image and metadata refreshes
	// arrive constantly and carry no lifecycle signal.
	if ev.Reason != "Added" {
		return
	}
	logging.Debug().Str("event_type", eventType).Int64("series_id", ev.SeriesID).
		Msg("shoko series added")
}

// HandleShokoFile processes one file-feed event. The event's path is
// relative to an import folder, so it is first resolved to an absolute
// candidate through the folder cache.
func (p *Processor) HandleShokoFile(ctx context.Context, eventType string, ev *models.ShokoFileEvent) error {
	switch eventType {
	case models.ShokoFileMatched:
		return p.handleShokoMatched(ctx, ev)
	case models.ShokoFileDeleted:
		return p.handleShokoDeleted(ctx, ev)
	default:
		// FileDetected and FileHashed precede the match and carry no
		// actionable correlation yet.
		logging.Debug().Str("event_type", eventType).Int64("file_id", ev.FileID).
			Msg("ignoring shoko file event")
		return nil
	}
}

// handleShokoMatched applies the match outcome. A file carrying
// cross-references is terminally matched to the anime database and its
// episode becomes AVAILABLE; a file without them is still waiting on
// recognition and parks in ANIME_MATCHING for the verifier to watch.
func (p *Processor) handleShokoMatched(ctx context.Context, ev *models.ShokoFileEvent) error {
	if p.folders == nil {
		return nil
	}
	absPath, err := p.folders.AbsolutePath(ctx, ev.ImportFolderID, ev.RelativePath)
	if err != nil {
		metrics.IngestEventsTotal.WithLabelValues(string(models.ServiceShoko), "error").Inc()
		return err
	}

	target := models.StateAnimeMatching
	detail := "matched, awaiting cross-references"
	if ev.HasCrossReferences() {
		target = models.StateAvailable
		detail = "cross-referenced to anime database"
	}

	req, ep, err := p.corr.ResolveEpisode(ctx, absPath)
	if err == nil {
		metrics.IngestEventsTotal.WithLabelValues(string(models.ServiceShoko), "applied").Inc()
		return p.tracker.TransitionEpisode(ctx, req.ID, ep.ID, tracker.Change{
			To: target, Service: models.ServiceShoko, EventType: "file_matched", Detail: detail,
		}, func(e *models.Episode) {
			e.ShokoFileID = &ev.FileID
		})
	}

	// Not an episode path; anime movies flow through the same feed.
	req, err = p.corr.Resolve(ctx, correlator.Keys{Path: absPath, Kind: models.KindMovie})
	if err != nil {
		return p.countOutcome(models.ServiceShoko, err)
	}
	metrics.IngestEventsTotal.WithLabelValues(string(models.ServiceShoko), "applied").Inc()
	return p.tracker.Transition(ctx, req.ID, tracker.Change{
		To: target, Service: models.ServiceShoko, EventType: "file_matched", Detail: detail,
	})
}

// handleShokoDeleted records the removal on the timeline. One file
// disappearing does not delete the request; series-level cleanup
// arrives through the indexer's deletion webhook instead.
func (p *Processor) handleShokoDeleted(ctx context.Context, ev *models.ShokoFileEvent) error {
	if p.folders == nil {
		return nil
	}
	absPath, err := p.folders.AbsolutePath(ctx, ev.ImportFolderID, ev.RelativePath)
	if err != nil {
		metrics.IngestEventsTotal.WithLabelValues(string(models.ServiceShoko), "error").Inc()
		return err
	}

	req, _, err := p.corr.ResolveEpisode(ctx, absPath)
	if err != nil {
		req, err = p.corr.Resolve(ctx, correlator.Keys{Path: absPath, Kind: models.KindMovie})
		if err != nil {
			return p.countOutcome(models.ServiceShoko, err)
		}
	}
	metrics.IngestEventsTotal.WithLabelValues(string(models.ServiceShoko), "applied").Inc()
	return p.tracker.RecordEvent(ctx, req.ID, models.ServiceShoko, "file_deleted", ev.RelativePath)
}
