// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

// Package librarysync seeds the tracker from an existing library. Media
// acquired before the tracker was deployed has no request history; the
// sync enumerates the media server's items and creates AVAILABLE
// requests for anything not yet represented, then backfills correlation
// IDs from the request manager's records.
package librarysync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tomtom215/tracearr/internal/clients"
	"github.com/tomtom215/tracearr/internal/database"
	"github.com/tomtom215/tracearr/internal/logging"
	"github.com/tomtom215/tracearr/internal/models"
	"github.com/tomtom215/tracearr/internal/sse"
	"github.com/tomtom215/tracearr/internal/tracker"
)

// pageSize is the media-server page size. The API-call budget is one
// bulk (paged) query per external service, never one call per item.
const pageSize = 500

// ErrAlreadyRunning is returned when a sync is triggered while another
// is in flight.
var ErrAlreadyRunning = errors.New("library sync already running")

// MediaLibrary pages the media server's library.
// Implemented by clients.JellyfinClient.
type MediaLibrary interface {
	Items(ctx context.Context, includeItemTypes string, startIndex, limit int) (*models.JellyfinItemsPage, error)
}

// RequestManager pages the request manager's records for backfill.
// Implemented by clients.JellyseerrClient.
type RequestManager interface {
	Requests(ctx context.Context, take, skip int) ([]clients.JellyseerrRequest, int, error)
}

// Broadcaster pushes sync progress to dashboard clients.
type Broadcaster interface {
	Broadcast(eventType, requestID string, data interface{})
}

// Summary reports what one sync run did.
type Summary struct {
	MoviesScanned int `json:"movies_scanned"`
	SeriesScanned int `json:"series_scanned"`
	Created       int `json:"created"`
	Backfilled    int `json:"backfilled"`
	Skipped       int `json:"skipped"`
}

// Job runs library syncs. Only one run at a time.
type Job struct {
	db         *database.DB
	tracker    *tracker.Tracker
	jellyfin   MediaLibrary
	jellyseerr RequestManager
	hub        Broadcaster

	mu sync.Mutex
}

// New creates a Job. jellyseerr may be nil; backfill is then skipped.
func New(db *database.DB, tr *tracker.Tracker, jellyfin MediaLibrary, jellyseerr RequestManager, hub Broadcaster) *Job {
	return &Job{db: db, tracker: tr, jellyfin: jellyfin, jellyseerr: jellyseerr, hub: hub}
}

// Run executes one full sync. Returns ErrAlreadyRunning when a sync is
// already in flight.
func (j *Job) Run(ctx context.Context) (*Summary, error) {
	if !j.mu.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer j.mu.Unlock()

	j.hub.Broadcast(sse.EventLibrarySyncStatus, "", map[string]string{"status": "started"})

	summary := &Summary{}
	if err := j.run(ctx, summary); err != nil {
		j.hub.Broadcast(sse.EventLibrarySyncStatus, "", map[string]interface{}{
			"status": "failed",
			"error":  err.Error(),
		})
		return nil, err
	}

	logging.Info().
		Int("movies", summary.MoviesScanned).
		Int("series", summary.SeriesScanned).
		Int("created", summary.Created).
		Int("backfilled", summary.Backfilled).
		Msg("library sync finished")
	j.hub.Broadcast(sse.EventLibrarySyncStatus, "", map[string]interface{}{
		"status":  "finished",
		"summary": summary,
	})
	return summary, nil
}

func (j *Job) run(ctx context.Context, summary *Summary) error {
	idx, err := j.buildIndex(ctx)
	if err != nil {
		return err
	}

	if err := j.scanKind(ctx, "Movie", models.KindMovie, idx, summary); err != nil {
		return err
	}
	if err := j.scanKind(ctx, "Series", models.KindTV, idx, summary); err != nil {
		return err
	}

	return j.backfill(ctx, idx, summary)
}

// index holds every known request keyed by its correlation IDs.
type index struct {
	byTmdb     map[string]*models.MediaRequest // "603/movie"
	byTvdb     map[string]*models.MediaRequest
	byJellyfin map[string]*models.MediaRequest
	requests   []models.MediaRequest
}

func kindKey(id int64, kind models.MediaKind) string {
	return fmt.Sprintf("%d/%s", id, kind)
}

func (j *Job) buildIndex(ctx context.Context) (*index, error) {
	requests, err := j.db.AllRequests(ctx)
	if err != nil {
		return nil, err
	}

	idx := &index{
		byTmdb:     make(map[string]*models.MediaRequest),
		byTvdb:     make(map[string]*models.MediaRequest),
		byJellyfin: make(map[string]*models.MediaRequest),
		requests:   requests,
	}
	for i := range idx.requests {
		req := &idx.requests[i]
		if req.TmdbID != nil {
			idx.byTmdb[kindKey(*req.TmdbID, req.MediaKind)] = req
		}
		if req.TvdbID != nil {
			idx.byTvdb[kindKey(*req.TvdbID, req.MediaKind)] = req
		}
		if req.JellyfinID != nil {
			idx.byJellyfin[*req.JellyfinID] = req
		}
	}
	return idx, nil
}

// represented reports whether any request already covers the item,
// matching by any provider ID or by the stored media-server ID.
func (idx *index) represented(item *models.JellyfinItem, kind models.MediaKind) bool {
	if _, ok := idx.byJellyfin[item.ID]; ok {
		return true
	}
	if id := item.Tmdb(); id != 0 {
		if _, ok := idx.byTmdb[kindKey(id, kind)]; ok {
			return true
		}
	}
	if id := item.Tvdb(); id != 0 {
		if _, ok := idx.byTvdb[kindKey(id, kind)]; ok {
			return true
		}
	}
	return false
}

// scanKind pages one item type and creates requests for unrepresented
// playable items.
func (j *Job) scanKind(ctx context.Context, itemType string, kind models.MediaKind, idx *index, summary *Summary) error {
	for start := 0; ; start += pageSize {
		page, err := j.jellyfin.Items(ctx, itemType, start, pageSize)
		if err != nil {
			return fmt.Errorf("failed to page %s items: %w", itemType, err)
		}
		if len(page.Items) == 0 {
			return nil
		}

		for i := range page.Items {
			item := &page.Items[i]
			if kind == models.KindMovie {
				summary.MoviesScanned++
			} else {
				summary.SeriesScanned++
			}

			if !item.IsPlayable() {
				summary.Skipped++
				continue
			}
			if idx.represented(item, kind) {
				continue
			}
			if err := j.create(ctx, item, kind, idx); err != nil {
				return err
			}
			summary.Created++
		}

		if start+len(page.Items) >= page.TotalRecordCount {
			return nil
		}
	}
}

// create tracks one pre-existing library item as an AVAILABLE request.
func (j *Job) create(ctx context.Context, item *models.JellyfinItem, kind models.MediaKind, idx *index) error {
	req := &models.MediaRequest{
		MediaKind:   kind,
		Title:       item.Name,
		Year:        item.ProductionYr,
		State:       models.StateAvailable,
		RequestedBy: "system",
		Source:      models.SourceLibrarySync,
		JellyfinID:  &item.ID,
	}
	if id := item.Tmdb(); id != 0 {
		req.TmdbID = &id
	}
	if id := item.Tvdb(); id != 0 {
		req.TvdbID = &id
	}

	if err := j.tracker.CreateRequest(ctx, req, models.ServiceSystem, "library_sync", "imported from library"); err != nil {
		return err
	}

	// Keep the index current so duplicate items within one run (e.g.
	// the same movie in two libraries) create only one request.
	idx.requests = append(idx.requests, *req)
	stored := &idx.requests[len(idx.requests)-1]
	if req.TmdbID != nil {
		idx.byTmdb[kindKey(*req.TmdbID, kind)] = stored
	}
	if req.TvdbID != nil {
		idx.byTvdb[kindKey(*req.TvdbID, kind)] = stored
	}
	idx.byJellyfin[item.ID] = stored
	return nil
}

// backfill populates missing correlation IDs on existing requests from
// the request manager's records. Non-null fields are never overwritten.
func (j *Job) backfill(ctx context.Context, idx *index, summary *Summary) error {
	if j.jellyseerr == nil {
		return nil
	}

	for skip := 0; ; {
		records, total, err := j.jellyseerr.Requests(ctx, pageSize, skip)
		if err != nil {
			if errors.Is(err, clients.ErrNotConfigured) {
				return nil
			}
			return fmt.Errorf("failed to page jellyseerr requests: %w", err)
		}
		if len(records) == 0 {
			return nil
		}

		for i := range records {
			rec := &records[i]
			kind := models.KindMovie
			if rec.Media.MediaType == "tv" {
				kind = models.KindTV
			}

			var req *models.MediaRequest
			if rec.Media.TmdbID != 0 {
				req = idx.byTmdb[kindKey(rec.Media.TmdbID, kind)]
			}
			if req == nil && rec.Media.TvdbID != 0 {
				req = idx.byTvdb[kindKey(rec.Media.TvdbID, kind)]
			}
			if req == nil || req.JellyseerrID != nil {
				continue
			}

			recID := rec.ID
			if err := j.tracker.Transition(ctx, req.ID, tracker.Change{
				To: req.State, Service: models.ServiceSystem, EventType: "backfill",
				Mutate: func(r *models.MediaRequest) {
					if r.JellyseerrID == nil {
						r.JellyseerrID = &recID
					}
					if r.RequestedBy == "" || r.RequestedBy == "system" {
						if rec.RequestedBy.DisplayName != "" {
							r.RequestedBy = rec.RequestedBy.DisplayName
						}
					}
				},
			}); err != nil {
				return err
			}
			req.JellyseerrID = &recID
			summary.Backfilled++
		}

		skip += len(records)
		if skip >= total {
			return nil
		}
	}
}
