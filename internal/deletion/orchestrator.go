// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

// Package deletion coordinates removing a tracked request across every
// service that holds a reference to it. The request row is hard-deleted
// up front inside one transaction with the audit snapshot; the external
// fan-out then runs in the background, writing one sync-event row per
// service step and verifying the deletions actually took effect.
package deletion

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/tomtom215/tracearr/internal/clients"
	"github.com/tomtom215/tracearr/internal/database"
	"github.com/tomtom215/tracearr/internal/logging"
	"github.com/tomtom215/tracearr/internal/metrics"
	"github.com/tomtom215/tracearr/internal/models"
	"github.com/tomtom215/tracearr/internal/sse"
)

// syncOrder is the fixed fan-out order. The torrent client goes first
// so a re-request cannot be instantly "completed" by a still-seeding
// torrent; the request manager goes last so the media stays
// re-requestable only once everything else is gone.
var syncOrder = []models.ServiceName{
	models.ServiceQBittorrent,
	models.ServiceRadarr,
	models.ServiceSonarr,
	models.ServiceShoko,
	models.ServiceJellyfin,
	models.ServiceJellyseerr,
}

// Broadcaster pushes deletion progress to dashboard clients.
type Broadcaster interface {
	Broadcast(eventType, requestID string, data interface{})
}

// TorrentClient removes torrents and lists them for verification.
type TorrentClient interface {
	DeleteTorrent(ctx context.Context, hash string, deleteFiles bool) error
	TorrentsInfo(ctx context.Context, hashes []string) ([]models.QBittorrentTorrent, error)
}

// MovieIndexer removes movies from Radarr.
type MovieIndexer interface {
	DeleteMovie(ctx context.Context, id int64, deleteFiles bool) error
	MovieExists(ctx context.Context, id int64) (bool, error)
}

// SeriesIndexer removes series from Sonarr.
type SeriesIndexer interface {
	DeleteSeries(ctx context.Context, id int64, deleteFiles bool) error
	SeriesExists(ctx context.Context, id int64) (bool, error)
}

// AnimeService removes Shoko file records.
type AnimeService interface {
	DeleteFileRecord(ctx context.Context, fileID int64) error
	FileExists(ctx context.Context, fileID int64) (bool, error)
}

// MediaServer triggers library rescans. Direct item deletion in the
// media server is unreliable and deliberately unused; a rescan makes it
// notice the files the indexer removed.
type MediaServer interface {
	RefreshLibrary(ctx context.Context) error
	Item(ctx context.Context, itemID string) (*models.JellyfinItem, error)
}

// RequestManager removes request records from Jellyseerr.
type RequestManager interface {
	DeleteRequest(ctx context.Context, requestID int64) error
	RequestExists(ctx context.Context, requestID int64) (bool, error)
}

// Actor identifies who initiated a deletion.
type Actor struct {
	ID   string
	Name string
}

// Config carries the orchestrator's tunables.
type Config struct {
	// Enabled gates the external fan-out. When false the request row is
	// still hard-deleted but every service step is emitted as skipped.
	Enabled bool
	// VerifyDelay is how long to wait before re-fetching deleted
	// entities to confirm removal.
	VerifyDelay time.Duration
}

// Orchestrator runs coordinated deletions.
type Orchestrator struct {
	db         *database.DB
	hub        Broadcaster
	torrent    TorrentClient
	radarr     MovieIndexer
	sonarr     SeriesIndexer
	shoko      AnimeService
	jellyfin   MediaServer
	jellyseerr RequestManager
	cfg        Config

	wg sync.WaitGroup
}

// New creates an Orchestrator. shoko may be nil when the anime service
// is not configured.
func New(db *database.DB, hub Broadcaster, torrent TorrentClient, radarr MovieIndexer, sonarr SeriesIndexer, shoko AnimeService, jellyfin MediaServer, jellyseerr RequestManager, cfg Config) *Orchestrator {
	if cfg.VerifyDelay <= 0 {
		cfg.VerifyDelay = 30 * time.Second
	}
	return &Orchestrator{
		db:         db,
		hub:        hub,
		torrent:    torrent,
		radarr:     radarr,
		sonarr:     sonarr,
		shoko:      shoko,
		jellyfin:   jellyfin,
		jellyseerr: jellyseerr,
		cfg:        cfg,
	}
}

// Wait blocks until all background sync work has finished. Called on
// shutdown and by tests.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Delete runs a dashboard-initiated deletion of one request.
func (o *Orchestrator) Delete(ctx context.Context, requestID uuid.UUID, actor Actor, deleteFiles bool) (*models.DeletionLog, error) {
	req, err := o.db.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return o.initiate(ctx, req, models.DeletionSourceDashboard, actor, deleteFiles, "")
}

// Result is the per-request outcome of a bulk deletion.
type Result struct {
	RequestID uuid.UUID           `json:"request_id"`
	Log       *models.DeletionLog `json:"log,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// DeleteMany runs a dashboard-initiated bulk deletion. Failures on one
// request do not stop the rest.
func (o *Orchestrator) DeleteMany(ctx context.Context, requestIDs []uuid.UUID, actor Actor, deleteFiles bool) []Result {
	results := make([]Result, 0, len(requestIDs))
	for _, id := range requestIDs {
		log, err := o.Delete(ctx, id, actor, deleteFiles)
		r := Result{RequestID: id, Log: log}
		if err != nil {
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	return results
}

// RecordExternalDeletion handles a deletion first observed via another
// service's webhook. The source service's own step is pre-confirmed;
// the remaining services are still fanned out.
func (o *Orchestrator) RecordExternalDeletion(ctx context.Context, req *models.MediaRequest, source models.DeletionSource, deletedFiles bool) error {
	actor := Actor{Name: models.ExternalActorName(source)}
	_, err := o.initiate(ctx, req, source, actor, deletedFiles, sourceService(source))
	return err
}

func sourceService(source models.DeletionSource) models.ServiceName {
	switch source {
	case models.DeletionSourceRadarr:
		return models.ServiceRadarr
	case models.DeletionSourceSonarr:
		return models.ServiceSonarr
	case models.DeletionSourceJellyfin:
		return models.ServiceJellyfin
	case models.DeletionSourceShoko:
		return models.ServiceShoko
	default:
		return ""
	}
}

// step is one planned service action within a deletion.
type step struct {
	service models.ServiceName
	// preset short-circuits the step with a terminal status before any
	// API call (not-applicable, not-needed, skipped, pre-confirmed).
	preset models.SyncStatus
	detail string
	run    func(ctx context.Context) error
	verify func(ctx context.Context) (gone bool, err error)
}

// plan carries everything the background fan-out needs after the
// request row is gone.
type plan struct {
	log   *models.DeletionLog
	steps []step
}

// initiate snapshots the request, hard-deletes it with its audit log in
// one transaction, and schedules the background fan-out.
func (o *Orchestrator) initiate(ctx context.Context, req *models.MediaRequest, source models.DeletionSource, actor Actor, deleteFiles bool, alreadyDeleted models.ServiceName) (*models.DeletionLog, error) {
	log := &models.DeletionLog{
		RequestID:    req.ID,
		Title:        req.Title,
		MediaKind:    req.MediaKind,
		Year:         req.Year,
		PosterURL:    req.PosterURL,
		Anime:        req.Anime,
		JellyseerrID: req.JellyseerrID,
		TmdbID:       req.TmdbID,
		TvdbID:       req.TvdbID,
		RadarrID:     req.RadarrID,
		SonarrID:     req.SonarrID,
		TorrentHash:  req.TorrentHash,
		JellyfinID:   req.JellyfinID,
		Source:       source,
		ActorID:      actor.ID,
		ActorName:    actor.Name,
		DeleteFiles:  deleteFiles,
		Status:       models.DeletionInProgress,
	}

	pl := &plan{log: log, steps: o.buildSteps(req, deleteFiles, alreadyDeleted)}

	err := o.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := o.db.InsertDeletionLog(ctx, tx, log); err != nil {
			return err
		}
		for _, s := range pl.steps {
			status := models.SyncPending
			if s.preset != "" {
				status = s.preset
			}
			ev := &models.DeletionSyncEvent{
				LogID:   log.ID,
				Service: s.service,
				Status:  status,
				Detail:  s.detail,
			}
			if err := o.db.InsertSyncEvent(ctx, tx, ev); err != nil {
				return err
			}
		}
		return o.db.DeleteRequestCascade(ctx, tx, req.ID)
	})
	if err != nil {
		return nil, err
	}

	logging.Info().
		Str("request_id", req.ID.String()).
		Str("log_id", log.ID.String()).
		Str("title", req.Title).
		Str("source", string(source)).
		Str("actor", actor.Name).
		Bool("delete_files", deleteFiles).
		Msg("deletion initiated")
	o.hub.Broadcast(sse.EventRequestDeleted, req.ID.String(), log)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		syncCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		o.runSync(syncCtx, pl)
	}()
	return log, nil
}

// buildSteps applies the applicability matrix to one request.
func (o *Orchestrator) buildSteps(req *models.MediaRequest, deleteFiles bool, alreadyDeleted models.ServiceName) []step {
	shokoFileIDs := collectShokoFileIDs(req)

	steps := make([]step, 0, len(syncOrder))
	for _, svc := range syncOrder {
		s := o.buildStep(svc, req, deleteFiles, shokoFileIDs)
		if svc == alreadyDeleted && s.preset == "" {
			s = step{service: svc, preset: models.SyncConfirmed, detail: "deleted at source", verify: s.verify}
		}
		if !o.cfg.Enabled && s.preset == "" {
			s = step{service: svc, preset: models.SyncSkipped, detail: "deletion sync disabled"}
		}
		steps = append(steps, s)
	}
	return steps
}

func (o *Orchestrator) buildStep(svc models.ServiceName, req *models.MediaRequest, deleteFiles bool, shokoFileIDs []int64) step {
	switch svc {
	case models.ServiceQBittorrent:
		if req.TorrentHash == nil {
			return step{service: svc, preset: models.SyncNotApplicable, detail: "no torrent tracked"}
		}
		hash := *req.TorrentHash
		return step{
			service: svc,
			run:     func(ctx context.Context) error { return o.torrent.DeleteTorrent(ctx, hash, deleteFiles) },
			verify: func(ctx context.Context) (bool, error) {
				torrents, err := o.torrent.TorrentsInfo(ctx, []string{hash})
				return len(torrents) == 0, err
			},
		}

	case models.ServiceRadarr:
		if req.MediaKind != models.KindMovie {
			return step{service: svc, preset: models.SyncNotApplicable}
		}
		if req.RadarrID == nil {
			return step{service: svc, preset: models.SyncNotNeeded, detail: "no radarr id recorded"}
		}
		id := *req.RadarrID
		return step{
			service: svc,
			run:     func(ctx context.Context) error { return o.radarr.DeleteMovie(ctx, id, deleteFiles) },
			verify: func(ctx context.Context) (bool, error) {
				exists, err := o.radarr.MovieExists(ctx, id)
				return !exists, err
			},
		}

	case models.ServiceSonarr:
		if req.MediaKind != models.KindTV {
			return step{service: svc, preset: models.SyncNotApplicable}
		}
		if req.SonarrID == nil {
			return step{service: svc, preset: models.SyncNotNeeded, detail: "no sonarr id recorded"}
		}
		id := *req.SonarrID
		return step{
			service: svc,
			run:     func(ctx context.Context) error { return o.sonarr.DeleteSeries(ctx, id, deleteFiles) },
			verify: func(ctx context.Context) (bool, error) {
				exists, err := o.sonarr.SeriesExists(ctx, id)
				return !exists, err
			},
		}

	case models.ServiceShoko:
		if !req.IsAnime() {
			return step{service: svc, preset: models.SyncNotApplicable}
		}
		if !deleteFiles {
			return step{service: svc, preset: models.SyncSkipped, detail: "files retained, shoko records kept"}
		}
		if o.shoko == nil {
			return step{service: svc, preset: models.SyncSkipped, detail: "shoko not configured"}
		}
		if len(shokoFileIDs) == 0 {
			return step{service: svc, preset: models.SyncNotNeeded, detail: "no shoko file ids recorded"}
		}
		return step{
			service: svc,
			run: func(ctx context.Context) error {
				for _, fileID := range shokoFileIDs {
					if err := o.shoko.DeleteFileRecord(ctx, fileID); err != nil && !clients.IsNotFound(err) {
						return err
					}
				}
				return nil
			},
			verify: func(ctx context.Context) (bool, error) {
				for _, fileID := range shokoFileIDs {
					exists, err := o.shoko.FileExists(ctx, fileID)
					if err != nil {
						return false, err
					}
					if exists {
						return false, nil
					}
				}
				return true, nil
			},
		}

	case models.ServiceJellyfin:
		if !deleteFiles {
			return step{service: svc, preset: models.SyncSkipped, detail: "files retained, library untouched"}
		}
		s := step{
			service: svc,
			detail:  "library rescan",
			run:     func(ctx context.Context) error { return o.jellyfin.RefreshLibrary(ctx) },
		}
		if req.JellyfinID != nil {
			itemID := *req.JellyfinID
			s.verify = func(ctx context.Context) (bool, error) {
				item, err := o.jellyfin.Item(ctx, itemID)
				return item == nil, err
			}
		}
		return s

	case models.ServiceJellyseerr:
		if req.JellyseerrID == nil {
			return step{service: svc, preset: models.SyncNotNeeded, detail: "no jellyseerr id recorded"}
		}
		id := *req.JellyseerrID
		return step{
			service: svc,
			run: func(ctx context.Context) error {
				err := o.jellyseerr.DeleteRequest(ctx, id)
				if clients.IsNotFound(err) {
					return nil
				}
				return err
			},
			verify: func(ctx context.Context) (bool, error) {
				exists, err := o.jellyseerr.RequestExists(ctx, id)
				return !exists, err
			},
		}
	}
	return step{service: svc, preset: models.SyncNotApplicable}
}

func collectShokoFileIDs(req *models.MediaRequest) []int64 {
	var ids []int64
	for i := range req.Episodes {
		if id := req.Episodes[i].ShokoFileID; id != nil {
			ids = append(ids, *id)
		}
	}
	return ids
}

// runSync executes the fan-out in order, waits out the verification
// delay, verifies, and closes out the log.
func (o *Orchestrator) runSync(ctx context.Context, pl *plan) {
	confirmed := make([]*step, 0, len(pl.steps))

	for i := range pl.steps {
		s := &pl.steps[i]
		if s.preset != "" {
			if s.preset == models.SyncConfirmed {
				if s.verify != nil {
					confirmed = append(confirmed, s)
				} else {
					o.emit(ctx, pl.log, s.service, models.SyncVerified, "verification unavailable", nil)
				}
			}
			if s.preset.IsTerminalSync() {
				metrics.DeletionSyncStepsTotal.WithLabelValues(string(s.service), string(s.preset)).Inc()
			}
			continue
		}

		o.emit(ctx, pl.log, s.service, models.SyncAcknowledged, s.detail, nil)

		err := o.callWithRetry(ctx, s.run)
		if errors.Is(err, clients.ErrNotConfigured) {
			o.emit(ctx, pl.log, s.service, models.SyncSkipped, "service not configured", nil)
			continue
		}
		if err != nil {
			o.emit(ctx, pl.log, s.service, models.SyncFailed, s.detail, err)
			continue
		}
		o.emit(ctx, pl.log, s.service, models.SyncConfirmed, s.detail, nil)
		if s.verify != nil {
			confirmed = append(confirmed, s)
		} else {
			// Nothing to re-fetch; the call succeeding is the best
			// confirmation available.
			o.emit(ctx, pl.log, s.service, models.SyncVerified, "verification unavailable", nil)
		}
	}

	if len(confirmed) > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(o.cfg.VerifyDelay):
		}
		for _, s := range confirmed {
			gone, err := s.verify(ctx)
			switch {
			case err != nil:
				o.emit(ctx, pl.log, s.service, models.SyncFailed, "verification error", err)
			case gone:
				o.emit(ctx, pl.log, s.service, models.SyncVerified, "", nil)
			default:
				o.emit(ctx, pl.log, s.service, models.SyncFailed, "entity still present after deletion", nil)
			}
		}
	}

	o.complete(ctx, pl.log)
}

// callWithRetry runs one service call with a short exponential backoff.
func (o *Orchestrator) callWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(func() error {
		err := fn(ctx)
		if errors.Is(err, clients.ErrNotConfigured) {
			return backoff.Permanent(err)
		}
		var se *clients.StatusError
		if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 && se.Status != 429 {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

// emit writes one sync-event row and broadcasts it.
func (o *Orchestrator) emit(ctx context.Context, log *models.DeletionLog, svc models.ServiceName, status models.SyncStatus, detail string, callErr error) {
	ev := &models.DeletionSyncEvent{
		LogID:   log.ID,
		Service: svc,
		Status:  status,
		Detail:  detail,
	}
	if callErr != nil {
		ev.Error = callErr.Error()
		var se *clients.StatusError
		if errors.As(callErr, &se) {
			ev.Response = se.Body
		}
	}
	if err := o.db.InsertSyncEvent(ctx, o.db.Conn(), ev); err != nil {
		logging.Err(err).
			Str("log_id", log.ID.String()).
			Str("service", string(svc)).
			Msg("failed to persist deletion sync event")
		return
	}
	if status.IsTerminalSync() {
		metrics.DeletionSyncStepsTotal.WithLabelValues(string(svc), string(status)).Inc()
	}
	o.hub.Broadcast(sse.EventDeletionProgress, log.RequestID.String(), ev)
}

// complete closes the log once every step is terminal. Status is
// complete iff no applicable step failed.
func (o *Orchestrator) complete(ctx context.Context, log *models.DeletionLog) {
	latest, err := o.db.LatestSyncStatus(ctx, log.ID)
	if err != nil {
		logging.Err(err).Str("log_id", log.ID.String()).Msg("failed to load deletion sync status")
		return
	}

	status := models.DeletionComplete
	for _, st := range latest {
		if st == models.SyncFailed {
			status = models.DeletionIncomplete
			break
		}
	}
	if err := o.db.CompleteDeletionLog(ctx, log.ID, status); err != nil {
		logging.Err(err).Str("log_id", log.ID.String()).Msg("failed to complete deletion log")
		return
	}
	metrics.DeletionsTotal.WithLabelValues(string(log.Source), string(status)).Inc()

	logging.Info().
		Str("log_id", log.ID.String()).
		Str("title", log.Title).
		Str("status", string(status)).
		Msg("deletion completed")
	o.hub.Broadcast(sse.EventDeletionProgress, log.RequestID.String(), map[string]interface{}{
		"log_id": log.ID.String(),
		"status": string(status),
		"done":   true,
	})
}
