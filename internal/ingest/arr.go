// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tomtom215/tracearr/internal/correlator"
	"github.com/tomtom215/tracearr/internal/lifecycle"
	"github.com/tomtom215/tracearr/internal/logging"
	"github.com/tomtom215/tracearr/internal/metrics"
	"github.com/tomtom215/tracearr/internal/models"
	"github.com/tomtom215/tracearr/internal/tracker"
)

// HandleRadarr processes a Radarr webhook event.
func (p *Processor) HandleRadarr(ctx context.Context, w *models.RadarrWebhook) error {
	movie := w.Movie
	if movie == nil {
		movie = w.RemoteMovie
	}
	if movie == nil {
		logging.Debug().Str("event_type", w.EventType).Msg("radarr event without movie payload")
		return nil
	}

	keys := correlator.Keys{
		TorrentHash: normalizeHash(w.DownloadID),
		TmdbID:      movie.TmdbID,
		Kind:        models.KindMovie,
		Title:       movie.Title,
		Year:        movie.Year,
	}

	switch w.EventType {
	case models.ArrEventGrab:
		req, err := p.corr.Resolve(ctx, keys)
		if errors.Is(err, correlator.ErrNoMatch) {
			return p.createFromRadarrGrab(ctx, w, movie)
		}
		if err != nil {
			return p.countOutcome(models.ServiceRadarr, err)
		}
		metrics.IngestEventsTotal.WithLabelValues(string(models.ServiceRadarr), "applied").Inc()
		return p.tracker.Transition(ctx, req.ID, tracker.Change{
			To: models.StateGrabbing, Service: models.ServiceRadarr, EventType: "grab",
			Detail: grabDetail(w.Release),
			Mutate: func(r *models.MediaRequest) {
				applyRadarrGrab(r, w, movie, p.animeRoot)
			},
		})

	case models.ArrEventDownload:
		req, err := p.corr.Resolve(ctx, keys)
		if err != nil {
			return p.countOutcome(models.ServiceRadarr, err)
		}
		metrics.IngestEventsTotal.WithLabelValues(string(models.ServiceRadarr), "applied").Inc()

		if req.State == models.StateAvailable {
			// Quality upgrade of an already-available movie: keep the
			// state, refresh the path, and note the upgrade.
			return p.handleUpgrade(ctx, req, w.MovieFile)
		}

		anime := req.IsAnime()
		if req.Anime == models.AnimeUnknown {
			anime = lifecycle.InferAnime(movie.Tags, "", movie.FolderPath, p.animeRoot) == models.AnimeYes
		}
		return p.tracker.Transition(ctx, req.ID, tracker.Change{
			To: lifecycle.ImportTarget(anime), Service: models.ServiceRadarr, EventType: "import",
			Mutate: func(r *models.MediaRequest) {
				if r.RadarrID == nil {
					r.RadarrID = &movie.ID
				}
				if w.MovieFile != nil && w.MovieFile.Path != "" {
					r.FinalPath = &w.MovieFile.Path
				}
				settleAnime(r, movie.Tags, "", movie.FolderPath, p.animeRoot)
			},
		})

	case models.ArrEventMovieDelete:
		return p.handleExternalDeletion(ctx, models.DeletionSourceRadarr, models.ServiceRadarr, w.DeletedFiles,
			func() ([]models.MediaRequest, error) { return p.db.ByRadarrID(ctx, movie.ID) },
			func() ([]models.MediaRequest, error) { return p.db.ByTmdbID(ctx, movie.TmdbID, models.KindMovie) },
		)

	default:
		logging.Debug().Str("event_type", w.EventType).Msg("ignoring radarr event")
		return nil
	}
}

// createFromRadarrGrab tracks a grab for a movie that never passed
// through the request manager (added directly in Radarr).
func (p *Processor) createFromRadarrGrab(ctx context.Context, w *models.RadarrWebhook, movie *models.RadarrMovie) error {
	req := &models.MediaRequest{
		MediaKind:   models.KindMovie,
		Title:       movie.Title,
		Year:        movie.Year,
		State:       models.StateGrabbing,
		RequestedBy: "system",
	}
	applyRadarrGrab(req, w, movie, p.animeRoot)

	metrics.IngestEventsTotal.WithLabelValues(string(models.ServiceRadarr), "applied").Inc()
	return p.tracker.CreateRequest(ctx, req, models.ServiceRadarr, "grab", grabDetail(w.Release))
}

func applyRadarrGrab(r *models.MediaRequest, w *models.RadarrWebhook, movie *models.RadarrMovie, animeRoot string) {
	r.RadarrID = &movie.ID
	if movie.TmdbID != 0 && r.TmdbID == nil {
		r.TmdbID = &movie.TmdbID
	}
	if hash := normalizeHash(w.DownloadID); hash != "" {
		r.TorrentHash = &hash
	}
	if w.Release != nil {
		r.Quality = w.Release.Quality
		r.Indexer = w.Release.Indexer
		r.SizeBytes = w.Release.Size
		r.ReleaseGroup = w.Release.ReleaseGroup
	}
	settleAnime(r, movie.Tags, "", movie.FolderPath, animeRoot)
}

// HandleSonarr processes a Sonarr webhook event.
func (p *Processor) HandleSonarr(ctx context.Context, w *models.SonarrWebhook) error {
	if w.Series == nil {
		logging.Debug().Str("event_type", w.EventType).Msg("sonarr event without series payload")
		return nil
	}

	keys := correlator.Keys{
		TorrentHash: normalizeHash(w.DownloadID),
		TvdbID:      w.Series.TvdbID,
		Kind:        models.KindTV,
		Title:       w.Series.Title,
		Year:        w.Series.Year,
	}

	switch w.EventType {
	case models.ArrEventGrab:
		return p.handleSonarrGrab(ctx, w, keys)

	case models.ArrEventDownload:
		return p.handleSonarrImport(ctx, w, keys)

	case models.ArrEventSeriesDelete:
		return p.handleExternalDeletion(ctx, models.DeletionSourceSonarr, models.ServiceSonarr, w.DeletedFiles,
			func() ([]models.MediaRequest, error) { return p.db.BySonarrID(ctx, w.Series.ID) },
			func() ([]models.MediaRequest, error) { return p.db.ByTvdbID(ctx, w.Series.TvdbID, models.KindTV) },
		)

	case models.ArrEventEpisodeFileDelete:
		req, err := p.corr.Resolve(ctx, keys)
		if err != nil {
			return p.countOutcome(models.ServiceSonarr, err)
		}
		metrics.IngestEventsTotal.WithLabelValues(string(models.ServiceSonarr), "applied").Inc()
		return p.tracker.RecordEvent(ctx, req.ID, models.ServiceSonarr, "episode_file_delete", episodeFileDetail(w))

	default:
		logging.Debug().Str("event_type", w.EventType).Msg("ignoring sonarr event")
		return nil
	}
}

// handleSonarrGrab fans a grab out to episode rows. A season pack
// lists every episode under one downloadId; all of them share the
// grab's torrent hash.
func (p *Processor) handleSonarrGrab(ctx context.Context, w *models.SonarrWebhook, keys correlator.Keys) error {
	hash := normalizeHash(w.DownloadID)

	req, err := p.corr.Resolve(ctx, keys)
	if errors.Is(err, correlator.ErrNoMatch) {
		return p.createFromSonarrGrab(ctx, w, hash)
	}
	if err != nil {
		return p.countOutcome(models.ServiceSonarr, err)
	}
	metrics.IngestEventsTotal.WithLabelValues(string(models.ServiceSonarr), "applied").Inc()

	// Add episode rows this grab covers that aren't tracked yet.
	var missing []models.Episode
	for _, ep := range w.Episodes {
		if findEpisode(req.Episodes, ep.SeasonNumber, ep.EpisodeNumber) == nil {
			missing = append(missing, newGrabEpisode(req.ID, ep, hash))
		}
	}
	if len(missing) > 0 {
		if err := p.db.InsertEpisodes(ctx, p.db.Conn(), missing); err != nil {
			return err
		}
	}

	if err := p.tracker.Transition(ctx, req.ID, tracker.Change{
		To: models.StateGrabbing, Service: models.ServiceSonarr, EventType: "grab",
		Detail: grabDetail(w.Release),
		Mutate: func(r *models.MediaRequest) {
			applySonarrGrab(r, w, hash, p.animeRoot)
		},
	}); err != nil {
		return err
	}

	// Move tracked episodes covered by this grab into GRABBING.
	req, err = p.db.GetRequest(ctx, req.ID)
	if err != nil {
		return err
	}
	for _, wep := range w.Episodes {
		ep := findEpisode(req.Episodes, wep.SeasonNumber, wep.EpisodeNumber)
		if ep == nil || ep.State == models.StateGrabbing {
			continue
		}
		if err := p.tracker.TransitionEpisode(ctx, req.ID, ep.ID, tracker.Change{
			To: models.StateGrabbing, Service: models.ServiceSonarr, EventType: "grab",
		}, func(e *models.Episode) {
			if hash != "" {
				e.TorrentHash = &hash
			}
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) createFromSonarrGrab(ctx context.Context, w *models.SonarrWebhook, hash string) error {
	req := &models.MediaRequest{
		MediaKind:   models.KindTV,
		Title:       w.Series.Title,
		Year:        w.Series.Year,
		State:       models.StateGrabbing,
		RequestedBy: "system",
	}
	applySonarrGrab(req, w, hash, p.animeRoot)
	for _, ep := range w.Episodes {
		req.Episodes = append(req.Episodes, newGrabEpisode(req.ID, ep, hash))
	}

	metrics.IngestEventsTotal.WithLabelValues(string(models.ServiceSonarr), "applied").Inc()
	return p.tracker.CreateRequest(ctx, req, models.ServiceSonarr, "grab", grabDetail(w.Release))
}

func applySonarrGrab(r *models.MediaRequest, w *models.SonarrWebhook, hash, animeRoot string) {
	r.SonarrID = &w.Series.ID
	if w.Series.TvdbID != 0 && r.TvdbID == nil {
		r.TvdbID = &w.Series.TvdbID
	}
	if hash != "" {
		r.TorrentHash = &hash
	}
	if w.Release != nil {
		r.Quality = w.Release.Quality
		r.Indexer = w.Release.Indexer
		r.SizeBytes = w.Release.Size
		r.ReleaseGroup = w.Release.ReleaseGroup
	}
	settleAnime(r, nil, w.Series.SeriesType, w.Series.Path, animeRoot)
}

// handleSonarrImport moves imported episodes forward and stamps their
// final paths.
func (p *Processor) handleSonarrImport(ctx context.Context, w *models.SonarrWebhook, keys correlator.Keys) error {
	req, err := p.corr.Resolve(ctx, keys)
	if err != nil {
		return p.countOutcome(models.ServiceSonarr, err)
	}
	metrics.IngestEventsTotal.WithLabelValues(string(models.ServiceSonarr), "applied").Inc()

	anime := req.IsAnime()
	if req.Anime == models.AnimeUnknown {
		anime = lifecycle.InferAnime(nil, w.Series.SeriesType, w.Series.Path, p.animeRoot) == models.AnimeYes
	}
	target := lifecycle.ImportTarget(anime)

	files := w.EpisodeFiles
	if len(files) == 0 && w.EpisodeFile != nil {
		files = []models.ArrMediaFile{*w.EpisodeFile}
	}

	// Single-file imports carry the episode list separately from the
	// file entry; fall back to pairing them positionally.
	for i, wep := range w.Episodes {
		ep := findEpisode(req.Episodes, wep.SeasonNumber, wep.EpisodeNumber)
		if ep == nil {
			continue
		}
		var path string
		if f := matchFile(files, wep.SeasonNumber, wep.EpisodeNumber); f != nil {
			path = f.Path
		} else if i < len(files) {
			path = files[i].Path
		}
		if err := p.tracker.TransitionEpisode(ctx, req.ID, ep.ID, tracker.Change{
			To: target, Service: models.ServiceSonarr, EventType: "import",
		}, func(e *models.Episode) {
			if path != "" {
				e.FinalPath = &path
			}
		}); err != nil {
			return err
		}
	}

	if req.SonarrID == nil {
		return p.tracker.Transition(ctx, req.ID, tracker.Change{
			To: req.State, Service: models.ServiceSonarr, EventType: "import",
			Mutate: func(r *models.MediaRequest) {
				r.SonarrID = &w.Series.ID
				settleAnime(r, nil, w.Series.SeriesType, w.Series.Path, p.animeRoot)
			},
		})
	}
	return nil
}

// handleUpgrade records a quality upgrade of already-available media:
// the state stays AVAILABLE, the path and quality refresh.
func (p *Processor) handleUpgrade(ctx context.Context, req *models.MediaRequest, file *models.ArrMediaFile) error {
	detail := "quality upgrade"
	if file != nil && file.Quality != "" {
		detail = "quality upgrade to " + file.Quality
	}
	if err := p.tracker.Transition(ctx, req.ID, tracker.Change{
		To: models.StateAvailable, Service: models.ServiceRadarr, EventType: "upgrade",
		Mutate: func(r *models.MediaRequest) {
			if file != nil && file.Path != "" {
				r.FinalPath = &file.Path
			}
			if file != nil && file.Quality != "" {
				r.Quality = file.Quality
			}
		},
	}); err != nil {
		return err
	}
	return p.tracker.RecordEvent(ctx, req.ID, models.ServiceRadarr, "upgrade", detail)
}

// handleExternalDeletion routes a deletion initiated in an outside
// service to the deletion orchestrator. Deletion lookups search every
// state, not just the active set: deletes usually target AVAILABLE
// media. The first lookup yielding rows wins, newest first.
func (p *Processor) handleExternalDeletion(ctx context.Context, source models.DeletionSource, service models.ServiceName, deletedFiles bool, lookups ...func() ([]models.MediaRequest, error)) error {
	if p.deletions == nil {
		return nil
	}

	for _, lookup := range lookups {
		matches, err := lookup()
		if err != nil {
			metrics.IngestEventsTotal.WithLabelValues(string(service), "error").Inc()
			return err
		}
		if len(matches) == 0 {
			continue
		}
		metrics.IngestEventsTotal.WithLabelValues(string(service), "applied").Inc()
		return p.deletions.RecordExternalDeletion(ctx, &matches[0], source, deletedFiles)
	}

	metrics.IngestEventsTotal.WithLabelValues(string(service), "no_match").Inc()
	return nil
}

func findEpisode(episodes []models.Episode, season, number int) *models.Episode {
	for i := range episodes {
		if episodes[i].Season == season && episodes[i].Number == number {
			return &episodes[i]
		}
	}
	return nil
}

func matchFile(files []models.ArrMediaFile, season, number int) *models.ArrMediaFile {
	for i := range files {
		if files[i].SeasonNumber == season && files[i].EpisodeNumber == number {
			return &files[i]
		}
	}
	return nil
}

func newGrabEpisode(requestID uuid.UUID, ep models.SonarrEpisode, hash string) models.Episode {
	e := models.Episode{
		RequestID: requestID,
		Season:    ep.SeasonNumber,
		Number:    ep.EpisodeNumber,
		Title:     ep.Title,
		State:     models.StateGrabbing,
	}
	if hash != "" {
		e.TorrentHash = &hash
	}
	return e
}

func grabDetail(rel *models.ArrRelease) string {
	if rel == nil {
		return ""
	}
	if rel.ReleaseGroup != "" {
		return fmt.Sprintf("%s (%s)", rel.Quality, rel.ReleaseGroup)
	}
	return rel.Quality
}

func episodeFileDetail(w *models.SonarrWebhook) string {
	if w.EpisodeFile != nil {
		return w.EpisodeFile.RelativePath
	}
	return ""
}
