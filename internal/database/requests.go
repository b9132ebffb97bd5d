// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/tracearr/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Store methods take it so callers decide the transaction boundary; a
// state change and its timeline event must share one transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const requestColumns = `id, jellyseerr_id, tmdb_id, tvdb_id, radarr_id, sonarr_id,
	torrent_hash, jellyfin_id, media_kind, anime, title, year, poster_url,
	requested_by, quality, indexer, seasons, size_bytes, release_group, source,
	state, progress, final_path, created_at, updated_at, available_at`

// InsertRequest inserts a new media request row.
func (db *DB) InsertRequest(ctx context.Context, q Querier, req *models.MediaRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now

	query := `INSERT INTO media_requests (` + requestColumns + `) VALUES
		(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		req.ID, req.JellyseerrID, req.TmdbID, req.TvdbID, req.RadarrID, req.SonarrID,
		req.TorrentHash, req.JellyfinID, req.MediaKind, req.Anime, req.Title, req.Year,
		req.PosterURL, req.RequestedBy, req.Quality, req.Indexer, req.Seasons,
		req.SizeBytes, req.ReleaseGroup, req.Source, req.State, req.Progress,
		req.FinalPath, req.CreatedAt, req.UpdatedAt, req.AvailableAt)
	if err != nil {
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

// UpdateRequest writes all mutable columns of a request row and bumps
// updated_at. The ingest layer serializes writers per request, so a
// full-row update cannot lose concurrent field writes.
func (db *DB) UpdateRequest(ctx context.Context, q Querier, req *models.MediaRequest) error {
	req.UpdatedAt = time.Now().UTC()

	query := `UPDATE media_requests SET
		jellyseerr_id = ?, tmdb_id = ?, tvdb_id = ?, radarr_id = ?, sonarr_id = ?,
		torrent_hash = ?, jellyfin_id = ?, media_kind = ?, anime = ?, title = ?,
		year = ?, poster_url = ?, requested_by = ?, quality = ?, indexer = ?,
		seasons = ?, size_bytes = ?, release_group = ?, source = ?, state = ?,
		progress = ?, final_path = ?, updated_at = ?, available_at = ?
		WHERE id = ?`

	res, err := q.ExecContext(ctx, query,
		req.JellyseerrID, req.TmdbID, req.TvdbID, req.RadarrID, req.SonarrID,
		req.TorrentHash, req.JellyfinID, req.MediaKind, req.Anime, req.Title,
		req.Year, req.PosterURL, req.RequestedBy, req.Quality, req.Indexer,
		req.Seasons, req.SizeBytes, req.ReleaseGroup, req.Source, req.State,
		req.Progress, req.FinalPath, req.UpdatedAt, req.AvailableAt, req.ID)
	if err != nil {
		return fmt.Errorf("failed to update request %s: %w", req.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRequest fetches one request with its episodes and timeline loaded.
func (db *DB) GetRequest(ctx context.Context, id uuid.UUID) (*models.MediaRequest, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM media_requests WHERE id = ?`, id)

	req, err := scanRequest(row)
	if err != nil {
		return nil, err
	}

	req.Episodes, err = db.GetEpisodes(ctx, db.conn, req.ID)
	if err != nil {
		return nil, err
	}
	req.Timeline, err = db.GetTimeline(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ListRequests returns a page of requests ordered newest-first, plus the
// total count. When activeOnly is set, terminal states are filtered out.
func (db *DB) ListRequests(ctx context.Context, limit, offset int, activeOnly bool) ([]models.MediaRequest, int64, error) {
	where := ""
	if activeOnly {
		where = ` WHERE state NOT IN ('AVAILABLE', 'FAILED')`
	}

	var total int64
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM media_requests`+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count requests: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM media_requests`+where+
			` ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	requests, err := scanRequests(rows)
	if err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

// DeleteRequestCascade hard-deletes a request with its episodes and
// timeline events. Deletion logs are independent and survive.
func (db *DB) DeleteRequestCascade(ctx context.Context, q Querier, id uuid.UUID) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM timeline_events WHERE request_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete timeline events: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM episodes WHERE request_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete episodes: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM media_requests WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete request: %w", err)
	}
	return nil
}

const episodeColumns = `id, request_id, season, number, title, torrent_hash,
	final_path, jellyfin_item_id, shoko_file_id, state, created_at, updated_at`

// InsertEpisodes batch-inserts episode rows (one season-pack grab
// creates the whole batch sharing a torrent hash).
func (db *DB) InsertEpisodes(ctx context.Context, q Querier, episodes []models.Episode) error {
	query := `INSERT INTO episodes (` + episodeColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC()
	for i := range episodes {
		ep := &episodes[i]
		if ep.ID == uuid.Nil {
			ep.ID = uuid.New()
		}
		if ep.CreatedAt.IsZero() {
			ep.CreatedAt = now
		}
		ep.UpdatedAt = now

		_, err := q.ExecContext(ctx, query,
			ep.ID, ep.RequestID, ep.Season, ep.Number, ep.Title, ep.TorrentHash,
			ep.FinalPath, ep.JellyfinItemID, ep.ShokoFileID, ep.State, ep.CreatedAt, ep.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert episode s%02de%02d: %w", ep.Season, ep.Number, err)
		}
	}
	return nil
}

// UpdateEpisode writes all mutable columns of an episode row.
func (db *DB) UpdateEpisode(ctx context.Context, q Querier, ep *models.Episode) error {
	ep.UpdatedAt = time.Now().UTC()

	query := `UPDATE episodes SET
		title = ?, torrent_hash = ?, final_path = ?, jellyfin_item_id = ?,
		shoko_file_id = ?, state = ?, updated_at = ?
		WHERE id = ?`

	res, err := q.ExecContext(ctx, query,
		ep.Title, ep.TorrentHash, ep.FinalPath, ep.JellyfinItemID,
		ep.ShokoFileID, ep.State, ep.UpdatedAt, ep.ID)
	if err != nil {
		return fmt.Errorf("failed to update episode %s: %w", ep.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetEpisodes returns all episodes of a request ordered by season/number.
func (db *DB) GetEpisodes(ctx context.Context, q Querier, requestID uuid.UUID) ([]models.Episode, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE request_id = ? ORDER BY season, number`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query episodes: %w", err)
	}
	defer rows.Close()

	var episodes []models.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, *ep)
	}
	return episodes, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(s scanner) (*models.MediaRequest, error) {
	var req models.MediaRequest
	var (
		jellyseerrID, tmdbID, tvdbID, radarrID, sonarrID sql.NullInt64
		torrentHash, jellyfinID, finalPath               sql.NullString
		year                                             sql.NullInt64
		posterURL, requestedBy, quality, indexer         sql.NullString
		seasons, releaseGroup                            sql.NullString
		sizeBytes                                        sql.NullInt64
		availableAt                                      sql.NullTime
	)

	err := s.Scan(&req.ID, &jellyseerrID, &tmdbID, &tvdbID, &radarrID, &sonarrID,
		&torrentHash, &jellyfinID, &req.MediaKind, &req.Anime, &req.Title, &year,
		&posterURL, &requestedBy, &quality, &indexer, &seasons, &sizeBytes,
		&releaseGroup, &req.Source, &req.State, &req.Progress, &finalPath,
		&req.CreatedAt, &req.UpdatedAt, &availableAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan request: %w", err)
	}

	req.JellyseerrID = nullInt64Ptr(jellyseerrID)
	req.TmdbID = nullInt64Ptr(tmdbID)
	req.TvdbID = nullInt64Ptr(tvdbID)
	req.RadarrID = nullInt64Ptr(radarrID)
	req.SonarrID = nullInt64Ptr(sonarrID)
	req.TorrentHash = nullStringPtr(torrentHash)
	req.JellyfinID = nullStringPtr(jellyfinID)
	req.FinalPath = nullStringPtr(finalPath)
	req.Year = int(year.Int64)
	req.PosterURL = posterURL.String
	req.RequestedBy = requestedBy.String
	req.Quality = quality.String
	req.Indexer = indexer.String
	req.Seasons = seasons.String
	req.SizeBytes = sizeBytes.Int64
	req.ReleaseGroup = releaseGroup.String
	if availableAt.Valid {
		t := availableAt.Time
		req.AvailableAt = &t
	}
	return &req, nil
}

func scanRequests(rows *sql.Rows) ([]models.MediaRequest, error) {
	var requests []models.MediaRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

func scanEpisode(s scanner) (*models.Episode, error) {
	var ep models.Episode
	var (
		title, torrentHash, finalPath, jellyfinItemID sql.NullString
		shokoFileID                                   sql.NullInt64
	)

	err := s.Scan(&ep.ID, &ep.RequestID, &ep.Season, &ep.Number, &title,
		&torrentHash, &finalPath, &jellyfinItemID, &shokoFileID, &ep.State,
		&ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan episode: %w", err)
	}

	ep.Title = title.String
	ep.TorrentHash = nullStringPtr(torrentHash)
	ep.FinalPath = nullStringPtr(finalPath)
	ep.JellyfinItemID = nullStringPtr(jellyfinItemID)
	ep.ShokoFileID = nullInt64Ptr(shokoFileID)
	return &ep, nil
}

func nullInt64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullStringPtr(n sql.NullString) *string {
	if !n.Valid || n.String == "" {
		return nil
	}
	v := n.String
	return &v
}
