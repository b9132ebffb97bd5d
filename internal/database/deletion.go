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

const deletionLogColumns = `id, request_id, title, media_kind, year, poster_url, anime,
	jellyseerr_id, tmdb_id, tvdb_id, radarr_id, sonarr_id, torrent_hash, jellyfin_id,
	source, actor_id, actor_name, delete_files, status, initiated_at, completed_at`

// InsertDeletionLog writes the request snapshot taken at
// deletion-initiation time.
func (db *DB) InsertDeletionLog(ctx context.Context, q Querier, dl *models.DeletionLog) error {
	if dl.ID == uuid.Nil {
		dl.ID = uuid.New()
	}
	if dl.InitiatedAt.IsZero() {
		dl.InitiatedAt = time.Now().UTC()
	}

	query := `INSERT INTO deletion_logs (` + deletionLogColumns + `) VALUES
		(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		dl.ID, dl.RequestID, dl.Title, dl.MediaKind, dl.Year, dl.PosterURL, dl.Anime,
		dl.JellyseerrID, dl.TmdbID, dl.TvdbID, dl.RadarrID, dl.SonarrID,
		dl.TorrentHash, dl.JellyfinID, dl.Source, dl.ActorID, dl.ActorName,
		dl.DeleteFiles, dl.Status, dl.InitiatedAt, dl.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to insert deletion log: %w", err)
	}
	return nil
}

// CompleteDeletionLog sets the final status and completion time.
func (db *DB) CompleteDeletionLog(ctx context.Context, id uuid.UUID, status models.DeletionStatus) error {
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		`UPDATE deletion_logs SET status = ?, completed_at = ? WHERE id = ?`, status, now, id)
	if err != nil {
		return fmt.Errorf("failed to complete deletion log %s: %w", id, err)
	}
	return nil
}

// GetDeletionLog fetches one deletion log with its sync events loaded.
func (db *DB) GetDeletionLog(ctx context.Context, id uuid.UUID) (*models.DeletionLog, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+deletionLogColumns+` FROM deletion_logs WHERE id = ?`, id)

	dl, err := scanDeletionLog(row)
	if err != nil {
		return nil, err
	}
	dl.Events, err = db.GetSyncEvents(ctx, dl.ID)
	if err != nil {
		return nil, err
	}
	return dl, nil
}

// ListDeletionLogs returns deletion logs newest-first with sync events.
func (db *DB) ListDeletionLogs(ctx context.Context, limit, offset int) ([]models.DeletionLog, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+deletionLogColumns+` FROM deletion_logs ORDER BY initiated_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list deletion logs: %w", err)
	}
	defer rows.Close()

	var logs []models.DeletionLog
	for rows.Next() {
		dl, err := scanDeletionLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *dl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range logs {
		logs[i].Events, err = db.GetSyncEvents(ctx, logs[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return logs, nil
}

// InsertSyncEvent appends one per-service progress row to a deletion log.
func (db *DB) InsertSyncEvent(ctx context.Context, q Querier, ev *models.DeletionSyncEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO deletion_sync_events (id, log_id, service, status, detail, error, response, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.LogID, ev.Service, ev.Status, ev.Detail, ev.Error, ev.Response, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert deletion sync event: %w", err)
	}
	return nil
}

// GetSyncEvents returns a deletion log's sync events in append order.
func (db *DB) GetSyncEvents(ctx context.Context, logID uuid.UUID) ([]models.DeletionSyncEvent, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, log_id, service, status, detail, error, response, created_at
		 FROM deletion_sync_events WHERE log_id = ? ORDER BY created_at, id`, logID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync events: %w", err)
	}
	defer rows.Close()

	var events []models.DeletionSyncEvent
	for rows.Next() {
		var ev models.DeletionSyncEvent
		var detail, errMsg, response sql.NullString
		if err := rows.Scan(&ev.ID, &ev.LogID, &ev.Service, &ev.Status,
			&detail, &errMsg, &response, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync event: %w", err)
		}
		ev.Detail = detail.String
		ev.Error = errMsg.String
		ev.Response = response.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// LatestSyncStatus returns the most recent status per service for a log.
// A service's step is whatever its newest row says; earlier rows form
// the visible progress timeline.
func (db *DB) LatestSyncStatus(ctx context.Context, logID uuid.UUID) (map[models.ServiceName]models.SyncStatus, error) {
	events, err := db.GetSyncEvents(ctx, logID)
	if err != nil {
		return nil, err
	}
	latest := make(map[models.ServiceName]models.SyncStatus)
	for _, ev := range events {
		latest[ev.Service] = ev.Status
	}
	return latest, nil
}

func scanDeletionLog(s scanner) (*models.DeletionLog, error) {
	var dl models.DeletionLog
	var (
		year                                             sql.NullInt64
		posterURL, actorID                               sql.NullString
		jellyseerrID, tmdbID, tvdbID, radarrID, sonarrID sql.NullInt64
		torrentHash, jellyfinID                          sql.NullString
		completedAt                                      sql.NullTime
	)

	err := s.Scan(&dl.ID, &dl.RequestID, &dl.Title, &dl.MediaKind, &year, &posterURL,
		&dl.Anime, &jellyseerrID, &tmdbID, &tvdbID, &radarrID, &sonarrID,
		&torrentHash, &jellyfinID, &dl.Source, &actorID, &dl.ActorName,
		&dl.DeleteFiles, &dl.Status, &dl.InitiatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan deletion log: %w", err)
	}

	dl.Year = int(year.Int64)
	dl.PosterURL = posterURL.String
	dl.ActorID = actorID.String
	dl.JellyseerrID = nullInt64Ptr(jellyseerrID)
	dl.TmdbID = nullInt64Ptr(tmdbID)
	dl.TvdbID = nullInt64Ptr(tvdbID)
	dl.RadarrID = nullInt64Ptr(radarrID)
	dl.SonarrID = nullInt64Ptr(sonarrID)
	dl.TorrentHash = nullStringPtr(torrentHash)
	dl.JellyfinID = nullStringPtr(jellyfinID)
	if completedAt.Valid {
		t := completedAt.Time
		dl.CompletedAt = &t
	}
	return &dl, nil
}
