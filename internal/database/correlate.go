// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/tomtom215/tracearr/internal/models"
)

// activeSet is the WHERE clause every correlation query carries.
// AVAILABLE and FAILED rows are ignored even when their IDs match: this
// is what keeps a re-request from being absorbed by the previous
// completed request. Deleted rows are hard-deleted, so they need no
// filter.
const activeSet = `state NOT IN ('AVAILABLE', 'FAILED')`

// ActiveByHash returns active requests matching a torrent hash on the
// request itself (movies) or on any owned episode (season packs).
// Hash comparison is case-insensitive; ties break newest-first.
func (db *DB) ActiveByHash(ctx context.Context, hash string) ([]models.MediaRequest, error) {
	hash = strings.ToLower(hash)
	query := `SELECT ` + requestColumns + ` FROM media_requests r
		WHERE ` + activeSet + ` AND (
			lower(coalesce(r.torrent_hash, '')) = ?
			OR EXISTS (SELECT 1 FROM episodes e WHERE e.request_id = r.id AND lower(coalesce(e.torrent_hash, '')) = ?)
		)
		ORDER BY created_at DESC`

	rows, err := db.conn.QueryContext(ctx, query, hash, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to query active by hash: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

// ActiveByJellyseerrID returns active requests with the given
// request-manager ID.
func (db *DB) ActiveByJellyseerrID(ctx context.Context, id int64) ([]models.MediaRequest, error) {
	return db.activeBy(ctx, `jellyseerr_id = ?`, id)
}

// ActiveByTmdbID returns active requests with the given TMDB ID and kind.
func (db *DB) ActiveByTmdbID(ctx context.Context, id int64, kind models.MediaKind) ([]models.MediaRequest, error) {
	return db.activeBy(ctx, `tmdb_id = ? AND media_kind = ?`, id, string(kind))
}

// ActiveByTvdbID returns active requests with the given TVDB ID and kind.
func (db *DB) ActiveByTvdbID(ctx context.Context, id int64, kind models.MediaKind) ([]models.MediaRequest, error) {
	return db.activeBy(ctx, `tvdb_id = ? AND media_kind = ?`, id, string(kind))
}

// ListActive returns every active request with episodes loaded. Used by
// the path and title correlation fallbacks, which scan rather than index.
func (db *DB) ListActive(ctx context.Context) ([]models.MediaRequest, error) {
	requests, err := db.activeBy(ctx, `1 = 1`)
	if err != nil {
		return nil, err
	}
	for i := range requests {
		requests[i].Episodes, err = db.GetEpisodes(ctx, db.conn, requests[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return requests, nil
}

// StaleInStates returns active requests whose state is one of states and
// whose updated_at is older than the staleness cutoff. The verifier
// feeds on this.
func (db *DB) StaleInStates(ctx context.Context, states []models.State, olderThanSeconds int) ([]models.MediaRequest, error) {
	placeholders := make([]string, len(states))
	args := make([]any, 0, len(states)+1)
	for i, s := range states {
		placeholders[i] = "?"
		args = append(args, string(s))
	}
	args = append(args, olderThanSeconds)

	query := `SELECT ` + requestColumns + ` FROM media_requests
		WHERE state IN (` + strings.Join(placeholders, ", ") + `)
		AND updated_at < now() - to_seconds(CAST(? AS BIGINT))
		ORDER BY created_at DESC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale requests: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

// AnyActiveDownloading reports whether any request occupies a state the
// progress poller should poll fast for.
func (db *DB) AnyActiveDownloading(ctx context.Context) (bool, error) {
	var n int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM media_requests WHERE state IN ('GRABBING', 'DOWNLOADING')`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count downloading requests: %w", err)
	}
	return n > 0, nil
}

// Deletion correlation searches every state. A delete almost always
// targets AVAILABLE media, which the active set excludes on purpose, so
// these lookups skip the activeSet filter.

// ByRadarrID returns requests tracked under a Radarr movie ID.
func (db *DB) ByRadarrID(ctx context.Context, id int64) ([]models.MediaRequest, error) {
	return db.anyBy(ctx, `radarr_id = ?`, id)
}

// BySonarrID returns requests tracked under a Sonarr series ID.
func (db *DB) BySonarrID(ctx context.Context, id int64) ([]models.MediaRequest, error) {
	return db.anyBy(ctx, `sonarr_id = ?`, id)
}

// ByTmdbID returns requests of a kind with the given TMDB ID, any state.
func (db *DB) ByTmdbID(ctx context.Context, id int64, kind models.MediaKind) ([]models.MediaRequest, error) {
	return db.anyBy(ctx, `tmdb_id = ? AND media_kind = ?`, id, string(kind))
}

// ByTvdbID returns requests of a kind with the given TVDB ID, any state.
func (db *DB) ByTvdbID(ctx context.Context, id int64, kind models.MediaKind) ([]models.MediaRequest, error) {
	return db.anyBy(ctx, `tvdb_id = ? AND media_kind = ?`, id, string(kind))
}

// ByJellyfinItemID returns requests holding a Jellyfin item ID on the
// request itself or on one of its episodes, any state.
func (db *DB) ByJellyfinItemID(ctx context.Context, itemID string) ([]models.MediaRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM media_requests r
		WHERE r.jellyfin_id = ?
		OR EXISTS (SELECT 1 FROM episodes e WHERE e.request_id = r.id AND e.jellyfin_item_id = ?)
		ORDER BY created_at DESC`

	rows, err := db.conn.QueryContext(ctx, query, itemID, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query by jellyfin item: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

// AllRequests returns every request row regardless of state, episodes
// not loaded. The library sync indexes these in memory so its API-call
// budget stays one bulk query per service.
func (db *DB) AllRequests(ctx context.Context) ([]models.MediaRequest, error) {
	return db.anyBy(ctx, `1 = 1`)
}

func (db *DB) anyBy(ctx context.Context, cond string, args ...any) ([]models.MediaRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM media_requests
		WHERE ` + cond + ` ORDER BY created_at DESC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (db *DB) activeBy(ctx context.Context, cond string, args ...any) ([]models.MediaRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM media_requests
		WHERE ` + activeSet + ` AND ` + cond + ` ORDER BY created_at DESC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query active set: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}
