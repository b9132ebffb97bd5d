// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

/*
schema.go - Database Schema Management

Tables:
  - media_requests: one row per logical request with all correlation IDs
  - episodes: per-episode lifecycle rows for TV requests
  - timeline_events: append-only state-transition audit trail
  - deletion_logs: request snapshots taken at deletion-initiation time
  - deletion_sync_events: per-service progress steps within a deletion

Schema Strategy:
All columns are defined in the initial CREATE TABLE statements; versioned
migrations in migrations.go cover post-release additive changes.

Index Strategy:
Correlation queries filter on state plus one upstream key, so each key
column carries an index alongside the state column. Episode lookups hit
(request_id) and (torrent_hash); a season pack shares one hash across
every episode row.
*/
package database

import "fmt"

// createTables creates the core database tables.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		`CREATE TABLE IF NOT EXISTS media_requests (
			id UUID PRIMARY KEY,
			jellyseerr_id BIGINT,
			tmdb_id BIGINT,
			tvdb_id BIGINT,
			radarr_id BIGINT,
			sonarr_id BIGINT,
			torrent_hash TEXT,
			jellyfin_id TEXT,
			media_kind TEXT NOT NULL,
			anime TEXT NOT NULL DEFAULT 'unknown',
			title TEXT NOT NULL,
			year INTEGER,
			poster_url TEXT,
			requested_by TEXT,
			quality TEXT,
			indexer TEXT,
			seasons TEXT,
			size_bytes BIGINT DEFAULT 0,
			release_group TEXT,
			source TEXT NOT NULL DEFAULT 'webhook',
			state TEXT NOT NULL,
			progress DOUBLE NOT NULL DEFAULT 0,
			final_path TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			available_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS episodes (
			id UUID PRIMARY KEY,
			request_id UUID NOT NULL,
			season INTEGER NOT NULL,
			number INTEGER NOT NULL,
			title TEXT,
			torrent_hash TEXT,
			final_path TEXT,
			jellyfin_item_id TEXT,
			shoko_file_id BIGINT,
			state TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (request_id, season, number)
		)`,
		`CREATE TABLE IF NOT EXISTS timeline_events (
			id UUID PRIMARY KEY,
			request_id UUID NOT NULL,
			from_state TEXT,
			to_state TEXT NOT NULL,
			service TEXT NOT NULL,
			event_type TEXT,
			detail TEXT,
			is_new BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS deletion_logs (
			id UUID PRIMARY KEY,
			request_id UUID NOT NULL,
			title TEXT NOT NULL,
			media_kind TEXT NOT NULL,
			year INTEGER,
			poster_url TEXT,
			anime TEXT NOT NULL DEFAULT 'unknown',
			jellyseerr_id BIGINT,
			tmdb_id BIGINT,
			tvdb_id BIGINT,
			radarr_id BIGINT,
			sonarr_id BIGINT,
			torrent_hash TEXT,
			jellyfin_id TEXT,
			source TEXT NOT NULL,
			actor_id TEXT,
			actor_name TEXT NOT NULL,
			delete_files BOOLEAN NOT NULL,
			status TEXT NOT NULL,
			initiated_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS deletion_sync_events (
			id UUID PRIMARY KEY,
			log_id UUID NOT NULL,
			service TEXT NOT NULL,
			status TEXT NOT NULL,
			detail TEXT,
			error TEXT,
			response TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}

// createIndexes creates query-pattern indexes. All are idempotent.
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_requests_state ON media_requests (state)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_jellyseerr ON media_requests (jellyseerr_id)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_tmdb ON media_requests (tmdb_id)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_tvdb ON media_requests (tvdb_id)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_hash ON media_requests (torrent_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_updated ON media_requests (state, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_request ON episodes (request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_hash ON episodes (torrent_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_timeline_request ON timeline_events (request_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_deletion_logs_initiated ON deletion_logs (initiated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_deletion_sync_log ON deletion_sync_events (log_id, created_at)`,
	}

	for _, query := range indexes {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create index: %s: %w", query, err)
		}
	}

	return nil
}
