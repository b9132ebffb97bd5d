// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package models

import (
	"time"

	"github.com/google/uuid"
)

// DeletionSource identifies what triggered a coordinated deletion.
type DeletionSource string

const (
	DeletionSourceDashboard DeletionSource = "dashboard"
	DeletionSourceRadarr    DeletionSource = "radarr"
	DeletionSourceSonarr    DeletionSource = "sonarr"
	DeletionSourceJellyfin  DeletionSource = "jellyfin"
	DeletionSourceShoko     DeletionSource = "shoko"
	DeletionSourceExternal  DeletionSource = "external"
)

// DeletionStatus is the overall status of a DeletionLog.
type DeletionStatus string

const (
	DeletionInProgress DeletionStatus = "in-progress"
	DeletionComplete   DeletionStatus = "complete"
	DeletionIncomplete DeletionStatus = "incomplete"
)

// SyncStatus is the per-service progress step within a deletion.
type SyncStatus string

const (
	SyncPending       SyncStatus = "pending"
	SyncAcknowledged  SyncStatus = "acknowledged"
	SyncConfirmed     SyncStatus = "confirmed"
	SyncVerified      SyncStatus = "verified"
	SyncFailed        SyncStatus = "failed"
	SyncSkipped       SyncStatus = "skipped"
	SyncNotApplicable SyncStatus = "not-applicable"
	// SyncNotNeeded marks a service whose kind applies but for which no
	// correlation ID was ever populated. Surfaced as an operator warning.
	SyncNotNeeded SyncStatus = "not-needed"
)

// IsTerminalSync reports whether a sync status ends that service's step.
func (s SyncStatus) IsTerminalSync() bool {
	switch s {
	case SyncVerified, SyncFailed, SyncSkipped, SyncNotApplicable, SyncNotNeeded:
		return true
	}
	return false
}

// DeletionLog snapshots a request at deletion-initiation time and tracks
// per-service progress. The request row itself is hard-deleted; the log
// survives for audit.
type DeletionLog struct {
	ID        uuid.UUID `json:"id"`
	RequestID uuid.UUID `json:"request_id"`

	// Snapshot of the request at initiation time.
	Title        string    `json:"title"`
	MediaKind    MediaKind `json:"media_kind"`
	Year         int       `json:"year,omitempty"`
	PosterURL    string    `json:"poster_url,omitempty"`
	Anime        AnimeFlag `json:"anime"`
	JellyseerrID *int64    `json:"jellyseerr_id,omitempty"`
	TmdbID       *int64    `json:"tmdb_id,omitempty"`
	TvdbID       *int64    `json:"tvdb_id,omitempty"`
	RadarrID     *int64    `json:"radarr_id,omitempty"`
	SonarrID     *int64    `json:"sonarr_id,omitempty"`
	TorrentHash  *string   `json:"torrent_hash,omitempty"`
	JellyfinID   *string   `json:"jellyfin_id,omitempty"`

	Source      DeletionSource `json:"source"`
	ActorID     string         `json:"actor_id,omitempty"`
	ActorName   string         `json:"actor_name"`
	DeleteFiles bool           `json:"delete_files"`

	Status      DeletionStatus `json:"status"`
	InitiatedAt time.Time      `json:"initiated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`

	Events []DeletionSyncEvent `json:"events,omitempty"`
}

// DeletionSyncEvent is one service state step within a DeletionLog.
type DeletionSyncEvent struct {
	ID      uuid.UUID   `json:"id"`
	LogID   uuid.UUID   `json:"log_id"`
	Service ServiceName `json:"service"`
	Status  SyncStatus  `json:"status"`
	Detail  string      `json:"detail,omitempty"`
	Error   string      `json:"error,omitempty"`
	// Response holds a snippet of the raw API response for failures.
	Response  string    `json:"response,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ExternalActorName maps an external deletion source to the display name
// recorded on the log when no authenticated user initiated it.
func ExternalActorName(source DeletionSource) string {
	switch source {
	case DeletionSourceRadarr:
		return "Radarr (external)"
	case DeletionSourceSonarr:
		return "Sonarr (external)"
	case DeletionSourceJellyfin:
		return "Jellyfin (external)"
	case DeletionSourceShoko:
		return "Shoko (external)"
	default:
		return "System"
	}
}
