// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

// Package models defines the persistent domain types and the inbound
// payload shapes for every integrated service (Jellyseerr, Radarr,
// Sonarr, qBittorrent, Jellyfin, Shoko).
package models

import (
	"time"

	"github.com/google/uuid"
)

// State is a lifecycle state shared by requests and episodes.
// The legal transitions between states are owned by internal/lifecycle;
// this package only names them.
type State string

const (
	StateRequested     State = "REQUESTED"
	StateApproved      State = "APPROVED"
	StateGrabbing      State = "GRABBING"
	StateDownloading   State = "DOWNLOADING"
	StateDownloaded    State = "DOWNLOADED"
	StateImporting     State = "IMPORTING"
	StateAnimeMatching State = "ANIME_MATCHING"
	StateAvailable     State = "AVAILABLE"
	StateFailed        State = "FAILED"
)

// TerminalStates are excluded from the active set used by correlation.
// A re-request must never be absorbed by a finished row, so every
// correlation query filters these out at the database level.
var TerminalStates = []State{StateAvailable, StateFailed}

// IsTerminal reports whether the state ends a request's lifecycle.
func (s State) IsTerminal() bool {
	return s == StateAvailable || s == StateFailed
}

// MediaKind classifies a request as a movie or a TV series.
type MediaKind string

const (
	KindMovie MediaKind = "movie"
	KindTV    MediaKind = "tv"
)

// AnimeFlag is a tri-state anime classification. A request starts as
// AnimeUnknown and is settled at grab time from indexer signals.
type AnimeFlag string

const (
	AnimeUnknown AnimeFlag = "unknown"
	AnimeYes     AnimeFlag = "yes"
	AnimeNo      AnimeFlag = "no"
)

// RequestSource marks how a request entered the tracker.
type RequestSource string

const (
	SourceWebhook     RequestSource = "webhook"
	SourceLibrarySync RequestSource = "library_sync"
)

// MediaRequest is the logical unit a user asked for. It carries one
// correlation ID per external service; all are nullable because events
// arrive in arbitrary order and each service learns about the request
// at a different point in the pipeline.
type MediaRequest struct {
	ID uuid.UUID `json:"id"`

	// Correlation IDs across the six external ID spaces.
	JellyseerrID *int64  `json:"jellyseerr_id,omitempty"`
	TmdbID       *int64  `json:"tmdb_id,omitempty"`
	TvdbID       *int64  `json:"tvdb_id,omitempty"`
	RadarrID     *int64  `json:"radarr_id,omitempty"`
	SonarrID     *int64  `json:"sonarr_id,omitempty"`
	TorrentHash  *string `json:"torrent_hash,omitempty"` // 40-hex, lowercase canonical
	JellyfinID   *string `json:"jellyfin_id,omitempty"`

	MediaKind MediaKind `json:"media_kind"`
	Anime     AnimeFlag `json:"anime"`

	Title        string        `json:"title"`
	Year         int           `json:"year,omitempty"`
	PosterURL    string        `json:"poster_url,omitempty"`
	RequestedBy  string        `json:"requested_by,omitempty"`
	Quality      string        `json:"quality,omitempty"`
	Indexer      string        `json:"indexer,omitempty"`
	Seasons      string        `json:"seasons,omitempty"` // requested-season descriptor, e.g. "1" or "1-3"
	SizeBytes    int64         `json:"size_bytes,omitempty"`
	ReleaseGroup string        `json:"release_group,omitempty"`
	Source       RequestSource `json:"source"`

	State    State   `json:"state"`
	Progress float64 `json:"progress"` // download percentage, 0-100

	// FinalPath is the imported path on disk (movies; TV paths live on
	// the episodes).
	FinalPath *string `json:"final_path,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	AvailableAt *time.Time `json:"available_at,omitempty"`

	Episodes []Episode       `json:"episodes,omitempty"`
	Timeline []TimelineEvent `json:"timeline,omitempty"`
}

// IsAnime reports the settled anime classification.
func (r *MediaRequest) IsAnime() bool { return r.Anime == AnimeYes }

// Episode is one row per individual episode of a TV request. Movies
// never own episodes. All episodes grabbed as one season pack share a
// torrent hash.
type Episode struct {
	ID        uuid.UUID `json:"id"`
	RequestID uuid.UUID `json:"request_id"`

	Season int    `json:"season"`
	Number int    `json:"number"`
	Title  string `json:"title,omitempty"`

	TorrentHash    *string `json:"torrent_hash,omitempty"`
	FinalPath      *string `json:"final_path,omitempty"`
	JellyfinItemID *string `json:"jellyfin_item_id,omitempty"`
	ShokoFileID    *int64  `json:"shoko_file_id,omitempty"`

	State State `json:"state"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
