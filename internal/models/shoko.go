// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package models

// Shoko SignalR event names on the aggregate hub
// (feeds: shoko,file,movie,episode).
const (
	ShokoFileDetected   = "FileDetected"
	ShokoFileHashed     = "FileHashed"
	ShokoFileMatched    = "FileMatched"
	ShokoFileDeleted    = "FileDeleted"
	ShokoSeriesUpdated  = "SeriesUpdated"
	ShokoEpisodeUpdated = "EpisodeUpdated"
	ShokoMovieUpdated   = "MovieUpdated"
)

// ShokoFileEvent is the payload of file-feed events (FileMatched,
// FileHashed, FileDetected, FileDeleted). RelativePath is relative to
// the import folder, so resolving it to an absolute candidate requires
// the import-folder metadata.
type ShokoFileEvent struct {
	FileID         int64                 `json:"FileID"`
	ImportFolderID int64                 `json:"ImportFolderID"`
	RelativePath   string                `json:"RelativePath"`
	Hashes         *ShokoHashes          `json:"Hashes"`
	CrossReferences []ShokoCrossReference `json:"CrossReferences"`
}

// HasCrossReferences reports whether the file was matched to the anime
// database. Presence indicates a terminal match for the episode.
func (e *ShokoFileEvent) HasCrossReferences() bool {
	return len(e.CrossReferences) > 0
}

// ShokoHashes holds the file hashes Shoko computed.
type ShokoHashes struct {
	ED2K string `json:"ED2K"`
	SHA1 string `json:"SHA1"`
	CRC32 string `json:"CRC32"`
}

// ShokoCrossReference links a file to AniDB series/episode records.
type ShokoCrossReference struct {
	AnidbAnimeID   int64 `json:"AnidbAnimeID"`
	AnidbEpisodeID int64 `json:"AnidbEpisodeID"`
	Percentage     int   `json:"Percentage"`
}

// ShokoSeriesEvent is the payload of series/movie/episode-feed update
// events. Only Reason "Added" is material for terminal transitions;
// "ImageAdded" and friends are metadata noise.
type ShokoSeriesEvent struct {
	SeriesID int64  `json:"SeriesID"`
	Reason   string `json:"Reason"`
}

// ShokoImportFolder is one import folder from /api/v3/ImportFolder.
// TV and movies live under different folders, so path correlation keeps
// the full set cached rather than assuming a single prefix.
type ShokoImportFolder struct {
	ID   int64  `json:"ID"`
	Name string `json:"Name"`
	Path string `json:"Path"`
}
