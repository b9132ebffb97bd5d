// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package models

// Event types shared by the Radarr and Sonarr webhook contracts.
// "Download" is the import-completed event despite its name.
const (
	ArrEventGrab              = "Grab"
	ArrEventDownload          = "Download"
	ArrEventMovieDelete       = "MovieDelete"
	ArrEventSeriesDelete      = "SeriesDelete"
	ArrEventEpisodeFileDelete = "EpisodeFileDelete"
)

// RadarrWebhook is the payload posted by Radarr's webhook connection.
type RadarrWebhook struct {
	EventType    string           `json:"eventType" validate:"required"`
	Movie        *RadarrMovie     `json:"movie"`
	RemoteMovie  *RadarrMovie     `json:"remoteMovie"`
	Release      *ArrRelease      `json:"release"`
	MovieFile    *ArrMediaFile    `json:"movieFile"`
	DownloadID   string           `json:"downloadId"`
	DeletedFiles bool             `json:"deletedFiles"`
}

// RadarrMovie describes the movie a Radarr event concerns.
type RadarrMovie struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title"`
	Year       int      `json:"year"`
	TmdbID     int64    `json:"tmdbId"`
	ImdbID     string   `json:"imdbId"`
	FolderPath string   `json:"folderPath"`
	Tags       []string `json:"tags"`
}

// SonarrWebhook is the payload posted by Sonarr's webhook connection.
type SonarrWebhook struct {
	EventType    string          `json:"eventType" validate:"required"`
	Series       *SonarrSeries   `json:"series"`
	Episodes     []SonarrEpisode `json:"episodes"`
	EpisodeFiles []ArrMediaFile  `json:"episodeFiles"`
	EpisodeFile  *ArrMediaFile   `json:"episodeFile"`
	Release      *ArrRelease     `json:"release"`
	DownloadID   string          `json:"downloadId"`
	DeletedFiles bool            `json:"deletedFiles"`
}

// SonarrSeries describes the series a Sonarr event concerns.
// SeriesType "anime" drives the anime lifecycle branch.
type SonarrSeries struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Year       int    `json:"year"`
	TvdbID     int64  `json:"tvdbId"`
	TitleSlug  string `json:"titleSlug"`
	Path       string `json:"path"`
	SeriesType string `json:"seriesType"` // standard, daily, anime
}

// SonarrEpisode is one episode entry of a grab or import event. A
// season-pack grab lists every episode under one downloadId.
type SonarrEpisode struct {
	ID            int64  `json:"id"`
	EpisodeNumber int    `json:"episodeNumber"`
	SeasonNumber  int    `json:"seasonNumber"`
	Title         string `json:"title"`
}

// ArrRelease carries the release metadata common to both indexers.
type ArrRelease struct {
	Quality      string `json:"quality"`
	ReleaseGroup string `json:"releaseGroup"`
	ReleaseTitle string `json:"releaseTitle"`
	Indexer      string `json:"indexer"`
	Size         int64  `json:"size"`
}

// ArrMediaFile is an imported file entry on a Download event.
type ArrMediaFile struct {
	ID            int64  `json:"id"`
	RelativePath  string `json:"relativePath"`
	Path          string `json:"path"`
	SeasonNumber  int    `json:"seasonNumber"`
	EpisodeNumber int    `json:"episodeNumber"`
	Quality       string `json:"quality"`
	SceneName     string `json:"sceneName"`
}
