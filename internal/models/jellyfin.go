// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package models

import "strconv"

// Jellyfin webhook notification types processed by the ingest handler.
const (
	JellyfinItemAdded   = "ItemAdded"
	JellyfinItemRemoved = "ItemRemoved"
)

// JellyfinWebhook is the payload posted by the Jellyfin webhook plugin.
// Deployments vary in which provider-ID fields they template in, so
// everything beyond the notification type is optional and the adapter
// falls back to the stored item ID.
type JellyfinWebhook struct {
	NotificationType string            `json:"NotificationType" validate:"required"`
	ItemID           string            `json:"ItemId"`
	ItemType         string            `json:"ItemType"` // Movie, Series, Season, Episode
	Name             string            `json:"Name"`
	Year             int               `json:"Year"`
	SeriesName       string            `json:"SeriesName"`
	SeasonNumber     int               `json:"SeasonNumber"`
	EpisodeNumber    int               `json:"EpisodeNumber"`
	ProviderIds      map[string]string `json:"Provider_ids"`

	// Flat provider fields some webhook templates emit instead of the map.
	TmdbID string `json:"Provider_tmdb"`
	TvdbID string `json:"Provider_tvdb"`
	ImdbID string `json:"Provider_imdb"`
}

// ProviderTmdb returns the TMDB provider ID from either field shape.
func (w *JellyfinWebhook) ProviderTmdb() int64 {
	if id := parseProviderID(w.TmdbID); id != 0 {
		return id
	}
	return parseProviderID(w.ProviderIds["Tmdb"])
}

// ProviderTvdb returns the TVDB provider ID from either field shape.
func (w *JellyfinWebhook) ProviderTvdb() int64 {
	if id := parseProviderID(w.TvdbID); id != 0 {
		return id
	}
	return parseProviderID(w.ProviderIds["Tvdb"])
}

func parseProviderID(s string) int64 {
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}

// JellyfinItem is one library item from /Items with provider metadata.
type JellyfinItem struct {
	ID           string              `json:"Id"`
	Name         string              `json:"Name"`
	Type         string              `json:"Type"` // Movie, Series
	Path         string              `json:"Path"`
	ProductionYr int                 `json:"ProductionYear"`
	ProviderIds  map[string]string   `json:"ProviderIds"`
	MediaSources []JellyfinMediaSrc  `json:"MediaSources"`
}

// JellyfinMediaSrc is a playable media source attached to an item.
type JellyfinMediaSrc struct {
	ID   string `json:"Id"`
	Path string `json:"Path"`
}

// IsPlayable reports whether the item is backed by real media rather
// than a metadata-only stub. Unverified hits are a known false-positive
// source for the fallback verifier, so stubs must be rejected.
func (i *JellyfinItem) IsPlayable() bool {
	return len(i.MediaSources) > 0 || i.Path != ""
}

// Tmdb returns the item's TMDB provider ID, or 0.
func (i *JellyfinItem) Tmdb() int64 { return parseProviderID(i.ProviderIds["Tmdb"]) }

// Tvdb returns the item's TVDB provider ID, or 0.
func (i *JellyfinItem) Tvdb() int64 { return parseProviderID(i.ProviderIds["Tvdb"]) }

// JellyfinItemsPage is the standard Jellyfin paged envelope.
type JellyfinItemsPage struct {
	Items            []JellyfinItem `json:"Items"`
	TotalRecordCount int            `json:"TotalRecordCount"`
}

// JellyfinUser is the authenticated user returned by /Users/Me.
type JellyfinUser struct {
	ID     string             `json:"Id"`
	Name   string             `json:"Name"`
	Policy JellyfinUserPolicy `json:"Policy"`
}

// JellyfinUserPolicy carries the admin flag used by the auth gate.
type JellyfinUserPolicy struct {
	IsAdministrator bool `json:"IsAdministrator"`
}
