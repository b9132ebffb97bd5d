// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package models

import "strconv"

// Jellyseerr notification types processed by the ingest handler.
const (
	JellyseerrMediaPending      = "MEDIA_PENDING"
	JellyseerrMediaAutoApproved = "MEDIA_AUTO_APPROVED"
	JellyseerrMediaApproved     = "MEDIA_APPROVED"
	JellyseerrMediaAvailable    = "MEDIA_AVAILABLE"
	JellyseerrMediaFailed       = "MEDIA_FAILED"
)

// JellyseerrWebhook is the payload posted by Jellyseerr's webhook agent.
// Numeric IDs arrive as strings in the template-expanded payload, so the
// accessors parse defensively.
type JellyseerrWebhook struct {
	NotificationType string               `json:"notification_type" validate:"required"`
	Subject          string               `json:"subject"`
	Message          string               `json:"message"`
	Image            string               `json:"image"`
	Media            *JellyseerrMedia     `json:"media"`
	Request          *JellyseerrRequest   `json:"request"`
	Issue            *JellyseerrIssue     `json:"issue"`
	Extra            []JellyseerrKeyValue `json:"extra"`
}

// JellyseerrMedia describes the media the notification concerns.
type JellyseerrMedia struct {
	MediaType string `json:"media_type"` // "movie" or "tv"
	TmdbID    string `json:"tmdbId"`
	TvdbID    string `json:"tvdbId"`
	Status    string `json:"status"`
}

// JellyseerrRequest carries the request identity and requesting user.
type JellyseerrRequest struct {
	RequestID           string `json:"request_id"`
	RequestedByUsername string `json:"requestedBy_username"`
	RequestedByEmail    string `json:"requestedBy_email"`
	RequestedByAvatar   string `json:"requestedBy_avatar"`
}

// JellyseerrIssue is present on issue notifications, which the tracker
// ignores; modeled so unmarshalling never fails on them.
type JellyseerrIssue struct {
	IssueID   string `json:"issue_id"`
	IssueType string `json:"issue_type"`
}

// JellyseerrKeyValue is one entry of the free-form "extra" list.
type JellyseerrKeyValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// TmdbID returns the parsed TMDB ID, or 0 when absent or malformed.
func (w *JellyseerrWebhook) TmdbID() int64 {
	if w.Media == nil {
		return 0
	}
	id, _ := strconv.ParseInt(w.Media.TmdbID, 10, 64)
	return id
}

// TvdbID returns the parsed TVDB ID, or 0 when absent or malformed.
func (w *JellyseerrWebhook) TvdbID() int64 {
	if w.Media == nil {
		return 0
	}
	id, _ := strconv.ParseInt(w.Media.TvdbID, 10, 64)
	return id
}

// RequestID returns the parsed Jellyseerr request ID, or 0 when absent.
func (w *JellyseerrWebhook) RequestID() int64 {
	if w.Request == nil {
		return 0
	}
	id, _ := strconv.ParseInt(w.Request.RequestID, 10, 64)
	return id
}

// RequestedSeasons returns the "Requested Seasons" extra, or "".
func (w *JellyseerrWebhook) RequestedSeasons() string {
	for _, kv := range w.Extra {
		if kv.Name == "Requested Seasons" {
			return kv.Value
		}
	}
	return ""
}
