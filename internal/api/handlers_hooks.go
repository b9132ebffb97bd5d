// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tracearr/internal/logging"
	"github.com/tomtom215/tracearr/internal/models"
	"github.com/tomtom215/tracearr/internal/validation"
)

// Webhook endpoints always acknowledge a parseable payload with 2xx,
// even when correlation fails. Upstream services treat non-2xx as
// delivery failure and retry or disable the hook; a request we cannot
// correlate today may match after a later event, and retrying it
// would not change the outcome.

// decodeHook decodes and validates a webhook payload. On failure the
// 400 response is already written and false is returned.
func decodeHook(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "malformed JSON payload")
		return false
	}
	if verr := validation.ValidateStruct(dst); verr != nil {
		apiErr := verr.ToAPIError()
		respondErrorDetails(w, r, http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details)
		return false
	}
	return true
}

// ack logs a processing failure and acknowledges the event regardless.
func ack(w http.ResponseWriter, r *http.Request, service models.ServiceName, err error) {
	if err != nil {
		logging.Warn().Err(err).Str("service", string(service)).Msg("webhook processing failed")
	}
	respondJSON(w, r, http.StatusOK, APIResponse{Success: true})
}

// JellyseerrHook ingests request lifecycle notifications. When a
// webhook secret is configured the Authorization header must match.
func (h *Handler) JellyseerrHook(w http.ResponseWriter, r *http.Request) {
	if h.hookAuth != "" && r.Header.Get("Authorization") != h.hookAuth {
		respondError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "webhook secret mismatch")
		return
	}

	var payload models.JellyseerrWebhook
	if !decodeHook(w, r, &payload) {
		return
	}
	ack(w, r, models.ServiceJellyseerr, h.ingest.HandleJellyseerr(r.Context(), &payload))
}

// RadarrHook ingests movie grab, import, and delete events.
func (h *Handler) RadarrHook(w http.ResponseWriter, r *http.Request) {
	var payload models.RadarrWebhook
	if !decodeHook(w, r, &payload) {
		return
	}
	ack(w, r, models.ServiceRadarr, h.ingest.HandleRadarr(r.Context(), &payload))
}

// SonarrHook ingests series grab, import, and delete events.
func (h *Handler) SonarrHook(w http.ResponseWriter, r *http.Request) {
	var payload models.SonarrWebhook
	if !decodeHook(w, r, &payload) {
		return
	}
	ack(w, r, models.ServiceSonarr, h.ingest.HandleSonarr(r.Context(), &payload))
}

// QBittorrentHook ingests torrent-complete notifications sent by the
// "run external program on completion" hook.
func (h *Handler) QBittorrentHook(w http.ResponseWriter, r *http.Request) {
	var payload models.QBittorrentWebhook
	if !decodeHook(w, r, &payload) {
		return
	}
	ack(w, r, models.ServiceQBittorrent, h.ingest.HandleQBittorrent(r.Context(), &payload))
}

// JellyfinHook ingests library added/removed notifications.
func (h *Handler) JellyfinHook(w http.ResponseWriter, r *http.Request) {
	var payload models.JellyfinWebhook
	if !decodeHook(w, r, &payload) {
		return
	}
	ack(w, r, models.ServiceJellyfin, h.ingest.HandleJellyfin(r.Context(), &payload))
}
