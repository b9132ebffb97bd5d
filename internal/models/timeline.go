// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package models

import (
	"time"

	"github.com/google/uuid"
)

// ServiceName labels the external service that emitted an event.
type ServiceName string

const (
	ServiceJellyseerr  ServiceName = "jellyseerr"
	ServiceRadarr      ServiceName = "radarr"
	ServiceSonarr      ServiceName = "sonarr"
	ServiceQBittorrent ServiceName = "qbittorrent"
	ServiceShoko       ServiceName = "shoko"
	ServiceJellyfin    ServiceName = "jellyfin"
	ServiceVerifier    ServiceName = "verifier"
	ServiceDashboard   ServiceName = "dashboard"
	ServiceSystem      ServiceName = "system"
)

// TimelineEvent is an append-only audit record of one state transition.
// Rows are immutable once written and are appended in the same database
// transaction as the state change they describe.
type TimelineEvent struct {
	ID        uuid.UUID   `json:"id"`
	RequestID uuid.UUID   `json:"request_id"`
	FromState State       `json:"from_state"`
	ToState   State       `json:"to_state"`
	Service   ServiceName `json:"service"`
	EventType string      `json:"event_type"`
	Detail    string      `json:"detail,omitempty"`
	// IsNew is true only for the synthetic creation event.
	IsNew     bool      `json:"is_new"`
	CreatedAt time.Time `json:"created_at"`
}
