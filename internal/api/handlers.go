// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/tomtom215/tracearr/internal/database"
	"github.com/tomtom215/tracearr/internal/deletion"
	"github.com/tomtom215/tracearr/internal/ingest"
	"github.com/tomtom215/tracearr/internal/librarysync"
	"github.com/tomtom215/tracearr/internal/models"
	"github.com/tomtom215/tracearr/internal/sse"
)

// Deleter is the deletion orchestrator surface the handlers depend on.
// Implemented by deletion.Orchestrator.
type Deleter interface {
	Delete(ctx context.Context, requestID uuid.UUID, actor deletion.Actor, deleteFiles bool) (*models.DeletionLog, error)
	DeleteMany(ctx context.Context, requestIDs []uuid.UUID, actor deletion.Actor, deleteFiles bool) []deletion.Result
}

// Syncer runs library syncs. Implemented by librarysync.Job.
type Syncer interface {
	Run(ctx context.Context) (*librarysync.Summary, error)
}

// Handler carries the dependencies of every endpoint.
type Handler struct {
	db       *database.DB
	ingest   *ingest.Processor
	deleter  Deleter
	syncer   Syncer
	stream   http.Handler
	hub      *sse.Hub
	hookAuth string // Jellyseerr webhook shared secret; empty disables the check
}

// NewHandler creates the Handler. deleter and syncer may be nil when
// those features are disabled; their endpoints then answer 503.
func NewHandler(db *database.DB, proc *ingest.Processor, deleter Deleter, syncer Syncer, hub *sse.Hub, stream http.Handler, webhookSecret string) *Handler {
	return &Handler{
		db:       db,
		ingest:   proc,
		deleter:  deleter,
		syncer:   syncer,
		stream:   stream,
		hub:      hub,
		hookAuth: webhookSecret,
	}
}

// Health answers liveness probes. The database check is a cheap count
// so a wedged DuckDB surfaces as unhealthy.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	var n int64
	if err := h.db.Conn().QueryRowContext(r.Context(), `SELECT count(*) FROM media_requests`).Scan(&n); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	respondJSON(w, r, code, APIResponse{
		Success: code == http.StatusOK,
		Data: map[string]interface{}{
			"status":      status,
			"sse_clients": h.hub.SubscriberCount(),
		},
	})
}

// Events serves the SSE live-update stream.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	h.stream.ServeHTTP(w, r)
}
