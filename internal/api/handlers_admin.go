// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/tracearr/internal/database"
	"github.com/tomtom215/tracearr/internal/deletion"
	"github.com/tomtom215/tracearr/internal/librarysync"
	"github.com/tomtom215/tracearr/internal/logging"
	"github.com/tomtom215/tracearr/internal/middleware"
)

// deleteBody is the request body of the deletion endpoints.
type deleteBody struct {
	DeleteFiles bool `json:"delete_files"`
}

// bulkDeleteBody adds the target IDs for bulk deletion.
type bulkDeleteBody struct {
	IDs         []string `json:"ids" validate:"required,min=1,max=100"`
	DeleteFiles bool     `json:"delete_files"`
}

func (h *Handler) actor(r *http.Request) deletion.Actor {
	if a, ok := middleware.ActorFromContext(r.Context()); ok {
		return deletion.Actor{ID: a.ID, Name: a.Name}
	}
	return deletion.Actor{Name: "dashboard"}
}

// DeleteRequest removes one request and fans the deletion out to every
// connected service. The response carries the deletion log snapshot;
// sync progress streams over SSE.
func (h *Handler) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	if h.deleter == nil {
		respondError(w, r, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "deletion sync is disabled")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid request id")
		return
	}

	var body deleteBody
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "malformed JSON payload")
			return
		}
	}

	log, err := h.deleter.Delete(r.Context(), id, h.actor(r), body.DeleteFiles)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "request not found")
			return
		}
		respondDatabaseError(w, r, err)
		return
	}
	respondAccepted(w, r, log)
}

// BulkDeleteRequests removes several requests in one call. Partial
// failure is reported per ID rather than failing the batch.
func (h *Handler) BulkDeleteRequests(w http.ResponseWriter, r *http.Request) {
	if h.deleter == nil {
		respondError(w, r, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "deletion sync is disabled")
		return
	}

	var body bulkDeleteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "malformed JSON payload")
		return
	}
	if len(body.IDs) == 0 {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, "ids must not be empty")
		return
	}

	ids := make([]uuid.UUID, 0, len(body.IDs))
	for _, raw := range body.IDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid request id: "+raw)
			return
		}
		ids = append(ids, id)
	}

	results := h.deleter.DeleteMany(r.Context(), ids, h.actor(r), body.DeleteFiles)
	respondAccepted(w, r, results)
}

// ListDeletionLogs serves the deletion audit trail, newest-first.
func (h *Handler) ListDeletionLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)

	logs, err := h.db.ListDeletionLogs(r.Context(), limit, offset)
	if err != nil {
		respondDatabaseError(w, r, err)
		return
	}
	respondPage(w, r, logs, &PaginationMeta{
		Count:   len(logs),
		Offset:  offset,
		Limit:   limit,
		HasMore: len(logs) == limit,
	})
}

// GetDeletionLog serves one deletion log with its per-service sync
// events.
func (h *Handler) GetDeletionLog(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid log id")
		return
	}

	log, err := h.db.GetDeletionLog(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "deletion log not found")
			return
		}
		respondDatabaseError(w, r, err)
		return
	}
	respondData(w, r, log)
}

// TriggerLibrarySync starts a library sync in the background. A sync
// that finishes within the handshake window answers with its summary;
// otherwise 202 is returned and progress streams over SSE.
func (h *Handler) TriggerLibrarySync(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		respondError(w, r, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "library sync is disabled")
		return
	}

	type outcome struct {
		summary *librarysync.Summary
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		// Detached from the request context: closing the browser tab
		// must not abort a half-finished sync.
		summary, err := h.syncer.Run(context.Background())
		done <- outcome{summary, err}
	}()

	select {
	case out := <-done:
		if errors.Is(out.err, librarysync.ErrAlreadyRunning) {
			respondError(w, r, http.StatusConflict, ErrCodeConflict, "a library sync is already running")
			return
		}
		if out.err != nil {
			logging.Err(out.err).Msg("library sync failed")
			respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "library sync failed")
			return
		}
		respondData(w, r, out.summary)
	case <-time.After(200 * time.Millisecond):
		respondAccepted(w, r, map[string]string{"status": "started"})
	}
}
