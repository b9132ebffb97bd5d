// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tomtom215/tracearr/internal/database"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// pageParams parses limit/offset query parameters with bounds.
func pageParams(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// ListRequests serves the dashboard request list, newest-first.
// ?active=true restricts to non-terminal states.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	activeOnly := r.URL.Query().Get("active") == "true"

	requests, total, err := h.db.ListRequests(r.Context(), limit, offset, activeOnly)
	if err != nil {
		respondDatabaseError(w, r, err)
		return
	}

	respondPage(w, r, requests, &PaginationMeta{
		Total:   total,
		Count:   len(requests),
		Offset:  offset,
		Limit:   limit,
		HasMore: int64(offset+len(requests)) < total,
	})
}

// GetRequest serves one request with episodes and timeline loaded.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid request id")
		return
	}

	req, err := h.db.GetRequest(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "request not found")
			return
		}
		respondDatabaseError(w, r, err)
		return
	}
	respondData(w, r, req)
}
