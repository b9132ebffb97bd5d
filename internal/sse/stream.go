// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package sse

import (
	"fmt"
	"net/http"
	"time"

	"github.com/tomtom215/tracearr/internal/logging"
)

// StreamHandler serves the SSE endpoint. Each connection subscribes to
// the hub and writes events until the client goes away; a comment-only
// keepalive is written whenever the stream is idle past the heartbeat
// interval so proxies do not reap the connection.
type StreamHandler struct {
	hub               *Hub
	heartbeatInterval time.Duration
}

// NewStreamHandler creates the SSE http.Handler.
func NewStreamHandler(hub *Hub, heartbeatInterval time.Duration) *StreamHandler {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 15 * time.Second
	}
	return &StreamHandler{hub: hub, heartbeatInterval: heartbeatInterval}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Confirm the stream immediately so clients know they are attached.
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	events, cancel := h.hub.Subscribe()
	defer cancel()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case ev, open := <-events:
			if !open {
				// Hub shut down or dropped us.
				return
			}
			payload, err := MarshalEvent(ev)
			if err != nil {
				logging.Warn().Err(err).Str("event_type", ev.Type).Msg("failed to marshal sse event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
				return
			}
			flusher.Flush()
			heartbeat.Reset(h.heartbeatInterval)

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
