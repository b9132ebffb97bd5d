// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

// Package sse pushes request lifecycle updates to dashboard clients
// over server-sent events. The hub owns subscriber lifecycle and
// fan-out; it never blocks on a slow client.
package sse

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tracearr/internal/logging"
	"github.com/tomtom215/tracearr/internal/metrics"
)

// Event types pushed over the stream.
const (
	EventRequestNew        = "request_new"
	EventRequestUpdate     = "request_update"
	EventRequestDeleted    = "request_deleted"
	EventEpisodeUpdate     = "episode_update"
	EventDeletionProgress  = "deletion_progress"
	EventLibrarySyncStatus = "library_sync_status"
)

// Event is one message on the stream.
type Event struct {
	Type string `json:"type"`
	// RequestID is set on all request-scoped events.
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// subscriber is one connected SSE client. send is bounded; when a
// client falls behind, its oldest queued events are shed so the queue
// always holds the newest ones.
type subscriber struct {
	id   uint64
	send chan Event
}

// Hub maintains the set of subscribers and fans broadcast events out
// to them.
type Hub struct {
	subscribers map[*subscriber]bool
	broadcast   chan Event
	register    chan *subscriber
	unregister  chan *subscriber
	buffer      int
	nextID      uint64
	mu          sync.RWMutex
}

// NewHub creates a Hub. buffer is the per-subscriber queued event cap.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 256
	}
	return &Hub{
		subscribers: make(map[*subscriber]bool),
		broadcast:   make(chan Event, 256),
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		buffer:      buffer,
	}
}

// RunWithContext runs the hub until the context is canceled. Designed
// for suture supervision; on cancellation all subscribers are closed
// and ctx.Err() is returned so the supervisor treats it as a normal
// stop.
//
// Lifecycle events are drained before broadcasts so the subscriber set
// is always consistent when a message fans out.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case sub := <-h.register:
			h.addSubscriber(sub)
			continue
		case sub := <-h.unregister:
			h.removeSubscriber(sub)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case sub := <-h.register:
			h.addSubscriber(sub)
		case sub := <-h.unregister:
			h.removeSubscriber(sub)
		case ev := <-h.broadcast:
			h.fanOut(ev)
		}
	}
}

// Broadcast queues an event for all subscribers. Never blocks; if the
// hub's intake is full the event is dropped with a warning, since
// dashboard clients can always refetch current state over REST.
func (h *Hub) Broadcast(eventType, requestID string, data interface{}) {
	ev := Event{
		Type:      eventType,
		RequestID: requestID,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	select {
	case h.broadcast <- ev:
	default:
		logging.Warn().Str("event_type", eventType).Msg("sse broadcast channel full, dropping event")
	}
}

// Subscribe registers a new client and returns its event channel plus
// a cancel function. The channel is closed by the hub on disconnect or
// shutdown.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	h.nextID++
	sub := &subscriber{id: h.nextID, send: make(chan Event, h.buffer)}
	h.mu.Unlock()

	h.register <- sub
	var once sync.Once
	cancel := func() {
		once.Do(func() { h.unregister <- sub })
	}
	return sub.send, cancel
}

// SubscriberCount returns the number of connected clients.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *Hub) addSubscriber(sub *subscriber) {
	h.mu.Lock()
	h.subscribers[sub] = true
	total := len(h.subscribers)
	h.mu.Unlock()
	metrics.SSEClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("sse client connected")
}

func (h *Hub) removeSubscriber(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.send)
	}
	total := len(h.subscribers)
	h.mu.Unlock()
	metrics.SSEClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("sse client disconnected")
}

// fanOut delivers an event to every subscriber in a stable order. A
// subscriber with a full queue sheds its oldest queued event to make
// room; the connection stays up and the client catches up from the
// newest state.
func (h *Hub) fanOut(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := make([]*subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })

	metrics.SSEEventsTotal.WithLabelValues(ev.Type).Inc()

	for _, sub := range subs {
		select {
		case sub.send <- ev:
			continue
		default:
		}
		// Queue full: pop the oldest queued event and retry. fanOut is
		// the only sender on send, so the retry cannot race another
		// enqueue; the reader draining concurrently only makes room.
		select {
		case <-sub.send:
		default:
		}
		select {
		case sub.send <- ev:
		default:
		}
		logging.Warn().Uint64("client_id", sub.id).Msg("sse client slow, shed oldest queued event")
	}
}

func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	count := len(h.subscribers)
	for sub := range h.subscribers {
		close(sub.send)
		delete(h.subscribers, sub)
	}
	h.mu.Unlock()

	metrics.SSEClients.Set(0)
	logging.Info().
		Str("component", "sse-hub").
		AnErr("reason", ctx.Err()).
		Int("clients_closed", count).
		Msg("sse hub stopped")
}

// MarshalEvent converts an event to its wire JSON.
func MarshalEvent(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}
