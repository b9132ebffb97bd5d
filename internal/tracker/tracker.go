// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

// Package tracker applies lifecycle transitions. It is the only writer
// of request and episode state: every change is validated against the
// transition tables, persisted together with its timeline event in one
// transaction, and broadcast to dashboard clients only after commit.
package tracker

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/tracearr/internal/database"
	"github.com/tomtom215/tracearr/internal/lifecycle"
	"github.com/tomtom215/tracearr/internal/logging"
	"github.com/tomtom215/tracearr/internal/metrics"
	"github.com/tomtom215/tracearr/internal/models"
	"github.com/tomtom215/tracearr/internal/sse"
)

func isTerminal(s models.State) bool {
	return s == models.StateAvailable || s == models.StateFailed
}

// countTransition records transition metrics and keeps the active
// request gauge consistent across terminal boundaries.
func countTransition(from, to models.State) {
	if from == to {
		return
	}
	metrics.TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	switch {
	case !isTerminal(from) && isTerminal(to):
		metrics.ActiveRequests.Dec()
	case isTerminal(from) && !isTerminal(to):
		metrics.ActiveRequests.Inc()
	}
}

// Broadcaster pushes post-commit updates to dashboard clients.
// Implemented by sse.Hub.
type Broadcaster interface {
	Broadcast(eventType, requestID string, data interface{})
}

// Change describes one incoming lifecycle event to apply.
type Change struct {
	To        models.State
	Service   models.ServiceName
	EventType string
	Detail    string
	// Mutate, when set, runs inside the transaction after the state
	// change is validated, letting callers fold correlation IDs or
	// metadata learned from the event into the same commit.
	Mutate func(req *models.MediaRequest)
}

// Tracker is the single writer of lifecycle state.
type Tracker struct {
	db  *database.DB
	hub Broadcaster

	// Per-request locks serialize concurrent events for the same
	// request while letting unrelated requests proceed in parallel.
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// New creates a Tracker.
func New(db *database.DB, hub Broadcaster) *Tracker {
	return &Tracker{db: db, hub: hub, locks: make(map[uuid.UUID]*sync.Mutex)}
}

// CreateRequest persists a brand-new request together with its
// synthetic creation timeline event and broadcasts it.
func (t *Tracker) CreateRequest(ctx context.Context, req *models.MediaRequest, service models.ServiceName, eventType, detail string) error {
	if req.Anime == "" {
		req.Anime = models.AnimeUnknown
	}
	if req.Source == "" {
		req.Source = models.SourceWebhook
	}

	err := t.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := t.db.InsertRequest(ctx, tx, req); err != nil {
			return err
		}
		if len(req.Episodes) > 0 {
			for i := range req.Episodes {
				req.Episodes[i].RequestID = req.ID
			}
			if err := t.db.InsertEpisodes(ctx, tx, req.Episodes); err != nil {
				return err
			}
		}
		return t.db.AppendTimeline(ctx, tx, &models.TimelineEvent{
			RequestID: req.ID,
			ToState:   req.State,
			Service:   service,
			EventType: eventType,
			Detail:    detail,
			IsNew:     true,
		})
	})
	if err != nil {
		return err
	}

	logging.Info().
		Str("request_id", req.ID.String()).
		Str("title", req.Title).
		Str("state", string(req.State)).
		Msg("request tracked")
	if !isTerminal(req.State) {
		metrics.ActiveRequests.Inc()
	}
	t.hub.Broadcast(sse.EventRequestNew, req.ID.String(), req)
	return nil
}

// Transition moves a request to a new state. Invalid transitions are
// logged and dropped rather than surfaced: out-of-order webhooks are
// routine, not errors. A self-transition is an idempotent no-op unless
// the change carries a Mutate that still needs persisting.
func (t *Tracker) Transition(ctx context.Context, requestID uuid.UUID, change Change) error {
	unlock := t.lock(requestID)
	defer unlock()

	var updated *models.MediaRequest
	var fromState models.State
	err := t.db.WithTx(ctx, func(tx *sql.Tx) error {
		req, err := t.db.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}

		if req.State == change.To && change.Mutate == nil {
			return nil
		}

		if !lifecycle.CanTransitionRequest(req.State, change.To) {
			logging.Warn().
				Str("request_id", requestID.String()).
				Str("from", string(req.State)).
				Str("to", string(change.To)).
				Str("service", string(change.Service)).
				Str("event_type", change.EventType).
				Msg("dropping invalid transition")
			return nil
		}

		from := req.State
		fromState = from
		req.State = change.To
		if change.Mutate != nil {
			change.Mutate(req)
		}
		if change.To == models.StateAvailable && req.AvailableAt == nil {
			now := time.Now().UTC()
			req.AvailableAt = &now
		}

		if err := t.db.UpdateRequest(ctx, tx, req); err != nil {
			return err
		}
		if from != req.State {
			if err := t.db.AppendTimeline(ctx, tx, &models.TimelineEvent{
				RequestID: req.ID,
				FromState: from,
				ToState:   req.State,
				Service:   change.Service,
				EventType: change.EventType,
				Detail:    change.Detail,
			}); err != nil {
				return err
			}
		}
		updated = req
		return nil
	})
	if err != nil {
		return err
	}

	if updated != nil {
		countTransition(fromState, updated.State)
		t.hub.Broadcast(sse.EventRequestUpdate, updated.ID.String(), updated)
	}
	return nil
}

// RecordEvent appends an annotation to the timeline for occurrences
// worth showing on the dashboard (quality upgrades, rescan attempts)
// that do not move the lifecycle. Annotations carry no from-state, the
// same convention creation events use, so every event with a from-state
// is a real table-checked transition.
func (t *Tracker) RecordEvent(ctx context.Context, requestID uuid.UUID, service models.ServiceName, eventType, detail string) error {
	req, err := t.db.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	err = t.db.AppendTimeline(ctx, t.db.Conn(), &models.TimelineEvent{
		RequestID: requestID,
		ToState:   req.State,
		Service:   service,
		EventType: eventType,
		Detail:    detail,
	})
	if err != nil {
		return err
	}
	t.hub.Broadcast(sse.EventRequestUpdate, requestID.String(), req)
	return nil
}

// UpdateProgress persists a new download percentage without a state
// change and broadcasts it. No timeline event; progress is too chatty
// for the audit log.
func (t *Tracker) UpdateProgress(ctx context.Context, requestID uuid.UUID, progress float64) error {
	unlock := t.lock(requestID)
	defer unlock()

	var updated *models.MediaRequest
	err := t.db.WithTx(ctx, func(tx *sql.Tx) error {
		req, err := t.db.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		req.Progress = progress
		if err := t.db.UpdateRequest(ctx, tx, req); err != nil {
			return err
		}
		updated = req
		return nil
	})
	if err != nil {
		return err
	}
	t.hub.Broadcast(sse.EventRequestUpdate, updated.ID.String(), updated)
	return nil
}

// TransitionEpisode moves one episode to a new state and re-derives the
// parent request's aggregate state in the same transaction.
func (t *Tracker) TransitionEpisode(ctx context.Context, requestID, episodeID uuid.UUID, change Change, mutateEp func(*models.Episode)) error {
	unlock := t.lock(requestID)
	defer unlock()

	var updated *models.MediaRequest
	var updatedEp *models.Episode
	var fromState, toState models.State
	err := t.db.WithTx(ctx, func(tx *sql.Tx) error {
		req, err := t.db.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}

		var ep *models.Episode
		for i := range req.Episodes {
			if req.Episodes[i].ID == episodeID {
				ep = &req.Episodes[i]
				break
			}
		}
		if ep == nil {
			return database.ErrNotFound
		}

		if ep.State != change.To && !lifecycle.CanTransitionEpisode(ep.State, change.To) {
			logging.Warn().
				Str("request_id", requestID.String()).
				Str("episode_id", episodeID.String()).
				Str("from", string(ep.State)).
				Str("to", string(change.To)).
				Str("service", string(change.Service)).
				Msg("dropping invalid episode transition")
			return nil
		}

		ep.State = change.To
		if mutateEp != nil {
			mutateEp(ep)
		}
		if err := t.db.UpdateEpisode(ctx, tx, ep); err != nil {
			return err
		}

		derived := lifecycle.DeriveRequestState(req.Episodes)
		if derived != "" && derived != req.State && lifecycle.CanTransitionRequest(req.State, derived) {
			from := req.State
			fromState, toState = from, derived
			req.State = derived
			if derived == models.StateAvailable && req.AvailableAt == nil {
				now := time.Now().UTC()
				req.AvailableAt = &now
			}
			if err := t.db.AppendTimeline(ctx, tx, &models.TimelineEvent{
				RequestID: req.ID,
				FromState: from,
				ToState:   derived,
				Service:   change.Service,
				EventType: change.EventType,
				Detail:    change.Detail,
			}); err != nil {
				return err
			}
		}
		if err := t.db.UpdateRequest(ctx, tx, req); err != nil {
			return err
		}
		updated = req
		updatedEp = ep
		return nil
	})
	if err != nil {
		return err
	}

	if updatedEp != nil {
		if toState != "" {
			countTransition(fromState, toState)
		}
		t.hub.Broadcast(sse.EventEpisodeUpdate, requestID.String(), updatedEp)
		t.hub.Broadcast(sse.EventRequestUpdate, requestID.String(), updated)
	}
	return nil
}

// MarkAllEpisodesAvailable force-completes every episode of a request,
// used when the media server reports the series present as a whole. The
// request and each episode walk the transition table hop by hop, so
// every recorded timeline edge is legal; an episode with no legal path
// to AVAILABLE (FAILED) is left untouched.
func (t *Tracker) MarkAllEpisodesAvailable(ctx context.Context, requestID uuid.UUID, service models.ServiceName, detail string) error {
	unlock := t.lock(requestID)
	defer unlock()

	var updated *models.MediaRequest
	var fromState models.State
	var hops []models.State
	err := t.db.WithTx(ctx, func(tx *sql.Tx) error {
		req, err := t.db.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		anime := req.IsAnime()

		for i := range req.Episodes {
			ep := &req.Episodes[i]
			if ep.State == models.StateAvailable {
				continue
			}
			if lifecycle.EpisodeStepsToAvailable(ep.State, anime) == nil {
				logging.Warn().
					Str("request_id", requestID.String()).
					Str("episode_id", ep.ID.String()).
					Str("state", string(ep.State)).
					Msg("episode has no legal path to available, leaving as is")
				continue
			}
			ep.State = models.StateAvailable
			if err := t.db.UpdateEpisode(ctx, tx, ep); err != nil {
				return err
			}
		}

		if steps := lifecycle.StepsToAvailable(req.State, anime); len(steps) > 0 {
			fromState = req.State
			cur := req.State
			for _, next := range steps {
				hopDetail := ""
				if next == models.StateAvailable {
					hopDetail = detail
				}
				if err := t.db.AppendTimeline(ctx, tx, &models.TimelineEvent{
					RequestID: req.ID,
					FromState: cur,
					ToState:   next,
					Service:   service,
					EventType: "available",
					Detail:    hopDetail,
				}); err != nil {
					return err
				}
				cur = next
			}
			hops = steps
			req.State = models.StateAvailable
			now := time.Now().UTC()
			if req.AvailableAt == nil {
				req.AvailableAt = &now
			}
			if err := t.db.UpdateRequest(ctx, tx, req); err != nil {
				return err
			}
		}
		updated = req
		return nil
	})
	if err != nil {
		return err
	}

	if updated != nil {
		cur := fromState
		for _, next := range hops {
			countTransition(cur, next)
			cur = next
		}
		t.hub.Broadcast(sse.EventRequestUpdate, updated.ID.String(), updated)
	}
	return nil
}

// lock acquires the per-request mutex, creating it on first use.
// Lock entries are never reaped; the active request set is small.
func (t *Tracker) lock(id uuid.UUID) func() {
	t.mu.Lock()
	m, ok := t.locks[id]
	if !ok {
		m = &sync.Mutex{}
		t.locks[id] = m
	}
	t.mu.Unlock()

	m.Lock()
	return m.Unlock
}
