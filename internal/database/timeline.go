// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/tracearr/internal/models"
)

// AppendTimeline inserts one immutable timeline event. Always called
// inside the transaction that applies the state change it records.
func (db *DB) AppendTimeline(ctx context.Context, q Querier, ev *models.TimelineEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO timeline_events (id, request_id, from_state, to_state, service, event_type, detail, is_new, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RequestID, ev.FromState, ev.ToState, ev.Service, ev.EventType,
		ev.Detail, ev.IsNew, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append timeline event: %w", err)
	}
	return nil
}

// GetTimeline returns a request's timeline events in append order.
func (db *DB) GetTimeline(ctx context.Context, requestID uuid.UUID) ([]models.TimelineEvent, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, request_id, from_state, to_state, service, event_type, detail, is_new, created_at
		 FROM timeline_events WHERE request_id = ? ORDER BY created_at, id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	defer rows.Close()

	var events []models.TimelineEvent
	for rows.Next() {
		var ev models.TimelineEvent
		if err := rows.Scan(&ev.ID, &ev.RequestID, &ev.FromState, &ev.ToState,
			&ev.Service, &ev.EventType, &ev.Detail, &ev.IsNew, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan timeline event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
