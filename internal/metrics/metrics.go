// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

// Package metrics exposes Prometheus instrumentation for webhook
// ingestion, lifecycle transitions, the SSE stream, outbound service
// calls, and the deletion orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	IngestEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracearr_ingest_events_total",
			Help: "Total webhook and push events received, by source service and outcome",
		},
		[]string{"service", "outcome"}, // outcome: applied, no_match, ambiguous, invalid, error
	)

	// Lifecycle metrics
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracearr_transitions_total",
			Help: "Total lifecycle state transitions applied",
		},
		[]string{"from", "to"},
	)

	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracearr_active_requests",
			Help: "Requests currently in a non-terminal state",
		},
	)

	// SSE metrics
	SSEClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracearr_sse_clients",
			Help: "Currently connected SSE dashboard clients",
		},
	)

	SSEEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracearr_sse_events_total",
			Help: "Total events broadcast over the SSE stream",
		},
		[]string{"event_type"},
	)

	// Outbound service call metrics
	ServiceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracearr_service_request_duration_seconds",
			Help:    "Duration of outbound service API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tracearr_circuit_breaker_state",
			Help: "Circuit breaker state per service (0 closed, 1 half-open, 2 open)",
		},
		[]string{"breaker"},
	)

	// Verifier metrics
	VerifierRescuesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracearr_verifier_rescues_total",
			Help: "Requests the verifier moved forward after going stale",
		},
		[]string{"outcome"}, // rescued, rescan_triggered, failed, unchanged
	)

	// Deletion metrics
	DeletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracearr_deletions_total",
			Help: "Coordinated deletions by source and final status",
		},
		[]string{"source", "status"},
	)

	DeletionSyncStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracearr_deletion_sync_steps_total",
			Help: "Per-service deletion sync steps by terminal status",
		},
		[]string{"service", "status"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracearr_http_requests_total",
			Help: "Total HTTP requests served, by method, route pattern, and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracearr_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds, by method and route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracearr_http_active_requests",
			Help: "HTTP requests currently in flight",
		},
	)

	// Progress poller metrics
	PollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracearr_poll_cycles_total",
			Help: "Torrent progress poll cycles by cadence",
		},
		[]string{"cadence"}, // fast, slow
	)
)
