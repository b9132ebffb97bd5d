// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

// Package clients holds the outbound API clients for every integrated
// service. Each client wraps its HTTP calls in a circuit breaker so a
// down or slow service cannot cascade into the ingest path.
package clients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/tracearr/internal/logging"
	"github.com/tomtom215/tracearr/internal/metrics"
)

// ErrNotConfigured is returned by disabled clients. Callers treat it
// like a skipped integration, not a failure.
var ErrNotConfigured = errors.New("service not configured")

// StatusError carries the HTTP status of a failed API call so callers
// can distinguish "gone already" (404) from real failures.
type StatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.Status, e.Body)
}

// IsNotFound reports whether err is a 404 from a service API.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

// newBreaker builds the standard circuit breaker all clients share:
// opens at a 60% failure rate over at least 10 requests, allows 3
// probes in half-open, recovers after 2 minutes.
func newBreaker(name string) *gobreaker.CircuitBreaker[any] {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", breakerStateString(from)).
				Str("to", breakerStateString(to)).
				Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateFloat(to))
		},
	})
}

func breakerStateString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func breakerStateFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// execute runs fn behind the breaker, times it, and casts the result.
// operation labels the call in the request duration histogram.
func execute[T any](cb *gobreaker.CircuitBreaker[any], operation string, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := cb.Execute(func() (any, error) {
		return fn()
	})
	metrics.ServiceRequestDuration.WithLabelValues(cb.Name(), operation).Observe(time.Since(start).Seconds())
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logging.Warn().Err(err).Msg("circuit breaker rejected request")
		}
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

// decodeResponse checks the status and decodes a JSON body into out.
// A nil out discards the body. okStatuses defaults to 200.
func decodeResponse(service string, resp *http.Response, out interface{}, okStatuses ...int) error {
	defer func() { _ = resp.Body.Close() }()

	if len(okStatuses) == 0 {
		okStatuses = []int{http.StatusOK}
	}
	ok := false
	for _, s := range okStatuses {
		if resp.StatusCode == s {
			ok = true
			break
		}
	}
	if !ok {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{Service: service, Status: resp.StatusCode, Body: string(body)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", service, err)
	}
	return nil
}

// newRequest builds a JSON API request.
func newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
