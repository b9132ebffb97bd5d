// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingRunner struct {
	started atomic.Bool
}

func (r *blockingRunner) RunWithContext(ctx context.Context) error {
	r.started.Store(true)
	<-ctx.Done()
	return ctx.Err()
}

func TestRunnerServiceStopsOnCancel(t *testing.T) {
	runner := &blockingRunner{}
	svc := NewRunnerService("test-runner", runner)
	assert.Equal(t, "test-runner", svc.String())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	require.Eventually(t, runner.started.Load, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("service did not stop")
	}
}

type fakeServer struct {
	listenErr error
	release   chan struct{}
	shutdowns atomic.Int32
}

func (s *fakeServer) ListenAndServe() error {
	if s.listenErr != nil {
		return s.listenErr
	}
	<-s.release
	return errors.New("http: Server closed")
}

func (s *fakeServer) Shutdown(ctx context.Context) error {
	s.shutdowns.Add(1)
	close(s.release)
	return nil
}

func TestHTTPServerServiceGracefulShutdown(t *testing.T) {
	server := &fakeServer{release: make(chan struct{})}
	svc := NewHTTPServerService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.EqualValues(t, 1, server.shutdowns.Load())
	case <-time.After(time.Second):
		t.Fatal("service did not stop")
	}
}

func TestHTTPServerServiceSurfacesStartupError(t *testing.T) {
	server := &fakeServer{listenErr: errors.New("bind: address already in use")}
	svc := NewHTTPServerService(server, time.Second)

	err := svc.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address already in use")
}

func TestTreeRunsSupervisedServices(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tree := NewTree(logger, DefaultTreeConfig())

	runner := &blockingRunner{}
	tree.AddWorkerService(NewRunnerService("worker", runner))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	require.Eventually(t, runner.started.Load, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop")
	}
}
