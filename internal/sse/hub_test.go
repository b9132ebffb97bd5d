// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package sse

import (
	"bufio"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

func TestHubBroadcastReachesSubscribers(t *testing.T) {
	hub := startHub(t)

	events1, cancel1 := hub.Subscribe()
	defer cancel1()
	events2, cancel2 := hub.Subscribe()
	defer cancel2()

	hub.Broadcast(EventRequestUpdate, "req-1", map[string]string{"state": "DOWNLOADING"})

	for _, ch := range []<-chan Event{events1, events2} {
		select {
		case ev := <-ch:
			assert.Equal(t, EventRequestUpdate, ev.Type)
			assert.Equal(t, "req-1", ev.RequestID)
			assert.NotEmpty(t, ev.Timestamp)
		case <-time.After(2 * time.Second):
			t.Fatal("subscriber did not receive broadcast")
		}
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := startHub(t)

	events, cancel := hub.Subscribe()
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 0 },
		2*time.Second, 10*time.Millisecond)

	select {
	case _, open := <-events:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
}

func TestHubShedsOldestForSlowSubscriber(t *testing.T) {
	hub := startHub(t)

	// Never drained; buffer is 8.
	slow, cancelSlow := hub.Subscribe()
	defer cancelSlow()
	fast, cancelFast := hub.Subscribe()
	defer cancelFast()
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 2 },
		2*time.Second, 10*time.Millisecond)

	// The fast reader drains everything; seeing the last value doubles
	// as the signal that the hub has fanned out all twenty broadcasts.
	allOut := make(chan struct{})
	go func() {
		for ev := range fast {
			if ev.Data == 19 {
				close(allOut)
				return
			}
		}
	}()

	for i := 0; i < 20; i++ {
		hub.Broadcast(EventRequestUpdate, "req-1", i)
	}
	select {
	case <-allOut:
	case <-time.After(2 * time.Second):
		t.Fatal("fast subscriber did not receive all broadcasts")
	}

	// The slow connection survives, its queue holding the newest eight.
	assert.Equal(t, 2, hub.SubscriberCount())
	require.Len(t, slow, 8)
	for want := 12; want < 20; want++ {
		ev := <-slow
		assert.Equal(t, want, ev.Data)
	}
}

func TestHubShutdownClosesSubscribers(t *testing.T) {
	hub := NewHub(8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(done)
	}()

	events, unsub := hub.Subscribe()
	defer unsub()

	cancel()
	<-done

	select {
	case _, open := <-events:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed on hub shutdown")
	}
}

func TestStreamHandlerWritesEventsAndKeepalives(t *testing.T) {
	hub := startHub(t)
	handler := NewStreamHandler(hub, 50*time.Millisecond)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected", strings.TrimSpace(line))

	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	hub.Broadcast(EventRequestNew, "req-9", map[string]string{"title": "Dune"})

	var sawEvent, sawData, sawKeepalive bool
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && !(sawEvent && sawData && sawKeepalive) {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		switch {
		case strings.HasPrefix(line, "event: "):
			assert.Equal(t, EventRequestNew, strings.TrimSpace(strings.TrimPrefix(line, "event: ")))
			sawEvent = true
		case strings.HasPrefix(line, "data: "):
			assert.Contains(t, line, `"request_id":"req-9"`)
			sawData = true
		case strings.TrimSpace(line) == ": keepalive":
			sawKeepalive = true
		}
	}

	assert.True(t, sawEvent, "expected an event line")
	assert.True(t, sawData, "expected a data line")
	assert.True(t, sawKeepalive, "expected a keepalive comment on idle")
}
