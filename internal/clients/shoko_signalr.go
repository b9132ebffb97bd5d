// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

/*
shoko_signalr.go - Shoko SignalR event feed client

Shoko pushes file and series events over a SignalR hub at
/signalr/aggregate. This client speaks the SignalR JSON hub protocol
directly over a websocket: handshake {"protocol":"json","version":1},
then 0x1e-delimited frames with invocation messages (type 1) and pings
(type 6).
*/

package clients

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/tracearr/internal/logging"
	"github.com/tomtom215/tracearr/internal/models"
)

// SignalR JSON hub protocol message types.
const (
	signalrTypeInvocation = 1
	signalrTypePing       = 6
	signalrTypeClose      = 7
)

// signalrRecordSeparator terminates every SignalR frame.
const signalrRecordSeparator = 0x1e

// ShokoEventHandler receives decoded Shoko events. Callbacks run on
// the single reader goroutine; handlers must not block.
type ShokoEventHandler interface {
	OnFileEvent(eventType string, ev models.ShokoFileEvent)
	OnSeriesEvent(eventType string, ev models.ShokoSeriesEvent)
}

// ShokoSignalRClient maintains the websocket connection to Shoko's
// SignalR aggregate hub, reconnecting with bounded backoff. Designed
// to run under suture supervision via RunWithContext.
type ShokoSignalRClient struct {
	baseURL     string
	shoko       *ShokoClient
	handler     ShokoEventHandler
	maxInterval time.Duration
}

// NewShokoSignalRClient creates the SignalR client. The ShokoClient
// supplies the API key embedded in the connection URL.
func NewShokoSignalRClient(baseURL string, shoko *ShokoClient, handler ShokoEventHandler, maxReconnectInterval time.Duration) *ShokoSignalRClient {
	if maxReconnectInterval <= 0 {
		maxReconnectInterval = 2 * time.Minute
	}
	return &ShokoSignalRClient{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		shoko:       shoko,
		handler:     handler,
		maxInterval: maxReconnectInterval,
	}
}

// RunWithContext connects and consumes events until the context is
// canceled. Connection failures reconnect with exponential backoff;
// a successfully established session resets the backoff.
func (c *ShokoSignalRClient) RunWithContext(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = c.maxInterval
	bo.MaxElapsedTime = 0 // retry forever, supervisor owns our lifetime

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := bo.NextBackOff()
		logging.Warn().Err(err).Dur("retry_in", wait).Msg("shoko signalr session ended, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// runSession dials, handshakes, and reads frames until the connection
// drops or the context is canceled.
func (c *ShokoSignalRClient) runSession(ctx context.Context) error {
	apiKey, err := c.shoko.APIKey(ctx)
	if err != nil {
		return fmt.Errorf("failed to get shoko api key: %w", err)
	}

	wsURL, err := c.websocketURL(apiKey)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("shoko signalr dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("shoko signalr dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	// Close the socket when the context dies so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	handshake := append([]byte(`{"protocol":"json","version":1}`), signalrRecordSeparator)
	if err := conn.WriteMessage(websocket.TextMessage, handshake); err != nil {
		return fmt.Errorf("shoko signalr handshake write failed: %w", err)
	}

	// The handshake response is an empty JSON object (or an error).
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("shoko signalr handshake read failed: %w", err)
	}
	var hs struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(bytes.TrimSuffix(raw, []byte{signalrRecordSeparator}), &hs); err == nil && hs.Error != "" {
		return fmt.Errorf("shoko signalr handshake rejected: %s", hs.Error)
	}

	logging.Info().Msg("shoko signalr connected")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("shoko signalr read failed: %w", err)
		}
		for _, frame := range bytes.Split(raw, []byte{signalrRecordSeparator}) {
			if len(frame) == 0 {
				continue
			}
			if err := c.handleFrame(conn, frame); err != nil {
				logging.Warn().Err(err).Msg("failed to handle shoko signalr frame")
			}
		}
	}
}

// handleFrame dispatches one SignalR message.
func (c *ShokoSignalRClient) handleFrame(conn *websocket.Conn, frame []byte) error {
	var msg struct {
		Type      int               `json:"type"`
		Target    string            `json:"target"`
		Arguments []json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return fmt.Errorf("failed to decode signalr message: %w", err)
	}

	switch msg.Type {
	case signalrTypePing:
		ping := append([]byte(`{"type":6}`), signalrRecordSeparator)
		return conn.WriteMessage(websocket.TextMessage, ping)

	case signalrTypeClose:
		return fmt.Errorf("server sent signalr close")

	case signalrTypeInvocation:
		c.dispatch(msg.Target, msg.Arguments)
		return nil

	default:
		return nil
	}
}

// dispatch decodes an invocation's first argument into the matching
// event shape. Unknown targets are ignored; Shoko adds feeds over time.
func (c *ShokoSignalRClient) dispatch(target string, args []json.RawMessage) {
	if len(args) == 0 {
		return
	}

	switch target {
	case models.ShokoFileDetected, models.ShokoFileHashed,
		models.ShokoFileMatched, models.ShokoFileDeleted:
		var ev models.ShokoFileEvent
		if err := json.Unmarshal(args[0], &ev); err != nil {
			logging.Warn().Err(err).Str("target", target).Msg("failed to decode shoko file event")
			return
		}
		c.handler.OnFileEvent(target, ev)

	case models.ShokoSeriesUpdated, models.ShokoEpisodeUpdated,
		models.ShokoMovieUpdated:
		var ev models.ShokoSeriesEvent
		if err := json.Unmarshal(args[0], &ev); err != nil {
			logging.Warn().Err(err).Str("target", target).Msg("failed to decode shoko series event")
			return
		}
		c.handler.OnSeriesEvent(target, ev)
	}
}

// websocketURL builds the ws(s) URL for the aggregate hub.
func (c *ShokoSignalRClient) websocketURL(apiKey string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid shoko url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported shoko url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/signalr/aggregate"
	q := u.Query()
	q.Set("feeds", "shoko,file,movie,episode")
	q.Set("access_token", apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
