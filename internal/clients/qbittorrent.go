// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package clients

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/tracearr/internal/models"
)

// QBittorrentClient talks to the qBittorrent WebUI API. Auth is a
// session cookie obtained from /auth/login; on a 403 the cookie is
// refreshed once and the call retried. Concurrent refreshes collapse
// into one login via singleflight.
type QBittorrentClient struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[any]

	group  singleflight.Group
	mu     sync.RWMutex
	cookie string
}

// NewQBittorrentClient creates a qBittorrent WebUI client.
func NewQBittorrentClient(baseURL, username, password string) *QBittorrentClient {
	return &QBittorrentClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cb:         newBreaker("qbittorrent-api"),
	}
}

// Enabled reports whether the client is configured.
func (c *QBittorrentClient) Enabled() bool { return c.baseURL != "" }

// login fetches a fresh SID cookie. Concurrent callers share one
// login round-trip.
func (c *QBittorrentClient) login(ctx context.Context) error {
	_, err, _ := c.group.Do("login", func() (interface{}, error) {
		form := url.Values{}
		form.Set("username", c.username)
		form.Set("password", c.password)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/api/v2/auth/login", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("failed to build login request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("qbittorrent login failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		if resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(body), "Ok") {
			return nil, &StatusError{Service: "qbittorrent", Status: resp.StatusCode, Body: string(body)}
		}

		for _, ck := range resp.Cookies() {
			if ck.Name == "SID" {
				c.mu.Lock()
				c.cookie = ck.Value
				c.mu.Unlock()
				return nil, nil
			}
		}
		return nil, fmt.Errorf("qbittorrent login returned no SID cookie")
	})
	return err
}

// do issues one authenticated call, logging in first if needed and
// retrying once on a 403 (expired session).
func (c *QBittorrentClient) do(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	c.mu.RLock()
	haveCookie := c.cookie != ""
	c.mu.RUnlock()
	if !haveCookie {
		if err := c.login(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.doOnce(ctx, path, query)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusForbidden {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if err := c.login(ctx); err != nil {
			return nil, err
		}
		return c.doOnce(ctx, path, query)
	}
	return resp, nil
}

func (c *QBittorrentClient) doOnce(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	endpoint := c.baseURL + "/api/v2" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	req.AddCookie(&http.Cookie{Name: "SID", Value: c.cookie})
	c.mu.RUnlock()
	return c.httpClient.Do(req)
}

// TorrentsInfo fetches torrent status. hashes, when non-empty, filters
// to the given torrents; the progress poller passes every tracked hash
// in one call.
func (c *QBittorrentClient) TorrentsInfo(ctx context.Context, hashes []string) ([]models.QBittorrentTorrent, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	return execute(c.cb, "torrents_info", func() ([]models.QBittorrentTorrent, error) {
		q := url.Values{}
		if len(hashes) > 0 {
			q.Set("hashes", strings.ToLower(strings.Join(hashes, "|")))
		}
		resp, err := c.do(ctx, "/torrents/info", q)
		if err != nil {
			return nil, fmt.Errorf("qbittorrent torrents/info failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return nil, &StatusError{Service: "qbittorrent", Status: resp.StatusCode, Body: string(body)}
		}
		var torrents []models.QBittorrentTorrent
		if err := json.NewDecoder(resp.Body).Decode(&torrents); err != nil {
			return nil, fmt.Errorf("failed to decode qbittorrent torrents: %w", err)
		}
		return torrents, nil
	})
}

// DeleteTorrent removes a torrent by hash, optionally with its files.
// qBittorrent returns 200 even for unknown hashes, so this is
// naturally idempotent.
func (c *QBittorrentClient) DeleteTorrent(ctx context.Context, hash string, deleteFiles bool) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	_, err := execute(c.cb, "torrents_delete", func() (struct{}, error) {
		q := url.Values{}
		q.Set("hashes", strings.ToLower(hash))
		q.Set("deleteFiles", fmt.Sprintf("%t", deleteFiles))

		resp, err := c.do(ctx, "/torrents/delete", q)
		if err != nil {
			return struct{}{}, fmt.Errorf("qbittorrent torrents/delete failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode != http.StatusOK {
			return struct{}{}, &StatusError{Service: "qbittorrent", Status: resp.StatusCode, Body: ""}
		}
		return struct{}{}, nil
	})
	return err
}

// Ping verifies connectivity and credentials.
func (c *QBittorrentClient) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	_, err := execute(c.cb, "ping", func() (struct{}, error) {
		resp, err := c.do(ctx, "/app/version", nil)
		if err != nil {
			return struct{}{}, fmt.Errorf("qbittorrent ping failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode != http.StatusOK {
			return struct{}{}, &StatusError{Service: "qbittorrent", Status: resp.StatusCode, Body: ""}
		}
		return struct{}{}, nil
	})
	return err
}
