// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package clients

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/tracearr/internal/models"
)

// ShokoClient talks to the Shoko Server REST API. Shoko issues API
// keys from username/password via /api/auth; the key is cached and
// refreshed on a 401.
type ShokoClient struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[any]

	group  singleflight.Group
	mu     sync.RWMutex
	apiKey string
}

// NewShokoClient creates a Shoko API client.
func NewShokoClient(baseURL, username, password string) *ShokoClient {
	return &ShokoClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cb:         newBreaker("shoko-api"),
	}
}

// Enabled reports whether the client is configured.
func (c *ShokoClient) Enabled() bool { return c.baseURL != "" }

// authenticate obtains an API key. Concurrent callers share one
// round-trip.
func (c *ShokoClient) authenticate(ctx context.Context) error {
	_, err, _ := c.group.Do("auth", func() (interface{}, error) {
		payload, err := json.Marshal(map[string]string{
			"user":   c.username,
			"pass":   c.password,
			"device": "tracearr",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal shoko auth payload: %w", err)
		}

		req, err := newRequest(ctx, http.MethodPost, c.baseURL+"/api/auth", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("shoko auth failed: %w", err)
		}

		var out struct {
			APIKey string `json:"apikey"`
		}
		if err := decodeResponse("shoko", resp, &out); err != nil {
			return nil, err
		}
		if out.APIKey == "" {
			return nil, fmt.Errorf("shoko auth returned empty api key")
		}

		c.mu.Lock()
		c.apiKey = out.APIKey
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

// APIKey returns the current cached key, authenticating first if
// needed. The SignalR client embeds it in the websocket handshake.
func (c *ShokoClient) APIKey(ctx context.Context) (string, error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}
	c.mu.RLock()
	key := c.apiKey
	c.mu.RUnlock()
	if key != "" {
		return key, nil
	}
	if err := c.authenticate(ctx); err != nil {
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey, nil
}

// do issues one authenticated call, retrying once on a 401.
func (c *ShokoClient) do(ctx context.Context, method, path string) (*http.Response, error) {
	key, err := c.APIKey(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.doOnce(ctx, method, path, key)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		_ = resp.Body.Close()
		if err := c.authenticate(ctx); err != nil {
			return nil, err
		}
		c.mu.RLock()
		key = c.apiKey
		c.mu.RUnlock()
		return c.doOnce(ctx, method, path, key)
	}
	return resp, nil
}

func (c *ShokoClient) doOnce(ctx context.Context, method, path, key string) (*http.Response, error) {
	req, err := newRequest(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", key)
	return c.httpClient.Do(req)
}

// ImportFolders lists Shoko's configured import folders. The
// correlator caches these to turn file events into absolute paths.
func (c *ShokoClient) ImportFolders(ctx context.Context) ([]models.ShokoImportFolder, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	return execute(c.cb, "import_folders", func() ([]models.ShokoImportFolder, error) {
		resp, err := c.do(ctx, http.MethodGet, "/api/v3/ImportFolder")
		if err != nil {
			return nil, fmt.Errorf("shoko import folders failed: %w", err)
		}
		var folders []models.ShokoImportFolder
		if err := decodeResponse("shoko", resp, &folders); err != nil {
			return nil, err
		}
		return folders, nil
	})
}

// FileCrossReferenced reports whether Shoko has matched a file to an
// AniDB episode yet. The verifier polls this for stuck anime imports.
func (c *ShokoClient) FileCrossReferenced(ctx context.Context, fileID int64) (bool, error) {
	if !c.Enabled() {
		return false, ErrNotConfigured
	}
	return execute(c.cb, "file_cross_referenced", func() (bool, error) {
		resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v3/File/%d", fileID))
		if err != nil {
			return false, fmt.Errorf("shoko file lookup failed: %w", err)
		}
		var file struct {
			SeriesIDs []struct {
				SeriesID struct {
					ID int64 `json:"ID"`
				} `json:"SeriesID"`
			} `json:"SeriesIDs"`
		}
		if err := decodeResponse("shoko", resp, &file); err != nil {
			if IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return len(file.SeriesIDs) > 0, nil
	})
}

// FileExists reports whether Shoko still holds a record for a file.
func (c *ShokoClient) FileExists(ctx context.Context, fileID int64) (bool, error) {
	if !c.Enabled() {
		return false, ErrNotConfigured
	}
	return execute(c.cb, "file_exists", func() (bool, error) {
		resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v3/File/%d", fileID))
		if err != nil {
			return false, fmt.Errorf("shoko file lookup failed: %w", err)
		}
		if err := decodeResponse("shoko", resp, nil); err != nil {
			if IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	})
}

// DeleteFileRecord removes Shoko's record of a file, including its
// AniDB cross-references. The physical file is the indexer's business.
func (c *ShokoClient) DeleteFileRecord(ctx context.Context, fileID int64) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	_, err := execute(c.cb, "delete_file_record", func() (struct{}, error) {
		resp, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v3/File/%d", fileID))
		if err != nil {
			return struct{}{}, fmt.Errorf("shoko delete file failed: %w", err)
		}
		return struct{}{}, decodeResponse("shoko", resp, nil, http.StatusOK, http.StatusNoContent)
	})
	return err
}

// RescanFile asks Shoko to re-hash and re-match one file.
func (c *ShokoClient) RescanFile(ctx context.Context, fileID int64) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	_, err := execute(c.cb, "rescan_file", func() (struct{}, error) {
		resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v3/File/%d/Rescan", fileID))
		if err != nil {
			return struct{}{}, fmt.Errorf("shoko rescan failed: %w", err)
		}
		return struct{}{}, decodeResponse("shoko", resp, nil, http.StatusOK, http.StatusNoContent)
	})
	return err
}

// Ping verifies connectivity and credentials.
func (c *ShokoClient) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	_, err := execute(c.cb, "ping", func() (struct{}, error) {
		resp, err := c.do(ctx, http.MethodGet, "/api/v3/ImportFolder")
		if err != nil {
			return struct{}{}, fmt.Errorf("shoko ping failed: %w", err)
		}
		return struct{}{}, decodeResponse("shoko", resp, nil)
	})
	return err
}
