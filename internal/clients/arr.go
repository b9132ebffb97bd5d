// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// ArrClient talks to a Radarr or Sonarr v3 API. The two share auth and
// conventions; only resource names differ.
type ArrClient struct {
	name       string // "radarr" or "sonarr"
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[any]
}

// NewRadarrClient creates a Radarr API client.
func NewRadarrClient(baseURL, apiKey string) *ArrClient {
	return newArrClient("radarr", baseURL, apiKey)
}

// NewSonarrClient creates a Sonarr API client.
func NewSonarrClient(baseURL, apiKey string) *ArrClient {
	return newArrClient("sonarr", baseURL, apiKey)
}

func newArrClient(name, baseURL, apiKey string) *ArrClient {
	return &ArrClient{
		name:       name,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cb:         newBreaker(name + "-api"),
	}
}

// Enabled reports whether the client is configured.
func (c *ArrClient) Enabled() bool { return c.baseURL != "" }

// Name returns the service name, for logs and deletion sync events.
func (c *ArrClient) Name() string { return c.name }

func (c *ArrClient) do(ctx context.Context, method, path string, query url.Values) (*http.Response, error) {
	endpoint := c.baseURL + "/api/v3" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := newRequest(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	return c.httpClient.Do(req)
}

// DeleteMovie removes a movie from Radarr, optionally deleting its
// files. A 404 is surfaced as a StatusError so the deletion
// orchestrator can record "already gone".
func (c *ArrClient) DeleteMovie(ctx context.Context, movieID int64, deleteFiles bool) error {
	return c.deleteResource(ctx, fmt.Sprintf("/movie/%d", movieID), deleteFiles)
}

// DeleteSeries removes a series from Sonarr.
func (c *ArrClient) DeleteSeries(ctx context.Context, seriesID int64, deleteFiles bool) error {
	return c.deleteResource(ctx, fmt.Sprintf("/series/%d", seriesID), deleteFiles)
}

func (c *ArrClient) deleteResource(ctx context.Context, path string, deleteFiles bool) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	_, err := execute(c.cb, "delete_resource", func() (struct{}, error) {
		q := url.Values{}
		q.Set("deleteFiles", fmt.Sprintf("%t", deleteFiles))
		q.Set("addImportExclusion", "false")

		resp, err := c.do(ctx, http.MethodDelete, path, q)
		if err != nil {
			return struct{}{}, fmt.Errorf("%s delete request failed: %w", c.name, err)
		}
		return struct{}{}, decodeResponse(c.name, resp, nil, http.StatusOK, http.StatusNoContent, http.StatusAccepted)
	})
	return err
}

// arrResource is the subset of movie/series metadata the verifier and
// deletion checks need.
type arrResource struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Path      string `json:"path"`
	HasFile   bool   `json:"hasFile"`
	Monitored bool   `json:"monitored"`
}

// MovieExists reports whether Radarr still knows the movie.
func (c *ArrClient) MovieExists(ctx context.Context, movieID int64) (bool, error) {
	return c.resourceExists(ctx, fmt.Sprintf("/movie/%d", movieID))
}

// SeriesExists reports whether Sonarr still knows the series.
func (c *ArrClient) SeriesExists(ctx context.Context, seriesID int64) (bool, error) {
	return c.resourceExists(ctx, fmt.Sprintf("/series/%d", seriesID))
}

func (c *ArrClient) resourceExists(ctx context.Context, path string) (bool, error) {
	if !c.Enabled() {
		return false, ErrNotConfigured
	}
	return execute(c.cb, "resource_exists", func() (bool, error) {
		resp, err := c.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return false, fmt.Errorf("%s lookup request failed: %w", c.name, err)
		}
		var res arrResource
		if err := decodeResponse(c.name, resp, &res); err != nil {
			if IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	})
}

// Ping verifies connectivity and the API key.
func (c *ArrClient) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	_, err := execute(c.cb, "ping", func() (struct{}, error) {
		resp, err := c.do(ctx, http.MethodGet, "/system/status", nil)
		if err != nil {
			return struct{}{}, fmt.Errorf("%s ping failed: %w", c.name, err)
		}
		return struct{}{}, decodeResponse(c.name, resp, nil)
	})
	return err
}
