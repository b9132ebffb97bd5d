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
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// JellyseerrClient talks to the Jellyseerr request manager API.
type JellyseerrClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[any]
}

// NewJellyseerrClient creates a Jellyseerr API client.
func NewJellyseerrClient(baseURL, apiKey string) *JellyseerrClient {
	return &JellyseerrClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cb:         newBreaker("jellyseerr-api"),
	}
}

// Enabled reports whether the client is configured.
func (c *JellyseerrClient) Enabled() bool { return c.baseURL != "" }

func (c *JellyseerrClient) do(ctx context.Context, method, path string, query url.Values) (*http.Response, error) {
	endpoint := c.baseURL + "/api/v1" + path
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

// JellyseerrRequest is one request record from the Jellyseerr API,
// reduced to what library sync and deletion need.
type JellyseerrRequest struct {
	ID     int64 `json:"id"`
	Status int   `json:"status"` // 1 pending, 2 approved, 3 declined
	Media  struct {
		ID        int64  `json:"id"`
		MediaType string `json:"mediaType"` // "movie" or "tv"
		TmdbID    int64  `json:"tmdbId"`
		TvdbID    int64  `json:"tvdbId"`
		Status    int    `json:"status"` // 5 = available
	} `json:"media"`
	RequestedBy struct {
		ID          int64  `json:"id"`
		DisplayName string `json:"displayName"`
	} `json:"requestedBy"`
	Seasons []struct {
		SeasonNumber int `json:"seasonNumber"`
	} `json:"seasons"`
	CreatedAt time.Time `json:"createdAt"`
}

type jellyseerrRequestsPage struct {
	PageInfo struct {
		Pages   int `json:"pages"`
		Results int `json:"results"`
	} `json:"pageInfo"`
	Results []JellyseerrRequest `json:"results"`
}

// Requests pages through all Jellyseerr requests. Used by the library
// sync backfill.
func (c *JellyseerrClient) Requests(ctx context.Context, take, skip int) ([]JellyseerrRequest, int, error) {
	if !c.Enabled() {
		return nil, 0, ErrNotConfigured
	}
	type result struct {
		requests []JellyseerrRequest
		total    int
	}
	res, err := execute(c.cb, "requests", func() (result, error) {
		q := url.Values{}
		q.Set("take", strconv.Itoa(take))
		q.Set("skip", strconv.Itoa(skip))
		q.Set("sort", "added")

		resp, err := c.do(ctx, http.MethodGet, "/request", q)
		if err != nil {
			return result{}, fmt.Errorf("jellyseerr requests request failed: %w", err)
		}
		var page jellyseerrRequestsPage
		if err := decodeResponse("jellyseerr", resp, &page); err != nil {
			return result{}, err
		}
		return result{requests: page.Results, total: page.PageInfo.Results}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return res.requests, res.total, nil
}

// DeleteRequest removes a request record from Jellyseerr so the media
// becomes re-requestable there. 404 means it was already gone.
func (c *JellyseerrClient) DeleteRequest(ctx context.Context, requestID int64) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	_, err := execute(c.cb, "delete_request", func() (struct{}, error) {
		resp, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/request/%d", requestID), nil)
		if err != nil {
			return struct{}{}, fmt.Errorf("jellyseerr delete request failed: %w", err)
		}
		return struct{}{}, decodeResponse("jellyseerr", resp, nil, http.StatusOK, http.StatusNoContent)
	})
	return err
}

// DeleteMedia clears Jellyseerr's availability record for a media
// item. Without this, Jellyseerr keeps showing deleted media as
// available and refuses re-requests.
func (c *JellyseerrClient) DeleteMedia(ctx context.Context, mediaID int64) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	_, err := execute(c.cb, "delete_media", func() (struct{}, error) {
		resp, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/media/%d", mediaID), nil)
		if err != nil {
			return struct{}{}, fmt.Errorf("jellyseerr delete media failed: %w", err)
		}
		return struct{}{}, decodeResponse("jellyseerr", resp, nil, http.StatusOK, http.StatusNoContent)
	})
	return err
}

// RequestExists reports whether a request record is still present.
// The deletion verifier uses this to confirm removal took effect.
func (c *JellyseerrClient) RequestExists(ctx context.Context, requestID int64) (bool, error) {
	if !c.Enabled() {
		return false, ErrNotConfigured
	}
	return execute(c.cb, "request_exists", func() (bool, error) {
		resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/request/%d", requestID), nil)
		if err != nil {
			return false, fmt.Errorf("jellyseerr request lookup failed: %w", err)
		}
		if err := decodeResponse("jellyseerr", resp, nil); err != nil {
			if IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	})
}

// Ping verifies connectivity and the API key.
func (c *JellyseerrClient) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	_, err := execute(c.cb, "ping", func() (struct{}, error) {
		resp, err := c.do(ctx, http.MethodGet, "/status", nil)
		if err != nil {
			return struct{}{}, fmt.Errorf("jellyseerr ping failed: %w", err)
		}
		return struct{}{}, decodeResponse("jellyseerr", resp, nil)
	})
	return err
}
