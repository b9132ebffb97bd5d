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

	"github.com/tomtom215/tracearr/internal/models"
)

// JellyfinClient talks to the Jellyfin media server REST API.
//
// API Reference: https://api.jellyfin.org/
type JellyfinClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[any]
}

// NewJellyfinClient creates a Jellyfin API client. An empty baseURL
// produces a disabled client whose calls return ErrNotConfigured.
func NewJellyfinClient(baseURL, apiKey string) *JellyfinClient {
	return &JellyfinClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cb:         newBreaker("jellyfin-api"),
	}
}

// Enabled reports whether the client is configured.
func (c *JellyfinClient) Enabled() bool { return c.baseURL != "" }

func (c *JellyfinClient) do(ctx context.Context, method, path string, query url.Values) (*http.Response, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := newRequest(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf(`MediaBrowser Token="%s"`, c.apiKey))
	return c.httpClient.Do(req)
}

// ItemsByProvider searches the library for items carrying the given
// provider ID (e.g. "Tmdb" or "Tvdb"). includeItemTypes is "Movie" or
// "Series".
func (c *JellyfinClient) ItemsByProvider(ctx context.Context, provider string, providerID int64, includeItemTypes string) ([]models.JellyfinItem, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	return execute(c.cb, "items_by_provider", func() ([]models.JellyfinItem, error) {
		q := url.Values{}
		q.Set("AnyProviderIdEquals", fmt.Sprintf("%s.%d", provider, providerID))
		q.Set("IncludeItemTypes", includeItemTypes)
		q.Set("Recursive", "true")
		q.Set("Fields", "ProviderIds,Path,MediaSources")

		resp, err := c.do(ctx, http.MethodGet, "/Items", q)
		if err != nil {
			return nil, fmt.Errorf("jellyfin items request failed: %w", err)
		}
		var page models.JellyfinItemsPage
		if err := decodeResponse("jellyfin", resp, &page); err != nil {
			return nil, err
		}
		return page.Items, nil
	})
}

// ItemByPath searches the library for the item backed by a given path.
func (c *JellyfinClient) ItemByPath(ctx context.Context, path string) (*models.JellyfinItem, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	return execute(c.cb, "item_by_path", func() (*models.JellyfinItem, error) {
		q := url.Values{}
		q.Set("Path", path)
		q.Set("Recursive", "true")
		q.Set("Fields", "ProviderIds,Path,MediaSources")

		resp, err := c.do(ctx, http.MethodGet, "/Items", q)
		if err != nil {
			return nil, fmt.Errorf("jellyfin items request failed: %w", err)
		}
		var page models.JellyfinItemsPage
		if err := decodeResponse("jellyfin", resp, &page); err != nil {
			return nil, err
		}
		if len(page.Items) == 0 {
			return nil, nil
		}
		return &page.Items[0], nil
	})
}

// Item fetches one library item by ID. Returns nil without error when
// the item no longer exists.
func (c *JellyfinClient) Item(ctx context.Context, itemID string) (*models.JellyfinItem, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	return execute(c.cb, "item", func() (*models.JellyfinItem, error) {
		q := url.Values{}
		q.Set("Ids", itemID)
		q.Set("Fields", "ProviderIds,Path,MediaSources")

		resp, err := c.do(ctx, http.MethodGet, "/Items", q)
		if err != nil {
			return nil, fmt.Errorf("jellyfin item request failed: %w", err)
		}
		var page models.JellyfinItemsPage
		if err := decodeResponse("jellyfin", resp, &page); err != nil {
			return nil, err
		}
		if len(page.Items) == 0 {
			return nil, nil
		}
		return &page.Items[0], nil
	})
}

// Items pages through the whole library of a given item type. Used by
// the library sync backfill.
func (c *JellyfinClient) Items(ctx context.Context, includeItemTypes string, startIndex, limit int) (*models.JellyfinItemsPage, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	return execute(c.cb, "items", func() (*models.JellyfinItemsPage, error) {
		q := url.Values{}
		q.Set("IncludeItemTypes", includeItemTypes)
		q.Set("Recursive", "true")
		q.Set("Fields", "ProviderIds,Path,MediaSources,ProductionYear")
		q.Set("StartIndex", strconv.Itoa(startIndex))
		q.Set("Limit", strconv.Itoa(limit))

		resp, err := c.do(ctx, http.MethodGet, "/Items", q)
		if err != nil {
			return nil, fmt.Errorf("jellyfin items request failed: %w", err)
		}
		var page models.JellyfinItemsPage
		if err := decodeResponse("jellyfin", resp, &page); err != nil {
			return nil, err
		}
		return &page, nil
	})
}

// SearchByName searches the library by title, optionally constrained
// to a production year. Last rung of the verifier's lookup ladder.
func (c *JellyfinClient) SearchByName(ctx context.Context, name string, year int) ([]models.JellyfinItem, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	return execute(c.cb, "search_by_name", func() ([]models.JellyfinItem, error) {
		q := url.Values{}
		q.Set("SearchTerm", name)
		q.Set("IncludeItemTypes", "Movie,Series")
		q.Set("Recursive", "true")
		q.Set("Fields", "ProviderIds,Path,MediaSources,ProductionYear")
		if year > 0 {
			q.Set("Years", strconv.Itoa(year))
		}

		resp, err := c.do(ctx, http.MethodGet, "/Items", q)
		if err != nil {
			return nil, fmt.Errorf("jellyfin search request failed: %w", err)
		}
		var page models.JellyfinItemsPage
		if err := decodeResponse("jellyfin", resp, &page); err != nil {
			return nil, err
		}
		return page.Items, nil
	})
}

// RefreshLibrary triggers a full library rescan.
func (c *JellyfinClient) RefreshLibrary(ctx context.Context) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	_, err := execute(c.cb, "refresh_library", func() (struct{}, error) {
		resp, err := c.do(ctx, http.MethodPost, "/Library/Refresh", nil)
		if err != nil {
			return struct{}{}, fmt.Errorf("jellyfin refresh request failed: %w", err)
		}
		return struct{}{}, decodeResponse("jellyfin", resp, nil, http.StatusNoContent, http.StatusOK)
	})
	return err
}

// UserByToken resolves the Jellyfin user owning an access token. The
// admin gate uses this to authenticate dashboard tokens; the token is
// never logged.
func (c *JellyfinClient) UserByToken(ctx context.Context, token string) (*models.JellyfinUser, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	return execute(c.cb, "user_by_token", func() (*models.JellyfinUser, error) {
		req, err := newRequest(ctx, http.MethodGet, c.baseURL+"/Users/Me", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", fmt.Sprintf(`MediaBrowser Token="%s"`, token))

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("jellyfin users/me request failed: %w", err)
		}
		var user models.JellyfinUser
		if err := decodeResponse("jellyfin", resp, &user); err != nil {
			return nil, err
		}
		return &user, nil
	})
}

// Ping verifies connectivity.
func (c *JellyfinClient) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	_, err := execute(c.cb, "ping", func() (struct{}, error) {
		resp, err := c.do(ctx, http.MethodGet, "/System/Info/Public", nil)
		if err != nil {
			return struct{}{}, fmt.Errorf("jellyfin ping failed: %w", err)
		}
		return struct{}{}, decodeResponse("jellyfin", resp, nil)
	})
	return err
}
