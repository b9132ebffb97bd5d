// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

// Package correlator resolves incoming service events to tracked
// requests. Every lookup runs against the active set only: requests
// already AVAILABLE or FAILED never absorb new events, which is what
// makes re-requesting previously completed media work.
package correlator

import (
	"context"
	"errors"
	"strings"

	"github.com/tomtom215/tracearr/internal/database"
	"github.com/tomtom215/tracearr/internal/logging"
	"github.com/tomtom215/tracearr/internal/models"
)

var (
	// ErrNoMatch means no active request correlates with the event.
	// Callers treat this as "not ours" and drop the event quietly.
	ErrNoMatch = errors.New("no matching active request")
	// ErrAmbiguous means several active requests matched equally well on
	// a weak key. The event is dropped rather than guessed at.
	ErrAmbiguous = errors.New("multiple active requests match")
)

// Keys carries every identifier an incoming event may provide. Zero
// values mean the event did not carry that key.
type Keys struct {
	TorrentHash  string
	JellyseerrID int64
	TmdbID       int64
	TvdbID       int64
	Path         string
	Title        string
	Year         int
	Kind         models.MediaKind
}

// Correlator matches service events to tracked requests.
type Correlator struct {
	db         *database.DB
	pathPrefix string
}

// New creates a Correlator. pathPrefix is stripped from event paths
// before comparison to bridge differing container mount points.
func New(db *database.DB, pathPrefix string) *Correlator {
	return &Correlator{db: db, pathPrefix: pathPrefix}
}

// Resolve finds the active request for the given keys, trying the
// strongest identifier first:
//
//	torrent hash > request-manager ID > TMDB ID > TVDB ID > path > title+year
//
// Strong keys (hash, IDs) break ties by newest request. Weak keys
// (path, title) return ErrAmbiguous on ties instead. Title is only
// consulted when the event carried no upstream identifier at all: an
// event that named the media precisely and matched nothing must not be
// absorbed by a same-titled request for different media.
func (c *Correlator) Resolve(ctx context.Context, keys Keys) (*models.MediaRequest, error) {
	upstream := keys.TorrentHash != "" || keys.JellyseerrID != 0 || keys.TmdbID != 0 || keys.TvdbID != 0

	if keys.TorrentHash != "" {
		matches, err := c.db.ActiveByHash(ctx, keys.TorrentHash)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			return c.newest(matches, "torrent_hash"), nil
		}
	}

	if keys.JellyseerrID != 0 {
		matches, err := c.db.ActiveByJellyseerrID(ctx, keys.JellyseerrID)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			return c.newest(matches, "jellyseerr_id"), nil
		}
	}

	if keys.TmdbID != 0 && keys.Kind != "" {
		matches, err := c.db.ActiveByTmdbID(ctx, keys.TmdbID, keys.Kind)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			return c.newest(matches, "tmdb_id"), nil
		}
	}

	if keys.TvdbID != 0 && keys.Kind != "" {
		matches, err := c.db.ActiveByTvdbID(ctx, keys.TvdbID, keys.Kind)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			return c.newest(matches, "tvdb_id"), nil
		}
	}

	if keys.Path != "" {
		req, err := c.resolveByPath(ctx, keys.Path)
		if err == nil || !errors.Is(err, ErrNoMatch) {
			return req, err
		}
	}

	if keys.Title != "" && !upstream {
		return c.resolveByTitle(ctx, keys.Title, keys.Year, keys.Kind)
	}

	return nil, ErrNoMatch
}

// ResolveEpisode finds the specific episode a file-level event refers
// to, along with its parent request. Matching is by path.
func (c *Correlator) ResolveEpisode(ctx context.Context, path string) (*models.MediaRequest, *models.Episode, error) {
	if path == "" {
		return nil, nil, ErrNoMatch
	}
	path = c.normalizePath(path)

	requests, err := c.db.ListActive(ctx)
	if err != nil {
		return nil, nil, err
	}

	for i := range requests {
		for j := range requests[i].Episodes {
			ep := &requests[i].Episodes[j]
			if ep.FinalPath == nil {
				continue
			}
			if pathsMatch(c.normalizePath(*ep.FinalPath), path) {
				return &requests[i], ep, nil
			}
		}
	}
	return nil, nil, ErrNoMatch
}

// resolveByPath scans active requests comparing stored final paths
// against the event path. Weak key; ambiguity is an error.
func (c *Correlator) resolveByPath(ctx context.Context, path string) (*models.MediaRequest, error) {
	path = c.normalizePath(path)

	requests, err := c.db.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	var matched []*models.MediaRequest
	for i := range requests {
		req := &requests[i]
		if req.FinalPath != nil && pathsMatch(c.normalizePath(*req.FinalPath), path) {
			matched = append(matched, req)
			continue
		}
		for j := range req.Episodes {
			ep := &req.Episodes[j]
			if ep.FinalPath != nil && pathsMatch(c.normalizePath(*ep.FinalPath), path) {
				matched = append(matched, req)
				break
			}
		}
	}

	switch len(matched) {
	case 0:
		return nil, ErrNoMatch
	case 1:
		return matched[0], nil
	default:
		logging.Warn().Str("path", path).Int("matches", len(matched)).
			Msg("path correlates with multiple active requests, dropping event")
		return nil, ErrAmbiguous
	}
}

// resolveByTitle is the last-resort fallback for events carrying only
// display metadata. Case-insensitive title equality; the year must
// match when both sides have one.
func (c *Correlator) resolveByTitle(ctx context.Context, title string, year int, kind models.MediaKind) (*models.MediaRequest, error) {
	requests, err := c.db.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	title = strings.ToLower(strings.TrimSpace(title))
	var matched []*models.MediaRequest
	for i := range requests {
		req := &requests[i]
		if kind != "" && req.MediaKind != kind {
			continue
		}
		if strings.ToLower(strings.TrimSpace(req.Title)) != title {
			continue
		}
		if year != 0 && req.Year != 0 && req.Year != year {
			continue
		}
		matched = append(matched, req)
	}

	switch len(matched) {
	case 0:
		return nil, ErrNoMatch
	case 1:
		return matched[0], nil
	default:
		logging.Warn().Str("title", title).Int("matches", len(matched)).
			Msg("title correlates with multiple active requests, dropping event")
		return nil, ErrAmbiguous
	}
}

func (c *Correlator) newest(matches []models.MediaRequest, key string) *models.MediaRequest {
	// Queries order newest-first already.
	if len(matches) > 1 {
		logging.Debug().Str("key", key).Int("matches", len(matches)).
			Str("picked", matches[0].ID.String()).
			Msg("strong key matched multiple active requests, picking newest")
	}
	return &matches[0]
}

func (c *Correlator) normalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if c.pathPrefix != "" {
		p = strings.TrimPrefix(p, c.pathPrefix)
	}
	return strings.TrimPrefix(p, "/")
}
