// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

// Package verifier rescues requests that went quiet after download.
// Webhooks get lost, imports race library scans, and anime matching can
// finish without a push event; the verifier periodically checks the
// media server directly for requests stuck in a post-download state and
// completes the ones the library already has.
package verifier

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/tracearr/internal/clients"
	"github.com/tomtom215/tracearr/internal/database"
	"github.com/tomtom215/tracearr/internal/lifecycle"
	"github.com/tomtom215/tracearr/internal/logging"
	"github.com/tomtom215/tracearr/internal/metrics"
	"github.com/tomtom215/tracearr/internal/models"
	"github.com/tomtom215/tracearr/internal/tracker"
)

// watchedStates are the post-download states the verifier inspects.
var watchedStates = []models.State{
	models.StateDownloaded,
	models.StateImporting,
	models.StateAnimeMatching,
}

// MediaLookup is the media-server surface the verifier depends on.
// Implemented by clients.JellyfinClient.
type MediaLookup interface {
	ItemsByProvider(ctx context.Context, provider string, providerID int64, includeItemTypes string) ([]models.JellyfinItem, error)
	SearchByName(ctx context.Context, name string, year int) ([]models.JellyfinItem, error)
	RefreshLibrary(ctx context.Context) error
}

// Rescanner asks the anime service to re-examine a file.
// Implemented by clients.ShokoClient; nil when Shoko is disabled.
type Rescanner interface {
	RescanFile(ctx context.Context, fileID int64) error
}

// Verifier runs the rescue loop.
type Verifier struct {
	db       *database.DB
	jellyfin MediaLookup
	shoko    Rescanner
	tracker  *tracker.Tracker

	interval      time.Duration
	staleness     time.Duration
	vfsDelay      time.Duration
	rescanLimiter *rate.Limiter
}

// Config carries the verifier's tunables.
type Config struct {
	Interval             time.Duration
	StalenessWindow      time.Duration
	VFSRegenerationDelay time.Duration
	RescanRatePerMinute  int
}

// New creates a Verifier. shoko may be nil.
func New(db *database.DB, jellyfin MediaLookup, shoko Rescanner, tr *tracker.Tracker, cfg Config) *Verifier {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = 5 * time.Minute
	}
	if cfg.RescanRatePerMinute <= 0 {
		cfg.RescanRatePerMinute = 2
	}
	return &Verifier{
		db:            db,
		jellyfin:      jellyfin,
		shoko:         shoko,
		tracker:       tr,
		interval:      cfg.Interval,
		staleness:     cfg.StalenessWindow,
		vfsDelay:      cfg.VFSRegenerationDelay,
		rescanLimiter: rate.NewLimiter(rate.Limit(float64(cfg.RescanRatePerMinute)/60.0), 1),
	}
}

// RunWithContext runs verification cycles until the context is
// canceled. Designed to run under suture supervision.
func (v *Verifier) RunWithContext(ctx context.Context) error {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := v.cycle(ctx); err != nil && ctx.Err() == nil {
			logging.Warn().Err(err).Msg("verifier cycle failed")
		}
	}
}

// cycle inspects every stale request once. At most one library rescan
// is triggered per cycle regardless of how many requests are waiting on
// it; the refresh is idempotent and global.
func (v *Verifier) cycle(ctx context.Context) error {
	stale, err := v.db.StaleInStates(ctx, watchedStates, int(v.staleness.Seconds()))
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	rescanRequested := false
	for i := range stale {
		req := &stale[i]

		if !rescanRequested && (req.State == models.StateImporting || req.State == models.StateAnimeMatching) {
			if err := v.jellyfin.RefreshLibrary(ctx); err != nil && !errors.Is(err, clients.ErrNotConfigured) {
				logging.Warn().Err(err).Msg("library refresh failed")
			}
			rescanRequested = true
		}

		if err := v.verify(ctx, req); err != nil {
			logging.Warn().Err(err).
				Str("request_id", req.ID.String()).
				Str("title", req.Title).
				Msg("verification failed")
			metrics.VerifierRescuesTotal.WithLabelValues("failed").Inc()
		}
	}
	return nil
}

// verify runs the lookup ladder for one request and completes it when
// the library holds a playable item.
func (v *Verifier) verify(ctx context.Context, stale *models.MediaRequest) error {
	// Reload with episodes; the staleness query returns bare rows.
	req, err := v.db.GetRequest(ctx, stale.ID)
	if err != nil {
		return err
	}

	item, err := v.lookup(ctx, req)
	if err != nil {
		if errors.Is(err, clients.ErrNotConfigured) {
			return nil
		}
		return err
	}
	if item == nil {
		// ANIME_MATCHING can also be unstuck by poking Shoko directly.
		v.maybeRescan(ctx, req)
		metrics.VerifierRescuesTotal.WithLabelValues("unchanged").Inc()
		return nil
	}

	// Grace period: the library can list an item before its virtual
	// filesystem entry is actually streamable.
	if v.vfsDelay > 0 && time.Since(req.UpdatedAt) < v.staleness+v.vfsDelay {
		metrics.VerifierRescuesTotal.WithLabelValues("unchanged").Inc()
		return nil
	}

	logging.Info().
		Str("request_id", req.ID.String()).
		Str("title", req.Title).
		Str("jellyfin_id", item.ID).
		Str("state", string(req.State)).
		Msg("verifier found request in library")

	if req.MediaKind == models.KindTV && len(req.Episodes) > 0 {
		if err := v.tracker.Transition(ctx, req.ID, tracker.Change{
			To: req.State, Service: models.ServiceVerifier, EventType: "verified",
			Mutate: func(r *models.MediaRequest) { r.JellyfinID = &item.ID },
		}); err != nil {
			return err
		}
		if err := v.tracker.MarkAllEpisodesAvailable(ctx, req.ID, models.ServiceVerifier, "verified in library"); err != nil {
			return err
		}
	} else {
		// A DOWNLOADED movie that shows up in the library was imported
		// without the import webhook arriving; step through the import
		// state so the transition stays legal.
		if req.State == models.StateDownloaded {
			if err := v.tracker.Transition(ctx, req.ID, tracker.Change{
				To: lifecycle.ImportTarget(req.IsAnime()), Service: models.ServiceVerifier, EventType: "verified",
			}); err != nil {
				return err
			}
		}
		if err := v.tracker.Transition(ctx, req.ID, tracker.Change{
			To: models.StateAvailable, Service: models.ServiceVerifier, EventType: "verified",
			Detail: "verified in library",
			Mutate: func(r *models.MediaRequest) { r.JellyfinID = &item.ID },
		}); err != nil {
			return err
		}
	}
	metrics.VerifierRescuesTotal.WithLabelValues("rescued").Inc()
	return nil
}

// lookup walks the media-server ladder. Only playable items count; a
// metadata stub without media sources is a known false positive.
func (v *Verifier) lookup(ctx context.Context, req *models.MediaRequest) (*models.JellyfinItem, error) {
	type rung struct {
		provider string
		id       *int64
		itemType string
	}

	var ladder []rung
	if req.MediaKind == models.KindTV {
		ladder = append(ladder, rung{"Tvdb", req.TvdbID, "Series"})
	} else {
		ladder = append(ladder, rung{"Tmdb", req.TmdbID, "Movie"})
	}
	// Anime movies are routinely recategorized as TV specials by the
	// anime matcher, so a movie can surface as a Series.
	ladder = append(ladder,
		rung{"Tmdb", req.TmdbID, "Series"},
		rung{"Tmdb", req.TmdbID, ""},
	)

	for _, r := range ladder {
		if r.id == nil || *r.id == 0 {
			continue
		}
		items, err := v.jellyfin.ItemsByProvider(ctx, r.provider, *r.id, r.itemType)
		if err != nil {
			return nil, err
		}
		if item := firstPlayable(items); item != nil {
			return item, nil
		}
	}

	items, err := v.jellyfin.SearchByName(ctx, req.Title, req.Year)
	if err != nil {
		return nil, err
	}
	return firstPlayable(items), nil
}

// maybeRescan asks Shoko to re-examine stuck anime files, rate-limited
// so a backlog never hammers the anime service.
func (v *Verifier) maybeRescan(ctx context.Context, req *models.MediaRequest) {
	if v.shoko == nil || req.State != models.StateAnimeMatching {
		return
	}
	for i := range req.Episodes {
		ep := &req.Episodes[i]
		if ep.State != models.StateAnimeMatching || ep.ShokoFileID == nil {
			continue
		}
		if !v.rescanLimiter.Allow() {
			return
		}
		if err := v.shoko.RescanFile(ctx, *ep.ShokoFileID); err != nil {
			if !errors.Is(err, clients.ErrNotConfigured) {
				logging.Warn().Err(err).Int64("shoko_file_id", *ep.ShokoFileID).Msg("shoko rescan failed")
			}
			return
		}
		metrics.VerifierRescuesTotal.WithLabelValues("rescan_triggered").Inc()
	}
}

func firstPlayable(items []models.JellyfinItem) *models.JellyfinItem {
	for i := range items {
		if items[i].IsPlayable() {
			return &items[i]
		}
	}
	return nil
}
