// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package deletion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/tracearr/internal/database"
	"github.com/tomtom215/tracearr/internal/models"
	"github.com/tomtom215/tracearr/internal/tracker"
)

type nopHub struct{}

func (nopHub) Broadcast(eventType, requestID string, data interface{}) {}

type fakeTorrent struct {
	deleted []string
	remains bool
	err     error
}

func (f *fakeTorrent) DeleteTorrent(ctx context.Context, hash string, deleteFiles bool) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, hash)
	return nil
}

func (f *fakeTorrent) TorrentsInfo(ctx context.Context, hashes []string) ([]models.QBittorrentTorrent, error) {
	if f.remains {
		return []models.QBittorrentTorrent{{Hash: hashes[0]}}, nil
	}
	return nil, nil
}

type fakeRadarr struct {
	deleted []int64
	exists  bool
}

func (f *fakeRadarr) DeleteMovie(ctx context.Context, id int64, deleteFiles bool) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRadarr) MovieExists(ctx context.Context, id int64) (bool, error) {
	return f.exists, nil
}

type fakeSonarr struct {
	deleted []int64
	exists  bool
}

func (f *fakeSonarr) DeleteSeries(ctx context.Context, id int64, deleteFiles bool) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeSonarr) SeriesExists(ctx context.Context, id int64) (bool, error) {
	return f.exists, nil
}

type fakeShoko struct {
	deleted []int64
}

func (f *fakeShoko) DeleteFileRecord(ctx context.Context, fileID int64) error {
	f.deleted = append(f.deleted, fileID)
	return nil
}

func (f *fakeShoko) FileExists(ctx context.Context, fileID int64) (bool, error) {
	return false, nil
}

type fakeJellyfin struct {
	refreshes int
	item      *models.JellyfinItem
}

func (f *fakeJellyfin) RefreshLibrary(ctx context.Context) error {
	f.refreshes++
	return nil
}

func (f *fakeJellyfin) Item(ctx context.Context, itemID string) (*models.JellyfinItem, error) {
	return f.item, nil
}

type fakeJellyseerr struct {
	deleted []int64
	exists  bool
}

func (f *fakeJellyseerr) DeleteRequest(ctx context.Context, requestID int64) error {
	f.deleted = append(f.deleted, requestID)
	return nil
}

func (f *fakeJellyseerr) RequestExists(ctx context.Context, requestID int64) (bool, error) {
	return f.exists, nil
}

type fixture struct {
	o          *Orchestrator
	db         *database.DB
	tr         *tracker.Tracker
	torrent    *fakeTorrent
	radarr     *fakeRadarr
	sonarr     *fakeSonarr
	shoko      *fakeShoko
	jellyfin   *fakeJellyfin
	jellyseerr *fakeJellyseerr
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	if cfg.VerifyDelay == 0 {
		cfg.VerifyDelay = time.Millisecond
	}
	f := &fixture{
		db:         db,
		tr:         tracker.New(db, nopHub{}),
		torrent:    &fakeTorrent{},
		radarr:     &fakeRadarr{},
		sonarr:     &fakeSonarr{},
		shoko:      &fakeShoko{},
		jellyfin:   &fakeJellyfin{},
		jellyseerr: &fakeJellyseerr{},
	}
	f.o = New(db, nopHub{}, f.torrent, f.radarr, f.sonarr, f.shoko, f.jellyfin, f.jellyseerr, cfg)
	return f
}

func i64(n int64) *int64 { return &n }
func str(s string) *string { return &s }

func seedMovie(t *testing.T, f *fixture) *models.MediaRequest {
	t.Helper()
	req := &models.MediaRequest{
		MediaKind:    models.KindMovie,
		Title:        "The Matrix",
		Year:         1999,
		State:        models.StateAvailable,
		JellyseerrID: i64(7),
		TmdbID:       i64(603),
		RadarrID:     i64(11),
		TorrentHash:  str("abcdef1234567890abcdef1234567890abcdef12"),
		JellyfinID:   str("jf-1"),
	}
	require.NoError(t, f.tr.CreateRequest(context.Background(), req, models.ServiceJellyseerr, "request", ""))
	return req
}

func statusOf(t *testing.T, f *fixture, logID uuid.UUID, svc models.ServiceName) models.SyncStatus {
	t.Helper()
	log, err := f.db.GetDeletionLog(context.Background(), logID)
	require.NoError(t, err)
	var last models.SyncStatus
	for _, ev := range log.Events {
		if ev.Service == svc {
			last = ev.Status
		}
	}
	return last
}

func TestMovieDeletionHappyPath(t *testing.T) {
	f := newFixture(t, Config{Enabled: true})
	ctx := context.Background()
	req := seedMovie(t, f)

	log, err := f.o.Delete(ctx, req.ID, Actor{ID: "u1", Name: "admin"}, true)
	require.NoError(t, err)
	f.o.Wait()

	// Request row is gone immediately.
	_, err = f.db.GetRequest(ctx, req.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	got, err := f.db.GetDeletionLog(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletionComplete, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, "admin", got.ActorName)
	assert.Equal(t, models.DeletionSourceDashboard, got.Source)

	assert.Equal(t, []string{"abcdef1234567890abcdef1234567890abcdef12"}, f.torrent.deleted)
	assert.Equal(t, []int64{11}, f.radarr.deleted)
	assert.Empty(t, f.sonarr.deleted)
	assert.Equal(t, 1, f.jellyfin.refreshes)
	assert.Equal(t, []int64{7}, f.jellyseerr.deleted)

	assert.Equal(t, models.SyncVerified, statusOf(t, f, log.ID, models.ServiceQBittorrent))
	assert.Equal(t, models.SyncVerified, statusOf(t, f, log.ID, models.ServiceRadarr))
	assert.Equal(t, models.SyncNotApplicable, statusOf(t, f, log.ID, models.ServiceSonarr))
	assert.Equal(t, models.SyncNotApplicable, statusOf(t, f, log.ID, models.ServiceShoko))
	assert.Equal(t, models.SyncVerified, statusOf(t, f, log.ID, models.ServiceJellyfin))
	assert.Equal(t, models.SyncVerified, statusOf(t, f, log.ID, models.ServiceJellyseerr))
}

func TestDeleteFilesFalseSkipsShokoAndJellyfin(t *testing.T) {
	f := newFixture(t, Config{Enabled: true})
	ctx := context.Background()

	fileID := int64(42)
	req := &models.MediaRequest{
		MediaKind: models.KindTV,
		Title:     "Frieren",
		State:     models.StateAvailable,
		Anime:     models.AnimeYes,
		SonarrID:  i64(9),
		Episodes: []models.Episode{
			{Season: 1, Number: 1, State: models.StateAvailable, ShokoFileID: &fileID},
		},
	}
	require.NoError(t, f.tr.CreateRequest(ctx, req, models.ServiceJellyseerr, "request", ""))

	log, err := f.o.Delete(ctx, req.ID, Actor{Name: "admin"}, false)
	require.NoError(t, err)
	f.o.Wait()

	assert.Equal(t, models.SyncSkipped, statusOf(t, f, log.ID, models.ServiceShoko))
	assert.Equal(t, models.SyncSkipped, statusOf(t, f, log.ID, models.ServiceJellyfin))
	assert.Empty(t, f.shoko.deleted)
	assert.Equal(t, 0, f.jellyfin.refreshes)
	assert.Equal(t, []int64{9}, f.sonarr.deleted)
}

func TestDeletionSyncDisabledSkipsEverything(t *testing.T) {
	f := newFixture(t, Config{Enabled: false})
	ctx := context.Background()
	req := seedMovie(t, f)

	log, err := f.o.Delete(ctx, req.ID, Actor{Name: "admin"}, true)
	require.NoError(t, err)
	f.o.Wait()

	_, err = f.db.GetRequest(ctx, req.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	got, err := f.db.GetDeletionLog(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletionComplete, got.Status)

	assert.Empty(t, f.torrent.deleted)
	assert.Empty(t, f.radarr.deleted)
	assert.Empty(t, f.jellyseerr.deleted)
	assert.Equal(t, models.SyncSkipped, statusOf(t, f, log.ID, models.ServiceQBittorrent))
	assert.Equal(t, models.SyncSkipped, statusOf(t, f, log.ID, models.ServiceJellyseerr))
}

func TestFailedStepMarksLogIncomplete(t *testing.T) {
	f := newFixture(t, Config{Enabled: true})
	f.torrent.err = errors.New("connection refused")
	ctx := context.Background()
	req := seedMovie(t, f)

	log, err := f.o.Delete(ctx, req.ID, Actor{Name: "admin"}, true)
	require.NoError(t, err)
	f.o.Wait()

	got, err := f.db.GetDeletionLog(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletionIncomplete, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, models.SyncFailed, statusOf(t, f, log.ID, models.ServiceQBittorrent))
	// Later steps still run.
	assert.Equal(t, []int64{11}, f.radarr.deleted)
}

func TestVerificationFailureWhenEntityRemains(t *testing.T) {
	f := newFixture(t, Config{Enabled: true})
	f.radarr.exists = true
	ctx := context.Background()
	req := seedMovie(t, f)

	log, err := f.o.Delete(ctx, req.ID, Actor{Name: "admin"}, true)
	require.NoError(t, err)
	f.o.Wait()

	got, err := f.db.GetDeletionLog(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletionIncomplete, got.Status)
	assert.Equal(t, models.SyncFailed, statusOf(t, f, log.ID, models.ServiceRadarr))
}

func TestMissingCorrelationIDIsNotNeeded(t *testing.T) {
	f := newFixture(t, Config{Enabled: true})
	ctx := context.Background()

	req := &models.MediaRequest{
		MediaKind: models.KindMovie,
		Title:     "Orphan",
		State:     models.StateAvailable,
	}
	require.NoError(t, f.tr.CreateRequest(ctx, req, models.ServiceJellyseerr, "request", ""))

	log, err := f.o.Delete(ctx, req.ID, Actor{Name: "admin"}, true)
	require.NoError(t, err)
	f.o.Wait()

	assert.Equal(t, models.SyncNotApplicable, statusOf(t, f, log.ID, models.ServiceQBittorrent))
	assert.Equal(t, models.SyncNotNeeded, statusOf(t, f, log.ID, models.ServiceRadarr))
	assert.Equal(t, models.SyncNotNeeded, statusOf(t, f, log.ID, models.ServiceJellyseerr))
	assert.Empty(t, f.radarr.deleted)
}

func TestExternalDeletionPreconfirmsSource(t *testing.T) {
	f := newFixture(t, Config{Enabled: true})
	ctx := context.Background()
	req := seedMovie(t, f)

	full, err := f.db.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.NoError(t, f.o.RecordExternalDeletion(ctx, full, models.DeletionSourceRadarr, true))
	f.o.Wait()

	logs, err := f.db.ListDeletionLogs(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	log := logs[0]

	assert.Equal(t, models.DeletionSourceRadarr, log.Source)
	assert.Equal(t, "Radarr (external)", log.ActorName)
	// Radarr already deleted its copy; no API call is made but the
	// removal is still verified.
	assert.Empty(t, f.radarr.deleted)
	assert.Equal(t, models.SyncVerified, statusOf(t, f, log.ID, models.ServiceRadarr))
	// Everything else still fans out.
	assert.Equal(t, []int64{7}, f.jellyseerr.deleted)
}

func TestAnimeDeletionRemovesShokoRecords(t *testing.T) {
	f := newFixture(t, Config{Enabled: true})
	ctx := context.Background()

	fileID := int64(42)
	req := &models.MediaRequest{
		MediaKind: models.KindTV,
		Title:     "Frieren",
		State:     models.StateAvailable,
		Anime:     models.AnimeYes,
		SonarrID:  i64(9),
		Episodes: []models.Episode{
			{Season: 1, Number: 1, State: models.StateAvailable, ShokoFileID: &fileID},
		},
	}
	require.NoError(t, f.tr.CreateRequest(ctx, req, models.ServiceJellyseerr, "request", ""))

	log, err := f.o.Delete(ctx, req.ID, Actor{Name: "admin"}, true)
	require.NoError(t, err)
	f.o.Wait()

	assert.Equal(t, []int64{42}, f.shoko.deleted)
	assert.Equal(t, models.SyncVerified, statusOf(t, f, log.ID, models.ServiceShoko))
}
