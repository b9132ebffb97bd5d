// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/tracearr/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func int64Ptr(v int64) *int64 { return &v }
func strPtr(s string) *string { return &s }

func makeRequest(t *testing.T, db *DB, mutate func(*models.MediaRequest)) *models.MediaRequest {
	t.Helper()
	req := &models.MediaRequest{
		Title:       "Dune: Part Two",
		Year:        2024,
		MediaKind:   models.KindMovie,
		Anime:       models.AnimeNo,
		TmdbID:      int64Ptr(693134),
		RequestedBy: "alice",
		Source:      models.SourceWebhook,
		State:       models.StateRequested,
	}
	if mutate != nil {
		mutate(req)
	}
	require.NoError(t, db.InsertRequest(context.Background(), db.Conn(), req))
	return req
}

func TestRequestCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	req := makeRequest(t, db, nil)
	require.NotEqual(t, uuid.Nil, req.ID)

	got, err := db.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dune: Part Two", got.Title)
	assert.Equal(t, models.StateRequested, got.State)
	require.NotNil(t, got.TmdbID)
	assert.Equal(t, int64(693134), *got.TmdbID)
	assert.Nil(t, got.TorrentHash)

	got.State = models.StateApproved
	got.TorrentHash = strPtr("aabbccddeeff00112233445566778899aabbccdd")
	require.NoError(t, db.UpdateRequest(ctx, db.Conn(), got))

	got2, err := db.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateApproved, got2.State)
	require.NotNil(t, got2.TorrentHash)

	_, err = db.GetRequest(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRequestNotFound(t *testing.T) {
	db := newTestDB(t)

	req := &models.MediaRequest{
		ID:        uuid.New(),
		Title:     "ghost",
		MediaKind: models.KindMovie,
		State:     models.StateRequested,
		CreatedAt: time.Now().UTC(),
	}
	err := db.UpdateRequest(context.Background(), db.Conn(), req)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRequestsActiveOnly(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	makeRequest(t, db, func(r *models.MediaRequest) { r.Title = "active" })
	makeRequest(t, db, func(r *models.MediaRequest) {
		r.Title = "done"
		r.State = models.StateAvailable
	})
	makeRequest(t, db, func(r *models.MediaRequest) {
		r.Title = "dead"
		r.State = models.StateFailed
	})

	all, total, err := db.ListRequests(ctx, 50, 0, false)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, all, 3)

	active, total, err := db.ListRequests(ctx, 50, 0, true)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, active, 1)
	assert.Equal(t, "active", active[0].Title)
}

func TestEpisodeRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	req := makeRequest(t, db, func(r *models.MediaRequest) {
		r.MediaKind = models.KindTV
		r.TvdbID = int64Ptr(371572)
	})

	eps := []models.Episode{
		{RequestID: req.ID, Season: 1, Number: 2, Title: "Part 2", State: models.StateGrabbing},
		{RequestID: req.ID, Season: 1, Number: 1, Title: "Part 1", State: models.StateGrabbing},
	}
	require.NoError(t, db.InsertEpisodes(ctx, db.Conn(), eps))

	got, err := db.GetEpisodes(ctx, db.Conn(), req.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Number, "episodes ordered by season, number")
	assert.Equal(t, 2, got[1].Number)

	got[0].State = models.StateDownloading
	got[0].TorrentHash = strPtr("ffeeddccbbaa00112233445566778899aabbccdd")
	require.NoError(t, db.UpdateEpisode(ctx, db.Conn(), &got[0]))

	again, err := db.GetEpisodes(ctx, db.Conn(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateDownloading, again[0].State)
}

func TestActiveByHashMatchesEpisodes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const hash = "0123456789abcdef0123456789abcdef01234567"

	req := makeRequest(t, db, func(r *models.MediaRequest) {
		r.MediaKind = models.KindTV
		r.State = models.StateDownloading
	})
	eps := []models.Episode{
		{RequestID: req.ID, Season: 1, Number: 1, State: models.StateDownloading, TorrentHash: strPtr(hash)},
	}
	require.NoError(t, db.InsertEpisodes(ctx, db.Conn(), eps))

	// Uppercase input must still match.
	found, err := db.ActiveByHash(ctx, "0123456789ABCDEF0123456789ABCDEF01234567")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, req.ID, found[0].ID)
}

func TestActiveSetExcludesTerminal(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	makeRequest(t, db, func(r *models.MediaRequest) {
		r.JellyseerrID = int64Ptr(42)
		r.State = models.StateAvailable
	})
	fresh := makeRequest(t, db, func(r *models.MediaRequest) {
		r.JellyseerrID = int64Ptr(42)
		r.State = models.StateApproved
	})

	found, err := db.ActiveByJellyseerrID(ctx, 42)
	require.NoError(t, err)
	require.Len(t, found, 1, "completed request must not absorb the re-request")
	assert.Equal(t, fresh.ID, found[0].ID)
}

func TestActiveByProviderIDRespectsKind(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	makeRequest(t, db, func(r *models.MediaRequest) {
		r.MediaKind = models.KindTV
		r.TmdbID = int64Ptr(100)
	})

	found, err := db.ActiveByTmdbID(ctx, 100, models.KindMovie)
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = db.ActiveByTmdbID(ctx, 100, models.KindTV)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestStaleInStates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	req := makeRequest(t, db, func(r *models.MediaRequest) {
		r.State = models.StateDownloaded
	})
	// Backdate updated_at past the staleness window.
	_, err := db.Conn().ExecContext(ctx,
		`UPDATE media_requests SET updated_at = now() - INTERVAL 10 MINUTE WHERE id = ?`, req.ID)
	require.NoError(t, err)

	makeRequest(t, db, func(r *models.MediaRequest) { r.State = models.StateDownloaded })

	stale, err := db.StaleInStates(ctx, []models.State{models.StateDownloaded, models.StateImporting}, 300)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, req.ID, stale[0].ID)
}

func TestTimelineAppendOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	req := makeRequest(t, db, nil)

	base := time.Now().UTC().Add(-time.Minute)
	events := []models.TimelineEvent{
		{RequestID: req.ID, ToState: models.StateRequested, Service: models.ServiceJellyseerr, EventType: "request", IsNew: true, CreatedAt: base},
		{RequestID: req.ID, FromState: models.StateRequested, ToState: models.StateApproved, Service: models.ServiceJellyseerr, EventType: "approved", CreatedAt: base.Add(time.Second)},
		{RequestID: req.ID, FromState: models.StateApproved, ToState: models.StateGrabbing, Service: models.ServiceRadarr, EventType: "grab", CreatedAt: base.Add(2 * time.Second)},
	}
	for i := range events {
		require.NoError(t, db.AppendTimeline(ctx, db.Conn(), &events[i]))
	}

	got, err := db.GetTimeline(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].IsNew)
	assert.Equal(t, models.StateGrabbing, got[2].ToState)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		req := &models.MediaRequest{
			Title:     "rolled back",
			MediaKind: models.KindMovie,
			State:     models.StateRequested,
		}
		if err := db.InsertRequest(ctx, tx, req); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	_, total, err := db.ListRequests(ctx, 10, 0, false)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestDeleteRequestCascade(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	req := makeRequest(t, db, func(r *models.MediaRequest) { r.MediaKind = models.KindTV })
	require.NoError(t, db.InsertEpisodes(ctx, db.Conn(), []models.Episode{
		{RequestID: req.ID, Season: 1, Number: 1, State: models.StateAvailable},
	}))
	require.NoError(t, db.AppendTimeline(ctx, db.Conn(), &models.TimelineEvent{
		RequestID: req.ID, ToState: models.StateRequested, Service: models.ServiceJellyseerr, EventType: "request",
	}))

	require.NoError(t, db.WithTx(ctx, func(tx *sql.Tx) error {
		return db.DeleteRequestCascade(ctx, tx, req.ID)
	}))

	_, err := db.GetRequest(ctx, req.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	eps, err := db.GetEpisodes(ctx, db.Conn(), req.ID)
	require.NoError(t, err)
	assert.Empty(t, eps)

	tl, err := db.GetTimeline(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, tl)
}

func TestDeletionLogLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	dl := &models.DeletionLog{
		RequestID:   uuid.New(),
		Title:       "Old Movie",
		MediaKind:   models.KindMovie,
		Year:        2019,
		Anime:       models.AnimeNo,
		RadarrID:    int64Ptr(17),
		Source:      models.DeletionSourceDashboard,
		ActorID:     "admin-1",
		ActorName:   "Alice",
		DeleteFiles: true,
		Status:      models.DeletionInProgress,
	}
	require.NoError(t, db.InsertDeletionLog(ctx, db.Conn(), dl))

	for _, ev := range []models.DeletionSyncEvent{
		{LogID: dl.ID, Service: models.ServiceRadarr, Status: models.SyncPending},
		{LogID: dl.ID, Service: models.ServiceSonarr, Status: models.SyncNotApplicable},
		{LogID: dl.ID, Service: models.ServiceRadarr, Status: models.SyncConfirmed, Detail: "movie 17 removed"},
	} {
		e := ev
		e.CreatedAt = time.Now().UTC().Add(time.Duration(len(dl.Events)) * time.Millisecond)
		require.NoError(t, db.InsertSyncEvent(ctx, db.Conn(), &e))
		time.Sleep(2 * time.Millisecond)
	}

	latest, err := db.LatestSyncStatus(ctx, dl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncConfirmed, latest[models.ServiceRadarr])
	assert.Equal(t, models.SyncNotApplicable, latest[models.ServiceSonarr])

	require.NoError(t, db.CompleteDeletionLog(ctx, dl.ID, models.DeletionComplete))

	got, err := db.GetDeletionLog(ctx, dl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletionComplete, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Len(t, got.Events, 3)

	logs, err := db.ListDeletionLogs(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Len(t, logs[0].Events, 3)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := newTestDB(t)
	// New already ran migrations once; a second run must be a no-op.
	require.NoError(t, db.runVersionedMigrations())

	applied, err := db.getAppliedMigrations(context.Background())
	require.NoError(t, err)
	assert.Len(t, applied, len(db.getMigrations()))
}
