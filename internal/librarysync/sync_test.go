// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package librarysync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/tracearr/internal/clients"
	"github.com/tomtom215/tracearr/internal/database"
	"github.com/tomtom215/tracearr/internal/models"
	"github.com/tomtom215/tracearr/internal/tracker"
)

type nopHub struct{}

func (nopHub) Broadcast(eventType, requestID string, data interface{}) {}

type fakeLibrary struct {
	movies []models.JellyfinItem
	series []models.JellyfinItem
}

func (f *fakeLibrary) Items(ctx context.Context, includeItemTypes string, startIndex, limit int) (*models.JellyfinItemsPage, error) {
	src := f.movies
	if includeItemTypes == "Series" {
		src = f.series
	}
	end := startIndex + limit
	if end > len(src) {
		end = len(src)
	}
	page := &models.JellyfinItemsPage{TotalRecordCount: len(src)}
	if startIndex < len(src) {
		page.Items = src[startIndex:end]
	}
	return page, nil
}

type fakeRequests struct {
	records []clients.JellyseerrRequest
}

func (f *fakeRequests) Requests(ctx context.Context, take, skip int) ([]clients.JellyseerrRequest, int, error) {
	end := skip + take
	if end > len(f.records) {
		end = len(f.records)
	}
	if skip >= len(f.records) {
		return nil, len(f.records), nil
	}
	return f.records[skip:end], len(f.records), nil
}

func newTestJob(t *testing.T, lib *fakeLibrary, reqs RequestManager) (*Job, *database.DB) {
	t.Helper()
	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tr := tracker.New(db, nopHub{})
	return New(db, tr, lib, reqs, nopHub{}), db
}

func movieItem(id, name string, year int, tmdb string) models.JellyfinItem {
	return models.JellyfinItem{
		ID:           id,
		Name:         name,
		Type:         "Movie",
		Path:         "/data/media/movies/" + name,
		ProductionYr: year,
		ProviderIds:  map[string]string{"Tmdb": tmdb},
	}
}

func TestSyncCreatesRequestsForUntrackedItems(t *testing.T) {
	lib := &fakeLibrary{
		movies: []models.JellyfinItem{
			movieItem("jf-1", "The Matrix", 1999, "603"),
		},
		series: []models.JellyfinItem{
			{
				ID: "jf-2", Name: "Severance", Type: "Series",
				Path: "/data/media/tv/Severance", ProductionYr: 2022,
				ProviderIds: map[string]string{"Tvdb": "371980"},
			},
		},
	}
	job, db := newTestJob(t, lib, nil)

	summary, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.MoviesScanned)
	assert.Equal(t, 1, summary.SeriesScanned)
	assert.Equal(t, 2, summary.Created)

	requests, total, err := db.ListRequests(context.Background(), 10, 0, false)
	require.NoError(t, err)
	require.EqualValues(t, 2, total)

	for i := range requests {
		req := &requests[i]
		assert.Equal(t, models.StateAvailable, req.State)
		assert.Equal(t, "system", req.RequestedBy)
		assert.Equal(t, models.SourceLibrarySync, req.Source)
		require.NotNil(t, req.JellyfinID)
	}
}

func TestSyncSkipsMetadataStubs(t *testing.T) {
	lib := &fakeLibrary{
		movies: []models.JellyfinItem{
			{ID: "jf-stub", Name: "Ghost Entry", Type: "Movie", ProviderIds: map[string]string{"Tmdb": "99"}},
		},
	}
	job, db := newTestJob(t, lib, nil)

	summary, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 1, summary.Skipped)

	_, total, err := db.ListRequests(context.Background(), 10, 0, false)
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
}

func TestSyncSkipsAlreadyTrackedItems(t *testing.T) {
	lib := &fakeLibrary{
		movies: []models.JellyfinItem{movieItem("jf-1", "The Matrix", 1999, "603")},
	}
	job, db := newTestJob(t, lib, nil)

	tmdb := int64(603)
	existing := &models.MediaRequest{
		MediaKind: models.KindMovie, Title: "The Matrix", Year: 1999,
		State: models.StateAvailable, RequestedBy: "alice", TmdbID: &tmdb,
	}
	tr := tracker.New(db, nopHub{})
	require.NoError(t, tr.CreateRequest(context.Background(), existing, models.ServiceJellyseerr, "request", ""))

	summary, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Created)

	_, total, err := db.ListRequests(context.Background(), 10, 0, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestSyncDeduplicatesWithinOneRun(t *testing.T) {
	// The same movie in two libraries arrives as two items with the same
	// provider ID.
	lib := &fakeLibrary{
		movies: []models.JellyfinItem{
			movieItem("jf-1", "The Matrix", 1999, "603"),
			movieItem("jf-1b", "The Matrix", 1999, "603"),
		},
	}
	job, db := newTestJob(t, lib, nil)

	summary, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)

	_, total, err := db.ListRequests(context.Background(), 10, 0, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestSyncBackfillsJellyseerrID(t *testing.T) {
	lib := &fakeLibrary{
		movies: []models.JellyfinItem{movieItem("jf-1", "The Matrix", 1999, "603")},
	}
	reqs := &fakeRequests{}
	rec := clients.JellyseerrRequest{ID: 42}
	rec.Media.MediaType = "movie"
	rec.Media.TmdbID = 603
	rec.RequestedBy.DisplayName = "alice"
	reqs.records = append(reqs.records, rec)

	job, db := newTestJob(t, lib, reqs)

	summary, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.Backfilled)

	requests, _, err := db.ListRequests(context.Background(), 10, 0, false)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	require.NotNil(t, requests[0].JellyseerrID)
	assert.EqualValues(t, 42, *requests[0].JellyseerrID)
	assert.Equal(t, "alice", requests[0].RequestedBy)
}

func TestSyncBackfillNeverOverwrites(t *testing.T) {
	lib := &fakeLibrary{}
	reqs := &fakeRequests{}
	rec := clients.JellyseerrRequest{ID: 99}
	rec.Media.MediaType = "movie"
	rec.Media.TmdbID = 603
	rec.RequestedBy.DisplayName = "mallory"
	reqs.records = append(reqs.records, rec)

	job, db := newTestJob(t, lib, reqs)

	tmdb, jsID := int64(603), int64(7)
	existing := &models.MediaRequest{
		MediaKind: models.KindMovie, Title: "The Matrix", Year: 1999,
		State: models.StateAvailable, RequestedBy: "alice",
		TmdbID: &tmdb, JellyseerrID: &jsID,
	}
	tr := tracker.New(db, nopHub{})
	require.NoError(t, tr.CreateRequest(context.Background(), existing, models.ServiceJellyseerr, "request", ""))

	summary, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Backfilled)

	got, err := db.GetRequest(context.Background(), existing.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 7, *got.JellyseerrID)
	assert.Equal(t, "alice", got.RequestedBy)
}

func TestSyncRejectsConcurrentRun(t *testing.T) {
	job, _ := newTestJob(t, &fakeLibrary{}, nil)

	job.mu.Lock()
	defer job.mu.Unlock()

	_, err := job.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}
