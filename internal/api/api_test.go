// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package api

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/tracearr/internal/config"
	"github.com/tomtom215/tracearr/internal/correlator"
	"github.com/tomtom215/tracearr/internal/database"
	"github.com/tomtom215/tracearr/internal/deletion"
	"github.com/tomtom215/tracearr/internal/ingest"
	"github.com/tomtom215/tracearr/internal/librarysync"
	"github.com/tomtom215/tracearr/internal/middleware"
	"github.com/tomtom215/tracearr/internal/models"
	"github.com/tomtom215/tracearr/internal/sse"
	"github.com/tomtom215/tracearr/internal/tracker"
)

type fakeDeleter struct {
	deleted []uuid.UUID
	files   []bool
	actors  []deletion.Actor
	err     error
}

func (f *fakeDeleter) Delete(ctx context.Context, id uuid.UUID, actor deletion.Actor, deleteFiles bool) (*models.DeletionLog, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.deleted = append(f.deleted, id)
	f.files = append(f.files, deleteFiles)
	f.actors = append(f.actors, actor)
	return &models.DeletionLog{ID: uuid.New(), RequestID: id, Status: models.DeletionInProgress}, nil
}

func (f *fakeDeleter) DeleteMany(ctx context.Context, ids []uuid.UUID, actor deletion.Actor, deleteFiles bool) []deletion.Result {
	results := make([]deletion.Result, 0, len(ids))
	for _, id := range ids {
		log, err := f.Delete(ctx, id, actor, deleteFiles)
		res := deletion.Result{RequestID: id, Log: log}
		if err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results
}

type fakeSyncer struct {
	summary *librarysync.Summary
	err     error
	delay   time.Duration
}

func (f *fakeSyncer) Run(ctx context.Context) (*librarysync.Summary, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.summary, f.err
}

type fakeAuth struct {
	users map[string]*models.JellyfinUser
}

func (f *fakeAuth) UserByToken(ctx context.Context, token string) (*models.JellyfinUser, error) {
	user, ok := f.users[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return user, nil
}

type fixture struct {
	db      *database.DB
	tracker *tracker.Tracker
	deleter *fakeDeleter
	syncer  *fakeSyncer
	server  http.Handler
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	hub := sse.NewHub(16)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(hubCtx)
		close(hubDone)
	}()
	t.Cleanup(func() {
		hubCancel()
		<-hubDone
	})
	tr := tracker.New(db, hub)
	corr := correlator.New(db, "/data/media")
	deleter := &fakeDeleter{}
	proc := ingest.New(db, corr, tr, nil, noExternalDeletions{}, "/data/media/anime")

	syncer := &fakeSyncer{summary: &librarysync.Summary{}}
	stream := sse.NewStreamHandler(hub, time.Second)
	handler := NewHandler(db, proc, deleter, syncer, hub, stream, secret)

	auth := &fakeAuth{users: map[string]*models.JellyfinUser{
		"admin-token": {ID: "admin-1", Name: "alice"},
		"user-token":  {ID: "user-2", Name: "bob"},
	}}
	gate := middleware.AdminGate(auth, func(id string) bool { return id == "admin-1" })

	cfg := &config.ServerConfig{
		RateLimitReqs:   1000,
		RateLimitWindow: time.Minute,
	}
	return &fixture{
		db:      db,
		tracker: tr,
		deleter: deleter,
		syncer:  syncer,
		server:  NewRouter(handler, cfg, gate),
	}
}

type noExternalDeletions struct{}

func (noExternalDeletions) RecordExternalDeletion(ctx context.Context, req *models.MediaRequest, source models.DeletionSource, deletedFiles bool) error {
	return nil
}

func (f *fixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seedRequest(t *testing.T) *models.MediaRequest {
	t.Helper()
	tmdb := int64(603)
	req := &models.MediaRequest{
		MediaKind:   models.KindMovie,
		Title:       "The Matrix",
		Year:        1999,
		State:       models.StateRequested,
		RequestedBy: "alice",
		TmdbID:      &tmdb,
	}
	require.NoError(t, f.tracker.CreateRequest(context.Background(), req, models.ServiceJellyseerr, "request", ""))
	return req
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestJellyseerrHookCreatesRequest(t *testing.T) {
	f := newFixture(t, "")
	body := `{
		"notification_type": "MEDIA_PENDING",
		"subject": "The Matrix (1999)",
		"media": {"media_type": "movie", "tmdbId": "603"},
		"request": {"request_id": "12", "requestedBy_username": "alice"}
	}`
	rec := f.do(t, http.MethodPost, "/hooks/jellyseerr", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	requests, total, err := f.db.ListRequests(context.Background(), 10, 0, false)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, models.StateRequested, requests[0].State)
}

func TestJellyseerrHookRejectsBadSecret(t *testing.T) {
	f := newFixture(t, "s3cret")

	rec := f.do(t, http.MethodPost, "/hooks/jellyseerr", `{"notification_type":"MEDIA_PENDING"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/hooks/jellyseerr", `{"notification_type":"MEDIA_PENDING"}`,
		map[string]string{"Authorization": "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHookRejectsMalformedJSON(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodPost, "/hooks/radarr", `{not json`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeEnvelope(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeBadRequest, resp.Error.Code)
}

func TestHookRejectsMissingRequiredFields(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodPost, "/hooks/qbittorrent", `{"name":"x"}`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
}

func TestHookAcksUnmatchedEvent(t *testing.T) {
	// An uncorrelated torrent hash is acknowledged, never retried.
	f := newFixture(t, "")
	body := `{"hash":"abcdef1234567890abcdef1234567890abcdef12","name":"orphan","size":1}`
	rec := f.do(t, http.MethodPost, "/hooks/qbittorrent", body, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListRequestsPagination(t *testing.T) {
	f := newFixture(t, "")
	f.seedRequest(t)
	f.seedRequest(t)

	rec := f.do(t, http.MethodGet, "/api/requests?limit=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeEnvelope(t, rec)
	require.NotNil(t, resp.Meta)
	require.NotNil(t, resp.Meta.Pagination)
	assert.EqualValues(t, 2, resp.Meta.Pagination.Total)
	assert.Equal(t, 1, resp.Meta.Pagination.Count)
	assert.True(t, resp.Meta.Pagination.HasMore)
}

func TestStreamServedAtSSEPathAndAlias(t *testing.T) {
	f := newFixture(t, "")
	srv := httptest.NewServer(f.server)
	t.Cleanup(srv.Close)

	for _, path := range []string{"/api/sse", "/api/events"} {
		resp, err := srv.Client().Get(srv.URL + path)
		require.NoError(t, err, path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"), path)

		line, err := bufio.NewReader(resp.Body).ReadString('\n')
		require.NoError(t, err, path)
		assert.Equal(t, ": connected", strings.TrimSpace(line), path)
		require.NoError(t, resp.Body.Close())
	}
}

func TestGetRequestNotFound(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodGet, "/api/requests/"+uuid.NewString(), "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRequestInvalidID(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodGet, "/api/requests/not-a-uuid", "", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteRequiresAdmin(t *testing.T) {
	f := newFixture(t, "")
	req := f.seedRequest(t)
	path := "/api/requests/" + req.ID.String() + "/delete"

	rec := f.do(t, http.MethodPost, path, `{"delete_files":true}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, path, `{"delete_files":true}`,
		map[string]string{"Authorization": "Bearer user-token"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Empty(t, f.deleter.deleted)
}

func TestDeleteAsAdmin(t *testing.T) {
	f := newFixture(t, "")
	req := f.seedRequest(t)

	rec := f.do(t, http.MethodPost, "/api/requests/"+req.ID.String()+"/delete",
		`{"delete_files":true}`, map[string]string{"Authorization": "Bearer admin-token"})

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.deleter.deleted, 1)
	assert.Equal(t, req.ID, f.deleter.deleted[0])
	assert.True(t, f.deleter.files[0])
	assert.Equal(t, "alice", f.deleter.actors[0].Name)
}

func TestBulkDelete(t *testing.T) {
	f := newFixture(t, "")
	a := f.seedRequest(t)
	b := f.seedRequest(t)

	body := `{"ids":["` + a.ID.String() + `","` + b.ID.String() + `"],"delete_files":false}`
	rec := f.do(t, http.MethodPost, "/api/requests/bulk-delete", body,
		map[string]string{"Authorization": "Bearer admin-token"})

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, f.deleter.deleted, 2)
	assert.False(t, f.deleter.files[0])
}

func TestLibrarySyncConflict(t *testing.T) {
	f := newFixture(t, "")
	f.syncer.err = librarysync.ErrAlreadyRunning

	rec := f.do(t, http.MethodPost, "/api/admin/sync/library", "",
		map[string]string{"Authorization": "Bearer admin-token"})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLibrarySyncFastFinishReturnsSummary(t *testing.T) {
	f := newFixture(t, "")
	f.syncer.summary = &librarysync.Summary{MoviesScanned: 3, Created: 2}

	rec := f.do(t, http.MethodPost, "/api/admin/sync/library", "",
		map[string]string{"Authorization": "Bearer admin-token"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"created":2`)
}

func TestLibrarySyncSlowRunAccepted(t *testing.T) {
	f := newFixture(t, "")
	f.syncer.delay = time.Second

	rec := f.do(t, http.MethodPost, "/api/admin/sync/library", "",
		map[string]string{"Authorization": "Bearer admin-token"})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"started"`)
}
