// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledClientsReturnErrNotConfigured(t *testing.T) {
	ctx := context.Background()

	_, err := NewRadarrClient("", "key").MovieExists(ctx, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewQBittorrentClient("", "user", "pass").TorrentsInfo(ctx, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewJellyfinClient("", "key").Item(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotConfigured)

	err = NewJellyseerrClient("", "key").DeleteRequest(ctx, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewShokoClient("", "user", "pass").ImportFolders(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&StatusError{Service: "radarr", Status: http.StatusNotFound}))
	assert.False(t, IsNotFound(&StatusError{Service: "radarr", Status: http.StatusInternalServerError}))
	assert.False(t, IsNotFound(context.Canceled))
	assert.False(t, IsNotFound(nil))
}

func TestArrMovieExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		switch r.URL.Path {
		case "/api/v3/movie/7":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":7,"title":"The Matrix","hasFile":true,"monitored":true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	radarr := NewRadarrClient(srv.URL, "secret")

	exists, err := radarr.MovieExists(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = radarr.MovieExists(context.Background(), 8)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestArrDeleteMovieSendsQuery(t *testing.T) {
	var gotMethod, gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	radarr := NewRadarrClient(srv.URL, "secret")
	require.NoError(t, radarr.DeleteMovie(context.Background(), 42, true))

	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/api/v3/movie/42", gotPath)
	assert.Contains(t, gotQuery, "deleteFiles=true")
	assert.Contains(t, gotQuery, "addImportExclusion=false")
}

func TestQBittorrentLoginAndTorrentsInfo(t *testing.T) {
	var logins atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/auth/login":
			logins.Add(1)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "admin", r.FormValue("username"))
			http.SetCookie(w, &http.Cookie{Name: "SID", Value: "session-1"})
			_, _ = w.Write([]byte("Ok."))
		case "/api/v2/torrents/info":
			ck, err := r.Cookie("SID")
			require.NoError(t, err)
			assert.Equal(t, "session-1", ck.Value)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"hash":"aaaabbbbccccddddeeeeffff0000111122223333","name":"movie","progress":0.5,"state":"downloading"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	qb := NewQBittorrentClient(srv.URL, "admin", "adminadmin")

	torrents, err := qb.TorrentsInfo(context.Background(), []string{"AAAABBBBCCCCDDDDEEEEFFFF0000111122223333"})
	require.NoError(t, err)
	require.Len(t, torrents, 1)
	assert.Equal(t, "downloading", torrents[0].State)
	assert.InDelta(t, 0.5, torrents[0].Progress, 0.001)
	assert.EqualValues(t, 1, logins.Load())

	// Session cookie is reused on the next call.
	_, err = qb.TorrentsInfo(context.Background(), nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, logins.Load())
}

func TestQBittorrentReloginOnExpiredSession(t *testing.T) {
	var session atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/auth/login":
			n := session.Add(1)
			http.SetCookie(w, &http.Cookie{Name: "SID", Value: string(rune('a' + n))})
			_, _ = w.Write([]byte("Ok."))
		case "/api/v2/torrents/info":
			if session.Load() < 2 {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	qb := NewQBittorrentClient(srv.URL, "admin", "adminadmin")

	torrents, err := qb.TorrentsInfo(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, torrents)
	assert.EqualValues(t, 2, session.Load())
}

func TestJellyfinItemsByProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Items", r.URL.Path)
		assert.Equal(t, "Tmdb.603", r.URL.Query().Get("AnyProviderIdEquals"))
		assert.Equal(t, "Movie", r.URL.Query().Get("IncludeItemTypes"))
		assert.Contains(t, r.Header.Get("Authorization"), `Token="api-key"`)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Items":[{"Id":"jf-1","Name":"The Matrix","Type":"Movie","Path":"/media/movies/The Matrix (1999)","MediaSources":[{"Id":"src-1","Path":"/media/movies/The Matrix (1999)/matrix.mkv"}]}],"TotalRecordCount":1}`))
	}))
	defer srv.Close()

	jf := NewJellyfinClient(srv.URL, "api-key")

	items, err := jf.ItemsByProvider(context.Background(), "Tmdb", 603, "Movie")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "jf-1", items[0].ID)
	assert.True(t, items[0].IsPlayable())
}

func TestJellyfinUserByTokenUsesCallerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Users/Me", r.URL.Path)
		auth := r.Header.Get("Authorization")
		assert.Contains(t, auth, `Token="user-session-token"`)
		assert.NotContains(t, auth, "server-api-key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Id":"user-1","Name":"alice","Policy":{"IsAdministrator":true}}`))
	}))
	defer srv.Close()

	jf := NewJellyfinClient(srv.URL, "server-api-key")

	user, err := jf.UserByToken(context.Background(), "user-session-token")
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, "alice", user.Name)
	assert.True(t, user.Policy.IsAdministrator)
}

func TestJellyseerrRequestExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "api-key", r.Header.Get("X-Api-Key"))
		if r.URL.Path == "/api/v1/request/12" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":12}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	js := NewJellyseerrClient(srv.URL, "api-key")

	exists, err := js.RequestExists(context.Background(), 12)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = js.RequestExists(context.Background(), 99)
	require.NoError(t, err)
	assert.False(t, exists)
}
