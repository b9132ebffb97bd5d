// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tomtom215/tracearr/internal/models"
)

func TestRequestIDGeneratesWhenMissing(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDHonorsUpstream(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "proxy-assigned")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "proxy-assigned", seen)
}

type fakeAuth struct {
	users map[string]*models.JellyfinUser
	err   error
}

func (f *fakeAuth) UserByToken(ctx context.Context, token string) (*models.JellyfinUser, error) {
	if f.err != nil {
		return nil, f.err
	}
	user, ok := f.users[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return user, nil
}

func newGate(auth *fakeAuth, admins ...string) http.Handler {
	isAdmin := func(id string) bool {
		for _, a := range admins {
			if a == id {
				return true
			}
		}
		return false
	}
	return AdminGate(auth, isAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("X-Actor", actor.Name)
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAdminGateRejectsMissingToken(t *testing.T) {
	gate := newGate(&fakeAuth{}, "admin-1")

	rec := httptest.NewRecorder()
	gate.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/requests/x/delete", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
}

func TestAdminGateRejectsInvalidToken(t *testing.T) {
	gate := newGate(&fakeAuth{users: map[string]*models.JellyfinUser{}}, "admin-1")

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec := httptest.NewRecorder()
	gate.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminGateRejectsNonAdmin(t *testing.T) {
	auth := &fakeAuth{users: map[string]*models.JellyfinUser{
		"tok": {ID: "user-2", Name: "bob"},
	}}
	gate := newGate(auth, "admin-1")

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	gate.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "FORBIDDEN")
}

func TestAdminGateAdmitsAdminAndSetsActor(t *testing.T) {
	auth := &fakeAuth{users: map[string]*models.JellyfinUser{
		"tok": {ID: "admin-1", Name: "alice"},
	}}
	gate := newGate(auth, "admin-1")

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	gate.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Header().Get("X-Actor"))
}

func TestBearerTokenForms(t *testing.T) {
	cases := []struct {
		name   string
		header string
		emby   string
		want   string
	}{
		{"bearer", "Bearer abc123", "", "abc123"},
		{"mediabrowser", `MediaBrowser Client="dash", Token="abc123"`, "", "abc123"},
		{"emby header", "", "abc123", "abc123"},
		{"empty", "", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.emby != "" {
				req.Header.Set("X-Emby-Token", tc.emby)
			}
			assert.Equal(t, tc.want, bearerToken(req))
		})
	}
}
