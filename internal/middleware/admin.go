// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tracearr/internal/logging"
	"github.com/tomtom215/tracearr/internal/models"
)

const actorKey contextKey = "actor"

// TokenAuthenticator resolves a media-server access token to a user.
// Implemented by clients.JellyfinClient.
type TokenAuthenticator interface {
	UserByToken(ctx context.Context, token string) (*models.JellyfinUser, error)
}

// Actor identifies the authenticated admin behind a destructive call.
type Actor struct {
	ID   string
	Name string
}

// AdminGate protects destructive endpoints. The caller presents a
// Jellyfin access token; the token must resolve to a user on the admin
// allowlist. Tokens are never logged.
func AdminGate(auth TokenAuthenticator, isAdmin func(userID string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				denyJSON(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token")
				return
			}

			user, err := auth.UserByToken(r.Context(), token)
			if err != nil || user == nil {
				logging.Warn().Err(err).Str("path", r.URL.Path).Msg("admin token rejected")
				denyJSON(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token")
				return
			}

			if !isAdmin(user.ID) {
				logging.Warn().
					Str("user_id", user.ID).
					Str("user", user.Name).
					Str("path", r.URL.Path).
					Msg("non-admin user denied")
				denyJSON(w, http.StatusForbidden, "FORBIDDEN", "admin privileges required")
				return
			}

			ctx := context.WithValue(r.Context(), actorKey, Actor{ID: user.ID, Name: user.Name})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext returns the authenticated admin, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// bearerToken extracts the access token from the Authorization header.
// Both "Bearer <token>" and Jellyfin's "MediaBrowser Token=<token>"
// forms are accepted.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return r.Header.Get("X-Emby-Token")
	}
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	if rest, ok := strings.CutPrefix(header, "MediaBrowser "); ok {
		for _, part := range strings.Split(rest, ",") {
			part = strings.TrimSpace(part)
			if after, ok := strings.CutPrefix(part, "Token="); ok {
				return strings.Trim(after, `"`)
			}
		}
	}
	return ""
}

func denyJSON(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{"code": code, "message": message},
	})
}
