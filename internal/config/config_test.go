// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "empty database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "malformed service url",
			mutate:  func(c *Config) { c.Radarr.URL = "not a url" },
			wantErr: "radarr.url",
		},
		{
			name:    "non-http scheme",
			mutate:  func(c *Config) { c.Jellyfin.URL = "ftp://jellyfin:8096" },
			wantErr: "jellyfin.url",
		},
		{
			name:    "qbittorrent url without username",
			mutate:  func(c *Config) { c.QBittorrent.URL = "http://qbit:8080" },
			wantErr: "qbittorrent.username",
		},
		{
			name: "fast poll slower than slow poll",
			mutate: func(c *Config) {
				c.Poll.FastInterval = time.Minute
				c.Poll.SlowInterval = time.Second
			},
			wantErr: "poll.fast_interval",
		},
		{
			name:    "deletion enabled without admins",
			mutate:  func(c *Config) { c.Deletion.Enabled = true },
			wantErr: "admin_user_ids",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidServiceURLsAccepted(t *testing.T) {
	cfg := defaultConfig()
	cfg.Jellyseerr.URL = "http://jellyseerr:5055"
	cfg.Radarr.URL = "http://radarr:7878"
	cfg.Sonarr.URL = "https://sonarr.example.com"
	cfg.QBittorrent.URL = "http://qbit:8080"
	cfg.QBittorrent.Username = "admin"
	cfg.Jellyfin.URL = "http://jellyfin:8096"
	cfg.Shoko.URL = "http://shoko:8111"
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.ShokoEnabled())
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"JELLYSEERR_URL", "jellyseerr.url"},
		{"JELLYSEERR_API_KEY", "jellyseerr.api_key"},
		{"QBITTORRENT_PASSWORD", "qbittorrent.password"},
		{"ENABLE_DELETION_SYNC", "deletion.enabled"},
		{"ADMIN_USER_IDS", "security.admin_user_ids"},
		{"DUCKDB_PATH", "database.path"},
		{"HTTP_PORT", "server.port"},
		{"ANIME_ROOT", "media.anime_root"},
		{"PATH", ""},
		{"HOME", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, envTransformFunc(tt.env), tt.env)
	}
}

func TestLoadWithKoanfEnvOverride(t *testing.T) {
	t.Setenv("JELLYSEERR_URL", "http://jellyseerr:5055")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("ADMIN_USER_IDS", "abc123, def456")
	t.Setenv("ENABLE_DELETION_SYNC", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadWithKoanf()
	require.NoError(t, err)
	assert.Equal(t, "http://jellyseerr:5055", cfg.Jellyseerr.URL)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"abc123", "def456"}, cfg.Security.AdminUserIDs)
	assert.True(t, cfg.Deletion.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)

	assert.True(t, cfg.Security.IsAdmin("abc123"))
	assert.False(t, cfg.Security.IsAdmin("nobody"))
}
