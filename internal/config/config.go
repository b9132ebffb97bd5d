// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

// Package config defines the application configuration and its layered
// loading: built-in defaults, then an optional YAML file, then
// environment variables. Environment variables always win.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root application configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Jellyseerr  JellyseerrConfig  `koanf:"jellyseerr"`
	Radarr      ArrConfig         `koanf:"radarr"`
	Sonarr      ArrConfig         `koanf:"sonarr"`
	QBittorrent QBittorrentConfig `koanf:"qbittorrent"`
	Jellyfin    JellyfinConfig    `koanf:"jellyfin"`
	Shoko       ShokoConfig       `koanf:"shoko"`
	Media       MediaConfig       `koanf:"media"`
	Poll        PollConfig        `koanf:"poll"`
	Verifier    VerifierConfig    `koanf:"verifier"`
	SSE         SSEConfig         `koanf:"sse"`
	Deletion    DeletionConfig    `koanf:"deletion"`
	Security    SecurityConfig    `koanf:"security"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
	// CORSOrigins lists allowed origins for the dashboard frontend.
	CORSOrigins []string `koanf:"cors_origins"`
	// RateLimitReqs is the per-IP request budget per RateLimitWindow.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	// Threads caps DuckDB worker threads. 0 = runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// JellyseerrConfig holds the request manager connection.
type JellyseerrConfig struct {
	URL    string `koanf:"url"`
	APIKey string `koanf:"api_key"`
	// WebhookSecret, when set, must match the Authorization header that
	// Jellyseerr is configured to send with webhook payloads.
	WebhookSecret string `koanf:"webhook_secret"`
}

// ArrConfig holds a Radarr or Sonarr connection.
type ArrConfig struct {
	URL    string `koanf:"url"`
	APIKey string `koanf:"api_key"`
}

// QBittorrentConfig holds the torrent client connection. qBittorrent
// uses cookie-based auth, so credentials rather than an API key.
type QBittorrentConfig struct {
	URL      string `koanf:"url"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// JellyfinConfig holds the media server connection.
type JellyfinConfig struct {
	URL    string `koanf:"url"`
	APIKey string `koanf:"api_key"`
}

// ShokoConfig holds the anime metadata service connection. Optional;
// when URL is empty the SignalR client and anime matching stage are
// disabled entirely.
type ShokoConfig struct {
	URL      string `koanf:"url"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	// ReconnectMaxInterval bounds the SignalR reconnect backoff.
	ReconnectMaxInterval time.Duration `koanf:"reconnect_max_interval"`
}

// MediaConfig holds filesystem layout hints used for correlation.
type MediaConfig struct {
	// PathPrefix is stripped from service-reported paths before
	// comparison, covering the common case of differing mount points
	// between containers.
	PathPrefix string `koanf:"path_prefix"`
	// AnimeRoot marks the library subtree whose imports are treated as
	// anime even without an indexer tag.
	AnimeRoot string `koanf:"anime_root"`
}

// PollConfig holds the torrent progress poller cadence.
type PollConfig struct {
	// FastInterval applies while any request is grabbing or downloading.
	FastInterval time.Duration `koanf:"fast_interval"`
	// SlowInterval applies when the download queue is idle.
	SlowInterval time.Duration `koanf:"slow_interval"`
}

// VerifierConfig holds the rescue loop that re-checks requests stuck
// between download completion and library availability.
type VerifierConfig struct {
	Interval time.Duration `koanf:"interval"`
	// StalenessWindow is how long a request may sit unchanged in a
	// post-download state before the verifier intervenes.
	StalenessWindow time.Duration `koanf:"staleness_window"`
	// VFSRegenerationDelay is the grace period after an import before a
	// missing Jellyfin item is treated as a real failure. Cloud-backed
	// mounts need time to surface new files.
	VFSRegenerationDelay time.Duration `koanf:"vfs_regeneration_delay"`
	// RescanRatePerMinute caps library rescans the verifier may trigger.
	RescanRatePerMinute float64 `koanf:"rescan_rate_per_minute"`
}

// SSEConfig holds the server-sent events stream settings.
type SSEConfig struct {
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	// ClientBuffer is the per-subscriber queued event cap; slow clients
	// past this are dropped rather than allowed to block the hub.
	ClientBuffer int `koanf:"client_buffer"`
}

// DeletionConfig gates the multi-service deletion orchestrator.
type DeletionConfig struct {
	Enabled bool `koanf:"enabled"`
	// VerifyDelay is the wait before the post-deletion verification
	// pass confirms each service really removed the media.
	VerifyDelay time.Duration `koanf:"verify_delay"`
}

// SecurityConfig holds admin gating for destructive endpoints.
type SecurityConfig struct {
	// AdminUserIDs lists Jellyfin user IDs permitted to trigger
	// deletions and library syncs. Empty means deletion endpoints are
	// closed to everyone.
	AdminUserIDs []string `koanf:"admin_user_ids"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for consistency. Service URLs are
// optional (each integration degrades to disabled), but any URL that is
// set must parse, and paired settings must be complete.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}

	urls := map[string]string{
		"jellyseerr.url":  c.Jellyseerr.URL,
		"radarr.url":      c.Radarr.URL,
		"sonarr.url":      c.Sonarr.URL,
		"qbittorrent.url": c.QBittorrent.URL,
		"jellyfin.url":    c.Jellyfin.URL,
		"shoko.url":       c.Shoko.URL,
	}
	for key, raw := range urls {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s is not a valid URL: %q", key, raw)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%s must use http or https, got %q", key, u.Scheme)
		}
	}

	if c.QBittorrent.URL != "" && c.QBittorrent.Username == "" {
		return fmt.Errorf("qbittorrent.username is required when qbittorrent.url is set")
	}
	if c.Poll.FastInterval <= 0 || c.Poll.SlowInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.Poll.FastInterval > c.Poll.SlowInterval {
		return fmt.Errorf("poll.fast_interval (%s) must not exceed poll.slow_interval (%s)",
			c.Poll.FastInterval, c.Poll.SlowInterval)
	}
	if c.Verifier.Interval <= 0 {
		return fmt.Errorf("verifier.interval must be positive")
	}
	if c.SSE.HeartbeatInterval <= 0 {
		return fmt.Errorf("sse.heartbeat_interval must be positive")
	}
	if c.SSE.ClientBuffer < 1 {
		return fmt.Errorf("sse.client_buffer must be at least 1")
	}

	if c.Deletion.Enabled && len(c.Security.AdminUserIDs) == 0 {
		return fmt.Errorf("deletion.enabled requires security.admin_user_ids to be set")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "":
	default:
		return fmt.Errorf("logging.level must be one of trace/debug/info/warn/error/fatal, got %q", c.Logging.Level)
	}

	return nil
}

// ShokoEnabled reports whether the Shoko integration is configured.
func (c *Config) ShokoEnabled() bool {
	return c.Shoko.URL != ""
}

// IsAdmin reports whether a Jellyfin user ID is on the admin allowlist.
func (c *SecurityConfig) IsAdmin(userID string) bool {
	for _, id := range c.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
