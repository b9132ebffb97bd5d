// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tracearr/config.yaml",
	"/etc/tracearr/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            7337,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
		},
		Database: DatabaseConfig{
			Path:      "/data/tracearr.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Media: MediaConfig{
			PathPrefix: "",
			AnimeRoot:  "",
		},
		Shoko: ShokoConfig{
			ReconnectMaxInterval: 2 * time.Minute,
		},
		Poll: PollConfig{
			FastInterval: 3 * time.Second,
			SlowInterval: 15 * time.Second,
		},
		Verifier: VerifierConfig{
			Interval:             30 * time.Second,
			StalenessWindow:      5 * time.Minute,
			VFSRegenerationDelay: 2 * time.Minute,
			RescanRatePerMinute:  2,
		},
		SSE: SSEConfig{
			HeartbeatInterval: 15 * time.Second,
			ClientBuffer:      256,
		},
		Deletion: DeletionConfig{
			Enabled:     false, // Destructive; opt-in only
			VerifyDelay: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if exists)
//  3. Environment variables: override any setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// JELLYSEERR_API_KEY -> jellyseerr.api_key, ADMIN_USER_IDS ->
	// security.admin_user_ids, and so on.
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices
// when they arrive via env vars.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"security.admin_user_ids",
}

// processSliceFields converts comma-separated string values to slices
// for known slice fields. Env vars come in as strings, but the config
// expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config
// paths. Flat service-prefixed names are the documented interface;
// anything unrecognized is ignored rather than guessed at.
//
// Examples:
//   - JELLYSEERR_URL -> jellyseerr.url
//   - QBITTORRENT_PASSWORD -> qbittorrent.password
//   - ENABLE_DELETION_SYNC -> deletion.enabled
//   - DUCKDB_PATH -> database.path
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server
		"http_host":         "server.host",
		"http_port":         "server.port",
		"http_timeout":      "server.timeout",
		"cors_origins":      "server.cors_origins",
		"rate_limit_reqs":   "server.rate_limit_reqs",
		"rate_limit_window": "server.rate_limit_window",

		// Database
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// Jellyseerr
		"jellyseerr_url":            "jellyseerr.url",
		"jellyseerr_api_key":        "jellyseerr.api_key",
		"jellyseerr_webhook_secret": "jellyseerr.webhook_secret",

		// Radarr / Sonarr
		"radarr_url":     "radarr.url",
		"radarr_api_key": "radarr.api_key",
		"sonarr_url":     "sonarr.url",
		"sonarr_api_key": "sonarr.api_key",

		// qBittorrent
		"qbittorrent_url":      "qbittorrent.url",
		"qbittorrent_username": "qbittorrent.username",
		"qbittorrent_password": "qbittorrent.password",

		// Jellyfin
		"jellyfin_url":     "jellyfin.url",
		"jellyfin_api_key": "jellyfin.api_key",

		// Shoko
		"shoko_url":                    "shoko.url",
		"shoko_username":               "shoko.username",
		"shoko_password":               "shoko.password",
		"shoko_reconnect_max_interval": "shoko.reconnect_max_interval",

		// Media layout
		"media_path_prefix": "media.path_prefix",
		"anime_root":        "media.anime_root",

		// Polling and verifier
		"poll_fast_interval":              "poll.fast_interval",
		"poll_slow_interval":              "poll.slow_interval",
		"verifier_interval":               "verifier.interval",
		"verifier_staleness_window":       "verifier.staleness_window",
		"verifier_vfs_regeneration_delay": "verifier.vfs_regeneration_delay",
		"verifier_rescan_rate_per_minute": "verifier.rescan_rate_per_minute",

		// SSE
		"sse_heartbeat_interval": "sse.heartbeat_interval",
		"sse_client_buffer":      "sse.client_buffer",

		// Deletion
		"enable_deletion_sync":  "deletion.enabled",
		"deletion_verify_delay": "deletion.verify_delay",

		// Security
		"admin_user_ids": "security.admin_user_ids",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	// Unknown vars do not belong in config at all.
	return ""
}
