// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

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
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/shiftbeacon/config.yaml",
	"/etc/shiftbeacon/config.yml",
}

// ConfigPathEnvVar is the environment variable that overrides the config
// file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with every setting at its default value.
// Defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			UserID:    "", // Required - no default
			SessionID: "", // Generated at startup if empty
		},
		Storage: StorageConfig{
			Path:       "/data/shiftbeacon",
			SyncWrites: true,
			GCInterval: 10 * time.Minute,
		},
		Delivery: DeliveryConfig{
			IngestURL:         "", // Required - no default
			SocketURL:         "", // Empty disables the socket channel
			RequestTimeout:    10 * time.Second,
			HandshakeTimeout:  5 * time.Second,
			ReconnectInterval: 60 * time.Second,
			DrainBatch:        5,
		},
		Auth: AuthConfig{
			TokenURL:          "", // Empty disables credential refresh
			RefreshCredential: "",
			ClientID:          "",
			StaticToken:       "",
			RequestTimeout:    10 * time.Second,
		},
		Policy: PolicyConfig{
			RecomputeInterval: time.Minute,
			BatteryAxis:       true,
			ActivityAxis:      true,
			StationaryAxis:    true,
			Interval:          30 * time.Second,
			DistanceMeters:    20,
			Accuracy:          "high",
		},
		Geofence: GeofenceConfig{
			Endpoint:        "", // Empty disables region fetching
			RefreshInterval: 15 * time.Minute,
			RequestTimeout:  10 * time.Second,
		},
		Health: HealthConfig{
			LivenessInterval:   15 * time.Minute,
			CleanupInterval:    10 * time.Minute,
			DeliveryStaleAfter: 30 * time.Minute,
			ResumeDelay:        5 * time.Minute,
			MaxRestarts:        3,
			RestartWindow:      24 * time.Hour,
		},
		Server: ServerConfig{
			Host:              "127.0.0.1", // Loopback only by default
			Port:              8421,
			Timeout:           30 * time.Second,
			RateLimitReqs:     120,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load assembles the configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values
//  2. Config file: optional YAML config file (if it exists)
//  3. Environment variables: override any setting
//
// Precedence is ENV > file > defaults. Environment variables map to config
// keys through an explicit table (see envTransformFunc); unknown variables
// are ignored. The assembled configuration is validated before it is
// returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// Transform environment variable names to koanf paths:
	// INGEST_URL -> delivery.ingest_url
	// TRACKING_INTERVAL -> policy.interval
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
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

// findConfigFile returns the first config file that exists, preferring an
// explicit CONFIG_PATH over the default search list. A CONFIG_PATH that
// points at a missing file is skipped rather than fatal.
func findConfigFile() string {
	candidates := DefaultConfigPaths
	if override := os.Getenv(ConfigPathEnvVar); override != "" {
		candidates = append([]string{override}, candidates...)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc transforms environment variable names to koanf config
// paths. Only explicitly mapped variables participate; everything else
// returns empty and is skipped, which prevents unrelated environment
// variables from polluting the config.
//
// Examples:
//   - USER_ID -> agent.user_id
//   - INGEST_URL -> delivery.ingest_url
//   - TRACKING_INTERVAL -> policy.interval
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Agent identity
		"user_id":    "agent.user_id",
		"session_id": "agent.session_id",

		// Storage
		"storage_path":        "storage.path",
		"storage_sync_writes": "storage.sync_writes",
		"storage_gc_interval": "storage.gc_interval",

		// Delivery
		"ingest_url":                "delivery.ingest_url",
		"socket_url":                "delivery.socket_url",
		"delivery_timeout":          "delivery.request_timeout",
		"socket_handshake_timeout":  "delivery.handshake_timeout",
		"socket_reconnect_interval": "delivery.reconnect_interval",
		"delivery_drain_batch":      "delivery.drain_batch",

		// Auth
		"token_url":          "auth.token_url",
		"refresh_credential": "auth.refresh_credential",
		"auth_client_id":     "auth.client_id",
		"static_token":       "auth.static_token",
		"auth_timeout":       "auth.request_timeout",

		// Policy
		"policy_recompute_interval": "policy.recompute_interval",
		"policy_battery_axis":       "policy.battery_axis",
		"policy_activity_axis":      "policy.activity_axis",
		"policy_stationary_axis":    "policy.stationary_axis",
		"tracking_interval":         "policy.interval",
		"tracking_distance_meters":  "policy.distance_meters",
		"tracking_accuracy":         "policy.accuracy",

		// Geofence
		"geofence_url":              "geofence.endpoint",
		"geofence_refresh_interval": "geofence.refresh_interval",
		"geofence_timeout":          "geofence.request_timeout",

		// Health
		"health_liveness_interval": "health.liveness_interval",
		"health_cleanup_interval":  "health.cleanup_interval",
		"delivery_stale_after":     "health.delivery_stale_after",
		"health_resume_delay":      "health.resume_delay",
		"health_max_restarts":      "health.max_restarts",
		"health_restart_window":    "health.restart_window",

		// Server
		"http_host":           "server.host",
		"http_port":           "server.port",
		"http_timeout":        "server.timeout",
		"rate_limit_requests": "server.rate_limit_reqs",
		"rate_limit_window":   "server.rate_limit_window",
		"disable_rate_limit":  "server.rate_limit_disabled",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	return ""
}
