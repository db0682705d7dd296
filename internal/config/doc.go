// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

/*
Package config provides centralized configuration management for Shiftbeacon.

This package handles loading, layering, and validation of the agent's
configuration. It ensures every component starts from the same validated
snapshot and provides defaults for every optional setting.

# Configuration Sources

Configuration is assembled from three layers, later layers overriding
earlier ones:

  - Built-in defaults (always present)
  - Optional YAML config file (CONFIG_PATH or the default search paths)
  - Environment variables (highest priority)

Environment variables map to config keys through an explicit table. Unknown
variables are ignored rather than guessed at, so the surrounding process
environment cannot leak into the configuration.

# Configuration Structure

The package organizes configuration into logical groups:

  - AgentConfig: worker and shift-session attribution
  - StorageConfig: Badger directory, durability, GC cadence
  - DeliveryConfig: ingest and socket endpoints, timeouts, drain batch
  - AuthConfig: bearer credential refresh settings
  - PolicyConfig: adaptive sampling axes and baseline parameters
  - GeofenceConfig: work-site region list endpoint
  - HealthConfig: liveness, staleness, and restart-budget timers
  - ServerConfig: local HTTP API bind address and rate limiting
  - LoggingConfig: log level and output format

# Environment Variables

The supported variables, by component:

Agent identity:
  - USER_ID: worker identifier stamped on every sample (required)
  - SESSION_ID: shift session identifier (default: generated at startup)

Storage:
  - STORAGE_PATH: Badger directory (default: /data/shiftbeacon)
  - STORAGE_SYNC_WRITES: fsync every write (default: true)
  - STORAGE_GC_INTERVAL: value-log GC cadence (default: 10m)

Delivery:
  - INGEST_URL: location-ingest base URL (required)
  - SOCKET_URL: realtime socket endpoint (default: disabled)
  - DELIVERY_TIMEOUT: ingest POST bound (default: 10s)
  - SOCKET_HANDSHAKE_TIMEOUT: socket dial bound (default: 5s)
  - SOCKET_RECONNECT_INTERVAL: redial cadence (default: 60s)
  - DELIVERY_DRAIN_BATCH: queue entries flushed per delivery (default: 5)

Auth:
  - TOKEN_URL: token endpoint (default: refresh disabled)
  - REFRESH_CREDENTIAL: long-lived credential (required with TOKEN_URL)
  - AUTH_CLIENT_ID: client identifier sent to the token endpoint
  - STATIC_TOKEN: fixed bearer token, bypasses refreshing
  - AUTH_TIMEOUT: token call bound (default: 10s)

Policy:
  - POLICY_RECOMPUTE_INTERVAL: engine timer period (default: 1m)
  - POLICY_BATTERY_AXIS: battery adaptation (default: true)
  - POLICY_ACTIVITY_AXIS: activity adaptation (default: true)
  - POLICY_STATIONARY_AXIS: stationary backoff (default: true)
  - TRACKING_INTERVAL: baseline delivery interval (default: 30s)
  - TRACKING_DISTANCE_METERS: baseline distance interval (default: 20)
  - TRACKING_ACCURACY: baseline accuracy level (default: high)

Geofence:
  - GEOFENCE_URL: region-list endpoint (default: disabled)
  - GEOFENCE_REFRESH_INTERVAL: re-fetch cadence (default: 15m)
  - GEOFENCE_TIMEOUT: fetch bound (default: 10s)

Health:
  - HEALTH_LIVENESS_INTERVAL: staleness/flush check period (default: 15m)
  - HEALTH_CLEANUP_INTERVAL: maintenance sweep period (default: 10m)
  - DELIVERY_STALE_AFTER: restart threshold (default: 30m)
  - HEALTH_RESUME_DELAY: pause length before resume (default: 5m)
  - HEALTH_MAX_RESTARTS: restart budget per window (default: 3)
  - HEALTH_RESTART_WINDOW: rolling budget window (default: 24h)

Server:
  - HTTP_HOST: bind address (default: 127.0.0.1)
  - HTTP_PORT: listen port (default: 8421)
  - HTTP_TIMEOUT: request read/write bound (default: 30s)
  - RATE_LIMIT_REQUESTS: requests per window (default: 120)
  - RATE_LIMIT_WINDOW: rate-limit window (default: 1m)
  - DISABLE_RATE_LIMIT: turn rate limiting off (default: false)

Logging:
  - LOG_LEVEL: trace, debug, info, warn, error, fatal (default: info)
  - LOG_FORMAT: json or console (default: json)
  - LOG_CALLER: include caller file and line (default: false)

# Usage

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal("Failed to load config:", err)
	}

	store, err := storage.Open(storage.Config{
	    Path:       cfg.Storage.Path,
	    SyncWrites: cfg.Storage.SyncWrites,
	})

# Validation

Load validates the assembled configuration before returning it. Required
fields, URL shapes, numeric ranges, and cross-field rules (for example
REFRESH_CREDENTIAL alongside TOKEN_URL) are all checked; a validation error
names the offending environment variable.

# Thread Safety

The returned Config is never mutated after Load and is safe for
concurrent reads.
*/
package config
