// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all agent configuration loaded from defaults, an optional
// YAML file, and environment variables.
//
// Configuration loading order (Koanf v2):
//  1. Defaults: built-in values for every setting
//  2. Config file: optional YAML file (config.yaml) for persistent settings
//  3. Environment variables: override any setting
//
// Configuration categories:
//
//  1. Identity:
//     - Agent: worker and shift-session attribution for every sample
//
//  2. Telemetry pipeline:
//     - Delivery: socket and HTTP ingest endpoints, timeouts, drain batch
//     - Auth: bearer credential refresh against the token endpoint
//     - Policy: adaptive sampling axes and the baseline tracking parameters
//     - Geofence: work-site region list endpoint and refresh cadence
//     - Health: liveness, staleness, and restart-budget timers
//
//  3. Infrastructure:
//     - Storage: Badger directory, durability, and value-log GC cadence
//     - Server: local HTTP API (bind address, timeouts, rate limiting)
//
//  4. Observability:
//     - Logging: log level and output formats
//
// Example - load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal("Failed to load config:", err)
//	}
//	// cfg.Agent.UserID, cfg.Delivery.IngestURL, etc. are now populated
//
// Validation:
// Load() validates the assembled configuration and returns an error if:
//   - Required settings are missing (USER_ID, INGEST_URL)
//   - Values are malformed (invalid URL format, out-of-range numbers)
//   - Credential refresh is configured but incomplete
//
// Thread safety:
// Config is immutable after Load() and safe for concurrent read access.
type Config struct {
	Agent    AgentConfig    `koanf:"agent"`
	Storage  StorageConfig  `koanf:"storage"`
	Delivery DeliveryConfig `koanf:"delivery"`
	Auth     AuthConfig     `koanf:"auth"`
	Policy   PolicyConfig   `koanf:"policy"`
	Geofence GeofenceConfig `koanf:"geofence"`
	Health   HealthConfig   `koanf:"health"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// AgentConfig identifies the worker this agent reports for.
type AgentConfig struct {
	// UserID attributes every sample to a worker. Required.
	// Env: USER_ID
	UserID string `koanf:"user_id"`

	// SessionID attributes samples to a shift session. Empty generates a
	// fresh session identifier at startup.
	// Env: SESSION_ID
	SessionID string `koanf:"session_id"`
}

// StorageConfig holds the embedded Badger store settings.
type StorageConfig struct {
	// Path is the directory where the store keeps its files. Should be on
	// a durable filesystem (not tmpfs).
	// Env: STORAGE_PATH (default: /data/shiftbeacon)
	Path string `koanf:"path"`

	// SyncWrites forces fsync after every write. Disabling trades
	// durability of the last few writes for lower write latency.
	// Env: STORAGE_SYNC_WRITES (default: true)
	SyncWrites bool `koanf:"sync_writes"`

	// GCInterval is the cadence of the value-log garbage collection pass.
	// Env: STORAGE_GC_INTERVAL (default: 10m)
	GCInterval time.Duration `koanf:"gc_interval" validate:"gt=0"`
}

// DeliveryConfig holds the sample delivery endpoints and tuning.
type DeliveryConfig struct {
	// IngestURL is the base URL of the location-ingest service. Samples
	// are POSTed beneath it. Required.
	// Env: INGEST_URL
	IngestURL string `koanf:"ingest_url"`

	// SocketURL is the realtime socket endpoint. Empty disables the
	// socket channel; every sample then goes over HTTP.
	// Env: SOCKET_URL
	SocketURL string `koanf:"socket_url"`

	// RequestTimeout bounds one ingest POST.
	// Env: DELIVERY_TIMEOUT (default: 10s)
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`

	// HandshakeTimeout bounds one socket dial.
	// Env: SOCKET_HANDSHAKE_TIMEOUT (default: 5s)
	HandshakeTimeout time.Duration `koanf:"handshake_timeout" validate:"gt=0"`

	// ReconnectInterval is the fixed redial cadence while the socket is
	// down and references are held.
	// Env: SOCKET_RECONNECT_INTERVAL (default: 60s)
	ReconnectInterval time.Duration `koanf:"reconnect_interval" validate:"gt=0"`

	// DrainBatch bounds offline-queue entries flushed per successful
	// delivery.
	// Env: DELIVERY_DRAIN_BATCH (default: 5)
	DrainBatch int `koanf:"drain_batch" validate:"min=1"`
}

// AuthConfig holds the bearer credential settings for the delivery and
// geofence endpoints.
type AuthConfig struct {
	// TokenURL is the external token endpoint. Empty disables refreshing;
	// the agent then uses StaticToken unchanged.
	// Env: TOKEN_URL
	TokenURL string `koanf:"token_url"`

	// RefreshCredential is the long-lived credential exchanged for bearer
	// tokens. Required together with TokenURL.
	// Env: REFRESH_CREDENTIAL
	RefreshCredential string `koanf:"refresh_credential"`

	// ClientID identifies the agent to the token endpoint. Optional.
	// Env: AUTH_CLIENT_ID
	ClientID string `koanf:"client_id"`

	// StaticToken bypasses the refresh flow entirely. Optional.
	// Env: STATIC_TOKEN
	StaticToken string `koanf:"static_token"`

	// RequestTimeout bounds one token endpoint call.
	// Env: AUTH_TIMEOUT (default: 10s)
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
}

// PolicyConfig holds the adaptive sampling policy settings. The baseline
// parameters are what the policy engine tightens from; with every axis
// disabled they are the parameters in effect.
type PolicyConfig struct {
	// RecomputeInterval is the policy engine's own timer period. The
	// engine recomputes on this timer, not per sample.
	// Env: POLICY_RECOMPUTE_INTERVAL (default: 1m)
	RecomputeInterval time.Duration `koanf:"recompute_interval" validate:"gt=0"`

	// BatteryAxis adapts interval and accuracy to battery level.
	// Env: POLICY_BATTERY_AXIS (default: true)
	BatteryAxis bool `koanf:"battery_axis"`

	// ActivityAxis adapts the interval to detected motion activity.
	// Env: POLICY_ACTIVITY_AXIS (default: true)
	ActivityAxis bool `koanf:"activity_axis"`

	// StationaryAxis backs the interval off while the device sits still.
	// Env: POLICY_STATIONARY_AXIS (default: true)
	StationaryAxis bool `koanf:"stationary_axis"`

	// Interval is the baseline delivery interval. Must be at least one
	// second.
	// Env: TRACKING_INTERVAL (default: 30s)
	Interval time.Duration `koanf:"interval" validate:"gt=0"`

	// DistanceMeters is the baseline distance interval.
	// Env: TRACKING_DISTANCE_METERS (default: 20)
	DistanceMeters float64 `koanf:"distance_meters" validate:"min=0"`

	// Accuracy is the baseline accuracy level: lowest, low, balanced,
	// high, or highest.
	// Env: TRACKING_ACCURACY (default: high)
	Accuracy string `koanf:"accuracy"`
}

// GeofenceConfig holds the work-site region provider settings.
type GeofenceConfig struct {
	// Endpoint is the geofence-list URL. Empty disables fetching; the
	// agent then evaluates against an empty region list.
	// Env: GEOFENCE_URL
	Endpoint string `koanf:"endpoint"`

	// RefreshInterval is how often the region list is re-fetched.
	// Env: GEOFENCE_REFRESH_INTERVAL (default: 15m)
	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"gt=0"`

	// RequestTimeout bounds a single region-list fetch.
	// Env: GEOFENCE_TIMEOUT (default: 10s)
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
}

// HealthConfig holds the health monitor timers and the automatic restart
// budget.
type HealthConfig struct {
	// LivenessInterval is the period of the staleness and flush check.
	// Env: HEALTH_LIVENESS_INTERVAL (default: 15m)
	LivenessInterval time.Duration `koanf:"liveness_interval" validate:"gt=0"`

	// CleanupInterval is the period of the maintenance sweep.
	// Env: HEALTH_CLEANUP_INTERVAL (default: 10m)
	CleanupInterval time.Duration `koanf:"cleanup_interval" validate:"gt=0"`

	// DeliveryStaleAfter is how long without a successful delivery before
	// tracking is restarted.
	// Env: DELIVERY_STALE_AFTER (default: 30m)
	DeliveryStaleAfter time.Duration `koanf:"delivery_stale_after" validate:"gt=0"`

	// ResumeDelay is how long a services-disabled pause lasts before the
	// resume attempt.
	// Env: HEALTH_RESUME_DELAY (default: 5m)
	ResumeDelay time.Duration `koanf:"resume_delay" validate:"gt=0"`

	// MaxRestarts bounds failed automatic restarts per rolling window.
	// Env: HEALTH_MAX_RESTARTS (default: 3)
	MaxRestarts int `koanf:"max_restarts" validate:"min=0"`

	// RestartWindow is the rolling restart-budget window.
	// Env: HEALTH_RESTART_WINDOW (default: 24h)
	RestartWindow time.Duration `koanf:"restart_window" validate:"gt=0"`
}

// ServerConfig holds the local HTTP API settings. The API serves fix
// intake, status, health, and metrics and binds to loopback by default.
type ServerConfig struct {
	// Host is the bind address.
	// Env: HTTP_HOST (default: 127.0.0.1)
	Host string `koanf:"host"`

	// Port is the listen port.
	// Env: HTTP_PORT (default: 8421)
	Port int `koanf:"port" validate:"min=1,max=65535"`

	// Timeout bounds request reads and response writes.
	// Env: HTTP_TIMEOUT (default: 30s)
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// RateLimitReqs is the per-client request budget per window.
	// Env: RATE_LIMIT_REQUESTS (default: 120)
	RateLimitReqs int `koanf:"rate_limit_reqs" validate:"min=1"`

	// RateLimitWindow is the rate-limit window.
	// Env: RATE_LIMIT_WINDOW (default: 1m)
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gt=0"`

	// RateLimitDisabled turns request rate limiting off.
	// Env: DISABLE_RATE_LIMIT (default: false)
	RateLimitDisabled bool `koanf:"rate_limit_disabled"`
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error, fatal.
	// Env: LOG_LEVEL (default: info)
	Level string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`

	// Format is the output format: json or console.
	// JSON is structured and machine-parseable; console is human-readable
	// for development.
	// Env: LOG_FORMAT (default: json)
	Format string `koanf:"format" validate:"oneof=json console"`

	// Caller includes caller file and line number in logs.
	// Env: LOG_CALLER (default: false)
	Caller bool `koanf:"caller"`
}
