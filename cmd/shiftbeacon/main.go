// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

// Package main is the entry point for the Shiftbeacon agent.
//
// Shiftbeacon is the background location telemetry agent of a workforce
// shift-tracking system. The host application launches the agent for the
// duration of a shift and pushes raw position fixes to its local intake
// endpoint; the agent rate-limits them, adapts the sampling parameters to
// battery and movement, evaluates geofence membership, and delivers the
// surviving samples upstream over a persistent socket with an HTTP
// fallback and a durable offline queue.
//
// # Application Architecture
//
// The agent initializes components in the following order:
//
//  1. Configuration: load settings from environment variables and config files (Koanf v2)
//  2. Storage: open the shared BadgerDB instance backing queue and state
//  3. Delivery: token source, ingest client, reachability probe, socket session
//  4. Capture: host fix source and the rate-limiting tracker
//  5. Policy: adaptive sampling engine seeded with the persisted config
//  6. Health: liveness, cleanup, and auto-restart loops
//  7. HTTP Server: local API for fix intake, status, and Prometheus metrics
//  8. Supervisor: suture tree hosting every long-running service
//
// Starting the process is the start request: once the supervisor tree is
// serving, the agent activates tracking. A crash mid-shift therefore
// resumes automatically when the process is relaunched, picking up the
// persisted tracking config, rate limiter checkpoints, and offline queue.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (see internal/config)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// The two required settings are the worker attribution and the upstream
// ingest endpoint:
//   - USER_ID: worker identifier stamped on every sample
//   - INGEST_URL: location-ingest service base URL
//
// # Signal Handling
//
// The agent handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new fixes and drains in-flight requests
//   - Cancels the policy, health, and geofence timers
//   - Closes the delivery socket and clears its references
//   - Deregisters capture and persists the final tracking status
//
// # Example Usage
//
// Minimal HTTP-only delivery:
//
//	export USER_ID=worker-042
//	export INGEST_URL=https://ingest.example.com/api/v1
//	./shiftbeacon
//
// Socket-primary delivery with geofencing and a token service:
//
//	export USER_ID=worker-042
//	export INGEST_URL=https://ingest.example.com/api/v1
//	export SOCKET_URL=wss://ingest.example.com/live
//	export GEOFENCE_URL=https://api.example.com/geofences
//	export TOKEN_URL=https://auth.example.com/oauth/token
//	export REFRESH_CREDENTIAL=your-refresh-token
//	./shiftbeacon
//
// The local API binds to 127.0.0.1:8421 by default; the host application
// POSTs fixes to /v1/fix and reads /v1/status for the advertised tracking
// parameters.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/crewmint/shiftbeacon/internal/api"
	"github.com/crewmint/shiftbeacon/internal/auth"
	"github.com/crewmint/shiftbeacon/internal/capture"
	"github.com/crewmint/shiftbeacon/internal/config"
	"github.com/crewmint/shiftbeacon/internal/delivery"
	"github.com/crewmint/shiftbeacon/internal/geofence"
	"github.com/crewmint/shiftbeacon/internal/health"
	"github.com/crewmint/shiftbeacon/internal/logging"
	"github.com/crewmint/shiftbeacon/internal/models"
	"github.com/crewmint/shiftbeacon/internal/policy"
	"github.com/crewmint/shiftbeacon/internal/queue"
	"github.com/crewmint/shiftbeacon/internal/state"
	"github.com/crewmint/shiftbeacon/internal/storage"
	"github.com/crewmint/shiftbeacon/internal/supervisor"
	"github.com/crewmint/shiftbeacon/internal/supervisor/services"
)

// reachabilityTTL is how long one probe verdict is reused before the
// ingest host is probed again.
const reachabilityTTL = 10 * time.Second

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize zerolog with configuration
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("Starting Shiftbeacon agent")

	// A session identifier attributes samples to one shift. The host can
	// pin it; otherwise each process run is its own session.
	sessionID := cfg.Agent.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	logging.Info().
		Str("user_id", cfg.Agent.UserID).
		Str("session_id", sessionID).
		Str("ingest_url", cfg.Delivery.IngestURL).
		Str("storage_path", cfg.Storage.Path).
		Msg("Configuration loaded")

	// Open the shared Badger instance backing the offline queue and the
	// persisted agent state.
	storeCfg := storage.DefaultConfig()
	storeCfg.Path = cfg.Storage.Path
	storeCfg.SyncWrites = cfg.Storage.SyncWrites
	store, err := storage.Open(storeCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing storage")
		}
	}()
	logging.Info().Str("path", cfg.Storage.Path).Msg("Storage opened")

	stateStore := state.New(store)

	spool, err := queue.New(store, queue.DefaultOptions())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open offline queue")
	}

	// Bearer credential source shared by delivery and geofence fetching.
	tokens, err := auth.New(auth.Options{
		TokenURL:          cfg.Auth.TokenURL,
		RefreshCredential: cfg.Auth.RefreshCredential,
		ClientID:          cfg.Auth.ClientID,
		StaticToken:       cfg.Auth.StaticToken,
		RequestTimeout:    cfg.Auth.RequestTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create token source")
	}

	ingest, err := delivery.NewIngestClient(delivery.IngestOptions{
		BaseURL:        cfg.Delivery.IngestURL,
		RequestTimeout: cfg.Delivery.RequestTimeout,
	}, tokens)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create ingest client")
	}

	probe, err := delivery.NewProber(cfg.Delivery.IngestURL, reachabilityTTL)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create reachability probe")
	}

	// Socket channel is optional; without it every delivery goes over HTTP.
	var socket *delivery.SocketSession
	if cfg.Delivery.SocketURL != "" {
		socket, err = delivery.NewSocketSession(delivery.SocketOptions{
			URL:               cfg.Delivery.SocketURL,
			UserID:            cfg.Agent.UserID,
			Tokens:            tokens,
			HandshakeTimeout:  cfg.Delivery.HandshakeTimeout,
			ReconnectInterval: cfg.Delivery.ReconnectInterval,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create socket session")
		}
		logging.Info().Str("socket_url", cfg.Delivery.SocketURL).Msg("Socket channel enabled")
	} else {
		logging.Info().Msg("Socket channel disabled (SOCKET_URL not set)")
	}

	uplink, err := delivery.New(socket, ingest, probe, spool, stateStore, delivery.Options{
		DrainBatch: cfg.Delivery.DrainBatch,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create delivery manager")
	}

	// Geofence membership is optional; without an endpoint samples carry
	// no site annotation.
	var regions *geofence.Provider
	if cfg.Geofence.Endpoint != "" {
		regions = geofence.NewProvider(geofence.Options{
			Endpoint:        cfg.Geofence.Endpoint,
			RefreshInterval: cfg.Geofence.RefreshInterval,
			RequestTimeout:  cfg.Geofence.RequestTimeout,
			Tokens:          tokens,
		})
		logging.Info().Str("endpoint", cfg.Geofence.Endpoint).Msg("Geofence evaluation enabled")
	} else {
		logging.Info().Msg("Geofence evaluation disabled (GEOFENCE_URL not set)")
	}

	// The host source advertises registration state to the host app; the
	// fixes themselves arrive through the local API.
	source := capture.NewHostSource()

	var sites capture.SiteEvaluator
	if regions != nil {
		sites = regions
	}
	tracker := capture.New(capture.Options{
		UserID:    cfg.Agent.UserID,
		SessionID: sessionID,
	}, source, spool, uplink, stateStore, sites)

	// Seed the policy engine with the previous run's config so a restart
	// resumes with identical parameters.
	axes := policy.Axes{
		Battery:    cfg.Policy.BatteryAxis,
		Activity:   cfg.Policy.ActivityAxis,
		Stationary: cfg.Policy.StationaryAxis,
	}
	defaults := policy.Defaults{
		Interval:       cfg.Policy.Interval,
		DistanceMeters: cfg.Policy.DistanceMeters,
		Accuracy:       models.AccuracyLevel(cfg.Policy.Accuracy),
	}
	initial := policy.Resolve(axes, defaults, policy.Inputs{BatteryLevel: 100})
	if persisted, err := stateStore.TrackingConfig(); err == nil {
		initial = persisted
		logging.Info().
			Int64("interval_ms", persisted.TimeIntervalMs).
			Str("accuracy", string(persisted.AccuracyLevel)).
			Msg("Resuming with persisted tracking config")
	}
	engine := policy.NewEngine(policy.Options{
		Axes:      axes,
		Defaults:  defaults,
		Recompute: cfg.Policy.RecomputeInterval,
	}, initial, tracker, tracker, stateStore)

	monitor, err := health.New(health.Options{
		Liveness:           cfg.Health.LivenessInterval,
		Cleanup:            cfg.Health.CleanupInterval,
		DeliveryStaleAfter: cfg.Health.DeliveryStaleAfter,
		ResumeDelay:        cfg.Health.ResumeDelay,
		MaxRestarts:        cfg.Health.MaxRestarts,
		RestartWindow:      cfg.Health.RestartWindow,
	}, tracker, engine, uplink, spool, stateStore)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create health monitor")
	}

	// Local API for the host application.
	deps := api.Deps{
		Tracker:     tracker,
		Health:      monitor,
		Delivery:    uplink,
		Checkpoints: stateStore,
	}
	if socket != nil {
		deps.Socket = socket
	}
	if regions != nil {
		deps.Regions = regions
	}
	srv, err := api.New(api.Options{
		RateLimitReqs:     cfg.Server.RateLimitReqs,
		RateLimitWindow:   cfg.Server.RateLimitWindow,
		RateLimitDisabled: cfg.Server.RateLimitDisabled,
	}, deps)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create API server")
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog compatibility
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	// === ADD SERVICES TO SUPERVISOR TREE ===

	tree.AddDataService(services.NewMaintenanceService(storage.NewMaintainer(store, cfg.Storage.GCInterval)))

	tree.AddTelemetryService(services.NewPolicyService(engine))
	tree.AddTelemetryService(services.NewDeliveryService(uplink))
	tree.AddTelemetryService(services.NewHealthService(monitor))
	if regions != nil {
		tree.AddTelemetryService(services.NewGeofenceService(regions))
	}

	tree.AddAPIService(services.NewHTTPServerService(httpServer, 10*time.Second))
	logging.Info().Str("addr", httpServer.Addr).Msg("HTTP server service added")

	// === START SUPERVISOR TREE ===

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// Process start is the start request: the host launches the agent for
	// the duration of a shift, so tracking activates as soon as the tree
	// serves. A permission failure leaves the agent inactive but serving,
	// visible through the status endpoint.
	if err := monitor.Activate(ctx); err != nil {
		logging.Error().Err(err).Msg("Failed to activate tracking")
	}

	// Wait for supervisor to finish (either from signal or error)
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	// Report any services that failed to stop within timeout
	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	// The tree already cancelled the timers and closed the socket;
	// deregister capture and persist the final status while storage is
	// still open.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := monitor.Deactivate(stopCtx); err != nil {
		logging.Warn().Err(err).Msg("Error stopping tracking")
	}
	stopCancel()

	logging.Info().Msg("Agent stopped gracefully")
}
