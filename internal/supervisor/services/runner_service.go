// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package services

import (
	"context"
	"fmt"
)

// Runner is the lifecycle contract shared by the agent's background loops.
//
// This interface allows the wrapper to work with the actual components
// without importing their packages, avoiding circular dependencies.
//
// Satisfied by:
//   - *policy.Engine from internal/policy/engine.go
//   - *health.Monitor from internal/health/monitor.go
//   - *geofence.Provider from internal/geofence/provider.go
//   - *storage.Maintainer from internal/storage/maintenance.go
type Runner interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
}

// RunnerService adapts a Runner to suture's Serve pattern:
//  1. Calls Start(ctx) to begin the component's loop
//  2. Waits for context cancellation
//  3. Calls Stop() for graceful shutdown (blocks until the loop exits)
//
// If Start() fails, the error is returned immediately, causing suture to
// restart the service according to its backoff policy.
type RunnerService struct {
	runner Runner
	name   string
}

// NewRunnerService creates a wrapper around any Runner. The name identifies
// the service in suture's event log.
func NewRunnerService(name string, runner Runner) *RunnerService {
	return &RunnerService{
		runner: runner,
		name:   name,
	}
}

// NewPolicyService wraps the adaptive policy engine for the telemetry layer.
func NewPolicyService(engine Runner) *RunnerService {
	return NewRunnerService("policy-engine", engine)
}

// NewHealthService wraps the health monitor for the telemetry layer.
func NewHealthService(monitor Runner) *RunnerService {
	return NewRunnerService("health-monitor", monitor)
}

// NewGeofenceService wraps the geofence region refresher for the telemetry
// layer.
func NewGeofenceService(provider Runner) *RunnerService {
	return NewRunnerService("geofence-refresher", provider)
}

// NewMaintenanceService wraps the storage maintainer for the data layer.
func NewMaintenanceService(maintainer Runner) *RunnerService {
	return NewRunnerService("storage-maintenance", maintainer)
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	if err := s.runner.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}

	// Wait for shutdown signal
	<-ctx.Done()

	// Stop blocks until the component's loop goroutine has exited
	s.runner.Stop()

	return ctx.Err()
}

// String implements fmt.Stringer for logging.
// Suture uses this to identify the service in log messages.
func (s *RunnerService) String() string {
	return s.name
}
