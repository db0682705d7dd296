// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package health

import (
	"context"
	"fmt"
	"time"

	"github.com/crewmint/shiftbeacon/internal/logging"
	"github.com/crewmint/shiftbeacon/internal/metrics"
	"github.com/crewmint/shiftbeacon/internal/models"
)

// Activate starts tracking on operator request: parameters are derived
// from the latest observed device state, the capture source is registered,
// and the status flips to active. A permission failure surfaces to the
// caller with the status left inactive.
//
// Activation is the manual intervention that clears the error state, so it
// also resets the restart budget.
func (m *Monitor) Activate(ctx context.Context) error {
	cfg := m.policy.Recompute()
	if err := m.tracker.Start(ctx, cfg); err != nil {
		return fmt.Errorf("activate tracking: %w", err)
	}

	if err := m.checkpoints.SaveRestartCounter(models.RestartAttemptCounter{}); err != nil {
		logging.Warn().Err(err).Msg("Failed to reset restart counter")
	}

	m.setStatus(models.StatusActive)
	m.mu.Lock()
	m.activatedAt = m.now()
	m.mu.Unlock()
	return nil
}

// Deactivate stops tracking on operator request and parks the agent in the
// inactive state. A pending resume timer is cancelled so a paused agent
// stays down.
func (m *Monitor) Deactivate(ctx context.Context) error {
	m.mu.Lock()
	if m.resumeTimer != nil {
		m.resumeTimer.Stop()
		m.resumeTimer = nil
	}
	m.mu.Unlock()

	err := m.tracker.Stop(ctx)
	m.setStatus(models.StatusInactive)
	if err != nil {
		return fmt.Errorf("deactivate tracking: %w", err)
	}
	return nil
}

// pause stops tracking because location services are off and schedules the
// timed resume attempt.
func (m *Monitor) pause(ctx context.Context) {
	if err := m.tracker.Stop(ctx); err != nil {
		logging.Warn().Err(err).Msg("Stop on pause failed")
	}
	m.setStatus(models.StatusPaused)
	m.scheduleResume(ctx)

	logging.Info().
		Dur("resume_in", m.opts.ResumeDelay).
		Msg("Location services disabled, tracking paused")
}

func (m *Monitor) scheduleResume(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resumeTimer != nil {
		m.resumeTimer.Stop()
	}
	m.resumeTimer = time.AfterFunc(m.opts.ResumeDelay, func() { m.resume(ctx) })
}

// resume fires when the pause delay lapses. Services still being off defer
// the attempt for another delay instead of burning a restart attempt on a
// registration that cannot succeed.
func (m *Monitor) resume(ctx context.Context) {
	if ctx.Err() != nil || m.Status() != models.StatusPaused {
		return
	}

	enabled, err := m.tracker.ServicesEnabled(ctx)
	if err == nil && !enabled {
		logging.Debug().Msg("Location services still disabled, resume deferred")
		m.scheduleResume(ctx)
		return
	}

	logging.Info().Msg("Resume timer fired, restarting tracking")
	if err := m.attemptRestart(ctx); err != nil {
		logging.Error().Err(err).Msg("Resume restart failed")
		if m.Status() == models.StatusPaused {
			m.scheduleResume(ctx)
		}
	}
}

// attemptRestart runs the auto-heal procedure: check the budget, stop the
// (possibly dead) registration, re-derive parameters, register again. Only
// failed attempts consume budget; when the budget is gone the status
// becomes error and ErrRestartBudgetExceeded is returned without touching
// the tracker.
func (m *Monitor) attemptRestart(ctx context.Context) error {
	now := m.now()

	counter, err := m.checkpoints.RestartCounter()
	if err != nil {
		counter = models.RestartAttemptCounter{}
	}
	if counter.Count > 0 && counter.Expired(now, m.opts.RestartWindow) {
		logging.Debug().
			Time("window_start", counter.WindowStart).
			Msg("Restart budget window lapsed, counter reset")
		counter = models.RestartAttemptCounter{}
	}
	if counter.Count >= m.opts.MaxRestarts {
		metrics.RestartAttempts.WithLabelValues("budget_exceeded").Inc()
		m.setStatus(models.StatusError)
		logging.Error().
			Int("attempts", counter.Count).
			Time("window_start", counter.WindowStart).
			Msg("Restart budget exhausted, tracking needs manual intervention")
		return ErrRestartBudgetExceeded
	}

	if err := m.tracker.Stop(ctx); err != nil {
		logging.Warn().Err(err).Msg("Stop before restart failed, continuing")
	}

	cfg := m.policy.Recompute()
	if err := m.tracker.Start(ctx, cfg); err != nil {
		counter.Count++
		if counter.Count == 1 {
			counter.WindowStart = now
		}
		if serr := m.checkpoints.SaveRestartCounter(counter); serr != nil {
			logging.Warn().Err(serr).Msg("Failed to persist restart counter")
		}
		metrics.RestartAttempts.WithLabelValues("failure").Inc()
		return fmt.Errorf("restart tracking (attempt %d of %d): %w", counter.Count, m.opts.MaxRestarts, err)
	}

	metrics.RestartAttempts.WithLabelValues("success").Inc()
	m.setStatus(models.StatusActive)
	m.mu.Lock()
	m.activatedAt = now
	m.mu.Unlock()

	logging.Info().
		Int64("interval_ms", cfg.TimeIntervalMs).
		Msg("Tracking restarted")
	return nil
}

// maybeRearm re-arms the auto-heal loop from the error state once the
// budget window has lapsed.
func (m *Monitor) maybeRearm(ctx context.Context) {
	counter, err := m.checkpoints.RestartCounter()
	if err != nil {
		return
	}
	if !counter.Expired(m.now(), m.opts.RestartWindow) {
		return
	}

	logging.Info().Msg("Restart budget window lapsed, re-arming auto-heal")
	if err := m.attemptRestart(ctx); err != nil {
		logging.Error().Err(err).Msg("Re-armed restart failed")
	}
}

// setStatus is the single mutation point of the tracking status: persisted,
// exported as a metric, and logged on every transition.
func (m *Monitor) setStatus(status models.TrackingStatus) {
	m.mu.Lock()
	previous := m.status
	if previous == status {
		m.mu.Unlock()
		return
	}
	m.status = status
	m.mu.Unlock()

	if err := m.checkpoints.SaveStatus(status); err != nil {
		logging.Warn().Err(err).Msg("Failed to persist tracking status")
	}
	metrics.SetTrackingStatus(string(status))

	logging.Info().
		Str("from", string(previous)).
		Str("to", string(status)).
		Msg("Tracking status changed")
}
