// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

// Package health owns the tracking lifecycle. The monitor is the only
// writer of the TrackingStatus state machine and runs the agent's two
// maintenance timers: a liveness check that restarts stalled tracking and
// flushes the backlog, and a cleanup pass that sweeps expired queue
// entries and stale history.
//
// The auto-heal loop is budgeted: after three failed restart attempts
// inside a rolling 24-hour window the agent parks in the error state until
// the window lapses or an operator reactivates it.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crewmint/shiftbeacon/internal/logging"
	"github.com/crewmint/shiftbeacon/internal/metrics"
	"github.com/crewmint/shiftbeacon/internal/models"
)

// ErrRestartBudgetExceeded is returned when the auto-heal loop has used up
// its restart attempts for the rolling window. One of the two errors the
// agent surfaces to the operator.
var ErrRestartBudgetExceeded = fmt.Errorf("automatic restart budget exceeded")

const (
	defaultLiveness      = 15 * time.Minute
	defaultCleanup       = 10 * time.Minute
	defaultStaleAfter    = 30 * time.Minute
	defaultResumeDelay   = 5 * time.Minute
	defaultMaxRestarts   = 3
	defaultRestartWindow = 24 * time.Hour
)

// Tracker is the capture pipeline the monitor supervises. Satisfied by
// capture.Tracker.
type Tracker interface {
	Start(ctx context.Context, cfg models.TrackingConfig) error
	Stop(ctx context.Context) error
	ServicesEnabled(ctx context.Context) (bool, error)
	TrimHistory() int
}

// Policy re-derives tracking parameters for activation and restarts.
// Satisfied by policy.Engine.
type Policy interface {
	Recompute() models.TrackingConfig
}

// Flusher drains the offline queue when delivery is healthy. Satisfied by
// delivery.Manager.
type Flusher interface {
	Drain(ctx context.Context) (int, error)
}

// Spool is the offline-queue view the maintenance loops need. Satisfied by
// queue.Queue.
type Spool interface {
	PurgeExpired(ctx context.Context) (int, error)
	Depth(ctx context.Context) (int, error)
}

// Checkpoints is the persisted state the monitor owns or reads. Satisfied
// by state.Store.
type Checkpoints interface {
	SaveStatus(status models.TrackingStatus) error
	Status() (models.TrackingStatus, error)
	SaveRestartCounter(c models.RestartAttemptCounter) error
	RestartCounter() (models.RestartAttemptCounter, error)
	LastDelivered() (models.Coordinate, time.Time, error)
}

// Options configures the monitor's timers and restart budget. Zero values
// take the production defaults; tests shrink them.
type Options struct {
	// Liveness is the period of the staleness/flush check. Default: 15m.
	Liveness time.Duration

	// Cleanup is the period of the maintenance sweep. Default: 10m.
	Cleanup time.Duration

	// DeliveryStaleAfter is how long without a successful delivery before
	// tracking is restarted. Default: 30m.
	DeliveryStaleAfter time.Duration

	// ResumeDelay is how long a services-disabled pause lasts before the
	// resume attempt. Default: 5m.
	ResumeDelay time.Duration

	// MaxRestarts bounds failed automatic restarts per window. Default: 3.
	MaxRestarts int

	// RestartWindow is the rolling budget window. Default: 24h.
	RestartWindow time.Duration
}

// Monitor owns the tracking status and the maintenance loops.
type Monitor struct {
	opts        Options
	tracker     Tracker
	policy      Policy
	flusher     Flusher
	spool       Spool
	checkpoints Checkpoints

	// Control
	ctx    context.Context
	cancel context.CancelFunc

	// State - all protected by mu
	mu          sync.Mutex
	running     bool
	stopping    bool
	stopDone    chan struct{}
	status      models.TrackingStatus
	activatedAt time.Time
	resumeTimer *time.Timer

	// now is the clock; replaced in tests.
	now func() time.Time
}

// New builds a Monitor and restores the persisted status so the process
// picks up where the previous run left off.
func New(opts Options, tracker Tracker, policy Policy, flusher Flusher, spool Spool, checkpoints Checkpoints) (*Monitor, error) {
	if tracker == nil {
		return nil, fmt.Errorf("health: tracker is required")
	}
	if policy == nil {
		return nil, fmt.Errorf("health: policy engine is required")
	}
	if flusher == nil {
		return nil, fmt.Errorf("health: flusher is required")
	}
	if spool == nil {
		return nil, fmt.Errorf("health: offline queue is required")
	}
	if checkpoints == nil {
		return nil, fmt.Errorf("health: state store is required")
	}

	if opts.Liveness <= 0 {
		opts.Liveness = defaultLiveness
	}
	if opts.Cleanup <= 0 {
		opts.Cleanup = defaultCleanup
	}
	if opts.DeliveryStaleAfter <= 0 {
		opts.DeliveryStaleAfter = defaultStaleAfter
	}
	if opts.ResumeDelay <= 0 {
		opts.ResumeDelay = defaultResumeDelay
	}
	if opts.MaxRestarts <= 0 {
		opts.MaxRestarts = defaultMaxRestarts
	}
	if opts.RestartWindow <= 0 {
		opts.RestartWindow = defaultRestartWindow
	}

	status := models.StatusInactive
	if persisted, err := checkpoints.Status(); err == nil && persisted.Valid() {
		status = persisted
	}
	metrics.SetTrackingStatus(string(status))

	return &Monitor{
		opts:        opts,
		tracker:     tracker,
		policy:      policy,
		flusher:     flusher,
		spool:       spool,
		checkpoints: checkpoints,
		status:      status,
		now:         time.Now,
	}, nil
}

// Start begins the liveness and cleanup loops. It does not start tracking;
// that is Activate's job.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()

	for m.stopping {
		stopDone := m.stopDone
		m.mu.Unlock()
		<-stopDone
		m.mu.Lock()
	}

	if m.running {
		m.mu.Unlock()
		return nil
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	m.stopDone = make(chan struct{})

	loopCtx := m.ctx
	done := m.stopDone

	m.mu.Unlock()

	go m.runWithContext(loopCtx, done)

	logging.Info().
		Dur("liveness", m.opts.Liveness).
		Dur("cleanup", m.opts.Cleanup).
		Str("status", string(m.Status())).
		Msg("Health monitor started")
	return nil
}

// Stop halts the maintenance loops and cancels a pending resume timer. It
// does not stop tracking itself; Deactivate does.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running || m.stopping {
		m.mu.Unlock()
		return
	}

	m.cancel()
	if m.resumeTimer != nil {
		m.resumeTimer.Stop()
		m.resumeTimer = nil
	}
	m.running = false
	m.stopping = true
	stopDone := m.stopDone
	m.mu.Unlock()

	<-stopDone

	m.mu.Lock()
	m.stopping = false
	m.mu.Unlock()

	logging.Info().Msg("Health monitor stopped")
}

// IsRunning returns whether the maintenance loops are active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Status returns the current tracking status. The monitor is the only
// writer; everyone else reads through here.
func (m *Monitor) Status() models.TrackingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// runWithContext is the maintenance loop goroutine. The context is passed
// as a parameter to avoid races with Stop().
func (m *Monitor) runWithContext(ctx context.Context, done chan struct{}) {
	defer close(done)

	liveness := time.NewTicker(m.opts.Liveness)
	defer liveness.Stop()
	cleanup := time.NewTicker(m.opts.Cleanup)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-liveness.C:
			m.liveness(ctx)
		case <-cleanup.C:
			m.cleanup(ctx)
		}
	}
}

// liveness is one pass of the health check. Paused tracking is owned by
// the resume timer and inactive tracking by the operator, so only the
// active and error states have work here.
func (m *Monitor) liveness(ctx context.Context) {
	m.updateDeliveryAge()

	switch m.Status() {
	case models.StatusActive:
		m.checkActive(ctx)
	case models.StatusError:
		m.maybeRearm(ctx)
	}
}

// checkActive pauses on disabled location services, restarts stalled
// tracking, and flushes the backlog when delivery is healthy.
func (m *Monitor) checkActive(ctx context.Context) {
	enabled, err := m.tracker.ServicesEnabled(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to check location services")
	} else if !enabled {
		m.pause(ctx)
		return
	}

	if stale, age := m.deliveryStale(); stale {
		logging.Warn().
			Dur("age", age).
			Int("queue_depth", m.queueDepth(ctx)).
			Msg("No successful delivery inside the staleness window, restarting tracking")
		if err := m.attemptRestart(ctx); err != nil {
			logging.Error().Err(err).
				Str("status", string(m.Status())).
				Msg("Automatic restart failed")
		}
		return
	}

	if depth := m.queueDepth(ctx); depth > 0 {
		logging.Debug().Int("queue_depth", depth).Msg("Delivery healthy with backlog, flushing")
		if _, err := m.flusher.Drain(ctx); err != nil {
			logging.Debug().Err(err).Msg("Backlog flush stopped early")
		}
	}
}

// deliveryStale measures the age of the last successful delivery. The
// activation time anchors the measurement when nothing has been delivered
// yet, so a tracker that never delivers still counts as stalled.
func (m *Monitor) deliveryStale() (bool, time.Duration) {
	m.mu.Lock()
	anchor := m.activatedAt
	m.mu.Unlock()

	if _, at, err := m.checkpoints.LastDelivered(); err == nil && at.After(anchor) {
		anchor = at
	}
	if anchor.IsZero() {
		return false, 0
	}

	age := m.now().Sub(anchor)
	return age > m.opts.DeliveryStaleAfter, age
}

func (m *Monitor) updateDeliveryAge() {
	if _, at, err := m.checkpoints.LastDelivered(); err == nil {
		metrics.LastDeliveryAge.Set(m.now().Sub(at).Seconds())
	}
}

func (m *Monitor) queueDepth(ctx context.Context) int {
	depth, err := m.spool.Depth(ctx)
	if err != nil {
		return 0
	}
	return depth
}

// cleanup is one maintenance sweep: expired queue entries and stale history
// samples. Storage value-log GC runs separately under the data layer.
func (m *Monitor) cleanup(ctx context.Context) {
	purged, err := m.spool.PurgeExpired(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("Queue purge failed")
	}

	trimmed := m.tracker.TrimHistory()

	if purged > 0 || trimmed > 0 {
		logging.Info().
			Int("purged", purged).
			Int("trimmed", trimmed).
			Msg("Cleanup pass complete")
	}
}
