// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package policy

import (
	"context"
	"sync"
	"time"

	"github.com/crewmint/shiftbeacon/internal/logging"
	"github.com/crewmint/shiftbeacon/internal/metrics"
	"github.com/crewmint/shiftbeacon/internal/models"
)

// InputSource supplies the latest device-state snapshot. Satisfied by the
// capture rate limiter.
type InputSource interface {
	PolicyInputs() Inputs
}

// ConfigSink receives resolved configs when they change. Satisfied by the
// capture rate limiter.
type ConfigSink interface {
	ApplyTrackingConfig(models.TrackingConfig)
}

// Store persists the resolved config across restarts. Satisfied by
// state.Store.
type Store interface {
	SaveTrackingConfig(models.TrackingConfig) error
}

// Options configures the engine.
type Options struct {
	Axes     Axes
	Defaults Defaults

	// Recompute is the engine's own timer period. The engine runs on this
	// timer, not per-sample. Default: 1 minute.
	Recompute time.Duration
}

// Engine periodically recomputes the tracking parameters from the latest
// observed inputs, persists them, and pushes changes to the capture path.
type Engine struct {
	opts   Options
	source InputSource
	sink   ConfigSink
	store  Store

	// current - protected by curMu
	curMu   sync.RWMutex
	current models.TrackingConfig

	// Control
	ctx    context.Context
	cancel context.CancelFunc

	// State - all protected by mu
	mu       sync.Mutex
	running  bool
	stopping bool
	stopDone chan struct{}
}

// NewEngine creates a policy engine seeded with the given starting config
// (normally the persisted config from the previous run, or the resolved
// defaults on first start).
func NewEngine(opts Options, initial models.TrackingConfig, source InputSource, sink ConfigSink, store Store) *Engine {
	if opts.Recompute <= 0 {
		opts.Recompute = time.Minute
	}
	return &Engine{
		opts:    opts,
		source:  source,
		sink:    sink,
		store:   store,
		current: initial,
	}
}

// Current returns the config most recently resolved (or the seed config).
func (e *Engine) Current() models.TrackingConfig {
	e.curMu.RLock()
	defer e.curMu.RUnlock()
	return e.current
}

// ComputeParams resolves a config from explicit inputs without touching the
// engine's timer state. Used by the restart procedure to re-derive parameters
// synchronously.
func (e *Engine) ComputeParams(in Inputs) models.TrackingConfig {
	return Resolve(e.opts.Axes, e.opts.Defaults, in)
}

// Recompute resolves from the latest source inputs and, when the result
// differs from the current config, persists it and notifies the sink. It
// returns the config in effect afterwards.
func (e *Engine) Recompute() models.TrackingConfig {
	in := e.source.PolicyInputs()
	resolved := e.ComputeParams(in)

	e.curMu.Lock()
	changed := resolved != e.current
	if changed {
		e.current = resolved
	}
	e.curMu.Unlock()

	if !changed {
		return resolved
	}

	if err := e.store.SaveTrackingConfig(resolved); err != nil {
		logging.Error().Err(err).Msg("Failed to persist tracking config")
	}
	e.sink.ApplyTrackingConfig(resolved)
	metrics.RecordPolicyChange(ActivityBucket(in.SpeedMS), string(resolved.AccuracyLevel))

	logging.Info().
		Int64("interval_ms", resolved.TimeIntervalMs).
		Float64("distance_m", resolved.DistanceIntervalMeters).
		Str("accuracy", string(resolved.AccuracyLevel)).
		Float64("battery_pct", in.BatteryLevel).
		Bool("charging", in.IsCharging).
		Str("activity", ActivityBucket(in.SpeedMS)).
		Msg("Tracking parameters changed")

	return resolved
}

// Start begins the periodic recompute loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()

	for e.stopping {
		stopDone := e.stopDone
		e.mu.Unlock()
		<-stopDone
		e.mu.Lock()
	}

	if e.running {
		e.mu.Unlock()
		return nil
	}

	e.ctx, e.cancel = context.WithCancel(ctx)
	e.running = true
	e.stopDone = make(chan struct{})

	loopCtx := e.ctx
	done := e.stopDone

	e.mu.Unlock()

	go e.runWithContext(loopCtx, done)

	logging.Info().
		Dur("recompute", e.opts.Recompute).
		Bool("battery_axis", e.opts.Axes.Battery).
		Bool("activity_axis", e.opts.Axes.Activity).
		Bool("stationary_axis", e.opts.Axes.Stationary).
		Msg("Policy engine started")
	return nil
}

// Stop gracefully stops the recompute loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running || e.stopping {
		e.mu.Unlock()
		return
	}

	e.cancel()
	e.running = false
	e.stopping = true
	stopDone := e.stopDone
	e.mu.Unlock()

	<-stopDone

	e.mu.Lock()
	e.stopping = false
	e.mu.Unlock()

	logging.Info().Msg("Policy engine stopped")
}

// IsRunning returns whether the recompute loop is active.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// runWithContext is the recompute loop goroutine. The context is passed as a
// parameter to avoid races with Stop().
func (e *Engine) runWithContext(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.opts.Recompute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Recompute()
		}
	}
}
