// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package storage

import (
	"context"
	"sync"
	"time"

	"github.com/crewmint/shiftbeacon/internal/logging"
)

// DefaultMaintenanceInterval is how often the maintainer runs value log GC
// when no interval is configured.
const DefaultMaintenanceInterval = 10 * time.Minute

// Maintainer periodically runs Badger value log garbage collection.
//
// Badger reclaims value log space only when GC is invoked explicitly, so the
// agent runs this loop as a supervised background service for the lifetime of
// the store. Queue and state writes are small but continuous; without GC the
// value log grows without bound on long shifts.
type Maintainer struct {
	store    *Store
	interval time.Duration

	// Control
	ctx    context.Context
	cancel context.CancelFunc

	// State - all protected by mu
	mu       sync.Mutex
	running  bool
	stopping bool
	stopDone chan struct{}
	lastRun  time.Time
}

// NewMaintainer creates a maintenance loop for the store. An interval <= 0
// selects DefaultMaintenanceInterval.
func NewMaintainer(store *Store, interval time.Duration) *Maintainer {
	if interval <= 0 {
		interval = DefaultMaintenanceInterval
	}
	return &Maintainer{
		store:    store,
		interval: interval,
	}
}

// LastRun returns when the last GC pass completed, or the zero time if no
// pass has run yet.
func (m *Maintainer) LastRun() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRun
}

// Start begins the background GC loop.
func (m *Maintainer) Start(ctx context.Context) error {
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

	logging.Info().Dur("interval", m.interval).Msg("Storage maintainer started")
	return nil
}

// Stop gracefully stops the GC loop.
func (m *Maintainer) Stop() {
	m.mu.Lock()
	if !m.running || m.stopping {
		m.mu.Unlock()
		return
	}

	m.cancel()
	m.running = false
	m.stopping = true
	stopDone := m.stopDone
	m.mu.Unlock()

	<-stopDone

	m.mu.Lock()
	m.stopping = false
	m.mu.Unlock()

	logging.Info().Msg("Storage maintainer stopped")
}

// IsRunning returns whether the GC loop is active.
func (m *Maintainer) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// runWithContext is the GC loop goroutine. The context is passed as a
// parameter to avoid races with Stop().
func (m *Maintainer) runWithContext(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.maintain()
		}
	}
}

// maintain runs a single GC pass. RunGC already swallows the no-rewrite
// verdict, so any error here is a real failure.
func (m *Maintainer) maintain() {
	start := time.Now()

	if err := m.store.RunGC(); err != nil {
		logging.Warn().Err(err).Msg("Value log GC failed")
	} else {
		logging.Debug().Dur("duration", time.Since(start)).Msg("Value log GC pass complete")
	}

	m.mu.Lock()
	m.lastRun = time.Now()
	m.mu.Unlock()
}
