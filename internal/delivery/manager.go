// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

// Package delivery moves accepted samples from the agent to the ingest
// service. The socket channel is preferred, HTTP is the fallback, and the
// offline queue absorbs everything that cannot be sent right now. A
// transient network failure is never an error to the caller: the sample is
// parked in the queue and a later success drains it. The only delivery
// error a caller sees is a sample that could not be queued either.
package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crewmint/shiftbeacon/internal/logging"
	"github.com/crewmint/shiftbeacon/internal/metrics"
	"github.com/crewmint/shiftbeacon/internal/models"
	"github.com/crewmint/shiftbeacon/internal/queue"
	"github.com/crewmint/shiftbeacon/internal/state"
)

// Failure classifications. None of these escape Deliver, since samples that
// hit them are parked in the offline queue, but logs and queue entries carry
// them, and errors.Is distinguishes them in tests.
var (
	// ErrNetworkUnavailable means the reachability probe reported the
	// ingest host down before any channel was tried.
	ErrNetworkUnavailable = fmt.Errorf("ingest host unreachable")

	// ErrSocketUnavailable means the socket channel could not take the
	// sample and delivery fell back to HTTP.
	ErrSocketUnavailable = fmt.Errorf("socket channel unavailable")

	// ErrDeliveryFailed means every channel failed for a sample.
	ErrDeliveryFailed = fmt.Errorf("delivery failed on all channels")
)

const (
	// eventLocationUpdate is the socket event name for one sample.
	eventLocationUpdate = "location:update"

	// defaultDrainBatch bounds how many queued entries one successful
	// delivery may flush, so the capture path is never starved by a deep
	// backlog.
	defaultDrainBatch = 5

	channelSocket = "socket"
	channelHTTP   = "http"
)

// Outcome classifies what happened to a sample handed to Deliver.
type Outcome string

const (
	// OutcomeDelivered means the sample reached the ingest service.
	OutcomeDelivered Outcome = "delivered"

	// OutcomeQueued means the ingest host was unreachable and the sample
	// went straight to the offline queue.
	OutcomeQueued Outcome = "queued"

	// OutcomeFailed means both channels failed; the sample is queued for
	// retry.
	OutcomeFailed Outcome = "failed"
)

// Options configures the delivery manager.
type Options struct {
	// DrainBatch bounds entries flushed per successful delivery.
	// Default: 5.
	DrainBatch int
}

// Manager orchestrates sample delivery across the socket and HTTP
// channels, the reachability probe, and the offline queue.
type Manager struct {
	session     *SocketSession // nil when the socket channel is disabled
	ingest      *IngestClient
	probe       *Prober
	spool       *queue.Queue
	checkpoints *state.Store

	opts Options

	mu      sync.Mutex
	running bool

	now func() time.Time
}

// New builds a Manager. The socket session may be nil; every other
// dependency is required.
func New(session *SocketSession, ingest *IngestClient, probe *Prober, spool *queue.Queue, checkpoints *state.Store, opts Options) (*Manager, error) {
	if ingest == nil {
		return nil, fmt.Errorf("delivery: ingest client is required")
	}
	if probe == nil {
		return nil, fmt.Errorf("delivery: reachability prober is required")
	}
	if spool == nil {
		return nil, fmt.Errorf("delivery: offline queue is required")
	}
	if checkpoints == nil {
		return nil, fmt.Errorf("delivery: state store is required")
	}
	if opts.DrainBatch <= 0 {
		opts.DrainBatch = defaultDrainBatch
	}

	return &Manager{
		session:     session,
		ingest:      ingest,
		probe:       probe,
		spool:       spool,
		checkpoints: checkpoints,
		opts:        opts,
		now:         time.Now,
	}, nil
}

// Start acquires the socket session so the reconnect timer keeps a warm
// channel for the delivery path.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	if m.session != nil {
		m.session.Acquire()
	}
	m.running = true

	logging.Info().Bool("socket", m.session != nil).Msg("Delivery manager started")
	return nil
}

// Stop releases the socket session; as the manager holds the standing
// reference, this tears the connection down.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	if m.session != nil {
		m.session.Release()
	}
	m.running = false

	logging.Info().Msg("Delivery manager stopped")
	return nil
}

// IsRunning reports whether the manager has been started.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Deliver pushes one sample toward the ingest service: socket first, HTTP
// fallback, offline queue when the host is unreachable or both channels
// fail. A nil error means the sample is delivered or safely queued, and
// the outcome says which; an error means the sample is lost.
func (m *Manager) Deliver(ctx context.Context, sample models.LocationSample) (Outcome, error) {
	outcome, err := m.process(ctx, sample)
	if err != nil {
		return outcome, err
	}

	logging.Debug().
		Str("sample_id", sample.ID.String()).
		Str("outcome", string(outcome)).
		Msg("Sample processed")
	return outcome, nil
}

// process runs the delivery decision chain for one sample.
func (m *Manager) process(ctx context.Context, sample models.LocationSample) (Outcome, error) {
	if !m.probe.Reachable(ctx) {
		logging.Info().Err(ErrNetworkUnavailable).
			Str("sample_id", sample.ID.String()).
			Msg("Queueing sample")
		if err := m.park(ctx, sample); err != nil {
			return "", err
		}
		return OutcomeQueued, nil
	}

	if _, err := m.send(ctx, sample); err != nil {
		logging.Warn().Err(err).
			Str("sample_id", sample.ID.String()).
			Msg("Delivery failed on all channels, queueing sample")
		if qerr := m.park(ctx, sample); qerr != nil {
			return "", qerr
		}
		return OutcomeFailed, nil
	}

	m.recordSuccess(sample)
	m.drainAfterSuccess(ctx)
	return OutcomeDelivered, nil
}

// send tries the socket channel, then HTTP. Returns the channel that
// succeeded.
func (m *Manager) send(ctx context.Context, sample models.LocationSample) (string, error) {
	var socketErr error
	if m.session != nil {
		start := m.now()
		socketErr = m.session.Emit(ctx, eventLocationUpdate, sample)
		metrics.RecordDelivery(channelSocket, m.now().Sub(start), socketErr)
		if socketErr == nil {
			return channelSocket, nil
		}
		socketErr = fmt.Errorf("%w: %v", ErrSocketUnavailable, socketErr)
		logging.Debug().Err(socketErr).Msg("Falling back to HTTP")
	}

	start := m.now()
	httpErr := m.ingest.Send(ctx, sample)
	metrics.RecordDelivery(channelHTTP, m.now().Sub(start), httpErr)
	if httpErr == nil {
		return channelHTTP, nil
	}

	if socketErr != nil {
		return "", fmt.Errorf("%w: %v; http: %w", ErrDeliveryFailed, socketErr, httpErr)
	}
	return "", fmt.Errorf("%w: %w", ErrDeliveryFailed, httpErr)
}

// park enqueues a sample that cannot be delivered right now. An enqueue
// failure is the one case where a sample is genuinely lost.
func (m *Manager) park(ctx context.Context, sample models.LocationSample) error {
	if _, err := m.spool.Enqueue(ctx, sample); err != nil {
		return fmt.Errorf("sample %s lost, queue unavailable: %w", sample.ID, err)
	}
	return nil
}

// recordSuccess moves the delivered-position anchor read by capture's
// significance check and the health monitor's staleness check.
func (m *Manager) recordSuccess(sample models.LocationSample) {
	if err := m.checkpoints.SaveLastDelivered(sample.Coordinate(), m.now()); err != nil {
		logging.Warn().Err(err).Msg("Failed to persist last delivered position")
	}
}

// drainAfterSuccess opportunistically flushes queued entries through the
// channel that just worked.
func (m *Manager) drainAfterSuccess(ctx context.Context) {
	if _, err := m.Drain(ctx); err != nil {
		logging.Debug().Err(err).Msg("Opportunistic drain stopped early")
	}
}

// Drain delivers queued entries in FIFO order, up to the drain batch.
// Entries are dequeued and acked one at a time so a crash or failure
// mid-pass strands nothing: a delivered entry is acked, a failed one has
// its lease cleared for the next pass, and the pass stops at the first
// failure. Returns the number delivered.
func (m *Manager) Drain(ctx context.Context) (int, error) {
	delivered := 0
	for delivered < m.opts.DrainBatch {
		entries, err := m.spool.Dequeue(ctx, 1)
		if err != nil {
			return delivered, fmt.Errorf("dequeue for drain: %w", err)
		}
		if len(entries) == 0 {
			break
		}
		entry := entries[0]

		if _, err := m.send(ctx, entry.Sample); err != nil {
			if ferr := m.spool.Fail(ctx, entry.Key, err.Error()); ferr != nil {
				logging.Warn().Err(ferr).
					Str("key", entry.Key).
					Msg("Failed to clear queue lease after drain failure")
			}
			return delivered, err
		}

		if err := m.spool.Ack(ctx, entry.Key); err != nil {
			// The entry resurfaces when its lease expires; delivery stays
			// at-least-once.
			return delivered, fmt.Errorf("ack drained entry %s: %w", entry.Key, err)
		}
		m.recordSuccess(entry.Sample)
		metrics.DrainedEntries.Inc()
		delivered++
	}

	if delivered > 0 {
		logging.Info().Int("delivered", delivered).Msg("Drained queued samples")
	}
	return delivered, nil
}

// QueueDepth reports the offline queue depth for status reporting.
func (m *Manager) QueueDepth(ctx context.Context) (int, error) {
	return m.spool.Depth(ctx)
}
