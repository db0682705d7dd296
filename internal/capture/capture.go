// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

// Package capture decides what happens to every raw location fix the host
// pushes at the agent. A fix is either accepted and forwarded, queued because
// it is significant but arrived inside the suppression window, or dropped.
//
// The rules:
//
//   - At most one accepted sample per 30 seconds. The window is measured
//     against the last accepted fix, and only an accepted fix moves it.
//   - A suppressed fix 20 meters or more from the last delivered position is
//     too important to discard; it goes to the offline queue instead.
//   - Any other suppressed fix is dropped.
//
// The tracker also keeps the movement bookkeeping the adaptive policy engine
// reads: the battery and speed of the latest fix, and how long the device
// has stayed within 20 meters of its stationary anchor.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crewmint/shiftbeacon/internal/cache"
	"github.com/crewmint/shiftbeacon/internal/delivery"
	"github.com/crewmint/shiftbeacon/internal/geofence"
	"github.com/crewmint/shiftbeacon/internal/logging"
	"github.com/crewmint/shiftbeacon/internal/metrics"
	"github.com/crewmint/shiftbeacon/internal/models"
	"github.com/crewmint/shiftbeacon/internal/policy"
	"github.com/crewmint/shiftbeacon/internal/validation"
)

// Errors
var (
	// ErrPermissionDenied is returned when the platform location permission
	// is missing or has been revoked. Surfaced to the operator unchanged.
	ErrPermissionDenied = fmt.Errorf("location permission denied")

	// ErrNotRegistered is returned by OnFix when tracking is not running.
	// Source implementations return it from Deregister when there is
	// nothing to deregister; Stop treats that as already stopped.
	ErrNotRegistered = fmt.Errorf("location tracking is not registered")

	// ErrServicesDisabled is returned by Source implementations when
	// device location services are switched off.
	ErrServicesDisabled = fmt.Errorf("location services are disabled")
)

const (
	// minUpdateInterval is the hard floor between accepted samples,
	// independent of the configured tracking interval.
	minUpdateInterval = 30 * time.Second

	// significantDistanceMeters is the movement threshold shared by the
	// suppression override and stationary detection.
	significantDistanceMeters = 20.0
)

// Decision classifies the outcome of a fix.
type Decision string

const (
	// DecisionAccepted means the fix passed the rate limiter and was
	// forwarded to delivery.
	DecisionAccepted Decision = "accepted"

	// DecisionQueued means the fix was suppressed but moved far enough
	// from the last delivered position to be queued for later delivery.
	DecisionQueued Decision = "queued"

	// DecisionDropped means the fix was suppressed and insignificant.
	DecisionDropped Decision = "dropped"
)

// Source is the platform location provider adapter: the piece that talks to
// the host OS. Registering tells the provider to start producing fixes with
// the given parameters; the fixes themselves arrive through Tracker.OnFix.
type Source interface {
	// Register starts location updates with the given parameters.
	Register(ctx context.Context, cfg models.TrackingConfig) error

	// Deregister stops location updates. Returns ErrNotRegistered when
	// updates were never started.
	Deregister(ctx context.Context) error

	// UpdateConfig reconfigures a running registration in place.
	UpdateConfig(ctx context.Context, cfg models.TrackingConfig) error

	// PermissionGranted reports whether the background location permission
	// is currently held.
	PermissionGranted(ctx context.Context) (bool, error)

	// ServicesEnabled reports whether device location services are on.
	ServicesEnabled(ctx context.Context) (bool, error)
}

// Spooler queues samples that cannot be sent right away. Satisfied by
// queue.Queue.
type Spooler interface {
	Enqueue(ctx context.Context, sample models.LocationSample) (string, error)
}

// Deliverer pushes accepted samples toward the ingest service. A nil error
// means the sample was delivered or safely queued; an error means it was
// lost. Satisfied by delivery.Manager.
type Deliverer interface {
	Deliver(ctx context.Context, sample models.LocationSample) (delivery.Outcome, error)
}

// Checkpoints persists rate limiter continuity across restarts. Satisfied by
// state.Store.
type Checkpoints interface {
	SaveLastUpdateTime(at time.Time) error
	LastUpdateTime() (time.Time, error)
	LastDelivered() (models.Coordinate, time.Time, error)
}

// SiteEvaluator reports whether a position falls inside a monitored site.
// Satisfied by geofence.Provider.
type SiteEvaluator interface {
	Evaluate(location models.Coordinate) (bool, string)
}

// Options configures a Tracker.
type Options struct {
	// UserID attributes accepted samples to a worker. Required.
	UserID string

	// SessionID attributes accepted samples to a shift session.
	SessionID string

	// HistorySize bounds the in-memory recent-sample history.
	HistorySize int

	// HistoryTTL bounds the age of retained history samples.
	HistoryTTL time.Duration
}

// Tracker is the fix intake pipeline.
type Tracker struct {
	source      Source
	spool       Spooler
	deliver     Deliverer
	checkpoints Checkpoints
	sites       SiteEvaluator

	userID    string
	sessionID string
	history   *cache.History

	// opMu serializes Start and Stop so a registration is never torn.
	opMu sync.Mutex

	mu         sync.Mutex
	registered bool
	cfg        models.TrackingConfig

	// Rate limiter state, moved only by the accept path.
	lastUpdate   time.Time
	lastLocation *models.Coordinate

	// Stationary detection: the anchor moves whenever a fix lands 20m or
	// more from it, so slow drift accumulates instead of being lost.
	stationaryAnchor *models.Coordinate
	lastMovement     time.Time

	lastFix *models.RawFix

	// Site transition tracking
	onSite   bool
	siteName string

	// now is the clock; replaced in tests.
	now func() time.Time
}

// New builds a Tracker. The site evaluator may be nil when no geofence
// regions are configured.
func New(opts Options, source Source, spool Spooler, deliver Deliverer, checkpoints Checkpoints, sites SiteEvaluator) *Tracker {
	if opts.HistorySize <= 0 {
		opts.HistorySize = 100
	}
	if opts.HistoryTTL <= 0 {
		opts.HistoryTTL = 24 * time.Hour
	}

	return &Tracker{
		source:      source,
		spool:       spool,
		deliver:     deliver,
		checkpoints: checkpoints,
		sites:       sites,
		userID:      opts.UserID,
		sessionID:   opts.SessionID,
		history:     cache.NewHistory(opts.HistorySize, opts.HistoryTTL),
		now:         time.Now,
	}
}

// Start checks the location permission and registers for updates. Starting
// an already-started tracker is a no-op. Persisted rate limiter state is
// loaded so a restart does not reopen the suppression window.
func (t *Tracker) Start(ctx context.Context, cfg models.TrackingConfig) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	if t.registered {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid tracking config: %w", err)
	}

	granted, err := t.source.PermissionGranted(ctx)
	if err != nil {
		return fmt.Errorf("check location permission: %w", err)
	}
	if !granted {
		return ErrPermissionDenied
	}

	if err := t.source.Register(ctx, cfg); err != nil {
		return fmt.Errorf("register location updates: %w", err)
	}

	t.mu.Lock()
	t.registered = true
	t.cfg = cfg
	if at, err := t.checkpoints.LastUpdateTime(); err == nil {
		t.lastUpdate = at
	}
	if loc, _, err := t.checkpoints.LastDelivered(); err == nil {
		c := loc
		t.lastLocation = &c
		anchor := loc
		t.stationaryAnchor = &anchor
	}
	t.lastMovement = t.now()
	t.mu.Unlock()

	logging.Info().
		Str("user_id", t.userID).
		Int64("interval_ms", cfg.TimeIntervalMs).
		Str("accuracy", string(cfg.AccuracyLevel)).
		Msg("Location tracking registered")
	return nil
}

// Stop deregisters location updates. Stopping an already-stopped tracker is
// a no-op, as is the source reporting that nothing was registered.
func (t *Tracker) Stop(ctx context.Context) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	if !t.registered {
		t.mu.Unlock()
		return nil
	}
	t.registered = false
	t.mu.Unlock()

	if err := t.source.Deregister(ctx); err != nil {
		if errors.Is(err, ErrNotRegistered) {
			logging.Debug().Msg("Location updates were already deregistered")
			return nil
		}
		return fmt.Errorf("deregister location updates: %w", err)
	}

	logging.Info().Msg("Location tracking stopped")
	return nil
}

// Registered reports whether tracking is currently running.
func (t *Tracker) Registered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registered
}

// OnFix runs one raw fix through the rate limiter.
//
// Accepted fixes update the limiter state, are recorded in the history, and
// are handed to delivery; the delivery outcome does not affect the decision.
// Suppressed fixes leave the limiter state untouched.
func (t *Tracker) OnFix(ctx context.Context, fix models.RawFix) (Decision, error) {
	metrics.FixesReceived.Inc()

	if verr := validation.ValidateStruct(&fix); verr != nil {
		return "", verr
	}

	t.mu.Lock()
	if !t.registered {
		t.mu.Unlock()
		return "", ErrNotRegistered
	}

	now := t.now()
	coord := models.Coordinate{Latitude: fix.Latitude, Longitude: fix.Longitude}

	if t.stationaryAnchor == nil || geofence.MetersBetween(*t.stationaryAnchor, coord) >= significantDistanceMeters {
		anchor := coord
		t.stationaryAnchor = &anchor
		t.lastMovement = now
	}
	f := fix
	t.lastFix = &f

	suppressed := !t.lastUpdate.IsZero() && now.Sub(t.lastUpdate) < minUpdateInterval

	var sample models.LocationSample
	if !suppressed {
		t.lastUpdate = now
		c := coord
		t.lastLocation = &c
		sample = models.NewLocationSample(fix, t.userID, t.sessionID)
		t.history.Record(sample)
	}
	userID, sessionID := t.userID, t.sessionID
	t.mu.Unlock()

	if suppressed {
		return t.suppress(ctx, fix, coord, userID, sessionID)
	}

	if err := t.checkpoints.SaveLastUpdateTime(now); err != nil {
		logging.Warn().Err(err).Msg("Failed to persist last update time")
	}
	t.evaluateSite(coord)

	metrics.RecordCaptureDecision(string(DecisionAccepted))
	if _, err := t.deliver.Deliver(ctx, sample); err != nil {
		logging.Error().Err(err).
			Str("sample_id", sample.ID.String()).
			Msg("Sample lost: delivery failed and could not be queued")
	}
	return DecisionAccepted, nil
}

// suppress decides between queueing and dropping a fix that arrived inside
// the minimum update interval.
func (t *Tracker) suppress(ctx context.Context, fix models.RawFix, coord models.Coordinate, userID, sessionID string) (Decision, error) {
	// With no delivery on record there is no anchor to measure against;
	// treat the fix as significant rather than silently losing it.
	significant := true
	if last, _, err := t.checkpoints.LastDelivered(); err == nil {
		significant = geofence.MetersBetween(last, coord) >= significantDistanceMeters
	}

	if !significant {
		metrics.RecordCaptureDecision(string(DecisionDropped))
		logging.Debug().
			Float64("lat", coord.Latitude).
			Float64("lon", coord.Longitude).
			Msg("Fix suppressed inside minimum update interval")
		return DecisionDropped, nil
	}

	sample := models.NewLocationSample(fix, userID, sessionID)
	if _, err := t.spool.Enqueue(ctx, sample); err != nil {
		return "", fmt.Errorf("queue significant sample: %w", err)
	}

	metrics.RecordCaptureDecision(string(DecisionQueued))
	logging.Debug().
		Str("sample_id", sample.ID.String()).
		Msg("Significant fix queued during suppression window")
	return DecisionQueued, nil
}

// evaluateSite records site presence and logs transitions.
func (t *Tracker) evaluateSite(coord models.Coordinate) {
	if t.sites == nil {
		return
	}

	inside, name := t.sites.Evaluate(coord)
	metrics.RecordGeofenceEvaluation(inside)

	t.mu.Lock()
	changed := inside != t.onSite || name != t.siteName
	previous := t.siteName
	t.onSite, t.siteName = inside, name
	t.mu.Unlock()

	if !changed {
		return
	}
	if inside {
		logging.Info().Str("site", name).Msg("Entered monitored site")
	} else {
		logging.Info().Str("site", previous).Msg("Exited monitored site")
	}
}

// PolicyInputs satisfies policy.InputSource with the latest device state.
// Before any fix has arrived the battery is assumed full.
func (t *Tracker) PolicyInputs() policy.Inputs {
	t.mu.Lock()
	defer t.mu.Unlock()

	in := policy.Inputs{BatteryLevel: 100}
	if t.lastFix != nil {
		in.BatteryLevel = t.lastFix.BatteryLevel
		in.IsCharging = t.lastFix.IsCharging
		in.SpeedMS = t.lastFix.SpeedMS()
	}
	if !t.lastMovement.IsZero() {
		in.LastSignificantMovementAge = t.now().Sub(t.lastMovement)
	}
	return in
}

// ApplyTrackingConfig satisfies policy.ConfigSink: the resolved config is
// remembered and, while tracking runs, pushed down to the location source.
func (t *Tracker) ApplyTrackingConfig(cfg models.TrackingConfig) {
	t.mu.Lock()
	t.cfg = cfg
	registered := t.registered
	t.mu.Unlock()

	if !registered {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.source.UpdateConfig(ctx, cfg); err != nil {
		logging.Warn().Err(err).Msg("Failed to push tracking config to location source")
	}
}

// ServicesEnabled reports whether device location services are on, straight
// from the source. The health monitor polls this for the pause transition.
func (t *Tracker) ServicesEnabled(ctx context.Context) (bool, error) {
	return t.source.ServicesEnabled(ctx)
}

// Snapshot is a point-in-time view of the tracker for the status endpoint.
type Snapshot struct {
	Registered   bool                  `json:"registered"`
	LastUpdateAt time.Time             `json:"lastUpdateAt"`
	LastLocation *models.Coordinate    `json:"lastLocation,omitempty"`
	Config       models.TrackingConfig `json:"config"`
	OnSite       bool                  `json:"onSite"`
	SiteName     string                `json:"siteName,omitempty"`
	HistorySize  int                   `json:"historySize"`
}

// Snapshot returns the tracker's current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Registered:   t.registered,
		LastUpdateAt: t.lastUpdate,
		Config:       t.cfg,
		OnSite:       t.onSite,
		SiteName:     t.siteName,
		HistorySize:  t.history.Len(),
	}
	if t.lastLocation != nil {
		c := *t.lastLocation
		s.LastLocation = &c
	}
	return s
}

// Recent returns up to n recently accepted samples, newest first.
func (t *Tracker) Recent(n int) []models.LocationSample {
	return t.history.Recent(n)
}

// TrimHistory drops history samples past their TTL and returns how many
// were dropped. Called by the periodic cleanup loop.
func (t *Tracker) TrimHistory() int {
	return t.history.CleanupExpired()
}
