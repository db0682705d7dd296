// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crewmint/shiftbeacon/internal/delivery"
	"github.com/crewmint/shiftbeacon/internal/models"
	"github.com/crewmint/shiftbeacon/internal/validation"
)

// Test doubles

type fakeSource struct {
	mu            sync.Mutex
	registered    int
	deregistered  int
	updates       []models.TrackingConfig
	permission    bool
	services      bool
	deregisterErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{permission: true, services: true}
}

func (s *fakeSource) Register(ctx context.Context, cfg models.TrackingConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered++
	return nil
}

func (s *fakeSource) Deregister(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deregistered++
	return s.deregisterErr
}

func (s *fakeSource) UpdateConfig(ctx context.Context, cfg models.TrackingConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, cfg)
	return nil
}

func (s *fakeSource) PermissionGranted(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission, nil
}

func (s *fakeSource) ServicesEnabled(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.services, nil
}

func (s *fakeSource) counts() (registered, deregistered, updates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered, s.deregistered, len(s.updates)
}

type fakeSpool struct {
	mu      sync.Mutex
	samples []models.LocationSample
}

func (s *fakeSpool) Enqueue(ctx context.Context, sample models.LocationSample) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
	return sample.ID.String(), nil
}

func (s *fakeSpool) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

type fakeDeliverer struct {
	mu      sync.Mutex
	samples []models.LocationSample
}

func (d *fakeDeliverer) Deliver(ctx context.Context, sample models.LocationSample) (delivery.Outcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.samples = append(d.samples, sample)
	return delivery.OutcomeDelivered, nil
}

func (d *fakeDeliverer) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.samples)
}

type fakeCheckpoints struct {
	mu           sync.Mutex
	lastUpdate   time.Time
	hasUpdate    bool
	delivered    models.Coordinate
	deliveredAt  time.Time
	hasDelivered bool
}

var errNotSet = errors.New("not set")

func (c *fakeCheckpoints) SaveLastUpdateTime(at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUpdate = at
	c.hasUpdate = true
	return nil
}

func (c *fakeCheckpoints) LastUpdateTime() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasUpdate {
		return time.Time{}, errNotSet
	}
	return c.lastUpdate, nil
}

func (c *fakeCheckpoints) LastDelivered() (models.Coordinate, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasDelivered {
		return models.Coordinate{}, time.Time{}, errNotSet
	}
	return c.delivered, c.deliveredAt, nil
}

func (c *fakeCheckpoints) setDelivered(loc models.Coordinate, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered = loc
	c.deliveredAt = at
	c.hasDelivered = true
}

type fakeSites struct {
	mu     sync.Mutex
	inside bool
	name   string
}

func (s *fakeSites) Evaluate(models.Coordinate) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inside, s.name
}

func (s *fakeSites) set(inside bool, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inside = inside
	s.name = name
}

// Helpers

func testTrackingConfig() models.TrackingConfig {
	return models.TrackingConfig{
		TimeIntervalMs:         30_000,
		DistanceIntervalMeters: 10,
		AccuracyLevel:          models.AccuracyHigh,
	}
}

type trackerFixture struct {
	tracker     *Tracker
	source      *fakeSource
	spool       *fakeSpool
	deliverer   *fakeDeliverer
	checkpoints *fakeCheckpoints
	sites       *fakeSites
	clock       time.Time
}

// newFixture builds a tracker with a controllable clock, started unless
// start is false.
func newFixture(t *testing.T, start bool) *trackerFixture {
	t.Helper()

	f := &trackerFixture{
		source:      newFakeSource(),
		spool:       &fakeSpool{},
		deliverer:   &fakeDeliverer{},
		checkpoints: &fakeCheckpoints{},
		sites:       &fakeSites{},
		clock:       time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC),
	}
	f.tracker = New(
		Options{UserID: "worker-7", SessionID: "shift-42"},
		f.source, f.spool, f.deliverer, f.checkpoints, f.sites,
	)
	f.tracker.now = func() time.Time { return f.clock }

	if start {
		if err := f.tracker.Start(context.Background(), testTrackingConfig()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
	}
	return f
}

func (f *trackerFixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

// fixAt builds a valid fix at the given position.
func fixAt(lat, lon float64) models.RawFix {
	return models.RawFix{
		Latitude:     lat,
		Longitude:    lon,
		Accuracy:     10,
		Timestamp:    time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC),
		BatteryLevel: 80,
	}
}

// TestStartDeniedWithoutPermission verifies a missing permission surfaces as
// ErrPermissionDenied and no registration happens.
func TestStartDeniedWithoutPermission(t *testing.T) {
	f := newFixture(t, false)
	f.source.permission = false

	err := f.tracker.Start(context.Background(), testTrackingConfig())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied, got %v", err)
	}

	registered, _, _ := f.source.counts()
	if registered != 0 {
		t.Errorf("Expected no registration, got %d", registered)
	}
	if f.tracker.Registered() {
		t.Error("Tracker should not report registered")
	}
}

// TestStartIsIdempotent verifies a second Start does not double-register.
func TestStartIsIdempotent(t *testing.T) {
	f := newFixture(t, true)

	if err := f.tracker.Start(context.Background(), testTrackingConfig()); err != nil {
		t.Fatalf("Second start failed: %v", err)
	}

	registered, _, _ := f.source.counts()
	if registered != 1 {
		t.Errorf("Expected 1 registration, got %d", registered)
	}
}

// TestStopToleratesAlreadyStopped covers both stop-twice and the source
// reporting nothing was registered.
func TestStopToleratesAlreadyStopped(t *testing.T) {
	f := newFixture(t, false)

	// Never started: no-op, source untouched.
	if err := f.tracker.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on stopped tracker: %v", err)
	}
	if _, deregistered, _ := f.source.counts(); deregistered != 0 {
		t.Errorf("Expected no deregister call, got %d", deregistered)
	}

	// Started, but the source says nothing is registered: still success.
	if err := f.tracker.Start(context.Background(), testTrackingConfig()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.source.deregisterErr = ErrNotRegistered
	if err := f.tracker.Stop(context.Background()); err != nil {
		t.Fatalf("Stop with ErrNotRegistered from source: %v", err)
	}
	if f.tracker.Registered() {
		t.Error("Tracker should report stopped")
	}
}

// TestOnFixRejectedWhenStopped verifies fixes are refused outside a
// registration.
func TestOnFixRejectedWhenStopped(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.tracker.OnFix(context.Background(), fixAt(52.52, 13.405))
	if !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Expected ErrNotRegistered, got %v", err)
	}
}

// TestOnFixValidation verifies malformed fixes are rejected with a
// validation error before touching the limiter.
func TestOnFixValidation(t *testing.T) {
	f := newFixture(t, true)

	fix := fixAt(99, 13.405) // latitude out of range
	_, err := f.tracker.OnFix(context.Background(), fix)
	if err == nil {
		t.Fatal("Expected validation error, got nil")
	}
	var verr *validation.RequestValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected RequestValidationError, got %T", err)
	}
	if f.deliverer.len() != 0 {
		t.Error("Invalid fix must not be delivered")
	}
}

// TestFirstFixAccepted verifies the cold-start accept path.
func TestFirstFixAccepted(t *testing.T) {
	f := newFixture(t, true)

	decision, err := f.tracker.OnFix(context.Background(), fixAt(52.52, 13.405))
	if err != nil {
		t.Fatalf("OnFix failed: %v", err)
	}
	if decision != DecisionAccepted {
		t.Fatalf("Expected accepted, got %s", decision)
	}
	if f.deliverer.len() != 1 {
		t.Errorf("Expected 1 delivered sample, got %d", f.deliverer.len())
	}

	snap := f.tracker.Snapshot()
	if !snap.LastUpdateAt.Equal(f.clock) {
		t.Errorf("Expected last update at %v, got %v", f.clock, snap.LastUpdateAt)
	}
	if snap.LastLocation == nil || snap.LastLocation.Latitude != 52.52 {
		t.Errorf("Expected last location recorded, got %+v", snap.LastLocation)
	}
}

// TestSuppressedInsignificantFixDropped verifies a fix inside the window
// near the last delivered point is discarded and does not move the window.
func TestSuppressedInsignificantFixDropped(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	if _, err := f.tracker.OnFix(ctx, fixAt(52.52, 13.405)); err != nil {
		t.Fatalf("First fix failed: %v", err)
	}
	f.checkpoints.setDelivered(models.Coordinate{Latitude: 52.52, Longitude: 13.405}, f.clock)

	f.advance(10 * time.Second)
	decision, err := f.tracker.OnFix(ctx, fixAt(52.52, 13.405))
	if err != nil {
		t.Fatalf("Second fix failed: %v", err)
	}
	if decision != DecisionDropped {
		t.Fatalf("Expected dropped, got %s", decision)
	}
	if f.deliverer.len() != 1 {
		t.Errorf("Expected no extra delivery, got %d", f.deliverer.len())
	}
	if f.spool.len() != 0 {
		t.Errorf("Expected nothing queued, got %d", f.spool.len())
	}

	// Window still measured from the first accept: 31s after it, accept.
	f.advance(21 * time.Second)
	decision, err = f.tracker.OnFix(ctx, fixAt(52.52, 13.405))
	if err != nil {
		t.Fatalf("Third fix failed: %v", err)
	}
	if decision != DecisionAccepted {
		t.Errorf("Expected accepted after window, got %s", decision)
	}
}

// TestSuppressedSignificantFixQueued verifies a fix inside the window but
// 20m or more from the last delivered point goes to the offline queue.
func TestSuppressedSignificantFixQueued(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	if _, err := f.tracker.OnFix(ctx, fixAt(52.52, 13.405)); err != nil {
		t.Fatalf("First fix failed: %v", err)
	}
	f.checkpoints.setDelivered(models.Coordinate{Latitude: 52.52, Longitude: 13.405}, f.clock)

	// ~55m north, 10s later.
	f.advance(10 * time.Second)
	decision, err := f.tracker.OnFix(ctx, fixAt(52.5205, 13.405))
	if err != nil {
		t.Fatalf("Second fix failed: %v", err)
	}
	if decision != DecisionQueued {
		t.Fatalf("Expected queued, got %s", decision)
	}
	if f.spool.len() != 1 {
		t.Errorf("Expected 1 queued sample, got %d", f.spool.len())
	}
	if f.deliverer.len() != 1 {
		t.Errorf("Queued fix must not be delivered directly, got %d deliveries", f.deliverer.len())
	}

	// The queued fix must not have moved the rate limiter window.
	snap := f.tracker.Snapshot()
	if snap.LastLocation.Latitude != 52.52 {
		t.Errorf("Suppressed fix must not move last location, got %v", snap.LastLocation.Latitude)
	}
}

// TestSuppressedFixWithoutDeliveryAnchorQueued verifies that with nothing
// delivered yet, a suppressed fix is queued rather than dropped.
func TestSuppressedFixWithoutDeliveryAnchorQueued(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	if _, err := f.tracker.OnFix(ctx, fixAt(52.52, 13.405)); err != nil {
		t.Fatalf("First fix failed: %v", err)
	}

	f.advance(5 * time.Second)
	decision, err := f.tracker.OnFix(ctx, fixAt(52.52, 13.405))
	if err != nil {
		t.Fatalf("Second fix failed: %v", err)
	}
	if decision != DecisionQueued {
		t.Errorf("Expected queued without delivery anchor, got %s", decision)
	}
}

// TestStartSeedsLimiterFromCheckpoints verifies a restart does not reopen
// the suppression window.
func TestStartSeedsLimiterFromCheckpoints(t *testing.T) {
	f := newFixture(t, false)

	// A fix was accepted 10 seconds before the restart.
	f.checkpoints.SaveLastUpdateTime(f.clock.Add(-10 * time.Second))
	f.checkpoints.setDelivered(models.Coordinate{Latitude: 52.52, Longitude: 13.405}, f.clock.Add(-10*time.Second))

	if err := f.tracker.Start(context.Background(), testTrackingConfig()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	decision, err := f.tracker.OnFix(context.Background(), fixAt(52.52, 13.405))
	if err != nil {
		t.Fatalf("OnFix failed: %v", err)
	}
	if decision != DecisionDropped {
		t.Errorf("Expected dropped inside restored window, got %s", decision)
	}
}

// TestPolicyInputsTrackMovementAndDevice verifies the values handed to the
// adaptive policy engine.
func TestPolicyInputsTrackMovementAndDevice(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	fix := fixAt(52.52, 13.405)
	fix.BatteryLevel = 42
	fix.IsCharging = true
	speed := 5.0
	fix.Speed = &speed
	if _, err := f.tracker.OnFix(ctx, fix); err != nil {
		t.Fatalf("OnFix failed: %v", err)
	}

	in := f.tracker.PolicyInputs()
	if in.BatteryLevel != 42 {
		t.Errorf("Expected battery 42, got %v", in.BatteryLevel)
	}
	if !in.IsCharging {
		t.Error("Expected charging")
	}
	if in.SpeedMS != 5 {
		t.Errorf("Expected speed 5, got %v", in.SpeedMS)
	}

	// Device sits still for six minutes: movement age grows.
	f.advance(6 * time.Minute)
	in = f.tracker.PolicyInputs()
	if in.LastSignificantMovementAge != 6*time.Minute {
		t.Errorf("Expected 6m movement age, got %v", in.LastSignificantMovementAge)
	}

	// A fix ~100m away resets the movement clock.
	if _, err := f.tracker.OnFix(ctx, fixAt(52.5209, 13.405)); err != nil {
		t.Fatalf("OnFix failed: %v", err)
	}
	in = f.tracker.PolicyInputs()
	if in.LastSignificantMovementAge != 0 {
		t.Errorf("Expected movement age reset, got %v", in.LastSignificantMovementAge)
	}
}

// TestApplyTrackingConfigReachesSource verifies the policy engine's resolved
// config is pushed to a running source but not to a stopped one.
func TestApplyTrackingConfigReachesSource(t *testing.T) {
	f := newFixture(t, true)

	cfg := testTrackingConfig()
	cfg.TimeIntervalMs = 120_000
	f.tracker.ApplyTrackingConfig(cfg)

	if _, _, updates := f.source.counts(); updates != 1 {
		t.Errorf("Expected 1 config push, got %d", updates)
	}
	if got := f.tracker.Snapshot().Config.TimeIntervalMs; got != 120_000 {
		t.Errorf("Expected config remembered, got %d", got)
	}

	if err := f.tracker.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	f.tracker.ApplyTrackingConfig(testTrackingConfig())
	if _, _, updates := f.source.counts(); updates != 1 {
		t.Errorf("Expected no push while stopped, got %d", updates)
	}
}

// TestSiteTransitions verifies geofence presence is tracked across fixes.
func TestSiteTransitions(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.sites.set(true, "hq")
	if _, err := f.tracker.OnFix(ctx, fixAt(52.52, 13.405)); err != nil {
		t.Fatalf("OnFix failed: %v", err)
	}
	snap := f.tracker.Snapshot()
	if !snap.OnSite || snap.SiteName != "hq" {
		t.Errorf("Expected on site hq, got %+v", snap)
	}

	f.sites.set(false, "")
	f.advance(time.Minute)
	if _, err := f.tracker.OnFix(ctx, fixAt(52.6, 13.5)); err != nil {
		t.Fatalf("OnFix failed: %v", err)
	}
	snap = f.tracker.Snapshot()
	if snap.OnSite {
		t.Error("Expected off site after exit")
	}
}

// TestRecentHistory verifies accepted samples land in the history newest
// first and suppressed ones do not.
func TestRecentHistory(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	if _, err := f.tracker.OnFix(ctx, fixAt(52.52, 13.405)); err != nil {
		t.Fatalf("OnFix failed: %v", err)
	}
	f.checkpoints.setDelivered(models.Coordinate{Latitude: 52.52, Longitude: 13.405}, f.clock)

	f.advance(5 * time.Second)
	if _, err := f.tracker.OnFix(ctx, fixAt(52.52, 13.405)); err != nil { // dropped
		t.Fatalf("OnFix failed: %v", err)
	}
	f.advance(40 * time.Second)
	if _, err := f.tracker.OnFix(ctx, fixAt(52.53, 13.41)); err != nil { // accepted
		t.Fatalf("OnFix failed: %v", err)
	}

	recent := f.tracker.Recent(10)
	if len(recent) != 2 {
		t.Fatalf("Expected 2 history samples, got %d", len(recent))
	}
	if recent[0].Latitude != 52.53 {
		t.Errorf("Expected newest sample first, got lat %v", recent[0].Latitude)
	}
}
