// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crewmint/shiftbeacon/internal/queue"
	"github.com/crewmint/shiftbeacon/internal/state"
	"github.com/crewmint/shiftbeacon/internal/storage"
)

// Socket channel modes for the manager fixture.
const (
	socketNone = iota // HTTP only
	socketLive        // socket endpoint up
	socketDead        // socket configured but endpoint gone
)

type managerFixture struct {
	manager *Manager
	spool   *queue.Queue
	marks   *state.Store
	store   *storage.Store
	ingest  *ingestServer
	socket  *mockSocketServer
}

// newManagerFixture wires a manager against live test servers and a real
// on-disk queue.
func newManagerFixture(t *testing.T, socketMode int) *managerFixture {
	t.Helper()

	store, err := storage.Open(testStorageConfig(t, filepath.Join(t.TempDir(), "store")))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	spool, err := queue.New(store, queue.DefaultOptions())
	if err != nil {
		t.Fatalf("Failed to open queue: %v", err)
	}
	marks := state.New(store)
	is := newIngestServer(t)
	tokens := &staticTokens{current: "test-token"}

	var session *SocketSession
	var mock *mockSocketServer
	switch socketMode {
	case socketLive:
		mock = newMockSocketServer(t)
		session = newTestSession(t, mock.server.URL, tokens)
	case socketDead:
		dead := httptest.NewServer(http.NotFoundHandler())
		url := dead.URL
		dead.Close()
		session = newTestSession(t, url, tokens)
	}

	ingest, err := NewIngestClient(IngestOptions{BaseURL: is.server.URL}, tokens)
	if err != nil {
		t.Fatalf("Failed to create ingest client: %v", err)
	}
	probe, err := NewProber(is.server.URL, 0)
	if err != nil {
		t.Fatalf("Failed to create prober: %v", err)
	}

	manager, err := New(session, ingest, probe, spool, marks, Options{})
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start manager: %v", err)
	}
	t.Cleanup(func() {
		manager.Stop()
		spool.Close()
		store.Close()
	})

	return &managerFixture{
		manager: manager,
		spool:   spool,
		marks:   marks,
		store:   store,
		ingest:  is,
		socket:  mock,
	}
}

func (f *managerFixture) seedQueue(ctx context.Context, t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := f.spool.Enqueue(ctx, testSample(i)); err != nil {
			t.Fatalf("Seed enqueue %d failed: %v", i, err)
		}
	}
}

func (f *managerFixture) depth(ctx context.Context, t *testing.T) int {
	t.Helper()
	depth, err := f.manager.QueueDepth(ctx)
	if err != nil {
		t.Fatalf("QueueDepth failed: %v", err)
	}
	return depth
}

// TestDeliverPrefersSocket verifies that a sample goes out over the socket
// channel when it is up, with no HTTP fallback, and that the last-delivered
// checkpoint moves.
func TestDeliverPrefersSocket(t *testing.T) {
	f := newManagerFixture(t, socketLive)
	ctx := context.Background()
	serverConn := awaitConn(t, f.socket)

	sample := testSample(1)
	outcome, err := f.manager.Deliver(ctx, sample)
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if outcome != OutcomeDelivered {
		t.Fatalf("Deliver outcome = %s, want %s", outcome, OutcomeDelivered)
	}

	event, got := readFrame(t, serverConn)
	if event != "location:update" {
		t.Errorf("Expected location:update event, got %s", event)
	}
	if got.UserID != sample.UserID {
		t.Errorf("Expected user %s in frame, got %s", sample.UserID, got.UserID)
	}
	if f.ingest.count() != 0 {
		t.Errorf("Expected no HTTP fallback, got %d requests", f.ingest.count())
	}

	loc, at, err := f.marks.LastDelivered()
	if err != nil {
		t.Fatalf("LastDelivered failed: %v", err)
	}
	if loc.Latitude != sample.Latitude || loc.Longitude != sample.Longitude {
		t.Errorf("Checkpoint at (%f, %f), want sample position", loc.Latitude, loc.Longitude)
	}
	if at.IsZero() {
		t.Error("Expected a delivery timestamp")
	}
}

// TestDeliverFallsBackToHTTP verifies that a dead socket endpoint degrades
// to the HTTP channel without surfacing an error.
func TestDeliverFallsBackToHTTP(t *testing.T) {
	f := newManagerFixture(t, socketDead)
	ctx := context.Background()

	outcome, err := f.manager.Deliver(ctx, testSample(1))
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if outcome != OutcomeDelivered {
		t.Fatalf("Deliver outcome = %s, want %s", outcome, OutcomeDelivered)
	}
	if f.ingest.count() != 1 {
		t.Fatalf("Expected 1 HTTP delivery, got %d", f.ingest.count())
	}
	if auth := f.ingest.authAt(t, 0); auth != "Bearer test-token" {
		t.Errorf("Expected bearer header on fallback, got %q", auth)
	}
	if got := f.depth(ctx, t); got != 0 {
		t.Errorf("Expected empty queue, got depth %d", got)
	}
}

// TestDeliverQueuesWhenUnreachable verifies that a failed reachability
// probe parks the sample without attempting either channel.
func TestDeliverQueuesWhenUnreachable(t *testing.T) {
	f := newManagerFixture(t, socketNone)
	ctx := context.Background()
	f.ingest.server.Close()

	outcome, err := f.manager.Deliver(ctx, testSample(1))
	if err != nil {
		t.Fatalf("Deliver should queue, not fail: %v", err)
	}
	if outcome != OutcomeQueued {
		t.Fatalf("Deliver outcome = %s, want %s", outcome, OutcomeQueued)
	}
	if got := f.depth(ctx, t); got != 1 {
		t.Fatalf("Expected queued sample, got depth %d", got)
	}
	if f.ingest.count() != 0 {
		t.Errorf("Expected no delivery attempts, got %d", f.ingest.count())
	}
	if _, _, err := f.marks.LastDelivered(); !errors.Is(err, state.ErrNotSet) {
		t.Errorf("Expected no delivery checkpoint, got %v", err)
	}
}

// TestDeliverQueuesWhenAllChannelsFail verifies that a reachable but
// erroring ingest parks the sample instead of losing it.
func TestDeliverQueuesWhenAllChannelsFail(t *testing.T) {
	f := newManagerFixture(t, socketNone)
	ctx := context.Background()
	f.ingest.setStatus(func(int) int { return http.StatusInternalServerError })

	outcome, err := f.manager.Deliver(ctx, testSample(1))
	if err != nil {
		t.Fatalf("Deliver should queue, not fail: %v", err)
	}
	if outcome != OutcomeFailed {
		t.Fatalf("Deliver outcome = %s, want %s", outcome, OutcomeFailed)
	}
	if f.ingest.count() != 1 {
		t.Errorf("Expected 1 attempt, got %d", f.ingest.count())
	}
	if got := f.depth(ctx, t); got != 1 {
		t.Errorf("Expected queued sample, got depth %d", got)
	}
}

// TestDeliverReportsLostSample verifies the one case where Deliver errors:
// the sample could not be sent and the queue could not take it either.
func TestDeliverReportsLostSample(t *testing.T) {
	f := newManagerFixture(t, socketNone)
	ctx := context.Background()
	f.ingest.server.Close()
	f.store.Close()

	_, err := f.manager.Deliver(ctx, testSample(1))
	if err == nil {
		t.Fatal("Expected Deliver to report the lost sample")
	}
	if !strings.Contains(err.Error(), "lost") {
		t.Errorf("Unexpected error: %v", err)
	}
}

// TestDeliverySuccessDrainsBacklog verifies that a live delivery flushes
// queued samples in FIFO order and advances the checkpoint to the last
// drained position.
func TestDeliverySuccessDrainsBacklog(t *testing.T) {
	f := newManagerFixture(t, socketNone)
	ctx := context.Background()
	f.seedQueue(ctx, t, 3)

	live := testSample(9)
	if _, err := f.manager.Deliver(ctx, live); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	if f.ingest.count() != 4 {
		t.Fatalf("Expected live sample plus 3 drained, got %d requests", f.ingest.count())
	}
	wantOrder := []string{"user-9", "user-0", "user-1", "user-2"}
	for i, want := range wantOrder {
		if got := f.ingest.sampleAt(t, i).UserID; got != want {
			t.Errorf("Request %d: got %s, want %s", i, got, want)
		}
	}
	if got := f.depth(ctx, t); got != 0 {
		t.Errorf("Expected drained queue, got depth %d", got)
	}

	// The checkpoint follows every successful delivery, so it lands on the
	// last drained sample, not the live one.
	loc, _, err := f.marks.LastDelivered()
	if err != nil {
		t.Fatalf("LastDelivered failed: %v", err)
	}
	last := testSample(2)
	if loc.Latitude != last.Latitude {
		t.Errorf("Checkpoint latitude %f, want %f", loc.Latitude, last.Latitude)
	}
}

// TestDrainHonorsBatchLimit verifies that one delivery drains at most the
// configured batch and leaves the rest for the next opportunity.
func TestDrainHonorsBatchLimit(t *testing.T) {
	f := newManagerFixture(t, socketNone)
	ctx := context.Background()
	f.seedQueue(ctx, t, 7)

	if _, err := f.manager.Deliver(ctx, testSample(9)); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if f.ingest.count() != 6 {
		t.Fatalf("Expected live sample plus batch of 5, got %d requests", f.ingest.count())
	}
	if got := f.depth(ctx, t); got != 2 {
		t.Fatalf("Expected 2 entries left, got %d", got)
	}

	if _, err := f.manager.Deliver(ctx, testSample(10)); err != nil {
		t.Fatalf("Second deliver failed: %v", err)
	}
	if f.ingest.count() != 9 {
		t.Errorf("Expected remaining 2 drained, got %d requests", f.ingest.count())
	}
	if got := f.depth(ctx, t); got != 0 {
		t.Errorf("Expected empty queue, got depth %d", got)
	}
}

// TestDrainStopsOnFirstFailure verifies that a failing drain leaves the
// remaining entries queued for retry rather than burning attempts.
func TestDrainStopsOnFirstFailure(t *testing.T) {
	f := newManagerFixture(t, socketNone)
	ctx := context.Background()
	f.seedQueue(ctx, t, 3)
	f.ingest.setStatus(func(n int) int {
		if n >= 3 {
			return http.StatusInternalServerError
		}
		return http.StatusOK
	})

	if _, err := f.manager.Deliver(ctx, testSample(9)); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if f.ingest.count() != 3 {
		t.Fatalf("Expected drain to stop at first failure, got %d requests", f.ingest.count())
	}
	if got := f.depth(ctx, t); got != 2 {
		t.Errorf("Expected failed and untried entries queued, got depth %d", got)
	}
}

// TestDrainClassifiesFailure verifies that a failed drain surfaces the
// delivery classification for the entry that failed.
func TestDrainClassifiesFailure(t *testing.T) {
	f := newManagerFixture(t, socketNone)
	ctx := context.Background()
	f.seedQueue(ctx, t, 1)
	f.ingest.setStatus(func(int) int { return http.StatusInternalServerError })

	drained, err := f.manager.Drain(ctx)
	if drained != 0 {
		t.Errorf("Expected nothing drained, got %d", drained)
	}
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Errorf("Expected delivery-failed classification, got %v", err)
	}
}

// TestFlushDeliversWithoutLiveSample verifies that Drain works standalone,
// as the health monitor invokes it.
func TestFlushDeliversWithoutLiveSample(t *testing.T) {
	f := newManagerFixture(t, socketNone)
	ctx := context.Background()
	f.seedQueue(ctx, t, 2)

	drained, err := f.manager.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if drained != 2 {
		t.Errorf("Expected 2 drained, got %d", drained)
	}
	if f.ingest.count() != 2 {
		t.Errorf("Expected 2 requests, got %d", f.ingest.count())
	}
	if got := f.depth(ctx, t); got != 0 {
		t.Errorf("Expected empty queue, got depth %d", got)
	}
}

// TestManagerStartStopLifecycle verifies idempotent start/stop and socket
// reference handling across the lifecycle.
func TestManagerStartStopLifecycle(t *testing.T) {
	f := newManagerFixture(t, socketLive)
	ctx := context.Background()

	if !f.manager.IsRunning() {
		t.Fatal("Expected manager to report running")
	}
	if err := f.manager.Start(ctx); err != nil {
		t.Fatalf("Second start failed: %v", err)
	}
	if refs := f.manager.session.Refs(); refs != 1 {
		t.Fatalf("Expected a single socket reference, got %d", refs)
	}

	if err := f.manager.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if f.manager.IsRunning() {
		t.Error("Expected manager to report stopped")
	}
	if err := f.manager.Stop(); err != nil {
		t.Fatalf("Second stop failed: %v", err)
	}
	if refs := f.manager.session.Refs(); refs != 0 {
		t.Errorf("Expected socket released, got %d references", refs)
	}
}

// TestDeliverDisabledSocketSkipsChannel verifies that a manager built
// without a session never touches the socket path.
func TestDeliverDisabledSocketSkipsChannel(t *testing.T) {
	f := newManagerFixture(t, socketNone)
	ctx := context.Background()

	if _, err := f.manager.Deliver(ctx, testSample(1)); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if f.ingest.count() != 1 {
		t.Errorf("Expected HTTP delivery, got %d requests", f.ingest.count())
	}
}
