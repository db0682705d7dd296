// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newTestSession builds a session against the given URL with a short
// reconnect interval so drop/redial tests finish quickly.
func newTestSession(t *testing.T, url string, tokens TokenProvider) *SocketSession {
	t.Helper()

	session, err := NewSocketSession(SocketOptions{
		URL:               url,
		UserID:            "worker-7",
		Tokens:            tokens,
		HandshakeTimeout:  2 * time.Second,
		ReconnectInterval: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	return session
}

// TestSocketEmitDeliversFrame verifies that an emitted sample arrives as a
// JSON event frame and that the connect URL carried the bearer token and
// user ID as query parameters.
func TestSocketEmitDeliversFrame(t *testing.T) {
	mock := newMockSocketServer(t)
	tokens := &staticTokens{current: "test-token"}
	session := newTestSession(t, mock.server.URL, tokens)

	session.Acquire()
	defer session.Release()
	serverConn := awaitConn(t, mock)

	sample := testSample(1)
	if err := session.Emit(context.Background(), "location:update", sample); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	event, got := readFrame(t, serverConn)
	if event != "location:update" {
		t.Errorf("Expected event location:update, got %s", event)
	}
	if got.UserID != "user-1" {
		t.Errorf("Expected user-1 in frame data, got %s", got.UserID)
	}
	if got.Latitude != sample.Latitude {
		t.Errorf("Expected latitude %f, got %f", sample.Latitude, got.Latitude)
	}

	token, user := mock.lastAuth()
	if token != "test-token" {
		t.Errorf("Expected token query parameter test-token, got %q", token)
	}
	if user != "worker-7" {
		t.Errorf("Expected userId query parameter worker-7, got %q", user)
	}
}

// TestSocketReconnectsAfterDrop closes the connection server-side and
// verifies the session dials again on its reconnect interval.
func TestSocketReconnectsAfterDrop(t *testing.T) {
	mock := newMockSocketServer(t)
	session := newTestSession(t, mock.server.URL, &staticTokens{current: "test-token"})

	session.Acquire()
	defer session.Release()

	first := awaitConn(t, mock)
	first.Close()

	second := awaitConn(t, mock)
	defer second.Close()

	if err := session.Emit(context.Background(), "location:update", testSample(2)); err != nil {
		t.Fatalf("Emit after reconnect failed: %v", err)
	}
	if event, _ := readFrame(t, second); event != "location:update" {
		t.Errorf("Expected event on new connection, got %s", event)
	}
}

// TestSocketRefcountSharing verifies that the connection survives as long
// as any holder remains and tears down only on the last release.
func TestSocketRefcountSharing(t *testing.T) {
	mock := newMockSocketServer(t)
	session := newTestSession(t, mock.server.URL, &staticTokens{current: "test-token"})

	session.Acquire()
	session.Acquire()
	awaitConn(t, mock)

	session.Release()
	if session.Refs() != 1 {
		t.Fatalf("Expected 1 reference after first release, got %d", session.Refs())
	}
	// Longer than the reconnect interval, so a wrongly torn-down session
	// would be observably disconnected here.
	time.Sleep(150 * time.Millisecond)
	if !session.Connected() {
		t.Error("Session disconnected while a reference was still held")
	}

	session.Release()
	if session.Refs() != 0 {
		t.Fatalf("Expected 0 references, got %d", session.Refs())
	}
	if session.Connected() {
		t.Error("Session still connected after last release")
	}
	if err := session.Emit(context.Background(), "location:update", testSample(3)); err == nil {
		t.Error("Expected Emit to fail after last release")
	}
}

// TestSocketEmitWithoutReferences verifies that an unacquired session
// refuses to send rather than opening an unmanaged connection.
func TestSocketEmitWithoutReferences(t *testing.T) {
	mock := newMockSocketServer(t)
	session := newTestSession(t, mock.server.URL, &staticTokens{current: "test-token"})

	err := session.Emit(context.Background(), "location:update", testSample(1))
	if err == nil {
		t.Fatal("Expected Emit without Acquire to fail")
	}
	if !strings.Contains(err.Error(), "no active references") {
		t.Errorf("Unexpected error: %v", err)
	}
}

// TestSocketEmitFailsWhenServerDown verifies that Emit surfaces the dial
// error when the endpoint is gone, so callers can fall back.
func TestSocketEmitFailsWhenServerDown(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	session := newTestSession(t, url, &staticTokens{current: "test-token"})
	session.Acquire()
	defer session.Release()

	if err := session.Emit(context.Background(), "location:update", testSample(1)); err == nil {
		t.Fatal("Expected Emit against a dead endpoint to fail")
	}
}
