// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package delivery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/crewmint/shiftbeacon/internal/models"
	"github.com/crewmint/shiftbeacon/internal/storage"
)

// Shared test doubles for the delivery package.

// staticTokens satisfies TokenProvider with fixed credentials and counts
// refreshes. Refresh swaps in the next credential when one is set.
type staticTokens struct {
	mu        sync.Mutex
	current   string
	next      string
	refreshes int
}

func (s *staticTokens) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

func (s *staticTokens) Refresh(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	if s.next != "" {
		s.current = s.next
	}
	return s.current, nil
}

func (s *staticTokens) refreshCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

// mockSocketServer is a test websocket endpoint that records connect
// credentials and hands server-side connections to the test.
type mockSocketServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	connChan chan *websocket.Conn

	mu     sync.Mutex
	tokens []string
	users  []string
}

func newMockSocketServer(t *testing.T) *mockSocketServer {
	t.Helper()

	mock := &mockSocketServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		connChan: make(chan *websocket.Conn, 4),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.tokens = append(mock.tokens, r.URL.Query().Get("token"))
		mock.users = append(mock.users, r.URL.Query().Get("userId"))
		mock.mu.Unlock()

		conn, err := mock.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mock.connChan <- conn
	}))
	t.Cleanup(mock.server.Close)
	return mock
}

func (m *mockSocketServer) lastAuth() (token, user string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tokens) == 0 {
		return "", ""
	}
	return m.tokens[len(m.tokens)-1], m.users[len(m.users)-1]
}

// awaitConn waits for the server side of the next websocket connection.
func awaitConn(t *testing.T, mock *mockSocketServer) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-mock.connChan:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("Server did not receive a connection")
		return nil
	}
}

// readFrame reads one event frame from the server side of the socket.
func readFrame(t *testing.T, conn *websocket.Conn) (string, models.LocationSample) {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}

	var frame struct {
		Event string                `json:"event"`
		Data  models.LocationSample `json:"data"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}
	return frame.Event, frame.Data
}

// ingestServer fakes the location-ingest HTTP endpoint. The status
// function picks the response code by request number (1-based).
type ingestServer struct {
	server *httptest.Server

	mu      sync.Mutex
	samples []models.LocationSample
	raws    [][]byte
	auths   []string
	status  func(n int) int
}

func newIngestServer(t *testing.T) *ingestServer {
	t.Helper()

	is := &ingestServer{status: func(int) int { return http.StatusOK }}
	is.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/location" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		raw, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read error", http.StatusInternalServerError)
			return
		}
		var sample models.LocationSample
		if err := json.Unmarshal(raw, &sample); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}

		is.mu.Lock()
		is.samples = append(is.samples, sample)
		is.raws = append(is.raws, raw)
		is.auths = append(is.auths, r.Header.Get("Authorization"))
		code := is.status(len(is.samples))
		is.mu.Unlock()

		if code != http.StatusOK {
			http.Error(w, "ingest error", code)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(is.server.Close)
	return is
}

func (is *ingestServer) setStatus(fn func(n int) int) {
	is.mu.Lock()
	defer is.mu.Unlock()
	is.status = fn
}

func (is *ingestServer) count() int {
	is.mu.Lock()
	defer is.mu.Unlock()
	return len(is.samples)
}

func (is *ingestServer) sampleAt(t *testing.T, i int) models.LocationSample {
	t.Helper()
	is.mu.Lock()
	defer is.mu.Unlock()
	if i >= len(is.samples) {
		t.Fatalf("No sample at index %d, have %d", i, len(is.samples))
	}
	return is.samples[i]
}

func (is *ingestServer) rawAt(t *testing.T, i int) []byte {
	t.Helper()
	is.mu.Lock()
	defer is.mu.Unlock()
	if i >= len(is.raws) {
		t.Fatalf("No request body at index %d, have %d", i, len(is.raws))
	}
	return is.raws[i]
}

func (is *ingestServer) authAt(t *testing.T, i int) string {
	t.Helper()
	is.mu.Lock()
	defer is.mu.Unlock()
	if i >= len(is.auths) {
		t.Fatalf("No auth header at index %d, have %d", i, len(is.auths))
	}
	return is.auths[i]
}

func testStorageConfig(t *testing.T, dir string) storage.Config {
	t.Helper()
	cfg := storage.DefaultConfig()
	cfg.Path = dir
	cfg.SyncWrites = false // Faster tests without fsync
	return cfg
}

// testSample builds a distinguishable sample; the index is encoded in the
// user ID so ordering assertions can identify entries.
func testSample(i int) models.LocationSample {
	fix := models.RawFix{
		Latitude:     52.52 + float64(i)*0.001,
		Longitude:    13.405,
		Accuracy:     10,
		Timestamp:    time.Now().UTC(),
		BatteryLevel: 80,
	}
	return models.NewLocationSample(fix, fmt.Sprintf("user-%d", i), "shift-1")
}
