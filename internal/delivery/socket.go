// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package delivery

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/crewmint/shiftbeacon/internal/logging"
	"github.com/crewmint/shiftbeacon/internal/metrics"
)

const (
	// defaultHandshakeTimeout bounds one dial attempt.
	defaultHandshakeTimeout = 5 * time.Second

	// defaultReconnectInterval is the fixed cadence at which a held but
	// disconnected session redials.
	defaultReconnectInterval = 60 * time.Second

	// pingInterval keeps idle connections alive through intermediaries.
	pingInterval = 30 * time.Second

	// pongWait is how long a connection may stay silent before it is
	// declared dead. Three missed pings.
	pongWait = 90 * time.Second

	// writeTimeout bounds one frame write.
	writeTimeout = 5 * time.Second
)

// TokenProvider supplies the bearer credential for socket connects and
// ingest posts. Satisfied by auth.Source.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// SocketOptions configures a SocketSession.
type SocketOptions struct {
	// URL is the socket endpoint. http and https schemes are converted to
	// ws and wss.
	URL string

	// UserID is sent as the userId query parameter on connect.
	UserID string

	// Tokens supplies the token query parameter on connect.
	Tokens TokenProvider

	// HandshakeTimeout bounds one dial. Default: 5 seconds.
	HandshakeTimeout time.Duration

	// ReconnectInterval is the fixed redial cadence while references are
	// held and the socket is down. Default: 60 seconds.
	ReconnectInterval time.Duration
}

// socketFrame is the wire shape of one socket event.
type socketFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// SocketSession is the process-wide websocket connection to the ingest
// server, shared by reference counting. The first Acquire starts a
// maintenance loop that dials immediately and then redials on a fixed
// interval whenever the connection is down; the last Release tears
// everything down synchronously. Emit may only be called between Acquire
// and Release.
type SocketSession struct {
	opts   SocketOptions
	dialer *websocket.Dialer

	// connMu guards conn and the run context. Frame writes hold it
	// exclusively so the connection never sees two writers.
	connMu sync.RWMutex
	conn   *websocket.Conn

	refMu     sync.Mutex
	refs      int
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// NewSocketSession validates the options and builds a session. No network
// activity happens until the first Acquire.
func NewSocketSession(opts SocketOptions) (*SocketSession, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("socket URL is required")
	}
	if _, err := url.Parse(opts.URL); err != nil {
		return nil, fmt.Errorf("invalid socket URL: %w", err)
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = defaultReconnectInterval
	}

	return &SocketSession{
		opts: opts,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
		},
	}, nil
}

// Acquire takes a reference. The first reference arms the maintenance loop
// and kicks off an initial dial in the background, so an Emit shortly
// after Acquire usually finds a live connection.
func (s *SocketSession) Acquire() {
	s.refMu.Lock()
	defer s.refMu.Unlock()

	s.refs++
	metrics.SocketRefs.Set(float64(s.refs))
	if s.refs > 1 {
		return
	}

	s.connMu.Lock()
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	ctx := s.runCtx
	s.connMu.Unlock()

	s.wg.Add(2)
	go s.maintain(ctx)
	go func() {
		defer s.wg.Done()
		dialCtx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
		defer cancel()
		if err := s.Connect(dialCtx); err != nil {
			logging.Debug().Err(err).Msg("Initial socket connect failed, reconnect timer armed")
		}
	}()
}

// Release drops a reference. Releasing the last reference cancels the
// maintenance loop and any in-flight dial, closes the connection, and
// returns only after all session goroutines have exited.
func (s *SocketSession) Release() {
	s.refMu.Lock()
	defer s.refMu.Unlock()

	if s.refs == 0 {
		return
	}
	s.refs--
	metrics.SocketRefs.Set(float64(s.refs))
	if s.refs > 0 {
		return
	}

	s.runCancel()
	s.connMu.Lock()
	s.closeConnLocked()
	s.connMu.Unlock()
	s.wg.Wait()
	logging.Info().Msg("Socket session closed")
}

// Refs returns the current reference count.
func (s *SocketSession) Refs() int {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	return s.refs
}

// Connected reports whether a connection is currently live.
func (s *SocketSession) Connected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn != nil
}

// Connect dials the socket endpoint if no connection is live. Redundant
// calls are no-ops, so the maintenance loop and an impatient Emit can race
// it safely.
func (s *SocketSession) Connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.connectLocked(ctx)
}

// Emit sends one event frame, dialing first when no connection is live.
// A failed write discards the connection; the reconnect timer brings it
// back while references are held.
func (s *SocketSession) Emit(ctx context.Context, event string, payload interface{}) error {
	if s.Refs() == 0 {
		return fmt.Errorf("socket session has no active references")
	}

	buf, err := json.Marshal(socketFrame{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", event, err)
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		if err := s.connectLocked(ctx); err != nil {
			return err
		}
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
		s.closeConnLocked()
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// connectLocked dials and installs a new connection. Caller holds connMu.
func (s *SocketSession) connectLocked(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}
	if s.runCtx == nil || s.runCtx.Err() != nil {
		return fmt.Errorf("socket session is not acquired")
	}

	wsURL, err := s.socketURL(ctx)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	defer cancel()

	conn, resp, err := s.dialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("socket dial rejected with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("socket dial: %w", err)
	}

	s.conn = conn
	metrics.SocketConnected.Set(1)

	s.wg.Add(1)
	go s.readPump(s.runCtx, conn)

	logging.Info().Str("user_id", s.opts.UserID).Msg("Socket session connected")
	return nil
}

// socketURL builds the dial URL: ws scheme, userId and token query
// parameters.
func (s *SocketSession) socketURL(ctx context.Context) (string, error) {
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return "", fmt.Errorf("invalid socket URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	q := u.Query()
	q.Set("userId", s.opts.UserID)
	if s.opts.Tokens != nil {
		token, err := s.opts.Tokens.Token(ctx)
		if err != nil {
			return "", fmt.Errorf("socket credential: %w", err)
		}
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// maintain redials on the reconnect interval while the connection is down
// and pings it while it is up. Runs from first Acquire to last Release.
func (s *SocketSession) maintain(ctx context.Context) {
	defer s.wg.Done()

	reconnect := time.NewTicker(s.opts.ReconnectInterval)
	defer reconnect.Stop()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reconnect.C:
			if s.Connected() {
				continue
			}
			metrics.SocketReconnects.Inc()
			if err := s.Connect(ctx); err != nil {
				logging.Debug().Err(err).Msg("Socket reconnect attempt failed")
			}
		case <-ping.C:
			s.ping()
		}
	}
}

// ping sends a control ping on the live connection, dropping it when the
// write fails.
func (s *SocketSession) ping() {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		return
	}

	if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
		s.dropConn(conn, err)
	}
}

// readPump drains inbound frames. The server only sends acks, so their
// content is discarded; reading keeps control-frame handling alive and the
// pong handler feeds the read deadline.
func (s *SocketSession) readPump(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if ctx.Err() != nil {
				_ = conn.Close()
			} else {
				s.dropConn(conn, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// dropConn clears the session's connection if it still is the given one.
// The reconnect timer re-establishes it while references are held.
func (s *SocketSession) dropConn(conn *websocket.Conn, err error) {
	s.connMu.Lock()
	current := s.conn == conn
	if current {
		s.conn = nil
		metrics.SocketConnected.Set(0)
	}
	s.connMu.Unlock()

	_ = conn.Close()

	if current && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		logging.Warn().Err(err).Msg("Socket connection lost")
	}
}

// closeConnLocked tears down the current connection with a normal-closure
// frame. Caller holds connMu.
func (s *SocketSession) closeConnLocked() {
	if s.conn == nil {
		return
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = s.conn.Close()
	s.conn = nil
	metrics.SocketConnected.Set(0)
}
