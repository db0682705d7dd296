// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package delivery

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/crewmint/shiftbeacon/internal/logging"
)

// defaultProbeTimeout bounds one TCP probe.
const defaultProbeTimeout = 3 * time.Second

// Prober answers whether the ingest host currently accepts TCP
// connections. Verdicts are cached for a short TTL so back-to-back
// deliveries do not each pay for a probe.
type Prober struct {
	host    string // host:port
	timeout time.Duration
	ttl     time.Duration

	mu        sync.Mutex
	lastAt    time.Time
	lastState bool

	dial func(ctx context.Context, network, addr string) (net.Conn, error)
	now  func() time.Time
}

// NewProber derives the probe target from the ingest base URL. A ttl of
// zero or less disables the cache, so every call probes.
func NewProber(rawURL string, ttl time.Duration) (*Prober, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ingest URL %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("ingest URL %q has no host", rawURL)
	}

	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https", "wss":
			host = net.JoinHostPort(u.Hostname(), "443")
		default:
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	dialer := &net.Dialer{}
	return &Prober{
		host:    host,
		timeout: defaultProbeTimeout,
		ttl:     ttl,
		dial:    dialer.DialContext,
		now:     time.Now,
	}, nil
}

// Reachable reports whether the ingest host accepted a TCP connection
// within the probe timeout, serving the cached verdict while it is fresh.
func (p *Prober) Reachable(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.lastAt.IsZero() && p.now().Sub(p.lastAt) < p.ttl {
		return p.lastState
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(probeCtx, "tcp", p.host)
	if conn != nil {
		_ = conn.Close()
	}

	state := err == nil
	if !p.lastAt.IsZero() && state != p.lastState {
		logging.Info().
			Str("host", p.host).
			Bool("reachable", state).
			Msg("Ingest host reachability changed")
	}
	p.lastAt = p.now()
	p.lastState = state
	return state
}
