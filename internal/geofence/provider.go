// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package geofence

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/crewmint/shiftbeacon/internal/logging"
	"github.com/crewmint/shiftbeacon/internal/models"
)

// maxErrorBodySize limits how much of an error response body is read for
// error messages.
const maxErrorBodySize = 64 * 1024

// TokenProvider supplies the bearer credential for authenticated region
// fetches. Satisfied by auth.Source.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Options configures the region provider.
type Options struct {
	// Endpoint is the geofence-list URL. Empty disables fetching; the
	// provider then serves an empty region list.
	Endpoint string

	// RefreshInterval is how often the background loop re-fetches.
	// Default: 15 minutes.
	RefreshInterval time.Duration

	// RequestTimeout bounds a single fetch. Default: 10 seconds.
	RequestTimeout time.Duration

	// Tokens optionally supplies a bearer credential for the fetch.
	Tokens TokenProvider
}

// Provider fetches the geofence region list from the external provider and
// caches it in memory. The cache is read-only to the rest of the agent;
// Refresh replaces it wholesale. A background loop re-fetches periodically
// while the provider is running.
type Provider struct {
	opts   Options
	client *http.Client

	// cache - protected by cacheMu
	cacheMu   sync.RWMutex
	regions   []models.GeofenceRegion
	fetchedAt time.Time

	// Control
	ctx    context.Context
	cancel context.CancelFunc

	// State - all protected by mu
	mu       sync.Mutex
	running  bool
	stopping bool
	stopDone chan struct{}
}

// NewProvider creates a region provider. It does not fetch; call Refresh or
// Start.
func NewProvider(opts Options) *Provider {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 15 * time.Minute
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return &Provider{
		opts:   opts,
		client: &http.Client{Timeout: opts.RequestTimeout},
	}
}

// Regions returns the cached region list. The returned slice must not be
// mutated by the caller.
func (p *Provider) Regions() []models.GeofenceRegion {
	p.cacheMu.RLock()
	defer p.cacheMu.RUnlock()
	return p.regions
}

// FetchedAt returns when the cache was last refreshed successfully.
func (p *Provider) FetchedAt() time.Time {
	p.cacheMu.RLock()
	defer p.cacheMu.RUnlock()
	return p.fetchedAt
}

// Evaluate tests the location against the cached regions.
func (p *Provider) Evaluate(location models.Coordinate) (bool, string) {
	return IsInside(location, p.Regions())
}

// Refresh fetches the region list and replaces the cache. A fetch failure
// leaves the previous cache in place.
func (p *Provider) Refresh(ctx context.Context) error {
	if p.opts.Endpoint == "" {
		return nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.opts.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("building geofence request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if p.opts.Tokens != nil {
		token, err := p.opts.Tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("geofence credential: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching geofence regions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return fmt.Errorf("geofence fetch returned %d: %s", resp.StatusCode, string(body))
	}

	var regions []models.GeofenceRegion
	if err := json.NewDecoder(resp.Body).Decode(&regions); err != nil {
		return fmt.Errorf("decoding geofence regions: %w", err)
	}

	usable := regions[:0]
	for _, r := range regions {
		if r.Usable() {
			usable = append(usable, r)
		} else {
			logging.Warn().Str("region_id", r.ID).Msg("Skipping geofence region without usable geometry")
		}
	}

	p.cacheMu.Lock()
	p.regions = usable
	p.fetchedAt = time.Now()
	p.cacheMu.Unlock()

	logging.Debug().Int("regions", len(usable)).Msg("Geofence regions refreshed")
	return nil
}

// Start begins the background refresh loop. An initial fetch runs
// immediately; failures are logged and retried at the next tick.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()

	for p.stopping {
		stopDone := p.stopDone
		p.mu.Unlock()
		<-stopDone
		p.mu.Lock()
	}

	if p.running {
		p.mu.Unlock()
		return nil
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.stopDone = make(chan struct{})

	loopCtx := p.ctx
	done := p.stopDone

	p.mu.Unlock()

	go p.runWithContext(loopCtx, done)

	logging.Info().
		Dur("interval", p.opts.RefreshInterval).
		Str("endpoint", p.opts.Endpoint).
		Msg("Geofence provider started")
	return nil
}

// Stop gracefully stops the refresh loop.
func (p *Provider) Stop() {
	p.mu.Lock()
	if !p.running || p.stopping {
		p.mu.Unlock()
		return
	}

	p.cancel()
	p.running = false
	p.stopping = true
	stopDone := p.stopDone
	p.mu.Unlock()

	<-stopDone

	p.mu.Lock()
	p.stopping = false
	p.mu.Unlock()

	logging.Info().Msg("Geofence provider stopped")
}

// IsRunning returns whether the refresh loop is active.
func (p *Provider) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// runWithContext is the refresh loop goroutine. The context is passed as a
// parameter to avoid races with Stop().
func (p *Provider) runWithContext(ctx context.Context, done chan struct{}) {
	defer close(done)

	if err := p.Refresh(ctx); err != nil {
		logging.Error().Err(err).Msg("Initial geofence refresh failed")
	}

	ticker := time.NewTicker(p.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				logging.Error().Err(err).Msg("Geofence refresh failed")
			}
		}
	}
}
