// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig carries the restart knobs applied to every supervisor in
// the tree.
type TreeConfig struct {
	// FailureThreshold is how many failures a layer tolerates before
	// entering backoff. Zero means 5.
	FailureThreshold float64

	// FailureDecay is the half-life of the failure count in seconds.
	// Zero means 30.
	FailureDecay float64

	// FailureBackoff is how long a layer pauses once the threshold is
	// crossed. Zero means 15s.
	FailureBackoff time.Duration

	// ShutdownTimeout bounds each service's stop during shutdown.
	// Zero means 10s.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns suture's production defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

func (c TreeConfig) withDefaults() TreeConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5.0
	}
	if c.FailureDecay == 0 {
		c.FailureDecay = 30.0
	}
	if c.FailureBackoff == 0 {
		c.FailureBackoff = 15 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

func (c TreeConfig) spec() suture.Spec {
	return suture.Spec{
		FailureThreshold: c.FailureThreshold,
		FailureDecay:     c.FailureDecay,
		FailureBackoff:   c.FailureBackoff,
		Timeout:          c.ShutdownTimeout,
	}
}

// SupervisorTree holds the agent's three-layer supervision hierarchy.
//
//   - data: storage maintenance (Badger value log GC)
//   - telemetry: policy engine, delivery manager, health monitor,
//     geofence refresher
//   - api: HTTP control server
//
// Failures are counted per layer, so a crash loop in telemetry backs
// off that layer without taking down the control API, and storage
// maintenance restarts without disturbing an in-flight delivery.
type SupervisorTree struct {
	root      *suture.Supervisor
	data      *suture.Supervisor
	telemetry *suture.Supervisor
	api       *suture.Supervisor
	logger    *slog.Logger
	config    TreeConfig
}

// NewSupervisorTree builds the three-layer tree. The logger feeds the
// sutureslog event hook and must be non-nil.
func NewSupervisorTree(logger *slog.Logger, config TreeConfig) (*SupervisorTree, error) {
	if logger == nil {
		return nil, fmt.Errorf("supervisor: logger is required")
	}
	config = config.withDefaults()

	// The hook lives on the root; child supervisors inherit it when
	// they are added.
	rootSpec := config.spec()
	rootSpec.EventHook = (&sutureslog.Handler{Logger: logger}).MustHook()

	t := &SupervisorTree{
		root:      suture.New("shiftbeacon", rootSpec),
		data:      suture.New("data-layer", config.spec()),
		telemetry: suture.New("telemetry-layer", config.spec()),
		api:       suture.New("api-layer", config.spec()),
		logger:    logger,
		config:    config,
	}
	for _, layer := range t.layers() {
		t.root.Add(layer)
	}
	return t, nil
}

// Root exposes the root supervisor for callers that need suture
// directly.
func (t *SupervisorTree) Root() *suture.Supervisor {
	return t.root
}

// AddDataService attaches a service to the data layer. Storage
// maintenance belongs here.
func (t *SupervisorTree) AddDataService(svc suture.Service) suture.ServiceToken {
	return t.data.Add(svc)
}

// AddTelemetryService attaches a service to the telemetry layer: the
// policy engine, delivery manager, health monitor, and geofence
// refresher.
func (t *SupervisorTree) AddTelemetryService(svc suture.Service) suture.ServiceToken {
	return t.telemetry.Add(svc)
}

// AddAPIService attaches a service to the API layer. The HTTP control
// server belongs here.
func (t *SupervisorTree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree and blocks until ctx is canceled.
func (t *SupervisorTree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in its own goroutine and returns the
// channel that yields the terminal error.
func (t *SupervisorTree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport names the services that ignored shutdown, for
// logging after the tree drains.
func (t *SupervisorTree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// Remove stops and removes a previously added service. Tokens are
// issued by the layer supervisors, so the call is routed to whichever
// layer recognizes the token.
func (t *SupervisorTree) Remove(token suture.ServiceToken) error {
	for _, layer := range t.layers() {
		err := layer.Remove(token)
		if !errors.Is(err, suture.ErrWrongSupervisor) {
			return err
		}
	}
	return suture.ErrWrongSupervisor
}

// RemoveAndWait removes a service and blocks until it has fully stopped
// or the timeout elapses.
func (t *SupervisorTree) RemoveAndWait(token suture.ServiceToken, timeout time.Duration) error {
	for _, layer := range t.layers() {
		err := layer.RemoveAndWait(token, timeout)
		if !errors.Is(err, suture.ErrWrongSupervisor) {
			return err
		}
	}
	return suture.ErrWrongSupervisor
}

func (t *SupervisorTree) layers() []*suture.Supervisor {
	return []*suture.Supervisor{t.data, t.telemetry, t.api}
}
