// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package capture

import (
	"context"
	"sync"

	"github.com/crewmint/shiftbeacon/internal/models"
)

// HostSource is the production Source. The agent cannot reach into the host
// platform's location stack, so registration is a contract with the host
// application: Register advertises the desired parameters (the host reads
// them from the status endpoint), and the host pushes the resulting fixes
// back through the intake endpoint. Permission and services state are
// whatever the host last reported; both start out granted so a freshly
// started agent can register before the first report arrives.
type HostSource struct {
	mu         sync.Mutex
	registered bool
	cfg        models.TrackingConfig
	permission bool
	services   bool
}

// NewHostSource returns a source with permission and services assumed on.
func NewHostSource() *HostSource {
	return &HostSource{permission: true, services: true}
}

// Register advertises a registration with the given parameters.
func (h *HostSource) Register(_ context.Context, cfg models.TrackingConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.permission {
		return ErrPermissionDenied
	}
	h.registered = true
	h.cfg = cfg
	return nil
}

// Deregister withdraws the advertised registration.
func (h *HostSource) Deregister(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.registered {
		return ErrNotRegistered
	}
	h.registered = false
	return nil
}

// UpdateConfig swaps the advertised parameters in place.
func (h *HostSource) UpdateConfig(_ context.Context, cfg models.TrackingConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.registered {
		return ErrNotRegistered
	}
	h.cfg = cfg
	return nil
}

// PermissionGranted reports the host's last known permission state.
func (h *HostSource) PermissionGranted(context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.permission, nil
}

// ServicesEnabled reports the host's last known location services state.
func (h *HostSource) ServicesEnabled(context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.services, nil
}

// ReportPermission records a permission state change from the host.
func (h *HostSource) ReportPermission(granted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.permission = granted
}

// ReportServicesEnabled records a location services change from the host.
func (h *HostSource) ReportServicesEnabled(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.services = enabled
}

// Advertised returns the current registration state and parameters.
func (h *HostSource) Advertised() (bool, models.TrackingConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registered, h.cfg
}
