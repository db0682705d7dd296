// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package services

import (
	"context"
	"fmt"
)

// Uplink is the delivery manager's lifecycle. Unlike the other loops its
// Stop reports an error, because releasing the socket session can fail.
//
// Satisfied by *delivery.Manager from internal/delivery/manager.go.
type Uplink interface {
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
}

// DeliveryService wraps the delivery manager as a supervised service.
//
// Starting the manager acquires a reference on the shared socket session,
// which begins dialing in the background; stopping releases it. A suture
// restart of this service therefore also resets the socket connection,
// which is the desired behavior when the uplink wedges.
type DeliveryService struct {
	manager Uplink
	name    string
}

// NewDeliveryService creates a delivery manager service wrapper.
func NewDeliveryService(manager Uplink) *DeliveryService {
	return &DeliveryService{
		manager: manager,
		name:    "delivery-manager",
	}
}

// Serve implements suture.Service.
func (s *DeliveryService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("delivery manager start failed: %w", err)
	}

	// Wait for shutdown signal
	<-ctx.Done()

	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("delivery manager stop failed: %w", err)
	}

	return ctx.Err()
}

// String implements fmt.Stringer for logging.
// Suture uses this to identify the service in log messages.
func (s *DeliveryService) String() string {
	return s.name
}
