// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

// fakeUplink is a test double for the Uplink interface.
type fakeUplink struct {
	startErr   error
	stopErr    error
	startCount atomic.Int32
	stopCount  atomic.Int32
	running    atomic.Bool
}

func (f *fakeUplink) Start(ctx context.Context) error {
	f.startCount.Add(1)
	if f.startErr != nil {
		return f.startErr
	}
	f.running.Store(true)
	return nil
}

func (f *fakeUplink) Stop() error {
	f.stopCount.Add(1)
	f.running.Store(false)
	return f.stopErr
}

func (f *fakeUplink) IsRunning() bool {
	return f.running.Load()
}

func TestDeliveryServiceInterface(t *testing.T) {
	// Verify DeliveryService implements suture.Service
	var _ suture.Service = (*DeliveryService)(nil)
}

// TestDeliveryServiceServe verifies the manager starts with Serve and stops
// on cancellation.
func TestDeliveryServiceServe(t *testing.T) {
	uplink := &fakeUplink{}
	svc := NewDeliveryService(uplink)

	if svc.String() != "delivery-manager" {
		t.Errorf("Expected name %q, got %q", "delivery-manager", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Serve(ctx)
	}()

	deadline := time.Now().Add(time.Second)
	for !uplink.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !uplink.IsRunning() {
		t.Fatal("Manager was not started")
	}

	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	if uplink.stopCount.Load() != 1 {
		t.Errorf("Expected 1 stop, got %d", uplink.stopCount.Load())
	}
}

// TestDeliveryServiceStartFailure verifies a failed start surfaces to suture.
func TestDeliveryServiceStartFailure(t *testing.T) {
	startErr := errors.New("session unavailable")
	uplink := &fakeUplink{startErr: startErr}
	svc := NewDeliveryService(uplink)

	if err := svc.Serve(context.Background()); !errors.Is(err, startErr) {
		t.Fatalf("Expected start error, got %v", err)
	}
	if uplink.stopCount.Load() != 0 {
		t.Errorf("Expected no stop after failed start, got %d", uplink.stopCount.Load())
	}
}

// TestDeliveryServiceStopFailure verifies a stop error is reported instead
// of the context error, so it lands in the supervisor's event log.
func TestDeliveryServiceStopFailure(t *testing.T) {
	stopErr := errors.New("socket release failed")
	uplink := &fakeUplink{stopErr: stopErr}
	svc := NewDeliveryService(uplink)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Serve(ctx)
	}()

	deadline := time.Now().Add(time.Second)
	for !uplink.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, stopErr) {
			t.Errorf("Expected stop error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}
