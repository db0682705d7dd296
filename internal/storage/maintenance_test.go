// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// TestMaintainerPass verifies a GC pass leaves the store usable and records
// its run time.
func TestMaintainerPass(t *testing.T) {
	store, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	if err := store.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("queue:entry:0001"), []byte(`{"sampleId":"x"}`))
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	maintainer := NewMaintainer(store, 0)
	if maintainer.interval != DefaultMaintenanceInterval {
		t.Errorf("Expected default interval %v, got %v", DefaultMaintenanceInterval, maintainer.interval)
	}
	if !maintainer.LastRun().IsZero() {
		t.Error("Expected zero LastRun before any pass")
	}

	maintainer.maintain()

	if maintainer.LastRun().IsZero() {
		t.Error("Expected LastRun to be set after a pass")
	}

	// The store still serves reads after GC.
	if err := store.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("queue:entry:0001"))
		return err
	}); err != nil {
		t.Errorf("View after GC failed: %v", err)
	}
}

// TestMaintainerLifecycle verifies idempotent start/stop and that the loop
// actually ticks.
func TestMaintainerLifecycle(t *testing.T) {
	store, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	maintainer := NewMaintainer(store, 10*time.Millisecond)
	ctx := context.Background()

	if err := maintainer.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := maintainer.Start(ctx); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}
	if !maintainer.IsRunning() {
		t.Error("Expected maintainer to be running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for maintainer.LastRun().IsZero() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if maintainer.LastRun().IsZero() {
		t.Fatal("Maintenance loop never ticked")
	}

	maintainer.Stop()
	maintainer.Stop()
	if maintainer.IsRunning() {
		t.Error("Expected maintainer to be stopped")
	}
}
