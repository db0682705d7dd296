// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package models

import (
	"time"

	"github.com/google/uuid"
)

// QueueEntry is a location sample held in the durable offline queue, together
// with the bookkeeping the queue and the delivery manager need for retry
// decisions.
//
// Key is the queue's ordered storage key (zero-padded sequence number plus
// sample ID); it defines FIFO order and identifies the entry for
// acknowledgement and requeueing. Entries are removed only on confirmed
// delivery, on capacity eviction (oldest first), or when older than the
// retention window.
type QueueEntry struct {
	Key    string         `json:"key"`
	Sample LocationSample `json:"sample"`

	// SampleID preserves the sample's identifier across serialization; the
	// sample's own ID field is excluded from the wire format.
	SampleID uuid.UUID `json:"sampleId"`

	QueuedAt time.Time `json:"queuedAt"`

	// Delivery attempt bookkeeping
	Attempts      int        `json:"attempts"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`

	// LeaseExpiry is set while the entry is checked out by an in-flight
	// delivery. A leased entry is invisible to Dequeue until the lease
	// expires; acknowledgement removes it, requeueing clears the lease.
	LeaseExpiry *time.Time `json:"leaseExpiry,omitempty"`
}

// Leased reports whether the entry holds an unexpired delivery lease.
func (e QueueEntry) Leased(now time.Time) bool {
	return e.LeaseExpiry != nil && now.Before(*e.LeaseExpiry)
}
