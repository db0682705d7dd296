// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package models

import (
	"time"

	"github.com/google/uuid"
)

// RawFix represents a single raw position reading from the device's location
// provider, as pushed by the host application. It carries everything the
// rate limiter and the adaptive policy engine need to know about the device
// at the moment of the reading, including charging state, which is consumed
// by the policy engine but never forwarded to the ingest service.
type RawFix struct {
	Latitude  float64   `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64   `json:"longitude" validate:"min=-180,max=180"`
	Accuracy  float64   `json:"accuracy" validate:"min=0"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"` // meters per second
	Timestamp time.Time `json:"timestamp"`

	// Device state at the moment of the fix
	BatteryLevel float64 `json:"batteryLevel" validate:"min=0,max=100"` // percent
	IsCharging   bool    `json:"isCharging"`
	IsMoving     bool    `json:"isMoving"`
	IsBackground bool    `json:"isBackground"`
}

// SpeedMS returns the fix speed in meters per second, or 0 when absent.
func (f RawFix) SpeedMS() float64 {
	if f.Speed == nil {
		return 0
	}
	return *f.Speed
}

// LocationSample is an accepted position sample attributed to a user and
// shift session. Immutable once created; produced by capture, consumed by the
// delivery manager and the offline queue.
//
// The JSON encoding of this struct IS the ingest wire format: the same body
// is POSTed to the location endpoint and wrapped in the socket channel's
// location:update event. Field names and the RFC 3339 timestamp encoding are
// part of that contract and must not change.
type LocationSample struct {
	ID uuid.UUID `json:"-"`

	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"` // meters per second
	Timestamp time.Time `json:"timestamp"`

	BatteryLevel float64 `json:"batteryLevel"`
	IsMoving     bool    `json:"isMoving"`
	IsBackground bool    `json:"isBackground"`

	UserID    string `json:"userId"`
	SessionID string `json:"sessionId,omitempty"`
}

// NewLocationSample builds a LocationSample from a raw fix, attributing it to
// the given user and shift session and assigning a fresh sample ID. The
// charging flag is intentionally dropped: it feeds the policy engine, not the
// ingest service.
func NewLocationSample(fix RawFix, userID, sessionID string) LocationSample {
	return LocationSample{
		ID:           uuid.New(),
		Latitude:     fix.Latitude,
		Longitude:    fix.Longitude,
		Accuracy:     fix.Accuracy,
		Altitude:     fix.Altitude,
		Heading:      fix.Heading,
		Speed:        fix.Speed,
		Timestamp:    fix.Timestamp,
		BatteryLevel: fix.BatteryLevel,
		IsMoving:     fix.IsMoving,
		IsBackground: fix.IsBackground,
		UserID:       userID,
		SessionID:    sessionID,
	}
}

// Coordinate is a latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Coordinate returns the sample's position as a Coordinate.
func (s LocationSample) Coordinate() Coordinate {
	return Coordinate{Latitude: s.Latitude, Longitude: s.Longitude}
}
