// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package models

import (
	"fmt"
	"time"
)

// AccuracyLevel is the requested positioning accuracy for the fix source.
// Levels are ordered from cheapest to most power-hungry.
type AccuracyLevel string

// Accuracy levels, lowest power draw first.
const (
	AccuracyLowest   AccuracyLevel = "lowest"
	AccuracyLow      AccuracyLevel = "low"
	AccuracyBalanced AccuracyLevel = "balanced"
	AccuracyHigh     AccuracyLevel = "high"
	AccuracyHighest  AccuracyLevel = "highest"
)

// Valid reports whether l is a known accuracy level.
func (l AccuracyLevel) Valid() bool {
	switch l {
	case AccuracyLowest, AccuracyLow, AccuracyBalanced, AccuracyHigh, AccuracyHighest:
		return true
	}
	return false
}

// TrackingConfig holds the sampling parameters in effect for the capture
// path: how often to deliver, how far the device must move, and how hard the
// fix source should work for accuracy. Produced by the adaptive policy engine
// (or supplied by the caller) and persisted so a process restart resumes with
// the last-known configuration.
type TrackingConfig struct {
	TimeIntervalMs         int64         `json:"timeIntervalMs" validate:"min=1000"`
	DistanceIntervalMeters float64       `json:"distanceIntervalMeters" validate:"min=0"`
	AccuracyLevel          AccuracyLevel `json:"accuracyLevel"`
}

// TimeInterval returns the delivery interval as a time.Duration.
func (c TrackingConfig) TimeInterval() time.Duration {
	return time.Duration(c.TimeIntervalMs) * time.Millisecond
}

// Validate checks the config against its field constraints.
func (c TrackingConfig) Validate() error {
	if c.TimeIntervalMs < 1000 {
		return fmt.Errorf("timeIntervalMs %d below 1s floor", c.TimeIntervalMs)
	}
	if c.DistanceIntervalMeters < 0 {
		return fmt.Errorf("distanceIntervalMeters %f negative", c.DistanceIntervalMeters)
	}
	if !c.AccuracyLevel.Valid() {
		return fmt.Errorf("unknown accuracy level %q", c.AccuracyLevel)
	}
	return nil
}

// TrackingStatus is the agent lifecycle state. It is owned exclusively by the
// health monitor; every other component only reads it.
type TrackingStatus string

// Tracking lifecycle states.
const (
	StatusInactive TrackingStatus = "inactive"
	StatusActive   TrackingStatus = "active"
	StatusPaused   TrackingStatus = "paused"
	StatusError    TrackingStatus = "error"
)

// Valid reports whether s is a known tracking status.
func (s TrackingStatus) Valid() bool {
	switch s {
	case StatusInactive, StatusActive, StatusPaused, StatusError:
		return true
	}
	return false
}

// RestartAttemptCounter tracks automatic restart attempts inside a rolling
// 24-hour window. The counter is persisted so restart storms cannot be
// laundered through process restarts.
type RestartAttemptCounter struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"windowStartTimestamp"`
}

// Expired reports whether the rolling window has lapsed and the counter
// should be reset before the next use.
func (c RestartAttemptCounter) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(c.WindowStart) > window
}
