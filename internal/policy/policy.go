// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

// Package policy computes the adaptive sampling parameters from battery
// state, movement speed, and stationarity.
//
// Three independent axes feed a single resolver:
//
//   - battery: interval and accuracy tiers at 15/30/50 percent, with
//     charging treated as a full battery;
//   - activity: speed buckets (stationary, walking, running, automotive);
//   - stationary: no significant movement for 5 minutes forces the
//     stationary interval.
//
// Each axis is a pure function so it can be tested in isolation; Resolve
// combines them. Precedence: a critically low battery (below 15 percent,
// not charging) sets a hard floor of 5 minutes; otherwise the stationary
// override applies; otherwise the tighter (minimum) of the battery and
// activity intervals wins. The distance interval never drops below 10
// meters, so GPS jitter cannot cause update storms.
package policy

import (
	"time"

	"github.com/crewmint/shiftbeacon/internal/models"
)

// Battery thresholds in percent.
const (
	batteryCriticalPct = 15
	batteryLowPct      = 30
	batteryGoodPct     = 50
)

// Battery-axis intervals per tier.
const (
	intervalBatteryCritical = 5 * time.Minute
	intervalBatteryLow      = 2 * time.Minute
	intervalBatteryFair     = 1 * time.Minute
	intervalBatteryFull     = 30 * time.Second
)

// Activity-axis speed cutoffs in km/h and intervals per bucket.
const (
	speedWalkingKmh    = 1.0
	speedRunningKmh    = 7.0
	speedAutomotiveKmh = 20.0

	intervalStationary = 3 * time.Minute
	intervalWalking    = 45 * time.Second
	intervalRunning    = 30 * time.Second
	intervalAutomotive = 20 * time.Second
)

// StationaryAfter is how long without significant movement the stationary
// override waits before forcing the stationary interval.
const StationaryAfter = 5 * time.Minute

// DistanceFloorMeters is the minimum distance interval.
const DistanceFloorMeters = 10.0

// Axes toggles the individual adaptation axes. A disabled axis contributes
// nothing to the resolved config.
type Axes struct {
	Battery    bool
	Activity   bool
	Stationary bool
}

// AllAxes enables every adaptation axis.
func AllAxes() Axes {
	return Axes{Battery: true, Activity: true, Stationary: true}
}

// Inputs is the snapshot of device state the resolver works from.
type Inputs struct {
	BatteryLevel float64 // percent
	IsCharging   bool
	SpeedMS      float64 // most recent speed, meters per second

	// LastSignificantMovementAge is how long ago the device last moved more
	// than the significance threshold. Zero means it is moving now.
	LastSignificantMovementAge time.Duration
}

// BatteryInterval returns the battery-axis interval for a battery level.
// Charging always gets the full-battery tier.
func BatteryInterval(levelPct float64, charging bool) time.Duration {
	if charging {
		return intervalBatteryFull
	}
	switch {
	case levelPct < batteryCriticalPct:
		return intervalBatteryCritical
	case levelPct < batteryLowPct:
		return intervalBatteryLow
	case levelPct < batteryGoodPct:
		return intervalBatteryFair
	default:
		return intervalBatteryFull
	}
}

// BatteryAccuracy returns the battery-axis accuracy for a battery level.
// Charging always gets the highest accuracy.
func BatteryAccuracy(levelPct float64, charging bool) models.AccuracyLevel {
	if charging {
		return models.AccuracyHighest
	}
	switch {
	case levelPct < batteryCriticalPct:
		return models.AccuracyLowest
	case levelPct < batteryLowPct:
		return models.AccuracyLow
	case levelPct < batteryGoodPct:
		return models.AccuracyBalanced
	default:
		return models.AccuracyHighest
	}
}

// ActivityBucket names the movement bucket for a speed in meters per second.
func ActivityBucket(speedMS float64) string {
	kmh := speedMS * 3.6
	switch {
	case kmh < speedWalkingKmh:
		return "stationary"
	case kmh < speedRunningKmh:
		return "walking"
	case kmh < speedAutomotiveKmh:
		return "running"
	default:
		return "automotive"
	}
}

// ActivityInterval returns the activity-axis interval for a speed in meters
// per second.
func ActivityInterval(speedMS float64) time.Duration {
	switch ActivityBucket(speedMS) {
	case "stationary":
		return intervalStationary
	case "walking":
		return intervalWalking
	case "running":
		return intervalRunning
	default:
		return intervalAutomotive
	}
}

// StationaryFor reports whether the stationary override applies for the given
// time since last significant movement.
func StationaryFor(age time.Duration) bool {
	return age >= StationaryAfter
}

// Defaults are the parameters in effect when every axis is disabled, and the
// base the resolver tightens from.
type Defaults struct {
	Interval       time.Duration
	DistanceMeters float64
	Accuracy       models.AccuracyLevel
}

// Resolve combines the enabled axes into a TrackingConfig.
//
// Precedence:
//  1. Critical battery (below 15 percent, not charging) wins outright: the
//     5-minute floor and lowest accuracy, regardless of movement.
//  2. Stationary override: the stationary interval, regardless of the
//     remaining axes.
//  3. Otherwise the minimum of the battery and activity intervals. Tighter
//     wins: whichever axis demands more frequent sampling takes precedence.
//
// Accuracy always follows the battery axis when it is enabled. The distance
// interval is the configured base clamped to the 10-meter floor.
func Resolve(axes Axes, defaults Defaults, in Inputs) models.TrackingConfig {
	interval := defaults.Interval
	accuracy := defaults.Accuracy

	if axes.Battery {
		accuracy = BatteryAccuracy(in.BatteryLevel, in.IsCharging)
	}

	switch {
	case axes.Battery && !in.IsCharging && in.BatteryLevel < batteryCriticalPct:
		interval = intervalBatteryCritical

	case axes.Stationary && StationaryFor(in.LastSignificantMovementAge):
		interval = intervalStationary

	default:
		batteryIv := interval
		if axes.Battery {
			batteryIv = BatteryInterval(in.BatteryLevel, in.IsCharging)
		}
		activityIv := interval
		if axes.Activity {
			activityIv = ActivityInterval(in.SpeedMS)
		}
		interval = batteryIv
		if activityIv < interval {
			interval = activityIv
		}
	}

	distance := defaults.DistanceMeters
	if distance < DistanceFloorMeters {
		distance = DistanceFloorMeters
	}

	return models.TrackingConfig{
		TimeIntervalMs:         interval.Milliseconds(),
		DistanceIntervalMeters: distance,
		AccuracyLevel:          accuracy,
	}
}
