// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package policy

import (
	"testing"
	"time"

	"github.com/crewmint/shiftbeacon/internal/models"
)

func testDefaults() Defaults {
	return Defaults{
		Interval:       30 * time.Second,
		DistanceMeters: 20,
		Accuracy:       models.AccuracyHigh,
	}
}

// kmh converts km/h to the m/s the inputs carry.
func kmh(v float64) float64 { return v / 3.6 }

// TestBatteryAxisTiers covers each battery tier and the charging override.
func TestBatteryAxisTiers(t *testing.T) {
	tests := []struct {
		name         string
		level        float64
		charging     bool
		wantInterval time.Duration
		wantAccuracy models.AccuracyLevel
	}{
		{"critical", 10, false, 5 * time.Minute, models.AccuracyLowest},
		{"low", 20, false, 2 * time.Minute, models.AccuracyLow},
		{"fair", 40, false, time.Minute, models.AccuracyBalanced},
		{"good", 80, false, 30 * time.Second, models.AccuracyHighest},
		{"boundary 15 is low tier", 15, false, 2 * time.Minute, models.AccuracyLow},
		{"boundary 50 is full tier", 50, false, 30 * time.Second, models.AccuracyHighest},
		{"charging overrides critical", 10, true, 30 * time.Second, models.AccuracyHighest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BatteryInterval(tt.level, tt.charging); got != tt.wantInterval {
				t.Errorf("BatteryInterval(%v, %v) = %v, want %v", tt.level, tt.charging, got, tt.wantInterval)
			}
			if got := BatteryAccuracy(tt.level, tt.charging); got != tt.wantAccuracy {
				t.Errorf("BatteryAccuracy(%v, %v) = %v, want %v", tt.level, tt.charging, got, tt.wantAccuracy)
			}
		})
	}
}

// TestActivityAxisBuckets covers the speed bucket cutoffs.
func TestActivityAxisBuckets(t *testing.T) {
	tests := []struct {
		speedKmh     float64
		wantBucket   string
		wantInterval time.Duration
	}{
		{0, "stationary", 3 * time.Minute},
		{0.5, "stationary", 3 * time.Minute},
		{4, "walking", 45 * time.Second},
		{12, "running", 30 * time.Second},
		{25, "automotive", 20 * time.Second},
		{90, "automotive", 20 * time.Second},
	}

	for _, tt := range tests {
		speedMS := kmh(tt.speedKmh)
		if got := ActivityBucket(speedMS); got != tt.wantBucket {
			t.Errorf("ActivityBucket(%.1f km/h) = %q, want %q", tt.speedKmh, got, tt.wantBucket)
		}
		if got := ActivityInterval(speedMS); got != tt.wantInterval {
			t.Errorf("ActivityInterval(%.1f km/h) = %v, want %v", tt.speedKmh, got, tt.wantInterval)
		}
	}
}

// TestResolveCriticalBatteryFloor pins the scenario: battery 10%, not
// charging, speed 0 resolves to the 5-minute critical floor with lowest
// accuracy, regardless of the activity axis.
func TestResolveCriticalBatteryFloor(t *testing.T) {
	got := Resolve(AllAxes(), testDefaults(), Inputs{
		BatteryLevel: 10,
		IsCharging:   false,
		SpeedMS:      0,
	})

	if got.TimeInterval() != 5*time.Minute {
		t.Errorf("interval = %v, want 5m (critical-battery floor)", got.TimeInterval())
	}
	if got.AccuracyLevel != models.AccuracyLowest {
		t.Errorf("accuracy = %v, want lowest", got.AccuracyLevel)
	}
}

// TestResolveMinimumWins pins the scenario: battery 80%, 25 km/h resolves to
// min(30s battery tier, 20s automotive tier) = 20s.
func TestResolveMinimumWins(t *testing.T) {
	got := Resolve(AllAxes(), testDefaults(), Inputs{
		BatteryLevel: 80,
		SpeedMS:      kmh(25),
	})

	if got.TimeInterval() != 20*time.Second {
		t.Errorf("interval = %v, want 20s (automotive beats battery tier)", got.TimeInterval())
	}
	if got.AccuracyLevel != models.AccuracyHighest {
		t.Errorf("accuracy = %v, want highest", got.AccuracyLevel)
	}
}

// TestResolveBatteryTighterThanActivity verifies the minimum rule in the
// other direction: a low battery interval tighter than a stationary activity
// interval wins.
func TestResolveBatteryTighterThanActivity(t *testing.T) {
	got := Resolve(AllAxes(), testDefaults(), Inputs{
		BatteryLevel: 20, // low tier: 2m
		SpeedMS:      0,  // stationary bucket: 3m
	})

	if got.TimeInterval() != 2*time.Minute {
		t.Errorf("interval = %v, want 2m (battery tier tighter than stationary)", got.TimeInterval())
	}
}

// TestResolveStationaryOverride verifies five minutes without significant
// movement forces the stationary interval over tighter axes.
func TestResolveStationaryOverride(t *testing.T) {
	got := Resolve(AllAxes(), testDefaults(), Inputs{
		BatteryLevel:               80,
		SpeedMS:                    kmh(25), // automotive would demand 20s
		LastSignificantMovementAge: 5 * time.Minute,
	})

	if got.TimeInterval() != 3*time.Minute {
		t.Errorf("interval = %v, want 3m (stationary override)", got.TimeInterval())
	}

	// Just under the threshold the override must not fire.
	got = Resolve(AllAxes(), testDefaults(), Inputs{
		BatteryLevel:               80,
		SpeedMS:                    kmh(25),
		LastSignificantMovementAge: 4 * time.Minute,
	})
	if got.TimeInterval() != 20*time.Second {
		t.Errorf("interval = %v, want 20s below the stationary threshold", got.TimeInterval())
	}
}

// TestResolveDistanceFloor verifies the distance interval never drops below
// 10 meters.
func TestResolveDistanceFloor(t *testing.T) {
	defaults := testDefaults()
	defaults.DistanceMeters = 3

	got := Resolve(AllAxes(), defaults, Inputs{BatteryLevel: 80})
	if got.DistanceIntervalMeters != DistanceFloorMeters {
		t.Errorf("distance = %v, want the %v floor", got.DistanceIntervalMeters, DistanceFloorMeters)
	}

	defaults.DistanceMeters = 25
	got = Resolve(AllAxes(), defaults, Inputs{BatteryLevel: 80})
	if got.DistanceIntervalMeters != 25 {
		t.Errorf("distance = %v, want configured 25", got.DistanceIntervalMeters)
	}
}

// TestResolveDisabledAxes verifies a disabled axis contributes nothing.
func TestResolveDisabledAxes(t *testing.T) {
	noBattery := Axes{Activity: true, Stationary: true}
	got := Resolve(noBattery, testDefaults(), Inputs{
		BatteryLevel: 5, // would be critical if the axis were on
		SpeedMS:      kmh(25),
	})
	if got.TimeInterval() != 20*time.Second {
		t.Errorf("interval = %v, want 20s with battery axis disabled", got.TimeInterval())
	}
	if got.AccuracyLevel != models.AccuracyHigh {
		t.Errorf("accuracy = %v, want the default with battery axis disabled", got.AccuracyLevel)
	}

	none := Axes{}
	got = Resolve(none, testDefaults(), Inputs{BatteryLevel: 5, SpeedMS: kmh(25)})
	if got.TimeInterval() != 30*time.Second {
		t.Errorf("interval = %v, want the 30s default with all axes disabled", got.TimeInterval())
	}
}
