// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package validation

import (
	"testing"
	"time"

	"github.com/crewmint/shiftbeacon/internal/models"
)

// TestValidateRawFix exercises the coordinate and battery bounds on the fix
// struct tags.
func TestValidateRawFix(t *testing.T) {
	valid := models.RawFix{
		Latitude:     52.52,
		Longitude:    13.405,
		Accuracy:     12,
		Timestamp:    time.Now().UTC(),
		BatteryLevel: 80,
	}

	tests := []struct {
		name    string
		mutate  func(*models.RawFix)
		wantErr bool
	}{
		{"valid fix", func(f *models.RawFix) {}, false},
		{"latitude too high", func(f *models.RawFix) { f.Latitude = 91 }, true},
		{"latitude too low", func(f *models.RawFix) { f.Latitude = -91 }, true},
		{"longitude too high", func(f *models.RawFix) { f.Longitude = 181 }, true},
		{"negative accuracy", func(f *models.RawFix) { f.Accuracy = -1 }, true},
		{"battery above 100", func(f *models.RawFix) { f.BatteryLevel = 101 }, true},
		{"negative battery", func(f *models.RawFix) { f.BatteryLevel = -5 }, true},
		{"boundary latitude", func(f *models.RawFix) { f.Latitude = 90 }, false},
		{"boundary battery", func(f *models.RawFix) { f.BatteryLevel = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fix := valid
			tt.mutate(&fix)
			err := ValidateStruct(&fix)
			if tt.wantErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

// TestToAPIErrorSingleField verifies the error envelope for one failure.
func TestToAPIErrorSingleField(t *testing.T) {
	fix := models.RawFix{
		Latitude:     99,
		Longitude:    13.405,
		Accuracy:     12,
		Timestamp:    time.Now().UTC(),
		BatteryLevel: 80,
	}

	err := ValidateStruct(&fix)
	if err == nil {
		t.Fatal("Expected validation error, got nil")
	}

	apiErr := err.ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("Expected code VALIDATION_ERROR, got %s", apiErr.Code)
	}
	if apiErr.Details["field"] != "Latitude" {
		t.Errorf("Expected failing field Latitude, got %v", apiErr.Details["field"])
	}
}

// TestToAPIErrorMultipleFields verifies all failing fields are reported.
func TestToAPIErrorMultipleFields(t *testing.T) {
	fix := models.RawFix{
		Latitude:     99,
		Longitude:    200,
		Accuracy:     12,
		Timestamp:    time.Now().UTC(),
		BatteryLevel: 80,
	}

	err := ValidateStruct(&fix)
	if err == nil {
		t.Fatal("Expected validation error, got nil")
	}
	if len(err.Errors()) != 2 {
		t.Fatalf("Expected 2 field errors, got %d", len(err.Errors()))
	}

	apiErr := err.ToAPIError()
	fields, ok := apiErr.Details["fields"].([]map[string]interface{})
	if !ok {
		t.Fatalf("Expected fields detail list, got %T", apiErr.Details["fields"])
	}
	if len(fields) != 2 {
		t.Errorf("Expected 2 field details, got %d", len(fields))
	}
}
