// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package config

import (
	"fmt"
	"time"

	"github.com/crewmint/shiftbeacon/internal/models"
	"github.com/crewmint/shiftbeacon/internal/validation"
)

// Validate checks that required configuration is present and valid.
// Numeric ranges and enums are enforced by the validate struct tags; the
// per-section checks below cover required fields, URL shapes, and rules
// that span more than one field.
func (c *Config) Validate() error {
	if err := validation.GetValidator().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := c.validateAgent(); err != nil {
		return err
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if err := c.validateDelivery(); err != nil {
		return err
	}

	if err := c.validateAuth(); err != nil {
		return err
	}

	if err := c.validatePolicy(); err != nil {
		return err
	}

	if err := c.validateGeofence(); err != nil {
		return err
	}

	return c.validateServer()
}

// validateAgent validates worker attribution.
func (c *Config) validateAgent() error {
	if c.Agent.UserID == "" {
		return fmt.Errorf("USER_ID is required")
	}
	return nil
}

// validateStorage validates the Badger store settings.
func (c *Config) validateStorage() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("STORAGE_PATH is required")
	}
	return nil
}

// validateDelivery validates the delivery endpoints.
func (c *Config) validateDelivery() error {
	if c.Delivery.IngestURL == "" {
		return fmt.Errorf("INGEST_URL is required")
	}
	if err := validateHTTPURL(c.Delivery.IngestURL, "INGEST_URL"); err != nil {
		return fmt.Errorf("INGEST_URL is invalid: %w", err)
	}

	// The socket channel is optional
	if c.Delivery.SocketURL != "" {
		if err := validateSocketURL(c.Delivery.SocketURL, "SOCKET_URL"); err != nil {
			return fmt.Errorf("SOCKET_URL is invalid: %w", err)
		}
	}
	return nil
}

// validateAuth validates the credential refresh settings. Refreshing is
// optional; when a token endpoint is configured the long-lived credential
// must come with it.
func (c *Config) validateAuth() error {
	if c.Auth.TokenURL == "" {
		return nil
	}

	if err := validateHTTPURL(c.Auth.TokenURL, "TOKEN_URL"); err != nil {
		return fmt.Errorf("TOKEN_URL is invalid: %w", err)
	}
	if c.Auth.RefreshCredential == "" {
		return fmt.Errorf("REFRESH_CREDENTIAL is required when TOKEN_URL is set")
	}
	return nil
}

// validatePolicy validates the baseline tracking parameters.
func (c *Config) validatePolicy() error {
	// Mirrors the interval floor enforced on every tracking config.
	if c.Policy.Interval < time.Second {
		return fmt.Errorf("TRACKING_INTERVAL must be at least 1s, got %v", c.Policy.Interval)
	}
	if !models.AccuracyLevel(c.Policy.Accuracy).Valid() {
		return fmt.Errorf("TRACKING_ACCURACY must be one of lowest, low, balanced, high, highest, got %q", c.Policy.Accuracy)
	}
	return nil
}

// validateGeofence validates the region provider settings (only if a
// region endpoint is configured).
func (c *Config) validateGeofence() error {
	if c.Geofence.Endpoint == "" {
		return nil
	}
	if err := validateHTTPURL(c.Geofence.Endpoint, "GEOFENCE_URL"); err != nil {
		return fmt.Errorf("GEOFENCE_URL is invalid: %w", err)
	}
	return nil
}

// validateServer validates the local API settings.
func (c *Config) validateServer() error {
	if c.Server.Host == "" {
		return fmt.Errorf("HTTP_HOST is required")
	}
	return nil
}
