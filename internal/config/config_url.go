// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validateHTTPURL checks that a URL is usable as an HTTP/HTTPS service
// base. A path prefix is allowed (the ingest service may sit behind a
// gateway) but query parameters and fragments are not, and a trailing
// slash is rejected because it breaks naive path joins downstream.
func validateHTTPURL(raw, field string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got %q", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s needs a host", field)
	}
	if strings.HasSuffix(u.Path, "/") && u.Path != "/" {
		return fmt.Errorf("%s must not end with a slash: %s", field, u.Path)
	}
	if u.RawQuery != "" {
		return fmt.Errorf("%s must not carry query parameters: ?%s", field, u.RawQuery)
	}
	if u.Fragment != "" {
		return fmt.Errorf("%s must not carry a fragment: #%s", field, u.Fragment)
	}
	return nil
}

// validateSocketURL checks the realtime socket endpoint. ws and wss are
// accepted, as are http and https which the socket session converts at
// dial time. The session appends its own userId and token query
// parameters, so the configured URL must not carry any.
func validateSocketURL(raw, field string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}

	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("%s scheme must be ws, wss, http, or https, got %q", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s needs a host", field)
	}
	if u.RawQuery != "" {
		return fmt.Errorf("%s must not carry query parameters: ?%s", field, u.RawQuery)
	}
	return nil
}
