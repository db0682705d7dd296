// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

// Package auth supplies the bearer credential for every authenticated call
// the agent makes: location ingest, the socket channel, and geofence
// fetches. The Source caches the current token and exchanges the long-lived
// refresh credential for a new one before expiry, so callers never present
// a token inside the expiry skew unless the refresh itself fails.
package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/crewmint/shiftbeacon/internal/logging"
)

// ErrNoCredential is returned by New when neither a static token nor a
// token endpoint with a refresh credential is configured.
var ErrNoCredential = fmt.Errorf("no credential configured")

const (
	// expirySkew is how long before expiry a cached token counts as stale.
	// Refreshing early keeps in-flight requests from racing the expiry.
	expirySkew = 5 * time.Minute

	// defaultLifetime is assumed when the token endpoint reports no
	// lifetime and the token carries no readable expiry claim.
	defaultLifetime = 15 * time.Minute

	// maxErrorBodySize limits how much of an error response body is read
	// back into error messages.
	maxErrorBodySize = 64 * 1024
)

// Options configures a Source.
type Options struct {
	// TokenURL is the external token endpoint. Empty disables refreshing;
	// the Source then serves StaticToken unchanged.
	TokenURL string

	// RefreshCredential is the long-lived credential exchanged for bearer
	// tokens. Required together with TokenURL.
	RefreshCredential string

	// ClientID identifies the agent to the token endpoint. Optional.
	ClientID string

	// StaticToken bypasses the refresh flow entirely.
	StaticToken string

	// RequestTimeout bounds one token endpoint call. Default: 10 seconds.
	RequestTimeout time.Duration
}

// tokenResponse is the OAuth-style reply from the token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// Source caches the current bearer token and exchanges the refresh
// credential for a fresh one when the cache is empty or near expiry.
// Safe for concurrent use; a refresh blocks other token requests so the
// endpoint sees at most one exchange at a time.
type Source struct {
	opts   Options
	client *http.Client

	mu      sync.Mutex
	token   string
	expiry  time.Time
	refresh string // rotates when the endpoint returns a replacement

	now func() time.Time
}

// New validates the options and builds a Source.
func New(opts Options) (*Source, error) {
	if opts.StaticToken == "" && (opts.TokenURL == "" || opts.RefreshCredential == "") {
		return nil, ErrNoCredential
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}

	return &Source{
		opts:    opts,
		client:  &http.Client{Timeout: opts.RequestTimeout},
		refresh: opts.RefreshCredential,
		now:     time.Now,
	}, nil
}

// Token returns a bearer token, exchanging the refresh credential first
// when the cached one is missing or within the expiry skew.
func (s *Source) Token(ctx context.Context) (string, error) {
	if s.opts.TokenURL == "" {
		return s.opts.StaticToken, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expiry.Add(-expirySkew)) {
		return s.token, nil
	}
	return s.refreshLocked(ctx)
}

// Refresh discards the cached token and fetches a new one. Called after
// the ingest service rejects the current credential.
func (s *Source) Refresh(ctx context.Context) (string, error) {
	if s.opts.TokenURL == "" {
		return s.opts.StaticToken, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	return s.refreshLocked(ctx)
}

// refreshLocked performs one refresh-grant exchange. Caller holds s.mu.
func (s *Source) refreshLocked(ctx context.Context) (string, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", s.refresh)
	if s.opts.ClientID != "" {
		data.Set("client_id", s.opts.ClientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access token")
	}

	s.token = tr.AccessToken
	s.expiry = s.tokenExpiry(tr)
	if tr.RefreshToken != "" {
		// The endpoint rotated the refresh credential; the old one may be
		// single-use.
		s.refresh = tr.RefreshToken
	}

	logging.Debug().Time("expiry", s.expiry).Msg("Bearer token refreshed")
	return s.token, nil
}

// tokenExpiry picks the token lifetime: the endpoint's expires_in wins,
// then the token's own exp claim when it parses as a JWT, then a fixed
// default.
func (s *Source) tokenExpiry(tr tokenResponse) time.Time {
	if tr.ExpiresIn > 0 {
		return s.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	if exp, ok := jwtExpiry(tr.AccessToken); ok {
		return exp
	}
	return s.now().Add(defaultLifetime)
}

// jwtExpiry reads the exp claim without verifying the signature. Signature
// validation is the server's job; the agent only needs the timestamp to
// schedule the next refresh.
func jwtExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
