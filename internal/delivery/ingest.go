// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/crewmint/shiftbeacon/internal/logging"
	"github.com/crewmint/shiftbeacon/internal/metrics"
	"github.com/crewmint/shiftbeacon/internal/models"
)

// maxErrorBodySize limits how much of an error response body is read back
// into error messages.
const maxErrorBodySize = 64 * 1024

// errUnauthorized marks a 401 from the ingest endpoint; it triggers one
// credential refresh and a single retry.
var errUnauthorized = fmt.Errorf("ingest rejected the bearer credential")

// IngestOptions configures the HTTP fallback channel.
type IngestOptions struct {
	// BaseURL of the location-ingest service. Samples are POSTed to
	// BaseURL + "/location".
	BaseURL string

	// RequestTimeout bounds one POST. Default: 10 seconds.
	RequestTimeout time.Duration
}

// IngestClient posts samples to the location-ingest endpoint. All requests
// run through a circuit breaker so a dead endpoint fails fast instead of
// costing a full timeout per sample; the offline queue absorbs samples
// while the breaker is open.
type IngestClient struct {
	opts   IngestOptions
	tokens TokenProvider
	client *http.Client
	cb     *gobreaker.CircuitBreaker[struct{}]
}

// NewIngestClient validates the options and builds a client.
//
// Circuit breaker configuration:
//   - opens after 3 consecutive failures
//   - stays open for 60 seconds before probing with a single request
//   - failure counts reset after 60 seconds in the closed state
func NewIngestClient(opts IngestOptions, tokens TokenProvider) (*IngestClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("ingest base URL is required")
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}

	metrics.BreakerState.Set(0)

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "location-ingest",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logging.Info().
				Str("from", breakerStateLabel(from)).
				Str("to", breakerStateLabel(to)).
				Msg("Ingest circuit breaker state changed")
			metrics.BreakerState.Set(breakerStateValue(to))
		},
	})

	return &IngestClient{
		opts:   opts,
		tokens: tokens,
		client: &http.Client{Timeout: opts.RequestTimeout},
		cb:     cb,
	}, nil
}

// Send posts one sample. A 401 response triggers one credential refresh
// and a single retry; any other non-2xx status is an error.
func (c *IngestClient) Send(ctx context.Context, sample models.LocationSample) error {
	err := c.post(ctx, sample)
	if !errors.Is(err, errUnauthorized) {
		return err
	}

	logging.Info().Msg("Ingest rejected credential, refreshing and retrying once")
	if _, rerr := c.tokens.Refresh(ctx); rerr != nil {
		return fmt.Errorf("credential refresh after rejection: %w", rerr)
	}
	return c.post(ctx, sample)
}

// post runs one breaker-protected POST.
func (c *IngestClient) post(ctx context.Context, sample models.LocationSample) error {
	_, err := c.cb.Execute(func() (struct{}, error) {
		return struct{}{}, c.doPost(ctx, sample)
	})
	return err
}

func (c *IngestClient) doPost(ctx context.Context, sample models.LocationSample) error {
	body, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/location", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("ingest credential: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ingest request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := readBodyForError(resp.Body)
		return fmt.Errorf("ingest returned status %d: %s", resp.StatusCode, string(errBody))
	}
	return nil
}

// readBodyForError reads at most maxErrorBodySize of a response body for
// error reporting, marking truncation.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("... (truncated)")...)
	}
	return body
}

// breakerStateValue maps a breaker state to its metric value.
func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// breakerStateLabel maps a breaker state to its log label.
func breakerStateLabel(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
