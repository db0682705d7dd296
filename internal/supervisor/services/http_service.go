// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPServer is the *http.Server lifecycle surface the wrapper needs;
// tests substitute fakes.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService bridges http.Server's blocking ListenAndServe to
// suture's context-driven Serve: the listener runs in a goroutine, and
// context cancellation triggers a bounded graceful Shutdown.
//
//	server := &http.Server{Addr: "127.0.0.1:8421", Handler: router}
//	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPServerService wraps an HTTP server for supervision. The timeout
// bounds how long in-flight requests may linger during shutdown; zero or
// less takes 10 seconds.
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
	}
}

// Serve implements suture.Service. A listener error surfaces to suture
// for its restart policy; http.ErrServerClosed is the expected outcome of
// Shutdown and is not an error.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	failed := make(chan error, 1)
	go func() {
		err := h.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		failed <- err
	}()

	select {
	case err := <-failed:
		if err != nil {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Shutdown gets its own deadline; the serve context is already gone.
	stop, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()
	if err := h.server.Shutdown(stop); err != nil {
		return fmt.Errorf("control server shutdown: %w", err)
	}

	// Let the listener goroutine wind down before reporting.
	<-failed
	return ctx.Err()
}

func (h *HTTPServerService) String() string {
	return "http-server"
}
