// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crewmint/shiftbeacon/internal/capture"
	"github.com/crewmint/shiftbeacon/internal/models"
)

// FixIntake is the capture path the fix endpoint forwards into.
// Satisfied by *capture.Tracker.
type FixIntake interface {
	OnFix(ctx context.Context, fix models.RawFix) (capture.Decision, error)
	Snapshot() capture.Snapshot
}

// StatusSource reports the agent lifecycle state.
// Satisfied by *health.Monitor.
type StatusSource interface {
	Status() models.TrackingStatus
}

// DeliveryInfo reports delivery-side state for the status document.
// Satisfied by *delivery.Manager.
type DeliveryInfo interface {
	QueueDepth(ctx context.Context) (int, error)
}

// SocketInfo reports the realtime socket state.
// Satisfied by *delivery.SocketSession.
type SocketInfo interface {
	Connected() bool
	Refs() int
}

// Checkpoints reads the persisted delivery checkpoint.
// Satisfied by *state.Store.
type Checkpoints interface {
	LastDelivered() (models.Coordinate, time.Time, error)
}

// RegionInfo reports the cached geofence region list.
// Satisfied by *geofence.Provider.
type RegionInfo interface {
	Regions() []models.GeofenceRegion
	FetchedAt() time.Time
}

// Options configures the API server.
type Options struct {
	// RateLimitReqs is the per-client request budget per window.
	// Default: 120.
	RateLimitReqs int

	// RateLimitWindow is the rate-limit window. Default: 1 minute.
	RateLimitWindow time.Duration

	// RateLimitDisabled turns request rate limiting off.
	RateLimitDisabled bool
}

// Server is the agent's local operational API. It serves fix intake from
// the host application, the status document, liveness, and Prometheus
// metrics. It is expected to bind to loopback; there is no authentication
// layer in front of it.
type Server struct {
	opts Options

	tracker     FixIntake
	health      StatusSource
	delivery    DeliveryInfo
	socket      SocketInfo // nil when the socket channel is disabled
	checkpoints Checkpoints
	regions     RegionInfo // nil when geofencing is disabled
}

// Deps carries the server's collaborators. Tracker, Health, Delivery, and
// Checkpoints are required; Socket and Regions may be nil when the
// corresponding feature is disabled.
type Deps struct {
	Tracker     FixIntake
	Health      StatusSource
	Delivery    DeliveryInfo
	Socket      SocketInfo
	Checkpoints Checkpoints
	Regions     RegionInfo
}

// New creates the API server.
func New(opts Options, deps Deps) (*Server, error) {
	if deps.Tracker == nil {
		return nil, fmt.Errorf("api: tracker is required")
	}
	if deps.Health == nil {
		return nil, fmt.Errorf("api: health monitor is required")
	}
	if deps.Delivery == nil {
		return nil, fmt.Errorf("api: delivery manager is required")
	}
	if deps.Checkpoints == nil {
		return nil, fmt.Errorf("api: checkpoint store is required")
	}

	if opts.RateLimitReqs <= 0 {
		opts.RateLimitReqs = 120
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = time.Minute
	}

	return &Server{
		opts:        opts,
		tracker:     deps.Tracker,
		health:      deps.Health,
		delivery:    deps.Delivery,
		socket:      deps.Socket,
		checkpoints: deps.Checkpoints,
		regions:     deps.Regions,
	}, nil
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	// Liveness and metrics sit outside the rate limiter so monitoring
	// cannot starve itself out.
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.rateLimit())
		r.Post("/fix", s.handleFix)
		r.Get("/status", s.handleStatus)
	})

	// Unknown paths and methods still answer in the envelope.
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("Resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).MethodNotAllowed("Method not allowed")
	})

	return r
}

// rateLimit returns the IP-keyed rate limiting middleware, or a no-op when
// rate limiting is disabled.
func (s *Server) rateLimit() func(http.Handler) http.Handler {
	if s.opts.RateLimitDisabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return httprate.Limit(
		s.opts.RateLimitReqs,
		s.opts.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			NewResponseWriter(w, r).TooManyRequests("Rate limit exceeded")
		}),
	)
}
