// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package api

import (
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/crewmint/shiftbeacon/internal/capture"
	"github.com/crewmint/shiftbeacon/internal/logging"
	"github.com/crewmint/shiftbeacon/internal/models"
	"github.com/crewmint/shiftbeacon/internal/state"
	"github.com/crewmint/shiftbeacon/internal/validation"
)

// FixResponse is the payload of an accepted fix intake.
type FixResponse struct {
	// Decision is what the capture path did with the fix: accepted,
	// queued, or dropped.
	Decision string `json:"decision"`
}

// StatusDocument is the agent status served by GET /v1/status.
type StatusDocument struct {
	// Status is the agent lifecycle state owned by the health monitor.
	Status models.TrackingStatus `json:"status"`

	// Tracking is the capture-path snapshot: registration, active
	// tracking config, last location, geofence match of the last sample,
	// and recent sample count.
	Tracking capture.Snapshot `json:"tracking"`

	// QueueDepth is the offline queue depth. Omitted when the store
	// cannot be read.
	QueueDepth *int `json:"queueDepth,omitempty"`

	// LastDeliveryAt is the last successful delivery checkpoint. Omitted
	// before the first delivery.
	LastDeliveryAt *time.Time `json:"lastDeliveryAt,omitempty"`

	// Socket reports the realtime channel state.
	Socket SocketStatus `json:"socket"`

	// Geofence reports the cached work-site region list.
	Geofence GeofenceStatus `json:"geofence"`
}

// SocketStatus is the realtime channel section of the status document.
type SocketStatus struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
	Refs      int  `json:"refs"`
}

// GeofenceStatus is the region provider section of the status document.
type GeofenceStatus struct {
	Enabled     bool       `json:"enabled"`
	Regions     int        `json:"regions"`
	RefreshedAt *time.Time `json:"refreshedAt,omitempty"`
}

// handleFix is POST /v1/fix: fix intake from the host application. The
// request body is a raw fix; the response carries the capture decision.
//
// Responses:
//   - 202: fix taken by the capture path
//   - 400: malformed JSON body
//   - 409: tracking is not active
//   - 415: wrong content type
//   - 422: fix failed validation
func (s *Server) handleFix(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		rw.UnsupportedMediaType("Content-Type must be application/json")
		return
	}

	var fix models.RawFix
	if err := json.NewDecoder(r.Body).Decode(&fix); err != nil {
		rw.BadRequest("Malformed JSON body: " + err.Error())
		return
	}

	// The host shim may omit the timestamp; stamp arrival time so the
	// sample still carries one.
	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now().UTC()
	}

	decision, err := s.tracker.OnFix(r.Context(), fix)
	if err != nil {
		var verr *validation.RequestValidationError
		switch {
		case errors.As(err, &verr):
			apiErr := verr.ToAPIError()
			rw.ValidationError(apiErr.Message, apiErr.Details)
		case errors.Is(err, capture.ErrNotRegistered):
			rw.Conflict("Tracking is not active")
		default:
			logging.Error().Err(err).Msg("Fix intake failed")
			rw.InternalError("Fix intake failed")
		}
		return
	}

	rw.Accepted(FixResponse{Decision: string(decision)})
}

// handleStatus is GET /v1/status: the agent status document.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	doc := StatusDocument{
		Status:   s.health.Status(),
		Tracking: s.tracker.Snapshot(),
	}

	if depth, err := s.delivery.QueueDepth(r.Context()); err != nil {
		logging.Warn().Err(err).Msg("Queue depth unavailable for status document")
	} else {
		doc.QueueDepth = &depth
	}

	_, at, err := s.checkpoints.LastDelivered()
	switch {
	case err == nil:
		doc.LastDeliveryAt = &at
	case errors.Is(err, state.ErrNotSet):
		// Never delivered; leave the field out
	default:
		logging.Warn().Err(err).Msg("Delivery checkpoint unavailable for status document")
	}

	if s.socket != nil {
		doc.Socket = SocketStatus{
			Enabled:   true,
			Connected: s.socket.Connected(),
			Refs:      s.socket.Refs(),
		}
	}

	if s.regions != nil {
		doc.Geofence = GeofenceStatus{
			Enabled: true,
			Regions: len(s.regions.Regions()),
		}
		if fetched := s.regions.FetchedAt(); !fetched.IsZero() {
			doc.Geofence.RefreshedAt = &fetched
		}
	}

	rw.Success(doc)
}

// handleHealthz is GET /healthz: process liveness. 200 means the HTTP
// server is serving; it says nothing about tracking health, which lives in
// the status document.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "ok"})
}
