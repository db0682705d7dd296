// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

/*
Package api provides the agent's local operational HTTP API.

The API is the seam between the host application and the agent: the host's
platform location shim POSTs raw fixes into it, and operators read the
agent's state out of it. It binds to loopback by default and carries no
authentication layer of its own.

# Endpoints

  - POST /v1/fix: fix intake. The body is a raw fix (coordinates, accuracy,
    device state). Validated before entering the capture path; the 202
    response carries the capture decision (accepted, queued, or dropped).
  - GET /v1/status: the agent status document. Tracking status, active
    tracking config, last location and its geofence match, recent sample
    count, offline queue depth, last delivery checkpoint, socket state,
    and the cached region list.
  - GET /healthz: process liveness.
  - GET /metrics: Prometheus exposition.

# Status Codes

Fix intake distinguishes its failure modes:

  - 415: Content-Type is not application/json
  - 400: body is not valid JSON
  - 422: fix fields fail validation (for example latitude out of range)
  - 409: tracking is not active
  - 202: fix taken by the capture path

# Response Envelope

Every JSON response uses the APIResponse envelope: success flag, data or
error, and metadata with the request ID and processing duration. Error
responses carry a machine-readable code.

# Rate Limiting

The /v1 routes are rate limited per client IP (go-chi/httprate). Liveness
and metrics sit outside the limiter so monitoring cannot starve itself
out.

# Usage

	srv, err := api.New(api.Options{}, api.Deps{
	    Tracker:     tracker,
	    Health:      monitor,
	    Delivery:    manager,
	    Socket:      session,
	    Checkpoints: store,
	    Regions:     provider,
	})
	if err != nil {
	    return err
	}
	httpServer := &http.Server{
	    Addr:    "127.0.0.1:8421",
	    Handler: srv.Router(),
	}
*/
package api
