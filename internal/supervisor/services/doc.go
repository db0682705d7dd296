// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

/*
Package services contains suture.Service wrappers for Shiftbeacon's
long-running components.

Every component in the agent follows the same lifecycle contract:

	Start(ctx context.Context) error
	Stop()
	IsRunning() bool

suture instead expects a single blocking call:

	Serve(ctx context.Context) error

The wrappers in this package bridge the two. Each one:
 1. Calls Start(ctx) and returns the error immediately on failure, so
    suture applies its restart backoff
 2. Blocks until the context is canceled
 3. Calls Stop() for graceful shutdown, then returns ctx.Err()

Wrappers:
  - RunnerService: generic wrapper for the policy engine, health monitor,
    geofence refresher, and storage maintainer (Stop without an error)
  - DeliveryService: delivery manager (Stop reports socket release errors)
  - HTTPServerService: net/http server (ListenAndServe/Shutdown lifecycle)

All wrappers implement fmt.Stringer; suture uses the name in its event log.
*/
package services
