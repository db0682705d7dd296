// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

/*
Package models defines data structures for the Shiftbeacon agent.

This package contains all data models shared between the agent's components:
position fixes and location samples, offline queue entries, tracking
configuration, geofence regions, and the tracking lifecycle state. It is the
single source of truth for the wire format of the location-ingest contract.

Key Components:

  - RawFix: a raw position reading as delivered by the fix source
  - LocationSample: an accepted, user-attributed sample ready for delivery
  - QueueEntry: a sample held in the durable offline queue
  - TrackingConfig: sampling interval/distance/accuracy parameters
  - GeofenceRegion: a circular or polygonal work-area region
  - TrackingStatus: the agent lifecycle state (inactive/active/paused/error)
  - RestartAttemptCounter: rolling-window budget for automatic restarts

Wire Format:

LocationSample marshals to the exact JSON body expected by the location-ingest
endpoint and by the socket channel's location:update event:

	{
	    "latitude": 52.5200, "longitude": 13.4050, "accuracy": 12.5,
	    "speed": 1.4, "timestamp": "2026-08-23T10:15:04Z",
	    "batteryLevel": 76, "isMoving": true, "isBackground": true,
	    "userId": "u-1042", "sessionId": "shift-20260823-a"
	}

Timestamps serialize as RFC 3339 (ISO-8601). Optional physical fields
(altitude, heading, speed) are pointers with omitempty.

Thread Safety:

All models are plain data: immutable after creation, safe for concurrent
reads, no internal locking. Mutation discipline belongs to the owning
component (capture owns the rate-limiter state, health owns TrackingStatus).
*/
package models
