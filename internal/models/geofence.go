// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package models

// GeofenceRegion is a named geographic work area used to gate shift
// start/stop actions. A region is either circular (Center + RadiusMeters) or
// polygonal (Polygon with at least three vertices); a region carrying both
// shapes is evaluated as a polygon. Regions are loaded from an external
// provider and read-only to this agent.
type GeofenceRegion struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Center       *Coordinate  `json:"center,omitempty"`
	RadiusMeters float64      `json:"radiusMeters,omitempty"`
	Polygon      []Coordinate `json:"polygon,omitempty"`
}

// Circular reports whether the region is evaluated as a circle.
func (r GeofenceRegion) Circular() bool {
	return len(r.Polygon) < 3 && r.Center != nil
}

// Usable reports whether the region carries enough geometry to evaluate.
func (r GeofenceRegion) Usable() bool {
	return len(r.Polygon) >= 3 || (r.Center != nil && r.RadiusMeters > 0)
}
