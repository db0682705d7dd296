// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

// Package geofence evaluates whether a position lies inside the configured
// work-area regions, and maintains the in-memory cache of those regions.
//
// Membership evaluation is pure: no network, no persistence, no clock. The
// cached region list is refreshed by the Provider (see provider.go) from the
// external geofence endpoint.
package geofence

import (
	"math"

	"github.com/crewmint/shiftbeacon/internal/models"
)

const earthRadiusMeters = 6371000.0

// MetersBetween returns the great-circle (haversine) distance between two
// coordinates in meters.
func MetersBetween(a, b models.Coordinate) float64 {
	lat1Rad := a.Latitude * math.Pi / 180.0
	lon1Rad := a.Longitude * math.Pi / 180.0
	lat2Rad := b.Latitude * math.Pi / 180.0
	lon2Rad := b.Longitude * math.Pi / 180.0

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}

// IsInside reports whether the location lies inside any of the given regions
// and, if so, which region matched first. Regions are evaluated in order;
// unusable regions (no geometry) are skipped.
//
// Circular regions have a closed boundary: a point exactly at radius distance
// from the center is inside. Polygonal regions use the ray-casting test.
func IsInside(location models.Coordinate, regions []models.GeofenceRegion) (bool, string) {
	for _, region := range regions {
		if !region.Usable() {
			continue
		}
		if insideRegion(location, region) {
			return true, region.ID
		}
	}
	return false, ""
}

// insideRegion evaluates a single region.
func insideRegion(location models.Coordinate, region models.GeofenceRegion) bool {
	if len(region.Polygon) >= 3 {
		return insidePolygon(location, region.Polygon)
	}
	return MetersBetween(location, *region.Center) <= region.RadiusMeters
}

// insidePolygon is the standard ray-casting point-in-polygon test: cast a ray
// east from the point and count edge crossings; odd means inside. Vertices
// are treated in (latitude, longitude) order and the polygon is implicitly
// closed.
func insidePolygon(p models.Coordinate, polygon []models.Coordinate) bool {
	inside := false
	n := len(polygon)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := polygon[i], polygon[j]
		crosses := (vi.Latitude > p.Latitude) != (vj.Latitude > p.Latitude)
		if !crosses {
			continue
		}
		intersectLon := (vj.Longitude-vi.Longitude)*(p.Latitude-vi.Latitude)/
			(vj.Latitude-vi.Latitude) + vi.Longitude
		if p.Longitude < intersectLon {
			inside = !inside
		}
	}
	return inside
}
