// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the telemetry agent:
// - capture decisions (accepted / queued / dropped fixes)
// - delivery outcomes and latency per channel
// - offline queue depth, evictions, purges
// - socket session state and reconnects
// - health monitor status and restart attempts
// - geofence evaluations

var (
	// Capture Metrics
	FixesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shiftbeacon_fixes_received_total",
			Help: "Total raw position fixes received from the fix source",
		},
	)

	CaptureDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiftbeacon_capture_decisions_total",
			Help: "Rate limiter decisions per fix",
		},
		[]string{"decision"}, // "accepted", "queued", "dropped"
	)

	// Delivery Metrics
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiftbeacon_deliveries_total",
			Help: "Delivery attempts by channel and outcome",
		},
		[]string{"channel", "outcome"}, // channel: "socket", "http"; outcome: "delivered", "failed"
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shiftbeacon_delivery_duration_seconds",
			Help:    "Delivery latency in seconds by channel",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)

	DrainedEntries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shiftbeacon_drained_entries_total",
			Help: "Queued entries delivered by opportunistic drains",
		},
	)

	// Queue Metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shiftbeacon_queue_depth",
			Help: "Current number of entries in the offline queue",
		},
	)

	QueueEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shiftbeacon_queue_evictions_total",
			Help: "Entries evicted oldest-first because the queue was full",
		},
	)

	QueuePurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shiftbeacon_queue_purged_total",
			Help: "Entries purged for exceeding the retention age",
		},
	)

	// Socket Metrics
	SocketConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shiftbeacon_socket_connected",
			Help: "Whether the socket session is currently connected (0 or 1)",
		},
	)

	SocketReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shiftbeacon_socket_reconnects_total",
			Help: "Socket reconnect attempts",
		},
	)

	SocketRefs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shiftbeacon_socket_refs",
			Help: "Current socket session reference count",
		},
	)

	// Circuit Breaker Metrics
	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shiftbeacon_ingest_breaker_state",
			Help: "HTTP ingest circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Health Monitor Metrics
	TrackingStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shiftbeacon_tracking_status",
			Help: "Current tracking status (1 for the active state, 0 otherwise)",
		},
		[]string{"status"}, // "inactive", "active", "paused", "error"
	)

	RestartAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiftbeacon_restart_attempts_total",
			Help: "Automatic capture restart attempts by result",
		},
		[]string{"result"}, // "success", "failure", "budget_exceeded"
	)

	LastDeliveryAge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shiftbeacon_last_delivery_age_seconds",
			Help: "Seconds since the last successful delivery, updated by the liveness check",
		},
	)

	// Policy Metrics
	PolicyChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiftbeacon_policy_changes_total",
			Help: "Tracking parameter changes by activity bucket and accuracy",
		},
		[]string{"activity", "accuracy"},
	)

	// Geofence Metrics
	GeofenceEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiftbeacon_geofence_evaluations_total",
			Help: "Geofence membership evaluations by result",
		},
		[]string{"result"}, // "inside", "outside"
	)
)

// RecordCaptureDecision records one rate-limiter decision. FixesReceived is
// incremented separately at intake so rejected fixes are still counted.
func RecordCaptureDecision(decision string) {
	CaptureDecisions.WithLabelValues(decision).Inc()
}

// RecordDelivery records a delivery attempt on a channel.
func RecordDelivery(channel string, duration time.Duration, err error) {
	outcome := "delivered"
	if err != nil {
		outcome = "failed"
	}
	Deliveries.WithLabelValues(channel, outcome).Inc()
	DeliveryDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordPolicyChange records a tracking parameter change.
func RecordPolicyChange(activity, accuracy string) {
	PolicyChanges.WithLabelValues(activity, accuracy).Inc()
}

// RecordGeofenceEvaluation records one membership evaluation.
func RecordGeofenceEvaluation(inside bool) {
	result := "outside"
	if inside {
		result = "inside"
	}
	GeofenceEvaluations.WithLabelValues(result).Inc()
}

// SetTrackingStatus exports the current status as a one-hot gauge vector.
func SetTrackingStatus(status string) {
	for _, s := range []string{"inactive", "active", "paused", "error"} {
		v := 0.0
		if s == status {
			v = 1.0
		}
		TrackingStatus.WithLabelValues(s).Set(v)
	}
}
