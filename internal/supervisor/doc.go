// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

/*
Package supervisor runs the agent's long-lived loops under a suture v4
supervision tree.

Everything in Shiftbeacon that outlives a single request is a loop: the
policy engine reevaluating tracking parameters, the delivery manager
draining the spool, the health monitor's liveness and cleanup tickers,
the geofence refresher, the Badger GC pass, and the control HTTP server.
Each loop is wrapped as a suture.Service and attached to one of three
child supervisors, so a crash in one concern restarts that loop alone
instead of the whole process.

# Tree Layout

	RootSupervisor ("shiftbeacon")
	├── DataSupervisor ("data-layer")
	│   └── MaintenanceService (Badger value log GC)
	├── TelemetrySupervisor ("telemetry-layer")
	│   ├── PolicyService (adaptive tracking parameters)
	│   ├── DeliveryService (socket session + spool drain)
	│   ├── HealthService (liveness, cleanup, auto-heal)
	│   └── GeofenceService (region refresh)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService (local control API)

The layering reflects what must keep working when something else breaks.
The agent runs unattended on a worker's device for a whole shift, so the
control API has to keep answering /v1/status even while the uplink is
flapping, and a wedged GC pass must not stall fix intake. Failures are
counted per layer; a restart storm in telemetry backs off that layer
without touching data or api.

# Usage

Wiring in main follows the same order as construction:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    log.Fatal(err)
	}

	tree.AddDataService(services.NewMaintenanceService(maintainer))
	tree.AddTelemetryService(services.NewPolicyService(engine))
	tree.AddTelemetryService(services.NewDeliveryService(manager))
	tree.AddTelemetryService(services.NewHealthService(monitor))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	errCh := tree.ServeBackground(ctx)
	// ... activate tracking, then wait on ctx / errCh ...

Serve blocks until the context is canceled; ServeBackground returns a
channel that yields the terminal error instead. Add methods return a
suture.ServiceToken that can be handed to Remove on the owning child.

# Restart Behavior

TreeConfig carries suture's failure knobs, applied to every supervisor
in the tree:

	config := supervisor.TreeConfig{
	    FailureThreshold: 5.0,              // failures tolerated before backoff
	    FailureDecay:     30.0,             // seconds for the failure count to halve
	    FailureBackoff:   15 * time.Second, // pause once the threshold is crossed
	    ShutdownTimeout:  10 * time.Second, // per-service stop deadline
	}

DefaultTreeConfig returns exactly those values. A service that returns
an error is restarted; a service that returns nil after its context is
canceled is considered cleanly stopped. suture decays the failure count
exponentially, so an isolated crash restarts immediately while a tight
crash loop trips the backoff.

Supervisor restarts are deliberately unbudgeted. The bounded restart
policy (three per rolling day) applies only to the location tracker, and
the health monitor owns that accounting because the count must persist
across process restarts. For that reason the tracker is NOT a suture
child; putting it under the tree would grant it free restarts and bypass
the budget.

# What Else Is Not Supervised

The Badger store itself is opened and closed by main around the tree's
lifetime. It is an embedded library, not a loop; only its value log GC
runs here, as the data layer's MaintenanceService. The ingest socket
lives inside DeliveryService, which handles its own reconnect cadence,
and HTTP fallback calls are isolated by the delivery circuit breaker
rather than by supervision.

# Shutdown

Cancelling the context passed to Serve stops the tree bottom-up, each
service getting ShutdownTimeout to return. main then runs its own
deactivation step (deregister the capture source, persist final status)
once the tree has drained, because those writes need the store to still
be open. If a service ignores cancellation, UnstoppedServiceReport
names it; the usual culprits are goroutines blocked on network I/O
without deadlines.

Service lifecycle events (start, stop, failure, backoff) are logged
through slog via the sutureslog adapter, tagged with the supervisor and
service names shown in the tree above.
*/
package supervisor
