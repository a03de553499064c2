/*
Package types provides the shared data structures and contracts for the
rescoord resource manager.

It defines the enumerations used across components (pressure levels,
workload classes, task statuses, severities), the statistics structs
reported by caches, pools, and the scheduler, and the advisory event
payloads delivered through subscriptions.

# Component Layout

The resource manager is assembled from leaf components upward:

	┌─────────────────────────────────────────────┐
	│            ResourceCoordinator              │
	│          (internal/coordinator)             │
	└─────────────────────────────────────────────┘
	      │          │          │          │
	┌─────┴────┐ ┌───┴────┐ ┌───┴─────┐ ┌──┴──────┐
	│  Cache   │ │ Pools  │ │Pressure │ │Scheduler│
	│ Tiers    │ │        │ │Monitor  │ │+Detector│
	└──────────┘ └────────┘ └─────────┘ └─────────┘

# External Collaborators

Two interfaces mark the boundary with the host application:

UsageSampler supplies (used, total) memory figures; the default
implementation reads the Go runtime's accounting, but hosts with better
knowledge of process limits (cgroups, rlimits) can substitute their own.

TelemetrySink receives MetricsSnapshot values. The core only produces
snapshots; rendering and shipping them is the host's concern.

All types in this package are plain values; none carry locks, and all
are safe to copy and serialize.
*/
package types
