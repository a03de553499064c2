package types

// UsageSampler supplies process memory usage on demand. Implementations
// are host-provided; the default reads the Go runtime's own accounting.
type UsageSampler interface {
	// Sample returns the currently used bytes and the total bytes
	// available to the process at a point in time.
	Sample() (used, total uint64)
}

// TelemetrySink receives metrics snapshots for dashboards or alerting.
// The core pushes snapshots; it never formats or transmits them itself.
type TelemetrySink interface {
	Push(snapshot MetricsSnapshot)
}
