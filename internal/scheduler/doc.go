// Package scheduler runs tasks across four isolated workload classes,
// each with its own fixed worker pool and bounded priority queue.
//
// Within a class, higher priority runs first and equal priorities run
// in submission order. A full queue rejects new work immediately
// rather than blocking the submitter, and Emergency memory pressure
// closes admission for utility and background work while interactive
// tasks keep flowing.
//
// Every Submit returns a Future that resolves exactly once: with the
// task's result, its error, a cancellation, or a timeout. Timeouts are
// enforced by the scheduler, so a task that never checks its context
// still resolves on schedule.
//
// The package also hosts an advisory DeadlockDetector. Tasks declare
// the resources they hold and wait on; a periodic scan walks the
// wait-for graph and reports cycles to subscribers without breaking
// them.
package scheduler
