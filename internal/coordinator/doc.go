// Package coordinator wires the cache hierarchy, object pools, task
// scheduler, pressure monitor and advisory diagnostics into one
// lifecycle and reacts to memory pressure with staged responses.
//
// The stages compound as pressure rises:
//
//	Warning    trim the slow tier to half, drop idle pooled objects
//	Critical   cut medium and slow tiers deep, halve pool ceilings,
//	           return freed memory to the OS
//	Emergency  flush and freeze the cache, floor the pools, shed
//	           queued utility and background tasks, close admission
//	           for everything but interactive work
//
// When pressure falls back to Normal, pool ceilings return to their
// configured baselines and the cache thaws.
package coordinator
