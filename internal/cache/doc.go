// Package cache implements a three-tier cache hierarchy with pluggable
// eviction policies.
//
// Each Tier pairs a bounded entry map with one Policy (LRU, LFU or
// ARC) that decides eviction order. The Hierarchy composes three tiers
// of decreasing speed and increasing capacity:
//
//	┌────────┐   miss    ┌────────┐   miss    ┌────────┐
//	│  fast  │ ────────> │ medium │ ────────> │  slow  │
//	└────────┘           └────────┘           └────────┘
//	     ▲   promote one      ▲   promote one
//	     └──── level up ──────┴──── level up
//
// Reads search fast to slow and promote hits one level toward the fast
// tier; writes land in the fast tier and invalidate stale copies below.
// A key is resident in at most one tier at a time.
//
// Under memory pressure the coordinator shrinks tiers with
// EvictToFraction and can disable eviction entirely, at which point a
// Put on a full tier fails with a CAPACITY_EXCEEDED error instead of
// displacing a resident entry.
package cache
