package cache

import (
	"fmt"
)

// PolicyKind names an eviction policy implementation
type PolicyKind string

const (
	PolicyLRU PolicyKind = "lru"
	PolicyLFU PolicyKind = "lfu"
	PolicyARC PolicyKind = "arc"
)

// Policy selects eviction victims for one tier. A policy instance is
// owned exclusively by its tier and is never shared; all calls happen
// under the tier lock.
//
// Semantics:
//   - Add is called when a key is admitted to the tier.
//   - Touch is called on every hit.
//   - Victim returns the next eviction candidate and removes it from the
//     policy's live tracking (ARC retains it as ghost history). The tier
//     deletes its own entry afterwards; it must not call Remove for the
//     returned key.
//   - Remove is called on invalidation or explicit removal only.
type Policy interface {
	Add(key string)
	Touch(key string)
	Remove(key string)
	Victim() (key string, ok bool)
	Reset()
	Len() int
}

// NewPolicy constructs a policy by kind. ARC sizes its ghost history
// from the tier capacity; the other policies ignore it.
func NewPolicy(kind PolicyKind, capacity int) (Policy, error) {
	switch kind {
	case PolicyLRU, "":
		return newLRUPolicy(), nil
	case PolicyLFU:
		return newLFUPolicy(), nil
	case PolicyARC:
		return newARCPolicy(capacity), nil
	default:
		return nil, fmt.Errorf("unknown eviction policy %q", kind)
	}
}

// keyHash is FNV-1a, used as the deterministic tie-break when a policy
// finds multiple equal candidates: the smallest hash wins.
func keyHash(key string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= prime64
	}
	return h
}
