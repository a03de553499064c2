package cache

import (
	"sync"
	"time"

	"github.com/rescoord/rescoord/pkg/errors"
	"github.com/rescoord/rescoord/pkg/types"
)

// Tier is a bounded key-value store wrapping one eviction policy.
// Get, Put, Invalidate and EvictOne are linearizable behind a single
// lock; callers receive stored values, never references into the tier's
// bookkeeping.
type Tier struct {
	mu       sync.Mutex
	name     string
	capacity int
	entries  map[string]*entry
	policy   Policy

	// evictionDisabled makes Put fail with CapacityExceeded when the
	// tier is full, instead of evicting. Set during Emergency pressure.
	evictionDisabled bool

	// onRemove, when set, is invoked (outside the lock) for every entry
	// leaving the tier through eviction, flush or invalidation; evicted
	// is false only for invalidation. Feeds eviction metrics and leak
	// tracking bookkeeping in the coordinator.
	onRemove func(key string, value interface{}, evicted bool)

	hits      uint64
	misses    uint64
	evictions uint64
}

type entry struct {
	value       interface{}
	insertedAt  time.Time
	lastAccess  time.Time
	accessCount uint64
}

// TierConfig configures a single cache tier
type TierConfig struct {
	Name     string
	Capacity int
	Policy   PolicyKind
}

// NewTier creates a tier with the given capacity and eviction policy
func NewTier(config TierConfig) (*Tier, error) {
	if config.Capacity < 1 {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "tier capacity must be >= 1").
			WithComponent("cache").WithDetail("tier", config.Name)
	}

	policy, err := NewPolicy(config.Policy, config.Capacity)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, err.Error()).
			WithComponent("cache").WithDetail("tier", config.Name)
	}

	return &Tier{
		name:     config.Name,
		capacity: config.Capacity,
		entries:  make(map[string]*entry),
		policy:   policy,
	}, nil
}

// SetOnRemove registers the removal callback. Must be called before the
// tier is shared between goroutines.
func (t *Tier) SetOnRemove(fn func(key string, value interface{}, evicted bool)) {
	t.onRemove = fn
}

// Get returns the cached value for key. A hit updates access metadata
// and promotes the entry in the policy; it never allocates.
func (t *Tier) Get(key string) (interface{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, exists := t.entries[key]
	if !exists {
		t.misses++
		return nil, false
	}

	e.lastAccess = time.Now()
	e.accessCount++
	t.policy.Touch(key)
	t.hits++
	return e.value, true
}

// Put stores key→value, evicting a victim when the tier is at capacity.
// With eviction disabled and the tier full it fails with
// CapacityExceeded; the caller is expected to use the value uncached.
func (t *Tier) Put(key string, value interface{}) error {
	t.mu.Lock()

	if e, exists := t.entries[key]; exists {
		e.value = value
		e.lastAccess = time.Now()
		e.accessCount++
		t.policy.Touch(key)
		t.mu.Unlock()
		return nil
	}

	var removedKey string
	var removedValue interface{}

	if len(t.entries) >= t.capacity {
		if t.evictionDisabled {
			t.mu.Unlock()
			return errors.NewError(errors.ErrCodeCapacityExceeded, "tier full and eviction disabled").
				WithComponent("cache").WithOperation("put").
				WithDetail("tier", t.name).WithDetail("capacity", t.capacity)
		}
		if victim, ok := t.policy.Victim(); ok {
			removedKey = victim
			removedValue = t.entries[victim].value
			delete(t.entries, victim)
			t.evictions++
		}
	}

	now := time.Now()
	t.entries[key] = &entry{
		value:      value,
		insertedAt: now,
		lastAccess: now,
	}
	t.policy.Add(key)

	callback := t.onRemove
	t.mu.Unlock()

	if callback != nil && removedKey != "" {
		callback(removedKey, removedValue, true)
	}
	return nil
}

// Invalidate removes key from the tier. Calling it twice has the same
// observable effect as once; it reports whether the key was present.
func (t *Tier) Invalidate(key string) bool {
	t.mu.Lock()

	e, exists := t.entries[key]
	if !exists {
		t.mu.Unlock()
		return false
	}

	delete(t.entries, key)
	t.policy.Remove(key)
	callback := t.onRemove
	t.mu.Unlock()

	if callback != nil {
		callback(key, e.value, false)
	}
	return true
}

// take removes key without firing onRemove or counting an eviction.
// Used by the hierarchy when an entry moves between tiers rather than
// leaving the cache.
func (t *Tier) take(key string) (interface{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, exists := t.entries[key]
	if !exists {
		return nil, false
	}
	delete(t.entries, key)
	t.policy.Remove(key)
	return e.value, true
}

// EvictOne delegates victim selection to the policy and removes the
// chosen entry. Returns the evicted key.
func (t *Tier) EvictOne() (string, bool) {
	t.mu.Lock()
	victim, ok := t.policy.Victim()
	if !ok {
		t.mu.Unlock()
		return "", false
	}

	value := t.entries[victim].value
	delete(t.entries, victim)
	t.evictions++
	callback := t.onRemove
	t.mu.Unlock()

	if callback != nil {
		callback(victim, value, true)
	}
	return victim, true
}

// EvictToFraction evicts in policy order until the tier holds at most
// fraction*capacity entries. Returns the number of evictions.
func (t *Tier) EvictToFraction(fraction float64) int {
	if fraction < 0 {
		fraction = 0
	}
	target := int(float64(t.capacity) * fraction)

	evicted := 0
	for t.Len() > target {
		if _, ok := t.EvictOne(); !ok {
			break
		}
		evicted++
	}
	return evicted
}

// Flush removes every entry, bypassing eviction order entirely.
func (t *Tier) Flush() int {
	t.mu.Lock()

	flushed := make(map[string]interface{}, len(t.entries))
	for key, e := range t.entries {
		flushed[key] = e.value
	}
	n := len(t.entries)
	t.entries = make(map[string]*entry)
	t.policy.Reset()
	t.evictions += uint64(n)
	callback := t.onRemove
	t.mu.Unlock()

	if callback != nil {
		for key, value := range flushed {
			callback(key, value, true)
		}
	}
	return n
}

// SetEvictionDisabled toggles eviction-on-put. While disabled, Put on a
// full tier fails instead of evicting.
func (t *Tier) SetEvictionDisabled(disabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictionDisabled = disabled
}

// Contains reports whether key is resident without touching access
// metadata or the policy.
func (t *Tier) Contains(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, exists := t.entries[key]
	return exists
}

// Len returns the number of resident entries
func (t *Tier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Capacity returns the tier's configured capacity
func (t *Tier) Capacity() int {
	return t.capacity
}

// Name returns the tier's configured name
func (t *Tier) Name() string {
	return t.name
}

// Keys returns all resident keys (for tests and debugging)
func (t *Tier) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]string, 0, len(t.entries))
	for key := range t.entries {
		keys = append(keys, key)
	}
	return keys
}

// Stats returns tier statistics
func (t *Tier) Stats() types.CacheStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := types.CacheStats{
		Hits:      t.hits,
		Misses:    t.misses,
		Evictions: t.evictions,
		Entries:   len(t.entries),
		Capacity:  t.capacity,
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	if t.capacity > 0 {
		stats.Utilization = float64(len(t.entries)) / float64(t.capacity)
	}
	return stats
}
