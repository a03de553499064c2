package cache

import (
	"github.com/rescoord/rescoord/pkg/types"
	"github.com/rescoord/rescoord/pkg/utils"
)

// TierID identifies a level of the hierarchy
type TierID int

const (
	TierFast TierID = iota
	TierMedium
	TierSlow
)

func (id TierID) String() string {
	switch id {
	case TierFast:
		return "fast"
	case TierMedium:
		return "medium"
	case TierSlow:
		return "slow"
	default:
		return "unknown"
	}
}

// Hierarchy composes three tiers of decreasing speed and increasing
// capacity. Reads search fast→medium→slow and promote hits one level
// up; writes land in the fast tier. Each tier keeps its own lock, so a
// lookup touches at most the tiers it searches.
type Hierarchy struct {
	tiers  [3]*Tier
	logger *utils.StructuredLogger
}

// HierarchyConfig configures all three tiers
type HierarchyConfig struct {
	Fast   TierConfig
	Medium TierConfig
	Slow   TierConfig
	Logger *utils.StructuredLogger
}

// DefaultHierarchyConfig returns a small hierarchy suitable for tests
// and examples: 1k/8k/64k entries with LRU/LRU/ARC policies.
func DefaultHierarchyConfig() HierarchyConfig {
	return HierarchyConfig{
		Fast:   TierConfig{Name: "fast", Capacity: 1024, Policy: PolicyLRU},
		Medium: TierConfig{Name: "medium", Capacity: 8192, Policy: PolicyLRU},
		Slow:   TierConfig{Name: "slow", Capacity: 65536, Policy: PolicyARC},
	}
}

// NewHierarchy builds the three tiers from config
func NewHierarchy(config HierarchyConfig) (*Hierarchy, error) {
	logger := config.Logger
	if logger == nil {
		logger = utils.NewDefaultLogger()
	}

	h := &Hierarchy{logger: logger.WithComponent("cache")}
	for i, tc := range []TierConfig{config.Fast, config.Medium, config.Slow} {
		tier, err := NewTier(tc)
		if err != nil {
			return nil, err
		}
		h.tiers[i] = tier
	}
	return h, nil
}

// Get searches the tiers in order. A hit below the fast tier is
// promoted one level up: removed from the source tier first, then
// inserted into the destination, so the value is never resident twice.
// Promotion is one level per hit, so a slow-tier entry needs two hits
// before it reaches the fast tier. If the destination rejects the
// insert the value is re-inserted into the source tier best-effort.
func (h *Hierarchy) Get(key string) (interface{}, bool) {
	for i, tier := range h.tiers {
		value, ok := tier.Get(key)
		if !ok {
			continue
		}
		if i > 0 {
			h.promote(key, value, TierID(i))
		}
		return value, true
	}
	return nil, false
}

func (h *Hierarchy) promote(key string, value interface{}, from TierID) {
	src := h.tiers[from]
	dst := h.tiers[from-1]

	src.take(key)
	if err := dst.Put(key, value); err != nil {
		// Destination full with eviction disabled; keep the entry where
		// it was rather than losing it.
		if rerr := src.Put(key, value); rerr != nil {
			h.logger.Debug("promotion dropped entry", map[string]interface{}{
				"key":  key,
				"from": from.String(),
			})
		}
	}
}

// Put stores the value in the fast tier and invalidates any stale copy
// in the lower tiers.
func (h *Hierarchy) Put(key string, value interface{}) error {
	if err := h.tiers[TierFast].Put(key, value); err != nil {
		return err
	}
	h.tiers[TierMedium].Invalidate(key)
	h.tiers[TierSlow].Invalidate(key)
	return nil
}

// PutTier stores the value directly into the named tier
func (h *Hierarchy) PutTier(id TierID, key string, value interface{}) error {
	return h.tiers[id].Put(key, value)
}

// Invalidate removes key from every tier. Reports whether any tier
// held it.
func (h *Hierarchy) Invalidate(key string) bool {
	found := false
	for _, tier := range h.tiers {
		if tier.Invalidate(key) {
			found = true
		}
	}
	return found
}

// Contains reports whether any tier holds the key
func (h *Hierarchy) Contains(key string) bool {
	for _, tier := range h.tiers {
		if tier.Contains(key) {
			return true
		}
	}
	return false
}

// Tier returns the tier at the given level
func (h *Hierarchy) Tier(id TierID) *Tier {
	return h.tiers[id]
}

// Tiers returns all tiers, fastest first
func (h *Hierarchy) Tiers() []*Tier {
	return h.tiers[:]
}

// Len returns the total number of resident entries across all tiers
func (h *Hierarchy) Len() int {
	total := 0
	for _, tier := range h.tiers {
		total += tier.Len()
	}
	return total
}

// Flush empties every tier and returns the number of entries removed
func (h *Hierarchy) Flush() int {
	total := 0
	for _, tier := range h.tiers {
		total += tier.Flush()
	}
	return total
}

// Stats returns per-tier statistics keyed by tier name
func (h *Hierarchy) Stats() map[string]types.CacheStats {
	stats := make(map[string]types.CacheStats, len(h.tiers))
	for _, tier := range h.tiers {
		stats[tier.Name()] = tier.Stats()
	}
	return stats
}
