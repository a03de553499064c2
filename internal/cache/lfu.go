package cache

// lfuPolicy evicts the key with the lowest access count. Ties are
// broken by oldest admission, then by smallest key hash so that victim
// selection is fully deterministic.
type lfuPolicy struct {
	entries map[string]*lfuEntry
	nextSeq uint64
}

type lfuEntry struct {
	count uint64
	seq   uint64 // admission order, lower = older
}

func newLFUPolicy() *lfuPolicy {
	return &lfuPolicy{
		entries: make(map[string]*lfuEntry),
	}
}

func (p *lfuPolicy) Add(key string) {
	if _, exists := p.entries[key]; exists {
		return
	}
	p.entries[key] = &lfuEntry{seq: p.nextSeq}
	p.nextSeq++
}

func (p *lfuPolicy) Touch(key string) {
	if e, exists := p.entries[key]; exists {
		e.count++
	}
}

func (p *lfuPolicy) Remove(key string) {
	delete(p.entries, key)
}

// Victim scans for the minimum access count. Tier capacities are small
// enough that the linear scan costs less than maintaining a frequency
// heap on every hit.
func (p *lfuPolicy) Victim() (string, bool) {
	var (
		victim string
		best   *lfuEntry
		found  bool
	)

	for key, e := range p.entries {
		if !found || lfuLess(e, key, best, victim) {
			victim, best, found = key, e, true
		}
	}

	if !found {
		return "", false
	}
	delete(p.entries, victim)
	return victim, true
}

// lfuLess reports whether candidate (e, key) should be evicted before
// the current best: lower count, then older admission, then smaller hash.
func lfuLess(e *lfuEntry, key string, best *lfuEntry, bestKey string) bool {
	if e.count != best.count {
		return e.count < best.count
	}
	if e.seq != best.seq {
		return e.seq < best.seq
	}
	return keyHash(key) < keyHash(bestKey)
}

func (p *lfuPolicy) Reset() {
	p.entries = make(map[string]*lfuEntry)
	p.nextSeq = 0
}

func (p *lfuPolicy) Len() int {
	return len(p.entries)
}
