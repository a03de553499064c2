package cache

import (
	"container/list"
)

// arcPolicy approximates ARC: live keys sit in a recency list (t1, seen
// once) or a frequency list (t2, seen more than once), with ghost
// histories (b1, b2) of recently evicted keys. The adaptive target p
// favors whichever list has been producing ghost hits: a hit in b1
// grows p (favor recency), a hit in b2 shrinks it (favor frequency).
// Victim selection alternates between the lists based on p.
type arcPolicy struct {
	capacity int
	target   int // p: preferred size of t1

	t1, t2 *list.List
	b1, b2 *list.List

	where map[string]*arcSlot
}

type arcList int

const (
	arcT1 arcList = iota
	arcT2
	arcB1
	arcB2
)

type arcSlot struct {
	list    arcList
	element *list.Element
}

func newARCPolicy(capacity int) *arcPolicy {
	if capacity < 1 {
		capacity = 1
	}
	return &arcPolicy{
		capacity: capacity,
		t1:       list.New(),
		t2:       list.New(),
		b1:       list.New(),
		b2:       list.New(),
		where:    make(map[string]*arcSlot),
	}
}

func (p *arcPolicy) Add(key string) {
	slot, exists := p.where[key]
	if exists {
		switch slot.list {
		case arcT1, arcT2:
			// Already live; treat as a touch.
			p.Touch(key)
		case arcB1:
			// Ghost hit in the recency history: favor recency.
			p.target = min(p.target+p.adjust(p.b1, p.b2), p.capacity)
			p.moveTo(key, slot, arcT2)
		case arcB2:
			// Ghost hit in the frequency history: favor frequency.
			p.target = max(p.target-p.adjust(p.b2, p.b1), 0)
			p.moveTo(key, slot, arcT2)
		}
		return
	}

	p.where[key] = &arcSlot{list: arcT1, element: p.t1.PushFront(key)}
	p.trimGhosts()
}

// adjust computes the adaptation step: at least 1, scaled by the
// relative ghost list sizes as in the original ARC formulation.
func (p *arcPolicy) adjust(hit, other *list.List) int {
	if hit.Len() == 0 {
		return 1
	}
	step := other.Len() / hit.Len()
	if step < 1 {
		step = 1
	}
	return step
}

func (p *arcPolicy) Touch(key string) {
	slot, exists := p.where[key]
	if !exists {
		return
	}
	switch slot.list {
	case arcT1:
		// Second access: promote from recency to frequency.
		p.moveTo(key, slot, arcT2)
	case arcT2:
		p.t2.MoveToFront(slot.element)
	}
}

func (p *arcPolicy) Remove(key string) {
	slot, exists := p.where[key]
	if !exists {
		return
	}
	p.listFor(slot.list).Remove(slot.element)
	delete(p.where, key)
}

// Victim evicts the LRU of whichever live list is over its target: t1
// when it holds at least max(1, p) entries, t2 otherwise. The victim
// moves into the corresponding ghost history.
func (p *arcPolicy) Victim() (string, bool) {
	preferT1 := p.t1.Len() >= max(1, p.target)

	if preferT1 && p.t1.Len() > 0 {
		return p.evictFrom(arcT1, arcB1), true
	}
	if p.t2.Len() > 0 {
		return p.evictFrom(arcT2, arcB2), true
	}
	if p.t1.Len() > 0 {
		return p.evictFrom(arcT1, arcB1), true
	}
	return "", false
}

func (p *arcPolicy) evictFrom(from, ghost arcList) string {
	src := p.listFor(from)
	el := src.Back()
	key := el.Value.(string)
	slot := p.where[key]
	p.moveTo(key, slot, ghost)
	p.trimGhosts()
	return key
}

func (p *arcPolicy) moveTo(key string, slot *arcSlot, dst arcList) {
	p.listFor(slot.list).Remove(slot.element)
	slot.list = dst
	slot.element = p.listFor(dst).PushFront(key)
}

func (p *arcPolicy) listFor(l arcList) *list.List {
	switch l {
	case arcT1:
		return p.t1
	case arcT2:
		return p.t2
	case arcB1:
		return p.b1
	default:
		return p.b2
	}
}

// trimGhosts bounds each ghost history at the tier capacity.
func (p *arcPolicy) trimGhosts() {
	for _, ghost := range []*list.List{p.b1, p.b2} {
		for ghost.Len() > p.capacity {
			el := ghost.Back()
			key := el.Value.(string)
			ghost.Remove(el)
			delete(p.where, key)
		}
	}
}

func (p *arcPolicy) Reset() {
	p.t1.Init()
	p.t2.Init()
	p.b1.Init()
	p.b2.Init()
	p.where = make(map[string]*arcSlot)
	p.target = 0
}

// Len counts live entries only; ghosts track history, not residency.
func (p *arcPolicy) Len() int {
	return p.t1.Len() + p.t2.Len()
}
