package cache

import (
	"container/list"
)

// lruPolicy evicts the least-recently-accessed key. Access order is an
// intrusive list (front = most recent), so every operation is O(1) and
// there are never ties to break.
type lruPolicy struct {
	order    *list.List
	elements map[string]*list.Element
}

func newLRUPolicy() *lruPolicy {
	return &lruPolicy{
		order:    list.New(),
		elements: make(map[string]*list.Element),
	}
}

func (p *lruPolicy) Add(key string) {
	if el, exists := p.elements[key]; exists {
		p.order.MoveToFront(el)
		return
	}
	p.elements[key] = p.order.PushFront(key)
}

func (p *lruPolicy) Touch(key string) {
	if el, exists := p.elements[key]; exists {
		p.order.MoveToFront(el)
	}
}

func (p *lruPolicy) Remove(key string) {
	if el, exists := p.elements[key]; exists {
		p.order.Remove(el)
		delete(p.elements, key)
	}
}

func (p *lruPolicy) Victim() (string, bool) {
	el := p.order.Back()
	if el == nil {
		return "", false
	}
	key := el.Value.(string)
	p.order.Remove(el)
	delete(p.elements, key)
	return key, true
}

func (p *lruPolicy) Reset() {
	p.order.Init()
	p.elements = make(map[string]*list.Element)
}

func (p *lruPolicy) Len() int {
	return p.order.Len()
}
