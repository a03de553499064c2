// Package pool provides bounded object pooling with reset-on-return and
// shrink-on-pressure semantics.
package pool

import (
	"context"
	"sync"

	"github.com/rescoord/rescoord/pkg/types"
)

// Config configures a Pool. Factory is required; everything else is
// optional.
type Config[T any] struct {
	// Factory constructs a new instance when the freelist is empty.
	Factory func() T

	// Reset restores an instance to a clean state before it is
	// re-enqueued on release. May be nil for stateless objects.
	Reset func(T)

	// MaxSize bounds the freelist. Releases past MaxSize drop the object.
	MaxSize int

	// BlockOnEmpty makes AcquireContext wait for a release when the pool
	// is empty and fully checked out. The default is to never block and
	// fall back to a fresh allocation instead.
	BlockOnEmpty bool

	// OnAcquire and OnRelease are invoked outside the pool lock for every
	// handout and clean return. Used to feed leak tracking.
	OnAcquire func(T)
	OnRelease func(T)
}

// Pool is a bounded freelist of reusable instances of one type.
// All methods are safe for concurrent use.
type Pool[T any] struct {
	mu      sync.Mutex
	free    []T
	maxSize int
	inUse   int

	factory      func() T
	reset        func(T)
	blockOnEmpty bool
	onAcquire    func(T)
	onRelease    func(T)

	// released is signaled (non-blocking) on every Release so that
	// blocked acquirers can re-check the freelist.
	released chan struct{}

	created uint64
	reused  uint64
	dropped uint64
}

// New creates a pool from the given configuration. It panics if Factory
// is nil or MaxSize is not positive; both are programming errors.
func New[T any](config Config[T]) *Pool[T] {
	if config.Factory == nil {
		panic("pool: Factory is required")
	}
	if config.MaxSize <= 0 {
		panic("pool: MaxSize must be > 0")
	}

	return &Pool[T]{
		free:         make([]T, 0, config.MaxSize),
		maxSize:      config.MaxSize,
		factory:      config.Factory,
		reset:        config.Reset,
		blockOnEmpty: config.BlockOnEmpty,
		onAcquire:    config.OnAcquire,
		onRelease:    config.OnRelease,
		released:     make(chan struct{}, 1),
	}
}

// Acquire returns a pooled instance, constructing a fresh one when the
// freelist is empty. It never blocks.
func (p *Pool[T]) Acquire() T {
	obj, _ := p.acquire(nil)
	return obj
}

// AcquireContext behaves like Acquire, but when the pool was configured
// with BlockOnEmpty it waits for a release once the pool is empty and
// fully checked out. The returned error is only ever the context's.
func (p *Pool[T]) AcquireContext(ctx context.Context) (T, error) {
	return p.acquire(ctx)
}

func (p *Pool[T]) acquire(ctx context.Context) (T, error) {
	for {
		p.mu.Lock()

		if n := len(p.free); n > 0 {
			obj := p.free[n-1]
			var zero T
			p.free[n-1] = zero // do not retain the reference
			p.free = p.free[:n-1]
			p.inUse++
			p.reused++
			more := n > 1
			p.mu.Unlock()
			if more && p.blockOnEmpty {
				// The released channel holds at most one signal, so
				// back-to-back releases can collapse into one. Forward
				// the signal while objects remain free so no waiter
				// stays parked with a non-empty freelist.
				select {
				case p.released <- struct{}{}:
				default:
				}
			}
			if p.onAcquire != nil {
				p.onAcquire(obj)
			}
			return obj, nil
		}

		wait := p.blockOnEmpty && ctx != nil && p.inUse >= p.maxSize
		if !wait {
			p.inUse++
			p.created++
			p.mu.Unlock()
			obj := p.factory()
			if p.onAcquire != nil {
				p.onAcquire(obj)
			}
			return obj, nil
		}

		p.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-p.released:
		}
	}
}

// Release resets the object and re-enqueues it if the freelist is below
// max size; otherwise the object is dropped for the runtime to collect.
func (p *Pool[T]) Release(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	if p.onRelease != nil {
		p.onRelease(obj)
	}

	p.mu.Lock()
	if p.inUse > 0 {
		p.inUse--
	}
	if len(p.free) < p.maxSize {
		p.free = append(p.free, obj)
	} else {
		p.dropped++
	}
	p.mu.Unlock()

	select {
	case p.released <- struct{}{}:
	default:
	}
}

// Compress halves the current freelist occupancy without changing max
// size. Used as the first-stage pressure response.
func (p *Pool[T]) Compress() {
	p.mu.Lock()
	defer p.mu.Unlock()

	keep := len(p.free) / 2
	p.dropTo(keep)
}

// Resize scales max size by the given factor (floor 1) and immediately
// compresses the freelist to fit.
func (p *Pool[T]) Resize(factor float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	newMax := int(float64(p.maxSize) * factor)
	p.setMaxLocked(newMax)
}

// SetMaxSize sets max size directly (floor 1) and trims the freelist to fit.
func (p *Pool[T]) SetMaxSize(max int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.setMaxLocked(max)
}

func (p *Pool[T]) setMaxLocked(max int) {
	if max < 1 {
		max = 1
	}
	p.maxSize = max
	if len(p.free) > max {
		p.dropTo(max)
	}
}

// dropTo trims the freelist to n entries, clearing dropped slots so the
// runtime can reclaim them. Caller must hold the lock.
func (p *Pool[T]) dropTo(n int) {
	var zero T
	for i := n; i < len(p.free); i++ {
		p.free[i] = zero
		p.dropped++
	}
	p.free = p.free[:n]
}

// MaxSize returns the current freelist bound.
func (p *Pool[T]) MaxSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxSize
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() types.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return types.PoolStats{
		Available: len(p.free),
		InUse:     p.inUse,
		MaxSize:   p.maxSize,
		Created:   p.created,
		Reused:    p.reused,
		Dropped:   p.dropped,
	}
}
