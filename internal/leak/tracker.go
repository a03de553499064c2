package leak

import (
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/rescoord/rescoord/pkg/types"
	"github.com/rescoord/rescoord/pkg/utils"
)

const DefaultSweepInterval = 30 * time.Second

// Handle identifies one tracked object. Callers mark it released when
// the object goes back through its owning pool or cache; an object
// that gets garbage collected while its handle is still unreleased is
// reported as a leak.
type Handle struct {
	id       uint64
	kind     string
	released atomic.Bool
}

// Release marks the tracked object as properly returned
func (h *Handle) Release() {
	h.released.Store(true)
}

// Kind returns the tracked object's category
func (h *Handle) Kind() string {
	return h.kind
}

type tracked struct {
	handle *Handle
	alive  func() bool
}

// Config configures the tracker
type Config struct {
	SweepInterval time.Duration
	Logger        *utils.StructuredLogger
}

// Tracker watches objects through weak references. It never keeps an
// object alive: a tracked object the collector reclaims while its
// handle is unreleased is, by definition, one its owner lost without
// releasing.
//
// Findings are heuristic. A sweep only sees objects the collector has
// already reclaimed, so a true leak (object still strongly referenced
// somewhere, never released) is invisible to it; the signal is aimed
// at drop-without-release bugs.
type Tracker struct {
	mu      sync.Mutex
	objects map[uint64]*tracked

	callbacks []func(types.LeakReport)
	leaked    atomic.Uint64
	nextID    atomic.Uint64

	interval time.Duration
	logger   *utils.StructuredLogger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	active   int32
}

// NewTracker creates a tracker. It does not sweep until started.
func NewTracker(config Config) *Tracker {
	interval := config.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = utils.NewDefaultLogger()
	}
	return &Tracker{
		objects:  make(map[uint64]*tracked),
		interval: interval,
		logger:   logger.WithComponent("leak"),
	}
}

// Track registers obj under the given kind and returns its handle.
// The tracker holds only a weak reference to obj.
func Track[T any](t *Tracker, kind string, obj *T) *Handle {
	wp := weak.Make(obj)
	handle := &Handle{id: t.nextID.Add(1), kind: kind}

	t.mu.Lock()
	t.objects[handle.id] = &tracked{
		handle: handle,
		alive:  func() bool { return wp.Value() != nil },
	}
	t.mu.Unlock()
	return handle
}

// Subscribe registers a callback invoked with each sweep's findings.
// Must be called before Start.
func (t *Tracker) Subscribe(fn func(types.LeakReport)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, fn)
}

// Start launches the periodic sweep loop
func (t *Tracker) Start() {
	if !atomic.CompareAndSwapInt32(&t.active, 0, 1) {
		return
	}
	t.stopCh = make(chan struct{})
	t.wg.Add(1)
	go t.sweepLoop()
}

// Stop halts the sweep loop
func (t *Tracker) Stop() {
	if !atomic.CompareAndSwapInt32(&t.active, 1, 0) {
		return
	}
	close(t.stopCh)
	t.wg.Wait()
}

func (t *Tracker) sweepLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Sweep()
		case <-t.stopCh:
			return
		}
	}
}

// Sweep examines every tracked object once: released handles are
// forgotten, collected-but-unreleased objects are counted as leaks per
// kind. Exposed so tests and the coordinator can force a pass.
func (t *Tracker) Sweep() []types.LeakReport {
	t.mu.Lock()

	leaksByKind := make(map[string]int)
	for id, obj := range t.objects {
		if obj.handle.released.Load() {
			delete(t.objects, id)
			continue
		}
		if !obj.alive() {
			leaksByKind[obj.handle.kind]++
			delete(t.objects, id)
		}
	}
	callbacks := make([]func(types.LeakReport), len(t.callbacks))
	copy(callbacks, t.callbacks)
	t.mu.Unlock()

	now := time.Now()
	reports := make([]types.LeakReport, 0, len(leaksByKind))
	for kind, count := range leaksByKind {
		report := types.LeakReport{
			Kind:     kind,
			Count:    count,
			Severity: leakSeverity(count),
			SweptAt:  now,
		}
		reports = append(reports, report)
		t.leaked.Add(uint64(count))

		t.logger.Warn("objects leaked without release", map[string]interface{}{
			"kind":  kind,
			"count": count,
		})
		for _, fn := range callbacks {
			fn(report)
		}
	}
	return reports
}

func leakSeverity(count int) types.Severity {
	switch {
	case count >= 100:
		return types.SeverityCritical
	case count >= 10:
		return types.SeverityWarning
	default:
		return types.SeverityInfo
	}
}

// Tracked returns the number of objects currently under observation
func (t *Tracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.objects)
}

// Leaked returns the total number of leaks reported so far
func (t *Tracker) Leaked() uint64 {
	return t.leaked.Load()
}
