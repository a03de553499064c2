package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescoord/rescoord/pkg/types"
	"github.com/rescoord/rescoord/pkg/utils"
)

const DefaultScanInterval = 10 * time.Second

// DetectorConfig configures the advisory deadlock detector
type DetectorConfig struct {
	ScanInterval time.Duration
	Logger       *utils.StructuredLogger
}

// DeadlockDetector tracks which tasks hold and wait on named resources
// and periodically scans the wait-for graph for cycles. Findings are
// advisory: a detected cycle is reported to subscribers, never broken.
//
// Tasks opt in through BlockOn/Unblock and HoldResource/Release; the
// detector only sees what tasks declare.
type DeadlockDetector struct {
	mu sync.Mutex

	// holders maps resource name to the task holding it. One holder
	// per resource; re-holding overwrites.
	holders map[string]uint64
	// waiting maps a blocked task to the resource it waits on. A task
	// waits on at most one resource at a time.
	waiting map[uint64]string

	callbacks []func(types.DeadlockEvent)
	detected  atomic.Uint64

	interval time.Duration
	logger   *utils.StructuredLogger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	active   int32
}

// NewDeadlockDetector creates a detector. It does not scan until
// started.
func NewDeadlockDetector(config DetectorConfig) *DeadlockDetector {
	interval := config.ScanInterval
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = utils.NewDefaultLogger()
	}
	return &DeadlockDetector{
		holders:  make(map[string]uint64),
		waiting:  make(map[uint64]string),
		interval: interval,
		logger:   logger.WithComponent("deadlock"),
	}
}

// ScanInterval returns the configured scan period
func (d *DeadlockDetector) ScanInterval() time.Duration {
	return d.interval
}

// Subscribe registers a callback invoked for every detected cycle.
// Must be called before Start.
func (d *DeadlockDetector) Subscribe(fn func(types.DeadlockEvent)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = append(d.callbacks, fn)
}

// Start launches the periodic scan loop
func (d *DeadlockDetector) Start() {
	if !atomic.CompareAndSwapInt32(&d.active, 0, 1) {
		return
	}
	d.stopCh = make(chan struct{})
	d.wg.Add(1)
	go d.scanLoop()
}

// Stop halts the scan loop
func (d *DeadlockDetector) Stop() {
	if !atomic.CompareAndSwapInt32(&d.active, 1, 0) {
		return
	}
	close(d.stopCh)
	d.wg.Wait()
}

func (d *DeadlockDetector) scanLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.Scan()
		case <-d.stopCh:
			return
		}
	}
}

// HoldResource records that taskID now holds the named resource
func (d *DeadlockDetector) HoldResource(taskID uint64, resource string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.holders[resource] = taskID
}

// ReleaseResource clears taskID's hold on the resource. A release by a
// task that is not the holder is ignored.
func (d *DeadlockDetector) ReleaseResource(taskID uint64, resource string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.holders[resource] == taskID {
		delete(d.holders, resource)
	}
}

// BlockOn records that taskID is waiting to acquire the resource
func (d *DeadlockDetector) BlockOn(taskID uint64, resource string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waiting[taskID] = resource
}

// Unblock clears taskID's wait record
func (d *DeadlockDetector) Unblock(taskID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.waiting, taskID)
}

// TaskGone removes every record involving a finished task
func (d *DeadlockDetector) TaskGone(taskID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.waiting, taskID)
	for resource, holder := range d.holders {
		if holder == taskID {
			delete(d.holders, resource)
		}
	}
}

// Detected returns the total number of cycles reported so far
func (d *DeadlockDetector) Detected() uint64 {
	return d.detected.Load()
}

// Scan walks the wait-for graph once and reports every distinct cycle
// found. Exposed so tests and the coordinator can force a scan without
// waiting out the interval. Returns the events reported.
func (d *DeadlockDetector) Scan() []types.DeadlockEvent {
	d.mu.Lock()

	// Edge task→task: waiter depends on the holder of the resource it
	// waits on.
	edges := make(map[uint64]uint64, len(d.waiting))
	via := make(map[uint64]string, len(d.waiting))
	for waiter, resource := range d.waiting {
		if holder, held := d.holders[resource]; held && holder != waiter {
			edges[waiter] = holder
			via[waiter] = resource
		}
	}
	callbacks := make([]func(types.DeadlockEvent), len(d.callbacks))
	copy(callbacks, d.callbacks)
	d.mu.Unlock()

	cycles := findCycles(edges)
	events := make([]types.DeadlockEvent, 0, len(cycles))
	for _, cycle := range cycles {
		event := types.DeadlockEvent{
			Description:   describeCycle(cycle, via),
			InvolvedTasks: cycle,
			Severity:      types.SeverityCritical,
			DetectedAt:    time.Now(),
		}
		events = append(events, event)
		d.detected.Add(1)

		d.logger.Error("wait cycle detected", map[string]interface{}{
			"tasks": fmt.Sprintf("%v", cycle),
		})
		for _, fn := range callbacks {
			fn(event)
		}
	}
	return events
}

// findCycles returns each distinct cycle in a functional graph (at
// most one outgoing edge per node). Cycle members are sorted so the
// same cycle is always reported identically.
func findCycles(edges map[uint64]uint64) [][]uint64 {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[uint64]int, len(edges))

	var cycles [][]uint64
	for start := range edges {
		if state[start] != unvisited {
			continue
		}

		var path []uint64
		node := start
		for {
			state[node] = inStack
			path = append(path, node)

			next, ok := edges[node]
			if !ok || state[next] == done {
				break
			}
			if state[next] == inStack {
				// Cycle: everything in path from next onward.
				for i, p := range path {
					if p == next {
						cycle := append([]uint64(nil), path[i:]...)
						sort.Slice(cycle, func(a, b int) bool { return cycle[a] < cycle[b] })
						cycles = append(cycles, cycle)
						break
					}
				}
				break
			}
			node = next
		}
		for _, p := range path {
			state[p] = done
		}
	}
	return cycles
}

func describeCycle(cycle []uint64, via map[uint64]string) string {
	var sb strings.Builder
	sb.WriteString("wait cycle: ")
	for i, id := range cycle {
		if i > 0 {
			sb.WriteString(" -> ")
		}
		fmt.Fprintf(&sb, "task %d", id)
		if resource, ok := via[id]; ok {
			fmt.Fprintf(&sb, " (waiting on %s)", resource)
		}
	}
	return sb.String()
}
