package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescoord/rescoord/pkg/types"
)

// Future is the handle returned by Submit. It resolves exactly once,
// to the task's result, its error, or a cancellation/timeout error.
type Future struct {
	id       uint64
	class    types.WorkloadClass
	priority int
	timeout  time.Duration

	done   chan struct{}
	once   sync.Once
	status atomic.Int32

	mu     sync.Mutex
	result interface{}
	err    error

	submittedAt time.Time
	startedAt   time.Time
	finishedAt  time.Time
}

func newFuture(id uint64, class types.WorkloadClass, priority int, timeout time.Duration) *Future {
	f := &Future{
		id:          id,
		class:       class,
		priority:    priority,
		timeout:     timeout,
		done:        make(chan struct{}),
		submittedAt: time.Now(),
	}
	f.status.Store(int32(types.TaskQueued))
	return f
}

// ID returns the task's scheduler-assigned identifier
func (f *Future) ID() uint64 {
	return f.id
}

// Class returns the task's workload class
func (f *Future) Class() types.WorkloadClass {
	return f.class
}

// Status returns the task's current lifecycle status
func (f *Future) Status() types.TaskStatus {
	return types.TaskStatus(f.status.Load())
}

// Done returns a channel closed when the future resolves
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx expires. On ctx expiry
// the task itself keeps its eventual outcome; only this wait aborts.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the resolved value and error. It must only be called
// after Done is closed; before resolution it returns nil, nil.
func (f *Future) Result() (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}

// Record returns a point-in-time view of the task. The deadline is
// zero for tasks submitted without a timeout; for the rest it is
// computed from the start time once the task begins running.
func (f *Future) Record() types.TaskRecord {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec := types.TaskRecord{
		ID:          f.id,
		Class:       f.class,
		Priority:    f.priority,
		Status:      types.TaskStatus(f.status.Load()),
		SubmittedAt: f.submittedAt,
	}
	if f.timeout > 0 && !f.startedAt.IsZero() {
		rec.Deadline = f.startedAt.Add(f.timeout)
	}
	return rec
}

// resolve transitions the future to a terminal status exactly once.
// Later calls are ignored, so a timeout racing a normal completion
// settles on whichever fired first.
func (f *Future) resolve(status types.TaskStatus, result interface{}, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.mu.Lock()
		f.result = result
		f.err = err
		f.finishedAt = time.Now()
		f.mu.Unlock()
		f.status.Store(int32(status))
		close(f.done)
		resolved = true
	})
	return resolved
}

func (f *Future) markRunning() {
	f.status.CompareAndSwap(int32(types.TaskQueued), int32(types.TaskRunning))
	f.mu.Lock()
	f.startedAt = time.Now()
	f.mu.Unlock()
}

// QueueLatency returns how long the task waited before starting, or
// the time since submission if it has not started.
func (f *Future) QueueLatency() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startedAt.IsZero() {
		return time.Since(f.submittedAt)
	}
	return f.startedAt.Sub(f.submittedAt)
}
