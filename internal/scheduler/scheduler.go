package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescoord/rescoord/pkg/errors"
	"github.com/rescoord/rescoord/pkg/types"
	"github.com/rescoord/rescoord/pkg/utils"
)

// TaskFunc is a unit of work. It must honor ctx cancellation; a task
// that ignores ctx past its timeout still resolves its future as timed
// out, but its goroutine runs to completion unobserved.
type TaskFunc func(ctx context.Context) (interface{}, error)

type ctxKey int

const ctxKeyTaskID ctxKey = iota

// TaskIDFromContext returns the scheduler-assigned task ID, if the
// context originated from a scheduled task.
func TaskIDFromContext(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(ctxKeyTaskID).(uint64)
	return id, ok
}

// ClassConfig sizes one workload class
type ClassConfig struct {
	Workers       int `yaml:"workers"`
	QueueCapacity int `yaml:"queue_capacity"`
}

// Config configures the scheduler
type Config struct {
	Classes map[types.WorkloadClass]ClassConfig
	Logger  *utils.StructuredLogger

	// DetectorScanInterval overrides the deadlock detector's scan
	// period. Zero keeps DefaultScanInterval.
	DetectorScanInterval time.Duration
}

// DefaultConfig returns per-class sizing weighted toward interactive
// work: more workers and deeper queues for the latency-sensitive
// classes.
func DefaultConfig() Config {
	return Config{
		Classes: map[types.WorkloadClass]ClassConfig{
			types.ClassInteractive: {Workers: 8, QueueCapacity: 256},
			types.ClassInitiated:   {Workers: 4, QueueCapacity: 256},
			types.ClassUtility:     {Workers: 2, QueueCapacity: 128},
			types.ClassBackground:  {Workers: 1, QueueCapacity: 64},
		},
	}
}

// executor owns one workload class: a fixed worker pool draining a
// bounded priority queue. Classes never share workers, so a flood of
// background work cannot starve interactive tasks.
type executor struct {
	class    types.WorkloadClass
	capacity int
	workers  int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   taskQueue
	stopped bool

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	cancelled atomic.Uint64
	timedOut  atomic.Uint64
	rejected  atomic.Uint64
	running   atomic.Int32
}

// Scheduler dispatches tasks across four isolated workload classes
type Scheduler struct {
	executors map[types.WorkloadClass]*executor
	logger    *utils.StructuredLogger
	detector  *DeadlockDetector

	nextID  atomic.Uint64
	nextSeq atomic.Uint64

	// admissionLevel gates Submit. At Emergency only interactive and
	// user-initiated work is admitted.
	admissionLevel atomic.Int32

	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool

	// onTaskDone, when set, observes every terminal task transition.
	// Used by the metrics collector.
	onTaskDone func(class types.WorkloadClass, status types.TaskStatus, queueLatency time.Duration)

	// onTaskRejected observes submissions refused at the door, whether
	// by a full queue or a closed admission gate.
	onTaskRejected func(class types.WorkloadClass)
}

// New creates a scheduler. Classes missing from config get the default
// sizing.
func New(config Config) (*Scheduler, error) {
	logger := config.Logger
	if logger == nil {
		logger = utils.NewDefaultLogger()
	}

	defaults := DefaultConfig().Classes
	executors := make(map[types.WorkloadClass]*executor, len(types.AllClasses()))
	for _, class := range types.AllClasses() {
		cc, ok := config.Classes[class]
		if !ok {
			cc = defaults[class]
		}
		if cc.Workers < 1 {
			return nil, errors.NewError(errors.ErrCodeInvalidConfig,
				fmt.Sprintf("class %s needs at least one worker", class)).
				WithComponent("scheduler")
		}
		if cc.QueueCapacity < 1 {
			return nil, errors.NewError(errors.ErrCodeInvalidConfig,
				fmt.Sprintf("class %s needs a positive queue capacity", class)).
				WithComponent("scheduler")
		}

		e := &executor{
			class:    class,
			capacity: cc.QueueCapacity,
			workers:  cc.Workers,
			queue:    make(taskQueue, 0, cc.QueueCapacity),
		}
		e.cond = sync.NewCond(&e.mu)
		executors[class] = e
	}

	return &Scheduler{
		executors: executors,
		logger:    logger.WithComponent("scheduler"),
		detector: NewDeadlockDetector(DetectorConfig{
			ScanInterval: config.DetectorScanInterval,
			Logger:       logger,
		}),
	}, nil
}

// SetOnTaskDone registers the terminal-transition observer. Must be
// called before Start.
func (s *Scheduler) SetOnTaskDone(fn func(types.WorkloadClass, types.TaskStatus, time.Duration)) {
	s.onTaskDone = fn
}

// SetOnTaskRejected registers the rejection observer. Must be called
// before Start.
func (s *Scheduler) SetOnTaskRejected(fn func(types.WorkloadClass)) {
	s.onTaskRejected = fn
}

// Detector returns the advisory deadlock detector
func (s *Scheduler) Detector() *DeadlockDetector {
	return s.detector
}

// Start launches the worker pools and the deadlock detector
func (s *Scheduler) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "scheduler already started").
			WithComponent("scheduler")
	}

	for _, e := range s.executors {
		for i := 0; i < e.workers; i++ {
			s.wg.Add(1)
			go s.worker(e)
		}
	}
	s.detector.Start()

	s.logger.Info("scheduler started", map[string]interface{}{
		"classes": len(s.executors),
	})
	return nil
}

// Stop drains nothing: queued tasks are cancelled, running tasks get
// their contexts cancelled implicitly only through their own timeouts.
// Blocks until all workers exit.
func (s *Scheduler) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}

	for _, e := range s.executors {
		e.mu.Lock()
		e.stopped = true
		items := e.queue.drain()
		e.cond.Broadcast()
		e.mu.Unlock()

		for _, item := range items {
			s.finish(e, item.future, types.TaskCancelled, nil,
				errors.NewError(errors.ErrCodeTaskCanceled, "scheduler stopping").
					WithComponent("scheduler"))
		}
	}

	s.wg.Wait()
	s.detector.Stop()
	s.logger.Info("scheduler stopped")
}

// SetAdmissionLevel updates the pressure level gating Submit
func (s *Scheduler) SetAdmissionLevel(level types.PressureLevel) {
	s.admissionLevel.Store(int32(level))
}

func (s *Scheduler) admits(class types.WorkloadClass) bool {
	if types.PressureLevel(s.admissionLevel.Load()) < types.PressureEmergency {
		return true
	}
	return class == types.ClassInteractive || class == types.ClassInitiated
}

// Submit enqueues fn under the given class and priority. Higher
// priority dequeues first; equal priorities dequeue in submission
// order. A timeout of zero means no deadline beyond ctx's own.
//
// Submit fails fast with an overloaded error when the class queue is
// full or when Emergency pressure has closed admission for the class.
func (s *Scheduler) Submit(ctx context.Context, class types.WorkloadClass, priority int, timeout time.Duration, fn TaskFunc) (*Future, error) {
	if fn == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidState, "nil task function").
			WithComponent("scheduler").WithOperation("submit")
	}
	e, ok := s.executors[class]
	if !ok {
		return nil, errors.NewError(errors.ErrCodeInvalidState,
			fmt.Sprintf("unknown workload class %d", class)).
			WithComponent("scheduler").WithOperation("submit")
	}
	if s.stopped.Load() {
		return nil, errors.NewError(errors.ErrCodeNotStarted, "scheduler stopped").
			WithComponent("scheduler").WithOperation("submit")
	}

	if !s.admits(class) {
		e.rejected.Add(1)
		if s.onTaskRejected != nil {
			s.onTaskRejected(class)
		}
		return nil, errors.NewError(errors.ErrCodeOverloaded, "admission closed under memory pressure").
			WithComponent("scheduler").WithOperation("submit").
			WithDetail("class", class.String())
	}

	if ctx == nil {
		ctx = context.Background()
	}

	future := newFuture(s.nextID.Add(1), class, priority, timeout)
	item := &taskItem{
		future:   future,
		fn:       fn,
		ctx:      ctx,
		timeout:  timeout,
		priority: priority,
		seq:      s.nextSeq.Add(1),
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, errors.NewError(errors.ErrCodeNotStarted, "scheduler stopped").
			WithComponent("scheduler").WithOperation("submit")
	}
	if e.queue.Len() >= e.capacity {
		e.mu.Unlock()
		e.rejected.Add(1)
		if s.onTaskRejected != nil {
			s.onTaskRejected(class)
		}
		return nil, errors.NewError(errors.ErrCodeOverloaded, "class queue full").
			WithComponent("scheduler").WithOperation("submit").
			WithDetail("class", class.String()).
			WithDetail("capacity", e.capacity)
	}
	e.queue.push(item)
	e.submitted.Add(1)
	e.cond.Signal()
	e.mu.Unlock()

	return future, nil
}

// CancelQueued drops every queued task in the given classes, resolving
// their futures as cancelled. Running tasks are unaffected. Returns
// the number of tasks cancelled.
func (s *Scheduler) CancelQueued(classes ...types.WorkloadClass) int {
	cancelled := 0
	for _, class := range classes {
		e, ok := s.executors[class]
		if !ok {
			continue
		}
		e.mu.Lock()
		items := e.queue.drain()
		e.mu.Unlock()

		for _, item := range items {
			s.finish(e, item.future, types.TaskCancelled, nil,
				errors.NewError(errors.ErrCodeTaskCanceled, "queued task shed under pressure").
					WithComponent("scheduler").WithDetail("class", class.String()))
			cancelled++
		}
	}
	if cancelled > 0 {
		s.logger.Info("shed queued tasks", map[string]interface{}{
			"count": cancelled,
		})
	}
	return cancelled
}

func (s *Scheduler) worker(e *executor) {
	defer s.wg.Done()

	for {
		e.mu.Lock()
		for e.queue.Len() == 0 && !e.stopped {
			e.cond.Wait()
		}
		if e.stopped && e.queue.Len() == 0 {
			e.mu.Unlock()
			return
		}
		item := e.queue.pop()
		e.mu.Unlock()

		s.run(e, item)
	}
}

// run executes one task, racing it against its deadline. The work
// itself runs in a child goroutine so a task that ignores ctx still
// resolves its future on time.
func (s *Scheduler) run(e *executor, item *taskItem) {
	future := item.future

	if err := item.ctx.Err(); err != nil {
		s.finish(e, future, types.TaskCancelled, nil,
			errors.NewError(errors.ErrCodeTaskCanceled, "context cancelled before start").
				WithComponent("scheduler").WithCause(err))
		return
	}

	future.markRunning()
	e.running.Add(1)
	defer e.running.Add(-1)

	taskCtx := context.WithValue(item.ctx, ctxKeyTaskID, future.id)
	cancel := func() {}
	if item.timeout > 0 {
		taskCtx, cancel = context.WithTimeout(taskCtx, item.timeout)
	}
	defer cancel()

	type outcome struct {
		result interface{}
		err    error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- outcome{nil, errors.NewError(errors.ErrCodeInternalError,
					fmt.Sprintf("task panicked: %v", r)).
					WithComponent("scheduler")}
			}
		}()
		result, err := item.fn(taskCtx)
		resultCh <- outcome{result, err}
	}()

	select {
	case out := <-resultCh:
		if out.err != nil {
			s.finish(e, future, types.TaskFailed, out.result, out.err)
		} else {
			s.finish(e, future, types.TaskCompleted, out.result, nil)
		}
	case <-taskCtx.Done():
		s.detector.TaskGone(future.id)
		if item.timeout > 0 && taskCtx.Err() == context.DeadlineExceeded {
			s.finish(e, future, types.TaskTimedOut, nil,
				errors.NewError(errors.ErrCodeTaskTimeout, "task exceeded its deadline").
					WithComponent("scheduler").
					WithDetail("timeout", item.timeout.String()))
		} else {
			s.finish(e, future, types.TaskCancelled, nil,
				errors.NewError(errors.ErrCodeTaskCanceled, "context cancelled").
					WithComponent("scheduler").WithCause(taskCtx.Err()))
		}
	}
}

func (s *Scheduler) finish(e *executor, future *Future, status types.TaskStatus, result interface{}, err error) {
	if !future.resolve(status, result, err) {
		return
	}
	s.detector.TaskGone(future.id)

	switch status {
	case types.TaskCompleted:
		e.completed.Add(1)
	case types.TaskFailed:
		e.failed.Add(1)
	case types.TaskCancelled:
		e.cancelled.Add(1)
	case types.TaskTimedOut:
		e.timedOut.Add(1)
	}

	if s.onTaskDone != nil {
		s.onTaskDone(e.class, status, future.QueueLatency())
	}
}

// QueueLen returns the number of queued tasks for a class
func (s *Scheduler) QueueLen(class types.WorkloadClass) int {
	e, ok := s.executors[class]
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Len()
}

// Stats returns per-class counters
func (s *Scheduler) Stats() types.SchedulerStats {
	stats := types.SchedulerStats{Classes: make(map[string]types.ClassStats, len(s.executors))}
	for class, e := range s.executors {
		e.mu.Lock()
		queued := e.queue.Len()
		e.mu.Unlock()

		stats.Classes[class.String()] = types.ClassStats{
			Submitted: e.submitted.Load(),
			Completed: e.completed.Load(),
			Failed:    e.failed.Load(),
			Cancelled: e.cancelled.Load(),
			TimedOut:  e.timedOut.Load(),
			Rejected:  e.rejected.Load(),
			Queued:    queued,
			Running:   int(e.running.Load()),
		}
	}
	return stats
}
