package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rescoord/rescoord/pkg/errors"
	"github.com/rescoord/rescoord/pkg/types"
)

// singleWorker builds a scheduler where every class has one worker, so
// ordering tests are deterministic.
func singleWorker(t *testing.T, queueCap int) *Scheduler {
	t.Helper()
	classes := make(map[types.WorkloadClass]ClassConfig)
	for _, class := range types.AllClasses() {
		classes[class] = ClassConfig{Workers: 1, QueueCapacity: queueCap}
	}
	s, err := New(Config{Classes: classes})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func TestScheduler_SubmitAndWait(t *testing.T) {
	s := singleWorker(t, 16)

	future, err := s.Submit(context.Background(), types.ClassInteractive, 0, 0,
		func(ctx context.Context) (interface{}, error) {
			return 42, nil
		})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	result, err := future.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result.(int) != 42 {
		t.Errorf("result = %v, want 42", result)
	}
	if future.Status() != types.TaskCompleted {
		t.Errorf("status = %v, want completed", future.Status())
	}
}

func TestNew_DetectorScanInterval(t *testing.T) {
	s, err := New(Config{DetectorScanInterval: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := s.Detector().ScanInterval(); got != time.Minute {
		t.Errorf("scan interval = %v, want 1m", got)
	}

	s, err = New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := s.Detector().ScanInterval(); got != DefaultScanInterval {
		t.Errorf("default scan interval = %v, want %v", got, DefaultScanInterval)
	}
}

func TestScheduler_RejectionObserver(t *testing.T) {
	classes := make(map[types.WorkloadClass]ClassConfig)
	for _, class := range types.AllClasses() {
		classes[class] = ClassConfig{Workers: 1, QueueCapacity: 1}
	}
	s, err := New(Config{Classes: classes})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var rejections []types.WorkloadClass
	s.SetOnTaskRejected(func(class types.WorkloadClass) {
		rejections = append(rejections, class)
	})

	noop := func(ctx context.Context) (interface{}, error) { return nil, nil }

	// Admission gate rejection. Workers are not started, so nothing
	// drains the queues.
	s.SetAdmissionLevel(types.PressureEmergency)
	if _, err := s.Submit(context.Background(), types.ClassBackground, 0, 0, noop); !errors.IsCode(err, errors.ErrCodeOverloaded) {
		t.Fatalf("err = %v, want overloaded", err)
	}
	s.SetAdmissionLevel(types.PressureNormal)

	// Queue-full rejection.
	if _, err := s.Submit(context.Background(), types.ClassUtility, 0, 0, noop); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := s.Submit(context.Background(), types.ClassUtility, 0, 0, noop); !errors.IsCode(err, errors.ErrCodeOverloaded) {
		t.Fatalf("err = %v, want overloaded", err)
	}

	want := []types.WorkloadClass{types.ClassBackground, types.ClassUtility}
	if len(rejections) != 2 || rejections[0] != want[0] || rejections[1] != want[1] {
		t.Errorf("rejections = %v, want %v", rejections, want)
	}
}

func TestFuture_Record(t *testing.T) {
	s := singleWorker(t, 16)

	future, err := s.Submit(context.Background(), types.ClassInitiated, 7, time.Minute,
		func(ctx context.Context) (interface{}, error) {
			return nil, nil
		})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := future.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	rec := future.Record()
	if rec.ID != future.ID() {
		t.Errorf("ID = %d, want %d", rec.ID, future.ID())
	}
	if rec.Class != types.ClassInitiated || rec.Priority != 7 {
		t.Errorf("record = %+v, want class initiated priority 7", rec)
	}
	if rec.Status != types.TaskCompleted {
		t.Errorf("status = %v, want completed", rec.Status)
	}
	if rec.Deadline.IsZero() {
		t.Error("deadline not set for a task with a timeout")
	}

	noTimeout, _ := s.Submit(context.Background(), types.ClassInitiated, 0, 0,
		func(ctx context.Context) (interface{}, error) {
			return nil, nil
		})
	noTimeout.Wait(context.Background())
	if !noTimeout.Record().Deadline.IsZero() {
		t.Error("deadline set for a task without a timeout")
	}
}

func TestScheduler_TaskError(t *testing.T) {
	s := singleWorker(t, 16)

	boom := fmt.Errorf("boom")
	future, _ := s.Submit(context.Background(), types.ClassUtility, 0, 0,
		func(ctx context.Context) (interface{}, error) {
			return nil, boom
		})

	_, err := future.Wait(context.Background())
	if err == nil || err.Error() != "boom" {
		t.Errorf("err = %v, want boom", err)
	}
	if future.Status() != types.TaskFailed {
		t.Errorf("status = %v, want failed", future.Status())
	}
}

func TestScheduler_PriorityOrder(t *testing.T) {
	s := singleWorker(t, 16)

	// Occupy the single worker so subsequent submissions queue up.
	gate := make(chan struct{})
	blocker, _ := s.Submit(context.Background(), types.ClassBackground, 0, 0,
		func(ctx context.Context) (interface{}, error) {
			<-gate
			return nil, nil
		})

	var mu sync.Mutex
	var order []string
	record := func(name string) TaskFunc {
		return func(ctx context.Context) (interface{}, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}

	fLow, _ := s.Submit(context.Background(), types.ClassBackground, 1, 0, record("low"))
	fHigh, _ := s.Submit(context.Background(), types.ClassBackground, 10, 0, record("high"))
	fMid, _ := s.Submit(context.Background(), types.ClassBackground, 5, 0, record("mid"))

	close(gate)
	for _, f := range []*Future{blocker, fLow, fHigh, fMid} {
		if _, err := f.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}

	want := []string{"high", "mid", "low"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", order, want)
		}
	}
}

func TestScheduler_FIFOWithinPriority(t *testing.T) {
	s := singleWorker(t, 16)

	gate := make(chan struct{})
	blocker, _ := s.Submit(context.Background(), types.ClassBackground, 0, 0,
		func(ctx context.Context) (interface{}, error) {
			<-gate
			return nil, nil
		})

	var mu sync.Mutex
	var order []int
	futures := []*Future{blocker}
	for i := 0; i < 5; i++ {
		i := i
		f, _ := s.Submit(context.Background(), types.ClassBackground, 7, 0,
			func(ctx context.Context) (interface{}, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			})
		futures = append(futures, f)
	}

	close(gate)
	for _, f := range futures {
		f.Wait(context.Background())
	}

	for i := 0; i < 5; i++ {
		if order[i] != i {
			t.Fatalf("equal-priority order = %v, want submission order", order)
		}
	}
}

func TestScheduler_QueueFull(t *testing.T) {
	s := singleWorker(t, 1)

	gate := make(chan struct{})
	defer close(gate)
	s.Submit(context.Background(), types.ClassBackground, 0, 0,
		func(ctx context.Context) (interface{}, error) {
			<-gate
			return nil, nil
		})

	// Worker busy; one slot in the queue.
	if _, err := s.Submit(context.Background(), types.ClassBackground, 0, 0,
		func(ctx context.Context) (interface{}, error) { return nil, nil }); err != nil {
		t.Fatalf("queueing submit should succeed: %v", err)
	}

	_, err := s.Submit(context.Background(), types.ClassBackground, 0, 0,
		func(ctx context.Context) (interface{}, error) { return nil, nil })
	if !errors.IsCode(err, errors.ErrCodeOverloaded) {
		t.Errorf("err = %v, want SCHED_OVERLOADED", err)
	}

	stats := s.Stats()
	if stats.Classes[types.ClassBackground.String()].Rejected != 1 {
		t.Errorf("rejected = %d, want 1", stats.Classes[types.ClassBackground.String()].Rejected)
	}
}

func TestScheduler_Timeout(t *testing.T) {
	s := singleWorker(t, 16)

	started := time.Now()
	future, _ := s.Submit(context.Background(), types.ClassInteractive, 0, 30*time.Millisecond,
		func(ctx context.Context) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	_, err := future.Wait(context.Background())
	if !errors.IsCode(err, errors.ErrCodeTaskTimeout) {
		t.Fatalf("err = %v, want SCHED_TASK_TIMEOUT", err)
	}
	if future.Status() != types.TaskTimedOut {
		t.Errorf("status = %v, want timed out", future.Status())
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Errorf("timeout took %v, expected prompt resolution", elapsed)
	}
}

func TestScheduler_TimeoutNonCooperativeTask(t *testing.T) {
	s := singleWorker(t, 16)

	release := make(chan struct{})
	defer close(release)
	future, _ := s.Submit(context.Background(), types.ClassUtility, 0, 20*time.Millisecond,
		func(ctx context.Context) (interface{}, error) {
			<-release // ignores ctx entirely
			return nil, nil
		})

	// The future must resolve even though the task never observes ctx.
	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := future.Wait(waitCtx)
	if !errors.IsCode(err, errors.ErrCodeTaskTimeout) {
		t.Errorf("err = %v, want SCHED_TASK_TIMEOUT", err)
	}
}

func TestScheduler_ContextCancelBeforeStart(t *testing.T) {
	s := singleWorker(t, 16)

	gate := make(chan struct{})
	s.Submit(context.Background(), types.ClassBackground, 0, 0,
		func(ctx context.Context) (interface{}, error) {
			<-gate
			return nil, nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	future, _ := s.Submit(ctx, types.ClassBackground, 0, 0,
		func(ctx context.Context) (interface{}, error) {
			t.Error("cancelled task must not run")
			return nil, nil
		})
	cancel()
	close(gate)

	_, err := future.Wait(context.Background())
	if !errors.IsCode(err, errors.ErrCodeTaskCanceled) {
		t.Errorf("err = %v, want SCHED_TASK_CANCELED", err)
	}
	if future.Status() != types.TaskCancelled {
		t.Errorf("status = %v, want cancelled", future.Status())
	}
}

func TestScheduler_EmergencyAdmission(t *testing.T) {
	s := singleWorker(t, 16)
	s.SetAdmissionLevel(types.PressureEmergency)

	noop := func(ctx context.Context) (interface{}, error) { return nil, nil }

	for _, class := range []types.WorkloadClass{types.ClassBackground, types.ClassUtility} {
		if _, err := s.Submit(context.Background(), class, 0, 0, noop); !errors.IsCode(err, errors.ErrCodeOverloaded) {
			t.Errorf("%s: err = %v, want rejection under emergency", class, err)
		}
	}
	for _, class := range []types.WorkloadClass{types.ClassInteractive, types.ClassInitiated} {
		future, err := s.Submit(context.Background(), class, 0, 0, noop)
		if err != nil {
			t.Errorf("%s: submit rejected: %v", class, err)
			continue
		}
		future.Wait(context.Background())
	}

	// Pressure receding reopens admission.
	s.SetAdmissionLevel(types.PressureWarning)
	if _, err := s.Submit(context.Background(), types.ClassBackground, 0, 0, noop); err != nil {
		t.Errorf("submit after recovery: %v", err)
	}
}

func TestScheduler_CancelQueued(t *testing.T) {
	s := singleWorker(t, 16)

	gate := make(chan struct{})
	defer close(gate)
	s.Submit(context.Background(), types.ClassBackground, 0, 0,
		func(ctx context.Context) (interface{}, error) {
			<-gate
			return nil, nil
		})

	var queued []*Future
	for i := 0; i < 3; i++ {
		f, _ := s.Submit(context.Background(), types.ClassBackground, 0, 0,
			func(ctx context.Context) (interface{}, error) { return nil, nil })
		queued = append(queued, f)
	}

	interactive, _ := s.Submit(context.Background(), types.ClassInteractive, 0, 0,
		func(ctx context.Context) (interface{}, error) { return "ok", nil })

	n := s.CancelQueued(types.ClassBackground, types.ClassUtility)
	if n != 3 {
		t.Errorf("cancelled = %d, want 3", n)
	}
	for _, f := range queued {
		if _, err := f.Wait(context.Background()); !errors.IsCode(err, errors.ErrCodeTaskCanceled) {
			t.Errorf("queued future err = %v, want cancellation", err)
		}
	}

	// Other classes keep working.
	if result, err := interactive.Wait(context.Background()); err != nil || result.(string) != "ok" {
		t.Errorf("interactive task = %v, %v; want ok, nil", result, err)
	}
}

func TestScheduler_ClassIsolation(t *testing.T) {
	s := singleWorker(t, 64)

	// Saturate background with slow tasks.
	release := make(chan struct{})
	defer close(release)
	for i := 0; i < 10; i++ {
		s.Submit(context.Background(), types.ClassBackground, 0, 0,
			func(ctx context.Context) (interface{}, error) {
				<-release
				return nil, nil
			})
	}

	// Interactive work must still complete promptly.
	future, err := s.Submit(context.Background(), types.ClassInteractive, 0, 0,
		func(ctx context.Context) (interface{}, error) { return "fast", nil })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := future.Wait(waitCtx)
	if err != nil {
		t.Fatalf("interactive task starved: %v", err)
	}
	if result.(string) != "fast" {
		t.Errorf("result = %v, want fast", result)
	}
}

func TestScheduler_TaskIDInContext(t *testing.T) {
	s := singleWorker(t, 16)

	future, _ := s.Submit(context.Background(), types.ClassInteractive, 0, 0,
		func(ctx context.Context) (interface{}, error) {
			id, ok := TaskIDFromContext(ctx)
			if !ok {
				return nil, fmt.Errorf("no task id in context")
			}
			return id, nil
		})

	result, err := future.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result.(uint64) != future.ID() {
		t.Errorf("ctx task id = %v, future id = %v", result, future.ID())
	}
}

func TestScheduler_TaskPanicFails(t *testing.T) {
	s := singleWorker(t, 16)

	future, _ := s.Submit(context.Background(), types.ClassUtility, 0, 0,
		func(ctx context.Context) (interface{}, error) {
			panic("kaboom")
		})

	_, err := future.Wait(context.Background())
	if !errors.IsCode(err, errors.ErrCodeInternalError) {
		t.Errorf("err = %v, want internal error from panic", err)
	}

	// The worker must survive the panic.
	next, _ := s.Submit(context.Background(), types.ClassUtility, 0, 0,
		func(ctx context.Context) (interface{}, error) { return "alive", nil })
	if result, err := next.Wait(context.Background()); err != nil || result.(string) != "alive" {
		t.Errorf("worker did not survive panic: %v, %v", result, err)
	}
}

func TestScheduler_SubmitAfterStop(t *testing.T) {
	s, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	s.Stop()

	_, err = s.Submit(context.Background(), types.ClassInteractive, 0, 0,
		func(ctx context.Context) (interface{}, error) { return nil, nil })
	if !errors.IsCode(err, errors.ErrCodeNotStarted) {
		t.Errorf("err = %v, want not-started", err)
	}
}

func TestScheduler_StopCancelsQueued(t *testing.T) {
	s, err := New(Config{Classes: map[types.WorkloadClass]ClassConfig{
		types.ClassBackground: {Workers: 1, QueueCapacity: 16},
	}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()

	gate := make(chan struct{})
	s.Submit(context.Background(), types.ClassBackground, 0, 0,
		func(ctx context.Context) (interface{}, error) {
			<-gate
			return nil, nil
		})
	queued, _ := s.Submit(context.Background(), types.ClassBackground, 0, 0,
		func(ctx context.Context) (interface{}, error) { return nil, nil })

	close(gate)
	s.Stop()

	if status := queued.Status(); status != types.TaskCancelled && status != types.TaskCompleted {
		t.Errorf("queued task status after Stop = %v", status)
	}
}

func TestScheduler_Stats(t *testing.T) {
	s := singleWorker(t, 16)

	for i := 0; i < 3; i++ {
		f, _ := s.Submit(context.Background(), types.ClassInteractive, 0, 0,
			func(ctx context.Context) (interface{}, error) { return nil, nil })
		f.Wait(context.Background())
	}
	f, _ := s.Submit(context.Background(), types.ClassInteractive, 0, 0,
		func(ctx context.Context) (interface{}, error) { return nil, fmt.Errorf("x") })
	f.Wait(context.Background())

	cs := s.Stats().Classes[types.ClassInteractive.String()]
	if cs.Submitted != 4 || cs.Completed != 3 || cs.Failed != 1 {
		t.Errorf("stats = %+v, want submitted 4, completed 3, failed 1", cs)
	}
}
