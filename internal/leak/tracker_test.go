package leak

import (
	"runtime"
	"testing"
	"time"

	"github.com/rescoord/rescoord/pkg/types"
)

type payload struct {
	data [64]byte
}

func newTestTracker() *Tracker {
	return NewTracker(Config{SweepInterval: time.Hour})
}

func TestTracker_ReleasedObjectIsClean(t *testing.T) {
	tr := newTestTracker()

	obj := &payload{}
	handle := Track(tr, "buffer", obj)
	handle.Release()
	obj = nil
	runtime.GC()

	if reports := tr.Sweep(); len(reports) != 0 {
		t.Errorf("Sweep = %v, want no reports for released object", reports)
	}
	if tr.Tracked() != 0 {
		t.Errorf("Tracked = %d, want 0 after sweep", tr.Tracked())
	}
}

func TestTracker_DroppedObjectIsLeak(t *testing.T) {
	tr := newTestTracker()

	obj := &payload{}
	Track(tr, "buffer", obj)
	obj = nil

	// Two cycles so the weak pointer is reliably cleared.
	runtime.GC()
	runtime.GC()

	reports := tr.Sweep()
	if len(reports) != 1 {
		t.Fatalf("Sweep = %v, want one report", reports)
	}
	if reports[0].Kind != "buffer" || reports[0].Count != 1 {
		t.Errorf("report = %+v, want kind buffer count 1", reports[0])
	}
	if tr.Leaked() != 1 {
		t.Errorf("Leaked = %d, want 1", tr.Leaked())
	}
}

func TestTracker_LiveObjectNotReported(t *testing.T) {
	tr := newTestTracker()

	obj := &payload{}
	Track(tr, "buffer", obj)
	runtime.GC()

	if reports := tr.Sweep(); len(reports) != 0 {
		t.Errorf("Sweep = %v, want no reports while object is reachable", reports)
	}
	if tr.Tracked() != 1 {
		t.Errorf("Tracked = %d, want 1", tr.Tracked())
	}
	runtime.KeepAlive(obj)
}

func TestTracker_LeaksGroupedByKind(t *testing.T) {
	tr := newTestTracker()

	for i := 0; i < 3; i++ {
		Track(tr, "conn", &payload{})
	}
	Track(tr, "buffer", &payload{})
	runtime.GC()
	runtime.GC()

	reports := tr.Sweep()
	counts := make(map[string]int)
	for _, r := range reports {
		counts[r.Kind] = r.Count
	}
	if counts["conn"] != 3 || counts["buffer"] != 1 {
		t.Errorf("counts = %v, want conn 3, buffer 1", counts)
	}
}

func TestTracker_Subscriber(t *testing.T) {
	tr := newTestTracker()

	var got []types.LeakReport
	tr.Subscribe(func(r types.LeakReport) {
		got = append(got, r)
	})

	Track(tr, "buffer", &payload{})
	runtime.GC()
	runtime.GC()
	tr.Sweep()

	if len(got) != 1 {
		t.Fatalf("subscriber saw %d reports, want 1", len(got))
	}
}

func TestLeakSeverity(t *testing.T) {
	tests := []struct {
		count int
		want  types.Severity
	}{
		{1, types.SeverityInfo},
		{9, types.SeverityInfo},
		{10, types.SeverityWarning},
		{99, types.SeverityWarning},
		{100, types.SeverityCritical},
	}
	for _, tt := range tests {
		if got := leakSeverity(tt.count); got != tt.want {
			t.Errorf("leakSeverity(%d) = %v, want %v", tt.count, got, tt.want)
		}
	}
}

func TestTracker_StartStop(t *testing.T) {
	tr := NewTracker(Config{SweepInterval: 10 * time.Millisecond})
	tr.Start()
	tr.Start()
	time.Sleep(30 * time.Millisecond)
	tr.Stop()
	tr.Stop()
}
