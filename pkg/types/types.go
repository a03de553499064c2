package types

import (
	"time"
)

// PressureLevel classifies how close the process is to exhausting
// available memory. Levels are totally ordered: Normal < Warning <
// Critical < Emergency.
type PressureLevel int

const (
	PressureNormal PressureLevel = iota
	PressureWarning
	PressureCritical
	PressureEmergency
)

// String returns the string representation of the pressure level
func (l PressureLevel) String() string {
	switch l {
	case PressureNormal:
		return "normal"
	case PressureWarning:
		return "warning"
	case PressureCritical:
		return "critical"
	case PressureEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// WorkloadClass identifies one of the scheduler's bounded executor classes
type WorkloadClass int

const (
	ClassInteractive WorkloadClass = iota
	ClassInitiated
	ClassUtility
	ClassBackground
)

// String returns the string representation of the workload class
func (c WorkloadClass) String() string {
	switch c {
	case ClassInteractive:
		return "interactive"
	case ClassInitiated:
		return "initiated"
	case ClassUtility:
		return "utility"
	case ClassBackground:
		return "background"
	default:
		return "unknown"
	}
}

// AllClasses lists every workload class in declaration order
func AllClasses() []WorkloadClass {
	return []WorkloadClass{ClassInteractive, ClassInitiated, ClassUtility, ClassBackground}
}

// TaskStatus represents the lifecycle state of a scheduled task
type TaskStatus int

const (
	TaskQueued TaskStatus = iota
	TaskRunning
	TaskCompleted
	TaskFailed
	TaskCancelled
	TaskTimedOut
)

// String returns the string representation of the task status
func (s TaskStatus) String() string {
	switch s {
	case TaskQueued:
		return "queued"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	case TaskTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Severity grades advisory diagnostics (deadlock findings, leak reports)
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// CacheStats represents per-tier cache performance statistics
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Entries     int     `json:"entries"`
	Capacity    int     `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// PoolStats represents object pool statistics
type PoolStats struct {
	Available int    `json:"available"`
	InUse     int    `json:"in_use"`
	MaxSize   int    `json:"max_size"`
	Created   uint64 `json:"created"`
	Reused    uint64 `json:"reused"`
	Dropped   uint64 `json:"dropped"`
}

// ClassStats tracks submission outcomes for one workload class
type ClassStats struct {
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Cancelled uint64 `json:"cancelled"`
	TimedOut  uint64 `json:"timed_out"`
	Rejected  uint64 `json:"rejected"`
	Queued    int    `json:"queued"`
	Running   int    `json:"running"`
}

// TaskRecord is a point-in-time view of one scheduled task
type TaskRecord struct {
	ID          uint64        `json:"id"`
	Class       WorkloadClass `json:"class"`
	Priority    int           `json:"priority"`
	Status      TaskStatus    `json:"status"`
	SubmittedAt time.Time     `json:"submitted_at"`
	Deadline    time.Time     `json:"deadline,omitempty"`
}

// SchedulerStats aggregates per-class statistics
type SchedulerStats struct {
	Classes map[string]ClassStats `json:"classes"`
}

// PressureChange is published on every pressure level transition
type PressureChange struct {
	From  PressureLevel `json:"from"`
	To    PressureLevel `json:"to"`
	Ratio float64       `json:"ratio"`
	At    time.Time     `json:"at"`
}

// DeadlockEvent is an advisory finding from the deadlock detector.
// It surfaces the cycle; it does not break it.
type DeadlockEvent struct {
	Description   string    `json:"description"`
	InvolvedTasks []uint64  `json:"involved_tasks"`
	Severity      Severity  `json:"severity"`
	DetectedAt    time.Time `json:"detected_at"`
}

// LeakReport is a heuristic signal that tracked objects disappeared
// without passing through release or invalidate.
type LeakReport struct {
	Kind     string    `json:"kind"`
	Count    int       `json:"count"`
	Severity Severity  `json:"severity"`
	SweptAt  time.Time `json:"swept_at"`
}

// MetricsSnapshot is the point-in-time view handed to telemetry sinks.
// The core produces it; it never formats or transmits it anywhere.
type MetricsSnapshot struct {
	Timestamp     time.Time             `json:"timestamp"`
	PressureLevel PressureLevel         `json:"pressure_level"`
	UsageRatio    float64               `json:"usage_ratio"`
	Tiers         map[string]CacheStats `json:"tiers"`
	Pools         map[string]PoolStats  `json:"pools"`
	Scheduler     SchedulerStats        `json:"scheduler"`
	Deadlocks     uint64                `json:"deadlocks"`
	Leaks         uint64                `json:"leaks"`
}
