// Package pressure samples process memory usage and classifies it into
// coarse pressure levels for the resource coordinator.
package pressure

import (
	"runtime"

	"github.com/rescoord/rescoord/pkg/types"
)

// Classification thresholds over the used/total ratio. Level is a pure
// function of the ratio at a single sample; there is no hysteresis, and
// downgrades trigger no proactive regrowth elsewhere.
const (
	WarningRatio   = 0.6
	CriticalRatio  = 0.8
	EmergencyRatio = 0.9
)

// Classify maps a usage ratio to a pressure level. It is monotonic
// non-decreasing in the ratio.
func Classify(used, total uint64) types.PressureLevel {
	if total == 0 {
		return types.PressureNormal
	}
	return ClassifyRatio(float64(used) / float64(total))
}

// ClassifyRatio classifies a precomputed ratio.
func ClassifyRatio(ratio float64) types.PressureLevel {
	switch {
	case ratio >= EmergencyRatio:
		return types.PressureEmergency
	case ratio >= CriticalRatio:
		return types.PressureCritical
	case ratio >= WarningRatio:
		return types.PressureWarning
	default:
		return types.PressureNormal
	}
}

// RuntimeSampler reads the Go runtime's memory accounting. When
// TotalBytes is set it is used as the denominator (hosts that know the
// real process budget, e.g. a cgroup limit, should set it); otherwise
// the bytes obtained from the OS are used.
type RuntimeSampler struct {
	TotalBytes uint64
}

// Sample implements types.UsageSampler.
func (s *RuntimeSampler) Sample() (used, total uint64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	total = s.TotalBytes
	if total == 0 {
		total = m.Sys
	}
	return m.HeapAlloc, total
}
