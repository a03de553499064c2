package pressure

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescoord/rescoord/pkg/errors"
	"github.com/rescoord/rescoord/pkg/types"
	"github.com/rescoord/rescoord/pkg/utils"
)

// MonitorConfig configures pressure monitoring behavior
type MonitorConfig struct {
	// SampleInterval is how often usage is sampled
	SampleInterval time.Duration

	// Sampler supplies (used, total). Defaults to RuntimeSampler.
	Sampler types.UsageSampler

	// Logger for level transitions
	Logger *utils.StructuredLogger
}

// DefaultMonitorConfig returns sensible defaults
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SampleInterval: 5 * time.Second,
	}
}

// Monitor periodically samples memory usage, classifies it into a
// pressure level, and pushes level-change events to subscribers.
type Monitor struct {
	config  MonitorConfig
	sampler types.UsageSampler
	logger  *utils.StructuredLogger

	mu        sync.RWMutex
	level     types.PressureLevel
	ratio     float64
	callbacks []func(types.PressureChange)

	stopCh chan struct{}
	wg     sync.WaitGroup
	active int32
}

// NewMonitor creates a pressure monitor. It does not start sampling
// until Start is called.
func NewMonitor(config MonitorConfig) *Monitor {
	if config.SampleInterval <= 0 {
		config.SampleInterval = 5 * time.Second
	}
	if config.Sampler == nil {
		config.Sampler = &RuntimeSampler{}
	}
	if config.Logger == nil {
		config.Logger = utils.NewStructuredLogger(utils.DefaultStructuredLoggerConfig())
	}

	return &Monitor{
		config:  config,
		sampler: config.Sampler,
		logger:  config.Logger.WithComponent("pressure"),
		level:   types.PressureNormal,
		stopCh:  make(chan struct{}),
	}
}

// Subscribe registers a callback invoked on every level change. Must be
// called before Start; callbacks run on the monitor's timer goroutine
// and should return quickly.
func (m *Monitor) Subscribe(fn func(types.PressureChange)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Start begins the sampling loop
func (m *Monitor) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&m.active, 0, 1) {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "pressure monitor already running").
			WithComponent("pressure")
	}

	m.logger.Info("Starting pressure monitor", map[string]interface{}{
		"sample_interval": m.config.SampleInterval,
	})

	m.wg.Add(1)
	go m.monitorLoop(ctx)

	return nil
}

// Stop stops the sampling loop
func (m *Monitor) Stop() {
	if !atomic.CompareAndSwapInt32(&m.active, 1, 0) {
		return // Already stopped
	}

	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) monitorLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SampleInterval)
	defer ticker.Stop()

	// Establish the initial level before the first tick.
	m.Sample()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

// Sample takes one usage sample, updates the level, and notifies
// subscribers if the level changed. Exposed so tests and callers can
// force an immediate re-check.
func (m *Monitor) Sample() types.PressureLevel {
	used, total := m.sampler.Sample()

	ratio := 0.0
	if total > 0 {
		ratio = float64(used) / float64(total)
	}
	newLevel := ClassifyRatio(ratio)

	m.mu.Lock()
	oldLevel := m.level
	m.level = newLevel
	m.ratio = ratio
	var callbacks []func(types.PressureChange)
	if newLevel != oldLevel {
		callbacks = append(callbacks, m.callbacks...)
	}
	m.mu.Unlock()

	if newLevel != oldLevel {
		change := types.PressureChange{
			From:  oldLevel,
			To:    newLevel,
			Ratio: ratio,
			At:    time.Now(),
		}

		m.logger.Info("Pressure level changed", map[string]interface{}{
			"from":  oldLevel.String(),
			"to":    newLevel.String(),
			"ratio": ratio,
		})

		for _, fn := range callbacks {
			fn(change)
		}
	}

	return newLevel
}

// Level returns the most recently classified pressure level
func (m *Monitor) Level() types.PressureLevel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// Ratio returns the most recently sampled usage ratio
func (m *Monitor) Ratio() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ratio
}
