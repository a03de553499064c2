package coordinator

import (
	"context"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"
	"weak"

	"github.com/rescoord/rescoord/internal/cache"
	"github.com/rescoord/rescoord/internal/config"
	"github.com/rescoord/rescoord/internal/leak"
	"github.com/rescoord/rescoord/internal/metrics"
	"github.com/rescoord/rescoord/internal/scheduler"
	"github.com/rescoord/rescoord/pkg/errors"
	"github.com/rescoord/rescoord/pkg/pool"
	"github.com/rescoord/rescoord/pkg/pressure"
	"github.com/rescoord/rescoord/pkg/retry"
	"github.com/rescoord/rescoord/pkg/types"
	"github.com/rescoord/rescoord/pkg/utils"
)

// managedPool is the policy-facing view of a registered pool. The
// typed API stays on *pool.Pool[T]; the coordinator only needs the
// shrink-and-grow knobs.
type managedPool interface {
	Compress()
	SetMaxSize(int)
	MaxSize() int
	Stats() types.PoolStats
}

type poolEntry struct {
	pool     managedPool
	baseline int // configured max size, restored on recovery
}

// Coordinator owns the cache hierarchy, the registered object pools,
// the task scheduler and the pressure monitor, and translates pressure
// transitions into staged responses across all of them.
type Coordinator struct {
	config *config.Configuration
	logger *utils.StructuredLogger

	hierarchy *cache.Hierarchy
	scheduler *scheduler.Scheduler
	monitor   *pressure.Monitor
	tracker   *leak.Tracker
	collector *metrics.Collector

	mu    sync.RWMutex
	pools map[string]*poolEntry

	// cacheHandles maps keys stored through PutTracked to their leak
	// handles, released when the key leaves every tier.
	cacheHandles map[string]*leak.Handle

	sink types.TelemetrySink

	snapshotStop chan struct{}
	snapshotWG   sync.WaitGroup
	started      bool
	stopped      bool
}

// Option customizes coordinator construction
type Option func(*options)

type options struct {
	logger  *utils.StructuredLogger
	sampler types.UsageSampler
	sink    types.TelemetrySink
}

// WithLogger sets the logger
func WithLogger(logger *utils.StructuredLogger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSampler overrides the memory usage sampler
func WithSampler(sampler types.UsageSampler) Option {
	return func(o *options) { o.sampler = sampler }
}

// WithTelemetrySink registers a sink receiving periodic snapshots
func WithTelemetrySink(sink types.TelemetrySink) Option {
	return func(o *options) { o.sink = sink }
}

// New builds a coordinator from configuration. Nothing runs until
// Start.
func New(cfg *config.Configuration, opts ...Option) (*Coordinator, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewError(errors.ErrCodeConfigValidation, err.Error()).
			WithComponent("coordinator")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		level, err := utils.ParseLogLevel(cfg.Global.LogLevel)
		if err != nil {
			level = utils.INFO
		}
		format := utils.FormatText
		if strings.EqualFold(cfg.Global.LogFormat, "json") {
			format = utils.FormatJSON
		}
		logger = utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
			Level:  level,
			Output: os.Stdout,
			Format: format,
		})
	}

	hierarchy, err := cache.NewHierarchy(cache.HierarchyConfig{
		Fast:   tierConfig("fast", cfg.Cache.Fast),
		Medium: tierConfig("medium", cfg.Cache.Medium),
		Slow:   tierConfig("slow", cfg.Cache.Slow),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	sched, err := scheduler.New(scheduler.Config{
		Classes: map[types.WorkloadClass]scheduler.ClassConfig{
			types.ClassInteractive: classConfig(cfg.Scheduler.Interactive),
			types.ClassInitiated:   classConfig(cfg.Scheduler.Initiated),
			types.ClassUtility:     classConfig(cfg.Scheduler.Utility),
			types.ClassBackground:  classConfig(cfg.Scheduler.Background),
		},
		Logger:               logger,
		DetectorScanInterval: cfg.Advisory.DeadlockScanInterval,
	})
	if err != nil {
		return nil, err
	}

	sampler := o.sampler
	if sampler == nil {
		sampler = &pressure.RuntimeSampler{TotalBytes: cfg.Pressure.TotalBytes}
	}
	monitor := pressure.NewMonitor(pressure.MonitorConfig{
		SampleInterval: cfg.Pressure.SampleInterval,
		Sampler:        sampler,
		Logger:         logger,
	})

	tracker := leak.NewTracker(leak.Config{
		SweepInterval: cfg.Advisory.LeakSweepInterval,
		Logger:        logger,
	})

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Port:      cfg.Metrics.Port,
		Path:      cfg.Metrics.Path,
		Namespace: "rescoord",
	})
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		config:       cfg,
		logger:       logger.WithComponent("coordinator"),
		hierarchy:    hierarchy,
		scheduler:    sched,
		monitor:      monitor,
		tracker:      tracker,
		collector:    collector,
		pools:        make(map[string]*poolEntry),
		cacheHandles: make(map[string]*leak.Handle),
		sink:         o.sink,
	}

	monitor.Subscribe(c.onPressureChange)
	sched.Detector().Subscribe(func(types.DeadlockEvent) {
		collector.RecordDeadlock()
	})
	tracker.Subscribe(func(report types.LeakReport) {
		collector.RecordLeaks(report.Kind, report.Count)
	})
	sched.SetOnTaskDone(collector.RecordTaskFinished)
	sched.SetOnTaskRejected(collector.RecordRejection)
	for _, tier := range hierarchy.Tiers() {
		tier.SetOnRemove(c.onTierRemove(tier.Name()))
	}

	return c, nil
}

// onTierRemove builds the removal observer for one tier. Evictions
// feed the metrics collector; once a key is gone from every tier its
// leak handle is released, so only entries dropped outside the
// hierarchy's control ever surface in a sweep.
func (c *Coordinator) onTierRemove(tierName string) func(string, interface{}, bool) {
	return func(key string, value interface{}, evicted bool) {
		if evicted {
			c.collector.RecordEviction(tierName)
		}
		if c.hierarchy.Contains(key) {
			return
		}
		c.mu.Lock()
		if handle, ok := c.cacheHandles[key]; ok {
			handle.Release()
			delete(c.cacheHandles, key)
		}
		c.mu.Unlock()
	}
}

func tierConfig(name string, tc config.TierConfig) cache.TierConfig {
	return cache.TierConfig{
		Name:     name,
		Capacity: tc.Capacity,
		Policy:   cache.PolicyKind(strings.ToLower(tc.Policy)),
	}
}

func classConfig(cc config.ClassConfig) scheduler.ClassConfig {
	return scheduler.ClassConfig{Workers: cc.Workers, QueueCapacity: cc.QueueCapacity}
}

// Start launches all owned components
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.NewError(errors.ErrCodeAlreadyStarted, "coordinator already started").
			WithComponent("coordinator")
	}
	c.started = true
	c.snapshotStop = make(chan struct{})
	c.mu.Unlock()

	if err := c.scheduler.Start(); err != nil {
		return err
	}
	if err := c.monitor.Start(context.Background()); err != nil {
		return err
	}
	c.tracker.Start()
	if err := c.collector.Start(); err != nil {
		return err
	}

	c.snapshotWG.Add(1)
	go c.snapshotLoop()

	c.logger.Info("coordinator started", map[string]interface{}{
		"pools": len(c.pools),
	})
	return nil
}

// Stop halts all owned components. Safe to call more than once.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	close(c.snapshotStop)
	c.snapshotWG.Wait()

	c.monitor.Stop()
	c.scheduler.Stop()
	c.tracker.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.collector.Stop(ctx); err != nil {
		c.logger.Warn("metrics shutdown", map[string]interface{}{"error": err.Error()})
	}

	c.logger.Info("coordinator stopped")
}

func (c *Coordinator) snapshotLoop() {
	defer c.snapshotWG.Done()

	interval := c.config.Pressure.SampleInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snapshot := c.Snapshot()
			c.collector.UpdateSnapshot(snapshot)
			if c.sink != nil {
				c.sink.Push(snapshot)
			}
		case <-c.snapshotStop:
			return
		}
	}
}

// Get reads through the cache hierarchy
func (c *Coordinator) Get(key string) (interface{}, bool) {
	value, ok := c.hierarchy.Get(key)
	c.collector.RecordCacheRequest("hierarchy", ok)
	return value, ok
}

// Put stores a value in the cache hierarchy
func (c *Coordinator) Put(key string, value interface{}) error {
	return c.hierarchy.Put(key, value)
}

// Invalidate removes a key from every cache tier
func (c *Coordinator) Invalidate(key string) bool {
	return c.hierarchy.Invalidate(key)
}

// Cache exposes the hierarchy for direct tier access
func (c *Coordinator) Cache() *cache.Hierarchy {
	return c.hierarchy
}

// Scheduler exposes the task scheduler
func (c *Coordinator) Scheduler() *scheduler.Scheduler {
	return c.scheduler
}

// Monitor exposes the pressure monitor
func (c *Coordinator) Monitor() *pressure.Monitor {
	return c.monitor
}

// Tracker exposes the leak tracker
func (c *Coordinator) Tracker() *leak.Tracker {
	return c.tracker
}

// Collector exposes the metrics collector
func (c *Coordinator) Collector() *metrics.Collector {
	return c.collector
}

// PressureLevel reports the level classified at the last sample
func (c *Coordinator) PressureLevel() types.PressureLevel {
	return c.monitor.Level()
}

// SubscribePressure registers a callback for pressure level changes.
// Callbacks run on the monitor goroutine and must not block.
func (c *Coordinator) SubscribePressure(fn func(types.PressureChange)) {
	c.monitor.Subscribe(fn)
}

// SubscribeDeadlocks registers a callback for advisory deadlock events
func (c *Coordinator) SubscribeDeadlocks(fn func(types.DeadlockEvent)) {
	c.scheduler.Detector().Subscribe(fn)
}

// SubscribeLeaks registers a callback for leak sweep reports
func (c *Coordinator) SubscribeLeaks(fn func(types.LeakReport)) {
	c.tracker.Subscribe(fn)
}

// Submit schedules work under the given class
func (c *Coordinator) Submit(ctx context.Context, class types.WorkloadClass, priority int, timeout time.Duration, fn scheduler.TaskFunc) (*scheduler.Future, error) {
	return c.scheduler.Submit(ctx, class, priority, timeout, fn)
}

// Warm preloads keys into the cache through the utility class so
// warming never competes with interactive work. A submission rejected
// by a momentarily full queue is retried with backoff; a closed
// admission gate under Emergency exhausts the retries and aborts the
// remaining keys. Returns the futures; callers may wait on them or
// fire and forget.
func (c *Coordinator) Warm(ctx context.Context, keys []string, loader func(ctx context.Context, key string) (interface{}, error)) ([]*scheduler.Future, error) {
	retryer := retry.New(retry.Config{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		Jitter:       true,
	})

	futures := make([]*scheduler.Future, 0, len(keys))
	for _, key := range keys {
		key := key
		var future *scheduler.Future
		err := retryer.DoWithContext(ctx, func(ctx context.Context) error {
			var submitErr error
			future, submitErr = c.scheduler.Submit(ctx, types.ClassUtility, 0, 0,
				func(ctx context.Context) (interface{}, error) {
					value, err := loader(ctx, key)
					if err != nil {
						return nil, err
					}
					if err := c.hierarchy.Put(key, value); err != nil {
						return nil, err
					}
					return value, nil
				})
			return submitErr
		})
		if err != nil {
			return futures, err
		}
		futures = append(futures, future)
	}
	return futures, nil
}

// registerPool stores the type-erased pool under name
func (c *Coordinator) registerPool(name string, p managedPool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pools[name]; exists {
		return errors.NewError(errors.ErrCodeInvalidConfig, "pool already registered").
			WithComponent("coordinator").WithDetail("pool", name)
	}
	c.pools[name] = &poolEntry{pool: p, baseline: p.MaxSize()}
	return nil
}

func (c *Coordinator) lookupPool(name string) (managedPool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.pools[name]
	if !ok {
		return nil, false
	}
	return entry.pool, true
}

// configuredPoolSize returns the max size declared for name in the
// configuration's pools section.
func (c *Coordinator) configuredPoolSize(name string) (int, bool) {
	for _, pc := range c.config.Pools {
		if pc.Name == name {
			return pc.MaxSize, true
		}
	}
	return 0, false
}

// RegisterPool creates a pool from cfg and places it under the
// coordinator's management. The returned pool is the caller's typed
// handle; the coordinator keeps only the resize and compress knobs.
// A zero MaxSize takes the size declared for name in the
// configuration's pools section.
func RegisterPool[T any](c *Coordinator, name string, cfg pool.Config[T]) (*pool.Pool[T], error) {
	if cfg.MaxSize == 0 {
		if size, ok := c.configuredPoolSize(name); ok {
			cfg.MaxSize = size
		}
	}
	p := pool.New(cfg)
	if err := c.registerPool(name, p); err != nil {
		return nil, err
	}
	return p, nil
}

// RegisterTrackedPool registers a pool of pointer-shaped objects whose
// handouts feed the leak tracker. Every Acquire tracks the object
// under kind; a clean Release releases its handle, so an object
// dropped while checked out surfaces in a sweep once the collector
// reclaims it.
func RegisterTrackedPool[T any](c *Coordinator, name, kind string, cfg pool.Config[*T]) (*pool.Pool[*T], error) {
	if cfg.MaxSize == 0 {
		if size, ok := c.configuredPoolSize(name); ok {
			cfg.MaxSize = size
		}
	}

	// Handles are keyed by weak pointer so the bookkeeping never keeps
	// a handed-out object alive.
	var mu sync.Mutex
	handles := make(map[weak.Pointer[T]]*leak.Handle)
	maxStale := 2*cfg.MaxSize + 16

	userAcquire := cfg.OnAcquire
	userRelease := cfg.OnRelease
	cfg.OnAcquire = func(obj *T) {
		handle := leak.Track(c.tracker, kind, obj)
		mu.Lock()
		handles[weak.Make(obj)] = handle
		if len(handles) > maxStale {
			// Entries for reclaimed objects can no longer be looked
			// up; drop them to keep the map bounded.
			for wp := range handles {
				if wp.Value() == nil {
					delete(handles, wp)
				}
			}
		}
		mu.Unlock()
		if userAcquire != nil {
			userAcquire(obj)
		}
	}
	cfg.OnRelease = func(obj *T) {
		wp := weak.Make(obj)
		mu.Lock()
		if handle, ok := handles[wp]; ok {
			handle.Release()
			delete(handles, wp)
		}
		mu.Unlock()
		if userRelease != nil {
			userRelease(obj)
		}
	}

	p := pool.New(cfg)
	if err := c.registerPool(name, p); err != nil {
		return nil, err
	}
	return p, nil
}

// PutTracked stores the value like Put and registers it with the leak
// tracker under the "cache" kind. The handle is released once the key
// leaves every tier, through eviction, flush or invalidation.
func PutTracked[T any](c *Coordinator, key string, value *T) error {
	handle := leak.Track(c.tracker, "cache", value)

	c.mu.Lock()
	if old, ok := c.cacheHandles[key]; ok {
		old.Release()
	}
	c.cacheHandles[key] = handle
	c.mu.Unlock()

	if err := c.hierarchy.Put(key, value); err != nil {
		c.mu.Lock()
		delete(c.cacheHandles, key)
		c.mu.Unlock()
		handle.Release()
		return err
	}
	return nil
}

// LookupPool returns the typed pool registered under name. The second
// result is false when the name is unknown or T does not match the
// registered type.
func LookupPool[T any](c *Coordinator, name string) (*pool.Pool[T], bool) {
	p, ok := c.lookupPool(name)
	if !ok {
		return nil, false
	}
	typed, ok := p.(*pool.Pool[T])
	return typed, ok
}

// onPressureChange applies the staged response for a level increase.
// The stages compound: Critical includes Warning's response, Emergency
// includes both. Level decreases never re-run the responses, so a
// ratio oscillating across one boundary cannot churn the cache or the
// pools; a decrease only reopens admission, thaws eviction when
// Emergency ends and restores pool baselines back at Normal.
func (c *Coordinator) onPressureChange(change types.PressureChange) {
	c.logger.Warn("pressure transition", map[string]interface{}{
		"from":  change.From.String(),
		"to":    change.To.String(),
		"ratio": change.Ratio,
	})

	c.scheduler.SetAdmissionLevel(change.To)

	if change.To > change.From {
		switch change.To {
		case types.PressureWarning:
			c.respondWarning()
		case types.PressureCritical:
			c.respondWarning()
			c.respondCritical()
		case types.PressureEmergency:
			c.respondWarning()
			c.respondCritical()
			c.respondEmergency()
		}
		return
	}

	if change.To == types.PressureNormal {
		c.recover()
	}

	// Leaving Emergency re-enables eviction regardless of target level.
	if change.From == types.PressureEmergency {
		for _, tier := range c.hierarchy.Tiers() {
			tier.SetEvictionDisabled(false)
		}
	}
}

// respondWarning trims the cold end of the hierarchy and drops idle
// pooled objects.
func (c *Coordinator) respondWarning() {
	evicted := c.hierarchy.Tier(cache.TierSlow).EvictToFraction(0.5)

	c.mu.RLock()
	for _, entry := range c.pools {
		entry.pool.Compress()
	}
	c.mu.RUnlock()

	c.logger.Info("warning response applied", map[string]interface{}{
		"slow_evicted": evicted,
	})
}

// respondCritical cuts deep into the cache, halves pool ceilings and
// returns freed memory to the OS.
func (c *Coordinator) respondCritical() {
	medium := c.hierarchy.Tier(cache.TierMedium).EvictToFraction(0.25)
	slow := c.hierarchy.Tier(cache.TierSlow).EvictToFraction(0.1)

	c.mu.RLock()
	for _, entry := range c.pools {
		entry.pool.SetMaxSize(entry.pool.MaxSize() / 2)
	}
	c.mu.RUnlock()

	debug.FreeOSMemory()

	c.logger.Warn("critical response applied", map[string]interface{}{
		"medium_evicted": medium,
		"slow_evicted":   slow,
	})
}

// respondEmergency flushes the hierarchy, floors the pools and sheds
// every queued task that is not interactive or user-initiated. New
// caching stops: eviction is disabled so full tiers reject writes
// instead of churning.
func (c *Coordinator) respondEmergency() {
	flushed := c.hierarchy.Flush()
	for _, tier := range c.hierarchy.Tiers() {
		tier.SetEvictionDisabled(true)
	}

	c.mu.RLock()
	for _, entry := range c.pools {
		entry.pool.SetMaxSize(1)
	}
	c.mu.RUnlock()

	shed := c.scheduler.CancelQueued(types.ClassUtility, types.ClassBackground)
	debug.FreeOSMemory()

	c.logger.Error("emergency response applied", map[string]interface{}{
		"cache_flushed": flushed,
		"tasks_shed":    shed,
	})
}

// recover restores pool ceilings to their configured baselines
func (c *Coordinator) recover() {
	c.mu.RLock()
	for _, entry := range c.pools {
		entry.pool.SetMaxSize(entry.baseline)
	}
	c.mu.RUnlock()

	c.logger.Info("pressure recovered, baselines restored")
}

// Snapshot assembles a point-in-time view of every component
func (c *Coordinator) Snapshot() types.MetricsSnapshot {
	snapshot := types.MetricsSnapshot{
		Timestamp:     time.Now(),
		PressureLevel: c.monitor.Level(),
		UsageRatio:    c.monitor.Ratio(),
		Tiers:         c.hierarchy.Stats(),
		Pools:         make(map[string]types.PoolStats),
		Scheduler:     c.scheduler.Stats(),
		Deadlocks:     c.scheduler.Detector().Detected(),
		Leaks:         c.tracker.Leaked(),
	}

	c.mu.RLock()
	for name, entry := range c.pools {
		snapshot.Pools[name] = entry.pool.Stats()
	}
	c.mu.RUnlock()

	return snapshot
}
