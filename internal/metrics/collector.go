package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rescoord/rescoord/pkg/types"
)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "rescoord",
	}
}

// Collector exports coordinator metrics through a Prometheus registry
// and an optional scrape endpoint. When disabled every recording call
// is a no-op.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	cacheRequests  *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	tierEntries    *prometheus.GaugeVec
	tierHitRate    *prometheus.GaugeVec

	poolAvailable *prometheus.GaugeVec
	poolInUse     *prometheus.GaugeVec

	pressureLevel prometheus.Gauge
	usageRatio    prometheus.Gauge

	tasksFinished *prometheus.CounterVec
	tasksRejected *prometheus.CounterVec
	queueLatency  *prometheus.HistogramVec
	queueDepth    *prometheus.GaugeVec

	deadlocksDetected prometheus.Counter
	leaksDetected     *prometheus.CounterVec

	server *http.Server
}

// NewCollector creates a metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	registry := prometheus.NewRegistry()
	c := &Collector{config: config, registry: registry}
	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return c, nil
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace

	c.cacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "cache_requests_total",
		Help:      "Cache lookups by tier and result",
	}, []string{"tier", "result"})

	c.cacheEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "cache_evictions_total",
		Help:      "Entries evicted by tier",
	}, []string{"tier"})

	c.tierEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "cache_tier_entries",
		Help:      "Resident entries per tier",
	}, []string{"tier"})

	c.tierHitRate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "cache_tier_hit_rate",
		Help:      "Cumulative hit rate per tier",
	}, []string{"tier"})

	c.poolAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "pool_available",
		Help:      "Idle objects per pool",
	}, []string{"pool"})

	c.poolInUse = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "pool_in_use",
		Help:      "Outstanding objects per pool",
	}, []string{"pool"})

	c.pressureLevel = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "pressure_level",
		Help:      "Current memory pressure level (0 normal .. 3 emergency)",
	})

	c.usageRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "memory_usage_ratio",
		Help:      "Last sampled used/total memory ratio",
	})

	c.tasksFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "tasks_finished_total",
		Help:      "Terminal task transitions by class and status",
	}, []string{"class", "status"})

	c.tasksRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "tasks_rejected_total",
		Help:      "Submissions rejected by class",
	}, []string{"class"})

	c.queueLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "task_queue_latency_seconds",
		Help:      "Time tasks spent queued before starting",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"class"})

	c.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "task_queue_depth",
		Help:      "Queued tasks per class",
	}, []string{"class"})

	c.deadlocksDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "deadlocks_detected_total",
		Help:      "Advisory wait cycles detected",
	})

	c.leaksDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "leaks_detected_total",
		Help:      "Objects collected without release, by kind",
	}, []string{"kind"})
}

func (c *Collector) registerMetrics() error {
	collectors := []prometheus.Collector{
		c.cacheRequests, c.cacheEvictions, c.tierEntries, c.tierHitRate,
		c.poolAvailable, c.poolInUse,
		c.pressureLevel, c.usageRatio,
		c.tasksFinished, c.tasksRejected, c.queueLatency, c.queueDepth,
		c.deadlocksDetected, c.leaksDetected,
	}
	for _, col := range collectors {
		if err := c.registry.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// Start serves the scrape endpoint. No-op when disabled.
func (c *Collector) Start() error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()
	return nil
}

// Stop shuts the scrape endpoint down
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// Registry exposes the underlying registry for embedding in an
// existing HTTP mux.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordCacheRequest records one lookup against a tier
func (c *Collector) RecordCacheRequest(tier string, hit bool) {
	if !c.config.Enabled {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheRequests.WithLabelValues(tier, result).Inc()
}

// RecordEviction records one eviction from a tier
func (c *Collector) RecordEviction(tier string) {
	if !c.config.Enabled {
		return
	}
	c.cacheEvictions.WithLabelValues(tier).Inc()
}

// RecordTaskFinished records a terminal task transition
func (c *Collector) RecordTaskFinished(class types.WorkloadClass, status types.TaskStatus, queueLatency time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.tasksFinished.WithLabelValues(class.String(), status.String()).Inc()
	c.queueLatency.WithLabelValues(class.String()).Observe(queueLatency.Seconds())
}

// RecordRejection records a refused submission
func (c *Collector) RecordRejection(class types.WorkloadClass) {
	if !c.config.Enabled {
		return
	}
	c.tasksRejected.WithLabelValues(class.String()).Inc()
}

// RecordDeadlock records one detected wait cycle
func (c *Collector) RecordDeadlock() {
	if !c.config.Enabled {
		return
	}
	c.deadlocksDetected.Inc()
}

// RecordLeaks records a sweep's findings for one kind
func (c *Collector) RecordLeaks(kind string, count int) {
	if !c.config.Enabled {
		return
	}
	c.leaksDetected.WithLabelValues(kind).Add(float64(count))
}

// UpdateSnapshot refreshes every gauge from a coordinator snapshot
func (c *Collector) UpdateSnapshot(snapshot types.MetricsSnapshot) {
	if !c.config.Enabled {
		return
	}

	c.pressureLevel.Set(float64(snapshot.PressureLevel))
	c.usageRatio.Set(snapshot.UsageRatio)

	for name, stats := range snapshot.Tiers {
		c.tierEntries.WithLabelValues(name).Set(float64(stats.Entries))
		c.tierHitRate.WithLabelValues(name).Set(stats.HitRate)
	}
	for name, stats := range snapshot.Pools {
		c.poolAvailable.WithLabelValues(name).Set(float64(stats.Available))
		c.poolInUse.WithLabelValues(name).Set(float64(stats.InUse))
	}
	for class, stats := range snapshot.Scheduler.Classes {
		c.queueDepth.WithLabelValues(class).Set(float64(stats.Queued))
	}
}
