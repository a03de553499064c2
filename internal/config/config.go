package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete coordinator configuration
type Configuration struct {
	Global    GlobalConfig    `yaml:"global"`
	Cache     CacheConfig     `yaml:"cache"`
	Pools     []PoolConfig    `yaml:"pools"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Pressure  PressureConfig  `yaml:"pressure"`
	Advisory  AdvisoryConfig  `yaml:"advisory"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// CacheConfig sizes the three cache tiers
type CacheConfig struct {
	Fast   TierConfig `yaml:"fast"`
	Medium TierConfig `yaml:"medium"`
	Slow   TierConfig `yaml:"slow"`
}

// TierConfig represents one cache tier
type TierConfig struct {
	Capacity int    `yaml:"capacity"`
	Policy   string `yaml:"policy"`
}

// PoolConfig declares one named object pool
type PoolConfig struct {
	Name    string `yaml:"name"`
	MaxSize int    `yaml:"max_size"`
}

// SchedulerConfig sizes the workload classes
type SchedulerConfig struct {
	Interactive ClassConfig `yaml:"interactive"`
	Initiated   ClassConfig `yaml:"initiated"`
	Utility     ClassConfig `yaml:"utility"`
	Background  ClassConfig `yaml:"background"`
}

// ClassConfig represents one workload class
type ClassConfig struct {
	Workers       int `yaml:"workers"`
	QueueCapacity int `yaml:"queue_capacity"`
}

// PressureConfig represents memory pressure monitoring settings
type PressureConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
	TotalBytes     uint64        `yaml:"total_bytes"`
}

// AdvisoryConfig represents the deadlock and leak diagnostics settings
type AdvisoryConfig struct {
	DeadlockScanInterval time.Duration `yaml:"deadlock_scan_interval"`
	LeakSweepInterval    time.Duration `yaml:"leak_sweep_interval"`
}

// MetricsConfig represents the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// NewDefault returns the default configuration
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Cache: CacheConfig{
			Fast:   TierConfig{Capacity: 1024, Policy: "lru"},
			Medium: TierConfig{Capacity: 8192, Policy: "lru"},
			Slow:   TierConfig{Capacity: 65536, Policy: "arc"},
		},
		Pools: []PoolConfig{
			{Name: "buffers", MaxSize: 256},
		},
		Scheduler: SchedulerConfig{
			Interactive: ClassConfig{Workers: 8, QueueCapacity: 256},
			Initiated:   ClassConfig{Workers: 4, QueueCapacity: 256},
			Utility:     ClassConfig{Workers: 2, QueueCapacity: 128},
			Background:  ClassConfig{Workers: 1, QueueCapacity: 64},
		},
		Pressure: PressureConfig{
			SampleInterval: 5 * time.Second,
		},
		Advisory: AdvisoryConfig{
			DeadlockScanInterval: 10 * time.Second,
			LeakSweepInterval:    30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration overrides from environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("RESCOORD_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("RESCOORD_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}

	if val := os.Getenv("RESCOORD_FAST_CAPACITY"); val != "" {
		if capacity, err := strconv.Atoi(val); err == nil {
			c.Cache.Fast.Capacity = capacity
		}
	}
	if val := os.Getenv("RESCOORD_MEDIUM_CAPACITY"); val != "" {
		if capacity, err := strconv.Atoi(val); err == nil {
			c.Cache.Medium.Capacity = capacity
		}
	}
	if val := os.Getenv("RESCOORD_SLOW_CAPACITY"); val != "" {
		if capacity, err := strconv.Atoi(val); err == nil {
			c.Cache.Slow.Capacity = capacity
		}
	}

	if val := os.Getenv("RESCOORD_SAMPLE_INTERVAL"); val != "" {
		if interval, err := time.ParseDuration(val); err == nil {
			c.Pressure.SampleInterval = interval
		}
	}
	if val := os.Getenv("RESCOORD_TOTAL_BYTES"); val != "" {
		if total, err := strconv.ParseUint(val, 10, 64); err == nil {
			c.Pressure.TotalBytes = total
		}
	}

	if val := os.Getenv("RESCOORD_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("RESCOORD_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Metrics.Port = port
		}
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validPolicies := map[string]bool{"lru": true, "lfu": true, "arc": true}
	for name, tier := range map[string]TierConfig{
		"fast": c.Cache.Fast, "medium": c.Cache.Medium, "slow": c.Cache.Slow,
	} {
		if tier.Capacity < 1 {
			return fmt.Errorf("%s tier capacity must be greater than 0", name)
		}
		if !validPolicies[strings.ToLower(tier.Policy)] {
			return fmt.Errorf("invalid %s tier policy: %s (must be one of: lru, lfu, arc)", name, tier.Policy)
		}
	}

	seen := make(map[string]bool, len(c.Pools))
	for _, pool := range c.Pools {
		if pool.Name == "" {
			return fmt.Errorf("pool name cannot be empty")
		}
		if seen[pool.Name] {
			return fmt.Errorf("duplicate pool name: %s", pool.Name)
		}
		seen[pool.Name] = true
		if pool.MaxSize < 1 {
			return fmt.Errorf("pool %s max_size must be greater than 0", pool.Name)
		}
	}

	for name, class := range map[string]ClassConfig{
		"interactive": c.Scheduler.Interactive,
		"initiated":   c.Scheduler.Initiated,
		"utility":     c.Scheduler.Utility,
		"background":  c.Scheduler.Background,
	} {
		if class.Workers < 1 {
			return fmt.Errorf("%s class workers must be greater than 0", name)
		}
		if class.QueueCapacity < 1 {
			return fmt.Errorf("%s class queue_capacity must be greater than 0", name)
		}
	}

	if c.Pressure.SampleInterval <= 0 {
		return fmt.Errorf("sample_interval must be positive")
	}
	if c.Advisory.DeadlockScanInterval <= 0 {
		return fmt.Errorf("deadlock_scan_interval must be positive")
	}
	if c.Advisory.LeakSweepInterval <= 0 {
		return fmt.Errorf("leak_sweep_interval must be positive")
	}

	validLogLevels := []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.ToUpper(c.Global.LogLevel) == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}
