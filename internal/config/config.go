// Package config loads server configuration from file, environment, and
// flags via viper, and watches the config file for changes to the handful
// of settings that are safe to apply without a restart (timeouts, log
// level). Pool worker counts and queue capacities are fixed at startup —
// resizing a running worker pool is out of scope.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PoolSettings sizes one category's worker pool and queue.
type PoolSettings struct {
	Workers  int
	Capacity int
}

// Config is the fully-resolved server configuration.
type Config struct {
	ListenAddr  string
	AdminAddr   string // empty/":0" disables the admin listener
	LogLevel    string
	DataDir     string
	JobStorePath string

	CPUTimeout time.Duration
	IOTimeout  time.Duration

	Basic    PoolSettings
	CPUBound PoolSettings
	IOBound  PoolSettings

	JobGraceCeiling  time.Duration
	JobAgingWindow   time.Duration
	JobDisableAging  bool
	JobQueueBasic    int
	JobQueueCPUBound int
	JobQueueIOBound  int

	MetricsRingCapacity int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("admin_addr", ":9090")
	v.SetDefault("log_level", "info")
	v.SetDefault("data_dir", "/app/data")
	v.SetDefault("job_store_path", "/app/data/jobs.json")

	v.SetDefault("timeout_cpu", "60s")
	v.SetDefault("timeout_io", "120s")

	v.SetDefault("pools.basic.workers", 4)
	v.SetDefault("pools.basic.capacity", 64)
	v.SetDefault("pools.cpu_bound.workers", 2)
	v.SetDefault("pools.cpu_bound.capacity", 32)
	v.SetDefault("pools.io_bound.workers", 4)
	v.SetDefault("pools.io_bound.capacity", 64)

	v.SetDefault("reaper.grace_ceiling", "30s")
	v.SetDefault("jobs.aging_window", "30s")
	v.SetDefault("jobs.disable_aging", false)
	v.SetDefault("jobs.queue_basic", 32)
	v.SetDefault("jobs.queue_cpu_bound", 32)
	v.SetDefault("jobs.queue_io_bound", 32)

	v.SetDefault("metrics.ring_capacity", 10000)
}

func build(v *viper.Viper) (Config, error) {
	cfg := Config{
		ListenAddr:   v.GetString("listen_addr"),
		AdminAddr:    v.GetString("admin_addr"),
		LogLevel:     v.GetString("log_level"),
		DataDir:      v.GetString("data_dir"),
		JobStorePath: v.GetString("job_store_path"),
		CPUTimeout:   v.GetDuration("timeout_cpu"),
		IOTimeout:    v.GetDuration("timeout_io"),
		Basic: PoolSettings{
			Workers:  v.GetInt("pools.basic.workers"),
			Capacity: v.GetInt("pools.basic.capacity"),
		},
		CPUBound: PoolSettings{
			Workers:  v.GetInt("pools.cpu_bound.workers"),
			Capacity: v.GetInt("pools.cpu_bound.capacity"),
		},
		IOBound: PoolSettings{
			Workers:  v.GetInt("pools.io_bound.workers"),
			Capacity: v.GetInt("pools.io_bound.capacity"),
		},
		JobGraceCeiling:     v.GetDuration("reaper.grace_ceiling"),
		JobAgingWindow:      v.GetDuration("jobs.aging_window"),
		JobDisableAging:     v.GetBool("jobs.disable_aging"),
		JobQueueBasic:       v.GetInt("jobs.queue_basic"),
		JobQueueCPUBound:    v.GetInt("jobs.queue_cpu_bound"),
		JobQueueIOBound:     v.GetInt("jobs.queue_io_bound"),
		MetricsRingCapacity: v.GetInt("metrics.ring_capacity"),
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	for name, p := range map[string]PoolSettings{"basic": c.Basic, "cpu_bound": c.CPUBound, "io_bound": c.IOBound} {
		if p.Workers <= 0 {
			return fmt.Errorf("pools.%s.workers must be > 0, got %d", name, p.Workers)
		}
		if p.Capacity <= 0 {
			return fmt.Errorf("pools.%s.capacity must be > 0, got %d", name, p.Capacity)
		}
	}
	if c.CPUTimeout <= 0 || c.IOTimeout <= 0 {
		return fmt.Errorf("timeout_cpu and timeout_io must be positive durations")
	}
	return nil
}

// Loader reads configuration from configPath (if set), environment
// variables prefixed COMPUTE_, and defaults, and watches configPath for
// changes that can be applied live (timeouts, log level).
type Loader struct {
	v   *viper.Viper
	log *zap.Logger

	mu  sync.RWMutex
	cur Config
}

// NewLoader builds a Loader and performs the initial load. configPath may
// be empty to rely solely on environment and defaults.
func NewLoader(configPath string, log *zap.Logger) (*Loader, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("compute")
	v.AutomaticEnv()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configPath, err)
		}
	}

	cfg, err := build(v)
	if err != nil {
		return nil, err
	}

	l := &Loader{v: v, log: log, cur: cfg}
	if configPath != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			l.reload()
		})
		v.WatchConfig()
	}
	return l, nil
}

func (l *Loader) reload() {
	next, err := build(l.v)
	if err != nil {
		l.log.Warn("config reload rejected, keeping previous values", zap.Error(err))
		return
	}
	l.mu.Lock()
	prev := l.cur
	// Worker/queue sizing is fixed once pools are started, so the pool and
	// job-queue sizes keep their previous values; every other field takes the
	// reloaded value.
	next.Basic, next.CPUBound, next.IOBound = prev.Basic, prev.CPUBound, prev.IOBound
	next.JobQueueBasic, next.JobQueueCPUBound, next.JobQueueIOBound = prev.JobQueueBasic, prev.JobQueueCPUBound, prev.JobQueueIOBound
	l.cur = next
	l.mu.Unlock()
	l.log.Info("config reloaded", zap.Duration("timeout_cpu", next.CPUTimeout), zap.Duration("timeout_io", next.IOTimeout))
}

// Current returns the latest configuration snapshot.
func (l *Loader) Current() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}
