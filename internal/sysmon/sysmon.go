// Package sysmon implements the self-process health monitor of
// SPEC_FULL.md §9: periodic CPU/memory/goroutine sampling emitted as a
// system_health measurement, with a memory-pressure warning alert.
// Structure (singleton-style periodic sampler with a thread-safe snapshot,
// stopped by cancelling Run's context) is adapted from the teacher's
// ws/internal/shared/monitoring/system_monitor.go; container-aware cgroup
// CPU reading is replaced with gopsutil/v3, which this service carries as
// a plain process-health dependency rather than a container-limits one.
package sysmon

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/chainwatch/netmon/internal/alerting"
	"github.com/chainwatch/netmon/internal/logging"
	"github.com/chainwatch/netmon/internal/metrics"
	"github.com/chainwatch/netmon/internal/types"
)

// Config controls sample cadence and the memory warning threshold.
type Config struct {
	Interval            time.Duration // default 30s
	MemoryWarnMB        float64       // default 1024
	ConsecutiveOverload int           // samples over threshold before alerting, default 2
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.MemoryWarnMB <= 0 {
		c.MemoryWarnMB = 1024
	}
	if c.ConsecutiveOverload <= 0 {
		c.ConsecutiveOverload = 2
	}
	return c
}

// Snapshot is the most recently captured set of self-process measurements.
type Snapshot struct {
	CPUPercent  float64
	MemoryMB    float64
	Goroutines  int
	CapturedAt  time.Time
}

// Monitor periodically samples this process's own resource usage.
type Monitor struct {
	cfg    Config
	sink   *metrics.Sink
	router *alerting.Router
	logger zerolog.Logger
	proc   *process.Process

	mu               sync.RWMutex
	snapshot         Snapshot
	overloadStreak   int
}

// New builds a self-process health Monitor. pid is normally os.Getpid().
func New(cfg Config, pid int32, sink *metrics.Sink, router *alerting.Router, logger zerolog.Logger) (*Monitor, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		cfg:    cfg.withDefaults(),
		sink:   sink,
		router: router,
		logger: logger.With().Str("component", "sysmon").Logger(),
		proc:   proc,
	}, nil
}

// Run drives the sample loop until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	defer logging.RecoverPanic(m.logger, "sysmon")

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

func (m *Monitor) sample(ctx context.Context) {
	now := time.Now()

	cpuPercent, err := m.proc.PercentWithContext(ctx, 0)
	if err != nil {
		logging.LogError(m.logger, "sysmon", err, "failed to sample process cpu percent")
		cpuPercent = 0
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	memoryMB := float64(mem.Alloc) / (1024 * 1024)
	goroutines := runtime.NumGoroutine()

	snap := Snapshot{CPUPercent: cpuPercent, MemoryMB: memoryMB, Goroutines: goroutines, CapturedAt: now}
	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()

	m.sink.Record(types.Measurement{
		Name: "system_health",
		Tags: map[string]string{"component": "netmon"},
		Fields: map[string]types.MeasurementField{
			"cpu_percent": cpuPercent,
			"memory_mb":   memoryMB,
			"goroutines":  goroutines,
		},
		Timestamp: now,
	})

	m.checkMemoryPressure(memoryMB, now)
}

// checkMemoryPressure implements SPEC_FULL.md §9's two-consecutive-samples
// rule: a single spike doesn't alert, sustained pressure does.
func (m *Monitor) checkMemoryPressure(memoryMB float64, now time.Time) {
	m.mu.Lock()
	if memoryMB >= m.cfg.MemoryWarnMB {
		m.overloadStreak++
	} else {
		m.overloadStreak = 0
	}
	streak := m.overloadStreak
	m.mu.Unlock()

	if streak == m.cfg.ConsecutiveOverload {
		m.router.Submit(alerting.AlertOptions{
			Severity:       types.SeverityWarning,
			Category:       types.CategorySystem,
			Component:      "monitor-process",
			Title:          "monitor-process-memory-high",
			Message:        "the monitoring process's own memory usage has exceeded the configured threshold for two consecutive samples",
			Metadata:       map[string]any{"memoryMB": memoryMB, "thresholdMB": m.cfg.MemoryWarnMB},
			ThrottleKey:    "sysmon-memory-high",
			ThrottleWindow: 5 * time.Minute,
		})
	}
}

// Snapshot returns the most recently captured self-process metrics.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
