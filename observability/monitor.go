package observability

import (
	"context"
	"runtime"
	"time"
)

// Monitor emits a periodic availability heartbeat and a warning when
// resident memory crosses the configured threshold.
type Monitor struct {
	sink      *Sink
	interval  time.Duration
	memLimit  uint64
	startedAt time.Time
}

// MonitorConfig tunes the availability monitor.
type MonitorConfig struct {
	Interval        time.Duration
	MemoryWarnBytes uint64
}

// NewMonitor constructs a monitor; Start launches it.
func NewMonitor(sink *Sink, cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Monitor{
		sink:      sink,
		interval:  cfg.Interval,
		memLimit:  cfg.MemoryWarnBytes,
		startedAt: time.Now(),
	}
}

// Start runs the heartbeat loop until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.beat()
		}
	}
}

func (m *Monitor) beat() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	m.sink.Emit(Event{
		Level:    LevelInfo,
		Domain:   DomainSystem,
		Category: CategoryAvailability,
		Name:     "HEALTH_CHECK_PASS",
		Metadata: map[string]any{
			"uptimeSeconds": int64(time.Since(m.startedAt).Seconds()),
			"heapBytes":     stats.HeapAlloc,
			"sysBytes":      stats.Sys,
			"goroutines":    runtime.NumGoroutine(),
		},
	})
	if m.memLimit > 0 && stats.Sys > m.memLimit {
		m.sink.Emit(Event{
			Level:    LevelWarn,
			Domain:   DomainSystem,
			Category: CategoryPerformance,
			Name:     "MEMORY_WARNING",
			Metadata: map[string]any{
				"sysBytes":   stats.Sys,
				"limitBytes": m.memLimit,
			},
		})
	}
}
