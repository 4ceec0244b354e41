// Package resource samples process CPU, memory, and goroutine usage from
// procfs and recommends a channel concurrency level from the recent load.
package resource

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/procfs"

	"github.com/onnwee/channel-harvest/telemetry"
)

// Pressure bands derived from the higher of CPU and memory utilization.
type Band string

const (
	BandNormal   Band = "normal"
	BandWarning  Band = "warning"  // over the configured ceiling (default >75%)
	BandCritical Band = "critical" // well past it (default >90%)
)

const (
	defaultMaxCPUPercent  = 75.0
	defaultMaxMemPercent  = 75.0
	defaultThrottleFactor = 0.5
	criticalMargin        = 15.0 // past the ceiling by this much is critical
	historySize           = 100
	averageWindow         = 3
)

// classify maps how far CPU and memory sit past their ceilings to a band.
func classify(cpuOver, memOver float64) Band {
	over := cpuOver
	if memOver > over {
		over = memOver
	}
	switch {
	case over > criticalMargin:
		return BandCritical
	case over > 0:
		return BandWarning
	default:
		return BandNormal
	}
}

// Sample is one observation of process resource usage.
type Sample struct {
	At         time.Time
	CPUPercent float64
	MemPercent float64
	RSSBytes   uint64
	Goroutines int
}

// Band classifies the sample against the default ceilings.
func (s Sample) Band() Band {
	return classify(s.CPUPercent-defaultMaxCPUPercent, s.MemPercent-defaultMaxMemPercent)
}

// Monitor periodically samples the current process via procfs and keeps a
// bounded history for concurrency recommendations. The threshold and throttle
// fields fall back to the package defaults when left zero.
type Monitor struct {
	Interval time.Duration
	MaxSlots int // ceiling for recommended concurrency
	MinSlots int

	MaxCPUPercent  float64 // warning ceiling, default 75
	MaxMemPercent  float64 // warning ceiling, default 75
	ThrottleFactor float64 // slot multiplier under warning pressure, default 0.5

	proc     procfs.Proc
	memTotal uint64 // bytes; 0 when unreadable

	mu       sync.Mutex
	history  []Sample
	lastCPU  float64 // cumulative seconds at previous sample
	lastTime time.Time
}

// NewMonitor builds a Monitor for the current process. maxSlots caps the
// recommendation; the floor is always 1.
func NewMonitor(interval time.Duration, maxSlots int) (*Monitor, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if maxSlots < 1 {
		maxSlots = 1
	}
	proc, err := procfs.Self()
	if err != nil {
		return nil, fmt.Errorf("open procfs self: %w", err)
	}
	m := &Monitor{Interval: interval, MaxSlots: maxSlots, MinSlots: 1, proc: proc}
	if fs, err := procfs.NewDefaultFS(); err == nil {
		if mi, err := fs.Meminfo(); err == nil && mi.MemTotal != nil {
			m.memTotal = *mi.MemTotal * 1024
		}
	}
	if m.memTotal == 0 {
		slog.Warn("total memory unreadable, memory pressure disabled")
	}
	return m, nil
}

// Sample takes one observation and appends it to the history.
func (m *Monitor) Sample() (Sample, error) {
	stat, err := m.proc.Stat()
	if err != nil {
		return Sample{}, fmt.Errorf("read proc stat: %w", err)
	}
	now := time.Now()
	s := Sample{
		At:         now,
		RSSBytes:   uint64(stat.ResidentMemory()),
		Goroutines: runtime.NumGoroutine(),
	}
	if m.memTotal > 0 {
		s.MemPercent = float64(s.RSSBytes) / float64(m.memTotal) * 100
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cpu := stat.CPUTime()
	if !m.lastTime.IsZero() {
		wall := now.Sub(m.lastTime).Seconds()
		if wall > 0 {
			s.CPUPercent = (cpu - m.lastCPU) / wall * 100
			if s.CPUPercent < 0 {
				s.CPUPercent = 0
			}
		}
	}
	m.lastCPU, m.lastTime = cpu, now

	m.history = append(m.history, s)
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}
	return s, nil
}

// Band classifies a sample against this monitor's configured ceilings.
func (m *Monitor) Band(s Sample) Band {
	return classify(s.CPUPercent-m.maxCPU(), s.MemPercent-m.maxMem())
}

func (m *Monitor) maxCPU() float64 {
	if m.MaxCPUPercent > 0 {
		return m.MaxCPUPercent
	}
	return defaultMaxCPUPercent
}

func (m *Monitor) maxMem() float64 {
	if m.MaxMemPercent > 0 {
		return m.MaxMemPercent
	}
	return defaultMaxMemPercent
}

func (m *Monitor) throttle() float64 {
	if m.ThrottleFactor > 0 && m.ThrottleFactor < 1 {
		return m.ThrottleFactor
	}
	return defaultThrottleFactor
}

// Recommend returns the channel concurrency suggested by the average of the
// last few samples: critical pressure drops to the floor, warning throttles
// the ceiling, normal runs at the ceiling.
func (m *Monitor) Recommend() int {
	avg := m.average(averageWindow)
	rec := m.MaxSlots
	switch m.Band(avg) {
	case BandCritical:
		rec = m.MinSlots
	case BandWarning:
		rec = int(float64(m.MaxSlots) * m.throttle())
	}
	if rec < m.MinSlots {
		rec = m.MinSlots
	}
	telemetry.RecommendedConcurrency.Set(float64(rec))
	return rec
}

// History returns a copy of the retained samples, oldest first.
func (m *Monitor) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.history))
	copy(out, m.history)
	return out
}

// Latest returns the most recent sample, if any.
func (m *Monitor) Latest() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return Sample{}, false
	}
	return m.history[len(m.history)-1], true
}

func (m *Monitor) average(n int) Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return Sample{}
	}
	if n > len(m.history) {
		n = len(m.history)
	}
	var avg Sample
	for _, s := range m.history[len(m.history)-n:] {
		avg.CPUPercent += s.CPUPercent
		avg.MemPercent += s.MemPercent
	}
	avg.CPUPercent /= float64(n)
	avg.MemPercent /= float64(n)
	return avg
}

// Run samples on the configured interval until ctx is done, invoking onSample
// (when non-nil) after each observation. Sampling errors are logged, never
// fatal.
func (m *Monitor) Run(ctx context.Context, onSample func(Sample, int)) {
	t := time.NewTicker(m.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s, err := m.Sample()
			if err != nil {
				slog.Warn("resource sample failed", slog.Any("err", err))
				continue
			}
			rec := m.Recommend()
			if band := m.Band(s); band != BandNormal {
				slog.Warn("resource pressure",
					slog.String("band", string(band)),
					slog.Float64("cpu_pct", s.CPUPercent),
					slog.Float64("mem_pct", s.MemPercent),
					slog.Int("goroutines", s.Goroutines),
					slog.Int("recommended_concurrency", rec))
			}
			if onSample != nil {
				onSample(s, rec)
			}
		}
	}
}
