package simulation

import (
	"sync"
	"time"
)

// TickMetricsSnapshot summarises observed server tick durations.
type TickMetricsSnapshot struct {
	Samples  int
	Average  time.Duration
	Max      time.Duration
	Last     time.Duration
	Overruns int
}

// AverageFPS derives the ticks-per-second equivalent of the sampled duration.
func (s TickMetricsSnapshot) AverageFPS() float64 {
	if s.Average <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Average)
}

// TickMonitor accumulates timing statistics for the tick loop.
type TickMonitor struct {
	budget time.Duration

	mu       sync.Mutex
	samples  int
	total    time.Duration
	max      time.Duration
	last     time.Duration
	overruns int
}

// NewTickMonitor constructs a monitor that flags ticks slower than budget.
// A zero budget disables overrun tracking.
func NewTickMonitor(budget time.Duration) *TickMonitor {
	return &TickMonitor{budget: budget}
}

// Observe records the duration of a completed tick and reports whether it overran.
func (m *TickMonitor) Observe(duration time.Duration) bool {
	if m == nil || duration <= 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	//1.- Accumulate the sample count and aggregate duration for averages.
	m.samples++
	m.total += duration
	//2.- Track the worst-case tick so operators can spot spikes quickly.
	if duration > m.max {
		m.max = duration
	}
	m.last = duration
	if m.budget > 0 && duration > m.budget {
		m.overruns++
		return true
	}
	return false
}

// Snapshot returns a copy of the aggregated tick statistics.
func (m *TickMonitor) Snapshot() TickMetricsSnapshot {
	if m == nil {
		return TickMetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	average := time.Duration(0)
	if m.samples > 0 {
		average = m.total / time.Duration(m.samples)
	}
	return TickMetricsSnapshot{Samples: m.samples, Average: average, Max: m.max, Last: m.last, Overruns: m.overruns}
}
