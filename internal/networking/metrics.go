package networking

import "sync"

// Drop reasons recorded when a snapshot does not reach a session.
const (
	DropReasonQueueFull = "queue_full"
	DropReasonStale     = "stale"
	DropReasonClosed    = "closed"
)

// SnapshotMetrics tracks payload sizes and drop counters for snapshot delivery.
type SnapshotMetrics struct {
	mu    sync.RWMutex
	bytes map[uint64]int64
	sent  int64
	drops map[string]int64
}

// NewSnapshotMetrics constructs an empty metrics tracker.
func NewSnapshotMetrics() *SnapshotMetrics {
	return &SnapshotMetrics{
		bytes: make(map[uint64]int64),
		drops: make(map[string]int64),
	}
}

// Observe records the size of the latest payload written to a session.
func (m *SnapshotMetrics) Observe(playerID uint64, payloadBytes int) {
	if m == nil {
		return
	}
	//1.- Promote the payload size to int64 for consistent accumulation.
	size := int64(payloadBytes)
	if size < 0 {
		size = 0
	}
	//2.- Update the gauge and the running total while holding the mutex.
	m.mu.Lock()
	m.bytes[playerID] = size
	m.sent += size
	m.mu.Unlock()
}

// Drop counts a snapshot that was not delivered for the given reason.
func (m *SnapshotMetrics) Drop(reason string) {
	if m == nil || reason == "" {
		return
	}
	m.mu.Lock()
	m.drops[reason]++
	m.mu.Unlock()
}

// ForgetClient removes the tracked gauge for a disconnected session.
func (m *SnapshotMetrics) ForgetClient(playerID uint64) {
	if m == nil {
		return
	}
	//1.- Delete the entry to avoid exporting stale gauges.
	m.mu.Lock()
	delete(m.bytes, playerID)
	m.mu.Unlock()
}

// BytesPerClient returns a copy of the latest payload size per session.
func (m *SnapshotMetrics) BytesPerClient() map[uint64]int64 {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.bytes) == 0 {
		return nil
	}
	out := make(map[uint64]int64, len(m.bytes))
	for id, size := range m.bytes {
		out[id] = size
	}
	return out
}

// BytesSent returns the cumulative number of payload bytes written.
func (m *SnapshotMetrics) BytesSent() int64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sent
}

// DropCounts returns the cumulative number of undelivered snapshots per reason.
func (m *SnapshotMetrics) DropCounts() map[string]int64 {
	if m == nil {
		return nil
	}
	//1.- Snapshot the counters so metrics handlers can iterate safely.
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.drops) == 0 {
		return nil
	}
	out := make(map[string]int64, len(m.drops))
	for reason, count := range m.drops {
		out[reason] = count
	}
	return out
}
