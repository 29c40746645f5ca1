package spectate

import (
	"sync"
	"sync/atomic"

	"ballarena/server/internal/world"
)

// DefaultBuffer is the per-subscriber snapshot backlog.
const DefaultBuffer = 16

// Hub fans snapshots out to spectator streams. A subscriber whose buffer is
// full misses that snapshot; the tick loop never waits on spectators.
type Hub struct {
	mu        sync.Mutex
	buffer    int
	next      uint64
	subs      map[uint64]chan world.Snapshot
	closed    bool
	published atomic.Int64
	drops     atomic.Int64
}

// NewHub constructs a hub with the supplied per-subscriber buffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{buffer: buffer, subs: make(map[uint64]chan world.Snapshot)}
}

// Subscribe registers a new spectator. The returned cancel is idempotent and
// closes the channel. Subscribing to a closed hub yields a closed channel.
func (h *Hub) Subscribe() (<-chan world.Snapshot, func()) {
	ch := make(chan world.Snapshot, h.buffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.next++
	id := h.next
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish offers the snapshot to every subscriber without blocking and
// returns how many accepted it.
func (h *Hub) Publish(snapshot world.Snapshot) int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0
	}
	h.published.Add(1)
	delivered := 0
	for _, ch := range h.subs {
		select {
		case ch <- snapshot:
			delivered++
		default:
			h.drops.Add(1)
		}
	}
	return delivered
}

// Close ends every subscription; streams observe a closed channel and return.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Published reports how many snapshots were offered to the hub.
func (h *Hub) Published() int64 {
	if h == nil {
		return 0
	}
	return h.published.Load()
}

// Drops reports snapshots skipped because a subscriber buffer was full.
func (h *Hub) Drops() int64 {
	if h == nil {
		return 0
	}
	return h.drops.Load()
}
