package state

// EventKind names a gameplay event recorded by the store.
type EventKind string

const (
	EventPlayerJoined    EventKind = "player_joined"
	EventPlayerLeft      EventKind = "player_left"
	EventPlayerRenamed   EventKind = "player_renamed"
	EventDotEaten        EventKind = "dot_eaten"
	EventDotSpawned      EventKind = "dot_spawned"
	EventPlayerConsumed  EventKind = "player_consumed"
	EventPlayerRespawned EventKind = "player_respawned"
	EventStatusChanged   EventKind = "status_changed"
)

// Event is a single gameplay fact stamped with the tick it happened in.
//
// PlayerID is the subject. OtherID is the consumer for player_consumed
// events. Detail carries the new name, the new status, or the consume policy.
type Event struct {
	Tick     uint64    `json:"tick"`
	Kind     EventKind `json:"kind"`
	PlayerID uint64    `json:"player_id,omitempty"`
	OtherID  uint64    `json:"other_id,omitempty"`
	DotID    uint64    `json:"dot_id,omitempty"`
	Score    uint64    `json:"score,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// EventLog buffers gameplay events until the next tick publishes them.
// It is not synchronised; the owning Store guards it.
type EventLog struct {
	events []Event
	limit  int
}

// NewEventLog constructs an event buffer that keeps at most limit entries.
// A non-positive limit keeps everything.
func NewEventLog(limit int) *EventLog {
	return &EventLog{limit: limit}
}

// Add enqueues a gameplay event for the next drain.
func (l *EventLog) Add(event Event) {
	if l == nil {
		return
	}
	//1.- Drop the oldest entry when nobody drains the log for a long time.
	if l.limit > 0 && len(l.events) >= l.limit {
		copy(l.events, l.events[1:])
		l.events = l.events[:len(l.events)-1]
	}
	l.events = append(l.events, event)
}

// Drain flushes and returns the queued events in insertion order.
func (l *EventLog) Drain() []Event {
	if l == nil || len(l.events) == 0 {
		return nil
	}
	//1.- Swap out the current slice with a fresh buffer for the next tick.
	events := l.events
	l.events = nil
	return events
}

// Len reports how many events are waiting.
func (l *EventLog) Len() int {
	if l == nil {
		return 0
	}
	return len(l.events)
}

// RemovedPlayers lists the players that left the arena through consumption
// under the remove policy, in event order.
func RemovedPlayers(events []Event) []uint64 {
	var ids []uint64
	for _, event := range events {
		if event.Kind == EventPlayerConsumed && event.Detail == string(ConsumeRemove) {
			ids = append(ids, event.PlayerID)
		}
	}
	return ids
}
