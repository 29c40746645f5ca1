package state

import "ballarena/server/internal/world"

// IsReady reports the player's ready flag.
func (s *Store) IsReady(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready[id]
}

// HasPendingMove reports whether a command is queued for the player.
func (s *Store) HasPendingMove(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

// PutDot overwrites a dot record as-is and keeps the id counter ahead of it.
func (s *Store) PutDot(dot world.Dot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dots[dot.ID] = dot
	if dot.ID >= s.nextDotID {
		s.nextDotID = dot.ID + 1
	}
}

// DrainEvents returns buffered events without stepping.
func (s *Store) DrainEvents() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Drain()
}
