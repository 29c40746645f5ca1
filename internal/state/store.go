package state

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"ballarena/server/internal/physics"
	"ballarena/server/internal/protocol"
	"ballarena/server/internal/world"
)

// ConsumePolicy decides what happens to a player swallowed by a larger one.
type ConsumePolicy string

const (
	// ConsumeRemove deletes the consumed player and retires its id.
	ConsumeRemove ConsumePolicy = "remove"
	// ConsumeRespawn resets the consumed player in place.
	ConsumeRespawn ConsumePolicy = "respawn"
)

const (
	// SpawnAttempts bounds rejection sampling before falling back to the world centre.
	SpawnAttempts = 64
	// DefaultEventLimit caps buffered events between drains.
	DefaultEventLimit = 4096
)

// Config tunes a Store.
type Config struct {
	Constants     world.Constants
	DotCount      int
	ReplenishDots bool
	ConsumePolicy ConsumePolicy
	// Seed drives spawn placement; zero seeds from the clock.
	Seed       int64
	EventLimit int
	Now        func() time.Time
}

// Store is the single source of truth for the arena. Every mutation and
// every snapshot happens under one mutex, which is never held across I/O.
type Store struct {
	mu sync.Mutex

	constants world.Constants
	replenish bool
	policy    ConsumePolicy
	now       func() time.Time
	rng       *rand.Rand

	players   map[uint64]world.Player
	dots      map[uint64]world.Dot
	pending   map[uint64]world.PendingMove
	ready     map[uint64]bool
	status    world.Status
	tick      uint64
	nextDotID uint64
	events    *EventLog
}

// NewStore builds a waiting arena seeded with the initial dot population.
func NewStore(cfg Config) *Store {
	if cfg.Constants == (world.Constants{}) {
		cfg.Constants = world.DefaultConstants()
	}
	if cfg.ConsumePolicy != ConsumeRespawn {
		cfg.ConsumePolicy = ConsumeRemove
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.EventLimit == 0 {
		cfg.EventLimit = DefaultEventLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Store{
		constants: cfg.Constants,
		replenish: cfg.ReplenishDots,
		policy:    cfg.ConsumePolicy,
		now:       cfg.Now,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		players:   make(map[uint64]world.Player),
		dots:      make(map[uint64]world.Dot),
		pending:   make(map[uint64]world.PendingMove),
		ready:     make(map[uint64]bool),
		status:    world.StatusWaitingToStart,
		nextDotID: 1,
		events:    NewEventLog(cfg.EventLimit),
	}
	for i := 0; i < cfg.DotCount; i++ {
		s.spawnDotLocked()
	}
	return s
}

// Constants returns the immutable tuning sent to clients.
func (s *Store) Constants() world.Constants {
	return s.constants
}

// ConsumePolicy reports how consumed players are handled.
func (s *Store) ConsumePolicy() ConsumePolicy {
	return s.policy
}

// AddPlayer inserts a fresh, not-ready player at a free spawn point.
// Adding an id that is already present returns the existing record.
func (s *Store) AddPlayer(id uint64) world.Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.players[id]; ok {
		return existing
	}
	radius := physics.RadiusFromScore(0, s.constants.PlayerRadius)
	x, y := s.spawnPointLocked(radius)
	player := world.Player{
		ID:     id,
		Name:   defaultName(id),
		X:      x,
		Y:      y,
		Radius: radius,
		Speed:  physics.SpeedFromScore(0, s.constants.MoveSpeedBase),
	}
	s.players[id] = player
	s.ready[id] = false
	s.record(Event{Kind: EventPlayerJoined, PlayerID: id, Detail: player.Name})
	return player
}

// RemovePlayer deletes the player with its pending move and ready flag.
// It is idempotent and re-evaluates whether everyone left is ready.
func (s *Store) RemovePlayer(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removePlayerLocked(id)
}

func (s *Store) removePlayerLocked(id uint64) bool {
	player, ok := s.players[id]
	delete(s.players, id)
	delete(s.pending, id)
	delete(s.ready, id)
	if !ok {
		return false
	}
	s.record(Event{Kind: EventPlayerLeft, PlayerID: id, Score: player.Score})
	s.maybeStartLocked()
	return true
}

// RespawnPlayer resets position, score and motion without changing identity.
func (s *Store) RespawnPlayer(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.respawnPlayerLocked(id)
}

func (s *Store) respawnPlayerLocked(id uint64) bool {
	player, ok := s.players[id]
	if !ok {
		return false
	}
	//1.- Remove the player first so the spawn search ignores its old footprint.
	delete(s.players, id)
	delete(s.pending, id)
	player.Score = 0
	player.Radius = physics.RadiusFromScore(0, s.constants.PlayerRadius)
	player.Speed = physics.SpeedFromScore(0, s.constants.MoveSpeedBase)
	player.VX, player.VY = 0, 0
	player.RemainingDistance = 0
	player.X, player.Y = s.spawnPointLocked(player.Radius)
	s.players[id] = player
	s.record(Event{Kind: EventPlayerRespawned, PlayerID: id})
	return true
}

// HandleClientMessage applies one decoded client frame for the given player.
// Quit is handled by the session layer and is a no-op here.
func (s *Store) HandleClientMessage(id uint64, msg protocol.ClientMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	player, ok := s.players[id]
	if !ok {
		return
	}
	switch m := msg.(type) {
	case protocol.Join:
		name := m.Name
		if name == "" {
			name = defaultName(id)
		}
		player.Name = name
		s.players[id] = player
		s.record(Event{Kind: EventPlayerRenamed, PlayerID: id, Detail: name})
	case protocol.Move:
		//1.- The newest command replaces any unconsumed one.
		s.pending[id] = world.PendingMove{DX: m.DX, DY: m.DY, Distance: m.Distance}
	case protocol.Ready:
		s.ready[id] = true
		s.maybeStartLocked()
	case protocol.Input, protocol.Quit:
	}
}

// ApplyPendingMoves turns queued commands into motion for idle players.
func (s *Store) ApplyPendingMoves() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyPendingMovesLocked()
}

func (s *Store) applyPendingMovesLocked() {
	for id, move := range s.pending {
		//1.- Every pending entry is consumed, accepted or not.
		delete(s.pending, id)
		player, ok := s.players[id]
		if !ok || player.Moving() || !(move.Distance > 0) || math.IsInf(move.Distance, 1) {
			continue
		}
		nx, ny, ok := physics.Direction(move.DX, move.DY)
		if !ok {
			continue
		}
		speed := physics.SpeedFromScore(player.Score, s.constants.MoveSpeedBase)
		player.Speed = speed
		player.VX = nx * speed
		player.VY = ny * speed
		player.RemainingDistance = move.Distance
		player.SequenceNumber++
		s.players[id] = player
	}
}

// Step advances the world by dt seconds: moves, then dots, then players.
func (s *Store) Step(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepLocked(dt)
}

func (s *Store) stepLocked(dt float64) {
	ids := s.sortedPlayerIDsLocked()

	//1.- Integrate motion with speed and radius derived from the current score.
	for _, id := range ids {
		player := s.players[id]
		s.refreshDerivedLocked(&player)
		s.players[id] = physics.AdvancePosition(player, player.Speed, dt, s.constants.WorldSize)
	}

	//2.- Resolve dot consumption so growth this tick counts in the player pass.
	eaten := 0
	dotIDs := s.sortedDotIDsLocked()
	for _, id := range ids {
		player := s.players[id]
		for _, dotID := range dotIDs {
			dot, ok := s.dots[dotID]
			if !ok || !physics.Overlaps(player.Circle(), dot.Circle()) {
				continue
			}
			delete(s.dots, dotID)
			player.Score += dot.Score
			s.refreshDerivedLocked(&player)
			eaten++
			s.record(Event{Kind: EventDotEaten, PlayerID: id, DotID: dotID, Score: dot.Score})
		}
		s.players[id] = player
	}
	if s.replenish {
		for i := 0; i < eaten; i++ {
			dot := s.spawnDotLocked()
			s.record(Event{Kind: EventDotSpawned, DotID: dot.ID, Score: dot.Score})
		}
	}

	//3.- Resolve player pairs in id order against live state.
	fraction := s.constants.CollideSizeFraction
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, okA := s.players[ids[i]]
			if !okA {
				break
			}
			b, okB := s.players[ids[j]]
			if !okB || !physics.Overlaps(a.Circle(), b.Circle()) {
				continue
			}
			switch {
			case physics.CanConsume(a.Radius, b.Radius, fraction):
				s.consumeLocked(a.ID, b.ID)
			case physics.CanConsume(b.Radius, a.Radius, fraction):
				s.consumeLocked(b.ID, a.ID)
			}
		}
	}

	s.tick++
}

func (s *Store) consumeLocked(eaterID, preyID uint64) {
	eater := s.players[eaterID]
	prey := s.players[preyID]
	eater.Score += prey.Score
	s.refreshDerivedLocked(&eater)
	s.players[eaterID] = eater
	s.record(Event{Kind: EventPlayerConsumed, PlayerID: preyID, OtherID: eaterID, Score: prey.Score, Detail: string(s.policy)})
	if s.policy == ConsumeRespawn {
		s.respawnPlayerLocked(preyID)
		return
	}
	s.removePlayerLocked(preyID)
}

// Advance applies pending moves and steps once under a single lock
// acquisition, returning every event buffered since the previous call.
func (s *Store) Advance(dt float64) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyPendingMovesLocked()
	s.stepLocked(dt)
	return s.events.Drain()
}

// Snapshot copies the broadcast view of the world with ids in ascending order.
func (s *Store) Snapshot() world.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	players := make([]world.Player, 0, len(s.players))
	for _, id := range s.sortedPlayerIDsLocked() {
		players = append(players, s.players[id])
	}
	dots := make([]world.Dot, 0, len(s.dots))
	for _, id := range s.sortedDotIDsLocked() {
		dots = append(dots, s.dots[id])
	}
	return world.Snapshot{
		Tick:         s.tick,
		Status:       s.status,
		ServerTimeMs: s.now().UnixMilli(),
		Players:      players,
		Dots:         dots,
		Constants:    s.constants,
	}
}

// Status reports the current lifecycle state.
func (s *Store) Status() world.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Tick reports how many steps have run.
func (s *Store) Tick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// PlayerCount reports how many players are in the arena.
func (s *Store) PlayerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players)
}

// DotCount reports how many dots are in the arena.
func (s *Store) DotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dots)
}

// Player returns a copy of the player record.
func (s *Store) Player(id uint64) (world.Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	player, ok := s.players[id]
	return player, ok
}

// PutPlayer overwrites a player record as-is. Gameplay never calls it; it
// lets callers outside this package stage exact positions in tests.
func (s *Store) PutPlayer(player world.Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ready[player.ID]; !ok {
		s.ready[player.ID] = false
	}
	s.players[player.ID] = player
}

func (s *Store) maybeStartLocked() {
	if s.status != world.StatusWaitingToStart || len(s.players) == 0 {
		return
	}
	for id := range s.players {
		if !s.ready[id] {
			return
		}
	}
	s.status = world.StatusPlaying
	s.record(Event{Kind: EventStatusChanged, Detail: string(s.status)})
}

func (s *Store) refreshDerivedLocked(player *world.Player) {
	player.Radius = physics.RadiusFromScore(player.Score, s.constants.PlayerRadius)
	player.Speed = physics.SpeedFromScore(player.Score, s.constants.MoveSpeedBase)
	player.X, player.Y = physics.ClampToWorld(player.X, player.Y, player.Radius, s.constants.WorldSize)
}

// spawnPointLocked samples a position whose circle overlaps no player or dot.
func (s *Store) spawnPointLocked(radius float64) (float64, float64) {
	for attempt := 0; attempt < SpawnAttempts; attempt++ {
		x, y := s.randomPointLocked(radius)
		candidate := world.Circle{X: x, Y: y, Radius: radius}
		if !s.occupiedLocked(candidate, true) {
			return x, y
		}
	}
	half := s.constants.WorldSize / 2
	return half, half
}

// spawnDotLocked places a dot of a random tier away from every player.
func (s *Store) spawnDotLocked() world.Dot {
	tier := world.PickDotTier(s.rng.Intn(world.TotalDotWeight()))
	radius := s.constants.DotRadius * tier.RadiusFactor
	x, y := s.randomPointLocked(radius)
	for attempt := 1; attempt < SpawnAttempts; attempt++ {
		if !s.occupiedLocked(world.Circle{X: x, Y: y, Radius: radius}, false) {
			break
		}
		x, y = s.randomPointLocked(radius)
	}
	dot := world.NewDot(s.nextDotID, x, y, s.constants.DotRadius, tier)
	s.nextDotID++
	s.dots[dot.ID] = dot
	return dot
}

func (s *Store) randomPointLocked(radius float64) (float64, float64) {
	span := s.constants.WorldSize - 2*radius
	if span <= 0 {
		half := s.constants.WorldSize / 2
		return half, half
	}
	return radius + s.rng.Float64()*span, radius + s.rng.Float64()*span
}

func (s *Store) occupiedLocked(candidate world.Circle, includeDots bool) bool {
	for _, player := range s.players {
		if physics.Overlaps(candidate, player.Circle()) {
			return true
		}
	}
	if !includeDots {
		return false
	}
	for _, dot := range s.dots {
		if physics.Overlaps(candidate, dot.Circle()) {
			return true
		}
	}
	return false
}

func (s *Store) sortedPlayerIDsLocked() []uint64 {
	ids := make([]uint64, 0, len(s.players))
	for id := range s.players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Store) sortedDotIDsLocked() []uint64 {
	ids := make([]uint64, 0, len(s.dots))
	for id := range s.dots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Store) record(event Event) {
	event.Tick = s.tick
	s.events.Add(event)
}

func defaultName(id uint64) string {
	return fmt.Sprintf("Player%d", id)
}
