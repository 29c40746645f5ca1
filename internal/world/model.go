package world

import "math"

// Status tracks the arena lifecycle broadcast with every snapshot.
type Status string

const (
	// StatusWaitingToStart holds the arena until every connected player is ready.
	StatusWaitingToStart Status = "WaitingToStart"
	// StatusPlaying is entered once and never left during a process lifetime.
	StatusPlaying Status = "Playing"
	// StatusGameOver is reserved; no rule currently reaches it.
	StatusGameOver Status = "GameOver"
)

// Circle is the collision shape shared by players and dots.
type Circle struct {
	X      float64
	Y      float64
	Radius float64
}

// Player is the authoritative record for a connected participant.
type Player struct {
	ID                uint64  `json:"id" msgpack:"id"`
	Name              string  `json:"name" msgpack:"name"`
	X                 float64 `json:"x" msgpack:"x"`
	Y                 float64 `json:"y" msgpack:"y"`
	Radius            float64 `json:"radius" msgpack:"radius"`
	Score             uint64  `json:"score" msgpack:"score"`
	Speed             float64 `json:"speed" msgpack:"speed"`
	SequenceNumber    uint64  `json:"sequence_number" msgpack:"sequence_number"`
	RemainingDistance float64 `json:"remaining_distance" msgpack:"remaining_distance"`
	VX                float64 `json:"vx" msgpack:"vx"`
	VY                float64 `json:"vy" msgpack:"vy"`
}

// Circle exposes the collision footprint of the player.
func (p Player) Circle() Circle {
	return Circle{X: p.X, Y: p.Y, Radius: p.Radius}
}

// Moving reports whether a discrete move is still in flight.
func (p Player) Moving() bool {
	return p.RemainingDistance > 0
}

// Color is an RGB triple rendered as a JSON array.
type Color [3]uint8

// Dot is a food pellet worth a fixed score.
type Dot struct {
	ID     uint64  `json:"id" msgpack:"id"`
	X      float64 `json:"x" msgpack:"x"`
	Y      float64 `json:"y" msgpack:"y"`
	Radius float64 `json:"radius" msgpack:"radius"`
	Color  Color   `json:"color" msgpack:"color"`
	Score  uint64  `json:"score" msgpack:"score"`
}

// Circle exposes the collision footprint of the dot.
func (d Dot) Circle() Circle {
	return Circle{X: d.X, Y: d.Y, Radius: d.Radius}
}

// Constants are fixed for the lifetime of the process and sent once in Welcome.
type Constants struct {
	TickIntervalMs      int64   `json:"tick_interval_ms" msgpack:"tick_interval_ms"`
	CollideSizeFraction float64 `json:"collide_size_fraction" msgpack:"collide_size_fraction"`
	MoveSpeedBase       float64 `json:"move_speed_base" msgpack:"move_speed_base"`
	DotRadius           float64 `json:"dot_radius" msgpack:"dot_radius"`
	PlayerRadius        float64 `json:"player_radius" msgpack:"player_radius"`
	WorldSize           float64 `json:"world_size" msgpack:"world_size"`
}

// DefaultConstants mirrors the stock client tuning.
func DefaultConstants() Constants {
	return Constants{
		TickIntervalMs:      50,
		CollideSizeFraction: 1.1,
		MoveSpeedBase:       150,
		DotRadius:           4,
		PlayerRadius:        10,
		WorldSize:           2000,
	}
}

// TickSeconds converts the tick interval into the simulation timestep.
func (c Constants) TickSeconds() float64 {
	return float64(c.TickIntervalMs) / 1000
}

// Diagonal is the longest straight move that can stay inside the world.
func (c Constants) Diagonal() float64 {
	return c.WorldSize * math.Sqrt2
}

// PendingMove is a queued discrete move awaiting the next tick.
type PendingMove struct {
	DX       float64
	DY       float64
	Distance float64
}

// Snapshot is the full-world payload sent to every client each tick.
type Snapshot struct {
	Tick         uint64    `json:"tick" msgpack:"tick"`
	Status       Status    `json:"status" msgpack:"status"`
	ServerTimeMs int64     `json:"server_time_ms" msgpack:"server_time_ms"`
	Players      []Player  `json:"players" msgpack:"players"`
	Dots         []Dot     `json:"dots" msgpack:"dots"`
	Constants    Constants `json:"constants" msgpack:"constants"`
}

// FindPlayer returns the player with the supplied id when present.
func (s Snapshot) FindPlayer(id uint64) (Player, bool) {
	for _, player := range s.Players {
		if player.ID == id {
			return player, true
		}
	}
	return Player{}, false
}
