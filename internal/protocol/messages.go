package protocol

import "ballarena/server/internal/world"

// ClientMessage is the closed set of frames a client may send.
type ClientMessage interface {
	clientMessage()
}

// Join renames the sender.
type Join struct {
	Name string `json:"name"`
}

// Move requests a discrete move of Distance units along (DX, DY).
type Move struct {
	DX       float64 `json:"dx"`
	DY       float64 `json:"dy"`
	Distance float64 `json:"distance"`
}

// Input is the retired continuous steering frame. It is decoded for wire
// compatibility and never affects movement.
type Input struct {
	DX             float64 `json:"dx"`
	DY             float64 `json:"dy"`
	SequenceNumber uint64  `json:"sequence_number"`
}

// Ready marks the sender as ready to start.
type Ready struct{}

// Quit asks the server to end the session.
type Quit struct{}

func (Join) clientMessage()  {}
func (Move) clientMessage()  {}
func (Input) clientMessage() {}
func (Ready) clientMessage() {}
func (Quit) clientMessage()  {}

// ServerMessage is the closed set of frames the server sends.
type ServerMessage interface {
	serverMessage()
}

// Welcome is sent once, immediately after admission.
type Welcome struct {
	PlayerID  uint64          `json:"player_id"`
	Constants world.Constants `json:"constants"`
}

// StateUpdate carries the full world snapshot for one tick.
type StateUpdate struct {
	Snapshot world.Snapshot `json:"snapshot"`
}

// Bye precedes a server-initiated close.
type Bye struct {
	Reason string `json:"reason"`
}

func (Welcome) serverMessage()     {}
func (StateUpdate) serverMessage() {}
func (Bye) serverMessage()         {}
