package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"ballarena/server/internal/world"
)

var (
	// ErrEmptyFrame is returned for frames with no content.
	ErrEmptyFrame = errors.New("empty frame")
	// ErrUnknownMessage is returned when the tag does not name a known variant.
	ErrUnknownMessage = errors.New("unknown message")
)

// DecodeClient parses an externally tagged client frame such as
// {"Move":{"dx":1,"dy":0,"distance":50}} or the bare string "Ready".
func DecodeClient(data []byte) (ClientMessage, error) {
	tag, body, err := splitTagged(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case "Join":
		var msg Join
		if err := decodeBody(tag, body, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "Move":
		var msg Move
		if err := decodeBody(tag, body, &msg); err != nil {
			return nil, err
		}
		//1.- Distances are never negative once decoded.
		if !(msg.Distance > 0) {
			msg.Distance = 0
		}
		return msg, nil
	case "Input":
		var wrapper struct {
			Input Input `json:"input"`
		}
		if err := decodeBody(tag, body, &wrapper); err != nil {
			return nil, err
		}
		return wrapper.Input, nil
	case "Ready":
		return Ready{}, nil
	case "Quit":
		return Quit{}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownMessage, tag)
	}
}

// EncodeClient renders a client frame; used by tooling and tests.
func EncodeClient(msg ClientMessage) ([]byte, error) {
	switch m := msg.(type) {
	case Join:
		return json.Marshal(struct {
			Join Join `json:"Join"`
		}{m})
	case Move:
		return json.Marshal(struct {
			Move Move `json:"Move"`
		}{m})
	case Input:
		type body struct {
			Input Input `json:"input"`
		}
		return json.Marshal(struct {
			Input body `json:"Input"`
		}{body{Input: m}})
	case Ready:
		return []byte(`"Ready"`), nil
	case Quit:
		return []byte(`"Quit"`), nil
	default:
		return nil, fmt.Errorf("%w %T", ErrUnknownMessage, msg)
	}
}

// EncodeServer renders a server frame as externally tagged JSON.
func EncodeServer(msg ServerMessage) ([]byte, error) {
	switch m := msg.(type) {
	case Welcome:
		return json.Marshal(struct {
			Welcome Welcome `json:"Welcome"`
		}{m})
	case StateUpdate:
		m.Snapshot = normaliseSnapshot(m.Snapshot)
		return json.Marshal(struct {
			StateUpdate StateUpdate `json:"StateUpdate"`
		}{m})
	case Bye:
		return json.Marshal(struct {
			Bye Bye `json:"Bye"`
		}{m})
	default:
		return nil, fmt.Errorf("%w %T", ErrUnknownMessage, msg)
	}
}

// DecodeServer parses a server frame; used by tooling and tests.
func DecodeServer(data []byte) (ServerMessage, error) {
	tag, body, err := splitTagged(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case "Welcome":
		var msg Welcome
		if err := decodeBody(tag, body, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "StateUpdate":
		var msg StateUpdate
		if err := decodeBody(tag, body, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "Bye":
		var msg Bye
		if err := decodeBody(tag, body, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownMessage, tag)
	}
}

// EncodeSnapshotMsgpack renders a snapshot in the compact binary form offered to spectators.
func EncodeSnapshotMsgpack(snapshot world.Snapshot) ([]byte, error) {
	snapshot = normaliseSnapshot(snapshot)
	return msgpack.Marshal(&snapshot)
}

// DecodeSnapshotMsgpack reverses EncodeSnapshotMsgpack.
func DecodeSnapshotMsgpack(data []byte) (world.Snapshot, error) {
	var snapshot world.Snapshot
	if err := msgpack.Unmarshal(data, &snapshot); err != nil {
		return world.Snapshot{}, fmt.Errorf("decode msgpack snapshot: %w", err)
	}
	return snapshot, nil
}

func splitTagged(data []byte) (string, json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return "", nil, ErrEmptyFrame
	}
	//1.- Unit variants may arrive as a bare JSON string.
	if trimmed[0] == '"' {
		var tag string
		if err := json.Unmarshal(trimmed, &tag); err != nil {
			return "", nil, fmt.Errorf("decode tag: %w", err)
		}
		return tag, nil, nil
	}
	//2.- Everything else is a single-key object naming the variant.
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(envelope) != 1 {
		return "", nil, fmt.Errorf("%w: expected exactly one tag, got %d", ErrUnknownMessage, len(envelope))
	}
	for tag, body := range envelope {
		return tag, body, nil
	}
	return "", nil, ErrUnknownMessage
}

func decodeBody(tag string, body json.RawMessage, dst any) error {
	if len(body) == 0 || bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		return fmt.Errorf("decode %s: missing body", tag)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode %s: %w", tag, err)
	}
	return nil
}

func normaliseSnapshot(snapshot world.Snapshot) world.Snapshot {
	if snapshot.Players == nil {
		snapshot.Players = []world.Player{}
	}
	if snapshot.Dots == nil {
		snapshot.Dots = []world.Dot{}
	}
	return snapshot
}
