package spectate

import (
	"fmt"
	"strings"

	"ballarena/server/internal/protocol"
	"ballarena/server/internal/world"
)

const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// Encoding pairs a payload codec with a compressor, written as "codec+compression".
type Encoding struct {
	Codec      string
	Compressor Compressor
}

// ParseEncoding resolves strings such as "json", "msgpack+zstd" or
// "json+identity". An empty value means json, and a codec without a
// compression suffix uses defaultCompression.
func ParseEncoding(raw, defaultCompression string) (Encoding, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		value = CodecJSON
	}
	codec, compression, found := strings.Cut(value, "+")
	switch codec {
	case CodecJSON, CodecMsgpack:
	default:
		return Encoding{}, fmt.Errorf("unsupported codec %q", codec)
	}
	if !found {
		compression = defaultCompression
	}
	compressor, err := LookupCompressor(compression)
	if err != nil {
		return Encoding{}, err
	}
	return Encoding{Codec: codec, Compressor: compressor}, nil
}

// Name renders the canonical encoding string echoed back to spectators.
func (e Encoding) Name() string {
	compression := "identity"
	if e.Compressor != nil {
		compression = e.Compressor.Name()
	}
	return e.Codec + "+" + compression
}

// Encode serialises a snapshot. The json codec reuses the websocket StateUpdate frame.
func (e Encoding) Encode(snapshot world.Snapshot) ([]byte, error) {
	var (
		payload []byte
		err     error
	)
	switch e.Codec {
	case CodecMsgpack:
		payload, err = protocol.EncodeSnapshotMsgpack(snapshot)
	default:
		payload, err = protocol.EncodeServer(protocol.StateUpdate{Snapshot: snapshot})
	}
	if err != nil {
		return nil, err
	}
	if e.Compressor == nil {
		return payload, nil
	}
	return e.Compressor.Compress(payload)
}

// Decode reverses Encode.
func (e Encoding) Decode(data []byte) (world.Snapshot, error) {
	payload := data
	if e.Compressor != nil {
		var err error
		if payload, err = e.Compressor.Decompress(data); err != nil {
			return world.Snapshot{}, err
		}
	}
	if e.Codec == CodecMsgpack {
		return protocol.DecodeSnapshotMsgpack(payload)
	}
	msg, err := protocol.DecodeServer(payload)
	if err != nil {
		return world.Snapshot{}, err
	}
	update, ok := msg.(protocol.StateUpdate)
	if !ok {
		return world.Snapshot{}, fmt.Errorf("unexpected %T in spectator frame", msg)
	}
	return update.Snapshot, nil
}
