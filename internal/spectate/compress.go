package spectate

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compressor applies symmetric compression to payload byte slices.
type Compressor interface {
	//1.- Name returns the codec identifier advertised to spectators.
	Name() string
	//2.- Compress encodes the provided payload into a compressed representation.
	Compress(data []byte) ([]byte, error)
	//3.- Decompress restores the original payload from its compressed form.
	Decompress(data []byte) ([]byte, error)
}

var (
	sharedZstdOnce sync.Once
	sharedZstd     Compressor
	sharedZstdErr  error
)

// LookupCompressor resolves a compressor by its advertised name.
func LookupCompressor(name string) (Compressor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "identity":
		return identityCompressor{}, nil
	case "gzip":
		return gzipCompressor{}, nil
	case "zstd":
		sharedZstdOnce.Do(func() { sharedZstd, sharedZstdErr = NewZstdCompressor() })
		return sharedZstd, sharedZstdErr
	case "snappy":
		return snappyCompressor{}, nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", name)
	}
}

type identityCompressor struct{}

func (identityCompressor) Name() string { return "identity" }

func (identityCompressor) Compress(data []byte) ([]byte, error) { return data, nil }

func (identityCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }

type gzipCompressor struct{}

func (gzipCompressor) Name() string { return "gzip" }

func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("gzip decompress: empty payload")
	}
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer reader.Close()
	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out, nil
}

// zstdCompressor shares one encoder and decoder; EncodeAll and DecodeAll are
// safe for concurrent use.
type zstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCompressor constructs a stateless-call zstd compressor.
func NewZstdCompressor() (Compressor, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &zstdCompressor{encoder: encoder, decoder: decoder}, nil
}

func (z *zstdCompressor) Name() string { return "zstd" }

func (z *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return z.encoder.EncodeAll(data, nil), nil
}

func (z *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := z.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

type snappyCompressor struct{}

func (snappyCompressor) Name() string { return "snappy" }

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress: %w", err)
	}
	return out, nil
}
