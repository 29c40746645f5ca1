package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ballarena/server/internal/world"
)

// HeaderSchemaVersion tracks the schema version for replay header documents.
const HeaderSchemaVersion = 1

// Metadata describes the arena configuration a bundle was recorded under.
type Metadata struct {
	Seed          int64           `json:"seed"`
	Constants     world.Constants `json:"constants"`
	DotCount      int             `json:"dot_count"`
	ConsumePolicy string          `json:"consume_policy"`
}

// Header is persisted as header.json when a bundle is sealed.
type Header struct {
	SchemaVersion int      `json:"schema_version"`
	ArenaID       string   `json:"arena_id"`
	Metadata      Metadata `json:"metadata"`
	FirstTick     uint64   `json:"first_tick"`
	LastTick      uint64   `json:"last_tick"`
	Frames        int64    `json:"frames"`
	Events        int64    `json:"events"`
	SealedAt      string   `json:"sealed_at"`
	FilePointer   string   `json:"file_pointer"`
}

// Validate ensures the header contains enough information for inspection tooling.
func (h Header) Validate() error {
	if h.SchemaVersion <= 0 {
		return fmt.Errorf("schema_version must be positive")
	}
	if strings.TrimSpace(h.ArenaID) == "" {
		return fmt.Errorf("arena_id must not be empty")
	}
	if strings.TrimSpace(h.FilePointer) == "" {
		return fmt.Errorf("file_pointer must not be empty")
	}
	if h.Frames > 0 && h.LastTick < h.FirstTick {
		return fmt.Errorf("last_tick %d precedes first_tick %d", h.LastTick, h.FirstTick)
	}
	return nil
}

// WriteHeader persists the supplied header to the provided file path.
func WriteHeader(path string, header Header) error {
	if err := header.Validate(); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(header, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}

// ReadHeader loads and decodes a replay header from disk.
func ReadHeader(path string) (Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, err
	}
	var header Header
	if err := json.Unmarshal(data, &header); err != nil {
		return Header{}, err
	}
	if err := header.Validate(); err != nil {
		return Header{}, err
	}
	return header, nil
}
