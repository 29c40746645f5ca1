package replay

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"ballarena/server/internal/protocol"
	"ballarena/server/internal/state"
	"ballarena/server/internal/world"
)

const (
	EntryEvent = "event"
	EntryFrame = "frame"
)

// maxFramePayload bounds a single decoded frame so corrupt lengths fail fast.
const maxFramePayload = 64 << 20

// TimelineEntry represents a single replay datum ready for ordered iteration.
type TimelineEntry struct {
	Tick       uint64          `json:"tick"`
	CapturedAt time.Time       `json:"captured_at"`
	Type       string          `json:"type"`
	Frame      *world.Snapshot `json:"frame,omitempty"`
	Event      *state.Event    `json:"event,omitempty"`
}

// Loader rehydrates a bundle directory for inspection tooling.
type Loader struct {
	dir      string
	manifest Manifest
	header   *Header
	entries  []TimelineEntry
}

// Load reads a bundle directory written by Writer. A bundle that has not been
// sealed yet loads without a header.
func Load(dir string) (*Loader, error) {
	if dir == "" {
		return nil, fmt.Errorf("replay path must be provided")
	}
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if manifest.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %d", manifest.Version)
	}

	loader := &Loader{dir: dir, manifest: manifest}
	header, err := ReadHeader(filepath.Join(dir, HeaderName))
	switch {
	case err == nil:
		loader.header = &header
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read header: %w", err)
	}

	events, err := readEvents(filepath.Join(dir, manifest.EventsPath))
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	frames, err := readFrames(filepath.Join(dir, manifest.FramesPath), loader.header != nil)
	if err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}

	entries := append(events, frames...)
	//1.- Events of a step precede the snapshot that step produced.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Tick == entries[j].Tick {
			return entries[i].Type < entries[j].Type
		}
		return entries[i].Tick < entries[j].Tick
	})
	loader.entries = entries
	return loader, nil
}

func readEvents(path string) ([]TimelineEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var entries []TimelineEntry
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var record eventRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, err
		}
		captured, err := time.Parse(time.RFC3339Nano, record.CapturedAt)
		if err != nil {
			return nil, fmt.Errorf("parse captured_at: %w", err)
		}
		event := record.Event
		entries = append(entries, TimelineEntry{Tick: event.Tick, CapturedAt: captured, Type: EntryEvent, Event: &event})
	}
	return entries, scanner.Err()
}

// readFrames decodes length-prefixed snapshots. An unsealed bundle may end
// mid-frame, so a read failure on a record boundary just ends its timeline.
func readFrames(path string, sealed bool) ([]TimelineEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	var entries []TimelineEntry
	header := make([]byte, frameHeaderSize)
	for {
		if n, err := io.ReadFull(decoder, header); err != nil {
			if errors.Is(err, io.EOF) || (!sealed && n == 0) {
				return entries, nil
			}
			return nil, fmt.Errorf("frame %d header: %w", len(entries), err)
		}
		tick := binary.LittleEndian.Uint64(header[0:8])
		captured := time.Unix(0, int64(binary.LittleEndian.Uint64(header[16:24]))).UTC()
		size := binary.LittleEndian.Uint32(header[24:28])
		if size > maxFramePayload {
			return nil, fmt.Errorf("frame %d payload of %d bytes exceeds limit", len(entries), size)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(decoder, payload); err != nil {
			return nil, fmt.Errorf("frame %d payload: %w", len(entries), err)
		}
		snapshot, err := protocol.DecodeSnapshotMsgpack(payload)
		if err != nil {
			return nil, fmt.Errorf("frame %d decode: %w", len(entries), err)
		}
		if snapshot.Tick != tick {
			return nil, fmt.Errorf("frame %d tick mismatch: header %d, payload %d", len(entries), tick, snapshot.Tick)
		}
		entries = append(entries, TimelineEntry{Tick: tick, CapturedAt: captured, Type: EntryFrame, Frame: &snapshot})
	}
}

// Directory reports the bundle directory.
func (l *Loader) Directory() string {
	if l == nil {
		return ""
	}
	return l.dir
}

// Manifest returns the bundle manifest.
func (l *Loader) Manifest() Manifest {
	if l == nil {
		return Manifest{}
	}
	return l.manifest
}

// Header returns the sealed header, if the bundle has one.
func (l *Loader) Header() (Header, bool) {
	if l == nil || l.header == nil {
		return Header{}, false
	}
	return *l.header, true
}

// Replay iterates over the loaded entries in timeline order.
func (l *Loader) Replay(apply func(TimelineEntry) error) error {
	if l == nil {
		return fmt.Errorf("loader not initialised")
	}
	if apply == nil {
		return fmt.Errorf("replay callback must be provided")
	}
	for _, entry := range l.entries {
		if err := apply(entry); err != nil {
			return err
		}
	}
	return nil
}

// Entries exposes a copy of the timeline for external assertions.
func (l *Loader) Entries() []TimelineEntry {
	if l == nil {
		return nil
	}
	out := make([]TimelineEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Frames returns only the snapshot entries, in tick order.
func (l *Loader) Frames() []world.Snapshot {
	if l == nil {
		return nil
	}
	var frames []world.Snapshot
	for _, entry := range l.entries {
		if entry.Frame != nil {
			frames = append(frames, *entry.Frame)
		}
	}
	return frames
}
