package replay

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"ballarena/server/internal/protocol"
	"ballarena/server/internal/state"
	"ballarena/server/internal/world"
)

const (
	// ManifestName, HeaderName, EventsName and FramesName are the files inside a bundle.
	ManifestName = "manifest.json"
	HeaderName   = "header.json"
	EventsName   = "events.jsonl.sz"
	FramesName   = "frames.bin.zst"

	manifestVersion = 1
	// frameHeaderSize covers tick, server time, capture time and payload length.
	frameHeaderSize = 8 + 8 + 8 + 4
	bundleTimestamp = "20060102T150405Z"
)

var arenaIDCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// ErrWriterClosed is returned when appending to a sealed bundle.
var ErrWriterClosed = errors.New("replay writer closed")

// Manifest describes the replay bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version      int    `json:"version"`
	ArenaID      string `json:"arena_id"`
	CreatedAt    string `json:"created_at"`
	FrameCodec   string `json:"frame_codec"`
	EventsPath   string `json:"events_path"`
	FramesPath   string `json:"frames_path"`
	TickInterval int64  `json:"tick_interval_ms"`
}

// eventRecord is one line of events.jsonl.sz.
type eventRecord struct {
	CapturedAt string `json:"captured_at"`
	state.Event
}

// Writer streams snapshots and gameplay events into a bundle directory.
type Writer struct {
	mu          sync.Mutex
	dir         string
	arenaID     string
	now         func() time.Time
	meta        Metadata
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	frames      int64
	events      int64
	frameBytes  int64
	firstTick   uint64
	lastTick    uint64
	closed      bool
}

// NewWriter creates a fresh bundle directory under root and opens compressed sinks.
func NewWriter(root, arenaID string, meta Metadata, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("replay root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	cleaned := arenaIDCleaner.ReplaceAllString(arenaID, "")
	if cleaned == "" {
		cleaned = "arena"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, Manifest{}, err
	}
	created := clock().UTC()
	path, err := createBundleDir(root, fmt.Sprintf("%s-%s", cleaned, created.Format(bundleTimestamp)))
	if err != nil {
		return nil, Manifest{}, err
	}

	eventFile, err := os.Create(filepath.Join(path, EventsName))
	if err != nil {
		return nil, Manifest{}, err
	}
	eventStream := snappy.NewBufferedWriter(eventFile)

	frameFile, err := os.Create(filepath.Join(path, FramesName))
	if err != nil {
		eventFile.Close()
		return nil, Manifest{}, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventStream.Close()
		eventFile.Close()
		frameFile.Close()
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:      manifestVersion,
		ArenaID:      arenaID,
		CreatedAt:    created.Format(time.RFC3339Nano),
		FrameCodec:   "msgpack",
		EventsPath:   EventsName,
		FramesPath:   FramesName,
		TickInterval: meta.Constants.TickIntervalMs,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(path, ManifestName), data, 0o644)
	}
	if err != nil {
		frameStream.Close()
		frameFile.Close()
		eventStream.Close()
		eventFile.Close()
		return nil, Manifest{}, err
	}

	return &Writer{
		dir:         path,
		arenaID:     arenaID,
		now:         clock,
		meta:        meta,
		eventFile:   eventFile,
		eventStream: eventStream,
		frameFile:   frameFile,
		frameStream: frameStream,
	}, manifest, nil
}

// createBundleDir claims a unique directory, suffixing a counter when two
// bundles are opened within the same second.
func createBundleDir(root, base string) (string, error) {
	name := base
	for attempt := 2; ; attempt++ {
		path := filepath.Join(root, name)
		err := os.Mkdir(path, 0o755)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) || attempt > 1000 {
			return "", err
		}
		name = fmt.Sprintf("%s-%d", base, attempt)
	}
}

// Directory exposes the directory backing the replay bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// AppendFrame writes one length-prefixed msgpack snapshot and returns the payload size.
func (w *Writer) AppendFrame(snapshot world.Snapshot) (int, error) {
	if w == nil {
		return 0, fmt.Errorf("writer not initialised")
	}
	payload, err := protocol.EncodeSnapshotMsgpack(snapshot)
	if err != nil {
		return 0, err
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrWriterClosed
	}

	header := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint64(header[0:8], snapshot.Tick)
	binary.LittleEndian.PutUint64(header[8:16], uint64(snapshot.ServerTimeMs))
	binary.LittleEndian.PutUint64(header[16:24], uint64(captured.UnixNano()))
	binary.LittleEndian.PutUint32(header[24:28], uint32(len(payload)))
	if _, err := w.frameStream.Write(header); err != nil {
		return 0, err
	}
	if _, err := w.frameStream.Write(payload); err != nil {
		return 0, err
	}
	if w.frames == 0 {
		w.firstTick = snapshot.Tick
	}
	w.lastTick = snapshot.Tick
	w.frames++
	w.frameBytes += int64(len(payload))
	return len(payload), nil
}

// AppendEvents writes one JSON line per event to the snappy stream.
func (w *Writer) AppendEvents(events []state.Event) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	if len(events) == 0 {
		return nil
	}
	captured := w.now().UTC().Format(time.RFC3339Nano)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	for _, event := range events {
		line, err := json.Marshal(eventRecord{CapturedAt: captured, Event: event})
		if err != nil {
			return err
		}
		if _, err := w.eventStream.Write(append(line, '\n')); err != nil {
			return err
		}
		w.events++
	}
	return w.eventStream.Flush()
}

// Flush pushes buffered frames and events to the underlying files.
func (w *Writer) Flush() error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if err := w.frameStream.Flush(); err != nil {
		return err
	}
	return w.eventStream.Flush()
}

// Close writes header.json and releases the file handles. It is idempotent.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	//1.- Attempt every close and surface the first failure.
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(w.eventStream.Close())
	keep(w.eventFile.Close())
	keep(w.frameStream.Close())
	keep(w.frameFile.Close())

	//2.- Seal the bundle last so a present header means complete streams.
	header := Header{
		SchemaVersion: HeaderSchemaVersion,
		ArenaID:       w.arenaID,
		Metadata:      w.meta,
		FirstTick:     w.firstTick,
		LastTick:      w.lastTick,
		Frames:        w.frames,
		Events:        w.events,
		SealedAt:      w.now().UTC().Format(time.RFC3339Nano),
		FilePointer:   ManifestName,
	}
	if header.ArenaID == "" {
		header.ArenaID = "arena"
	}
	keep(WriteHeader(filepath.Join(w.dir, HeaderName), header))
	return firstErr
}

// Counts reports frames, events and uncompressed frame bytes written so far.
func (w *Writer) Counts() (frames, events, frameBytes int64) {
	if w == nil {
		return 0, 0, 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames, w.events, w.frameBytes
}
