package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ballarena/server/internal/state"
	"ballarena/server/internal/world"
)

// Recorder owns the active bundle writer and rolls it on demand.
type Recorder struct {
	mu         sync.Mutex
	dir        string
	arenaID    string
	meta       Metadata
	now        func() time.Time
	writer     *Writer
	frames     int64
	events     int64
	frameBytes int64
	rolls      int64
	lastRoll   time.Time
	lastSealed string
}

// Stats summarises recorder health for monitoring endpoints.
type Stats struct {
	Bundle       string
	Frames       int64
	Events       int64
	FrameBytes   int64
	Rolls        int64
	LastSealed   string
	LastRollTime time.Time
}

// NewRecorder opens the first bundle for arenaID under dir.
func NewRecorder(dir, arenaID string, meta Metadata, clock func() time.Time) (*Recorder, error) {
	if dir == "" {
		return nil, fmt.Errorf("replay directory must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	writer, _, err := NewWriter(dir, arenaID, meta, clock)
	if err != nil {
		return nil, err
	}
	return &Recorder{dir: dir, arenaID: arenaID, meta: meta, now: clock, writer: writer}, nil
}

// RecordFrame appends a broadcast snapshot to the active bundle.
func (r *Recorder) RecordFrame(snapshot world.Snapshot) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return ErrWriterClosed
	}
	size, err := r.writer.AppendFrame(snapshot)
	if err != nil {
		return err
	}
	r.frames++
	r.frameBytes += int64(size)
	return nil
}

// RecordEvents appends gameplay events to the active bundle.
func (r *Recorder) RecordEvents(events []state.Event) error {
	if r == nil || len(events) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return ErrWriterClosed
	}
	if err := r.writer.AppendEvents(events); err != nil {
		return err
	}
	r.events += int64(len(events))
	return nil
}

// Roll seals the active bundle, opens a fresh one and returns the sealed directory.
func (r *Recorder) Roll() (string, error) {
	if r == nil {
		return "", fmt.Errorf("recorder not configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return "", ErrWriterClosed
	}

	//1.- Open the successor first so recording never stops on a failed roll.
	next, _, err := NewWriter(r.dir, r.arenaID, r.meta, r.now)
	if err != nil {
		return "", err
	}
	sealed := r.writer.Directory()
	closeErr := r.writer.Close()
	r.writer = next
	r.rolls++
	r.lastRoll = r.now().UTC()
	r.lastSealed = sealed
	if closeErr != nil {
		return sealed, fmt.Errorf("seal %s: %w", sealed, closeErr)
	}
	return sealed, nil
}

// DumpReplay rolls the active bundle so operators can fetch a sealed copy.
func (r *Recorder) DumpReplay(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return r.Roll()
}

// Active reports the directory of the bundle currently being written.
func (r *Recorder) Active() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writer.Directory()
}

// Close seals the active bundle. Later records fail with ErrWriterClosed.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return nil
	}
	err := r.writer.Close()
	r.lastSealed = r.writer.Directory()
	r.writer = nil
	return err
}

// Stats returns a copy of the recorder counters.
func (r *Recorder) Stats() Stats {
	if r == nil {
		return Stats{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Bundle:       r.writer.Directory(),
		Frames:       r.frames,
		Events:       r.events,
		FrameBytes:   r.frameBytes,
		Rolls:        r.rolls,
		LastSealed:   r.lastSealed,
		LastRollTime: r.lastRoll,
	}
}
