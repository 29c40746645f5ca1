package replay

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ballarena/server/internal/state"
)

func TestRecorderRollSealsAndReopens(t *testing.T) {
	dir := t.TempDir()
	clock := newStepClock()
	recorder, err := NewRecorder(dir, "arena", testMetadata(), clock.Now)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	defer recorder.Close()

	first := recorder.Active()
	if err := recorder.RecordFrame(testSnapshot(1)); err != nil {
		t.Fatalf("RecordFrame: %v", err)
	}
	if err := recorder.RecordEvents([]state.Event{{Tick: 0, Kind: state.EventPlayerJoined, PlayerID: 1}}); err != nil {
		t.Fatalf("RecordEvents: %v", err)
	}

	sealed, err := recorder.Roll()
	if err != nil {
		t.Fatalf("Roll: %v", err)
	}
	if sealed != first {
		t.Fatalf("expected roll to seal %s, got %s", first, sealed)
	}
	if recorder.Active() == first || filepath.Dir(recorder.Active()) != dir {
		t.Fatalf("expected a fresh active bundle, got %s", recorder.Active())
	}

	loader, err := Load(sealed)
	if err != nil {
		t.Fatalf("Load sealed: %v", err)
	}
	if header, ok := loader.Header(); !ok || header.Frames != 1 || header.Events != 1 {
		t.Fatalf("unexpected sealed header %+v ok=%v", header, ok)
	}

	stats := recorder.Stats()
	if stats.Frames != 1 || stats.Events != 1 || stats.Rolls != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.FrameBytes == 0 || stats.LastSealed != sealed || stats.Bundle != recorder.Active() {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRecorderDumpReplayHonoursContext(t *testing.T) {
	recorder, err := NewRecorder(t.TempDir(), "arena", testMetadata(), newStepClock().Now)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	defer recorder.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := recorder.DumpReplay(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	path, err := recorder.DumpReplay(context.Background())
	if err != nil || path == "" {
		t.Fatalf("DumpReplay: path=%q err=%v", path, err)
	}
}

func TestRecorderRejectsRecordsAfterClose(t *testing.T) {
	recorder, err := NewRecorder(t.TempDir(), "arena", testMetadata(), time.Now)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := recorder.RecordFrame(testSnapshot(1)); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("expected ErrWriterClosed, got %v", err)
	}
	if _, err := recorder.Roll(); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("expected ErrWriterClosed from Roll, got %v", err)
	}
	if recorder.Active() != "" {
		t.Fatalf("expected no active bundle after close")
	}
}

func TestNilRecorderIsInert(t *testing.T) {
	var recorder *Recorder
	if err := recorder.RecordFrame(testSnapshot(1)); err != nil {
		t.Fatalf("nil RecordFrame: %v", err)
	}
	if err := recorder.RecordEvents([]state.Event{{Kind: state.EventPlayerLeft}}); err != nil {
		t.Fatalf("nil RecordEvents: %v", err)
	}
	if stats := recorder.Stats(); stats != (Stats{}) {
		t.Fatalf("expected zero stats, got %+v", stats)
	}
	if _, err := recorder.Roll(); err == nil {
		t.Fatalf("expected error rolling a nil recorder")
	}
}
