package replayplayer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ballarena/server/internal/replay"
	"ballarena/server/internal/state"
	"ballarena/server/internal/world"
)

// Frame is the condensed view of one recorded snapshot.
type Frame struct {
	Tick        uint64          `json:"tick"`
	CapturedAt  time.Time       `json:"captured_at"`
	Status      world.Status    `json:"status"`
	Players     int             `json:"players"`
	Dots        int             `json:"dots"`
	LeaderID    uint64          `json:"leader_id,omitempty"`
	LeaderName  string          `json:"leader_name,omitempty"`
	LeaderScore uint64          `json:"leader_score,omitempty"`
	Followed    *world.Player   `json:"followed,omitempty"`
	Snapshot    *world.Snapshot `json:"snapshot,omitempty"`
}

// Event is one gameplay event with its capture time.
type Event struct {
	CapturedAt time.Time `json:"captured_at"`
	state.Event
}

// Options narrows playback to a tick window. Zero To means no upper bound.
// A non-zero Follow attaches that player's record to every frame it appears in.
type Options struct {
	From          uint64
	To            uint64
	FullSnapshots bool
	Follow        uint64
}

// Playback is the timeline of a bundle rendered for operators.
type Playback struct {
	Manifest replay.Manifest `json:"manifest"`
	Header   *replay.Header  `json:"header,omitempty"`
	Events   []Event         `json:"events"`
	Frames   []Frame         `json:"frames"`
}

// ReplayBundle loads a bundle directory, or the directory of a manifest.json
// path, and condenses its timeline.
func ReplayBundle(path string, opts Options) (Playback, error) {
	if path == "" {
		return Playback{}, fmt.Errorf("path is required")
	}
	//1.- Accept either the bundle directory or its manifest file.
	info, err := os.Stat(path)
	if err != nil {
		return Playback{}, err
	}
	dir := path
	if !info.IsDir() {
		dir = filepath.Dir(path)
	}
	loader, err := replay.Load(dir)
	if err != nil {
		return Playback{}, err
	}

	playback := Playback{Manifest: loader.Manifest(), Events: []Event{}, Frames: []Frame{}}
	if header, ok := loader.Header(); ok {
		playback.Header = &header
	}
	//2.- Walk the merged timeline so events stay ahead of the frame they produced.
	err = loader.Replay(func(entry replay.TimelineEntry) error {
		if entry.Tick < opts.From || (opts.To > 0 && entry.Tick > opts.To) {
			return nil
		}
		switch {
		case entry.Event != nil:
			playback.Events = append(playback.Events, Event{CapturedAt: entry.CapturedAt, Event: *entry.Event})
		case entry.Frame != nil:
			playback.Frames = append(playback.Frames, condense(entry, opts))
		}
		return nil
	})
	return playback, err
}

func condense(entry replay.TimelineEntry, opts Options) Frame {
	snapshot := entry.Frame
	frame := Frame{
		Tick:       entry.Tick,
		CapturedAt: entry.CapturedAt,
		Status:     snapshot.Status,
		Players:    len(snapshot.Players),
		Dots:       len(snapshot.Dots),
	}
	//1.- Ties go to the lower id, matching the arena's id ordering.
	for _, player := range snapshot.Players {
		if frame.LeaderID == 0 || player.Score > frame.LeaderScore {
			frame.LeaderID = player.ID
			frame.LeaderName = player.Name
			frame.LeaderScore = player.Score
		}
	}
	if opts.Follow != 0 {
		if player, ok := snapshot.FindPlayer(opts.Follow); ok {
			frame.Followed = &player
		}
	}
	if opts.FullSnapshots {
		frame.Snapshot = snapshot
	}
	return frame
}
