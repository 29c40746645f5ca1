package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ballarena/server/internal/logging"
	"ballarena/server/internal/session"
	"ballarena/server/internal/simulation"
	"ballarena/server/internal/spectate"
	"ballarena/server/internal/state"
	"ballarena/server/internal/world"
)

type fakeFanout struct {
	mu        sync.Mutex
	snapshots []world.Snapshot
	kicks     map[uint64]string
	stats     session.Stats
}

func newFakeFanout() *fakeFanout {
	return &fakeFanout{kicks: make(map[uint64]string)}
}

func (f *fakeFanout) Broadcast(snapshot world.Snapshot) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, snapshot)
	f.stats.Broadcasts++
	return 1
}

func (f *fakeFanout) Kick(id uint64, reason string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicks[id] = reason
	f.stats.Kicks++
	return true
}

func (f *fakeFanout) Stats() session.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

type fakeRecorder struct {
	frames []uint64
	events []state.Event
	err    error
}

func (r *fakeRecorder) RecordFrame(snapshot world.Snapshot) error {
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, snapshot.Tick)
	return nil
}

func (r *fakeRecorder) RecordEvents(events []state.Event) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, events...)
	return nil
}

type arenaFixture struct {
	arena    *Arena
	store    *state.Store
	fanout   *fakeFanout
	recorder *fakeRecorder
	hub      *spectate.Hub
	clock    *time.Time
}

func newArenaFixture(t *testing.T, policy state.ConsumePolicy) *arenaFixture {
	t.Helper()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	store := state.NewStore(state.Config{Constants: world.DefaultConstants(), ConsumePolicy: policy, Seed: 7})
	fx := &arenaFixture{store: store, fanout: newFakeFanout(), recorder: &fakeRecorder{}, hub: spectate.NewHub(4), clock: clock}
	fx.arena = NewArena(ArenaOptions{
		Store:      store,
		Sessions:   fx.fanout,
		Recorder:   fx.recorder,
		Spectators: fx.hub,
		Monitor:    simulation.NewTickMonitor(50 * time.Millisecond),
		Logger:     logging.NewTestLogger(),
		Now:        func() time.Time { return *clock },
	})
	return fx
}

func placeArenaPlayer(store *state.Store, id uint64, x, y float64, score uint64) {
	store.PutPlayer(world.Player{ID: id, Name: "P", X: x, Y: y, Score: score, Radius: 10, Speed: 150})
}

func TestArenaTickFansOutOneSnapshot(t *testing.T) {
	fx := newArenaFixture(t, state.ConsumeRemove)
	placeArenaPlayer(fx.store, 1, 300, 300, 0)
	spectator, cancel := fx.hub.Subscribe()
	defer cancel()

	fx.arena.tick(50 * time.Millisecond)

	if len(fx.fanout.snapshots) != 1 || fx.fanout.snapshots[0].Tick != 1 {
		t.Fatalf("expected one broadcast of tick 1, got %+v", fx.fanout.snapshots)
	}
	if len(fx.recorder.frames) != 1 || fx.recorder.frames[0] != 1 {
		t.Fatalf("expected tick 1 recorded, got %v", fx.recorder.frames)
	}
	select {
	case snapshot := <-spectator:
		if snapshot.Tick != 1 {
			t.Fatalf("spectator saw tick %d", snapshot.Tick)
		}
	default:
		t.Fatalf("expected spectator to receive the snapshot")
	}
}

func TestArenaTickKicksConsumedPlayers(t *testing.T) {
	fx := newArenaFixture(t, state.ConsumeRemove)
	placeArenaPlayer(fx.store, 1, 500, 500, 100)
	placeArenaPlayer(fx.store, 2, 510, 500, 1)

	fx.arena.tick(50 * time.Millisecond)

	if reason, ok := fx.fanout.kicks[2]; !ok || reason != session.ByeConsumed {
		t.Fatalf("expected player 2 kicked as consumed, got %v", fx.fanout.kicks)
	}
	if _, ok := fx.fanout.kicks[1]; ok {
		t.Fatalf("eater must not be kicked")
	}
	if _, ok := fx.fanout.snapshots[0].FindPlayer(2); ok {
		t.Fatalf("broadcast snapshot still lists the consumed player")
	}
	consumed := false
	for _, event := range fx.recorder.events {
		if event.Kind == state.EventPlayerConsumed && event.PlayerID == 2 && event.OtherID == 1 {
			consumed = true
		}
	}
	if !consumed {
		t.Fatalf("expected consume event to be recorded, got %+v", fx.recorder.events)
	}
}

func TestArenaTickRespawnPolicyKeepsSession(t *testing.T) {
	fx := newArenaFixture(t, state.ConsumeRespawn)
	placeArenaPlayer(fx.store, 1, 500, 500, 100)
	placeArenaPlayer(fx.store, 2, 510, 500, 1)

	fx.arena.tick(50 * time.Millisecond)

	if len(fx.fanout.kicks) != 0 {
		t.Fatalf("respawn policy must not kick, got %v", fx.fanout.kicks)
	}
	player, ok := fx.store.Player(2)
	if !ok || player.Score != 0 {
		t.Fatalf("expected player 2 respawned with zero score, got %+v ok=%v", player, ok)
	}
}

func TestArenaKeepsTickingWhenRecordingFails(t *testing.T) {
	fx := newArenaFixture(t, state.ConsumeRemove)
	fx.recorder.err = errors.New("disk full")

	fx.arena.tick(50 * time.Millisecond)
	fx.arena.tick(50 * time.Millisecond)

	if len(fx.fanout.snapshots) != 2 {
		t.Fatalf("expected broadcasts to continue, got %d", len(fx.fanout.snapshots))
	}
	if fx.arena.recordFailures != 2 || !fx.arena.recordFailing {
		t.Fatalf("expected failure streak of 2, got %d", fx.arena.recordFailures)
	}
	fx.recorder.err = nil
	fx.arena.tick(50 * time.Millisecond)
	if fx.arena.recordFailing {
		t.Fatalf("expected recording to recover")
	}
}

func TestArenaStatsAndReadiness(t *testing.T) {
	fx := newArenaFixture(t, state.ConsumeRemove)
	placeArenaPlayer(fx.store, 1, 300, 300, 0)
	fx.fanout.stats.Clients = 3
	fx.fanout.stats.PendingHandshakes = 1
	_, cancel := fx.hub.Subscribe()
	defer cancel()

	fx.arena.tick(50 * time.Millisecond)
	*fx.clock = fx.clock.Add(90 * time.Second)

	stats := fx.arena.Stats()
	if stats.Status != string(world.StatusWaitingToStart) || stats.Tick != 1 || stats.Players != 1 {
		t.Fatalf("unexpected gameplay stats %+v", stats)
	}
	if stats.Broadcasts != 1 || stats.Spectators != 1 || stats.SpectatorFrames != 1 {
		t.Fatalf("unexpected delivery stats %+v", stats)
	}
	clients, pending := fx.arena.ClientCounts()
	if clients != 3 || pending != 1 {
		t.Fatalf("unexpected client counts %d/%d", clients, pending)
	}
	if fx.arena.Uptime() != 90*time.Second {
		t.Fatalf("unexpected uptime %s", fx.arena.Uptime())
	}
	if fx.arena.StartupError() != nil {
		t.Fatalf("expected no startup error")
	}
	fx.arena.SetStartupError(errors.New("grpc listen failed"))
	if fx.arena.StartupError() == nil {
		t.Fatalf("expected startup error to be reported")
	}
}

func TestArenaLoopRunsTicks(t *testing.T) {
	store := state.NewStore(state.Config{Constants: world.Constants{
		TickIntervalMs: 5, CollideSizeFraction: 1.1, MoveSpeedBase: 150, DotRadius: 4, PlayerRadius: 10, WorldSize: 2000,
	}})
	fanout := newFakeFanout()
	arena := NewArena(ArenaOptions{Store: store, Sessions: fanout, Logger: logging.NewTestLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	arena.Start(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for fanout.Stats().Broadcasts < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("loop did not tick, broadcasts=%d", fanout.Stats().Broadcasts)
		}
		time.Sleep(5 * time.Millisecond)
	}
	arena.Stop()
	if store.Tick() < 3 {
		t.Fatalf("expected store to advance, tick=%d", store.Tick())
	}
}
