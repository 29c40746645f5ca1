package main

import (
	"context"
	"sync"
	"time"

	httpapi "ballarena/server/internal/http"
	"ballarena/server/internal/logging"
	"ballarena/server/internal/session"
	"ballarena/server/internal/simulation"
	"ballarena/server/internal/state"
	"ballarena/server/internal/world"
)

// sessionFanout is the slice of session.Manager the tick needs.
type sessionFanout interface {
	Broadcast(snapshot world.Snapshot) int
	Kick(id uint64, reason string) bool
	Stats() session.Stats
}

// frameRecorder persists what every tick produced.
type frameRecorder interface {
	RecordFrame(snapshot world.Snapshot) error
	RecordEvents(events []state.Event) error
}

// snapshotPublisher feeds spectators.
type snapshotPublisher interface {
	Publish(snapshot world.Snapshot) int
	Subscribers() int
	Published() int64
	Drops() int64
}

// ArenaOptions wires the tick to its collaborators. Recorder and Spectators are optional.
type ArenaOptions struct {
	Store      *state.Store
	Sessions   sessionFanout
	Recorder   frameRecorder
	Spectators snapshotPublisher
	Monitor    *simulation.TickMonitor
	Logger     *logging.Logger
	Now        func() time.Time
}

// Arena runs the authoritative tick: advance, snapshot, fan out.
type Arena struct {
	store      *state.Store
	sessions   sessionFanout
	recorder   frameRecorder
	spectators snapshotPublisher
	monitor    *simulation.TickMonitor
	log        *logging.Logger
	now        func() time.Time
	loop       *simulation.Loop
	startedAt  time.Time

	mu             sync.Mutex
	startupErr     error
	recordFailing  bool
	recordFailures uint64
}

// NewArena constructs the arena and its fixed-interval loop.
func NewArena(opts ArenaOptions, loopOpts ...simulation.LoopOption) *Arena {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	monitor := opts.Monitor
	interval := time.Duration(opts.Store.Constants().TickIntervalMs) * time.Millisecond
	if monitor == nil {
		monitor = simulation.NewTickMonitor(interval)
	}
	a := &Arena{
		store:      opts.Store,
		sessions:   opts.Sessions,
		recorder:   opts.Recorder,
		spectators: opts.Spectators,
		monitor:    monitor,
		log:        logger.With(logging.String("component", "arena")),
		now:        now,
		startedAt:  now(),
	}
	a.loop = simulation.NewLoop(interval, a.tick, loopOpts...)
	return a
}

// Start begins ticking until ctx ends or Stop is called.
func (a *Arena) Start(ctx context.Context) {
	a.log.Info("arena loop starting", logging.Duration("interval", a.loop.StepDuration()))
	a.loop.Start(ctx)
}

// Stop halts the loop and waits for the in-flight tick.
func (a *Arena) Stop() {
	a.loop.Stop()
}

func (a *Arena) tick(step time.Duration) {
	started := a.now()

	//1.- Moves and physics run under one store lock; nothing below holds it.
	events := a.store.Advance(step.Seconds())
	snapshot := a.store.Snapshot()

	if a.sessions != nil {
		a.sessions.Broadcast(snapshot)
	}
	a.record(snapshot, events)
	if a.spectators != nil {
		a.spectators.Publish(snapshot)
	}

	//2.- Consumed players were already removed from the world; close their transports.
	if a.sessions != nil {
		for _, id := range state.RemovedPlayers(events) {
			a.sessions.Kick(id, session.ByeConsumed)
		}
	}
	a.logEvents(events)

	elapsed := a.now().Sub(started)
	if a.monitor.Observe(elapsed) {
		a.log.Warn("tick overran budget", logging.Uint64("tick", snapshot.Tick), logging.Duration("elapsed", elapsed))
	}
}

func (a *Arena) record(snapshot world.Snapshot, events []state.Event) {
	if a.recorder == nil {
		return
	}
	err := a.recorder.RecordEvents(events)
	if err == nil {
		err = a.recorder.RecordFrame(snapshot)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.recordFailures++
		//1.- Log the first failure of a streak only.
		if !a.recordFailing {
			a.log.Error("replay recording failed", logging.Error(err), logging.Uint64("tick", snapshot.Tick))
		}
		a.recordFailing = true
		return
	}
	if a.recordFailing {
		a.log.Info("replay recording recovered", logging.Uint64("failures", a.recordFailures))
		a.recordFailing = false
	}
}

func (a *Arena) logEvents(events []state.Event) {
	for _, event := range events {
		fields := []logging.Field{
			logging.String("event", string(event.Kind)),
			logging.Uint64("tick", event.Tick),
			logging.Uint64("player_id", event.PlayerID),
		}
		switch event.Kind {
		case state.EventDotEaten, state.EventDotSpawned:
			a.log.Debug("dot event", append(fields, logging.Uint64("dot_id", event.DotID), logging.Uint64("score", event.Score))...)
		case state.EventPlayerConsumed:
			a.log.Info("player consumed", append(fields, logging.Uint64("consumer_id", event.OtherID), logging.String("policy", event.Detail))...)
		default:
			a.log.Info("arena event", append(fields, logging.String("detail", event.Detail))...)
		}
	}
}

// SetStartupError marks the arena unready, for example when an optional listener failed.
func (a *Arena) SetStartupError(err error) {
	a.mu.Lock()
	a.startupErr = err
	a.mu.Unlock()
}

// StartupError implements httpapi.ReadinessProvider.
func (a *Arena) StartupError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startupErr
}

// ClientCounts implements httpapi.ReadinessProvider.
func (a *Arena) ClientCounts() (clients, pending int) {
	if a.sessions == nil {
		return 0, 0
	}
	stats := a.sessions.Stats()
	return stats.Clients, int(stats.PendingHandshakes)
}

// Uptime implements httpapi.ReadinessProvider.
func (a *Arena) Uptime() time.Duration {
	return a.now().Sub(a.startedAt)
}

// Stats gathers the gameplay and delivery view for /metrics and /readyz.
func (a *Arena) Stats() httpapi.ArenaStats {
	tickStats := a.monitor.Snapshot()
	stats := httpapi.ArenaStats{
		Status:       string(a.store.Status()),
		Tick:         a.store.Tick(),
		Players:      a.store.PlayerCount(),
		Dots:         a.store.DotCount(),
		TickAverage:  tickStats.Average,
		TickMax:      tickStats.Max,
		TickOverruns: tickStats.Overruns,
		SkippedSteps: a.loop.Skipped(),
	}
	if a.sessions != nil {
		s := a.sessions.Stats()
		stats.Broadcasts = s.Broadcasts
		stats.DecodeErrors = s.DecodeErrors
		stats.Rejected = s.Rejected
		stats.Overflows = s.Overflows
		stats.Kicks = s.Kicks
	}
	if a.spectators != nil {
		stats.Spectators = a.spectators.Subscribers()
		stats.SpectatorFrames = uint64(a.spectators.Published())
		stats.SpectatorDrops = uint64(a.spectators.Drops())
	}
	return stats
}

var _ httpapi.ReadinessProvider = (*Arena)(nil)
