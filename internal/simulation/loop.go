package simulation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxCatchUp bounds how many steps a late tick may replay.
const DefaultMaxCatchUp = 5

// StepFunc advances the simulation by one fixed timestep.
type StepFunc func(step time.Duration)

// Loop drives a fixed timestep simulation at the configured interval.
type Loop struct {
	step       time.Duration
	stepFunc   StepFunc
	maxCatchUp int
	now        func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	skipped atomic.Uint64
	steps   atomic.Uint64
}

// LoopOption customises a Loop.
type LoopOption func(*Loop)

// WithMaxCatchUp overrides how many steps one late wake-up may run.
func WithMaxCatchUp(steps int) LoopOption {
	return func(l *Loop) {
		if steps > 0 {
			l.maxCatchUp = steps
		}
	}
}

// WithLoopClock overrides the time source used to measure elapsed time.
func WithLoopClock(clock func() time.Time) LoopOption {
	return func(l *Loop) {
		if clock != nil {
			l.now = clock
		}
	}
}

// NewLoop configures a loop that steps every interval.
func NewLoop(interval time.Duration, step StepFunc, opts ...LoopOption) *Loop {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	if step == nil {
		step = func(time.Duration) {}
	}
	loop := &Loop{
		step:       interval,
		stepFunc:   step,
		maxCatchUp: DefaultMaxCatchUp,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(loop)
		}
	}
	return loop
}

// Start begins ticking until the context is cancelled or Stop is invoked.
func (l *Loop) Start(ctx context.Context) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})

	ticker := time.NewTicker(l.step)
	go func(done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		last := l.now()
		accumulator := time.Duration(0)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := l.now()
				//1.- Accumulate elapsed time and run fixed steps while catching up.
				accumulator += now.Sub(last)
				last = now
				accumulator = l.advance(accumulator)
			}
		}
	}(l.done)
}

// advance runs whole steps out of the accumulator and returns the remainder.
func (l *Loop) advance(accumulator time.Duration) time.Duration {
	ran := 0
	for accumulator >= l.step && ran < l.maxCatchUp {
		l.stepFunc(l.step)
		l.steps.Add(1)
		accumulator -= l.step
		ran++
	}
	//1.- A backlog beyond the catch-up budget is dropped rather than replayed.
	if accumulator >= l.step {
		l.skipped.Add(uint64(accumulator / l.step))
		accumulator %= l.step
	}
	return accumulator
}

// Stop cancels the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// StepDuration exposes the configured timestep.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.step
}

// Steps reports how many steps have run.
func (l *Loop) Steps() uint64 {
	if l == nil {
		return 0
	}
	return l.steps.Load()
}

// Skipped reports how many steps were dropped because the loop fell too far behind.
func (l *Loop) Skipped() uint64 {
	if l == nil {
		return 0
	}
	return l.skipped.Load()
}
