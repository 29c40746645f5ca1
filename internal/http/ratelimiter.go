package httpapi

import (
	"sync"
	"time"
)

// SlidingWindowLimiter admits at most limit calls in any trailing window.
// A zero window or limit disables limiting.
type SlidingWindowLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu    sync.Mutex
	calls []time.Time // ring of admitted call times, oldest at next
	next  int
}

// NewSlidingWindowLimiter constructs a limiter allowing up to limit calls per window.
func NewSlidingWindowLimiter(window time.Duration, limit int, timeSource func() time.Time) *SlidingWindowLimiter {
	if timeSource == nil {
		timeSource = time.Now
	}
	l := &SlidingWindowLimiter{window: window, limit: limit, now: timeSource}
	if l.enabled() {
		l.calls = make([]time.Time, 0, limit)
	}
	return l
}

func (l *SlidingWindowLimiter) enabled() bool {
	return l != nil && l.limit > 0 && l.window > 0
}

// Allow records a call and reports whether it fits in the window.
func (l *SlidingWindowLimiter) Allow() bool {
	if !l.enabled() {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.calls) < l.limit {
		l.calls = append(l.calls, now)
		return true
	}
	//1.- The ring is full; the oldest slot frees up once it leaves the window.
	if now.Sub(l.calls[l.next]) < l.window {
		return false
	}
	l.calls[l.next] = now
	l.next = (l.next + 1) % l.limit
	return true
}

// RetryAfter reports how long until the next call would be admitted.
func (l *SlidingWindowLimiter) RetryAfter() time.Duration {
	if !l.enabled() {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.calls) < l.limit {
		return 0
	}
	wait := l.window - l.now().Sub(l.calls[l.next])
	if wait < 0 {
		return 0
	}
	return wait
}
