// Package ratelimit provides a sliding-window limiter combining a minimum
// inter-request interval with a maximum request count per rolling window.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces both a minimum gap between requests and a cap on
// requests per rolling window. TryAcquire is synchronous and non-blocking:
// callers must treat false as "skip this cycle", never wait on it.
type Limiter struct {
	gap          *rate.Limiter
	window       time.Duration
	maxPerWindow int

	mu    sync.Mutex
	times []time.Time
	now   func() time.Time
}

// New creates a Limiter with the given minimum interval between requests
// and maximum request count per rolling window.
func New(minInterval time.Duration, maxPerWindow int, window time.Duration) *Limiter {
	return &Limiter{
		gap:          rate.NewLimiter(rate.Every(minInterval), 1),
		window:       window,
		maxPerWindow: maxPerWindow,
		now:          time.Now,
	}
}

// TryAcquire reserves one request slot if neither limit would be exceeded.
// The check and the reservation are atomic under one lock, so concurrent
// callers sharing the limiter cannot race past the caps.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	// Drop timestamps that slid out of the window. The boundary is
	// inclusive: a request exactly one window old still counts.
	cutoff := now.Add(-l.window)
	kept := l.times[:0]
	for _, t := range l.times {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	l.times = kept

	if len(l.times) >= l.maxPerWindow {
		return false
	}
	// The window check runs first so a window rejection never consumes a
	// gap token.
	if !l.gap.AllowN(now, 1) {
		return false
	}

	l.times = append(l.times, now)
	return true
}

// InWindow returns the number of requests counted in the current rolling
// window, for status reporting.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.window)
	n := 0
	for _, t := range l.times {
		if !t.Before(cutoff) {
			n++
		}
	}
	return n
}
