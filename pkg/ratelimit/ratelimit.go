// Package ratelimit implements per-key sliding-window request admission.
//
// The HTTP surface and the websocket message path each hold their own
// independently configured Limiter; keys are client IPs before
// authentication and usernames after.
package ratelimit

import (
	"sync"
	"time"
)

// Result reports the outcome of a single admission check.
type Result struct {
	Allowed   bool
	Remaining int // requests left in the current window
	ResetIn   int // seconds until the window frees a slot
}

// Limiter admits up to maxRequests per key within a sliding window.
type Limiter struct {
	window time.Duration
	max    int

	mu      sync.Mutex
	entries map[string][]time.Time

	now func() time.Time // overridable for tests
}

// New creates a Limiter admitting max requests per window per key.
func New(window time.Duration, max int) *Limiter {
	return &Limiter{
		window:  window,
		max:     max,
		entries: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Check records an admission attempt for key. When the key has fewer than
// max admitted timestamps inside the window the attempt is admitted and its
// timestamp appended; otherwise it is rejected with the seconds until the
// oldest in-window timestamp expires.
func (l *Limiter) Check(key string) Result {
	now := l.now()
	windowStart := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	log := l.entries[key]

	// Drop timestamps that fell out of the window.
	recent := log[:0]
	for _, ts := range log {
		if ts.After(windowStart) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= l.max {
		l.entries[key] = recent
		resetIn := int(recent[0].Add(l.window).Sub(now).Seconds() + 0.999)
		if resetIn < 1 {
			resetIn = 1
		}
		return Result{Allowed: false, Remaining: 0, ResetIn: resetIn}
	}

	recent = append(recent, now)
	l.entries[key] = recent

	return Result{
		Allowed:   true,
		Remaining: l.max - len(recent),
		ResetIn:   int(l.window.Seconds() + 0.999),
	}
}

// Max returns the configured per-window maximum.
func (l *Limiter) Max() int { return l.max }

// Cleanup drops keys whose every timestamp has left the window, bounding
// memory for churning key populations. Intended to be called periodically.
func (l *Limiter) Cleanup() {
	windowStart := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, log := range l.entries {
		recent := log[:0]
		for _, ts := range log {
			if ts.After(windowStart) {
				recent = append(recent, ts)
			}
		}
		if len(recent) == 0 {
			delete(l.entries, key)
		} else {
			l.entries[key] = recent
		}
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// StartCleanup runs Cleanup every interval until done is closed.
func (l *Limiter) StartCleanup(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				l.Cleanup()
			}
		}
	}()
}
