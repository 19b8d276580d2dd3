// Package ratelimit gates per-sender message frequency with a fixed window
// anchored at each sender's first accepted send.
package ratelimit

import (
	"sync"
	"time"
)

type record struct {
	count       int
	windowStart time.Time
}

// Limiter allows at most max accepted sends per sender per window. Rejected
// attempts do not increment the counter, so a client that backs off for the
// remainder of the window is not penalized further. The window resets based
// on elapsed time since the window's first accepted send, not a clock-aligned
// boundary.
type Limiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	senders map[string]*record
	now     func() time.Time
}

// NewLimiter creates a limiter with the given window and per-window maximum.
func NewLimiter(window time.Duration, max int) *Limiter {
	return &Limiter{
		window:  window,
		max:     max,
		senders: make(map[string]*record),
		now:     time.Now,
	}
}

// Allow reports whether a send from senderID is within budget, counting it
// if so.
func (l *Limiter) Allow(senderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	r, ok := l.senders[senderID]
	if !ok || now.Sub(r.windowStart) >= l.window {
		l.senders[senderID] = &record{count: 1, windowStart: now}
		return true
	}
	if r.count >= l.max {
		return false
	}
	r.count++
	return true
}

// Forget drops the sender's window, typically on disconnect, so the map does
// not grow with every sender ever seen.
func (l *Limiter) Forget(senderID string) {
	l.mu.Lock()
	delete(l.senders, senderID)
	l.mu.Unlock()
}

// SetClock replaces the time source. Tests use it to step through window
// boundaries deterministically.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}
