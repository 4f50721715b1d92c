package httpapi

import (
	"sync"
	"time"
)

// SlidingWindowLimiter admits at most limit control requests in any window.
type SlidingWindowLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu       sync.Mutex
	admitted []time.Time
}

// NewSlidingWindowLimiter constructs a limiter; a non-positive window or
// limit disables limiting.
func NewSlidingWindowLimiter(window time.Duration, limit int, timeSource func() time.Time) *SlidingWindowLimiter {
	if timeSource == nil {
		timeSource = time.Now
	}
	return &SlidingWindowLimiter{window: window, limit: limit, now: timeSource}
}

func (l *SlidingWindowLimiter) disabled() bool {
	return l == nil || l.limit <= 0 || l.window <= 0
}

// evictLocked drops admissions that have left the window ending at now.
func (l *SlidingWindowLimiter) evictLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	kept := l.admitted[:0]
	for _, ts := range l.admitted {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.admitted = kept
}

// Allow reports whether one more request fits in the window and records it.
func (l *SlidingWindowLimiter) Allow() bool {
	if l.disabled() {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.evictLocked(now)
	if len(l.admitted) >= l.limit {
		return false
	}
	l.admitted = append(l.admitted, now)
	return true
}

// RetryAfter returns how long until the next request would be admitted.
func (l *SlidingWindowLimiter) RetryAfter() time.Duration {
	if l.disabled() {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.evictLocked(now)
	if len(l.admitted) < l.limit {
		return 0
	}
	return l.admitted[0].Add(l.window).Sub(now)
}
