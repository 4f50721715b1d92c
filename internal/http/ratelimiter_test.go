package httpapi

import (
	"net/http"
	"testing"
	"time"

	"autopark/parker/internal/logging"
)

func TestSlidingWindowLimiter(t *testing.T) {
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewSlidingWindowLimiter(time.Minute, 2, func() time.Time { return now })

	if !limiter.Allow() {
		t.Fatal("expected first call to be allowed")
	}
	now = now.Add(10 * time.Second)
	if !limiter.Allow() {
		t.Fatal("expected second call to be allowed")
	}
	if limiter.Allow() {
		t.Fatal("expected third call to be denied")
	}
	if wait := limiter.RetryAfter(); wait != 50*time.Second {
		t.Fatalf("expected 50s until the oldest admission expires, got %v", wait)
	}

	now = now.Add(51 * time.Second)
	if limiter.RetryAfter() != 0 || !limiter.Allow() {
		t.Fatal("expected a slot once the first admission left the window")
	}
	if limiter.Allow() {
		t.Fatal("second admission is still inside the window")
	}
}

func TestSlidingWindowLimiterDisabled(t *testing.T) {
	limiter := NewSlidingWindowLimiter(0, 0, nil)
	for i := 0; i < 100; i++ {
		if !limiter.Allow() {
			t.Fatal("limiter with zero configuration should allow")
		}
	}
	if limiter.RetryAfter() != 0 {
		t.Fatal("disabled limiter should never ask callers to wait")
	}
	var nilLimiter *SlidingWindowLimiter
	if !nilLimiter.Allow() {
		t.Fatal("nil limiter should allow")
	}
}

func TestRateLimitedResponseCarriesRetryAfter(t *testing.T) {
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Controller:  newSession(t),
		RateLimiter: NewSlidingWindowLimiter(time.Second, 1, func() time.Time { return now }),
	})
	if rr := serve(handlers.ResetHandler(), http.MethodPost, "/reset", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected first reset to pass, got %d", rr.Code)
	}
	now = now.Add(200 * time.Millisecond)
	rr := serve(handlers.ResetHandler(), http.MethodPost, "/reset", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("expected Retry-After rounded up to 1s, got %q", got)
	}
}
