package gateway

import (
	"sync"
	"time"

	"github.com/reclaw/reclaw/internal/store"
)

// RateLimitDecision reports whether an attempt may proceed and how
// long the caller should wait otherwise.
type RateLimitDecision struct {
	Allowed      bool
	RetryAfterMs int64
}

// RateLimiter is a sliding-window failure counter keyed by caller.
// Entries older than the window are dropped on each check.
type RateLimiter struct {
	maxAttempts int
	window      time.Duration

	mu    sync.RWMutex
	state map[string][]int64
}

func NewRateLimiter(maxAttempts int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		state:       make(map[string][]int64),
	}
}

// Check reports whether the key is currently locked out.
func (l *RateLimiter) Check(key string) RateLimitDecision {
	now := store.NowUnixMs()
	cutoff := now - l.window.Milliseconds()

	l.mu.Lock()
	defer l.mu.Unlock()

	attempts := pruneAttempts(l.state[key], cutoff)
	l.state[key] = attempts

	if len(attempts) >= l.maxAttempts {
		var retryAfter int64
		if len(attempts) > 0 {
			retryAfter = attempts[0] - cutoff
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		return RateLimitDecision{Allowed: false, RetryAfterMs: retryAfter}
	}
	return RateLimitDecision{Allowed: true}
}

// RecordFailure registers an attempt and reports whether the key just
// crossed the threshold.
func (l *RateLimiter) RecordFailure(key string) RateLimitDecision {
	now := store.NowUnixMs()
	cutoff := now - l.window.Milliseconds()

	l.mu.Lock()
	defer l.mu.Unlock()

	attempts := pruneAttempts(l.state[key], cutoff)
	attempts = append(attempts, now)
	l.state[key] = attempts

	if len(attempts) > l.maxAttempts {
		return RateLimitDecision{Allowed: false, RetryAfterMs: l.window.Milliseconds()}
	}
	return RateLimitDecision{Allowed: true}
}

// Reset clears the counter for a key, typically after a success.
func (l *RateLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.state, key)
}

func pruneAttempts(attempts []int64, cutoff int64) []int64 {
	kept := attempts[:0]
	for _, attempt := range attempts {
		if attempt >= cutoff {
			kept = append(kept, attempt)
		}
	}
	return kept
}
