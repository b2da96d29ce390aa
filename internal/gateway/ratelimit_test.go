package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsUnderThreshold(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	assert.True(t, limiter.Check("key").Allowed)
	assert.True(t, limiter.RecordFailure("key").Allowed)
	assert.True(t, limiter.RecordFailure("key").Allowed)
	assert.True(t, limiter.Check("key").Allowed)
}

func TestRateLimiterLocksOutAfterMaxAttempts(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	limiter.RecordFailure("key")
	limiter.RecordFailure("key")
	limiter.RecordFailure("key")

	decision := limiter.Check("key")
	assert.False(t, decision.Allowed)
	assert.Greater(t, decision.RetryAfterMs, int64(0))
	assert.LessOrEqual(t, decision.RetryAfterMs, time.Minute.Milliseconds())
}

func TestRateLimiterRecordFailurePastThreshold(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)

	assert.True(t, limiter.RecordFailure("key").Allowed)
	assert.True(t, limiter.RecordFailure("key").Allowed)

	decision := limiter.RecordFailure("key")
	assert.False(t, decision.Allowed)
	assert.Equal(t, time.Minute.Milliseconds(), decision.RetryAfterMs)
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)

	limiter.RecordFailure("locked")
	limiter.RecordFailure("locked")

	assert.False(t, limiter.Check("locked").Allowed)
	assert.True(t, limiter.Check("other").Allowed)
}

func TestRateLimiterReset(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)

	limiter.RecordFailure("key")
	limiter.RecordFailure("key")
	assert.False(t, limiter.Check("key").Allowed)

	limiter.Reset("key")
	assert.True(t, limiter.Check("key").Allowed)
}

func TestRateLimiterExpiresOldAttempts(t *testing.T) {
	limiter := NewRateLimiter(1, 30*time.Millisecond)

	limiter.RecordFailure("key")
	limiter.RecordFailure("key")
	assert.False(t, limiter.Check("key").Allowed)

	time.Sleep(60 * time.Millisecond)
	assert.True(t, limiter.Check("key").Allowed)
}
