package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyRateLimiter(t *testing.T) {
	t.Run("enforces the budget per key", func(t *testing.T) {
		limiter := NewKeyRateLimiter(1, time.Hour, 2, time.Hour)

		assert.True(t, limiter.Allow("a"))
		assert.True(t, limiter.Allow("a"), "expected the burst to admit a second call")
		assert.False(t, limiter.Allow("a"), "expected the third call to be refused")

		assert.True(t, limiter.Allow("b"), "expected keys to be independent")
	})

	t.Run("empty key maps to a shared bucket", func(t *testing.T) {
		limiter := NewKeyRateLimiter(1, time.Hour, 1, time.Hour)

		assert.True(t, limiter.Allow(""))
		assert.False(t, limiter.Allow(""))
	})

	t.Run("expired entries are collected", func(t *testing.T) {
		limiter := NewKeyRateLimiter(1, time.Hour, 1, time.Minute).(*keyRateLimiter)

		assert.True(t, limiter.Allow("a"))

		now := time.Now().Add(2 * time.Minute)
		limiter.now = func() time.Time { return now }

		limiter.Allow("b")
		limiter.mu.Lock()
		_, ok := limiter.visitors["a"]
		limiter.mu.Unlock()
		assert.False(t, ok, "expected the idle entry to be collected")
	})

	t.Run("zero values fall back to sane defaults", func(t *testing.T) {
		limiter := NewKeyRateLimiter(0, 0, 0, 0)
		assert.True(t, limiter.Allow("a"), "expected the default budget to admit the first call")
	})
}
