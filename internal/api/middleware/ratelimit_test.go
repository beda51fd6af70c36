package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Now()

	assert.True(t, rl.allow("10.0.0.1", now))
	assert.True(t, rl.allow("10.0.0.1", now))
	assert.False(t, rl.allow("10.0.0.1", now))

	// Other clients have their own bucket.
	assert.True(t, rl.allow("10.0.0.2", now))

	// Tokens refill over time.
	assert.True(t, rl.allow("10.0.0.1", now.Add(1100*time.Millisecond)))
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Now()

	rl.allow("a", now)
	rl.allow("b", now)
	assert.Len(t, rl.clients, 2)

	later := now.Add(2 * limiterIdleTTL)
	rl.allow("c", later)
	assert.Len(t, rl.clients, 1)
}
