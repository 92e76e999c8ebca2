package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Window(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("h"))
	}
	assert.False(t, rl.Allow("h"))
	assert.True(t, rl.Allow("other"), "limits are per handle")

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("h"), "window resets")
}

func TestRateLimiter_ForgetAndCleanup(t *testing.T) {
	rl := NewRateLimiter(1, time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	rl.Allow("b")
	rl.Forget("a")
	assert.Equal(t, 1, rl.Tracked())

	now = now.Add(6 * time.Second)
	assert.Equal(t, 1, rl.Cleanup())
	assert.Equal(t, 0, rl.Tracked())
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.Equal(t, 200, rl.limit)
	assert.Equal(t, time.Minute, rl.window)
}
