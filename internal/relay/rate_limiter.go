package relay

import (
	"sync"
	"time"

	"edurelay/pkg/types"
)

// RateLimiter caps how many inbound events one connection may send per
// window. Each connection's window starts with its first event and resets
// once the window has elapsed.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[types.Handle]*clientLimit
	now     func() time.Time
}

type clientLimit struct {
	count       int
	windowStart time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 200
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[types.Handle]*clientLimit),
		now:     time.Now,
	}
}

// Allow records one event for handle and reports whether it is within the
// limit.
func (rl *RateLimiter) Allow(handle types.Handle) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cl, ok := rl.clients[handle]
	if !ok {
		rl.clients[handle] = &clientLimit{count: 1, windowStart: now}
		return true
	}

	if now.Sub(cl.windowStart) >= rl.window {
		cl.count = 1
		cl.windowStart = now
		return true
	}
	if cl.count >= rl.limit {
		return false
	}
	cl.count++
	return true
}

// Forget drops the state of a handle that has disconnected.
func (rl *RateLimiter) Forget(handle types.Handle) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, handle)
}

// Cleanup removes entries idle for more than five windows.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for h, cl := range rl.clients {
		if now.Sub(cl.windowStart) > 5*rl.window {
			delete(rl.clients, h)
			removed++
		}
	}
	return removed
}

func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
