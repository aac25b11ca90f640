package router

import (
	"context"
	"sync"
	"time"
)

// staleWindows is how many idle windows a participant entry survives cleanup.
const staleWindows = 5

// RateLimiter is a fixed-window per-participant limiter.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	clients map[int64]*clientLimit
}

type clientLimit struct {
	messageCount int
	windowStart  time.Time
}

// NewRateLimiter allows limit messages per window for each participant. A
// limit of 0 disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[int64]*clientLimit),
	}
}

// Allow records one message for participantID and reports whether it fits in
// the current window.
func (rl *RateLimiter) Allow(participantID int64) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	limit, exists := rl.clients[participantID]
	if !exists || now.Sub(limit.windowStart) >= rl.window {
		rl.clients[participantID] = &clientLimit{messageCount: 1, windowStart: now}
		return true
	}

	if limit.messageCount >= rl.limit {
		return false
	}
	limit.messageCount++
	return true
}

// Cleanup drops entries idle for several windows and returns how many it
// removed.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for id, limit := range rl.clients {
		if now.Sub(limit.windowStart) > staleWindows*rl.window {
			delete(rl.clients, id)
			removed++
		}
	}
	return removed
}

// Tracked returns the number of participants with live limiter state.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// RunJanitor calls Cleanup every interval until ctx is done.
func (rl *RateLimiter) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}
