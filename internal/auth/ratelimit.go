package auth

import (
	"sync"
	"time"
)

const idleClientTTL = 5 * time.Minute

type clientWindow struct {
	requests []time.Time
	lastSeen time.Time
}

// RateLimiter is a sliding-window limiter keyed by client id. Idle clients
// are swept on the calling goroutine.
type RateLimiter struct {
	window    time.Duration
	clients   map[string]*clientWindow
	lastSweep time.Time
	now       func() time.Time
	mu        sync.Mutex
}

// NewRateLimiter creates a limiter over the given window.
func NewRateLimiter(window time.Duration) *RateLimiter {
	return &RateLimiter{
		window:    window,
		clients:   make(map[string]*clientWindow),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Allow records a request and reports whether it fits in limit.
// A limit of zero or less disables limiting.
func (rl *RateLimiter) Allow(clientID string, limit int) bool {
	if limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > idleClientTTL {
		rl.sweep(now)
	}

	cw, ok := rl.clients[clientID]
	if !ok {
		cw = &clientWindow{}
		rl.clients[clientID] = cw
	}
	cw.lastSeen = now

	windowStart := now.Add(-rl.window)
	kept := cw.requests[:0]
	for _, t := range cw.requests {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}
	cw.requests = kept

	if len(cw.requests) >= limit {
		return false
	}
	cw.requests = append(cw.requests, now)
	return true
}

func (rl *RateLimiter) sweep(now time.Time) {
	cutoff := now.Add(-idleClientTTL)
	for id, cw := range rl.clients {
		if cw.lastSeen.Before(cutoff) {
			delete(rl.clients, id)
		}
	}
	rl.lastSweep = now
}

// Stats returns rate limiting statistics
func (rl *RateLimiter) Stats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	clients := make([]map[string]interface{}, 0, len(rl.clients))
	for id, cw := range rl.clients {
		clients = append(clients, map[string]interface{}{
			"client_id":     id,
			"request_count": len(cw.requests),
			"last_request":  cw.lastSeen,
		})
	}
	return map[string]interface{}{
		"total_clients": len(rl.clients),
		"clients":       clients,
	}
}
