// internal/auth/ratelimit.go
package auth

import (
	"sort"
	"sync"
	"time"
)

const (
	rateWindow      = time.Minute
	idleClientAfter = 5 * time.Minute
)

type clientWindow struct {
	requests []time.Time
	lastSeen time.Time
	mu       sync.Mutex
}

// ClientStats describes one tracked client
type ClientStats struct {
	ClientID     string    `json:"client_id"`
	RequestCount int       `json:"request_count"`
	LastRequest  time.Time `json:"last_request"`
}

// RateLimitStats is a snapshot of the limiter
type RateLimitStats struct {
	TotalClients int           `json:"total_clients"`
	Clients      []ClientStats `json:"clients"`
}

// RateLimiter is an in-memory sliding-window limiter keyed by client ID
type RateLimiter struct {
	clients map[string]*clientWindow
	mu      sync.Mutex
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewRateLimiter creates a limiter and starts its idle-client sweeper.
// Call Stop to end the sweeper.
func NewRateLimiter() *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*clientWindow),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow records a request for clientID and reports whether it fits within
// limitPerMinute. A non-positive limit disables limiting.
func (rl *RateLimiter) Allow(clientID string, limitPerMinute int) bool {
	if limitPerMinute <= 0 {
		return true
	}

	rl.mu.Lock()
	client, exists := rl.clients[clientID]
	if !exists {
		client = &clientWindow{}
		rl.clients[clientID] = client
	}
	rl.mu.Unlock()

	now := rl.now()

	client.mu.Lock()
	defer client.mu.Unlock()

	client.lastSeen = now
	client.prune(now.Add(-rateWindow))

	if len(client.requests) >= limitPerMinute {
		return false
	}
	client.requests = append(client.requests, now)
	return true
}

// prune drops requests at or before windowStart
func (cw *clientWindow) prune(windowStart time.Time) {
	i := 0
	for i < len(cw.requests) && !cw.requests[i].After(windowStart) {
		i++
	}
	cw.requests = cw.requests[i:]
}

// Cleanup forgets clients idle for longer than five minutes
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-idleClientAfter)
	for id, client := range rl.clients {
		client.mu.Lock()
		idle := client.lastSeen.Before(cutoff)
		client.mu.Unlock()
		if idle {
			delete(rl.clients, id)
		}
	}
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(idleClientAfter)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-rl.stop:
			return
		}
	}
}

// Stop ends the sweeper goroutine
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// Stats returns a snapshot sorted by client ID
func (rl *RateLimiter) Stats() RateLimitStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	stats := RateLimitStats{
		TotalClients: len(rl.clients),
		Clients:      make([]ClientStats, 0, len(rl.clients)),
	}
	for id, client := range rl.clients {
		client.mu.Lock()
		stats.Clients = append(stats.Clients, ClientStats{
			ClientID:     id,
			RequestCount: len(client.requests),
			LastRequest:  client.lastSeen,
		})
		client.mu.Unlock()
	}
	sort.Slice(stats.Clients, func(i, j int) bool { return stats.Clients[i].ClientID < stats.Clients[j].ClientID })
	return stats
}
