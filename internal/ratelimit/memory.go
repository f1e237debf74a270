package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryGate keeps windows in process memory. It is for single-replica and
// development deployments; replicas do not share budgets.
type MemoryGate struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

func NewMemoryGate() *MemoryGate {
	return &MemoryGate{windows: map[string][]time.Time{}, now: time.Now}
}

func (g *MemoryGate) Allow(_ context.Context, key string, max int, window time.Duration) (Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	hits := prune(g.windows[key], now.Add(-window))

	if len(hits) >= max {
		g.windows[key] = hits
		if len(hits) == 0 {
			return Decision{Allowed: false, RetryAfter: window}, nil
		}
		return Decision{Allowed: false, RetryAfter: retryAfter(hits[0], now, window)}, nil
	}

	g.windows[key] = append(hits, now)
	return Decision{Allowed: true, Remaining: max - len(hits) - 1}, nil
}

// Run drops idle keys every interval until ctx is done.
func (g *MemoryGate) Run(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweep(idle)
		}
	}
}

func (g *MemoryGate) sweep(idle time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := g.now().Add(-idle)
	for key, hits := range g.windows {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(g.windows, key)
		}
	}
}

func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
