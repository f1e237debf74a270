// Package ratelimit admits or rejects requests against a sliding-window budget.
package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/angelmondragon/solverpay-backend/pkg/config"
)

const BackendMemory = "memory"

// Decision is the outcome of one admission check. RetryAfter is only set when
// the request was rejected and is never below one second.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Gate records an attempt for key and reports whether it fits within max
// attempts per window. Implementations check and record atomically.
type Gate interface {
	Allow(ctx context.Context, key string, max int, window time.Duration) (Decision, error)
}

func retryAfter(oldest, now time.Time, window time.Duration) time.Duration {
	wait := oldest.Add(window).Sub(now)
	secs := (wait + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}

// FromConfig returns the Redis gate unless the memory backend is configured,
// in which case the in-process gate is swept until ctx is done.
func FromConfig(ctx context.Context, cfg config.RateLimitConfig, client scriptRunner) Gate {
	if strings.EqualFold(strings.TrimSpace(cfg.Backend), BackendMemory) {
		gate := NewMemoryGate()
		go gate.Run(ctx, time.Minute, 2*cfg.Window)
		return gate
	}
	return NewRedisGate(client)
}
