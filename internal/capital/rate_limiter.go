package capital

import (
	"context"
	"sync"
	"time"
)

// rateLimiter tracks the fixed cooldown imposed after an HTTP 429.
// All requests pass through Wait before touching the network.
type rateLimiter struct {
	mu        sync.Mutex
	coolUntil time.Time
	cooldown  time.Duration
}

func newRateLimiter(cooldown time.Duration) *rateLimiter {
	return &rateLimiter{cooldown: cooldown}
}

// Wait blocks until any active cooldown has elapsed or ctx is cancelled.
func (r *rateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	until := r.coolUntil
	r.mu.Unlock()

	remaining := time.Until(until)
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TriggerCooldown starts (or extends) the fixed cooldown window.
func (r *rateLimiter) TriggerCooldown() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	until := time.Now().Add(r.cooldown)
	if until.After(r.coolUntil) {
		r.coolUntil = until
	}
	return r.cooldown
}

// CoolingDown reports whether a cooldown is currently active.
func (r *rateLimiter) CoolingDown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Now().Before(r.coolUntil)
}
