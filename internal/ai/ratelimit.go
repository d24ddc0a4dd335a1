package ai

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles AI API calls with a token bucket.
type RateLimiter struct {
	lim *rate.Limiter
	now func() time.Time
}

// NewRateLimiter allows maxBurst calls at once, refilled at ratePerMinute.
// Non-positive values fall back to 5 and 15.
func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 5
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 15
	}
	return &RateLimiter{
		lim: rate.NewLimiter(rate.Limit(ratePerMinute/60.0), maxBurst),
		now: time.Now,
	}
}

// Allow takes a token if one is available without waiting.
func (rl *RateLimiter) Allow() bool {
	return rl.lim.AllowN(rl.now(), 1)
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.lim.Wait(ctx)
}
