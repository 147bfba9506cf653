package agent

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter caps sustained Sync work per page. Bursts of typing pass
// straight through; a page stuck re-rendering cannot soak up a busy loop.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter allows maxBurst immediate operations refilled at
// ratePerMinute.
func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 10
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 240
	}
	return &RateLimiter{lim: rate.NewLimiter(rate.Limit(ratePerMinute/60.0), maxBurst)}
}

// Wait blocks until a token is available or ctx is done. A nil limiter
// never waits.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return ctx.Err()
	}
	return rl.lim.Wait(ctx)
}
