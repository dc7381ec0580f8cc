package resilience

import (
	"context"

	"golang.org/x/time/rate"
)

// LimiterOpts configures the token bucket rate limiter.
type LimiterOpts struct {
	// Rate is the number of tokens added per second. Zero or less disables limiting.
	Rate float64
	// Burst is the maximum number of tokens (bucket capacity).
	Burst int
}

// Limiter paces calls to an external provider. A nil *Limiter never blocks.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter creates a token bucket rate limiter, or nil when opts.Rate <= 0.
func NewLimiter(opts LimiterOpts) *Limiter {
	if opts.Rate <= 0 {
		return nil
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst)}
}

// Wait blocks until a token is available or ctx is cancelled. It fails
// immediately when the next token would arrive after ctx's deadline.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	return l.rl.Wait(ctx)
}
