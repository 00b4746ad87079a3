package resilience

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

var (
	// ErrRateLimitExceeded is returned when rate limit is exceeded
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// RateLimiter throttles outbound calls to a single upstream
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a new rate limiter
// rps: number of requests per second
// burst: maximum burst size
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// NewRateLimiterFromRPM creates a rate limiter from requests per minute
func NewRateLimiterFromRPM(requestsPerMinute int, burst int) *RateLimiter {
	return NewRateLimiter(float64(requestsPerMinute)/60.0, burst)
}

// Allow checks if a request is allowed without blocking
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// Wait blocks until a token is available or context is cancelled
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := rl.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Deadline shorter than the time to the next token
		return ErrRateLimitExceeded
	}
	return nil
}

// Stats returns current rate limiter statistics
func (rl *RateLimiter) Stats() (rps float64, burst int, availableTokens float64) {
	return float64(rl.limiter.Limit()), rl.limiter.Burst(), rl.limiter.Tokens()
}

// SetRate changes the rate limit (requests per second)
func (rl *RateLimiter) SetRate(rps float64) {
	rl.limiter.SetLimit(rate.Limit(rps))
}
