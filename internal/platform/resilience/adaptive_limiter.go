package resilience

import (
	"context"
	"sync"
	"time"
)

// AdaptiveLimiter slows down after an upstream answers 429 and speeds back
// up after a run of successes. The rate stays within [MinRate, MaxRate].
type AdaptiveLimiter struct {
	limiter *RateLimiter

	baseRate       float64
	minRate        float64
	maxRate        float64
	backoffFactor  float64
	recoveryFactor float64
	recoveryWindow int
	now            Clock

	mu             sync.Mutex
	currentRate    float64
	successes      int
	rateLimitHits  int64
	lastAdjustment time.Time
}

// AdaptiveLimiterConfig configures the adaptive limiter.
type AdaptiveLimiterConfig struct {
	BaseRate       float64 // requests per second (default 1)
	MinRate        float64 // floor (default 0.1)
	MaxRate        float64 // ceiling (default BaseRate)
	Burst          int
	BackoffFactor  float64 // multiplier on 429 (default 0.5)
	RecoveryFactor float64 // multiplier after a success run (default 1.1)
	RecoveryWindow int     // successes needed before recovering (default 10)
	Clock          Clock
}

// NewAdaptiveLimiter creates a new adaptive rate limiter.
func NewAdaptiveLimiter(cfg AdaptiveLimiterConfig) *AdaptiveLimiter {
	if cfg.BaseRate <= 0 {
		cfg.BaseRate = 1.0
	}
	if cfg.MinRate <= 0 || cfg.MinRate > cfg.BaseRate {
		cfg.MinRate = cfg.BaseRate / 10
	}
	if cfg.MaxRate < cfg.BaseRate {
		cfg.MaxRate = cfg.BaseRate
	}
	if cfg.BackoffFactor <= 0 || cfg.BackoffFactor >= 1 {
		cfg.BackoffFactor = 0.5
	}
	if cfg.RecoveryFactor <= 1 {
		cfg.RecoveryFactor = 1.1
	}
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = 10
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &AdaptiveLimiter{
		limiter:        NewRateLimiter(cfg.BaseRate, cfg.Burst),
		baseRate:       cfg.BaseRate,
		minRate:        cfg.MinRate,
		maxRate:        cfg.MaxRate,
		backoffFactor:  cfg.BackoffFactor,
		recoveryFactor: cfg.RecoveryFactor,
		recoveryWindow: cfg.RecoveryWindow,
		now:            cfg.Clock,
		currentRate:    cfg.BaseRate,
		lastAdjustment: cfg.Clock(),
	}
}

// NewAdaptiveLimiterFromRPM creates an adaptive limiter from a requests-per-minute budget.
func NewAdaptiveLimiterFromRPM(rpm, burst int) *AdaptiveLimiter {
	return NewAdaptiveLimiter(AdaptiveLimiterConfig{
		BaseRate: float64(rpm) / 60.0,
		Burst:    burst,
	})
}

// Wait blocks until a token is available.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// RecordSuccess counts a successful call and recovers the rate after a full window.
func (a *AdaptiveLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successes++
	if a.successes < a.recoveryWindow || a.currentRate >= a.maxRate {
		return
	}
	// At most one increase per second
	if a.now().Sub(a.lastAdjustment) < time.Second {
		return
	}
	a.successes = 0
	a.setRateLocked(a.currentRate * a.recoveryFactor)
}

// RecordRateLimitError backs off immediately.
func (a *AdaptiveLimiter) RecordRateLimitError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rateLimitHits++
	a.successes = 0
	a.setRateLocked(a.currentRate * a.backoffFactor)
}

// RecordError resets the success run without changing the rate.
func (a *AdaptiveLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.successes = 0
}

func (a *AdaptiveLimiter) setRateLocked(r float64) {
	if r < a.minRate {
		r = a.minRate
	}
	if r > a.maxRate {
		r = a.maxRate
	}
	if r == a.currentRate {
		return
	}
	a.currentRate = r
	a.limiter.SetRate(r)
	a.lastAdjustment = a.now()
}

// CurrentRate returns the current rate in requests per second.
func (a *AdaptiveLimiter) CurrentRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// RateLimitHits returns how many 429s were recorded.
func (a *AdaptiveLimiter) RateLimitHits() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rateLimitHits
}

// IsThrottled returns true if we're operating below base rate.
func (a *AdaptiveLimiter) IsThrottled() bool {
	return a.CurrentRate() < a.baseRate
}
