package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agatticelli/safeswap-quoter/internal/platform/observability"
)

// DefaultL1MaxTTL caps how long an entry lives in the in-memory layer
const DefaultL1MaxTTL = 1 * time.Minute

// LayeredCache implements a two-tier cache (L1: memory, L2: Redis or DynamoDB)
type LayeredCache struct {
	l1       Cache
	l2       Cache
	l1MaxTTL time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// LayeredCacheConfig holds layered cache configuration
type LayeredCacheConfig struct {
	L1       Cache
	L2       Cache
	L1MaxTTL time.Duration
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

// NewLayeredCache creates a new layered cache with default settings
func NewLayeredCache(l1, l2 Cache) *LayeredCache {
	return NewLayeredCacheWithConfig(LayeredCacheConfig{L1: l1, L2: l2})
}

// NewLayeredCacheWithLogger creates a layered cache that logs degraded layers
func NewLayeredCacheWithLogger(l1, l2 Cache, logger *slog.Logger) *LayeredCache {
	return NewLayeredCacheWithConfig(LayeredCacheConfig{L1: l1, L2: l2, Logger: logger})
}

// NewLayeredCacheWithConfig creates a layered cache from config
func NewLayeredCacheWithConfig(cfg LayeredCacheConfig) *LayeredCache {
	if cfg.L1MaxTTL <= 0 {
		cfg.L1MaxTTL = DefaultL1MaxTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &LayeredCache{
		l1:       cfg.L1,
		l2:       cfg.L2,
		l1MaxTTL: cfg.L1MaxTTL,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// Get retrieves a value from cache (L1 → L2 → miss)
func (lc *LayeredCache) Get(ctx context.Context, key string) ([]byte, error) {
	if lc.l1 != nil {
		val, err := lc.l1.Get(ctx, key)
		if err == nil {
			lc.recordHit(ctx, "l1")
			return val, nil
		}
		if !errors.Is(err, ErrNotFound) {
			lc.logger.WarnContext(ctx, "L1 cache read failed, falling back to L2", "key", key, "error", err)
		}
		lc.recordMiss(ctx, "l1")
	}

	if lc.l2 == nil {
		return nil, ErrNotFound
	}

	val, err := lc.l2.Get(ctx, key)
	if err != nil {
		lc.recordMiss(ctx, "l2")
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("L2 cache get: %w", err)
	}
	lc.recordHit(ctx, "l2")

	// Backfill L1 on L2 hit
	if lc.l1 != nil {
		if err := lc.l1.Set(ctx, key, val, lc.l1MaxTTL); err != nil {
			lc.logger.WarnContext(ctx, "L1 cache backfill failed", "key", key, "error", err)
		}
	}

	return val, nil
}

// Set stores a value in both cache layers (write-through)
func (lc *LayeredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var l1Err, l2Err error

	if lc.l1 != nil {
		l1TTL := ttl
		if l1TTL <= 0 || l1TTL > lc.l1MaxTTL {
			l1TTL = lc.l1MaxTTL
		}
		l1Err = lc.l1.Set(ctx, key, value, l1TTL)
	}

	if lc.l2 != nil {
		l2Err = lc.l2.Set(ctx, key, value, ttl)
		if l2Err != nil {
			lc.logger.WarnContext(ctx, "L2 cache write failed", "key", key, "error", l2Err)
		}
	}

	switch {
	case lc.l1 == nil:
		return l2Err
	case lc.l2 == nil:
		return l1Err
	case l1Err != nil && l2Err != nil:
		return l2Err
	}
	return nil
}

// Delete removes a key from both cache layers
func (lc *LayeredCache) Delete(ctx context.Context, key string) error {
	var errs []error
	if lc.l1 != nil {
		errs = append(errs, lc.l1.Delete(ctx, key))
	}
	if lc.l2 != nil {
		errs = append(errs, lc.l2.Delete(ctx, key))
	}
	return errors.Join(errs...)
}

// Close closes both cache layers
func (lc *LayeredCache) Close() error {
	var errs []error
	if lc.l1 != nil {
		errs = append(errs, lc.l1.Close())
	}
	if lc.l2 != nil {
		errs = append(errs, lc.l2.Close())
	}
	return errors.Join(errs...)
}

// InvalidateL1 invalidates only L1 cache for a key
func (lc *LayeredCache) InvalidateL1(ctx context.Context, key string) error {
	if lc.l1 != nil {
		return lc.l1.Delete(ctx, key)
	}
	return nil
}

func (lc *LayeredCache) recordHit(ctx context.Context, layer string) {
	if lc.metrics != nil {
		lc.metrics.RecordCacheHit(ctx, layer)
	}
}

func (lc *LayeredCache) recordMiss(ctx context.Context, layer string) {
	if lc.metrics != nil {
		lc.metrics.RecordCacheMiss(ctx, layer)
	}
}
