package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/agatticelli/safeswap-quoter/internal/platform/cache"
	"github.com/agatticelli/safeswap-quoter/internal/platform/observability"
)

const (
	// DefaultCacheKey is where the last good payload lives in the durable store
	DefaultCacheKey = "pricebook:last_good"
	// DefaultCacheTTL is how long the durable store keeps it
	DefaultCacheTTL = 24 * time.Hour
)

// PriceCache holds the last validated price. The in-memory slot is always
// written; the durable store is optional and its failures never surface.
type PriceCache struct {
	store   cache.Cache
	key     string
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics

	mu  sync.RWMutex
	mem *CachedPrice
}

// PriceCacheConfig holds price cache configuration
type PriceCacheConfig struct {
	Store   cache.Cache // nil for memory only
	Key     string
	TTL     time.Duration
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewPriceCache creates a new price cache
func NewPriceCache(cfg PriceCacheConfig) *PriceCache {
	if cfg.Key == "" {
		cfg.Key = DefaultCacheKey
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	return &PriceCache{
		store:   cfg.Store,
		key:     cfg.Key,
		ttl:     cfg.TTL,
		logger:  cfg.Logger.With("component", "price_cache"),
		metrics: cfg.Metrics,
	}
}

// Read returns the last good price, or nil when none has ever been stored.
// A failing or empty durable store falls back to the memory slot.
func (c *PriceCache) Read(ctx context.Context) *CachedPrice {
	if c.store != nil {
		raw, err := c.store.Get(ctx, c.key)
		switch {
		case err == nil:
			var cp CachedPrice
			jerr := json.Unmarshal(raw, &cp)
			if jerr == nil {
				c.metrics.RecordCacheHit(ctx, "price_durable")
				return &cp
			}
			c.logger.WarnContext(ctx, "discarding undecodable cached price", "error", jerr)
		case errors.Is(err, cache.ErrNotFound):
			c.metrics.RecordCacheMiss(ctx, "price_durable")
		default:
			c.logger.WarnContext(ctx, "durable price cache read failed", "error", err)
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.mem == nil {
		c.metrics.RecordCacheMiss(ctx, "price_memory")
		return nil
	}
	c.metrics.RecordCacheHit(ctx, "price_memory")
	return c.mem.clone()
}

// Write stores cp in memory and, best effort, in the durable store
func (c *PriceCache) Write(ctx context.Context, cp CachedPrice) {
	c.Persist(ctx, cp)
	c.Remember(cp)
}

// Remember replaces the memory slot without touching the durable store
func (c *PriceCache) Remember(cp CachedPrice) {
	c.mu.Lock()
	c.mem = cp.clone()
	c.mu.Unlock()
}

// Persist writes cp to the durable store. Failures are logged only.
func (c *PriceCache) Persist(ctx context.Context, cp CachedPrice) {
	if c.store == nil {
		return
	}
	raw, err := json.Marshal(cp)
	if err == nil {
		err = c.store.Set(ctx, c.key, raw, c.ttl)
	}
	if err != nil {
		c.logger.WarnContext(ctx, "durable price cache write failed", "error", err)
	}
}

// Clear drops the memory slot and the durable key
func (c *PriceCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.mem = nil
	c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	return c.store.Delete(ctx, c.key)
}
