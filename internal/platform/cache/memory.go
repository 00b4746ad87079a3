package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// cacheItem represents an item in the cache
type cacheItem struct {
	key        string
	value      []byte
	expiration time.Time // zero means no expiry
}

func (i *cacheItem) expired(now time.Time) bool {
	return !i.expiration.IsZero() && now.After(i.expiration)
}

// MemoryCache implements an in-memory LRU cache with TTL support
type MemoryCache struct {
	maxSize   int
	items     map[string]*list.Element
	lru       *list.List
	mu        sync.Mutex
	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1000 // default max size
	}

	cache := &MemoryCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		stopCh:  make(chan struct{}),
	}

	// Start cleanup goroutine
	go cache.cleanup()

	return cache
}

// Get retrieves a value from cache
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		return nil, ErrNotFound
	}

	item := element.Value.(*cacheItem)
	if item.expired(time.Now()) {
		c.remove(key)
		return nil, ErrNotFound
	}

	c.lru.MoveToFront(element)
	return item.value, nil
}

// Set stores a value in cache with TTL
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiration time.Time
	if ttl > 0 {
		expiration = time.Now().Add(ttl)
	}

	// Stored slices must not alias caller buffers
	stored := append([]byte(nil), value...)

	if element, exists := c.items[key]; exists {
		item := element.Value.(*cacheItem)
		item.value = stored
		item.expiration = expiration
		c.lru.MoveToFront(element)
		return nil
	}

	element := c.lru.PushFront(&cacheItem{
		key:        key,
		value:      stored,
		expiration: expiration,
	})
	c.items[key] = element

	if c.lru.Len() > c.maxSize {
		c.evictOldest()
	}

	return nil
}

// Delete removes a key from cache
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remove(key)
	return nil
}

// Close stops the cleanup goroutine
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() { close(c.stopCh) })
	return nil
}

// remove removes an item (caller must hold lock)
func (c *MemoryCache) remove(key string) {
	if element, exists := c.items[key]; exists {
		c.lru.Remove(element)
		delete(c.items, key)
	}
}

// evictOldest removes the oldest item (caller must hold lock)
func (c *MemoryCache) evictOldest() {
	element := c.lru.Back()
	if element != nil {
		item := element.Value.(*cacheItem)
		c.remove(item.key)
	}
}

// cleanup periodically removes expired items
func (c *MemoryCache) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanupExpired()
		case <-c.stopCh:
			return
		}
	}
}

// cleanupExpired removes all expired items
func (c *MemoryCache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, element := range c.items {
		if element.Value.(*cacheItem).expired(now) {
			c.remove(key)
		}
	}
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() (size int, maxSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items), c.maxSize
}
