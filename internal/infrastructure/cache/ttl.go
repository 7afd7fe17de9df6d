package cache

import (
	"context"
	"sync"
	"time"
)

// TTLCache is a thread-safe in-process cache with expiry. A janitor goroutine
// flushes expired items until Close is called.
type TTLCache struct {
	mu      sync.RWMutex
	items   map[string]*cacheItem
	stats   Stats
	now     func() time.Time
	janitor *janitor
}

type cacheItem struct {
	value      []byte
	expiration int64
}

type janitor struct {
	interval time.Duration
	stop     chan struct{}
	once     sync.Once
}

// NewTTLCache creates a cache; cleanupInterval <= 0 disables the janitor
func NewTTLCache(cleanupInterval time.Duration) *TTLCache {
	c := &TTLCache{
		items: make(map[string]*cacheItem),
		now:   time.Now,
	}
	if cleanupInterval > 0 {
		c.janitor = &janitor{interval: cleanupInterval, stop: make(chan struct{})}
		go c.janitor.run(c)
	}
	return c
}

// Set stores a copy of value; ttl <= 0 never expires
func (c *TTLCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiration int64
	if ttl > 0 {
		expiration = c.now().Add(ttl).UnixNano()
	}
	c.items[key] = &cacheItem{
		value:      append([]byte(nil), value...),
		expiration: expiration,
	}
	c.stats.Sets++
	return nil
}

// Get retrieves a value from the cache
func (c *TTLCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, found := c.items[key]
	if !found || c.expired(item) {
		c.stats.Misses++
		return nil, false, nil
	}
	c.stats.Hits++
	return append([]byte(nil), item.value...), true, nil
}

// Delete removes an item from the cache
func (c *TTLCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

// Flush removes all expired items and returns how many were dropped
func (c *TTLCache) Flush() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, item := range c.items {
		if c.expired(item) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Stats returns hit/miss counters and the current item count
func (c *TTLCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.stats
	s.ItemCount = len(c.items)
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Close stops the janitor and clears all items
func (c *TTLCache) Close() {
	if c.janitor != nil {
		c.janitor.once.Do(func() { close(c.janitor.stop) })
	}
	c.mu.Lock()
	c.items = make(map[string]*cacheItem)
	c.mu.Unlock()
}

func (c *TTLCache) expired(item *cacheItem) bool {
	return item.expiration > 0 && c.now().UnixNano() > item.expiration
}

func (j *janitor) run(c *TTLCache) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Flush()
		case <-j.stop:
			return
		}
	}
}
