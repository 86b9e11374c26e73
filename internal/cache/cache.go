// Package cache provides a simple in-memory key/value cache with TTL support.
package cache

import (
	"context"
	"sync"
	"time"
)

// Entry represents a single cached item. A zero Expiration never expires.
type Entry struct {
	Value      []byte
	Expiration time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.Expiration.IsZero() && !now.Before(e.Expiration)
}

// Cache is a simple in-memory cache with expiration
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// New creates a new cache with the specified default TTL
func New(ttl time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	// Start cleanup goroutine
	go c.cleanup(time.Minute)

	return c
}

// Close stops the cleanup goroutine
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}

// Get retrieves a value from the cache
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || entry.expired(c.now()) {
		return nil, false, nil
	}

	return entry.Value, true, nil
}

// GetAll returns every live entry
func (c *Cache) GetAll(_ context.Context) (map[string][]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	result := make(map[string][]byte, len(c.entries))
	for k, e := range c.entries {
		if !e.expired(now) {
			result[k] = e.Value
		}
	}
	return result, nil
}

// Set stores a value in the cache with the default TTL
func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	return c.SetWithExpire(ctx, key, value, c.ttl)
}

// SetWithExpire stores a value in the cache with a custom TTL
func (c *Cache) SetWithExpire(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := Entry{Value: value}
	if ttl > 0 {
		entry.Expiration = c.now().Add(ttl)
	}
	c.entries[key] = entry
	return nil
}

// SetIfNotExists stores value only when key has no live entry
func (c *Cache) SetIfNotExists(_ context.Context, key string, value []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[key]; exists && !entry.expired(c.now()) {
		return false, nil
	}
	c.entries[key] = Entry{Value: value}
	return true, nil
}

// Delete removes a value from the cache
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

// DeleteAll removes all entries from the cache
func (c *Cache) DeleteAll(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]Entry)
	return nil
}

// Len reports the number of stored entries, expired ones included
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cleanup periodically removes expired entries
func (c *Cache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.purge()
		}
	}
}

func (c *Cache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, key)
		}
	}
}

// Pool keeps one Cache per collection
type Pool struct {
	mu     sync.Mutex
	ttl    time.Duration
	caches map[string]*Cache
}

// NewPool creates an empty pool whose caches use ttl as their default
func NewPool(ttl time.Duration) *Pool {
	return &Pool{ttl: ttl, caches: make(map[string]*Cache)}
}

// Get returns the cache for collection, creating it on first use
func (p *Pool) Get(collection string) *Cache {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.caches[collection]
	if !ok {
		c = New(p.ttl)
		p.caches[collection] = c
	}
	return c
}

// Close stops every cache in the pool
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.caches {
		c.Close()
	}
}
