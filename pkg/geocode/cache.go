package geocode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/sells-group/flood-risk/internal/address"
	"github.com/sells-group/flood-risk/internal/model"
)

// DefaultCacheSize bounds the number of distinct addresses kept in memory.
const DefaultCacheSize = 10000

// CacheStats counts lookups served from memory versus the wrapped client.
type CacheStats struct {
	Hits   int
	Misses int
}

// CachedClient wraps a Client with an in-memory LRU cache so repeated
// addresses in one file are looked up once. Matches and non-matches are
// cached; errors are not.
type CachedClient struct {
	inner Client
	cache *lruCache

	mu    sync.Mutex
	stats CacheStats
}

// NewCachedClient wraps inner. A non-positive size uses DefaultCacheSize.
func NewCachedClient(inner Client, maxEntries int) *CachedClient {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheSize
	}
	return &CachedClient{inner: inner, cache: newLRUCache(maxEntries)}
}

// cacheKey returns the SHA-256 hex of the normalized address.
func cacheKey(addr model.Address) string {
	h := sha256.Sum256([]byte(address.Normalize(addr)))
	return hex.EncodeToString(h[:])
}

// Name implements Client.
func (c *CachedClient) Name() string { return c.inner.Name() }

// Close implements Client.
func (c *CachedClient) Close() error { return c.inner.Close() }

// Geocode implements Client.
func (c *CachedClient) Geocode(ctx context.Context, addr model.Address) (*Result, error) {
	if !addr.Valid {
		return c.inner.Geocode(ctx, addr)
	}

	key := cacheKey(addr)
	if r, ok := c.cache.get(key); ok {
		c.count(true)
		out := *r
		return &out, nil
	}
	c.count(false)

	r, err := c.inner.Geocode(ctx, addr)
	if err != nil {
		return nil, err
	}
	stored := *r
	c.cache.put(key, &stored)
	return r, nil
}

// Stats returns the hit and miss counts so far.
func (c *CachedClient) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *CachedClient) count(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
}

// lruCache is a thread-safe LRU of geocoding results.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value *Result
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.unlink(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlink(c.tail)
}
