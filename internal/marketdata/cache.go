package marketdata

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/seaquant/tradeflow/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Series Cache
// ════════════════════════════════════════════════════════════════════

// cacheEntry holds a cached series with its expiry.
type cacheEntry struct {
	key       string
	series    *models.Series
	expiresAt time.Time
}

// seriesCache is a thread-safe TTL cache over loaded series, evicting the
// least recently used entry once capacity is reached. Historical bars never
// change, so the TTL exists to bound memory on long-running processes, not
// to refresh data.
type seriesCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
}

// newSeriesCache creates a cache holding up to capacity series for ttl each.
func newSeriesCache(ttl time.Duration, capacity int) *seriesCache {
	return &seriesCache{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// get retrieves a series. Returns nil, false if absent or expired.
func (c *seriesCache) get(key string) (*models.Series, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil, false
	}
	c.order.MoveToFront(el)
	return entry.series, true
}

// put stores a series, evicting the least recently used entry when full.
func (c *seriesCache) put(key string, series *models.Series) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.series = series
		entry.expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	if c.capacity > 0 && c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}

	c.entries[key] = c.order.PushFront(&cacheEntry{
		key:       key,
		series:    series,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// flush removes all entries.
func (c *seriesCache) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// len returns the number of live entries.
func (c *seriesCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// cacheKey builds the lookup key for a load request.
func cacheKey(ticker string, from, to time.Time, interval models.Interval) string {
	return fmt.Sprintf("%s|%s|%s|%s",
		ticker, from.Format("20060102"), to.Format("20060102"), interval)
}
