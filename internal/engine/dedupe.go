package engine

import (
	"sync"
	"time"
)

// DedupeCache remembers job ids for a TTL so that redelivered queue
// messages are diagnosed once.
type DedupeCache struct {
	mu    sync.Mutex
	items map[string]time.Time
	max   int
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{items: make(map[string]time.Time), max: 10000}
}

func (d *DedupeCache) Seen(id string, now time.Time, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[id]; ok && now.Sub(ts) <= ttl {
		return true
	}
	d.items[id] = now
	if len(d.items) > d.max {
		d.compact(now, ttl)
	}
	return false
}

func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func (d *DedupeCache) compact(now time.Time, ttl time.Duration) {
	for k, ts := range d.items {
		if now.Sub(ts) > ttl {
			delete(d.items, k)
		}
	}
}
