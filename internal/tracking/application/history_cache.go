package application

import (
	"fmt"
	"sync"
	"time"

	"fleetrental-cloud/internal/observability/metrics"
	tracking "fleetrental-cloud/internal/tracking/domain"
)

// historyCache is a flat-TTL side cache for history fetches, keyed by
// device reference and requested window. Concurrent writers with the same
// key overwrite (last-write-wins); a miss always falls through to a live
// fetch, never an error.
type historyCache struct {
	ttl   time.Duration
	clock Clock

	mu      sync.Mutex
	entries map[string]historyEntry
}

type historyEntry struct {
	samples  []tracking.PositionSample
	storedAt time.Time
}

func newHistoryCache(ttl time.Duration, clock Clock) *historyCache {
	return &historyCache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]historyEntry),
	}
}

func cacheKey(ref string, window time.Duration) string {
	return fmt.Sprintf("%s|%s", ref, window)
}

func (c *historyCache) get(ref string, window time.Duration) ([]tracking.PositionSample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[cacheKey(ref, window)]
	if !ok {
		metrics.ObserveHistoryCache(false)
		return nil, false
	}
	if c.clock.Now().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, cacheKey(ref, window))
		metrics.ObserveHistoryCache(false)
		return nil, false
	}
	metrics.ObserveHistoryCache(true)
	return entry.samples, true
}

func (c *historyCache) put(ref string, window time.Duration, samples []tracking.PositionSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(ref, window)] = historyEntry{samples: samples, storedAt: c.clock.Now()}
}
