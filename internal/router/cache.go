package router

import (
	"sync"
	"time"
)

// resultCache remembers recent dispatch results by correlation ID so a
// retried command is answered without re-invoking the controller.
//
// The cache is bounded two ways: entries expire after ttl, and when the
// map still exceeds maxEntries after expiry pruning the oldest entries are
// evicted. One mutex guards everything; dispatch rates here are human
// scale.
type resultCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]cachedResult

	// now is replaceable so tests can age entries without sleeping.
	now func() time.Time
}

type cachedResult struct {
	result   CommandResult
	storedAt time.Time
}

func newResultCache(ttl time.Duration, maxEntries int) *resultCache {
	return &resultCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]cachedResult),
		now:        time.Now,
	}
}

// get returns the cached result for id if it is still fresh.
func (c *resultCache) get(id string) (CommandResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return CommandResult{}, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, id)
		return CommandResult{}, false
	}
	return e.result, true
}

// put stores a result, pruning expired entries and evicting the oldest
// while over capacity.
func (c *resultCache) put(id string, res CommandResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if now.Sub(e.storedAt) > c.ttl {
			delete(c.entries, k)
		}
	}

	c.entries[id] = cachedResult{result: res, storedAt: now}

	for len(c.entries) > c.maxEntries {
		oldestKey := ""
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.storedAt.Before(oldestAt) {
				oldestKey = k
				oldestAt = e.storedAt
			}
		}
		delete(c.entries, oldestKey)
	}
}

// len reports the current entry count. Used by tests.
func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
