package server

import (
	"sync"
	"time"
)

// idempotencyCache maps (sessionKey, idempotencyKey) -> the runID first
// produced for it, so a retried chat.send with the same key replays the
// original run instead of scheduling a second one. Entries expire after ttl;
// grounded on the teacher's pkg/web/notification_manager.go sentEvents map
// (timestamped dedup, periodic sweep), generalized from "suppress" to
// "replay the prior result".
type idempotencyCache struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]entry
}

type entry struct {
	runID   string
	expires time.Time
}

func newIdempotencyCache(ttl time.Duration) *idempotencyCache {
	return &idempotencyCache{ttl: ttl, m: make(map[string]entry)}
}

// GetOrSet returns the existing runID for key if present and unexpired;
// otherwise it records runID under key and returns (runID, false).
func (c *idempotencyCache) GetOrSet(key, runID string) (existing string, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.m[key]; ok && now.Before(e.expires) {
		return e.runID, true
	}
	c.m[key] = entry{runID: runID, expires: now.Add(c.ttl)}
	c.sweepLocked(now)
	return runID, false
}

func (c *idempotencyCache) sweepLocked(now time.Time) {
	if len(c.m) < 1024 {
		return
	}
	for k, e := range c.m {
		if now.After(e.expires) {
			delete(c.m, k)
		}
	}
}

func idempotencyKey(sessionKey, idemKey string) string { return sessionKey + "\x00" + idemKey }
