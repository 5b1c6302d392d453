package service

import (
	"context"
	"sync"
	"time"
)

// SessionMissCache remembers session ids that resolved to no active session,
// so a stale cookie replayed on every request stops reaching the session store.
type SessionMissCache interface {
	Seen(ctx context.Context, sessionID string) (bool, error)
	Remember(ctx context.Context, sessionID string, ttl time.Duration) error
}

type NoopSessionMissCache struct{}

func (NoopSessionMissCache) Seen(context.Context, string) (bool, error) { return false, nil }

func (NoopSessionMissCache) Remember(context.Context, string, time.Duration) error { return nil }

const defaultMissCacheEntries = 10000

type InMemorySessionMissCache struct {
	mu         sync.Mutex
	entries    map[string]time.Time
	maxEntries int
	now        func() time.Time
}

func NewInMemorySessionMissCache(maxEntries int) *InMemorySessionMissCache {
	if maxEntries <= 0 {
		maxEntries = defaultMissCacheEntries
	}
	return &InMemorySessionMissCache{
		entries:    make(map[string]time.Time),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (c *InMemorySessionMissCache) WithClock(now func() time.Time) *InMemorySessionMissCache {
	c.now = now
	return c
}

func (c *InMemorySessionMissCache) Seen(_ context.Context, sessionID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expiresAt, ok := c.entries[sessionID]
	if !ok {
		return false, nil
	}
	if !c.now().Before(expiresAt) {
		delete(c.entries, sessionID)
		return false, nil
	}
	return true, nil
}

// Remember drops the entry silently when the cache is full of live entries.
func (c *InMemorySessionMissCache) Remember(_ context.Context, sessionID string, ttl time.Duration) error {
	if ttl <= 0 || sessionID == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if len(c.entries) >= c.maxEntries {
		for id, exp := range c.entries {
			if !now.Before(exp) {
				delete(c.entries, id)
			}
		}
		if len(c.entries) >= c.maxEntries {
			return nil
		}
	}
	c.entries[sessionID] = now.Add(ttl)
	return nil
}

func (c *InMemorySessionMissCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
