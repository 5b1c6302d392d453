package middleware

import (
	"context"
	"sync"
	"time"
)

const localSweepInterval = time.Minute

// SlidingWindowLimiter keeps the admitted timestamps of every key in memory.
type SlidingWindowLimiter struct {
	mu        sync.Mutex
	counters  map[string]*windowCounter
	now       func() time.Time
	nextSweep time.Time
}

type windowCounter struct {
	hits   []time.Time
	window time.Duration
}

func NewSlidingWindowLimiter() *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		counters: make(map[string]*windowCounter),
		now:      time.Now,
	}
}

func (l *SlidingWindowLimiter) WithClock(now func() time.Time) *SlidingWindowLimiter {
	if now != nil {
		l.now = now
	}
	return l
}

func (l *SlidingWindowLimiter) Allow(_ context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextSweep) {
		l.sweepLocked(now)
		l.nextSweep = now.Add(localSweepInterval)
	}

	c, ok := l.counters[key]
	if !ok {
		c = &windowCounter{}
		l.counters[key] = c
	}
	c.window = policy.Window
	c.prune(now)

	if len(c.hits)+1 > policy.Limit {
		return Decision{
			Allowed:    false,
			Count:      len(c.hits),
			Remaining:  0,
			ResetAt:    c.hits[0].Add(policy.Window),
			RetryAfter: policy.Window,
			Reason:     "window",
		}, nil
	}
	c.hits = append(c.hits, now)
	return Decision{
		Allowed:   true,
		Count:     len(c.hits),
		Remaining: policy.Limit - len(c.hits),
		ResetAt:   c.hits[0].Add(policy.Window),
	}, nil
}

// Sweep drops keys with no hits left inside their window and reports how many went.
func (l *SlidingWindowLimiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(now)
}

func (l *SlidingWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}

func (l *SlidingWindowLimiter) sweepLocked(now time.Time) int {
	removed := 0
	for key, c := range l.counters {
		c.prune(now)
		if len(c.hits) == 0 {
			delete(l.counters, key)
			removed++
		}
	}
	return removed
}

// prune drops hits at or before now-window.
func (c *windowCounter) prune(now time.Time) {
	cutoff := now.Add(-c.window)
	i := 0
	for i < len(c.hits) && !c.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		c.hits = append(c.hits[:0], c.hits[i:]...)
	}
}
