package middleware

import (
	"sort"
)

const (
	leaderboardSize = 10
	// maxTrackedKeys caps a counter map; beyond it only the strongest keys survive.
	maxTrackedKeys = 1000
	keptAfterPrune = 100
)

type LeaderboardEntry struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// leaderboard counts occurrences per key with bounded memory. Callers hold the lock.
type leaderboard struct {
	counts map[string]int64
}

func newLeaderboard() *leaderboard {
	return &leaderboard{counts: make(map[string]int64)}
}

func (l *leaderboard) inc(key string) {
	if key == "" {
		return
	}
	l.counts[key]++
	if len(l.counts) > maxTrackedKeys {
		l.prune(keptAfterPrune)
	}
}

func (l *leaderboard) prune(keep int) {
	top := l.top(keep)
	l.counts = make(map[string]int64, len(top))
	for _, e := range top {
		l.counts[e.Key] = e.Count
	}
}

func (l *leaderboard) top(n int) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(l.counts))
	for k, c := range l.counts {
		entries = append(entries, LeaderboardEntry{Key: k, Count: c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Key < entries[j].Key
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

func (l *leaderboard) len() int { return len(l.counts) }
