package middleware

import (
	"net/http"
	"sync"
)

type RateLimitStatsSnapshot struct {
	TotalRequests   int64              `json:"total_requests"`
	BlockedRequests int64              `json:"blocked_requests"`
	BlockRate       float64            `json:"block_rate"`
	TopBlockedIPs   []LeaderboardEntry `json:"top_blocked_ips"`
	TopBlockedUsers []LeaderboardEntry `json:"top_blocked_users"`
	TopEndpoints    []LeaderboardEntry `json:"top_blocked_endpoints"`
}

type RateLimitStats struct {
	mu        sync.Mutex
	total     int64
	blocked   int64
	ips       *leaderboard
	users     *leaderboard
	endpoints *leaderboard
}

func NewRateLimitStats() *RateLimitStats {
	return &RateLimitStats{ips: newLeaderboard(), users: newLeaderboard(), endpoints: newLeaderboard()}
}

// Track counts every request passing through; limiters record only their blocks.
func (s *RateLimitStats) Track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.RecordRequest()
		next.ServeHTTP(w, r)
	})
}

func (s *RateLimitStats) RecordRequest() {
	s.mu.Lock()
	s.total++
	s.mu.Unlock()
}

// RecordBlock counts a rejection; an empty userID is not tracked.
func (s *RateLimitStats) RecordBlock(ip, userID, endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked++
	s.ips.inc(ip)
	if userID != "" {
		s.users.inc(userID)
	}
	s.endpoints.inc(endpoint)
}

func (s *RateLimitStats) Snapshot() RateLimitStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := RateLimitStatsSnapshot{
		TotalRequests:   s.total,
		BlockedRequests: s.blocked,
		TopBlockedIPs:   s.ips.top(leaderboardSize),
		TopBlockedUsers: s.users.top(leaderboardSize),
		TopEndpoints:    s.endpoints.top(leaderboardSize),
	}
	if s.total > 0 {
		snap.BlockRate = float64(s.blocked) / float64(s.total)
	}
	return snap
}

func (s *RateLimitStats) Reset() {
	s.mu.Lock()
	s.total, s.blocked = 0, 0
	s.ips, s.users, s.endpoints = newLeaderboard(), newLeaderboard(), newLeaderboard()
	s.mu.Unlock()
}
