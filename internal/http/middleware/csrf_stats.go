package middleware

import (
	"maps"
	"sync"
)

type CSRFStatsSnapshot struct {
	TotalRequests     int64              `json:"total_requests"`
	ProtectedRequests int64              `json:"protected_requests"`
	BlockedRequests   int64              `json:"blocked_requests"`
	BlockReasons      map[string]int64   `json:"block_reasons"`
	TopBlockedIPs     []LeaderboardEntry `json:"top_blocked_ips"`
}

type CSRFStats struct {
	mu        sync.Mutex
	total     int64
	protected int64
	blocked   int64
	reasons   map[string]int64
	ips       *leaderboard
}

func NewCSRFStats() *CSRFStats {
	return &CSRFStats{reasons: make(map[string]int64), ips: newLeaderboard()}
}

func (s *CSRFStats) RecordRequest(protected bool) {
	s.mu.Lock()
	s.total++
	if protected {
		s.protected++
	}
	s.mu.Unlock()
}

func (s *CSRFStats) RecordBlock(reason, ip string) {
	s.mu.Lock()
	s.blocked++
	s.reasons[reason]++
	s.ips.inc(ip)
	s.mu.Unlock()
}

func (s *CSRFStats) Snapshot() CSRFStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CSRFStatsSnapshot{
		TotalRequests:     s.total,
		ProtectedRequests: s.protected,
		BlockedRequests:   s.blocked,
		BlockReasons:      maps.Clone(s.reasons),
		TopBlockedIPs:     s.ips.top(leaderboardSize),
	}
}

func (s *CSRFStats) Reset() {
	s.mu.Lock()
	s.total, s.protected, s.blocked = 0, 0, 0
	s.reasons = make(map[string]int64)
	s.ips = newLeaderboard()
	s.mu.Unlock()
}
