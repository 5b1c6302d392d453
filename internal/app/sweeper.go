package app

import (
	"context"
	"log/slog"
	"time"
)

type KeySweeper interface {
	Sweep() int
}

type SessionCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Sweeper periodically drops idle limiter keys and expired sessions.
type Sweeper struct {
	interval time.Duration
	keys     KeySweeper
	sessions SessionCleaner
	logger   *slog.Logger
}

// NewSweeper accepts a nil keys when the limiter keeps no local state.
func NewSweeper(interval time.Duration, keys KeySweeper, sessions SessionCleaner, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{interval: interval, keys: keys, sessions: sessions, logger: logger}
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (int, int64) {
	keys := 0
	if s.keys != nil {
		keys = s.keys.Sweep()
	}
	var sessions int64
	if s.sessions != nil {
		n, err := s.sessions.CleanupExpired(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "expired session cleanup failed", "error", err)
		}
		sessions = n
	}
	if keys > 0 || sessions > 0 {
		s.logger.DebugContext(ctx, "sweep completed", "limiter_keys", keys, "sessions", sessions)
	}
	return keys, sessions
}
