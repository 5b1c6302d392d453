package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/posuite/request-guard/internal/domain"
	"github.com/posuite/request-guard/internal/repository"
)

type SessionService struct {
	sessions repository.SessionRepository
	ttl      time.Duration
	timeout  time.Duration
	now      func() time.Time
}

func NewSessionService(sessions repository.SessionRepository, ttl, storeTimeout time.Duration) *SessionService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if storeTimeout <= 0 {
		storeTimeout = 2 * time.Second
	}
	return &SessionService{sessions: sessions, ttl: ttl, timeout: storeTimeout, now: time.Now}
}

func (s *SessionService) TTL() time.Duration { return s.ttl }

// Start opens a session, bound to userID when it is non-empty.
func (s *SessionService) Start(ctx context.Context, userID string) (*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session := &domain.Session{
		ID:        uuid.NewString(),
		ExpiresAt: s.now().Add(s.ttl),
	}
	if userID != "" {
		session.UserID = &userID
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, storeUnavailable("create session", err)
	}
	return session, nil
}

// CompleteTwoFactor marks 2FA as passed on a session that is already bound to
// userID. The binding itself is never changed here.
func (s *SessionService) CompleteTwoFactor(ctx context.Context, sessionID, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.sessions.MarkTwoFactorVerified(ctx, sessionID, userID); err != nil {
		return s.mapErr("mark session verified", err)
	}
	return nil
}

func (s *SessionService) End(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return s.mapErr("delete session", err)
	}
	return nil
}

func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.sessions.CleanupExpired(ctx)
	if err != nil {
		return 0, storeUnavailable("cleanup sessions", err)
	}
	return n, nil
}

func (s *SessionService) mapErr(op string, err error) error {
	if errors.Is(err, repository.ErrSessionNotFound) {
		return ErrUnauthenticated
	}
	return storeUnavailable(op, err)
}
