package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/posuite/request-guard/internal/config"
	"github.com/posuite/request-guard/internal/domain"
	"github.com/posuite/request-guard/internal/observability"
	"github.com/posuite/request-guard/internal/repository"
)

// ContextResolver answers "who is this request" from the session id.
type ContextResolver struct {
	sessions repository.SessionRepository
	users    repository.UserRepository
	mode     config.SecurityMode
	timeout  time.Duration
	logger   *slog.Logger
	misses   SessionMissCache
	missTTL  time.Duration
}

func NewContextResolver(
	sessions repository.SessionRepository,
	users repository.UserRepository,
	mode config.SecurityMode,
	storeTimeout time.Duration,
	logger *slog.Logger,
) *ContextResolver {
	if storeTimeout <= 0 {
		storeTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextResolver{
		sessions: sessions,
		users:    users,
		mode:     mode,
		timeout:  storeTimeout,
		logger:   logger,
		misses:   NoopSessionMissCache{},
	}
}

// WithMissCache short-circuits lookups for session ids recently found missing.
func (r *ContextResolver) WithMissCache(cache SessionMissCache, ttl time.Duration) *ContextResolver {
	if cache != nil && ttl > 0 {
		r.misses = cache
		r.missTTL = ttl
	}
	return r
}

func (r *ContextResolver) Resolve(ctx context.Context, sessionID string) (*domain.AuthContext, error) {
	ac, err := r.resolve(ctx, sessionID)
	observability.RecordContextResolution(ctx, "required", resolutionOutcome(err))
	if errors.Is(err, ErrStoreUnavailable) {
		r.logger.ErrorContext(ctx, "resolve auth context", "error", err)
	}
	return ac, err
}

// ResolveOptional returns nil for anonymous or unresolvable requests and never fails.
func (r *ContextResolver) ResolveOptional(ctx context.Context, sessionID string) *domain.AuthContext {
	ac, err := r.resolve(ctx, sessionID)
	observability.RecordContextResolution(ctx, "optional", resolutionOutcome(err))
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			r.logger.WarnContext(ctx, "optional auth context unavailable", "error", err)
		}
		return nil
	}
	return ac
}

func (r *ContextResolver) resolve(ctx context.Context, sessionID string) (*domain.AuthContext, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	session, err := r.findSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	userID := ""
	if session != nil && session.UserID != nil {
		userID = *session.UserID
	}
	if userID == "" {
		userID = r.mode.UserOverride()
	}
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	user, err := r.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, storeUnavailable("find user", err)
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	return &domain.AuthContext{
		UserID:            user.ID,
		Email:             user.Email,
		Name:              user.Name,
		Role:              domain.ParseRole(string(user.Role)),
		IsActive:          user.IsActive,
		TwoFactorEnabled:  user.TwoFactorEnabled,
		TwoFactorVerified: session.TwoFactorVerified(user.ID) || !user.TwoFactorEnabled,
		SessionID:         sessionID,
	}, nil
}

func (r *ContextResolver) findSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	seen, err := r.misses.Seen(ctx, sessionID)
	if err != nil {
		r.logger.DebugContext(ctx, "session miss cache read failed", "error", err)
	}
	if seen {
		return nil, nil
	}
	s, err := r.sessions.FindActiveByID(ctx, sessionID)
	switch {
	case err == nil:
		return s, nil
	case errors.Is(err, repository.ErrSessionNotFound):
		if err := r.misses.Remember(ctx, sessionID, r.missTTL); err != nil {
			r.logger.DebugContext(ctx, "session miss cache write failed", "error", err)
		}
		return nil, nil
	default:
		return nil, storeUnavailable("find session", err)
	}
}

func resolutionOutcome(err error) string {
	switch {
	case err == nil:
		return "resolved"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrAccountDisabled):
		return "disabled"
	default:
		return "store_unavailable"
	}
}
