package middleware

import (
	"context"

	"github.com/posuite/request-guard/internal/domain"
)

type contextKey string

const (
	sessionIDContextKey   contextKey = "session_id"
	authContextContextKey contextKey = "auth_context"
	csrfTokenContextKey   contextKey = "csrf_token"
)

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey, sessionID)
}

func SessionIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDContextKey).(string)
	return v
}

func WithAuthContext(ctx context.Context, ac *domain.AuthContext) context.Context {
	return context.WithValue(ctx, authContextContextKey, ac)
}

func AuthContextFromContext(ctx context.Context) (*domain.AuthContext, bool) {
	ac, ok := ctx.Value(authContextContextKey).(*domain.AuthContext)
	return ac, ok && ac != nil
}

func CSRFTokenFromContext(ctx context.Context) string {
	v, _ := ctx.Value(csrfTokenContextKey).(string)
	return v
}
