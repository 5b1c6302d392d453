package middleware

import (
	"context"
	"net/http"
	"slices"

	"github.com/posuite/request-guard/internal/config"
	"github.com/posuite/request-guard/internal/domain"
	"github.com/posuite/request-guard/internal/http/response"
	"github.com/posuite/request-guard/internal/service"
)

type ContextResolver interface {
	Resolve(ctx context.Context, sessionID string) (*domain.AuthContext, error)
	ResolveOptional(ctx context.Context, sessionID string) *domain.AuthContext
}

// RequireAuth reuses a context already resolved upstream and otherwise
// resolves the session, surfacing store failures instead of going anonymous.
func RequireAuth(resolver ContextResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := AuthContextFromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}
			ac, err := resolver.Resolve(r.Context(), SessionIDFromContext(r.Context()))
			if err != nil {
				response.ServiceError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
		})
	}
}

func OptionalAuth(resolver ContextResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := AuthContextFromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}
			ac := resolver.ResolveOptional(r.Context(), SessionIDFromContext(r.Context()))
			if ac == nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
		})
	}
}

// Require2FA blocks users who enabled two-factor auth but have not verified it in this session.
func Require2FA(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := AuthContextFromContext(r.Context())
		if !ok {
			response.ServiceError(w, r, service.ErrUnauthenticated)
			return
		}
		if ac.TwoFactorEnabled && !ac.TwoFactorVerified {
			response.ServiceError(w, r, service.ErrTwoFactorRequired)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := AuthContextFromContext(r.Context())
			if !ok {
				response.ServiceError(w, r, service.ErrUnauthenticated)
				return
			}
			if !slices.Contains(roles, ac.Role) {
				response.Fail(w, r, http.StatusForbidden, response.Problem{
					Label:   "Insufficient permissions",
					Code:    "FORBIDDEN",
					Message: "your role does not allow this action",
					Details: map[string]any{"required": roles, "current": ac.Role},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func RequireAdmin() func(http.Handler) http.Handler {
	return RequireRole(domain.RoleAdmin)
}

func RequireOrderManager() func(http.Handler) http.Handler {
	return RequireRole(domain.RoleProjectManager, domain.RoleHQManagement, domain.RoleExecutive, domain.RoleAdmin)
}

func RequireApprover() func(http.Handler) http.Handler {
	return RequireOrderManager()
}

func RequireExecutive() func(http.Handler) http.Handler {
	return RequireRole(domain.RoleExecutive, domain.RoleAdmin)
}

// RequireDevelopment hides a route outside development.
func RequireDevelopment(mode config.SecurityMode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !mode.Development() {
				response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "not found", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
