package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/posuite/request-guard/internal/http/response"
	"github.com/posuite/request-guard/internal/observability"
)

type Decision struct {
	Allowed    bool
	Count      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Reason     string
}

// RateLimitPolicy admits at most Limit requests per key in any trailing Window.
type RateLimitPolicy struct {
	Name   string
	Limit  int
	Window time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error)
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

func ParseFailureMode(raw string) FailureMode {
	if FailureMode(raw) == FailOpen {
		return FailOpen
	}
	return FailClosed
}

// KeyScope selects which request identity a counter is keyed on.
type KeyScope string

const (
	ScopeIP       KeyScope = "ip"
	ScopeUser     KeyScope = "user"
	ScopeRoleUser KeyScope = "role_user"
	ScopeIPPath   KeyScope = "ip_path"
	ScopeUserPath KeyScope = "user_path"
)

// RateRule is a policy bound to the scope its counter is keyed on.
type RateRule struct {
	Policy RateLimitPolicy
	Scope  KeyScope
}

type RateLimiter struct {
	limiter         Limiter
	resolve         func(*http.Request) RateRule
	mode            FailureMode
	stats           *RateLimitStats
	bypassEvaluator BypassEvaluator
	logger          *slog.Logger
}

// NewRateLimiter applies one fixed rule to every request.
func NewRateLimiter(limiter Limiter, rule RateRule, mode FailureMode, stats *RateLimitStats) *RateLimiter {
	rule.Policy = normalizePolicy(rule.Policy)
	return newRateLimiter(limiter, func(*http.Request) RateRule { return rule }, mode, stats)
}

// NewTieredRateLimiter resolves the rule per request from the endpoint and role tiers.
func NewTieredRateLimiter(limiter Limiter, tiers *Tiers, mode FailureMode, stats *RateLimitStats) *RateLimiter {
	return newRateLimiter(limiter, tiers.Resolve, mode, stats)
}

func newRateLimiter(limiter Limiter, resolve func(*http.Request) RateRule, mode FailureMode, stats *RateLimitStats) *RateLimiter {
	if mode == "" {
		mode = FailClosed
	}
	return &RateLimiter{
		limiter: limiter,
		resolve: resolve,
		mode:    mode,
		stats:   stats,
		logger:  slog.Default(),
	}
}

func (rl *RateLimiter) WithBypassEvaluator(bypassEvaluator BypassEvaluator) *RateLimiter {
	rl.bypassEvaluator = bypassEvaluator
	return rl
}

func (rl *RateLimiter) WithLogger(logger *slog.Logger) *RateLimiter {
	if logger != nil {
		rl.logger = logger
	}
	return rl
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule := rl.resolve(r)
			policy := normalizePolicy(rule.Policy)
			scope := policy.Name

			if rl.bypassEvaluator != nil {
				if bypass, reason := rl.bypassEvaluator(r); bypass {
					if reason == "" {
						reason = "unspecified"
					}
					observability.RecordRateLimitDecision(r.Context(), scope, "bypass", string(rl.mode), "none")
					observability.RecordSecurityBypassEvent(r.Context(), reason, scope)
					rl.logger.DebugContext(r.Context(), "rate limiter bypass applied", "scope", scope, "reason", reason, "path", r.URL.Path)
					next.ServeHTTP(w, r)
					return
				}
			}

			key, keyType := rateLimitKey(r, policy, rule.Scope)
			decision, err := rl.limiter.Allow(r.Context(), key, policy)
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), scope, "backend_error", string(rl.mode), keyType)
				if rl.mode == FailOpen {
					rl.logger.WarnContext(r.Context(), "rate limiter backend unavailable, allowing request",
						"scope", scope,
						"mode", string(rl.mode),
						"error", err.Error(),
					)
					next.ServeHTTP(w, r)
					return
				}
				rl.logger.ErrorContext(r.Context(), "rate limiter backend unavailable, rejecting request",
					"scope", scope,
					"error", err.Error(),
				)
				decision = Decision{ResetAt: time.Now().Add(policy.Window), RetryAfter: policy.Window, Reason: "backend"}
				rl.reject(w, r, policy, rule.Scope, decision)
				return
			}

			writeRateLimitHeaders(w.Header(), policy.Limit, decision.Remaining, decision.ResetAt)
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), scope, "deny", string(rl.mode), keyType)
				if rl.stats != nil {
					userID := ""
					if ac, ok := AuthContextFromContext(r.Context()); ok {
						userID = ac.UserID
					}
					rl.stats.RecordBlock(clientIP(r), userID, r.URL.Path)
				}
				rl.logger.WarnContext(r.Context(), "rate limit exceeded",
					"scope", scope,
					"key_type", keyType,
					"limit", policy.Limit,
					"path", r.URL.Path,
				)
				rl.reject(w, r, policy, rule.Scope, decision)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), scope, "allow", string(rl.mode), keyType)
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) reject(w http.ResponseWriter, r *http.Request, policy RateLimitPolicy, scope KeyScope, decision Decision) {
	writeRateLimitHeaders(w.Header(), policy.Limit, 0, decision.ResetAt)
	retryAfter := decision.RetryAfter
	if retryAfter <= 0 {
		retryAfter = policy.Window
	}
	w.Header().Set("Retry-After", retryAfterHeader(retryAfter))
	reason := decision.Reason
	if reason == "" {
		reason = "window"
	}
	observability.RecordRateLimitRetryAfter(r.Context(), policy.Name, reason, retryAfter)
	response.Fail(w, r, http.StatusTooManyRequests, response.Problem{
		Label:   "Rate limit exceeded",
		Code:    "RATE_LIMITED",
		Message: fmt.Sprintf("too many requests, try again in %s", humanWindow(policy.Window)),
		Details: map[string]any{
			"limit":               policy.Limit,
			"window_seconds":      int(policy.Window.Seconds()),
			"retry_after_seconds": int(retryAfter.Round(time.Second).Seconds()),
			"scope":               string(scope),
		},
	})
}

// rateLimitKey builds policy|scope:identity[:suffix]. User scopes fall back to
// the client IP for anonymous requests.
func rateLimitKey(r *http.Request, policy RateLimitPolicy, scope KeyScope) (string, string) {
	ip := clientIP(r)
	ac, authenticated := AuthContextFromContext(r.Context())
	identity, keyType := ip, "ip"
	if authenticated && scope != ScopeIP && scope != ScopeIPPath {
		identity, keyType = ac.UserID, "user"
	}

	var key string
	switch scope {
	case ScopeIP:
		key = "ip:" + ip
	case ScopeUser:
		key = "user:" + identity
	case ScopeRoleUser:
		role := "anonymous"
		if authenticated {
			role = string(ac.Role)
		}
		key = "role_user:" + identity + ":" + role
	case ScopeIPPath:
		key = "ip_path:" + ip + ":" + r.URL.Path
	case ScopeUserPath:
		key = "user_path:" + identity + ":" + r.URL.Path
	default:
		key = "ip:" + ip
	}
	return policy.Name + "|" + key, keyType
}

func retryAfterHeader(d time.Duration) string {
	if d <= 0 {
		return "1"
	}
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("%d", seconds)
}

func writeRateLimitHeaders(h http.Header, limit int, remaining int, resetAt time.Time) {
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", max(limit, 0)))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", max(remaining, 0)))
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))
}

func normalizePolicy(policy RateLimitPolicy) RateLimitPolicy {
	if policy.Limit <= 0 {
		policy.Limit = 1
	}
	if policy.Window <= 0 {
		policy.Window = time.Minute
	}
	if policy.Name == "" {
		policy.Name = "api"
	}
	return policy
}

func humanWindow(d time.Duration) string {
	switch {
	case d == time.Minute:
		return "1 minute"
	case d > time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	default:
		return fmt.Sprintf("%d seconds", int(d.Round(time.Second).Seconds()))
	}
}
