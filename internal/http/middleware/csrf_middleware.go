package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/posuite/request-guard/internal/config"
	"github.com/posuite/request-guard/internal/http/response"
	"github.com/posuite/request-guard/internal/observability"
	"github.com/posuite/request-guard/internal/security"
)

const (
	CSRFNoSession     = "NO_SESSION"
	CSRFInvalidOrigin = "INVALID_ORIGIN"
	CSRFMissingToken  = "MISSING_TOKEN"
	CSRFInvalidToken  = "INVALID_TOKEN"
	CSRFTokenMismatch = "TOKEN_MISMATCH"

	anonymousSessionID = "anonymous"
	maxTokenBodyBytes  = 1 << 20
)

var csrfMessages = map[string]string{
	CSRFNoSession:     "session is not valid",
	CSRFInvalidOrigin: "request origin is not allowed",
	CSRFMissingToken:  "CSRF token is required",
	CSRFInvalidToken:  "CSRF token is invalid",
	CSRFTokenMismatch: "CSRF token mismatch detected",
}

var DefaultCSRFProtectedPaths = []string{
	"/api/auth/login",
	"/api/auth/logout",
	"/api/auth/2fa/*",
	"/api/orders",
	"/api/orders/*",
	"/api/vendors",
	"/api/vendors/*",
	"/api/items",
	"/api/items/*",
	"/api/companies/*",
	"/api/excel-automation/*",
	"/api/po-template/*",
	"/api/admin/*",
}

var DefaultCSRFExcludedPaths = []string{
	"/api/auth/user",
	"/api/dashboard/*",
	"/api/health",
	"/api/ping",
}

type CSRFConfig struct {
	CookieName     string
	HeaderName     string
	FieldName      string
	ProtectedPaths []string
	ExcludedPaths  []string
	// StrictPrefix paths get a SameSite=Strict token cookie.
	StrictPrefix   string
	AllowedOrigins []string
	Port           int
	Mode           config.SecurityMode
}

func DefaultCSRFConfig(mode config.SecurityMode, port int, allowedOrigins []string) CSRFConfig {
	return CSRFConfig{
		CookieName:     "_csrf",
		HeaderName:     "X-CSRF-Token",
		FieldName:      "_csrf",
		ProtectedPaths: DefaultCSRFProtectedPaths,
		ExcludedPaths:  DefaultCSRFExcludedPaths,
		StrictPrefix:   "/api/admin",
		AllowedOrigins: allowedOrigins,
		Port:           port,
		Mode:           mode,
	}
}

type CSRFGuard struct {
	codec     *security.CSRFCodec
	cfg       CSRFConfig
	protected []*regexp.Regexp
	excluded  []*regexp.Regexp
	stats     *CSRFStats
	logger    *slog.Logger
}

func NewCSRFGuard(codec *security.CSRFCodec, cfg CSRFConfig, stats *CSRFStats, logger *slog.Logger) (*CSRFGuard, error) {
	if stats == nil {
		stats = NewCSRFStats()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = 3000
	}
	protected, err := compilePathPatterns(cfg.ProtectedPaths)
	if err != nil {
		return nil, err
	}
	excluded, err := compilePathPatterns(cfg.ExcludedPaths)
	if err != nil {
		return nil, err
	}
	return &CSRFGuard{
		codec:     codec,
		cfg:       cfg,
		protected: protected,
		excluded:  excluded,
		stats:     stats,
		logger:    logger,
	}, nil
}

func (g *CSRFGuard) Stats() *CSRFStats { return g.stats }

func (g *CSRFGuard) Codec() *security.CSRFCodec { return g.codec }

// compilePathPatterns turns globs such as /api/orders/* into anchored regexps.
func compilePathPatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(p), `\*`, ".*") + "$"
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile path pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func matchesAny(patterns []*regexp.Regexp, path string) bool {
	for _, re := range patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// IsProtectedPath applies the exclude list before the allow list.
func (g *CSRFGuard) IsProtectedPath(path string) bool {
	if matchesAny(g.excluded, path) {
		return false
	}
	return matchesAny(g.protected, path)
}

// Applies reports whether r is a mutating request on a protected path.
func (g *CSRFGuard) Applies(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return g.IsProtectedPath(r.URL.Path)
	default:
		return false
	}
}

// Issue makes sure every response carries a token valid for the current session
// and exposes it through the request context.
func (g *CSRFGuard) Issue(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.stats.RecordRequest(g.Applies(r))

		sessionID := SessionIDFromContext(r.Context())
		if sessionID == "" {
			sessionID = anonymousSessionID
		}
		token := security.GetCookie(r, g.cfg.CookieName)
		if token == "" || g.codec.Verify(token, sessionID) != nil {
			minted, err := g.codec.Mint(sessionID)
			if err != nil {
				g.logger.ErrorContext(r.Context(), "csrf token generation failed", "error", err)
				response.Error(w, r, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "could not generate CSRF token", nil)
				return
			}
			token = minted
			http.SetCookie(w, &http.Cookie{
				Name:     g.cfg.CookieName,
				Value:    token,
				Path:     "/",
				MaxAge:   int(g.codec.MaxAge().Seconds()),
				HttpOnly: false,
				Secure:   g.cfg.Mode.Production(),
				SameSite: g.sameSite(r),
			})
		}
		ctx := context.WithValue(r.Context(), csrfTokenContextKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *CSRFGuard) sameSite(r *http.Request) http.SameSite {
	if g.cfg.StrictPrefix != "" && strings.HasPrefix(r.URL.Path, g.cfg.StrictPrefix) {
		return http.SameSiteStrictMode
	}
	return http.SameSiteLaxMode
}

func (g *CSRFGuard) Protect(next http.Handler) http.Handler {
	return g.guard(next, false)
}

// DoubleSubmit additionally requires the cookie and header tokens to be identical.
func (g *CSRFGuard) DoubleSubmit(next http.Handler) http.Handler {
	return g.guard(next, true)
}

// Conditional applies protect only to requests matching pred.
func (g *CSRFGuard) Conditional(pred func(*http.Request) bool, protect func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		guarded := protect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if pred(r) {
				guarded.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IsStrictPath matches the admin scope.
func (g *CSRFGuard) IsStrictPath(r *http.Request) bool {
	return g.cfg.StrictPrefix != "" && strings.HasPrefix(r.URL.Path, g.cfg.StrictPrefix)
}

func (g *CSRFGuard) guard(next http.Handler, doubleSubmit bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Applies(r) {
			next.ServeHTTP(w, r)
			return
		}
		if g.cfg.Mode.CSRFDisabled() {
			g.logger.WarnContext(r.Context(), "csrf protection disabled in development", "path", r.URL.Path)
			observability.RecordSecurityBypassEvent(r.Context(), "csrf_disabled", "csrf")
			observability.RecordCSRFDecision(r.Context(), "bypass", "dev_flag")
			next.ServeHTTP(w, r)
			return
		}
		if code := g.validate(r, doubleSubmit); code != "" {
			g.block(w, r, code)
			return
		}
		observability.RecordCSRFDecision(r.Context(), "allowed", "none")
		next.ServeHTTP(w, r)
	})
}

func (g *CSRFGuard) validate(r *http.Request, doubleSubmit bool) string {
	sessionID := SessionIDFromContext(r.Context())
	if sessionID == "" {
		return CSRFNoSession
	}
	if !g.originAllowed(r) {
		return CSRFInvalidOrigin
	}
	token := g.extractToken(r)
	if token == "" {
		return CSRFMissingToken
	}
	if err := g.codec.Verify(token, sessionID); err != nil {
		return CSRFInvalidToken
	}
	if doubleSubmit {
		cookieToken := security.GetCookie(r, g.cfg.CookieName)
		headerToken := r.Header.Get(g.cfg.HeaderName)
		if cookieToken != "" && headerToken != "" && cookieToken != headerToken {
			return CSRFTokenMismatch
		}
	}
	return ""
}

func (g *CSRFGuard) block(w http.ResponseWriter, r *http.Request, code string) {
	ip := clientIP(r)
	g.stats.RecordBlock(code, ip)
	observability.RecordCSRFDecision(r.Context(), "blocked", code)
	g.logger.WarnContext(r.Context(), "csrf validation failed",
		"code", code,
		"method", r.Method,
		"path", r.URL.Path,
		"ip", ip,
	)
	response.Fail(w, r, http.StatusForbidden, response.Problem{
		Label:   "CSRF validation failed",
		Code:    code,
		Message: csrfMessages[code],
	})
}

// AllowedOrigins lists the origins accepted for r: the request's own host on
// either scheme, localhost on the configured port, and the configured extras.
func (g *CSRFGuard) AllowedOrigins(r *http.Request) []string {
	out := make([]string, 0, 4+len(g.cfg.AllowedOrigins))
	if r.Host != "" {
		out = append(out, "http://"+r.Host, "https://"+r.Host)
	}
	out = append(out,
		fmt.Sprintf("http://localhost:%d", g.cfg.Port),
		fmt.Sprintf("http://127.0.0.1:%d", g.cfg.Port),
	)
	return append(out, g.cfg.AllowedOrigins...)
}

func (g *CSRFGuard) originAllowed(r *http.Request) bool {
	if r.Host == "" {
		return false
	}
	allowed := g.AllowedOrigins(r)
	if origin := r.Header.Get("Origin"); origin != "" {
		return slices.Contains(allowed, origin)
	}
	if referer := r.Header.Get("Referer"); referer != "" {
		u, err := url.Parse(referer)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		return slices.Contains(allowed, u.Scheme+"://"+u.Host)
	}
	return false
}

// extractToken looks at the header, then a body field, then the query string.
// A JSON body is peeked, not consumed: the bytes read are stitched back in
// front of the unread remainder so handlers see the full body.
func (g *CSRFGuard) extractToken(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(g.cfg.HeaderName)); v != "" {
		return v
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if v := strings.TrimSpace(r.PostFormValue(g.cfg.FieldName)); v != "" {
			return v
		}
	case "application/json":
		if r.Body != nil {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxTokenBodyBytes))
			r.Body = peekedBody{Reader: io.MultiReader(bytes.NewReader(body), r.Body), Closer: r.Body}
			if err == nil {
				var payload map[string]any
				if json.Unmarshal(body, &payload) == nil {
					if v, ok := payload[g.cfg.FieldName].(string); ok && strings.TrimSpace(v) != "" {
						return strings.TrimSpace(v)
					}
				}
			}
		}
	}
	return strings.TrimSpace(r.URL.Query().Get(g.cfg.FieldName))
}

type peekedBody struct {
	io.Reader
	io.Closer
}
