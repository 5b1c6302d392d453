package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/posuite/request-guard/internal/config"
	"github.com/posuite/request-guard/internal/health"
	"github.com/posuite/request-guard/internal/http/handler"
	"github.com/posuite/request-guard/internal/http/middleware"
	"github.com/posuite/request-guard/internal/http/response"
	"github.com/posuite/request-guard/internal/security"
)

type Dependencies struct {
	TwoFactorHandler  *handler.TwoFactorHandler
	CSRFHandler       *handler.CSRFHandler
	SecurityHandler   *handler.SecurityHandler
	DevHandler        *handler.DevHandler
	Resolver          middleware.ContextResolver
	SessionCookies    *security.SessionCookieCodec
	CSRF              *middleware.CSRFGuard
	RateLimitStats    *middleware.RateLimitStats
	GlobalRateLimiter GlobalRateLimiterFunc
	TieredRateLimiter TieredRateLimiterFunc
	CORSOrigins       []string
	Mode              config.SecurityMode
	Readiness         *health.ProbeRunner
	EnableOTelHTTP    bool
}

type GlobalRateLimiterFunc func(http.Handler) http.Handler
type TieredRateLimiterFunc func(http.Handler) http.Handler

// business route prefixes that sit behind the pipeline; their handlers live elsewhere.
var protectedMounts = []string{"/orders", "/vendors", "/items", "/projects", "/companies", "/dashboard", "/excel-automation", "/po-template"}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Sessions(dep.SessionCookies))
	r.Use(middleware.OptionalAuth(dep.Resolver))
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	requireAuth := middleware.RequireAuth(dep.Resolver)

	r.Route("/api", func(r chi.Router) {
		if dep.RateLimitStats != nil {
			r.Use(dep.RateLimitStats.Track)
		}
		if dep.GlobalRateLimiter != nil {
			r.Use(dep.GlobalRateLimiter)
		}
		if dep.TieredRateLimiter != nil {
			r.Use(dep.TieredRateLimiter)
		}
		r.Use(dep.CSRF.Issue)
		r.Use(dep.CSRF.Protect)

		r.Get("/csrf/token", dep.CSRFHandler.Token)

		r.Route("/auth/2fa", func(r chi.Router) {
			r.Post("/verify", dep.TwoFactorHandler.Verify)
			r.With(requireAuth).Post("/setup", dep.TwoFactorHandler.Setup)
			r.With(requireAuth).Post("/enable", dep.TwoFactorHandler.Enable)
			r.With(requireAuth).Get("/status", dep.TwoFactorHandler.Status)
			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Use(middleware.Require2FA)
				r.Post("/disable", dep.TwoFactorHandler.Disable)
				r.Post("/regenerate-backup-codes", dep.TwoFactorHandler.RegenerateBackupCodes)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(middleware.Require2FA)
			r.Use(middleware.RequireAdmin())
			r.Use(dep.CSRF.Conditional(dep.CSRF.IsStrictPath, dep.CSRF.DoubleSubmit))
			r.Get("/security/stats", dep.SecurityHandler.Stats)
			r.Post("/security/stats/reset", dep.SecurityHandler.Reset)
		})

		if dep.DevHandler != nil {
			r.With(middleware.RequireDevelopment(dep.Mode)).Post("/dev/session", dep.DevHandler.CreateSession)
		}

		for _, prefix := range protectedMounts {
			r.HandleFunc(prefix, handler.Echo)
			r.HandleFunc(prefix+"/*", handler.Echo)
		}
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
