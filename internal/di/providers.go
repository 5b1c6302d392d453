package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/posuite/request-guard/internal/app"
	"github.com/posuite/request-guard/internal/config"
	"github.com/posuite/request-guard/internal/events"
	"github.com/posuite/request-guard/internal/health"
	"github.com/posuite/request-guard/internal/http/handler"
	"github.com/posuite/request-guard/internal/http/middleware"
	"github.com/posuite/request-guard/internal/http/router"
	"github.com/posuite/request-guard/internal/observability"
	"github.com/posuite/request-guard/internal/repository"
	"github.com/posuite/request-guard/internal/security"
	"github.com/posuite/request-guard/internal/service"
)

var ProviderSet = wire.NewSet(
	provideDB,
	provideRedis,
	repository.NewUserRepository,
	repository.NewSessionRepository,
	provideTOTP,
	provideCSRFCodec,
	provideSessionCookies,
	providePublisher,
	provideTwoFactorService,
	provideSessionService,
	provideSessionMissCache,
	provideContextResolver,
	middleware.NewCSRFStats,
	middleware.NewRateLimitStats,
	provideCSRFGuard,
	provideLimiterBackend,
	provideGlobalRateLimiter,
	provideTieredRateLimiter,
	handler.NewCSRFHandler,
	handler.NewSecurityHandler,
	provideTwoFactorHandler,
	provideDevHandler,
	provideReadiness,
	provideRouterDependencies,
	router.NewRouter,
	provideHTTPServer,
	provideSweeper,
	provideApp,
)

// limiterBackend pairs the counter store with its local sweep hook, which is
// nil for the Redis backend since keys expire there on their own.
type limiterBackend struct {
	Limiter middleware.Limiter
	Keys    app.KeySweeper
}

func provideDB(cfg *config.Config) (*gorm.DB, func(), error) {
	db, err := repository.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("database handle: %w", err)
	}
	if !cfg.Security.Production() {
		if err := repository.Migrate(db); err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
	}
	return db, func() { _ = sqlDB.Close() }, nil
}

// provideRedis returns a nil client when REDIS_ADDR is unset.
func provideRedis(cfg *config.Config) (redis.UniversalClient, func(), error) {
	if cfg.RedisAddr == "" {
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil && cfg.RateLimitBackend == "redis" {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

func provideTOTP(cfg *config.Config) *security.TOTP {
	return security.NewTOTP(cfg.TOTPIssuer)
}

func provideCSRFCodec(cfg *config.Config) *security.CSRFCodec {
	return security.NewCSRFCodec(cfg.CSRFSecret)
}

func provideSessionCookies(cfg *config.Config) (*security.SessionCookieCodec, error) {
	return security.NewSessionCookieCodec(cfg.OTELServiceName, cfg.SessionSecret)
}

func providePublisher(cfg *config.Config, logger *slog.Logger) (events.Publisher, func()) {
	var p events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		p = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaSecurityTopic, logger)
		logger.Info("security events published to kafka", "topic", cfg.KafkaSecurityTopic)
	} else {
		p = events.NewLogPublisher(logger)
	}
	return p, func() {
		if err := p.Close(); err != nil {
			logger.Warn("security event publisher close failed", "error", err)
		}
	}
}

func provideTwoFactorService(cfg *config.Config, users repository.UserRepository, totp *security.TOTP, publisher events.Publisher, logger *slog.Logger) *service.TwoFactorService {
	policy := service.DefaultTwoFactorPolicy()
	policy.StoreTimeout = cfg.StoreTimeout
	return service.NewTwoFactorService(users, totp, publisher, policy, logger)
}

func provideSessionService(cfg *config.Config, sessions repository.SessionRepository) *service.SessionService {
	return service.NewSessionService(sessions, cfg.SessionTTL, cfg.StoreTimeout)
}

func provideSessionMissCache(cfg *config.Config, client redis.UniversalClient) service.SessionMissCache {
	switch {
	case cfg.SessionMissTTL <= 0:
		return service.NoopSessionMissCache{}
	case client != nil:
		return service.NewRedisSessionMissCache(client, "session_miss")
	default:
		return service.NewInMemorySessionMissCache(0)
	}
}

func provideContextResolver(cfg *config.Config, sessions repository.SessionRepository, users repository.UserRepository, misses service.SessionMissCache, logger *slog.Logger) *service.ContextResolver {
	return service.NewContextResolver(sessions, users, cfg.Security, cfg.StoreTimeout, logger).
		WithMissCache(misses, cfg.SessionMissTTL)
}

func provideCSRFGuard(cfg *config.Config, codec *security.CSRFCodec, stats *middleware.CSRFStats, logger *slog.Logger) (*middleware.CSRFGuard, error) {
	return middleware.NewCSRFGuard(codec, middleware.DefaultCSRFConfig(cfg.Security, cfg.Port, cfg.AllowedOrigins), stats, logger)
}

func provideLimiterBackend(cfg *config.Config, client redis.UniversalClient) limiterBackend {
	if cfg.RateLimitBackend == "redis" && client != nil {
		return limiterBackend{Limiter: middleware.NewRedisLimiter(client, "ratelimit")}
	}
	local := middleware.NewSlidingWindowLimiter()
	return limiterBackend{Limiter: local, Keys: local}
}

func rateLimitBypass(cfg *config.Config) middleware.BypassEvaluator {
	return middleware.AnySkip(
		middleware.WhitelistIPs(cfg.RateLimitWhitelist),
		middleware.DevelopmentMode(cfg.Security),
	)
}

func provideGlobalRateLimiter(cfg *config.Config, backend limiterBackend, stats *middleware.RateLimitStats, logger *slog.Logger) router.GlobalRateLimiterFunc {
	rl := middleware.NewRateLimiter(
		backend.Limiter,
		middleware.RateRule{Policy: middleware.GlobalRateLimitPolicy, Scope: middleware.ScopeIP},
		middleware.ParseFailureMode(cfg.RateLimitFailureMode),
		stats,
	).WithBypassEvaluator(rateLimitBypass(cfg)).WithLogger(logger)
	return router.GlobalRateLimiterFunc(rl.Middleware())
}

func provideTieredRateLimiter(cfg *config.Config, backend limiterBackend, stats *middleware.RateLimitStats, logger *slog.Logger) router.TieredRateLimiterFunc {
	rl := middleware.NewTieredRateLimiter(
		backend.Limiter,
		middleware.DefaultTiers(),
		middleware.ParseFailureMode(cfg.RateLimitFailureMode),
		stats,
	).WithBypassEvaluator(rateLimitBypass(cfg)).WithLogger(logger)
	return router.TieredRateLimiterFunc(rl.Middleware())
}

func provideTwoFactorHandler(twoFactor *service.TwoFactorService, sessions *service.SessionService) *handler.TwoFactorHandler {
	return handler.NewTwoFactorHandler(twoFactor, sessions)
}

func provideDevHandler(cfg *config.Config, users repository.UserRepository, sessions *service.SessionService, cookies *security.SessionCookieCodec) *handler.DevHandler {
	if !cfg.Security.Development() {
		return nil
	}
	return handler.NewDevHandler(users, sessions, cookies)
}

func provideReadiness(cfg *config.Config, db *gorm.DB, client redis.UniversalClient) *health.ProbeRunner {
	checkers := []health.Checker{health.DatabaseChecker(db)}
	if client != nil {
		checkers = append(checkers, health.RedisChecker(client))
	}
	return health.NewProbeRunner(cfg.StoreTimeout, checkers...)
}

func provideRouterDependencies(
	cfg *config.Config,
	twoFactor *handler.TwoFactorHandler,
	csrfHandler *handler.CSRFHandler,
	securityHandler *handler.SecurityHandler,
	devHandler *handler.DevHandler,
	resolver *service.ContextResolver,
	cookies *security.SessionCookieCodec,
	guard *middleware.CSRFGuard,
	rateStats *middleware.RateLimitStats,
	global router.GlobalRateLimiterFunc,
	tiered router.TieredRateLimiterFunc,
	readiness *health.ProbeRunner,
) router.Dependencies {
	return router.Dependencies{
		TwoFactorHandler:  twoFactor,
		CSRFHandler:       csrfHandler,
		SecurityHandler:   securityHandler,
		DevHandler:        devHandler,
		Resolver:          resolver,
		SessionCookies:    cookies,
		CSRF:              guard,
		RateLimitStats:    rateStats,
		GlobalRateLimiter: global,
		TieredRateLimiter: tiered,
		CORSOrigins:       cfg.AllowedOrigins,
		Mode:              cfg.Security,
		Readiness:         readiness,
		EnableOTelHTTP:    cfg.OTELTracingEnabled || cfg.OTELMetricsEnabled,
	}
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func provideSweeper(cfg *config.Config, backend limiterBackend, sessions *service.SessionService, logger *slog.Logger) *app.Sweeper {
	return app.NewSweeper(cfg.RateLimitSweepInterval, backend.Keys, sessions, logger)
}

func provideApp(cfg *config.Config, logger *slog.Logger, server *http.Server, runtime *observability.Runtime, sweeper *app.Sweeper) *app.App {
	return app.New(cfg, logger, server, runtime, sweeper)
}
