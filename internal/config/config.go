package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultCSRFSecret = "csrf-secret-change-in-production"

type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTest        Environment = "test"
	EnvProduction  Environment = "production"
)

// SecurityMode gathers every switch that relaxes the pipeline outside production.
// It is built once from the environment and passed to constructors explicitly.
type SecurityMode struct {
	Environment Environment
	// CSRFBypass disables CSRF protection; only honored in development.
	CSRFBypass bool
	// RateLimitDevSkip skips rate limiting; only honored in development.
	RateLimitDevSkip bool
	// DevUserID resolves every request to this user when not in production.
	DevUserID string
}

func (m SecurityMode) Production() bool { return m.Environment == EnvProduction }

func (m SecurityMode) Development() bool { return m.Environment == EnvDevelopment }

func (m SecurityMode) CSRFDisabled() bool { return m.Development() && m.CSRFBypass }

func (m SecurityMode) SkipRateLimits() bool { return m.Development() && m.RateLimitDevSkip }

// UserOverride returns the configured test principal, never in production.
func (m SecurityMode) UserOverride() string {
	if m.Environment == EnvDevelopment || m.Environment == EnvTest {
		return m.DevUserID
	}
	return ""
}

type Config struct {
	Security SecurityMode

	HTTPAddr string
	Port     int

	DatabaseURL  string
	StoreTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitBackend       string
	RateLimitFailureMode   string
	RateLimitWhitelist     []string
	RateLimitSweepInterval time.Duration

	CSRFSecret     string
	AllowedOrigins []string
	SessionSecret  string
	SessionTTL     time.Duration
	// SessionMissTTL caches unknown session ids; zero disables the cache.
	SessionMissTTL time.Duration

	TOTPIssuer string

	KafkaBrokers       []string
	KafkaSecurityTopic string

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration

	ShutdownTimeout time.Duration
}

// Load reads the process environment, seeded from envFile when it exists.
// Variables already present in the environment take precedence over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("load env file: %w", err)
			recordLoadOutcome(context.Background(), "", "failure", classifyConfigLoadError(err))
			return nil, err
		}
	}
	cfg, err := FromLookup(os.LookupEnv)
	env := ""
	if cfg != nil {
		env = string(cfg.Security.Environment)
	}
	if err != nil {
		recordLoadOutcome(context.Background(), env, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordLoadOutcome(context.Background(), env, "success", "none")
	return cfg, nil
}

// FromLookup builds a Config from an arbitrary variable source.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return fallback
	}

	env := get("APP_ENV", get("NODE_ENV", string(EnvDevelopment)))
	cfg := &Config{
		Security: SecurityMode{
			Environment: normalizeEnvironment(env),
			DevUserID:   get("DEV_USER_ID", ""),
		},
		DatabaseURL:              get("DATABASE_URL", "sqlite://request-guard.db"),
		RedisAddr:                get("REDIS_ADDR", ""),
		RedisPassword:            get("REDIS_PASSWORD", ""),
		RateLimitBackend:         strings.ToLower(get("RATE_LIMIT_BACKEND", "memory")),
		RateLimitFailureMode:     strings.ToLower(get("RATE_LIMIT_FAILURE_MODE", "fail_closed")),
		RateLimitWhitelist:       splitList(get("RATE_LIMIT_WHITELIST", "")),
		CSRFSecret:               get("CSRF_SECRET", defaultCSRFSecret),
		AllowedOrigins:           splitList(get("ALLOWED_ORIGINS", "")),
		TOTPIssuer:               get("TOTP_ISSUER", "PO Management"),
		KafkaBrokers:             splitList(get("KAFKA_BROKERS", "")),
		KafkaSecurityTopic:       get("KAFKA_SECURITY_TOPIC", "security-events"),
		OTELServiceName:          get("OTEL_SERVICE_NAME", "request-guard"),
		OTELExporterOTLPEndpoint: get("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
	cfg.OTELEnvironment = get("OTEL_ENVIRONMENT", string(cfg.Security.Environment))
	cfg.SessionSecret = get("SESSION_SECRET", cfg.CSRFSecret)

	var err error
	if cfg.Port, err = parseInt(get("PORT", "3000"), "PORT"); err != nil {
		return nil, err
	}
	cfg.HTTPAddr = get("HTTP_ADDR", fmt.Sprintf(":%d", cfg.Port))
	if cfg.RedisDB, err = parseInt(get("REDIS_DB", "0"), "REDIS_DB"); err != nil {
		return nil, err
	}

	bools := []struct {
		key      string
		fallback string
		dst      *bool
	}{
		{"CSRF_DISABLED", "false", &cfg.Security.CSRFBypass},
		{"RATE_LIMIT_DEV_SKIP", "false", &cfg.Security.RateLimitDevSkip},
		{"OTEL_EXPORTER_OTLP_INSECURE", "true", &cfg.OTELExporterOTLPInsecure},
		{"OTEL_METRICS_ENABLED", "false", &cfg.OTELMetricsEnabled},
		{"OTEL_TRACING_ENABLED", "false", &cfg.OTELTracingEnabled},
		{"OTEL_LOGS_ENABLED", "false", &cfg.OTELLogsEnabled},
	}
	for _, b := range bools {
		v, perr := strconv.ParseBool(get(b.key, b.fallback))
		if perr != nil {
			return nil, fmt.Errorf("parse %s: %w", b.key, perr)
		}
		*b.dst = v
	}

	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"STORE_TIMEOUT", "2s", &cfg.StoreTimeout},
		{"SESSION_TTL", "24h", &cfg.SessionTTL},
		{"SESSION_MISS_TTL", "1m", &cfg.SessionMissTTL},
		{"RATE_LIMIT_SWEEP_INTERVAL", "1m", &cfg.RateLimitSweepInterval},
		{"OTEL_METRICS_EXPORT_INTERVAL", "15s", &cfg.OTELMetricsExportInterval},
		{"SHUTDOWN_TIMEOUT", "15s", &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		v, perr := time.ParseDuration(get(d.key, d.fallback))
		if perr != nil {
			return nil, fmt.Errorf("parse %s: %w", d.key, perr)
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Security.Environment {
	case EnvDevelopment, EnvTest, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("APP_ENV must be one of development, test, production; got %q", c.Security.Environment))
	}
	if c.Security.Production() {
		if c.CSRFSecret == defaultCSRFSecret || len(c.CSRFSecret) < 32 {
			errs = append(errs, errors.New("CSRF_SECRET must be set to at least 32 characters in production"))
		}
		if c.Security.DevUserID != "" {
			errs = append(errs, errors.New("DEV_USER_ID must not be set in production"))
		}
	}
	switch c.RateLimitBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when RATE_LIMIT_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND must be memory or redis; got %q", c.RateLimitBackend))
	}
	switch c.RateLimitFailureMode {
	case "fail_closed", "fail_open":
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_FAILURE_MODE must be fail_closed or fail_open; got %q", c.RateLimitFailureMode))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	return errors.Join(errs...)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt(raw, key string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}
