package config

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	loadMetricsOnce sync.Once
	loadCounter     metric.Int64Counter
)

// recordLoadOutcome counts config loads by environment and failure class.
// It is a no-op until a meter provider is installed.
func recordLoadOutcome(ctx context.Context, env, outcome, errorClass string) {
	loadMetricsOnce.Do(func() {
		counter, err := otel.Meter("request-guard").Int64Counter(
			"config.load.events",
			metric.WithDescription("Configuration load attempts by outcome"),
		)
		if err == nil {
			loadCounter = counter
		}
	})
	if loadCounter == nil {
		return
	}
	if env == "" {
		env = "unknown"
	}
	loadCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("env", env),
		attribute.String("outcome", outcome),
		attribute.String("error_class", errorClass),
	))
}

var environmentAliases = map[string]Environment{
	"dev":         EnvDevelopment,
	"local":       EnvDevelopment,
	"development": EnvDevelopment,
	"test":        EnvTest,
	"testing":     EnvTest,
	"ci":          EnvTest,
	"prod":        EnvProduction,
	"production":  EnvProduction,
}

// normalizeEnvironment folds APP_ENV/NODE_ENV spellings onto the three known
// environments. Anything else is returned lowercased for Validate to reject.
func normalizeEnvironment(raw string) Environment {
	v := strings.ToLower(strings.TrimSpace(raw))
	if env, ok := environmentAliases[v]; ok {
		return env
	}
	return Environment(v)
}

func classifyConfigLoadError(err error) string {
	if err == nil {
		return "none"
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.HasPrefix(msg, "load env file:"):
		return "env_file"
	case strings.Contains(msg, "validate config:"):
		return "validation"
	case strings.Contains(msg, "parse "):
		return "parse"
	default:
		return "load"
	}
}
