package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/posuite/request-guard/internal/config"
)

const meterName = "request-guard"

type AppMetrics struct {
	repositoryOps       metric.Int64Counter
	rateLimitDecisions  metric.Int64Counter
	rateLimitRetryAfter metric.Float64Histogram
	securityBypass      metric.Int64Counter
	csrfDecisions       metric.Int64Counter
	twoFactorEvents     metric.Int64Counter
	contextResolutions  metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func newResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
}

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	m, err := newAppMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, err
	}
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

// UseMeter installs instruments built from meter. Tests pass a manual-reader provider.
func UseMeter(meter metric.Meter) error {
	m, err := newAppMetrics(meter)
	if err != nil {
		return err
	}
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()
	return nil
}

func newAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	var (
		m   AppMetrics
		err error
	)
	if m.repositoryOps, err = meter.Int64Counter("repository.operations"); err != nil {
		return nil, err
	}
	if m.rateLimitDecisions, err = meter.Int64Counter("ratelimit.decisions"); err != nil {
		return nil, err
	}
	if m.rateLimitRetryAfter, err = meter.Float64Histogram("ratelimit.retry_after", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.securityBypass, err = meter.Int64Counter("security.bypass.events"); err != nil {
		return nil, err
	}
	if m.csrfDecisions, err = meter.Int64Counter("csrf.decisions"); err != nil {
		return nil, err
	}
	if m.twoFactorEvents, err = meter.Int64Counter("auth.two_factor.events"); err != nil {
		return nil, err
	}
	if m.contextResolutions, err = meter.Int64Counter("auth.context.resolutions"); err != nil {
		return nil, err
	}
	return &m, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordRepositoryOperation(ctx context.Context, repo, op, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.repositoryOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("repository", repo),
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome, mode, keyType string) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
		attribute.String("mode", mode),
		attribute.String("key_type", keyType),
	))
}

func RecordRateLimitRetryAfter(ctx context.Context, scope, reason string, d time.Duration) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitRetryAfter.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("reason", reason),
	))
}

func RecordSecurityBypassEvent(ctx context.Context, reason, scope string) {
	m := current()
	if m == nil {
		return
	}
	m.securityBypass.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
		attribute.String("scope", scope),
	))
}

func RecordCSRFDecision(ctx context.Context, outcome, reason string) {
	m := current()
	if m == nil {
		return
	}
	m.csrfDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("reason", reason),
	))
}

func RecordTwoFactorEvent(ctx context.Context, event, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.twoFactorEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("outcome", outcome),
	))
}

func RecordContextResolution(ctx context.Context, mode, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.contextResolutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	))
}
