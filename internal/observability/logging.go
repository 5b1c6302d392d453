package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/posuite/request-guard/internal/config"
)

// NewLogger builds the process logger. JSON always goes to w; when OTEL logs are
// enabled every record is also handed to the OTLP log bridge.
func NewLogger(ctx context.Context, cfg *config.Config, w io.Writer) (*slog.Logger, *sdklog.LoggerProvider, error) {
	level := slog.LevelInfo
	if cfg.Security.Development() {
		level = slog.LevelDebug
	}
	jsonHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	if !cfg.OTELLogsEnabled {
		return slog.New(jsonHandler), nil, nil
	}

	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}
	exporter, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create otlp log exporter: %w", err)
	}
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create log resource: %w", err)
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)
	bridge := otelslog.NewHandler(meterName, otelslog.WithLoggerProvider(lp))
	return slog.New(slogmulti.Fanout(jsonHandler, bridge)), lp, nil
}
