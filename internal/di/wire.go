//go:build wireinject

package di

import (
	"log/slog"

	"github.com/google/wire"

	"github.com/posuite/request-guard/internal/app"
	"github.com/posuite/request-guard/internal/config"
	"github.com/posuite/request-guard/internal/observability"
)

func InitializeApp(cfg *config.Config, logger *slog.Logger, runtime *observability.Runtime) (*app.App, func(), error) {
	wire.Build(ProviderSet)
	return nil, nil, nil
}
