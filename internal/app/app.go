package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/posuite/request-guard/internal/config"
	"github.com/posuite/request-guard/internal/observability"
)

type App struct {
	Config          *config.Config
	Logger          *slog.Logger
	Server          *http.Server
	Observability   *observability.Runtime
	Sweeper         *Sweeper
	ShutdownTimeout time.Duration

	closers []func() error
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, runtime *observability.Runtime, sweeper *Sweeper) *App {
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &App{
		Config:          cfg,
		Logger:          logger,
		Server:          server,
		Observability:   runtime,
		Sweeper:         sweeper,
		ShutdownTimeout: timeout,
	}
}

// OnClose registers a release hook run after the server has drained.
func (a *App) OnClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Run serves until ctx is cancelled or the listener fails, then drains the
// server, stops the sweeper and flushes telemetry.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr, "env", a.Config.Security.Environment)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.Sweeper != nil {
		g.Go(func() error { return a.Sweeper.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.ShutdownTimeout)
		defer cancel()
		a.Logger.Info("http server shutting down")
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	runErr := g.Wait()
	return errors.Join(runErr, a.close())
}

func (a *App) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.ShutdownTimeout)
	defer cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Observability.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
	}
	return errors.Join(errs...)
}
