package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/posuite/request-guard/internal/config"
	"github.com/posuite/request-guard/internal/di"
	"github.com/posuite/request-guard/internal/observability"
	"github.com/posuite/request-guard/internal/repository"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "guard",
		Short:         "Request security pipeline for the purchase-order API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply the user and session schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			db, err := repository.Open(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer func() { _ = sqlDB.Close() }()
			}
			if err := repository.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	})
	return root
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, lp, err := observability.NewLogger(ctx, cfg, os.Stdout)
	if err != nil {
		return err
	}
	runtime, err := observability.InitRuntime(ctx, cfg, logger, lp)
	if err != nil {
		return err
	}

	a, cleanup, err := di.InitializeApp(cfg, logger, runtime)
	if err != nil {
		_ = runtime.Shutdown(context.Background())
		return err
	}
	a.OnClose(func() error {
		cleanup()
		return nil
	})

	logger.Info("starting request guard",
		"addr", cfg.HTTPAddr,
		"env", cfg.Security.Environment,
		"rate_limit_backend", cfg.RateLimitBackend,
	)
	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
