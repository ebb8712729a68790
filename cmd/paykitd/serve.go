package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	environment "paykit/internal/env"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the subscription scheduler, event sinks and observability server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, serve)
		},
	}
}

func serve(ctx context.Context, env *environment.Env) error {
	logger := env.Logger
	logger.Info("Starting paykit daemon", "owner", env.Clients.Routing.Owner())

	if env.Servers.HTTP.Observability != nil {
		go func() {
			logger.Info("Starting observability server", slog.String("addr", env.Servers.HTTP.Observability.Addr))
			if err := env.Servers.HTTP.Observability.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Observability server error", slog.Any("error", err))
			}
		}()
	}

	if err := env.Services.Workers.Start(); err != nil {
		logger.Error("Failed to start workers", slog.Any("error", err))
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Daemon started. Press Ctrl+C to stop.")
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("Shutting down daemon...", "active_payments", env.Services.Payments.Active())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), env.Config.ShutdownDuration)
	defer cancel()

	env.Services.Workers.Stop()

	if env.Servers.HTTP.Observability != nil {
		if err := env.Servers.HTTP.Observability.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Observability server shutdown error", slog.Any("error", err))
		}
	}

	logger.Info("Daemon stopped")
	return nil
}
