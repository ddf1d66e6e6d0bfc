// Command server runs the matcha auth API.
//
// Configuration comes from the environment; see internal/config. A missing
// or short JWT_SECRET stops the process before anything listens.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sakif/matcha/internal/config"
	"github.com/sakif/matcha/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No config means no log level either; fall back to the default logger.
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM, then drains and closes storage.
	if err := srv.Start(ctx); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
