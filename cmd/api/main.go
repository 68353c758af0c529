package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"dreammotion/internal/infrastructure"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := infrastructure.Bootstrap(ctx)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		if cleanup != nil {
			cleanup()
		}
		os.Exit(1)
	}
	defer cleanup()

	slog.Info("dreammotion credit engine starting")

	if err := app.Run(ctx); err != nil {
		slog.Error("application exited with error", "error", err)
		os.Exit(1)
	}

	slog.Info("dreammotion credit engine stopped")
}
