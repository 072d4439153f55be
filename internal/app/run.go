package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/vk/fedgridgo/internal/ctxlog"
)

// Run serves the executor API until ctx is cancelled or the process
// receives SIGINT or SIGTERM, then drains in-flight work and tears the
// factory's cached executors down.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logger.Info("🚀 Starting executor service...")
	if err := a.server.Run(ctx); err != nil {
		return err
	}
	a.logger.Debug("App.Run method finished.")
	return nil
}
