package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/fedgridgo/internal/config"
	"github.com/vk/fedgridgo/internal/ctxlog"
	"github.com/vk/fedgridgo/internal/factory"
	"github.com/vk/fedgridgo/internal/server"
)

// App encapsulates the service's dependencies, configuration, and lifecycle.
type App struct {
	outW    io.Writer
	logger  *slog.Logger
	config  *config.Model
	factory factory.Factory
	server  *server.Server
}

// NewApp is the constructor for the executor service. It returns a fully
// initialized App instance with its own isolated logger, factory, and
// server front-end.
func NewApp(outW io.Writer, appConfig *Config) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model, err := config.Load(ctx, appConfig.ConfigPath)
	if err != nil {
		// A failure to load config is a fatal startup error.
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}
	if appConfig.Port != 0 {
		model.Server.Port = appConfig.Port
	}
	if appConfig.MaxWorkers != 0 {
		model.Server.MaxWorkers = appConfig.MaxWorkers
	}
	logger.Debug("Configuration loaded.", "port", model.Server.Port, "default_num_clients", model.DefaultNumClients())

	f, err := factory.New(factory.Kind(model.Executor.FactoryKind), model.FactoryConfig())
	if err != nil {
		panic(fmt.Errorf("failed to build executor factory: %w", err))
	}
	logger.Debug("Executor factory built.", "kind", model.Executor.FactoryKind, "reuse", model.Executor.Reuse)

	srv, err := server.New(f, server.Options{
		Port:         model.Server.Port,
		MaxWorkers:   model.Server.MaxWorkers,
		Backpressure: config.Backpressure(model.Server.Backpressure),
		GracePeriod:  model.GracePeriod(),
		TLSCert:      model.Server.TLSCert,
		TLSKey:       model.Server.TLSKey,
	})
	if err != nil {
		panic(fmt.Errorf("failed to build server: %w", err))
	}

	return &App{
		outW:    outW,
		logger:  logger,
		config:  model,
		factory: f,
		server:  srv,
	}
}

// Server returns the application's server. This is primarily for testing.
func (a *App) Server() *server.Server {
	return a.server
}

// Factory returns the application's executor factory. This is primarily
// for testing.
func (a *App) Factory() factory.Factory {
	return a.factory
}
