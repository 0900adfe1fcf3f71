package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/sleroq/web.cum.army/internal/console"
	"github.com/sleroq/web.cum.army/internal/environment"
	"github.com/sleroq/web.cum.army/internal/server"
	"github.com/sleroq/web.cum.army/internal/server/handlers"
	"github.com/sleroq/web.cum.army/internal/telemetry"
	"github.com/sleroq/web.cum.army/internal/tracing"
	"github.com/sleroq/web.cum.army/internal/webrtc/signaling"
)

const shutdownTimeout = 5 * time.Second

// app holds what every command shares.
type app struct {
	options   console.Options
	logger    *zap.Logger
	registry  *prometheus.Registry
	telemetry *telemetry.Collector
	tracing   *tracing.Provider
	client    *signaling.Client
}

func main() {
	flush := environment.SetupLogger()
	environment.LoadEnvironmentVariables()
	options := console.HandleConsoleFlags()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, options, zap.L())
	stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		zap.L().Error("Main.Error", zap.String("command", string(options.Command)), zap.Error(err))
		flush()
		os.Exit(1)
	}

	flush()
}

func run(ctx context.Context, options console.Options, logger *zap.Logger) error {
	logger.Info("Booting up broadcast-box client",
		zap.String("command", string(options.Command)),
		zap.String("apiPath", options.APIPath),
		zap.Time("time", time.Now()))

	provider, err := tracing.Init(tracing.ConfigFromEnvironment(), logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Tracing.Shutdown", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	a := &app{
		options:   options,
		logger:    logger,
		registry:  registry,
		telemetry: telemetry.NewCollector(registry),
		tracing:   provider,
		client: signaling.NewClient(signaling.ClientConfig{
			APIPath:        options.APIPath,
			HTTPClient:     http.DefaultClient,
			TracerProvider: provider.TracerProvider(),
			Logger:         logger,
		}),
	}

	switch options.Command {
	case console.CommandPlay:
		return a.play(ctx)
	case console.CommandPublish:
		return a.publish(ctx)
	case console.CommandStatus:
		return a.status(ctx)
	case console.CommandChat:
		return a.chat(ctx)
	}

	return console.ErrUnknownCommand
}

// serveMetrics starts the metrics endpoint when requested. The returned
// function stops it.
func (a *app) serveMetrics(health handlers.HealthFunc) (func(), error) {
	if !a.options.Metrics {
		return func() {}, nil
	}

	metricsServer, err := server.StartWebServer(server.Config{
		Address:  a.options.MetricsAddress,
		Gatherer: a.registry,
		Health:   health,
		Logger:   a.logger,
	})
	if err != nil {
		return nil, err
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := metricsServer.Shutdown(ctx); err != nil {
			a.logger.Warn("Server.Shutdown", zap.Error(err))
		}
	}, nil
}
