package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/thistle/config"
	"github.com/Ramsey-B/thistle/pkg/startup"
	"github.com/Ramsey-B/thistle/pkg/tracing"
	"github.com/Ramsey-B/thistle/pkg/tracing/exporters"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("thistle exited with an error")
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (ectologger.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger.With(zap.String("app", cfg.AppName)), nil), nil
}

func run(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	exporter, err := exporters.New(ctx, cfg.OTLP(), logger)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}
	shutdownTracing := tracing.Setup(cfg.Tracing(), exporter)

	a := newApp(cfg, logger)
	s := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	for _, dependency := range a.dependencies() {
		s.AddDependency(dependency)
	}

	startErr := s.Start(ctx)
	if startErr == nil {
		a.health.SetReady(true)
		logger.WithField("port", cfg.Port).Info("thistle started")

		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received")
		case err := <-a.serverErr:
			startErr = fmt.Errorf("http server: %w", err)
		}
		a.health.SetReady(false)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.Stop(stopCtx); err != nil {
		logger.WithError(err).Error("Failed to stop cleanly")
	}
	if err := shutdownTracing(stopCtx); err != nil {
		logger.WithError(err).Warn("Failed to flush traces")
	}
	return startErr
}
