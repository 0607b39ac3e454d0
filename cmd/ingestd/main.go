package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetwire/ingestd/internal/config"
	"github.com/fleetwire/ingestd/internal/logging"
	"github.com/fleetwire/ingestd/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./config.yaml or ./configs/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	if *configPath != "" {
		if err := config.WatchLogLevel(*configPath, func(updated *config.Config) {
			if err := logging.SetLevel(&logger, updated.Logging.Level); err != nil {
				logger.Warn().Err(err).Msg("ignoring invalid log level from reloaded config")
				return
			}
			logger.Info().Str("level", updated.Logging.Level).Msg("log level reloaded")
		}); err != nil {
			logger.Warn().Err(err).Msg("failed to watch config for log-level hot reload")
		}
	}

	svc, err := service.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build ingestion service")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ingestion service exited with an error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("ingestion service shutdown failed")
		os.Exit(1)
	}
}
