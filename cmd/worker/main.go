package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/ledgerbook/internal/app"
	"github.com/dvloznov/ledgerbook/internal/config"
	"github.com/dvloznov/ledgerbook/internal/logger"
)

// The worker shares the API's database and picks up PENDING statements by
// sweeping. Claims are conditional, so running it beside the API's in-process
// workers never processes a statement twice.
func main() {
	bootLog := logger.New()
	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to initialise application")
	}
	log := a.Log

	if cfg.Database.DSN == "" {
		log.Warn().Msg("Worker running against the in-memory store will never see uploads from the API")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := startWorker(ctx, a, cfg.Pipeline.SweepInterval); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	log.Info().
		Int("workers", cfg.Pipeline.Workers).
		Dur("sweep_interval", cfg.Pipeline.SweepInterval).
		Msg("Worker service started, waiting for statements...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := a.Queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	cancel()

	if err := a.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to release resources")
	}
	log.Info().Msg("Worker service exited")
}

func startWorker(ctx context.Context, a *app.App, sweepInterval time.Duration) error {
	if err := a.Queue.Start(ctx, a.JobHandler()); err != nil {
		return err
	}
	go a.RunSweeper(ctx, sweepInterval)
	return nil
}
