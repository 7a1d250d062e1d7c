package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/ledgerbook/internal/app"
	"github.com/dvloznov/ledgerbook/internal/config"
	"github.com/dvloznov/ledgerbook/internal/logger"
)

func main() {
	port := flag.String("port", "", "HTTP server port (overrides server.port)")
	flag.Parse()

	// Logs startup failures before the configured logger exists.
	bootLog := logger.New()
	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to initialise application")
	}
	log := a.Log

	// Statements are processed in-process; cmd/worker adds capacity against a shared database.
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := startJobs(workerCtx, a, cfg.Pipeline); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job worker")
	}

	server := newServer(cfg.Server, a.Router())

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop accepting jobs and wait for in-flight runs before cancelling them.
	if err := a.Queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	if err := a.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to release resources")
	}
	log.Info().Msg("Server exited")
}

// startJobs starts the in-process consumer, re-enqueues statements left
// PENDING by a previous run and keeps sweeping until ctx is done.
func startJobs(ctx context.Context, a *app.App, cfg config.PipelineConfig) error {
	if err := a.Queue.Start(ctx, a.JobHandler()); err != nil {
		return err
	}
	a.Log.Info().Int("workers", cfg.Workers).Msg("Started job worker")

	if n, err := a.Sweep(ctx); err != nil {
		a.Log.Warn().Err(err).Msg("Initial sweep failed")
	} else if n > 0 {
		a.Log.Info().Int("enqueued", n).Msg("Re-enqueued pending statements")
	}
	go a.RunSweeper(ctx, cfg.SweepInterval)
	return nil
}

func newServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
}
