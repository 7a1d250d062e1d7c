// Package app wires configuration into the running service components shared
// by the api, worker and cli commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dvloznov/ledgerbook/internal/api/handlers"
	"github.com/dvloznov/ledgerbook/internal/auth"
	"github.com/dvloznov/ledgerbook/internal/config"
	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/dvloznov/ledgerbook/internal/events"
	"github.com/dvloznov/ledgerbook/internal/jobs"
	"github.com/dvloznov/ledgerbook/internal/jobs/inmemory"
	"github.com/dvloznov/ledgerbook/internal/logger"
	"github.com/dvloznov/ledgerbook/internal/objectstore"
	"github.com/dvloznov/ledgerbook/internal/pipeline"
	"github.com/dvloznov/ledgerbook/internal/reporting"
	"github.com/dvloznov/ledgerbook/internal/store"
	"github.com/rs/zerolog"
)

// App holds the wired service components.
type App struct {
	Config    config.Config
	Log       zerolog.Logger
	Store     store.Store
	Objects   objectstore.Store
	Processor *pipeline.Processor
	Events    events.Publisher
	Reporter  reporting.Reporter
	Exporter  *reporting.BigQueryExporter
	Sessions  *auth.Sessions
	JobStore  *inmemory.Store
	Queue     *inmemory.Queue

	closers []func() error
}

// New builds every component from cfg. Empty DSN, bucket, broker list or
// reporting project select the local in-memory or log-only variants.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	a := &App{Config: cfg, Log: log}

	if err := a.openStore(cfg.Database); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openObjects(ctx, cfg.Storage); err != nil {
		a.Close()
		return nil, err
	}

	var exporter pipeline.Exporter
	if cfg.Reporting.ProjectID != "" {
		bq, err := reporting.NewBigQueryExporter(ctx, cfg.Reporting.ProjectID, cfg.Reporting.Dataset)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("New: %w", err)
		}
		a.Exporter = bq
		a.Reporter = bq
		exporter = bq
		a.closers = append(a.closers, bq.Close)
	} else {
		a.Reporter = reporting.NewStoreReporter(a.Store)
	}

	if len(cfg.Events.Brokers) > 0 {
		a.Events = events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic)
		log.Info().Strs("brokers", cfg.Events.Brokers).Str("topic", cfg.Events.Topic).Msg("Publishing statement events to Kafka")
	} else {
		a.Events = events.NewLogPublisher(log)
	}
	a.closers = append(a.closers, a.Events.Close)

	var assistant pipeline.Assistant
	if cfg.Classifier.AssistantEnabled {
		gemini, err := pipeline.NewGeminiAssistant(ctx, cfg.Classifier.Model)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("New: %w", err)
		}
		assistant = gemini
	}

	a.Processor = pipeline.NewProcessor(pipeline.ProcessorConfig{
		Store:          a.Store,
		Objects:        a.Objects,
		Classifier:     pipeline.NewClassifier(pipeline.DefaultRules, assistant, cfg.Classifier.ReviewThreshold),
		Events:         a.Events,
		Exporter:       exporter,
		BatchSize:      cfg.Pipeline.BatchSize,
		RunTimeout:     cfg.Pipeline.RunTimeout,
		ExtractTimeout: cfg.Pipeline.ExtractTimeout,
		PDFExtractions: cfg.Pipeline.Workers,
		Logger:         log,
	})
	a.Sessions = auth.NewSessions(cfg.Auth.Secret, cfg.Auth.SessionTTL)
	a.JobStore = inmemory.NewStore()
	a.Queue = inmemory.NewQueue(cfg.Pipeline.QueueSize, cfg.Pipeline.Workers, a.JobStore)
	a.closers = append(a.closers, a.Queue.Close)
	return a, nil
}

func (a *App) openStore(cfg config.DatabaseConfig) error {
	if cfg.DSN == "" {
		a.Log.Warn().Msg("No database DSN configured, using the in-memory store")
		a.Store = store.NewMemory()
		return nil
	}
	db, err := store.Open(cfg.DSN, a.Log)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("openStore: %w", err)
	}
	a.closers = append(a.closers, sqlDB.Close)
	a.Store = store.NewGorm(db)
	return nil
}

func (a *App) openObjects(ctx context.Context, cfg config.StorageConfig) error {
	if cfg.Bucket == "" {
		a.Log.Warn().Msg("No storage bucket configured, keeping statement files in memory")
		a.Objects = objectstore.NewMemory("local")
		return nil
	}
	gcs, err := objectstore.OpenGCS(ctx, cfg.Bucket)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, gcs.Close)
	a.Objects = gcs
	return nil
}

// Router returns the HTTP API handler.
func (a *App) Router() http.Handler {
	return handlers.NewRouter(handlers.RouterConfig{
		Statements: handlers.StatementsConfig{
			Store:          a.Store,
			Objects:        a.Objects,
			Processor:      a.Processor,
			Publisher:      a.Queue,
			SignedURLTTL:   a.Config.Storage.SignedURLTTL,
			MaxUploadBytes: a.Config.Server.MaxUploadBytes,
			Logger:         a.Log,
		},
		Reporter:       a.Reporter,
		JobStore:       a.JobStore,
		Sessions:       a.Sessions,
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		Logger:         a.Log,
	})
}

// JobHandler runs the pipeline for one queued job. A statement another worker
// already claimed is not an error.
func (a *App) JobHandler() jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		psj, ok := job.(*jobs.ProcessStatementJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		log := a.Log.With().Str("job_id", psj.JobID).Str("statement_id", psj.StatementID).Logger()
		log.Debug().Msg("Processing statement job")

		err := a.Processor.Process(ctx, psj.StatementID)
		if errors.Is(err, domain.ErrStateConflict) {
			log.Debug().Msg("Statement already claimed, skipping")
			return nil
		}
		return err
	}
}

// Sweep enqueues statements still waiting in (PENDING, UPLOADED), such as
// uploads whose enqueue failed or that were dropped at shutdown.
func (a *App) Sweep(ctx context.Context) (int, error) {
	ids, err := a.Store.ListStatementIDs(ctx, domain.StateQueued, a.Config.Pipeline.QueueSize)
	if err != nil {
		return 0, fmt.Errorf("Sweep: %w", err)
	}
	n := 0
	for _, id := range ids {
		if err := a.Queue.PublishProcessStatement(ctx, &jobs.ProcessStatementJob{StatementID: id}); err != nil {
			return n, fmt.Errorf("Sweep: enqueue %s: %w", id, err)
		}
		n++
	}
	return n, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (a *App) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.Sweep(ctx)
			if err != nil && ctx.Err() == nil {
				a.Log.Warn().Err(err).Msg("Sweep failed")
				continue
			}
			if n > 0 {
				a.Log.Info().Int("enqueued", n).Msg("Swept pending statements")
			}
		}
	}
}

// Close releases every opened resource, last opened first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
