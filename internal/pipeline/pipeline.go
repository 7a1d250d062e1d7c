package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/dvloznov/ledgerbook/internal/events"
	"github.com/dvloznov/ledgerbook/internal/logger"
	"github.com/dvloznov/ledgerbook/internal/objectstore"
	"github.com/dvloznov/ledgerbook/internal/store"
	"github.com/rs/zerolog"
)

// failureWriteTimeout bounds recording a failure after the run context is gone.
const failureWriteTimeout = 10 * time.Second

// ProcessorConfig wires a Processor.
type ProcessorConfig struct {
	Store          store.Store
	Objects        objectstore.Store
	Classifier     *Classifier
	Events         events.Publisher
	Exporter       Exporter
	BatchSize      int
	RunTimeout     time.Duration
	ExtractTimeout time.Duration
	// PDFExtractions caps concurrent PDF reads; set it to the worker count.
	PDFExtractions int
	Logger         zerolog.Logger
}

// Processor runs the statement pipeline: extract, classify, reconcile.
type Processor struct {
	statements store.StatementRepository
	tracker    *Tracker
	pipeline   *Pipeline
	events     events.Publisher
	exporter   Exporter
	runTimeout time.Duration
	log        zerolog.Logger
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.Classifier == nil {
		cfg.Classifier = NewClassifier(DefaultRules, nil, DefaultReviewThreshold)
	}
	if cfg.Events == nil {
		cfg.Events = events.NewLogPublisher(cfg.Logger)
	}

	tracker := NewTracker(cfg.Store)
	reconciler := NewReconciler(cfg.Store, cfg.Store, cfg.Store, cfg.BatchSize)
	return &Processor{
		statements: cfg.Store,
		tracker:    tracker,
		pipeline: NewPipeline(
			&ExtractStep{extractor: NewExtractor(cfg.Objects, cfg.ExtractTimeout, cfg.PDFExtractions), statements: cfg.Store},
			&ClassifyStep{tracker: tracker, classifier: cfg.Classifier, profiles: cfg.Store, now: time.Now},
			&ReconcileStep{tracker: tracker, reconciler: reconciler},
			&CompleteStep{tracker: tracker},
		),
		events:     cfg.Events,
		exporter:   cfg.Exporter,
		runTimeout: cfg.RunTimeout,
		log:        cfg.Logger,
	}
}

// Tracker exposes the state tracker for retry operations.
func (p *Processor) Tracker() *Tracker { return p.tracker }

// Process runs one queued statement to COMPLETED or FAILED. It returns
// domain.ErrStateConflict when another worker already claimed it, and the
// run's error when the statement ended FAILED.
func (p *Processor) Process(ctx context.Context, statementID string) error {
	st, err := p.statements.GetStatement(ctx, statementID)
	if err != nil {
		return err
	}
	if err := p.tracker.Claim(ctx, statementID); err != nil {
		return err
	}
	st.State = domain.StateExtracting
	st.ProcessedCount = 0

	log := logger.ForStatement(p.log, st.ID, st.UserID)
	log.Info().Str("source_type", string(st.SourceType)).Msg("Statement processing started")
	started := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, p.runTimeout)
	defer cancel()
	runCtx = logger.WithContext(runCtx, log)

	state := &PipelineState{Statement: st, Current: domain.StateExtracting}
	runErr := p.pipeline.Execute(runCtx, state)
	if runErr != nil {
		msg := failureMessage(runCtx, runErr, p.runTimeout)
		p.fail(ctx, log, state, msg)
		return runErr
	}

	log.Info().
		Int("records", st.RecordCount).
		Int("inserted", state.Result.Inserted).
		Int("skipped", state.Result.Skipped).
		Int("flagged", state.Result.Flagged).
		Int("warnings", len(state.Warnings)).
		Dur("duration", time.Since(started)).
		Msg("Statement processing completed")

	p.publish(ctx, log, events.NewStatementEvent(st, domain.StateDone, ""))
	p.export(ctx, log, state.Inserted)
	return nil
}

// fail records the failure with a context detached from the run, which may
// already be cancelled or past its deadline.
func (p *Processor) fail(ctx context.Context, log zerolog.Logger, state *PipelineState, msg string) {
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	at := state.Current
	if err := p.tracker.Fail(failCtx, state.Statement.ID, at, msg); err != nil {
		log.Error().Err(err).Str("state", at.String()).Msg("Failed to record statement failure")
		return
	}
	log.Error().Str("stage", string(at.Stage)).Str("reason", msg).Msg("Statement processing failed")

	failed, _ := domain.FailedAt(at.Stage)
	if current, err := p.statements.GetStatement(failCtx, state.Statement.ID); err == nil {
		state.Statement = current
	}
	p.publish(failCtx, log, events.NewStatementEvent(state.Statement, failed, msg))
}

func (p *Processor) publish(ctx context.Context, log zerolog.Logger, ev events.StatementEvent) {
	if err := p.events.PublishStatementEvent(ctx, ev); err != nil {
		log.Warn().Err(err).Msg("Failed to publish statement event")
	}
}

func (p *Processor) export(ctx context.Context, log zerolog.Logger, txs []domain.Transaction) {
	if p.exporter == nil || len(txs) == 0 {
		return
	}
	if err := p.exporter.ExportTransactions(ctx, txs); err != nil {
		log.Warn().Err(err).Int("transactions", len(txs)).Msg("Ledger export failed")
	}
}

// failureMessage renders the error log line for a failed run.
func failureMessage(runCtx context.Context, err error, runTimeout time.Duration) string {
	var ee *domain.ExtractionError
	if errors.As(err, &ee) {
		return ee.Error()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("run exceeded %s: %v", runTimeout, err)
	}
	var pe *domain.PersistenceError
	if errors.As(err, &pe) {
		return pe.Error()
	}
	return err.Error()
}
