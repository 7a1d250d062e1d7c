package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/dvloznov/ledgerbook/internal/logger"
	"github.com/dvloznov/ledgerbook/internal/store"
)

// PipelineStep represents a single step in the ingestion pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Statement *domain.Statement
	// Current is the state the statement is in; a failure is recorded against it.
	Current      domain.State
	Extraction   *domain.ExtractionResult
	Transactions []domain.Transaction
	Result       ReconcileResult
	// Inserted holds the transactions this run stored, for export.
	Inserted []domain.Transaction
	// Warnings collects non-fatal classification problems.
	Warnings []string
}

// ExtractStep reads the file into candidates and persists the raw payload.
type ExtractStep struct {
	extractor  *Extractor
	statements store.StatementRepository
}

func (s *ExtractStep) Execute(ctx context.Context, state *PipelineState) error {
	result, reused, err := s.extractor.Extract(ctx, state.Statement)
	if err != nil {
		return err
	}
	state.Extraction = result

	if reused {
		return nil
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("ExtractStep: marshal payload: %w", err)
	}
	if err := s.statements.SaveExtraction(ctx, state.Statement.ID, payload, len(result.Records)); err != nil {
		return asPersistence("save extraction", err)
	}
	state.Statement.RawPayload = payload
	state.Statement.RecordCount = len(result.Records)
	return nil
}

// ClassifyStep assigns category, confidence and profile to every candidate.
type ClassifyStep struct {
	tracker    *Tracker
	classifier *Classifier
	profiles   ProfileLister
	now        func() time.Time
}

func (s *ClassifyStep) Execute(ctx context.Context, state *PipelineState) error {
	next, err := s.tracker.Advance(ctx, state.Statement.ID, state.Current)
	if err != nil {
		return err
	}
	state.Current = next

	profiles, err := s.profiles.ListProfiles(ctx, state.Statement.UserID)
	if err != nil {
		return asPersistence("list profiles", err)
	}

	log := logger.FromContext(ctx)
	now := s.now()
	txs := make([]domain.Transaction, 0, len(state.Extraction.Records))
	for _, cand := range state.Extraction.Records {
		cls, err := s.classifier.Classify(ctx, cand, state.Statement.ProfileID, profiles)
		if err != nil {
			state.Warnings = append(state.Warnings, err.Error())
			log.Warn().Err(err).Int("line", cand.Line).Msg("Classification fell back to Uncategorized")
		}
		txs = append(txs, BuildTransaction(state.Statement, cand, cls, now))
	}
	state.Transactions = txs
	return nil
}

// ReconcileStep persists the transactions and refreshes aggregates.
type ReconcileStep struct {
	tracker    *Tracker
	reconciler *Reconciler
}

func (s *ReconcileStep) Execute(ctx context.Context, state *PipelineState) error {
	next, err := s.tracker.Advance(ctx, state.Statement.ID, state.Current)
	if err != nil {
		return err
	}
	state.Current = next

	res, err := s.reconciler.Persist(ctx, state.Statement.ID, state.Transactions)
	state.Result = res
	if err != nil {
		return err
	}
	if err := s.reconciler.RecomputeAggregates(ctx, state.Statement.UserID); err != nil {
		return err
	}

	if res.Inserted > 0 {
		inserted, err := s.reconciler.Inserted(ctx, state.Statement.ID, state.Transactions)
		if err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Msg("Could not resolve inserted transactions for export")
		}
		state.Inserted = inserted
	}
	return nil
}

// CompleteStep marks the statement COMPLETED.
type CompleteStep struct {
	tracker *Tracker
}

func (s *CompleteStep) Execute(ctx context.Context, state *PipelineState) error {
	if err := s.tracker.Complete(ctx, state.Statement.ID, state.Statement.RecordCount); err != nil {
		return err
	}
	state.Current = domain.StateDone
	state.Statement.ProcessedCount = state.Statement.RecordCount
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline step %d not started: %w", i+1, err)
		}
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}
