package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/dvloznov/ledgerbook/internal/store"
)

// Tracker drives statement state. Every move is a conditional transition,
// so two workers racing for the same statement cannot both win.
type Tracker struct {
	statements store.StatementRepository
	now        func() time.Time
}

func NewTracker(statements store.StatementRepository) *Tracker {
	return &Tracker{statements: statements, now: time.Now}
}

// Claim moves a queued statement into extraction and resets its progress.
// It returns domain.ErrStateConflict when the statement is not queued.
func (t *Tracker) Claim(ctx context.Context, id string) error {
	zero := 0
	return t.statements.Transition(ctx, id, domain.StateQueued, domain.StateExtracting, store.StatementChange{ProcessedCount: &zero})
}

// Advance moves a processing statement to the next stage.
func (t *Tracker) Advance(ctx context.Context, id string, from domain.State) (domain.State, error) {
	to, ok := from.Next()
	if !ok || to == domain.StateDone {
		return from, fmt.Errorf("Advance: no intermediate stage after %s", from)
	}
	if err := t.statements.Transition(ctx, id, from, to, store.StatementChange{}); err != nil {
		return from, err
	}
	return to, nil
}

// Complete marks the statement done with every record accounted for.
func (t *Tracker) Complete(ctx context.Context, id string, recordCount int) error {
	return t.statements.Transition(ctx, id, domain.StateReconciling, domain.StateDone, store.StatementChange{ProcessedCount: &recordCount})
}

// Fail records msg and moves the statement to FAILED at the stage it was in.
func (t *Tracker) Fail(ctx context.Context, id string, at domain.State, msg string) error {
	failed, err := domain.FailedAt(at.Stage)
	if err != nil {
		return err
	}
	entry := domain.FormatLogEntry(t.now(), at.Stage, msg)
	return t.statements.Transition(ctx, id, at, failed, store.StatementChange{AppendError: entry})
}

// Requeue resets a terminal statement to (PENDING, UPLOADED) and clears its
// error log. Anything not terminal is a validation error.
func (t *Tracker) Requeue(ctx context.Context, st *domain.Statement) error {
	if !st.State.Terminal() {
		return domain.NewValidationError("status", "statement %s is %s; only completed or failed statements can be retried", st.ID, st.State)
	}
	return t.statements.Transition(ctx, st.ID, st.State, domain.StateQueued, store.StatementChange{ClearErrorLog: true})
}

// RetryFailed resets every FAILED statement and returns their ids.
func (t *Tracker) RetryFailed(ctx context.Context) ([]string, error) {
	return t.statements.ResetFailed(ctx)
}
