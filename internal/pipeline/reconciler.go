package pipeline

import (
	"context"
	"errors"

	"github.com/agnivade/levenshtein"
	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/dvloznov/ledgerbook/internal/store"
)

// ReconcileResult counts what a reconciliation wrote.
type ReconcileResult struct {
	Inserted int
	Skipped  int
	Flagged  int
}

// Processed is the number of candidates the run has accounted for.
func (r ReconcileResult) Processed() int { return r.Inserted + r.Skipped }

// Reconciler persists classified transactions in batches, skipping exact
// duplicates and flagging near duplicates, then recomputes the user's aggregates.
type Reconciler struct {
	statements   store.StatementRepository
	transactions store.TransactionRepository
	aggregates   store.AggregateRepository
	batchSize    int
}

func NewReconciler(statements store.StatementRepository, transactions store.TransactionRepository, aggregates store.AggregateRepository, batchSize int) *Reconciler {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Reconciler{
		statements:   statements,
		transactions: transactions,
		aggregates:   aggregates,
		batchSize:    batchSize,
	}
}

// Persist writes txs batch by batch and advances the statement's processed
// counter after each batch. Store failures abort with a *domain.PersistenceError.
func (r *Reconciler) Persist(ctx context.Context, statementID string, txs []domain.Transaction) (ReconcileResult, error) {
	var res ReconcileResult
	for start := 0; start < len(txs); start += r.batchSize {
		end := start + r.batchSize
		if end > len(txs) {
			end = len(txs)
		}
		batch := txs[start:end]

		flagged, err := r.flagNearDuplicates(ctx, batch)
		if err != nil {
			return res, err
		}
		res.Flagged += flagged

		inserted, err := r.transactions.InsertIfAbsent(ctx, batch)
		if err != nil {
			return res, asPersistence("insert transactions", err)
		}
		res.Inserted += inserted
		res.Skipped += len(batch) - inserted

		if err := r.statements.UpdateProgress(ctx, statementID, res.Processed()); err != nil {
			return res, asPersistence("update progress", err)
		}
	}
	return res, nil
}

// Inserted returns the rows of txs that this run actually stored. Skipped
// duplicates never reach the store under their generated ids.
func (r *Reconciler) Inserted(ctx context.Context, statementID string, txs []domain.Transaction) ([]domain.Transaction, error) {
	stored, err := r.transactions.ListTransactions(ctx, store.TransactionFilter{StatementID: statementID})
	if err != nil {
		return nil, asPersistence("list inserted", err)
	}
	ids := make(map[string]bool, len(txs))
	for _, tx := range txs {
		ids[tx.ID] = true
	}
	var out []domain.Transaction
	for _, tx := range stored {
		if ids[tx.ID] {
			out = append(out, tx)
		}
	}
	return out, nil
}

// flagNearDuplicates marks rows that resemble an existing transaction of the
// same amount within a few days. Exact dedup-key matches are left to the insert.
func (r *Reconciler) flagNearDuplicates(ctx context.Context, batch []domain.Transaction) (int, error) {
	flagged := 0
	for i := range batch {
		tx := &batch[i]
		existing, err := r.transactions.FindByAmount(ctx, tx.UserID, tx.Amount,
			tx.Date.Add(-nearDuplicateWindow), tx.Date.Add(nearDuplicateWindow))
		if err != nil {
			return flagged, asPersistence("find near duplicates", err)
		}
		for _, other := range existing {
			if other.DedupKey == tx.DedupKey {
				continue
			}
			if similarDescriptions(tx.Description, other.Description) {
				tx.Metadata.PossibleDuplicateOf = other.ID
				tx.Metadata.NeedsReview = true
				flagged++
				break
			}
		}
	}
	return flagged, nil
}

// similarDescriptions compares normalized descriptions by edit distance
// relative to the longer one.
func similarDescriptions(a, b string) bool {
	a, b = words(a), words(b)
	if a == "" || b == "" {
		return false
	}
	longest := len([]rune(a))
	if n := len([]rune(b)); n > longest {
		longest = n
	}
	d := levenshtein.ComputeDistance(a, b)
	return float64(d)/float64(longest) < nearDuplicateDistance
}

// RecomputeAggregates rebuilds every budget and debt of userID from the full
// transaction history, so reprocessing never double-counts.
func (r *Reconciler) RecomputeAggregates(ctx context.Context, userID string) error {
	if r.aggregates == nil {
		return nil
	}
	budgets, err := r.aggregates.ListBudgets(ctx, userID)
	if err != nil {
		return asPersistence("list budgets", err)
	}
	debts, err := r.aggregates.ListDebts(ctx, userID)
	if err != nil {
		return asPersistence("list debts", err)
	}
	if len(budgets) == 0 && len(debts) == 0 {
		return nil
	}

	txs, err := r.transactions.ListTransactions(ctx, store.TransactionFilter{UserID: userID})
	if err != nil {
		return asPersistence("list transactions", err)
	}

	for _, b := range budgets {
		next := domain.RecomputeBudget(b, txs)
		if next.Spent.Equal(b.Spent) {
			continue
		}
		if err := r.aggregates.SaveBudget(ctx, &next); err != nil {
			return asPersistence("save budget", err)
		}
	}
	for _, d := range debts {
		next := domain.RecomputeDebt(d, txs)
		if next.Balance.Equal(d.Balance) {
			continue
		}
		if err := r.aggregates.SaveDebt(ctx, &next); err != nil {
			return asPersistence("save debt", err)
		}
	}
	return nil
}

func asPersistence(op string, err error) error {
	var pe *domain.PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &domain.PersistenceError{Op: op, Cause: err}
}
