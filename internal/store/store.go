package store

import (
	"context"
	"time"

	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/shopspring/decimal"
)

// StatementSummary is a list row for the statements view.
type StatementSummary struct {
	Statement        domain.Statement
	TransactionCount int
}

// StatementChange carries the column writes that accompany a state transition.
type StatementChange struct {
	// AppendError appends one line to the error log.
	AppendError string
	// ClearErrorLog sets the error log back to null.
	ClearErrorLog bool
	// ProcessedCount overwrites the processed counter when non-nil.
	ProcessedCount *int
}

// StatementRepository persists statements. Transition is the only way state changes.
type StatementRepository interface {
	CreateStatement(ctx context.Context, st *domain.Statement) error
	GetStatement(ctx context.Context, id string) (*domain.Statement, error)
	GetStatementForUser(ctx context.Context, userID, id string) (*domain.Statement, error)
	// ListStatements returns the user's statements newest first.
	ListStatements(ctx context.Context, userID string) ([]StatementSummary, error)
	// ListStatementIDs returns ids in the given state, oldest first.
	ListStatementIDs(ctx context.Context, state domain.State, limit int) ([]string, error)
	// StatementIDsByChecksum returns the user's statements with identical file content, oldest first.
	StatementIDsByChecksum(ctx context.Context, userID, checksum string) ([]string, error)
	// Transition performs a conditional update guarded by the current (status, stage).
	// It returns domain.ErrStateConflict when the row was not in from.
	Transition(ctx context.Context, id string, from, to domain.State, change StatementChange) error
	UpdateProgress(ctx context.Context, id string, processed int) error
	SaveExtraction(ctx context.Context, id string, payload []byte, recordCount int) error
	// ResetFailed moves every FAILED statement back to (PENDING, UPLOADED) and returns their ids.
	ResetFailed(ctx context.Context) ([]string, error)
	// DeleteStatement removes the statement and its transactions.
	DeleteStatement(ctx context.Context, userID, id string) error
}

// TransactionFilter narrows a transaction listing.
type TransactionFilter struct {
	UserID      string
	StatementID string
	ProfileID   string
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}

// TransactionRepository persists classified transactions.
type TransactionRepository interface {
	// InsertIfAbsent inserts rows whose dedup key is new and returns how many were inserted.
	InsertIfAbsent(ctx context.Context, txs []domain.Transaction) (int, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error)
	GetTransaction(ctx context.Context, userID, id string) (*domain.Transaction, error)
	// FindByAmount returns the user's transactions with this amount between from and to inclusive.
	FindByAmount(ctx context.Context, userID string, amount decimal.Decimal, from, to time.Time) ([]domain.Transaction, error)
	UpdateTransactionProfile(ctx context.Context, userID, id, profileID string) error
}

// ProfileRepository reads users and their business profiles.
type ProfileRepository interface {
	CreateProfile(ctx context.Context, p *domain.BusinessProfile) error
	ListProfiles(ctx context.Context, userID string) ([]domain.BusinessProfile, error)
	GetProfile(ctx context.Context, userID, id string) (*domain.BusinessProfile, error)
	SaveUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

// AggregateRepository persists budgets and debts.
type AggregateRepository interface {
	ListBudgets(ctx context.Context, userID string) ([]domain.Budget, error)
	SaveBudget(ctx context.Context, b *domain.Budget) error
	ListDebts(ctx context.Context, userID string) ([]domain.Debt, error)
	SaveDebt(ctx context.Context, d *domain.Debt) error
}

// Store bundles every repository.
type Store interface {
	StatementRepository
	TransactionRepository
	ProfileRepository
	AggregateRepository
}
