package pipeline

import (
	"context"

	"github.com/dvloznov/ledgerbook/internal/domain"
)

// Exporter copies persisted transactions to an analytics sink. Export
// failures are logged and never fail a run.
type Exporter interface {
	ExportTransactions(ctx context.Context, txs []domain.Transaction) error
}

// ProfileLister is the profile lookup the classify step needs.
type ProfileLister interface {
	ListProfiles(ctx context.Context, userID string) ([]domain.BusinessProfile, error)
}
