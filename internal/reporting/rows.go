package reporting

import (
	"encoding/json"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/ledgerbook/internal/domain"
)

const ledgerTable = "ledger_transactions"

// LedgerRow is the BigQuery shape of a persisted transaction.
type LedgerRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED

	UserID      string              `bigquery:"user_id"`
	StatementID bigquery.NullString `bigquery:"statement_id"`
	ProfileID   string              `bigquery:"profile_id"`

	TransactionDate civil.Date `bigquery:"transaction_date"` // partition column
	Amount          *big.Rat   `bigquery:"amount"`           // NUMERIC
	Type            string     `bigquery:"type"`

	Description  string              `bigquery:"description"`
	CategoryName string              `bigquery:"category_name"`
	Confidence   float64             `bigquery:"confidence"`
	Source       bigquery.NullString `bigquery:"source"`
	Metadata     bigquery.NullString `bigquery:"metadata"` // JSON text

	CreatedTS  time.Time `bigquery:"created_ts"`
	ExportedTS time.Time `bigquery:"exported_ts"`
}

// ledgerSchema is inferred once from LedgerRow.
var ledgerSchema = func() bigquery.Schema {
	s, err := bigquery.InferSchema(LedgerRow{})
	if err != nil {
		panic(err)
	}
	return s
}()

// toLedgerRow converts a transaction for export.
func toLedgerRow(tx domain.Transaction, exportedAt time.Time) *LedgerRow {
	row := &LedgerRow{
		TransactionID:   tx.ID,
		UserID:          tx.UserID,
		ProfileID:       tx.ProfileID,
		TransactionDate: civil.DateOf(tx.Date),
		Amount:          tx.Amount.Rat(),
		Type:            string(tx.Type),
		Description:     tx.Description,
		CategoryName:    tx.Category,
		Confidence:      tx.Confidence,
		CreatedTS:       tx.CreatedAt,
		ExportedTS:      exportedAt,
	}
	if tx.StatementID != nil {
		row.StatementID = bigquery.NullString{StringVal: *tx.StatementID, Valid: true}
	}
	if tx.Metadata.Source != "" {
		row.Source = bigquery.NullString{StringVal: tx.Metadata.Source, Valid: true}
	}
	if meta, err := json.Marshal(tx.Metadata); err == nil {
		row.Metadata = bigquery.NullString{StringVal: string(meta), Valid: true}
	}
	return row
}

// ledgerSaver attaches the transaction id as the insert id, so a re-export
// of the same rows is deduplicated by BigQuery's best-effort streaming dedup.
func ledgerSaver(row *LedgerRow) *bigquery.StructSaver {
	return &bigquery.StructSaver{
		Struct:   row,
		Schema:   ledgerSchema,
		InsertID: row.TransactionID,
	}
}
