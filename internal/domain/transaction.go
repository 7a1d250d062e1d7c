package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the day-precision layout used for transaction dates.
const DateLayout = "2006-01-02"

// CategoryUncategorized is assigned when no rule or assistant produces a category.
const CategoryUncategorized = "Uncategorized"

// TransactionType is derived from the sign of the amount.
type TransactionType string

const (
	TransactionIncome  TransactionType = "INCOME"
	TransactionExpense TransactionType = "EXPENSE"
)

// TypeForAmount returns INCOME for positive amounts and EXPENSE otherwise.
func TypeForAmount(amount decimal.Decimal) TransactionType {
	if amount.IsPositive() {
		return TransactionIncome
	}
	return TransactionExpense
}

// Classification sources recorded in metadata.
const (
	SourceRule      = "rule"
	SourceAssistant = "assistant"
	SourceFallback  = "fallback"
	SourceManual    = "manual"
)

// ClassificationMeta is stored alongside a transaction as JSON.
type ClassificationMeta struct {
	Source              string `json:"source"`
	Rule                string `json:"rule,omitempty"`
	NeedsReview         bool   `json:"needsReview,omitempty"`
	PossibleDuplicateOf string `json:"possibleDuplicateOf,omitempty"`
	ClassifierError     string `json:"classifierError,omitempty"`
}

// Transaction is one normalized, classified ledger entry.
// Amount is signed: positive is money in, negative is money out.
type Transaction struct {
	ID          string
	UserID      string
	StatementID *string
	ProfileID   string
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Type        TransactionType
	Category    string
	Confidence  float64
	Metadata    ClassificationMeta
	DedupKey    string
	CreatedAt   time.Time
}

// NormalizeDescription trims and collapses internal whitespace.
func NormalizeDescription(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// DedupKey derives the natural key (user, date, amount, description) as a hex sha256.
func DedupKey(userID string, date time.Time, amount decimal.Decimal, description string) string {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{'|'})
	h.Write([]byte(date.Format(DateLayout)))
	h.Write([]byte{'|'})
	h.Write([]byte(amount.StringFixed(2)))
	h.Write([]byte{'|'})
	h.Write([]byte(NormalizeDescription(description)))
	return hex.EncodeToString(h.Sum(nil))
}

// ClampConfidence bounds a confidence score to [0, 1].
func ClampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// Candidate is a raw record produced by extraction, before classification.
type Candidate struct {
	Line           int              `json:"line"`
	Date           time.Time        `json:"date"`
	Description    string           `json:"description"`
	Amount         decimal.Decimal  `json:"amount"`
	Balance        *decimal.Decimal `json:"balance,omitempty"`
	SourceCategory string           `json:"sourceCategory,omitempty"`
}

// ExtractionResult is the payload persisted on a statement after extraction.
type ExtractionResult struct {
	Records     []Candidate `json:"records"`
	Diagnostics []string    `json:"diagnostics,omitempty"`
}
