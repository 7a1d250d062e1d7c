package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Budget tracks spending for one category within a period.
type Budget struct {
	ID          string
	UserID      string
	ProfileID   string
	Category    string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Limit       decimal.Decimal
	Spent       decimal.Decimal
}

// Covers reports whether tx counts against the budget.
func (b Budget) Covers(tx Transaction) bool {
	if tx.UserID != b.UserID || tx.Type != TransactionExpense {
		return false
	}
	if b.ProfileID != "" && tx.ProfileID != b.ProfileID {
		return false
	}
	if !strings.EqualFold(tx.Category, b.Category) {
		return false
	}
	return !tx.Date.Before(b.PeriodStart) && !tx.Date.After(b.PeriodEnd)
}

// RecomputeBudget sums the current transactions rather than adjusting incrementally.
func RecomputeBudget(b Budget, txs []Transaction) Budget {
	spent := decimal.Zero
	for _, tx := range txs {
		if b.Covers(tx) {
			spent = spent.Add(tx.Amount.Abs())
		}
	}
	b.Spent = spent
	return b
}

// Debt is a liability paid down by matching expense transactions.
type Debt struct {
	ID             string
	UserID         string
	Name           string
	PaymentKeyword string
	OpeningBalance decimal.Decimal
	Balance        decimal.Decimal
}

// IsPayment reports whether tx is a payment toward d.
func (d Debt) IsPayment(tx Transaction) bool {
	if tx.UserID != d.UserID || tx.Type != TransactionExpense || d.PaymentKeyword == "" {
		return false
	}
	return strings.Contains(strings.ToLower(tx.Description), strings.ToLower(d.PaymentKeyword))
}

// ApplyPayment returns max(0, prev - principal).
func ApplyPayment(prev, principal decimal.Decimal) decimal.Decimal {
	next := prev.Sub(principal)
	if next.IsNegative() {
		return decimal.Zero
	}
	return next
}

// RecomputeDebt replays every payment against the opening balance.
func RecomputeDebt(d Debt, txs []Transaction) Debt {
	bal := d.OpeningBalance
	for _, tx := range txs {
		if d.IsPayment(tx) {
			bal = ApplyPayment(bal, tx.Amount.Abs())
		}
	}
	d.Balance = bal
	return d
}
