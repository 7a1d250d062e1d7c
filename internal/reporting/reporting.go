package reporting

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/dvloznov/ledgerbook/internal/store"
	"github.com/shopspring/decimal"
)

// CategoryTotal sums one category and direction over a month.
type CategoryTotal struct {
	Category string          `json:"category"`
	Type     string          `json:"type"`
	Total    decimal.Decimal `json:"total"`
	Count    int             `json:"count"`
}

// MonthlyReport is the per-category breakdown for one user and month.
type MonthlyReport struct {
	Month  string          `json:"month"`
	Income decimal.Decimal `json:"income"`
	Spend  decimal.Decimal `json:"spend"`
	Totals []CategoryTotal `json:"totals"`
}

// Reporter produces monthly category totals.
type Reporter interface {
	MonthlyTotals(ctx context.Context, userID string, month time.Time) ([]CategoryTotal, error)
}

// ParseMonth parses YYYY-MM into the first day of that month in UTC.
func ParseMonth(s string) (time.Time, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, domain.NewValidationError("month", "expected YYYY-MM, got %q", s)
	}
	return t, nil
}

// monthBounds returns the first and last day of month.
func monthBounds(month time.Time) (time.Time, time.Time) {
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, -1)
}

// BuildMonthlyReport fetches totals and derives the income and spend summary.
func BuildMonthlyReport(ctx context.Context, r Reporter, userID string, month time.Time) (*MonthlyReport, error) {
	totals, err := r.MonthlyTotals(ctx, userID, month)
	if err != nil {
		return nil, err
	}
	rep := &MonthlyReport{
		Month:  month.Format("2006-01"),
		Income: decimal.Zero,
		Spend:  decimal.Zero,
		Totals: totals,
	}
	for _, t := range totals {
		if t.Type == string(domain.TransactionIncome) {
			rep.Income = rep.Income.Add(t.Total)
		} else {
			rep.Spend = rep.Spend.Add(t.Total.Abs())
		}
	}
	if rep.Totals == nil {
		rep.Totals = []CategoryTotal{}
	}
	return rep, nil
}

// StoreReporter aggregates directly from the transaction store.
type StoreReporter struct {
	transactions store.TransactionRepository
}

func NewStoreReporter(transactions store.TransactionRepository) *StoreReporter {
	return &StoreReporter{transactions: transactions}
}

func (r *StoreReporter) MonthlyTotals(ctx context.Context, userID string, month time.Time) ([]CategoryTotal, error) {
	from, to := monthBounds(month)
	txs, err := r.transactions.ListTransactions(ctx, store.TransactionFilter{UserID: userID, From: from, To: to})
	if err != nil {
		return nil, err
	}

	type key struct{ category, typ string }
	agg := map[key]*CategoryTotal{}
	for _, tx := range txs {
		k := key{tx.Category, string(tx.Type)}
		ct, ok := agg[k]
		if !ok {
			ct = &CategoryTotal{Category: tx.Category, Type: string(tx.Type), Total: decimal.Zero}
			agg[k] = ct
		}
		ct.Total = ct.Total.Add(tx.Amount)
		ct.Count++
	}

	out := make([]CategoryTotal, 0, len(agg))
	for _, ct := range agg {
		out = append(out, *ct)
	}
	sortTotals(out)
	return out, nil
}

func sortTotals(totals []CategoryTotal) {
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].Category != totals[j].Category {
			return totals[i].Category < totals[j].Category
		}
		return totals[i].Type < totals[j].Type
	})
}

var _ Reporter = (*StoreReporter)(nil)
