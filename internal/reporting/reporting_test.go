package reporting

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/dvloznov/ledgerbook/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) time.Time {
	t, _ := time.Parse(domain.DateLayout, s)
	return t
}

func seed(t *testing.T, m *store.Memory, txs ...domain.Transaction) {
	t.Helper()
	for i := range txs {
		txs[i].DedupKey = domain.DedupKey(txs[i].UserID, txs[i].Date, txs[i].Amount, txs[i].Description)
	}
	n, err := m.InsertIfAbsent(context.Background(), txs)
	require.NoError(t, err)
	require.Equal(t, len(txs), n)
}

func TestStoreReporter_MonthlyTotals(t *testing.T) {
	m := store.NewMemory()
	seed(t, m,
		domain.Transaction{ID: "t1", UserID: "u1", Date: date("2024-03-02"), Description: "Grocer", Amount: decimal.RequireFromString("-40.10"), Type: domain.TransactionExpense, Category: "Groceries"},
		domain.Transaction{ID: "t2", UserID: "u1", Date: date("2024-03-20"), Description: "Grocer 2", Amount: decimal.RequireFromString("-9.90"), Type: domain.TransactionExpense, Category: "Groceries"},
		domain.Transaction{ID: "t3", UserID: "u1", Date: date("2024-03-31"), Description: "Payroll", Amount: decimal.RequireFromString("2500"), Type: domain.TransactionIncome, Category: "Payroll"},
		domain.Transaction{ID: "t4", UserID: "u1", Date: date("2024-04-01"), Description: "Grocer", Amount: decimal.RequireFromString("-5"), Type: domain.TransactionExpense, Category: "Groceries"},
		domain.Transaction{ID: "t5", UserID: "u2", Date: date("2024-03-05"), Description: "Grocer", Amount: decimal.RequireFromString("-70"), Type: domain.TransactionExpense, Category: "Groceries"},
	)

	month, err := ParseMonth("2024-03")
	require.NoError(t, err)

	rep, err := BuildMonthlyReport(context.Background(), NewStoreReporter(m), "u1", month)
	require.NoError(t, err)
	require.Len(t, rep.Totals, 2)
	assert.Equal(t, "Groceries", rep.Totals[0].Category)
	assert.Equal(t, 2, rep.Totals[0].Count)
	assert.True(t, rep.Totals[0].Total.Equal(decimal.RequireFromString("-50")))
	assert.True(t, rep.Spend.Equal(decimal.RequireFromString("50")))
	assert.True(t, rep.Income.Equal(decimal.RequireFromString("2500")))
	assert.Equal(t, "2024-03", rep.Month)
}

func TestBuildMonthlyReport_EmptyMonth(t *testing.T) {
	rep, err := BuildMonthlyReport(context.Background(), NewStoreReporter(store.NewMemory()), "u1", date("2024-02-01"))
	require.NoError(t, err)
	assert.NotNil(t, rep.Totals)
	assert.True(t, rep.Spend.IsZero())
}

func TestParseMonth_Invalid(t *testing.T) {
	_, err := ParseMonth("March")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestMonthBounds_LeapYear(t *testing.T) {
	from, to := monthBounds(date("2024-02-17"))
	assert.Equal(t, "2024-02-01", from.Format(domain.DateLayout))
	assert.Equal(t, "2024-02-29", to.Format(domain.DateLayout))
}

func TestToLedgerRow(t *testing.T) {
	sid := "s1"
	tx := domain.Transaction{
		ID: "t1", UserID: "u1", StatementID: &sid, ProfileID: "p1",
		Date: date("2024-03-02"), Description: "Tuition Payment",
		Amount: decimal.RequireFromString("-120.50"), Type: domain.TransactionExpense,
		Category: "Education", Confidence: 0.9,
		Metadata: domain.ClassificationMeta{Source: domain.SourceRule, Rule: "education"},
	}
	row := toLedgerRow(tx, time.Now())
	assert.Equal(t, "2024-03-02", row.TransactionDate.String())
	assert.Equal(t, 0, row.Amount.Cmp(big.NewRat(-241, 2)))
	assert.True(t, row.StatementID.Valid)
	assert.Equal(t, domain.SourceRule, row.Source.StringVal)

	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(row.Metadata.StringVal), &meta))
	assert.Equal(t, "education", meta["rule"])

	saver := ledgerSaver(row)
	assert.Equal(t, "t1", saver.InsertID)
	assert.NotEmpty(t, ledgerSchema)
}

func TestTotalRowToTotal(t *testing.T) {
	got := totalRow{CategoryName: "Dining", Type: "EXPENSE", Total: big.NewRat(-2501, 100), N: 3}.toTotal()
	assert.True(t, got.Total.Equal(decimal.RequireFromString("-25.01")))
	assert.Equal(t, 3, got.Count)
}
