package pipeline

import (
	"testing"

	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const threeRecordCSV = "Date,Memo,Amt\n" +
	"2024-03-01,Red Cross Donation,-50.00\n" +
	"2024-03-02,Acme Insurance Premium,-120.00\n" +
	"2024-03-03,Tuition Payment,-900.00\n"

func TestParseCSV_WithMapping(t *testing.T) {
	m := &domain.ColumnMapping{Date: "Date", Description: "Memo", Amount: "Amt"}
	res, err := ParseCSV([]byte(threeRecordCSV), m)
	require.NoError(t, err)
	require.Len(t, res.Records, 3)
	assert.Empty(t, res.Diagnostics)

	first := res.Records[0]
	assert.Equal(t, "Red Cross Donation", first.Description)
	assert.True(t, first.Amount.Equal(decimal.RequireFromString("-50")))
	assert.Equal(t, "2024-03-01", first.Date.Format(domain.DateLayout))
	assert.Equal(t, 2, first.Line)
}

func TestParseCSV_DetectsHeader(t *testing.T) {
	data := "\ufeffTransaction Date,Description,Debit,Credit,Balance\n" +
		"03/04/2024,Coffee,4.50,,95.50\n" +
		"03/05/2024,Refund,,10.00,105.50\n"
	res, err := ParseCSV([]byte(data), nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.True(t, res.Records[0].Amount.Equal(decimal.RequireFromString("-4.5")))
	assert.True(t, res.Records[1].Amount.Equal(decimal.RequireFromString("10")))
	require.NotNil(t, res.Records[1].Balance)
	assert.True(t, res.Records[1].Balance.Equal(decimal.RequireFromString("105.5")))
}

func TestParseCSV_SkipsBadRowsIntoDiagnostics(t *testing.T) {
	data := "Date,Memo,Amt\n" +
		"2024-03-01,Lunch,-12.00\n" +
		"not a date,Broken,-1.00\n" +
		",,\n" +
		"2024-03-02,Bad amount,twelve\n" +
		"2024-03-03,Dinner,-30.00\n"
	res, err := ParseCSV([]byte(data), &domain.ColumnMapping{Date: "Date", Description: "Memo", Amount: "Amt"})
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.Len(t, res.Diagnostics, 2)
	assert.Contains(t, res.Diagnostics[0], "line 3")
}

func TestParseCSV_InvertSign(t *testing.T) {
	data := "Date,Memo,Amt\n2024-03-01,Card spend,25.00\n"
	res, err := ParseCSV([]byte(data), &domain.ColumnMapping{Date: "Date", Description: "Memo", Amount: "Amt", InvertSign: true})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.True(t, res.Records[0].Amount.IsNegative())
}

func TestParseCSV_MappingErrors(t *testing.T) {
	_, err := ParseCSV([]byte(threeRecordCSV), &domain.ColumnMapping{Date: "Date", Description: "Narrative", Amount: "Amt"})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Contains(t, err.Error(), "mapping.description")

	_, err = ParseCSV([]byte("When,What,HowMuch\n2024-03-01,x,1\n"), nil)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	_, err = ParseCSV([]byte(threeRecordCSV), &domain.ColumnMapping{Date: "Date", Description: "Memo"})
	assert.True(t, domain.IsValidation(err))
}

func TestCheckCSVHeader(t *testing.T) {
	assert.NoError(t, CheckCSVHeader([]byte(threeRecordCSV), &domain.ColumnMapping{Date: "date", Description: "MEMO", Amount: "Amt"}))
	assert.NoError(t, CheckCSVHeader([]byte("\ufeffDate,Description,Amount\n"), nil))

	err := CheckCSVHeader([]byte(threeRecordCSV), &domain.ColumnMapping{Date: "Date", Description: "Narrative", Amount: "Amt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `column "Narrative" not found in header`)

	err = CheckCSVHeader([]byte("When,What,HowMuch\n"), nil)
	assert.True(t, domain.IsValidation(err))
}

func TestParseCSV_HeaderOnly(t *testing.T) {
	res, err := ParseCSV([]byte("Date,Memo,Amt\n"), &domain.ColumnMapping{Date: "Date", Description: "Memo", Amount: "Amt"})
	require.NoError(t, err)
	assert.Empty(t, res.Records)
}

func TestCountCSVRecords(t *testing.T) {
	assert.Equal(t, 3, CountCSVRecords([]byte(threeRecordCSV)))
	assert.Equal(t, 0, CountCSVRecords([]byte("Date,Memo,Amt\n")))
	assert.Equal(t, 0, CountCSVRecords([]byte("")))
	assert.Equal(t, 1, CountCSVRecords([]byte("h\n\n  \nrow\n")))
}

func TestDetectMapping(t *testing.T) {
	m, ok := DetectMapping([]string{"Posted Date", "Details", "Amount", "Category"})
	require.True(t, ok)
	assert.Equal(t, "Posted Date", m.Date)
	assert.Equal(t, "Details", m.Description)
	assert.Equal(t, "Category", m.Category)

	_, ok = DetectMapping([]string{"Date", "Details", "Debit"})
	assert.False(t, ok)
}
