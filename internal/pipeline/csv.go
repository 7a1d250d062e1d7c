package pipeline

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/shopspring/decimal"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Header aliases used when a CSV upload carries no explicit mapping.
var (
	dateHeaders     = []string{"date", "transaction date", "posted date", "posting date", "trans date", "booking date", "value date"}
	descHeaders     = []string{"description", "memo", "details", "narrative", "payee", "transaction description", "name", "reference"}
	amountHeaders   = []string{"amount", "amt", "value", "transaction amount"}
	debitHeaders    = []string{"debit", "withdrawal", "withdrawals", "paid out", "money out"}
	creditHeaders   = []string{"credit", "deposit", "deposits", "paid in", "money in"}
	balanceHeaders  = []string{"balance", "running balance"}
	categoryHeaders = []string{"category"}
)

// CountCSVRecords returns the number of non-blank lines minus the header, floored at zero.
func CountCSVRecords(data []byte) int {
	data = bytes.TrimPrefix(data, utf8BOM)
	n := 0
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return n - 1
}

// DetectMapping guesses a column mapping from well-known header names.
func DetectMapping(header []string) (*domain.ColumnMapping, bool) {
	pick := func(aliases []string) string {
		for _, alias := range aliases {
			for _, h := range header {
				if strings.EqualFold(strings.TrimSpace(h), alias) {
					return strings.TrimSpace(h)
				}
			}
		}
		return ""
	}

	m := &domain.ColumnMapping{
		Date:        pick(dateHeaders),
		Description: pick(descHeaders),
		Amount:      pick(amountHeaders),
		Balance:     pick(balanceHeaders),
		Category:    pick(categoryHeaders),
	}
	if m.Amount == "" {
		m.Debit = pick(debitHeaders)
		m.Credit = pick(creditHeaders)
	}
	if m.Validate() != nil {
		return nil, false
	}
	return m, true
}

type columnIndex struct {
	date, desc, amount, debit, credit, balance, category int
}

func resolveColumns(header []string, m *domain.ColumnMapping) (columnIndex, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := pos[key]; !dup {
			pos[key] = i
		}
	}
	lookup := func(field, name string, required bool) (int, error) {
		if name == "" {
			return -1, nil
		}
		i, ok := pos[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			if required {
				return -1, domain.NewValidationError("mapping."+field, "column %q not found in header", name)
			}
			return -1, nil
		}
		return i, nil
	}

	var idx columnIndex
	var err error
	if idx.date, err = lookup("date", m.Date, true); err != nil {
		return idx, err
	}
	if idx.desc, err = lookup("description", m.Description, true); err != nil {
		return idx, err
	}
	if idx.amount, err = lookup("amount", m.Amount, true); err != nil {
		return idx, err
	}
	if idx.debit, err = lookup("debit", m.Debit, true); err != nil {
		return idx, err
	}
	if idx.credit, err = lookup("credit", m.Credit, true); err != nil {
		return idx, err
	}
	if idx.balance, err = lookup("balance", m.Balance, false); err != nil {
		return idx, err
	}
	if idx.category, err = lookup("category", m.Category, false); err != nil {
		return idx, err
	}
	return idx, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// ParseCSV extracts candidates from a CSV statement. Rows that cannot be
// parsed are skipped and reported in Diagnostics. A nil mapping falls back to
// header detection; an unusable mapping is a ValidationError.
func ParseCSV(data []byte, mapping *domain.ColumnMapping) (*domain.ExtractionResult, error) {
	r := newCSVReader(data)
	result := &domain.ExtractionResult{Records: []domain.Candidate{}}

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return result, nil
	}
	if err != nil {
		return nil, &domain.ExtractionError{Code: domain.ExtractionUnreadable, Message: "reading CSV header", Cause: err}
	}

	mapping, idx, err := mapHeader(header, mapping)
	if err != nil {
		return nil, err
	}

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				result.Diagnostics = append(result.Diagnostics, fmt.Sprintf("line %d: %v", perr.Line, perr.Err))
				continue
			}
			return nil, &domain.ExtractionError{Code: domain.ExtractionUnreadable, Message: "reading CSV", Cause: err}
		}
		if blankRecord(rec) {
			continue
		}
		line, _ := r.FieldPos(0)

		cand, err := candidateFromRecord(rec, idx, mapping)
		if err != nil {
			result.Diagnostics = append(result.Diagnostics, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		cand.Line = line
		result.Records = append(result.Records, cand)
	}
	return result, nil
}

// CheckCSVHeader reads only the header and reports, as a ValidationError,
// a mapping that names a missing column or a header that cannot be detected.
func CheckCSVHeader(data []byte, mapping *domain.ColumnMapping) error {
	header, err := newCSVReader(data).Read()
	if errors.Is(err, io.EOF) {
		return domain.NewValidationError("file", "CSV file has no header row")
	}
	if err != nil {
		return domain.NewValidationError("file", "unreadable CSV header: %v", err)
	}
	_, _, err = mapHeader(header, mapping)
	return err
}

func newCSVReader(data []byte) *csv.Reader {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	return r
}

// mapHeader resolves mapping against header, detecting a mapping when none is given.
func mapHeader(header []string, mapping *domain.ColumnMapping) (*domain.ColumnMapping, columnIndex, error) {
	if mapping == nil {
		detected, ok := DetectMapping(header)
		if !ok {
			return nil, columnIndex{}, domain.NewValidationError("mapping", "no column mapping supplied and header %q is not recognized", strings.Join(header, ","))
		}
		mapping = detected
	} else if err := mapping.Validate(); err != nil {
		return nil, columnIndex{}, err
	}
	idx, err := resolveColumns(header, mapping)
	if err != nil {
		return nil, columnIndex{}, err
	}
	return mapping, idx, nil
}

func blankRecord(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func candidateFromRecord(rec []string, idx columnIndex, m *domain.ColumnMapping) (domain.Candidate, error) {
	date, err := ParseDate(field(rec, idx.date), m.DateLayout)
	if err != nil {
		return domain.Candidate{}, err
	}
	desc := domain.NormalizeDescription(field(rec, idx.desc))
	if desc == "" {
		return domain.Candidate{}, fmt.Errorf("empty description")
	}

	var amount decimal.Decimal
	if idx.amount >= 0 {
		amount, err = ParseAmount(field(rec, idx.amount))
		if err != nil {
			return domain.Candidate{}, err
		}
	} else {
		debitRaw, creditRaw := field(rec, idx.debit), field(rec, idx.credit)
		if debitRaw == "" && creditRaw == "" {
			return domain.Candidate{}, fmt.Errorf("both debit and credit are empty")
		}
		amount = decimal.Zero
		if creditRaw != "" {
			c, err := ParseAmount(creditRaw)
			if err != nil {
				return domain.Candidate{}, err
			}
			amount = amount.Add(c.Abs())
		}
		if debitRaw != "" {
			d, err := ParseAmount(debitRaw)
			if err != nil {
				return domain.Candidate{}, err
			}
			amount = amount.Sub(d.Abs())
		}
	}
	if m.InvertSign {
		amount = amount.Neg()
	}

	cand := domain.Candidate{
		Date:           date,
		Description:    desc,
		Amount:         amount,
		SourceCategory: field(rec, idx.category),
	}
	if raw := field(rec, idx.balance); raw != "" {
		if bal, err := ParseAmount(raw); err == nil {
			cand.Balance = &bal
		}
	}
	return cand, nil
}
