package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/ledongthuc/pdf"
	"github.com/shopspring/decimal"
)

const maxPDFTextBytes = 4 << 20

const (
	datePattern = `(\d{1,2}[/\-\.]\d{1,2}[/\-\.]\d{2,4}|\d{4}[/\-]\d{2}[/\-]\d{2}|` +
		`(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+\d{1,2}(?:,?\s+\d{4})?|` +
		`\d{1,2}\s+(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?(?:\s+\d{2,4})?)`
	moneyPattern = `(\(?[-+]?[$£€]?\d{1,3}(?:,\d{3})*\.\d{2}\)?-?(?:\s?(?:CR|DR))?)`
)

var (
	// date, description, amount and an optional running balance.
	statementLineRe = regexp.MustCompile(`(?i)^` + datePattern + `\s+(.+?)\s+` + moneyPattern + `(?:\s+` + moneyPattern + `)?$`)
	dateLeadRe      = regexp.MustCompile(`(?i)^` + datePattern + `\b`)
	moneyRe         = regexp.MustCompile(`\d\.\d{2}\b`)
	moneyTokenRe    = regexp.MustCompile(moneyPattern)
	explicitSignRe  = regexp.MustCompile(`(?i)[-(]|CR$|DR$`)
	hasYearRe       = regexp.MustCompile(`\d{4}$|^\d{1,2} [A-Za-z]+ \d{2}$`)
	periodYearRe    = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	balanceLineRe   = regexp.MustCompile(`(?i)opening balance|closing balance|brought forward|carried forward|previous balance`)
)

// PDFTextLines extracts the plain text of a PDF as trimmed, non-empty lines.
// The PDF reader can panic on malformed input; that is reported as an error.
func PDFTextLines(data []byte) (lines []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			lines, err = nil, fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open PDF reader: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extract plain text: %w", err)
	}
	text, err := io.ReadAll(io.LimitReader(plain, maxPDFTextBytes))
	if err != nil {
		return nil, fmt.Errorf("read plain text: %w", err)
	}

	for _, line := range strings.Split(string(text), "\n") {
		if trimmed := strings.Join(strings.Fields(line), " "); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines, nil
}

// statementYear finds the first plausible year on a header line mentioning the
// statement period, falling back to the first year anywhere in the text.
func statementYear(lines []string, fallback int) int {
	first := 0
	for _, line := range lines {
		m := periodYearRe.FindString(line)
		if m == "" {
			continue
		}
		y, _ := strconv.Atoi(m)
		lower := strings.ToLower(line)
		if strings.Contains(lower, "statement") || strings.Contains(lower, "period") {
			return y
		}
		if first == 0 {
			first = y
		}
	}
	if first != 0 {
		return first
	}
	return fallback
}

// ParseStatementText turns extracted statement lines into candidates.
// Unsigned amounts take their sign from the running balance when one is
// printed, and are treated as money out otherwise. Lines that start with a
// date and carry an amount but do not parse are reported in Diagnostics.
func ParseStatementText(lines []string, fallbackYear int) *domain.ExtractionResult {
	result := &domain.ExtractionResult{Records: []domain.Candidate{}}
	year := statementYear(lines, fallbackYear)

	var prevBalance *decimal.Decimal
	for i, line := range lines {
		lineNo := i + 1
		m := statementLineRe.FindStringSubmatch(line)
		if m == nil {
			if balanceLineRe.MatchString(line) {
				if tokens := moneyTokenRe.FindAllString(line, -1); len(tokens) > 0 {
					if b, err := ParseAmount(tokens[len(tokens)-1]); err == nil {
						prevBalance = &b
					}
				}
				continue
			}
			if dateLeadRe.MatchString(line) && moneyRe.MatchString(line) {
				result.Diagnostics = append(result.Diagnostics, fmt.Sprintf("line %d: unrecognized transaction layout %q", lineNo, line))
			}
			continue
		}
		dateRaw, desc, amountRaw, balanceRaw := m[1], m[2], m[3], m[4]

		var balance *decimal.Decimal
		if balanceRaw != "" {
			if b, err := ParseAmount(balanceRaw); err == nil {
				balance = &b
			}
		}

		if balanceLineRe.MatchString(desc) {
			if balance == nil {
				if b, err := ParseAmount(amountRaw); err == nil {
					balance = &b
				}
			}
			prevBalance = balance
			continue
		}

		date, err := parseStatementDate(dateRaw, year)
		if err != nil {
			result.Diagnostics = append(result.Diagnostics, fmt.Sprintf("line %d: %v", lineNo, err))
			continue
		}
		amount, err := ParseAmount(amountRaw)
		if err != nil {
			result.Diagnostics = append(result.Diagnostics, fmt.Sprintf("line %d: %v", lineNo, err))
			continue
		}

		if !explicitSignRe.MatchString(strings.TrimSpace(amountRaw)) {
			amount = inferSign(amount, prevBalance, balance)
		}
		if balance != nil {
			prevBalance = balance
		}

		result.Records = append(result.Records, domain.Candidate{
			Line:        lineNo,
			Date:        date,
			Description: domain.NormalizeDescription(desc),
			Amount:      amount,
			Balance:     balance,
		})
	}
	return result
}

// inferSign signs an unsigned amount using the balance movement when both
// balances are known and agree with the amount.
func inferSign(amount decimal.Decimal, prev, cur *decimal.Decimal) decimal.Decimal {
	abs := amount.Abs()
	if prev != nil && cur != nil {
		delta := cur.Sub(*prev)
		if delta.Abs().Equal(abs) {
			if delta.IsNegative() {
				return abs.Neg()
			}
			return abs
		}
	}
	return abs.Neg()
}

func parseStatementDate(raw string, year int) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if strings.IndexFunc(raw, unicode.IsLetter) < 0 {
		return ParseDate(raw, "")
	}
	s := strings.Join(strings.Fields(strings.ReplaceAll(raw, ".", " ")), " ")
	if !hasYearRe.MatchString(s) {
		s = fmt.Sprintf("%s %d", s, year)
	}
	return ParseDate(s, "")
}
