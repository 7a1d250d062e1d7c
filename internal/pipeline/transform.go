package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// dateLayouts are tried in order. Slash dates are read month-first; the
// day-first layouts only match when the first number exceeds 12.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"02/01/2006",
	"2/1/2006",
	"02/01/06",
	"2/1/06",
	"01-02-2006",
	"02-01-2006",
	"02.01.2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"January 2 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
	"2 Jan 06",
	"02-Jan-2006",
	"2-Jan-06",
	"02-Jan-06",
	"02Jan2006",
	time.RFC3339,
}

// ParseDate parses a statement date. A non-empty layout is the only one tried.
func ParseDate(s, layout string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if layout != "" {
		t, err := time.Parse(layout, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("date %q does not match layout %q", s, layout)
		}
		return truncateDay(t), nil
	}
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return truncateDay(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

var (
	amountNoise  = strings.NewReplacer("$", "", "£", "", "€", "", ",", "", " ", "", "\u00a0", "")
	amountSuffix = regexp.MustCompile(`(?i)\s*(CR|DR)$`)
)

// ParseAmount parses a signed money string. It accepts currency symbols,
// thousands separators, parentheses or a trailing minus for negatives, and
// CR/DR suffixes (CR is money in, DR is money out). The result is rounded to cents.
func ParseAmount(s string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}

	negative := false
	forced := ""
	if m := amountSuffix.FindStringSubmatch(raw); m != nil {
		forced = strings.ToUpper(m[1])
		raw = strings.TrimSpace(raw[:len(raw)-len(m[0])])
	}
	if strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")") {
		negative = true
		raw = raw[1 : len(raw)-1]
	}
	raw = amountNoise.Replace(raw)
	if strings.HasSuffix(raw, "-") {
		negative = !negative
		raw = strings.TrimSuffix(raw, "-")
	}
	if strings.HasPrefix(raw, "+") {
		raw = raw[1:]
	}
	if strings.HasPrefix(raw, "-") {
		negative = !negative
		raw = raw[1:]
	}
	if raw == "" {
		return decimal.Zero, fmt.Errorf("amount %q has no digits", s)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}

	switch forced {
	case "CR":
		negative = false
	case "DR":
		negative = true
	}
	if negative {
		d = d.Neg()
	}
	return d.Round(2), nil
}
