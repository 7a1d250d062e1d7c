package domain

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ColumnMapping names the CSV header columns that carry each field.
// Either Amount or both Debit and Credit must be set.
type ColumnMapping struct {
	Date        string `json:"date" validate:"required"`
	Description string `json:"description" validate:"required"`
	Amount      string `json:"amount,omitempty" validate:"required_without_all=Debit Credit"`
	Debit       string `json:"debit,omitempty" validate:"required_with=Credit"`
	Credit      string `json:"credit,omitempty" validate:"required_with=Debit"`
	Balance     string `json:"balance,omitempty"`
	Category    string `json:"category,omitempty"`
	DateLayout  string `json:"dateLayout,omitempty"`
	// InvertSign flips amounts for banks that export spending as positive numbers.
	InvertSign bool `json:"invertSign,omitempty"`
}

// Validate checks the mapping and returns a *ValidationError on failure.
func (m ColumnMapping) Validate() error {
	err := validate.Struct(m)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return NewValidationError("mapping."+lowerFirst(fe.Field()), "failed %q constraint", fe.Tag())
	}
	return NewValidationError("mapping", "%v", err)
}

// UnmarshalJSON also accepts "desc" as shorthand for "description".
func (m *ColumnMapping) UnmarshalJSON(b []byte) error {
	type plain ColumnMapping
	aux := struct {
		*plain
		Desc string `json:"desc"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if m.Description == "" {
		m.Description = aux.Desc
	}
	return nil
}

// Columns lists the header names the mapping refers to.
func (m ColumnMapping) Columns() []string {
	cols := []string{m.Date, m.Description}
	for _, c := range []string{m.Amount, m.Debit, m.Credit, m.Balance, m.Category} {
		if c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}

// ParseColumnMapping decodes and validates a JSON mapping. Empty input yields nil.
func ParseColumnMapping(raw []byte) (*ColumnMapping, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}
	var m ColumnMapping
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, NewValidationError("mapping", "invalid JSON: %v", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
