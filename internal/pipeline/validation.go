package pipeline

import (
	"fmt"
	"strings"
)

// CategoryValidator checks assistant output against the known categories.
type CategoryValidator struct {
	categories map[string]string // normalized -> canonical name
}

func NewCategoryValidator(categories []string) *CategoryValidator {
	v := &CategoryValidator{categories: make(map[string]string, len(categories))}
	for _, c := range categories {
		if strings.TrimSpace(c) == "" {
			continue
		}
		v.categories[normalizeCategory(c)] = strings.TrimSpace(c)
	}
	return v
}

// Canonical returns the known spelling of category, or an error if it is not known.
func (v *CategoryValidator) Canonical(category string) (string, error) {
	if c, ok := v.categories[normalizeCategory(category)]; ok {
		return c, nil
	}
	return "", fmt.Errorf("invalid category: %q (normalized: %q)", category, normalizeCategory(category))
}

// normalizeCategory uppercases and trims for case-insensitive comparison.
func normalizeCategory(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
