package pipeline

import (
	"strings"
	"unicode"

	"github.com/dvloznov/ledgerbook/internal/domain"
)

// Rule maps description keywords to a category. Rules are evaluated in
// order and the first match wins.
type Rule struct {
	Name       string
	Keywords   []string
	Category   string
	Confidence float64
	// ProfileHint routes matching records to the user's active profile of this
	// type, regardless of the profile declared at upload.
	ProfileHint domain.ProfileType
}

// Matches reports whether any keyword starts a word in text, case-insensitively.
// "rent" matches "RENT PAYMENT" and "rental" but not "current".
func (r Rule) Matches(text string) bool {
	padded := " " + words(text)
	for _, kw := range r.Keywords {
		if strings.Contains(padded, " "+words(kw)) {
			return true
		}
	}
	return false
}

// words lowercases s and replaces every run of non-alphanumerics with one space.
func words(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

// DefaultRules is the built-in rule table. Employer payroll comes first so
// it overrides the declared profile before any broader rule can match.
var DefaultRules = []Rule{
	{Name: "payroll", Category: "Payroll", Confidence: 0.95, ProfileHint: domain.ProfileBusiness,
		Keywords: []string{"payroll", "salary", "wages", "direct dep", "adp", "gusto", "paychex"}},
	{Name: "charitable-giving", Category: "Charitable Giving", Confidence: 0.9,
		Keywords: []string{"donation", "charity", "gift", "red cross", "unicef"}},
	{Name: "insurance", Category: "Insurance", Confidence: 0.9,
		Keywords: []string{"insurance", "assurance", "geico", "allstate", "state farm"}},
	{Name: "education", Category: "Education", Confidence: 0.9,
		Keywords: []string{"tuition", "school", "university", "college", "coursera", "udemy"}},
	{Name: "housing", Category: "Housing", Confidence: 0.85,
		Keywords: []string{"rent", "mortgage", "landlord", "hoa"}},
	{Name: "utilities", Category: "Utilities", Confidence: 0.85,
		Keywords: []string{"electric", "water bill", "gas bill", "utility", "internet", "comcast", "verizon", "at&t"}},
	{Name: "groceries", Category: "Groceries", Confidence: 0.85,
		Keywords: []string{"grocery", "grocer", "supermarket", "whole foods", "trader joe", "safeway", "kroger", "tesco", "aldi"}},
	{Name: "dining", Category: "Dining", Confidence: 0.8,
		Keywords: []string{"restaurant", "cafe", "coffee", "starbucks", "mcdonald", "pizza", "doordash", "uber eats", "grubhub"}},
	{Name: "transportation", Category: "Transportation", Confidence: 0.8,
		Keywords: []string{"uber", "lyft", "taxi", "shell", "chevron", "exxon", "fuel", "parking", "transit", "metro"}},
	{Name: "travel", Category: "Travel", Confidence: 0.8,
		Keywords: []string{"airline", "airlines", "hotel", "airbnb", "expedia", "delta air", "united air"}},
	{Name: "software", Category: "Software & Subscriptions", Confidence: 0.8,
		Keywords: []string{"netflix", "spotify", "github", "aws", "google cloud", "adobe", "subscription", "saas"}},
	{Name: "office", Category: "Office Supplies", Confidence: 0.75,
		Keywords: []string{"staples", "office depot", "office supplies"}},
	{Name: "healthcare", Category: "Healthcare", Confidence: 0.8,
		Keywords: []string{"pharmacy", "cvs", "walgreens", "doctor", "dental", "clinic", "hospital"}},
	{Name: "fees", Category: "Fees", Confidence: 0.75,
		Keywords: []string{"fee", "interest charge", "overdraft"}},
	{Name: "transfers", Category: "Transfers", Confidence: 0.7,
		Keywords: []string{"transfer", "zelle", "venmo", "paypal"}},
}

// MatchRule returns the first rule matching the description or the bank-supplied category.
func MatchRule(rules []Rule, description, sourceCategory string) (Rule, bool) {
	text := description
	if sourceCategory != "" {
		text += " " + sourceCategory
	}
	for _, r := range rules {
		if r.Matches(text) {
			return r, true
		}
	}
	return Rule{}, false
}

// RuleCategories lists the distinct categories the rules can produce plus Uncategorized.
func RuleCategories(rules []Rule) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range rules {
		if !seen[r.Category] {
			seen[r.Category] = true
			out = append(out, r.Category)
		}
	}
	if !seen[domain.CategoryUncategorized] {
		out = append(out, domain.CategoryUncategorized)
	}
	return out
}
