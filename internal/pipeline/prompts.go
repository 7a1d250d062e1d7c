package pipeline

import (
	"strings"

	"github.com/shopspring/decimal"
)

// buildCategoryPrompt asks the model to pick one of categories for a single transaction.
func buildCategoryPrompt(description string, amount decimal.Decimal, categories []string) string {
	var b strings.Builder
	b.WriteString("You classify bank transactions for a personal and small-business ledger.\n\n")
	b.WriteString("Transaction:\n")
	b.WriteString("- description: " + description + "\n")
	b.WriteString("- amount: " + amount.StringFixed(2) + " (positive is money in, negative is money out)\n\n")

	b.WriteString("Use ONLY the following categories:\n")
	for _, c := range categories {
		b.WriteString("  - " + c + "\n")
	}
	b.WriteString("\n")

	b.WriteString("CATEGORY ASSIGNMENT RULES:\n")
	b.WriteString("1. Category must be EXACTLY one of the category names shown above.\n")
	b.WriteString("2. If you are unsure, use category \"Uncategorized\" with a low confidence.\n")
	b.WriteString("3. Confidence is a number between 0 and 1.\n\n")

	b.WriteString("Return ONLY valid raw JSON of the form {\"category\": string, \"confidence\": number}.\n")
	b.WriteString("Do NOT wrap the response in code fences.\n")
	return b.String()
}
