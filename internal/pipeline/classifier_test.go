package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAssistant struct {
	suggestion Suggestion
	err        error
	calls      int
	categories []string
}

func (s *stubAssistant) SuggestCategory(ctx context.Context, description string, amount decimal.Decimal, categories []string) (Suggestion, error) {
	s.calls++
	s.categories = categories
	return s.suggestion, s.err
}

func candidate(desc, amount string) domain.Candidate {
	return domain.Candidate{
		Date:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
	}
}

func TestMatchRule(t *testing.T) {
	tests := []struct {
		desc string
		want string
	}{
		{"Red Cross Donation", "Charitable Giving"},
		{"Acme Insurance Premium", "Insurance"},
		{"Tuition Payment", "Education"},
		{"LINCOLN HIGH SCHOOL LUNCH", "Education"},
		{"ACME CORP PAYROLL", "Payroll"},
		{"March rent", "Housing"},
		{"STARBUCKS #1234", "Dining"},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			r, ok := MatchRule(DefaultRules, tt.desc, "")
			require.True(t, ok)
			assert.Equal(t, tt.want, r.Category)
		})
	}
}

func TestMatchRule_WordStartOnly(t *testing.T) {
	_, ok := MatchRule(DefaultRules, "Current account interest", "")
	assert.False(t, ok, "rent must not match inside current")

	r, ok := MatchRule(DefaultRules, "POS 4411", "Groceries")
	require.True(t, ok, "bank category is considered")
	assert.Equal(t, "Groceries", r.Category)
}

func TestRuleCategories_IncludesUncategorized(t *testing.T) {
	cats := RuleCategories(DefaultRules)
	assert.Contains(t, cats, domain.CategoryUncategorized)
	assert.Contains(t, cats, "Education")
	seen := map[string]bool{}
	for _, c := range cats {
		assert.False(t, seen[c], "duplicate category %s", c)
		seen[c] = true
	}
}

func TestClassify_RuleMatch(t *testing.T) {
	c := NewClassifier(nil, nil, DefaultReviewThreshold)
	cls, err := c.Classify(context.Background(), candidate("Red Cross Donation", "-50"), "p-personal", nil)
	require.NoError(t, err)
	assert.Equal(t, "Charitable Giving", cls.Category)
	assert.Equal(t, 0.9, cls.Confidence)
	assert.Equal(t, "p-personal", cls.ProfileID)
	assert.Equal(t, domain.SourceRule, cls.Meta.Source)
	assert.Equal(t, "charitable-giving", cls.Meta.Rule)
	assert.False(t, cls.Meta.NeedsReview)
}

func TestClassify_PayrollRoutesToBusinessProfile(t *testing.T) {
	profiles := []domain.BusinessProfile{
		{ID: "p-personal", Type: domain.ProfilePersonal, Active: true},
		{ID: "p-old", Type: domain.ProfileBusiness, Active: false},
		{ID: "p-biz", Type: domain.ProfileBusiness, Active: true},
	}
	c := NewClassifier(nil, nil, DefaultReviewThreshold)
	cls, err := c.Classify(context.Background(), candidate("ACME CORP PAYROLL", "2500"), "p-personal", profiles)
	require.NoError(t, err)
	assert.Equal(t, "Payroll", cls.Category)
	assert.Equal(t, "p-biz", cls.ProfileID)

	cls, err = c.Classify(context.Background(), candidate("ACME CORP PAYROLL", "2500"), "p-personal", profiles[:2])
	require.NoError(t, err)
	assert.Equal(t, "p-personal", cls.ProfileID, "no active business profile keeps the declared one")
}

func TestClassify_NoMatchNoAssistant(t *testing.T) {
	c := NewClassifier(nil, nil, DefaultReviewThreshold)
	cls, err := c.Classify(context.Background(), candidate("XYZZY 0042", "-7"), "p1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryUncategorized, cls.Category)
	assert.Equal(t, 0.0, cls.Confidence)
	assert.Equal(t, domain.SourceFallback, cls.Meta.Source)
	assert.True(t, cls.Meta.NeedsReview)
}

func TestClassify_Assistant(t *testing.T) {
	a := &stubAssistant{suggestion: Suggestion{Category: "Travel", Confidence: 0.4}}
	c := NewClassifier(nil, a, DefaultReviewThreshold)

	cls, err := c.Classify(context.Background(), candidate("XYZZY 0042", "-7"), "p1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, a.calls)
	assert.Contains(t, a.categories, "Travel")
	assert.Equal(t, "Travel", cls.Category)
	assert.Equal(t, domain.SourceAssistant, cls.Meta.Source)
	assert.True(t, cls.Meta.NeedsReview, "0.4 is below the review threshold")

	_, err = c.Classify(context.Background(), candidate("Red Cross Donation", "-50"), "p1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, a.calls, "rule matches never reach the assistant")
}

func TestClassify_AssistantFailureFallsBack(t *testing.T) {
	a := &stubAssistant{err: errors.New("quota exceeded")}
	c := NewClassifier(nil, a, DefaultReviewThreshold)

	cls, err := c.Classify(context.Background(), candidate("XYZZY 0042", "-7"), "p1", nil)
	require.Error(t, err)
	var ce *domain.ClassificationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, domain.CategoryUncategorized, cls.Category)
	assert.Equal(t, 0.0, cls.Confidence)
	assert.Contains(t, cls.Meta.ClassifierError, "quota exceeded")
	assert.True(t, cls.Meta.NeedsReview)
}

func TestBuildTransaction(t *testing.T) {
	st := &domain.Statement{ID: "st-1", UserID: "u1"}
	cand := candidate("Red Cross Donation", "-50")
	cls := Classification{Category: "Charitable Giving", Confidence: 0.9, ProfileID: "p1", Meta: domain.ClassificationMeta{Source: domain.SourceRule}}
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	tx := BuildTransaction(st, cand, cls, now)
	assert.NotEmpty(t, tx.ID)
	require.NotNil(t, tx.StatementID)
	assert.Equal(t, "st-1", *tx.StatementID)
	assert.Equal(t, domain.TransactionExpense, tx.Type)
	assert.Equal(t, domain.DedupKey("u1", cand.Date, cand.Amount, cand.Description), tx.DedupKey)
	assert.Equal(t, now, tx.CreatedAt)

	other := BuildTransaction(st, cand, cls, now)
	assert.NotEqual(t, tx.ID, other.ID)
	assert.Equal(t, tx.DedupKey, other.DedupKey)
}

func TestCategoryValidator(t *testing.T) {
	v := NewCategoryValidator([]string{"Dining", " Travel ", ""})

	got, err := v.Canonical("dining")
	require.NoError(t, err)
	assert.Equal(t, "Dining", got)

	got, err = v.Canonical("  TRAVEL")
	require.NoError(t, err)
	assert.Equal(t, "Travel", got)

	_, err = v.Canonical("Yachts")
	assert.Error(t, err)
	_, err = v.Canonical("")
	assert.Error(t, err)
}

func TestParseSuggestion(t *testing.T) {
	v := NewCategoryValidator([]string{"Dining", "Uncategorized"})

	s, err := parseSuggestion("```json\n{\"category\": \"dining\", \"confidence\": 1.7}\n```", v)
	require.NoError(t, err)
	assert.Equal(t, "Dining", s.Category)
	assert.Equal(t, 1.0, s.Confidence)

	s, err = parseSuggestion(`Sure! {"category":"Uncategorized","confidence":0.1} Hope that helps`, v)
	require.NoError(t, err)
	assert.Equal(t, "Uncategorized", s.Category)

	_, err = parseSuggestion(`{"category":"Yachts","confidence":0.9}`, v)
	assert.Error(t, err)

	_, err = parseSuggestion(`not json`, v)
	assert.Error(t, err)
}

func TestGeminiAssistant_SuggestCategory(t *testing.T) {
	var prompt string
	a := &GeminiAssistant{model: "test", generate: func(ctx context.Context, p string) (string, error) {
		prompt = p
		return `{"category":"Dining","confidence":0.7}`, nil
	}}
	s, err := a.SuggestCategory(context.Background(), "Bistro 9", decimal.RequireFromString("-18.2"), []string{"Dining", "Uncategorized"})
	require.NoError(t, err)
	assert.Equal(t, "Dining", s.Category)
	assert.Contains(t, prompt, "Bistro 9")
	assert.Contains(t, prompt, "-18.20")
	assert.Contains(t, prompt, "  - Dining")

	a.generate = func(ctx context.Context, p string) (string, error) { return "  ", nil }
	_, err = a.SuggestCategory(context.Background(), "Bistro 9", decimal.Zero, []string{"Dining"})
	assert.Error(t, err)
}
