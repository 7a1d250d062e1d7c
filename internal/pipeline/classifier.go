package pipeline

import (
	"context"
	"time"

	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/google/uuid"
)

// Classification is the outcome for one candidate.
type Classification struct {
	Category   string
	Confidence float64
	ProfileID  string
	Meta       domain.ClassificationMeta
}

// Classifier assigns a category, confidence and profile to candidates.
// Rules run first; the assistant, when configured, sees only what no rule matched.
type Classifier struct {
	rules           []Rule
	assistant       Assistant
	categories      []string
	reviewThreshold float64
}

// NewClassifier builds a classifier. assistant may be nil.
func NewClassifier(rules []Rule, assistant Assistant, reviewThreshold float64) *Classifier {
	if rules == nil {
		rules = DefaultRules
	}
	return &Classifier{
		rules:           rules,
		assistant:       assistant,
		categories:      RuleCategories(rules),
		reviewThreshold: reviewThreshold,
	}
}

// Classify never fails the record. A non-nil error is a *domain.ClassificationError
// describing why the assistant could not help; the returned Classification is
// still usable and falls back to Uncategorized.
func (c *Classifier) Classify(ctx context.Context, cand domain.Candidate, declaredProfileID string, profiles []domain.BusinessProfile) (Classification, error) {
	out := Classification{ProfileID: declaredProfileID}

	if rule, ok := MatchRule(c.rules, cand.Description, cand.SourceCategory); ok {
		out.Category = rule.Category
		out.Confidence = domain.ClampConfidence(rule.Confidence)
		out.Meta = domain.ClassificationMeta{Source: domain.SourceRule, Rule: rule.Name}
		if rule.ProfileHint != "" {
			if p, found := domain.FindActiveProfile(profiles, rule.ProfileHint); found {
				out.ProfileID = p.ID
			}
		}
		c.markReview(&out)
		return out, nil
	}

	var classErr error
	if c.assistant != nil {
		s, err := c.assistant.SuggestCategory(ctx, cand.Description, cand.Amount, c.categories)
		if err == nil {
			out.Category = s.Category
			out.Confidence = s.Confidence
			out.Meta = domain.ClassificationMeta{Source: domain.SourceAssistant}
			c.markReview(&out)
			return out, nil
		}
		classErr = &domain.ClassificationError{Description: cand.Description, Cause: err}
	}

	out.Category = domain.CategoryUncategorized
	out.Confidence = 0
	out.Meta = domain.ClassificationMeta{Source: domain.SourceFallback}
	if classErr != nil {
		out.Meta.ClassifierError = classErr.Error()
	}
	c.markReview(&out)
	return out, classErr
}

func (c *Classifier) markReview(out *Classification) {
	out.Meta.NeedsReview = out.Confidence < c.reviewThreshold
}

// BuildTransaction combines a candidate and its classification into a ledger row.
func BuildTransaction(st *domain.Statement, cand domain.Candidate, cls Classification, now time.Time) domain.Transaction {
	statementID := st.ID
	return domain.Transaction{
		ID:          uuid.NewString(),
		UserID:      st.UserID,
		StatementID: &statementID,
		ProfileID:   cls.ProfileID,
		Date:        cand.Date,
		Description: cand.Description,
		Amount:      cand.Amount,
		Type:        domain.TypeForAmount(cand.Amount),
		Category:    cls.Category,
		Confidence:  cls.Confidence,
		Metadata:    cls.Meta,
		DedupKey:    domain.DedupKey(st.UserID, cand.Date, cand.Amount, cand.Description),
		CreatedAt:   now,
	}
}
