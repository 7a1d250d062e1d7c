package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/shopspring/decimal"
	"google.golang.org/genai"
)

// Suggestion is an assistant's category guess.
type Suggestion struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// Assistant suggests a category for descriptions no rule matched.
type Assistant interface {
	SuggestCategory(ctx context.Context, description string, amount decimal.Decimal, categories []string) (Suggestion, error)
}

// GeminiAssistant asks a Gemini model to classify one transaction.
type GeminiAssistant struct {
	model    string
	generate func(ctx context.Context, prompt string) (string, error)
}

// NewGeminiAssistant creates a client using the ambient GOOGLE_API_KEY or
// Vertex AI environment configuration.
func NewGeminiAssistant(ctx context.Context, model string) (*GeminiAssistant, error) {
	if model == "" {
		model = DefaultModelName
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiAssistant: create genai client: %w", err)
	}

	a := &GeminiAssistant{model: model}
	a.generate = func(ctx context.Context, prompt string) (string, error) {
		contents := []*genai.Content{
			{Role: "user", Parts: []*genai.Part{{Text: prompt}}},
		}
		resp, err := client.Models.GenerateContent(ctx, a.model, contents, nil)
		if err != nil {
			return "", fmt.Errorf("generate content: %w", err)
		}
		return resp.Text(), nil
	}
	return a, nil
}

func (a *GeminiAssistant) SuggestCategory(ctx context.Context, description string, amount decimal.Decimal, categories []string) (Suggestion, error) {
	raw, err := a.generate(ctx, buildCategoryPrompt(description, amount, categories))
	if err != nil {
		return Suggestion{}, fmt.Errorf("SuggestCategory: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return Suggestion{}, fmt.Errorf("SuggestCategory: empty response from model")
	}
	return parseSuggestion(raw, NewCategoryValidator(categories))
}

// parseSuggestion decodes the model reply and pins it to a known category.
func parseSuggestion(raw string, validator *CategoryValidator) (Suggestion, error) {
	var s Suggestion
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &s); err != nil {
		return Suggestion{}, fmt.Errorf("parseSuggestion: unmarshal JSON: %w\nraw response: %s", err, raw)
	}
	category, err := validator.Canonical(s.Category)
	if err != nil {
		return Suggestion{}, fmt.Errorf("parseSuggestion: %w", err)
	}
	s.Category = category
	s.Confidence = domain.ClampConfidence(s.Confidence)
	return s, nil
}

// cleanModelJSON strips Markdown fences and any text around the JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
