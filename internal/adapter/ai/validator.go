package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fairyhunter13/persona-feedback/internal/domain"
)

// Response validators. Schema violations are permanent: the same prompt
// would produce the same malformed answer, so they map to
// domain.ErrInvalidAIResponse and never retry.

func parsePersonaBatch(raw string, want int) ([]domain.GeneratedPersona, error) {
	value, err := extractFirstJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("op=ai.parse_persona_batch: %w", err)
	}
	var personas []domain.GeneratedPersona
	if err := json.Unmarshal([]byte(value), &personas); err != nil {
		return nil, fmt.Errorf("op=ai.parse_persona_batch: %w: %v", domain.ErrInvalidAIResponse, err)
	}
	if len(personas) != want {
		return nil, fmt.Errorf("op=ai.parse_persona_batch: %w: got %d personas, want %d", domain.ErrInvalidAIResponse, len(personas), want)
	}
	for i, p := range personas {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("op=ai.parse_persona_batch: %w: persona %d has empty name", domain.ErrInvalidAIResponse, i)
		}
		if strings.TrimSpace(p.Description) == "" {
			return nil, fmt.Errorf("op=ai.parse_persona_batch: %w: persona %d has empty description", domain.ErrInvalidAIResponse, i)
		}
		if strings.TrimSpace(p.ProductAttitudes) == "" {
			return nil, fmt.Errorf("op=ai.parse_persona_batch: %w: persona %d has empty product attitudes", domain.ErrInvalidAIResponse, i)
		}
	}
	return personas, nil
}

func parseFeedback(raw string) (domain.GeneratedFeedback, error) {
	value, err := extractFirstJSON(raw)
	if err != nil {
		return domain.GeneratedFeedback{}, fmt.Errorf("op=ai.parse_feedback: %w", err)
	}
	var fb domain.GeneratedFeedback
	if err := json.Unmarshal([]byte(value), &fb); err != nil {
		return domain.GeneratedFeedback{}, fmt.Errorf("op=ai.parse_feedback: %w: %v", domain.ErrInvalidAIResponse, err)
	}
	if strings.TrimSpace(fb.Feedback) == "" {
		return domain.GeneratedFeedback{}, fmt.Errorf("op=ai.parse_feedback: %w: empty feedback", domain.ErrInvalidAIResponse)
	}
	if fb.PurchaseIntent < 1 || fb.PurchaseIntent > 10 {
		return domain.GeneratedFeedback{}, fmt.Errorf("op=ai.parse_feedback: %w: purchase_intent %d out of [1,10]", domain.ErrInvalidAIResponse, fb.PurchaseIntent)
	}
	if len(fb.KeyConcerns) < 2 || len(fb.KeyConcerns) > 4 {
		return domain.GeneratedFeedback{}, fmt.Errorf("op=ai.parse_feedback: %w: got %d key concerns, want 2-4", domain.ErrInvalidAIResponse, len(fb.KeyConcerns))
	}
	for i, c := range fb.KeyConcerns {
		if strings.TrimSpace(c) == "" {
			return domain.GeneratedFeedback{}, fmt.Errorf("op=ai.parse_feedback: %w: key concern %d is empty", domain.ErrInvalidAIResponse, i)
		}
	}
	return fb, nil
}

func parseAggregation(raw string) ([]domain.InsightTheme, error) {
	value, err := extractFirstJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("op=ai.parse_aggregation: %w", err)
	}
	var themes []domain.InsightTheme
	if err := json.Unmarshal([]byte(value), &themes); err != nil {
		return nil, fmt.Errorf("op=ai.parse_aggregation: %w: %v", domain.ErrInvalidAIResponse, err)
	}
	if len(themes) < 5 || len(themes) > 7 {
		return nil, fmt.Errorf("op=ai.parse_aggregation: %w: got %d themes, want 5-7", domain.ErrInvalidAIResponse, len(themes))
	}
	for i, t := range themes {
		if strings.TrimSpace(t.Theme) == "" {
			return nil, fmt.Errorf("op=ai.parse_aggregation: %w: theme %d is empty", domain.ErrInvalidAIResponse, i)
		}
		if t.Mentions < 1 {
			return nil, fmt.Errorf("op=ai.parse_aggregation: %w: theme %d has mentions %d, want >= 1", domain.ErrInvalidAIResponse, i, t.Mentions)
		}
	}
	return themes, nil
}
