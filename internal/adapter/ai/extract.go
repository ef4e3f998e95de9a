package ai

import (
	"fmt"
	"strings"

	"github.com/fairyhunter13/persona-feedback/internal/domain"
)

// extractFirstJSON returns the first complete JSON object or array embedded
// in an LLM response. Models routinely wrap output in markdown fences or
// prose; everything outside the first balanced value is discarded. Brace
// matching is string-aware so braces inside string values do not confuse it.
func extractFirstJSON(response string) (string, error) {
	response = stripMarkdownFences(response)

	start := -1
	for i := 0; i < len(response); i++ {
		if response[i] == '{' || response[i] == '[' {
			start = i
			break
		}
	}
	if start == -1 {
		return "", fmt.Errorf("%w: no JSON value found", domain.ErrInvalidAIResponse)
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		ch := response[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return response[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("%w: unbalanced JSON value", domain.ErrInvalidAIResponse)
}

func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
