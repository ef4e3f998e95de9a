// Package ai implements the LLM gateway backed by OpenRouter-compatible
// chat completion APIs.
package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/persona-feedback/internal/config"
	"github.com/fairyhunter13/persona-feedback/internal/domain"
	"github.com/fairyhunter13/persona-feedback/internal/observability"
)

// Client implements domain.AIGateway against an OpenAI-compatible chat
// completion endpoint. Failures are classified so callers can route them:
// 429/502/503/504 and transport errors end up wrapping domain.ErrAITransient,
// everything else is permanent.
type Client struct {
	cfg config.Config
	hc  *http.Client
}

// New constructs a Client using the provider selected in cfg.
func New(cfg config.Config) *Client {
	return &Client{
		cfg: cfg,
		hc: &http.Client{
			Timeout:   cfg.AIHTTPTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// samplingParams tunes one chat call. Each operation has its own profile.
type samplingParams struct {
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	MaxTokens        int
}

var (
	personaParams     = samplingParams{Temperature: 0.7, TopP: 0.95, FrequencyPenalty: 0.2, PresencePenalty: 0.1, MaxTokens: 4000}
	feedbackParams    = samplingParams{Temperature: 0.6, TopP: 0.90, MaxTokens: 1500}
	aggregationParams = samplingParams{Temperature: 0.5, TopP: 0.85, MaxTokens: 1000}
)

// GeneratePersonaBatch asks for one persona per spec in a single call and
// validates the batch strictly against len(specs).
func (c *Client) GeneratePersonaBatch(ctx domain.Context, specs []domain.PersonaCharacteristics) ([]domain.GeneratedPersona, error) {
	system, user := personaBatchPrompts(specs)
	raw, err := c.chatJSON(ctx, "persona_batch", system, user, personaParams)
	if err != nil {
		return nil, err
	}
	return parsePersonaBatch(raw, len(specs))
}

// GenerateFeedback asks one persona for feedback on one product in the
// session language.
func (c *Client) GenerateFeedback(ctx domain.Context, persona domain.Persona, product domain.Product, language string) (domain.GeneratedFeedback, error) {
	system, user := feedbackPrompts(persona, product, language)
	raw, err := c.chatJSON(ctx, "feedback", system, user, feedbackParams)
	if err != nil {
		return domain.GeneratedFeedback{}, err
	}
	return parseFeedback(raw)
}

// AggregateInsights condenses the collected concerns into key themes.
func (c *Client) AggregateInsights(ctx domain.Context, concerns []string) ([]domain.InsightTheme, error) {
	system, user := aggregationPrompts(concerns)
	raw, err := c.chatJSON(ctx, "aggregation", system, user, aggregationParams)
	if err != nil {
		return nil, err
	}
	return parseAggregation(raw)
}

// statusError carries the HTTP status so the exhaustion path can classify
// the final failure.
type statusError struct{ status int }

func (e *statusError) Error() string { return fmt.Sprintf("chat status %d", e.status) }

func retriableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *Client) chatJSON(ctx domain.Context, operation, systemPrompt, userPrompt string, p samplingParams) (string, error) {
	if c.cfg.AIAPIKey() == "" {
		return "", fmt.Errorf("%w: API key missing for provider %s", domain.ErrInvalidArgument, c.cfg.AIProvider)
	}

	reqBody := map[string]any{
		"model":       c.cfg.AIModel,
		"temperature": p.Temperature,
		"top_p":       p.TopP,
		"max_tokens":  p.MaxTokens,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
	}
	if p.FrequencyPenalty != 0 {
		reqBody["frequency_penalty"] = p.FrequencyPenalty
	}
	if p.PresencePenalty != 0 {
		reqBody["presence_penalty"] = p.PresencePenalty
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("op=ai.chat: %w", err)
	}

	endpoint := c.cfg.AIBaseURL() + "/chat/completions"
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	op := func() error {
		start := time.Now()
		// Recreate the request each attempt; a consumed body cannot be reused.
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.AIAPIKey())
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.hc.Do(req)
		observability.AIRequestsTotal.WithLabelValues(c.cfg.AIProvider, operation).Inc()
		observability.AIRequestDuration.WithLabelValues(c.cfg.AIProvider, operation).Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		// Cap the body read so a runaway response cannot exhaust memory.
		limited := io.LimitReader(resp.Body, c.cfg.AIMaxRespBytes+1)
		bodyBytes, err := io.ReadAll(limited)
		if err != nil {
			return err
		}
		if int64(len(bodyBytes)) > c.cfg.AIMaxRespBytes {
			return backoff.Permanent(fmt.Errorf("%w: response exceeds %d bytes", domain.ErrInvalidAIResponse, c.cfg.AIMaxRespBytes))
		}

		if retriableStatus(resp.StatusCode) {
			slog.Warn("ai provider transient status",
				slog.String("provider", c.cfg.AIProvider),
				slog.String("operation", operation),
				slog.Int("status", resp.StatusCode),
				slog.String("x_request_id", resp.Header.Get("X-Request-Id")))
			return &statusError{status: resp.StatusCode}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			snippet := string(bodyBytes)
			if len(snippet) > 512 {
				snippet = snippet[:512]
			}
			slog.Error("ai provider non-retriable status",
				slog.String("provider", c.cfg.AIProvider),
				slog.String("operation", operation),
				slog.Int("status", resp.StatusCode),
				slog.String("body", snippet))
			return backoff.Permanent(&statusError{status: resp.StatusCode})
		}
		if err := json.Unmarshal(bodyBytes, &out); err != nil {
			slog.Error("ai provider decode error",
				slog.String("provider", c.cfg.AIProvider),
				slog.String("operation", operation),
				slog.Any("error", err))
			return backoff.Permanent(fmt.Errorf("%w: %v", domain.ErrInvalidAIResponse, err))
		}
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.cfg.AIRetryBase
	expo.MaxElapsedTime = c.cfg.AIBackoffMaxWait
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(c.cfg.AIRetryMax)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		var se *statusError
		if errors.As(err, &se) && !retriableStatus(se.status) {
			observability.AIRequestFailures.WithLabelValues(c.cfg.AIProvider, operation, "permanent").Inc()
			return "", fmt.Errorf("op=ai.chat: %w", err)
		}
		if errors.Is(err, domain.ErrInvalidAIResponse) {
			observability.AIRequestFailures.WithLabelValues(c.cfg.AIProvider, operation, "permanent").Inc()
			return "", fmt.Errorf("op=ai.chat: %w", err)
		}
		observability.AIRequestFailures.WithLabelValues(c.cfg.AIProvider, operation, "transient").Inc()
		return "", fmt.Errorf("op=ai.chat: %w: %v", domain.ErrAITransient, err)
	}

	if len(out.Choices) == 0 {
		observability.AIRequestFailures.WithLabelValues(c.cfg.AIProvider, operation, "permanent").Inc()
		return "", fmt.Errorf("op=ai.chat: %w: empty choices", domain.ErrInvalidAIResponse)
	}
	return out.Choices[0].Message.Content, nil
}
