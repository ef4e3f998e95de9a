package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/persona-feedback/internal/domain"
	"github.com/fairyhunter13/persona-feedback/internal/observability"
)

// SessionFinalizer runs distributed termination detection for a session:
// under the session lock it checks whether every cell is terminal and, if
// so, aggregates insights and completes the session exactly once.
type SessionFinalizer interface {
	FinalizeIfComplete(ctx context.Context, sessionID int64) error
}

// FeedbackHandler processes one feedback cell per message and triggers
// termination detection after each terminal outcome.
type FeedbackHandler struct {
	results   domain.ResultRepository
	sessions  domain.SessionRepository
	personas  domain.PersonaRepository
	products  domain.ProductRepository
	ai        domain.AIGateway
	finalizer SessionFinalizer
}

// NewFeedbackHandler constructs a FeedbackHandler.
func NewFeedbackHandler(
	results domain.ResultRepository,
	sessions domain.SessionRepository,
	personas domain.PersonaRepository,
	products domain.ProductRepository,
	ai domain.AIGateway,
	finalizer SessionFinalizer,
) *FeedbackHandler {
	return &FeedbackHandler{
		results:   results,
		sessions:  sessions,
		personas:  personas,
		products:  products,
		ai:        ai,
		finalizer: finalizer,
	}
}

// Handle generates feedback for one cell. A cell already terminal skips the
// LLM call but still runs termination detection, so a delivery that failed
// after completing its write can finish the session on retry.
func (h *FeedbackHandler) Handle(ctx context.Context, raw []byte) error {
	tracer := otel.Tracer("queue.feedback")
	ctx, span := tracer.Start(ctx, "HandleFeedbackCell")
	defer span.End()

	payload, err := decodeFeedbackPayload(raw)
	if err != nil {
		return err
	}
	lg := observability.LoggerFromContext(ctx).With(
		slog.Int64("result_id", payload.ResultID),
		slog.Int64("session_id", payload.SessionID))

	result, err := h.results.Get(ctx, payload.ResultID)
	if err != nil {
		return err
	}
	if result.Status == domain.ResultCompleted || result.Status == domain.ResultFailed {
		lg.Info("cell already terminal, running termination check only",
			slog.String("status", string(result.Status)))
		return h.finalizer.FinalizeIfComplete(ctx, payload.SessionID)
	}

	if err := h.sessions.MarkInProgress(ctx, payload.SessionID); err != nil {
		return err
	}
	if err := h.results.MarkInProgress(ctx, payload.ResultID); err != nil {
		return err
	}

	persona, err := h.personas.GetAny(ctx, payload.PersonaID)
	if err != nil {
		return err
	}
	product, err := h.products.GetAny(ctx, payload.ProductID)
	if err != nil {
		return err
	}

	fb, err := h.ai.GenerateFeedback(ctx, persona, product, payload.Language)
	if err != nil {
		return err
	}
	if err := h.results.Complete(ctx, payload.ResultID, fb.Feedback, fb.PurchaseIntent, fb.KeyConcerns); err != nil {
		return err
	}
	observability.PurchaseIntentHistogram.Observe(float64(fb.PurchaseIntent))
	lg.Info("feedback cell completed", slog.Int("purchase_intent", fb.PurchaseIntent))

	return h.finalizer.FinalizeIfComplete(ctx, payload.SessionID)
}

// Abandon marks the cell FAILED and runs termination detection so a session
// whose last cell dead-letters still reaches a terminal status.
func (h *FeedbackHandler) Abandon(ctx context.Context, raw []byte) error {
	payload, err := decodeFeedbackPayload(raw)
	if err != nil {
		return err
	}
	if err := h.results.Fail(ctx, payload.ResultID); err != nil {
		return err
	}
	if err := h.finalizer.FinalizeIfComplete(ctx, payload.SessionID); err != nil {
		if errors.Is(err, domain.ErrLockTimeout) {
			// Another holder is finalizing; their run will observe this
			// cell's terminal status.
			return nil
		}
		return err
	}
	return nil
}

func decodeFeedbackPayload(raw []byte) (domain.FeedbackTaskPayload, error) {
	var payload domain.FeedbackTaskPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.FeedbackTaskPayload{}, fmt.Errorf("op=queue.feedback: unmarshal payload: %w", err)
	}
	if payload.ResultID == 0 || payload.SessionID == 0 {
		return domain.FeedbackTaskPayload{}, fmt.Errorf("op=queue.feedback: malformed payload: %w", domain.ErrInvalidArgument)
	}
	return payload, nil
}
