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

// PersonaHandler processes persona generation batches. One message covers
// every persona created for a generation request; a single LLM call fills
// them all.
type PersonaHandler struct {
	personas domain.PersonaRepository
	ai       domain.AIGateway
}

// NewPersonaHandler constructs a PersonaHandler.
func NewPersonaHandler(personas domain.PersonaRepository, ai domain.AIGateway) *PersonaHandler {
	return &PersonaHandler{personas: personas, ai: ai}
}

// Handle claims the batch members still in GENERATING, generates them with
// one batch call and writes each member's terminal state. Members already
// terminal or claimed elsewhere are skipped, which makes re-delivery a
// no-op for finished work.
func (h *PersonaHandler) Handle(ctx context.Context, raw []byte) error {
	tracer := otel.Tracer("queue.persona")
	ctx, span := tracer.Start(ctx, "HandlePersonaBatch")
	defer span.End()

	payload, err := decodePersonaPayload(raw)
	if err != nil {
		return err
	}
	lg := observability.LoggerFromContext(ctx).With(
		slog.Int64("persona_id", payload.PersonaID),
		slog.Int("count", payload.Count))

	claimedIDs := make([]int64, 0, len(payload.PersonaIDs))
	claimedSpecs := make([]domain.PersonaCharacteristics, 0, len(payload.PersonaIDs))
	for i, id := range payload.PersonaIDs {
		p, err := h.personas.GetAny(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				lg.Warn("batch member missing, skipping", slog.Int64("member_id", id))
				continue
			}
			h.release(ctx, claimedIDs)
			return err
		}
		if p.Status != domain.PersonaGenerating {
			continue
		}
		claimed, err := h.personas.ClaimGeneration(ctx, id, p.Version)
		if err != nil {
			h.release(ctx, claimedIDs)
			return err
		}
		if !claimed {
			lg.Info("batch member claimed elsewhere, skipping", slog.Int64("member_id", id))
			continue
		}
		claimedIDs = append(claimedIDs, id)
		claimedSpecs = append(claimedSpecs, payload.Characteristics[i])
	}
	if len(claimedIDs) == 0 {
		lg.Info("no batch members left to generate")
		return nil
	}

	generated, err := h.ai.GeneratePersonaBatch(ctx, claimedSpecs)
	if err != nil {
		h.release(ctx, claimedIDs)
		return err
	}

	for i, id := range claimedIDs {
		g := generated[i]
		if err := h.personas.CompleteGeneration(ctx, id, g.Name, g.Description, g.ProductAttitudes, payload.Model); err != nil {
			h.release(ctx, claimedIDs[i:])
			return err
		}
	}
	lg.Info("persona batch generated", slog.Int("generated", len(claimedIDs)))
	return nil
}

// Abandon marks every non-terminal batch member FAILED. Called right before
// the message is dead-lettered.
func (h *PersonaHandler) Abandon(ctx context.Context, raw []byte) error {
	payload, err := decodePersonaPayload(raw)
	if err != nil {
		return err
	}
	var firstErr error
	for _, id := range payload.PersonaIDs {
		if err := h.personas.FailGeneration(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *PersonaHandler) release(ctx context.Context, ids []int64) {
	for _, id := range ids {
		if err := h.personas.ReleaseGeneration(ctx, id); err != nil {
			slog.Error("release generation claim failed",
				slog.Int64("persona_id", id), slog.Any("error", err))
		}
	}
}

func decodePersonaPayload(raw []byte) (domain.PersonaTaskPayload, error) {
	var payload domain.PersonaTaskPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.PersonaTaskPayload{}, fmt.Errorf("op=queue.persona: unmarshal payload: %w", err)
	}
	if len(payload.PersonaIDs) == 0 || len(payload.PersonaIDs) != len(payload.Characteristics) {
		return domain.PersonaTaskPayload{}, fmt.Errorf("op=queue.persona: malformed payload: %w", domain.ErrInvalidArgument)
	}
	return payload, nil
}
