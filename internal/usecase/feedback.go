package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fairyhunter13/persona-feedback/internal/domain"
	"github.com/fairyhunter13/persona-feedback/internal/observability"
)

const (
	minSessionEntities = 1
	maxSessionEntities = 5
)

// FeedbackSessionInput is the start-session request.
type FeedbackSessionInput struct {
	ProductIDs []int64
	PersonaIDs []int64
	Language   string
	// IdempotencyKey deduplicates retried creates within the cache TTL.
	IdempotencyKey string
}

// SessionView is the read model returned by GetSession.
type SessionView struct {
	Session domain.FeedbackSession
	Page    domain.ResultPage
}

// FeedbackService creates feedback sessions and reads them back.
type FeedbackService struct {
	sessions    domain.SessionRepository
	results     domain.ResultRepository
	products    domain.ProductRepository
	personas    domain.PersonaRepository
	queue       domain.Queue
	idempotency domain.IdempotencyCache
	idemTTL     time.Duration
}

// NewFeedbackService constructs a FeedbackService.
func NewFeedbackService(
	sessions domain.SessionRepository,
	results domain.ResultRepository,
	products domain.ProductRepository,
	personas domain.PersonaRepository,
	queue domain.Queue,
	idempotency domain.IdempotencyCache,
	idemTTL time.Duration,
) FeedbackService {
	return FeedbackService{
		sessions:    sessions,
		results:     results,
		products:    products,
		personas:    personas,
		queue:       queue,
		idempotency: idempotency,
		idemTTL:     idemTTL,
	}
}

// StartSession validates ownership and readiness, creates the session with
// its |products| x |personas| cells in one transaction and publishes one
// task per cell. A repeated request carrying the same idempotency key
// within the TTL window returns the first session's id.
func (s FeedbackService) StartSession(ctx domain.Context, userID int64, in FeedbackSessionInput, requestID string) (int64, error) {
	if err := validateSessionInput(in); err != nil {
		return 0, err
	}
	language := strings.ToLower(strings.TrimSpace(in.Language))

	cacheKey := ""
	if in.IdempotencyKey != "" {
		cacheKey = fmt.Sprintf("%d:%s", userID, in.IdempotencyKey)
		if id, found, err := s.idempotency.Get(ctx, cacheKey); err != nil {
			slog.Warn("idempotency lookup failed", slog.Any("error", err))
		} else if found {
			return id, nil
		}
	}

	wantProducts := dedupe(in.ProductIDs)
	products, err := s.products.ListByIDs(ctx, userID, in.ProductIDs)
	if err != nil {
		return 0, err
	}
	if len(products) != len(wantProducts) {
		return 0, s.classifyProductRefs(ctx, userID, wantProducts, products)
	}
	wantPersonas := dedupe(in.PersonaIDs)
	personas, err := s.personas.ListByIDs(ctx, userID, in.PersonaIDs)
	if err != nil {
		return 0, err
	}
	if len(personas) != len(wantPersonas) {
		return 0, s.classifyPersonaRefs(ctx, userID, wantPersonas, personas)
	}
	for _, p := range personas {
		if p.Status != domain.PersonaActive {
			return 0, fmt.Errorf("%w: persona %d is %s", domain.ErrPersonasNotReady, p.ID, p.Status)
		}
	}

	cells := make([]domain.FeedbackResult, 0, len(products)*len(personas))
	for _, pr := range products {
		for _, pe := range personas {
			cells = append(cells, domain.FeedbackResult{ProductID: pr.ID, PersonaID: pe.ID})
		}
	}
	sessionID, resultIDs, err := s.sessions.CreateWithResults(ctx,
		domain.FeedbackSession{UserID: userID, Language: language}, cells)
	if err != nil {
		return 0, err
	}

	published := 0
	for i, cell := range cells {
		payload := domain.FeedbackTaskPayload{
			ResultID:    resultIDs[i],
			SessionID:   sessionID,
			OwnerUserID: userID,
			ProductID:   cell.ProductID,
			PersonaID:   cell.PersonaID,
			Language:    language,
			RequestID:   requestID,
		}
		if err := s.queue.EnqueueFeedback(ctx, payload); err != nil {
			slog.Error("feedback task publish failed",
				slog.Int64("result_id", resultIDs[i]), slog.Any("error", err))
			if fErr := s.results.Fail(ctx, resultIDs[i]); fErr != nil {
				slog.Error("failing unpublished cell",
					slog.Int64("result_id", resultIDs[i]), slog.Any("error", fErr))
			}
			continue
		}
		published++
	}
	if published == 0 {
		// Nothing will ever process this session; close it out here.
		if _, fErr := s.sessions.CompleteIfNotCompleted(ctx, sessionID, domain.SessionFailed, nil); fErr != nil {
			slog.Error("failing unpublishable session",
				slog.Int64("session_id", sessionID), slog.Any("error", fErr))
		}
		return 0, fmt.Errorf("op=feedback.start_session: %w", domain.ErrInternal)
	}

	if cacheKey != "" {
		if err := s.idempotency.Set(ctx, cacheKey, sessionID, s.idemTTL); err != nil {
			slog.Warn("idempotency store failed", slog.Any("error", err))
		}
	}

	lg := observability.LoggerFromContext(ctx)
	lg.Info("feedback session dispatched",
		slog.Int64("session_id", sessionID),
		slog.Int("cells", len(cells)),
		slog.Int("published", published))
	return sessionID, nil
}

// GetSession returns the session with one page of its results, read in one
// transaction. pageSize <= 0 returns every result. Another user's session
// surfaces as domain.ErrForbidden.
func (s FeedbackService) GetSession(ctx domain.Context, userID, id int64, pageNumber, pageSize int) (SessionView, error) {
	if pageSize > 0 && pageNumber < 1 {
		return SessionView{}, fmt.Errorf("%w: pageNumber must be >= 1", domain.ErrInvalidArgument)
	}
	session, page, err := s.sessions.GetWithResults(ctx, userID, id, pageNumber, pageSize)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			if other, gErr := s.sessions.GetAny(ctx, id); gErr == nil && other.UserID != userID {
				return SessionView{}, fmt.Errorf("%w: session %d", domain.ErrForbidden, id)
			}
		}
		return SessionView{}, err
	}
	return SessionView{Session: session, Page: page}, nil
}

func validateSessionInput(in FeedbackSessionInput) error {
	if n := len(in.ProductIDs); n < minSessionEntities || n > maxSessionEntities {
		return fmt.Errorf("%w: productIds must contain %d to %d entries", domain.ErrInvalidArgument, minSessionEntities, maxSessionEntities)
	}
	if n := len(in.PersonaIDs); n < minSessionEntities || n > maxSessionEntities {
		return fmt.Errorf("%w: personaIds must contain %d to %d entries", domain.ErrInvalidArgument, minSessionEntities, maxSessionEntities)
	}
	language := strings.ToLower(strings.TrimSpace(in.Language))
	if !domain.LanguageWhitelist[language] {
		return fmt.Errorf("%w: unsupported language %q", domain.ErrInvalidArgument, in.Language)
	}
	return nil
}

// classifyProductRefs names the first requested product the owned lookup
// did not return. Live rows belonging to another user surface as
// domain.ErrForbidden; missing or deleted ones as domain.ErrNotFound.
func (s FeedbackService) classifyProductRefs(ctx domain.Context, userID int64, want []int64, owned []domain.Product) error {
	have := make(map[int64]bool, len(owned))
	for _, p := range owned {
		have[p.ID] = true
	}
	for _, id := range want {
		if have[id] {
			continue
		}
		if p, err := s.products.GetAny(ctx, id); err == nil && !p.Deleted && p.UserID != userID {
			return fmt.Errorf("%w: product %d", domain.ErrForbidden, id)
		}
		return fmt.Errorf("%w: product %d", domain.ErrNotFound, id)
	}
	return fmt.Errorf("%w: product reference", domain.ErrNotFound)
}

// classifyPersonaRefs mirrors classifyProductRefs for personas.
func (s FeedbackService) classifyPersonaRefs(ctx domain.Context, userID int64, want []int64, owned []domain.Persona) error {
	have := make(map[int64]bool, len(owned))
	for _, p := range owned {
		have[p.ID] = true
	}
	for _, id := range want {
		if have[id] {
			continue
		}
		if p, err := s.personas.GetAny(ctx, id); err == nil && !p.Deleted && p.UserID != userID {
			return fmt.Errorf("%w: persona %d", domain.ErrForbidden, id)
		}
		return fmt.Errorf("%w: persona %d", domain.ErrNotFound, id)
	}
	return fmt.Errorf("%w: persona reference", domain.ErrNotFound)
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
