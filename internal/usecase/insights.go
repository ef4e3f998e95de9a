package usecase

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/fairyhunter13/persona-feedback/internal/domain"
	"github.com/fairyhunter13/persona-feedback/internal/observability"
)

// highIntentThreshold is the lowest purchase-intent score counted as high
// intent for the purchase-intent percentage.
const highIntentThreshold = 8

// InsightsService runs distributed termination detection. After every
// terminal cell write, a worker calls FinalizeIfComplete; the session lock
// plus the conditional terminal update guarantee at-most-once completion no
// matter how many workers race here.
type InsightsService struct {
	sessions domain.SessionRepository
	results  domain.ResultRepository
	ai       domain.AIGateway
	locker   domain.SessionLocker
	wait     time.Duration
	lease    time.Duration
}

// NewInsightsService constructs an InsightsService.
func NewInsightsService(
	sessions domain.SessionRepository,
	results domain.ResultRepository,
	ai domain.AIGateway,
	locker domain.SessionLocker,
	wait, lease time.Duration,
) *InsightsService {
	return &InsightsService{
		sessions: sessions,
		results:  results,
		ai:       ai,
		locker:   locker,
		wait:     wait,
		lease:    lease,
	}
}

// FinalizeIfComplete completes the session when every cell is terminal.
// Returns nil when the session is not finished yet or someone else already
// completed it. A lock-acquisition timeout surfaces as domain.ErrLockTimeout
// so the caller requeues and another worker retries. Theme extraction is
// best-effort: a transient LLM failure requeues, a permanent one completes
// the session with the numeric insights and no themes, so the session always
// reaches a terminal status.
func (s *InsightsService) FinalizeIfComplete(ctx domain.Context, sessionID int64) error {
	key := fmt.Sprintf("feedback-session-lock:%d", sessionID)
	release, err := s.locker.Acquire(ctx, key, s.wait, s.lease)
	if err != nil {
		return err
	}
	defer func() {
		if rErr := release(ctx); rErr != nil {
			slog.Error("session lock release failed",
				slog.Int64("session_id", sessionID), slog.Any("error", rErr))
		}
	}()

	session, err := s.sessions.GetAny(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status == domain.SessionCompleted || session.Status == domain.SessionFailed {
		return nil
	}
	counts, err := s.sessions.TerminalCounts(ctx, sessionID)
	if err != nil {
		return err
	}
	if !counts.AllTerminal() {
		return nil
	}

	lg := observability.LoggerFromContext(ctx).With(slog.Int64("session_id", sessionID))

	if counts.Completed == 0 {
		// Nothing succeeded; there is nothing to aggregate.
		won, err := s.sessions.CompleteIfNotCompleted(ctx, sessionID, domain.SessionFailed, nil)
		if err != nil {
			return err
		}
		if won {
			observability.SessionsCompletedTotal.WithLabelValues(string(domain.SessionFailed)).Inc()
			lg.Info("session failed, all cells failed", slog.Int("failed", counts.Failed))
		}
		return nil
	}

	completed, err := s.results.ListCompleted(ctx, sessionID)
	if err != nil {
		return err
	}
	insights := s.numericInsights(completed, counts)
	themes, err := s.ai.AggregateInsights(ctx, collectConcerns(completed))
	switch {
	case err == nil:
		insights.KeyThemes = themes
	case domain.IsRetriable(err):
		return err
	default:
		// A permanent aggregation failure must not strand the session in
		// IN_PROGRESS; the numeric insights stand on their own.
		lg.Warn("theme aggregation failed, completing without themes", slog.Any("error", err))
	}
	won, err := s.sessions.CompleteIfNotCompleted(ctx, sessionID, domain.SessionCompleted, insights)
	if err != nil {
		return err
	}
	if won {
		observability.SessionsCompletedTotal.WithLabelValues(string(domain.SessionCompleted)).Inc()
		lg.Info("session completed",
			slog.Int("completed", counts.Completed),
			slog.Int("failed", counts.Failed),
			slog.Float64("average_score", insights.AverageScore))
	}
	return nil
}

// numericInsights computes the locally derived aggregates; theme extraction
// is layered on top when the LLM call succeeds.
func (s *InsightsService) numericInsights(completed []domain.FeedbackResult, counts domain.TerminalCounts) *domain.SessionInsights {
	var sum, high int
	for _, r := range completed {
		sum += r.PurchaseIntent
		if r.PurchaseIntent >= highIntentThreshold {
			high++
		}
	}
	n := float64(len(completed))
	return &domain.SessionInsights{
		AverageScore:      round2(float64(sum) / n),
		PurchaseIntentPct: round2(float64(high) / n * 100),
		CompletedResults:  counts.Completed,
		FailedResults:     counts.Failed,
		GeneratedAt:       time.Now().UTC(),
	}
}

func collectConcerns(completed []domain.FeedbackResult) []string {
	concerns := make([]string, 0, len(completed)*3)
	for _, r := range completed {
		concerns = append(concerns, r.KeyConcerns...)
	}
	return concerns
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
