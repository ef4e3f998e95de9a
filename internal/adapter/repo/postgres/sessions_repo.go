package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/persona-feedback/internal/domain"
)

// SessionRepo persists feedback sessions. Terminal transitions go through a
// status-conditional update so concurrent termination detectors race safely.
type SessionRepo struct{ Pool PgxPool }

// NewSessionRepo constructs a SessionRepo with the given pool.
func NewSessionRepo(p PgxPool) *SessionRepo { return &SessionRepo{Pool: p} }

// CreateWithResults inserts the session row and all of its product x persona
// cells in one transaction, returning the session id and the cell ids in
// insertion order.
func (r *SessionRepo) CreateWithResults(ctx domain.Context, s domain.FeedbackSession, cells []domain.FeedbackResult) (int64, []int64, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.CreateWithResults")
	defer span.End()
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("op=session.create: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	var sessionID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO feedback_sessions (user_id, status, language, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		s.UserID, domain.SessionPending, s.Language, now, now).Scan(&sessionID)
	if err != nil {
		return 0, nil, fmt.Errorf("op=session.create: %w", err)
	}

	resultIDs := make([]int64, 0, len(cells))
	for _, c := range cells {
		var id int64
		err = tx.QueryRow(ctx,
			`INSERT INTO feedback_results (session_id, product_id, persona_id, status, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
			sessionID, c.ProductID, c.PersonaID, domain.ResultPending, now, now).Scan(&id)
		if err != nil {
			return 0, nil, fmt.Errorf("op=session.create: %w", err)
		}
		resultIDs = append(resultIDs, id)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, nil, fmt.Errorf("op=session.create: %w", err)
	}
	return sessionID, resultIDs, nil
}

// GetAny loads a session by id without the ownership filter; workers and
// the ownership classification in the services both read through it.
func (r *SessionRepo) GetAny(ctx domain.Context, id int64) (domain.FeedbackSession, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.GetAny")
	defer span.End()
	q := `SELECT id, user_id, status, language, insights, created_at, updated_at
	      FROM feedback_sessions WHERE id=$1`
	s, err := scanSession(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		return domain.FeedbackSession{}, fmt.Errorf("op=session.get_any: %w", err)
	}
	return s, nil
}

// MarkInProgress moves PENDING to IN_PROGRESS. Sessions that already
// advanced are left untouched.
func (r *SessionRepo) MarkInProgress(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.MarkInProgress")
	defer span.End()
	q := `UPDATE feedback_sessions SET status=$2, updated_at=$3 WHERE id=$1 AND status=$4`
	_, err := r.Pool.Exec(ctx, q, id, domain.SessionInProgress, time.Now().UTC(), domain.SessionPending)
	if err != nil {
		return fmt.Errorf("op=session.mark_in_progress: %w", err)
	}
	return nil
}

// CompleteIfNotCompleted writes the terminal status and insights only when
// the session has not yet reached a terminal status. The returned bool is
// true for the single caller that won the transition.
func (r *SessionRepo) CompleteIfNotCompleted(ctx domain.Context, id int64, status domain.SessionStatus, insights *domain.SessionInsights) (bool, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.CompleteIfNotCompleted")
	defer span.End()
	var blob []byte
	if insights != nil {
		var err error
		blob, err = json.Marshal(insights)
		if err != nil {
			return false, fmt.Errorf("op=session.complete: %w", err)
		}
	}
	q := `UPDATE feedback_sessions SET status=$2, insights=$3, updated_at=$4
	      WHERE id=$1 AND status NOT IN ($5, $6)`
	tag, err := r.Pool.Exec(ctx, q, id, status, blob, time.Now().UTC(), domain.SessionCompleted, domain.SessionFailed)
	if err != nil {
		return false, fmt.Errorf("op=session.complete: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// TerminalCounts returns the terminal/total tally of a session's cells in a
// single aggregate read.
func (r *SessionRepo) TerminalCounts(ctx domain.Context, id int64) (domain.TerminalCounts, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.TerminalCounts")
	defer span.End()
	q := `SELECT COUNT(*) FILTER (WHERE status=$2),
	             COUNT(*) FILTER (WHERE status=$3),
	             COUNT(*)
	      FROM feedback_results WHERE session_id=$1`
	var t domain.TerminalCounts
	if err := r.Pool.QueryRow(ctx, q, id, domain.ResultCompleted, domain.ResultFailed).Scan(&t.Completed, &t.Failed, &t.Total); err != nil {
		return domain.TerminalCounts{}, fmt.Errorf("op=session.terminal_counts: %w", err)
	}
	return t, nil
}

// GetWithResults reads the session and one page of its results with the
// product and persona names join-fetched, all inside one read transaction so
// the status and the rows are a consistent snapshot.
func (r *SessionRepo) GetWithResults(ctx domain.Context, userID, id int64, pageNumber, pageSize int) (domain.FeedbackSession, domain.ResultPage, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.GetWithResults")
	defer span.End()
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return domain.FeedbackSession{}, domain.ResultPage{}, fmt.Errorf("op=session.get_with_results: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	s, err := scanSession(tx.QueryRow(ctx,
		`SELECT id, user_id, status, language, insights, created_at, updated_at
		 FROM feedback_sessions WHERE id=$1 AND user_id=$2`, id, userID))
	if err != nil {
		return domain.FeedbackSession{}, domain.ResultPage{}, fmt.Errorf("op=session.get_with_results: %w", err)
	}

	var total int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM feedback_results WHERE session_id=$1`, id).Scan(&total); err != nil {
		return domain.FeedbackSession{}, domain.ResultPage{}, fmt.Errorf("op=session.get_with_results: %w", err)
	}

	q := `SELECT r.id, r.session_id, r.product_id, r.persona_id, r.status, r.feedback,
	             r.purchase_intent, r.key_concerns, r.created_at, r.updated_at,
	             pr.name, COALESCE(pe.name, '')
	      FROM feedback_results r
	      JOIN products pr ON pr.id = r.product_id
	      JOIN personas pe ON pe.id = r.persona_id
	      WHERE r.session_id=$1
	      ORDER BY r.id`
	args := []any{id}
	if pageSize > 0 {
		if pageNumber < 1 {
			pageNumber = 1
		}
		q += ` LIMIT $2 OFFSET $3`
		args = append(args, pageSize, (pageNumber-1)*pageSize)
	}
	rows, err := tx.Query(ctx, q, args...)
	if err != nil {
		return domain.FeedbackSession{}, domain.ResultPage{}, fmt.Errorf("op=session.get_with_results: %w", err)
	}
	defer rows.Close()

	page := domain.ResultPage{PageNumber: pageNumber, PageSize: pageSize, TotalCount: total}
	for rows.Next() {
		var v domain.SessionResultView
		var concerns []byte
		if err := rows.Scan(&v.ID, &v.SessionID, &v.ProductID, &v.PersonaID, &v.Status, &v.Feedback,
			&v.PurchaseIntent, &concerns, &v.CreatedAt, &v.UpdatedAt, &v.ProductName, &v.PersonaName); err != nil {
			return domain.FeedbackSession{}, domain.ResultPage{}, fmt.Errorf("op=session.get_with_results: %w", err)
		}
		if len(concerns) > 0 {
			if err := json.Unmarshal(concerns, &v.KeyConcerns); err != nil {
				return domain.FeedbackSession{}, domain.ResultPage{}, fmt.Errorf("op=session.get_with_results: %w", err)
			}
		}
		page.Results = append(page.Results, v)
	}
	if err := rows.Err(); err != nil {
		return domain.FeedbackSession{}, domain.ResultPage{}, fmt.Errorf("op=session.get_with_results: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.FeedbackSession{}, domain.ResultPage{}, fmt.Errorf("op=session.get_with_results: %w", err)
	}
	return s, page, nil
}

func scanSession(row pgx.Row) (domain.FeedbackSession, error) {
	var s domain.FeedbackSession
	var insights []byte
	if err := row.Scan(&s.ID, &s.UserID, &s.Status, &s.Language, &insights, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FeedbackSession{}, domain.ErrNotFound
		}
		return domain.FeedbackSession{}, err
	}
	if len(insights) > 0 {
		s.Insights = &domain.SessionInsights{}
		if err := json.Unmarshal(insights, s.Insights); err != nil {
			return domain.FeedbackSession{}, err
		}
	}
	return s, nil
}
