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

// ResultRepo persists individual feedback cells. Terminal writes are
// conditional on a non-terminal status so re-delivered tasks cannot clobber
// a finished cell.
type ResultRepo struct{ Pool PgxPool }

// NewResultRepo constructs a ResultRepo with the given pool.
func NewResultRepo(p PgxPool) *ResultRepo { return &ResultRepo{Pool: p} }

const resultCols = `id, session_id, product_id, persona_id, status, feedback, purchase_intent, key_concerns, created_at, updated_at`

// Get loads one result cell by id.
func (r *ResultRepo) Get(ctx domain.Context, id int64) (domain.FeedbackResult, error) {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.Get")
	defer span.End()
	q := `SELECT ` + resultCols + ` FROM feedback_results WHERE id=$1`
	res, err := scanResult(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		return domain.FeedbackResult{}, fmt.Errorf("op=result.get: %w", err)
	}
	return res, nil
}

// MarkInProgress moves PENDING or FAILED to IN_PROGRESS. A FAILED cell may
// be picked up again by a re-delivered task.
func (r *ResultRepo) MarkInProgress(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.MarkInProgress")
	defer span.End()
	q := `UPDATE feedback_results SET status=$2, updated_at=$3 WHERE id=$1 AND status IN ($4, $5)`
	_, err := r.Pool.Exec(ctx, q, id, domain.ResultInProgress, time.Now().UTC(), domain.ResultPending, domain.ResultFailed)
	if err != nil {
		return fmt.Errorf("op=result.mark_in_progress: %w", err)
	}
	return nil
}

// Complete writes the generated feedback and moves the cell to COMPLETED.
// Conditional on a non-terminal status.
func (r *ResultRepo) Complete(ctx domain.Context, id int64, feedback string, intent int, concerns []string) error {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.Complete")
	defer span.End()
	blob, err := json.Marshal(concerns)
	if err != nil {
		return fmt.Errorf("op=result.complete: %w", err)
	}
	q := `UPDATE feedback_results
	      SET status=$2, feedback=$3, purchase_intent=$4, key_concerns=$5, updated_at=$6
	      WHERE id=$1 AND status NOT IN ($7, $8)`
	_, err = r.Pool.Exec(ctx, q, id, domain.ResultCompleted, feedback, intent, blob, time.Now().UTC(),
		domain.ResultCompleted, domain.ResultFailed)
	if err != nil {
		return fmt.Errorf("op=result.complete: %w", err)
	}
	return nil
}

// Fail moves the cell to FAILED. Conditional on a non-terminal status.
func (r *ResultRepo) Fail(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.Fail")
	defer span.End()
	q := `UPDATE feedback_results SET status=$2, updated_at=$3 WHERE id=$1 AND status NOT IN ($4, $5)`
	_, err := r.Pool.Exec(ctx, q, id, domain.ResultFailed, time.Now().UTC(), domain.ResultCompleted, domain.ResultFailed)
	if err != nil {
		return fmt.Errorf("op=result.fail: %w", err)
	}
	return nil
}

// ListCompleted loads every COMPLETED cell of a session, for aggregation.
func (r *ResultRepo) ListCompleted(ctx domain.Context, sessionID int64) ([]domain.FeedbackResult, error) {
	tracer := otel.Tracer("repo.results")
	ctx, span := tracer.Start(ctx, "results.ListCompleted")
	defer span.End()
	q := `SELECT ` + resultCols + ` FROM feedback_results WHERE session_id=$1 AND status=$2 ORDER BY id`
	rows, err := r.Pool.Query(ctx, q, sessionID, domain.ResultCompleted)
	if err != nil {
		return nil, fmt.Errorf("op=result.list_completed: %w", err)
	}
	defer rows.Close()
	var out []domain.FeedbackResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("op=result.list_completed: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=result.list_completed: %w", err)
	}
	return out, nil
}

func scanResult(row pgx.Row) (domain.FeedbackResult, error) {
	var res domain.FeedbackResult
	var concerns []byte
	if err := row.Scan(&res.ID, &res.SessionID, &res.ProductID, &res.PersonaID, &res.Status,
		&res.Feedback, &res.PurchaseIntent, &concerns, &res.CreatedAt, &res.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FeedbackResult{}, domain.ErrNotFound
		}
		return domain.FeedbackResult{}, err
	}
	if len(concerns) > 0 {
		if err := json.Unmarshal(concerns, &res.KeyConcerns); err != nil {
			return domain.FeedbackResult{}, err
		}
	}
	return res, nil
}
