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

// PersonaRepo persists and loads personas. The GENERATING -> ACTIVE|FAILED
// transition is guarded by the (generation_in_progress, version) CAS so at
// most one worker mutates a persona in flight.
type PersonaRepo struct{ Pool PgxPool }

// NewPersonaRepo constructs a PersonaRepo with the given pool.
func NewPersonaRepo(p PgxPool) *PersonaRepo { return &PersonaRepo{Pool: p} }

const personaCols = `id, user_id, status, name, description, product_attitudes, characteristics,
	characteristics_hash, model, version, generation_in_progress, deleted, created_at, updated_at`

// CreateBatch inserts all personas of one generation request in a single
// transaction and returns their ids in input order.
func (r *PersonaRepo) CreateBatch(ctx domain.Context, personas []domain.Persona) ([]int64, error) {
	tracer := otel.Tracer("repo.personas")
	ctx, span := tracer.Start(ctx, "personas.CreateBatch")
	defer span.End()
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("op=persona.create_batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `INSERT INTO personas (user_id, status, characteristics, characteristics_hash, model, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`
	now := time.Now().UTC()
	ids := make([]int64, 0, len(personas))
	for _, p := range personas {
		chars, err := json.Marshal(p.Characteristics)
		if err != nil {
			return nil, fmt.Errorf("op=persona.create_batch: %w", err)
		}
		var id int64
		if err := tx.QueryRow(ctx, q, p.UserID, domain.PersonaGenerating, chars, p.CharacteristicsHash, p.Model, now, now).Scan(&id); err != nil {
			return nil, fmt.Errorf("op=persona.create_batch: %w", err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("op=persona.create_batch: %w", err)
	}
	return ids, nil
}

// GetAny loads a persona by id without the ownership filter. Workers pass
// payloads that already carry the verified owner; the services classify
// ownership themselves.
func (r *PersonaRepo) GetAny(ctx domain.Context, id int64) (domain.Persona, error) {
	tracer := otel.Tracer("repo.personas")
	ctx, span := tracer.Start(ctx, "personas.GetAny")
	defer span.End()
	q := `SELECT ` + personaCols + ` FROM personas WHERE id=$1`
	p, err := scanPersona(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		return domain.Persona{}, fmt.Errorf("op=persona.get_any: %w", err)
	}
	return p, nil
}

// ListByIDs loads the given non-deleted personas owned by userID.
func (r *PersonaRepo) ListByIDs(ctx domain.Context, userID int64, ids []int64) ([]domain.Persona, error) {
	tracer := otel.Tracer("repo.personas")
	ctx, span := tracer.Start(ctx, "personas.ListByIDs")
	defer span.End()
	q := `SELECT ` + personaCols + ` FROM personas WHERE user_id=$1 AND id = ANY($2) AND deleted=FALSE ORDER BY id`
	rows, err := r.Pool.Query(ctx, q, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("op=persona.list_by_ids: %w", err)
	}
	defer rows.Close()
	var out []domain.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, fmt.Errorf("op=persona.list_by_ids: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=persona.list_by_ids: %w", err)
	}
	return out, nil
}

// ClaimGeneration performs the optimistic CAS that elects the single writer
// for a persona still in GENERATING. Returns false when another worker holds
// the claim or the persona already left GENERATING.
func (r *PersonaRepo) ClaimGeneration(ctx domain.Context, id, version int64) (bool, error) {
	tracer := otel.Tracer("repo.personas")
	ctx, span := tracer.Start(ctx, "personas.ClaimGeneration")
	defer span.End()
	q := `UPDATE personas
	      SET generation_in_progress=TRUE, version=version+1, updated_at=$3
	      WHERE id=$1 AND version=$2 AND status=$4 AND generation_in_progress=FALSE`
	tag, err := r.Pool.Exec(ctx, q, id, version, time.Now().UTC(), domain.PersonaGenerating)
	if err != nil {
		return false, fmt.Errorf("op=persona.claim_generation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteGeneration writes the generated fields and moves the persona to
// ACTIVE. Conditional on GENERATING so re-deliveries are no-ops.
func (r *PersonaRepo) CompleteGeneration(ctx domain.Context, id int64, name, description, attitudes, model string) error {
	tracer := otel.Tracer("repo.personas")
	ctx, span := tracer.Start(ctx, "personas.CompleteGeneration")
	defer span.End()
	q := `UPDATE personas
	      SET status=$2, name=$3, description=$4, product_attitudes=$5, model=$6,
	          generation_in_progress=FALSE, version=version+1, updated_at=$7
	      WHERE id=$1 AND status=$8`
	_, err := r.Pool.Exec(ctx, q, id, domain.PersonaActive, name, description, attitudes, model, time.Now().UTC(), domain.PersonaGenerating)
	if err != nil {
		return fmt.Errorf("op=persona.complete_generation: %w", err)
	}
	return nil
}

// FailGeneration moves a persona that never left GENERATING to FAILED and
// releases the claim.
func (r *PersonaRepo) FailGeneration(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.personas")
	ctx, span := tracer.Start(ctx, "personas.FailGeneration")
	defer span.End()
	q := `UPDATE personas
	      SET status=$2, generation_in_progress=FALSE, version=version+1, updated_at=$3
	      WHERE id=$1 AND status=$4`
	_, err := r.Pool.Exec(ctx, q, id, domain.PersonaFailed, time.Now().UTC(), domain.PersonaGenerating)
	if err != nil {
		return fmt.Errorf("op=persona.fail_generation: %w", err)
	}
	return nil
}

// ReleaseGeneration drops the in-progress claim without touching status, so
// a later delivery can claim the persona again.
func (r *PersonaRepo) ReleaseGeneration(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.personas")
	ctx, span := tracer.Start(ctx, "personas.ReleaseGeneration")
	defer span.End()
	q := `UPDATE personas
	      SET generation_in_progress=FALSE, version=version+1, updated_at=$2
	      WHERE id=$1 AND generation_in_progress=TRUE`
	_, err := r.Pool.Exec(ctx, q, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=persona.release_generation: %w", err)
	}
	return nil
}

func scanPersona(row pgx.Row) (domain.Persona, error) {
	var p domain.Persona
	var chars []byte
	if err := row.Scan(&p.ID, &p.UserID, &p.Status, &p.Name, &p.Description, &p.ProductAttitudes, &chars,
		&p.CharacteristicsHash, &p.Model, &p.Version, &p.GenerationInProgress, &p.Deleted, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Persona{}, domain.ErrNotFound
		}
		return domain.Persona{}, err
	}
	if err := json.Unmarshal(chars, &p.Characteristics); err != nil {
		return domain.Persona{}, err
	}
	return p, nil
}
