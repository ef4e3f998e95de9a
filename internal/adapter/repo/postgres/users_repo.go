package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/persona-feedback/internal/domain"
)

// uniqueViolation is the SQLSTATE Postgres reports for unique constraint hits.
const uniqueViolation = "23505"

// UserRepo persists and loads identity principals.
type UserRepo struct{ Pool PgxPool }

// NewUserRepo constructs a UserRepo with the given pool.
func NewUserRepo(p PgxPool) *UserRepo { return &UserRepo{Pool: p} }

// Create inserts a new user and returns its id. Duplicate emails map to
// domain.ErrConflict.
func (r *UserRepo) Create(ctx domain.Context, u domain.User) (int64, error) {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.Create")
	defer span.End()
	q := `INSERT INTO users (email, password_hash, active, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5) RETURNING id`
	var id int64
	now := time.Now().UTC()
	if err := r.Pool.QueryRow(ctx, q, u.Email, u.PasswordHash, true, now, now).Scan(&id); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, fmt.Errorf("op=user.create: %w", domain.ErrConflict)
		}
		return 0, fmt.Errorf("op=user.create: %w", err)
	}
	return id, nil
}

// GetByEmail loads a user by email, including inactive and soft-deleted
// rows; the caller decides how to treat them.
func (r *UserRepo) GetByEmail(ctx domain.Context, email string) (domain.User, error) {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.GetByEmail")
	defer span.End()
	q := `SELECT id, email, password_hash, active, deleted, created_at, updated_at
	      FROM users WHERE email=$1`
	return r.scanOne(r.Pool.QueryRow(ctx, q, email), "user.get_by_email")
}

// Get loads a user by id.
func (r *UserRepo) Get(ctx domain.Context, id int64) (domain.User, error) {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.Get")
	defer span.End()
	q := `SELECT id, email, password_hash, active, deleted, created_at, updated_at
	      FROM users WHERE id=$1`
	return r.scanOne(r.Pool.QueryRow(ctx, q, id), "user.get")
}

func (r *UserRepo) scanOne(row pgx.Row, op string) (domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Active, &u.Deleted, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
		}
		return domain.User{}, fmt.Errorf("op=%s: %w", op, err)
	}
	return u, nil
}
