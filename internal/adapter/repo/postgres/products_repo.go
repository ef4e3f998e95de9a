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

// ProductRepo persists and loads products. Every read is ownership-scoped;
// soft-deleted rows are invisible except through historical feedback joins.
type ProductRepo struct{ Pool PgxPool }

// NewProductRepo constructs a ProductRepo with the given pool.
func NewProductRepo(p PgxPool) *ProductRepo { return &ProductRepo{Pool: p} }

const productCols = `id, user_id, name, description, price, currency, category, key_features, deleted, created_at, updated_at`

// Create inserts a new product and returns its id.
func (r *ProductRepo) Create(ctx domain.Context, p domain.Product) (int64, error) {
	tracer := otel.Tracer("repo.products")
	ctx, span := tracer.Start(ctx, "products.Create")
	defer span.End()
	features, err := json.Marshal(p.KeyFeatures)
	if err != nil {
		return 0, fmt.Errorf("op=product.create: %w", err)
	}
	q := `INSERT INTO products (user_id, name, description, price, currency, category, key_features, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`
	now := time.Now().UTC()
	var id int64
	if err := r.Pool.QueryRow(ctx, q, p.UserID, p.Name, p.Description, p.Price, p.Currency, p.Category, features, now, now).Scan(&id); err != nil {
		return 0, fmt.Errorf("op=product.create: %w", err)
	}
	return id, nil
}

// GetAny loads a product by id, ignoring ownership and the deleted flag.
// The services classify ownership themselves, and feedback cells
// referencing a product soft-deleted mid-session still need its attributes.
func (r *ProductRepo) GetAny(ctx domain.Context, id int64) (domain.Product, error) {
	tracer := otel.Tracer("repo.products")
	ctx, span := tracer.Start(ctx, "products.GetAny")
	defer span.End()
	q := `SELECT ` + productCols + ` FROM products WHERE id=$1`
	p, err := scanProduct(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		return domain.Product{}, fmt.Errorf("op=product.get_any: %w", err)
	}
	return p, nil
}

// ListByIDs loads the given non-deleted products owned by userID. Callers
// compare lengths to detect missing or foreign ids.
func (r *ProductRepo) ListByIDs(ctx domain.Context, userID int64, ids []int64) ([]domain.Product, error) {
	tracer := otel.Tracer("repo.products")
	ctx, span := tracer.Start(ctx, "products.ListByIDs")
	defer span.End()
	q := `SELECT ` + productCols + ` FROM products WHERE user_id=$1 AND id = ANY($2) AND deleted=FALSE ORDER BY id`
	rows, err := r.Pool.Query(ctx, q, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("op=product.list_by_ids: %w", err)
	}
	defer rows.Close()
	return collectProducts(rows, "product.list_by_ids")
}

// ListByUser loads all non-deleted products owned by userID.
func (r *ProductRepo) ListByUser(ctx domain.Context, userID int64) ([]domain.Product, error) {
	tracer := otel.Tracer("repo.products")
	ctx, span := tracer.Start(ctx, "products.ListByUser")
	defer span.End()
	q := `SELECT ` + productCols + ` FROM products WHERE user_id=$1 AND deleted=FALSE ORDER BY id`
	rows, err := r.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("op=product.list_by_user: %w", err)
	}
	defer rows.Close()
	return collectProducts(rows, "product.list_by_user")
}

// SoftDelete flags a product deleted; historical feedback keeps referring
// to the row.
func (r *ProductRepo) SoftDelete(ctx domain.Context, userID, id int64) error {
	tracer := otel.Tracer("repo.products")
	ctx, span := tracer.Start(ctx, "products.SoftDelete")
	defer span.End()
	q := `UPDATE products SET deleted=TRUE, updated_at=$3 WHERE id=$1 AND user_id=$2 AND deleted=FALSE`
	tag, err := r.Pool.Exec(ctx, q, id, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=product.soft_delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=product.soft_delete: %w", domain.ErrNotFound)
	}
	return nil
}

func scanProduct(row pgx.Row) (domain.Product, error) {
	var p domain.Product
	var features []byte
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &p.Price, &p.Currency, &p.Category, &features, &p.Deleted, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Product{}, domain.ErrNotFound
		}
		return domain.Product{}, err
	}
	if err := json.Unmarshal(features, &p.KeyFeatures); err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

func collectProducts(rows pgx.Rows, op string) ([]domain.Product, error) {
	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("op=%s: %w", op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=%s: %w", op, err)
	}
	return out, nil
}
