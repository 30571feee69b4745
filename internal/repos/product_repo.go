package repos

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"offlinepos/internal/domain"
)

type ProductRepo struct{ db *sqlx.DB }

func NewProductRepo(db *sqlx.DB) *ProductRepo { return &ProductRepo{db: db} }

const productCols = `id, tenant_id, name, price, cost, stock, updated_at`

func (r *ProductRepo) Get(ctx context.Context, id string) (domain.Product, error) {
	var p domain.Product
	err := r.db.GetContext(ctx, &p, `SELECT `+productCols+` FROM products WHERE id = ?`, id)
	return p, err
}

// GetMany loads the given products through q, keyed by id. Missing ids are
// simply absent from the map.
func (r *ProductRepo) GetMany(ctx context.Context, q sqlx.ExtContext, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT `+productCols+` FROM products WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var rows []domain.Product
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, p := range rows {
		out[p.ID] = p
	}
	return out, nil
}

func (r *ProductRepo) ListByTenant(ctx context.Context, tenantID string) ([]domain.Product, error) {
	var out []domain.Product
	err := r.db.SelectContext(ctx, &out, `SELECT `+productCols+` FROM products WHERE tenant_id = ? ORDER BY name`, tenantID)
	return out, err
}

// DecrementStock subtracts by units only if enough stock exists and returns
// the product after the change. ok is false when stock is insufficient.
func (r *ProductRepo) DecrementStock(ctx context.Context, q sqlx.ExtContext, tenantID, id string, by int64, now string) (p domain.Product, ok bool, err error) {
	err = sqlx.GetContext(ctx, q, &p, `
		UPDATE products
		SET stock = stock - ?, updated_at = ?
		WHERE id = ? AND tenant_id = ? AND stock >= ?
		RETURNING `+productCols, by, now, id, tenantID, by)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, false, nil
	}
	if err != nil {
		return domain.Product{}, false, err
	}
	return p, true, nil
}

// SetStock overwrites the stock count, as done by a manager's stock take.
func (r *ProductRepo) SetStock(ctx context.Context, q sqlx.ExtContext, tenantID, id string, stock int64, now string) (domain.Product, error) {
	var p domain.Product
	err := sqlx.GetContext(ctx, q, &p, `
		UPDATE products SET stock = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ?
		RETURNING `+productCols, stock, now, id, tenantID)
	return p, err
}

// Upsert creates or replaces a product row.
func (r *ProductRepo) Upsert(ctx context.Context, q sqlx.ExtContext, p domain.Product) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO products(id, tenant_id, name, price, cost, stock, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  tenant_id = excluded.tenant_id, name = excluded.name, price = excluded.price,
		  cost = excluded.cost, stock = excluded.stock, updated_at = excluded.updated_at
	`, p.ID, p.TenantID, p.Name, int64(p.Price), int64(p.Cost), p.Stock, p.UpdatedAt)
	return err
}
