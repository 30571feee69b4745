package repos

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"offlinepos/internal/domain"
	"offlinepos/internal/ledger"
)

type MaterialRepo struct{ db *sqlx.DB }

func NewMaterialRepo(db *sqlx.DB) *MaterialRepo { return &MaterialRepo{db: db} }

const materialCols = `id, tenant_id, name, unit, stock, min_stock, updated_at`

func (r *MaterialRepo) Get(ctx context.Context, id string) (domain.Material, error) {
	var m domain.Material
	err := r.db.GetContext(ctx, &m, `SELECT `+materialCols+` FROM materials WHERE id = ?`, id)
	return m, err
}

func (r *MaterialRepo) GetMany(ctx context.Context, q sqlx.ExtContext, ids []string) (map[string]domain.Material, error) {
	out := make(map[string]domain.Material, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT `+materialCols+` FROM materials WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var rows []domain.Material
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, m := range rows {
		out[m.ID] = m
	}
	return out, nil
}

func (r *MaterialRepo) ListByTenant(ctx context.Context, tenantID string) ([]domain.Material, error) {
	var out []domain.Material
	err := r.db.SelectContext(ctx, &out, `SELECT `+materialCols+` FROM materials WHERE tenant_id = ? ORDER BY name`, tenantID)
	return out, err
}

// Low lists materials that have a threshold and sit at or below it.
func (r *MaterialRepo) Low(ctx context.Context, tenantID string) ([]domain.Material, error) {
	var out []domain.Material
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+materialCols+` FROM materials
		WHERE tenant_id = ? AND min_stock IS NOT NULL AND stock <= min_stock
		ORDER BY name`, tenantID)
	return out, err
}

// Decrement consumes by only if the result stays non-negative. ok is false
// when stock is insufficient.
func (r *MaterialRepo) Decrement(ctx context.Context, q sqlx.ExtContext, tenantID, id string, by ledger.Qty, now string) (m domain.Material, ok bool, err error) {
	err = sqlx.GetContext(ctx, q, &m, `
		UPDATE materials
		SET stock = stock - ?, updated_at = ?
		WHERE id = ? AND tenant_id = ? AND stock >= ?
		RETURNING `+materialCols, int64(by), now, id, tenantID, int64(by))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Material{}, false, nil
	}
	if err != nil {
		return domain.Material{}, false, err
	}
	return m, true, nil
}

// Adjust adds delta (which may be negative) to stock. ok is false when the
// row is missing or when the result would be negative.
func (r *MaterialRepo) Adjust(ctx context.Context, q sqlx.ExtContext, tenantID, id string, delta ledger.Qty, now string) (m domain.Material, ok bool, err error) {
	err = sqlx.GetContext(ctx, q, &m, `
		UPDATE materials
		SET stock = stock + ?, updated_at = ?
		WHERE id = ? AND tenant_id = ? AND stock + ? >= 0
		RETURNING `+materialCols, int64(delta), now, id, tenantID, int64(delta))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Material{}, false, nil
	}
	if err != nil {
		return domain.Material{}, false, err
	}
	return m, true, nil
}

func (r *MaterialRepo) Upsert(ctx context.Context, q sqlx.ExtContext, m domain.Material) error {
	var min any
	if m.MinStock != nil {
		min = int64(*m.MinStock)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO materials(id, tenant_id, name, unit, stock, min_stock, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  tenant_id = excluded.tenant_id, name = excluded.name, unit = excluded.unit,
		  stock = excluded.stock, min_stock = excluded.min_stock, updated_at = excluded.updated_at
	`, m.ID, m.TenantID, m.Name, m.Unit, int64(m.Stock), min, m.UpdatedAt)
	return err
}
