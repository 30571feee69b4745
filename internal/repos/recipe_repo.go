package repos

import (
	"context"

	"github.com/jmoiron/sqlx"

	"offlinepos/internal/domain"
	"offlinepos/internal/ledger"
)

type RecipeRepo struct{ db *sqlx.DB }

func NewRecipeRepo(db *sqlx.DB) *RecipeRepo { return &RecipeRepo{db: db} }

// ForProducts returns the recipes of the given products. Products without a
// recipe have no entry.
func (r *RecipeRepo) ForProducts(ctx context.Context, q sqlx.ExtContext, productIDs []string) (ledger.Recipes, error) {
	out := ledger.Recipes{}
	if len(productIDs) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`
		SELECT product_id, material_id, qty_per_unit, position
		FROM recipes
		WHERE product_id IN (?)
		ORDER BY product_id, position, material_id`, productIDs)
	if err != nil {
		return nil, err
	}
	var rows []domain.RecipeLine
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, l := range rows {
		out[l.ProductID] = append(out[l.ProductID], ledger.RecipeLine{MaterialID: l.MaterialID, PerUnit: l.PerUnit})
	}
	return out, nil
}

// Replace sets the full recipe of a product.
func (r *RecipeRepo) Replace(ctx context.Context, q sqlx.ExtContext, productID string, lines []ledger.RecipeLine) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM recipes WHERE product_id = ?`, productID); err != nil {
		return err
	}
	for i, l := range lines {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO recipes(product_id, material_id, qty_per_unit, position)
			VALUES (?, ?, ?, ?)`, productID, l.MaterialID, int64(l.PerUnit), i); err != nil {
			return err
		}
	}
	return nil
}
