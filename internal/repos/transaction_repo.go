package repos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"offlinepos/internal/domain"
	"offlinepos/internal/money"
)

type TransactionRepo struct{ db *sqlx.DB }

func NewTransactionRepo(db *sqlx.DB) *TransactionRepo { return &TransactionRepo{db: db} }

type transactionRow struct {
	ID            string `db:"id"`
	TenantID      string `db:"tenant_id"`
	BranchID      string `db:"branch_id"`
	UserID        string `db:"user_id"`
	ShiftID       string `db:"shift_id"`
	DiscountID    string `db:"discount_id"`
	Subtotal      int64  `db:"subtotal"`
	Discount      int64  `db:"discount"`
	Tax           int64  `db:"tax"`
	Total         int64  `db:"total"`
	PaymentMethod string `db:"payment_method"`
	CreatedAt     string `db:"created_at"`
}

type lineRow struct {
	ProductID string `db:"product_id"`
	Name      string `db:"name"`
	UnitPrice int64  `db:"unit_price"`
	UnitCost  int64  `db:"unit_cost"`
	Quantity  int64  `db:"quantity"`
	LineTotal int64  `db:"line_total"`
}

const transactionCols = `id, tenant_id, branch_id, user_id, shift_id, discount_id, subtotal, discount, tax, total, payment_method, created_at`

// Insert writes the header and every line through q.
func (r *TransactionRepo) Insert(ctx context.Context, q sqlx.ExtContext, t domain.Transaction) error {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO transactions(`+transactionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TenantID, t.BranchID, t.UserID, t.ShiftID, t.DiscountID,
		int64(t.Subtotal), int64(t.Discount), int64(t.Tax), int64(t.Total),
		t.PaymentMethod, Timestamp(t.CreatedAt)); err != nil {
		return err
	}
	for i, it := range t.Items {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO transaction_items(transaction_id, line_no, product_id, name, unit_price, unit_cost, quantity, line_total)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, i+1, it.ProductID, it.Name, int64(it.UnitPrice), int64(it.UnitCost), it.Quantity, int64(it.LineTotal)); err != nil {
			return err
		}
	}
	return nil
}

func (r *TransactionRepo) Get(ctx context.Context, id string) (domain.Transaction, error) {
	var row transactionRow
	if err := r.db.GetContext(ctx, &row, `SELECT `+transactionCols+` FROM transactions WHERE id = ?`, id); err != nil {
		return domain.Transaction{}, err
	}
	var lines []lineRow
	if err := r.db.SelectContext(ctx, &lines, `
		SELECT product_id, name, unit_price, unit_cost, quantity, line_total
		FROM transaction_items WHERE transaction_id = ? ORDER BY line_no`, id); err != nil {
		return domain.Transaction{}, err
	}
	return row.toDomain(lines)
}

// ListByTenant returns the newest headers first, without line items.
func (r *TransactionRepo) ListByTenant(ctx context.Context, tenantID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []transactionRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT `+transactionCols+` FROM transactions
		WHERE tenant_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, tenantID, limit); err != nil {
		return nil, err
	}
	out := make([]domain.Transaction, 0, len(rows))
	for _, row := range rows {
		t, err := row.toDomain(nil)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *TransactionRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM transactions`)
	return n, err
}

func (row transactionRow) toDomain(lines []lineRow) (domain.Transaction, error) {
	created, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
	if err != nil {
		return domain.Transaction{}, err
	}
	t := domain.Transaction{
		ID: row.ID, TenantID: row.TenantID, BranchID: row.BranchID, UserID: row.UserID,
		ShiftID: row.ShiftID, DiscountID: row.DiscountID,
		Subtotal: money.Amount(row.Subtotal), Discount: money.Amount(row.Discount),
		Tax: money.Amount(row.Tax), Total: money.Amount(row.Total),
		PaymentMethod: row.PaymentMethod, CreatedAt: created.UTC(),
	}
	for _, l := range lines {
		t.Items = append(t.Items, domain.LineItem{
			ProductID: l.ProductID, Name: l.Name,
			UnitPrice: money.Amount(l.UnitPrice), UnitCost: money.Amount(l.UnitCost),
			Quantity: l.Quantity, LineTotal: money.Amount(l.LineTotal),
		})
	}
	return t, nil
}
