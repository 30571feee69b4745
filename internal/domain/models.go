package domain

import (
	"time"

	"offlinepos/internal/ledger"
	"offlinepos/internal/money"
)

type Product struct {
	ID        string       `db:"id" json:"id"`
	TenantID  string       `db:"tenant_id" json:"tenant_id"`
	Name      string       `db:"name" json:"name"`
	Price     money.Amount `db:"price" json:"price"`
	Cost      money.Amount `db:"cost" json:"cost"`
	Stock     int64        `db:"stock" json:"stock"`
	UpdatedAt string       `db:"updated_at" json:"updated_at,omitempty"`
}

type Material struct {
	ID        string      `db:"id" json:"id"`
	TenantID  string      `db:"tenant_id" json:"tenant_id"`
	Name      string      `db:"name" json:"name"`
	Unit      string      `db:"unit" json:"unit"`
	Stock     ledger.Qty  `db:"stock" json:"stock"`
	MinStock  *ledger.Qty `db:"min_stock" json:"min_stock,omitempty"`
	UpdatedAt string      `db:"updated_at" json:"updated_at,omitempty"`
}

// Low reports whether the material is at or below its threshold. Materials
// without a threshold are never low.
func (m Material) Low() bool {
	return m.MinStock != nil && m.Stock <= *m.MinStock
}

type RecipeLine struct {
	ProductID  string     `db:"product_id"`
	MaterialID string     `db:"material_id"`
	PerUnit    ledger.Qty `db:"qty_per_unit"`
	Position   int        `db:"position"`
}

// CartItem only lives for the duration of one checkout.
type CartItem struct {
	ProductID string       `json:"product_id"`
	Quantity  int64        `json:"quantity"`
	UnitPrice money.Amount `json:"unit_price"`
}

func (c CartItem) LineTotal() (money.Amount, error) { return c.UnitPrice.Mul(c.Quantity) }

type LineItem struct {
	ProductID string       `json:"product_id"`
	Name      string       `json:"name"`
	UnitPrice money.Amount `json:"unit_price"`
	UnitCost  money.Amount `json:"unit_cost"`
	Quantity  int64        `json:"quantity"`
	LineTotal money.Amount `json:"line_total"`
}

// Transaction is immutable once committed.
type Transaction struct {
	ID            string       `json:"id"`
	TenantID      string       `json:"tenant_id"`
	BranchID      string       `json:"branch_id"`
	UserID        string       `json:"user_id"`
	ShiftID       string       `json:"shift_id,omitempty"`
	DiscountID    string       `json:"discount_id,omitempty"`
	Items         []LineItem   `json:"items"`
	Subtotal      money.Amount `json:"subtotal"`
	Discount      money.Amount `json:"discount"`
	Tax           money.Amount `json:"tax"`
	Total         money.Amount `json:"total"`
	PaymentMethod string       `json:"payment_method"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Actor is the authenticated user a mutation is performed for.
type Actor struct {
	UserID   string `db:"id" json:"user_id"`
	TenantID string `db:"tenant_id" json:"tenant_id"`
	BranchID string `db:"branch_id" json:"branch_id"`
	Name     string `db:"name" json:"name"`
	Role     string `db:"role" json:"role"`
}

func (a *Actor) Valid() bool {
	return a != nil && a.UserID != "" && a.TenantID != ""
}

type User struct {
	ID       string `db:"id"`
	TenantID string `db:"tenant_id"`
	BranchID string `db:"branch_id"`
	Email    string `db:"email"`
	Name     string `db:"name"`
	Hash     string `db:"password_hash"`
	Role     string `db:"role"`
}

func (u *User) Actor() *Actor {
	return &Actor{UserID: u.ID, TenantID: u.TenantID, BranchID: u.BranchID, Name: u.Name, Role: u.Role}
}
