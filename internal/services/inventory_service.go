package services

import (
	"context"
	"math"
	"time"

	"github.com/jmoiron/sqlx"

	"offlinepos/internal/domain"
	"offlinepos/internal/ledger"
	"offlinepos/internal/repos"
	"offlinepos/internal/syncq"
	"offlinepos/internal/validate"
)

type InventoryService struct {
	DB        *sqlx.DB
	Products  *repos.ProductRepo
	Materials *repos.MaterialRepo
	Queue     *repos.QueueRepo
	Notify    Notifier
	Now       func() time.Time
}

func NewInventoryService(db *sqlx.DB, notify Notifier) *InventoryService {
	return &InventoryService{
		DB:        db,
		Products:  repos.NewProductRepo(db),
		Materials: repos.NewMaterialRepo(db),
		Queue:     repos.NewQueueRepo(db),
		Notify:    notify,
		Now:       time.Now,
	}
}

// LowStock lists the tenant's materials at or below their threshold.
// Materials without a threshold never appear.
func (s *InventoryService) LowStock(ctx context.Context, actor *domain.Actor) ([]domain.Material, error) {
	if !actor.Valid() {
		return nil, domain.AuthenticationError("inventory.low_stock", "sign in to view stock")
	}
	out, err := s.Materials.Low(ctx, actor.TenantID)
	if err != nil {
		return nil, domain.PersistenceError("inventory.low_stock", err)
	}
	return out, nil
}

// SetProductStock overwrites a product's stock count and queues the change.
func (s *InventoryService) SetProductStock(ctx context.Context, actor *domain.Actor, productID string, stock int64) (*domain.Product, error) {
	const op = "inventory.set_product_stock"
	if !actor.Valid() {
		return nil, domain.AuthenticationError(op, "sign in to change stock")
	}
	if stock < 0 {
		return nil, domain.InvariantViolationError(op, "stock must not be negative")
	}
	now := s.now()
	var out domain.Product
	err := repos.WithTx(ctx, s.DB, func(tx *sqlx.Tx) error {
		p, err := s.Products.SetStock(ctx, tx, actor.TenantID, productID, stock, repos.Timestamp(now))
		if err != nil {
			return err
		}
		out = p
		_, err = s.Queue.Enqueue(ctx, tx, syncq.Update, syncq.ProductPayload{Product: p}, now)
		return err
	})
	if err != nil {
		return nil, mapNotFound(op, productID, err)
	}
	s.notify()
	return &out, nil
}

// RestockMaterial adds delta (negative for wastage) to a material's stock
// and queues the change. The result may not go below zero.
func (s *InventoryService) RestockMaterial(ctx context.Context, actor *domain.Actor, materialID string, delta ledger.Qty) (*domain.Material, error) {
	const op = "inventory.restock_material"
	if !actor.Valid() {
		return nil, domain.AuthenticationError(op, "sign in to change stock")
	}
	if !validate.Restock(int64(delta)) {
		return nil, domain.InvariantViolationError(op, "quantity must be non-zero and at most 1000000 units")
	}
	now := s.now()
	var out domain.Material
	err := repos.WithTx(ctx, s.DB, func(tx *sqlx.Tx) error {
		before, err := s.Materials.GetMany(ctx, tx, []string{materialID})
		if err != nil {
			return err
		}
		cur, found := before[materialID]
		if !found || cur.TenantID != actor.TenantID {
			return domain.TenantMismatchError(op, materialID)
		}
		if delta > 0 && cur.Stock > math.MaxInt64-delta {
			return domain.InvariantViolationError(op, "stock would exceed the largest storable quantity")
		}
		m, ok, err := s.Materials.Adjust(ctx, tx, actor.TenantID, materialID, delta, repos.Timestamp(now))
		if err != nil {
			return err
		}
		if !ok {
			return domain.InsufficientStockError(op, domain.Shortfall{
				Entity: "material", ID: cur.ID, Name: cur.Name,
				Available: cur.Stock, Required: -delta,
			})
		}
		out = m
		_, err = s.Queue.Enqueue(ctx, tx, syncq.Update, syncq.MaterialPayload{Material: m}, now)
		return err
	})
	if err != nil {
		return nil, mapNotFound(op, materialID, err)
	}
	s.notify()
	return &out, nil
}

func (s *InventoryService) notify() {
	if s.Notify != nil {
		s.Notify.Trigger()
	}
}

func (s *InventoryService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
