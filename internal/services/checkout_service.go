package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"offlinepos/internal/domain"
	"offlinepos/internal/ledger"
	"offlinepos/internal/money"
	"offlinepos/internal/repos"
	"offlinepos/internal/syncq"
	"offlinepos/internal/telemetry"
	"offlinepos/internal/validate"
)

const opCheckout = "checkout"

// Notifier is told that new work was queued. Implementations must not block.
type Notifier interface {
	Trigger()
}

// CheckoutRequest is everything the till hands over for one sale.
type CheckoutRequest struct {
	Actor         *domain.Actor
	Items         []domain.CartItem
	Discount      money.Amount
	Tax           money.Amount
	PaymentMethod string
	ShiftID       string
	DiscountID    string
}

type CheckoutService struct {
	DB           *sqlx.DB
	Products     *repos.ProductRepo
	Materials    *repos.MaterialRepo
	Recipes      *repos.RecipeRepo
	Transactions *repos.TransactionRepo
	Queue        *repos.QueueRepo
	Notify       Notifier
	MaxTotal     money.Amount
	Now          func() time.Time

	completed metric.Int64Counter
}

func NewCheckoutService(db *sqlx.DB, notify Notifier, maxTotal money.Amount) *CheckoutService {
	return &CheckoutService{
		DB:           db,
		Products:     repos.NewProductRepo(db),
		Materials:    repos.NewMaterialRepo(db),
		Recipes:      repos.NewRecipeRepo(db),
		Transactions: repos.NewTransactionRepo(db),
		Queue:        repos.NewQueueRepo(db),
		Notify:       notify,
		MaxTotal:     maxTotal,
		Now:          time.Now,
		completed:    telemetry.Counter(telemetry.CheckoutCompleted),
	}
}

type totals struct {
	subtotal, total money.Amount
}

// Checkout turns the cart into one committed transaction plus its stock
// mutations and queued sync operations, or into a typed *domain.Error with
// nothing applied.
func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (*domain.Transaction, error) {
	ctx, span := telemetry.Tracer().Start(ctx, opCheckout)
	defer span.End()

	t, err := s.checkout(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindOf(err)))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("transaction.id", t.ID),
		attribute.Int("transaction.lines", len(t.Items)),
		attribute.Int64("transaction.total", int64(t.Total)),
	)
	if s.completed != nil {
		s.completed.Add(ctx, 1)
	}
	if s.Notify != nil {
		s.Notify.Trigger()
	}
	return t, nil
}

func (s *CheckoutService) checkout(ctx context.Context, req CheckoutRequest) (*domain.Transaction, error) {
	if !req.Actor.Valid() {
		return nil, domain.AuthenticationError(opCheckout, "sign in to record sales")
	}
	if len(req.Items) == 0 {
		return nil, domain.InvariantViolationError(opCheckout, "cart is empty")
	}
	method, ok := validate.PaymentMethod(req.PaymentMethod)
	if !ok {
		return nil, domain.InvariantViolationError(opCheckout, "unsupported payment method")
	}
	req.PaymentMethod = method

	tot, lines, err := s.price(req)
	if err != nil {
		return nil, err
	}

	productIDs := make([]string, 0, len(lines))
	for _, l := range lines {
		productIDs = append(productIDs, l.ProductID)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, domain.PersistenceError(opCheckout, err)
	}
	now := s.now()
	t := &domain.Transaction{
		ID:            id.String(),
		TenantID:      req.Actor.TenantID,
		BranchID:      req.Actor.BranchID,
		UserID:        req.Actor.UserID,
		ShiftID:       req.ShiftID,
		DiscountID:    req.DiscountID,
		Subtotal:      tot.subtotal,
		Discount:      req.Discount,
		Tax:           req.Tax,
		Total:         tot.total,
		PaymentMethod: req.PaymentMethod,
		CreatedAt:     now,
	}

	// The commit runs to completion once started.
	commitCtx := context.WithoutCancel(ctx)
	err = repos.WithTx(commitCtx, s.DB, func(tx *sqlx.Tx) error {
		// Recipes are read in the same unit of work as the decrements.
		recipes, err := s.Recipes.ForProducts(commitCtx, tx, productIDs)
		if err != nil {
			return err
		}
		return s.apply(commitCtx, tx, t, req, lines, recipes, now)
	})
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return nil, de
		}
		return nil, domain.PersistenceError(opCheckout, err)
	}
	return t, nil
}

// price validates the cart lines and computes subtotal and total.
func (s *CheckoutService) price(req CheckoutRequest) (totals, []ledger.Line, error) {
	var tot totals
	lines := make([]ledger.Line, 0, len(req.Items))
	for _, it := range req.Items {
		if _, ok := validate.ID(it.ProductID); !ok {
			return tot, nil, domain.InvariantViolationError(opCheckout, "invalid product id")
		}
		if !validate.Quantity(it.Quantity) {
			return tot, nil, domain.InvariantViolationError(opCheckout, "quantity for "+it.ProductID+" is out of range")
		}
		if it.UnitPrice < 0 {
			return tot, nil, domain.InvariantViolationError(opCheckout, "negative price for "+it.ProductID)
		}
		lt, err := it.LineTotal()
		if err != nil {
			return tot, nil, domain.InvariantViolationError(opCheckout, "line total out of range")
		}
		if tot.subtotal, err = tot.subtotal.Add(lt); err != nil {
			return tot, nil, domain.InvariantViolationError(opCheckout, "subtotal out of range")
		}
		lines = append(lines, ledger.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	if req.Discount < 0 || req.Tax < 0 {
		return tot, nil, domain.InvariantViolationError(opCheckout, "discount and tax must not be negative")
	}
	total, err := tot.subtotal.Add(req.Tax)
	if err == nil {
		total, err = total.Sub(req.Discount)
	}
	if err != nil {
		return tot, nil, domain.InvariantViolationError(opCheckout, "total out of range")
	}
	if total <= 0 {
		return tot, nil, domain.InvariantViolationError(opCheckout, "total must be greater than zero")
	}
	if s.MaxTotal > 0 && total >= s.MaxTotal {
		return tot, nil, domain.InvariantViolationError(opCheckout, "total exceeds the allowed maximum")
	}
	tot.total = total
	return tot, lines, nil
}

// apply runs inside the unit of work. Any returned error rolls back every
// write made through tx.
func (s *CheckoutService) apply(ctx context.Context, tx *sqlx.Tx, t *domain.Transaction, req CheckoutRequest, lines []ledger.Line, recipes ledger.Recipes, now time.Time) error {
	stamp := repos.Timestamp(now)

	needs, err := ledger.ProductDemand(lines)
	if err != nil {
		return domain.InvariantViolationError(opCheckout, err.Error())
	}
	ids := make([]string, 0, len(needs))
	for _, n := range needs {
		ids = append(ids, n.ProductID)
	}
	products, err := s.Products.GetMany(ctx, tx, ids)
	if err != nil {
		return err
	}
	// Tenant ownership is checked for every line before the first write.
	for _, n := range needs {
		p, ok := products[n.ProductID]
		if !ok || p.TenantID != t.TenantID {
			return domain.TenantMismatchError(opCheckout, n.ProductID)
		}
	}

	var touched []syncq.Payload
	for _, n := range needs {
		p := products[n.ProductID]
		after, ok, err := s.Products.DecrementStock(ctx, tx, t.TenantID, p.ID, n.Quantity, stamp)
		if err != nil {
			return err
		}
		if !ok {
			return domain.InsufficientStockError(opCheckout, domain.Shortfall{
				Entity: "product", ID: p.ID, Name: p.Name,
				Available: ledger.Units(p.Stock), Required: ledger.Units(n.Quantity),
			})
		}
		touched = append(touched, syncq.ProductPayload{Product: after})
	}

	mneeds, err := ledger.MaterialDemand(lines, recipes)
	if err != nil {
		return domain.InvariantViolationError(opCheckout, err.Error())
	}
	if len(mneeds) > 0 {
		mids := make([]string, 0, len(mneeds))
		for _, n := range mneeds {
			mids = append(mids, n.MaterialID)
		}
		materials, err := s.Materials.GetMany(ctx, tx, mids)
		if err != nil {
			return err
		}
		for _, n := range mneeds {
			m, found := materials[n.MaterialID]
			if !found || m.TenantID != t.TenantID {
				return domain.TenantMismatchError(opCheckout, n.MaterialID)
			}
			after, ok, err := s.Materials.Decrement(ctx, tx, t.TenantID, m.ID, n.Required, stamp)
			if err != nil {
				return err
			}
			if !ok {
				return domain.InsufficientStockError(opCheckout, domain.Shortfall{
					Entity: "material", ID: m.ID, Name: m.Name,
					Available: m.Stock, Required: n.Required,
				})
			}
			touched = append(touched, syncq.MaterialPayload{Material: after})
		}
	}

	t.Items = make([]domain.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		p := products[it.ProductID]
		lt, _ := it.LineTotal()
		t.Items = append(t.Items, domain.LineItem{
			ProductID: it.ProductID, Name: p.Name,
			UnitPrice: it.UnitPrice, UnitCost: p.Cost,
			Quantity: it.Quantity, LineTotal: lt,
		})
	}
	if err := s.Transactions.Insert(ctx, tx, *t); err != nil {
		return err
	}

	if _, err := s.Queue.Enqueue(ctx, tx, syncq.Insert, syncq.TransactionPayload{Transaction: *t}, now); err != nil {
		return err
	}
	for _, p := range touched {
		if _, err := s.Queue.Enqueue(ctx, tx, syncq.Update, p, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *CheckoutService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Transaction loads a committed transaction scoped to actor's tenant.
func (s *CheckoutService) Transaction(ctx context.Context, actor *domain.Actor, id string) (*domain.Transaction, error) {
	if !actor.Valid() {
		return nil, domain.AuthenticationError("transaction.get", "sign in to view sales")
	}
	t, err := s.Transactions.Get(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.PersistenceError("transaction.get", err)
	}
	if t.TenantID != actor.TenantID {
		return nil, nil
	}
	return &t, nil
}
