package services_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"offlinepos/internal/domain"
	"offlinepos/internal/ledger"
	"offlinepos/internal/money"
	"offlinepos/internal/repos"
	"offlinepos/internal/services"
	"offlinepos/internal/syncq"
)

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) Trigger() { c.n.Add(1) }

var cashier = &domain.Actor{UserID: "u-1", TenantID: "t-1", BranchID: "b-1", Name: "Ana", Role: "CASHIER"}

func qtyPtr(q ledger.Qty) *ledger.Qty { return &q }

// seedShop loads a small coffee shop: espresso and caramel macchiato share
// coffee beans, the caramel sauce is empty, croissants have no recipe.
func seedShop(t *testing.T, db *sqlx.DB) {
	t.Helper()
	ctx := context.Background()
	prods := repos.NewProductRepo(db)
	mats := repos.NewMaterialRepo(db)
	recipes := repos.NewRecipeRepo(db)

	for _, p := range []domain.Product{
		{ID: "p-espresso", TenantID: "t-1", Name: "Espresso", Price: 18000, Cost: 6000, Stock: 10},
		{ID: "p-caramel", TenantID: "t-1", Name: "Caramel Macchiato", Price: 32000, Cost: 11000, Stock: 5},
		{ID: "p-croissant", TenantID: "t-1", Name: "Croissant", Price: 15000, Cost: 5000, Stock: 4},
		{ID: "p-foreign", TenantID: "t-2", Name: "Matcha", Price: 20000, Cost: 7000, Stock: 9},
	} {
		require.NoError(t, prods.Upsert(ctx, db, p))
	}
	for _, m := range []domain.Material{
		{ID: "m-beans", TenantID: "t-1", Name: "Coffee Beans", Unit: "g", Stock: ledger.Units(1000), MinStock: qtyPtr(ledger.Units(200))},
		{ID: "m-milk", TenantID: "t-1", Name: "Milk", Unit: "ml", Stock: ledger.Units(5000)},
		{ID: "m-caramel", TenantID: "t-1", Name: "Caramel Sauce", Unit: "ml", Stock: 0, MinStock: qtyPtr(ledger.Units(100))},
	} {
		require.NoError(t, mats.Upsert(ctx, db, m))
	}
	require.NoError(t, recipes.Replace(ctx, db, "p-espresso", []ledger.RecipeLine{
		{MaterialID: "m-beans", PerUnit: ledger.Units(18)},
	}))
	require.NoError(t, recipes.Replace(ctx, db, "p-caramel", []ledger.RecipeLine{
		{MaterialID: "m-beans", PerUnit: ledger.Units(18)},
		{MaterialID: "m-milk", PerUnit: ledger.Units(150)},
		{MaterialID: "m-caramel", PerUnit: ledger.Units(30)},
	}))
}

func newShop(t *testing.T) (*sqlx.DB, *services.CheckoutService, *countingNotifier) {
	t.Helper()
	db, err := repos.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	seedShop(t, db)
	n := &countingNotifier{}
	return db, services.NewCheckoutService(db, n, 100_000_000), n
}

type snapshot struct {
	products  []domain.Product
	materials []domain.Material
}

func takeSnapshot(t *testing.T, db *sqlx.DB) snapshot {
	t.Helper()
	ctx := context.Background()
	p, err := repos.NewProductRepo(db).ListByTenant(ctx, "t-1")
	require.NoError(t, err)
	m, err := repos.NewMaterialRepo(db).ListByTenant(ctx, "t-1")
	require.NoError(t, err)
	return snapshot{products: p, materials: m}
}

func stockOf(t *testing.T, db *sqlx.DB, id string) int64 {
	t.Helper()
	p, err := repos.NewProductRepo(db).Get(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func materialOf(t *testing.T, db *sqlx.DB, id string) ledger.Qty {
	t.Helper()
	m, err := repos.NewMaterialRepo(db).Get(context.Background(), id)
	require.NoError(t, err)
	return m.Stock
}

func espresso(qty int64) domain.CartItem {
	return domain.CartItem{ProductID: "p-espresso", Quantity: qty, UnitPrice: 18000}
}

func TestCheckout_Espresso(t *testing.T) {
	db, svc, notify := newShop(t)
	ctx := context.Background()

	tx, err := svc.Checkout(ctx, services.CheckoutRequest{
		Actor: cashier, Items: []domain.CartItem{espresso(2)}, Tax: 3600, PaymentMethod: "cash",
	})
	require.NoError(t, err)
	require.Equal(t, money.Amount(36000), tx.Subtotal)
	require.Equal(t, money.Amount(39600), tx.Total)
	require.Len(t, tx.Items, 1)
	require.Equal(t, "Espresso", tx.Items[0].Name)
	require.Equal(t, money.Amount(6000), tx.Items[0].UnitCost)

	require.EqualValues(t, 8, stockOf(t, db, "p-espresso"))
	require.Equal(t, ledger.Units(964), materialOf(t, db, "m-beans"))
	require.EqualValues(t, 1, notify.n.Load())

	stored, err := repos.NewTransactionRepo(db).Get(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, *tx, stored)

	ops, err := repos.NewQueueRepo(db).List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	require.Equal(t, syncq.TableTransactions, ops[0].Table)
	require.Equal(t, syncq.Insert, ops[0].Kind)
	require.Equal(t, tx.ID, ops[0].Payload.RecordID())

	prod, ok := ops[1].Payload.(syncq.ProductPayload)
	require.True(t, ok)
	require.Equal(t, syncq.Update, ops[1].Kind)
	require.EqualValues(t, 8, prod.Stock)

	mat, ok := ops[2].Payload.(syncq.MaterialPayload)
	require.True(t, ok)
	require.Equal(t, ledger.Units(964), mat.Stock)
}

func TestCheckout_AggregatesAcrossLines(t *testing.T) {
	db, svc, _ := newShop(t)

	tx, err := svc.Checkout(context.Background(), services.CheckoutRequest{
		Actor: cashier,
		Items: []domain.CartItem{
			espresso(1),
			{ProductID: "p-croissant", Quantity: 2, UnitPrice: 15000},
			espresso(2),
		},
		PaymentMethod: "card",
	})
	require.NoError(t, err)
	require.Len(t, tx.Items, 3, "line items keep the cart's shape")
	require.Equal(t, money.Amount(84000), tx.Total)

	require.EqualValues(t, 7, stockOf(t, db, "p-espresso"))
	require.EqualValues(t, 2, stockOf(t, db, "p-croissant"))
	require.Equal(t, ledger.Units(1000-3*18), materialOf(t, db, "m-beans"))
}

func TestCheckout_MaterialShortfallChangesNothing(t *testing.T) {
	db, svc, notify := newShop(t)
	ctx := context.Background()
	before := takeSnapshot(t, db)

	_, err := svc.Checkout(ctx, services.CheckoutRequest{
		Actor:         cashier,
		Items:         []domain.CartItem{espresso(1), {ProductID: "p-caramel", Quantity: 1, UnitPrice: 32000}},
		PaymentMethod: "cash",
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	var de *domain.Error
	require.True(t, errors.As(err, &de))
	require.NotNil(t, de.Shortfall)
	require.Equal(t, "material", de.Shortfall.Entity)
	require.Equal(t, "Caramel Sauce", de.Shortfall.Name)
	require.Equal(t, ledger.Qty(0), de.Shortfall.Available)
	require.Equal(t, ledger.Units(30), de.Shortfall.Required)
	require.Equal(t, domain.RecoverRemoveItem, de.Recovery())
	require.False(t, de.Retryable())

	require.Equal(t, before, takeSnapshot(t, db))
	n, err := repos.NewQueueRepo(db).Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	n, err = repos.NewTransactionRepo(db).Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, notify.n.Load())
}

func TestCheckout_ProductShortfall(t *testing.T) {
	db, svc, _ := newShop(t)
	before := takeSnapshot(t, db)

	_, err := svc.Checkout(context.Background(), services.CheckoutRequest{
		Actor:         cashier,
		Items:         []domain.CartItem{espresso(1), {ProductID: "p-croissant", Quantity: 5, UnitPrice: 15000}},
		PaymentMethod: "cash",
	})
	var de *domain.Error
	require.True(t, errors.As(err, &de))
	require.Equal(t, domain.KindInsufficientStock, de.Kind)
	require.Equal(t, "product", de.Shortfall.Entity)
	require.Equal(t, ledger.Units(4), de.Shortfall.Available)
	require.Equal(t, ledger.Units(5), de.Shortfall.Required)
	require.Equal(t, before, takeSnapshot(t, db))
}

func TestCheckout_TenantMismatch(t *testing.T) {
	db, svc, _ := newShop(t)
	before := takeSnapshot(t, db)

	for _, id := range []string{"p-foreign", "p-missing"} {
		_, err := svc.Checkout(context.Background(), services.CheckoutRequest{
			Actor:         cashier,
			Items:         []domain.CartItem{espresso(1), {ProductID: id, Quantity: 1, UnitPrice: 20000}},
			PaymentMethod: "cash",
		})
		require.ErrorIs(t, err, domain.ErrTenantMismatch, id)
		require.Equal(t, domain.RecoverRefresh, err.(*domain.Error).Recovery())
	}
	require.Equal(t, before, takeSnapshot(t, db))
	require.EqualValues(t, 9, stockOf(t, db, "p-foreign"))
}

func TestCheckout_RejectsBeforeMutation(t *testing.T) {
	db, _, _ := newShop(t)
	svc := services.NewCheckoutService(db, nil, 50_000)
	before := takeSnapshot(t, db)

	cases := []struct {
		name string
		req  services.CheckoutRequest
		kind domain.Kind
	}{
		{"no actor", services.CheckoutRequest{Items: []domain.CartItem{espresso(1)}, PaymentMethod: "cash"}, domain.KindAuthentication},
		{"actor without tenant", services.CheckoutRequest{Actor: &domain.Actor{UserID: "u-1"}, Items: []domain.CartItem{espresso(1)}, PaymentMethod: "cash"}, domain.KindAuthentication},
		{"empty cart", services.CheckoutRequest{Actor: cashier, PaymentMethod: "cash"}, domain.KindInvariantViolation},
		{"zero total", services.CheckoutRequest{Actor: cashier, Items: []domain.CartItem{espresso(1)}, Discount: 18000, PaymentMethod: "cash"}, domain.KindInvariantViolation},
		{"negative total", services.CheckoutRequest{Actor: cashier, Items: []domain.CartItem{espresso(1)}, Discount: 20000, PaymentMethod: "cash"}, domain.KindInvariantViolation},
		{"at maximum", services.CheckoutRequest{Actor: cashier, Items: []domain.CartItem{{ProductID: "p-espresso", Quantity: 1, UnitPrice: 50_000}}, PaymentMethod: "cash"}, domain.KindInvariantViolation},
		{"zero quantity", services.CheckoutRequest{Actor: cashier, Items: []domain.CartItem{espresso(0)}, PaymentMethod: "cash"}, domain.KindInvariantViolation},
		{"unknown payment", services.CheckoutRequest{Actor: cashier, Items: []domain.CartItem{espresso(1)}, PaymentMethod: "iou"}, domain.KindInvariantViolation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Checkout(context.Background(), tc.req)
			require.Error(t, err)
			require.Equal(t, tc.kind, domain.KindOf(err))
		})
	}
	require.Equal(t, before, takeSnapshot(t, db))
}

func TestCheckout_PersistenceFailureIsRetryable(t *testing.T) {
	db, svc, _ := newShop(t)
	require.NoError(t, db.Close())

	_, err := svc.Checkout(context.Background(), services.CheckoutRequest{
		Actor: cashier, Items: []domain.CartItem{espresso(1)}, PaymentMethod: "cash",
	})
	require.ErrorIs(t, err, domain.ErrPersistence)
	require.True(t, err.(*domain.Error).Retryable())
}

func TestCheckout_IDsAreDistinctAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pos.db")
	ctx := context.Background()
	seen := map[string]bool{}

	for round := 0; round < 2; round++ {
		db, err := repos.OpenDB(path)
		require.NoError(t, err)
		if round == 0 {
			seedShop(t, db)
		}
		svc := services.NewCheckoutService(db, nil, 0)
		for i := 0; i < 3; i++ {
			tx, err := svc.Checkout(ctx, services.CheckoutRequest{
				Actor: cashier, Items: []domain.CartItem{espresso(1)}, PaymentMethod: "cash",
			})
			require.NoError(t, err)
			require.False(t, seen[tx.ID], "id %s reused", tx.ID)
			seen[tx.ID] = true
		}
		require.NoError(t, db.Close())
	}
	require.Len(t, seen, 6)
}

func TestCheckout_ConcurrentSalesNeverOversell(t *testing.T) {
	db, svc, _ := newShop(t)
	const buyers = 10

	var wg sync.WaitGroup
	var ok, short atomic.Int32
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Checkout(context.Background(), services.CheckoutRequest{
				Actor:         cashier,
				Items:         []domain.CartItem{{ProductID: "p-croissant", Quantity: 1, UnitPrice: 15000}},
				PaymentMethod: "cash",
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				short.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 4, ok.Load())
	require.EqualValues(t, buyers-4, short.Load())
	require.Zero(t, stockOf(t, db, "p-croissant"))
	n, err := repos.NewTransactionRepo(db).Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestTransaction_TenantScoped(t *testing.T) {
	_, svc, _ := newShop(t)
	ctx := context.Background()
	tx, err := svc.Checkout(ctx, services.CheckoutRequest{Actor: cashier, Items: []domain.CartItem{espresso(1)}, PaymentMethod: "cash"})
	require.NoError(t, err)

	got, err := svc.Transaction(ctx, cashier, tx.ID)
	require.NoError(t, err)
	require.Equal(t, tx.ID, got.ID)

	other := &domain.Actor{UserID: "u-9", TenantID: "t-2"}
	got, err = svc.Transaction(ctx, other, tx.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}
