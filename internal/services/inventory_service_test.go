package services_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"offlinepos/internal/domain"
	"offlinepos/internal/ledger"
	"offlinepos/internal/repos"
	"offlinepos/internal/services"
	"offlinepos/internal/syncq"
)

func TestLowStock_OnlyThresholdedMaterials(t *testing.T) {
	db, _, _ := newShop(t)
	inv := services.NewInventoryService(db, nil)

	low, err := inv.LowStock(context.Background(), cashier)
	require.NoError(t, err)
	require.Len(t, low, 1)
	require.Equal(t, "Caramel Sauce", low[0].Name)

	_, err = inv.LowStock(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrAuthentication)
}

func TestRestockMaterial_QueuesUpdate(t *testing.T) {
	db, _, _ := newShop(t)
	notify := &countingNotifier{}
	inv := services.NewInventoryService(db, notify)
	ctx := context.Background()

	m, err := inv.RestockMaterial(ctx, cashier, "m-caramel", ledger.QtyFromFloat(250.5))
	require.NoError(t, err)
	require.Equal(t, ledger.Qty(250500), m.Stock)
	require.EqualValues(t, 1, notify.n.Load())

	ops, err := repos.NewQueueRepo(db).List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, syncq.Update, ops[0].Kind)
	require.Equal(t, "m-caramel", ops[0].Payload.RecordID())

	low, err := inv.LowStock(ctx, cashier)
	require.NoError(t, err)
	require.Empty(t, low)
}

func TestRestockMaterial_Rejects(t *testing.T) {
	db, _, _ := newShop(t)
	inv := services.NewInventoryService(db, nil)
	ctx := context.Background()

	_, err := inv.RestockMaterial(ctx, cashier, "m-milk", ledger.Units(-5001))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = inv.RestockMaterial(ctx, &domain.Actor{UserID: "u-9", TenantID: "t-2"}, "m-milk", ledger.Units(1))
	require.ErrorIs(t, err, domain.ErrTenantMismatch)

	_, err = inv.RestockMaterial(ctx, cashier, "m-milk", 0)
	require.ErrorIs(t, err, domain.ErrInvariantViolation)

	n, err := repos.NewQueueRepo(db).Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, ledger.Units(5000), materialOf(t, db, "m-milk"))
}

func TestRestockMaterial_RejectsOutOfRangeQuantities(t *testing.T) {
	db, _, _ := newShop(t)
	inv := services.NewInventoryService(db, nil)
	ctx := context.Background()

	for _, q := range []ledger.Qty{math.MaxInt64, math.MinInt64, ledger.Units(1_000_001)} {
		_, err := inv.RestockMaterial(ctx, cashier, "m-milk", q)
		require.ErrorIs(t, err, domain.ErrInvariantViolation, "quantity %d", q)
	}

	near := ledger.Qty(math.MaxInt64 - 10)
	require.NoError(t, repos.NewMaterialRepo(db).Upsert(ctx, db, domain.Material{
		ID: "m-sugar", TenantID: "t-1", Name: "Sugar", Unit: "g", Stock: near,
	}))
	_, err := inv.RestockMaterial(ctx, cashier, "m-sugar", ledger.Units(1))
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
	require.Equal(t, near, materialOf(t, db, "m-sugar"))

	n, err := repos.NewQueueRepo(db).Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, ledger.Units(5000), materialOf(t, db, "m-milk"))
}

func TestSetProductStock(t *testing.T) {
	db, _, _ := newShop(t)
	inv := services.NewInventoryService(db, nil)
	ctx := context.Background()

	p, err := inv.SetProductStock(ctx, cashier, "p-croissant", 24)
	require.NoError(t, err)
	require.EqualValues(t, 24, p.Stock)
	require.EqualValues(t, 24, stockOf(t, db, "p-croissant"))

	_, err = inv.SetProductStock(ctx, cashier, "p-foreign", 1)
	require.ErrorIs(t, err, domain.ErrTenantMismatch)
	require.EqualValues(t, 9, stockOf(t, db, "p-foreign"))

	_, err = inv.SetProductStock(ctx, cashier, "p-croissant", -1)
	require.ErrorIs(t, err, domain.ErrInvariantViolation)

	ops, err := repos.NewQueueRepo(db).List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
}
