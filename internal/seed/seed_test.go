package seed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"offlinepos/internal/ledger"
	"offlinepos/internal/repos"
)

func TestImportCatalog(t *testing.T) {
	db, err := repos.OpenDB(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	c, err := Load("testdata/catalog.yaml")
	require.NoError(t, err)

	sum, err := Import(ctx, db, c, time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, Summary{Products: 3, Materials: 3, Recipes: 2, Users: 1, Queued: 6}, sum)

	milk, err := repos.NewMaterialRepo(db).Get(ctx, "m-milk")
	require.NoError(t, err)
	require.Equal(t, ledger.Qty(8000500), milk.Stock)
	require.Nil(t, milk.MinStock)

	rec, err := repos.NewRecipeRepo(db).ForProducts(ctx, db, []string{"p-caramel"})
	require.NoError(t, err)
	require.Len(t, rec["p-caramel"], 3)
	require.Equal(t, "m-caramel", rec["p-caramel"][2].MaterialID)
	require.Equal(t, ledger.Units(30), rec["p-caramel"][2].PerUnit)

	u, err := repos.NewUserRepo(db).ByEmail(ctx, "ana@kopi.test")
	require.NoError(t, err)
	require.Equal(t, "CASHIER", u.Role)
	require.Equal(t, "t-kopi", u.TenantID)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.Hash), []byte("Secr3t!pass")))

	n, err := repos.NewQueueRepo(db).Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 6, n)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":    "tenant: t-1\nproduct: []\n",
		"missing tenant":   "products: []\n",
		"unknown material": "tenant: t-1\nproducts: [{id: p-1, name: A, price: 1}]\nrecipes: {p-1: [{material: m-x, qty: 1}]}\n",
		"bad role":         "tenant: t-1\nusers: [{email: a@b.co, name: A, role: OWNER, password: x}]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}
