package handlers

import (
	"offlinepos/internal/config"
	"offlinepos/internal/repos"
	"offlinepos/internal/services"
	"offlinepos/internal/syncer"

	"github.com/jmoiron/sqlx"
)

type Deps struct {
	AuthSvc          *services.AuthService
	AuthHandler      *AuthHandler
	CheckoutHandler  *CheckoutHandler
	InventoryHandler *InventoryHandler
	SyncHandler      *SyncHandler
}

// NewDeps wires services over db. Local mutations nudge engine after commit.
func NewDeps(db *sqlx.DB, cfg config.Config, engine *syncer.Engine, conn syncer.Connectivity) *Deps {
	authSvc := &services.AuthService{Users: repos.NewUserRepo(db)}
	var notify services.Notifier
	if engine != nil {
		notify = engine
	}
	checkoutSvc := services.NewCheckoutService(db, notify, cfg.MaxTransactionTotal)
	invSvc := services.NewInventoryService(db, notify)

	return &Deps{
		AuthSvc:          authSvc,
		AuthHandler:      &AuthHandler{Auth: authSvc},
		CheckoutHandler:  &CheckoutHandler{Checkout: checkoutSvc, Scale: cfg.CurrencyScale},
		InventoryHandler: &InventoryHandler{Inv: invSvc},
		SyncHandler:      &SyncHandler{Engine: engine, Conn: conn},
	}
}
