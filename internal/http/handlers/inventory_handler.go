package handlers

import (
	"offlinepos/internal/ledger"
	applog "offlinepos/internal/log"
	"offlinepos/internal/services"
	"offlinepos/internal/validate"

	"github.com/gofiber/fiber/v2"
)

type InventoryHandler struct {
	Inv *services.InventoryService
}

func (h *InventoryHandler) LowStock(c *fiber.Ctx) error {
	items, err := h.Inv.LowStock(c.UserContext(), actorOf(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"materials": items, "count": len(items)})
}

type stockRequest struct {
	Stock *int64 `json:"stock"`
}

func (h *InventoryHandler) SetProductStock(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "id")
	}
	var req stockRequest
	if err := c.BodyParser(&req); err != nil || req.Stock == nil {
		return badRequest(c, "stock")
	}
	p, err := h.Inv.SetProductStock(c.UserContext(), actorOf(c), id, *req.Stock)
	if err != nil {
		return writeError(c, err)
	}
	applog.Audit(c, "inventory.product.set", map[string]any{"product_id": id, "stock": p.Stock})
	return c.JSON(p)
}

type restockRequest struct {
	Quantity *ledger.Qty `json:"quantity"`
}

func (h *InventoryHandler) RestockMaterial(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "id")
	}
	var req restockRequest
	if err := c.BodyParser(&req); err != nil || req.Quantity == nil {
		return badRequest(c, "quantity")
	}
	m, err := h.Inv.RestockMaterial(c.UserContext(), actorOf(c), id, *req.Quantity)
	if err != nil {
		return writeError(c, err)
	}
	applog.Audit(c, "inventory.material.restock", map[string]any{"material_id": id, "delta": req.Quantity.String(), "stock": m.Stock.String()})
	return c.JSON(m)
}
