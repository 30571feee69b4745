package handlers

import (
	"offlinepos/internal/domain"
	applog "offlinepos/internal/log"
	"offlinepos/internal/money"
	"offlinepos/internal/services"
	"offlinepos/internal/validate"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/text/language"
)

var displayLanguages = language.NewMatcher([]language.Tag{
	language.English, language.Indonesian, language.German, language.French,
})

type CheckoutHandler struct {
	Checkout *services.CheckoutService
	Scale    int
}

type checkoutRequest struct {
	Items         []domain.CartItem `json:"items"`
	Discount      money.Amount      `json:"discount"`
	Tax           money.Amount      `json:"tax"`
	PaymentMethod string            `json:"payment_method"`
	ShiftID       string            `json:"shift_id"`
	DiscountID    string            `json:"discount_id"`
}

type receipt struct {
	*domain.Transaction
	Display map[string]string `json:"display"`
}

func (h *CheckoutHandler) display(c *fiber.Ctx, t *domain.Transaction) receipt {
	tag, _ := language.MatchStrings(displayLanguages, c.Get(fiber.HeaderAcceptLanguage))
	return receipt{Transaction: t, Display: map[string]string{
		"subtotal": t.Subtotal.Display(tag, h.Scale),
		"discount": t.Discount.Display(tag, h.Scale),
		"tax":      t.Tax.Display(tag, h.Scale),
		"total":    t.Total.Display(tag, h.Scale),
	}}
}

// Create runs one checkout for the signed-in actor.
func (h *CheckoutHandler) Create(c *fiber.Ctx) error {
	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "body")
	}
	if len(req.Items) > 200 {
		return badRequest(c, "items")
	}
	for _, id := range []string{req.ShiftID, req.DiscountID} {
		if id == "" {
			continue
		}
		if _, ok := validate.ID(id); !ok {
			return badRequest(c, "reference")
		}
	}

	t, err := h.Checkout.Checkout(c.UserContext(), services.CheckoutRequest{
		Actor:         actorOf(c),
		Items:         req.Items,
		Discount:      req.Discount,
		Tax:           req.Tax,
		PaymentMethod: req.PaymentMethod,
		ShiftID:       req.ShiftID,
		DiscountID:    req.DiscountID,
	})
	if err != nil {
		return writeError(c, err)
	}
	applog.Audit(c, "checkout.commit", map[string]any{
		"transaction_id": t.ID, "total": int64(t.Total), "lines": len(t.Items), "payment_method": t.PaymentMethod,
	})
	return c.Status(fiber.StatusCreated).JSON(h.display(c, t))
}

func (h *CheckoutHandler) Get(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "id")
	}
	t, err := h.Checkout.Transaction(c.UserContext(), actorOf(c), id)
	if err != nil {
		return writeError(c, err)
	}
	if t == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": fiber.Map{"kind": "not_found", "message": "Transaction not found"}})
	}
	return c.JSON(h.display(c, t))
}
