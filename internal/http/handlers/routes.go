package handlers

import (
	"io"
	"time"

	applog "offlinepos/internal/log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/utils"
)

// NewApp builds the JSON API used by the till UI. Access lines go to
// access when it is non-nil.
func NewApp(d *Deps, access io.Writer) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20, // 1 MiB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				code = fe.Code
			}
			if code >= fiber.StatusInternalServerError {
				applog.Error(c, "server.error", err, nil)
				return c.Status(code).JSON(fiber.Map{"error": fiber.Map{"kind": "internal", "message": "Something went wrong. Please try again."}})
			}
			return c.Status(code).JSON(fiber.Map{"error": fiber.Map{"kind": "request", "message": utils.StatusMessage(code)}})
		},
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	if access != nil {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
			Output: access,
		}))
	}
	app.Use(helmet.New())

	app.Get("/healthz", d.SyncHandler.Health)

	api := app.Group("/api/v1")
	api.Post("/login", limiter.New(limiter.Config{
		Max:        5,
		Expiration: 10 * time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.login.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": fiber.Map{"kind": "rate_limited", "message": "Too many attempts. Please try again later."}})
		},
	}), d.AuthHandler.Login)
	api.Post("/logout", d.AuthHandler.Logout)

	authed := api.Group("", RequireActor(d.AuthSvc))
	authed.Post("/checkout", d.CheckoutHandler.Create)
	authed.Get("/transactions/:id", d.CheckoutHandler.Get)
	authed.Get("/materials/low-stock", d.InventoryHandler.LowStock)
	authed.Get("/sync/status", d.SyncHandler.Status)
	authed.Post("/sync/now", d.SyncHandler.Now)
	authed.Get("/sync/events", d.SyncHandler.Events)

	admin := authed.Group("/admin", RequireRole("MANAGER", "ADMIN"))
	admin.Post("/products/:id/stock", d.InventoryHandler.SetProductStock)
	admin.Post("/materials/:id/restock", d.InventoryHandler.RestockMaterial)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": fiber.Map{"kind": "not_found", "message": "Not found"}})
	})
	return app
}
