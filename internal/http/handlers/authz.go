package handlers

import (
	"strings"

	"offlinepos/internal/domain"
	applog "offlinepos/internal/log"
	"offlinepos/internal/services"

	"github.com/gofiber/fiber/v2"
)

const localActor = "actor"

// sessionID reads the sid cookie, falling back to a bearer token for
// clients that do not keep cookies.
func sessionID(c *fiber.Ctx) string {
	if sid := c.Cookies("sid"); sid != "" {
		return sid
	}
	if h := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// RequireActor resolves the signed-in actor or answers 401.
func RequireActor(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sid := sessionID(c)
		if sid == "" {
			return writeError(c, domain.AuthenticationError("session", "sign in first"))
		}
		a, err := auth.CurrentActor(c.UserContext(), sid)
		if err != nil {
			return writeError(c, domain.PersistenceError("session", err))
		}
		if !a.Valid() {
			applog.Security(c, "access.denied.session", nil)
			return writeError(c, domain.AuthenticationError("session", "session expired, sign in again"))
		}
		c.Locals(localActor, a)
		c.Locals("uid", a.UserID)
		c.Locals("tid", a.TenantID)
		return c.Next()
	}
}

// RequireRole must run after RequireActor.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		a := actorOf(c)
		for _, r := range roles {
			if a != nil && a.Role == r {
				return c.Next()
			}
		}
		applog.Security(c, "access.denied.role", map[string]any{"need": roles})
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": fiber.Map{
			"kind": "forbidden", "message": "Access denied", "recovery": domain.RecoverContactSupport,
		}})
	}
}

func actorOf(c *fiber.Ctx) *domain.Actor {
	a, _ := c.Locals(localActor).(*domain.Actor)
	return a
}
