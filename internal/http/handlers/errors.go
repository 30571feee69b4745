package handlers

import (
	"errors"

	"offlinepos/internal/domain"
	applog "offlinepos/internal/log"

	"github.com/gofiber/fiber/v2"
)

var kindStatus = map[domain.Kind]int{
	domain.KindAuthentication:     fiber.StatusUnauthorized,
	domain.KindTenantMismatch:     fiber.StatusConflict,
	domain.KindInsufficientStock:  fiber.StatusConflict,
	domain.KindInvariantViolation: fiber.StatusUnprocessableEntity,
	domain.KindPersistence:        fiber.StatusServiceUnavailable,
	domain.KindRemoteSync:         fiber.StatusServiceUnavailable,
}

type errorBody struct {
	Kind      string            `json:"kind"`
	Message   string            `json:"message"`
	Recovery  domain.Recovery   `json:"recovery"`
	Retryable bool              `json:"retryable"`
	Shortfall *domain.Shortfall `json:"shortfall,omitempty"`
}

// writeError turns a typed failure into its JSON body. Infrastructure
// details stay in the log.
func writeError(c *fiber.Ctx, err error) error {
	var de *domain.Error
	if !errors.As(err, &de) {
		applog.Error(c, "server.error", err, nil)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": errorBody{
			Kind: "internal", Message: "Something went wrong. Please try again.", Recovery: domain.RecoverContactSupport,
		}})
	}
	status, ok := kindStatus[de.Kind]
	if !ok {
		status = fiber.StatusInternalServerError
	}
	body := errorBody{
		Kind: string(de.Kind), Message: de.Message, Recovery: de.Recovery(),
		Retryable: de.Retryable(), Shortfall: de.Shortfall,
	}
	fields := map[string]any{"op": de.Op, "kind": string(de.Kind)}
	switch de.Kind {
	case domain.KindAuthentication, domain.KindTenantMismatch:
		applog.Security(c, "request.rejected", fields)
	case domain.KindPersistence, domain.KindRemoteSync:
		applog.Error(c, "request.failed", err, fields)
	default:
		applog.Info(c, "request.rejected", fields)
	}
	return c.Status(status).JSON(fiber.Map{"error": body})
}

func badRequest(c *fiber.Ctx, field string) error {
	applog.Security(c, "validation.fail", map[string]any{"field": field})
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": errorBody{
		Kind: "bad_request", Message: "invalid " + field, Recovery: domain.RecoverCorrectInput,
	}})
}
