package server

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// UserVerifier resolves a bearer token to a user id. Implemented by
// internal/platform/supaauth; tests supply their own.
type UserVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// WorkerKeyHeader carries the static shared secret on worker-facing calls.
const WorkerKeyHeader = "X-Worker-Key"

// RequireUser authenticates the browser caller and stores the resolved user
// id in locals. Checked before anything else touches the request.
func RequireUser(verifier UserVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(authz, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		userID, err := verifier.Verify(c.Context(), strings.TrimPrefix(authz, "Bearer "))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		c.Locals("user_id", userID)
		return c.Next()
	}
}

// RequireWorker compares the shared worker secret. Mismatch or absence
// short-circuits with no side effects.
func RequireWorker(expectedKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if expectedKey == "" || c.Get(WorkerKeyHeader) != expectedKey {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid worker key"})
		}
		return c.Next()
	}
}
