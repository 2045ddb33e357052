package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/peerbay/backend/internal/config"
)

// SchedulerAuthMiddleware guards the internal scheduler trigger with a
// shared bearer token. An empty configured token disables the endpoint.
func SchedulerAuthMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.SchedulerToken == "" {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "scheduler trigger disabled"})
		}

		token := strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.SchedulerToken)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid scheduler token"})
		}

		return c.Next()
	}
}
