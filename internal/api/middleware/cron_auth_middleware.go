package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	config "github.com/craftline/postpilot/configs"
)

type CronAuthMiddleware struct {
	cfg config.Config
}

func NewCronAuthMiddleware(cfg config.Config) *CronAuthMiddleware {
	return &CronAuthMiddleware{cfg: cfg}
}

// RequireSecret guards the trigger and operator endpoints with the shared
// bearer secret supplied by the external scheduler.
func (m *CronAuthMiddleware) RequireSecret() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || m.cfg.CronSecret == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing bearer credential",
			})
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(m.cfg.CronSecret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid credential",
			})
		}
		return c.Next()
	}
}
