package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

// RequireCronToken only lets requests through whose "token" query
// parameter equals the configured secret. An empty secret rejects all.
func RequireCronToken(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		supplied := c.Query("token")
		if token == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) != 1 {
			return c.Status(fiber.StatusForbidden).SendString("Unauthorized")
		}
		return c.Next()
	}
}
