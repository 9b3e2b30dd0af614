package admin

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"github.com/Anvoria/loginguard/internal/utils"
)

// HeaderAdminToken carries the operator token on admin routes
const HeaderAdminToken = "X-Admin-Token"

// TokenMiddleware rejects requests without the configured admin token.
// An empty configured token disables the admin surface entirely.
func TokenMiddleware(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return utils.ErrorResponse(c, utils.ErrNotFound)
		}
		got := c.Get(HeaderAdminToken)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			return utils.ErrorResponse(c, utils.ErrForbidden)
		}
		return c.Next()
	}
}
