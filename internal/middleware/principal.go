package middleware

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const principalHeader = "X-Principal-ID"

// Principal extracts the authenticated principal id injected by the upstream
// identity gateway. The ledger trusts this id and does not authenticate
// itself; requests without one are rejected.
func Principal() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(principalHeader)
		if id == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing "+principalHeader+" header")
		}
		if _, err := uuid.Parse(id); err != nil {
			return fiber.NewError(http.StatusUnauthorized, "malformed "+principalHeader+" header")
		}
		c.Locals("principal_id", id)
		return c.Next()
	}
}
