package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/petaverse/peta_wallet/internal/funding"
)

// RegisterFundingRoutes wires coin purchase and redemption endpoints.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler) {
	r.Post("/funding/purchase", h.Purchase)
	r.Post("/funding/redeem", h.Redeem)
}
