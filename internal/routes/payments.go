package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/petaverse/peta_wallet/internal/payments"
)

// RegisterPaymentRoutes wires transfer and manual-review endpoints.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler) {
	r.Post("/payments/transfer", h.Transfer)
	r.Post("/reviews/:caseId/approve", h.ApproveReview)
}
