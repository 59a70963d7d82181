package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/petaverse/peta_wallet/internal/reservation"
)

// RegisterReservationRoutes wires fund-hold endpoints.
func RegisterReservationRoutes(r fiber.Router, h *reservation.Handler) {
	r.Post("/reservations", h.Reserve)
	r.Post("/reservations/:reservationId/release", h.Release)
	r.Post("/reservations/:reservationId/commit", h.Commit)
}
