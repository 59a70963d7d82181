package escrow

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/petaverse/peta_wallet/internal/ledger"
	"github.com/petaverse/peta_wallet/internal/reservation"
	"github.com/petaverse/peta_wallet/internal/wallet"
)

// Handler exposes escrow HTTP endpoints.
type Handler struct {
	engine  *Engine
	wallets *wallet.Service
}

// NewHandler builds an escrow HTTP handler.
func NewHandler(engine *Engine, wallets *wallet.Service) *Handler {
	return &Handler{engine: engine, wallets: wallets}
}

type createRequest struct {
	BuyerWalletID  string   `json:"buyer_wallet_id"`
	SellerWalletID string   `json:"seller_wallet_id"`
	Amount         int64    `json:"amount"`
	Conditions     []string `json:"conditions"`
	Deadline       string   `json:"deadline"`
}

type escrowResponse struct {
	ID         string   `json:"id"`
	Buyer      string   `json:"buyer"`
	Seller     string   `json:"seller"`
	Amount     int64    `json:"amount"`
	Conditions []string `json:"conditions,omitempty"`
	Deadline   string   `json:"deadline"`
	Status     string   `json:"status"`
}

// Create opens and funds an escrow between two wallets.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	deadline, err := time.Parse(time.RFC3339, req.Deadline)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "deadline must be RFC3339")
	}

	buyer, err := h.wallets.Get(c.UserContext(), req.BuyerWalletID)
	if err != nil {
		return fiber.NewError(http.StatusNotFound, err.Error())
	}
	seller, err := h.wallets.Get(c.UserContext(), req.SellerWalletID)
	if err != nil {
		return fiber.NewError(http.StatusNotFound, err.Error())
	}
	principal, _ := c.Locals("principal_id").(string)

	esc, err := h.engine.Create(c.UserContext(), CreateInput{
		Buyer:      buyer.AccountCode,
		Seller:     seller.AccountCode,
		Amount:     req.Amount,
		Conditions: req.Conditions,
		Deadline:   deadline,
		Actor:      principal,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	return c.Status(http.StatusCreated).JSON(toResponse(esc))
}

// Get returns the escrow by id.
func (h *Handler) Get(c *fiber.Ctx) error {
	esc, err := h.engine.Get(c.UserContext(), c.Params("escrowId"))
	if err != nil {
		return escrowError(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(esc))
}

// Dispute suspends the auto-release timer for a funded escrow.
func (h *Handler) Dispute(c *fiber.Ctx) error {
	principal, _ := c.Locals("principal_id").(string)
	esc, err := h.engine.Dispute(c.UserContext(), c.Params("escrowId"), principal)
	if err != nil {
		return escrowError(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(esc))
}

type resolveRequest struct {
	Outcome string `json:"outcome"`
}

// Resolve finishes a funded or disputed escrow with the given outcome.
func (h *Handler) Resolve(c *fiber.Ctx) error {
	var req resolveRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	outcome := Outcome(req.Outcome)
	if outcome != OutcomeReleased && outcome != OutcomeRefunded {
		return fiber.NewError(http.StatusBadRequest, "outcome must be released or refunded")
	}
	principal, _ := c.Locals("principal_id").(string)

	esc, err := h.engine.Resolve(c.UserContext(), c.Params("escrowId"), outcome, principal)
	if err != nil {
		return escrowError(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(esc))
}

func escrowError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, reservation.ErrReservationExpired):
		return fiber.NewError(http.StatusGone, err.Error())
	default:
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
}

func toResponse(e Escrow) escrowResponse {
	return escrowResponse{
		ID:         e.ID,
		Buyer:      e.Buyer,
		Seller:     e.Seller,
		Amount:     e.Amount,
		Conditions: e.Conditions,
		Deadline:   e.Deadline.Format(time.RFC3339Nano),
		Status:     e.Status,
	}
}
