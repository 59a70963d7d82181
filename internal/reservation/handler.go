package reservation

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/petaverse/peta_wallet/internal/ledger"
	"github.com/petaverse/peta_wallet/internal/wallet"
)

// Handler exposes reservation HTTP endpoints. Requests address wallets; the
// handler resolves them to ledger accounts.
type Handler struct {
	manager *Manager
	wallets *wallet.Service
}

// NewHandler builds a reservation HTTP handler.
func NewHandler(manager *Manager, wallets *wallet.Service) *Handler {
	return &Handler{manager: manager, wallets: wallets}
}

type reserveRequest struct {
	WalletID string `json:"wallet_id"`
	Amount   int64  `json:"amount"`
	Purpose  string `json:"purpose"`
	TTLMs    int64  `json:"ttl_ms"`
	Stack    bool   `json:"stack"`
}

type reservationResponse struct {
	ID        string `json:"id"`
	Account   string `json:"account"`
	Purpose   string `json:"purpose"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// Reserve places a hold on a wallet's available balance.
func (h *Handler) Reserve(c *fiber.Ctx) error {
	var req reserveRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.wallets.Get(c.UserContext(), req.WalletID)
	if err != nil {
		return fiber.NewError(http.StatusNotFound, err.Error())
	}
	principal, _ := c.Locals("principal_id").(string)

	res, err := h.manager.Reserve(c.UserContext(), ReserveInput{
		Account: w.AccountCode,
		Amount:  req.Amount,
		Purpose: req.Purpose,
		TTL:     time.Duration(req.TTLMs) * time.Millisecond,
		Actor:   principal,
		Stack:   req.Stack,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, ErrDuplicateHold):
			return fiber.NewError(http.StatusConflict, err.Error())
		default:
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}

	return c.Status(http.StatusCreated).JSON(toResponse(res))
}

// Release returns a hold to the wallet's available balance.
func (h *Handler) Release(c *fiber.Ctx) error {
	principal, _ := c.Locals("principal_id").(string)
	if err := h.manager.Release(c.UserContext(), c.Params("reservationId"), principal); err != nil {
		return reservationError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

type commitRequest struct {
	DestinationWalletID string `json:"destination_wallet_id"`
}

// Commit captures a hold into the destination wallet.
func (h *Handler) Commit(c *fiber.Ctx) error {
	var req commitRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	dest, err := h.wallets.Get(c.UserContext(), req.DestinationWalletID)
	if err != nil {
		return fiber.NewError(http.StatusNotFound, err.Error())
	}
	principal, _ := c.Locals("principal_id").(string)

	if err := h.manager.Commit(c.UserContext(), c.Params("reservationId"), dest.AccountCode, principal); err != nil {
		return reservationError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

func reservationError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrReservationExpired):
		return fiber.NewError(http.StatusGone, err.Error())
	case errors.Is(err, ErrNotActive):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
}

func toResponse(r Reservation) reservationResponse {
	resp := reservationResponse{
		ID:      r.ID,
		Account: r.Account,
		Purpose: r.Purpose,
		Amount:  r.Amount,
		Status:  r.Status,
	}
	if !r.ExpiresAt.IsZero() {
		resp.ExpiresAt = r.ExpiresAt.Format(time.RFC3339Nano)
	}
	return resp
}
