package funding

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/petaverse/peta_wallet/internal/ledger"
)

// Handler exposes coin issuance HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a funding HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type purchaseRequest struct {
	WalletID     string `json:"wallet_id"`
	Amount       int64  `json:"amount"`
	ClientTxID   string `json:"client_tx_id"`
	PaymentToken string `json:"payment_token"`
}

type redeemRequest struct {
	WalletID      string `json:"wallet_id"`
	Amount        int64  `json:"amount"`
	ClientTxID    string `json:"client_tx_id"`
	PayoutAccount string `json:"payout_account"`
}

type resultResponse struct {
	TransactionID      string `json:"transaction_id"`
	WalletAvailable    int64  `json:"wallet_available"`
	ProcessorReference string `json:"processor_reference"`
}

// Purchase mints coins into a wallet.
func (h *Handler) Purchase(c *fiber.Ctx) error {
	var req purchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.Purchase(c.UserContext(), PurchaseInput{
		WalletID:     req.WalletID,
		Amount:       req.Amount,
		ClientTxID:   req.ClientTxID,
		PaymentToken: req.PaymentToken,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionInFlight) {
			return fiber.NewError(http.StatusConflict, err.Error())
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(resultResponse{
		TransactionID:      res.TransactionID,
		WalletAvailable:    res.WalletAvailable,
		ProcessorReference: res.ProcessorReference,
	})
}

// Redeem burns coins from a wallet.
func (h *Handler) Redeem(c *fiber.Ctx) error {
	var req redeemRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.Redeem(c.UserContext(), RedeemInput{
		WalletID:      req.WalletID,
		Amount:        req.Amount,
		ClientTxID:    req.ClientTxID,
		PayoutAccount: req.PayoutAccount,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, ledger.ErrTransactionInFlight):
			return fiber.NewError(http.StatusConflict, err.Error())
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(resultResponse{
		TransactionID:      res.TransactionID,
		WalletAvailable:    res.WalletAvailable,
		ProcessorReference: res.ProcessorReference,
	})
}
