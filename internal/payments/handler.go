package payments

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/petaverse/peta_wallet/internal/fraud"
	"github.com/petaverse/peta_wallet/internal/ledger"
	"github.com/petaverse/peta_wallet/internal/review"
)

// Handler exposes transfer HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a payments HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transferRequest struct {
	FromWalletID string `json:"from_wallet_id"`
	ToWalletID   string `json:"to_wallet_id"`
	Amount       int64  `json:"amount"`
	ClientTxID   string `json:"client_tx_id"`
}

type transferResponse struct {
	TransactionID string `json:"transaction_id"`
	FromAvailable int64  `json:"from_available"`
	ToAvailable   int64  `json:"to_available"`
}

// Transfer moves coins between wallets.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	principal, _ := c.Locals("principal_id").(string)

	res, err := h.service.Transfer(c.UserContext(), TransferInput{
		FromWalletID: req.FromWalletID,
		ToWalletID:   req.ToWalletID,
		Amount:       req.Amount,
		ClientTxID:   req.ClientTxID,
		Principal:    principal,
	})
	if err != nil {
		switch {
		case errors.Is(err, fraud.ErrFraudBlocked):
			return c.Status(http.StatusForbidden).JSON(fiber.Map{
				"error":          err.Error(),
				"review_case_id": res.ReviewCaseID,
			})
		case errors.Is(err, ledger.ErrInsufficientFunds):
			return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, ledger.ErrConcurrencyConflict), errors.Is(err, ledger.ErrTransactionInFlight):
			return fiber.NewError(http.StatusConflict, err.Error())
		case errors.Is(err, ErrNotOwner):
			return fiber.NewError(http.StatusForbidden, err.Error())
		default:
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}

	return c.Status(http.StatusCreated).JSON(transferResponse{
		TransactionID: res.TransactionID,
		FromAvailable: res.FromAvailable,
		ToAvailable:   res.ToAvailable,
	})
}

type approveRequest struct {
	Token string `json:"token"`
}

// ApproveReview redeems an operator approval token for a blocked transfer.
func (h *Handler) ApproveReview(c *fiber.Ctx) error {
	var req approveRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.service.ApproveReview(c.UserContext(), c.Params("caseId"), req.Token)
	if err != nil {
		switch {
		case errors.Is(err, review.ErrCaseExpired):
			return fiber.NewError(http.StatusGone, err.Error())
		case errors.Is(err, review.ErrInvalidToken):
			return fiber.NewError(http.StatusForbidden, err.Error())
		case errors.Is(err, ledger.ErrInsufficientFunds):
			return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
		default:
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}

	return c.Status(http.StatusOK).JSON(transferResponse{
		TransactionID: res.TransactionID,
		FromAvailable: res.FromAvailable,
		ToAvailable:   res.ToAvailable,
	})
}
