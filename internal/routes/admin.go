package routes

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/petaverse/peta_wallet/internal/audit"
	"github.com/petaverse/peta_wallet/internal/fraud"
	"github.com/petaverse/peta_wallet/internal/wallet"
)

// RegisterAdminRoutes wires operational endpoints. Reconciliation also runs
// on a schedule; this endpoint exists for on-demand audits.
func RegisterAdminRoutes(r fiber.Router, reconciler *audit.Reconciler, wallets *wallet.Service, assessments fraud.Repository) {
	r.Post("/admin/wallets/:walletId/freeze", setWalletStatus(wallets.Freeze))
	r.Post("/admin/wallets/:walletId/unfreeze", setWalletStatus(wallets.Unfreeze))

	r.Get("/admin/fraud/:principal/assessments", func(c *fiber.Ctx) error {
		history, err := assessments.History(c.UserContext(), c.Params("principal"), c.QueryInt("limit", 50))
		if err != nil {
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "assessment history unavailable"})
		}
		out := make([]fiber.Map, 0, len(history))
		for _, a := range history {
			out = append(out, fiber.Map{
				"id":      a.ID,
				"account": a.Account,
				"score":   a.Score,
				"level":   a.Level,
				"factors": factorNames(a.Factors),
				"at":      a.At,
			})
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{"principal": c.Params("principal"), "assessments": out})
	})
	r.Post("/admin/reconcile", func(c *fiber.Ctx) error {
		discrepancies, err := reconciler.Reconcile(c.UserContext())
		if errors.Is(err, audit.ErrReconcileRunning) {
			return c.Status(http.StatusConflict).JSON(fiber.Map{"error": "reconciliation already in progress"})
		}
		if err != nil {
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "reconciliation failed"})
		}
		if discrepancies == nil {
			discrepancies = []audit.Discrepancy{}
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"discrepancies": discrepancies,
			"completed_at":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}

func setWalletStatus(apply func(context.Context, string) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := apply(c.UserContext(), c.Params("walletId"))
		if errors.Is(err, wallet.ErrNotFound) {
			return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "wallet not found"})
		}
		if err != nil {
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "wallet status update failed"})
		}
		return c.SendStatus(http.StatusNoContent)
	}
}

func factorNames(factors []fraud.Factor) []string {
	names := make([]string, 0, len(factors))
	for _, f := range factors {
		names = append(names, f.Name)
	}
	return names
}
