package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_ledger/internal/wallet"
)

// RegisterWalletRoutes wires the holder's wallet endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	group := r.Group("/wallet")
	group.Get("/balance", h.Balance)
	group.Post("/deposit", h.Deposit)
	group.Post("/transfer", h.Transfer)
	group.Get("/transactions", h.Transactions)
	group.Post("/transactions/:transactionId/reverse", h.Reverse)
}
