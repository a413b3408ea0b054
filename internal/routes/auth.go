package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_ledger/internal/auth"
	"github.com/congo-pay/wallet_ledger/internal/identity"
)

// RegisterAuthRoutes wires the unauthenticated onboarding and session endpoints.
func RegisterAuthRoutes(r fiber.Router, ids *identity.Handler, h *auth.Handler, loginLimiter fiber.Handler) {
	r.Post("/register", ids.Register)
	r.Post("/login", loginLimiter, h.Login)
	r.Post("/refresh", h.Refresh)
}

// RegisterAccountRoutes wires endpoints acting on the authenticated holder.
func RegisterAccountRoutes(r fiber.Router, ids *identity.Handler, h *auth.Handler) {
	r.Post("/logout", h.Logout)
	r.Get("/user", ids.Me)
}
