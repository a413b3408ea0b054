package auth

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_ledger/internal/identity"
	"github.com/congo-pay/wallet_ledger/internal/validation"
)

// Handler exposes auth endpoints for login/refresh/logout.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

// NewHandler builds the session HTTP handler.
func NewHandler(svc *Service, validate *validator.Validate) *Handler {
	return &Handler{svc: svc, validate: validate}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	TokenPair
	UserID string `json:"user_id"`
}

// Login validates credentials and returns a token pair.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(http.StatusUnprocessableEntity, validation.Message(err))
	}
	user, pair, err := h.svc.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			return fiber.NewError(http.StatusUnauthorized, err.Error())
		}
		return err
	}
	return c.Status(http.StatusOK).JSON(loginResponse{TokenPair: pair, UserID: user.ID})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Refresh issues a new token pair using a valid refresh token.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(http.StatusUnprocessableEntity, validation.Message(err))
	}
	pair, err := h.svc.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenRevoked) {
			return fiber.NewError(http.StatusUnauthorized, err.Error())
		}
		return err
	}
	return c.Status(http.StatusOK).JSON(pair)
}

// Logout invalidates every token of the authenticated holder.
func (h *Handler) Logout(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	if err := h.svc.Logout(c.UserContext(), uid); err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "success", "message": "Logged out"})
}
