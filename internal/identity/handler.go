package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_ledger/internal/ledger"
	"github.com/congo-pay/wallet_ledger/internal/validation"
)

// WalletProvisioner opens the wallet of a holder. EnsureWallet opens one
// lazily for holders whose provisioning failed at registration.
type WalletProvisioner interface {
	CreateWallet(ctx context.Context, ownerID string) (ledger.Wallet, error)
	EnsureWallet(ctx context.Context, ownerID string) (ledger.Wallet, error)
}

// Handler exposes identity endpoints.
type Handler struct {
	service  *Service
	wallets  WalletProvisioner
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service, wallets WalletProvisioner, validate *validator.Validate, logger *slog.Logger) *Handler {
	return &Handler{service: service, wallets: wallets, validate: validate, logger: logger}
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Document string `json:"document" validate:"required,numeric,min=11,max=14"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type userResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Document      string `json:"document"`
	WalletID      string `json:"wallet_id,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	Balance       string `json:"balance,omitempty"`
}

// Register onboards a holder and opens their wallet.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(http.StatusUnprocessableEntity, validation.Message(err))
	}

	user, err := h.service.Register(c.UserContext(), Registration{
		Name:     req.Name,
		Email:    req.Email,
		Document: req.Document,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailTaken), errors.Is(err, ErrDocumentTaken), errors.Is(err, ErrWeakPassword):
			return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
		default:
			return err
		}
	}

	w, err := h.wallets.CreateWallet(c.UserContext(), user.ID)
	if err != nil {
		h.logger.Error("wallet provisioning failed", slog.String("user_id", user.ID), slog.Any("error", err))
		return err
	}

	h.logger.Info("identity.register completed",
		slog.String("user_id", user.ID),
		slog.String("wallet_id", w.ID),
		slog.Int("status", http.StatusCreated),
	)
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"status":  "success",
		"message": "User registered",
		"data": userResponse{
			ID:            user.ID,
			Name:          user.Name,
			Email:         user.Email,
			Document:      user.Document,
			WalletID:      w.ID,
			AccountNumber: w.AccountNumber,
			Balance:       w.Balance.StringFixed(2),
		},
	})
}

// Me returns the authenticated holder with their wallet.
func (h *Handler) Me(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	user, err := h.service.FindByID(c.UserContext(), uid)
	if err != nil {
		return fiber.NewError(http.StatusNotFound, ErrUserNotFound.Error())
	}
	resp := userResponse{ID: user.ID, Name: user.Name, Email: user.Email, Document: user.Document}
	w, err := h.wallets.EnsureWallet(c.UserContext(), uid)
	if err == nil {
		resp.WalletID = w.ID
		resp.AccountNumber = w.AccountNumber
		resp.Balance = w.Balance.StringFixed(2)
	} else {
		h.logger.Warn("wallet unavailable", slog.String("user_id", uid), slog.Any("error", err))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "success", "data": resp})
}
