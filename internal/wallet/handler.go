package wallet

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet_ledger/internal/ledger"
	"github.com/congo-pay/wallet_ledger/internal/validation"
)

// Handler exposes the authenticated holder's wallet over HTTP.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service, validate *validator.Validate) *Handler {
	return &Handler{service: service, validate: validate}
}

type depositRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=255"`
}

type transferRequest struct {
	ReceiverAccount string          `json:"receiver_account" validate:"required,account_number"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description" validate:"max=255"`
}

type reverseRequest struct {
	Description string `json:"description" validate:"max=255"`
}

type transactionResponse struct {
	ID                   string    `json:"id"`
	WalletID             string    `json:"wallet_id"`
	Type                 string    `json:"type"`
	Amount               string    `json:"amount"`
	PreviousBalance      string    `json:"previous_balance"`
	NewBalance           string    `json:"new_balance"`
	Description          *string   `json:"description"`
	TransactionCode      string    `json:"transaction_code"`
	RelatedTransactionID *string   `json:"related_transaction_id"`
	SenderID             *string   `json:"sender_id"`
	ReceiverID           *string   `json:"receiver_id"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func toResponse(t ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:                   t.ID,
		WalletID:             t.WalletID,
		Type:                 string(t.Type),
		Amount:               t.Amount.StringFixed(2),
		PreviousBalance:      t.PreviousBalance.StringFixed(2),
		NewBalance:           t.NewBalance.StringFixed(2),
		Description:          t.Description,
		TransactionCode:      t.TransactionCode,
		RelatedTransactionID: t.RelatedTransactionID,
		SenderID:             t.SenderID,
		ReceiverID:           t.ReceiverID,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
	}
}

func toResponses(ts []ledger.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(ts))
	for _, t := range ts {
		out = append(out, toResponse(t))
	}
	return out
}

// current resolves the wallet of the authenticated holder.
func (h *Handler) current(c *fiber.Ctx) (ledger.Wallet, error) {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return ledger.Wallet{}, fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	w, err := h.service.EnsureWallet(c.UserContext(), uid)
	if err != nil {
		return ledger.Wallet{}, HTTPError(err)
	}
	return w, nil
}

func (h *Handler) parse(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(dst); err != nil {
		return fiber.NewError(http.StatusUnprocessableEntity, validation.Message(err))
	}
	return nil
}

// Balance returns the holder's balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	w, err := h.current(c)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"status": "success",
		"data": fiber.Map{
			"wallet_id":      w.ID,
			"account_number": w.AccountNumber,
			"balance":        w.Balance.StringFixed(2),
			"timestamp":      time.Now().UTC(),
		},
	})
}

// Deposit credits the holder's wallet.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req depositRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	w, err := h.current(c)
	if err != nil {
		return err
	}
	entry, err := h.service.Deposit(c.UserContext(), w.ID, req.Amount, req.Description)
	if err != nil {
		return HTTPError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"status":  "success",
		"message": "Deposit completed",
		"data":    toResponse(entry),
	})
}

// Transfer sends funds to the wallet identified by receiver_account.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	w, err := h.current(c)
	if err != nil {
		return err
	}
	receiver, err := h.service.GetByAccountNumber(c.UserContext(), req.ReceiverAccount)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return fiber.NewError(http.StatusNotFound, "receiver account not found")
		}
		return HTTPError(err)
	}
	res, err := h.service.Transfer(c.UserContext(), w.ID, receiver.ID, req.Amount, req.Description)
	if err != nil {
		return HTTPError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"status":  "success",
		"message": "Transfer completed",
		"data": fiber.Map{
			"out": toResponse(res.Out),
			"in":  toResponse(res.In),
		},
	})
}

// Transactions lists the holder's entries, newest first.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	w, err := h.current(c)
	if err != nil {
		return err
	}
	page := c.QueryInt("page", 1)
	res, err := h.service.Transactions(c.UserContext(), w.ID, page)
	if err != nil {
		return HTTPError(err)
	}
	lastPage := (res.Total + DefaultPageSize - 1) / DefaultPageSize
	if lastPage == 0 {
		lastPage = 1
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"status": "success",
		"data":   toResponses(res.Items),
		"meta": fiber.Map{
			"current_page": res.Page.Number,
			"per_page":     res.Page.Size,
			"total":        res.Total,
			"last_page":    lastPage,
		},
	})
}

// Reverse undoes an entry the holder's wallet took part in.
func (h *Handler) Reverse(c *fiber.Ctx) error {
	var req reverseRequest
	if len(c.Body()) > 0 {
		if err := h.parse(c, &req); err != nil {
			return err
		}
	}
	w, err := h.current(c)
	if err != nil {
		return err
	}
	entry, err := h.service.TransactionForWallet(c.UserContext(), w.ID, c.Params("transactionId"))
	if err != nil {
		return HTTPError(err)
	}
	res, err := h.service.ReverseTransaction(c.UserContext(), entry.ID, req.Description)
	if err != nil {
		return HTTPError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"status":  "success",
		"message": "Transaction reversed",
		"data":    toResponses(res.Entries()),
	})
}

var statuses = []struct {
	err    error
	status int
}{
	{ledger.ErrInvalidAmount, http.StatusUnprocessableEntity},
	{ledger.ErrSelfTransfer, http.StatusUnprocessableEntity},
	{ledger.ErrRelatedNotFound, http.StatusUnprocessableEntity},
	{ledger.ErrInsufficientFunds, http.StatusBadRequest},
	{ledger.ErrDuplicateAccount, http.StatusBadRequest},
	{ledger.ErrWalletNotFound, http.StatusNotFound},
	{ledger.ErrTransactionNotFound, http.StatusNotFound},
	{ledger.ErrAlreadyReversed, http.StatusConflict},
	{ledger.ErrNotReversible, http.StatusConflict},
	{ledger.ErrContention, http.StatusServiceUnavailable},
	{ledger.ErrAccountNumberExhausted, http.StatusServiceUnavailable},
}

// HTTPError maps a ledger error to a client-facing fiber error. Unknown
// errors become a generic 500 so store details never leak.
func HTTPError(err error) *fiber.Error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe
	}
	for _, s := range statuses {
		if errors.Is(err, s.err) {
			return fiber.NewError(s.status, s.err.Error())
		}
	}
	return fiber.NewError(http.StatusInternalServerError, "internal server error")
}
