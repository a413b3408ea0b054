package ledger

import "errors"

var (
	// ErrInvalidAmount occurs when an amount is not strictly positive or carries
	// more precision than the ledger stores.
	ErrInvalidAmount = errors.New("amount must be greater than zero with at most two decimal places")

	// ErrSelfTransfer occurs when sender and receiver are the same wallet.
	ErrSelfTransfer = errors.New("cannot transfer to the same wallet")

	// ErrInsufficientFunds occurs when the wallet to be debited lacks available
	// balance to cover the requested amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateAccount indicates the holder already owns a wallet.
	ErrDuplicateAccount = errors.New("holder already has a wallet")

	// ErrAlreadyReversed indicates the entry, or the other leg of its transfer,
	// has already been reversed.
	ErrAlreadyReversed = errors.New("transaction already reversed")

	// ErrNotReversible indicates the entry type does not support reversal.
	ErrNotReversible = errors.New("transaction type does not support reversal")

	// ErrRelatedNotFound indicates a transfer leg whose paired entry is missing.
	ErrRelatedNotFound = errors.New("related transaction not found")

	// ErrAccountNumberExhausted indicates no free account number was found
	// within the configured number of attempts.
	ErrAccountNumberExhausted = errors.New("could not allocate a unique account number")

	// ErrWalletNotFound occurs when a wallet does not exist or is closed.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrTransactionNotFound occurs when a ledger entry does not exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrAccountNumberTaken is returned by the store when an inserted wallet
	// collides with an existing account number.
	ErrAccountNumberTaken = errors.New("account number already in use")

	// ErrDuplicateTransactionCode is returned by the store when an inserted
	// entry collides with an existing transaction code.
	ErrDuplicateTransactionCode = errors.New("duplicate transaction code")

	// ErrContention indicates the unit of work could not acquire its locks in
	// time or lost a serialization race. The whole operation is safe to retry.
	ErrContention = errors.New("ledger contention, retry the operation")
)

var businessErrors = []error{
	ErrInvalidAmount,
	ErrSelfTransfer,
	ErrInsufficientFunds,
	ErrDuplicateAccount,
	ErrAlreadyReversed,
	ErrNotReversible,
	ErrRelatedNotFound,
	ErrAccountNumberExhausted,
	ErrWalletNotFound,
	ErrTransactionNotFound,
}

// IsBusiness reports whether err is a business-rule rejection rather than an
// infrastructure failure.
func IsBusiness(err error) bool {
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
