package wallet

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet_ledger/internal/ledger"
)

// DefaultPageSize is the number of entries returned per statement page.
const DefaultPageSize = 15

// Default descriptions written when the caller supplies none.
const (
	DescriptionDeposit          = "Deposit"
	DescriptionTransferSent     = "Transfer sent"
	DescriptionTransferReceived = "Transfer received"
	DescriptionDepositReversal  = "Deposit reversal"
	DescriptionReceivedReversal = "Received transfer reversal"
	DescriptionSentReversal     = "Sent transfer reversal"
)

// Balance is a point-in-time view of a wallet's funds.
type Balance struct {
	WalletID      string
	AccountNumber string
	Amount        decimal.Decimal
	AsOf          time.Time
}

// TransferResult holds both legs of a committed transfer.
type TransferResult struct {
	Out ledger.Transaction
	In  ledger.Transaction
}

// ReversalResult holds the entries written by a reversal. A deposit reversal
// sets Reversal; a transfer reversal sets ReceiverReversal and SenderReversal.
type ReversalResult struct {
	Reversal         *ledger.Transaction
	ReceiverReversal *ledger.Transaction
	SenderReversal   *ledger.Transaction
}

// Entries returns the written reversal entries in creation order.
func (r ReversalResult) Entries() []ledger.Transaction {
	var out []ledger.Transaction
	for _, e := range []*ledger.Transaction{r.Reversal, r.ReceiverReversal, r.SenderReversal} {
		if e != nil {
			out = append(out, *e)
		}
	}
	return out
}
