package ledger

import "github.com/shopspring/decimal"

// SeedBalance is a test helper that overwrites a wallet balance in the in-memory
// store without writing an entry. The entry chain is left untouched.
func SeedBalance(s Store, walletID string, amount decimal.Decimal) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if w, found := mem.wallets[walletID]; found {
			w.Balance = amount
			mem.wallets[walletID] = w
		}
	}
}
