package round

import (
	"fmt"

	"github.com/google/uuid"
)

// Account is a collateral account path, mirroring the external ledger's
// addressing. User accounts are "user:<uuid>".
type Account string

const (
	// AccountExternal is the boundary account: deposits arrive from it and
	// withdrawals leave to it. It may go negative (money entering the
	// system), keeping the vault zero-sum.
	AccountExternal Account = "external:collateral"

	// AccountPool holds all round pool collateral. Per-round balances are
	// an attribution over this single account.
	AccountPool Account = "pool:collateral"

	// AccountEscrow holds committed ticket payouts between trade
	// acceptance and settlement.
	AccountEscrow Account = "pool:escrow"

	// AccountSafeBox receives the profit skim at round close.
	AccountSafeBox Account = "system:safebox"

	// AccountFees receives the fee component of settled tickets.
	AccountFees Account = "system:fees"

	// AccountBackstop is the default liquidity provider's standing
	// balance. It has unlimited approval: draws never fail, and the
	// account may go negative until the provider tops it up.
	AccountBackstop Account = "system:backstop"
)

// UserAccount returns the collateral account for a user or LP.
func UserAccount(id uuid.UUID) Account {
	return Account("user:" + id.String())
}

// Vault is the external collateral ledger boundary: atomic debit/credit
// with an error signal. The core never assumes more than that.
type Vault interface {
	Transfer(from, to Account, amount int64) error
	Balance(account Account) int64
}

// MemoryVault is the in-process Vault used by tests and the default
// wiring. External-scope accounts (the boundary and the backstop) are
// allowed to go negative; everything else is balance-checked.
type MemoryVault struct {
	balances map[Account]int64
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{balances: make(map[Account]int64)}
}

func canOverdraw(a Account) bool {
	return a == AccountExternal || a == AccountBackstop
}

func (v *MemoryVault) Transfer(from, to Account, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive, got %d", amount)
	}
	if from == to {
		return fmt.Errorf("self transfer on %s", from)
	}
	if !canOverdraw(from) && v.balances[from] < amount {
		return fmt.Errorf("insufficient balance on %s: have=%d, need=%d", from, v.balances[from], amount)
	}
	v.balances[from] -= amount
	v.balances[to] += amount
	return nil
}

func (v *MemoryVault) Balance(account Account) int64 {
	return v.balances[account]
}
