package ledger

import (
	"OptionEscrow/internal/event"
	"fmt"
	"sort"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// RevertBatch undoes a previously applied batch in place.
func (bt *BalanceTracker) RevertBatch(batch *Batch) {
	for i := len(batch.Journals) - 1; i >= 0; i-- {
		j := batch.Journals[i]
		bt.balances[j.DebitAccount] -= j.Amount
		bt.balances[j.CreditAccount] += j.Amount
	}
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// === Trade Balance Queries ===

// GetDeposit returns the funds locked by one side of a trade
func (bt *BalanceTracker) GetDeposit(tradeID uint64, side event.Side, asset string) int64 {
	return bt.GetBalance(NewTradeAccountKey(tradeID, side, SubTypeDeposit, asset))
}

// GetClaimable returns the amount a side can claim after settlement
func (bt *BalanceTracker) GetClaimable(tradeID uint64, side event.Side, asset string) int64 {
	return bt.GetBalance(NewTradeAccountKey(tradeID, side, SubTypeClaimable, asset))
}

// GetTradeBalance sums every deposit and claimable account of a trade
func (bt *BalanceTracker) GetTradeBalance(tradeID uint64, asset string) int64 {
	var total int64
	for _, side := range []event.Side{event.SideLong, event.SideShort} {
		total += bt.GetDeposit(tradeID, side, asset)
		total += bt.GetClaimable(tradeID, side, asset)
	}
	return total
}

// GetFees returns the uncollected protocol fees for an asset
func (bt *BalanceTracker) GetFees(asset string) int64 {
	return bt.GetBalance(NewFeesAccountKey(asset))
}

// GetCustody returns the total amount of an asset held in escrow
func (bt *BalanceTracker) GetCustody(asset string) int64 {
	return -bt.GetBalance(NewExternalAccountKey(asset))
}

// === Invariant Checks ===

// ValidateSufficient checks an account holds at least required
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required int64) error {
	balance := bt.GetBalance(key)
	if balance < required {
		return fmt.Errorf("insufficient balance in %s: have=%d, need=%d", key.AccountPath(), balance, required)
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[string]int64 {
	totals := make(map[string]int64)

	for key, balance := range bt.balances {
		totals[key.Asset] += balance
	}

	return totals
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// SortedKeys returns all account keys ordered by their account path, for
// deterministic iteration.
func (bt *BalanceTracker) SortedKeys() []AccountKey {
	keys := make([]AccountKey, 0, len(bt.balances))
	for k := range bt.balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].AccountPath() < keys[j].AccountPath()
	})
	return keys
}
