package ledger

import (
	"OptionEscrow/internal/event"
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for asset, total := range totals {
		if total != 0 {
			return fmt.Errorf("global balance for %s is non-zero: %d", asset, total)
		}
	}

	return nil
}

// ValidateTradeAccounts checks every custody account of a trade is >= 0
func (v *InvariantValidator) ValidateTradeAccounts(tradeID uint64, asset string) error {
	for _, side := range []event.Side{event.SideLong, event.SideShort} {
		for _, st := range []AccountSubType{SubTypeDeposit, SubTypeClaimable} {
			if err := v.tracker.ValidateNonNegative(NewTradeAccountKey(tradeID, side, st, asset)); err != nil {
				return err
			}
		}
	}
	return v.tracker.ValidateNonNegative(NewFeesAccountKey(asset))
}

// ValidateCustodyNonNegative checks the escrow never owes more than it holds
func (v *InvariantValidator) ValidateCustodyNonNegative(asset string) error {
	if custody := v.tracker.GetCustody(asset); custody < 0 {
		return fmt.Errorf("custody for %s is negative: %d", asset, custody)
	}
	return nil
}
