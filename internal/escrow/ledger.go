// Package escrow holds counterparties' collateral per trade and side. Every
// operation books a balanced journal batch first and only then calls the
// collateral asset; a failed asset call reverts the batch.
package escrow

import (
	"OptionEscrow/internal/errs"
	"OptionEscrow/internal/event"
	"OptionEscrow/internal/ledger"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Asset is the fungible collateral the escrow custodies.
type Asset interface {
	// TransferFrom moves amount from owner to to, spending spender's allowance.
	TransferFrom(ctx context.Context, spender, owner, to common.Address, amount int64) error

	// Transfer moves amount from from to to.
	Transfer(ctx context.Context, from, to common.Address, amount int64) error
}

// Collateral binds an Asset to the symbol used in ledger accounts.
type Collateral struct {
	Symbol string
	Asset  Asset
}

type claimKey struct {
	tradeID uint64
	side    event.Side
}

// Ledger is the custody book. Not safe for concurrent use; callers serialize.
type Ledger struct {
	custody   common.Address
	tracker   *ledger.BalanceTracker
	journals  *ledger.JournalGenerator
	validator *ledger.InvariantValidator
	claimed   map[claimKey]bool
}

// NewLedger creates a custody book whose funds sit at the custody address.
func NewLedger(custody common.Address) *Ledger {
	tracker := ledger.NewBalanceTracker()
	return &Ledger{
		custody:   custody,
		tracker:   tracker,
		journals:  ledger.NewJournalGenerator(tracker),
		validator: ledger.NewInvariantValidator(tracker),
		claimed:   make(map[claimKey]bool),
	}
}

// Tracker exposes balances for reads and state hashing.
func (l *Ledger) Tracker() *ledger.BalanceTracker { return l.tracker }

// apply books a batch and runs the invariant checks. Any failure here means
// the generator produced something inconsistent.
func (l *Ledger) apply(batch *ledger.Batch) {
	if err := l.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
	}
	if err := l.tracker.ApplyBatch(batch); err != nil {
		panic(fmt.Sprintf("FATAL: apply batch: %v", err))
	}
	if err := l.validator.ValidateGlobalBalance(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}
}

// interact runs fn after the batch is booked; on failure the batch is reverted.
func (l *Ledger) interact(batch *ledger.Batch, fn func() error) error {
	l.apply(batch)
	if err := fn(); err != nil {
		l.tracker.RevertBatch(batch)
		return err
	}
	return nil
}

// Deposit pulls exactly amount from from into custody for one side.
func (l *Ledger) Deposit(
	ctx context.Context,
	ref ledger.BatchRef,
	c Collateral,
	tradeID uint64,
	side event.Side,
	from common.Address,
	amount int64,
) (*ledger.Batch, error) {
	if l.tracker.GetDeposit(tradeID, side, c.Symbol) != 0 {
		return nil, errs.Conflict(errs.ReasonSideTaken, "trade %d side %s", tradeID, side)
	}

	batch, err := l.journals.GenerateDeposit(ref, tradeID, side, c.Symbol, amount)
	if err != nil {
		return nil, errs.Validation(errs.ReasonNonPositive, "%v", err)
	}

	err = l.interact(batch, func() error {
		return c.Asset.TransferFrom(ctx, l.custody, from, l.custody, amount)
	})
	if err != nil {
		return nil, fmt.Errorf("pull collateral: %w", err)
	}
	return batch, nil
}

// Refund returns the whole deposit of one side to to. Used by cancellation.
func (l *Ledger) Refund(
	ctx context.Context,
	ref ledger.BatchRef,
	c Collateral,
	tradeID uint64,
	side event.Side,
	to common.Address,
) (*ledger.Batch, int64, error) {
	batch, amount, err := l.journals.GenerateRefund(ref, tradeID, side, c.Symbol)
	if err != nil {
		return nil, 0, errs.Conflict(errs.ReasonNotCancellable, "%v", err)
	}

	err = l.interact(batch, func() error {
		return c.Asset.Transfer(ctx, l.custody, to, amount)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("refund collateral: %w", err)
	}
	return batch, amount, nil
}

// Allocate moves both deposits into the claimable and fee accounts. It
// makes no external call.
func (l *Ledger) Allocate(ref ledger.BatchRef, symbol string, tradeID uint64, alloc ledger.Allocation) (*ledger.Batch, error) {
	batch, err := l.journals.GenerateSettlement(ref, tradeID, symbol, alloc)
	if err != nil {
		return nil, fmt.Errorf("allocate trade %d: %w", tradeID, err)
	}
	l.apply(batch)
	return batch, nil
}

// Claim pays a side's claimable balance to to and zeroes it. A side can be
// claimed once; a repeat is a Conflict even if the first claim paid zero.
// The returned batch is nil when there was nothing to pay.
func (l *Ledger) Claim(
	ctx context.Context,
	ref ledger.BatchRef,
	c Collateral,
	tradeID uint64,
	side event.Side,
	to common.Address,
) (*ledger.Batch, int64, error) {
	key := claimKey{tradeID, side}
	if l.claimed[key] {
		return nil, 0, errs.Conflict(errs.ReasonAlreadyClaimed, "trade %d side %s", tradeID, side)
	}

	batch, amount, err := l.journals.GenerateClaim(ref, tradeID, side, c.Symbol)
	if err != nil {
		return nil, 0, err
	}
	if batch == nil {
		l.claimed[key] = true
		return nil, 0, nil
	}

	// zero the balance and mark claimed before paying out
	l.claimed[key] = true
	err = l.interact(batch, func() error {
		return c.Asset.Transfer(ctx, l.custody, to, amount)
	})
	if err != nil {
		delete(l.claimed, key)
		return nil, 0, fmt.Errorf("pay claim: %w", err)
	}
	return batch, amount, nil
}

// Claimed reports whether a side has been claimed.
func (l *Ledger) Claimed(tradeID uint64, side event.Side) bool {
	return l.claimed[claimKey{tradeID, side}]
}

// CollectFees drains the asset's fee pool to receiver.
func (l *Ledger) CollectFees(
	ctx context.Context,
	ref ledger.BatchRef,
	c Collateral,
	receiver common.Address,
) (*ledger.Batch, int64, error) {
	batch, amount, err := l.journals.GenerateFeeCollection(ref, c.Symbol)
	if err != nil {
		return nil, 0, errs.Conflict(errs.ReasonNoFees, "%s", c.Symbol)
	}

	err = l.interact(batch, func() error {
		return c.Asset.Transfer(ctx, l.custody, receiver, amount)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("pay fees: %w", err)
	}
	return batch, amount, nil
}

// Restore rebuilds balances from logged journals and marks claimed sides.
// The book must be empty.
func (l *Ledger) Restore(journals []ledger.Journal, claimed map[uint64][2]bool) error {
	for _, j := range journals {
		l.tracker.ApplyJournal(j)
	}
	for id, sides := range claimed {
		for s, done := range sides {
			if done {
				l.claimed[claimKey{id, event.Side(s)}] = true
			}
		}
	}
	return l.validator.ValidateGlobalBalance()
}
