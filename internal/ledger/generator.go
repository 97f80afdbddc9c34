package ledger

import (
	"OptionEscrow/internal/event"
	"fmt"

	"github.com/google/uuid"
)

// BatchRef identifies the operation a batch is generated for.
type BatchRef struct {
	EventRef  string
	Sequence  int64
	Timestamp int64 // epoch microseconds
}

// Allocation describes how a matched trade's deposits are redistributed at
// settlement. BuyerShare is paid out of the short deposit to the long side;
// the long deposit always moves to the short side.
type Allocation struct {
	LongDeposit  int64
	ShortDeposit int64
	BuyerShare   int64
	BuyerFee     int64
	SellerFee    int64
}

// LongClaimable is what the long side can claim after fees.
func (a Allocation) LongClaimable() int64 {
	return a.BuyerShare - a.BuyerFee
}

// ShortClaimable is what the short side can claim after fees.
func (a Allocation) ShortClaimable() int64 {
	return a.ShortDeposit - a.BuyerShare + a.LongDeposit - a.SellerFee
}

// Fees is the protocol fee taken at settlement.
func (a Allocation) Fees() int64 {
	return a.BuyerFee + a.SellerFee
}

func (a Allocation) validate() error {
	switch {
	case a.LongDeposit <= 0 || a.ShortDeposit <= 0:
		return fmt.Errorf("allocation needs both deposits: long=%d short=%d", a.LongDeposit, a.ShortDeposit)
	case a.BuyerShare < 0 || a.BuyerShare > a.ShortDeposit:
		return fmt.Errorf("buyer share %d outside [0, %d]", a.BuyerShare, a.ShortDeposit)
	case a.BuyerFee < 0 || a.BuyerFee > a.BuyerShare:
		return fmt.Errorf("buyer fee %d outside [0, %d]", a.BuyerFee, a.BuyerShare)
	case a.SellerFee < 0 || a.SellerFee > a.LongDeposit:
		return fmt.Errorf("seller fee %d outside [0, %d]", a.SellerFee, a.LongDeposit)
	}
	return nil
}

// JournalGenerator creates balanced journal batches for escrow operations
type JournalGenerator struct {
	balanceTracker *BalanceTracker
}

func NewJournalGenerator(tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		balanceTracker: tracker,
	}
}

func newBatch(ref BatchRef, capacity int) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  ref.EventRef,
		Sequence:  ref.Sequence,
		Timestamp: ref.Timestamp,
		Journals:  make([]Journal, 0, capacity),
	}
}

// add appends a journal moving amount from credit to debit. Zero amounts
// are skipped so callers can describe optional legs unconditionally.
func (b *Batch) add(debit, credit AccountKey, amount int64, jt JournalType) {
	if amount == 0 {
		return
	}
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Asset:         debit.Asset,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// GenerateDeposit moves a side's required amount into custody.
// external:collateral → trade:<id>:<side>:deposit
func (jg *JournalGenerator) GenerateDeposit(
	ref BatchRef,
	tradeID uint64,
	side event.Side,
	asset string,
	amount int64,
) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive: %d", amount)
	}

	batch := newBatch(ref, 1)
	batch.add(
		NewTradeAccountKey(tradeID, side, SubTypeDeposit, asset),
		NewExternalAccountKey(asset),
		amount,
		JournalTypeDeposit,
	)
	return batch, nil
}

// GenerateRefund returns a side's entire deposit.
// trade:<id>:<side>:deposit → external:collateral
func (jg *JournalGenerator) GenerateRefund(
	ref BatchRef,
	tradeID uint64,
	side event.Side,
	asset string,
) (*Batch, int64, error) {
	key := NewTradeAccountKey(tradeID, side, SubTypeDeposit, asset)
	amount := jg.balanceTracker.GetBalance(key)
	if amount <= 0 {
		return nil, 0, fmt.Errorf("nothing to refund in %s", key.AccountPath())
	}

	batch := newBatch(ref, 1)
	batch.add(NewExternalAccountKey(asset), key, amount, JournalTypeRefund)
	return batch, amount, nil
}

// GenerateSettlement empties both deposit accounts into the claimable and
// fee accounts according to alloc.
func (jg *JournalGenerator) GenerateSettlement(
	ref BatchRef,
	tradeID uint64,
	asset string,
	alloc Allocation,
) (*Batch, error) {
	if err := alloc.validate(); err != nil {
		return nil, err
	}

	longDeposit := NewTradeAccountKey(tradeID, event.SideLong, SubTypeDeposit, asset)
	shortDeposit := NewTradeAccountKey(tradeID, event.SideShort, SubTypeDeposit, asset)

	// PRE-CHECK: the allocation must consume exactly what is locked
	if got := jg.balanceTracker.GetBalance(longDeposit); got != alloc.LongDeposit {
		return nil, fmt.Errorf("settlement pre-check failed: %s holds %d, allocation expects %d",
			longDeposit.AccountPath(), got, alloc.LongDeposit)
	}
	if got := jg.balanceTracker.GetBalance(shortDeposit); got != alloc.ShortDeposit {
		return nil, fmt.Errorf("settlement pre-check failed: %s holds %d, allocation expects %d",
			shortDeposit.AccountPath(), got, alloc.ShortDeposit)
	}

	longClaim := NewTradeAccountKey(tradeID, event.SideLong, SubTypeClaimable, asset)
	shortClaim := NewTradeAccountKey(tradeID, event.SideShort, SubTypeClaimable, asset)
	fees := NewFeesAccountKey(asset)

	batch := newBatch(ref, 5)

	// short deposit: buyer's payout, its fee, remainder back to the seller
	batch.add(longClaim, shortDeposit, alloc.BuyerShare-alloc.BuyerFee, JournalTypeSettleAllocate)
	batch.add(fees, shortDeposit, alloc.BuyerFee, JournalTypeSettleFee)
	batch.add(shortClaim, shortDeposit, alloc.ShortDeposit-alloc.BuyerShare, JournalTypeSettleAllocate)

	// long deposit: premium to the seller, net of fee
	batch.add(shortClaim, longDeposit, alloc.LongDeposit-alloc.SellerFee, JournalTypeSettleAllocate)
	batch.add(fees, longDeposit, alloc.SellerFee, JournalTypeSettleFee)

	return batch, nil
}

// GenerateClaim pays out a side's entire claimable balance.
// trade:<id>:<side>:claimable → external:collateral
func (jg *JournalGenerator) GenerateClaim(
	ref BatchRef,
	tradeID uint64,
	side event.Side,
	asset string,
) (*Batch, int64, error) {
	key := NewTradeAccountKey(tradeID, side, SubTypeClaimable, asset)
	amount := jg.balanceTracker.GetBalance(key)
	if amount < 0 {
		return nil, 0, fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), amount)
	}
	if amount == 0 {
		return nil, 0, nil
	}

	batch := newBatch(ref, 1)
	batch.add(NewExternalAccountKey(asset), key, amount, JournalTypeClaimPayout)
	return batch, amount, nil
}

// GenerateFeeCollection drains the fee pool of an asset.
// system:fees → external:collateral
func (jg *JournalGenerator) GenerateFeeCollection(ref BatchRef, asset string) (*Batch, int64, error) {
	key := NewFeesAccountKey(asset)
	amount := jg.balanceTracker.GetBalance(key)
	if amount <= 0 {
		return nil, 0, fmt.Errorf("no fees in %s", key.AccountPath())
	}

	batch := newBatch(ref, 1)
	batch.add(NewExternalAccountKey(asset), key, amount, JournalTypeFeeCollect)
	return batch, amount, nil
}
