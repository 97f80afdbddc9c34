package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeRefund
	JournalTypeSettleAllocate
	JournalTypeSettleFee
	JournalTypeClaimPayout
	JournalTypeFeeCollect
	JournalTypeReversal
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeRefund:
		return "refund"
	case JournalTypeSettleAllocate:
		return "settle_allocate"
	case JournalTypeSettleFee:
		return "settle_fee"
	case JournalTypeClaimPayout:
		return "claim_payout"
	case JournalTypeFeeCollect:
		return "fee_collect"
	case JournalTypeReversal:
		return "reversal"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of the source command
	Sequence      int64       // Global sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	Asset         string      // Collateral symbol
	Amount        int64       // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Call-time timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each entry moves one positive amount from its credit account to its debit
// account, so every entry and therefore every batch is balanced by construction.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.Asset != j.Asset || j.CreditAccount.Asset != j.Asset {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}

// Total returns the sum of all journal amounts in the batch.
func (b *Batch) Total() int64 {
	var total int64
	for _, j := range b.Journals {
		total += j.Amount
	}
	return total
}

// Reversal returns a new batch that undoes b: every entry with debit and
// credit swapped, in reverse order.
func (b *Batch) Reversal() *Batch {
	batchID := uuid.New()
	rev := &Batch{
		BatchID:   batchID,
		EventRef:  b.EventRef,
		Sequence:  b.Sequence,
		Timestamp: b.Timestamp,
		Journals:  make([]Journal, 0, len(b.Journals)),
	}
	for i := len(b.Journals) - 1; i >= 0; i-- {
		j := b.Journals[i]
		rev.Journals = append(rev.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.CreditAccount,
			CreditAccount: j.DebitAccount,
			Asset:         j.Asset,
			Amount:        j.Amount,
			JournalType:   JournalTypeReversal,
			Timestamp:     j.Timestamp,
		})
	}
	return rev
}
