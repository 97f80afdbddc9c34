package core

import (
	"OptionEscrow/internal/event"
	"OptionEscrow/internal/payoff"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// TradeState is the lifecycle position of a trade.
//
//	Open ──► Matched ──► Settled
//	  │
//	  └────► Cancelled
type TradeState uint8

const (
	StateOpen TradeState = iota
	StateCancelled
	StateMatched
	StateSettled
)

func (s TradeState) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateCancelled:
		return "CANCELLED"
	case StateMatched:
		return "MATCHED"
	case StateSettled:
		return "SETTLED"
	default:
		return fmt.Sprintf("STATE(%d)", uint8(s))
	}
}

func (s TradeState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TradeState) UnmarshalText(b []byte) error {
	for _, v := range []TradeState{StateOpen, StateCancelled, StateMatched, StateSettled} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown trade state %q", b)
}

// OracleSnapshot is the price observed at settlement.
type OracleSnapshot struct {
	Price     int64 `json:"price"`
	Timestamp int64 `json:"timestamp"`
}

// Trade is one escrow agreement. Times are unix seconds; amounts are base
// units of the collateral.
type Trade struct {
	ID                   uint64         `json:"id"`
	Collateral           string         `json:"collateral"`
	Creator              common.Address `json:"creator"`
	Buyer                common.Address `json:"buyer"`
	Seller               common.Address `json:"seller"`
	LongRequiredAmount   int64          `json:"long_required_amount"`
	ShortRequiredAmount  int64          `json:"short_required_amount"`
	DepositEnd           int64          `json:"deposit_end"`
	SettleStart          int64          `json:"settle_start"`
	Payoff               payoff.Params  `json:"payoff"`
	CreatorSide          event.Side     `json:"creator_side"`
	State                TradeState     `json:"state"`
	Funded               [2]bool        `json:"funded"`
	Claimed              [2]bool        `json:"claimed"`
	CollectableFees      int64          `json:"collectable_fees"`
	LongClaimableAmount  int64          `json:"long_claimable_amount"`
	ShortClaimableAmount int64          `json:"short_claimable_amount"`
	Settlement           OracleSnapshot `json:"oracle_snapshot"`
	CreatedAt            int64          `json:"created_at"`
	SettledAt            int64          `json:"settled_at"`
}

// Participant returns the address bound to side (zero if unset).
func (t *Trade) Participant(side event.Side) common.Address {
	if side == event.SideLong {
		return t.Buyer
	}
	return t.Seller
}

func (t *Trade) setParticipant(side event.Side, who common.Address) {
	if side == event.SideLong {
		t.Buyer = who
	} else {
		t.Seller = who
	}
}

// RequiredAmount is what side must lock.
func (t *Trade) RequiredAmount(side event.Side) int64 {
	if side == event.SideLong {
		return t.LongRequiredAmount
	}
	return t.ShortRequiredAmount
}

// Claimable is what side can still claim.
func (t *Trade) Claimable(side event.Side) int64 {
	if side == event.SideLong {
		return t.LongClaimableAmount
	}
	return t.ShortClaimableAmount
}

func (t *Trade) zeroClaimable(side event.Side) {
	if side == event.SideLong {
		t.LongClaimableAmount = 0
	} else {
		t.ShortClaimableAmount = 0
	}
}

// FundedSides counts funded sides.
func (t *Trade) FundedSides() int {
	n := 0
	for _, f := range t.Funded {
		if f {
			n++
		}
	}
	return n
}

// IsParticipant reports whether who is bound to either side.
func (t *Trade) IsParticipant(who common.Address) bool {
	return (t.Funded[event.SideLong] && t.Buyer == who) ||
		(t.Funded[event.SideShort] && t.Seller == who) ||
		t.Creator == who
}

// TotalRequired is LongRequiredAmount + ShortRequiredAmount. Overflow is
// rejected at creation.
func (t *Trade) TotalRequired() int64 {
	return t.LongRequiredAmount + t.ShortRequiredAmount
}

// Clone returns an independent copy.
func (t *Trade) Clone() *Trade {
	c := *t
	return &c
}
