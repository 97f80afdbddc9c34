package event

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Side identifies one counterparty slot of a trade. The long side is the
// buyer (locks the premium); the short side is the seller (locks the digital).
type Side uint8

const (
	SideLong Side = iota
	SideShort
)

// Sides lists both sides in canonical order.
var Sides = [2]Side{SideLong, SideShort}

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// Valid reports whether s is one of the two sides.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// ParseSide accepts "long"/"buyer" and "short"/"seller" (case-insensitive).
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "long", "buyer":
		return SideLong, nil
	case "short", "seller":
		return SideShort, nil
	}
	return 0, fmt.Errorf("unknown side %q", v)
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid side %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// TradeCreated is emitted when a new trade enters the Open state.
type TradeCreated struct {
	TradeID     uint64         `json:"trade_id"`
	Creator     common.Address `json:"creator"`
	Collateral  string         `json:"collateral"`
	LongAmount  int64          `json:"long_amount"`
	ShortAmount int64          `json:"short_amount"`
	DepositEnd  int64          `json:"deposit_end"`
	SettleStart int64          `json:"settle_start"`
}

func (e *TradeCreated) EventType() EventType { return EventTypeTradeCreated }
func (e *TradeCreated) TradeRef() *uint64    { return &e.TradeID }

// TradeFunded is emitted for every accepted deposit.
type TradeFunded struct {
	TradeID uint64         `json:"trade_id"`
	Side    Side           `json:"side"`
	Funder  common.Address `json:"funder"`
	Amount  int64          `json:"amount"`
	Matched bool           `json:"matched"`
}

func (e *TradeFunded) EventType() EventType { return EventTypeTradeFunded }
func (e *TradeFunded) TradeRef() *uint64    { return &e.TradeID }

type TradeCancelled struct {
	TradeID  uint64         `json:"trade_id"`
	Refunded common.Address `json:"refunded"`
	Amount   int64          `json:"amount"`
}

func (e *TradeCancelled) EventType() EventType { return EventTypeTradeCancelled }
func (e *TradeCancelled) TradeRef() *uint64    { return &e.TradeID }

// TradeSettled carries the oracle snapshot and the resulting claimables.
type TradeSettled struct {
	TradeID         uint64 `json:"trade_id"`
	Price           int64  `json:"price"`
	PriceTimestamp  int64  `json:"price_timestamp"`
	InTheMoney      bool   `json:"in_the_money"`
	LongClaimable   int64  `json:"long_claimable"`
	ShortClaimable  int64  `json:"short_claimable"`
	CollectableFees int64  `json:"collectable_fees"`
}

func (e *TradeSettled) EventType() EventType { return EventTypeTradeSettled }
func (e *TradeSettled) TradeRef() *uint64    { return &e.TradeID }

type TradeClaimed struct {
	TradeID   uint64         `json:"trade_id"`
	Side      Side           `json:"side"`
	Recipient common.Address `json:"recipient"`
	Amount    int64          `json:"amount"`
}

func (e *TradeClaimed) EventType() EventType { return EventTypeTradeClaimed }
func (e *TradeClaimed) TradeRef() *uint64    { return &e.TradeID }
