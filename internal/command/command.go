// Package command defines the inbound mutating requests accepted by the
// registry. Every command names its caller and carries an idempotency key.
package command

import (
	"OptionEscrow/internal/access"
	"OptionEscrow/internal/event"
	"OptionEscrow/internal/payoff"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Type is the wire name of a command.
type Type string

const (
	TypeCreateTrade        Type = "create_trade"
	TypeFundSide           Type = "fund_side"
	TypeMatchOffer         Type = "match_offer"
	TypeCancelTrade        Type = "cancel_trade"
	TypeSettle             Type = "settle"
	TypeClaim              Type = "claim"
	TypeCollectFees        Type = "collect_fees"
	TypePause              Type = "pause"
	TypeUnpause            Type = "unpause"
	TypeSetFeePercentage   Type = "set_fee_percentage"
	TypeSetFeeReceiver     Type = "set_fee_receiver"
	TypeGrantRole          Type = "grant_role"
	TypeRevokeRole         Type = "revoke_role"
	TypeInsertOracleSource Type = "insert_oracle_source"
	TypeSetOraclePrice     Type = "set_oracle_price"
	TypeSetOracleWriter    Type = "set_oracle_writer"
)

// AllTypes lists every command type.
var AllTypes = []Type{
	TypeCreateTrade, TypeFundSide, TypeMatchOffer, TypeCancelTrade,
	TypeSettle, TypeClaim, TypeCollectFees, TypePause, TypeUnpause,
	TypeSetFeePercentage, TypeSetFeeReceiver, TypeGrantRole, TypeRevokeRole,
	TypeInsertOracleSource, TypeSetOraclePrice, TypeSetOracleWriter,
}

// Command is implemented by every request type.
type Command interface {
	// IdempotencyKey returns the stable dedup key ("" disables dedup)
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() Type

	// Caller returns the address the request acts for
	Caller() common.Address
}

// Meta is embedded by every command.
type Meta struct {
	Key  string         `json:"idempotency_key"`
	From common.Address `json:"caller"`
}

func (m Meta) IdempotencyKey() string { return m.Key }
func (m Meta) Caller() common.Address { return m.From }

// NewMeta returns Meta with a fresh random key.
func NewMeta(from common.Address) Meta {
	return Meta{Key: uuid.NewString(), From: from}
}

// CreateTrade opens a new trade. CreatorSide is the side the creator takes
// and, with auto-escrow enabled, funds immediately.
type CreateTrade struct {
	Meta
	Collateral  string        `json:"collateral"`
	Payoff      payoff.Params `json:"payoff"`
	DepositEnd  int64         `json:"deposit_end"`
	SettleStart int64         `json:"settle_start"`
	LongAmount  int64         `json:"long_amount"`
	ShortAmount int64         `json:"short_amount"`
	CreatorSide event.Side    `json:"creator_side"`
}

func (c *CreateTrade) CommandType() Type { return TypeCreateTrade }

type FundSide struct {
	Meta
	TradeID uint64     `json:"trade_id"`
	Side    event.Side `json:"side"`
}

func (c *FundSide) CommandType() Type { return TypeFundSide }

// MatchOffer funds whichever side of an open trade is still empty.
type MatchOffer struct {
	Meta
	TradeID uint64 `json:"trade_id"`
}

func (c *MatchOffer) CommandType() Type { return TypeMatchOffer }

type CancelTrade struct {
	Meta
	TradeID uint64 `json:"trade_id"`
}

func (c *CancelTrade) CommandType() Type { return TypeCancelTrade }

type Settle struct {
	Meta
	TradeID uint64 `json:"trade_id"`
}

func (c *Settle) CommandType() Type { return TypeSettle }

type Claim struct {
	Meta
	TradeID uint64     `json:"trade_id"`
	Side    event.Side `json:"side"`
}

func (c *Claim) CommandType() Type { return TypeClaim }

type CollectFees struct {
	Meta
	Collateral string `json:"collateral"`
}

func (c *CollectFees) CommandType() Type { return TypeCollectFees }

type Pause struct{ Meta }

func (c *Pause) CommandType() Type { return TypePause }

type Unpause struct{ Meta }

func (c *Unpause) CommandType() Type { return TypeUnpause }

type SetFeePercentage struct {
	Meta
	FeeBps int64 `json:"fee_bps"`
}

func (c *SetFeePercentage) CommandType() Type { return TypeSetFeePercentage }

type SetFeeReceiver struct {
	Meta
	Receiver common.Address `json:"receiver"`
}

func (c *SetFeeReceiver) CommandType() Type { return TypeSetFeeReceiver }

type GrantRole struct {
	Meta
	Role    access.Role    `json:"role"`
	Account common.Address `json:"account"`
}

func (c *GrantRole) CommandType() Type { return TypeGrantRole }

type RevokeRole struct {
	Meta
	Role    access.Role    `json:"role"`
	Account common.Address `json:"account"`
}

func (c *RevokeRole) CommandType() Type { return TypeRevokeRole }

type InsertOracleSource struct {
	Meta
	OracleRef string `json:"oracle_ref"`
	Source    string `json:"source"`
}

func (c *InsertOracleSource) CommandType() Type { return TypeInsertOracleSource }

type SetOraclePrice struct {
	Meta
	OracleRef string `json:"oracle_ref"`
	Index     uint64 `json:"index"`
	Price     int64  `json:"price"`
}

func (c *SetOraclePrice) CommandType() Type { return TypeSetOraclePrice }

// SetOracleWriter hands an oracle index to a new writer. Admin only.
type SetOracleWriter struct {
	Meta
	OracleRef string         `json:"oracle_ref"`
	Index     uint64         `json:"index"`
	Writer    common.Address `json:"writer"`
}

func (c *SetOracleWriter) CommandType() Type { return TypeSetOracleWriter }

// New returns an empty command of type t, or nil if t is unknown.
func New(t Type) Command {
	switch t {
	case TypeCreateTrade:
		return &CreateTrade{}
	case TypeFundSide:
		return &FundSide{}
	case TypeMatchOffer:
		return &MatchOffer{}
	case TypeCancelTrade:
		return &CancelTrade{}
	case TypeSettle:
		return &Settle{}
	case TypeClaim:
		return &Claim{}
	case TypeCollectFees:
		return &CollectFees{}
	case TypePause:
		return &Pause{}
	case TypeUnpause:
		return &Unpause{}
	case TypeSetFeePercentage:
		return &SetFeePercentage{}
	case TypeSetFeeReceiver:
		return &SetFeeReceiver{}
	case TypeGrantRole:
		return &GrantRole{}
	case TypeRevokeRole:
		return &RevokeRole{}
	case TypeInsertOracleSource:
		return &InsertOracleSource{}
	case TypeSetOraclePrice:
		return &SetOraclePrice{}
	case TypeSetOracleWriter:
		return &SetOracleWriter{}
	}
	return nil
}
