package query

import (
	"OptionEscrow/internal/core"
	"OptionEscrow/internal/event"

	"github.com/shopspring/decimal"
)

// Amount is a base-unit quantity together with its display form.
type Amount struct {
	Raw     int64  `json:"raw"`
	Display string `json:"display"`
}

func NewAmount(raw int64, decimals int32) Amount {
	return Amount{Raw: raw, Display: decimal.New(raw, -decimals).String()}
}

// SideView is one side of a trade as shown to a front-end.
type SideView struct {
	Participant string `json:"participant"`
	Required    Amount `json:"required"`
	Funded      bool   `json:"funded"`
	Claimable   Amount `json:"claimable"`
	Claimed     bool   `json:"claimed"`
}

// TradeView is the read model of a trade.
type TradeView struct {
	ID              uint64   `json:"id"`
	Collateral      string   `json:"collateral"`
	Creator         string   `json:"creator"`
	CreatorSide     string   `json:"creator_side"`
	State           string   `json:"state"`
	Strike          int64    `json:"strike"`
	IsCallLike      bool     `json:"is_call_like"`
	OracleRef       string   `json:"oracle_ref"`
	OracleIndex     uint64   `json:"oracle_index"`
	DepositEnd      int64    `json:"deposit_end"`
	SettleStart     int64    `json:"settle_start"`
	Long            SideView `json:"long"`
	Short           SideView `json:"short"`
	CollectableFees Amount   `json:"collectable_fees"`
	SettlementPrice int64    `json:"settlement_price,omitempty"`
	SettlementTime  int64    `json:"settlement_time,omitempty"`
	CreatedAt       int64    `json:"created_at"`
	SettledAt       int64    `json:"settled_at,omitempty"`
	AsOfSequence    int64    `json:"as_of_sequence"`
}

// ViewOf renders a registry trade record.
func ViewOf(t *core.Trade, decimals int32, asOf int64) TradeView {
	side := func(s event.Side) SideView {
		v := SideView{
			Required:  NewAmount(t.RequiredAmount(s), decimals),
			Funded:    t.Funded[s],
			Claimable: NewAmount(t.Claimable(s), decimals),
			Claimed:   t.Claimed[s],
		}
		if t.Funded[s] {
			v.Participant = t.Participant(s).Hex()
		}
		return v
	}
	return TradeView{
		ID:              t.ID,
		Collateral:      t.Collateral,
		Creator:         t.Creator.Hex(),
		CreatorSide:     t.CreatorSide.String(),
		State:           t.State.String(),
		Strike:          t.Payoff.Strike,
		IsCallLike:      t.Payoff.IsCallLike,
		OracleRef:       t.Payoff.OracleRef,
		OracleIndex:     t.Payoff.OracleIndex,
		DepositEnd:      t.DepositEnd,
		SettleStart:     t.SettleStart,
		Long:            side(event.SideLong),
		Short:           side(event.SideShort),
		CollectableFees: NewAmount(t.CollectableFees, decimals),
		SettlementPrice: t.Settlement.Price,
		SettlementTime:  t.Settlement.Timestamp,
		CreatedAt:       t.CreatedAt,
		SettledAt:       t.SettledAt,
		AsOfSequence:    asOf,
	}
}

// OraclePriceView is one projected oracle index.
type OraclePriceView struct {
	OracleRef    string `json:"oracle_ref"`
	Index        uint64 `json:"index"`
	Source       string `json:"source,omitempty"`
	Writer       string `json:"writer,omitempty"`
	Price        int64  `json:"price"`
	UpdatedAt    int64  `json:"updated_at"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// FeeView is the fee configuration and pause flag.
type FeeView struct {
	FeeBps       int64  `json:"fee_bps"`
	FeeDecimals  int    `json:"fee_decimals"`
	Percentage   string `json:"percentage"`
	Receiver     string `json:"receiver"`
	Paused       bool   `json:"paused"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// FeePercentage renders bps at 10^-decimals as a percentage, e.g. 25 at 4 -> "0.25".
func FeePercentage(bps int64, decimals int) string {
	return decimal.New(bps, -int32(decimals)).Shift(2).String()
}

// JournalEntry is a journal row for API queries.
type JournalEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Asset         string `json:"asset"`
	Amount        Amount `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	SequenceGaps     []int64           `json:"sequence_gaps,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	ResidualTrades   []ResidualTrade   `json:"residual_trades,omitempty"`
}

// UnbalancedAsset is an asset whose journal does not net to zero.
type UnbalancedAsset struct {
	Asset     string `json:"asset"`
	Imbalance int64  `json:"imbalance"`
}

// ResidualTrade is a closed trade whose accounts still hold value.
type ResidualTrade struct {
	TradeID  uint64 `json:"trade_id"`
	State    string `json:"state"`
	Residual int64  `json:"residual"`
}
