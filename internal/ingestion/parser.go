package ingestion

import (
	"OptionEscrow/internal/access"
	"OptionEscrow/internal/command"
	"OptionEscrow/internal/event"
	"OptionEscrow/internal/payoff"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// SubjectPrefix is the NATS subject root for inbound commands:
// escrow.commands.<command_type>[.<anything>].
const SubjectPrefix = "escrow.commands."

// CommandTypeFromSubject extracts the command type token from a subject.
func CommandTypeFromSubject(subject string) (command.Type, error) {
	rest, ok := strings.CutPrefix(subject, SubjectPrefix)
	if !ok || rest == "" {
		return "", fmt.Errorf("subject %q outside %s>", subject, SubjectPrefix)
	}
	token, _, _ := strings.Cut(rest, ".")
	t := command.Type(token)
	if command.New(t) == nil {
		return "", fmt.Errorf("unknown command type %q", token)
	}
	return t, nil
}

// ParseCommand converts a JSON payload into a typed command.
func ParseCommand(t command.Type, data []byte) (command.Command, error) {
	switch t {
	case command.TypeCreateTrade:
		return parseCreateTrade(data)
	case command.TypeFundSide:
		return parseFundSide(data)
	case command.TypeMatchOffer:
		j, meta, err := parseTradeRef(data, t)
		if err != nil {
			return nil, err
		}
		return &command.MatchOffer{Meta: meta, TradeID: j.TradeID}, nil
	case command.TypeCancelTrade:
		j, meta, err := parseTradeRef(data, t)
		if err != nil {
			return nil, err
		}
		return &command.CancelTrade{Meta: meta, TradeID: j.TradeID}, nil
	case command.TypeSettle:
		j, meta, err := parseTradeRef(data, t)
		if err != nil {
			return nil, err
		}
		return &command.Settle{Meta: meta, TradeID: j.TradeID}, nil
	case command.TypeClaim:
		return parseClaim(data)
	case command.TypeCollectFees:
		return parseCollectFees(data)
	case command.TypePause:
		meta, err := parseMetaOnly(data, t)
		if err != nil {
			return nil, err
		}
		return &command.Pause{Meta: meta}, nil
	case command.TypeUnpause:
		meta, err := parseMetaOnly(data, t)
		if err != nil {
			return nil, err
		}
		return &command.Unpause{Meta: meta}, nil
	case command.TypeSetFeePercentage:
		return parseSetFeePercentage(data)
	case command.TypeSetFeeReceiver:
		return parseSetFeeReceiver(data)
	case command.TypeGrantRole, command.TypeRevokeRole:
		return parseRole(data, t)
	case command.TypeInsertOracleSource:
		return parseInsertOracleSource(data)
	case command.TypeSetOraclePrice:
		return parseSetOraclePrice(data)
	case command.TypeSetOracleWriter:
		return parseSetOracleWriter(data)
	default:
		return nil, fmt.Errorf("unknown command type: %s", t)
	}
}

// --- JSON wire formats ---
// snake_case, addresses as 0x-prefixed hex, amounts in collateral base units.

type metaJSON struct {
	IdempotencyKey string `json:"idempotency_key"`
	Caller         string `json:"caller"`
}

func (j metaJSON) meta(t command.Type) (command.Meta, error) {
	if j.IdempotencyKey == "" {
		return command.Meta{}, fmt.Errorf("%s: idempotency_key is required", t)
	}
	caller, err := parseAddress("caller", j.Caller)
	if err != nil {
		return command.Meta{}, fmt.Errorf("%s: %w", t, err)
	}
	return command.Meta{Key: j.IdempotencyKey, From: caller}, nil
}

func parseAddress(field, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("parse %s: %q is not a hex address", field, v)
	}
	return common.HexToAddress(v), nil
}

func parseSide(field, v string) (event.Side, error) {
	side, err := event.ParseSide(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	return side, nil
}

func decode(data []byte, t command.Type, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", t, err)
	}
	return nil
}

func parseMetaOnly(data []byte, t command.Type) (command.Meta, error) {
	var j metaJSON
	if err := decode(data, t, &j); err != nil {
		return command.Meta{}, err
	}
	return j.meta(t)
}

type createTradeJSON struct {
	metaJSON
	Collateral  string `json:"collateral"`
	Strike      int64  `json:"strike"`
	IsCallLike  bool   `json:"is_call_like"`
	OracleRef   string `json:"oracle_ref"`
	OracleIndex uint64 `json:"oracle_index"`
	DepositEnd  int64  `json:"deposit_end"`
	SettleStart int64  `json:"settle_start"`
	LongAmount  int64  `json:"long_amount"`
	ShortAmount int64  `json:"short_amount"`
	CreatorSide string `json:"creator_side"`
}

func parseCreateTrade(data []byte) (*command.CreateTrade, error) {
	var j createTradeJSON
	if err := decode(data, command.TypeCreateTrade, &j); err != nil {
		return nil, err
	}
	meta, err := j.meta(command.TypeCreateTrade)
	if err != nil {
		return nil, err
	}
	side, err := parseSide("creator_side", j.CreatorSide)
	if err != nil {
		return nil, err
	}
	if j.Collateral == "" || j.OracleRef == "" {
		return nil, fmt.Errorf("parse create_trade: collateral and oracle_ref are required")
	}
	return &command.CreateTrade{
		Meta:       meta,
		Collateral: j.Collateral,
		Payoff: payoff.Params{
			Strike:      j.Strike,
			IsCallLike:  j.IsCallLike,
			OracleRef:   j.OracleRef,
			OracleIndex: j.OracleIndex,
		},
		DepositEnd:  j.DepositEnd,
		SettleStart: j.SettleStart,
		LongAmount:  j.LongAmount,
		ShortAmount: j.ShortAmount,
		CreatorSide: side,
	}, nil
}

type tradeRefJSON struct {
	metaJSON
	TradeID uint64 `json:"trade_id"`
	Side    string `json:"side,omitempty"`
}

func parseTradeRef(data []byte, t command.Type) (tradeRefJSON, command.Meta, error) {
	var j tradeRefJSON
	if err := decode(data, t, &j); err != nil {
		return j, command.Meta{}, err
	}
	meta, err := j.meta(t)
	if err != nil {
		return j, command.Meta{}, err
	}
	if j.TradeID == 0 {
		return j, command.Meta{}, fmt.Errorf("parse %s: trade_id is required", t)
	}
	return j, meta, nil
}

func parseFundSide(data []byte) (*command.FundSide, error) {
	j, meta, err := parseTradeRef(data, command.TypeFundSide)
	if err != nil {
		return nil, err
	}
	side, err := parseSide("side", j.Side)
	if err != nil {
		return nil, err
	}
	return &command.FundSide{Meta: meta, TradeID: j.TradeID, Side: side}, nil
}

func parseClaim(data []byte) (*command.Claim, error) {
	j, meta, err := parseTradeRef(data, command.TypeClaim)
	if err != nil {
		return nil, err
	}
	side, err := parseSide("side", j.Side)
	if err != nil {
		return nil, err
	}
	return &command.Claim{Meta: meta, TradeID: j.TradeID, Side: side}, nil
}

type collectFeesJSON struct {
	metaJSON
	Collateral string `json:"collateral"`
}

func parseCollectFees(data []byte) (*command.CollectFees, error) {
	var j collectFeesJSON
	if err := decode(data, command.TypeCollectFees, &j); err != nil {
		return nil, err
	}
	meta, err := j.meta(command.TypeCollectFees)
	if err != nil {
		return nil, err
	}
	return &command.CollectFees{Meta: meta, Collateral: j.Collateral}, nil
}

type feeJSON struct {
	metaJSON
	FeeBps   int64  `json:"fee_bps"`
	Receiver string `json:"receiver"`
}

func parseSetFeePercentage(data []byte) (*command.SetFeePercentage, error) {
	var j feeJSON
	if err := decode(data, command.TypeSetFeePercentage, &j); err != nil {
		return nil, err
	}
	meta, err := j.meta(command.TypeSetFeePercentage)
	if err != nil {
		return nil, err
	}
	return &command.SetFeePercentage{Meta: meta, FeeBps: j.FeeBps}, nil
}

func parseSetFeeReceiver(data []byte) (*command.SetFeeReceiver, error) {
	var j feeJSON
	if err := decode(data, command.TypeSetFeeReceiver, &j); err != nil {
		return nil, err
	}
	meta, err := j.meta(command.TypeSetFeeReceiver)
	if err != nil {
		return nil, err
	}
	receiver, err := parseAddress("receiver", j.Receiver)
	if err != nil {
		return nil, err
	}
	return &command.SetFeeReceiver{Meta: meta, Receiver: receiver}, nil
}

type roleJSON struct {
	metaJSON
	Role    string `json:"role"`
	Account string `json:"account"`
}

func parseRole(data []byte, t command.Type) (command.Command, error) {
	var j roleJSON
	if err := decode(data, t, &j); err != nil {
		return nil, err
	}
	meta, err := j.meta(t)
	if err != nil {
		return nil, err
	}
	role, err := access.ParseRole(j.Role)
	if err != nil {
		return nil, fmt.Errorf("parse role: %w", err)
	}
	account, err := parseAddress("account", j.Account)
	if err != nil {
		return nil, err
	}
	if t == command.TypeGrantRole {
		return &command.GrantRole{Meta: meta, Role: role, Account: account}, nil
	}
	return &command.RevokeRole{Meta: meta, Role: role, Account: account}, nil
}

type oracleJSON struct {
	metaJSON
	OracleRef string `json:"oracle_ref"`
	Source    string `json:"source"`
	Index     uint64 `json:"index"`
	Price     int64  `json:"price"`
	Writer    string `json:"writer"`
}

func parseInsertOracleSource(data []byte) (*command.InsertOracleSource, error) {
	var j oracleJSON
	if err := decode(data, command.TypeInsertOracleSource, &j); err != nil {
		return nil, err
	}
	meta, err := j.meta(command.TypeInsertOracleSource)
	if err != nil {
		return nil, err
	}
	return &command.InsertOracleSource{Meta: meta, OracleRef: j.OracleRef, Source: j.Source}, nil
}

func parseSetOraclePrice(data []byte) (*command.SetOraclePrice, error) {
	var j oracleJSON
	if err := decode(data, command.TypeSetOraclePrice, &j); err != nil {
		return nil, err
	}
	meta, err := j.meta(command.TypeSetOraclePrice)
	if err != nil {
		return nil, err
	}
	return &command.SetOraclePrice{Meta: meta, OracleRef: j.OracleRef, Index: j.Index, Price: j.Price}, nil
}

func parseSetOracleWriter(data []byte) (*command.SetOracleWriter, error) {
	var j oracleJSON
	if err := decode(data, command.TypeSetOracleWriter, &j); err != nil {
		return nil, err
	}
	meta, err := j.meta(command.TypeSetOracleWriter)
	if err != nil {
		return nil, err
	}
	writer, err := parseAddress("writer", j.Writer)
	if err != nil {
		return nil, err
	}
	return &command.SetOracleWriter{Meta: meta, OracleRef: j.OracleRef, Index: j.Index, Writer: writer}, nil
}
