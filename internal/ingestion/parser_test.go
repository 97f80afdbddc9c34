package ingestion_test

import (
	"OptionEscrow/internal/access"
	"OptionEscrow/internal/command"
	"OptionEscrow/internal/event"
	"OptionEscrow/internal/ingestion"
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const (
	alice = "0x000000000000000000000000000000000000A11c"
	bob   = "0x0000000000000000000000000000000000000b0b"
	key   = "550e8400-e29b-41d4-a716-446655440000"
)

func payload(t *testing.T, fields map[string]interface{}) []byte {
	t.Helper()
	fields["idempotency_key"] = key
	fields["caller"] = alice
	data, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func parse(t *testing.T, typ command.Type, fields map[string]interface{}) command.Command {
	t.Helper()
	cmd, err := ingestion.ParseCommand(typ, payload(t, fields))
	if err != nil {
		t.Fatalf("parse %s: %v", typ, err)
	}
	if cmd.CommandType() != typ {
		t.Errorf("type: got %s, want %s", cmd.CommandType(), typ)
	}
	if cmd.IdempotencyKey() != key {
		t.Errorf("key: got %s, want %s", cmd.IdempotencyKey(), key)
	}
	if cmd.Caller() != common.HexToAddress(alice) {
		t.Errorf("caller: got %s, want %s", cmd.Caller().Hex(), alice)
	}
	return cmd
}

// =============================================================================
// Subjects
// =============================================================================

func TestCommandTypeFromSubject(t *testing.T) {
	tests := []struct {
		subject string
		want    command.Type
		wantErr bool
	}{
		{"escrow.commands.create_trade", command.TypeCreateTrade, false},
		{"escrow.commands.settle.42", command.TypeSettle, false},
		{"escrow.commands.claim.7.long", command.TypeClaim, false},
		{"escrow.commands.withdraw", "", true},
		{"market.trades.fill", "", true},
		{"escrow.commands.", "", true},
	}
	for _, tt := range tests {
		got, err := ingestion.CommandTypeFromSubject(tt.subject)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err=%v, wantErr=%v", tt.subject, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.subject, got, tt.want)
		}
	}
}

// =============================================================================
// Every command type
// =============================================================================

func TestParseCreateTrade(t *testing.T) {
	cmd := parse(t, command.TypeCreateTrade, map[string]interface{}{
		"collateral":   "USDC",
		"strike":       int64(105),
		"is_call_like": true,
		"oracle_ref":   "eth-usd",
		"oracle_index": 3,
		"deposit_end":  int64(1_700_003_600),
		"settle_start": int64(1_700_007_200),
		"long_amount":  int64(10),
		"short_amount": int64(100),
		"creator_side": "seller",
	}).(*command.CreateTrade)

	if cmd.Collateral != "USDC" || cmd.Payoff.Strike != 105 || !cmd.Payoff.IsCallLike {
		t.Errorf("unexpected fields: %+v", cmd)
	}
	if cmd.Payoff.OracleRef != "eth-usd" || cmd.Payoff.OracleIndex != 3 {
		t.Errorf("oracle: got %s/%d", cmd.Payoff.OracleRef, cmd.Payoff.OracleIndex)
	}
	if cmd.DepositEnd != 1_700_003_600 || cmd.SettleStart != 1_700_007_200 {
		t.Errorf("window: got %d..%d", cmd.DepositEnd, cmd.SettleStart)
	}
	if cmd.LongAmount != 10 || cmd.ShortAmount != 100 {
		t.Errorf("amounts: got %d/%d", cmd.LongAmount, cmd.ShortAmount)
	}
	if cmd.CreatorSide != event.SideShort {
		t.Errorf("creator side: got %s, want short", cmd.CreatorSide)
	}
}

func TestParseTradeCommands(t *testing.T) {
	fund := parse(t, command.TypeFundSide, map[string]interface{}{"trade_id": 7, "side": "long"}).(*command.FundSide)
	if fund.TradeID != 7 || fund.Side != event.SideLong {
		t.Errorf("fund_side: %+v", fund)
	}

	match := parse(t, command.TypeMatchOffer, map[string]interface{}{"trade_id": 8}).(*command.MatchOffer)
	if match.TradeID != 8 {
		t.Errorf("match_offer: got %d, want 8", match.TradeID)
	}

	cancel := parse(t, command.TypeCancelTrade, map[string]interface{}{"trade_id": 9}).(*command.CancelTrade)
	if cancel.TradeID != 9 {
		t.Errorf("cancel_trade: got %d, want 9", cancel.TradeID)
	}

	settle := parse(t, command.TypeSettle, map[string]interface{}{"trade_id": 10}).(*command.Settle)
	if settle.TradeID != 10 {
		t.Errorf("settle: got %d, want 10", settle.TradeID)
	}

	claim := parse(t, command.TypeClaim, map[string]interface{}{"trade_id": 11, "side": "short"}).(*command.Claim)
	if claim.TradeID != 11 || claim.Side != event.SideShort {
		t.Errorf("claim: %+v", claim)
	}
}

func TestParseAdminCommands(t *testing.T) {
	collect := parse(t, command.TypeCollectFees, map[string]interface{}{"collateral": "USDC"}).(*command.CollectFees)
	if collect.Collateral != "USDC" {
		t.Errorf("collect_fees: got %s", collect.Collateral)
	}

	parse(t, command.TypePause, map[string]interface{}{})
	parse(t, command.TypeUnpause, map[string]interface{}{})

	pct := parse(t, command.TypeSetFeePercentage, map[string]interface{}{"fee_bps": 25}).(*command.SetFeePercentage)
	if pct.FeeBps != 25 {
		t.Errorf("fee_bps: got %d, want 25", pct.FeeBps)
	}

	recv := parse(t, command.TypeSetFeeReceiver, map[string]interface{}{"receiver": bob}).(*command.SetFeeReceiver)
	if recv.Receiver != common.HexToAddress(bob) {
		t.Errorf("receiver: got %s", recv.Receiver.Hex())
	}

	grant := parse(t, command.TypeGrantRole, map[string]interface{}{"role": "FEE_COLLECTOR_ROLE", "account": bob}).(*command.GrantRole)
	if grant.Role != access.RoleFeeCollector || grant.Account != common.HexToAddress(bob) {
		t.Errorf("grant_role: %+v", grant)
	}

	revoke := parse(t, command.TypeRevokeRole, map[string]interface{}{"role": "ADMIN", "account": bob}).(*command.RevokeRole)
	if revoke.Role != access.RoleAdmin {
		t.Errorf("revoke_role: got %s", revoke.Role)
	}

	insert := parse(t, command.TypeInsertOracleSource, map[string]interface{}{"oracle_ref": "feeds", "source": "btc-usd"}).(*command.InsertOracleSource)
	if insert.OracleRef != "feeds" || insert.Source != "btc-usd" {
		t.Errorf("insert_oracle_source: %+v", insert)
	}

	price := parse(t, command.TypeSetOraclePrice, map[string]interface{}{"oracle_ref": "feeds", "index": 2, "price": int64(6_500_000)}).(*command.SetOraclePrice)
	if price.Index != 2 || price.Price != 6_500_000 {
		t.Errorf("set_oracle_price: %+v", price)
	}

	writer := parse(t, command.TypeSetOracleWriter, map[string]interface{}{"oracle_ref": "feeds", "index": 2, "writer": bob}).(*command.SetOracleWriter)
	if writer.OracleRef != "feeds" || writer.Index != 2 || writer.Writer != common.HexToAddress(bob) {
		t.Errorf("set_oracle_writer: %+v", writer)
	}
}

// =============================================================================
// Rejections
// =============================================================================

func TestParseCommand_Invalid(t *testing.T) {
	tests := []struct {
		name string
		typ  command.Type
		data string
	}{
		{"malformed json", command.TypeSettle, `{"trade_id":`},
		{"missing key", command.TypeSettle, `{"caller":"` + alice + `","trade_id":1}`},
		{"bad caller", command.TypeSettle, `{"idempotency_key":"k","caller":"alice","trade_id":1}`},
		{"missing trade id", command.TypeSettle, `{"idempotency_key":"k","caller":"` + alice + `"}`},
		{"bad side", command.TypeClaim, `{"idempotency_key":"k","caller":"` + alice + `","trade_id":1,"side":"middle"}`},
		{"bad role", command.TypeGrantRole, `{"idempotency_key":"k","caller":"` + alice + `","role":"ROOT","account":"` + bob + `"}`},
		{"missing collateral", command.TypeCreateTrade, `{"idempotency_key":"k","caller":"` + alice + `","creator_side":"long","oracle_ref":"x"}`},
		{"bad writer", command.TypeSetOracleWriter, `{"idempotency_key":"k","caller":"` + alice + `","oracle_ref":"feeds","writer":"nobody"}`},
		{"unknown type", command.Type("withdraw"), `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ingestion.ParseCommand(tt.typ, []byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
