package testutil

import (
	"OptionEscrow/internal/command"
	"OptionEscrow/internal/core"
	"OptionEscrow/internal/event"
	"OptionEscrow/internal/oracle"
	"OptionEscrow/internal/payoff"
	"OptionEscrow/internal/token"
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Genesis is the fixed start time of every fixture clock.
var Genesis = time.Unix(1_700_000_000, 0).UTC()

const (
	Collateral = "USDC"
	OracleRef  = "eth-usd"
	// Balance is what every fixture participant starts with.
	Balance int64 = 1_000_000_000
)

// Well-known fixture addresses.
var (
	Admin       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	Custody     = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	Alice       = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	Bob         = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	Stranger    = common.HexToAddress("0x0000000000000000000000000000000000005742")
	FeeReceiver = common.HexToAddress("0x00000000000000000000000000000000000000fe")
)

// Env is a registry wired to an in-process token, a manual oracle and a
// manual clock.
type Env struct {
	Registry *core.Registry
	Clock    *ManualClock
	Token    *token.Token
	Oracle   *oracle.Manual
	Persist  chan core.Output
	Project  chan core.Output
}

// NewEnv builds an Env. mutate may adjust the default configuration.
func NewEnv(t *testing.T, mutate func(*core.Config)) *Env {
	t.Helper()

	cfg := core.DefaultConfig()
	cfg.Admin = Admin
	cfg.Custody = Custody
	cfg.FeeReceiver = FeeReceiver
	if mutate != nil {
		mutate(&cfg)
	}

	clock := NewManualClock(Genesis)
	persist := make(chan core.Output, 1024)
	project := make(chan core.Output, 1024)
	reg, err := core.NewRegistry(cfg, clock, persist, project, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	tok := token.New("USD Coin", Collateral, 6)
	for _, who := range []common.Address{Alice, Bob, Stranger} {
		if err := tok.Mint(who, Balance); err != nil {
			t.Fatalf("mint: %v", err)
		}
		if err := tok.Approve(who, Custody, Balance); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}
	if err := reg.RegisterCollateral(Admin, Collateral, tok); err != nil {
		t.Fatalf("register collateral: %v", err)
	}

	orc := oracle.NewManual(Admin, OracleRef, 0, 8, clock.Now)
	if err := reg.RegisterOracle(Admin, OracleRef, orc); err != nil {
		t.Fatalf("register oracle: %v", err)
	}

	return &Env{Registry: reg, Clock: clock, Token: tok, Oracle: orc, Persist: persist, Project: project}
}

// CreateTrade builds a create command from the caller's point of view. The
// deposit window closes one hour after Genesis; settlement opens at two hours.
func CreateTrade(from common.Address, side event.Side, long, short, strike int64, isCall bool) *command.CreateTrade {
	return &command.CreateTrade{
		Meta:        command.NewMeta(from),
		Collateral:  Collateral,
		Payoff:      payoff.Params{Strike: strike, IsCallLike: isCall, OracleRef: OracleRef},
		DepositEnd:  Genesis.Add(time.Hour).Unix(),
		SettleStart: Genesis.Add(2 * time.Hour).Unix(),
		LongAmount:  long,
		ShortAmount: short,
		CreatorSide: side,
	}
}

// Must returns a function that unwraps an operation result and fails the
// test on error: testutil.Must(t)(reg.Settle(ctx, cmd)).
func Must(t *testing.T) func(*core.Output, error) *core.Output {
	return func(out *core.Output, err error) *core.Output {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return out
	}
}

// SetPrice writes the manual oracle through the registry.
func (e *Env) SetPrice(t *testing.T, price int64) {
	t.Helper()
	_, err := e.Registry.SetOraclePrice(context.Background(), &command.SetOraclePrice{
		Meta:      command.NewMeta(Admin),
		OracleRef: OracleRef,
		Price:     price,
	})
	if err != nil {
		t.Fatalf("set price: %v", err)
	}
}

// MatchedTrade creates a trade with Alice long and Bob short and returns its id.
func (e *Env) MatchedTrade(t *testing.T, long, short, strike int64, isCall bool) uint64 {
	t.Helper()
	ctx := context.Background()
	out := Must(t)(e.Registry.CreateTrade(ctx, CreateTrade(Alice, event.SideLong, long, short, strike, isCall)))
	id := out.Trade.ID
	Must(t)(e.Registry.FundSide(ctx, &command.FundSide{Meta: command.NewMeta(Bob), TradeID: id, Side: event.SideShort}))
	return id
}
