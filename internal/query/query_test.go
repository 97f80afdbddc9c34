package query_test

import (
	"OptionEscrow/internal/command"
	"OptionEscrow/internal/core"
	"OptionEscrow/internal/errs"
	"OptionEscrow/internal/event"
	"OptionEscrow/internal/persistence"
	"OptionEscrow/internal/projection"
	"OptionEscrow/internal/query"
	"OptionEscrow/internal/testutil"
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var ctx = context.Background()

func migrate(db *sql.DB) error {
	_, err := persistence.NewMigrator(db, "../../migrations", zerolog.Nop()).Up(ctx)
	return err
}

// flushAll writes everything the registry emitted so far to the log and the
// projections.
func flushAll(t *testing.T, db *sql.DB, env *testutil.Env) {
	t.Helper()
	in := make(chan core.Output, len(env.Persist))
	for len(env.Persist) > 0 {
		in <- <-env.Persist
	}
	close(in)
	if err := persistence.NewPersistenceWorker(db, in, nil, 50, 10*time.Millisecond, nil, zerolog.Nop()).Run(ctx); err != nil {
		t.Fatalf("persist: %v", err)
	}

	pw := projection.NewProjectionWorker(db, env.Project, nil, zerolog.Nop())
	for len(env.Project) > 0 {
		if err := pw.Apply(ctx, <-env.Project); err != nil {
			t.Fatalf("project: %v", err)
		}
	}
}

// lifecycle settles and fully claims trade 1, leaves trade 2 open and hands
// the oracle to Bob.
func lifecycle(t *testing.T, env *testutil.Env) {
	t.Helper()
	id := env.MatchedTrade(t, 10, 100, 105, true)
	testutil.Must(t)(env.Registry.CreateTrade(ctx, testutil.CreateTrade(testutil.Bob, event.SideShort, 20, 200, 95, false)))

	env.SetPrice(t, 110)
	env.Clock.Advance(2 * time.Hour)
	testutil.Must(t)(env.Registry.Settle(ctx, &command.Settle{Meta: command.NewMeta(testutil.Stranger), TradeID: id}))
	for _, side := range []event.Side{event.SideLong, event.SideShort} {
		testutil.Must(t)(env.Registry.Claim(ctx, &command.Claim{Meta: command.NewMeta(testutil.Stranger), TradeID: id, Side: side}))
	}
	testutil.Must(t)(env.Registry.SetOracleWriter(ctx, &command.SetOracleWriter{
		Meta: command.NewMeta(testutil.Admin), OracleRef: testutil.OracleRef, Writer: testutil.Bob,
	}))
}

// =============================================================================
// Queries over projections
// =============================================================================

func TestQueryService_Postgres(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t, migrate)
	defer cleanup()

	env := testutil.NewEnv(t, nil)
	lifecycle(t, env)
	flushAll(t, db, env)

	qs := query.NewQueryService(db, map[string]int32{testutil.Collateral: 6}, nil)
	wantAsOf := env.Registry.Sequence() - 1

	trade, err := qs.GetTrade(ctx, 1)
	if err != nil {
		t.Fatalf("get trade: %v", err)
	}
	if trade.State != "SETTLED" || !trade.Long.Claimed || !trade.Short.Claimed {
		t.Errorf("trade 1: state=%s claimed=%v/%v", trade.State, trade.Long.Claimed, trade.Short.Claimed)
	}
	if trade.SettlementPrice != 110 {
		t.Errorf("settlement price: got %d, want 110", trade.SettlementPrice)
	}
	if trade.AsOfSequence != wantAsOf {
		t.Errorf("as of: got %d, want %d", trade.AsOfSequence, wantAsOf)
	}

	_, err = qs.GetTrade(ctx, 99)
	if errs.KindOf(err) != errs.KindNotFound {
		t.Errorf("missing trade: got %v, want not found", err)
	}

	open, err := qs.ListTrades(ctx, query.TradeQuery{State: "OPEN"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 1 || open[0].ID != 2 {
		t.Errorf("open trades: got %+v", open)
	}
	bob := testutil.Bob
	mine, err := qs.ListTrades(ctx, query.TradeQuery{Participant: &bob})
	if err != nil {
		t.Fatalf("list by participant: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("bob's trades: got %d, want 2", len(mine))
	}

	prices, err := qs.GetOraclePrices(ctx, testutil.OracleRef)
	if err != nil {
		t.Fatalf("oracle prices: %v", err)
	}
	if len(prices) != 1 || prices[0].Price != 110 || prices[0].Writer != testutil.Bob.Hex() {
		t.Errorf("oracle prices: got %+v", prices)
	}

	journal, err := qs.GetTradeJournal(ctx, 1, 0, nil)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if len(journal) < 4 {
		t.Errorf("journal entries: got %d, want at least 4", len(journal))
	}
	for i := 1; i < len(journal); i++ {
		if journal[i].Sequence > journal[i-1].Sequence {
			t.Errorf("journal not newest first at %d", i)
		}
	}

	report, err := qs.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("integrity: %v", err)
	}
	if !report.IsHealthy {
		t.Errorf("integrity: %+v", report)
	}
}

func TestQueryService_FeeConfig(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t, migrate)
	defer cleanup()

	env := testutil.NewEnv(t, nil)
	qs := query.NewQueryService(db, nil, nil)

	_, err := qs.GetFeeConfig(ctx)
	if errs.ReasonOf(err) != errs.ReasonNotProjected {
		t.Fatalf("before any fee event: got %v", err)
	}

	testutil.Must(t)(env.Registry.SetFeePercentage(ctx, &command.SetFeePercentage{Meta: command.NewMeta(testutil.Admin), FeeBps: 25}))
	testutil.Must(t)(env.Registry.Pause(ctx, &command.Pause{Meta: command.NewMeta(testutil.Admin)}))
	flushAll(t, db, env)

	fees, err := qs.GetFeeConfig(ctx)
	if err != nil {
		t.Fatalf("fee config: %v", err)
	}
	if fees.FeeBps != 25 || fees.Percentage != "0.25" || !fees.Paused {
		t.Errorf("fees: got %+v", fees)
	}
	if fees.Receiver != testutil.FeeReceiver.Hex() {
		t.Errorf("receiver: got %s, want %s", fees.Receiver, testutil.FeeReceiver.Hex())
	}
}

// =============================================================================
// Rebuild and recovery
// =============================================================================

func TestRebuild_MatchesLiveProjection(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t, migrate)
	defer cleanup()

	env := testutil.NewEnv(t, nil)
	lifecycle(t, env)
	testutil.Must(t)(env.Registry.Pause(ctx, &command.Pause{Meta: command.NewMeta(testutil.Admin)}))
	flushAll(t, db, env)

	qs := query.NewQueryService(db, nil, nil)
	before, err := qs.ListTrades(ctx, query.TradeQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if err := projection.Rebuild(ctx, db, zerolog.Nop()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	after, err := qs.ListTrades(ctx, query.TradeQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("trades: got %d, want %d", len(after), len(before))
	}
	for i := range before {
		if after[i] != before[i] {
			t.Errorf("trade %d differs after rebuild:\n got %+v\nwant %+v", before[i].ID, after[i], before[i])
		}
	}
	fees, err := qs.GetFeeConfig(ctx)
	if err != nil {
		t.Fatalf("fee config: %v", err)
	}
	if !fees.Paused {
		t.Error("pause flag lost in rebuild")
	}
}

func TestLoadState_RestoresRegistry(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t, migrate)
	defer cleanup()

	env := testutil.NewEnv(t, nil)
	lifecycle(t, env)
	flushAll(t, db, env)

	state, err := persistence.LoadState(ctx, db)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if state.NextSequence != env.Registry.Sequence() {
		t.Errorf("next sequence: got %d, want %d", state.NextSequence, env.Registry.Sequence())
	}
	if state.PrevHash != env.Registry.StateHash() {
		t.Error("prev hash does not match registry tip")
	}
	if len(state.Trades) != 2 {
		t.Fatalf("trades: got %d, want 2", len(state.Trades))
	}
	if state.Trades[0].State != core.StateSettled || state.Trades[1].State != core.StateOpen {
		t.Errorf("states: got %s/%s", state.Trades[0].State, state.Trades[1].State)
	}
	if len(state.Journals) == 0 {
		t.Error("no journals loaded")
	}
	recs := state.Oracles[testutil.OracleRef]
	if len(recs) != 1 || recs[0].Price.Value != 110 || recs[0].Writer != testutil.Bob {
		t.Errorf("oracle records: got %+v", recs)
	}
}
