package oracle_test

import (
	"OptionEscrow/internal/errs"
	"OptionEscrow/internal/oracle"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func fixedClock(sec int64) oracle.Clock {
	return func() time.Time { return time.Unix(sec, 0) }
}

// ============================================================================
// Test: Manual
// ============================================================================

func TestManual_InitialPriceAndUpdate(t *testing.T) {
	ctx := context.Background()
	m := oracle.NewManual(owner, "BTC/USD", 1, 3, fixedClock(1_000))

	p, err := m.GetLatestPrice(ctx, 0)
	if err != nil {
		t.Fatalf("GetLatestPrice: %v", err)
	}
	if p.Value != 1 || p.Timestamp != 1_000 {
		t.Errorf("initial: got %+v", p)
	}
	if m.Decimals() != 3 {
		t.Errorf("decimals: got %d, want 3", m.Decimals())
	}

	if err := m.SetPrice(ctx, owner, 0, 2_000); err != nil {
		t.Fatalf("SetPrice: %v", err)
	}
	p, _ = m.GetLatestPrice(ctx, 0)
	if p.Value != 2_000 {
		t.Errorf("after update: got %d, want 2000", p.Value)
	}
}

func TestManual_ZeroInitialPriceIsUnset(t *testing.T) {
	m := oracle.NewManual(owner, "BTC/USD", 0, 8, fixedClock(1_000))
	p, err := m.GetLatestPrice(context.Background(), 0)
	if err != nil {
		t.Fatalf("GetLatestPrice: %v", err)
	}
	if p.IsSet() {
		t.Errorf("zero initial price should be unset, got %+v", p)
	}
}

func TestManual_SetWriterAndRestore(t *testing.T) {
	ctx := context.Background()
	m := oracle.NewManual(owner, "BTC/USD", 0, 8, fixedClock(5_000))
	if err := m.SetWriter(1, stranger); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("index 1: expected not found, got %v", err)
	}

	err := m.RestoreRecords([]oracle.Record{{Index: 0, Source: "ETH/USD", Writer: stranger, Price: oracle.Price{Value: 110, Timestamp: 900}}})
	if err != nil {
		t.Fatalf("RestoreRecords: %v", err)
	}
	p, _ := m.GetLatestPrice(ctx, 0)
	if p.Value != 110 || p.Timestamp != 900 {
		t.Errorf("restored price: got %+v", p)
	}
	if m.Name() != "ETH/USD" {
		t.Errorf("name: got %s, want ETH/USD", m.Name())
	}
	if err := m.SetPrice(ctx, owner, 0, 1); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("old owner: expected unauthorized, got %v", err)
	}
	if err := m.SetPrice(ctx, stranger, 0, 120); err != nil {
		t.Errorf("restored owner: %v", err)
	}

	if err := m.RestoreRecords(make([]oracle.Record, 2)); err == nil {
		t.Error("two indices should not restore into a manual oracle")
	}
}

func TestManual_RejectsStrangerAndUnknownIndex(t *testing.T) {
	ctx := context.Background()
	m := oracle.NewManual(owner, "BTC/USD", 1, 3, fixedClock(1_000))

	if err := m.SetPrice(ctx, stranger, 0, 5); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("stranger write: expected unauthorized, got %v", err)
	}
	if _, err := m.InsertSource(ctx, stranger, "ETH/USD"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("stranger insert: expected unauthorized, got %v", err)
	}
	if _, err := m.GetLatestPrice(ctx, 1); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("index 1: expected not found, got %v", err)
	}
}

// ============================================================================
// Test: Permissioned
// ============================================================================

func TestPermissioned_IndexLifecycle(t *testing.T) {
	ctx := context.Background()
	p := oracle.NewPermissioned(fixedClock(42))

	first, _ := p.InsertSource(ctx, stranger, "ETH/USD")
	second, _ := p.InsertSource(ctx, owner, "BTC/USD")
	if first != 0 || second != 1 {
		t.Fatalf("indices: got %d, %d", first, second)
	}

	price, err := p.GetLatestPrice(ctx, first)
	if err != nil {
		t.Fatalf("GetLatestPrice: %v", err)
	}
	if price.IsSet() {
		t.Error("fresh index should be unset")
	}

	// creator writes its own index, not others
	if err := p.SetPrice(ctx, stranger, first, 3_100); err != nil {
		t.Fatalf("creator write: %v", err)
	}
	if err := p.SetPrice(ctx, stranger, second, 1); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("foreign write: expected unauthorized, got %v", err)
	}

	price, _ = p.GetLatestPrice(ctx, first)
	if price.Value != 3_100 || price.Timestamp != 42 {
		t.Errorf("got %+v", price)
	}

	if _, err := p.GetLatestPrice(ctx, 7); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("unknown index: expected not found, got %v", err)
	}
}

func TestPermissioned_SetWriter(t *testing.T) {
	ctx := context.Background()
	p := oracle.NewPermissioned(fixedClock(1))
	idx, _ := p.InsertSource(ctx, owner, "ETH/USD")

	if err := p.SetWriter(idx+1, stranger); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("unknown index: expected not found, got %v", err)
	}
	if err := p.SetWriter(idx, stranger); err != nil {
		t.Fatalf("SetWriter: %v", err)
	}
	if err := p.SetPrice(ctx, stranger, idx, 9); err != nil {
		t.Errorf("new writer should be allowed: %v", err)
	}
	if err := p.SetPrice(ctx, owner, idx, 9); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("old writer should be rejected, got %v", err)
	}
}

func TestPermissioned_RestoreRecords(t *testing.T) {
	ctx := context.Background()
	logged := []oracle.Record{
		{Index: 0, Source: "ETH/USD", Writer: stranger, Price: oracle.Price{Value: 3_100, Timestamp: 40}},
		{Index: 1, Source: "BTC/USD", Writer: owner},
	}

	p := oracle.NewPermissioned(fixedClock(99))
	if err := p.RestoreRecords(logged); err != nil {
		t.Fatalf("RestoreRecords: %v", err)
	}
	price, err := p.GetLatestPrice(ctx, 0)
	if err != nil || price.Value != 3_100 || price.Timestamp != 40 {
		t.Errorf("index 0: got %+v (%v)", price, err)
	}
	if err := p.SetPrice(ctx, owner, 0, 1); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("writer not restored: got %v", err)
	}
	next, _ := p.InsertSource(ctx, owner, "SOL/USD")
	if next != 2 {
		t.Errorf("next index: got %d, want 2", next)
	}
	if got := len(p.Records()); got != 3 {
		t.Errorf("records: got %d, want 3", got)
	}

	if err := p.RestoreRecords(logged); err == nil {
		t.Error("restore into a populated adapter should fail")
	}
	gap := oracle.NewPermissioned(fixedClock(1))
	if err := gap.RestoreRecords([]oracle.Record{{Index: 1}}); err == nil {
		t.Error("misplaced index should fail")
	}
}

// ============================================================================
// Test: FeedProxy + Chainlink
// ============================================================================

type fakeAggregator struct {
	decimals  uint8
	answer    *big.Int
	updatedAt int64
	calls     int
}

func (f *fakeAggregator) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	methods := oracle.AggregatorABI.Methods
	switch {
	case bytes.HasPrefix(msg.Data, methods["decimals"].ID):
		return methods["decimals"].Outputs.Pack(f.decimals)
	case bytes.HasPrefix(msg.Data, methods["latestRoundData"].ID):
		return methods["latestRoundData"].Outputs.Pack(
			big.NewInt(1), f.answer, big.NewInt(0), big.NewInt(f.updatedAt), big.NewInt(1))
	}
	return nil, fmt.Errorf("unexpected call %x", msg.Data)
}

func TestChainlinkSource_Rescales(t *testing.T) {
	agg := &fakeAggregator{decimals: 8, answer: big.NewInt(3_000_12345678), updatedAt: 1_700_000_000}
	src := oracle.NewChainlinkSource(agg, common.HexToAddress("0x01"), 2)

	p, err := src.LatestPrice(context.Background())
	if err != nil {
		t.Fatalf("LatestPrice: %v", err)
	}
	if p.Value != 3_000_12 {
		t.Errorf("value: got %d, want 300012", p.Value)
	}
	if p.Timestamp != 1_700_000_000 {
		t.Errorf("timestamp: got %d", p.Timestamp)
	}
}

func TestRescale(t *testing.T) {
	tests := []struct {
		answer   int64
		from, to int32
		want     int64
	}{
		{123456, 4, 2, 1234},
		{12, 0, 3, 12_000},
		{-15, 1, 0, -1},
	}
	for _, tt := range tests {
		got, err := oracle.Rescale(big.NewInt(tt.answer), tt.from, tt.to)
		if err != nil {
			t.Fatalf("Rescale(%d,%d,%d): %v", tt.answer, tt.from, tt.to, err)
		}
		if got != tt.want {
			t.Errorf("Rescale(%d,%d,%d) = %d, want %d", tt.answer, tt.from, tt.to, got, tt.want)
		}
	}

	huge := new(big.Int).Lsh(big.NewInt(1), 80)
	if _, err := oracle.Rescale(huge, 0, 0); err == nil {
		t.Error("expected overflow")
	}
}

func TestFeedProxy_ReadOnly(t *testing.T) {
	ctx := context.Background()
	agg := &fakeAggregator{decimals: 0, answer: big.NewInt(105), updatedAt: 10}
	proxy := oracle.NewFeedProxy(oracle.ChainlinkFactory(agg, 0))

	idx, err := proxy.InsertSource(ctx, stranger, "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419")
	if err != nil {
		t.Fatalf("InsertSource: %v", err)
	}
	p, err := proxy.GetLatestPrice(ctx, idx)
	if err != nil {
		t.Fatalf("GetLatestPrice: %v", err)
	}
	if p.Value != 105 {
		t.Errorf("got %d, want 105", p.Value)
	}

	if err := proxy.SetPrice(ctx, owner, idx, 1); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
	if errs.ReasonOf(proxy.SetPrice(ctx, owner, idx, 1)) != errs.ReasonReadOnlyOracle {
		t.Error("reason should be read-only")
	}

	if _, err := proxy.InsertSource(ctx, owner, "not-an-address"); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := proxy.GetLatestPrice(ctx, 5); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestFeedProxy_RestoreRecords(t *testing.T) {
	ctx := context.Background()
	agg := &fakeAggregator{decimals: 0, answer: big.NewInt(105), updatedAt: 10}
	const (
		configured = "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"
		inserted   = "0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c"
	)

	proxy := oracle.NewFeedProxy(oracle.ChainlinkFactory(agg, 0))
	if _, err := proxy.InsertSource(ctx, owner, configured); err != nil {
		t.Fatalf("InsertSource: %v", err)
	}
	// index 0 came from startup configuration and was never logged
	if err := proxy.RestoreRecords([]oracle.Record{{Index: 0}, {Index: 1, Source: inserted}}); err != nil {
		t.Fatalf("RestoreRecords: %v", err)
	}
	records := proxy.Records()
	if len(records) != 2 || records[1].Source != inserted {
		t.Fatalf("records: got %+v", records)
	}
	if _, err := proxy.GetLatestPrice(ctx, 1); err != nil {
		t.Errorf("restored feed: %v", err)
	}

	other := oracle.NewFeedProxy(oracle.ChainlinkFactory(agg, 0))
	if _, err := other.InsertSource(ctx, owner, inserted); err != nil {
		t.Fatalf("InsertSource: %v", err)
	}
	if err := other.RestoreRecords([]oracle.Record{{Index: 0, Source: configured}}); err == nil {
		t.Error("mismatched reference should fail")
	}
}
