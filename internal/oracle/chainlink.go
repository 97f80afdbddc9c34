package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

const aggregatorABIJSON = `[
  {"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"description","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"latestRoundData","outputs":[{"name":"roundId","type":"uint80"},{"name":"answer","type":"int256"},{"name":"startedAt","type":"uint256"},{"name":"updatedAt","type":"uint256"},{"name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

// AggregatorABI is the subset of the Chainlink AggregatorV3 interface we call.
var AggregatorABI = mustParseABI(aggregatorABIJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse aggregator abi: %v", err))
	}
	return parsed
}

// ChainlinkSource reads one Chainlink aggregator and rescales its answer to
// the configured precision.
type ChainlinkSource struct {
	caller     ethereum.ContractCaller
	aggregator common.Address
	decimals   int32 // target precision
}

func NewChainlinkSource(caller ethereum.ContractCaller, aggregator common.Address, decimals int32) *ChainlinkSource {
	return &ChainlinkSource{caller: caller, aggregator: aggregator, decimals: decimals}
}

// ChainlinkFactory returns a SourceFactory that treats refs as aggregator
// addresses on the chain behind caller.
func ChainlinkFactory(caller ethereum.ContractCaller, decimals int32) SourceFactory {
	return func(ref string) (PriceSource, error) {
		if !common.IsHexAddress(ref) {
			return nil, fmt.Errorf("not an address: %q", ref)
		}
		return NewChainlinkSource(caller, common.HexToAddress(ref), decimals), nil
	}
}

// DialChainlink connects to an EVM JSON-RPC endpoint.
func DialChainlink(rpcURL string) (*ethclient.Client, error) {
	c, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return c, nil
}

func (s *ChainlinkSource) call(ctx context.Context, method string) ([]interface{}, error) {
	data, err := AggregatorABI.Pack(method)
	if err != nil {
		return nil, err
	}
	raw, err := s.caller.CallContract(ctx, ethereum.CallMsg{To: &s.aggregator, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call aggregator.%s: %w", method, err)
	}
	out, err := AggregatorABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack aggregator.%s: %w", method, err)
	}
	return out, nil
}

// FeedDecimals returns the aggregator's native precision.
func (s *ChainlinkSource) FeedDecimals(ctx context.Context) (uint8, error) {
	out, err := s.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("aggregator.decimals: unexpected type %T", out[0])
	}
	return d, nil
}

func (s *ChainlinkSource) LatestPrice(ctx context.Context) (Price, error) {
	feedDecimals, err := s.FeedDecimals(ctx)
	if err != nil {
		return Price{}, err
	}

	out, err := s.call(ctx, "latestRoundData")
	if err != nil {
		return Price{}, err
	}
	if len(out) != 5 {
		return Price{}, fmt.Errorf("aggregator.latestRoundData: got %d values", len(out))
	}
	answer, ok1 := out[1].(*big.Int)
	updatedAt, ok2 := out[3].(*big.Int)
	if !ok1 || !ok2 {
		return Price{}, fmt.Errorf("aggregator.latestRoundData: unexpected types %T, %T", out[1], out[3])
	}

	value, err := Rescale(answer, int32(feedDecimals), s.decimals)
	if err != nil {
		return Price{}, err
	}
	if !updatedAt.IsInt64() {
		return Price{}, fmt.Errorf("aggregator.latestRoundData: updatedAt out of range")
	}
	return Price{Value: value, Timestamp: updatedAt.Int64()}, nil
}

// Rescale converts an answer with from decimals to to decimals, truncating
// toward zero when precision is reduced.
func Rescale(answer *big.Int, from, to int32) (int64, error) {
	d := decimal.NewFromBigInt(answer, -from).Shift(to).Truncate(0)
	b := d.BigInt()
	if !b.IsInt64() {
		return 0, fmt.Errorf("rescaled price %s overflows int64", d.String())
	}
	return b.Int64(), nil
}
