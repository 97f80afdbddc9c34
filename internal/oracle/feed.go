package oracle

import (
	"OptionEscrow/internal/errs"
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// PriceSource is a read-only third-party price feed.
type PriceSource interface {
	LatestPrice(ctx context.Context) (Price, error)
}

// SourceFactory resolves an InsertSource reference (e.g. an aggregator
// address) to a PriceSource.
type SourceFactory func(ref string) (PriceSource, error)

// FeedProxy is the read-only variant: each index forwards to an external
// source. Prices cannot be written through it.
type FeedProxy struct {
	resolve SourceFactory

	mu      sync.RWMutex
	refs    []string
	sources []PriceSource
}

func NewFeedProxy(resolve SourceFactory) *FeedProxy {
	return &FeedProxy{resolve: resolve}
}

func (f *FeedProxy) InsertSource(_ context.Context, _ common.Address, ref string) (uint64, error) {
	src, err := f.resolve(ref)
	if err != nil {
		return 0, errs.Validation(errs.ReasonBadAddress, "feed %q: %v", ref, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs = append(f.refs, ref)
	f.sources = append(f.sources, src)
	return uint64(len(f.sources) - 1), nil
}

func (f *FeedProxy) GetLatestPrice(ctx context.Context, index uint64) (Price, error) {
	f.mu.RLock()
	if index >= uint64(len(f.sources)) {
		f.mu.RUnlock()
		return Price{}, errs.NotFound(errs.ReasonUnknownIndex, "index %d", index)
	}
	src := f.sources[index]
	f.mu.RUnlock()

	p, err := src.LatestPrice(ctx)
	if err != nil {
		return Price{}, fmt.Errorf("feed %d: %w", index, err)
	}
	return p, nil
}

// SetPrice always fails: the proxy is read-only.
func (f *FeedProxy) SetPrice(_ context.Context, _ common.Address, index uint64, _ int64) error {
	return errs.Unauthorized(errs.ReasonReadOnlyOracle, "index %d", index)
}

// Records lists the feed references by index. Prices are live and left out.
func (f *FeedProxy) Records() []Record {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Record, len(f.refs))
	for i, ref := range f.refs {
		out[i] = Record{Index: uint64(i), Source: ref}
	}
	return out
}

// RestoreRecords re-resolves logged feeds. Indices already configured at
// startup must carry the same reference; later ones are appended in order.
func (f *FeedProxy) RestoreRecords(records []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, rec := range records {
		if i < len(f.refs) {
			if rec.Source != "" && rec.Source != f.refs[i] {
				return fmt.Errorf("feed %d: logged %q, configured %q", i, rec.Source, f.refs[i])
			}
			continue
		}
		if rec.Source == "" {
			return fmt.Errorf("feed %d: no logged reference", i)
		}
		src, err := f.resolve(rec.Source)
		if err != nil {
			return fmt.Errorf("feed %d %q: %w", i, rec.Source, err)
		}
		f.refs = append(f.refs, rec.Source)
		f.sources = append(f.sources, src)
	}
	return nil
}

// StaticSource is a PriceSource returning a fixed price. Used for local runs
// without an RPC endpoint.
type StaticSource struct {
	Price Price
}

func (s StaticSource) LatestPrice(context.Context) (Price, error) {
	return s.Price, nil
}
