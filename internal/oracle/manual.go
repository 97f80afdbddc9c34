package oracle

import (
	"OptionEscrow/internal/errs"
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Manual is a single-value adapter whose owner sets the live price.
// It exposes exactly one index, 0.
type Manual struct {
	decimals int32
	clock    Clock

	mu     sync.RWMutex
	owner  common.Address
	name   string
	record Price
}

// NewManual creates the adapter. A non-zero initial price is stamped at
// construction; zero leaves the record unset until the first SetPrice.
func NewManual(owner common.Address, name string, price int64, decimals int32, clock Clock) *Manual {
	m := &Manual{owner: owner, decimals: decimals, clock: clock, name: name}
	if price != 0 {
		m.record = Price{Value: price, Timestamp: clock().Unix()}
	}
	return m
}

func (m *Manual) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

func (m *Manual) Decimals() int32 { return m.decimals }

// InsertSource renames the single source. Only the owner may call it.
func (m *Manual) InsertSource(_ context.Context, caller common.Address, ref string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if caller != m.owner {
		return 0, errs.Unauthorized(errs.ReasonNotWriter, "manual oracle %q", m.name)
	}
	m.name = ref
	return 0, nil
}

func (m *Manual) GetLatestPrice(_ context.Context, index uint64) (Price, error) {
	if index != 0 {
		return Price{}, errs.NotFound(errs.ReasonUnknownIndex, "index %d", index)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.record, nil
}

// SetPrice is the owner's setLivePrice.
func (m *Manual) SetPrice(_ context.Context, caller common.Address, index uint64, price int64) error {
	if index != 0 {
		return errs.NotFound(errs.ReasonUnknownIndex, "index %d", index)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if caller != m.owner {
		return errs.Unauthorized(errs.ReasonNotWriter, "manual oracle %q", m.name)
	}
	m.record = Price{Value: price, Timestamp: m.clock().Unix()}
	return nil
}

// SetWriter transfers ownership of the single index.
func (m *Manual) SetWriter(index uint64, writer common.Address) error {
	if index != 0 {
		return errs.NotFound(errs.ReasonUnknownIndex, "index %d", index)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owner = writer
	return nil
}

func (m *Manual) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return []Record{{Index: 0, Source: m.name, Writer: m.owner, Price: m.record}}
}

// RestoreRecords applies the logged state of index 0. Empty fields keep the
// constructor's values.
func (m *Manual) RestoreRecords(records []Record) error {
	if len(records) > 1 {
		return fmt.Errorf("manual oracle %q: log holds %d indices", m.Name(), len(records))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		if rec.Source != "" {
			m.name = rec.Source
		}
		if rec.Writer != (common.Address{}) {
			m.owner = rec.Writer
		}
		if rec.Price.IsSet() {
			m.record = rec.Price
		}
	}
	return nil
}
