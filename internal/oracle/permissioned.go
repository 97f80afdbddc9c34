package oracle

import (
	"OptionEscrow/internal/errs"
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Permissioned holds many indices, each with its own writer. Anyone may
// create an index and becomes its writer; the registry's admins may
// reassign writers.
type Permissioned struct {
	clock Clock

	mu      sync.RWMutex
	records []Record
}

func NewPermissioned(clock Clock) *Permissioned {
	return &Permissioned{clock: clock}
}

func (p *Permissioned) InsertSource(_ context.Context, caller common.Address, ref string) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := uint64(len(p.records))
	p.records = append(p.records, Record{Index: idx, Source: ref, Writer: caller})
	return idx, nil
}

// GetLatestPrice returns the record at index. A created but never written
// index returns a zero Price.
func (p *Permissioned) GetLatestPrice(_ context.Context, index uint64) (Price, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if index >= uint64(len(p.records)) {
		return Price{}, errs.NotFound(errs.ReasonUnknownIndex, "index %d", index)
	}
	return p.records[index].Price, nil
}

func (p *Permissioned) SetPrice(_ context.Context, caller common.Address, index uint64, price int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index >= uint64(len(p.records)) {
		return errs.NotFound(errs.ReasonUnknownIndex, "index %d", index)
	}
	rec := &p.records[index]
	if caller != rec.Writer {
		return errs.Unauthorized(errs.ReasonNotWriter, "index %d", index)
	}
	rec.Price = Price{Value: price, Timestamp: p.clock().Unix()}
	return nil
}

// SetWriter reassigns the writer of an index.
func (p *Permissioned) SetWriter(index uint64, writer common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index >= uint64(len(p.records)) {
		return errs.NotFound(errs.ReasonUnknownIndex, "index %d", index)
	}
	p.records[index].Writer = writer
	return nil
}

// Records returns a copy of every index.
func (p *Permissioned) Records() []Record {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Record, len(p.records))
	copy(out, p.records)
	return out
}

// RestoreRecords replaces an empty adapter's indices with logged ones.
func (p *Permissioned) RestoreRecords(records []Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.records) != 0 {
		return fmt.Errorf("permissioned oracle already holds %d indices", len(p.records))
	}
	for i, rec := range records {
		if rec.Index != uint64(i) {
			return fmt.Errorf("record %d carries index %d", i, rec.Index)
		}
	}
	p.records = append([]Record(nil), records...)
	return nil
}
