// Package oracle supplies settlement prices. Every variant implements the
// same Adapter capability; variants are picked at deployment time.
package oracle

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Price is a fixed-point observation and the unix second it was recorded.
type Price struct {
	Value     int64 `json:"value"`
	Timestamp int64 `json:"timestamp"`
}

// IsSet reports whether the record has ever been written.
func (p Price) IsSet() bool {
	return p.Timestamp > 0
}

// Adapter is the read-side capability shared by all variants.
type Adapter interface {
	// InsertSource registers a new price source and returns its index.
	InsertSource(ctx context.Context, caller common.Address, ref string) (uint64, error)

	// GetLatestPrice returns the current record at index.
	GetLatestPrice(ctx context.Context, index uint64) (Price, error)
}

// Writer is implemented by variants whose prices are pushed by a writer.
type Writer interface {
	SetPrice(ctx context.Context, caller common.Address, index uint64, price int64) error
}

// WriterAssigner hands an index to a new writer. Callers gate it.
type WriterAssigner interface {
	SetWriter(index uint64, writer common.Address) error
}

// Lister enumerates the indices an adapter knows about.
type Lister interface {
	Records() []Record
}

// Restorer rebuilds records from logged oracle events after a restart.
// Records are positioned by index.
type Restorer interface {
	RestoreRecords(records []Record) error
}

// Clock returns the current time. Adapters stamp writes with it.
type Clock func() time.Time

// Record is one index of a writable adapter.
type Record struct {
	Index  uint64         `json:"index"`
	Source string         `json:"source"`
	Writer common.Address `json:"writer"`
	Price  Price          `json:"price"`
}
