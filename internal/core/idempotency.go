package core

import (
	"OptionEscrow/internal/observability"
	"container/list"
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// IdempotencyChecker is the two-tier command dedup: an in-memory LRU in
// front of the durable idempotency table.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// DBIdempotencyChecker looks a key up in durable storage.
type DBIdempotencyChecker interface {
	IsDuplicate(ctx context.Context, commandType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics, logger zerolog.Logger) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
		logger:    logger,
	}
}

func compositeKey(commandType, key string) string {
	return fmt.Sprintf("%s:%s", commandType, key)
}

// IsDuplicate reports whether the command was already applied. An empty key
// is never a duplicate. A storage error is logged and treated as "not seen".
func (ic *IdempotencyChecker) IsDuplicate(ctx context.Context, commandType, key string) bool {
	if key == "" {
		return false
	}
	ck := compositeKey(commandType, key)

	if ic.lru.Contains(ck) {
		ic.record(commandType, "lru")
		return true
	}

	if ic.dbChecker != nil {
		dup, err := ic.dbChecker.IsDuplicate(ctx, commandType, key)
		if err != nil {
			ic.logger.Warn().Err(err).Str("command", commandType).Msg("durable dedup lookup failed")
			return false
		}
		if dup {
			ic.record(commandType, "postgres")
			ic.lru.Add(ck)
			return true
		}
	}
	return false
}

// MarkProcessed remembers a key after the command was applied.
func (ic *IdempotencyChecker) MarkProcessed(commandType, key string) {
	if key == "" {
		return
	}
	ic.lru.Add(compositeKey(commandType, key))
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
	}
}

// Warm preloads composite keys, typically the most recent rows of the
// durable table at startup.
func (ic *IdempotencyChecker) Warm(keys []string) {
	ic.lru.WarmFromKeys(keys)
}

func (ic *IdempotencyChecker) record(commandType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(commandType, tier).Inc()
	}
}

// IdempotencyLRU is a bounded recently-seen set. Not safe for concurrent
// use; the registry lock covers it.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks membership and promotes a hit.
func (lru *IdempotencyLRU) Contains(key string) bool {
	if elem, ok := lru.cache[key]; ok {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

func (lru *IdempotencyLRU) Add(key string) {
	if elem, ok := lru.cache[key]; ok {
		lru.lruList.MoveToFront(elem)
		return
	}
	lru.cache[key] = lru.lruList.PushFront(key)
	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	if elem := lru.lruList.Back(); elem != nil {
		lru.lruList.Remove(elem)
		delete(lru.cache, elem.Value.(string))
	}
}

// WarmFromKeys loads keys oldest-first so the newest end up most recent.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

func (lru *IdempotencyLRU) Size() int { return lru.lruList.Len() }
