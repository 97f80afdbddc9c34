package core

import (
	"OptionEscrow/internal/ledger"
	"crypto/sha256"
	"encoding/binary"
	"sort"
)

const GenesisHashSeed = "OptionEscrow:genesis:v1"

// StateHasher chains state hashes: hash[N] = SHA-256(hash[N-1] || seqLE || digest)
type StateHasher struct {
	prevHash [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: sha256.Sum256([]byte(GenesisHashSeed))}
}

// ComputeHash advances the chain by one link and returns the new tip.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])
	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// GetPrevHash returns the current chain tip.
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// digest accumulates the bytes hashed for one operation. Field order is
// fixed; changing it changes every hash downstream.
type digest struct {
	buf []byte
}

func (d *digest) u64(v uint64) {
	d.buf = binary.LittleEndian.AppendUint64(d.buf, v)
}

func (d *digest) i64(v int64) { d.u64(uint64(v)) }

func (d *digest) str(s string) {
	d.u64(uint64(len(s)))
	d.buf = append(d.buf, s...)
}

func (d *digest) flag(b bool) {
	if b {
		d.buf = append(d.buf, 1)
	} else {
		d.buf = append(d.buf, 0)
	}
}

// accounts writes the post-operation balance of every account a batch touched,
// sorted by path.
func (d *digest) accounts(tracker *ledger.BalanceTracker, batches []*ledger.Batch) {
	seen := make(map[string]ledger.AccountKey)
	for _, b := range batches {
		if b == nil {
			continue
		}
		for _, j := range b.Journals {
			seen[j.DebitAccount.AccountPath()] = j.DebitAccount
			seen[j.CreditAccount.AccountPath()] = j.CreditAccount
		}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		d.str(p)
		d.i64(tracker.GetBalance(seen[p]))
	}
}

func (d *digest) trade(t *Trade) {
	if t == nil {
		return
	}
	d.u64(t.ID)
	d.u64(uint64(t.State))
	d.buf = append(d.buf, t.Buyer.Bytes()...)
	d.buf = append(d.buf, t.Seller.Bytes()...)
	for _, s := range []int{0, 1} {
		d.flag(t.Funded[s])
		d.flag(t.Claimed[s])
	}
	d.i64(t.LongClaimableAmount)
	d.i64(t.ShortClaimableAmount)
	d.i64(t.CollectableFees)
	d.i64(t.Settlement.Price)
	d.i64(t.Settlement.Timestamp)
}
