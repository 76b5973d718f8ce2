// Package mempool holds pending transactions not yet included in a
// block, keyed by digest. Admission checks only expiration and
// duplicate digests; a pending transaction is not evaluated against
// chain state until a block that carries it is applied.
//
// Grounded on the teacher's pkg/app/core/mempool.Mempool (three FIFO
// queues selected into a proposal up to a byte budget), generalized
// from the teacher's raw-bytes/TxType classification to digest-keyed
// ops.Transaction dedup with expiration-window eviction.
package mempool

import (
	"sync"

	"github.com/ledgerforge/chain/pkg/chainerr"
	"github.com/ledgerforge/chain/pkg/ops"
)

// Mempool is a FIFO queue of pending transactions, deduplicated by
// digest. Expired and included entries are dropped only by Evict.
type Mempool struct {
	mu      sync.Mutex
	order   [][32]byte
	byHash  map[[32]byte]ops.Transaction
}

func New() *Mempool {
	return &Mempool{byHash: make(map[[32]byte]ops.Transaction)}
}

// Push admits tx if it is not already pending and has not yet
// expired, per spec §6 "the core rejects duplicates within its
// expiration window."
func (m *Mempool) Push(tx ops.Transaction, now int64) error {
	if tx.Expiration <= now {
		return chainerr.Validationf("mempool.Push", tx.Expiration, "transaction already expired at %d", now)
	}
	digest, err := tx.Digest()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byHash[digest]; exists {
		return chainerr.Validationf("mempool.Push", digest, "duplicate transaction")
	}
	m.byHash[digest] = tx
	m.order = append(m.order, digest)
	return nil
}

// Evict drops every pending transaction whose expiration has passed
// as of now, and any whose digest matches one just included in a
// block.
func (m *Mempool) Evict(now int64, included [][32]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	includedSet := make(map[[32]byte]bool, len(included))
	for _, d := range included {
		includedSet[d] = true
	}
	kept := m.order[:0]
	for _, d := range m.order {
		tx, ok := m.byHash[d]
		if !ok {
			continue
		}
		if includedSet[d] || tx.Expiration <= now {
			delete(m.byHash, d)
			continue
		}
		kept = append(kept, d)
	}
	m.order = kept
}

// SelectForBlock returns up to maxOps pending transactions in FIFO
// admission order, the candidate batch a producer proposes next
// (spec §6 Inputs "Block: ordered operation list").
func (m *Mempool) SelectForBlock(maxOps int) []ops.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ops.Transaction, 0, len(m.order))
	for _, d := range m.order {
		if maxOps > 0 && len(out) >= maxOps {
			break
		}
		if tx, ok := m.byHash[d]; ok {
			out = append(out, tx)
		}
	}
	return out
}

// Len reports the number of pending transactions.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// Has reports whether digest is currently pending.
func (m *Mempool) Has(digest [32]byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byHash[digest]
	return ok
}
