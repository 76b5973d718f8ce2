package mempool

import (
	"testing"

	"github.com/ledgerforge/chain/pkg/ops"
)

func txWithExpiration(exp int64) ops.Transaction {
	return ops.Transaction{Expiration: exp}
}

func TestMempool_PushRejectsExpired(t *testing.T) {
	m := New()
	if err := m.Push(txWithExpiration(100), 200); err == nil {
		t.Fatal("expected expired transaction to be rejected")
	}
}

func TestMempool_PushRejectsDuplicate(t *testing.T) {
	m := New()
	tx := txWithExpiration(1000)
	if err := m.Push(tx, 0); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if err := m.Push(tx, 0); err == nil {
		t.Fatal("expected duplicate digest to be rejected")
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 pending tx, got %d", m.Len())
	}
}

func TestMempool_SelectForBlockFIFO(t *testing.T) {
	m := New()
	tx1 := txWithExpiration(1000)
	tx2 := ops.Transaction{Expiration: 1001, Operations: []ops.Operation{{Type: ops.AccountCreate}}}
	if err := m.Push(tx1, 0); err != nil {
		t.Fatal(err)
	}
	if err := m.Push(tx2, 0); err != nil {
		t.Fatal(err)
	}
	got := m.SelectForBlock(1)
	if len(got) != 1 {
		t.Fatalf("expected 1 tx with maxOps=1, got %d", len(got))
	}
	d1, _ := tx1.Digest()
	g0, _ := got[0].Digest()
	if d1 != g0 {
		t.Fatalf("expected FIFO order to return the first-pushed tx first")
	}
}

func TestMempool_EvictDropsExpiredAndIncluded(t *testing.T) {
	m := New()
	tx1 := txWithExpiration(100)
	tx2 := ops.Transaction{Expiration: 1000, Operations: []ops.Operation{{Type: ops.AccountCreate}}}
	if err := m.Push(tx1, 0); err != nil {
		t.Fatal(err)
	}
	if err := m.Push(tx2, 0); err != nil {
		t.Fatal(err)
	}
	d2, _ := tx2.Digest()
	m.Evict(150, [][32]byte{d2})
	if m.Len() != 0 {
		t.Fatalf("expected both txs evicted (one expired, one included), got %d remaining", m.Len())
	}
}
