// Package tests holds cross-package end-to-end scenarios, the way the
// teacher's own tests/ package exercises whole flows (market creation,
// order matching, margin liquidation) rather than single-package units.
package tests

import (
	"testing"

	"github.com/ledgerforge/chain/pkg/chain"
	"github.com/ledgerforge/chain/pkg/crypto"
	"github.com/ledgerforge/chain/pkg/entity"
	"github.com/ledgerforge/chain/pkg/node"
	"github.com/ledgerforge/chain/pkg/ops"
	"github.com/ledgerforge/chain/pkg/scheduler"
	"github.com/ledgerforge/chain/pkg/types"
)

// TestGenesisApplyBlockTransfer drives the full path a real process
// takes: Genesis seeds the core asset and global properties, alice's
// active authority is a single signing key, and one applied block with
// a signed transfer transaction moves balance and advances head state.
func TestGenesisApplyBlockTransfer(t *testing.T) {
	db := chain.New(nil)
	n, err := node.Genesis(db, nil, node.GenesisConfig{
		Parameters: entity.Parameters{
			BlockIntervalSec:       5,
			MaintenanceIntervalSec: 86400,
			MaximumWitnessCount:    21,
			MaximumCommitteeCount:  11,
		},
		CoreAssetSymbol: "CORE",
		GenesisTimeUnix: 1000,
	})
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}

	aliceKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate alice key: %v", err)
	}
	aliceAuth := entity.Authority{
		Threshold: 1,
		Keys:      map[string]uint32{aliceKey.Address().Hex(): 1},
	}
	alice, err := db.Accounts.Create(func(id types.ID) *entity.Account {
		return &entity.Account{ID: id, Name: "alice", MembershipExpiration: entity.LifetimeExpiration,
			Owner: aliceAuth, Active: aliceAuth}
	})
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	bob, err := db.Accounts.Create(func(id types.ID) *entity.Account {
		return &entity.Account{ID: id, Name: "bob", MembershipExpiration: entity.LifetimeExpiration}
	})
	if err != nil {
		t.Fatalf("create bob: %v", err)
	}
	if _, err := db.AccountStats.Create(func(id types.ID) *entity.AccountStatistics {
		return &entity.AccountStatistics{ID: id, Account: alice.ID}
	}); err != nil {
		t.Fatalf("seed alice stats: %v", err)
	}
	if err := db.AdjustBalance(alice.ID, n.CoreAsset, 10000); err != nil {
		t.Fatalf("fund alice: %v", err)
	}

	tx := ops.Transaction{
		Expiration: 2000,
		Operations: []ops.Operation{{
			Type:     ops.Transfer,
			FeePayer: alice.ID,
			Fee:      0,
			TransferOp: &ops.TransferOp{
				From: alice.ID, To: bob.ID, Asset: n.CoreAsset, Amount: 1500,
			},
		}},
	}
	digest, err := tx.Digest()
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	sig, err := aliceKey.Sign(digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tx.Signatures = [][]byte{sig}

	block := node.Block{
		Witness:       types.ID{}, // no active witnesses yet: genesis here seeds an empty active set
		TimestampUnix: 1005,
		Previous:      [32]byte{},
		Transactions:  []ops.Transaction{tx},
	}

	if err := n.ApplyBlock(block); err == nil {
		t.Fatalf("expected ApplyBlock to reject a block from an unscheduled witness, got nil error")
	}

	// A direct-election reseed stands in for what a full maintenance
	// pass would otherwise do: genesis here seeded no initial witness
	// set for this single-block scenario to schedule against.
	if err := db.ModifyGlobalProperty(func(g *entity.GlobalProperty) {
		g.ActiveWitnesses = []types.ID{alice.ID}
	}); err != nil {
		t.Fatalf("seed active witness: %v", err)
	}
	n.Schedule = scheduler.New([]types.ID{alice.ID}, db.DynamicGlobalProperty().HeadBlockID)

	block.Witness = alice.ID
	if err := n.ApplyBlock(block); err != nil {
		t.Fatalf("ApplyBlock: %v", err)
	}

	if got := db.BalanceOf(bob.ID, n.CoreAsset); got != 1500 {
		t.Errorf("bob balance = %d, want 1500", got)
	}
	if got := db.BalanceOf(alice.ID, n.CoreAsset); got != 8500 {
		t.Errorf("alice balance = %d, want 8500", got)
	}
	dgp := db.DynamicGlobalProperty()
	if dgp.HeadBlockNumber != 1 {
		t.Errorf("head block number = %d, want 1", dgp.HeadBlockNumber)
	}
	if dgp.HeadBlockTimeUnix != 1005 {
		t.Errorf("head block time = %d, want 1005", dgp.HeadBlockTimeUnix)
	}
}
