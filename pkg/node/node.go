// Package node is the composition root that owns a chain.Database
// together with the witness schedule and drives block/transaction
// application, the maintenance-boundary trigger, and fork-switch
// rollback (spec §4.1, §4.5, §5, §6).
//
// Grounded on the teacher's pkg/app/perp.App (one struct composing
// every subsystem — mempool, registry, books, account manager — with
// a FinalizeBlock entry point), generalized from a single fixed perp
// market to the full ledger/DEX stack.
//
// This composition lives outside pkg/chain rather than on
// chain.Database itself: pkg/ops and pkg/maintenance both import
// pkg/chain for *chain.Database, so chain.Database cannot import them
// back without a cycle. node is the layer above all three, the same
// role perp.App plays over the teacher's registry/book/account
// packages.
package node

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/ledgerforge/chain/pkg/authority"
	"github.com/ledgerforge/chain/pkg/chain"
	"github.com/ledgerforge/chain/pkg/chainerr"
	"github.com/ledgerforge/chain/pkg/entity"
	"github.com/ledgerforge/chain/pkg/maintenance"
	"github.com/ledgerforge/chain/pkg/matching"
	"github.com/ledgerforge/chain/pkg/ops"
	"github.com/ledgerforge/chain/pkg/scheduler"
	"github.com/ledgerforge/chain/pkg/types"
	"go.uber.org/zap"
)

// Block is one proposed round of the DPoS schedule (spec §4.5, §6
// Inputs "Block").
type Block struct {
	Witness       types.ID
	TimestampUnix int64
	Previous      [32]byte
	Transactions  []ops.Transaction
}

// Node wires a chain.Database to the witness schedule that picks who
// may produce the next block.
type Node struct {
	DB        *chain.Database
	CoreAsset types.ID
	Schedule  *scheduler.Schedule
	Log       *zap.SugaredLogger
}

// GenesisConfig seeds the singleton objects and initial witness/
// delegate sets (spec §6 "Genesis").
type GenesisConfig struct {
	Parameters       entity.Parameters
	CommitteeAccount types.ID
	CoreAssetSymbol  string
	GenesisTimeUnix  int64
	InitialWitnesses []types.ID
	InitialDelegates []types.ID
}

// Genesis builds the core asset and the two singleton property
// objects directly (bypassing pkg/ops, since no operation fee payer
// or authority exists yet), and returns a Node ready to apply blocks.
func Genesis(db *chain.Database, log *zap.SugaredLogger, cfg GenesisConfig) (*Node, error) {
	core, err := db.Assets.Create(func(id types.ID) *entity.Asset {
		return &entity.Asset{ID: id, Symbol: cfg.CoreAssetSymbol, Issuer: cfg.CommitteeAccount, Precision: 5, MaxSupply: types.MaxShareSupply}
	})
	if err != nil {
		return nil, err
	}
	if core.ID.Instance != 0 {
		return nil, chainerr.Invariantf("node.Genesis", core.ID, "core asset must be the first asset created")
	}

	if _, err := db.GlobalProps.Create(func(id types.ID) *entity.GlobalProperty {
		return &entity.GlobalProperty{
			ID: id, Parameters: cfg.Parameters,
			ActiveWitnesses: append([]types.ID(nil), cfg.InitialWitnesses...),
			ActiveDelegates: append([]types.ID(nil), cfg.InitialDelegates...),
			ActiveCommitteeAccount: cfg.CommitteeAccount,
		}
	}); err != nil {
		return nil, err
	}

	var headWitness types.ID
	if len(cfg.InitialWitnesses) > 0 {
		headWitness = cfg.InitialWitnesses[0]
	}
	nextMaintenance := cfg.GenesisTimeUnix + cfg.Parameters.MaintenanceIntervalSec
	if interval := cfg.Parameters.MaintenanceIntervalSec; interval > 0 {
		nextMaintenance = (cfg.GenesisTimeUnix/interval + 1) * interval // first interval boundary strictly after genesis
	}
	if _, err := db.DynGlobalProps.Create(func(id types.ID) *entity.DynamicGlobalProperty {
		return &entity.DynamicGlobalProperty{
			ID: id, HeadBlockNumber: 0, HeadBlockTimeUnix: cfg.GenesisTimeUnix,
			NextMaintenanceTimeUnix: nextMaintenance,
			CurrentWitness:          headWitness,
		}
	}); err != nil {
		return nil, err
	}

	return &Node{
		DB:        db,
		CoreAsset: core.ID,
		Schedule:  scheduler.New(cfg.InitialWitnesses, [32]byte{}),
		Log:       log,
	}, nil
}

// ApplyBlock validates block against the current schedule and head
// state, applies every transaction under a nested savepoint, runs the
// matching passes, and triggers maintenance once the block crosses
// next_maintenance_time (spec §4.1 "head -> block -> tx" nesting, §4.4
// "Maintenance boundary", §4.5 "slot/witness match").
func (n *Node) ApplyBlock(block Block) error {
	n.DB.Lock()
	defer n.DB.Unlock()

	dgp := n.DB.DynamicGlobalProperty()
	gp := n.DB.GlobalProperty()

	if dgp.HeadBlockTimeUnix != 0 && block.TimestampUnix <= dgp.HeadBlockTimeUnix {
		return chainerr.Validationf("node.ApplyBlock", block.TimestampUnix, "block time must advance past head_block_time %d", dgp.HeadBlockTimeUnix)
	}
	if gp.Parameters.BlockIntervalSec > 0 && block.TimestampUnix%gp.Parameters.BlockIntervalSec != 0 {
		return chainerr.Validationf("node.ApplyBlock", block.TimestampUnix, "block time must be a multiple of block_interval_sec")
	}
	if block.Previous != dgp.HeadBlockID {
		return chainerr.Validationf("node.ApplyBlock", block.Previous, "block does not extend the current head")
	}
	slot := block.TimestampUnix / gp.Parameters.BlockIntervalSec
	expected, ok := n.Schedule.WitnessForSlot(slot)
	if !ok || expected != block.Witness {
		return chainerr.Schedulingf("node.ApplyBlock", block.Witness, "witness %s is not scheduled for slot %d", block.Witness, slot)
	}

	n.DB.Begin("block")
	for _, tx := range block.Transactions {
		if err := n.applyTransaction(tx, block.TimestampUnix); err != nil {
			_ = n.DB.Undo() // unwind the block savepoint entirely: one bad tx fails the whole block
			return err
		}
	}

	touchedPairs, miaPairs, mias := n.scanBookPairs()
	for _, p := range touchedPairs {
		if _, err := matching.MatchLimitOrders(n.DB, p[0], p[1], block.TimestampUnix); err != nil {
			_ = n.DB.Undo()
			return err
		}
	}
	for _, p := range miaPairs {
		if _, err := matching.MatchShortOrders(n.DB, p[0], p[1], block.TimestampUnix); err != nil {
			_ = n.DB.Undo()
			return err
		}
	}
	for _, mia := range mias {
		swan, settlementPrice, err := matching.MatchMarginCalls(n.DB, mia, block.TimestampUnix)
		if err != nil {
			_ = n.DB.Undo()
			return err
		}
		if swan {
			if err := matching.GlobalSettlement(n.DB, mia, settlementPrice); err != nil {
				_ = n.DB.Undo()
				return err
			}
		}
	}

	headID := blockID(block)
	n.Schedule.RecordSlot(true)
	if err := n.DB.ModifyDynamicGlobalProperty(func(d *entity.DynamicGlobalProperty) {
		d.HeadBlockNumber++
		d.HeadBlockID = headID
		d.HeadBlockTimeUnix = block.TimestampUnix
		d.CurrentWitness = block.Witness
		d.RecentSlotsFilled = n.Schedule.RecentSlotsFilled
	}); err != nil {
		_ = n.DB.Undo()
		return err
	}

	if block.TimestampUnix >= dgp.NextMaintenanceTimeUnix {
		if interval := gp.Parameters.MaintenanceIntervalSec; interval > 0 {
			next := (block.TimestampUnix/interval + 1) * interval // next boundary strictly after this block
			if err := n.DB.ModifyDynamicGlobalProperty(func(d *entity.DynamicGlobalProperty) {
				d.NextMaintenanceTimeUnix = next
			}); err != nil {
				_ = n.DB.Undo()
				return err
			}
		}
		if err := maintenance.Run(n.DB, n.CoreAsset, block.TimestampUnix, n.Log); err != nil {
			_ = n.DB.Undo()
			return err
		}
		newGP := n.DB.GlobalProperty()
		n.Schedule = scheduler.New(newGP.ActiveWitnesses, headID)
	}

	if err := n.DB.Commit(); err != nil {
		return err
	}
	n.DB.CoalesceBaseline(chain.MaxUndoHistory)
	return nil
}

// applyTransaction authorizes and evaluates every operation in tx
// under its own nested savepoint (spec §4.1 "tx" depth, §7
// Authorization).
func (n *Node) applyTransaction(tx ops.Transaction, now int64) error {
	if tx.Expiration <= now {
		return chainerr.Validationf("node.applyTransaction", tx.Expiration, "transaction expired at block time %d", now)
	}
	digest, err := tx.Digest()
	if err != nil {
		return err
	}
	resolve := func(id types.ID) (*entity.Account, bool) { return n.DB.Accounts.Get(id) }

	n.DB.Begin("tx")
	for _, op := range tx.Operations {
		required := ops.RequireActive(op.FeePayer)
		if err := authority.VerifyTransaction(digest, tx.Signatures, required, resolve); err != nil {
			_ = n.DB.Undo()
			return err
		}
		if err := ops.Evaluate(n.DB, op, now); err != nil {
			_ = n.DB.Undo()
			return err
		}
	}
	return n.DB.Commit()
}

// ForkSwitch rolls back to the savepoint depth of the last common
// ancestor with a competing branch, undoing every block applied since
// (spec §4.1 "Fork switching discards the head savepoints of the
// losing branch").
func (n *Node) ForkSwitch(commonAncestorDepth int) error {
	return n.DB.UndoTo(commonAncestorDepth)
}

// scanBookPairs collects the distinct (base, quote) pairs resting in
// the limit order book, the distinct (mia, backing) pairs resting in
// the short order book, and the distinct market-pegged assets with
// open call orders, so the caller can drive one matching pass per
// pair without re-scanning per operation.
func (n *Node) scanBookPairs() (limitPairs [][2]types.ID, shortPairs [][2]types.ID, mias []types.ID) {
	seenLimit := map[[2]types.ID]bool{}
	n.DB.LimitOrders.All(func(o *entity.LimitOrder) bool {
		base, quote := o.AssetPair()
		key := [2]types.ID{base, quote}
		if !seenLimit[key] {
			seenLimit[key] = true
			limitPairs = append(limitPairs, key)
		}
		return true
	})
	seenShort := map[[2]types.ID]bool{}
	n.DB.ShortOrders.All(func(o *entity.ShortOrder) bool {
		key := [2]types.ID{o.SellPrice.Base.AssetID, o.SellPrice.Quote.AssetID}
		if !seenShort[key] {
			seenShort[key] = true
			shortPairs = append(shortPairs, key)
		}
		return true
	})
	seenMia := map[types.ID]bool{}
	n.DB.CallOrders.All(func(c *entity.CallOrder) bool {
		if !seenMia[c.DebtAsset] {
			seenMia[c.DebtAsset] = true
			mias = append(mias, c.DebtAsset)
		}
		return true
	})
	return limitPairs, shortPairs, mias
}

// blockID stably hashes a block's identity, the headBlockID fed back
// into the next schedule reseed (spec §4.5).
func blockID(b Block) [32]byte {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(b.Witness.Instance))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(b.TimestampUnix))
	h.Write(buf[:])
	h.Write(b.Previous[:])
	for _, tx := range b.Transactions {
		d, err := tx.Digest()
		if err == nil {
			h.Write(d[:])
		}
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
