// Package chain composes the per-kind object-store tables into the
// single transactional Database (spec §4.1). Block/transaction
// application, maintenance-boundary detection, and fork-switch
// rollback live one layer up in pkg/node, which drives this Database.
//
// Grounded on the teacher's pkg/app/perp.App (one struct owning every
// subsystem: mempool, registry, books, account manager) generalized
// from a single fixed perp market to the spec's full multi-asset
// ledger, and on pkg/abci.Bridge's FinalizeBlock shape for the
// block-apply entry point.
package chain

import (
	"fmt"
	"sync"

	"github.com/ledgerforge/chain/pkg/entity"
	"github.com/ledgerforge/chain/pkg/store"
	"github.com/ledgerforge/chain/pkg/types"
	"go.uber.org/zap"
)

// MaxUndoHistory bounds how many block savepoints are kept nested
// under the head before the oldest are coalesced into the durable
// baseline (spec §4.1).
const MaxUndoHistory = 1024

// Database is the object store: every entity table plus the
// savepoint stack that makes mutation through it transactional.
type Database struct {
	mu sync.RWMutex // guards read-only external snapshot queries only; the apply path is single-threaded (spec §5)

	stack *store.SavepointStack

	Assets             *store.Table[*entity.Asset]
	Accounts           *store.Table[*entity.Account]
	AccountStats       *store.Table[*entity.AccountStatistics]
	Balances           *store.Table[*entity.Balance]
	LimitOrders        *store.Table[*entity.LimitOrder]
	ShortOrders        *store.Table[*entity.ShortOrder]
	CallOrders         *store.Table[*entity.CallOrder]
	ForceSettlements   *store.Table[*entity.ForceSettlement]
	Witnesses          *store.Table[*entity.Witness]
	Delegates          *store.Table[*entity.Delegate]
	Workers            *store.Table[*entity.Worker]
	VestingBalances    *store.Table[*entity.VestingBalance]
	GlobalProps        *store.Table[*entity.GlobalProperty]
	DynGlobalProps     *store.Table[*entity.DynamicGlobalProperty]

	// blockDepth/headDepth track how deep the savepoint stack is so
	// ApplyBlock/ApplyTransaction nest correctly (head -> block -> tx).
	undoBaselines int // number of coalesced baselines performed, for diagnostics

	Log *zap.SugaredLogger
}

// New builds an empty Database with every index the spec names wired up.
func New(log *zap.SugaredLogger) *Database {
	stack := &store.SavepointStack{}
	db := &Database{
		stack:            stack,
		Assets:           store.NewTable[*entity.Asset](types.KindAsset, stack),
		Accounts:         store.NewTable[*entity.Account](types.KindAccount, stack),
		AccountStats:     store.NewTable[*entity.AccountStatistics](types.KindAccountStatistics, stack),
		Balances:         store.NewTable[*entity.Balance](types.KindBalance, stack),
		LimitOrders:      store.NewTable[*entity.LimitOrder](types.KindLimitOrder, stack),
		ShortOrders:      store.NewTable[*entity.ShortOrder](types.KindShortOrder, stack),
		CallOrders:       store.NewTable[*entity.CallOrder](types.KindCallOrder, stack),
		ForceSettlements: store.NewTable[*entity.ForceSettlement](types.KindForceSettlement, stack),
		Witnesses:        store.NewTable[*entity.Witness](types.KindWitness, stack),
		Delegates:        store.NewTable[*entity.Delegate](types.KindDelegate, stack),
		Workers:          store.NewTable[*entity.Worker](types.KindWorker, stack),
		VestingBalances:  store.NewTable[*entity.VestingBalance](types.KindVestingBalance, stack),
		GlobalProps:      store.NewTable[*entity.GlobalProperty](types.KindGlobalProperty, stack),
		DynGlobalProps:   store.NewTable[*entity.DynamicGlobalProperty](types.KindDynamicGlobalProperty, stack),
		Log:              log,
	}

	db.Accounts.AddUnique("name", func(a *entity.Account) (string, bool) { return a.Name, true })
	db.AccountStats.AddUnique("account", func(s *entity.AccountStatistics) (string, bool) {
		return s.Account.String(), true
	})
	db.Assets.AddUnique("symbol", func(a *entity.Asset) (string, bool) { return a.Symbol, true })
	db.Balances.AddUnique("owner_asset", func(b *entity.Balance) (string, bool) {
		return b.Owner.String() + "/" + b.Asset.String(), true
	})
	db.Witnesses.AddUnique("account", func(w *entity.Witness) (string, bool) {
		return w.WitnessAccount.String(), true
	})
	db.Delegates.AddUnique("account", func(d *entity.Delegate) (string, bool) {
		return d.DelegateAccount.String(), true
	})
	db.Workers.AddIndex("by_approval", func(a, b *entity.Worker) bool {
		if a.ApprovingVotes != b.ApprovingVotes {
			return a.ApprovingVotes > b.ApprovingVotes // descending, spec §4.4 "ordered by approving stake descending"
		}
		return a.ID.Less(b.ID)
	})

	return db
}

// Begin/Commit/Undo expose the savepoint stack to the chain-application
// layer (pkg/node's ApplyBlock/applyTransaction) and to tests
// that need to probe round-trip idempotence directly (spec §8).
func (db *Database) Begin(name string) { db.stack.Begin(name) }
func (db *Database) Commit() error     { return db.stack.Commit() }
func (db *Database) Undo() error       { return db.stack.Undo() }
func (db *Database) Depth() int        { return db.stack.Depth() }

// UndoTo rolls the savepoint stack back to exactly targetDepth frames,
// the primitive a fork switch uses to discard the losing branch's head
// savepoints down to the last common ancestor (spec §4.1).
func (db *Database) UndoTo(targetDepth int) error { return db.stack.UndoTo(targetDepth) }

// CoalesceBaseline bounds undo history to maxDepth frames, folding
// anything older into the durable baseline (spec §4.1, MaxUndoHistory).
func (db *Database) CoalesceBaseline(maxDepth int) int {
	dropped := db.stack.CoalesceBaseline(maxDepth)
	db.undoBaselines += dropped
	return dropped
}

// GlobalProperty returns the singleton (spec §3), creating it with
// init only the first time it is asked for.
func (db *Database) GlobalProperty() *entity.GlobalProperty {
	gp, ok := db.GlobalProps.Get(types.ID{Kind: types.KindGlobalProperty, Instance: 0})
	if !ok {
		panic("chain: global property singleton not initialized — call Genesis first")
	}
	return gp
}

func (db *Database) DynamicGlobalProperty() *entity.DynamicGlobalProperty {
	dgp, ok := db.DynGlobalProps.Get(types.ID{Kind: types.KindDynamicGlobalProperty, Instance: 0})
	if !ok {
		panic("chain: dynamic global property singleton not initialized — call Genesis first")
	}
	return dgp
}

// ModifyGlobalProperty mutates the singleton via the generic store
// path so changes remain undoable.
func (db *Database) ModifyGlobalProperty(fn func(*entity.GlobalProperty)) error {
	id := types.ID{Kind: types.KindGlobalProperty, Instance: 0}
	return db.GlobalProps.Modify(id, func(g **entity.GlobalProperty) { fn(*g) })
}

func (db *Database) ModifyDynamicGlobalProperty(fn func(*entity.DynamicGlobalProperty)) error {
	id := types.ID{Kind: types.KindDynamicGlobalProperty, Instance: 0}
	return db.DynGlobalProps.Modify(id, func(d **entity.DynamicGlobalProperty) { fn(*d) })
}

// AllocateVoteID hands out the next dense vote-tally slot from the
// single namespace shared by witnesses, delegates, and workers (spec
// §3 "Vote tally slot: ... each witness, delegate, and worker owns
// one"). Per-kind counters would collide: a witness and a delegate
// both created first would otherwise both claim slot 0.
func (db *Database) AllocateVoteID() (uint32, error) {
	dgp := db.DynamicGlobalProperty()
	id := dgp.NextVoteID
	if err := db.ModifyDynamicGlobalProperty(func(d *entity.DynamicGlobalProperty) {
		d.NextVoteID = id + 1
	}); err != nil {
		return 0, err
	}
	return id, nil
}

// RLock/RUnlock bound external snapshot reads (spec §5 "Read-only
// external queries ... see ... a consistent prior version"). The
// apply path (ApplyBlock) takes the write lock for its whole
// execution so snapshot readers never observe a block mid-application.
func (db *Database) RLock()   { db.mu.RLock() }
func (db *Database) RUnlock() { db.mu.RUnlock() }
func (db *Database) Lock()    { db.mu.Lock() }
func (db *Database) Unlock()  { db.mu.Unlock() }

// BalanceOf returns the (owner, asset) balance, or zero if elided.
func (db *Database) BalanceOf(owner, asset types.ID) int64 {
	b, ok := db.Balances.Find("owner_asset", owner.String()+"/"+asset.String())
	if !ok {
		return 0
	}
	return b.Amount
}

// AdjustBalance applies delta to (owner, asset), creating the row if
// absent and removing it if the result is exactly zero (spec §3 "zero
// balances may be elided"). Returns an error if the result would be negative.
func (db *Database) AdjustBalance(owner, asset types.ID, delta int64) error {
	key := owner.String() + "/" + asset.String()
	b, ok := db.Balances.Find("owner_asset", key)
	if !ok {
		if delta < 0 {
			return fmt.Errorf("chain: insufficient balance for %s in asset %s", owner, asset)
		}
		if delta == 0 {
			return nil
		}
		_, err := db.Balances.Create(func(id types.ID) *entity.Balance {
			return &entity.Balance{ID: id, Owner: owner, Asset: asset, Amount: delta}
		})
		return err
	}
	newAmount := b.Amount + delta
	if newAmount < 0 {
		return fmt.Errorf("chain: insufficient balance for %s in asset %s: have %d, need %d", owner, asset, b.Amount, -delta)
	}
	if newAmount == 0 {
		return db.Balances.Remove(b.ID)
	}
	return db.Balances.Modify(b.ID, func(row **entity.Balance) {
		(*row).Amount = newAmount
	})
}
