package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/ledgerforge/chain/pkg/chain"
	"github.com/ledgerforge/chain/pkg/entity"
	"github.com/ledgerforge/chain/pkg/store"
	"github.com/ledgerforge/chain/pkg/types"
	"go.uber.org/zap"
)

// Store wraps a Pebble handle holding the durable baseline: everything
// folded out of undo history once it exceeds chain.MaxUndoHistory
// (spec §4.1 "Beyond that history the oldest frames are coalesced into
// a new durable baseline"), snapshotted at commit boundaries.
type Store struct {
	db *pebble.DB
}

// Open creates or reopens the Pebble store at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Snapshot writes every table of db's current state as one atomic
// Pebble batch tagged with blockNumber, the "consistent snapshot at
// any commit boundary" spec §6 requires of a persistence provider.
func (s *Store) Snapshot(db *chain.Database, blockNumber uint64) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	if err := snapshotTable(batch, types.KindAsset, db.Assets); err != nil {
		return err
	}
	if err := snapshotTable(batch, types.KindAccount, db.Accounts); err != nil {
		return err
	}
	if err := snapshotTable(batch, types.KindAccountStatistics, db.AccountStats); err != nil {
		return err
	}
	if err := snapshotTable(batch, types.KindBalance, db.Balances); err != nil {
		return err
	}
	if err := snapshotTable(batch, types.KindLimitOrder, db.LimitOrders); err != nil {
		return err
	}
	if err := snapshotTable(batch, types.KindShortOrder, db.ShortOrders); err != nil {
		return err
	}
	if err := snapshotTable(batch, types.KindCallOrder, db.CallOrders); err != nil {
		return err
	}
	if err := snapshotTable(batch, types.KindForceSettlement, db.ForceSettlements); err != nil {
		return err
	}
	if err := snapshotTable(batch, types.KindWitness, db.Witnesses); err != nil {
		return err
	}
	if err := snapshotTable(batch, types.KindDelegate, db.Delegates); err != nil {
		return err
	}
	if err := snapshotTable(batch, types.KindWorker, db.Workers); err != nil {
		return err
	}
	if err := snapshotTable(batch, types.KindVestingBalance, db.VestingBalances); err != nil {
		return err
	}
	if err := snapshotTable(batch, types.KindGlobalProperty, db.GlobalProps); err != nil {
		return err
	}
	if err := snapshotTable(batch, types.KindDynamicGlobalProperty, db.DynGlobalProps); err != nil {
		return err
	}

	var cp [8]byte
	binary.BigEndian.PutUint64(cp[:], blockNumber)
	if err := batch.Set(checkpointKey, cp[:], nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// LastCheckpoint returns the block number of the last Snapshot, or 0
// if none has been taken.
func (s *Store) LastCheckpoint() (uint64, error) {
	v, closer, err := s.db.Get(checkpointKey)
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	return binary.BigEndian.Uint64(v), nil
}

// Restore rebuilds a fresh chain.Database from the last snapshot. The
// caller is responsible for replaying any blocks applied after the
// returned checkpoint, sourced from the collaborator that owns block
// storage (spec §1 "on-disk block database layout" is an external
// concern; this only restores the object-store baseline).
func (s *Store) Restore(log *zap.SugaredLogger) (*chain.Database, uint64, error) {
	db := chain.New(log)

	if err := loadTable(s.db, types.KindAsset, db.Assets, func() *entity.Asset { return &entity.Asset{} }); err != nil {
		return nil, 0, err
	}
	if err := loadTable(s.db, types.KindAccount, db.Accounts, func() *entity.Account { return &entity.Account{} }); err != nil {
		return nil, 0, err
	}
	if err := loadTable(s.db, types.KindAccountStatistics, db.AccountStats, func() *entity.AccountStatistics { return &entity.AccountStatistics{} }); err != nil {
		return nil, 0, err
	}
	if err := loadTable(s.db, types.KindBalance, db.Balances, func() *entity.Balance { return &entity.Balance{} }); err != nil {
		return nil, 0, err
	}
	if err := loadTable(s.db, types.KindLimitOrder, db.LimitOrders, func() *entity.LimitOrder { return &entity.LimitOrder{} }); err != nil {
		return nil, 0, err
	}
	if err := loadTable(s.db, types.KindShortOrder, db.ShortOrders, func() *entity.ShortOrder { return &entity.ShortOrder{} }); err != nil {
		return nil, 0, err
	}
	if err := loadTable(s.db, types.KindCallOrder, db.CallOrders, func() *entity.CallOrder { return &entity.CallOrder{} }); err != nil {
		return nil, 0, err
	}
	if err := loadTable(s.db, types.KindForceSettlement, db.ForceSettlements, func() *entity.ForceSettlement { return &entity.ForceSettlement{} }); err != nil {
		return nil, 0, err
	}
	if err := loadTable(s.db, types.KindWitness, db.Witnesses, func() *entity.Witness { return &entity.Witness{} }); err != nil {
		return nil, 0, err
	}
	if err := loadTable(s.db, types.KindDelegate, db.Delegates, func() *entity.Delegate { return &entity.Delegate{} }); err != nil {
		return nil, 0, err
	}
	if err := loadTable(s.db, types.KindWorker, db.Workers, func() *entity.Worker { return &entity.Worker{} }); err != nil {
		return nil, 0, err
	}
	if err := loadTable(s.db, types.KindVestingBalance, db.VestingBalances, func() *entity.VestingBalance { return &entity.VestingBalance{} }); err != nil {
		return nil, 0, err
	}
	if err := loadTable(s.db, types.KindGlobalProperty, db.GlobalProps, func() *entity.GlobalProperty { return &entity.GlobalProperty{} }); err != nil {
		return nil, 0, err
	}
	if err := loadTable(s.db, types.KindDynamicGlobalProperty, db.DynGlobalProps, func() *entity.DynamicGlobalProperty { return &entity.DynamicGlobalProperty{} }); err != nil {
		return nil, 0, err
	}

	cp, err := s.LastCheckpoint()
	if err != nil {
		return nil, 0, err
	}
	return db, cp, nil
}

func snapshotTable[T store.Entity[T]](batch *pebble.Batch, kind types.Kind, tbl *store.Table[T]) error {
	var encErr error
	tbl.All(func(row T) bool {
		b, err := encodeGob(row)
		if err != nil {
			encErr = err
			return false
		}
		id := row.EntityID()
		if err := batch.Set(entityKey(uint64(kind), id.Instance), b, nil); err != nil {
			encErr = err
			return false
		}
		return true
	})
	return encErr
}

func loadTable[T store.Entity[T]](pdb *pebble.DB, kind types.Kind, tbl *store.Table[T], newT func() T) error {
	prefix := []byte(fmt.Sprintf("e:%d:", kind))
	upper := append(append([]byte(nil), prefix...), 0xFF)
	iter, err := pdb.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		row := newT()
		if err := decodeGob(iter.Value(), row); err != nil {
			return fmt.Errorf("storage: decode %s row: %w", kind, err)
		}
		tbl.Load(row)
	}
	return iter.Error()
}
