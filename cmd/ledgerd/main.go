// Command ledgerd runs a single process that owns the object store,
// produces blocks as the sole scheduled witness, and serves the
// read-only query API (spec §6 process entry point; SPEC_FULL.md
// MODULE MAP "cmd/ledgerd -- process entry point wiring the above").
//
// Grounded on the teacher's cmd/node/main.go wiring shape (load config
// -> build logger -> construct app -> start API server -> run the
// production loop under a signal-cancelled context), with the
// consensus engine/libp2p network/ABCI bridge replaced by direct
// single-witness block production against *node.Node, since spec §1
// excludes block gossip and BFT voting as out of scope.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerforge/chain/params"
	"github.com/ledgerforge/chain/pkg/api"
	"github.com/ledgerforge/chain/pkg/chain"
	"github.com/ledgerforge/chain/pkg/mempool"
	"github.com/ledgerforge/chain/pkg/node"
	"github.com/ledgerforge/chain/pkg/scheduler"
	"github.com/ledgerforge/chain/pkg/storage"
	"github.com/ledgerforge/chain/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logPath := cfg.Node.LogPath
	if logPath == "" {
		logPath = os.Getenv("LOG_FILE")
	}
	var logger *zap.Logger
	var err error
	if logPath != "" {
		logger, err = util.NewLoggerWithFile(logPath)
	} else {
		logger, err = util.NewLogger()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logPath)

	store, err := storage.Open(cfg.Node.DataDir + "/objects")
	if err != nil {
		sugar.Fatalw("storage_open_failed", "err", err)
	}
	defer store.Close()

	n, pending, err := bootstrap(store, cfg, sugar)
	if err != nil {
		sugar.Fatalw("bootstrap_failed", "err", err)
	}

	apiServer := api.NewServer(n, pending, sugar)
	apiAddr := os.Getenv("API_ADDR")
	if apiAddr == "" {
		apiAddr = cfg.Node.ListenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		sugar.Infow("api_server_starting", "addr", apiAddr)
		if err := apiServer.Start(apiAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("node_starting",
		"single_node", cfg.Node.SingleNode,
		"block_interval_sec", n.DB.GlobalProperty().Parameters.BlockIntervalSec)

	runProductionLoop(ctx, n, store, pending, sugar)
}

// bootstrap restores the object store from its last Pebble snapshot,
// or runs Genesis if none exists yet (spec §6 "Genesis").
func bootstrap(store *storage.Store, cfg params.Config, sugar *zap.SugaredLogger) (*node.Node, *mempool.Mempool, error) {
	checkpoint, err := store.LastCheckpoint()
	if err != nil {
		return nil, nil, err
	}
	if checkpoint > 0 {
		db, cp, err := store.Restore(sugar)
		if err != nil {
			return nil, nil, err
		}
		sugar.Infow("restored_from_checkpoint", "block", cp)
		dgp := db.DynamicGlobalProperty()
		gp := db.GlobalProperty()
		coreAsset, ok := db.Assets.Find("symbol", "CORE")
		if !ok {
			return nil, nil, fmt.Errorf("ledgerd: restored database has no core asset")
		}
		n := &node.Node{
			DB:        db,
			CoreAsset: coreAsset.ID,
			Schedule:  scheduler.New(gp.ActiveWitnesses, dgp.HeadBlockID),
			Log:       sugar,
		}
		return n, mempool.New(), nil
	}

	db := chain.New(sugar)
	genesisTime := time.Now().Unix()
	n, err := node.Genesis(db, sugar, node.GenesisConfig{
		Parameters:      cfg.Parameters,
		CoreAssetSymbol: "CORE",
		GenesisTimeUnix: genesisTime,
	})
	if err != nil {
		return nil, nil, err
	}
	sugar.Infow("genesis_applied", "time", genesisTime)
	return n, mempool.New(), nil
}

// runProductionLoop produces a block every parameters.BlockIntervalSec
// while this process is the sole witness, the devnet single-node mode
// SPEC_FULL.md's ambient stack describes as the teacher's
// Node.SingleNode equivalent.
func runProductionLoop(ctx context.Context, n *node.Node, store *storage.Store, pending *mempool.Mempool, sugar *zap.SugaredLogger) {
	interval := time.Duration(n.DB.GlobalProperty().Parameters.BlockIntervalSec) * time.Second
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := produceBlock(n, store, pending); err != nil {
				sugar.Warnw("produce_block_failed", "err", err)
			}
		}
	}
}

func produceBlock(n *node.Node, store *storage.Store, pending *mempool.Mempool) error {
	n.DB.RLock()
	dgp := n.DB.DynamicGlobalProperty()
	gp := n.DB.GlobalProperty()
	n.DB.RUnlock()

	interval := gp.Parameters.BlockIntervalSec
	if interval <= 0 {
		interval = 1
	}
	now := time.Now().Unix()
	slot := now / interval
	witness, ok := n.Schedule.WitnessForSlot(slot)
	if !ok {
		return fmt.Errorf("no active witness scheduled for slot %d", slot)
	}

	blockTime := slot * interval
	if blockTime <= dgp.HeadBlockTimeUnix {
		blockTime = dgp.HeadBlockTimeUnix + interval
	}

	maxOps := 0
	if gp.Parameters.MaxBlockSize > 0 {
		maxOps = int(gp.Parameters.MaxBlockSize / 256)
	}
	txs := pending.SelectForBlock(maxOps)
	block := node.Block{
		Witness:       witness,
		TimestampUnix: blockTime,
		Previous:      dgp.HeadBlockID,
		Transactions:  txs,
	}
	if err := n.ApplyBlock(block); err != nil {
		return err
	}

	var digests [][32]byte
	for _, tx := range txs {
		if d, err := tx.Digest(); err == nil {
			digests = append(digests, d)
		}
	}
	newDgp := n.DB.DynamicGlobalProperty()
	pending.Evict(newDgp.HeadBlockTimeUnix, digests)

	return store.Snapshot(n.DB, newDgp.HeadBlockNumber)
}
