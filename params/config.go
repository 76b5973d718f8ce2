// Package params loads the node's runtime and genesis-parameter
// configuration, layering environment variables over coded defaults the
// way the teacher's params.LoadFromEnv does (spec §6 ambient
// configuration; SPEC_FULL.md AMBIENT STACK: "joho/godotenv ... layered
// over coded defaults").
package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/ledgerforge/chain/pkg/entity"
)

// Node holds process-level knobs that are not part of consensus state:
// where to listen, where to persist, how long to wait between produced
// blocks when running as the sole witness (devnet/test harness mode).
type Node struct {
	SingleNode   bool
	MinBlockTime time.Duration
	ListenAddr   string
	DataDir      string
	LogPath      string
}

// Config bundles the process config with the genesis chain parameters
// (spec §6 "Parameters") that seed entity.GlobalProperty at Genesis.
type Config struct {
	Node       Node
	Parameters entity.Parameters
}

// Default mirrors the original implementation's GRAPHENE_DEFAULT_*
// constants (see original_source/libraries/chain/include/graphene/chain/config.hpp,
// consulted per SPEC_FULL.md's instruction to follow original_source/
// for details the distilled spec leaves implicit).
func Default() Config {
	return Config{
		Node: Node{
			SingleNode:   true,
			MinBlockTime: 200 * time.Millisecond,
			ListenAddr:   ":8090",
			DataDir:      "./data",
			LogPath:      "",
		},
		Parameters: entity.Parameters{
			BlockIntervalSec:             3,
			MaintenanceIntervalSec:       86400,
			WitnessPayPerBlock:           1000,
			WorkerBudgetPerDay:           500000,
			NetworkPercentOfFee:          2000, // 20.00%
			LifetimeReferrerPercentOfFee: 3000, // 30.00%
			BurnPercentOfFee:             2000, // 20.00%
			MaxBulkDiscountPercent:       5000, // 50.00%
			BulkDiscountThresholdMin:     1000,
			BulkDiscountThresholdMax:     100000000,
			CashbackVestingPeriodSec:     365 * 86400,
			CashbackVestingThreshold:     10000,
			MaximumWitnessCount:          1001,
			MaximumCommitteeCount:        1001,
			MaxAuthorityMembership:       10,
			ForceSettlementDelaySec:      86400,
			ForceSettlementOffsetBp:      100,   // 1.00%
			ForceSettlementMaxBp:         2000,  // 20.00% of supply per day
			PriceFeedLifetimeSec:         86400,
			CountNonMemberVotes:          true,
			MaxTransactionSize:           64 * 1024,
			MaxBlockSize:                 2 * 1024 * 1024,
			MaxTimeUntilExpirationSec:    86400,
		},
	}
}

// LoadFromEnv loads a .env file (if present) and layers environment
// variables over Default(), the same ENV > .env > coded-default
// priority as the teacher's LoadFromEnv.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Node.SingleNode = envBool("SINGLE_NODE", cfg.Node.SingleNode)
	cfg.Node.MinBlockTime = envDuration("NODE_MIN_BLOCK_TIME_MS", cfg.Node.MinBlockTime)
	cfg.Node.ListenAddr = envString("LISTEN_ADDR", cfg.Node.ListenAddr)
	cfg.Node.DataDir = envString("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogPath = envString("LOG_PATH", cfg.Node.LogPath)

	p := &cfg.Parameters
	p.BlockIntervalSec = envInt64("BLOCK_INTERVAL_SEC", p.BlockIntervalSec)
	p.MaintenanceIntervalSec = envInt64("MAINTENANCE_INTERVAL_SEC", p.MaintenanceIntervalSec)
	p.WitnessPayPerBlock = envInt64("WITNESS_PAY_PER_BLOCK", p.WitnessPayPerBlock)
	p.WorkerBudgetPerDay = envInt64("WORKER_BUDGET_PER_DAY", p.WorkerBudgetPerDay)
	p.NetworkPercentOfFee = int32(envInt64("NETWORK_PERCENT_OF_FEE_BP", int64(p.NetworkPercentOfFee)))
	p.LifetimeReferrerPercentOfFee = int32(envInt64("LIFETIME_REFERRER_PERCENT_OF_FEE_BP", int64(p.LifetimeReferrerPercentOfFee)))
	p.BurnPercentOfFee = int32(envInt64("BURN_PERCENT_OF_FEE_BP", int64(p.BurnPercentOfFee)))
	p.MaxBulkDiscountPercent = int32(envInt64("MAX_BULK_DISCOUNT_PERCENT_BP", int64(p.MaxBulkDiscountPercent)))
	p.BulkDiscountThresholdMin = envInt64("BULK_DISCOUNT_THRESHOLD_MIN", p.BulkDiscountThresholdMin)
	p.BulkDiscountThresholdMax = envInt64("BULK_DISCOUNT_THRESHOLD_MAX", p.BulkDiscountThresholdMax)
	p.CashbackVestingPeriodSec = envInt64("CASHBACK_VESTING_PERIOD_SEC", p.CashbackVestingPeriodSec)
	p.CashbackVestingThreshold = envInt64("CASHBACK_VESTING_THRESHOLD", p.CashbackVestingThreshold)
	p.MaximumWitnessCount = uint16(envInt64("MAXIMUM_WITNESS_COUNT", int64(p.MaximumWitnessCount)))
	p.MaximumCommitteeCount = uint16(envInt64("MAXIMUM_COMMITTEE_COUNT", int64(p.MaximumCommitteeCount)))
	p.MaxAuthorityMembership = uint16(envInt64("MAX_AUTHORITY_MEMBERSHIP", int64(p.MaxAuthorityMembership)))
	p.ForceSettlementDelaySec = envInt64("FORCE_SETTLEMENT_DELAY_SEC", p.ForceSettlementDelaySec)
	p.ForceSettlementOffsetBp = int32(envInt64("FORCE_SETTLEMENT_OFFSET_BP", int64(p.ForceSettlementOffsetBp)))
	p.ForceSettlementMaxBp = int32(envInt64("FORCE_SETTLEMENT_MAX_BP", int64(p.ForceSettlementMaxBp)))
	p.PriceFeedLifetimeSec = envInt64("PRICE_FEED_LIFETIME_SEC", p.PriceFeedLifetimeSec)
	p.CountNonMemberVotes = envBool("COUNT_NON_MEMBER_VOTES", p.CountNonMemberVotes)
	p.MaxTransactionSize = envInt64("MAX_TRANSACTION_SIZE", p.MaxTransactionSize)
	p.MaxBlockSize = envInt64("MAX_BLOCK_SIZE", p.MaxBlockSize)
	p.MaxTimeUntilExpirationSec = envInt64("MAX_TIME_UNTIL_EXPIRATION_SEC", p.MaxTimeUntilExpirationSec)

	return cfg
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}
