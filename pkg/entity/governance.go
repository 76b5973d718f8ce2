package entity

import "github.com/ledgerforge/chain/pkg/types"

// Witness is a block-producer candidate (spec §3, glossary).
type Witness struct {
	ID          types.ID
	WitnessAccount types.ID
	SigningKey  string // hex-encoded pubkey
	TotalVotes  int64  // snapshot from the last tally, informational
	VoteID      uint32 // dense slot index into the transient vote tally
	URL         string
}

func (w *Witness) EntityID() types.ID { return w.ID }
func (w *Witness) Clone() *Witness {
	cp := *w
	return &cp
}

// Delegate is a committee-member candidate (spec §3, glossary:
// "parameter-setting role").
type Delegate struct {
	ID              types.ID
	DelegateAccount types.ID
	TotalVotes      int64
	VoteID          uint32
	URL             string
}

func (d *Delegate) EntityID() types.ID { return d.ID }
func (d *Delegate) Clone() *Delegate {
	cp := *d
	return &cp
}

// WorkerPayType selects how a worker's daily pay is routed, the
// "runtime-polymorphic worker-pay visitor" of spec §9 flattened into a
// tagged variant.
type WorkerPayType uint8

const (
	WorkerPayRefund WorkerPayType = iota // unspent pay returns to reserve (burn)
	WorkerPayVesting
	WorkerPayImmediate
)

// Worker is an on-chain budget-drawing proposal (spec §3, §4.4 "Pay workers").
type Worker struct {
	ID              types.ID
	WorkerAccount   types.ID
	DailyPay        int64
	PayType         WorkerPayType
	VestingPeriodSec int64 // used when PayType == WorkerPayVesting
	VoteID          uint32
	ApprovingVotes  int64 // snapshot from the last tally
	WorkBegin       int64 // unix seconds
	WorkEnd         int64
	Name            string
}

func (w *Worker) EntityID() types.ID { return w.ID }
func (w *Worker) Clone() *Worker {
	cp := *w
	return &cp
}

// IsActive reports whether the worker is within its scheduled window at now.
func (w *Worker) IsActive(now int64) bool {
	return now >= w.WorkBegin && now < w.WorkEnd
}

// Parameters are the tunable chain parameters of spec §6, a parallel
// to the original's chain_parameters struct.
type Parameters struct {
	BlockIntervalSec           int64
	MaintenanceIntervalSec     int64
	WitnessPayPerBlock         int64
	WorkerBudgetPerDay         int64
	NetworkPercentOfFee        int32 // bps
	LifetimeReferrerPercentOfFee int32
	BurnPercentOfFee           int32
	MaxBulkDiscountPercent     int32
	BulkDiscountThresholdMin   int64
	BulkDiscountThresholdMax   int64
	CashbackVestingPeriodSec   int64
	CashbackVestingThreshold   int64
	MaximumWitnessCount        uint16
	MaximumCommitteeCount      uint16
	MaxAuthorityMembership     uint16
	ForceSettlementDelaySec    int64
	ForceSettlementOffsetBp    int32
	ForceSettlementMaxBp       int32
	PriceFeedLifetimeSec       int64
	CountNonMemberVotes        bool
	MaxTransactionSize         int64
	MaxBlockSize               int64
	MaxTimeUntilExpirationSec  int64
}

// GlobalProperty is the spec §3 singleton of tunables and active sets.
type GlobalProperty struct {
	ID                 types.ID
	Parameters         Parameters
	PendingParameters  *Parameters
	ActiveWitnesses    []types.ID
	ActiveDelegates    []types.ID
	ActiveCommitteeAccount types.ID // genesis committee governance account
}

func (g *GlobalProperty) EntityID() types.ID { return g.ID }
func (g *GlobalProperty) Clone() *GlobalProperty {
	cp := *g
	if g.PendingParameters != nil {
		p := *g.PendingParameters
		cp.PendingParameters = &p
	}
	cp.ActiveWitnesses = append([]types.ID(nil), g.ActiveWitnesses...)
	cp.ActiveDelegates = append([]types.ID(nil), g.ActiveDelegates...)
	return &cp
}

// DynamicGlobalProperty is the spec §3 singleton of head-state counters.
type DynamicGlobalProperty struct {
	ID                   types.ID
	HeadBlockNumber      uint64
	HeadBlockID          [32]byte
	HeadBlockTimeUnix    int64
	NextMaintenanceTimeUnix int64
	LastBudgetTimeUnix   int64
	CurrentWitness       types.ID
	WitnessBudget        int64
	RecentSlotsFilled    [2]uint64 // 128-bit bitfield, word [0] holds the most recent 64 slots
	NextVoteID           uint32    // next dense vote-tally slot to hand out, shared across witnesses/delegates/workers (spec §3 "Vote tally slot")
}

func (d *DynamicGlobalProperty) EntityID() types.ID { return d.ID }
func (d *DynamicGlobalProperty) Clone() *DynamicGlobalProperty {
	cp := *d
	return &cp
}
