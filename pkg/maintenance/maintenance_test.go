package maintenance

import (
	"testing"

	"github.com/ledgerforge/chain/pkg/chain"
	"github.com/ledgerforge/chain/pkg/entity"
	"github.com/ledgerforge/chain/pkg/types"
)

func newTestDB(t *testing.T) *chain.Database {
	t.Helper()
	return chain.New(nil)
}

func mustAccount(t *testing.T, db *chain.Database, name string) *entity.Account {
	t.Helper()
	a, err := db.Accounts.Create(func(id types.ID) *entity.Account {
		return &entity.Account{ID: id, Name: name, MembershipExpiration: entity.LifetimeExpiration}
	})
	if err != nil {
		t.Fatalf("create account %s: %v", name, err)
	}
	return a
}

func seedGlobals(t *testing.T, db *chain.Database, params entity.Parameters, lastBudgetTime, nextMaintenanceTime int64) {
	t.Helper()
	if _, err := db.GlobalProps.Create(func(id types.ID) *entity.GlobalProperty {
		return &entity.GlobalProperty{ID: id, Parameters: params}
	}); err != nil {
		t.Fatalf("seed global property: %v", err)
	}
	if _, err := db.DynGlobalProps.Create(func(id types.ID) *entity.DynamicGlobalProperty {
		return &entity.DynamicGlobalProperty{ID: id, LastBudgetTimeUnix: lastBudgetTime, NextMaintenanceTimeUnix: nextMaintenanceTime}
	}); err != nil {
		t.Fatalf("seed dynamic global property: %v", err)
	}
}

// TestRun_VoteIDsDoNotCollideAcrossKinds is a regression test: witness,
// delegate, and worker candidates must each draw from the single
// shared vote-tally slot namespace (spec §3 "Vote tally slot"), or a
// witness and a delegate created first both land on slot 0 and their
// supporters' stake gets summed into one tally instead of two.
func TestRun_VoteIDsDoNotCollideAcrossKinds(t *testing.T) {
	db := newTestDB(t)
	core, err := db.Assets.Create(func(id types.ID) *entity.Asset {
		return &entity.Asset{ID: id, Symbol: "CORE", Precision: 5}
	})
	if err != nil {
		t.Fatalf("create core asset: %v", err)
	}
	seedGlobals(t, db, entity.Parameters{
		BlockIntervalSec:       5,
		MaximumWitnessCount:    21,
		MaximumCommitteeCount:  11,
		CountNonMemberVotes:    true,
	}, 0, 86400)

	witnessAccount := mustAccount(t, db, "witness-op")
	delegateAccount := mustAccount(t, db, "delegate-op")

	witnessVoteID, err := db.AllocateVoteID()
	if err != nil {
		t.Fatalf("allocate witness vote id: %v", err)
	}
	witness, err := db.Witnesses.Create(func(id types.ID) *entity.Witness {
		return &entity.Witness{ID: id, WitnessAccount: witnessAccount.ID, SigningKey: "key-a", VoteID: witnessVoteID}
	})
	if err != nil {
		t.Fatalf("create witness: %v", err)
	}
	delegateVoteID, err := db.AllocateVoteID()
	if err != nil {
		t.Fatalf("allocate delegate vote id: %v", err)
	}
	delegate, err := db.Delegates.Create(func(id types.ID) *entity.Delegate {
		return &entity.Delegate{ID: id, DelegateAccount: delegateAccount.ID, VoteID: delegateVoteID}
	})
	if err != nil {
		t.Fatalf("create delegate: %v", err)
	}
	if witness.VoteID == delegate.VoteID {
		t.Fatalf("witness and delegate must not share a vote id, both got %d", witness.VoteID)
	}

	voterA, err := db.Accounts.Create(func(id types.ID) *entity.Account {
		return &entity.Account{ID: id, Name: "voterA", MembershipExpiration: entity.LifetimeExpiration,
			VoteIDs: map[uint32]struct{}{witness.VoteID: {}}}
	})
	if err != nil {
		t.Fatalf("create voterA: %v", err)
	}
	voterB, err := db.Accounts.Create(func(id types.ID) *entity.Account {
		return &entity.Account{ID: id, Name: "voterB", MembershipExpiration: entity.LifetimeExpiration,
			VoteIDs: map[uint32]struct{}{delegate.VoteID: {}}}
	})
	if err != nil {
		t.Fatalf("create voterB: %v", err)
	}
	if err := db.AdjustBalance(voterA.ID, core.ID, 1000); err != nil {
		t.Fatalf("fund voterA: %v", err)
	}
	if err := db.AdjustBalance(voterB.ID, core.ID, 2000); err != nil {
		t.Fatalf("fund voterB: %v", err)
	}

	if err := Run(db, core.ID, 100, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	gotWitness := db.Witnesses.MustGet(witness.ID)
	gotDelegate := db.Delegates.MustGet(delegate.ID)
	if gotWitness.TotalVotes != 1000 {
		t.Errorf("witness total votes = %d, want 1000 (voterA's stake only)", gotWitness.TotalVotes)
	}
	if gotDelegate.TotalVotes != 2000 {
		t.Errorf("delegate total votes = %d, want 2000 (voterB's stake only)", gotDelegate.TotalVotes)
	}

	gp := db.GlobalProperty()
	if len(gp.ActiveWitnesses) != 1 || gp.ActiveWitnesses[0] != witness.ID {
		t.Errorf("expected the sole witness candidate elected active, got %v", gp.ActiveWitnesses)
	}
	if len(gp.ActiveDelegates) != 1 || gp.ActiveDelegates[0] != delegate.DelegateAccount {
		t.Errorf("expected the sole delegate candidate elected active, got %v", gp.ActiveDelegates)
	}
}

// TestRun_FeeCashbackDeposit covers spec §4.4 pass 2: a pending fee
// with no referrer, and the payer as its own registrar, routes its registrar cut into the
// paying account's own vesting cashback balance.
func TestRun_FeeCashbackDeposit(t *testing.T) {
	db := newTestDB(t)
	core, err := db.Assets.Create(func(id types.ID) *entity.Asset {
		return &entity.Asset{ID: id, Symbol: "CORE", Precision: 5}
	})
	if err != nil {
		t.Fatalf("create core asset: %v", err)
	}
	seedGlobals(t, db, entity.Parameters{
		BlockIntervalSec:      5,
		MaximumWitnessCount:   21,
		MaximumCommitteeCount: 11,
		CountNonMemberVotes:   true,
		CashbackVestingPeriodSec: 1000,
	}, 0, 86400)

	payer := mustAccount(t, db, "payer")
	if err := db.Accounts.Modify(payer.ID, func(a **entity.Account) { (*a).Registrar = payer.ID }); err != nil {
		t.Fatalf("set registrar: %v", err)
	}
	stats, err := db.AccountStats.Create(func(id types.ID) *entity.AccountStatistics {
		return &entity.AccountStatistics{ID: id, Account: payer.ID, PendingFees: 1000}
	})
	if err != nil {
		t.Fatalf("create account stats: %v", err)
	}

	if err := Run(db, core.ID, 100, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	gotStats := db.AccountStats.MustGet(stats.ID)
	if gotStats.PendingFees != 0 {
		t.Errorf("pending fees = %d, want 0", gotStats.PendingFees)
	}
	if gotStats.LifetimeFeesPaid != 1000 {
		t.Errorf("lifetime fees paid = %d, want 1000", gotStats.LifetimeFeesPaid)
	}
	if gotStats.CashbackBalance == (types.ID{}) {
		t.Fatalf("expected a cashback vesting balance to be created")
	}
	vb := db.VestingBalances.MustGet(gotStats.CashbackBalance)
	if vb.Balance != 1000 {
		t.Errorf("vesting balance = %d, want 1000", vb.Balance)
	}
}

// TestHistogramCount_MajorityThreshold exercises the witness/delegate
// count derivation directly: the smallest k such that the cumulative
// histogram exceeds half the total voting stake (spec §4.4).
func TestHistogramCount_MajorityThreshold(t *testing.T) {
	histogram := []int64{10, 0, 5, 0, 100}
	if got := histogramCount(histogram, 200); got != 4 {
		t.Errorf("histogramCount = %d, want 4", got)
	}
	if got := histogramCount([]int64{0}, 0); got != 0 {
		t.Errorf("histogramCount on a single empty bucket = %d, want 0", got)
	}
}

// TestProcessBudget_MintsFromBurnedReserveNotJustFees is a regression
// test for spec §8's reserve invariant: with zero accumulated fees but
// a core asset well under its genesis MaxSupply, the maintenance
// budget must still mint witness pay out of the burned-core portion of
// the reserve, not collapse to zero just because accumulated_fees is
// zero.
func TestProcessBudget_MintsFromBurnedReserveNotJustFees(t *testing.T) {
	db := newTestDB(t)
	core, err := db.Assets.Create(func(id types.ID) *entity.Asset {
		return &entity.Asset{ID: id, Symbol: "CORE", Precision: 5, MaxSupply: 1_000_000}
	})
	if err != nil {
		t.Fatalf("create core asset: %v", err)
	}
	seedGlobals(t, db, entity.Parameters{
		BlockIntervalSec:   5,
		WitnessPayPerBlock: 1,
	}, 1000, 2000)

	if err := processBudget(db, core.ID, 1100, nil); err != nil {
		t.Fatalf("processBudget: %v", err)
	}

	got := db.Assets.MustGet(core.ID)
	if got.CurrentSupply <= 0 {
		t.Fatalf("current supply = %d, want minting from the burned reserve to have increased it above 0", got.CurrentSupply)
	}
	dgp := db.DynamicGlobalProperty()
	if dgp.WitnessBudget != got.CurrentSupply {
		t.Errorf("witness budget = %d, want it to match the minted amount %d (nothing was paid to workers)", dgp.WitnessBudget, got.CurrentSupply)
	}
}

// TestPayWorkers_ProRatedByElapsedTime checks that a sub-one-day
// interval between budget runs scales daily_pay down proportionally,
// matching the already-prorated worker budget pool above it.
func TestPayWorkers_ProRatedByElapsedTime(t *testing.T) {
	db := newTestDB(t)
	core, err := db.Assets.Create(func(id types.ID) *entity.Asset {
		return &entity.Asset{ID: id, Symbol: "CORE", Precision: 5}
	})
	if err != nil {
		t.Fatalf("create core asset: %v", err)
	}
	workerAccount := mustAccount(t, db, "worker")
	worker, err := db.Workers.Create(func(id types.ID) *entity.Worker {
		return &entity.Worker{ID: id, WorkerAccount: workerAccount.ID, DailyPay: 1000,
			PayType: entity.WorkerPayImmediate, WorkBegin: 0, WorkEnd: 1000, ApprovingVotes: 1}
	})
	if err != nil {
		t.Fatalf("create worker: %v", err)
	}

	// Quarter of a day elapsed: daily_pay of 1000 should scale to 250.
	paid, err := payWorkers(db, 10_000, core.ID, 500, 21600)
	if err != nil {
		t.Fatalf("payWorkers: %v", err)
	}
	if paid != 250 {
		t.Fatalf("paid = %d, want 250 (1000 * 21600/86400)", paid)
	}
	if got := db.BalanceOf(worker.WorkerAccount, core.ID); got != 250 {
		t.Errorf("worker balance = %d, want 250", got)
	}
}

// TestPayWorkers_StopsWhenBudgetExhausted checks worker payroll pays
// the highest-approval-stake worker first and stops once the budget
// runs out, leaving the lower-ranked worker unpaid (spec §4.4 "Pay
// workers").
func TestPayWorkers_StopsWhenBudgetExhausted(t *testing.T) {
	db := newTestDB(t)
	core, err := db.Assets.Create(func(id types.ID) *entity.Asset {
		return &entity.Asset{ID: id, Symbol: "CORE", Precision: 5}
	})
	if err != nil {
		t.Fatalf("create core asset: %v", err)
	}
	richWorkerAccount := mustAccount(t, db, "rich-worker")
	poorWorkerAccount := mustAccount(t, db, "poor-worker")
	richWorker, err := db.Workers.Create(func(id types.ID) *entity.Worker {
		return &entity.Worker{ID: id, WorkerAccount: richWorkerAccount.ID, DailyPay: 600,
			PayType: entity.WorkerPayImmediate, WorkBegin: 0, WorkEnd: 1000, ApprovingVotes: 500}
	})
	if err != nil {
		t.Fatalf("create rich worker: %v", err)
	}
	poorWorker, err := db.Workers.Create(func(id types.ID) *entity.Worker {
		return &entity.Worker{ID: id, WorkerAccount: poorWorkerAccount.ID, DailyPay: 600,
			PayType: entity.WorkerPayImmediate, WorkBegin: 0, WorkEnd: 1000, ApprovingVotes: 100}
	})
	if err != nil {
		t.Fatalf("create poor worker: %v", err)
	}

	paid, err := payWorkers(db, 600, core.ID, 500, 86400)
	if err != nil {
		t.Fatalf("payWorkers: %v", err)
	}
	if paid != 600 {
		t.Fatalf("paid = %d, want 600 (only the higher-approval worker fits)", paid)
	}
	if got := db.BalanceOf(richWorker.WorkerAccount, core.ID); got != 600 {
		t.Errorf("rich worker balance = %d, want 600", got)
	}
	if got := db.BalanceOf(poorWorker.WorkerAccount, core.ID); got != 0 {
		t.Errorf("poor worker balance = %d, want 0 (budget exhausted first)", got)
	}
}
