// Package maintenance runs the periodic vote tally, fee disbursement,
// witness/delegate election, worker payroll, and budget computation
// that fire when a block crosses the maintenance boundary (spec
// §4.4).
//
// Grounded directly on original_source/libraries/chain/db_maint.cpp
// (perform_chain_maintenance, update_active_witnesses,
// update_active_delegates, process_budget, pay_workers), reimplemented
// against the generic store.Table rather than the original's
// simple_index + vote_tally_buffer globals, and on the teacher's
// pkg/app/core/market fee-cut style for the bps math (MulDiv128 in
// place of fc::uint128).
package maintenance

import (
	"sort"

	"github.com/ledgerforge/chain/pkg/chain"
	"github.com/ledgerforge/chain/pkg/chainerr"
	"github.com/ledgerforge/chain/pkg/entity"
	"github.com/ledgerforge/chain/pkg/matching"
	"github.com/ledgerforge/chain/pkg/types"
	"go.uber.org/zap"
)

// MinWitnessCount and MinDelegateCount are the original's
// GRAPHENE_MIN_WITNESS_COUNT / GRAPHENE_MIN_DELEGATE_COUNT floors.
const (
	MinWitnessCount  = 10
	MinDelegateCount = 10
)

// CoreAssetCycleRateBits mirrors GRAPHENE_CORE_ASSET_CYCLE_RATE_BITS;
// the budget fraction drawn from the reserve per maintenance interval
// is reserve * dt * CycleRate / 2^CycleRateBits.
const (
	CoreAssetCycleRate     = 17
	CoreAssetCycleRateBits = 32
)

// tally is the transient per-run vote-tally and histogram state (spec
// §4.4 "Clear all transient tally buffers via a scoped guard"). It
// never persists across Run calls.
type tally struct {
	votes              map[uint32]int64
	witnessHistogram   []int64
	delegateHistogram  []int64
	totalVotingStake   int64
}

func newTally(maxWitness, maxCommittee uint16) *tally {
	return &tally{
		votes:             make(map[uint32]int64),
		witnessHistogram:  make([]int64, maxWitness/2+1),
		delegateHistogram: make([]int64, maxCommittee/2+1),
	}
}

// Run executes the full maintenance pass against db at headTime (the
// timestamp of the block that crossed the boundary), mutating db
// in place. Callers must invoke this inside the block's savepoint
// before the block commits (spec §4.4 "Trigger").
func Run(db *chain.Database, coreAsset types.ID, headTime int64, log *zap.SugaredLogger) error {
	gp := db.GlobalProperty()
	t := newTally(gp.Parameters.MaximumWitnessCount, gp.Parameters.MaximumCommitteeCount)

	if err := tallyVotesAndFees(db, t, coreAsset, gp.Parameters, headTime); err != nil {
		return err
	}
	// Clear-on-exit is implicit: t is stack-local and discarded when Run returns.

	if err := electWitnesses(db, t, gp.Parameters); err != nil {
		return err
	}
	if err := electDelegates(db, t, gp.Parameters); err != nil {
		return err
	}
	if err := updateWorkerVotes(db, t); err != nil {
		return err
	}

	gp = db.GlobalProperty()
	if gp.PendingParameters != nil {
		if err := db.ModifyGlobalProperty(func(g *entity.GlobalProperty) {
			g.Parameters = *g.PendingParameters
			g.PendingParameters = nil
		}); err != nil {
			return err
		}
	}

	if err := processBudget(db, coreAsset, headTime, log); err != nil {
		return err
	}

	if err := processForceSettlements(db, headTime); err != nil {
		return err
	}

	return resetForceSettledVolumes(db)
}

// processForceSettlements runs the force-settlement queue for every
// market-pegged asset at the maintenance boundary (spec §4.4 "At
// maintenance, eligible queued settlements match..."), before their
// force_settled_volume counters reset for the new interval.
func processForceSettlements(db *chain.Database, headTime int64) error {
	var mias []types.ID
	db.Assets.All(func(a *entity.Asset) bool {
		if a.IsMarketPegged() {
			mias = append(mias, a.ID)
		}
		return true
	})
	for _, mia := range mias {
		if _, err := matching.ProcessForceSettlements(db, mia, headTime); err != nil {
			return err
		}
	}
	return nil
}

// tallyVotesAndFees is pass 1 + pass 2 of spec §4.4, run on a single
// account traversal as the original does.
func tallyVotesAndFees(db *chain.Database, t *tally, coreAsset types.ID, params entity.Parameters, headTime int64) error {
	var accountIDs []types.ID
	db.Accounts.All(func(a *entity.Account) bool {
		accountIDs = append(accountIDs, a.ID)
		return true
	})

	for _, id := range accountIDs {
		account := db.Accounts.MustGet(id)
		if !params.CountNonMemberVotes && !account.IsLifetimeMember(headTime) {
			continue
		}

		opinion := account
		if account.VotingAccount != (types.ID{}) {
			if resolved, ok := db.Accounts.Get(account.VotingAccount); ok {
				opinion = resolved
			}
		}

		stats, ok := db.AccountStats.Get(statsIDFor(db, account.ID))
		var coreInOrders, cashback int64
		if ok {
			coreInOrders = stats.TotalCoreInOrders
			if stats.CashbackBalance != (types.ID{}) {
				if vb, ok := db.VestingBalances.Get(stats.CashbackBalance); ok {
					cashback = vb.Balance
				}
			}
		}
		votingStake := coreInOrders + cashback + db.BalanceOf(account.ID, coreAsset)

		for voteID := range opinion.VoteIDs {
			t.votes[voteID] += votingStake
		}

		// Values above the permitted cap collapse to the cap rather than
		// being excluded (spec §4.4 "values above the permitted cap
		// collapse to the cap").
		witnessOffset := int(opinion.NumWitness / 2)
		if cap := len(t.witnessHistogram) - 1; witnessOffset > cap {
			witnessOffset = cap
		}
		t.witnessHistogram[witnessOffset] += votingStake

		committeeOffset := int(opinion.NumCommittee / 2)
		if cap := len(t.delegateHistogram) - 1; committeeOffset > cap {
			committeeOffset = cap
		}
		t.delegateHistogram[committeeOffset] += votingStake
		t.totalVotingStake += votingStake

		if err := disburseFees(db, account, stats, ok, coreAsset, params, headTime); err != nil {
			return err
		}
	}
	return nil
}

func statsIDFor(db *chain.Database, account types.ID) types.ID {
	s, ok := db.AccountStats.Find("account", account.String())
	if !ok {
		return types.ID{}
	}
	return s.ID
}

// disburseFees is spec §4.4 pass 2, grounded on db_maint.cpp's
// process_fees_helper::operator() and pay_out_fees.
func disburseFees(db *chain.Database, account *entity.Account, stats *entity.AccountStatistics, haveStats bool, coreAsset types.ID, params entity.Parameters, headTime int64) error {
	if !haveStats || stats.PendingFees <= 0 && stats.PendingVestedFees <= 0 {
		return nil
	}
	vestingSubtotal := stats.PendingFees
	vestedSubtotal := stats.PendingVestedFees
	var vestingCashback, vestedCashback int64

	if stats.LifetimeFeesPaid > params.BulkDiscountThresholdMin && account.IsLifetimeMember(headTime) {
		rate := bulkDiscountRate(stats.LifetimeFeesPaid, params)
		vestingCashback = cutBp(vestingSubtotal, rate)
		vestingSubtotal -= vestingCashback
		vestedCashback = cutBp(vestedSubtotal, rate)
		vestedSubtotal -= vestedCashback
	}

	if err := payOutFees(db, account, vestingSubtotal, true, coreAsset, params, headTime); err != nil {
		return err
	}
	if err := depositCashback(db, account.ID, vestingCashback, true, coreAsset, headTime); err != nil {
		return err
	}
	if err := payOutFees(db, account, vestedSubtotal, false, coreAsset, params, headTime); err != nil {
		return err
	}
	if err := depositCashback(db, account.ID, vestedCashback, false, coreAsset, headTime); err != nil {
		return err
	}

	return db.AccountStats.Modify(stats.ID, func(s **entity.AccountStatistics) {
		(*s).LifetimeFeesPaid += vestedSubtotal + vestingSubtotal
		(*s).PendingFees = 0
		(*s).PendingVestedFees = 0
	})
}

// bulkDiscountRate interpolates linearly between 0 and
// max_bulk_discount_percent across [min, max] lifetime fees paid
// (spec §4.4 pass 2 step 1).
func bulkDiscountRate(lifetimeFeesPaid int64, params entity.Parameters) int32 {
	lo, hi := params.BulkDiscountThresholdMin, params.BulkDiscountThresholdMax
	if hi <= lo {
		return params.MaxBulkDiscountPercent
	}
	if lifetimeFeesPaid >= hi {
		return params.MaxBulkDiscountPercent
	}
	span := hi - lo
	progress := lifetimeFeesPaid - lo
	return int32(types.MulDiv128(int64(params.MaxBulkDiscountPercent), progress, span))
}

func cutBp(amount int64, bp int32) int64 {
	if amount == 0 || bp == 0 {
		return 0
	}
	if bp >= 10000 {
		return amount
	}
	return types.MulDiv128(amount, int64(bp), 10000)
}

// payOutFees splits core_fee_total into network/burn/lifetime-referrer
// /referrer/registrar cuts and deposits each as cashback (spec §4.4
// pass 2 step 2, db_maint.cpp pay_out_fees).
func payOutFees(db *chain.Database, account *entity.Account, total int64, requireVesting bool, coreAsset types.ID, params entity.Parameters, headTime int64) error {
	if total <= 0 {
		return nil
	}
	networkCut := cutBp(total, account.NetworkFeePercent)
	burned := cutBp(networkCut, params.BurnPercentOfFee)
	accumulated := networkCut - burned
	lifetimeCut := cutBp(total, account.LifetimeReferrerFeePercent)
	referral := total - networkCut - lifetimeCut
	if referral < 0 {
		referral = 0
	}
	referrerCut := cutBp(referral, account.ReferrerRewardsPercent)
	registrarCut := referral - referrerCut

	if accumulated != 0 {
		if err := db.Assets.Modify(coreAsset, func(a **entity.Asset) {
			(*a).AccumulatedFees += accumulated
		}); err != nil {
			return err
		}
	}
	if burned != 0 {
		if err := db.Assets.Modify(coreAsset, func(a **entity.Asset) {
			(*a).CurrentSupply -= burned
		}); err != nil {
			return err
		}
	}
	if err := depositCashback(db, account.LifetimeReferrer, lifetimeCut, requireVesting, coreAsset, headTime); err != nil {
		return err
	}
	if err := depositCashback(db, account.Referrer, referrerCut, requireVesting, coreAsset, headTime); err != nil {
		return err
	}
	return depositCashback(db, account.Registrar, registrarCut, requireVesting, coreAsset, headTime)
}

// depositCashback credits amount of core asset to recipient's vesting
// balance (requireVesting) or directly to its liquid balance, creating
// the vesting balance on first use (spec §4.4, §3 "cashback").
func depositCashback(db *chain.Database, recipient types.ID, amount int64, requireVesting bool, coreAsset types.ID, headTime int64) error {
	if amount <= 0 || recipient == (types.ID{}) {
		return nil
	}
	if !requireVesting {
		return db.AdjustBalance(recipient, coreAsset, amount)
	}
	stats, ok := db.AccountStats.Find("account", recipient.String())
	if !ok {
		return chainerr.Invariantf("maintenance.depositCashback", recipient, "missing account statistics")
	}
	gp := db.GlobalProperty()
	if stats.CashbackBalance == (types.ID{}) {
		vb, err := db.VestingBalances.Create(func(id types.ID) *entity.VestingBalance {
			return &entity.VestingBalance{ID: id, Owner: recipient, Asset: coreAsset, Period: gp.Parameters.CashbackVestingPeriodSec, LastUpdate: headTime}
		})
		if err != nil {
			return err
		}
		if err := db.AccountStats.Modify(stats.ID, func(s **entity.AccountStatistics) {
			(*s).CashbackBalance = vb.ID
		}); err != nil {
			return err
		}
		stats = db.AccountStats.MustGet(stats.ID)
	}
	return db.VestingBalances.Modify(stats.CashbackBalance, func(vb **entity.VestingBalance) {
		(*vb).Deposit(headTime, amount)
	})
}

// electWitnesses is spec §4.4 "Election: Witnesses", grounded on
// update_active_witnesses.
func electWitnesses(db *chain.Database, t *tally, params entity.Parameters) error {
	count := histogramCount(t.witnessHistogram, t.totalVotingStake)
	active := 2*count + 1
	if active < MinWitnessCount {
		active = MinWitnessCount
	}

	var all []*entity.Witness
	db.Witnesses.All(func(w *entity.Witness) bool { all = append(all, w); return true })
	sort.Slice(all, func(i, j int) bool {
		vi, vj := t.votes[all[i].VoteID], t.votes[all[j].VoteID]
		if vi != vj {
			return vi > vj
		}
		return all[i].ID.Less(all[j].ID)
	})
	if active > len(all) {
		active = len(all)
	}
	activeIDs := make([]types.ID, active)
	for i := 0; i < active; i++ {
		activeIDs[i] = all[i].ID
		if err := db.Witnesses.Modify(all[i].ID, func(w **entity.Witness) {
			(*w).TotalVotes = t.votes[(*w).VoteID]
		}); err != nil {
			return err
		}
	}
	return db.ModifyGlobalProperty(func(g *entity.GlobalProperty) {
		g.ActiveWitnesses = activeIDs
	})
}

// electDelegates is spec §4.4 "Election: Delegates (committee)",
// grounded on update_active_delegates including the genesis-committee
// authority rebuild.
func electDelegates(db *chain.Database, t *tally, params entity.Parameters) error {
	count := histogramCount(t.delegateHistogram, t.totalVotingStake)
	active := 2*count + 1
	if active < MinDelegateCount {
		active = MinDelegateCount
	}

	var all []*entity.Delegate
	db.Delegates.All(func(d *entity.Delegate) bool { all = append(all, d); return true })
	sort.Slice(all, func(i, j int) bool {
		vi, vj := t.votes[all[i].VoteID], t.votes[all[j].VoteID]
		if vi != vj {
			return vi > vj
		}
		return all[i].ID.Less(all[j].ID)
	})
	if active > len(all) {
		active = len(all)
	}
	activeIDs := make([]types.ID, active)
	var totalVotes int64
	weights := make(map[types.ID]int64, active)
	for i := 0; i < active; i++ {
		activeIDs[i] = all[i].DelegateAccount
		votes := t.votes[all[i].VoteID]
		weights[all[i].DelegateAccount] += votes
		totalVotes += votes
		if err := db.Delegates.Modify(all[i].ID, func(d **entity.Delegate) {
			(*d).TotalVotes = votes
		}); err != nil {
			return err
		}
	}

	if len(all) > 0 {
		gp := db.GlobalProperty()
		if gp.ActiveCommitteeAccount != (types.ID{}) {
			bitsToDrop := msb(uint64(totalVotes)) - 15
			if bitsToDrop < 0 {
				bitsToDrop = 0
			}
			var threshold uint32
			authIDs := make(map[types.ID]uint32, len(weights))
			for accID, w := range weights {
				scaled := uint32(w >> uint(bitsToDrop))
				if scaled < 1 {
					scaled = 1
				}
				authIDs[accID] = scaled
				threshold += scaled
			}
			threshold = threshold/2 + 1
			if err := db.Accounts.Modify(gp.ActiveCommitteeAccount, func(a **entity.Account) {
				(*a).Owner = entity.Authority{Threshold: threshold, AccountIDs: authIDs}
				(*a).Active = (*a).Owner
			}); err != nil {
				return err
			}
		}
	}

	return db.ModifyGlobalProperty(func(g *entity.GlobalProperty) {
		g.ActiveDelegates = activeIDs
	})
}

// msb returns the 0-indexed position of the highest set bit, matching
// boost::multiprecision::detail::find_msb; msb(0) == -1.
func msb(v uint64) int {
	if v == 0 {
		return -1
	}
	n := -1
	for v != 0 {
		v >>= 1
		n++
	}
	return n
}

// histogramCount finds the smallest k such that the sum of buckets
// [0..k] exceeds half of total voting stake (spec §4.4, db_maint.cpp
// update_active_witnesses's while loop).
func histogramCount(histogram []int64, totalVotingStake int64) int {
	target := totalVotingStake / 2
	tally := histogram[0]
	count := 0
	for count < len(histogram)-1 && tally <= target {
		count++
		tally += histogram[count]
	}
	return count
}

// updateWorkerVotes snapshots each worker's approving stake from the
// tally, the input payWorkers orders by descending (spec §4.4 "Pay
// workers" reads the same vote tally pass 1 already built).
func updateWorkerVotes(db *chain.Database, t *tally) error {
	var err error
	db.Workers.All(func(w *entity.Worker) bool {
		votes := t.votes[w.VoteID]
		if modErr := db.Workers.Modify(w.ID, func(ww **entity.Worker) { (*ww).ApprovingVotes = votes }); modErr != nil {
			err = modErr
			return false
		}
		return true
	})
	return err
}

// processBudget computes the witness/worker budget and pays workers,
// grounded on db_maint.cpp's get_max_budget/process_budget.
func processBudget(db *chain.Database, coreAsset types.ID, headTime int64, log *zap.SugaredLogger) error {
	dgp := db.DynamicGlobalProperty()
	gp := db.GlobalProperty()
	core := db.Assets.MustGet(coreAsset)

	if dgp.LastBudgetTimeUnix == 0 || headTime <= dgp.LastBudgetTimeUnix {
		return db.ModifyDynamicGlobalProperty(func(d *entity.DynamicGlobalProperty) {
			d.WitnessBudget = 0
			d.LastBudgetTimeUnix = headTime
		})
	}

	dt := headTime - dgp.LastBudgetTimeUnix
	timeToMaint := dgp.NextMaintenanceTimeUnix - headTime
	if timeToMaint <= 0 {
		return chainerr.Invariantf("maintenance.processBudget", headTime, "next_maintenance_time must be strictly in the future of the triggering block")
	}
	blockInterval := gp.Parameters.BlockIntervalSec
	if blockInterval <= 0 {
		return chainerr.Invariantf("maintenance.processBudget", blockInterval, "block_interval must be positive")
	}
	blocksToMaint := (timeToMaint + blockInterval - 1) / blockInterval

	reserve := burnedCore(db, core) + core.AccumulatedFees
	availableFunds := maxBudget(reserve, dt)

	witnessBudget := gp.Parameters.WitnessPayPerBlock * blocksToMaint
	if witnessBudget > availableFunds {
		witnessBudget = availableFunds
	}
	availableFunds -= witnessBudget

	workerBudget := types.MulDiv128(gp.Parameters.WorkerBudgetPerDay, timeToMaint, 86400)
	if workerBudget > availableFunds {
		workerBudget = availableFunds
	}
	availableFunds -= workerBudget

	leftover := workerBudget
	paid, err := payWorkers(db, leftover, coreAsset, headTime, dt)
	if err != nil {
		return err
	}
	leftover -= paid

	if err := db.Assets.Modify(coreAsset, func(a **entity.Asset) {
		(*a).CurrentSupply += witnessBudget + paid - (*a).AccumulatedFees
		(*a).AccumulatedFees = 0
	}); err != nil {
		return err
	}
	if log != nil {
		log.Infow("maintenance budget", "witness_budget", witnessBudget, "worker_paid", paid, "returned_to_reserve", leftover+availableFunds)
	}
	return db.ModifyDynamicGlobalProperty(func(d *entity.DynamicGlobalProperty) {
		d.WitnessBudget = witnessBudget
		d.LastBudgetTimeUnix = headTime
	})
}

// burnedCore is core.burned() from db_maint.cpp's get_max_budget:
// shares once issued up to MaxSupply that are neither in current
// circulation nor locked as call-order collateral, and so are free
// for the reserve to remint (spec §8 reserve invariant
// reserve == max_share_supply - current_supply - sum(collateral)).
func burnedCore(db *chain.Database, core *entity.Asset) int64 {
	var collateral int64
	db.CallOrders.All(func(c *entity.CallOrder) bool {
		if c.CollateralAsset == core.ID {
			collateral += c.Collateral
		}
		return true
	})
	burned := core.MaxSupply - core.CurrentSupply - collateral
	if burned < 0 {
		burned = 0
	}
	return burned
}

// maxBudget mirrors get_max_budget's fixed-point fraction of the
// reserve, rounded up by CoreAssetCycleRateBits.
func maxBudget(reserve, dt int64) int64 {
	if reserve <= 0 || dt <= 0 {
		return 0
	}
	denom := int64(1) << CoreAssetCycleRateBits
	scaled := types.MulDiv128(reserve, dt*CoreAssetCycleRate, denom)
	exact := types.MulDiv128(scaled, denom, dt*CoreAssetCycleRate)
	if exact < reserve && scaled < reserve {
		scaled++ // round up to the nearest unit, matching get_max_budget's rounding
	}
	if scaled > reserve {
		scaled = reserve
	}
	return scaled
}

// payWorkers pays active workers ordered by approving stake descending
// until the budget is exhausted (spec §4.4 "Pay workers",
// db_maint.cpp pay_workers). Each worker's daily_pay is pro-rated to
// the elapsed dt seconds since the last budget, unless dt is exactly
// one day.
func payWorkers(db *chain.Database, budget int64, coreAsset types.ID, headTime, dt int64) (int64, error) {
	var paid int64
	var stop error
	db.Workers.Sorted("by_approval", func(w *entity.Worker) bool {
		if budget <= 0 {
			return false
		}
		if !w.IsActive(headTime) || w.ApprovingVotes <= 0 {
			return true
		}
		actual := w.DailyPay
		if dt != 86400 {
			actual = types.MulDiv128(actual, dt, 86400)
		}
		if actual > budget {
			actual = budget
		}
		switch w.PayType {
		case entity.WorkerPayImmediate:
			stop = db.AdjustBalance(w.WorkerAccount, coreAsset, actual)
		case entity.WorkerPayVesting:
			stop = depositCashback(db, w.WorkerAccount, actual, true, coreAsset, headTime)
		case entity.WorkerPayRefund:
			// Refund type returns its pay to the reserve: no-op here,
			// the budget simply isn't spent on this worker.
			actual = 0
		}
		if stop != nil {
			return false
		}
		budget -= actual
		paid += actual
		return true
	})
	return paid, stop
}

// resetForceSettledVolumes zeroes every market-pegged asset's
// force_settled_volume (spec §4.4 "Post-maintenance").
func resetForceSettledVolumes(db *chain.Database) error {
	var ids []types.ID
	db.Assets.All(func(a *entity.Asset) bool {
		if a.IsMarketPegged() {
			ids = append(ids, a.ID)
		}
		return true
	})
	for _, id := range ids {
		if err := db.Assets.Modify(id, func(a **entity.Asset) {
			(*a).Bitasset.ForceSettledVolume = 0
		}); err != nil {
			return err
		}
	}
	return nil
}
