package ops

import (
	"github.com/ledgerforge/chain/pkg/chain"
	"github.com/ledgerforge/chain/pkg/chainerr"
	"github.com/ledgerforge/chain/pkg/entity"
	"github.com/ledgerforge/chain/pkg/types"
)

// evalWitnessCreate registers a witness candidate, assigning it the
// next dense VoteID slot in the maintenance vote tally (spec §4.4).
func evalWitnessCreate(db *chain.Database, op *WitnessCreateOp) error {
	if _, ok := db.Accounts.Get(op.WitnessAccount); !ok {
		return chainerr.Preconditionf("ops.evalWitnessCreate", op.WitnessAccount, "unknown account")
	}
	if op.SigningKey == "" {
		return chainerr.Validationf("ops.evalWitnessCreate", op, "signing key must not be empty")
	}
	voteID, err := db.AllocateVoteID()
	if err != nil {
		return err
	}
	_, err = db.Witnesses.Create(func(id types.ID) *entity.Witness {
		return &entity.Witness{
			ID: id, WitnessAccount: op.WitnessAccount, SigningKey: op.SigningKey,
			URL: op.URL, VoteID: voteID,
		}
	})
	return err
}

// evalCommitteeMemberCreate registers a committee (delegate) candidate
// (spec §3 Delegate, §4.4 "delegateHistogram").
func evalCommitteeMemberCreate(db *chain.Database, op *CommitteeMemberCreateOp) error {
	if _, ok := db.Accounts.Get(op.DelegateAccount); !ok {
		return chainerr.Preconditionf("ops.evalCommitteeMemberCreate", op.DelegateAccount, "unknown account")
	}
	voteID, err := db.AllocateVoteID()
	if err != nil {
		return err
	}
	_, err = db.Delegates.Create(func(id types.ID) *entity.Delegate {
		return &entity.Delegate{
			ID: id, DelegateAccount: op.DelegateAccount, URL: op.URL,
			VoteID: voteID,
		}
	})
	return err
}

// evalWorkerCreate registers a worker budget proposal (spec §3 Worker,
// §4.4 "Pay workers").
func evalWorkerCreate(db *chain.Database, op *WorkerCreateOp) error {
	if _, ok := db.Accounts.Get(op.WorkerAccount); !ok {
		return chainerr.Preconditionf("ops.evalWorkerCreate", op.WorkerAccount, "unknown account")
	}
	if op.DailyPay <= 0 {
		return chainerr.Validationf("ops.evalWorkerCreate", op.DailyPay, "daily pay must be positive")
	}
	if op.WorkEnd <= op.WorkBegin {
		return chainerr.Validationf("ops.evalWorkerCreate", op, "work_end must be after work_begin")
	}
	voteID, err := db.AllocateVoteID()
	if err != nil {
		return err
	}
	_, err = db.Workers.Create(func(id types.ID) *entity.Worker {
		return &entity.Worker{
			ID: id, WorkerAccount: op.WorkerAccount, DailyPay: op.DailyPay,
			PayType: op.PayType, VestingPeriodSec: op.VestingPeriodSec,
			WorkBegin: op.WorkBegin, WorkEnd: op.WorkEnd, Name: op.Name,
			VoteID: voteID,
		}
	})
	return err
}
