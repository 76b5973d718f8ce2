package ops

import (
	"github.com/ledgerforge/chain/pkg/authority"
	"github.com/ledgerforge/chain/pkg/chain"
	"github.com/ledgerforge/chain/pkg/chainerr"
	"github.com/ledgerforge/chain/pkg/entity"
	"github.com/ledgerforge/chain/pkg/types"
)

// Evaluate validates and applies one operation against db, charging its
// flat fee to FeePayer on success (spec §4.4 pass 2's pending_fees
// input). Grounded on the teacher's applyTx dispatch in
// pkg/app/perp/app.go, generalized from a two-armed if/else over a
// string-prefixed wire format to an exhaustive switch over the closed
// Type enum (spec §9).
func Evaluate(db *chain.Database, op Operation, now int64) error {
	if err := op.validate(); err != nil {
		return err
	}

	var err error
	switch op.Type {
	case AccountCreate:
		err = evalAccountCreate(db, op.AccountCreateOp)
	case AccountUpdate:
		err = evalAccountUpdate(db, op.AccountUpdateOp)
	case AccountUpgrade:
		err = evalAccountUpgrade(db, op.AccountUpgradeOp)
	case Transfer:
		err = evalTransfer(db, op.TransferOp)
	case AssetCreate:
		err = evalAssetCreate(db, op.AssetCreateOp)
	case AssetPublishFeed:
		err = evalAssetPublishFeed(db, op.AssetPublishFeedOp)
	case LimitOrderCreate:
		err = evalLimitOrderCreate(db, op.LimitOrderCreateOp)
	case LimitOrderCancel:
		err = evalLimitOrderCancel(db, op.LimitOrderCancelOp)
	case ShortOrderCreate:
		err = evalShortOrderCreate(db, op.ShortOrderCreateOp)
	case CallOrderUpdate:
		err = evalCallOrderUpdate(db, op.CallOrderUpdateOp)
	case ForceSettlementCreate:
		err = evalForceSettlementCreate(db, op.ForceSettlementCreateOp)
	case WitnessCreate:
		err = evalWitnessCreate(db, op.WitnessCreateOp)
	case CommitteeMemberCreate:
		err = evalCommitteeMemberCreate(db, op.CommitteeMemberCreateOp)
	case WorkerCreate:
		err = evalWorkerCreate(db, op.WorkerCreateOp)
	default:
		err = chainerr.Validationf("ops.Evaluate", op.Type, "unrecognized operation tag")
	}
	if err != nil {
		return err
	}
	return chargeFee(db, op)
}

// chargeFee debits the flat operation fee from FeePayer's core balance
// into its pending_fees, to be split out at the next maintenance cycle
// (spec §4.4 pass 2).
func chargeFee(db *chain.Database, op Operation) error {
	if op.Fee <= 0 {
		return nil
	}
	core := coreAssetOf(db)
	if err := db.AdjustBalance(op.FeePayer, core, -op.Fee); err != nil {
		return chainerr.Preconditionf("ops.chargeFee", op.FeePayer, "%v", err)
	}
	stats, ok := db.AccountStats.Find("account", op.FeePayer.String())
	if !ok {
		return chainerr.Invariantf("ops.chargeFee", op.FeePayer, "fee payer has no account statistics")
	}
	return db.AccountStats.Modify(stats.ID, func(s **entity.AccountStatistics) {
		(*s).PendingFees += op.Fee
	})
}

// coreAssetOf returns the native asset's id, asset 0 by genesis
// convention (spec §3 "for the native asset" is always distinguished).
func coreAssetOf(db *chain.Database) types.ID {
	return types.ID{Kind: types.KindAsset, Instance: 0}
}

// RequireActive builds the authority.RequiredAuth list for an
// operation whose evaluator demands the active authority of account.
func RequireActive(account types.ID) []authority.RequiredAuth {
	return []authority.RequiredAuth{{Account: account, Owner: false}}
}

// RequireOwner builds the authority.RequiredAuth list demanding the
// owner authority of account (spec §7 authorizations that touch Owner,
// e.g. account_update changing the authorities themselves).
func RequireOwner(account types.ID) []authority.RequiredAuth {
	return []authority.RequiredAuth{{Account: account, Owner: true}}
}
